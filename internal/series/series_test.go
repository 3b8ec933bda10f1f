package series

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(files []SourceFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name()
	}
	return out
}

func TestDetect_GroupsSiblings(t *testing.T) {
	entries := []string{
		"trip_3_amy_来自小红书网页版.jpg",
		"notes.txt",
		"trip_1_amy_来自小红书网页版.jpg",
		"trip_1_bob_来自小红书网页版.jpg",
		"food_1_amy_来自小红书网页版.jpg",
		"trip_2_amy_来自小红书网页版.png",
		"trip_2_amy_来自小红书网页版.jpg",
	}

	s, warnings, err := Detect("/pics/trip_1_amy_来自小红书网页版.jpg", entries)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, "trip", s.Title)
	assert.Equal(t, "amy", s.Author)
	assert.Equal(t, "/pics", s.Dir)
	assert.Equal(t, []string{
		"trip_3_amy_来自小红书网页版.jpg",
		"trip_1_amy_来自小红书网页版.jpg",
		"trip_2_amy_来自小红书网页版.jpg",
	}, names(s.Files))
	assert.Equal(t, []int{0, 2, 6}, []int{s.Files[0].Index, s.Files[1].Index, s.Files[2].Index})
}

func TestDetect_NoSiblings(t *testing.T) {
	s, warnings, err := Detect("/pics/solo_amy_来自小红书网页版.png", []string{"solo_amy_来自小红书网页版.png", "other.png"})
	require.NoError(t, err)
	require.Len(t, s.Files, 1)
	require.Len(t, warnings, 1)

	var noSiblings *NoSiblingsError
	assert.True(t, errors.As(warnings[0], &noSiblings))
}

func TestDetect_SelectedMissingFromListing(t *testing.T) {
	s, _, err := Detect("/pics/trip_2_amy_来自小红书网页版.jpg", []string{"trip_1_amy_来自小红书网页版.jpg"})
	require.NoError(t, err)
	require.Len(t, s.Files, 2)
	assert.Equal(t, "/pics/trip_2_amy_来自小红书网页版.jpg", s.Files[1].Path)
	assert.Equal(t, 1, s.Files[1].Index)
}

func TestDetect_ParseError(t *testing.T) {
	_, _, err := Detect("/pics/IMG_0001.jpg", []string{"IMG_0001.jpg"})
	var parseErr *ParseError
	assert.True(t, errors.As(err, &parseErr))
}

func TestPatternDetect_CustomSuffix(t *testing.T) {
	p := Pattern{Suffix: "export"}
	s, warnings, err := p.Detect("/pics/trip_2_amy_export.jpg", []string{
		"trip_1_amy_export.jpg",
		"trip_1_amy_来自小红书网页版.jpg",
		"trip_2_amy_export.jpg",
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, []string{"trip_1_amy_export.jpg", "trip_2_amy_export.jpg"}, names(s.Files))

	_, _, err = Detect("/pics/trip_2_amy_export.jpg", nil)
	var parseErr *ParseError
	assert.True(t, errors.As(err, &parseErr))
}

func TestDetectDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"trip_2_amy_来自小红书网页版.jpg",
		"trip_1_amy_来自小红书网页版.jpg",
		"unrelated.jpg",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "trip_9_amy_来自小红书网页版.jpg"), 0700))

	s, warnings, err := DetectDir(filepath.Join(dir, "trip_1_amy_来自小红书网页版.jpg"))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Len(t, s.Files, 2)
}

func TestDetectDir_SelectedFileMissing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trip_2_amy_来自小红书网页版.jpg"), []byte("x"), 0600))

	_, _, err := DetectDir(filepath.Join(dir, "trip_1_amy_来自小红书网页版.jpg"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoScreenshots))
}

func TestDetectDir_SelectedIsDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "trip_1_amy_来自小红书网页版.jpg")
	require.NoError(t, os.Mkdir(sub, 0700))

	_, _, err := DetectDir(sub)
	assert.True(t, errors.Is(err, ErrNoScreenshots))
}

func TestSummarise(t *testing.T) {
	s := &Series{
		Title:  "trip",
		Author: "amy",
		Files: []SourceFile{
			{Path: "a", Page: 4, HasPage: true, Index: 0},
			{Path: "b", Page: 1, HasPage: true, Index: 1},
			{Path: "c", Page: 1, HasPage: true, Index: 2},
		},
	}

	sum := Summarise(s)
	assert.Equal(t, 3, sum.TotalFiles)
	assert.Equal(t, 1, sum.FirstPage)
	assert.Equal(t, 4, sum.LastPage)
	assert.Equal(t, []int{2, 3}, sum.Missing)
	assert.Equal(t, 2, sum.MissingCount)
	assert.Equal(t, []int{1}, sum.Duplicates)
}
