package series

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrder_StrictlyIncreasing(t *testing.T) {
	s := &Series{Files: []SourceFile{
		{Path: "p10", Page: 10, HasPage: true, Index: 0},
		{Path: "p2", Page: 2, HasPage: true, Index: 1},
		{Path: "p1", Page: 1, HasPage: true, Index: 2},
		{Path: "p3", Page: 3, HasPage: true, Index: 3},
	}}

	ordered, warnings := Order(s)
	assert.Empty(t, warnings)
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, ordered[i-1].Page, ordered[i].Page)
	}
	// numeric, not lexical
	assert.Equal(t, "p10", ordered[3].Path)
	// input untouched
	assert.Equal(t, "p10", s.Files[0].Path)
}

func TestOrder_DuplicatesAreDeterministic(t *testing.T) {
	s := &Series{Files: []SourceFile{
		{Path: "b", Page: 2, HasPage: true, Index: 0},
		{Path: "a2", Page: 1, HasPage: true, Index: 3},
		{Path: "a1", Page: 1, HasPage: true, Index: 1},
	}}

	first, warnings := Order(s)
	require.Len(t, warnings, 1)

	var dup *DuplicatePageError
	require.True(t, errors.As(warnings[0], &dup))
	assert.Equal(t, 1, dup.Page)
	assert.Equal(t, []string{"a1", "a2"}, dup.Files)

	for range 10 {
		again, _ := Order(s)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, []string{"a1", "a2", "b"}, []string{first[0].Path, first[1].Path, first[2].Path})
}

func TestOrder_MissingPageSortsFirst(t *testing.T) {
	s := &Series{Files: []SourceFile{
		{Path: "p1", Page: 1, HasPage: true, Index: 0},
		{Path: "cover", Index: 1},
	}}

	ordered, warnings := Order(s)
	assert.Empty(t, warnings)
	assert.Equal(t, "cover", ordered[0].Path)
}

func TestMissingPages(t *testing.T) {
	tests := []struct {
		name  string
		pages []int
		want  []int
	}{
		{name: "contiguous", pages: []int{1, 2, 3}, want: nil},
		{name: "gap", pages: []int{1, 2, 5}, want: []int{3, 4}},
		{name: "starts late", pages: []int{3, 5}, want: []int{4}},
		{name: "empty", pages: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var files []SourceFile
			for _, p := range tt.pages {
				files = append(files, SourceFile{Page: p, HasPage: true})
			}
			assert.Equal(t, tt.want, MissingPages(files))

			err := Validate(files)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			var missing *MissingPagesError
			require.True(t, errors.As(err, &missing))
			assert.Equal(t, tt.want, missing.Pages)
		})
	}
}

func TestValidate_HugeGapIsBounded(t *testing.T) {
	files := []SourceFile{
		{Page: 1, HasPage: true},
		{Page: 30000000, HasPage: true},
		{Page: 30000002, HasPage: true},
	}

	start := time.Now()
	err := Validate(files)
	assert.Less(t, time.Since(start), time.Second)

	var missing *MissingPagesError
	require.True(t, errors.As(err, &missing))
	assert.Len(t, missing.Pages, MaxListedMissing)
	assert.Equal(t, 2, missing.Pages[0])
	assert.Equal(t, 29999999, missing.Total)
	assert.Contains(t, err.Error(), "and 29999949 more")
	assert.Less(t, len(err.Error()), 1024)
}

func TestMissingPages_DuplicatesAndUnnumbered(t *testing.T) {
	files := []SourceFile{
		{Page: 4, HasPage: true},
		{Page: 1, HasPage: true},
		{Page: 4, HasPage: true},
		{HasPage: false},
	}
	assert.Equal(t, []int{2, 3}, MissingPages(files))
}
