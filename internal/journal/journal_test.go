package journal

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestJournal_RecordAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", DefaultFileName)

	j, err := Open(path, testLogger())
	require.NoError(t, err)
	assert.True(t, j.IsEnabled())
	assert.Equal(t, path, j.Path())

	j.Record(Entry{RunID: "r1", Backend: "baidu", Page: 2, Kind: "TransientError", Attempts: 3, Error: "timeout"})
	j.Record(Entry{RunID: "r1", Kind: "PersistenceError", Error: "disk full"})
	require.NoError(t, j.Close())

	entries, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[0].Page)
	assert.Equal(t, 3, entries[0].Attempts)
	assert.NotEmpty(t, entries[0].Timestamp)
	assert.Equal(t, "PersistenceError", entries[1].Kind)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestJournal_RotationDropsOldEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	old := time.Now().AddDate(0, 0, -DefaultRetentionDays-1).Format(time.RFC3339)
	recent := time.Now().AddDate(0, 0, -1).Format(time.RFC3339)
	content := strings.Join([]string{
		`{"timestamp":"` + old + `","run_id":"old","kind":"AuthError","error":"x"}`,
		`{"timestamp":"` + recent + `","run_id":"recent","kind":"AuthError","error":"x"}`,
		`not json`,
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	j, err := Open(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, j.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"old"`)
	assert.Contains(t, string(data), `"recent"`)
	assert.Contains(t, string(data), "not json")
}

func TestJournal_DisabledAndNil(t *testing.T) {
	var nilJournal *Journal
	assert.NotPanics(t, func() {
		nilJournal.Record(Entry{RunID: "x"})
		Disabled().Record(Entry{RunID: "x"})
	})
	assert.False(t, nilJournal.IsEnabled())
	assert.False(t, Disabled().IsEnabled())
	assert.NoError(t, Disabled().Close())
	assert.NoError(t, nilJournal.Close())
}

func TestJournal_RecordAfterClose(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), DefaultFileName), testLogger())
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.NotPanics(t, func() { j.Record(Entry{RunID: "late"}) })
}
