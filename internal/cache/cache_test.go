package cache

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetSet(t *testing.T) {
	c := NewCache(time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("token", "abc")
	v, ok := c.Get("token")
	require.True(t, ok)
	assert.Equal(t, "abc", v)

	c.Delete("token")
	_, ok = c.Get("token")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	c := NewCache(time.Hour)
	c.SetWithTTL("short", 1, 10*time.Millisecond)

	_, ok := c.Get("short")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("short")
	assert.False(t, ok)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestPageKey(t *testing.T) {
	a := PageKey("baidu", []byte("image"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, PageKey("baidu", []byte("image")))
	assert.NotEqual(t, a, PageKey("tencent", []byte("image")))
	assert.NotEqual(t, a, PageKey("baidu", []byte("other")))
}

func TestDisk_RoundTrip(t *testing.T) {
	d := NewDisk(t.TempDir(), 0, quietLogger())
	key := PageKey("baidu", []byte("image"))

	_, ok := d.Get(key)
	assert.False(t, ok)

	require.NoError(t, d.Set(key, "baidu", "第一页"))
	text, ok := d.Get(key)
	require.True(t, ok)
	assert.Equal(t, "第一页", text)

	removed, err := d.Clear()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, ok = d.Get(key)
	assert.False(t, ok)
}

func TestDisk_ExpiredEntry(t *testing.T) {
	d := NewDisk(t.TempDir(), time.Hour, quietLogger())
	key := PageKey("baidu", []byte("image"))

	path := d.Path(key)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	data, err := json.Marshal(PageEntry{Backend: "baidu", Text: "old", CreatedAt: time.Now().Add(-2 * time.Hour)})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	_, ok := d.Get(key)
	assert.False(t, ok)
	assert.NoFileExists(t, path)
}

func TestDisk_CorruptEntry(t *testing.T) {
	d := NewDisk(t.TempDir(), 0, quietLogger())
	key := PageKey("baidu", []byte("image"))

	path := d.Path(key)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, ok := d.Get(key)
	assert.False(t, ok)
}

func TestDisk_ClearMissingDir(t *testing.T) {
	d := NewDisk(filepath.Join(t.TempDir(), "absent"), 0, quietLogger())
	removed, err := d.Clear()
	require.NoError(t, err)
	assert.Zero(t, removed)
}
