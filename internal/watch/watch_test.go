package watch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
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

type recorder struct {
	mu    sync.Mutex
	paths []string
	calls chan string
}

func newRecorder() *recorder {
	return &recorder{calls: make(chan string, 16)}
}

func (r *recorder) handle(_ context.Context, path string) error {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
	r.calls <- path
	return nil
}

func TestWatcher_DebouncesSeries(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	w := New(dir, rec.handle, Options{Debounce: 100 * time.Millisecond, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	// Give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	for _, name := range []string{
		"trip_1_amy_来自小红书网页版.png",
		"notes.txt",
		"trip_2_amy_来自小红书网页版.png",
		"trip_3_amy_来自小红书网页版.png",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	select {
	case path := <-rec.calls:
		assert.Equal(t, "trip", filepath.Base(path)[:4])
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}

	select {
	case path := <-rec.calls:
		t.Fatalf("unexpected second conversion of %s", path)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_ObserveKeepsLatestPathPerSeries(t *testing.T) {
	rec := newRecorder()
	w := New(t.TempDir(), rec.handle, Options{Debounce: time.Hour, Logger: testLogger()})
	ctx := context.Background()

	w.observe(ctx, "/pics/trip_1_amy_来自小红书网页版.png")
	w.observe(ctx, "/pics/trip_2_amy_来自小红书网页版.png")
	w.observe(ctx, "/pics/food_1_amy_来自小红书网页版.png")
	w.observe(ctx, "/pics/readme.md")

	w.mu.Lock()
	assert.Len(t, w.pending, 2)
	assert.Len(t, w.timers, 2)
	w.mu.Unlock()

	for key := range w.pending {
		w.fire(ctx, key)
	}
	assert.ElementsMatch(t, []string{
		"/pics/trip_2_amy_来自小红书网页版.png",
		"/pics/food_1_amy_来自小红书网页版.png",
	}, rec.paths)

	w.stopTimers()
	assert.Empty(t, w.timers)
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "missing"), newRecorder().handle, Options{Logger: testLogger()})
	assert.Error(t, w.Run(context.Background()))
}
