package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// PageEntry is one cached recognition result
type PageEntry struct {
	Backend   string    `json:"backend"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Disk caches recognised page text on disk, keyed by backend and image content,
// so re-running a series only pays for pages that changed
type Disk struct {
	dir    string
	maxAge time.Duration
	logger *logrus.Logger
}

// NewDisk creates a disk cache rooted at dir. A maxAge of zero keeps entries forever.
func NewDisk(dir string, maxAge time.Duration, logger *logrus.Logger) *Disk {
	return &Disk{dir: dir, maxAge: maxAge, logger: logger}
}

// PageKey generates a cache key for an image submitted to a backend
func PageKey(backend string, image []byte) string {
	imageHash := sha256.Sum256(image)
	keyData := struct {
		Backend string `json:"backend"`
		Image   string `json:"image"`
	}{
		Backend: backend,
		Image:   hex.EncodeToString(imageHash[:]),
	}

	jsonData, _ := json.Marshal(keyData)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// Path returns the file path for a cache key
func (d *Disk) Path(key string) string {
	return filepath.Join(d.dir, key[:2], key+".json")
}

// Get returns the cached text for key if present and not expired
func (d *Disk) Get(key string) (string, bool) {
	path := d.Path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}

	var e PageEntry
	if err := json.Unmarshal(data, &e); err != nil {
		d.logger.WithError(err).WithField("path", path).Debug("Discarding unreadable cache entry")
		_ = os.Remove(path)
		return "", false
	}

	if d.maxAge > 0 && time.Since(e.CreatedAt) > d.maxAge {
		_ = os.Remove(path)
		return "", false
	}

	return e.Text, true
}

// Set stores text for key
func (d *Disk) Set(key, backend, text string) error {
	path := d.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.Marshal(PageEntry{Backend: backend, Text: text, CreatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}
	return nil
}

// Clear removes every cache entry and returns how many were deleted
func (d *Disk) Clear() (int, error) {
	removed := 0
	err := filepath.WalkDir(d.dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("failed to clear cache: %w", err)
	}
	return removed, nil
}
