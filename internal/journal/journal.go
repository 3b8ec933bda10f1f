// Package journal appends failed pages and failed runs to a JSON lines file so
// that they can be inspected after the CLI has exited.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultFileName is created inside the pic2md log directory
	DefaultFileName = "ocr-errors.log"

	// DefaultRetentionDays is how long entries are kept
	DefaultRetentionDays = 60
)

// Entry is one logged failure. Page is zero for run-level failures.
type Entry struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id"`
	Backend   string `json:"backend,omitempty"`
	Title     string `json:"title,omitempty"`
	Source    string `json:"source,omitempty"`
	Page      int    `json:"page,omitempty"`
	Kind      string `json:"kind"`
	Attempts  int    `json:"attempts,omitempty"`
	Error     string `json:"error"`
}

// Journal writes entries to an append-only file. A nil or disabled Journal
// silently drops entries.
type Journal struct {
	enabled  bool
	logFile  *os.File
	logger   *logrus.Logger
	mu       sync.Mutex
	filePath string
	now      func() time.Time
}

// Disabled returns a journal that records nothing
func Disabled() *Journal {
	return &Journal{}
}

// Open opens (creating if needed) the journal at path and drops entries older
// than the retention period
func Open(path string, logger *logrus.Logger) (*Journal, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	j := &Journal{
		enabled:  true,
		logger:   logger,
		filePath: path,
		now:      time.Now,
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.reopenLogFileLocked(); err != nil {
		return nil, err
	}
	if err := j.rotateOldLogsLocked(); err != nil {
		logger.WithError(err).Warn("Failed to rotate old OCR error log entries")
	}

	logger.WithField("path", path).Debug("OCR error journal enabled")
	return j, nil
}

// Record appends e, filling in the timestamp when empty
func (j *Journal) Record(e Entry) {
	if j == nil || !j.enabled {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.logFile == nil {
		return
	}
	if e.Timestamp == "" {
		e.Timestamp = j.now().Format(time.RFC3339)
	}

	jsonData, err := json.Marshal(e)
	if err != nil {
		j.logger.WithError(err).Error("Failed to marshal OCR error log entry")
		return
	}

	if _, err := j.logFile.Write(append(jsonData, '\n')); err != nil {
		j.logger.WithError(err).Error("Failed to write OCR error log entry")
		return
	}

	if err := j.logFile.Sync(); err != nil {
		j.logger.WithError(err).Error("Failed to sync OCR error log file")
	}
}

// Close closes the underlying file
func (j *Journal) Close() error {
	if j == nil || !j.enabled {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.logFile == nil {
		return nil
	}
	err := j.logFile.Close()
	j.logFile = nil
	return err
}

// IsEnabled returns whether entries are being written
func (j *Journal) IsEnabled() bool {
	return j != nil && j.enabled
}

// Path returns the journal file path
func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.filePath
}

// rotateOldLogsLocked rewrites the file keeping only entries newer than the
// retention period. Caller must hold j.mu.
func (j *Journal) rotateOldLogsLocked() error {
	if j.logFile != nil {
		if err := j.logFile.Close(); err != nil {
			return fmt.Errorf("failed to close log file for rotation: %w", err)
		}
		j.logFile = nil
	}

	file, err := os.Open(j.filePath)
	if err != nil {
		return j.reopenLogFileLocked()
	}

	var validEntries []string
	cutoffTime := j.now().AddDate(0, 0, -DefaultRetentionDays)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			// Keep malformed entries to avoid data loss
			validEntries = append(validEntries, line)
			continue
		}

		entryTime, err := time.Parse(time.RFC3339, entry.Timestamp)
		if err != nil || entryTime.After(cutoffTime) {
			validEntries = append(validEntries, line)
		}
	}

	scanErr := scanner.Err()
	_ = file.Close()

	if scanErr != nil {
		_ = j.reopenLogFileLocked()
		return fmt.Errorf("error reading log file during rotation: %w", scanErr)
	}

	content := ""
	if len(validEntries) > 0 {
		content = strings.Join(validEntries, "\n") + "\n"
	}

	tmpPath := j.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0600); err != nil {
		_ = j.reopenLogFileLocked()
		return fmt.Errorf("failed to write temporary rotated log file: %w", err)
	}

	if err := os.Rename(tmpPath, j.filePath); err != nil {
		_ = os.Remove(tmpPath)
		_ = j.reopenLogFileLocked()
		return fmt.Errorf("failed to rename temporary log file during rotation: %w", err)
	}

	return j.reopenLogFileLocked()
}

// reopenLogFileLocked opens the log file in append mode. Caller must hold j.mu.
func (j *Journal) reopenLogFileLocked() error {
	logFile, err := os.OpenFile(j.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open OCR error log file: %w", err)
	}

	j.logFile = logFile
	return nil
}

// ReadAll parses every entry in the journal at path, skipping malformed lines
func ReadAll(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries, scanner.Err()
}
