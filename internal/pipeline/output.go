package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shuncox/rednote-pic2md/internal/markdown"
	"github.com/shuncox/rednote-pic2md/internal/series"
)

const (
	// DefaultFilenamePattern names documents after the series title
	DefaultFilenamePattern = "{title}"

	// fallbackName is used when the title sanitises to nothing
	fallbackName = "converted_document"

	maxCollisions = 1000
)

var invalidFilenameChars = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", `"`, "_",
	"/", "_", `\`, "_", "|", "_", "?", "_", "*", "_",
)

// SanitiseFilename replaces characters that are not allowed in filenames and
// trims surrounding whitespace and dots
func SanitiseFilename(name string) string {
	name = invalidFilenameChars.Replace(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 {
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(strings.TrimSpace(name), ".")
	if name == "" {
		return fallbackName
	}
	return name
}

// Filename expands pattern for s
func Filename(pattern string, s *series.Series, now time.Time) string {
	if pattern == "" {
		pattern = DefaultFilenamePattern
	}
	name := strings.NewReplacer(
		"{title}", s.Title,
		"{author}", s.Author,
		"{date}", now.Format("2006-01-02"),
	).Replace(pattern)
	return SanitiseFilename(name)
}

// save writes the document without overwriting an existing file: name.md,
// then name_1.md, name_2.md and so on
func (o *Orchestrator) save(s *series.Series, req Request, md string) (string, error) {
	dir := req.OutputDir
	if dir == "" {
		dir = s.Dir
	}
	base := Filename(req.FilenamePattern, s, o.now())

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &PersistenceError{Path: dir, Markdown: md, Err: err}
	}

	for n := 0; n < maxCollisions; n++ {
		name := base + ".md"
		if n > 0 {
			name = fmt.Sprintf("%s_%d.md", base, n)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", &PersistenceError{Path: path, Markdown: md, Err: err}
		}

		if _, err := f.WriteString(md); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return "", &PersistenceError{Path: path, Markdown: md, Err: err}
		}
		if err := f.Close(); err != nil {
			return "", &PersistenceError{Path: path, Markdown: md, Err: err}
		}
		return path, nil
	}

	return "", &PersistenceError{
		Path:     filepath.Join(dir, base+".md"),
		Markdown: md,
		Err:      fmt.Errorf("more than %d documents with the same name", maxCollisions),
	}
}

// writeHTML renders a preview next to the Markdown document
func writeHTML(mdPath, title, md string) (string, error) {
	page, err := markdown.RenderHTML(title, md)
	if err != nil {
		return "", err
	}
	path := strings.TrimSuffix(mdPath, filepath.Ext(mdPath)) + ".html"
	if err := os.WriteFile(path, []byte(page), 0644); err != nil {
		return "", fmt.Errorf("failed to write HTML preview: %w", err)
	}
	return path, nil
}
