package series

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNoScreenshots is returned when there is nothing to convert
var ErrNoScreenshots = errors.New("no screenshots found")

// Series is the set of screenshots that make up one article
type Series struct {
	Title  string       `json:"title"`
	Author string       `json:"author"`
	Ext    string       `json:"ext"`
	Dir    string       `json:"dir"`
	Files  []SourceFile `json:"files"`
}

// Len returns the number of files in the series
func (s *Series) Len() int {
	return len(s.Files)
}

// NoSiblingsError is a non-fatal warning: the selected file is the only page found
type NoSiblingsError struct {
	Path string
}

func (e *NoSiblingsError) Error() string {
	return fmt.Sprintf("no sibling pages found for %s, treating it as a single page", filepath.Base(e.Path))
}

// DetectDir reads the directory of path and detects the series path belongs to
func DetectDir(path string) (*Series, []error, error) {
	return DefaultPattern.DetectDir(path)
}

// DetectDir is DetectDir for names following p
func (p Pattern) DetectDir(path string) (*Series, []error, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil, fmt.Errorf("%w: %s does not exist", ErrNoScreenshots, path)
	case err != nil:
		return nil, nil, fmt.Errorf("failed to stat %s: %w", path, err)
	case info.IsDir():
		return nil, nil, fmt.Errorf("%w: %s is a directory", ErrNoScreenshots, path)
	}

	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}

	return p.Detect(path, names)
}

// Detect groups path with every sibling in entries that shares its title, author
// and extension. entries are base names within path's directory, in enumeration order.
// Names that do not parse are ignored; only a failure to parse path itself is fatal.
func Detect(path string, entries []string) (*Series, []error, error) {
	return DefaultPattern.Detect(path, entries)
}

// Detect is Detect for names following p
func (p Pattern) Detect(path string, entries []string) (*Series, []error, error) {
	selected, err := p.Parse(filepath.Base(path))
	if err != nil {
		return nil, nil, err
	}
	selected.Path = path

	dir := filepath.Dir(path)
	s := &Series{
		Title:  selected.Title,
		Author: selected.Author,
		Ext:    selected.Ext,
		Dir:    dir,
	}

	key := selected.Key()
	selectedName := filepath.Base(path)
	seenSelected := false

	for i, name := range entries {
		f, err := p.Parse(name)
		if err != nil || f.Key() != key {
			continue
		}
		f.Path = filepath.Join(dir, name)
		f.Index = i
		if name == selectedName {
			f.Path = path
			seenSelected = true
		}
		s.Files = append(s.Files, f)
	}

	// The listing may predate the selected file
	if !seenSelected {
		selected.Index = len(entries)
		s.Files = append(s.Files, selected)
	}

	var warnings []error
	if len(s.Files) == 1 {
		warnings = append(warnings, &NoSiblingsError{Path: path})
	}

	return s, warnings, nil
}

// Summary describes a series for display
type Summary struct {
	Title      string `json:"title"`
	Author     string `json:"author"`
	TotalFiles int    `json:"total_files"`
	FirstPage  int    `json:"first_page"`
	LastPage   int    `json:"last_page"`
	Missing    []int  `json:"missing_pages,omitempty"`
	// MissingCount also counts gaps beyond those listed in Missing
	MissingCount int   `json:"missing_count,omitempty"`
	Duplicates   []int `json:"duplicate_pages,omitempty"`
}

// Summarise orders the series and reports its page range, gaps and duplicates
func Summarise(s *Series) Summary {
	ordered, warnings := Order(s)
	sum := Summary{
		Title:      s.Title,
		Author:     s.Author,
		TotalFiles: len(ordered),
	}
	sum.Missing, sum.MissingCount = missingPages(ordered)
	if len(ordered) > 0 {
		sum.FirstPage = ordered[0].SortPage()
		sum.LastPage = ordered[len(ordered)-1].SortPage()
	}
	for _, w := range warnings {
		if dup, ok := w.(*DuplicatePageError); ok {
			sum.Duplicates = append(sum.Duplicates, dup.Page)
		}
	}
	return sum
}
