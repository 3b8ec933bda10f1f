// Package series recognises RedNote screenshot filenames, groups sibling
// screenshots that belong to the same article and orders them by page.
package series

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultSuffix is appended by the RedNote web client to every exported screenshot
const DefaultSuffix = "来自小红书网页版"

// ErrUnsupportedFormat is wrapped by ParseError when the extension is not an image type we can submit
var ErrUnsupportedFormat = errors.New("unsupported image format")

// supportedExtensions lists the accepted image extensions (lowercase, without dot)
var supportedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"bmp":  true,
	"gif":  true,
	"webp": true,
}

// SourceFile is one screenshot of a series
type SourceFile struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Page    int    `json:"page"`
	HasPage bool   `json:"has_page"`
	Author  string `json:"author"`
	Ext     string `json:"ext"`

	// Index is the position of the file in the directory enumeration it was found in
	Index int `json:"index"`
}

// Name returns the base filename
func (f SourceFile) Name() string {
	return filepath.Base(f.Path)
}

// Key returns the grouping key shared by all pages of one article
func (f SourceFile) Key() string {
	return f.Title + "\x00" + f.Author + "\x00" + strings.ToLower(f.Ext)
}

// SortPage is the page number used for ordering; files without a page number sort as page 0
func (f SourceFile) SortPage() int {
	if !f.HasPage {
		return 0
	}
	return f.Page
}

// ParseError reports a filename that does not follow the screenshot naming convention
type ParseError struct {
	Name   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %q: %s", e.Name, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Pattern describes the filename convention. The zero value is not usable, use DefaultPattern.
type Pattern struct {
	Suffix string
}

// DefaultPattern matches names produced by the RedNote web client
var DefaultPattern = Pattern{Suffix: DefaultSuffix}

// ParseFilename parses a base name of the form {title}_{page}_{author}_<suffix>.{ext}
func ParseFilename(name string) (SourceFile, error) {
	return DefaultPattern.Parse(name)
}

// ParseFile parses the base name of path and records the path on the result
func ParseFile(path string) (SourceFile, error) {
	f, err := DefaultPattern.Parse(filepath.Base(path))
	if err != nil {
		return SourceFile{}, err
	}
	f.Path = path
	return f, nil
}

// Parse parses a base name against the pattern. The page segment may be absent,
// and extra underscores are absorbed into the title: the rightmost two segments
// before the suffix are page and author.
func (p Pattern) Parse(name string) (SourceFile, error) {
	// macOS hands out decomposed names
	name = norm.NFC.String(name)

	dot := strings.LastIndex(name, ".")
	if dot <= 0 || dot == len(name)-1 {
		return SourceFile{}, &ParseError{Name: name, Reason: "missing file extension"}
	}
	stem, ext := name[:dot], name[dot+1:]

	marker := "_" + norm.NFC.String(p.Suffix)
	if !strings.HasSuffix(stem, marker) {
		return SourceFile{}, &ParseError{Name: name, Reason: fmt.Sprintf("missing %q suffix", p.Suffix)}
	}
	stem = strings.TrimSuffix(stem, marker)

	parts := strings.Split(stem, "_")
	if len(parts) < 2 {
		return SourceFile{}, &ParseError{Name: name, Reason: "expected at least title and author segments"}
	}

	f := SourceFile{
		Path:   name,
		Author: parts[len(parts)-1],
		Ext:    ext,
	}

	rest := parts[:len(parts)-1]
	if len(rest) >= 2 {
		if page, ok := parsePage(rest[len(rest)-1]); ok {
			f.Page = page
			f.HasPage = true
			rest = rest[:len(rest)-1]
		}
	}
	f.Title = strings.Join(rest, "_")

	if f.Title == "" {
		return SourceFile{}, &ParseError{Name: name, Reason: "empty title"}
	}
	if f.Author == "" {
		return SourceFile{}, &ParseError{Name: name, Reason: "empty author"}
	}
	if !IsSupportedExtension(ext) {
		return SourceFile{}, &ParseError{
			Name:   name,
			Reason: fmt.Sprintf("extension %q is not a supported image type", ext),
			Err:    ErrUnsupportedFormat,
		}
	}

	return f, nil
}

// Rederive rebuilds the filename a SourceFile was parsed from
func (p Pattern) Rederive(f SourceFile) string {
	if f.HasPage {
		return fmt.Sprintf("%s_%d_%s_%s.%s", f.Title, f.Page, f.Author, p.Suffix, f.Ext)
	}
	return fmt.Sprintf("%s_%s_%s.%s", f.Title, f.Author, p.Suffix, f.Ext)
}

// IsSupportedExtension reports whether ext (with or without leading dot) is an accepted image type
func IsSupportedExtension(ext string) bool {
	return supportedExtensions[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

func parsePage(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
