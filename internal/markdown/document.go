// Package markdown assembles recognised page text into a single Markdown document.
package markdown

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shuncox/rednote-pic2md/internal/ocr"
)

const (
	// PageBreak separates consecutive pages
	PageBreak = "---"

	// DefaultPlaceholder is written in place of a page whose OCR failed. It takes
	// the 1-based page position and the error kind.
	DefaultPlaceholder = "> ⚠️ Page %d: OCR failed (%s)"

	// DefaultEmptyNote is written for a page that was recognised but held no text
	DefaultEmptyNote = "> Page %d: no text recognised"
)

// PageResult is the outcome of recognising one page
type PageResult struct {
	// Index is the position in series order, starting at 0
	Index int `json:"index"`
	// Page is the page number parsed from the filename
	Page     int           `json:"page"`
	Source   string        `json:"source"`
	Text     string        `json:"text,omitempty"`
	Err      error         `json:"-"`
	Kind     ocr.ErrorKind `json:"error_kind,omitempty"`
	Attempts int           `json:"attempts"`
	Cached   bool          `json:"cached,omitempty"`
}

// OK reports whether the page was recognised
func (p PageResult) OK() bool {
	return p.Err == nil
}

// Document is an ordered set of page results
type Document struct {
	Title  string
	Author string
	Pages  []PageResult
}

// Failed returns the number of pages that could not be recognised
func (d Document) Failed() int {
	n := 0
	for _, p := range d.Pages {
		if !p.OK() {
			n++
		}
	}
	return n
}

// Options controls Assemble
type Options struct {
	// IncludeAuthor adds an author line under the title
	IncludeAuthor bool
	// Placeholder is a fmt format with %d (page position) and %s (error kind)
	Placeholder string
	// EmptyNote is a fmt format with %d (page position)
	EmptyNote string
	// Clean applies CleanText to every page
	Clean bool
}

// DefaultOptions returns the options used by the CLI
func DefaultOptions() Options {
	return Options{
		Placeholder: DefaultPlaceholder,
		EmptyNote:   DefaultEmptyNote,
		Clean:       true,
	}
}

// Assemble renders doc as Markdown: a title heading followed by each page in
// order with a thematic break between every pair of pages. The output ends with
// exactly one newline.
func Assemble(doc Document, opts Options) string {
	if opts.Placeholder == "" {
		opts.Placeholder = DefaultPlaceholder
	}
	if opts.EmptyNote == "" {
		opts.EmptyNote = DefaultEmptyNote
	}

	var blocks []string
	if title := strings.TrimSpace(doc.Title); title != "" {
		blocks = append(blocks, "# "+title)
	}
	if opts.IncludeAuthor && strings.TrimSpace(doc.Author) != "" {
		blocks = append(blocks, "**Author**: "+strings.TrimSpace(doc.Author))
	}

	pages := make([]string, 0, len(doc.Pages))
	for i, p := range doc.Pages {
		pages = append(pages, renderPage(i+1, p, opts))
	}
	if len(pages) > 0 {
		blocks = append(blocks, strings.Join(pages, "\n\n"+PageBreak+"\n\n"))
	}

	if len(blocks) == 0 {
		return ""
	}
	return strings.Join(blocks, "\n\n") + "\n"
}

func renderPage(position int, p PageResult, opts Options) string {
	if !p.OK() {
		return fmt.Sprintf(opts.Placeholder, position, p.Kind)
	}

	text := p.Text
	if opts.Clean {
		text = CleanText(text)
	}
	text = Normalise(text)
	if text == "" {
		return fmt.Sprintf(opts.EmptyNote, position)
	}
	return escapeBreaks(text)
}

var (
	breakLike       = regexp.MustCompile(`^ {0,3}([-*_])[ \t]*(?:[-*_][ \t]*){2,}$`)
	setextUnderline = regexp.MustCompile(`^ {0,3}(?:=+|-+)[ \t]*$`)
)

// escapeBreaks stops recognised lines such as "***" or "- - -" from reading as
// page breaks or setext underlines.
func escapeBreaks(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if breakLike.MatchString(line) || setextUnderline.MatchString(line) {
			lines[i] = `\` + strings.TrimLeft(line, " ")
		}
	}
	return strings.Join(lines, "\n")
}
