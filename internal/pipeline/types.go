package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/shuncox/rednote-pic2md/internal/cache"
	"github.com/shuncox/rednote-pic2md/internal/markdown"
	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"github.com/shuncox/rednote-pic2md/internal/series"
)

// Stage is a step of the conversion state machine
type Stage string

const (
	StageIdle        Stage = "idle"
	StageParsing     Stage = "parsing"
	StageOrdering    Stage = "ordering"
	StageRecognizing Stage = "recognizing"
	StageAssembling  Stage = "assembling"
	StageSaving      Stage = "saving"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// Terminal reports whether no further transitions follow s
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// Failure kinds reported on a failed Result besides the OCR error kinds
const (
	KindParse       = "ParseError"
	KindPersistence = "PersistenceError"
	KindCanceled    = "Canceled"
)

// ErrRunInProgress is returned by Start while another run is active
var ErrRunInProgress = errors.New("a conversion is already in progress")

// PersistenceError reports that the document could not be written. The
// assembled Markdown is kept so that it is not lost.
type PersistenceError struct {
	Path     string
	Markdown string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to save %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Event reports progress of a run
type Event struct {
	RunID string    `json:"run_id"`
	Stage Stage     `json:"stage"`
	Time  time.Time `json:"time"`
	// Page is the number of pages finished so far while recognising
	Page    int    `json:"page,omitempty"`
	Total   int    `json:"total,omitempty"`
	Message string `json:"message,omitempty"`
	Warning bool   `json:"warning,omitempty"`
}

// Request describes one conversion
type Request struct {
	// Path is the screenshot the user selected
	Path string
	// Entries optionally replaces the directory listing of Path's directory
	Entries []string
	// Pattern defaults to series.DefaultPattern
	Pattern series.Pattern

	Engine  ocr.Engine
	Retrier *ocr.Retrier
	// Cache is optional
	Cache *cache.Disk

	// Concurrency is the number of pages recognised at once, default 1
	Concurrency int

	// OutputDir defaults to the directory of the screenshots
	OutputDir string
	// FilenamePattern supports {title}, {author} and {date}, default {title}
	FilenamePattern string
	Markdown        markdown.Options
	HTML            bool
	ArchivePDF      bool

	// OnEvent is called synchronously for every event, in addition to Run.Events
	OnEvent func(Event)
}

// Result is the outcome of a run
type Result struct {
	RunID      string                `json:"run_id"`
	Stage      Stage                 `json:"stage"`
	Title      string                `json:"title,omitempty"`
	Author     string                `json:"author,omitempty"`
	OutputPath string                `json:"output_path,omitempty"`
	HTMLPath   string                `json:"html_path,omitempty"`
	PDFPath    string                `json:"pdf_path,omitempty"`
	Pages      []markdown.PageResult `json:"pages,omitempty"`
	Failed     int                   `json:"failed_pages"`
	Warnings   []string              `json:"warnings,omitempty"`
	Markdown   string                `json:"-"`
	Duration   time.Duration         `json:"duration"`

	// Kind and Message describe a failed run
	Kind    string `json:"error_kind,omitempty"`
	Message string `json:"error,omitempty"`
	Err     error  `json:"-"`
}
