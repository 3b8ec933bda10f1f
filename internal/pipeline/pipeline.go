// Package pipeline runs a conversion: it detects and orders a screenshot
// series, recognises every page in the background and writes the assembled
// Markdown, reporting progress as it goes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/shuncox/rednote-pic2md/internal/journal"
	"github.com/shuncox/rednote-pic2md/internal/markdown"
	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"github.com/shuncox/rednote-pic2md/internal/series"
	"github.com/shuncox/rednote-pic2md/internal/telemetry"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

const eventBuffer = 64

// Options configure an Orchestrator
type Options struct {
	Logger  *logrus.Logger
	Journal *journal.Journal
	// LockPath enables a cross-process lock so that only one pic2md converts at a time
	LockPath string
}

// Orchestrator starts conversion runs, one at a time
type Orchestrator struct {
	logger   *logrus.Logger
	journal  *journal.Journal
	lockPath string
	running  atomic.Bool
	now      func() time.Time
}

// New creates an Orchestrator
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		logger:   opts.Logger,
		journal:  opts.Journal,
		lockPath: opts.LockPath,
		now:      time.Now,
	}
}

// Busy reports whether a run is active
func (o *Orchestrator) Busy() bool {
	return o.running.Load()
}

// Run is a conversion executing in the background
type Run struct {
	ID string

	events chan Event
	done   chan struct{}
	cancel context.CancelFunc
	result *Result

	mu    sync.Mutex
	stage Stage
}

// Events delivers progress. The channel is closed when the run ends. Events
// are dropped rather than blocking the run when the channel is not drained.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Wait blocks until the run ends and returns its result
func (r *Run) Wait() *Result {
	<-r.done
	return r.result
}

// Done is closed when the run ends
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Cancel stops the run before the next page is submitted
func (r *Run) Cancel() {
	r.cancel()
}

// Stage returns the current stage
func (r *Run) Stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// Start validates req and launches the run. It returns ErrRunInProgress when
// another run, in this process or another, is active.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Run, error) {
	if req.Engine == nil {
		return nil, errors.New("no OCR engine configured")
	}
	if req.Path == "" {
		return nil, errors.New("no input file given")
	}

	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}

	lock, err := o.acquireLock()
	if err != nil {
		o.running.Store(false)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:     uuid.NewString(),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
		stage:  StageIdle,
	}

	go func() {
		defer func() {
			cancel()
			o.releaseLock(lock)
			o.running.Store(false)
			close(run.events)
			close(run.done)
		}()
		run.result = o.execute(runCtx, run, req)
	}()

	return run, nil
}

func (o *Orchestrator) acquireLock() (*flock.Flock, error) {
	if o.lockPath == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(o.lockPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	lock := flock.New(o.lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w in another process", ErrRunInProgress)
	}
	return lock, nil
}

func (o *Orchestrator) releaseLock(lock *flock.Flock) {
	if lock == nil {
		return
	}
	if err := lock.Unlock(); err != nil {
		o.logger.WithError(err).Warn("Failed to release run lock")
	}
}

// emit records the stage and publishes an event without blocking
func (o *Orchestrator) emit(run *Run, req Request, ev Event) {
	ev.RunID = run.ID
	ev.Time = o.now()

	run.mu.Lock()
	if ev.Stage != "" {
		run.stage = ev.Stage
	} else {
		ev.Stage = run.stage
	}
	run.mu.Unlock()

	if req.OnEvent != nil {
		req.OnEvent(ev)
	}

	select {
	case run.events <- ev:
	default:
		o.logger.WithField("stage", ev.Stage).Debug("Progress event dropped, no reader")
	}
}

func (o *Orchestrator) warn(run *Run, req Request, res *Result, err error) {
	res.Warnings = append(res.Warnings, err.Error())
	o.logger.WithField("run_id", run.ID).Warn(err.Error())
	o.emit(run, req, Event{Message: err.Error(), Warning: true})
}

// execute drives the state machine to Done or Failed
func (o *Orchestrator) execute(ctx context.Context, run *Run, req Request) *Result {
	start := o.now()
	backend := string(req.Engine.Kind())
	res := &Result{RunID: run.ID}

	logger := o.logger.WithFields(logrus.Fields{
		"run_id":  run.ID,
		"backend": backend,
	})

	telemetry.RecordRunStart(ctx, backend)

	// Parsing
	o.emit(run, req, Event{Stage: StageParsing, Message: filepath.Base(req.Path)})
	pattern := req.Pattern
	if pattern.Suffix == "" {
		pattern = series.DefaultPattern
	}

	var (
		s        *series.Series
		warnings []error
		err      error
	)
	if req.Entries != nil {
		s, warnings, err = pattern.Detect(req.Path, req.Entries)
	} else {
		s, warnings, err = pattern.DetectDir(req.Path)
	}
	if err != nil {
		return o.fail(ctx, run, req, res, start, nil, KindParse, err)
	}
	res.Title, res.Author = s.Title, s.Author
	for _, w := range warnings {
		o.warn(run, req, res, w)
	}

	// Ordering
	o.emit(run, req, Event{Stage: StageOrdering, Total: s.Len()})
	ordered, orderWarnings := series.Order(s)
	for _, w := range orderWarnings {
		o.warn(run, req, res, w)
	}
	if gapErr := series.Validate(ordered); gapErr != nil {
		o.warn(run, req, res, gapErr)
	}
	if len(ordered) == 0 {
		return o.fail(ctx, run, req, res, start, nil, KindParse, series.ErrNoScreenshots)
	}

	ctx, span := telemetry.StartRunSpan(ctx, telemetry.RunInfo{
		ID:      run.ID,
		Backend: backend,
		Title:   s.Title,
		Pages:   len(ordered),
	})

	logger.WithFields(logrus.Fields{
		"title": s.Title,
		"pages": len(ordered),
	}).Info("Starting conversion")

	// Recognizing
	o.emit(run, req, Event{Stage: StageRecognizing, Total: len(ordered)})
	pages := o.recognizeAll(ctx, run, req, ordered)
	res.Pages = pages

	doc := markdown.Document{Title: s.Title, Author: s.Author, Pages: pages}
	res.Failed = doc.Failed()

	if ctx.Err() != nil {
		return o.fail(ctx, run, req, res, start, span, KindCanceled, fmt.Errorf("conversion canceled: %w", ctx.Err()))
	}
	if kind, unreachable := backendUnreachable(pages); unreachable {
		return o.fail(ctx, run, req, res, start, span, kind.String(),
			fmt.Errorf("every page failed: %s", ocr.Describe(kind)))
	}

	// Assembling
	o.emit(run, req, Event{Stage: StageAssembling})
	res.Markdown = markdown.Assemble(doc, req.Markdown)

	// Saving
	o.emit(run, req, Event{Stage: StageSaving})
	path, err := o.save(s, req, res.Markdown)
	if err != nil {
		return o.fail(ctx, run, req, res, start, span, KindPersistence, err)
	}
	res.OutputPath = path

	if req.HTML {
		htmlPath, err := writeHTML(path, s.Title, res.Markdown)
		if err != nil {
			o.warn(run, req, res, err)
		} else {
			res.HTMLPath = htmlPath
		}
	}
	if req.ArchivePDF {
		pdfPath, err := writeArchive(path, ordered)
		if err != nil {
			o.warn(run, req, res, err)
		} else {
			res.PDFPath = pdfPath
		}
	}

	res.Stage = StageDone
	res.Duration = o.now().Sub(start)
	telemetry.EndRunSpan(span, string(StageDone), res.Failed, nil)
	telemetry.RecordRunEnd(ctx, backend, string(StageDone), res.Duration)

	logger.WithFields(logrus.Fields{
		"output":       path,
		"failed_pages": res.Failed,
		"duration":     res.Duration,
	}).Info("Conversion finished")

	o.emit(run, req, Event{Stage: StageDone, Total: len(pages), Message: path})
	return res
}

// fail moves the run to Failed and journals the reason
func (o *Orchestrator) fail(ctx context.Context, run *Run, req Request, res *Result, start time.Time, span trace.Span, kind string, err error) *Result {
	res.Stage = StageFailed
	res.Kind = kind
	res.Err = err
	res.Message = err.Error()
	res.Duration = o.now().Sub(start)

	var persistErr *PersistenceError
	if errors.As(err, &persistErr) {
		res.Markdown = persistErr.Markdown
	}

	backend := string(req.Engine.Kind())
	if span != nil {
		telemetry.EndRunSpan(span, string(StageFailed), res.Failed, err)
	}
	telemetry.RecordRunEnd(context.WithoutCancel(ctx), backend, string(StageFailed), res.Duration)

	o.journal.Record(journal.Entry{
		RunID:   run.ID,
		Backend: backend,
		Title:   res.Title,
		Source:  filepath.Base(req.Path),
		Kind:    kind,
		Error:   telemetry.SanitiseError(err),
	})

	o.logger.WithFields(logrus.Fields{
		"run_id": run.ID,
		"kind":   kind,
	}).WithError(err).Error("Conversion failed")

	o.emit(run, req, Event{Stage: StageFailed, Message: res.Message})
	return res
}

// backendUnreachable reports whether every page failed with an error that is
// not about the image itself, returning the first such kind
func backendUnreachable(pages []markdown.PageResult) (ocr.ErrorKind, bool) {
	if len(pages) == 0 {
		return ocr.UnknownError, false
	}
	for _, p := range pages {
		if p.OK() || p.Kind == ocr.InvalidImage {
			return ocr.UnknownError, false
		}
	}
	return pages[0].Kind, true
}
