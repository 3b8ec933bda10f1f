package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/shuncox/rednote-pic2md/internal/cache"
	"github.com/shuncox/rednote-pic2md/internal/imaging"
	"github.com/shuncox/rednote-pic2md/internal/journal"
	"github.com/shuncox/rednote-pic2md/internal/markdown"
	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"github.com/shuncox/rednote-pic2md/internal/series"
	"github.com/shuncox/rednote-pic2md/internal/telemetry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// recognizeAll recognises every page and returns the results in series order
// regardless of completion order. Page failures never stop the others.
func (o *Orchestrator) recognizeAll(ctx context.Context, run *Run, req Request, files []series.SourceFile) []markdown.PageResult {
	results := make([]markdown.PageResult, len(files))

	limit := req.Concurrency
	if limit <= 0 {
		limit = 1
	}
	retrier := req.Retrier
	if retrier == nil {
		retrier = ocr.NewRetrier(o.logger)
	}

	var finished atomic.Int32
	var g errgroup.Group
	g.SetLimit(limit)

	for i, f := range files {
		results[i] = markdown.PageResult{Index: i, Page: f.SortPage(), Source: f.Name()}

		if ctx.Err() != nil {
			results[i].Err = ctx.Err()
			results[i].Kind = ocr.UnknownError
			continue
		}

		g.Go(func() error {
			// Cancellation is honoured between pages
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}

			results[i] = o.recognizePage(ctx, run, req, retrier, i, f)

			done := int(finished.Add(1))
			msg := fmt.Sprintf("%s recognised", f.Name())
			if !results[i].OK() {
				msg = fmt.Sprintf("%s failed: %s", f.Name(), results[i].Kind)
			}
			o.emit(run, req, Event{Stage: StageRecognizing, Page: done, Total: len(files), Message: msg})
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// recognizePage reads, fits, looks up and recognises one page
func (o *Orchestrator) recognizePage(ctx context.Context, run *Run, req Request, retrier *ocr.Retrier, index int, f series.SourceFile) markdown.PageResult {
	start := o.now()
	backend := string(req.Engine.Kind())
	res := markdown.PageResult{Index: index, Page: f.SortPage(), Source: f.Name()}

	logger := o.logger.WithFields(logrus.Fields{
		"run_id": run.ID,
		"page":   res.Page,
		"file":   res.Source,
	})

	data, err := os.ReadFile(f.Path)
	if err != nil {
		res.Err = &ocr.Error{Kind: ocr.InvalidImage, Message: "cannot read screenshot", Err: err}
		res.Kind = ocr.InvalidImage
		o.recordPageFailure(ctx, run, req, res, start)
		return res
	}

	ctx, span := telemetry.StartPageSpan(ctx, telemetry.PageInfo{
		Backend: backend,
		Index:   index,
		Page:    res.Page,
		Bytes:   len(data),
	})

	format, _ := ocr.FormatFromExt(filepath.Ext(f.Path))
	fitted, err := imaging.Fit(data, format, req.Engine.Limits())
	if err != nil {
		res.Err = err
		res.Kind = ocr.KindOf(err)
		telemetry.EndPageSpan(span, telemetry.PageOutcome{ErrorKind: res.Kind.String(), Err: err})
		o.recordPageFailure(ctx, run, req, res, start)
		return res
	}
	if fitted.Reencoded {
		logger.WithFields(logrus.Fields{
			"from_bytes": len(data),
			"to_bytes":   len(fitted.Data),
			"format":     fitted.Format,
			"resized":    fitted.Resized,
		}).Debug("Screenshot adjusted to backend limits")
	}

	var key string
	if req.Cache != nil {
		key = cache.PageKey(backend, fitted.Data)
		text, hit := req.Cache.Get(key)
		telemetry.RecordCacheOperation(ctx, "get", hit)
		if hit {
			res.Text = text
			res.Cached = true
			telemetry.EndPageSpan(span, telemetry.PageOutcome{Cached: true})
			telemetry.RecordPage(ctx, backend, "cached", "", 0, o.now().Sub(start))
			logger.Debug("Page served from cache")
			return res
		}
	}

	text, attempts, err := retrier.Recognize(ctx, req.Engine, fitted.Data, fitted.Format)
	res.Attempts = attempts
	if err != nil {
		res.Err = err
		res.Kind = ocr.KindOf(err)
		telemetry.EndPageSpan(span, telemetry.PageOutcome{Attempts: attempts, ErrorKind: res.Kind.String(), Err: err})
		o.recordPageFailure(ctx, run, req, res, start)
		return res
	}
	res.Text = text

	if req.Cache != nil {
		if err := req.Cache.Set(key, backend, text); err != nil {
			logger.WithError(err).Warn("Failed to store page in cache")
		}
		telemetry.RecordCacheOperation(ctx, "set", false)
	}

	telemetry.EndPageSpan(span, telemetry.PageOutcome{Attempts: attempts})
	telemetry.RecordPage(ctx, backend, "ok", "", attempts, o.now().Sub(start))
	logger.WithField("attempts", attempts).Debug("Page recognised")
	return res
}

func (o *Orchestrator) recordPageFailure(ctx context.Context, run *Run, req Request, res markdown.PageResult, start time.Time) {
	backend := string(req.Engine.Kind())
	telemetry.RecordPage(context.WithoutCancel(ctx), backend, "failed", res.Kind.String(), res.Attempts, o.now().Sub(start))

	o.journal.Record(journal.Entry{
		RunID:    run.ID,
		Backend:  backend,
		Source:   res.Source,
		Page:     res.Page,
		Kind:     res.Kind.String(),
		Attempts: res.Attempts,
		Error:    telemetry.SanitiseError(res.Err),
	})

	o.logger.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"page":     res.Page,
		"file":     res.Source,
		"kind":     res.Kind.String(),
		"attempts": res.Attempts,
	}).WithError(res.Err).Warn("Page recognition failed")
}
