package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/shuncox/rednote-pic2md/internal/cache"
	"github.com/shuncox/rednote-pic2md/internal/config"
	"github.com/shuncox/rednote-pic2md/internal/markdown"
	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"github.com/shuncox/rednote-pic2md/internal/pipeline"
	"github.com/shuncox/rednote-pic2md/internal/registry"
	"github.com/shuncox/rednote-pic2md/internal/series"
	"github.com/shuncox/rednote-pic2md/internal/watch"
	"github.com/sirupsen/logrus"
	cliv3 "github.com/urfave/cli/v3"
)

func convertFlags() []cliv3.Flag {
	return []cliv3.Flag{
		&cliv3.StringFlag{
			Name:    "output-dir",
			Aliases: []string{"o"},
			Usage:   "Directory for the Markdown file (default: next to the screenshots)",
		},
		&cliv3.StringFlag{
			Name:  "filename",
			Usage: "Filename pattern using {title}, {author} and {date}",
		},
		&cliv3.IntFlag{
			Name:  "concurrency",
			Usage: "Pages recognised at once (default from config, 1)",
		},
		&cliv3.BoolFlag{
			Name:  "no-cache",
			Usage: "Recognise every page even when a cached result exists",
		},
		&cliv3.BoolFlag{
			Name:  "html",
			Usage: "Also write an HTML preview",
		},
		&cliv3.BoolFlag{
			Name:  "pdf",
			Usage: "Also bundle the screenshots into a PDF",
		},
		&cliv3.BoolFlag{
			Name:  "author",
			Usage: "Add an author line under the title",
		},
	}
}

// converter runs conversions with one engine so that pacing state carries
// across the runs started by a watcher
type converter struct {
	orchestrator *pipeline.Orchestrator
	template     pipeline.Request
	logger       *logrus.Logger
}

func (a *app) newConverter(cmd *cliv3.Command) (*converter, error) {
	cfg := a.cfg
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration (run 'pic2md config validate'):\n%w", err)
	}

	engine, err := registry.New(cfg.Credentials(cfg.Backend), cfg.EngineOptions(cfg.Backend, a.logger))
	if err != nil {
		return nil, err
	}

	retrier := ocr.NewRetrier(a.logger)
	retrier.MaxAttempts = cfg.OCR.MaxAttempts

	var pageCache *cache.Disk
	if cfg.Cache.Enabled && !cmd.Bool("no-cache") {
		pageCache = cache.NewDisk(cfg.CacheDir(), cfg.Cache.MaxAge, a.logger)
	}

	mdOpts := markdown.DefaultOptions()
	mdOpts.IncludeAuthor = cfg.Output.IncludeAuthor || cmd.Bool("author")
	if cfg.Output.Placeholder != "" {
		mdOpts.Placeholder = cfg.Output.Placeholder
	}

	concurrency := cfg.OCR.Concurrency
	if n := cmd.Int("concurrency"); n > 0 {
		concurrency = n
	}
	outputDir := cfg.Output.Dir
	if dir := cmd.String("output-dir"); dir != "" {
		outputDir = dir
	}
	pattern := cfg.Output.FilenamePattern
	if p := cmd.String("filename"); p != "" {
		pattern = p
	}

	return &converter{
		orchestrator: pipeline.New(pipeline.Options{
			Logger:   a.logger,
			Journal:  a.journal,
			LockPath: filepath.Join(config.HomeDir(), "run.lock"),
		}),
		template: pipeline.Request{
			Pattern:         series.Pattern{Suffix: cfg.Series.Suffix},
			Engine:          engine,
			Retrier:         retrier,
			Cache:           pageCache,
			Concurrency:     concurrency,
			OutputDir:       outputDir,
			FilenamePattern: pattern,
			Markdown:        mdOpts,
			HTML:            cfg.Output.HTML || cmd.Bool("html"),
			ArchivePDF:      cfg.Output.PDF || cmd.Bool("pdf"),
			OnEvent:         a.runner.Progress,
		},
		logger: a.logger,
	}, nil
}

// run converts the series path belongs to and waits for the result
func (c *converter) run(ctx context.Context, path string) (*pipeline.Result, error) {
	req := c.template
	req.Path = path

	run, err := c.orchestrator.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{
		"run_id": run.ID,
		"file":   filepath.Base(path),
	}).Debug("Conversion started")

	// Drain the channel; progress is printed through OnEvent
	go func() {
		for range run.Events() {
		}
	}()

	return run.Wait(), nil
}

func (a *app) convert(ctx context.Context, cmd *cliv3.Command) error {
	path, err := requireArg(cmd, "screenshot")
	if err != nil {
		return err
	}

	conv, err := a.newConverter(cmd)
	if err != nil {
		return err
	}

	res, err := conv.run(ctx, path)
	if err != nil {
		return err
	}
	return a.runner.Report(res)
}

func (a *app) watch(ctx context.Context, cmd *cliv3.Command) error {
	dir, err := requireArg(cmd, "directory")
	if err != nil {
		return err
	}

	conv, err := a.newConverter(cmd)
	if err != nil {
		return err
	}

	debounce := a.cfg.Watch.Debounce
	if d := cmd.Duration("debounce"); d > 0 {
		debounce = d
	}

	w := watch.New(dir, func(ctx context.Context, path string) error {
		res, err := conv.run(ctx, path)
		if err != nil {
			return err
		}
		// The watcher logs a failed series and keeps going
		return a.runner.Report(res)
	}, watch.Options{
		Pattern:  series.Pattern{Suffix: a.cfg.Series.Suffix},
		Debounce: debounce,
		Logger:   a.logger,
	})

	return w.Run(ctx)
}
