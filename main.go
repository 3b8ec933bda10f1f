package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/shuncox/rednote-pic2md/internal/cache"
	"github.com/shuncox/rednote-pic2md/internal/cli"
	"github.com/shuncox/rednote-pic2md/internal/config"
	"github.com/shuncox/rednote-pic2md/internal/journal"
	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"github.com/shuncox/rednote-pic2md/internal/registry"
	"github.com/shuncox/rednote-pic2md/internal/series"
	"github.com/shuncox/rednote-pic2md/internal/telemetry"
	"github.com/sirupsen/logrus"
	cliv3 "github.com/urfave/cli/v3"

	// Import all OCR backends to register them
	_ "github.com/shuncox/rednote-pic2md/internal/imports"
)

// Version information (set during build)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Global resources that need cleanup
var dailyLogFile atomic.Pointer[os.File]

// parseLogLevel parses the LOG_LEVEL environment variable and returns the appropriate logrus level.
// Defaults to WarnLevel if not set or invalid.
func parseLogLevel() logrus.Level {
	logLevelStr := os.Getenv("LOG_LEVEL")
	if logLevelStr == "" {
		return logrus.WarnLevel
	}

	switch strings.ToLower(strings.TrimSpace(logLevelStr)) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.WarnLevel
	}
}

// app holds what every command needs once flags have been parsed
type app struct {
	logger   *logrus.Logger
	cfg      *config.Config
	runner   *cli.Runner
	journal  *journal.Journal
	shutdown []func() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(parseLogLevel())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	registry.Init(logger)
	telemetry.SetServiceVersion(Version)

	state := &app{logger: logger}
	defer state.cleanup()

	cmd := newCommand(state)
	if err := cmd.Run(ctx, os.Args); err != nil {
		state.cleanup()
		red := color.New(color.FgRed).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
		os.Exit(1)
	}
}

func newCommand(state *app) *cliv3.Command {
	return &cliv3.Command{
		Name:      "pic2md",
		Usage:     "Convert RedNote screenshot series into Markdown with cloud OCR",
		Version:   fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
		ArgsUsage: "<screenshot>",
		Flags: append([]cliv3.Flag{
			&cliv3.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration file (default: ~/.pic2md/config.yaml)",
				Sources: cliv3.EnvVars(config.EnvConfigPath),
			},
			&cliv3.StringFlag{
				Name:    "backend",
				Aliases: []string{"b"},
				Usage:   "OCR backend to use (" + strings.Join(registry.Kinds(), ", ") + ")",
			},
			&cliv3.StringFlag{
				Name:  "format",
				Value: string(cli.OutputText),
				Usage: "Output format (text or json)",
			},
			&cliv3.BoolFlag{
				Name:  "json",
				Usage: "Shorthand for --format json",
			},
			&cliv3.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		}, convertFlags()...),
		Commands: []*cliv3.Command{
			{
				Name:      "convert",
				Usage:     "Convert the series a screenshot belongs to",
				ArgsUsage: "<screenshot>",
				Action: state.action(func(ctx context.Context, cmd *cliv3.Command) error {
					return state.convert(ctx, cmd)
				}),
			},
			{
				Name:      "series",
				Usage:     "Show the series a screenshot belongs to, in page order",
				ArgsUsage: "<screenshot>",
				Action: state.action(func(ctx context.Context, cmd *cliv3.Command) error {
					path, err := requireArg(cmd, "screenshot")
					if err != nil {
						return err
					}
					return state.runner.ShowSeries(path, series.Pattern{Suffix: state.cfg.Series.Suffix})
				}),
			},
			{
				Name:  "backends",
				Usage: "List OCR backends with their limits and credential fields",
				Action: state.action(func(ctx context.Context, cmd *cliv3.Command) error {
					return state.runner.ListBackends(state.cfg.Backend)
				}),
			},
			{
				Name:      "watch",
				Usage:     "Convert every series that appears in a directory",
				ArgsUsage: "<directory>",
				Flags: []cliv3.Flag{
					&cliv3.DurationFlag{
						Name:  "debounce",
						Usage: "How long a series must be quiet before it is converted",
					},
				},
				Action: state.action(func(ctx context.Context, cmd *cliv3.Command) error {
					return state.watch(ctx, cmd)
				}),
			},
			{
				Name:  "config",
				Usage: "Inspect the configuration",
				Commands: []*cliv3.Command{
					{
						Name:  "show",
						Usage: "Print the effective configuration with secrets masked",
						Action: state.action(func(ctx context.Context, cmd *cliv3.Command) error {
							return state.runner.ShowConfig(state.cfg)
						}),
					},
					{
						Name:  "validate",
						Usage: "Check that the selected backend is fully configured",
						Action: state.action(func(ctx context.Context, cmd *cliv3.Command) error {
							return state.runner.ValidateConfig(state.cfg)
						}),
					},
				},
			},
			{
				Name:  "cache",
				Usage: "Manage the page cache",
				Commands: []*cliv3.Command{
					{
						Name:  "clear",
						Usage: "Remove every cached page",
						Action: state.action(func(ctx context.Context, cmd *cliv3.Command) error {
							removed, err := cache.NewDisk(state.cfg.CacheDir(), 0, state.logger).Clear()
							if err != nil {
								return err
							}
							fmt.Printf("Removed %d cached page(s) from %s\n", removed, state.cfg.CacheDir())
							return nil
						}),
					},
				},
			},
			{
				Name:  "version",
				Usage: "Print version information",
				Action: func(ctx context.Context, cmd *cliv3.Command) error {
					fmt.Printf("pic2md version %s\n", Version)
					fmt.Printf("Commit: %s\n", Commit)
					fmt.Printf("Built: %s\n", BuildDate)
					return nil
				},
			},
		},
		// A bare screenshot path converts it
		Action: state.action(func(ctx context.Context, cmd *cliv3.Command) error {
			if cmd.Args().Len() == 0 {
				return cliv3.ShowAppHelp(cmd)
			}
			return state.convert(ctx, cmd)
		}),
	}
}

// action runs setup before fn so that flags given after a subcommand are honoured
func (a *app) action(fn cliv3.ActionFunc) cliv3.ActionFunc {
	return func(ctx context.Context, cmd *cliv3.Command) error {
		if err := a.setup(cmd); err != nil {
			return err
		}
		return fn(ctx, cmd)
	}
}

// setup configures logging, loads configuration and starts telemetry
func (a *app) setup(cmd *cliv3.Command) error {
	if a.cfg != nil {
		return nil
	}

	if cmd.Bool("verbose") {
		a.logger.SetLevel(logrus.DebugLevel)
	}
	a.openDailyLog()

	format := cmd.String("format")
	if cmd.Bool("json") {
		format = string(cli.OutputJSON)
	}
	output, err := cli.ParseOutputFormat(format)
	if err != nil {
		return err
	}

	cfg, err := config.Load(cmd.String("config"), a.logger)
	if err != nil {
		return err
	}
	if backend := cmd.String("backend"); backend != "" {
		cfg.Backend = ocr.Kind(strings.ToLower(backend))
	}
	a.cfg = cfg
	a.runner = cli.NewRunner(a.logger, output)

	a.journal = journal.Disabled()
	if os.Getenv("PIC2MD_LOG_OCR_ERRORS") != "false" {
		j, err := journal.Open(filepath.Join(config.LogDir(), journal.DefaultFileName), a.logger)
		if err != nil {
			a.logger.WithError(err).Warn("Failed to open OCR error journal, failures will not be recorded")
		} else {
			a.journal = j
			a.shutdown = append(a.shutdown, j.Close)
		}
	}

	if shutdown, err := telemetry.InitTracer(a.logger); err != nil {
		a.logger.WithError(err).Warn("Failed to initialise tracing")
	} else {
		a.shutdown = append(a.shutdown, shutdown)
	}
	if shutdown, err := telemetry.InitMetrics(a.logger); err != nil {
		a.logger.WithError(err).Warn("Failed to initialise metrics")
	} else {
		a.shutdown = append(a.shutdown, shutdown)
	}

	return nil
}

// openDailyLog mirrors log output into ~/.pic2md/logs/pic2md_YYYYMMDD.log
func (a *app) openDailyLog() {
	logDir := config.LogDir()
	if err := os.MkdirAll(logDir, 0700); err != nil {
		a.logger.WithError(err).Debug("Cannot create log directory, logging to stderr only")
		return
	}

	logFile := filepath.Join(logDir, fmt.Sprintf("pic2md_%s.log", time.Now().Format("20060102")))
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		a.logger.WithError(err).Debug("Cannot open log file, logging to stderr only")
		return
	}

	dailyLogFile.Store(file)
	a.logger.SetOutput(io.MultiWriter(os.Stderr, file))
	a.logger.WithField("level", a.logger.GetLevel().String()).Debug("Logging configured")
}

// cleanup flushes telemetry and closes files. It is safe to call twice.
func (a *app) cleanup() {
	shutdown := a.shutdown
	a.shutdown = nil
	for i := len(shutdown) - 1; i >= 0; i-- {
		if err := shutdown[i](); err != nil {
			a.logger.WithError(err).Debug("Shutdown step failed")
		}
	}

	if file := dailyLogFile.Swap(nil); file != nil {
		a.logger.SetOutput(os.Stderr)
		_ = file.Close()
	}
}

func requireArg(cmd *cliv3.Command, name string) (string, error) {
	if cmd.Args().Len() == 0 {
		return "", fmt.Errorf("missing <%s> argument", name)
	}
	if cmd.Args().Len() > 1 {
		return "", errors.New("only one argument is accepted")
	}
	return cmd.Args().First(), nil
}
