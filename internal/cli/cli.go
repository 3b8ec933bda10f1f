// Package cli renders pic2md command results for the terminal, either as
// human readable text or as JSON for scripting.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/shuncox/rednote-pic2md/internal/config"
	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"github.com/shuncox/rednote-pic2md/internal/pipeline"
	"github.com/shuncox/rednote-pic2md/internal/registry"
	"github.com/shuncox/rednote-pic2md/internal/series"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// OutputFormat controls how results are rendered.
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json"
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (use text or json)", s)
}

// Runner prints command results. Results go to out, progress to errOut.
type Runner struct {
	logger *logrus.Logger
	output OutputFormat
	out    io.Writer
	errOut io.Writer
}

// NewRunner creates a Runner writing to stdout and stderr.
func NewRunner(logger *logrus.Logger, output OutputFormat) *Runner {
	return &Runner{logger: logger, output: output, out: os.Stdout, errOut: os.Stderr}
}

// WithWriters redirects output, mainly for tests.
func (r *Runner) WithWriters(out, errOut io.Writer) *Runner {
	r.out, r.errOut = out, errOut
	return r
}

// ListBackends prints every enabled backend with its limits and credential fields.
func (r *Runner) ListBackends(selected ocr.Kind) error {
	backends := registry.List()

	if r.output == OutputJSON {
		type jsonEntry struct {
			Kind        ocr.Kind   `json:"kind"`
			Name        string     `json:"name"`
			Selected    bool       `json:"selected"`
			Limits      ocr.Limits `json:"limits"`
			Credentials []string   `json:"credentials"`
		}
		out := make([]jsonEntry, len(backends))
		for i, b := range backends {
			out[i] = jsonEntry{
				Kind:        b.Kind,
				Name:        b.DisplayName,
				Selected:    b.Kind == selected,
				Limits:      b.Limits,
				Credentials: b.CredentialFields,
			}
		}
		return writeJSON(r.out, out)
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tNAME\tMAX EDGE\tMAX SIZE\tFORMATS\tQPS\tCREDENTIALS")
	for _, b := range backends {
		kind := string(b.Kind)
		if b.Kind == selected {
			kind += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			kind,
			b.DisplayName,
			orDash(b.Limits.MaxDimension, func(v int) string { return fmt.Sprintf("%dpx", v) }),
			orDash(b.Limits.MaxBytes, formatBytes),
			formatList(b.Limits.Formats),
			orDash(b.Limits.QPS, func(v float64) string { return fmt.Sprintf("%g", v) }),
			strings.Join(b.CredentialFields, ", "),
		)
	}
	return w.Flush()
}

// ShowSeries prints the series path belongs to in page order, with duplicate
// and gap warnings.
func (r *Runner) ShowSeries(path string, pattern series.Pattern) error {
	s, warnings, err := pattern.DetectDir(path)
	if err != nil {
		return err
	}
	ordered, orderWarnings := series.Order(s)
	warnings = append(warnings, orderWarnings...)
	summary := series.Summarise(s)

	if r.output == OutputJSON {
		msgs := make([]string, len(warnings))
		for i, w := range warnings {
			msgs[i] = w.Error()
		}
		return writeJSON(r.out, struct {
			series.Summary
			Files    []series.SourceFile `json:"files"`
			Warnings []string            `json:"warnings,omitempty"`
		}{Summary: summary, Files: ordered, Warnings: msgs})
	}

	bold := color.New(color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(r.out, "%s %s\n", bold("Title:"), summary.Title)
	fmt.Fprintf(r.out, "%s %s\n", bold("Author:"), summary.Author)
	fmt.Fprintf(r.out, "%s %d (pages %d-%d)\n\n", bold("Files:"), summary.TotalFiles, summary.FirstPage, summary.LastPage)

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tPAGE\tFILE")
	for i, f := range ordered {
		page := "-"
		if f.HasPage {
			page = fmt.Sprintf("%d", f.Page)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, page, f.Name())
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(warnings) > 0 {
		fmt.Fprintln(r.out)
	}
	for _, warn := range warnings {
		fmt.Fprintf(r.out, "%s %s\n", yellow("warning:"), warn)
	}
	if gapErr := series.Validate(ordered); gapErr != nil {
		fmt.Fprintf(r.out, "%s %s\n", yellow("warning:"), gapErr)
	}
	return nil
}

// Progress prints one run event. JSON mode emits one JSON object per line.
func (r *Runner) Progress(ev pipeline.Event) {
	if r.output == OutputJSON {
		data, err := json.Marshal(ev)
		if err != nil {
			r.logger.WithError(err).Debug("Failed to marshal progress event")
			return
		}
		fmt.Fprintln(r.errOut, string(data))
		return
	}

	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	blue := color.New(color.FgBlue).SprintFunc()

	switch {
	case ev.Warning:
		fmt.Fprintf(r.errOut, "%s %s\n", yellow("warning:"), ev.Message)
	case ev.Stage == pipeline.StageRecognizing && ev.Page > 0:
		fmt.Fprintf(r.errOut, "%s [%d/%d] %s\n", blue("ocr"), ev.Page, ev.Total, ev.Message)
	case ev.Stage == pipeline.StageDone:
		fmt.Fprintf(r.errOut, "%s %s\n", green("done"), ev.Message)
	case ev.Stage == pipeline.StageFailed:
		fmt.Fprintf(r.errOut, "%s %s\n", red("failed"), ev.Message)
	default:
		line := string(ev.Stage)
		if ev.Message != "" {
			line += " " + ev.Message
		} else if ev.Total > 0 {
			line += fmt.Sprintf(" %d page(s)", ev.Total)
		}
		fmt.Fprintln(r.errOut, blue(line))
	}
}

// Report prints the result of a run. A failed run is returned as an error so
// that the process exits non-zero.
func (r *Runner) Report(res *pipeline.Result) error {
	unsaved := res.Kind == pipeline.KindPersistence && res.Markdown != ""

	if r.output == OutputJSON {
		var v any = res
		if unsaved {
			v = struct {
				*pipeline.Result
				Markdown string `json:"markdown"`
			}{Result: res, Markdown: res.Markdown}
		}
		if err := writeJSON(r.out, v); err != nil {
			return err
		}
	} else if unsaved {
		// The document could not be written; print it so it is not lost
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Fprintf(r.errOut, "%s could not save the document, it follows on stdout\n", yellow("warning:"))
		fmt.Fprint(r.out, res.Markdown)
	} else if res.Stage == pipeline.StageDone {
		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()

		fmt.Fprintf(r.out, "%s %s\n", green("Saved"), res.OutputPath)
		if res.HTMLPath != "" {
			fmt.Fprintf(r.out, "%s %s\n", green("Preview"), res.HTMLPath)
		}
		if res.PDFPath != "" {
			fmt.Fprintf(r.out, "%s %s\n", green("Archive"), res.PDFPath)
		}
		fmt.Fprintf(r.out, "%d page(s), %d failed, %s\n", len(res.Pages), res.Failed, res.Duration.Round(10*time.Millisecond))
		for _, p := range res.Pages {
			if !p.OK() {
				fmt.Fprintf(r.out, "  %s page %d (%s): %s\n", yellow("!"), p.Page, p.Source, ocr.Describe(p.Kind))
			}
		}
	}

	if res.Stage == pipeline.StageFailed {
		return &RunError{Kind: res.Kind, Message: describeFailure(res)}
	}
	return nil
}

// RunError is returned for a failed conversion
type RunError struct {
	Kind    string
	Message string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// describeFailure prefers the user facing description for OCR failures
func describeFailure(res *pipeline.Result) string {
	switch res.Kind {
	case pipeline.KindParse, pipeline.KindPersistence, pipeline.KindCanceled:
		return res.Message
	}
	for _, p := range res.Pages {
		if !p.OK() {
			return ocr.Describe(p.Kind)
		}
	}
	return res.Message
}

// ShowConfig prints the configuration with secrets masked.
func (r *Runner) ShowConfig(cfg *config.Config) error {
	redacted := cfg.Redacted()
	if r.output == OutputJSON {
		return writeJSON(r.out, redacted)
	}

	source := cfg.Path()
	if source == "" {
		source = "defaults (no config file found)"
	}
	fmt.Fprintf(r.out, "# source: %s\n", source)

	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	if err := enc.Encode(redacted); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

// ValidateConfig checks the configuration and reports each problem.
func (r *Runner) ValidateConfig(cfg *config.Config) error {
	err := cfg.Validate()

	if r.output == OutputJSON {
		out := struct {
			Valid   bool     `json:"valid"`
			Backend ocr.Kind `json:"backend"`
			Errors  []string `json:"errors,omitempty"`
		}{Valid: err == nil, Backend: cfg.Backend}
		if err != nil {
			out.Errors = strings.Split(err.Error(), "\n")
		}
		if encErr := writeJSON(r.out, out); encErr != nil {
			return encErr
		}
		return err
	}

	if err != nil {
		red := color.New(color.FgRed).SprintFunc()
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Fprintf(r.out, "%s %s\n", red("✗"), line)
		}
		return fmt.Errorf("configuration is invalid")
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "%s configuration is valid (backend: %s)\n", green("✓"), cfg.Backend)
	return nil
}

// --- helpers ---

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func orDash[T int | float64](v T, format func(T) string) string {
	if v <= 0 {
		return "-"
	}
	return format(v)
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%gMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%gKB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%dB", n)
}

func formatList(formats []ocr.ImageFormat) string {
	if len(formats) == 0 {
		return "any"
	}
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return strings.Join(names, ",")
}
