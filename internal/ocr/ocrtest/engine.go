// Package ocrtest provides a scripted ocr.Engine for tests.
package ocrtest

import (
	"context"
	"sync"

	"github.com/shuncox/rednote-pic2md/internal/ocr"
)

// Response is one scripted outcome of a Recognize call
type Response struct {
	Text string
	Err  error
}

// Engine answers Recognize calls from a script keyed by image content.
// Once a script is exhausted its last response repeats; images with no
// script echo their own bytes as text.
type Engine struct {
	EngineKind ocr.Kind
	EngineLims ocr.Limits

	mu      sync.Mutex
	scripts map[string][]Response
	calls   map[string]int
	total   int
	formats []ocr.ImageFormat
}

// New creates an empty scripted engine
func New() *Engine {
	return &Engine{
		EngineKind: "fake",
		scripts:    make(map[string][]Response),
		calls:      make(map[string]int),
	}
}

// Script sets the responses returned, in order, for image
func (e *Engine) Script(image string, responses ...Response) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scripts[image] = responses
	return e
}

func (e *Engine) Name() string       { return "Fake OCR" }
func (e *Engine) Kind() ocr.Kind     { return e.EngineKind }
func (e *Engine) Limits() ocr.Limits { return e.EngineLims }

func (e *Engine) Recognize(ctx context.Context, image []byte, format ocr.ImageFormat) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := string(image)
	n := e.calls[key]
	e.calls[key] = n + 1
	e.total++
	e.formats = append(e.formats, format)

	script, ok := e.scripts[key]
	if !ok || len(script) == 0 {
		return key, nil
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	r := script[n]
	return r.Text, r.Err
}

// Calls returns how many times image was submitted
func (e *Engine) Calls(image string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[image]
}

// TotalCalls returns the number of Recognize calls across all images
func (e *Engine) TotalCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

// Formats returns the formats passed to Recognize, in call order
func (e *Engine) Formats() []ocr.ImageFormat {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ocr.ImageFormat(nil), e.formats...)
}
