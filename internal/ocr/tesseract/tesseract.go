//go:build tesseract

// Package tesseract runs OCR locally through libtesseract. It needs cgo and
// the tesseract development headers, so it is only built with -tags tesseract.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"github.com/shuncox/rednote-pic2md/internal/registry"
	"github.com/sirupsen/logrus"
)

// DefaultLanguages covers RedNote posts, which mix simplified Chinese and English
var DefaultLanguages = []string{"chi_sim", "eng"}

var limits = ocr.Limits{
	MaxDimension: 4096,
	Formats:      []ocr.ImageFormat{ocr.FormatJPEG, ocr.FormatPNG, ocr.FormatBMP, ocr.FormatGIF, ocr.FormatWEBP},
}

func init() {
	registry.Register(registry.Backend{
		Kind:             ocr.KindTesseract,
		DisplayName:      "Tesseract (local)",
		Limits:           limits,
		CredentialFields: []string{"languages"},
		New:              New,
	})
}

// Engine recognises text with a fresh gosseract client per page
type Engine struct {
	languages     []string
	logger        *logrus.Logger
	clientFactory func() *gosseract.Client
}

// New creates a Tesseract engine. Credentials are optional.
func New(creds ocr.Credentials, opts ocr.Options) (ocr.Engine, error) {
	e := &Engine{
		languages:     DefaultLanguages,
		logger:        opts.Logger,
		clientFactory: gosseract.NewClient,
	}
	if creds.Tesseract != nil && len(creds.Tesseract.Languages) > 0 {
		e.languages = creds.Tesseract.Languages
	}
	if e.logger == nil {
		e.logger = logrus.StandardLogger()
	}
	return e, nil
}

func (e *Engine) Name() string       { return "Tesseract" }
func (e *Engine) Kind() ocr.Kind     { return ocr.KindTesseract }
func (e *Engine) Limits() ocr.Limits { return limits }

// Recognize runs tesseract on the image bytes
func (e *Engine) Recognize(ctx context.Context, image []byte, format ocr.ImageFormat) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("request canceled: %w", err)
	}

	c := e.clientFactory()
	defer func() {
		if err := c.Close(); err != nil {
			e.logger.WithError(err).Debug("Failed to close tesseract client")
		}
	}()

	if err := c.SetLanguage(e.languages...); err != nil {
		return "", &ocr.Error{Kind: ocr.AuthError, Backend: ocr.KindTesseract, Message: "language data unavailable", Err: err}
	}
	if err := c.SetImageFromBytes(image); err != nil {
		return "", &ocr.Error{Kind: ocr.InvalidImage, Backend: ocr.KindTesseract, Message: "set image", Err: err}
	}

	text, err := c.Text()
	if err != nil {
		return "", &ocr.Error{Kind: ocr.UnknownError, Backend: ocr.KindTesseract, Message: "recognize text", Err: err}
	}

	e.logger.WithFields(logrus.Fields{
		"languages": strings.Join(e.languages, "+"),
		"format":    format,
	}).Debug("Tesseract recognised page")

	return strings.TrimSpace(text), nil
}
