//go:build tesseract

package tesseract

import (
	"context"
	"testing"

	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Languages(t *testing.T) {
	engine, err := New(ocr.Credentials{}, ocr.Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultLanguages, engine.(*Engine).languages)

	engine, err = New(ocr.Credentials{Tesseract: &ocr.TesseractOptions{Languages: []string{"eng"}}}, ocr.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"eng"}, engine.(*Engine).languages)
}

func TestRecognize_CanceledContext(t *testing.T) {
	engine, err := New(ocr.Credentials{}, ocr.Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = engine.Recognize(ctx, []byte("not an image"), ocr.FormatPNG)
	assert.ErrorIs(t, err, context.Canceled)
}
