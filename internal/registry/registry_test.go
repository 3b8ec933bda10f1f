package registry

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"github.com/shuncox/rednote-pic2md/internal/ocr/ocrtest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeKind ocr.Kind = "fake-registry"

func init() {
	Register(Backend{
		Kind:        fakeKind,
		DisplayName: "Fake",
		Limits:      ocr.Limits{QPS: 3},
		New: func(creds ocr.Credentials, opts ocr.Options) (ocr.Engine, error) {
			if creds.Vision == nil {
				return nil, errors.New("missing credentials")
			}
			return ocrtest.New(), nil
		},
	})
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestNew_WrapsWithPacer(t *testing.T) {
	t.Setenv("PIC2MD_DISABLED_BACKENDS", "")
	Init(testLogger())

	engine, err := New(ocr.Credentials{Kind: fakeKind, Vision: &ocr.VisionCredentials{}}, ocr.Options{})
	require.NoError(t, err)

	pacer, ok := ocr.PacerOf(engine)
	require.True(t, ok)
	assert.Equal(t, 3.0, pacer.Limit())

	text, err := engine.Recognize(context.Background(), []byte("hi"), ocr.FormatPNG)
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
}

func TestNew_QPSOverride(t *testing.T) {
	t.Setenv("PIC2MD_DISABLED_BACKENDS", "")
	Init(testLogger())

	engine, err := New(ocr.Credentials{Kind: fakeKind, Vision: &ocr.VisionCredentials{}}, ocr.Options{QPS: 0.5})
	require.NoError(t, err)
	pacer, _ := ocr.PacerOf(engine)
	assert.Equal(t, 0.5, pacer.Limit())
}

func TestNew_FactoryError(t *testing.T) {
	t.Setenv("PIC2MD_DISABLED_BACKENDS", "")
	Init(testLogger())

	_, err := New(ocr.Credentials{Kind: fakeKind}, ocr.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing credentials")
}

func TestDisabledBackends(t *testing.T) {
	t.Setenv("PIC2MD_DISABLED_BACKENDS", " FAKE-REGISTRY , other")
	Init(testLogger())
	defer func() {
		t.Setenv("PIC2MD_DISABLED_BACKENDS", "")
		Init(testLogger())
	}()

	_, ok := Get(fakeKind)
	assert.False(t, ok)
	assert.NotContains(t, Kinds(), string(fakeKind))

	_, err := New(ocr.Credentials{Kind: fakeKind, Vision: &ocr.VisionCredentials{}}, ocr.Options{})
	assert.Error(t, err)
}

func TestRegister_DuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		Register(Backend{Kind: fakeKind})
	})
}
