package vision

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	engine, err := New(ocr.Credentials{
		Kind:   ocr.KindVision,
		Vision: &ocr.VisionCredentials{APIKey: "sk-test", Model: "test-model"},
	}, ocr.Options{Logger: logger, Endpoint: srv.URL + "/v1/", HTTPClient: srv.Client()})
	require.NoError(t, err)
	return engine.(*Client)
}

func completion(content, finish string) string {
	return `{"id":"c1","object":"chat.completion","created":1,"model":"test-model","choices":[` +
		`{"index":0,"finish_reason":"` + finish + `","message":{"role":"assistant","content":` + quote(content) + `}}]}`
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestRecognize_SendsImagePart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `"model":"test-model"`)
		assert.Contains(t, string(body), "data:image/png;base64,aGk=")

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completion("  Day one\n第一天 \n", "stop"))
	})

	text, err := c.Recognize(context.Background(), []byte("hi"), ocr.FormatPNG)
	require.NoError(t, err)
	assert.Equal(t, "Day one\n第一天", text)
}

func TestRecognize_ContentFilter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completion("", "content_filter"))
	})

	_, err := c.Recognize(context.Background(), []byte("hi"), ocr.FormatJPEG)
	assert.Equal(t, ocr.InvalidImage, ocr.KindOf(err))
}

func TestRecognize_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		code      string
		kind      ocr.ErrorKind
		retryable bool
	}{
		{name: "unauthorised", status: http.StatusUnauthorized, code: "invalid_api_key", kind: ocr.AuthError},
		{name: "rate limited", status: http.StatusTooManyRequests, code: "rate_limit_exceeded", kind: ocr.QuotaExceeded, retryable: true},
		{name: "out of credit", status: http.StatusTooManyRequests, code: "insufficient_quota", kind: ocr.QuotaExceeded},
		{name: "server error", status: http.StatusInternalServerError, code: "server_error", kind: ocr.TransientError, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"x","code":"`+tt.code+`"}}`)
			})

			_, err := c.Recognize(context.Background(), []byte("hi"), ocr.FormatPNG)
			require.Error(t, err)
			assert.Equal(t, tt.kind, ocr.KindOf(err))
			assert.Equal(t, tt.retryable, ocr.IsRetryable(err))
		})
	}
}

func TestRecognize_RejectsBMP(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := c.Recognize(context.Background(), []byte("hi"), ocr.FormatBMP)
	assert.Equal(t, ocr.InvalidImage, ocr.KindOf(err))
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(ocr.Credentials{Kind: ocr.KindVision, Vision: &ocr.VisionCredentials{}}, ocr.Options{})
	assert.Error(t, err)

	engine, err := New(ocr.Credentials{Kind: ocr.KindVision, Vision: &ocr.VisionCredentials{APIKey: "k"}}, ocr.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Vision ("+DefaultModel+")", engine.Name())
}

func TestDataURI(t *testing.T) {
	assert.Equal(t, "data:image/webp;base64,aGk=", DataURI([]byte("hi"), ocr.FormatWEBP))
}
