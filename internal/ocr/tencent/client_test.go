package tencent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_KnownVector(t *testing.T) {
	s := signer{secretID: "AKIDtest", secretKey: "secret"}
	auth := s.authorization("ocr.tencentcloudapi.com", contentType, []byte(`{"ImageBase64":"aGk="}`), time.Unix(1700000000, 0))

	assert.Equal(t,
		"TC3-HMAC-SHA256 Credential=AKIDtest/2023-11-14/ocr/tc3_request, SignedHeaders=content-type;host, "+
			"Signature=74de2ad52a866fb910c674d91c8445285fdff79a45ee94e7cb8983b03c6c249e",
		auth)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	engine, err := New(ocr.Credentials{
		Kind:    ocr.KindTencent,
		Tencent: &ocr.TencentCredentials{SecretID: "AKIDtest", SecretKey: "secret"},
	}, ocr.Options{Logger: logger, Endpoint: srv.URL})
	require.NoError(t, err)
	return engine.(*Client)
}

func reply(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func TestRecognize_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, action, r.Header.Get("X-TC-Action"))
		assert.Equal(t, version, r.Header.Get("X-TC-Version"))
		assert.Equal(t, DefaultRegion, r.Header.Get("X-TC-Region"))
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "TC3-HMAC-SHA256 Credential=AKIDtest/"))

		var req ocrRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "aGk=", req.ImageBase64)

		reply(w, `{"Response":{"TextDetections":[{"DetectedText":"Day two"},{"DetectedText":"第二天"}],"RequestId":"r1"}}`)
	})

	text, err := c.Recognize(context.Background(), []byte("hi"), ocr.FormatPNG)
	require.NoError(t, err)
	assert.Equal(t, "Day two\n第二天", text)
}

func TestRecognize_NoTextIsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"Response":{"Error":{"Code":"FailedOperation.ImageNoText","Message":"no text"},"RequestId":"r2"}}`)
	})

	text, err := c.Recognize(context.Background(), []byte("hi"), ocr.FormatWEBP)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestRecognize_ErrorCodes(t *testing.T) {
	tests := []struct {
		code string
		kind ocr.ErrorKind
	}{
		{code: "AuthFailure.SecretIdNotFound", kind: ocr.AuthError},
		{code: "RequestLimitExceeded", kind: ocr.QuotaExceeded},
		{code: "ResourceUnavailable.InArrears", kind: ocr.QuotaExceeded},
		{code: "FailedOperation.ImageDecodeFailed", kind: ocr.InvalidImage},
		{code: "LimitExceeded.TooLargeFileError", kind: ocr.InvalidImage},
		{code: "InternalError", kind: ocr.TransientError},
		{code: "FailedOperation.UnKnowError", kind: ocr.TransientError},
		{code: "Something.New", kind: ocr.UnknownError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				reply(w, `{"Response":{"Error":{"Code":"`+tt.code+`","Message":"boom"},"RequestId":"r"}}`)
			})

			_, err := c.Recognize(context.Background(), []byte("hi"), ocr.FormatPNG)
			require.Error(t, err)
			assert.Equal(t, tt.kind, ocr.KindOf(err))
		})
	}
}

func TestRecognize_RateLimitSignalsCooldown(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"Response":{"Error":{"Code":"RequestLimitExceeded","Message":"slow"},"RequestId":"r"}}`)
	})

	_, err := c.Recognize(context.Background(), []byte("hi"), ocr.FormatPNG)
	assert.True(t, ocr.IsRetryable(err))
}

func TestNew_DefaultsAndValidation(t *testing.T) {
	_, err := New(ocr.Credentials{Kind: ocr.KindTencent}, ocr.Options{})
	assert.Error(t, err)

	engine, err := New(ocr.Credentials{
		Kind:    ocr.KindTencent,
		Tencent: &ocr.TencentCredentials{SecretID: "id", SecretKey: "key", Region: "ap-guangzhou"},
	}, ocr.Options{})
	require.NoError(t, err)

	c := engine.(*Client)
	assert.Equal(t, "ap-guangzhou", c.region)
	assert.Equal(t, Endpoint, c.endpoint)
	assert.Equal(t, ocr.KindTencent, c.Kind())
}
