package aliyun

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_KnownVector(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Accept", "application/json")
	h.Set("x-acs-action", action)
	h.Set("x-acs-version", version)
	h.Set("x-acs-date", "2023-11-14T22:13:20Z")
	h.Set("x-acs-signature-nonce", "nonce-1")
	h.Set("x-acs-content-sha256", sha256Hex([]byte("hi")))

	s := signer{accessKeyID: "LTAItest", accessKeySecret: "secret"}
	auth := s.authorization(http.MethodPost, h, "ocr-api.cn-shanghai.aliyuncs.com")

	assert.Equal(t,
		"ACS3-HMAC-SHA256 Credential=LTAItest,"+
			"SignedHeaders=content-type;host;x-acs-action;x-acs-content-sha256;x-acs-date;x-acs-signature-nonce;x-acs-version,"+
			"Signature=b23017a5f274bf5c810b99131585948ac7368ac9bb8fafb25b7578c414eaa5de",
		auth)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	engine, err := New(ocr.Credentials{
		Kind:   ocr.KindAliyun,
		Aliyun: &ocr.AliyunCredentials{AccessKeyID: "LTAItest", AccessKeySecret: "secret"},
	}, ocr.Options{Logger: logger, Endpoint: srv.URL})
	require.NoError(t, err)

	c := engine.(*Client)
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	c.nonce = func() string { return "nonce-1" }
	return c
}

func reply(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestRecognize_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		assert.Equal(t, action, r.Header.Get("x-acs-action"))
		assert.Equal(t, "2023-11-14T22:13:20Z", r.Header.Get("x-acs-date"))
		assert.Equal(t, "nonce-1", r.Header.Get("x-acs-signature-nonce"))
		assert.Contains(t, r.Header.Get("Authorization"), "Credential=LTAItest,")

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, "hi", string(body))

		reply(w, http.StatusOK, `{"RequestId":"r1","Data":"{\"content\":\"Day three 第三天\",\"prism_wordsInfo\":[{\"word\":\"Day three\"},{\"word\":\"第三天\"}]}"}`)
	})

	text, err := c.Recognize(context.Background(), []byte("hi"), ocr.FormatJPEG)
	require.NoError(t, err)
	assert.Equal(t, "Day three\n第三天", text)
}

func TestRecognize_FallsBackToContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, `{"RequestId":"r1","Data":"{\"content\":\" only content \"}"}`)
	})

	text, err := c.Recognize(context.Background(), []byte("hi"), ocr.FormatPNG)
	require.NoError(t, err)
	assert.Equal(t, "only content", text)
}

func TestRecognize_ErrorCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
		kind   ocr.ErrorKind
	}{
		{name: "bad key", status: http.StatusBadRequest, code: "InvalidAccessKeyId.NotFound", kind: ocr.AuthError},
		{name: "bad signature", status: http.StatusBadRequest, code: "SignatureDoesNotMatch", kind: ocr.AuthError},
		{name: "throttled", status: http.StatusBadRequest, code: "Throttling.User", kind: ocr.QuotaExceeded},
		{name: "quota", status: http.StatusBadRequest, code: "QuotaExhausted", kind: ocr.QuotaExceeded},
		{name: "image", status: http.StatusBadRequest, code: "illegalImageSize", kind: ocr.InvalidImage},
		{name: "internal", status: http.StatusInternalServerError, code: "InternalError", kind: ocr.TransientError},
		{name: "unknown", status: http.StatusBadRequest, code: "Something", kind: ocr.UnknownError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				reply(w, tt.status, `{"RequestId":"r","Code":"`+tt.code+`","Message":"boom"}`)
			})

			_, err := c.Recognize(context.Background(), []byte("hi"), ocr.FormatPNG)
			require.Error(t, err)
			assert.Equal(t, tt.kind, ocr.KindOf(err))
		})
	}
}

func TestRecognize_ThrottlingIsRetryable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusBadRequest, `{"RequestId":"r","Code":"Throttling.User","Message":"slow"}`)
	})

	_, err := c.Recognize(context.Background(), []byte("hi"), ocr.FormatPNG)
	assert.True(t, ocr.IsRetryable(err))
}

func TestRecognize_NonJSONErrorUsesStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "upstream down")
	})

	_, err := c.Recognize(context.Background(), []byte("hi"), ocr.FormatPNG)
	require.Error(t, err)
	assert.Equal(t, ocr.TransientError, ocr.KindOf(err))
}

func TestNew_DefaultsAndValidation(t *testing.T) {
	_, err := New(ocr.Credentials{Kind: ocr.KindAliyun}, ocr.Options{})
	assert.Error(t, err)

	engine, err := New(ocr.Credentials{
		Kind:   ocr.KindAliyun,
		Aliyun: &ocr.AliyunCredentials{AccessKeyID: "id", AccessKeySecret: "secret"},
	}, ocr.Options{})
	require.NoError(t, err)

	c := engine.(*Client)
	assert.Equal(t, DefaultRegion, c.region)
	assert.Equal(t, "https://ocr-api.cn-shanghai.aliyuncs.com", c.endpoint)
}
