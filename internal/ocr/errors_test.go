package ocr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHTTPStatus(t *testing.T) {
	tests := []struct {
		status     int
		retryAfter string
		kind       ErrorKind
		cooldown   time.Duration
	}{
		{status: http.StatusUnauthorized, kind: AuthError},
		{status: http.StatusForbidden, kind: AuthError},
		{status: http.StatusTooManyRequests, kind: QuotaExceeded, cooldown: DefaultRateLimitCooldown},
		{status: http.StatusTooManyRequests, retryAfter: "7", kind: QuotaExceeded, cooldown: 7 * time.Second},
		{status: http.StatusRequestEntityTooLarge, kind: InvalidImage},
		{status: http.StatusBadGateway, kind: TransientError},
		{status: http.StatusRequestTimeout, kind: TransientError},
		{status: http.StatusTeapot, kind: UnknownError},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", tt.status, tt.retryAfter), func(t *testing.T) {
			header := http.Header{}
			if tt.retryAfter != "" {
				header.Set("Retry-After", tt.retryAfter)
			}
			err := FromHTTPStatus(KindVision, tt.status, header, "body")
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.cooldown, err.RetryAfter)
			assert.Equal(t, KindVision, err.Backend)
		})
	}
}

func TestFromHTTPStatus_TruncatesOnRuneBoundary(t *testing.T) {
	// 3-byte runes: byte 200 falls inside the 67th character
	body := strings.Repeat("图片格式错误", 20)
	err := FromHTTPStatus("fake", http.StatusBadGateway, nil, body)

	assert.True(t, utf8.ValidString(err.Message))
	assert.True(t, strings.HasSuffix(err.Message, "..."))
	assert.LessOrEqual(t, len(err.Message), 200+len("..."))
	assert.True(t, strings.HasPrefix(body, strings.TrimSuffix(err.Message, "...")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.Equal(t, "...", truncate("图", 2))
	assert.Equal(t, "图...", truncate("图片", 4))
}

func TestFromTransport(t *testing.T) {
	err := FromTransport(context.Background(), KindBaidu, errors.New("connection reset"))
	assert.Equal(t, TransientError, KindOf(err))
	assert.True(t, IsRetryable(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = FromTransport(ctx, KindBaidu, errors.New("connection reset"))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, IsRetryable(err))
}

func TestErrorWrapping(t *testing.T) {
	inner := NewError(InvalidImage, KindTencent, "FailedOperation.ImageDecodeFailed", "decode failed")
	wrapped := fmt.Errorf("page 2: %w", inner)

	var ocrErr *Error
	require.True(t, errors.As(wrapped, &ocrErr))
	assert.Equal(t, InvalidImage, KindOf(wrapped))
	assert.Contains(t, wrapped.Error(), "FailedOperation.ImageDecodeFailed")
	assert.Equal(t, UnknownError, KindOf(errors.New("plain")))
}

func TestErrorKindText(t *testing.T) {
	text, err := QuotaExceeded.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "QuotaExceeded", string(text))
	assert.NotEmpty(t, Describe(AuthError))
}

func TestFormatFromExt(t *testing.T) {
	f, ok := FormatFromExt(".JPG")
	assert.True(t, ok)
	assert.Equal(t, FormatJPEG, f)
	assert.Equal(t, "image/jpeg", f.MIMEType())

	_, ok = FormatFromExt("tiff")
	assert.False(t, ok)

	l := Limits{Formats: []ImageFormat{FormatPNG}}
	assert.True(t, l.Accepts(FormatPNG))
	assert.False(t, l.Accepts(FormatGIF))
	assert.True(t, Limits{}.Accepts(FormatGIF))
}
