package ocr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"
)

// ErrorKind classifies OCR failures independently of the backend that produced them
type ErrorKind int

const (
	UnknownError ErrorKind = iota
	AuthError
	QuotaExceeded
	InvalidImage
	TransientError
)

func (k ErrorKind) String() string {
	switch k {
	case AuthError:
		return "AuthError"
	case QuotaExceeded:
		return "QuotaExceeded"
	case InvalidImage:
		return "InvalidImage"
	case TransientError:
		return "TransientError"
	default:
		return "UnknownError"
	}
}

// MarshalText renders the kind by name in JSON output
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Describe returns a message safe to show to end users for the kind
func Describe(k ErrorKind) string {
	switch k {
	case AuthError:
		return "the OCR service rejected the credentials, check the API keys in your configuration"
	case QuotaExceeded:
		return "the OCR service quota or rate limit was exceeded, try again later"
	case InvalidImage:
		return "the OCR service could not read the image (format, size or content)"
	case TransientError:
		return "the OCR service is temporarily unavailable"
	default:
		return "the OCR service returned an unexpected error"
	}
}

// Error is the normalised failure every backend returns
type Error struct {
	Kind    ErrorKind
	Backend Kind
	// Code is the vendor error code, if any
	Code    string
	Message string
	// RetryAfter is the cooldown signalled by the backend, zero when none was given
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Backend != "" {
		msg = fmt.Sprintf("%s: %s", e.Backend, e.Kind)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" (code %s)", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed. Quota errors only
// qualify when the backend signalled a cooldown.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case TransientError:
		return true
	case QuotaExceeded:
		return e.RetryAfter > 0
	default:
		return false
	}
}

// NewError builds an *Error
func NewError(kind ErrorKind, backend Kind, code, message string) *Error {
	return &Error{Kind: kind, Backend: backend, Code: code, Message: message}
}

// KindOf extracts the ErrorKind of err, UnknownError when err is not an *Error
func KindOf(err error) ErrorKind {
	var ocrErr *Error
	if errors.As(err, &ocrErr) {
		return ocrErr.Kind
	}
	return UnknownError
}

// IsRetryable reports whether err is an *Error worth retrying
func IsRetryable(err error) bool {
	var ocrErr *Error
	if errors.As(err, &ocrErr) {
		return ocrErr.Retryable()
	}
	return false
}

// DefaultRateLimitCooldown is used when a backend rate limits without saying for how long
const DefaultRateLimitCooldown = time.Second

// FromTransport classifies a failure to complete an HTTP round trip
func FromTransport(ctx context.Context, backend Kind, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("request canceled: %w", ctx.Err())
	}
	return &Error{Kind: TransientError, Backend: backend, Message: "request failed", Err: err}
}

// FromHTTPStatus classifies a non-2xx HTTP response that carried no vendor error code
func FromHTTPStatus(backend Kind, status int, header http.Header, body string) *Error {
	e := &Error{Backend: backend, Code: strconv.Itoa(status), Message: truncate(body, 200)}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = AuthError
	case status == http.StatusTooManyRequests:
		e.Kind = QuotaExceeded
		e.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
		if e.RetryAfter == 0 {
			e.RetryAfter = DefaultRateLimitCooldown
		}
	case status == http.StatusRequestEntityTooLarge || status == http.StatusUnsupportedMediaType:
		e.Kind = InvalidImage
	case status == http.StatusRequestTimeout || status >= 500:
		e.Kind = TransientError
	default:
		e.Kind = UnknownError
	}
	return e
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
