package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 8 * time.Second

	// DefaultMaxCooldown is the longest backend cooldown worth waiting out.
	// A failure asking for more is returned instead of retried.
	DefaultMaxCooldown = time.Minute
)

// Retrier retries retryable OCR failures with exponential backoff
type Retrier struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxCooldown time.Duration
	Logger      *logrus.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier returns a Retrier with the default policy
func NewRetrier(logger *logrus.Logger) *Retrier {
	return &Retrier{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		MaxCooldown: DefaultMaxCooldown,
		Logger:      logger,
	}
}

// Recognize calls e.Recognize until it succeeds, fails with a non-retryable
// error or runs out of attempts. The number of attempts made is always returned.
func (r *Retrier) Recognize(ctx context.Context, e Engine, image []byte, format ImageFormat) (string, int, error) {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return "", attempt - 1, fmt.Errorf("recognition canceled: %w", ctx.Err())
		}

		text, err := e.Recognize(ctx, image, format)
		if err == nil {
			return text, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsRetryable(err) || attempt == maxAttempts {
			return "", attempt, err
		}

		delay, ok := r.backoff(attempt, err)
		if !ok {
			if r.Logger != nil {
				r.Logger.WithFields(logrus.Fields{
					"backend":  e.Kind(),
					"attempt":  attempt,
					"cooldown": delay,
				}).Warn("Backend cooldown too long, not retrying")
			}
			return "", attempt, err
		}
		if r.Logger != nil {
			r.Logger.WithFields(logrus.Fields{
				"backend": e.Kind(),
				"attempt": attempt,
				"delay":   delay,
				"kind":    KindOf(err).String(),
			}).WithError(err).Warn("OCR request failed, retrying")
		}

		if err := r.wait(ctx, delay); err != nil {
			return "", attempt, err
		}
	}

	return "", maxAttempts, lastErr
}

// backoff returns base*2^(attempt-1) capped at MaxDelay, or the backend's cooldown if longer.
// ok is false when the cooldown exceeds MaxCooldown.
func (r *Retrier) backoff(attempt int, err error) (delay time.Duration, ok bool) {
	base := r.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	delay = base << (attempt - 1)
	if r.MaxDelay > 0 && (delay > r.MaxDelay || delay <= 0) {
		delay = r.MaxDelay
	}

	var ocrErr *Error
	if errors.As(err, &ocrErr) && ocrErr.RetryAfter > delay {
		maxCooldown := r.MaxCooldown
		if maxCooldown <= 0 {
			maxCooldown = DefaultMaxCooldown
		}
		if ocrErr.RetryAfter > maxCooldown {
			return ocrErr.RetryAfter, false
		}
		delay = ocrErr.RetryAfter
	}
	return delay, true
}

func (r *Retrier) wait(ctx context.Context, d time.Duration) error {
	if r.sleep != nil {
		return r.sleep(ctx, d)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("recognition canceled during retry: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}
