package ocr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces requests to one backend at its QPS limit and holds them back
// while a backend-signalled cooldown is in effect
type Pacer struct {
	limiter *rate.Limiter

	mu    sync.Mutex
	until time.Time
}

// NewPacer creates a Pacer allowing qps requests per second with a burst of 1.
// A non-positive qps disables rate limiting.
func NewPacer(qps float64) *Pacer {
	limit := rate.Limit(qps)
	if qps <= 0 || math.IsInf(qps, 1) {
		limit = rate.Inf
	}
	return &Pacer{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until a request may be sent or ctx is done
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	delay := time.Until(p.until)
	p.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("pacing canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing canceled: %w", err)
	}
	return nil
}

// Cooldown suspends requests for d, extending any cooldown already in effect
func (p *Pacer) Cooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if until := time.Now().Add(d); until.After(p.until) {
		p.until = until
	}
}

// Remaining returns how long the current cooldown has left, zero when none is in effect
func (p *Pacer) Remaining() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return max(time.Until(p.until), 0)
}

// Limit returns the configured requests per second
func (p *Pacer) Limit() float64 {
	return float64(p.limiter.Limit())
}

// pacedEngine owns the pacing state of the engine it wraps
type pacedEngine struct {
	Engine
	pacer *Pacer
}

// WithPacing wraps e so every Recognize call waits on a Pacer running at qps.
// Cooldowns reported through *Error.RetryAfter are applied to the pacer, capped
// at DefaultMaxCooldown.
func WithPacing(e Engine, qps float64) Engine {
	return &pacedEngine{Engine: e, pacer: NewPacer(qps)}
}

func (p *pacedEngine) Recognize(ctx context.Context, image []byte, format ImageFormat) (string, error) {
	if err := p.pacer.Wait(ctx); err != nil {
		return "", err
	}

	text, err := p.Engine.Recognize(ctx, image, format)

	var ocrErr *Error
	if errors.As(err, &ocrErr) && ocrErr.RetryAfter > 0 {
		p.pacer.Cooldown(min(ocrErr.RetryAfter, DefaultMaxCooldown))
	}
	return text, err
}

// PacerOf returns the pacing state of an engine wrapped by WithPacing
func PacerOf(e Engine) (*Pacer, bool) {
	p, ok := e.(*pacedEngine)
	if !ok {
		return nil, false
	}
	return p.pacer, true
}
