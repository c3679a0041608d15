package gateway

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxConcurrent bounds in-flight provider calls
	DefaultMaxConcurrent = 20
	// DefaultMinSpacing is the minimum gap between call starts
	DefaultMinSpacing = 33 * time.Millisecond
)

// LimiterConfig holds rate limiter configuration
type LimiterConfig struct {
	MaxConcurrent int
	MinSpacing    time.Duration
}

// Limiter bounds concurrency with a slot channel and spaces call starts
// with a single-token bucket.
type Limiter struct {
	slots   chan struct{}
	spacing *rate.Limiter
}

// NewLimiter creates a limiter, falling back to defaults for zero values
func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MinSpacing <= 0 {
		cfg.MinSpacing = DefaultMinSpacing
	}
	return &Limiter{
		slots:   make(chan struct{}, cfg.MaxConcurrent),
		spacing: rate.NewLimiter(rate.Every(cfg.MinSpacing), 1),
	}
}

// Acquire blocks until a slot is free and the spacing allows a new start.
// The returned release function must be called exactly once.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := l.spacing.Wait(ctx); err != nil {
		<-l.slots
		return nil, err
	}

	released := false
	return func() {
		if !released {
			released = true
			<-l.slots
		}
	}, nil
}

// InFlight returns the number of held slots
func (l *Limiter) InFlight() int {
	return len(l.slots)
}
