// Package gateway protects every call to the external AI provider with a
// content cache, a rate limiter, a circuit breaker and bounded retries.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/cuongbtq/media-pipeline/internal/cache"
	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/metrics"
)

// Operation names used for provider calls
const (
	OpGenerate   = "generate"
	OpUpload     = "upload"
	OpPollStatus = "poll-status"
	OpDeleteFile = "delete-file"
)

const (
	DefaultTimeout     = 90 * time.Second
	DefaultLongTimeout = 180 * time.Second
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 5 * time.Second
)

// Config holds gateway configuration
type Config struct {
	Breaker        BreakerConfig
	Limiter        LimiterConfig
	DefaultTimeout time.Duration
	LongTimeout    time.Duration
	MaxAttempts    int
	BaseDelay      time.Duration
}

// Gateway is the single owned instance that every provider call site shares
type Gateway struct {
	breaker *Breaker
	limiter *Limiter
	cache   *cache.Cache
	group   singleflight.Group
	cfg     Config
	logger  *slog.Logger
	tracer  trace.Tracer
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a gateway. cache may be nil to disable response caching.
func New(cfg Config, c *cache.Cache, logger *slog.Logger) *Gateway {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.LongTimeout <= 0 {
		cfg.LongTimeout = DefaultLongTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}

	return &Gateway{
		breaker: NewBreaker(cfg.Breaker),
		limiter: NewLimiter(cfg.Limiter),
		cache:   c,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("github.com/cuongbtq/media-pipeline/internal/gateway"),
		sleep:   sleepContext,
	}
}

// Breaker exposes the shared circuit breaker
func (g *Gateway) Breaker() *Breaker {
	return g.breaker
}

// DefaultTimeout is the per-call timeout for ordinary operations
func (g *Gateway) DefaultTimeout() time.Duration {
	return g.cfg.DefaultTimeout
}

// LongTimeout is the per-call timeout for uploads and long analyses
func (g *Gateway) LongTimeout() time.Duration {
	return g.cfg.LongTimeout
}

// Backoff returns the wait before retrying after the given attempt (1-based)
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(uint(1)<<uint(attempt-1))
}

// Budget is the longest a call with the given per-attempt timeout can take
// through Execute: every attempt timing out plus the backoff between them.
func Budget(maxAttempts int, base, timeout time.Duration) time.Duration {
	total := time.Duration(maxAttempts) * timeout
	for attempt := 1; attempt < maxAttempts; attempt++ {
		total += Backoff(base, attempt)
	}
	return total
}

// Budget is the worst-case duration of one Execute with this gateway's
// retry settings. A zero timeout uses the gateway default.
func (g *Gateway) Budget(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = g.cfg.DefaultTimeout
	}
	return Budget(g.cfg.MaxAttempts, g.cfg.BaseDelay, timeout)
}

// Execute runs fn through the breaker, limiter and timeout, retrying
// transient failures with exponential backoff. A zero timeout uses the
// gateway default.
func Execute[T any](ctx context.Context, g *Gateway, op string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		timeout = g.cfg.DefaultTimeout
	}

	for attempt := 1; ; attempt++ {
		v, err := attemptOnce(ctx, g, op, attempt, timeout, fn)
		if err == nil {
			if attempt > 1 {
				g.logger.Info("Provider call succeeded after retry",
					slog.String("operation", op),
					slog.Int("attempt", attempt),
				)
			}
			return v, nil
		}

		if !domain.IsTransient(err) {
			return zero, err
		}

		if attempt >= g.cfg.MaxAttempts {
			g.logger.Error("Provider call failed after all retries",
				slog.String("operation", op),
				slog.Int("attempts", attempt),
				slog.Any("error", err),
			)
			return zero, err
		}

		delay := Backoff(g.cfg.BaseDelay, attempt)
		g.logger.Warn("Provider call failed, retrying...",
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", g.cfg.MaxAttempts),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)

		if err := g.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s canceled during backoff: %w", op, err)
		}
	}
}

// GenerateCached serves identical requests from the cache and coalesces
// concurrent identical requests into a single provider call.
func (g *Gateway) GenerateCached(ctx context.Context, key string, timeout time.Duration, fn func(context.Context) (string, error)) (string, error) {
	if g.cache != nil {
		if text, ok := g.cache.Get(key); ok {
			g.logger.Debug("Serving response from cache", slog.String("cache_key", shortKey(key)))
			return text, nil
		}
	}

	v, err, shared := g.group.Do(key, func() (any, error) {
		if g.cache != nil {
			if text, ok := g.cache.Get(key); ok {
				return text, nil
			}
		}

		text, err := Execute(ctx, g, OpGenerate, timeout, fn)
		if err != nil {
			return "", err
		}

		if g.cache != nil && text != "" {
			if !g.cache.Set(key, text) {
				g.logger.Debug("Content cache full, response not cached",
					slog.String("cache_key", shortKey(key)),
				)
			}
		}
		return text, nil
	})
	if err != nil {
		return "", err
	}

	if shared {
		g.logger.Debug("Coalesced identical generate request", slog.String("cache_key", shortKey(key)))
	}
	return v.(string), nil
}

type outcome[T any] struct {
	value T
	err   error
}

func attemptOnce[T any](ctx context.Context, g *Gateway, op string, attempt int, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if err := g.breaker.Allow(); err != nil {
		metrics.GatewayCalls.WithLabelValues(op, "unavailable").Inc()
		g.logger.Warn("Circuit open, failing fast", slog.String("operation", op))
		return zero, err
	}

	release, err := g.limiter.Acquire(ctx)
	if err != nil {
		g.breaker.Release()
		return zero, fmt.Errorf("failed to acquire rate limiter slot: %w", err)
	}
	defer release()

	ctx, span := g.tracer.Start(ctx, "gateway."+op,
		trace.WithAttributes(
			attribute.String("gateway.operation", op),
			attribute.Int("gateway.attempt", attempt),
		),
	)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{err: fmt.Errorf("provider call %s panicked: %v", op, r)}
			}
		}()
		v, err := fn(callCtx)
		done <- outcome[T]{value: v, err: err}
	}()

	var res outcome[T]
	select {
	case res = <-done:
	case <-callCtx.Done():
		if ctx.Err() != nil {
			// caller gave up; this says nothing about provider health
			g.breaker.Release()
			span.SetStatus(codes.Error, "canceled")
			return zero, ctx.Err()
		}
		// the late result, if any, lands in the buffered channel and is dropped
		res = outcome[T]{err: domain.NewTransientError(op, fmt.Errorf("timed out after %s", timeout))}
	}

	metrics.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if res.err == nil {
		g.breaker.Success()
		metrics.GatewayCalls.WithLabelValues(op, "success").Inc()
		return res.value, nil
	}

	span.RecordError(res.err)
	span.SetStatus(codes.Error, res.err.Error())

	if ctx.Err() != nil && errors.Is(res.err, ctx.Err()) {
		g.breaker.Release()
		return zero, res.err
	}

	switch {
	case errors.Is(res.err, domain.ErrContentBlocked), errors.Is(res.err, domain.ErrValidation):
		g.breaker.Release()
		metrics.GatewayCalls.WithLabelValues(op, "blocked").Inc()
		return zero, res.err
	case domain.IsTransient(res.err):
		metrics.GatewayCalls.WithLabelValues(op, "transient").Inc()
	case errors.Is(res.err, context.DeadlineExceeded):
		res.err = domain.NewTransientError(op, res.err)
		metrics.GatewayCalls.WithLabelValues(op, "transient").Inc()
	default:
		metrics.GatewayCalls.WithLabelValues(op, "error").Inc()
	}

	g.breaker.Failure()
	snap := g.breaker.Snapshot()
	if snap.State == StateOpen {
		g.logger.Error("Circuit breaker open",
			slog.String("operation", op),
			slog.Int("failure_count", snap.FailureCount),
		)
	}

	return zero, res.err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func shortKey(key string) string {
	if len(key) > 16 {
		return key[:16]
	}
	return key
}
