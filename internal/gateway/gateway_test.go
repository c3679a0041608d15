package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/media-pipeline/internal/cache"
	"github.com/cuongbtq/media-pipeline/internal/domain"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestGateway(t *testing.T, c *cache.Cache) (*Gateway, *sleepRecorder, *time.Time) {
	t.Helper()
	g := New(Config{
		Breaker:     BreakerConfig{FailureThreshold: 5, Cooldown: time.Minute},
		Limiter:     LimiterConfig{MaxConcurrent: 20, MinSpacing: time.Microsecond},
		MaxAttempts: 5,
		BaseDelay:   5 * time.Second,
	}, c, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := &sleepRecorder{}
	g.sleep = rec.sleep

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g.breaker.now = func() time.Time { return now }
	return g, rec, &now
}

func TestBackoff(t *testing.T) {
	base := 5 * time.Second
	assert.Equal(t, 5*time.Second, Backoff(base, 1))
	assert.Equal(t, 10*time.Second, Backoff(base, 2))
	assert.Equal(t, 20*time.Second, Backoff(base, 3))
	assert.Equal(t, 40*time.Second, Backoff(base, 4))
	assert.Equal(t, 5*time.Second, Backoff(base, 0))
}

func TestBudget(t *testing.T) {
	// 5 attempts of 180s plus 5s+10s+20s+40s of backoff
	assert.Equal(t, 975*time.Second, Budget(5, 5*time.Second, 180*time.Second))
	assert.Equal(t, 90*time.Second, Budget(1, 5*time.Second, 90*time.Second))

	g := New(Config{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, 525*time.Second, g.Budget(0), "zero timeout uses the default")
	assert.Equal(t, 975*time.Second, g.Budget(g.LongTimeout()))
}

func TestExecute_Success(t *testing.T) {
	g, rec, _ := newTestGateway(t, nil)

	got, err := Execute(context.Background(), g, OpGenerate, 0, func(ctx context.Context) (string, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Empty(t, rec.delays)
	assert.Equal(t, StateClosed, g.Breaker().Snapshot().State)
}

func TestExecute_RetriesTransientWithMonotonicBackoff(t *testing.T) {
	// threshold above max attempts so the breaker never interferes
	g, rec, _ := newTestGateway(t, nil)
	g.breaker.threshold = 100

	var calls int32
	_, err := Execute(context.Background(), g, OpGenerate, 0, func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", domain.NewTransientError(OpGenerate, errors.New("503 service unavailable"))
	})

	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls), "never more than max attempts")

	require.Len(t, rec.delays, 4)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second}, rec.delays)
	for i := 1; i < len(rec.delays); i++ {
		assert.GreaterOrEqual(t, rec.delays[i], rec.delays[i-1])
	}
}

func TestExecute_RecoversAfterTransientFailure(t *testing.T) {
	g, rec, _ := newTestGateway(t, nil)

	var calls int32
	got, err := Execute(context.Background(), g, OpUpload, 0, func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return "", domain.NewTransientError(OpUpload, errors.New("unavailable"))
		}
		return "files/abc", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "files/abc", got)
	assert.Len(t, rec.delays, 2)
	assert.Equal(t, 0, g.Breaker().Snapshot().FailureCount)
}

func TestExecute_ContentBlockedIsTerminal(t *testing.T) {
	g, rec, _ := newTestGateway(t, nil)

	var calls int32
	_, err := Execute(context.Background(), g, OpGenerate, 0, func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", domain.ErrContentBlocked
	})

	assert.ErrorIs(t, err, domain.ErrContentBlocked)
	assert.Equal(t, int32(1), calls)
	assert.Empty(t, rec.delays)
	assert.Equal(t, 0, g.Breaker().Snapshot().FailureCount)
}

func TestExecute_NonTransientNotRetried(t *testing.T) {
	g, rec, _ := newTestGateway(t, nil)

	var calls int32
	_, err := Execute(context.Background(), g, OpGenerate, 0, func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", errors.New("400 bad request")
	})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls)
	assert.Empty(t, rec.delays)
	assert.Equal(t, 1, g.Breaker().Snapshot().FailureCount)
}

func TestExecute_TimeoutCountsAsTransientFailure(t *testing.T) {
	g, rec, _ := newTestGateway(t, nil)
	g.cfg.MaxAttempts = 2

	_, err := Execute(context.Background(), g, OpGenerate, 10*time.Millisecond, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		return "late", nil
	})

	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Len(t, rec.delays, 1)
	assert.Equal(t, 2, g.Breaker().Snapshot().FailureCount)
}

func TestExecute_CircuitOpenFailsFastWithoutInvoking(t *testing.T) {
	g, _, now := newTestGateway(t, nil)
	g.cfg.MaxAttempts = 1

	for i := 0; i < 5; i++ {
		_, _ = Execute(context.Background(), g, OpGenerate, 0, func(ctx context.Context) (string, error) {
			return "", domain.NewTransientError(OpGenerate, errors.New("down"))
		})
	}
	require.Equal(t, StateOpen, g.Breaker().Snapshot().State)

	invoked := false
	_, err := Execute(context.Background(), g, OpGenerate, 0, func(ctx context.Context) (string, error) {
		invoked = true
		return "ok", nil
	})
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.False(t, invoked)

	*now = now.Add(time.Minute)
	got, err := Execute(context.Background(), g, OpGenerate, 0, func(ctx context.Context) (string, error) {
		invoked = true
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.True(t, invoked)

	snap := g.Breaker().Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
}

func TestExecute_SharedBreakerAcrossOperations(t *testing.T) {
	g, _, _ := newTestGateway(t, nil)
	g.cfg.MaxAttempts = 1

	for i := 0; i < 5; i++ {
		_, _ = Execute(context.Background(), g, OpUpload, 0, func(ctx context.Context) (string, error) {
			return "", domain.NewTransientError(OpUpload, errors.New("down"))
		})
	}

	_, err := Execute(context.Background(), g, OpPollStatus, 0, func(ctx context.Context) (string, error) {
		return "ACTIVE", nil
	})
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestExecute_CanceledContext(t *testing.T) {
	g, _, _ := newTestGateway(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	_, err := Execute(ctx, g, OpGenerate, time.Minute, func(ctx context.Context) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, g.Breaker().Snapshot().FailureCount)
}

func TestExecute_LimiterBoundsConcurrency(t *testing.T) {
	g := New(Config{Limiter: LimiterConfig{MaxConcurrent: 3, MinSpacing: time.Microsecond}},
		nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Execute(context.Background(), g, OpGenerate, 0, func(ctx context.Context) (int, error) {
				cur := atomic.AddInt32(&inFlight, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return 0, nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Equal(t, 0, g.limiter.InFlight())
}

func TestGenerateCached_IdenticalRequestsCallProviderOnce(t *testing.T) {
	c := cache.New(cache.Config{TTL: time.Hour, Capacity: 10})
	g, _, _ := newTestGateway(t, c)

	key := cache.Key([]byte("jpeg bytes"), "", "describe", cache.ModelConfig{Model: "m"})
	var calls int32
	gen := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "a cat on a sofa", nil
	}

	first, err := g.GenerateCached(context.Background(), key, 0, gen)
	require.NoError(t, err)
	second, err := g.GenerateCached(context.Background(), key, 0, gen)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGenerateCached_ConcurrentIdenticalRequestsCoalesce(t *testing.T) {
	c := cache.New(cache.Config{TTL: time.Hour, Capacity: 10})
	g, _, _ := newTestGateway(t, c)

	var calls int32
	release := make(chan struct{})
	gen := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "answer", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := g.GenerateCached(context.Background(), "same-key", 0, gen)
			assert.NoError(t, err)
			assert.Equal(t, "answer", got)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGenerateCached_ErrorsAreNotCached(t *testing.T) {
	c := cache.New(cache.Config{TTL: time.Hour, Capacity: 10})
	g, _, _ := newTestGateway(t, c)

	_, err := g.GenerateCached(context.Background(), "k", 0, func(ctx context.Context) (string, error) {
		return "", domain.ErrContentBlocked
	})
	require.ErrorIs(t, err, domain.ErrContentBlocked)

	got, err := g.GenerateCached(context.Background(), "k", 0, func(ctx context.Context) (string, error) {
		return "fine now", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fine now", got)
}
