package gateway

import (
	"sync"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/metrics"
)

// State is a circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

const (
	// DefaultFailureThreshold is the failure count that opens the circuit
	DefaultFailureThreshold = 5
	// DefaultCooldown is how long the circuit stays open before probing
	DefaultCooldown = 60 * time.Second
)

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// BreakerSnapshot is a point-in-time copy of the breaker state
type BreakerSnapshot struct {
	State         State     `json:"state"`
	FailureCount  int       `json:"failure_count"`
	LastFailureAt time.Time `json:"last_failure_at"`
}

// Breaker is the process-wide three-state circuit breaker shared by every
// gateway call. The failure count resets only on a successful call.
type Breaker struct {
	mu            sync.Mutex
	state         State
	failureCount  int
	lastFailureAt time.Time
	probing       bool

	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewBreaker creates a closed breaker
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &Breaker{
		state:     StateClosed,
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.Cooldown,
		now:       time.Now,
	}
}

// Allow decides whether a call may proceed. An open circuit past its
// cooldown moves to half-open and lets exactly one probe call through.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailureAt) < b.cooldown {
			return domain.ErrProviderUnavailable
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return domain.ErrProviderUnavailable
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

// Success records a successful call and closes the circuit
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.probing = false
	b.setState(StateClosed)
}

// Failure records a failed call
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureAt = b.now()
	b.probing = false

	if b.state == StateHalfOpen || b.failureCount >= b.threshold {
		b.setState(StateOpen)
	}
}

// Release ends a call that produced no verdict about provider health,
// such as a safety rejection or a caller cancellation.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// Snapshot returns the current state
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:         b.state,
		FailureCount:  b.failureCount,
		LastFailureAt: b.lastFailureAt,
	}
}

func (b *Breaker) setState(s State) {
	b.state = s
	metrics.BreakerState.Set(float64(s))
}
