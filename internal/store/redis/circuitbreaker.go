package redis

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a publish.
var ErrCircuitOpen = errors.New("redis: circuit breaker is open")

// State is the breaker position.
type State int

const (
	StateClosed   State = iota // publishes pass through
	StateOpen                  // publishes fail fast
	StateHalfOpen              // one probe publish allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig sets when the breaker trips and how long it stays open.
type BreakerConfig struct {
	Threshold int           // consecutive failures that open it, default 5
	Cooldown  time.Duration // time open before a probe, default 10s
}

// CircuitBreaker guards calls to Redis. After Threshold consecutive
// failures it rejects calls for Cooldown; the next call is a single probe
// whose outcome closes or reopens it.
type CircuitBreaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool

	// OnStateChange runs on every transition with the breaker locked.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Do runs fn if the breaker admits it and records the result.
// A cancelled ctx is returned as is and never counts as a failure.
func (cb *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		cb.abandon(probe)
		return err
	}
	cb.record(probe, err)
	return err
}

// State returns the current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current run of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			return false, ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
	}
	if cb.probing {
		return false, ErrCircuitOpen
	}
	cb.probing = true
	return true, nil
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if probe {
		cb.probing = false
	}
	if err == nil {
		cb.failures = 0
		cb.setState(StateClosed)
		return
	}
	cb.failures++
	if probe || cb.failures >= cb.cfg.Threshold {
		cb.openedAt = cb.now()
		cb.setState(StateOpen)
	}
}

// abandon releases a probe slot without judging Redis.
func (cb *CircuitBreaker) abandon(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
