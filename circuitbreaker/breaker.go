// Package circuitbreaker isolates failing providers. Each provider gets one
// long-lived breaker that moves Closed -> Open -> HalfOpen -> Closed.
package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-wearables/core"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

// DefaultConfig closes after a single successful half-open call.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, RecoveryTimeout: 30 * time.Second, SuccessThreshold: 1}
}

// StrictConfig trips early and recovers slowly.
func StrictConfig() Config {
	return Config{FailureThreshold: 3, RecoveryTimeout: 60 * time.Second, SuccessThreshold: 3}
}

// LenientConfig tolerates bursts of failures.
func LenientConfig() Config {
	return Config{FailureThreshold: 10, RecoveryTimeout: 15 * time.Second, SuccessThreshold: 1}
}

// FromCoreConfig maps service configuration onto a breaker config.
func FromCoreConfig(cfg core.CircuitBreakerConfig) Config {
	return Config{
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
		SuccessThreshold: cfg.SuccessThreshold,
	}.normalized()
}

func (c Config) normalized() Config {
	defaults := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = defaults.RecoveryTimeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = defaults.SuccessThreshold
	}
	return c
}

type Snapshot struct {
	Name          string
	State         State
	Failures      int
	Successes     int
	OpenedAt      time.Time
	RetryAfter    time.Duration
	ProbeInFlight bool
}

// Breaker guards calls to one provider. All transitions happen under a
// single mutex so concurrent outcome reports cannot interleave.
type Breaker struct {
	name   string
	config Config
	now    func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	openedAt      time.Time
	probeInFlight bool
	onTransition  func(name string, from State, to State)
}

type Option func(*Breaker)

// WithClock replaces the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

func WithTransitionHook(hook func(name string, from State, to State)) Option {
	return func(b *Breaker) {
		b.onTransition = hook
	}
}

func New(name string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		name:   name,
		config: cfg.normalized(),
		now:    time.Now,
		state:  StateClosed,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) Config() Config {
	return b.config
}

// Allow decides whether a call may proceed. An open breaker past its
// cooldown admits exactly one probe; everything else is rejected with a
// circuit-open error carrying the remaining cooldown.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.config.RecoveryTimeout {
			return core.NewCircuitOpenError(b.name, b.config.RecoveryTimeout-elapsed)
		}
		b.transitionLocked(StateHalfOpen)
		b.probeInFlight = true
		return nil
	default:
		if b.probeInFlight {
			return core.NewCircuitOpenError(b.name, time.Second)
		}
		b.probeInFlight = true
		return nil
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.probeInFlight = false
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionLocked(StateClosed)
		}
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure counts only retryable errors; auth and not-found failures
// say nothing about provider health.
func (b *Breaker) RecordFailure(err error) {
	if err != nil && !core.IsRetryable(err) {
		b.release()
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		b.transitionLocked(StateOpen)
	}
}

// Record reports the outcome of an admitted call.
func (b *Breaker) Record(err error) {
	if err == nil {
		b.RecordSuccess()
		return
	}
	b.RecordFailure(err)
}

// release frees the probe slot after an outcome that does not count.
func (b *Breaker) release() {
	b.mu.Lock()
	if b.state == StateHalfOpen {
		b.probeInFlight = false
	}
	b.mu.Unlock()
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snapshot := Snapshot{
		Name:          b.name,
		State:         b.state,
		Failures:      b.failures,
		Successes:     b.successes,
		OpenedAt:      b.openedAt,
		ProbeInFlight: b.probeInFlight,
	}
	if b.state == StateOpen {
		if remaining := b.config.RecoveryTimeout - b.now().Sub(b.openedAt); remaining > 0 {
			snapshot.RetryAfter = remaining
		}
	}
	return snapshot
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	b.probeInFlight = false
	if to == StateOpen {
		b.openedAt = b.now()
	}
	if from != to && b.onTransition != nil {
		b.onTransition(b.name, from, to)
	}
}

// Do runs fn when the breaker admits the call and records its outcome.
func Do[T any](ctx context.Context, breaker *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if breaker == nil {
		return fn(ctx)
	}
	if err := breaker.Allow(); err != nil {
		return zero, err
	}
	result, err := fn(ctx)
	breaker.Record(err)
	return result, err
}
