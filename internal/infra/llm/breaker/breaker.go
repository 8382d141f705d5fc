// Package breaker implements the quota circuit breaker shared by the LLM
// governor and the calendar client.
//
// Only consecutive Quota failures count toward opening. Any other outcome
// resets the counter. An open breaker becomes half-open once its cooldown
// elapses and then admits a single probe.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/athena/internal/core/domain"
	"github.com/vietddude/athena/internal/metrics"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the breaker policy.
type Config struct {
	Threshold int           `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// DefaultConfig opens after 3 consecutive quota errors for 5 minutes.
var DefaultConfig = Config{
	Threshold: 3,
	Cooldown:  5 * time.Minute,
}

// Snapshot is a point-in-time view of the breaker.
type Snapshot struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registers a callback invoked on every transition. It runs
// with the breaker lock released.
func WithStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name     string
	cfg      Config
	now      func() time.Time
	onChange func(name string, from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time

	// probeUntil is set while a half-open probe is in flight. A probe that
	// never reports back expires after one cooldown.
	probeUntil time.Time
	probeID    uint64
}

// New creates a closed breaker.
func New(name string, cfg Config, opts ...Option) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig.Cooldown
	}
	b := &Breaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		state: StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	metrics.BreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// Allow reports whether a call may proceed. In half-open state only one
// caller is admitted until it records an outcome.
func (b *Breaker) Allow() bool {
	ok, _ := b.Acquire()
	return ok
}

// Acquire is Allow for callers that may give up before reporting an
// outcome. A non-zero probe means the caller holds the half-open probe and
// must either record an outcome or hand it back with ReleaseProbe.
func (b *Breaker) Acquire() (ok bool, probe uint64) {
	b.mu.Lock()
	from := b.state
	b.advanceUnsafe()

	switch b.state {
	case StateClosed:
		ok = true
	case StateHalfOpen:
		now := b.now()
		if b.probeUntil.IsZero() || !now.Before(b.probeUntil) {
			b.probeUntil = now.Add(b.cfg.Cooldown)
			b.probeID++
			ok, probe = true, b.probeID
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return ok, probe
}

// ReleaseProbe frees a probe claimed by Acquire whose call never reached
// the provider, so the next caller can probe at once. It is a no-op once
// an outcome was recorded or a newer probe was handed out.
func (b *Breaker) ReleaseProbe(probe uint64) {
	if probe == 0 {
		return
	}
	b.mu.Lock()
	if b.probeID == probe && b.state == StateHalfOpen {
		b.probeUntil = time.Time{}
	}
	b.mu.Unlock()
}

// State returns the current state, applying the cooldown transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	from := b.state
	b.advanceUnsafe()
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return to
}

// RecordSuccess closes the breaker and clears the counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	b.failures = 0
	b.probeUntil = time.Time{}
	b.state = StateClosed
	b.openedAt = time.Time{}
	b.mu.Unlock()

	b.notify(from, StateClosed)
}

// RecordFailure records a failed call. Only quota failures count toward
// opening; any other category resets the counter.
func (b *Breaker) RecordFailure(category domain.ErrorCategory) {
	b.mu.Lock()
	from := b.state
	b.probeUntil = time.Time{}

	if category != domain.CategoryQuota {
		b.failures = 0
		b.mu.Unlock()
		return
	}

	b.failures++
	switch b.state {
	case StateHalfOpen:
		b.tripUnsafe()
	case StateClosed:
		if b.failures >= b.cfg.Threshold {
			b.tripUnsafe()
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// Record is a convenience wrapper: a nil err is a success.
func (b *Breaker) Record(err error, category domain.ErrorCategory) {
	if err == nil {
		b.RecordSuccess()
		return
	}
	b.RecordFailure(category)
}

// Snapshot returns the current breaker view.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	from := b.state
	b.advanceUnsafe()
	s := Snapshot{
		Name:                b.name,
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
		OpenedAt:            b.openedAt,
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return s
}

// tripUnsafe opens the breaker. Must be called with lock held.
func (b *Breaker) tripUnsafe() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = 0
}

// advanceUnsafe moves Open to HalfOpen once the cooldown has elapsed.
// Must be called with lock held.
func (b *Breaker) advanceUnsafe() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = StateHalfOpen
		b.probeUntil = time.Time{}
	}
}

func (b *Breaker) notify(from, to State) {
	if from == to {
		return
	}
	metrics.BreakerState.WithLabelValues(b.name).Set(float64(to))
	slog.Info("Circuit breaker state changed",
		"breaker", b.name,
		"from", from.String(),
		"to", to.String(),
	)
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
