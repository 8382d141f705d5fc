// Package governor paces, retries and short-circuits calls to the LLM
// provider.
//
// A single dispatcher goroutine owns the dispatch order. Callers enqueue a
// ticket and wait; the dispatcher groups tickets into batches, enforces the
// minimum interval between batches and runs each batch to completion before
// taking the next one, so breaker outcomes from one batch are visible to
// the next.
package governor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/athena/internal/core/domain"
	"github.com/vietddude/athena/internal/infra/llm/breaker"
	"github.com/vietddude/athena/internal/infra/llm/provider"
	"github.com/vietddude/athena/internal/infra/llm/routing"
	"github.com/vietddude/athena/internal/metrics"
)

// FallbackGenerator produces the canned reply used when no live call is made.
type FallbackGenerator interface {
	Generate(conv domain.ConversationContext) string
}

// Option configures a Governor.
type Option func(*Governor)

// WithBreaker replaces the default breaker built from Config.Breaker.
func WithBreaker(b *breaker.Breaker) Option {
	return func(g *Governor) { g.breaker = b }
}

// WithMonitor attaches a provider monitor.
func WithMonitor(m *provider.Monitor) Option {
	return func(g *Governor) { g.monitor = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Governor) { g.log = l }
}

// Status is a point-in-time view for health endpoints and the CLI.
type Status struct {
	Provider     string                 `json:"provider"`
	Breaker      breaker.Snapshot       `json:"breaker"`
	QueueDepth   int                    `json:"queue_depth"`
	LastDispatch time.Time              `json:"last_dispatch,omitempty"`
	Monitor      *provider.MonitorStats `json:"monitor,omitempty"`
}

type ticket struct {
	ctx   context.Context
	req   provider.Request
	probe bool            // holds the half-open probe
	done  chan callResult // buffered, written once
}

type callResult struct {
	text     string
	err      error
	category domain.ErrorCategory

	// rejected is set when the ticket never reached the provider.
	rejected error
}

// Governor wraps one provider with pacing, retry and breaker policy.
type Governor struct {
	cfg      Config
	provider provider.Provider
	fallback FallbackGenerator
	breaker  *breaker.Breaker
	backoff  routing.BackoffPolicy
	monitor  *provider.Monitor
	log      *slog.Logger

	queue chan *ticket

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{} // closed when the dispatcher exits

	// lastDispatch is written only by the dispatcher; atomic for Status.
	lastDispatch atomic.Int64
}

// New creates a Governor. Call Start before Submit.
func New(cfg Config, p provider.Provider, fb FallbackGenerator, opts ...Option) *Governor {
	cfg = cfg.withDefaults()
	g := &Governor{
		cfg:      cfg,
		provider: p,
		fallback: fb,
		backoff: routing.BackoffPolicy{
			Initial: cfg.InitialBackoff,
			Max:     cfg.MaxBackoff,
			Jitter:  cfg.Jitter,
		},
		log:   slog.Default(),
		queue: make(chan *ticket, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.breaker == nil {
		g.breaker = breaker.New("llm", cfg.Breaker)
	}
	if g.monitor == nil {
		g.monitor = provider.NewMonitor()
	}
	return g
}

// Breaker exposes the governor's breaker.
func (g *Governor) Breaker() *breaker.Breaker {
	return g.breaker
}

// Start launches the dispatcher.
func (g *Governor) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})
	g.running = true

	go g.run(runCtx, g.done)

	g.log.Info("Governor started",
		"provider", g.provider.Name(),
		"min_interval", g.cfg.MinInterval,
		"max_retries", g.cfg.MaxRetries,
		"batch_size", g.cfg.BatchSize,
	)
	return nil
}

// Stop halts the dispatcher and waits for the in-flight batch.
func (g *Governor) Stop(ctx context.Context) error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	g.cancel()
	done := g.done
	g.mu.Unlock()

	select {
	case <-done:
		g.log.Info("Governor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a point-in-time view of the governor.
func (g *Governor) Status() Status {
	s := Status{
		Provider:   g.provider.Name(),
		Breaker:    g.breaker.Snapshot(),
		QueueDepth: len(g.queue),
	}
	if ns := g.lastDispatch.Load(); ns != 0 {
		s.LastDispatch = time.Unix(0, ns)
	}
	stats := g.monitor.Stats()
	s.Monitor = &stats
	return s
}

// Submit runs req through the governor. It returns a Result or Fallback
// response; a non-nil error is a *FatalError, a context error, or
// ErrNotStarted/ErrStopped.
func (g *Governor) Submit(
	ctx context.Context,
	conv domain.ConversationContext,
	req provider.Request,
) (Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	log := g.log.With("request_id", req.ID)

	admitted, probe := g.breaker.Acquire()
	if !admitted {
		log.Debug("Breaker open, answering with fallback")
		return g.fallbackResponse(conv, ReasonBreakerOpen, 0), nil
	}

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			// The previous outcome released any probe; a half-open retry
			// needs its own.
			if admitted, probe = g.breaker.Acquire(); !admitted {
				return g.fallbackResponse(conv, ReasonBreakerOpen, attempt-1), nil
			}
		}

		res, err := g.roundTrip(ctx, req, probe != 0)
		if err != nil {
			// The attempt never reported to the breaker.
			g.breaker.ReleaseProbe(probe)
			if errors.Is(err, errBreakerOpen) {
				return g.fallbackResponse(conv, ReasonBreakerOpen, attempt-1), nil
			}
			metrics.GovernorRequests.WithLabelValues("cancelled").Inc()
			return Response{}, err
		}

		if res.err == nil {
			metrics.GovernorRequests.WithLabelValues("result").Inc()
			return Response{Type: TypeResult, Text: res.text, Attempts: attempt}, nil
		}

		switch {
		case res.category == domain.CategoryQuota:
			log.Warn("Provider quota exhausted", "attempt", attempt, "error", res.err)
			return g.fallbackResponse(conv, ReasonQuota, attempt), nil

		case res.category.Retryable():
			if attempt >= g.cfg.MaxRetries {
				log.Warn("Provider retries exhausted",
					"attempts", attempt,
					"category", res.category.String(),
					"error", res.err,
				)
				return g.fallbackResponse(conv, ReasonRetriesExhausted, attempt), nil
			}

			delay := g.retryDelay(attempt, res.err)
			metrics.GovernorRetries.WithLabelValues(res.category.String()).Inc()
			log.Debug("Retrying provider call",
				"attempt", attempt,
				"category", res.category.String(),
				"delay", delay,
			)
			if err := sleep(ctx, delay); err != nil {
				metrics.GovernorRequests.WithLabelValues("cancelled").Inc()
				return Response{}, err
			}

		default:
			log.Error("Provider call failed, not retrying",
				"category", res.category.String(),
				"error", res.err,
			)
			metrics.GovernorRequests.WithLabelValues("fatal").Inc()
			return Response{}, &FatalError{
				Provider: g.provider.Name(),
				Category: res.category,
				Err:      res.err,
			}
		}
	}
}

// retryDelay honours a server retry hint when it is longer than the
// computed backoff, still capped at MaxBackoff.
func (g *Governor) retryDelay(attempt int, err error) time.Duration {
	delay := g.backoff.NextDelay(attempt)
	if hint := routing.RetryAfter(err); hint > delay {
		delay = min(hint, g.cfg.MaxBackoff)
	}
	return delay
}

func (g *Governor) fallbackResponse(
	conv domain.ConversationContext,
	reason string,
	attempts int,
) Response {
	metrics.GovernorFallbacks.WithLabelValues(reason).Inc()
	metrics.GovernorRequests.WithLabelValues("fallback").Inc()
	return Response{
		Type:     TypeFallback,
		Text:     g.fallback.Generate(conv),
		Attempts: attempts,
		Reason:   reason,
	}
}

// roundTrip enqueues one attempt and waits for its outcome.
func (g *Governor) roundTrip(ctx context.Context, req provider.Request, probe bool) (callResult, error) {
	g.mu.Lock()
	running, done := g.running, g.done
	g.mu.Unlock()
	if !running {
		return callResult{}, ErrNotStarted
	}

	t := &ticket{ctx: ctx, req: req, probe: probe, done: make(chan callResult, 1)}

	select {
	case g.queue <- t:
		metrics.GovernorQueueDepth.Inc()
	case <-ctx.Done():
		return callResult{}, ctx.Err()
	case <-done:
		return callResult{}, ErrStopped
	}

	var res callResult
	select {
	case res = <-t.done:
	case <-ctx.Done():
		return callResult{}, ctx.Err()
	case <-done:
		select {
		case res = <-t.done:
		default:
			return callResult{}, ErrStopped
		}
	}

	if res.rejected != nil {
		return callResult{}, res.rejected
	}
	if ctx.Err() != nil {
		return callResult{}, ctx.Err()
	}
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
