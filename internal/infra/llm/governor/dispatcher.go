package governor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vietddude/athena/internal/core/domain"
	"github.com/vietddude/athena/internal/infra/llm/breaker"
	"github.com/vietddude/athena/internal/infra/llm/routing"
	"github.com/vietddude/athena/internal/metrics"
)

// run is the dispatcher loop. It exits when ctx is cancelled, answering any
// queued tickets with ErrStopped.
func (g *Governor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer g.drain()

	for {
		first, ok := g.receive(ctx)
		if !ok {
			return
		}

		batch := g.collect(ctx, first)
		g.dispatch(ctx, batch)
	}
}

// receive blocks for the next ticket whose caller is still waiting.
func (g *Governor) receive(ctx context.Context) (*ticket, bool) {
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case t := <-g.queue:
			metrics.GovernorQueueDepth.Dec()
			if t.ctx.Err() != nil {
				continue
			}
			return t, true
		}
	}
}

// collect fills a batch up to BatchSize, waiting at most BatchTimeout
// after the first ticket.
func (g *Governor) collect(ctx context.Context, first *ticket) []*ticket {
	batch := []*ticket{first}
	if g.cfg.BatchSize <= 1 {
		return batch
	}

	var timeout <-chan time.Time
	if g.cfg.BatchTimeout > 0 {
		timer := time.NewTimer(g.cfg.BatchTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for len(batch) < g.cfg.BatchSize {
		if timeout == nil {
			// No window: take only what is already queued.
			select {
			case t := <-g.queue:
				metrics.GovernorQueueDepth.Dec()
				if t.ctx.Err() == nil {
					batch = append(batch, t)
				}
				continue
			default:
				return batch
			}
		}

		select {
		case t := <-g.queue:
			metrics.GovernorQueueDepth.Dec()
			if t.ctx.Err() == nil {
				batch = append(batch, t)
			}
		case <-timeout:
			return batch
		case <-ctx.Done():
			return batch
		}
	}
	return batch
}

// dispatch waits for the spacing slot and runs the batch to completion.
func (g *Governor) dispatch(ctx context.Context, batch []*ticket) {
	if batch = g.admit(batch); len(batch) == 0 {
		return
	}

	if err := g.waitSpacing(ctx); err != nil {
		reject(batch, ErrStopped)
		return
	}

	live := batch[:0]
	for _, t := range batch {
		if t.ctx.Err() == nil {
			live = append(live, t)
		}
	}
	if len(live) == 0 {
		// Every caller gave up while waiting; the slot is not consumed.
		return
	}

	if live = g.admit(live); len(live) == 0 {
		return
	}

	g.lastDispatch.Store(time.Now().UnixNano())
	metrics.GovernorBatchSize.Observe(float64(len(live)))
	if len(live) > 1 {
		g.log.Debug("Dispatching batch", "size", len(live))
	}

	var wg sync.WaitGroup
	for _, t := range live {
		wg.Add(1)
		go func(t *ticket) {
			defer wg.Done()
			t.done <- g.invoke(t)
		}(t)
	}
	wg.Wait()
}

// admit rejects tickets the breaker no longer lets through. While open
// nothing passes; while half-open only the probe holder does.
func (g *Governor) admit(batch []*ticket) []*ticket {
	switch g.breaker.State() {
	case breaker.StateOpen:
		reject(batch, errBreakerOpen)
		return nil
	case breaker.StateHalfOpen:
		kept := batch[:0]
		for _, t := range batch {
			if t.probe {
				kept = append(kept, t)
			} else {
				t.done <- callResult{rejected: errBreakerOpen}
			}
		}
		return kept
	default:
		return batch
	}
}

// waitSpacing sleeps until MinInterval has passed since the last dispatch.
func (g *Governor) waitSpacing(ctx context.Context) error {
	last := g.lastDispatch.Load()
	if last == 0 || g.cfg.MinInterval <= 0 {
		return nil
	}

	wait := g.cfg.MinInterval - time.Since(time.Unix(0, last))
	if wait <= 0 {
		return nil
	}
	return sleep(ctx, wait)
}

// invoke performs one provider attempt and records its outcome on the
// breaker and monitor. Attempts abandoned by their caller are not recorded.
func (g *Governor) invoke(t *ticket) callResult {
	callCtx, cancel := context.WithTimeout(t.ctx, g.cfg.CallTimeout)
	defer cancel()

	name := g.provider.Name()
	start := time.Now()
	text, err := g.provider.Invoke(callCtx, t.req)
	latency := time.Since(start)
	metrics.ProviderLatency.WithLabelValues(name).Observe(latency.Seconds())

	if err == nil {
		g.breaker.RecordSuccess()
		g.monitor.RecordSuccess(latency)
		metrics.ProviderCalls.WithLabelValues(name, "success").Inc()
		return callResult{text: text}
	}

	if t.ctx.Err() != nil {
		return callResult{err: t.ctx.Err(), rejected: t.ctx.Err()}
	}

	category := routing.Classify(err)
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		category = domain.CategoryTransient
	}

	g.breaker.RecordFailure(category)
	g.monitor.RecordFailure(category, latency)
	metrics.ProviderCalls.WithLabelValues(name, category.String()).Inc()

	return callResult{err: err, category: category}
}

func reject(batch []*ticket, err error) {
	for _, t := range batch {
		t.done <- callResult{rejected: err}
	}
}

// drain answers tickets left in the queue after the dispatcher stops.
func (g *Governor) drain() {
	for {
		select {
		case t := <-g.queue:
			metrics.GovernorQueueDepth.Dec()
			t.done <- callResult{rejected: ErrStopped}
		default:
			return
		}
	}
}
