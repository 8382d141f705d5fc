package governor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/athena/internal/core/domain"
	"github.com/vietddude/athena/internal/infra/llm/breaker"
	"github.com/vietddude/athena/internal/infra/llm/provider"
)

// =============================================================================
// Fakes
// =============================================================================

// scriptedProvider returns the scripted errors in order, then succeeds.
type scriptedProvider struct {
	mu     sync.Mutex
	errs   []error
	always error
	block  bool
	calls  []time.Time
	prompt []string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Invoke(ctx context.Context, req provider.Request) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, time.Now())
	p.prompt = append(p.prompt, req.Prompt)
	var err error
	if p.always != nil {
		err = p.always
	} else if len(p.errs) > 0 {
		err = p.errs[0]
		p.errs = p.errs[1:]
	}
	block := p.block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return "reply to " + req.Prompt, nil
}

func (p *scriptedProvider) callTimes() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.calls...)
}

func (p *scriptedProvider) prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompt...)
}

type staticFallback struct{}

func (staticFallback) Generate(conv domain.ConversationContext) string {
	return "canned reply"
}

func testConfig() Config {
	return Config{
		MinInterval:    0,
		MaxRetries:     3,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		BatchSize:      1,
		CallTimeout:    time.Second,
		Breaker:        breaker.Config{Threshold: 3, Cooldown: time.Minute},
	}
}

func startGovernor(t *testing.T, cfg Config, p provider.Provider) *Governor {
	t.Helper()
	g := New(cfg, p, staticFallback{})
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = g.Stop(ctx)
	})
	return g
}

func submit(g *Governor, prompt string) (Response, error) {
	return g.Submit(context.Background(), domain.ConversationContext{}, provider.Request{Prompt: prompt})
}

// =============================================================================
// Tests
// =============================================================================

func TestSubmit_Success(t *testing.T) {
	p := &scriptedProvider{}
	g := startGovernor(t, testConfig(), p)

	resp, err := submit(g, "hello")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Type != TypeResult || resp.Text != "reply to hello" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", resp.Attempts)
	}
}

func TestSubmit_NotStarted(t *testing.T) {
	g := New(testConfig(), &scriptedProvider{}, staticFallback{})
	if _, err := submit(g, "x"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("err = %v, want ErrNotStarted", err)
	}
}

func TestSubmit_RetriesTransientThenSucceeds(t *testing.T) {
	p := &scriptedProvider{errs: []error{
		errors.New("503 service unavailable"),
		errors.New("Rate limit reached"),
	}}
	g := startGovernor(t, testConfig(), p)

	resp, err := submit(g, "retry me")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Type != TypeResult {
		t.Fatalf("type = %s, want result", resp.Type)
	}
	if resp.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", resp.Attempts)
	}
	if n := len(p.callTimes()); n != 3 {
		t.Errorf("provider calls = %d, want 3", n)
	}
}

func TestSubmit_RetriesExhaustedFallsBack(t *testing.T) {
	p := &scriptedProvider{always: errors.New("429 Too Many Requests")}
	g := startGovernor(t, testConfig(), p)

	resp, err := submit(g, "busy")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Type != TypeFallback || resp.Reason != ReasonRetriesExhausted {
		t.Errorf("resp = %+v, want retries_exhausted fallback", resp)
	}
	if resp.Text != "canned reply" {
		t.Errorf("fallback text = %q", resp.Text)
	}
	if n := len(p.callTimes()); n != 3 {
		t.Errorf("provider calls = %d, want exactly MaxRetries (3)", n)
	}
	if resp.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", resp.Attempts)
	}
}

func TestSubmit_ZeroRetriesMakesOneAttempt(t *testing.T) {
	p := &scriptedProvider{always: errors.New("service unavailable")}
	cfg := testConfig()
	cfg.MaxRetries = 0
	g := startGovernor(t, cfg, p)

	resp, err := submit(g, "once")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Type != TypeFallback || resp.Reason != ReasonRetriesExhausted {
		t.Errorf("resp = %+v, want retries_exhausted fallback", resp)
	}
	if n := len(p.callTimes()); n != 1 {
		t.Errorf("provider calls = %d, want 1", n)
	}
}

func TestSubmit_QuotaFallsBackWithoutRetry(t *testing.T) {
	p := &scriptedProvider{always: errors.New("You exceeded your current quota")}
	g := startGovernor(t, testConfig(), p)

	resp, err := submit(g, "q")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Type != TypeFallback || resp.Reason != ReasonQuota {
		t.Errorf("resp = %+v, want quota fallback", resp)
	}
	if n := len(p.callTimes()); n != 1 {
		t.Errorf("provider calls = %d, want 1", n)
	}
	if got := g.Breaker().Snapshot().ConsecutiveFailures; got != 1 {
		t.Errorf("breaker counter = %d, want 1", got)
	}
}

func TestSubmit_FatalErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorCategory
	}{
		{"auth", errors.New("Incorrect API key provided"), domain.CategoryAuth},
		{"unknown", errors.New("model gpt-9 does not exist"), domain.CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProvider{always: tt.err}
			g := startGovernor(t, testConfig(), p)

			resp, err := submit(g, "x")
			var fatal *FatalError
			if !errors.As(err, &fatal) {
				t.Fatalf("err = %v (resp %+v), want *FatalError", err, resp)
			}
			if fatal.Category != tt.want {
				t.Errorf("category = %v, want %v", fatal.Category, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Error("FatalError does not wrap the provider error")
			}
			if n := len(p.callTimes()); n != 1 {
				t.Errorf("provider calls = %d, want 1", n)
			}
		})
	}
}

func TestSubmit_BreakerOpensAfterThreshold(t *testing.T) {
	p := &scriptedProvider{always: errors.New("insufficient_quota")}
	g := startGovernor(t, testConfig(), p)

	for i := 0; i < 3; i++ {
		resp, err := submit(g, "q")
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		if resp.Type != TypeFallback {
			t.Fatalf("Submit %d type = %s, want fallback", i, resp.Type)
		}
	}

	if s := g.Breaker().State(); s != breaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", s)
	}

	resp, err := submit(g, "fourth")
	if err != nil {
		t.Fatalf("fourth Submit: %v", err)
	}
	if resp.Type != TypeFallback || resp.Reason != ReasonBreakerOpen {
		t.Errorf("fourth resp = %+v, want breaker_open fallback", resp)
	}
	if n := len(p.callTimes()); n != 3 {
		t.Errorf("provider calls = %d, want 3", n)
	}
}

func TestSubmit_CallTimeoutIsTransient(t *testing.T) {
	p := &scriptedProvider{block: true}
	cfg := testConfig()
	cfg.CallTimeout = 30 * time.Millisecond
	cfg.MaxRetries = 2
	g := startGovernor(t, cfg, p)

	resp, err := submit(g, "slow")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Type != TypeFallback || resp.Reason != ReasonRetriesExhausted {
		t.Errorf("resp = %+v, want retries_exhausted fallback", resp)
	}
	if n := len(p.callTimes()); n != 2 {
		t.Errorf("provider calls = %d, want 2", n)
	}
	if got := g.Breaker().Snapshot().ConsecutiveFailures; got != 0 {
		t.Errorf("timeouts counted toward the quota breaker: %d", got)
	}
}

func TestSubmit_MinIntervalSpacing(t *testing.T) {
	p := &scriptedProvider{}
	cfg := testConfig()
	cfg.MinInterval = 300 * time.Millisecond
	g := startGovernor(t, cfg, p)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = submit(g, "first")
	}()
	time.Sleep(50 * time.Millisecond)
	go func() {
		defer wg.Done()
		_, _ = submit(g, "second")
	}()
	wg.Wait()

	calls := p.callTimes()
	if len(calls) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(calls))
	}
	if gap := calls[1].Sub(calls[0]); gap < cfg.MinInterval {
		t.Errorf("second dispatch %v after first, want >= %v", gap, cfg.MinInterval)
	}
}

func TestSubmit_FIFOOrder(t *testing.T) {
	p := &scriptedProvider{}
	cfg := testConfig()
	cfg.MinInterval = 20 * time.Millisecond
	g := startGovernor(t, cfg, p)

	prompts := []string{"a", "b", "c", "d", "e"}
	var wg sync.WaitGroup
	for _, prompt := range prompts {
		wg.Add(1)
		go func(prompt string) {
			defer wg.Done()
			_, _ = submit(g, prompt)
		}(prompt)
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	got := p.prompts()
	if len(got) != len(prompts) {
		t.Fatalf("dispatched %v, want %v", got, prompts)
	}
	for i := range prompts {
		if got[i] != prompts[i] {
			t.Fatalf("dispatch order = %v, want %v", got, prompts)
		}
	}
}

func TestSubmit_Batching(t *testing.T) {
	p := &scriptedProvider{}
	cfg := testConfig()
	cfg.MinInterval = 300 * time.Millisecond
	cfg.BatchSize = 3
	cfg.BatchTimeout = 100 * time.Millisecond
	g := startGovernor(t, cfg, p)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := submit(g, "burst")
			if err != nil || resp.Type != TypeResult {
				t.Errorf("Submit = %+v, %v", resp, err)
			}
		}()
	}
	wg.Wait()

	calls := p.callTimes()
	if len(calls) != 4 {
		t.Fatalf("provider calls = %d, want 4", len(calls))
	}

	// The first three share a slot; the fourth waits for the next one.
	first := calls[0]
	for i := 1; i < 3; i++ {
		if d := calls[i].Sub(first); d > 100*time.Millisecond {
			t.Errorf("batch member %d dispatched %v after first", i, d)
		}
	}
	if d := calls[3].Sub(first); d < cfg.MinInterval {
		t.Errorf("second batch dispatched %v after first, want >= %v", d, cfg.MinInterval)
	}
}

func TestSubmit_CancelledWaitDoesNotConsumeSlot(t *testing.T) {
	p := &scriptedProvider{}
	cfg := testConfig()
	cfg.MinInterval = 400 * time.Millisecond
	g := startGovernor(t, cfg, p)

	if _, err := submit(g, "first"); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := g.Submit(ctx, domain.ConversationContext{}, provider.Request{Prompt: "abandoned"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if waited := time.Since(start); waited > 200*time.Millisecond {
		t.Errorf("cancelled caller waited %v", waited)
	}

	if _, err := submit(g, "third"); err != nil {
		t.Fatalf("third Submit: %v", err)
	}

	calls := p.callTimes()
	if len(calls) != 2 {
		t.Fatalf("provider calls = %d, want 2 (abandoned request must not dispatch)", len(calls))
	}
	if gap := calls[1].Sub(calls[0]); gap > 700*time.Millisecond {
		t.Errorf("abandoned request consumed a slot: gap %v", gap)
	}
	if got := p.prompts()[1]; got != "third" {
		t.Errorf("second dispatched prompt = %q, want third", got)
	}
}

func TestSubmit_BackoffCancelled(t *testing.T) {
	p := &scriptedProvider{always: errors.New("connection reset by peer")}
	cfg := testConfig()
	cfg.InitialBackoff = time.Second
	cfg.MaxBackoff = time.Second
	g := startGovernor(t, cfg, p)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := g.Submit(ctx, domain.ConversationContext{}, provider.Request{Prompt: "x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if waited := time.Since(start); waited > 500*time.Millisecond {
		t.Errorf("backoff not cancelled promptly: %v", waited)
	}
}

func TestStop_RejectsNewSubmissions(t *testing.T) {
	g := New(testConfig(), &scriptedProvider{}, staticFallback{})
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := g.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := submit(g, "late"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("err = %v, want ErrNotStarted", err)
	}
}

func TestStatus(t *testing.T) {
	p := &scriptedProvider{}
	g := startGovernor(t, testConfig(), p)

	if _, err := submit(g, "x"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	s := g.Status()
	if s.Provider != "scripted" {
		t.Errorf("provider = %q", s.Provider)
	}
	if s.Breaker.State != "closed" {
		t.Errorf("breaker = %s", s.Breaker.State)
	}
	if s.LastDispatch.IsZero() {
		t.Error("last dispatch not recorded")
	}
	if s.Monitor == nil || s.Monitor.Requests24h != 1 {
		t.Errorf("monitor = %+v", s.Monitor)
	}
}

func TestSubmit_CancelledProbeIsReleased(t *testing.T) {
	p := &scriptedProvider{errs: []error{errors.New("insufficient_quota")}}
	cfg := testConfig()
	cfg.Breaker = breaker.Config{Threshold: 1, Cooldown: 100 * time.Millisecond}
	g := startGovernor(t, cfg, p)

	if resp, err := submit(g, "trip"); err != nil || resp.Reason != ReasonQuota {
		t.Fatalf("trip Submit = %+v, %v", resp, err)
	}
	time.Sleep(120 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Submit(ctx, domain.ConversationContext{}, provider.Request{Prompt: "gave up"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled Submit err = %v, want context.Canceled", err)
	}

	resp, err := submit(g, "after")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Type != TypeResult {
		t.Fatalf("resp = %+v, want the next caller admitted as the probe", resp)
	}
	if n := len(p.callTimes()); n != 2 {
		t.Errorf("provider calls = %d, want 2", n)
	}
	if s := g.Breaker().State(); s != breaker.StateClosed {
		t.Errorf("breaker = %v, want closed after probe success", s)
	}
}

func TestAdmit_HalfOpenOnlyPassesProbe(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	b := breaker.New("llm-test", breaker.Config{Threshold: 1, Cooldown: time.Minute},
		breaker.WithClock(func() time.Time { return now }))
	g := New(testConfig(), &scriptedProvider{}, staticFallback{}, WithBreaker(b))

	newTicket := func(probe bool) *ticket {
		return &ticket{ctx: context.Background(), probe: probe, done: make(chan callResult, 1)}
	}

	tests := []struct {
		name    string
		setup   func()
		probe   []bool
		wantLen int
	}{
		{"closed passes all", func() {}, []bool{false, false}, 2},
		{"open passes none", func() { b.RecordFailure(domain.CategoryQuota) }, []bool{true, false}, 0},
		{"half-open passes probe", func() { now = now.Add(time.Minute) }, []bool{false, true, false}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			batch := make([]*ticket, 0, len(tt.probe))
			for _, probe := range tt.probe {
				batch = append(batch, newTicket(probe))
			}
			all := append([]*ticket(nil), batch...)

			kept := g.admit(batch)
			if len(kept) != tt.wantLen {
				t.Fatalf("admitted %d, want %d", len(kept), tt.wantLen)
			}
			for _, tk := range kept {
				if b.State() == breaker.StateHalfOpen && !tk.probe {
					t.Errorf("non-probe ticket admitted while half-open")
				}
			}
			rejected := 0
			for _, tk := range all {
				select {
				case res := <-tk.done:
					if !errors.Is(res.rejected, errBreakerOpen) {
						t.Errorf("rejected with %v, want errBreakerOpen", res.rejected)
					}
					rejected++
				default:
				}
			}
			if rejected != len(all)-tt.wantLen {
				t.Errorf("rejected %d, want %d", rejected, len(all)-tt.wantLen)
			}
		})
	}
}
