package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/vietddude/athena/internal/core/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)}
	b := New("test", Config{Threshold: threshold, Cooldown: cooldown}, WithClock(clock.Now))
	return b, clock
}

func TestBreaker_OpensExactlyAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 1; i < 3; i++ {
		b.RecordFailure(domain.CategoryQuota)
		if b.State() != StateClosed {
			t.Fatalf("after %d quota errors state = %v, want closed", i, b.State())
		}
		if !b.Allow() {
			t.Fatalf("after %d quota errors Allow() = false", i)
		}
	}

	b.RecordFailure(domain.CategoryQuota)
	if b.State() != StateOpen {
		t.Fatalf("after 3 quota errors state = %v, want open", b.State())
	}
	if b.Allow() {
		t.Error("open breaker allowed a call")
	}
}

func TestBreaker_NonQuotaResetsCounter(t *testing.T) {
	outcomes := []struct {
		name   string
		record func(*Breaker)
	}{
		{"success", func(b *Breaker) { b.RecordSuccess() }},
		{"rate limit", func(b *Breaker) { b.RecordFailure(domain.CategoryRateLimit) }},
		{"transient", func(b *Breaker) { b.RecordFailure(domain.CategoryTransient) }},
		{"auth", func(b *Breaker) { b.RecordFailure(domain.CategoryAuth) }},
	}

	for _, tt := range outcomes {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBreaker(3, time.Minute)
			b.RecordFailure(domain.CategoryQuota)
			b.RecordFailure(domain.CategoryQuota)

			tt.record(b)
			if got := b.Snapshot().ConsecutiveFailures; got != 0 {
				t.Fatalf("counter after %s = %d, want 0", tt.name, got)
			}

			b.RecordFailure(domain.CategoryQuota)
			b.RecordFailure(domain.CategoryQuota)
			if b.State() != StateClosed {
				t.Errorf("breaker opened after reset with only 2 quota errors")
			}
		})
	}
}

func TestBreaker_HalfOpenOnlyAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)
	b.RecordFailure(domain.CategoryQuota)

	clock.Advance(29 * time.Second)
	if b.State() != StateOpen {
		t.Fatalf("state before cooldown = %v, want open", b.State())
	}
	if b.Allow() {
		t.Fatal("allowed before cooldown")
	}

	clock.Advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state at cooldown = %v, want half-open", b.State())
	}
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(1, 10*time.Second)
	b.RecordFailure(domain.CategoryQuota)
	clock.Advance(10 * time.Second)

	if !b.Allow() {
		t.Fatal("probe not admitted")
	}
	if b.Allow() {
		t.Fatal("second caller admitted while probe in flight")
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("state after probe success = %v, want closed", b.State())
	}
	if !b.Allow() {
		t.Error("closed breaker refused a call")
	}
}

func TestBreaker_HalfOpenProbeQuotaReopens(t *testing.T) {
	b, clock := newTestBreaker(3, 10*time.Second)
	for i := 0; i < 3; i++ {
		b.RecordFailure(domain.CategoryQuota)
	}
	clock.Advance(10 * time.Second)

	if !b.Allow() {
		t.Fatal("probe not admitted")
	}
	b.RecordFailure(domain.CategoryQuota)

	snap := b.Snapshot()
	if snap.State != "open" {
		t.Fatalf("state after failed probe = %s, want open", snap.State)
	}
	if !snap.OpenedAt.Equal(clock.Now()) {
		t.Errorf("openedAt = %v, want %v", snap.OpenedAt, clock.Now())
	}
	if snap.ConsecutiveFailures != 0 {
		t.Errorf("counter = %d, want 0", snap.ConsecutiveFailures)
	}

	clock.Advance(9 * time.Second)
	if b.Allow() {
		t.Error("reopened breaker allowed a call before the new cooldown")
	}
}

func TestBreaker_StaleProbeExpires(t *testing.T) {
	b, clock := newTestBreaker(1, 10*time.Second)
	b.RecordFailure(domain.CategoryQuota)
	clock.Advance(10 * time.Second)

	if !b.Allow() {
		t.Fatal("probe not admitted")
	}
	clock.Advance(10 * time.Second)
	if !b.Allow() {
		t.Error("abandoned probe blocked the breaker past one cooldown")
	}
}

func TestBreaker_ReleaseProbe(t *testing.T) {
	b, clock := newTestBreaker(1, 10*time.Second)
	b.RecordFailure(domain.CategoryQuota)
	clock.Advance(10 * time.Second)

	ok, probe := b.Acquire()
	if !ok || probe == 0 {
		t.Fatalf("Acquire = %v, %d, want probe", ok, probe)
	}
	b.ReleaseProbe(probe)

	ok, next := b.Acquire()
	if !ok || next == 0 {
		t.Fatal("released probe was not handed to the next caller")
	}
	if next == probe {
		t.Errorf("probe token reused: %d", next)
	}
	if b.State() != StateHalfOpen {
		t.Errorf("state = %v, want half-open", b.State())
	}
}

func TestBreaker_ReleaseProbeIgnoresStaleToken(t *testing.T) {
	b, clock := newTestBreaker(1, 10*time.Second)
	b.RecordFailure(domain.CategoryQuota)
	clock.Advance(10 * time.Second)

	_, first := b.Acquire()
	b.RecordFailure(domain.CategoryTransient)
	_, second := b.Acquire()
	if second == 0 {
		t.Fatal("second probe not admitted after first reported")
	}

	b.ReleaseProbe(first)
	if ok, _ := b.Acquire(); ok {
		t.Error("stale release freed the probe held by another caller")
	}

	if ok, probe := b.Acquire(); ok || probe != 0 {
		t.Errorf("Acquire while probe held = %v, %d", ok, probe)
	}
}

func TestBreaker_AcquireClosedIsNotProbe(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	ok, probe := b.Acquire()
	if !ok || probe != 0 {
		t.Errorf("Acquire on closed breaker = %v, %d, want true, 0", ok, probe)
	}
	b.ReleaseProbe(probe)
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New("cb", Config{Threshold: 1, Cooldown: time.Second},
		WithClock(clock.Now),
		WithStateChange(func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)

	b.RecordFailure(domain.CategoryQuota)
	clock.Advance(time.Second)
	b.Allow()
	b.RecordSuccess()

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_Concurrency(t *testing.T) {
	b, _ := newTestBreaker(1000, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Allow()
			b.RecordFailure(domain.CategoryQuota)
			b.Snapshot()
		}()
	}
	wg.Wait()

	if got := b.Snapshot().ConsecutiveFailures; got != 100 {
		t.Errorf("counter = %d, want 100", got)
	}
}
