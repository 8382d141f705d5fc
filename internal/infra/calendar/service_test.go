package calendar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/athena/internal/core/domain"
	"github.com/vietddude/athena/internal/infra/llm/breaker"
	"github.com/vietddude/athena/internal/infra/storage/memory"
)

// fakeSource returns scripted errors, then the configured intervals.
type fakeSource struct {
	mu    sync.Mutex
	errs  []error
	busy  []domain.BusyInterval
	calls int
}

func (f *fakeSource) Busy(ctx context.Context, calendarID string, start, end time.Time) ([]domain.BusyInterval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.busy, nil
}

func testCalendarConfig() Config {
	return Config{
		QPS:            1000,
		Burst:          100,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Breaker:        breaker.Config{Threshold: 3, Cooldown: time.Minute},
	}
}

func newTestService(src BusySource, opts ...Option) (*Service, *memory.MemoryStorage) {
	store := memory.NewMemoryStorage()
	return NewService(testCalendarConfig(), src, memory.NewBookingRepo(store), opts...), store
}

func TestService_BusyMergesBookings(t *testing.T) {
	src := &fakeSource{busy: []domain.BusyInterval{{Start: utc(2, 13, 0), End: utc(2, 14, 0)}}}
	svc, _ := newTestService(src)
	ctx := context.Background()

	if _, err := svc.CreateEvent(ctx, "cal", []string{"a@example.com"}, utc(2, 10, 0), utc(2, 11, 0), "Sync"); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	busy, err := svc.BusyIntervals(ctx, "cal", utc(2, 0, 0), utc(3, 0, 0))
	if err != nil {
		t.Fatalf("BusyIntervals: %v", err)
	}
	if len(busy) != 2 || !busy[0].Start.Equal(utc(2, 10, 0)) || !busy[1].Start.Equal(utc(2, 13, 0)) {
		t.Errorf("busy = %v", busy)
	}
}

func TestService_RetriesTransient(t *testing.T) {
	src := &fakeSource{errs: []error{&HTTPError{StatusCode: 503}, &HTTPError{StatusCode: 403}}}
	svc, _ := newTestService(src)

	if _, err := svc.BusyIntervals(context.Background(), "cal", utc(2, 0, 0), utc(3, 0, 0)); err != nil {
		t.Fatalf("BusyIntervals: %v", err)
	}
	if src.calls != 3 {
		t.Errorf("calls = %d, want 3", src.calls)
	}
}

func TestService_RetriesExhausted(t *testing.T) {
	src := &fakeSource{errs: []error{
		&HTTPError{StatusCode: 503}, &HTTPError{StatusCode: 503}, &HTTPError{StatusCode: 503},
	}}
	svc, _ := newTestService(src)

	_, err := svc.BusyIntervals(context.Background(), "cal", utc(2, 0, 0), utc(3, 0, 0))
	var ce *Error
	if !errors.As(err, &ce) || ce.Category != domain.CategoryTransient {
		t.Fatalf("err = %v, want transient *Error", err)
	}
	if src.calls != 3 {
		t.Errorf("calls = %d, want exactly MaxRetries (3)", src.calls)
	}
}

func TestService_AuthNotRetried(t *testing.T) {
	src := &fakeSource{errs: []error{&HTTPError{StatusCode: 401}}}
	svc, _ := newTestService(src)

	_, err := svc.BusyIntervals(context.Background(), "cal", utc(2, 0, 0), utc(3, 0, 0))
	if Classify(err) != domain.CategoryAuth {
		t.Fatalf("err = %v, want auth", err)
	}
	if src.calls != 1 {
		t.Errorf("calls = %d, want 1", src.calls)
	}
}

func TestService_QuotaOpensOwnBreaker(t *testing.T) {
	src := &fakeSource{errs: []error{
		&HTTPError{StatusCode: 429}, &HTTPError{StatusCode: 429}, &HTTPError{StatusCode: 429},
	}}
	svc, _ := newTestService(src)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.BusyIntervals(ctx, "cal", utc(2, 0, 0), utc(3, 0, 0))
		if Classify(err) != domain.CategoryQuota {
			t.Fatalf("call %d err = %v, want quota", i, err)
		}
	}
	if s := svc.Breaker().State(); s != breaker.StateOpen {
		t.Fatalf("breaker = %v, want open", s)
	}

	_, err := svc.BusyIntervals(ctx, "cal", utc(2, 0, 0), utc(3, 0, 0))
	if !errors.Is(err, ErrCalendarUnavailable) {
		t.Errorf("err = %v, want ErrCalendarUnavailable", err)
	}
	if src.calls != 3 {
		t.Errorf("calls = %d, want 3", src.calls)
	}
}

func TestService_DailyQuota(t *testing.T) {
	store := memory.NewMemoryStorage()
	cfg := testCalendarConfig()
	cfg.DailyQuota = 2
	src := &fakeSource{}
	svc := NewService(cfg, src, memory.NewBookingRepo(store), WithQuotaCounter(memory.NewQuotaCounter(store)))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.BusyIntervals(ctx, "cal", utc(2, 0, 0), utc(3, 0, 0)); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	_, err := svc.BusyIntervals(ctx, "cal", utc(2, 0, 0), utc(3, 0, 0))
	if !errors.Is(err, ErrDailyQuotaExceeded) {
		t.Fatalf("err = %v, want ErrDailyQuotaExceeded", err)
	}
	if Classify(err) != domain.CategoryQuota {
		t.Errorf("category = %v, want quota", Classify(err))
	}
	if src.calls != 2 {
		t.Errorf("source calls = %d, want 2", src.calls)
	}
}

func TestService_CreateEventConflict(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	id, err := svc.CreateEvent(ctx, "cal", nil, utc(2, 10, 0), utc(2, 11, 0), "First")
	if err != nil || id == "" {
		t.Fatalf("CreateEvent = %q, %v", id, err)
	}

	_, err = svc.CreateEvent(ctx, "cal", nil, utc(2, 10, 30), utc(2, 11, 30), "Second")
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("err = %v, want ErrSlotTaken", err)
	}
	if got := svc.Breaker().Snapshot().ConsecutiveFailures; got != 0 {
		t.Errorf("conflict counted as a breaker failure: %d", got)
	}

	if _, err := svc.CreateEvent(ctx, "cal", nil, utc(2, 12, 0), utc(2, 11, 0), "Backwards"); err == nil {
		t.Error("expected error for end before start")
	}
}

func TestService_CancelledCallReleasesProbe(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	b := breaker.New("calendar-test", breaker.Config{Threshold: 1, Cooldown: time.Minute},
		breaker.WithClock(func() time.Time { return now }))
	b.RecordFailure(domain.CategoryQuota)
	now = now.Add(time.Minute)

	src := &fakeSource{}
	svc, _ := newTestService(src, WithBreaker(b))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.BusyIntervals(ctx, "cal", utc(2, 0, 0), utc(3, 0, 0)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	if _, err := svc.BusyIntervals(context.Background(), "cal", utc(2, 0, 0), utc(3, 0, 0)); err != nil {
		t.Fatalf("next call refused after abandoned probe: %v", err)
	}
	if src.calls != 1 {
		t.Errorf("source calls = %d, want 1", src.calls)
	}
	if s := b.State(); s != breaker.StateClosed {
		t.Errorf("breaker = %v, want closed", s)
	}
}
