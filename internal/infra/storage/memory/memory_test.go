package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/athena/internal/core/domain"
	"github.com/vietddude/athena/internal/infra/storage"
)

func TestBookingRepo_RejectsOverlap(t *testing.T) {
	ctx := context.Background()
	repo := NewBookingRepo(NewMemoryStorage())
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	first := &domain.Booking{ID: "a", CalendarID: "cal", Start: base, End: base.Add(time.Hour)}
	if err := repo.CreateBooking(ctx, first); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	tests := []struct {
		name    string
		booking *domain.Booking
		wantErr error
	}{
		{"overlap", &domain.Booking{ID: "b", CalendarID: "cal", Start: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute)}, storage.ErrSlotTaken},
		{"adjacent", &domain.Booking{ID: "c", CalendarID: "cal", Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)}, nil},
		{"other calendar", &domain.Booking{ID: "d", CalendarID: "other", Start: base, End: base.Add(time.Hour)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := repo.CreateBooking(ctx, tt.booking); !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateBooking() = %v, want %v", err, tt.wantErr)
			}
		})
	}

	got, err := repo.ListBookings(ctx, "cal", base, base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("ListBookings: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("ListBookings = %v", got)
	}
}

func TestHistoryStore_TrimsAndOrders(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	store.HistoryLimit = 3
	h := NewHistoryStore(store)

	for _, text := range []string{"1", "2", "3", "4"} {
		if err := h.Append(ctx, "c1", domain.Message{Role: domain.RoleUser, Text: text}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recent, err := h.Recent(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Text != "3" || recent[1].Text != "4" {
		t.Errorf("Recent = %v", recent)
	}

	all, _ := h.Recent(ctx, "c1", 0)
	if len(all) != 3 {
		t.Errorf("kept %d messages, want 3", len(all))
	}

	state, _ := h.State(ctx, "c1")
	if state != domain.StateIdle {
		t.Errorf("default state = %s", state)
	}
	_ = h.SetState(ctx, "c1", domain.StateCollectingInfo)
	_ = h.Clear(ctx, "c1")
	if state, _ := h.State(ctx, "c1"); state != domain.StateIdle {
		t.Errorf("state after Clear = %s", state)
	}
}

func TestQuotaCounter_Expires(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	q := NewQuotaCounter(store)

	for i := int64(1); i <= 3; i++ {
		if n, _ := q.Incr(ctx, "k", time.Hour); n != i {
			t.Fatalf("Incr = %d, want %d", n, i)
		}
	}

	now = now.Add(time.Hour)
	if n, _ := q.Incr(ctx, "k", time.Hour); n != 1 {
		t.Errorf("Incr after expiry = %d, want 1", n)
	}
}

func TestPreferencesRepo_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewPreferencesRepo(NewMemoryStorage())

	if p, err := repo.Get(ctx, "m1"); p != nil || err != nil {
		t.Fatalf("Get missing = %v, %v", p, err)
	}

	in := &domain.SchedulingPreferences{ManagerID: "m1", WorkStartHour: 8, WorkingDays: []time.Weekday{time.Monday}}
	if err := repo.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	in.WorkingDays[0] = time.Sunday

	got, err := repo.Get(ctx, "m1")
	if err != nil || got == nil {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if got.WorkStartHour != 8 || got.WorkingDays[0] != time.Monday {
		t.Errorf("stored preferences aliased caller data: %+v", got)
	}
}
