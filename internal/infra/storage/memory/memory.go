package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/athena/internal/core/domain"
	"github.com/vietddude/athena/internal/infra/storage"
)

// MemoryStorage backs every repository with mutex-guarded maps. It is used
// by tests and by `athena chat` when no database is configured.
type MemoryStorage struct {
	prefs    map[string]*domain.SchedulingPreferences
	bookings map[string]*domain.Booking
	history  map[string][]domain.Message
	states   map[string]domain.ConversationState
	counters map[string]counter
	mu       sync.RWMutex

	// HistoryLimit caps messages kept per contact.
	HistoryLimit int
	now          func() time.Time
}

type counter struct {
	value     int64
	expiresAt time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		prefs:        make(map[string]*domain.SchedulingPreferences),
		bookings:     make(map[string]*domain.Booking),
		history:      make(map[string][]domain.Message),
		states:       make(map[string]domain.ConversationState),
		counters:     make(map[string]counter),
		HistoryLimit: 50,
		now:          time.Now,
	}
}

// -----------------------------------------------------------------------------
// Preferences Repository
// -----------------------------------------------------------------------------

type PreferencesRepo struct {
	store *MemoryStorage
}

func NewPreferencesRepo(store *MemoryStorage) *PreferencesRepo {
	return &PreferencesRepo{store: store}
}

func (r *PreferencesRepo) Get(ctx context.Context, managerID string) (*domain.SchedulingPreferences, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	p, ok := r.store.prefs[managerID]
	if !ok {
		return nil, nil
	}
	cp := *p
	cp.WorkingDays = append([]time.Weekday(nil), p.WorkingDays...)
	return &cp, nil
}

func (r *PreferencesRepo) Save(ctx context.Context, prefs *domain.SchedulingPreferences) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *prefs
	cp.WorkingDays = append([]time.Weekday(nil), prefs.WorkingDays...)
	cp.UpdatedAt = r.store.now()
	r.store.prefs[prefs.ManagerID] = &cp
	return nil
}

func (r *PreferencesRepo) Delete(ctx context.Context, managerID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.prefs, managerID)
	return nil
}

// -----------------------------------------------------------------------------
// Booking Repository
// -----------------------------------------------------------------------------

type BookingRepo struct {
	store *MemoryStorage
}

func NewBookingRepo(store *MemoryStorage) *BookingRepo {
	return &BookingRepo{store: store}
}

func (r *BookingRepo) CreateBooking(ctx context.Context, b *domain.Booking) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, existing := range r.store.bookings {
		if existing.CalendarID == b.CalendarID &&
			b.Start.Before(existing.End) && b.End.After(existing.Start) {
			return storage.ErrSlotTaken
		}
	}
	cp := *b
	r.store.bookings[b.ID] = &cp
	return nil
}

func (r *BookingRepo) ListBookings(
	ctx context.Context,
	calendarID string,
	start, end time.Time,
) ([]*domain.Booking, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Booking
	for _, b := range r.store.bookings {
		if b.CalendarID == calendarID && b.Start.Before(end) && b.End.After(start) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (r *BookingRepo) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	b, ok := r.store.bookings[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (r *BookingRepo) DeleteBooking(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.bookings, id)
	return nil
}

func (r *BookingRepo) DeleteBookingsBefore(ctx context.Context, before time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for id, b := range r.store.bookings {
		if !b.End.After(before) {
			delete(r.store.bookings, id)
			n++
		}
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// History Store
// -----------------------------------------------------------------------------

type HistoryStore struct {
	store *MemoryStorage
}

func NewHistoryStore(store *MemoryStorage) *HistoryStore {
	return &HistoryStore{store: store}
}

func (h *HistoryStore) Append(ctx context.Context, contactID string, msg domain.Message) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	msgs := append(h.store.history[contactID], msg)
	if limit := h.store.HistoryLimit; limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	h.store.history[contactID] = msgs
	return nil
}

func (h *HistoryStore) Recent(ctx context.Context, contactID string, n int) ([]domain.Message, error) {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()
	msgs := h.store.history[contactID]
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]domain.Message(nil), msgs...), nil
}

func (h *HistoryStore) State(ctx context.Context, contactID string) (domain.ConversationState, error) {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()
	if s, ok := h.store.states[contactID]; ok {
		return s, nil
	}
	return domain.StateIdle, nil
}

func (h *HistoryStore) SetState(ctx context.Context, contactID string, state domain.ConversationState) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	h.store.states[contactID] = state
	return nil
}

func (h *HistoryStore) Clear(ctx context.Context, contactID string) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	delete(h.store.history, contactID)
	delete(h.store.states, contactID)
	return nil
}

// -----------------------------------------------------------------------------
// Quota Counter
// -----------------------------------------------------------------------------

type QuotaCounter struct {
	store *MemoryStorage
}

func NewQuotaCounter(store *MemoryStorage) *QuotaCounter {
	return &QuotaCounter{store: store}
}

// Incr increments key, starting a fresh count once the previous one expired.
func (q *QuotaCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	now := q.store.now()
	c := q.store.counters[key]
	if c.expiresAt.IsZero() || !now.Before(c.expiresAt) {
		c = counter{expiresAt: now.Add(ttl)}
	}
	c.value++
	q.store.counters[key] = c
	return c.value, nil
}

var (
	_ storage.PreferencesRepository = (*PreferencesRepo)(nil)
	_ storage.BookingRepository     = (*BookingRepo)(nil)
	_ storage.HistoryStore          = (*HistoryStore)(nil)
)
