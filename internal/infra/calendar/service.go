package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vietddude/athena/internal/core/domain"
	"github.com/vietddude/athena/internal/infra/llm/breaker"
	"github.com/vietddude/athena/internal/infra/llm/routing"
	"github.com/vietddude/athena/internal/metrics"
)

// Config holds calendar client policy.
type Config struct {
	// Feeds maps calendar IDs to published ICS URLs.
	Feeds    map[string]string `yaml:"feeds"`
	TimeZone string            `yaml:"timezone"`
	Timeout  time.Duration     `yaml:"timeout"`

	// DailyQuota caps calendar operations per UTC day; 0 disables the cap.
	DailyQuota int     `yaml:"daily_quota"`
	QPS        float64 `yaml:"qps"`
	Burst      int     `yaml:"burst"`

	// MaxRetries caps attempts for retryable failures; zero makes one.
	MaxRetries     int            `yaml:"max_retries"`
	InitialBackoff time.Duration  `yaml:"initial_backoff"`
	MaxBackoff     time.Duration  `yaml:"max_backoff"`
	Breaker        breaker.Config `yaml:"breaker"`
}

// DefaultConfig mirrors the calendar provider's published limits.
var DefaultConfig = Config{
	TimeZone:       "UTC",
	Timeout:        10 * time.Second,
	DailyQuota:     1000,
	QPS:            5,
	Burst:          5,
	MaxRetries:     3,
	InitialBackoff: time.Second,
	MaxBackoff:     32 * time.Second,
	Breaker:        breaker.DefaultConfig,
}

func (c Config) withDefaults() Config {
	d := DefaultConfig
	if c.TimeZone == "" {
		c.TimeZone = d.TimeZone
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.QPS <= 0 {
		c.QPS = d.QPS
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	return c
}

// Option configures a Service.
type Option func(*Service)

// WithQuotaCounter enables the daily quota using a shared counter.
func WithQuotaCounter(q QuotaCounter) Option {
	return func(s *Service) { s.quota = q }
}

// WithBreaker replaces the breaker built from Config.Breaker.
func WithBreaker(b *breaker.Breaker) Option {
	return func(s *Service) { s.breaker = b }
}

// WithClock overrides the time source used for quota keys.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service implements Calendar on top of a busy source and a booking store.
type Service struct {
	cfg      Config
	source   BusySource
	bookings BookingStore
	quota    QuotaCounter
	breaker  *breaker.Breaker
	limiter  *rate.Limiter
	backoff  routing.BackoffPolicy
	now      func() time.Time
	log      *slog.Logger
}

var _ Calendar = (*Service)(nil)

// NewService creates a calendar service. source may be nil when only
// bookings define busy time.
func NewService(cfg Config, source BusySource, bookings BookingStore, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:      cfg,
		source:   source,
		bookings: bookings,
		limiter:  rate.NewLimiter(rate.Limit(cfg.QPS), cfg.Burst),
		backoff: routing.BackoffPolicy{
			Initial: cfg.InitialBackoff,
			Max:     cfg.MaxBackoff,
			Jitter:  true,
		},
		now: time.Now,
		log: slog.Default().With("component", "calendar"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breaker == nil {
		s.breaker = breaker.New("calendar", cfg.Breaker)
	}
	return s
}

// Breaker exposes the calendar breaker.
func (s *Service) Breaker() *breaker.Breaker {
	return s.breaker
}

// BusyIntervals merges feed busy time with existing bookings.
func (s *Service) BusyIntervals(ctx context.Context, calendarID string, start, end time.Time) ([]domain.BusyInterval, error) {
	var busy []domain.BusyInterval
	err := s.call(ctx, "busy", func(ctx context.Context) error {
		busy = busy[:0]
		if s.source != nil {
			external, err := s.source.Busy(ctx, calendarID, start, end)
			if err != nil {
				return err
			}
			busy = append(busy, external...)
		}

		booked, err := s.bookings.ListBookings(ctx, calendarID, start, end)
		if err != nil {
			return fmt.Errorf("list bookings: %w", err)
		}
		for _, b := range booked {
			busy = append(busy, domain.BusyInterval{Start: b.Start, End: b.End})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })
	return busy, nil
}

// CreateEvent books a meeting. ErrSlotTaken is returned unwrapped when the
// time was taken in the meantime.
func (s *Service) CreateEvent(
	ctx context.Context,
	calendarID string,
	attendees []string,
	start, end time.Time,
	title string,
) (string, error) {
	if !end.After(start) {
		return "", fmt.Errorf("create event: end %s not after start %s", end, start)
	}

	b := &domain.Booking{
		ID:         uuid.NewString(),
		CalendarID: calendarID,
		Title:      title,
		Attendees:  attendees,
		Start:      start,
		End:        end,
		CreatedAt:  s.now(),
	}
	err := s.call(ctx, "create", func(ctx context.Context) error {
		return s.bookings.CreateBooking(ctx, b)
	})
	if err != nil {
		return "", err
	}

	s.log.Info("Meeting booked",
		"calendar", calendarID,
		"event_id", b.ID,
		"start", start.Format(time.RFC3339),
		"attendees", len(attendees),
	)
	return b.ID, nil
}

// Export writes bookings overlapping [start, end) as an ICS feed.
func (s *Service) Export(ctx context.Context, w io.Writer, calendarID string, start, end time.Time) error {
	booked, err := s.bookings.ListBookings(ctx, calendarID, start, end)
	if err != nil {
		return fmt.Errorf("list bookings: %w", err)
	}
	return ExportICS(w, booked)
}

// call runs fn under the breaker, limiter, quota and retry policy.
func (s *Service) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ok, probe := s.breaker.Acquire()
	if !ok {
		metrics.CalendarCalls.WithLabelValues(op, "breaker_open").Inc()
		return &Error{Op: op, Category: domain.CategoryQuota, Err: ErrCalendarUnavailable}
	}

	for attempt := 1; ; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			s.breaker.ReleaseProbe(probe)
			return err
		}
		if err := s.consumeQuota(ctx, op); err != nil {
			s.breaker.RecordFailure(domain.CategoryQuota)
			metrics.CalendarCalls.WithLabelValues(op, domain.CategoryQuota.String()).Inc()
			return err
		}

		err := fn(ctx)
		if err == nil {
			s.breaker.RecordSuccess()
			metrics.CalendarCalls.WithLabelValues(op, "success").Inc()
			return nil
		}
		if errors.Is(err, ErrSlotTaken) {
			s.breaker.ReleaseProbe(probe)
			metrics.CalendarCalls.WithLabelValues(op, "conflict").Inc()
			return err
		}
		if ctx.Err() != nil {
			s.breaker.ReleaseProbe(probe)
			return ctx.Err()
		}

		category := Classify(err)
		s.breaker.RecordFailure(category)
		metrics.CalendarCalls.WithLabelValues(op, category.String()).Inc()

		if !category.Retryable() || attempt >= s.cfg.MaxRetries {
			s.log.Warn("Calendar operation failed",
				"op", op,
				"attempts", attempt,
				"category", category.String(),
				"error", err,
			)
			return &Error{Op: op, Category: category, Err: err}
		}

		delay := s.backoff.NextDelay(attempt)
		s.log.Debug("Retrying calendar operation", "op", op, "attempt", attempt, "delay", delay)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// consumeQuota counts one call against today's budget. Counter failures
// are logged and do not block the call.
func (s *Service) consumeQuota(ctx context.Context, op string) error {
	if s.quota == nil || s.cfg.DailyQuota <= 0 {
		return nil
	}

	key := "calendar:quota:" + s.now().UTC().Format("2006-01-02")
	used, err := s.quota.Incr(ctx, key, 48*time.Hour)
	if err != nil {
		s.log.Warn("Calendar quota counter unavailable", "error", err)
		return nil
	}
	metrics.CalendarQuotaUsed.Set(float64(used))

	if used > int64(s.cfg.DailyQuota) {
		return &Error{
			Op:       op,
			Category: domain.CategoryQuota,
			Err:      fmt.Errorf("%w: %d of %d", ErrDailyQuotaExceeded, used, s.cfg.DailyQuota),
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
