package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/athena/internal/core/domain"
)

// Preference bounds.
const (
	MaxBufferMinutes   = 120
	MinDurationMinutes = 15
	MaxDurationMinutes = 480
	DefaultTimeZone    = "America/New_York"
)

var (
	// ErrInvalidPreferences wraps every preference validation failure.
	ErrInvalidPreferences = errors.New("invalid scheduling preferences")

	// ErrPreferencesNotFound is returned when a manager has no stored
	// preferences and the caller asked not to fall back to defaults.
	ErrPreferencesNotFound = errors.New("scheduling preferences not found")
)

// DefaultPreferences returns the preferences used for managers who have not
// configured their own: 9 to 5, Monday to Friday, 15 minute buffers.
func DefaultPreferences(managerID string) domain.SchedulingPreferences {
	return domain.SchedulingPreferences{
		ManagerID:     managerID,
		WorkStartHour: 9,
		WorkEndHour:   17,
		BufferBefore:  15,
		BufferAfter:   15,
		WorkingDays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
		},
		DefaultDuration: DefaultDuration,
		TimeZone:        DefaultTimeZone,
	}
}

// Validate reports every problem with p, joined, each wrapping
// ErrInvalidPreferences.
func Validate(p domain.SchedulingPreferences) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidPreferences}, args...)...))
	}

	if p.WorkStartHour < 0 || p.WorkStartHour > 23 {
		add("work start hour %d out of range 0-23", p.WorkStartHour)
	}
	if p.WorkEndHour < 1 || p.WorkEndHour > 24 {
		add("work end hour %d out of range 1-24", p.WorkEndHour)
	}
	if p.WorkEndHour-p.WorkStartHour < 1 {
		add("working window %d-%d shorter than one hour", p.WorkStartHour, p.WorkEndHour)
	}
	if p.BufferBefore < 0 || p.BufferBefore > MaxBufferMinutes {
		add("buffer before %d out of range 0-%d", p.BufferBefore, MaxBufferMinutes)
	}
	if p.BufferAfter < 0 || p.BufferAfter > MaxBufferMinutes {
		add("buffer after %d out of range 0-%d", p.BufferAfter, MaxBufferMinutes)
	}
	if p.DefaultDuration < MinDurationMinutes || p.DefaultDuration > MaxDurationMinutes ||
		p.DefaultDuration%MinDurationMinutes != 0 {
		add("default duration %d must be a multiple of 15 between %d and %d",
			p.DefaultDuration, MinDurationMinutes, MaxDurationMinutes)
	}
	if len(p.WorkingDays) == 0 {
		add("no working days")
	}
	for _, d := range p.WorkingDays {
		if d < time.Sunday || d > time.Saturday {
			add("invalid weekday %d", d)
		}
	}
	if _, err := p.Location(); err != nil {
		add("time zone %q: %v", p.TimeZone, err)
	}

	return errors.Join(errs...)
}

// PreferencesGetter reads stored preferences. A nil result with a nil error
// means none are stored.
type PreferencesGetter interface {
	Get(ctx context.Context, managerID string) (*domain.SchedulingPreferences, error)
}

// Lookup returns the stored preferences for managerID, or
// ErrPreferencesNotFound when there are none.
func Lookup(ctx context.Context, repo PreferencesGetter, managerID string) (domain.SchedulingPreferences, error) {
	p, err := repo.Get(ctx, managerID)
	if err != nil {
		return domain.SchedulingPreferences{}, fmt.Errorf("get preferences for %s: %w", managerID, err)
	}
	if p == nil {
		return domain.SchedulingPreferences{}, fmt.Errorf("%w: %s", ErrPreferencesNotFound, managerID)
	}
	return *p, nil
}

// ParseWeekdays accepts names like "mon", "Tuesday" or "WED".
func ParseWeekdays(names []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(names))
	seen := make(map[time.Weekday]bool)
	for _, n := range names {
		d, ok := weekdayNames[normalizeDay(n)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown weekday %q", ErrInvalidPreferences, n)
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

func normalizeDay(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) > 3 {
		s = s[:3]
	}
	return s
}
