// Package scheduling finds free meeting windows in a manager's calendar.
//
// The engine is stateless. Busy intervals are supplied by the caller on
// every call and never cached.
package scheduling

import (
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/athena/internal/core/domain"
)

const (
	// DefaultDuration is used when the caller does not specify one.
	DefaultDuration = 60

	// DefaultMinCount is how many slots are gathered when minCount <= 0.
	DefaultMinCount = 3

	// Granularity is both the start-time step and the duration unit.
	Granularity = 15 * time.Minute
)

// ErrInvalidDuration is returned before any search when the duration is not
// a positive multiple of 15 minutes.
var ErrInvalidDuration = errors.New("duration must be a positive multiple of 15 minutes")

// Window bounds a search. Slots must lie entirely within [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// NextDays returns a window from now covering the given number of days.
func NextDays(now time.Time, days int) Window {
	return Window{Start: now, End: now.AddDate(0, 0, days)}
}

// Engine searches for slots. Now is injectable for tests.
type Engine struct {
	Now func() time.Time
}

// NewEngine returns an engine using the wall clock.
func NewEngine() *Engine {
	return &Engine{Now: time.Now}
}

// FindSlots runs a search with the wall clock.
func FindSlots(
	busy []domain.BusyInterval,
	prefs domain.SchedulingPreferences,
	duration int,
	minCount int,
	window Window,
) ([]domain.CandidateSlot, error) {
	return NewEngine().FindSlots(busy, prefs, duration, minCount, window)
}

// FindSlots returns up to minCount slots of duration minutes in ascending
// order. A slot never overlaps a busy interval widened by the preference
// buffers, never leaves working hours or days and never starts in the past.
func (e *Engine) FindSlots(
	busy []domain.BusyInterval,
	prefs domain.SchedulingPreferences,
	duration int,
	minCount int,
	window Window,
) ([]domain.CandidateSlot, error) {
	if duration == 0 {
		duration = prefs.DefaultDuration
		if duration == 0 {
			duration = DefaultDuration
		}
	}
	if err := ValidateDuration(duration); err != nil {
		return nil, err
	}
	if minCount <= 0 {
		minCount = DefaultMinCount
	}
	if prefs.WorkStartHour < 0 || prefs.WorkEndHour > 24 || prefs.WorkStartHour >= prefs.WorkEndHour {
		return nil, fmt.Errorf("%w: working hours %d-%d", ErrInvalidPreferences, prefs.WorkStartHour, prefs.WorkEndHour)
	}

	loc, err := prefs.Location()
	if err != nil {
		return nil, fmt.Errorf("%w: time zone %q: %v", ErrInvalidPreferences, prefs.TimeZone, err)
	}

	now := time.Now()
	if e.Now != nil {
		now = e.Now()
	}

	length := time.Duration(duration) * time.Minute
	blocked := expand(busy, prefs)

	var slots []domain.CandidateSlot
	start := window.Start.In(loc)
	for day := midnight(start); day.Before(window.End); day = day.AddDate(0, 0, 1) {
		if !prefs.IsWorkingDay(day.Weekday()) {
			continue
		}

		dayStart := time.Date(day.Year(), day.Month(), day.Day(), prefs.WorkStartHour, 0, 0, 0, loc)
		dayEnd := time.Date(day.Year(), day.Month(), day.Day(), prefs.WorkEndHour, 0, 0, 0, loc)

		for t := dayStart; !t.Add(length).After(dayEnd); t = t.Add(Granularity) {
			end := t.Add(length)
			if t.Before(now) || t.Before(window.Start) || end.After(window.End) {
				continue
			}
			if overlapsAny(blocked, t, end) {
				continue
			}

			slots = append(slots, domain.CandidateSlot{Start: t, End: end})
			if len(slots) >= minCount {
				return slots, nil
			}
		}
	}
	return slots, nil
}

// ValidateDuration checks that minutes is a positive multiple of 15.
func ValidateDuration(minutes int) error {
	if minutes <= 0 || minutes%int(Granularity/time.Minute) != 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidDuration, minutes)
	}
	return nil
}

func expand(busy []domain.BusyInterval, prefs domain.SchedulingPreferences) []domain.BusyInterval {
	before := time.Duration(prefs.BufferBefore) * time.Minute
	after := time.Duration(prefs.BufferAfter) * time.Minute

	out := make([]domain.BusyInterval, 0, len(busy))
	for _, b := range busy {
		out = append(out, domain.BusyInterval{
			Start: b.Start.Add(-before),
			End:   b.End.Add(after),
		})
	}
	return out
}

func overlapsAny(blocked []domain.BusyInterval, start, end time.Time) bool {
	for _, b := range blocked {
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
