package domain

import (
	"time"
)

// BusyInterval is an occupied span on a calendar.
type BusyInterval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether [start, end) intersects the interval.
func (b BusyInterval) Overlaps(start, end time.Time) bool {
	return start.Before(b.End) && end.After(b.Start)
}

// CandidateSlot is a free window satisfying every scheduling constraint.
type CandidateSlot struct {
	Start time.Time
	End   time.Time
}

// Duration returns the slot length.
func (s CandidateSlot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}
