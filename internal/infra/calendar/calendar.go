// Package calendar reads busy time and books meetings on managed calendars.
//
// Busy time comes from two places: external ICS feeds and the bookings the
// assistant has made itself. Every operation goes through Service, which
// guards the calendar with its own circuit breaker, retry policy, request
// pacing and daily quota. The LLM breaker is not shared.
package calendar

import (
	"context"
	"time"

	"github.com/vietddude/athena/internal/core/domain"
)

// Calendar is the collaborator the assistant schedules against.
type Calendar interface {
	// BusyIntervals returns occupied spans overlapping [start, end), sorted
	// by start. Results are fetched fresh on every call.
	BusyIntervals(ctx context.Context, calendarID string, start, end time.Time) ([]domain.BusyInterval, error)

	// CreateEvent books a meeting and returns its event ID.
	CreateEvent(
		ctx context.Context,
		calendarID string,
		attendees []string,
		start, end time.Time,
		title string,
	) (string, error)
}

// BusySource produces busy intervals for a calendar.
type BusySource interface {
	Busy(ctx context.Context, calendarID string, start, end time.Time) ([]domain.BusyInterval, error)
}

// BookingStore persists meetings booked by the assistant.
type BookingStore interface {
	// CreateBooking stores b, returning ErrSlotTaken when it overlaps an
	// existing booking on the same calendar.
	CreateBooking(ctx context.Context, b *domain.Booking) error

	// ListBookings returns bookings overlapping [start, end), sorted by start.
	ListBookings(ctx context.Context, calendarID string, start, end time.Time) ([]*domain.Booking, error)
}

// QuotaCounter counts calls under a key that expires after ttl.
type QuotaCounter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
