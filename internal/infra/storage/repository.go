package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/athena/internal/core/domain"
)

var (
	// ErrSlotTaken is returned when a booking overlaps an existing one on
	// the same calendar.
	ErrSlotTaken = errors.New("time slot already booked")
)

// PreferencesRepository handles manager scheduling preferences
type PreferencesRepository interface {
	// Get retrieves preferences; (nil, nil) when the manager has none
	Get(ctx context.Context, managerID string) (*domain.SchedulingPreferences, error)

	// Save creates or replaces preferences
	Save(ctx context.Context, prefs *domain.SchedulingPreferences) error

	// Delete removes stored preferences
	Delete(ctx context.Context, managerID string) error
}

// BookingRepository handles meetings booked by the assistant
type BookingRepository interface {
	// CreateBooking saves a booking, failing with ErrSlotTaken on overlap
	CreateBooking(ctx context.Context, b *domain.Booking) error

	// ListBookings retrieves bookings overlapping [start, end) ordered by start
	ListBookings(ctx context.Context, calendarID string, start, end time.Time) ([]*domain.Booking, error)

	// GetBooking retrieves a booking by ID; (nil, nil) when absent
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)

	// DeleteBooking cancels a booking
	DeleteBooking(ctx context.Context, id string) error

	// DeleteBookingsBefore removes bookings that ended at or before the
	// given time and returns how many were removed
	DeleteBookingsBefore(ctx context.Context, before time.Time) (int64, error)
}

// HistoryStore keeps recent conversation turns and state per contact
type HistoryStore interface {
	// Append adds a message and trims history to the configured length
	Append(ctx context.Context, contactID string, msg domain.Message) error

	// Recent returns up to n messages, oldest first
	Recent(ctx context.Context, contactID string, n int) ([]domain.Message, error)

	// State returns the conversation state; StateIdle when unset
	State(ctx context.Context, contactID string) (domain.ConversationState, error)

	// SetState stores the conversation state
	SetState(ctx context.Context, contactID string, state domain.ConversationState) error

	// Clear drops history and state
	Clear(ctx context.Context, contactID string) error
}
