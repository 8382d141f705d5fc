package domain

import (
	"time"
)

// Booking is a meeting created on a managed calendar.
type Booking struct {
	ID         string
	CalendarID string
	Title      string
	Attendees  []string
	Start      time.Time
	End        time.Time
	CreatedAt  time.Time
}
