package worker

import (
	"context"
	"log/slog"
	"time"
)

// BookingPruner is the slice of the booking repository the pruner needs.
type BookingPruner interface {
	DeleteBookingsBefore(ctx context.Context, before time.Time) (int64, error)
}

// Pruner deletes old bookings based on retention policy.
type Pruner struct {
	retention time.Duration
	bookings  BookingPruner
	now       func() time.Time
}

// NewPruner creates a new Pruner worker.
func NewPruner(retention time.Duration, bookings BookingPruner) *Pruner {
	return &Pruner{
		retention: retention,
		bookings:  bookings,
		now:       time.Now,
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check every 10% of the retention period, between 1 minute and 1 hour
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	cutoff := p.now().Add(-p.retention)

	n, err := p.bookings.DeleteBookingsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Failed to prune bookings", "cutoff", cutoff, "error", err)
		return
	}
	if n > 0 {
		slog.Info("Pruned old bookings", "count", n, "cutoff", cutoff)
	}
}
