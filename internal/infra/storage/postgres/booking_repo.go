package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/vietddude/athena/internal/core/domain"
	"github.com/vietddude/athena/internal/infra/storage"
)

// exclusionViolation is the SQLSTATE raised by bookings_no_overlap.
const exclusionViolation = "23P01"

// BookingRepo implements storage.BookingRepository using PostgreSQL.
type BookingRepo struct {
	db *DB
}

// NewBookingRepo creates a new PostgreSQL booking repository.
func NewBookingRepo(db *DB) *BookingRepo {
	return &BookingRepo{db: db}
}

type bookingRow struct {
	ID         string         `db:"id"`
	CalendarID string         `db:"calendar_id"`
	Title      string         `db:"title"`
	Attendees  pq.StringArray `db:"attendees"`
	StartAt    time.Time      `db:"start_at"`
	EndAt      time.Time      `db:"end_at"`
	CreatedAt  time.Time      `db:"created_at"`
}

func toBookingRow(b *domain.Booking) bookingRow {
	attendees := pq.StringArray(b.Attendees)
	if attendees == nil {
		attendees = pq.StringArray{}
	}
	created := b.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return bookingRow{
		ID:         b.ID,
		CalendarID: b.CalendarID,
		Title:      b.Title,
		Attendees:  attendees,
		StartAt:    b.Start,
		EndAt:      b.End,
		CreatedAt:  created,
	}
}

func (r bookingRow) toDomain() *domain.Booking {
	return &domain.Booking{
		ID:         r.ID,
		CalendarID: r.CalendarID,
		Title:      r.Title,
		Attendees:  []string(r.Attendees),
		Start:      r.StartAt,
		End:        r.EndAt,
		CreatedAt:  r.CreatedAt,
	}
}

// CreateBooking inserts a booking. The exclusion constraint rejects overlaps
// on the same calendar.
func (r *BookingRepo) CreateBooking(ctx context.Context, b *domain.Booking) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO bookings (id, calendar_id, title, attendees, start_at, end_at, created_at)
		VALUES (:id, :calendar_id, :title, :attendees, :start_at, :end_at, :created_at)`,
		toBookingRow(b))
	if isExclusionViolation(err) {
		return storage.ErrSlotTaken
	}
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

// ListBookings retrieves bookings overlapping [start, end).
func (r *BookingRepo) ListBookings(
	ctx context.Context,
	calendarID string,
	start, end time.Time,
) ([]*domain.Booking, error) {
	var rows []bookingRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, calendar_id, title, attendees, start_at, end_at, created_at
		FROM bookings
		WHERE calendar_id = $1 AND start_at < $3 AND end_at > $2
		ORDER BY start_at`, calendarID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}

	bookings := make([]*domain.Booking, 0, len(rows))
	for _, row := range rows {
		bookings = append(bookings, row.toDomain())
	}
	return bookings, nil
}

// GetBooking retrieves a booking by ID.
func (r *BookingRepo) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	var row bookingRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, calendar_id, title, attendees, start_at, end_at, created_at
		FROM bookings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return row.toDomain(), nil
}

// DeleteBooking removes a booking.
func (r *BookingRepo) DeleteBooking(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM bookings WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	return nil
}

// DeleteBookingsBefore removes bookings that ended at or before the cutoff.
func (r *BookingRepo) DeleteBookingsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bookings WHERE end_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune bookings: %w", err)
	}
	return res.RowsAffected()
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == exclusionViolation
}

var (
	_ storage.BookingRepository     = (*BookingRepo)(nil)
	_ storage.PreferencesRepository = (*PreferencesRepo)(nil)
)
