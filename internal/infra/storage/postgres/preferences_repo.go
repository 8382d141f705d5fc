package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/athena/internal/core/domain"
)

// PreferencesRepo implements storage.PreferencesRepository using PostgreSQL.
type PreferencesRepo struct {
	db *DB
}

// NewPreferencesRepo creates a new PostgreSQL preferences repository.
func NewPreferencesRepo(db *DB) *PreferencesRepo {
	return &PreferencesRepo{db: db}
}

type preferencesRow struct {
	ManagerID       string        `db:"manager_id"`
	WorkStartHour   int           `db:"work_start_hour"`
	WorkEndHour     int           `db:"work_end_hour"`
	BufferBefore    int           `db:"buffer_before"`
	BufferAfter     int           `db:"buffer_after"`
	WorkingDays     pq.Int64Array `db:"working_days"`
	DefaultDuration int           `db:"default_duration"`
	TimeZone        string        `db:"time_zone"`
	UpdatedAt       time.Time     `db:"updated_at"`
}

func toPreferencesRow(p *domain.SchedulingPreferences) preferencesRow {
	days := make(pq.Int64Array, len(p.WorkingDays))
	for i, d := range p.WorkingDays {
		days[i] = int64(d)
	}
	return preferencesRow{
		ManagerID:       p.ManagerID,
		WorkStartHour:   p.WorkStartHour,
		WorkEndHour:     p.WorkEndHour,
		BufferBefore:    p.BufferBefore,
		BufferAfter:     p.BufferAfter,
		WorkingDays:     days,
		DefaultDuration: p.DefaultDuration,
		TimeZone:        p.TimeZone,
		UpdatedAt:       p.UpdatedAt,
	}
}

func (r preferencesRow) toDomain() *domain.SchedulingPreferences {
	days := make([]time.Weekday, len(r.WorkingDays))
	for i, d := range r.WorkingDays {
		days[i] = time.Weekday(d)
	}
	return &domain.SchedulingPreferences{
		ManagerID:       r.ManagerID,
		WorkStartHour:   r.WorkStartHour,
		WorkEndHour:     r.WorkEndHour,
		BufferBefore:    r.BufferBefore,
		BufferAfter:     r.BufferAfter,
		WorkingDays:     days,
		DefaultDuration: r.DefaultDuration,
		TimeZone:        r.TimeZone,
		UpdatedAt:       r.UpdatedAt,
	}
}

// Get retrieves preferences for a manager.
func (r *PreferencesRepo) Get(ctx context.Context, managerID string) (*domain.SchedulingPreferences, error) {
	var row preferencesRow
	err := r.db.GetContext(ctx, &row, `
		SELECT manager_id, work_start_hour, work_end_hour, buffer_before, buffer_after,
		       working_days, default_duration, time_zone, updated_at
		FROM scheduling_preferences
		WHERE manager_id = $1`, managerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}
	return row.toDomain(), nil
}

// Save upserts preferences.
func (r *PreferencesRepo) Save(ctx context.Context, prefs *domain.SchedulingPreferences) error {
	row := toPreferencesRow(prefs)
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO scheduling_preferences (
			manager_id, work_start_hour, work_end_hour, buffer_before, buffer_after,
			working_days, default_duration, time_zone, updated_at
		) VALUES (
			:manager_id, :work_start_hour, :work_end_hour, :buffer_before, :buffer_after,
			:working_days, :default_duration, :time_zone, now()
		)
		ON CONFLICT (manager_id) DO UPDATE SET
			work_start_hour  = EXCLUDED.work_start_hour,
			work_end_hour    = EXCLUDED.work_end_hour,
			buffer_before    = EXCLUDED.buffer_before,
			buffer_after     = EXCLUDED.buffer_after,
			working_days     = EXCLUDED.working_days,
			default_duration = EXCLUDED.default_duration,
			time_zone        = EXCLUDED.time_zone,
			updated_at       = now()`, row)
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}

// Delete removes stored preferences.
func (r *PreferencesRepo) Delete(ctx context.Context, managerID string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM scheduling_preferences WHERE manager_id = $1`, managerID); err != nil {
		return fmt.Errorf("failed to delete preferences: %w", err)
	}
	return nil
}
