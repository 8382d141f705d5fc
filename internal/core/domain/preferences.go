package domain

import (
	"time"
)

// SchedulingPreferences describe when a manager accepts meetings.
type SchedulingPreferences struct {
	ManagerID       string
	WorkStartHour   int
	WorkEndHour     int
	BufferBefore    int // minutes
	BufferAfter     int // minutes
	WorkingDays     []time.Weekday
	DefaultDuration int // minutes
	TimeZone        string
	UpdatedAt       time.Time
}

// Location resolves the preference time zone, defaulting to UTC when unset.
func (p *SchedulingPreferences) Location() (*time.Location, error) {
	if p.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(p.TimeZone)
}

// IsWorkingDay reports whether d is one of the configured working days.
func (p *SchedulingPreferences) IsWorkingDay(d time.Weekday) bool {
	for _, wd := range p.WorkingDays {
		if wd == d {
			return true
		}
	}
	return false
}
