package config

import (
	"time"

	"github.com/vietddude/athena/internal/infra/calendar"
	"github.com/vietddude/athena/internal/infra/llm/governor"
	"github.com/vietddude/athena/internal/infra/llm/provider"
	redisclient "github.com/vietddude/athena/internal/infra/redis"
	"github.com/vietddude/athena/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig          `yaml:"server"`
	Logging    LoggingConfig         `yaml:"logging"`
	Database   postgres.Config       `yaml:"database"`
	Redis      redisclient.Config    `yaml:"redis"`
	LLM        provider.OpenAIConfig `yaml:"llm"`
	Governor   governor.Config       `yaml:"governor"`
	Calendar   calendar.Config       `yaml:"calendar"`
	Scheduling SchedulingConfig      `yaml:"scheduling"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// SchedulingConfig controls slot suggestions.
type SchedulingConfig struct {
	// ManagerID owns the calendar the assistant books into.
	ManagerID  string `yaml:"manager_id"`
	CalendarID string `yaml:"calendar_id"`

	SearchDays     int `yaml:"search_days"`
	MaxSuggestions int `yaml:"max_suggestions"`

	// BookingRetention prunes bookings that ended longer ago; 0 keeps all.
	BookingRetention time.Duration `yaml:"booking_retention"`

	// Defaults apply when the manager has no stored preferences.
	Defaults PreferencesConfig `yaml:"defaults"`
}

// PreferencesConfig is the YAML form of scheduling preferences.
type PreferencesConfig struct {
	WorkStartHour   int      `yaml:"work_start_hour"`
	WorkEndHour     int      `yaml:"work_end_hour"`
	BufferBefore    int      `yaml:"buffer_before"`
	BufferAfter     int      `yaml:"buffer_after"`
	WorkingDays     []string `yaml:"working_days"` // mon, tue, ...
	DefaultDuration int      `yaml:"default_duration"`
	TimeZone        string   `yaml:"timezone"`
}
