package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/athena/internal/core/domain"
	"github.com/vietddude/athena/internal/infra/calendar"
	"github.com/vietddude/athena/internal/infra/llm/governor"
	"github.com/vietddude/athena/internal/scheduling"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	cfg := AppConfig{
		Governor: governor.DefaultConfig,
		Calendar: calendar.DefaultConfig,
		Scheduling: SchedulingConfig{
			Defaults: defaultPreferencesConfig(),
		},
	}
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Scheduling.ManagerID == "" {
		cfg.Scheduling.ManagerID = "default"
	}
	if cfg.Scheduling.CalendarID == "" {
		cfg.Scheduling.CalendarID = "primary"
	}
	if cfg.Scheduling.SearchDays <= 0 {
		cfg.Scheduling.SearchDays = 14
	}
	if cfg.Scheduling.MaxSuggestions <= 0 {
		cfg.Scheduling.MaxSuggestions = 5
	}

	return &cfg, nil
}

func defaultPreferencesConfig() PreferencesConfig {
	def := scheduling.DefaultPreferences("")
	days := make([]string, 0, len(def.WorkingDays))
	for _, d := range def.WorkingDays {
		days = append(days, d.String())
	}
	return PreferencesConfig{
		WorkStartHour:   def.WorkStartHour,
		WorkEndHour:     def.WorkEndHour,
		BufferBefore:    def.BufferBefore,
		BufferAfter:     def.BufferAfter,
		WorkingDays:     days,
		DefaultDuration: def.DefaultDuration,
		TimeZone:        def.TimeZone,
	}
}

// Validate rejects values no component can run with.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q unknown", c.Logging.Level))
	}
	if c.Governor.MinInterval < 0 {
		errs = append(errs, errors.New("governor.min_interval must not be negative"))
	}
	if c.Governor.MaxRetries < 0 {
		errs = append(errs, errors.New("governor.max_retries must not be negative"))
	}
	if c.Governor.MaxBackoff > 0 && c.Governor.MaxBackoff < c.Governor.InitialBackoff {
		errs = append(errs, errors.New("governor.max_backoff must be >= initial_backoff"))
	}
	if c.Calendar.DailyQuota < 0 {
		errs = append(errs, errors.New("calendar.daily_quota must not be negative"))
	}
	if c.Calendar.QPS < 0 {
		errs = append(errs, errors.New("calendar.qps must not be negative"))
	}

	if _, err := c.DefaultPreferences(c.Scheduling.ManagerID); err != nil {
		errs = append(errs, fmt.Errorf("scheduling.defaults: %w", err))
	}

	return errors.Join(errs...)
}

// DefaultPreferences converts the configured defaults for a manager.
func (c *AppConfig) DefaultPreferences(managerID string) (domain.SchedulingPreferences, error) {
	d := c.Scheduling.Defaults
	days, err := scheduling.ParseWeekdays(d.WorkingDays)
	if err != nil {
		return domain.SchedulingPreferences{}, err
	}
	prefs := domain.SchedulingPreferences{
		ManagerID:       managerID,
		WorkStartHour:   d.WorkStartHour,
		WorkEndHour:     d.WorkEndHour,
		BufferBefore:    d.BufferBefore,
		BufferAfter:     d.BufferAfter,
		WorkingDays:     days,
		DefaultDuration: d.DefaultDuration,
		TimeZone:        d.TimeZone,
	}
	if err := scheduling.Validate(prefs); err != nil {
		return domain.SchedulingPreferences{}, err
	}
	return prefs, nil
}
