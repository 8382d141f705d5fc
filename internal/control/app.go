// Package control wires the assistant's components together and manages
// their lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/athena/internal/assistant"
	"github.com/vietddude/athena/internal/assistant/fallback"
	"github.com/vietddude/athena/internal/core/config"
	"github.com/vietddude/athena/internal/core/worker"
	"github.com/vietddude/athena/internal/health"
	"github.com/vietddude/athena/internal/infra/calendar"
	"github.com/vietddude/athena/internal/infra/llm/governor"
	"github.com/vietddude/athena/internal/infra/llm/provider"
	redisclient "github.com/vietddude/athena/internal/infra/redis"
	"github.com/vietddude/athena/internal/infra/storage"
	"github.com/vietddude/athena/internal/infra/storage/memory"
	"github.com/vietddude/athena/internal/infra/storage/postgres"
)

// Option configures an App.
type Option func(*options)

type options struct {
	provider provider.Provider
}

// WithProvider replaces the OpenAI provider, for tests and local runs.
func WithProvider(p provider.Provider) Option {
	return func(o *options) { o.provider = p }
}

// App is the main application struct that manages the assistant lifecycle.
type App struct {
	cfg *config.AppConfig

	db          *postgres.DB
	redisClient *redisclient.Client
	store       *memory.MemoryStorage

	prefs    storage.PreferencesRepository
	bookings storage.BookingRepository
	history  storage.HistoryStore

	governor     *governor.Governor
	calendar     *calendar.Service
	agent        *assistant.Agent
	pruner       *worker.Pruner
	healthMon    *health.Monitor
	healthServer *health.Server
	log          *slog.Logger
}

// NewApp creates a new App instance with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, log: slog.Default()}

	defaults, err := cfg.DefaultPreferences(cfg.Scheduling.ManagerID)
	if err != nil {
		return nil, fmt.Errorf("invalid default preferences: %w", err)
	}

	// 1. Initialize Storage
	a.store = memory.NewMemoryStorage()
	if cfg.Database.URL != "" {
		a.db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := a.db.Migrate(ctx); err != nil {
			_ = a.db.Close()
			return nil, err
		}
		a.prefs = postgres.NewPreferencesRepo(a.db)
		a.bookings = postgres.NewBookingRepo(a.db)
		slog.Info("Using PostgreSQL storage")
	} else {
		a.prefs = memory.NewPreferencesRepo(a.store)
		a.bookings = memory.NewBookingRepo(a.store)
		slog.Info("Using Memory storage")
	}

	// 2. Conversation history and shared counters
	var quota calendar.QuotaCounter = memory.NewQuotaCounter(a.store)
	a.history = memory.NewHistoryStore(a.store)
	if cfg.Redis.URL != "" {
		a.redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, history kept in memory", "error", err)
		} else {
			a.history = a.redisClient
			quota = a.redisClient
		}
	}

	// 3. LLM governor
	p := o.provider
	if p == nil {
		if cfg.LLM.APIKey == "" {
			slog.Warn("No LLM API key configured, provider calls will fail")
		}
		p = provider.NewOpenAIProvider(cfg.LLM)
	}
	a.governor = governor.New(cfg.Governor, p, fallback.New(),
		governor.WithMonitor(provider.NewMonitor()),
		governor.WithLogger(slog.Default().With("component", "governor")),
	)

	// 4. Calendar
	loc, err := time.LoadLocation(cfg.Calendar.TimeZone)
	if err != nil {
		loc = time.UTC
	}
	source := calendar.NewFeedSource(cfg.Calendar.Feeds, loc, cfg.Calendar.Timeout)
	a.calendar = calendar.NewService(cfg.Calendar, source, a.bookings,
		calendar.WithQuotaCounter(quota),
	)

	// 5. Assistant
	a.agent = assistant.New(assistant.Config{
		ManagerID:      cfg.Scheduling.ManagerID,
		CalendarID:     cfg.Scheduling.CalendarID,
		SearchDays:     cfg.Scheduling.SearchDays,
		MaxSuggestions: cfg.Scheduling.MaxSuggestions,
		Defaults:       defaults,
	}, a.governor, a.history, a.prefs, a.calendar)

	a.pruner = worker.NewPruner(cfg.Scheduling.BookingRetention, a.bookings)

	// 6. Health
	pings := make(map[string]health.PingFunc)
	if a.db != nil {
		pings["database"] = a.db.Health
	}
	if a.redisClient != nil {
		pings["redis"] = a.redisClient.Ping
	}
	a.healthMon = health.NewMonitor(a.governor, a.calendar.Breaker(), pings)
	a.healthServer = health.NewServer(a.healthMon, a.calendar, cfg.Server.Port)

	return a, nil
}

// Agent returns the conversation agent.
func (a *App) Agent() *assistant.Agent { return a.agent }

// Governor returns the LLM governor.
func (a *App) Governor() *governor.Governor { return a.governor }

// Calendar returns the calendar service.
func (a *App) Calendar() *calendar.Service { return a.calendar }

// Preferences returns the preferences repository.
func (a *App) Preferences() storage.PreferencesRepository { return a.prefs }

// Start launches background components. It does not serve HTTP.
func (a *App) Start(ctx context.Context) error {
	if err := a.governor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start governor: %w", err)
	}

	// Start DB Metrics Collector
	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	go a.pruner.Start(ctx)
	return nil
}

// Run starts the app and serves HTTP until ctx is cancelled or the server
// fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("Health server listening", "port", a.cfg.Server.Port)
		return a.healthServer.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return a.Stop(shutdownCtx)
	})
	return g.Wait()
}

// Stop stops the app and releases its connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping Athena...")

	var errs []error
	if err := a.governor.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop governor: %w", err))
	}
	if err := a.healthServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop health server: %w", err))
	}

	// Close Redis
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}

	return errors.Join(errs...)
}
