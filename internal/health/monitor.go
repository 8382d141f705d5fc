package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/athena/internal/infra/llm/breaker"
	"github.com/vietddude/athena/internal/infra/llm/governor"
	"github.com/vietddude/athena/internal/infra/llm/provider"
)

// GovernorStatus is satisfied by *governor.Governor.
type GovernorStatus interface {
	Status() governor.Status
}

// BreakerSnapshot is satisfied by *breaker.Breaker.
type BreakerSnapshot interface {
	Snapshot() breaker.Snapshot
}

// PingFunc checks a backing store.
type PingFunc func(ctx context.Context) error

// Monitor aggregates health status from various system components.
type Monitor struct {
	governor GovernorStatus
	calendar BreakerSnapshot
	pings    map[string]PingFunc

	cacheFor   time.Duration
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. Any argument may be nil.
func NewMonitor(gov GovernorStatus, calendar BreakerSnapshot, pings map[string]PingFunc) *Monitor {
	return &Monitor{
		governor: gov,
		calendar: calendar,
		pings:    pings,
		cacheFor: 10 * time.Second,
	}
}

// CheckHealth builds a report, reusing the previous one for a short while
// so probes do not hammer the stores.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.cacheFor {
		return m.lastReport
	}

	report := &HealthReport{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth),
	}
	add := func(c ComponentHealth) {
		report.Components[c.Name] = c
		report.SystemStatus = worse(report.SystemStatus, c.Status)
	}

	// A lost store breaks bookings and history outright.
	for name, ping := range m.pings {
		c := ComponentHealth{Name: name, Status: StatusHealthy}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := ping(pingCtx); err != nil {
			c.Status = StatusCritical
			c.Error = err.Error()
		}
		cancel()
		add(c)
	}

	// LLM trouble only degrades: callers still get fallback replies.
	if m.governor != nil {
		st := m.governor.Status()
		report.Governor = &st
		c := ComponentHealth{Name: "llm", Status: breakerStatus(st.Breaker)}
		if st.Monitor != nil && st.Monitor.Status != provider.StatusHealthy.String() {
			c.Status = worse(c.Status, StatusDegraded)
		}
		add(c)
	}

	if m.calendar != nil {
		snap := m.calendar.Snapshot()
		report.Calendar = &snap
		add(ComponentHealth{Name: "calendar", Status: breakerStatus(snap)})
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func breakerStatus(s breaker.Snapshot) SystemStatus {
	if s.State == breaker.StateClosed.String() {
		return StatusHealthy
	}
	return StatusDegraded
}
