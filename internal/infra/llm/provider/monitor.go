package provider

import (
	"sync"
	"time"

	"github.com/vietddude/athena/internal/core/domain"
)

// Status represents the observed health of a provider.
type Status int

const (
	StatusHealthy   Status = iota // Provider is working normally
	StatusDegraded                // Provider is slow or erroring
	StatusThrottled               // Provider is rate limiting
	StatusBlocked                 // Quota exhausted or credentials rejected
)

// String returns the status name used in health reports.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// MonitorStats holds monitoring statistics for a provider.
type MonitorStats struct {
	Status         string         `json:"status"`
	AverageLatency time.Duration  `json:"average_latency"`
	Requests1h     int            `json:"requests_1h"`
	Requests24h    int            `json:"requests_24h"`
	Failures       map[string]int `json:"failures"`
	ErrorRate      float64        `json:"error_rate"`
	LastFailureAt  time.Time      `json:"last_failure_at,omitempty"`
	LastCategory   string         `json:"last_category,omitempty"`
}

type sample struct {
	at       time.Time
	failed   bool
	category domain.ErrorCategory
}

// Monitor tracks provider latency and failures over a sliding window.
type Monitor struct {
	mu  sync.RWMutex
	now func() time.Time

	recentLatencies  []time.Duration
	maxLatencyWindow int

	samples        []sample
	windowDuration time.Duration
	failures       map[domain.ErrorCategory]int

	lastFailureAt time.Time
	lastCategory  domain.ErrorCategory

	// Thresholds
	slowResponseThreshold time.Duration
	degradedThreshold     float64
	cooloff               time.Duration
}

// NewMonitor creates a new monitor with default settings.
func NewMonitor() *Monitor {
	return &Monitor{
		now:                   time.Now,
		recentLatencies:       make([]time.Duration, 0, 100),
		maxLatencyWindow:      100,
		windowDuration:        24 * time.Hour,
		failures:              make(map[domain.ErrorCategory]int),
		slowResponseThreshold: 10 * time.Second,
		degradedThreshold:     0.3, // 30% error rate
		cooloff:               5 * time.Minute,
	}
}

// RecordSuccess records a successful call with its latency.
func (m *Monitor) RecordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recordLatencyUnsafe(latency)
	m.appendUnsafe(sample{at: m.now()})
}

// RecordFailure records a failed call.
func (m *Monitor) RecordFailure(category domain.ErrorCategory, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.recordLatencyUnsafe(latency)
	m.appendUnsafe(sample{at: now, failed: true, category: category})
	m.failures[category]++
	m.lastFailureAt = now
	m.lastCategory = category
}

func (m *Monitor) recordLatencyUnsafe(latency time.Duration) {
	m.recentLatencies = append(m.recentLatencies, latency)
	if len(m.recentLatencies) > m.maxLatencyWindow {
		m.recentLatencies = m.recentLatencies[1:]
	}
}

func (m *Monitor) appendUnsafe(s sample) {
	m.samples = append(m.samples, s)

	cutoff := s.at.Add(-m.windowDuration)
	i := 0
	for i < len(m.samples) && !m.samples[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		m.samples = append(m.samples[:0], m.samples[i:]...)
	}
}

// CheckStatus returns the current status of the provider.
func (m *Monitor) CheckStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusUnsafe()
}

func (m *Monitor) statusUnsafe() Status {
	recent := !m.lastFailureAt.IsZero() && m.now().Sub(m.lastFailureAt) < m.cooloff

	if recent && (m.lastCategory == domain.CategoryQuota || m.lastCategory == domain.CategoryAuth) {
		return StatusBlocked
	}
	if recent && m.lastCategory == domain.CategoryRateLimit {
		return StatusThrottled
	}

	if avg := m.averageLatencyUnsafe(); len(m.recentLatencies) > 10 && avg > m.slowResponseThreshold {
		return StatusDegraded
	}
	if len(m.samples) >= 10 && m.errorRateUnsafe(time.Hour) > m.degradedThreshold {
		return StatusDegraded
	}

	return StatusHealthy
}

func (m *Monitor) averageLatencyUnsafe() time.Duration {
	if len(m.recentLatencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, lat := range m.recentLatencies {
		total += lat
	}
	return total / time.Duration(len(m.recentLatencies))
}

func (m *Monitor) countUnsafe(d time.Duration) (total, failed int) {
	cutoff := m.now().Add(-d)
	for _, s := range m.samples {
		if s.at.After(cutoff) {
			total++
			if s.failed {
				failed++
			}
		}
	}
	return total, failed
}

func (m *Monitor) errorRateUnsafe(d time.Duration) float64 {
	total, failed := m.countUnsafe(d)
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

// RequestCount returns the number of calls recorded within d.
func (m *Monitor) RequestCount(d time.Duration) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total, _ := m.countUnsafe(d)
	return total
}

// Stats returns current monitoring statistics.
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req1h, _ := m.countUnsafe(time.Hour)
	stats := MonitorStats{
		Status:         m.statusUnsafe().String(),
		AverageLatency: m.averageLatencyUnsafe(),
		Requests1h:     req1h,
		Requests24h:    len(m.samples),
		Failures:       make(map[string]int, len(m.failures)),
		ErrorRate:      m.errorRateUnsafe(m.windowDuration),
		LastFailureAt:  m.lastFailureAt,
	}
	for c, n := range m.failures {
		stats.Failures[c.String()] = n
	}
	if !m.lastFailureAt.IsZero() {
		stats.LastCategory = m.lastCategory.String()
	}
	return stats
}
