package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter writes a calendar's bookings as ICS.
type Exporter interface {
	Export(ctx context.Context, w io.Writer, calendarID string, start, end time.Time) error
}

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	monitor  *Monitor
	exporter Exporter
	server   *http.Server
}

// NewServer creates a new health server. exporter may be nil.
func NewServer(monitor *Monitor, exporter Exporter, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor:  monitor,
		exporter: exporter,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /calendars/{file}", s.handleCalendar)

	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server. It returns nil after Stop.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	response := map[string]string{"status": string(report.SystemStatus)}
	w.Header().Set("Content-Type", "application/json")

	if report.SystemStatus == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

// handleCalendar serves /calendars/{id}.ics covering the past 30 and next
// 90 days.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	id, ok := strings.CutSuffix(file, ".ics")
	if !ok || id == "" || s.exporter == nil {
		http.NotFound(w, r)
		return
	}

	now := time.Now()
	var buf strings.Builder
	if err := s.exporter.Export(r.Context(), &buf, id, now.AddDate(0, 0, -30), now.AddDate(0, 0, 90)); err != nil {
		slog.Error("Calendar export failed", "calendar", id, "error", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	_, _ = io.WriteString(w, buf.String())
}
