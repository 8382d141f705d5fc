package calendar

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/athena/internal/core/domain"
)

const feed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//feed//EN
BEGIN:VEVENT
UID:standup
DTSTAMP:20260101T000000Z
DTSTART:20260302T090000Z
DTEND:20260302T093000Z
RRULE:FREQ=DAILY;COUNT=5
SUMMARY:Standup
END:VEVENT
BEGIN:VEVENT
UID:lunch
DTSTAMP:20260101T000000Z
DTSTART:20260303T120000Z
DTEND:20260303T130000Z
SUMMARY:Lunch
END:VEVENT
BEGIN:VEVENT
UID:cancelled
DTSTAMP:20260101T000000Z
DTSTART:20260303T140000Z
DTEND:20260303T150000Z
STATUS:CANCELLED
SUMMARY:Dropped
END:VEVENT
BEGIN:VEVENT
UID:focus
DTSTAMP:20260101T000000Z
DTSTART:20260303T150000Z
DTEND:20260303T160000Z
TRANSP:TRANSPARENT
SUMMARY:Optional focus time
END:VEVENT
END:VCALENDAR
`

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func utc(day, hour, minute int) time.Time {
	return time.Date(2026, time.March, day, hour, minute, 0, 0, time.UTC)
}

func TestParseBusy(t *testing.T) {
	busy, err := ParseBusy(strings.NewReader(crlf(feed)), utc(2, 0, 0), utc(4, 0, 0), time.UTC)
	if err != nil {
		t.Fatalf("ParseBusy: %v", err)
	}

	want := []domain.BusyInterval{
		{Start: utc(2, 9, 0), End: utc(2, 9, 30)},
		{Start: utc(3, 9, 0), End: utc(3, 9, 30)},
		{Start: utc(3, 12, 0), End: utc(3, 13, 0)},
	}
	if len(busy) != len(want) {
		t.Fatalf("got %d intervals %v, want %d", len(busy), busy, len(want))
	}
	for i := range want {
		if !busy[i].Start.Equal(want[i].Start) || !busy[i].End.Equal(want[i].End) {
			t.Errorf("interval %d = %v, want %v", i, busy[i], want[i])
		}
	}
}

func TestParseBusy_OccurrenceInProgress(t *testing.T) {
	busy, err := ParseBusy(strings.NewReader(crlf(feed)), utc(2, 9, 15), utc(2, 10, 0), time.UTC)
	if err != nil {
		t.Fatalf("ParseBusy: %v", err)
	}
	if len(busy) != 1 || !busy[0].Start.Equal(utc(2, 9, 0)) {
		t.Errorf("busy = %v, want the 09:00 standup", busy)
	}
}

func TestParseBusy_Invalid(t *testing.T) {
	if _, err := ParseBusy(strings.NewReader("<html>login</html>"), utc(2, 0, 0), utc(3, 0, 0), nil); err == nil {
		t.Error("expected decode error for HTML body")
	}
}

func TestFeedSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.ics":
			w.Header().Set("Content-Type", "text/calendar")
			_, _ = w.Write([]byte(crlf(feed)))
		case "/limited.ics":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("usage limit"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewFeedSource(map[string]string{
		"ok":      srv.URL + "/ok.ics",
		"limited": srv.URL + "/limited.ics",
	}, time.UTC, time.Second)
	ctx := context.Background()

	busy, err := src.Busy(ctx, "ok", utc(2, 0, 0), utc(3, 0, 0))
	if err != nil {
		t.Fatalf("Busy: %v", err)
	}
	if len(busy) != 1 {
		t.Errorf("busy = %v, want one standup", busy)
	}

	_, err = src.Busy(ctx, "limited", utc(2, 0, 0), utc(3, 0, 0))
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want HTTPError 429", err)
	}
	if got := Classify(err); got != domain.CategoryQuota {
		t.Errorf("Classify(429) = %v, want quota", got)
	}

	busy, err = src.Busy(ctx, "unconfigured", utc(2, 0, 0), utc(3, 0, 0))
	if err != nil || busy != nil {
		t.Errorf("unconfigured calendar = %v, %v", busy, err)
	}
}

func TestExportICS_ParsesBack(t *testing.T) {
	bookings := []*domain.Booking{
		{ID: "b1", Title: "Budget review", Attendees: []string{"a@example.com"}, Start: utc(2, 11, 15), End: utc(2, 12, 15)},
		{ID: "b2", Title: "Hiring", Start: utc(3, 14, 0), End: utc(3, 14, 30)},
	}

	var buf bytes.Buffer
	if err := ExportICS(&buf, bookings); err != nil {
		t.Fatalf("ExportICS: %v", err)
	}
	if !strings.Contains(buf.String(), "SUMMARY:Budget review") {
		t.Errorf("export missing summary:\n%s", buf.String())
	}

	busy, err := ParseBusy(&buf, utc(1, 0, 0), utc(5, 0, 0), time.UTC)
	if err != nil {
		t.Fatalf("ParseBusy: %v", err)
	}
	if len(busy) != 2 || !busy[0].Start.Equal(utc(2, 11, 15)) || !busy[1].End.Equal(utc(3, 14, 30)) {
		t.Errorf("round trip = %v", busy)
	}
}

func TestExportICS_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportICS(&buf, nil); err != nil {
		t.Fatalf("ExportICS: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "BEGIN:VCALENDAR\r\n") {
		t.Errorf("export = %q", buf.String())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorCategory
	}{
		{"429", &HTTPError{StatusCode: 429}, domain.CategoryQuota},
		{"403", &HTTPError{StatusCode: 403}, domain.CategoryRateLimit},
		{"403 quota body", &HTTPError{StatusCode: 403, Body: "Daily Limit Exceeded"}, domain.CategoryQuota},
		{"401", &HTTPError{StatusCode: 401}, domain.CategoryAuth},
		{"500", &HTTPError{StatusCode: 500}, domain.CategoryTransient},
		{"404", &HTTPError{StatusCode: 404}, domain.CategoryUnknown},
		{"typed", &Error{Op: "busy", Category: domain.CategoryAuth, Err: errors.New("x")}, domain.CategoryAuth},
		{"text", errors.New("dial tcp: connection refused"), domain.CategoryTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}
