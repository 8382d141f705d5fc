package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"github.com/vietddude/athena/internal/core/domain"
)

const maxErrorBody = 512

// FeedSource reads busy time from published ICS feeds, one per calendar.
type FeedSource struct {
	client *http.Client
	feeds  map[string]string
	loc    *time.Location
}

// NewFeedSource creates a source for the given calendar ID to URL map.
// Floating event times are read in loc.
func NewFeedSource(feeds map[string]string, loc *time.Location, timeout time.Duration) *FeedSource {
	if loc == nil {
		loc = time.UTC
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FeedSource{
		client: &http.Client{Timeout: timeout},
		feeds:  feeds,
		loc:    loc,
	}
}

// Busy fetches the feed and returns its busy intervals within [start, end).
// A calendar without a configured feed has no external busy time.
func (f *FeedSource) Busy(ctx context.Context, calendarID string, start, end time.Time) ([]domain.BusyInterval, error) {
	url := f.feeds[calendarID]
	if url == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", calendarID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return ParseBusy(resp.Body, start, end, f.loc)
}

// ParseBusy decodes an iCalendar stream and returns the busy intervals of
// its events overlapping [start, end). Recurring events are expanded.
// Cancelled and transparent events are ignored.
func ParseBusy(r io.Reader, start, end time.Time, loc *time.Location) ([]domain.BusyInterval, error) {
	if loc == nil {
		loc = time.UTC
	}

	dec := ical.NewDecoder(r)
	var out []domain.BusyInterval
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode calendar: %w", err)
		}

		for _, comp := range cal.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			intervals, err := eventBusy(comp, start, end, loc)
			if err != nil {
				slog.Debug("Skipping unreadable event", "uid", propValue(comp, ical.PropUID), "error", err)
				continue
			}
			out = append(out, intervals...)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func eventBusy(comp *ical.Component, start, end time.Time, loc *time.Location) ([]domain.BusyInterval, error) {
	if strings.EqualFold(propValue(comp, ical.PropStatus), "CANCELLED") ||
		strings.EqualFold(propValue(comp, ical.PropTransparency), "TRANSPARENT") {
		return nil, nil
	}

	ev := ical.Event{Component: comp}
	dtstart, err := ev.DateTimeStart(loc)
	if err != nil {
		return nil, fmt.Errorf("dtstart: %w", err)
	}
	if dtstart.IsZero() {
		return nil, errors.New("missing dtstart")
	}
	dtend, err := ev.DateTimeEnd(loc)
	if err != nil {
		return nil, fmt.Errorf("dtend: %w", err)
	}
	length := dtend.Sub(dtstart)
	if length <= 0 {
		return nil, nil
	}

	set, err := comp.RecurrenceSet(loc)
	if err != nil {
		return nil, fmt.Errorf("recurrence: %w", err)
	}
	if set == nil {
		iv := domain.BusyInterval{Start: dtstart, End: dtend}
		if !iv.Overlaps(start, end) {
			return nil, nil
		}
		return []domain.BusyInterval{iv}, nil
	}
	return occurrences(set, length, start, end), nil
}

// occurrences lists recurrence instances overlapping [start, end). An
// instance starting up to length before start still overlaps.
func occurrences(set *rrule.Set, length time.Duration, start, end time.Time) []domain.BusyInterval {
	var out []domain.BusyInterval
	for _, t := range set.Between(start.Add(-length), end, true) {
		iv := domain.BusyInterval{Start: t, End: t.Add(length)}
		if iv.Overlaps(start, end) {
			out = append(out, iv)
		}
	}
	return out
}

func propValue(comp *ical.Component, name string) string {
	if p := comp.Props.Get(name); p != nil {
		return p.Value
	}
	return ""
}
