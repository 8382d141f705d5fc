package calendar

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"

	"github.com/vietddude/athena/internal/core/domain"
)

const productID = "-//athena//bookings//EN"

// ExportICS writes bookings as an iCalendar feed.
func ExportICS(w io.Writer, bookings []*domain.Booking) error {
	if len(bookings) == 0 {
		// The encoder rejects a calendar without components.
		_, err := fmt.Fprintf(w, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:%s\r\nEND:VCALENDAR\r\n", productID)
		return err
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, b := range bookings {
		stamp := b.CreatedAt
		if stamp.IsZero() {
			stamp = time.Now()
		}

		ev := ical.NewEvent()
		ev.Props.SetText(ical.PropUID, b.ID)
		ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeStart, b.Start.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeEnd, b.End.UTC())
		ev.Props.SetText(ical.PropSummary, b.Title)
		for _, a := range b.Attendees {
			p := ical.NewProp(ical.PropAttendee)
			p.Value = "mailto:" + a
			ev.Props.Add(p)
		}
		cal.Children = append(cal.Children, ev.Component)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}
