package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/athena/internal/core/domain"
)

// FormattedSlot is a slot rendered as RFC 3339 timestamps.
type FormattedSlot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// FormatISO renders slots in loc. A nil loc keeps each slot's own zone.
func FormatISO(slots []domain.CandidateSlot, loc *time.Location) []FormattedSlot {
	out := make([]FormattedSlot, 0, len(slots))
	for _, s := range slots {
		start, end := s.Start, s.End
		if loc != nil {
			start, end = start.In(loc), end.In(loc)
		}
		out = append(out, FormattedSlot{
			Start: start.Format(time.RFC3339),
			End:   end.Format(time.RFC3339),
		})
	}
	return out
}

// FormatHuman renders one slot for a chat message, e.g.
// "Tue, Mar 3 at 11:15 AM - 12:15 PM EST".
func FormatHuman(s domain.CandidateSlot, loc *time.Location) string {
	start, end := s.Start, s.End
	if loc != nil {
		start, end = start.In(loc), end.In(loc)
	}
	return fmt.Sprintf("%s at %s - %s",
		start.Format("Mon, Jan 2"),
		start.Format("3:04 PM"),
		end.Format("3:04 PM MST"),
	)
}

// FormatOptions renders the suggestion message sent to the user.
func FormatOptions(slots []domain.CandidateSlot, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("Here are some available meeting times:\n")
	for _, s := range slots {
		b.WriteString("• ")
		b.WriteString(FormatHuman(s, loc))
		b.WriteString("\n")
	}
	b.WriteString("Please let me know which one works best for you, or suggest another time.")
	return b.String()
}
