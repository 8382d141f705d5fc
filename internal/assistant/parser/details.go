package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DetailsPrompt asks the light model for structured meeting details.
const DetailsPrompt = `You are a meeting details extraction assistant. Extract meeting details from the user's message.
Return a JSON object with the following fields:
- topic: The meeting topic/purpose (string)
- duration: Meeting duration in minutes (integer, must be divisible by 15)
- time: Preferred meeting time (string in 12-hour format with AM/PM)

If a field is not mentioned, set it to null.
For duration, if user says "default", use 60 minutes.
For time, extract the time mentioned in 12-hour format (e.g., "9:00 AM").`

// Missing detail field names, in the order they are asked for.
const (
	FieldTopic    = "topic"
	FieldDuration = "duration"
	FieldTime     = "time"
)

// MeetingDetails are the pieces needed to propose meeting times. Zero
// values mean "not given".
type MeetingDetails struct {
	Topic    string `json:"topic"`
	Duration int    `json:"duration"` // minutes
	Time     string `json:"time"`
}

// Missing lists the fields still unknown.
func (d MeetingDetails) Missing() []string {
	var out []string
	if d.Topic == "" {
		out = append(out, FieldTopic)
	}
	if d.Duration == 0 {
		out = append(out, FieldDuration)
	}
	if d.Time == "" {
		out = append(out, FieldTime)
	}
	return out
}

// Merge fills the empty fields of d from other.
func (d MeetingDetails) Merge(other MeetingDetails) MeetingDetails {
	if d.Topic == "" {
		d.Topic = other.Topic
	}
	if d.Duration == 0 {
		d.Duration = other.Duration
	}
	if d.Time == "" {
		d.Time = other.Time
	}
	return d
}

// Clock parses Time into hour and minute on a 24-hour clock.
func (d MeetingDetails) Clock() (hour, minute int, ok bool) {
	m := clockPattern.FindStringSubmatch(strings.TrimSpace(d.Time))
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if hour < 1 || hour > 12 || minute > 59 {
		return 0, 0, false
	}
	pm := strings.EqualFold(m[3], "pm")
	switch {
	case pm && hour != 12:
		hour += 12
	case !pm && hour == 12:
		hour = 0
	}
	return hour, minute, true
}

type rawDetails struct {
	Topic    *string `json:"topic"`
	Duration any     `json:"duration"`
	Time     *string `json:"time"`
}

// ParseDetailsJSON decodes a model reply. Markdown code fences are
// tolerated; null fields stay empty.
func ParseDetailsJSON(text string) (MeetingDetails, error) {
	body := strings.TrimSpace(text)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")

	var raw rawDetails
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &raw); err != nil {
		return MeetingDetails{}, fmt.Errorf("decode meeting details: %w", err)
	}

	var d MeetingDetails
	if raw.Topic != nil {
		d.Topic = strings.TrimSpace(*raw.Topic)
	}
	if raw.Time != nil {
		d.Time = strings.TrimSpace(*raw.Time)
	}
	switch v := raw.Duration.(type) {
	case float64:
		d.Duration = int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			d.Duration = n
		} else if strings.EqualFold(strings.TrimSpace(v), "default") {
			d.Duration = 60
		}
	}
	return d, nil
}

var (
	timePattern  = regexp.MustCompile(`(?i)(?:at|by|around|about)?\s*(\d{1,2}(?::\d{2})?\s*(?:am|pm))`)
	clockPattern = regexp.MustCompile(`(?i)^(\d{1,2})(?::(\d{2}))?\s*(am|pm)$`)

	hoursPattern   = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)[\s-]*(?:hours?|hrs?)\b`)
	minutesPattern = regexp.MustCompile(`(?i)\b(\d+)[\s-]*(?:minutes?|mins?)\b`)
	halfHour       = regexp.MustCompile(`(?i)\bhalf an hour\b`)
	hourAndAHalf   = regexp.MustCompile(`(?i)\b(?:an|one) hour and a half\b`)
	oneHour        = regexp.MustCompile(`(?i)\b(?:an|one) hour\b`)

	discussPattern = regexp.MustCompile(`(?i)\bto discuss\s+(.+?)(?:[.!?;]|$)`)
	aboutPattern   = regexp.MustCompile(`(?i)(?:\b(?:about|regarding)\s+|\bre:\s*)(.+?)(?:[.!?;]|$)`)
	topicStop      = regexp.MustCompile(`(?i)\s+(?:at|for|on|by|around|tomorrow|today|tonight|next|this|in)\b`)
	leadingClock   = regexp.MustCompile(`(?i)^\d{1,2}(?::\d{2})?\s*(?:am|pm)?\b`)
)

// ExtractDetails pulls topic, duration and time out of free text with
// patterns alone. It is the degraded-mode counterpart of the model call.
func ExtractDetails(text string) MeetingDetails {
	return MeetingDetails{
		Topic:    extractTopic(text),
		Duration: extractDuration(text),
		Time:     extractTime(text),
	}
}

func extractTime(text string) string {
	m := timePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	d := MeetingDetails{Time: m[1]}
	hour, minute, ok := d.Clock()
	if !ok {
		return ""
	}
	suffix := "AM"
	if hour >= 12 {
		suffix = "PM"
	}
	h12 := hour % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d:%02d %s", h12, minute, suffix)
}

func extractDuration(text string) int {
	if hourAndAHalf.MatchString(text) {
		return 90
	}

	total := 0
	if m := hoursPattern.FindStringSubmatch(text); m != nil {
		if h, err := strconv.ParseFloat(m[1], 64); err == nil {
			total += int(h * 60)
		}
	}
	if m := minutesPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			total += n
		}
	}
	if total > 0 {
		return total
	}

	switch {
	case halfHour.MatchString(text):
		return 30
	case oneHour.MatchString(text):
		return 60
	}
	return 0
}

func extractTopic(text string) string {
	for _, p := range []*regexp.Regexp{discussPattern, aboutPattern} {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			topic := strings.TrimSpace(m[1])
			if leadingClock.MatchString(topic) {
				continue
			}
			if loc := topicStop.FindStringIndex(topic); loc != nil {
				topic = topic[:loc[0]]
			}
			topic = strings.Trim(topic, " ,\"'")
			if topic != "" {
				return topic
			}
		}
	}
	return ""
}
