// Package parser turns raw chat text into structured input for the agent.
//
// This package contains:
//   - Sanitize / Validate / Parse: incoming message hygiene and command parsing
//   - DetectIntents / ExtractContactInfo: keyword and pattern flags
//   - ExtractDetails / ParseDetailsJSON: meeting topic, duration and time
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Message length limits, in characters.
const (
	MinMessageLength = 1
	MaxMessageLength = 4000
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message too long")
	ErrControlChars   = errors.New("message contains control characters")
)

var (
	commandPattern = regexp.MustCompile(`^/([a-zA-Z0-9_]+)(?:\s+(.*))?$`)
	urlPattern     = regexp.MustCompile(`http[s]?://(?:[a-zA-Z]|[0-9]|[$-_@.&+]|[!*\\(\\),]|(?:%[0-9a-fA-F][0-9a-fA-F]))+`)
	emailPattern   = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)
	phonePattern   = regexp.MustCompile(`(\+?1[-.\s]?)?\(?([0-9]{3})\)?[-.\s]?([0-9]{3})[-.\s]?([0-9]{4})`)
	whitespace     = regexp.MustCompile(`\s+`)
)

// Message is a validated, sanitized inbound chat message.
type Message struct {
	ContactID  string
	UserName   string
	Text       string
	CleanText  string
	IsCommand  bool
	Command    string
	Args       []string
	ReceivedAt time.Time
}

// Parse validates text and returns its structured form.
func Parse(contactID, userName, text string) (*Message, error) {
	if err := Validate(text); err != nil {
		return nil, fmt.Errorf("invalid message from %s: %w", contactID, err)
	}

	clean := Sanitize(text)
	msg := &Message{
		ContactID:  contactID,
		UserName:   strings.TrimSpace(userName),
		Text:       text,
		CleanText:  clean,
		ReceivedAt: time.Now(),
	}
	if cmd, args, ok := ParseCommand(clean); ok {
		msg.IsCommand = true
		msg.Command = cmd
		msg.Args = args
	}
	return msg, nil
}

// Validate checks length bounds and rejects control characters other than
// common whitespace.
func Validate(text string) error {
	n := utf8.RuneCountInString(text)
	if n < MinMessageLength || strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if n > MaxMessageLength {
		return ErrMessageTooLong
	}
	for _, r := range text {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return ErrControlChars
		}
	}
	return nil
}

// Sanitize trims, collapses whitespace runs to one space and drops
// non-printable characters.
func Sanitize(text string) string {
	s := whitespace.ReplaceAllString(strings.TrimSpace(text), " ")
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// ParseCommand splits "/name arg1 arg2". The command name is lower-cased.
func ParseCommand(text string) (string, []string, bool) {
	m := commandPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", nil, false
	}
	return strings.ToLower(m[1]), strings.Fields(m[2]), true
}

// ContactInfo holds contact details found in free text.
type ContactInfo struct {
	Emails []string
	Phones []string
	URLs   []string
}

// ExtractContactInfo finds emails, phone numbers and URLs. Phones are
// normalised to NNN-NNN-NNNN with an optional leading country code.
func ExtractContactInfo(text string) ContactInfo {
	info := ContactInfo{
		Emails: emailPattern.FindAllString(text, -1),
		URLs:   urlPattern.FindAllString(text, -1),
	}
	for _, m := range phonePattern.FindAllStringSubmatch(text, -1) {
		prefix := strings.TrimRight(m[1], "-. \t")
		if prefix != "" {
			prefix += "-"
		}
		info.Phones = append(info.Phones, fmt.Sprintf("%s%s-%s-%s", prefix, m[2], m[3], m[4]))
	}
	return info
}

// Intents are keyword flags over a message.
type Intents struct {
	WantsMeeting     bool
	ProvidingContact bool
	Greeting         bool
	NeedsHelp        bool
	Cancel           bool
	HasEmail         bool
	HasPhone         bool
}

var (
	meetingKeywords = []string{
		"meeting", "schedule", "appointment", "call", "conference",
		"meet", "time", "calendar", "available", "book",
	}
	contactKeywords  = []string{"email", "phone", "contact", "name", "address"}
	greetingKeywords = []string{
		"hello", "hi", "hey", "good morning", "good afternoon",
		"good evening", "start", "begin",
	}
	helpKeywords   = []string{"help", "assist", "support", "how", "what", "can you"}
	cancelKeywords = []string{"cancel", "never mind", "nevermind", "forget it"}
)

// DetectIntents sets a flag for every keyword family present in text.
func DetectIntents(text string) Intents {
	s := strings.ToLower(text)
	return Intents{
		WantsMeeting:     containsAny(s, meetingKeywords),
		ProvidingContact: containsAny(s, contactKeywords),
		Greeting:         containsAny(s, greetingKeywords),
		NeedsHelp:        containsAny(s, helpKeywords),
		Cancel:           containsAny(s, cancelKeywords),
		HasEmail:         emailPattern.MatchString(text),
		HasPhone:         phonePattern.MatchString(text),
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
