// Package fallback builds the canned replies the assistant sends when the
// LLM governor does not make a live call.
package fallback

import (
	"strings"

	"github.com/vietddude/athena/internal/core/domain"
)

// Intent is the coarse topic of the latest user message.
type Intent string

const (
	IntentReschedule Intent = "reschedule"
	IntentMeeting    Intent = "meeting"
	IntentGreeting   Intent = "greeting"
	IntentGeneral    Intent = "general"
)

var (
	rescheduleKeywords = []string{
		"reschedule",
		"postpone",
		"move the meeting",
		"move our meeting",
		"move my meeting",
		"change the time",
		"another time",
		"different time",
	}
	meetingKeywords = []string{
		"meeting",
		"schedule",
		"appointment",
		"call",
		"conference",
		"meet",
		"calendar",
		"available",
		"book",
	}
	// Matched as whole words so that "this" or "shipping" do not greet.
	greetingWords = []string{"hello", "hi", "hey", "start", "begin"}

	greetingPhrases = []string{
		"good morning",
		"good afternoon",
		"good evening",
	}
)

var templates = map[Intent]string{
	IntentReschedule: "I can help you find a new time{name}. " +
		"Please share a few alternatives that suit you, and include the meeting length if it has changed.",
	IntentMeeting: "I'd be glad to set up a meeting{name}. " +
		"Please tell me the topic, how long it should take, and a time that works for you.",
	IntentGreeting: "Hello{name}! I'm Athena, your digital executive assistant. " +
		"I can coordinate meetings and manage contacts for you. How can I assist you today?",
	IntentGeneral: "Thank you for your message{name}. " +
		"I can schedule meetings and keep track of your contacts. Let me know what you would like to arrange.",
}

// Generator picks a template from the conversation. The zero value is ready
// to use.
type Generator struct{}

// New returns a Generator.
func New() *Generator {
	return &Generator{}
}

// Generate returns a non-empty reply for conv. It never contacts a provider.
func (g *Generator) Generate(conv domain.ConversationContext) string {
	text := templates[DetectIntent(latestUserText(conv))]

	name := ""
	if n := strings.TrimSpace(conv.UserName); n != "" {
		name = ", " + n
	}
	return strings.ReplaceAll(text, "{name}", name)
}

// DetectIntent classifies text into the first matching intent. Reschedule
// is checked before meeting because reschedule requests usually mention a
// meeting too.
func DetectIntent(text string) Intent {
	s := strings.ToLower(text)

	switch {
	case containsAny(s, rescheduleKeywords):
		return IntentReschedule
	case containsAny(s, meetingKeywords):
		return IntentMeeting
	case isGreeting(s):
		return IntentGreeting
	default:
		return IntentGeneral
	}
}

func latestUserText(conv domain.ConversationContext) string {
	if conv.LastMessage != "" {
		return conv.LastMessage
	}
	for i := len(conv.History) - 1; i >= 0; i-- {
		if conv.History[i].Role == domain.RoleUser {
			return conv.History[i].Text
		}
	}
	return ""
}

func isGreeting(s string) bool {
	if containsAny(s, greetingPhrases) {
		return true
	}
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})
	for _, w := range words {
		for _, g := range greetingWords {
			if w == g {
				return true
			}
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
