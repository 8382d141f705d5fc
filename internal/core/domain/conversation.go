package domain

import (
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn stored in conversation history.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationState is the per-contact position in the scheduling dialogue.
type ConversationState string

const (
	StateIdle              ConversationState = "idle"
	StateCollectingInfo    ConversationState = "collecting_info"
	StateSchedulingMeeting ConversationState = "scheduling_meeting"
	StateConfirmation      ConversationState = "confirmation"
)

// ConversationContext is what the governor and fallback generator know
// about the turn being answered.
type ConversationContext struct {
	ContactID   string
	UserName    string
	State       ConversationState
	History     []Message // oldest first
	LastMessage string
}
