package assistant

import (
	"fmt"
	"strings"
)

const personaPrompt = `You are Athena, a digital executive assistant. You help people schedule meetings ` +
	`with your manager and keep their contact details up to date. Keep replies short, friendly and ` +
	`professional. Never propose specific meeting times yourself; the scheduler does that.`

const helpText = "I can help you schedule a meeting. Tell me the topic, how long it should take " +
	"and a preferred time, for example:\n" +
	"\"Can we meet for 30 minutes about the budget at 2pm?\"\n\n" +
	"Commands:\n" +
	"/start - introduce myself\n" +
	"/cancel - cancel the current request\n" +
	"/help - show this message"

const (
	cancelText              = "No problem, I've cancelled that. Let me know if there is anything else I can arrange."
	invalidDurationText     = "Meetings are booked in 15-minute steps, for example 15, 30, 45 or 60 minutes. How long should the meeting be?"
	calendarUnavailableText = "I can't reach the calendar right now. Please try again in a few minutes."
	slotTakenText           = "Sorry, that time was just taken. Please choose another option."
	slotTakenNoneLeftText   = "Sorry, that time was just taken and I have no other options left. Ask me to schedule again and I'll look for new times."
)

var meetingFieldNames = map[string]string{
	"topic":    "the meeting topic or purpose",
	"duration": "the meeting duration (in minutes, e.g., 30 or 60)",
	"time":     "your preferred meeting time or availability",
}

func systemPrompt(userName string) string {
	if userName == "" {
		return personaPrompt
	}
	return personaPrompt + "\nYou are talking to " + userName + "."
}

func introText(userName string, returning bool) string {
	switch {
	case returning && userName != "":
		return fmt.Sprintf("Welcome back, %s!\nI'm Athena, your digital executive assistant.\n"+
			"How can I assist you today?", userName)
	case userName != "":
		return fmt.Sprintf("Hello %s! I'm Athena, your digital executive assistant.\n"+
			"I help coordinate meetings and manage contacts through natural conversation.\n"+
			"How can I assist you today?", userName)
	default:
		return "Hello! I'm Athena, your digital executive assistant.\n" +
			"I help coordinate meetings and manage contacts through natural conversation.\n" +
			"How can I assist you today?"
	}
}

func meetingInfoPrompt(missing []string) string {
	names := make([]string, 0, len(missing))
	for _, f := range missing {
		if n, ok := meetingFieldNames[f]; ok {
			names = append(names, n)
		} else {
			names = append(names, f)
		}
	}
	return fmt.Sprintf("To schedule your meeting, I still need %s.\n"+
		"Please provide the missing details so I can suggest times and book your meeting.",
		strings.Join(names, ", "))
}

func noSlotsText(days int) string {
	return fmt.Sprintf("I couldn't find any open times in the next %d days. "+
		"Would a different duration work?", days)
}

func choiceRangeText(n int) string {
	return fmt.Sprintf("Please pick an option between 1 and %d, or say cancel.", n)
}
