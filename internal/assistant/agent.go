// Package assistant runs the scheduling conversation with contacts.
//
// Agent.Handle is the single entry point for inbound messages. It keeps the
// per-contact conversation state in the history store, asks the governor for
// free-form replies and meeting details, and proposes slots computed from the
// manager's calendar. Slot offers awaiting a choice are held in memory.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/athena/internal/assistant/fallback"
	"github.com/vietddude/athena/internal/assistant/parser"
	"github.com/vietddude/athena/internal/core/domain"
	"github.com/vietddude/athena/internal/infra/calendar"
	"github.com/vietddude/athena/internal/infra/llm/governor"
	"github.com/vietddude/athena/internal/infra/llm/provider"
	"github.com/vietddude/athena/internal/infra/storage"
	"github.com/vietddude/athena/internal/metrics"
	"github.com/vietddude/athena/internal/scheduling"
)

// preferredSearchLimit bounds the search when the contact asked for a
// specific time of day and matching slots are picked from the full window.
const preferredSearchLimit = 1000

// Governor is satisfied by *governor.Governor.
type Governor interface {
	Submit(ctx context.Context, conv domain.ConversationContext, req provider.Request) (governor.Response, error)
}

// Config holds agent settings.
type Config struct {
	ManagerID      string
	CalendarID     string
	SearchDays     int
	MaxSuggestions int

	// HistoryWindow is how many recent messages form the model context.
	HistoryWindow int

	// Defaults are used when the manager has no stored preferences.
	Defaults domain.SchedulingPreferences
}

// Reply is the agent's answer to one message.
type Reply struct {
	Text     string
	Fallback bool
	State    domain.ConversationState
	Slots    []domain.CandidateSlot
	EventID  string
}

type session struct {
	details parser.MeetingDetails
	slots   []domain.CandidateSlot
	loc     *time.Location
	emails  []string
}

// Option configures an Agent.
type Option func(*Agent)

// WithEngine replaces the slot engine, for a fixed clock in tests.
func WithEngine(e *scheduling.Engine) Option {
	return func(a *Agent) { a.engine = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.log = l }
}

// Agent handles conversations for one manager's calendar.
type Agent struct {
	cfg      Config
	gov      Governor
	history  storage.HistoryStore
	prefs    storage.PreferencesRepository
	calendar calendar.Calendar
	engine   *scheduling.Engine
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates an Agent.
func New(
	cfg Config,
	gov Governor,
	history storage.HistoryStore,
	prefs storage.PreferencesRepository,
	cal calendar.Calendar,
	opts ...Option,
) *Agent {
	if cfg.SearchDays <= 0 {
		cfg.SearchDays = 14
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = 5
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 5
	}
	a := &Agent{
		cfg:      cfg,
		gov:      gov,
		history:  history,
		prefs:    prefs,
		calendar: cal,
		engine:   scheduling.NewEngine(),
		log:      slog.Default().With("component", "assistant"),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handle answers one inbound message and records both sides in history.
func (a *Agent) Handle(ctx context.Context, msg *parser.Message) (Reply, error) {
	id := msg.ContactID

	received := msg.ReceivedAt
	if received.IsZero() {
		received = a.now()
	}
	if err := a.history.Append(ctx, id, domain.Message{
		Role:      domain.RoleUser,
		Text:      msg.CleanText,
		CreatedAt: received,
	}); err != nil {
		return Reply{}, fmt.Errorf("append history: %w", err)
	}

	state, err := a.history.State(ctx, id)
	if err != nil {
		return Reply{}, fmt.Errorf("load state: %w", err)
	}
	recent, err := a.history.Recent(ctx, id, a.cfg.HistoryWindow)
	if err != nil {
		return Reply{}, fmt.Errorf("load history: %w", err)
	}

	conv := domain.ConversationContext{
		ContactID:   id,
		UserName:    msg.UserName,
		State:       state,
		History:     recent,
		LastMessage: msg.CleanText,
	}

	reply, intent, err := a.route(ctx, conv, msg)
	if err != nil {
		return Reply{}, err
	}
	metrics.MessagesHandled.WithLabelValues(intent).Inc()

	if reply.State != state {
		if err := a.history.SetState(ctx, id, reply.State); err != nil {
			return Reply{}, fmt.Errorf("save state: %w", err)
		}
		a.log.Debug("Conversation state changed", "contact", id, "from", state, "to", reply.State)
	}
	if err := a.history.Append(ctx, id, domain.Message{
		Role:      domain.RoleAssistant,
		Text:      reply.Text,
		CreatedAt: a.now(),
	}); err != nil {
		return Reply{}, fmt.Errorf("append history: %w", err)
	}

	return reply, nil
}

// route picks the handler for msg and returns the intent label for metrics.
func (a *Agent) route(ctx context.Context, conv domain.ConversationContext, msg *parser.Message) (Reply, string, error) {
	if msg.IsCommand {
		switch msg.Command {
		case "cancel":
			return a.cancel(conv), "cancel", nil
		case "start":
			return a.intro(conv), "greeting", nil
		case "help":
			return Reply{Text: helpText, State: conv.State}, "help", nil
		default:
			return Reply{
				Text:  fmt.Sprintf("Sorry, I don't know the /%s command. Try /help.", msg.Command),
				State: conv.State,
			}, "command", nil
		}
	}

	text := msg.CleanText
	intents := parser.DetectIntents(text)

	if intents.HasEmail {
		a.rememberEmails(conv.ContactID, parser.ExtractContactInfo(text).Emails)
	}

	switch {
	case intents.Cancel && conv.State != domain.StateIdle:
		return a.cancel(conv), "cancel", nil

	case conv.State == domain.StateConfirmation && !intents.WantsMeeting:
		if n, ok := parseChoice(text); ok {
			r, err := a.confirm(ctx, conv, n)
			return r, "confirm", err
		}

	case intents.WantsMeeting,
		conv.State == domain.StateCollectingInfo,
		conv.State == domain.StateSchedulingMeeting:
		r, err := a.schedule(ctx, conv, text)
		return r, "meeting", err
	}

	if conv.State == domain.StateIdle && fallback.DetectIntent(text) == fallback.IntentGreeting {
		return a.intro(conv), "greeting", nil
	}

	r, err := a.converse(ctx, conv)
	return r, "general", err
}

func (a *Agent) intro(conv domain.ConversationContext) Reply {
	returning := len(conv.History) > 1
	return Reply{Text: introText(conv.UserName, returning), State: conv.State}
}

func (a *Agent) cancel(conv domain.ConversationContext) Reply {
	a.resetSession(conv.ContactID)
	return Reply{Text: cancelText, State: domain.StateIdle}
}

// converse asks the governor for a free-form reply.
func (a *Agent) converse(ctx context.Context, conv domain.ConversationContext) (Reply, error) {
	req := provider.Request{
		System:  systemPrompt(conv.UserName),
		Prompt:  conv.LastMessage,
		History: turns(conv.History),
	}
	resp, err := a.gov.Submit(ctx, conv, req)
	if err != nil {
		return Reply{}, fmt.Errorf("generate reply: %w", err)
	}
	return Reply{Text: resp.Text, Fallback: resp.IsFallback(), State: conv.State}, nil
}

// schedule gathers meeting details and offers slots once they are complete.
func (a *Agent) schedule(ctx context.Context, conv domain.ConversationContext, text string) (Reply, error) {
	id := conv.ContactID
	details := a.extractDetails(ctx, conv, text).Merge(a.sessionDetails(id))

	if details.Duration != 0 {
		if err := scheduling.ValidateDuration(details.Duration); err != nil {
			details.Duration = 0
			a.setDetails(id, details)
			return Reply{Text: invalidDurationText, State: domain.StateCollectingInfo}, nil
		}
	}
	a.setDetails(id, details)

	if missing := details.Missing(); len(missing) > 0 {
		return Reply{Text: meetingInfoPrompt(missing), State: domain.StateCollectingInfo}, nil
	}

	prefs, err := a.preferences(ctx)
	if err != nil {
		return Reply{}, err
	}
	loc, err := prefs.Location()
	if err != nil {
		return Reply{}, fmt.Errorf("preferences time zone: %w", err)
	}

	window := scheduling.NextDays(a.now(), a.cfg.SearchDays)
	busy, err := a.calendar.BusyIntervals(ctx, a.cfg.CalendarID, window.Start, window.End)
	if err != nil {
		if r, ok := a.calendarTrouble(err, domain.StateSchedulingMeeting); ok {
			return r, nil
		}
		return Reply{}, fmt.Errorf("busy intervals: %w", err)
	}

	slots, err := a.findSlots(busy, prefs, details, window, loc)
	if err != nil {
		return Reply{}, fmt.Errorf("find slots: %w", err)
	}
	metrics.SlotsFound.Observe(float64(len(slots)))

	if len(slots) == 0 {
		a.resetSession(id)
		return Reply{Text: noSlotsText(a.cfg.SearchDays), State: domain.StateIdle}, nil
	}

	a.setOffer(id, slots, loc)
	a.log.Info("Offered meeting slots",
		"contact", id,
		"topic", details.Topic,
		"duration", details.Duration,
		"count", len(slots),
	)
	return Reply{
		Text:  scheduling.FormatOptions(slots, loc),
		State: domain.StateConfirmation,
		Slots: slots,
	}, nil
}

// extractDetails asks the model for structured details and falls back to
// pattern matching when the answer is canned or unparseable.
func (a *Agent) extractDetails(ctx context.Context, conv domain.ConversationContext, text string) parser.MeetingDetails {
	patterns := parser.ExtractDetails(text)

	resp, err := a.gov.Submit(ctx, conv, provider.Request{
		System: parser.DetailsPrompt,
		Prompt: text,
		JSON:   true,
	})
	if err != nil {
		var fatal *governor.FatalError
		if errors.As(err, &fatal) {
			a.log.Error("Detail extraction failed", "error", err)
		}
		return patterns
	}
	if resp.IsFallback() {
		return patterns
	}

	details, err := parser.ParseDetailsJSON(resp.Text)
	if err != nil {
		a.log.Debug("Unparseable detail extraction", "error", err)
		return patterns
	}
	return details.Merge(patterns)
}

func (a *Agent) preferences(ctx context.Context) (domain.SchedulingPreferences, error) {
	p, err := scheduling.Lookup(ctx, a.prefs, a.cfg.ManagerID)
	if errors.Is(err, scheduling.ErrPreferencesNotFound) {
		d := a.cfg.Defaults
		d.ManagerID = a.cfg.ManagerID
		return d, nil
	}
	return p, err
}

// findSlots returns up to MaxSuggestions slots in ascending order. Slots
// at the requested time of day are preferred.
func (a *Agent) findSlots(
	busy []domain.BusyInterval,
	prefs domain.SchedulingPreferences,
	details parser.MeetingDetails,
	window scheduling.Window,
	loc *time.Location,
) ([]domain.CandidateSlot, error) {
	limit := a.cfg.MaxSuggestions
	hour, minute, ok := details.Clock()
	if !ok {
		return a.engine.FindSlots(busy, prefs, details.Duration, limit, window)
	}

	all, err := a.engine.FindSlots(busy, prefs, details.Duration, preferredSearchLimit, window)
	if err != nil {
		return nil, err
	}

	var picked, rest []domain.CandidateSlot
	for _, s := range all {
		st := s.Start.In(loc)
		if st.Hour() == hour && st.Minute() == minute {
			picked = append(picked, s)
		} else {
			rest = append(rest, s)
		}
	}
	if len(picked) > limit {
		picked = picked[:limit]
	}
	for _, s := range rest {
		if len(picked) >= limit {
			break
		}
		picked = append(picked, s)
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].Start.Before(picked[j].Start) })
	return picked, nil
}

// confirm books the chosen offer.
func (a *Agent) confirm(ctx context.Context, conv domain.ConversationContext, choice int) (Reply, error) {
	id := conv.ContactID
	sess := a.snapshot(id)
	if len(sess.slots) == 0 {
		a.resetSession(id)
		return Reply{Text: helpText, State: domain.StateIdle}, nil
	}
	if choice < 1 || choice > len(sess.slots) {
		return Reply{Text: choiceRangeText(len(sess.slots)), State: domain.StateConfirmation}, nil
	}

	slot := sess.slots[choice-1]
	title := sess.details.Topic
	if title == "" {
		title = "Meeting"
	}
	if conv.UserName != "" {
		title += " with " + conv.UserName
	}

	eventID, err := a.Book(ctx, slot, title, sess.emails)
	if errors.Is(err, calendar.ErrSlotTaken) {
		remaining := a.dropSlot(id, choice-1)
		if len(remaining) == 0 {
			a.resetSession(id)
			return Reply{Text: slotTakenNoneLeftText, State: domain.StateIdle}, nil
		}
		return Reply{
			Text:  slotTakenText + "\n\n" + scheduling.FormatOptions(remaining, sess.loc),
			State: domain.StateConfirmation,
			Slots: remaining,
		}, nil
	}
	if err != nil {
		if r, ok := a.calendarTrouble(err, domain.StateConfirmation); ok {
			return r, nil
		}
		return Reply{}, fmt.Errorf("book meeting: %w", err)
	}

	a.resetSession(id)
	return Reply{
		Text: fmt.Sprintf("Your meeting has been scheduled!\n• %s\nTopic: %s",
			scheduling.FormatHuman(slot, sess.loc), title),
		State:   domain.StateIdle,
		EventID: eventID,
	}, nil
}

// Book creates the calendar event for slot and returns its ID.
func (a *Agent) Book(ctx context.Context, slot domain.CandidateSlot, title string, attendees []string) (string, error) {
	return a.calendar.CreateEvent(ctx, a.cfg.CalendarID, attendees, slot.Start, slot.End, title)
}

// calendarTrouble turns a recoverable calendar failure into a reply.
// Auth and unknown failures are left for the caller to surface.
func (a *Agent) calendarTrouble(err error, state domain.ConversationState) (Reply, bool) {
	var cerr *calendar.Error
	if !errors.As(err, &cerr) || cerr.Category.Fatal() {
		return Reply{}, false
	}
	a.log.Warn("Calendar unavailable", "category", cerr.Category.String(), "error", err)
	return Reply{Text: calendarUnavailableText, State: state}, true
}

func (a *Agent) now() time.Time {
	if a.engine != nil && a.engine.Now != nil {
		return a.engine.Now()
	}
	return time.Now()
}

// ---- Sessions ----

func (a *Agent) sessionUnsafe(id string) *session {
	s, ok := a.sessions[id]
	if !ok {
		s = &session{}
		a.sessions[id] = s
	}
	return s
}

func (a *Agent) sessionDetails(id string) parser.MeetingDetails {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionUnsafe(id).details
}

func (a *Agent) setDetails(id string, d parser.MeetingDetails) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionUnsafe(id).details = d
}

func (a *Agent) setOffer(id string, slots []domain.CandidateSlot, loc *time.Location) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.sessionUnsafe(id)
	s.slots = slots
	s.loc = loc
}

func (a *Agent) dropSlot(id string, i int) []domain.CandidateSlot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.sessionUnsafe(id)
	kept := make([]domain.CandidateSlot, 0, len(s.slots))
	kept = append(kept, s.slots[:i]...)
	kept = append(kept, s.slots[i+1:]...)
	s.slots = kept
	return kept
}

func (a *Agent) rememberEmails(id string, emails []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.sessionUnsafe(id)
	for _, e := range emails {
		e = strings.ToLower(e)
		dup := false
		for _, have := range s.emails {
			if have == e {
				dup = true
				break
			}
		}
		if !dup {
			s.emails = append(s.emails, e)
		}
	}
}

// snapshot returns a copy of the contact's session.
func (a *Agent) snapshot(id string) session {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := *a.sessionUnsafe(id)
	s.slots = append([]domain.CandidateSlot(nil), s.slots...)
	s.emails = append([]string(nil), s.emails...)
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s
}

// resetSession drops pending details and offers. Known emails are kept.
func (a *Agent) resetSession(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.sessionUnsafe(id)
	s.details = parser.MeetingDetails{}
	s.slots = nil
	s.loc = nil
}

// ---- Helpers ----

var (
	choicePattern = regexp.MustCompile(`(?i)^\s*(?:option\s*|#)?(\d{1,2})\s*[.)]?\s*$`)
	ordinals      = map[string]int{
		"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
		"1st": 1, "2nd": 2, "3rd": 3, "4th": 4, "5th": 5,
	}
)

// parseChoice reads a 1-based option number from replies like "2",
// "option 3" or "the first one".
func parseChoice(text string) (int, bool) {
	if m := choicePattern.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		return n, err == nil
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	if len(words) > 4 {
		return 0, false
	}
	for _, w := range words {
		if n, ok := ordinals[w]; ok {
			return n, true
		}
	}
	return 0, false
}

// turns converts stored history, minus the message being answered, into
// provider context.
func turns(history []domain.Message) []provider.Turn {
	if len(history) == 0 {
		return nil
	}
	prior := history[:len(history)-1]
	out := make([]provider.Turn, 0, len(prior))
	for _, m := range prior {
		out = append(out, provider.Turn{Assistant: m.Role == domain.RoleAssistant, Text: m.Text})
	}
	return out
}
