package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/store"
)

// EventType names the interactions that drive the wizard forward.
type EventType string

const (
	EventStart         EventType = "start"
	EventContinue      EventType = "continue"
	EventBack          EventType = "back"
	EventCancel        EventType = "cancel"
	EventRecheck       EventType = "recheck"
	EventSelectChannel EventType = "select_channel"
	EventSelectSource  EventType = "select_source"
	EventSetName       EventType = "set_name"
	EventAutoName      EventType = "auto_name"
	EventCreate        EventType = "create"
	EventEditSettings  EventType = "edit_settings"
	EventStartOver     EventType = "start_over"
	EventToggleActive  EventType = "toggle_active"
	EventSetStyle      EventType = "set_style"
)

// Event carries an interaction into the machine with its payload.
type Event struct {
	Type      EventType
	ChannelID string
	Name      string
	Style     store.ForwardStyle
}

// ErrNoSession is returned when no live session exists for the guild.
var ErrNoSession = errors.New("no live setup session")

// ErrNoTransition is returned when an event is not valid for the
// session's current step.
var ErrNoTransition = errors.New("event not valid for current step")

// ValidationError aggregates guard failures; the step does not
// advance and the messages are shown to the user.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages, " ")
}

// Env is what the machine needs to know about the outside world to
// evaluate guards and commit completed rules. The bot supplies a
// discord-backed implementation; tests supply fakes.
type Env interface {
	// HasBasicPermissions reports whether the bot holds the minimum
	// capability set in the guild, and which permissions are missing.
	HasBasicPermissions(guildID string) (bool, []string)
	// CanSendIn reports whether the bot can send messages in the channel.
	CanSendIn(guildID, channelID string) bool
	// IsTextChannel reports whether the channel exists and is text-capable.
	IsTextChannel(guildID, channelID string) bool
	// ChannelName returns the channel's display name, or "" if unknown.
	ChannelName(guildID, channelID string) string
	// RuleCount returns the guild's current rule count.
	RuleCount(guildID string) int
	// MaxRules returns the guild's resolved rule limit.
	MaxRules(guildID string) int
	// SaveRule appends a completed rule to the guild.
	SaveRule(guildID string, rule store.Rule) bool
	// UpdateRule persists changes to an existing rule.
	UpdateRule(rule store.Rule) bool
}

type transitionKey struct {
	step  Step
	event EventType
}

type transition struct {
	// next computes the destination step; most transitions are static
	// but a few branch on session state (edit-mode back edges).
	next func(*Session) Step
	// guard refuses the transition without advancing state.
	guard func(m *Machine, s *Session, ev Event) error
	// effect mutates the session after the guard passes.
	effect func(m *Machine, s *Session, ev Event)
}

// Machine drives the setup wizard. All control flow lives in the
// transition table; rendering is the wizard's concern, not the
// machine's.
type Machine struct {
	sessions *SessionStore
	env      Env
	table    map[transitionKey]transition
}

// NewMachine builds the machine and its transition table.
func NewMachine(sessions *SessionStore, env Env) *Machine {
	m := &Machine{sessions: sessions, env: env}
	m.table = m.buildTable()
	return m
}

func staticNext(step Step) func(*Session) Step {
	return func(*Session) Step { return step }
}

func (m *Machine) buildTable() map[transitionKey]transition {
	t := map[transitionKey]transition{
		{StepWelcome, EventStart}: {next: staticNext(StepPermissions)},

		{StepPermissions, EventContinue}: {
			next:  staticNext(StepLogChannel),
			guard: guardBasicPermissions,
		},
		{StepPermissions, EventRecheck}: {next: staticNext(StepPermissions)},
		{StepPermissions, EventBack}:    {next: staticNext(StepWelcome)},

		{StepLogChannel, EventSelectChannel}: {
			next:   staticNext(StepFirstRule),
			guard:  guardLogChannel,
			effect: effectSetLogChannel,
		},
		{StepLogChannel, EventBack}: {next: staticNext(StepPermissions)},

		{StepFirstRule, EventCreate}: {
			next:   staticNext(StepSource),
			effect: effectInitRule,
		},
		{StepFirstRule, EventBack}: {next: staticNext(StepLogChannel)},

		{StepSource, EventSelectChannel}: {
			next:   staticNext(StepDestination),
			guard:  guardSelectableChannel,
			effect: effectSetSource,
		},
		{StepSource, EventBack}: {next: staticNext(StepFirstRule)},

		{StepDestination, EventSelectChannel}: {
			next:   staticNext(StepRuleName),
			guard:  guardSelectableChannel,
			effect: effectSetDestination,
		},
		{StepDestination, EventBack}: {next: staticNext(StepSource)},

		{StepRuleName, EventSetName}: {
			next:   staticNext(StepRulePreview),
			guard:  guardRuleName,
			effect: effectSetName,
		},
		{StepRuleName, EventAutoName}: {
			next:   staticNext(StepRulePreview),
			effect: effectAutoName,
		},
		{StepRuleName, EventBack}: {next: staticNext(StepDestination)},

		{StepRulePreview, EventCreate}: {
			next:  staticNext(StepComplete),
			guard: guardFinalRule,
		},
		{StepRulePreview, EventEditSettings}: {next: staticNext(StepEditSettings)},
		{StepRulePreview, EventStartOver}: {
			next:   staticNext(StepSource),
			effect: effectInitRule,
		},
		{StepRulePreview, EventBack}: {
			// In edit mode, back returns to the settings editor, not the
			// name step that was never visited.
			next: func(s *Session) Step {
				if s.IsEditing {
					return StepEditSettings
				}
				return StepRuleName
			},
		},

		{StepEditSettings, EventSetName}: {
			next:   staticNext(StepEditSettings),
			guard:  guardRuleName,
			effect: effectSetName,
		},
		{StepEditSettings, EventSelectChannel}: {
			next:   staticNext(StepEditSettings),
			guard:  guardSelectableChannel,
			effect: effectSetDestination,
		},
		{StepEditSettings, EventSelectSource}: {
			next:   staticNext(StepEditSettings),
			guard:  guardSelectableChannel,
			effect: effectSetSource,
		},
		{StepEditSettings, EventToggleActive}: {
			next:   staticNext(StepEditSettings),
			effect: effectToggleActive,
		},
		{StepEditSettings, EventSetStyle}: {
			next:   staticNext(StepEditSettings),
			effect: effectSetStyle,
		},
		{StepEditSettings, EventContinue}: {next: staticNext(StepRulePreview)},
	}

	// Cancel is reachable from every non-terminal state.
	for _, step := range []Step{
		StepWelcome, StepPermissions, StepLogChannel, StepFirstRule,
		StepSource, StepDestination, StepRuleName, StepRulePreview, StepEditSettings,
	} {
		t[transitionKey{step, EventCancel}] = transition{next: staticNext(StepCancelled)}
	}

	return t
}

// Fire applies the event to the guild's live session. The whole
// transition runs inside the session store's lock, so concurrent
// interactions for one guild serialize; the returned session is a
// snapshot reflecting the new step. Terminal transitions delete the
// session from the store.
func (m *Machine) Fire(ctx context.Context, guildID string, ev Event) (*Session, error) {
	var (
		result  *Session
		fireErr error
	)
	found := m.sessions.Mutate(ctx, guildID, func(session *Session) bool {
		defer func() { result = session.clone() }()

		tr, ok := m.table[transitionKey{session.Step, ev.Type}]
		if !ok {
			fireErr = fmt.Errorf("%w: step=%s event=%s", ErrNoTransition, session.Step, ev.Type)
			return false
		}

		if tr.guard != nil {
			if err := tr.guard(m, session, ev); err != nil {
				// Refused transitions still count as activity.
				session.Touch()
				fireErr = err
				return false
			}
		}

		if tr.effect != nil {
			tr.effect(m, session, ev)
		}

		switch next := tr.next(session); next {
		case StepComplete:
			if err := m.commitRule(session); err != nil {
				session.Touch()
				fireErr = err
				return false
			}
			session.Step = StepComplete
			slog.Info("Setup completed", "guild", guildID, "editing", session.IsEditing)
			return true
		case StepCancelled:
			session.Step = StepCancelled
			slog.Info("Setup cancelled", "guild", guildID)
			return true
		default:
			session.Step = next
			session.Touch()
			return false
		}
	})
	if !found {
		return nil, ErrNoSession
	}
	return result, fireErr
}

// StartEdit opens a session directly at the rule preview with the
// stored rule loaded, skipping the earlier steps.
func (m *Machine) StartEdit(ctx context.Context, guildID, userID string, rule store.Rule) *Session {
	result := m.sessions.Create(ctx, guildID, userID)
	step := StepRulePreview
	editing := true
	m.sessions.Mutate(ctx, guildID, func(s *Session) bool {
		s.Apply(Update{
			Step:        &step,
			CurrentRule: &rule,
			IsEditing:   &editing,
		})
		result = s.clone()
		return false
	})
	return result
}

// commitRule writes the session's rule on the complete transition.
func (m *Machine) commitRule(s *Session) error {
	if s.CurrentRule == nil {
		return &ValidationError{Messages: []string{"No rule has been configured."}}
	}
	if s.IsEditing {
		if !m.env.UpdateRule(*s.CurrentRule) {
			return fmt.Errorf("failed to save rule changes")
		}
		return nil
	}
	if !m.env.SaveRule(s.GuildID, *s.CurrentRule) {
		return fmt.Errorf("failed to save new rule")
	}
	return nil
}

// Guards

func guardBasicPermissions(m *Machine, s *Session, _ Event) error {
	ok, missing := m.env.HasBasicPermissions(s.GuildID)
	if !ok {
		return &ValidationError{Messages: []string{
			"I'm missing required permissions: " + strings.Join(missing, ", ") + ".",
		}}
	}
	return nil
}

func guardLogChannel(m *Machine, s *Session, ev Event) error {
	var msgs []string
	if !m.env.IsTextChannel(s.GuildID, ev.ChannelID) {
		msgs = append(msgs, "Please select a text channel.")
	} else if !m.env.CanSendIn(s.GuildID, ev.ChannelID) {
		msgs = append(msgs, "I can't send messages in that channel.")
	}
	if len(msgs) > 0 {
		return &ValidationError{Messages: msgs}
	}
	return nil
}

func guardSelectableChannel(m *Machine, s *Session, ev Event) error {
	if !m.env.IsTextChannel(s.GuildID, ev.ChannelID) {
		return &ValidationError{Messages: []string{"Please select a text channel."}}
	}
	return nil
}

func guardRuleName(_ *Machine, _ *Session, ev Event) error {
	if len(ev.Name) < 1 || len(ev.Name) > 100 {
		return &ValidationError{Messages: []string{"Rule name must be between 1 and 100 characters."}}
	}
	return nil
}

// guardFinalRule aggregates every creation-time check; all failures
// are reported at once.
func guardFinalRule(m *Machine, s *Session, _ Event) error {
	rule := s.CurrentRule
	if rule == nil {
		return &ValidationError{Messages: []string{"No rule has been configured."}}
	}

	var msgs []string
	if rule.SourceChannelID == rule.DestinationChannelID {
		msgs = append(msgs, "Source and destination channels cannot be the same.")
	}
	if !m.env.IsTextChannel(s.GuildID, rule.SourceChannelID) {
		msgs = append(msgs, "Source channel not found or not a text channel.")
	}
	if !m.env.IsTextChannel(s.GuildID, rule.DestinationChannelID) {
		msgs = append(msgs, "Destination channel not found or not a text channel.")
	}
	if len(rule.RuleName) < 1 || len(rule.RuleName) > 100 {
		msgs = append(msgs, "Rule name must be between 1 and 100 characters.")
	}
	if !rule.Settings.MessageTypes.Any() {
		msgs = append(msgs, "At least one message type must be enabled.")
	}
	if !s.IsEditing {
		if count, max := m.env.RuleCount(s.GuildID), m.env.MaxRules(s.GuildID); count >= max {
			msgs = append(msgs, fmt.Sprintf("Rule limit reached (%d/%d). Upgrade to premium for more rules.", count, max))
		}
	}

	if len(msgs) > 0 {
		return &ValidationError{Messages: msgs}
	}
	return nil
}

// Effects

func effectSetLogChannel(m *Machine, s *Session, ev Event) {
	s.MasterLogChannel = ev.ChannelID
}

func effectInitRule(m *Machine, s *Session, _ Event) {
	rule := store.NewRule("", "", "")
	s.CurrentRule = &rule
	s.IsEditing = false
}

func effectSetSource(m *Machine, s *Session, ev Event) {
	if s.CurrentRule != nil {
		s.CurrentRule.SourceChannelID = ev.ChannelID
	}
}

func effectSetDestination(m *Machine, s *Session, ev Event) {
	if s.CurrentRule != nil {
		s.CurrentRule.DestinationChannelID = ev.ChannelID
	}
}

func effectSetName(m *Machine, s *Session, ev Event) {
	if s.CurrentRule != nil {
		s.CurrentRule.RuleName = ev.Name
	}
}

func effectAutoName(m *Machine, s *Session, _ Event) {
	if s.CurrentRule == nil {
		return
	}
	source := m.env.ChannelName(s.GuildID, s.CurrentRule.SourceChannelID)
	dest := m.env.ChannelName(s.GuildID, s.CurrentRule.DestinationChannelID)
	s.CurrentRule.RuleName = fmt.Sprintf("Forward from #%s to #%s", source, dest)
}

func effectToggleActive(_ *Machine, s *Session, _ Event) {
	if s.CurrentRule != nil {
		s.CurrentRule.IsActive = !s.CurrentRule.IsActive
	}
}

func effectSetStyle(_ *Machine, s *Session, ev Event) {
	if s.CurrentRule != nil && ev.Style != "" {
		s.CurrentRule.Settings.Formatting.ForwardStyle = ev.Style
	}
}
