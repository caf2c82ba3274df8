package setup

import (
	"time"

	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/store"
)

// Step identifies where a guild's setup wizard currently is.
type Step string

const (
	StepWelcome      Step = "welcome"
	StepPermissions  Step = "permissions"
	StepLogChannel   Step = "log_channel"
	StepFirstRule    Step = "first_rule"
	StepSource       Step = "source_channel"
	StepDestination  Step = "destination_channel"
	StepRuleName     Step = "rule_name"
	StepRulePreview  Step = "rule_preview"
	StepEditSettings Step = "edit_settings"
	StepComplete     Step = "complete"
	StepCancelled    Step = "cancelled"
)

// Session is the in-memory state of one guild's setup wizard. The
// in-memory copy is authoritative for the current process; the durable
// record exists for crash recovery.
type Session struct {
	GuildID          string
	UserID           string
	Step             Step
	StartedAt        time.Time
	LastActivity     time.Time
	MasterLogChannel string
	CurrentRule      *store.Rule
	IsEditing        bool
	SetupOptions     map[string]bool
}

// NewSession creates a fresh session at the welcome step.
func NewSession(guildID, userID string) *Session {
	now := time.Now().UTC()
	return &Session{
		GuildID:      guildID,
		UserID:       userID,
		Step:         StepWelcome,
		StartedAt:    now,
		LastActivity: now,
		SetupOptions: map[string]bool{},
	}
}

// Update is the enumerated set of field changes a wizard interaction
// may apply to a session. Nil pointers mean "leave unchanged", which
// preserves partial-merge semantics without reflection.
type Update struct {
	Step             *Step
	MasterLogChannel *string
	CurrentRule      *store.Rule
	ClearCurrentRule bool
	IsEditing        *bool
	SetupOption      *OptionUpdate
}

// OptionUpdate toggles a single named setup option.
type OptionUpdate struct {
	Name    string
	Enabled bool
}

// Apply merges the update into the session and bumps last activity.
func (s *Session) Apply(u Update) {
	if u.Step != nil {
		s.Step = *u.Step
	}
	if u.MasterLogChannel != nil {
		s.MasterLogChannel = *u.MasterLogChannel
	}
	if u.ClearCurrentRule {
		s.CurrentRule = nil
	} else if u.CurrentRule != nil {
		s.CurrentRule = u.CurrentRule
	}
	if u.IsEditing != nil {
		s.IsEditing = *u.IsEditing
	}
	if u.SetupOption != nil {
		if s.SetupOptions == nil {
			s.SetupOptions = map[string]bool{}
		}
		s.SetupOptions[u.SetupOption.Name] = u.SetupOption.Enabled
	}
	s.Touch()
}

// clone copies the session for readers outside the store's mutex. The
// rule and option map are copied too, so renderers never share memory
// with the canonical session.
func (s *Session) clone() *Session {
	c := *s
	if s.CurrentRule != nil {
		rule := *s.CurrentRule
		c.CurrentRule = &rule
	}
	if s.SetupOptions != nil {
		c.SetupOptions = make(map[string]bool, len(s.SetupOptions))
		for name, enabled := range s.SetupOptions {
			c.SetupOptions[name] = enabled
		}
	}
	return &c
}

// Touch bumps the inactivity clock.
func (s *Session) Touch() {
	s.LastActivity = time.Now().UTC()
}

// IsExpired reports whether the session has been idle longer than the
// timeout.
func (s *Session) IsExpired(timeout time.Duration) bool {
	return time.Since(s.LastActivity) > timeout
}

// Progress returns a rough completion fraction for the progress
// indicator on each wizard embed.
func (s *Session) Progress() float64 {
	order := []Step{
		StepWelcome, StepPermissions, StepLogChannel, StepFirstRule,
		StepSource, StepDestination, StepRuleName, StepRulePreview, StepComplete,
	}
	for i, step := range order {
		if step == s.Step {
			return float64(i) / float64(len(order)-1)
		}
	}
	return 0
}

// Record converts the session to its durable form.
func (s *Session) Record() store.SessionRecord {
	return store.SessionRecord{
		GuildID:          s.GuildID,
		UserID:           s.UserID,
		Step:             string(s.Step),
		StartedAt:        s.StartedAt,
		LastActivity:     s.LastActivity,
		MasterLogChannel: s.MasterLogChannel,
		CurrentRule:      s.CurrentRule,
		IsEditing:        s.IsEditing,
		SetupOptions:     s.SetupOptions,
	}
}

// FromRecord reconstructs a session from its durable form.
func FromRecord(record store.SessionRecord) *Session {
	return &Session{
		GuildID:          record.GuildID,
		UserID:           record.UserID,
		Step:             Step(record.Step),
		StartedAt:        record.StartedAt,
		LastActivity:     record.LastActivity,
		MasterLogChannel: record.MasterLogChannel,
		CurrentRule:      record.CurrentRule,
		IsEditing:        record.IsEditing,
		SetupOptions:     record.SetupOptions,
	}
}
