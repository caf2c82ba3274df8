package setup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/store"
)

// fakeEnv is a permissive setup.Env the tests tighten per case.
type fakeEnv struct {
	missingPerms []string
	noSendIn     map[string]bool
	badChannels  map[string]bool
	channelNames map[string]string
	ruleCount    int
	maxRules     int
	saved        []store.Rule
	updated      []store.Rule
	saveFails    bool
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{
		noSendIn:     map[string]bool{},
		badChannels:  map[string]bool{},
		channelNames: map[string]string{},
		maxRules:     3,
	}
}

func (e *fakeEnv) HasBasicPermissions(string) (bool, []string) {
	return len(e.missingPerms) == 0, e.missingPerms
}

func (e *fakeEnv) CanSendIn(_, channelID string) bool     { return !e.noSendIn[channelID] }
func (e *fakeEnv) IsTextChannel(_, channelID string) bool { return !e.badChannels[channelID] }
func (e *fakeEnv) ChannelName(_, channelID string) string { return e.channelNames[channelID] }
func (e *fakeEnv) RuleCount(string) int                   { return e.ruleCount }
func (e *fakeEnv) MaxRules(string) int                    { return e.maxRules }

func (e *fakeEnv) SaveRule(_ string, rule store.Rule) bool {
	if e.saveFails {
		return false
	}
	e.saved = append(e.saved, rule)
	return true
}

func (e *fakeEnv) UpdateRule(rule store.Rule) bool {
	e.updated = append(e.updated, rule)
	return true
}

func newTestMachine(env *fakeEnv) (*Machine, *SessionStore) {
	sessions := NewSessionStore(newFakeDurable(), 30*time.Minute)
	return NewMachine(sessions, env), sessions
}

func fire(t *testing.T, m *Machine, events ...Event) *Session {
	t.Helper()
	var session *Session
	var err error
	for _, ev := range events {
		session, err = m.Fire(context.Background(), "guild-1", ev)
		require.NoError(t, err, "event %s from step %v", ev.Type, session)
	}
	return session
}

func TestMachine_FullWizardWalk(t *testing.T) {
	env := newFakeEnv()
	env.channelNames["src"] = "announcements"
	env.channelNames["dst"] = "general"
	m, sessions := newTestMachine(env)

	sessions.Create(context.Background(), "guild-1", "user-1")

	session := fire(t, m,
		Event{Type: EventStart},
		Event{Type: EventContinue},
		Event{Type: EventSelectChannel, ChannelID: "log"},
		Event{Type: EventCreate},
		Event{Type: EventSelectChannel, ChannelID: "src"},
		Event{Type: EventSelectChannel, ChannelID: "dst"},
		Event{Type: EventSetName, Name: "My Rule"},
		Event{Type: EventCreate},
	)

	assert.Equal(t, StepComplete, session.Step)
	require.Len(t, env.saved, 1)
	assert.Equal(t, "My Rule", env.saved[0].RuleName)
	assert.Equal(t, "src", env.saved[0].SourceChannelID)
	assert.Equal(t, "dst", env.saved[0].DestinationChannelID)
	assert.Equal(t, "log", session.MasterLogChannel)

	assert.Equal(t, 0, sessions.Count(), "completion cleans the session up")
}

func TestMachine_AutoNameFromChannels(t *testing.T) {
	env := newFakeEnv()
	env.channelNames["src"] = "announcements"
	env.channelNames["dst"] = "general"
	m, sessions := newTestMachine(env)

	sessions.Create(context.Background(), "guild-1", "user-1")
	session := fire(t, m,
		Event{Type: EventStart},
		Event{Type: EventContinue},
		Event{Type: EventSelectChannel, ChannelID: "log"},
		Event{Type: EventCreate},
		Event{Type: EventSelectChannel, ChannelID: "src"},
		Event{Type: EventSelectChannel, ChannelID: "dst"},
		Event{Type: EventAutoName},
	)

	assert.Equal(t, StepRulePreview, session.Step)
	assert.Equal(t, "Forward from #announcements to #general", session.CurrentRule.RuleName)
}

func TestMachine_MissingPermissionsBlocksContinue(t *testing.T) {
	env := newFakeEnv()
	env.missingPerms = []string{"Send Messages"}
	m, sessions := newTestMachine(env)

	sessions.Create(context.Background(), "guild-1", "user-1")
	fire(t, m, Event{Type: EventStart})

	session, err := m.Fire(context.Background(), "guild-1", Event{Type: EventContinue})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Messages[0], "Send Messages")
	assert.Equal(t, StepPermissions, session.Step, "guard failure does not advance the step")
}

func TestMachine_RecheckAfterGrantingPermissions(t *testing.T) {
	env := newFakeEnv()
	env.missingPerms = []string{"Embed Links"}
	m, sessions := newTestMachine(env)

	sessions.Create(context.Background(), "guild-1", "user-1")
	fire(t, m, Event{Type: EventStart})

	_, err := m.Fire(context.Background(), "guild-1", Event{Type: EventContinue})
	require.Error(t, err)

	env.missingPerms = nil
	session := fire(t, m, Event{Type: EventRecheck}, Event{Type: EventContinue})
	assert.Equal(t, StepLogChannel, session.Step)
}

func TestMachine_FinalGuardAggregatesFailures(t *testing.T) {
	env := newFakeEnv()
	env.ruleCount = 3 // already at the free-tier cap
	m, sessions := newTestMachine(env)

	sessions.Create(context.Background(), "guild-1", "user-1")
	fire(t, m,
		Event{Type: EventStart},
		Event{Type: EventContinue},
		Event{Type: EventSelectChannel, ChannelID: "log"},
		Event{Type: EventCreate},
		Event{Type: EventSelectChannel, ChannelID: "same"},
		Event{Type: EventSelectChannel, ChannelID: "same"},
		Event{Type: EventSetName, Name: "dup"},
	)

	_, err := m.Fire(context.Background(), "guild-1", Event{Type: EventCreate})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.GreaterOrEqual(t, len(verr.Messages), 2, "same-channel and rule-limit failures reported together")
	assert.Empty(t, env.saved)
}

func TestMachine_RuleNameBounds(t *testing.T) {
	env := newFakeEnv()
	m, sessions := newTestMachine(env)

	sessions.Create(context.Background(), "guild-1", "user-1")
	fire(t, m,
		Event{Type: EventStart},
		Event{Type: EventContinue},
		Event{Type: EventSelectChannel, ChannelID: "log"},
		Event{Type: EventCreate},
		Event{Type: EventSelectChannel, ChannelID: "src"},
		Event{Type: EventSelectChannel, ChannelID: "dst"},
	)

	_, err := m.Fire(context.Background(), "guild-1", Event{Type: EventSetName, Name: ""})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	long := make([]byte, 101)
	for i := range long {
		long[i] = 'x'
	}
	_, err = m.Fire(context.Background(), "guild-1", Event{Type: EventSetName, Name: string(long)})
	require.ErrorAs(t, err, &verr)
}

func TestMachine_CancelCleansUpWithoutSaving(t *testing.T) {
	env := newFakeEnv()
	m, sessions := newTestMachine(env)

	sessions.Create(context.Background(), "guild-1", "user-1")
	session := fire(t, m,
		Event{Type: EventStart},
		Event{Type: EventContinue},
		Event{Type: EventSelectChannel, ChannelID: "log"},
		Event{Type: EventCancel},
	)

	assert.Equal(t, StepCancelled, session.Step)
	assert.Empty(t, env.saved)
	assert.Equal(t, 0, sessions.Count())
}

func TestMachine_BackEdges(t *testing.T) {
	env := newFakeEnv()
	m, sessions := newTestMachine(env)

	sessions.Create(context.Background(), "guild-1", "user-1")
	session := fire(t, m,
		Event{Type: EventStart},
		Event{Type: EventContinue},
		Event{Type: EventSelectChannel, ChannelID: "log"},
		Event{Type: EventBack},
	)
	assert.Equal(t, StepLogChannel, session.Step)

	session = fire(t, m, Event{Type: EventBack})
	assert.Equal(t, StepPermissions, session.Step)
}

func TestMachine_EditModeEntersAtPreview(t *testing.T) {
	env := newFakeEnv()
	m, _ := newTestMachine(env)

	rule := store.NewRule("existing", "src", "dst")
	session := m.StartEdit(context.Background(), "guild-1", "user-1", rule)

	assert.Equal(t, StepRulePreview, session.Step)
	assert.True(t, session.IsEditing)
	require.NotNil(t, session.CurrentRule)
	assert.Equal(t, "existing", session.CurrentRule.RuleName)
}

func TestMachine_EditModeBackGoesToSettings(t *testing.T) {
	env := newFakeEnv()
	m, _ := newTestMachine(env)

	rule := store.NewRule("existing", "src", "dst")
	m.StartEdit(context.Background(), "guild-1", "user-1", rule)

	session := fire(t, m, Event{Type: EventBack})
	assert.Equal(t, StepEditSettings, session.Step)
}

func TestMachine_EditModeSaveUpdatesInsteadOfAppending(t *testing.T) {
	env := newFakeEnv()
	env.ruleCount = 3 // at the cap: editing must still be allowed
	m, _ := newTestMachine(env)

	rule := store.NewRule("existing", "src", "dst")
	m.StartEdit(context.Background(), "guild-1", "user-1", rule)

	session := fire(t, m,
		Event{Type: EventEditSettings},
		Event{Type: EventToggleActive},
		Event{Type: EventContinue},
		Event{Type: EventCreate},
	)

	assert.Equal(t, StepComplete, session.Step)
	assert.Empty(t, env.saved)
	require.Len(t, env.updated, 1)
	assert.False(t, env.updated[0].IsActive)
}

func TestMachine_EditModeChangesSourceChannel(t *testing.T) {
	env := newFakeEnv()
	m, _ := newTestMachine(env)

	rule := store.NewRule("existing", "src", "dst")
	m.StartEdit(context.Background(), "guild-1", "user-1", rule)

	session := fire(t, m,
		Event{Type: EventEditSettings},
		Event{Type: EventSelectSource, ChannelID: "newsrc"},
		Event{Type: EventContinue},
		Event{Type: EventCreate},
	)

	assert.Equal(t, StepComplete, session.Step)
	require.Len(t, env.updated, 1)
	assert.Equal(t, "newsrc", env.updated[0].SourceChannelID)
	assert.Equal(t, "dst", env.updated[0].DestinationChannelID)

	env.badChannels["voice"] = true
	m.StartEdit(context.Background(), "guild-1", "user-1", rule)
	fire(t, m, Event{Type: EventEditSettings})
	_, err := m.Fire(context.Background(), "guild-1", Event{Type: EventSelectSource, ChannelID: "voice"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestMachine_ConcurrentInteractionsSerialize(t *testing.T) {
	env := newFakeEnv()
	m, sessions := newTestMachine(env)

	rule := store.NewRule("existing", "src", "dst")
	m.StartEdit(context.Background(), "guild-1", "user-1", rule)
	fire(t, m, Event{Type: EventEditSettings})

	// Discord delivers each interaction on its own goroutine; every
	// toggle must land on the canonical session.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Fire(context.Background(), "guild-1", Event{Type: EventToggleActive})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	session := sessions.Get(context.Background(), "guild-1")
	require.NotNil(t, session)
	assert.True(t, session.CurrentRule.IsActive, "an even number of toggles lands back on active")
}

func TestMachine_InvalidEventForStep(t *testing.T) {
	env := newFakeEnv()
	m, sessions := newTestMachine(env)

	sessions.Create(context.Background(), "guild-1", "user-1")
	_, err := m.Fire(context.Background(), "guild-1", Event{Type: EventCreate})

	assert.True(t, errors.Is(err, ErrNoTransition))
}

func TestMachine_NoSession(t *testing.T) {
	env := newFakeEnv()
	m, _ := newTestMachine(env)

	_, err := m.Fire(context.Background(), "guild-1", Event{Type: EventStart})
	assert.True(t, errors.Is(err, ErrNoSession))
}

func TestMachine_SaveFailureReportedNotSwallowed(t *testing.T) {
	env := newFakeEnv()
	env.saveFails = true
	m, sessions := newTestMachine(env)

	sessions.Create(context.Background(), "guild-1", "user-1")
	fire(t, m,
		Event{Type: EventStart},
		Event{Type: EventContinue},
		Event{Type: EventSelectChannel, ChannelID: "log"},
		Event{Type: EventCreate},
		Event{Type: EventSelectChannel, ChannelID: "src"},
		Event{Type: EventSelectChannel, ChannelID: "dst"},
		Event{Type: EventSetName, Name: "My Rule"},
	)

	_, err := m.Fire(context.Background(), "guild-1", Event{Type: EventCreate})
	require.Error(t, err)
	assert.NotEqual(t, 0, sessions.Count(), "session survives a failed save so the user can retry")
}
