package forward

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/store"
)

type fakeSettings struct {
	guild  *store.GuildSettings
	limits store.Limits
	used   int64
	logged []store.ForwardLog
}

func (f *fakeSettings) GuildSettings(_ context.Context, _ string) (*store.GuildSettings, error) {
	return f.guild, nil
}

func (f *fakeSettings) ResolveLimits(_ context.Context, _ string) (store.Limits, error) {
	return f.limits, nil
}

func (f *fakeSettings) DailyForwardCount(_ context.Context, _ string) (int64, error) {
	return f.used, nil
}

func (f *fakeSettings) LogForward(_ context.Context, entry store.ForwardLog) error {
	f.logged = append(f.logged, entry)
	return nil
}

type sentMessage struct {
	channelID string
	out       Outgoing
}

type fakeSender struct {
	sent        []sentMessage
	notices     []string
	failWithRef bool
	failAll     bool
	missing     map[string]bool
}

func (f *fakeSender) Send(channelID string, out *Outgoing) (string, error) {
	if f.failAll {
		return "", errors.New("send failed")
	}
	if f.failWithRef && out.Reference != nil {
		return "", errors.New("invalid message reference")
	}
	f.sent = append(f.sent, sentMessage{channelID: channelID, out: *out})
	return "sent-1", nil
}

func (f *fakeSender) SendNotice(channelID, content string, _ time.Duration) {
	f.notices = append(f.notices, content)
}

func (f *fakeSender) ChannelExists(channelID string) bool {
	return !f.missing[channelID]
}

type fakeFetcher struct{}

func (fakeFetcher) Fetch(_ context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}

type fakeNotifier struct {
	alerts []string
}

func (f *fakeNotifier) Alert(_ context.Context, _ string, message string) {
	f.alerts = append(f.alerts, message)
}

func guildWithRules(rules ...store.Rule) *store.GuildSettings {
	settings := store.DefaultGuildSettings("guild-1", "Test Guild")
	settings.Rules = rules
	return &settings
}

func textRule(id, source, dest string) store.Rule {
	rule := store.NewRule("rule-"+id, source, dest)
	rule.RuleID = id
	rule.Settings.Formatting.ForwardStyle = store.StyleText
	return rule
}

func testMessage(content, channelID string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "msg-1",
		GuildID:   "guild-1",
		ChannelID: channelID,
		Content:   content,
		Author:    &discordgo.User{ID: "user-1", Username: "tester"},
	}
}

func newTestEngine(settings *fakeSettings, sender *fakeSender, notifier *fakeNotifier) *Engine {
	return NewEngine(settings, sender, fakeFetcher{}, notifier, time.Minute)
}

func TestEngine_ForwardsMatchingRule(t *testing.T) {
	settings := &fakeSettings{
		guild:  guildWithRules(textRule("r1", "src", "dst")),
		limits: store.Limits{MaxRules: 3, DailyLimit: 100},
	}
	sender := &fakeSender{}
	engine := newTestEngine(settings, sender, &fakeNotifier{})

	engine.HandleMessage(context.Background(), testMessage("hello", "src"))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "dst", sender.sent[0].channelID)
	require.Len(t, settings.logged, 1)
	assert.Equal(t, "r1", settings.logged[0].RuleID)
	assert.True(t, settings.logged[0].Success)
	assert.Equal(t, "msg-1", settings.logged[0].OriginalMessageID)
	assert.Equal(t, "sent-1", settings.logged[0].ForwardedMessageID)
}

func TestEngine_SkipsBotsAndDMs(t *testing.T) {
	settings := &fakeSettings{
		guild:  guildWithRules(textRule("r1", "src", "dst")),
		limits: store.Limits{DailyLimit: 100},
	}
	sender := &fakeSender{}
	engine := newTestEngine(settings, sender, &fakeNotifier{})

	bot := testMessage("hi", "src")
	bot.Author.Bot = true
	engine.HandleMessage(context.Background(), bot)

	dm := testMessage("hi", "src")
	dm.GuildID = ""
	engine.HandleMessage(context.Background(), dm)

	assert.Empty(t, sender.sent)
}

func TestEngine_InactiveRuleNeverFires(t *testing.T) {
	rule := textRule("r1", "src", "dst")
	rule.IsActive = false
	settings := &fakeSettings{
		guild:  guildWithRules(rule),
		limits: store.Limits{DailyLimit: 100},
	}
	sender := &fakeSender{}
	engine := newTestEngine(settings, sender, &fakeNotifier{})

	engine.HandleMessage(context.Background(), testMessage("hello", "src"))

	assert.Empty(t, sender.sent)
}

func TestEngine_ForwardingDisabledSkipsAll(t *testing.T) {
	guild := guildWithRules(textRule("r1", "src", "dst"))
	guild.Features.ForwardingEnabled = false
	settings := &fakeSettings{guild: guild, limits: store.Limits{DailyLimit: 100}}
	sender := &fakeSender{}
	engine := newTestEngine(settings, sender, &fakeNotifier{})

	engine.HandleMessage(context.Background(), testMessage("hello", "src"))

	assert.Empty(t, sender.sent)
}

func TestEngine_MultipleRulesSameSourceAllFire(t *testing.T) {
	settings := &fakeSettings{
		guild:  guildWithRules(textRule("r1", "src", "dst1"), textRule("r2", "src", "dst2")),
		limits: store.Limits{DailyLimit: 100},
	}
	sender := &fakeSender{}
	engine := newTestEngine(settings, sender, &fakeNotifier{})

	engine.HandleMessage(context.Background(), testMessage("hello", "src"))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "dst1", sender.sent[0].channelID)
	assert.Equal(t, "dst2", sender.sent[1].channelID)
}

func TestEngine_QuotaAtLimitSkipsRuleButContinues(t *testing.T) {
	settings := &fakeSettings{
		guild:  guildWithRules(textRule("r1", "src", "dst1"), textRule("r2", "src", "dst2")),
		limits: store.Limits{DailyLimit: 100},
		used:   100,
	}
	sender := &fakeSender{}
	engine := newTestEngine(settings, sender, &fakeNotifier{})

	engine.HandleMessage(context.Background(), testMessage("hello", "src"))

	assert.Empty(t, sender.sent)
	require.NotEmpty(t, sender.notices, "source channel gets a quota notice")
	assert.Len(t, sender.notices, 1, "notice is rate-limited per guild")
}

func TestEngine_QuotaJustUnderLimitForwards(t *testing.T) {
	settings := &fakeSettings{
		guild:  guildWithRules(textRule("r1", "src", "dst")),
		limits: store.Limits{DailyLimit: 100},
		used:   99,
	}
	sender := &fakeSender{}
	engine := newTestEngine(settings, sender, &fakeNotifier{})

	engine.HandleMessage(context.Background(), testMessage("hello", "src"))

	assert.Len(t, sender.sent, 1)
	assert.Empty(t, sender.notices)
}

func TestEngine_QuotaCountsSuccessesWithinOneMessage(t *testing.T) {
	// One slot left, two matching rules: only the first may fire.
	settings := &fakeSettings{
		guild:  guildWithRules(textRule("r1", "src", "dst1"), textRule("r2", "src", "dst2")),
		limits: store.Limits{DailyLimit: 100},
		used:   99,
	}
	sender := &fakeSender{}
	engine := newTestEngine(settings, sender, &fakeNotifier{})

	engine.HandleMessage(context.Background(), testMessage("hello", "src"))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "dst1", sender.sent[0].channelID)
}

func TestEngine_UnresolvableDestinationSkipped(t *testing.T) {
	settings := &fakeSettings{
		guild:  guildWithRules(textRule("r1", "src", "gone")),
		limits: store.Limits{DailyLimit: 100},
	}
	sender := &fakeSender{missing: map[string]bool{"gone": true}}
	engine := newTestEngine(settings, sender, &fakeNotifier{})

	engine.HandleMessage(context.Background(), testMessage("hello", "src"))

	assert.Empty(t, sender.sent)
	assert.Empty(t, settings.logged)
}

func TestEngine_SameChannelReplyRetriesWithoutReference(t *testing.T) {
	settings := &fakeSettings{
		guild:  guildWithRules(textRule("r1", "src", "src")),
		limits: store.Limits{DailyLimit: 100},
	}
	sender := &fakeSender{failWithRef: true}
	engine := newTestEngine(settings, sender, &fakeNotifier{})

	engine.HandleMessage(context.Background(), testMessage("hello", "src"))

	require.Len(t, sender.sent, 1)
	assert.Nil(t, sender.sent[0].out.Reference, "retry drops the stale reference")
	assert.Len(t, settings.logged, 1)
}

func TestEngine_SendFailureAlertsAndLogsNothing(t *testing.T) {
	settings := &fakeSettings{
		guild:  guildWithRules(textRule("r1", "src", "dst")),
		limits: store.Limits{DailyLimit: 100},
	}
	sender := &fakeSender{failAll: true}
	notifier := &fakeNotifier{}
	engine := newTestEngine(settings, sender, notifier)

	engine.HandleMessage(context.Background(), testMessage("hello", "src"))

	assert.Empty(t, settings.logged)
	assert.NotEmpty(t, notifier.alerts)
}

func TestEngine_FilteredMessageNotForwarded(t *testing.T) {
	rule := textRule("r1", "src", "dst")
	rule.Settings.Filters.BlockKeywords = []string{"blocked"}
	settings := &fakeSettings{
		guild:  guildWithRules(rule),
		limits: store.Limits{DailyLimit: 100},
	}
	sender := &fakeSender{}
	engine := newTestEngine(settings, sender, &fakeNotifier{})

	engine.HandleMessage(context.Background(), testMessage("this is blocked content", "src"))

	assert.Empty(t, sender.sent)
}
