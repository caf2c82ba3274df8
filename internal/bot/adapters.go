package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/forward"
	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/setup"
	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/store"
)

// discordSender implements forward.Sender on a gateway session.
type discordSender struct {
	session *discordgo.Session
}

func (d *discordSender) Send(channelID string, out *forward.Outgoing) (string, error) {
	msg, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    out.Content,
		Embeds:     out.Embeds,
		Components: out.Components,
		Files:      out.Files,
		Flags:      out.Flags,
		Reference:  out.Reference,
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (d *discordSender) SendNotice(channelID, content string, deleteAfter time.Duration) {
	msg, err := d.session.ChannelMessageSend(channelID, content)
	if err != nil {
		slog.Warn("Failed to send notice", "channel", channelID, "error", err)
		return
	}
	go func() {
		time.Sleep(deleteAfter)
		if err := d.session.ChannelMessageDelete(channelID, msg.ID); err != nil {
			slog.Debug("Failed to delete notice", "channel", channelID, "error", err)
		}
	}()
}

func (d *discordSender) ChannelExists(channelID string) bool {
	if _, err := d.session.State.Channel(channelID); err == nil {
		return true
	}
	_, err := d.session.Channel(channelID)
	return err == nil
}

// storeSettings implements forward.Settings over the repositories.
type storeSettings struct {
	guilds  *store.Guilds
	premium *store.Premium
}

func (s *storeSettings) GuildSettings(ctx context.Context, guildID string) (*store.GuildSettings, error) {
	return s.guilds.Get(ctx, guildID)
}

func (s *storeSettings) ResolveLimits(ctx context.Context, guildID string) (store.Limits, error) {
	return s.premium.ResolveLimits(ctx, guildID), nil
}

func (s *storeSettings) DailyForwardCount(ctx context.Context, guildID string) (int64, error) {
	return s.guilds.DailyForwardCount(ctx, guildID)
}

func (s *storeSettings) LogForward(ctx context.Context, entry store.ForwardLog) error {
	return s.guilds.LogForward(ctx, entry)
}

// setupEnv implements setup.Env with the permission checker and the
// repositories behind it.
type setupEnv struct {
	checker *setup.PermissionChecker
	guilds  *store.Guilds
	rules   *store.Rules
	premium *store.Premium
}

func (e *setupEnv) HasBasicPermissions(guildID string) (bool, []string) {
	report, err := e.checker.CheckGuild(guildID)
	if err != nil {
		slog.Warn("Permission check failed", "guild", guildID, "error", err)
		return false, []string{"permission check failed"}
	}
	return report.HasBasic, report.MissingBasic
}

func (e *setupEnv) CanSendIn(guildID, channelID string) bool {
	return e.checker.CanSendIn(guildID, channelID)
}

func (e *setupEnv) IsTextChannel(guildID, channelID string) bool {
	return e.checker.IsTextChannel(guildID, channelID)
}

func (e *setupEnv) ChannelName(guildID, channelID string) string {
	return e.checker.ChannelName(guildID, channelID)
}

func (e *setupEnv) RuleCount(guildID string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	settings, err := e.guilds.Get(ctx, guildID)
	if err != nil || settings == nil {
		return 0
	}
	return len(settings.Rules)
}

func (e *setupEnv) MaxRules(guildID string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.premium.ResolveLimits(ctx, guildID).MaxRules
}

func (e *setupEnv) SaveRule(guildID string, rule store.Rule) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.rules.Add(ctx, guildID, rule)
}

func (e *setupEnv) UpdateRule(rule store.Rule) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.rules.Update(ctx, rule.RuleID, bson.M{
		"rule_name":              rule.RuleName,
		"source_channel_id":      rule.SourceChannelID,
		"destination_channel_id": rule.DestinationChannelID,
		"is_active":              rule.IsActive,
		"settings":               rule.Settings,
	})
}
