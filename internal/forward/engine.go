package forward

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/store"
)

// Settings is the engine's view of guild configuration and the
// forward log.
type Settings interface {
	GuildSettings(ctx context.Context, guildID string) (*store.GuildSettings, error)
	ResolveLimits(ctx context.Context, guildID string) (store.Limits, error)
	DailyForwardCount(ctx context.Context, guildID string) (int64, error)
	LogForward(ctx context.Context, entry store.ForwardLog) error
}

// Sender delivers formatted messages to channels.
type Sender interface {
	Send(channelID string, out *Outgoing) (messageID string, err error)
	// SendNotice posts a transient message that deletes itself after
	// the given duration.
	SendNotice(channelID, content string, deleteAfter time.Duration)
	// ChannelExists reports whether the channel is resolvable.
	ChannelExists(channelID string) bool
}

// Notifier raises operator-facing alerts, normally into the guild's
// master log channel.
type Notifier interface {
	Alert(ctx context.Context, guildID, message string)
}

// Engine evaluates forwarding rules against incoming messages.
type Engine struct {
	settings Settings
	sender   Sender
	fetch    AttachmentFetcher
	registry *Registry
	notifier Notifier

	noticeTTL  time.Duration
	noticeMu   sync.Mutex
	lastNotice map[string]time.Time
}

func NewEngine(settings Settings, sender Sender, fetch AttachmentFetcher, notifier Notifier, noticeTTL time.Duration) *Engine {
	return &Engine{
		settings:   settings,
		sender:     sender,
		fetch:      fetch,
		registry:   NewRegistry(),
		notifier:   notifier,
		noticeTTL:  noticeTTL,
		lastNotice: make(map[string]time.Time),
	}
}

// HandleMessage runs every matching rule against the message. Rules
// are evaluated in array order; a rule that fires does not stop later
// rules from firing for the same message.
func (e *Engine) HandleMessage(ctx context.Context, msg *discordgo.Message) {
	if msg.GuildID == "" || msg.Author == nil || msg.Author.Bot {
		return
	}

	settings, err := e.settings.GuildSettings(ctx, msg.GuildID)
	if err != nil {
		slog.Error("Failed to load guild settings", "guild", msg.GuildID, "error", err)
		return
	}
	if settings == nil || !settings.Features.ForwardingEnabled || len(settings.Rules) == 0 {
		return
	}

	var (
		quotaLoaded bool
		used        int64
		limit       int64
	)

	for i := range settings.Rules {
		rule := &settings.Rules[i]
		if !rule.IsActive || rule.SourceChannelID != msg.ChannelID {
			continue
		}

		if !quotaLoaded {
			used, limit, err = e.loadQuota(ctx, msg.GuildID)
			if err != nil {
				slog.Error("Failed to resolve daily quota", "guild", msg.GuildID, "error", err)
				return
			}
			quotaLoaded = true
		}
		if used >= limit {
			e.notifyQuota(msg.GuildID, msg.ChannelID, limit)
			continue
		}

		if !PassesTypeGate(rule.Settings.MessageTypes, msg) {
			continue
		}
		if !PassesFilters(rule.Settings, msg.Content) {
			continue
		}

		if e.forwardRule(ctx, msg, rule) {
			used++
		}
	}
}

// forwardRule formats and sends the message for one rule, returning
// whether the send succeeded.
func (e *Engine) forwardRule(ctx context.Context, msg *discordgo.Message, rule *store.Rule) bool {
	if !e.sender.ChannelExists(rule.DestinationChannelID) {
		slog.Warn("Destination channel not resolvable, skipping rule",
			"guild", msg.GuildID, "rule", rule.RuleID, "channel", rule.DestinationChannelID)
		return false
	}

	formatter := e.registry.Lookup(rule.Settings.Formatting.ForwardStyle)
	out, err := formatter.Format(ctx, msg, rule.Settings.Formatting, e.fetch)
	if err != nil {
		slog.Error("Failed to format message", "guild", msg.GuildID, "rule", rule.RuleID, "error", err)
		return false
	}

	// A rule that re-posts into its own source channel replies to the
	// original message instead of repeating it bare.
	selfReply := false
	if rule.DestinationChannelID == msg.ChannelID && out.Reference == nil {
		out.Reference = &discordgo.MessageReference{
			MessageID: msg.ID,
			ChannelID: msg.ChannelID,
			GuildID:   msg.GuildID,
		}
		selfReply = true
	}

	sentID, err := e.sender.Send(rule.DestinationChannelID, out)
	if err != nil && selfReply {
		// The reference can go stale (original deleted); retry plain.
		out.Reference = nil
		sentID, err = e.sender.Send(rule.DestinationChannelID, out)
	}
	if err != nil {
		slog.Error("Failed to forward message",
			"guild", msg.GuildID, "rule", rule.RuleID, "destination", rule.DestinationChannelID, "error", err)
		if e.notifier != nil {
			e.notifier.Alert(ctx, msg.GuildID,
				fmt.Sprintf("Rule **%s** failed to forward a message to <#%s>.", rule.RuleName, rule.DestinationChannelID))
		}
		return false
	}

	entry := store.ForwardLog{
		GuildID:              msg.GuildID,
		RuleID:               rule.RuleID,
		SourceChannelID:      msg.ChannelID,
		DestinationChannelID: rule.DestinationChannelID,
		OriginalMessageID:    msg.ID,
		ForwardedMessageID:   sentID,
		Success:              true,
		ForwardedAt:          time.Now().UTC(),
	}
	if err := e.settings.LogForward(ctx, entry); err != nil {
		slog.Error("Failed to write forward log", "guild", msg.GuildID, "rule", rule.RuleID, "error", err)
	}

	slog.Debug("Message forwarded",
		"guild", msg.GuildID, "rule", rule.RuleName,
		"source", msg.ChannelID, "destination", rule.DestinationChannelID)
	return true
}

func (e *Engine) loadQuota(ctx context.Context, guildID string) (used, limit int64, err error) {
	limits, err := e.settings.ResolveLimits(ctx, guildID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to resolve limits: %w", err)
	}
	count, err := e.settings.DailyForwardCount(ctx, guildID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count forwards: %w", err)
	}
	return count, int64(limits.DailyLimit), nil
}

// notifyQuota posts a self-deleting notice in the source channel, at
// most once per TTL window per guild.
func (e *Engine) notifyQuota(guildID, channelID string, limit int64) {
	e.noticeMu.Lock()
	last, seen := e.lastNotice[guildID]
	now := time.Now()
	if seen && now.Sub(last) < e.noticeTTL {
		e.noticeMu.Unlock()
		return
	}
	e.lastNotice[guildID] = now
	e.noticeMu.Unlock()

	e.sender.SendNotice(channelID,
		fmt.Sprintf("⚠️ Daily forwarding limit reached (%d messages). Forwarding resumes at midnight UTC.", limit),
		e.noticeTTL)
	slog.Info("Daily quota reached", "guild", guildID, "limit", limit)
}
