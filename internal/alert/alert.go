// Package alert posts operator-facing notices into a guild's master
// log channel.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/store"
)

// settingsLookup narrows the store surface the notifier needs.
type settingsLookup interface {
	Get(ctx context.Context, guildID string) (*store.GuildSettings, error)
}

// Notifier delivers alerts to each guild's configured log channel,
// rate-limited so a failing rule cannot flood the channel.
type Notifier struct {
	session  *discordgo.Session
	guilds   settingsLookup
	cooldown time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewNotifier(session *discordgo.Session, guilds settingsLookup, cooldown time.Duration) *Notifier {
	return &Notifier{
		session:  session,
		guilds:   guilds,
		cooldown: cooldown,
		lastSent: make(map[string]time.Time),
	}
}

// Alert posts the message to the guild's master log channel. Guilds
// without a log channel, with error notices disabled, or inside the
// cooldown window are skipped silently.
func (n *Notifier) Alert(ctx context.Context, guildID, message string) {
	settings, err := n.guilds.Get(ctx, guildID)
	if err != nil || settings == nil {
		return
	}
	if settings.MasterLogChannelID == "" || !settings.Features.NotifyOnError {
		return
	}

	n.mu.Lock()
	last, seen := n.lastSent[guildID]
	now := time.Now()
	if seen && now.Sub(last) < n.cooldown {
		n.mu.Unlock()
		return
	}
	n.lastSent[guildID] = now
	n.mu.Unlock()

	embed := &discordgo.MessageEmbed{
		Title:       "Forwarding Alert",
		Description: message,
		Color:       0xED4245,
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
	if _, err := n.session.ChannelMessageSendEmbed(settings.MasterLogChannelID, embed); err != nil {
		slog.Warn("Failed to deliver alert", "guild", guildID, "channel", settings.MasterLogChannelID, "error", err)
	}
}
