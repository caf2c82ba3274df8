package setup

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// permission holds one required permission bit with its display name.
type permission struct {
	bit  int64
	name string
}

// basicPermissions is the minimum set the bot needs to run a guild.
var basicPermissions = []permission{
	{discordgo.PermissionViewChannel, "View Channels"},
	{discordgo.PermissionSendMessages, "Send Messages"},
	{discordgo.PermissionReadMessageHistory, "Read Message History"},
	{discordgo.PermissionAttachFiles, "Attach Files"},
	{discordgo.PermissionEmbedLinks, "Embed Links"},
}

// recommendedPermissions improve the experience but are not required.
var recommendedPermissions = []permission{
	{discordgo.PermissionManageMessages, "Manage Messages"},
	{discordgo.PermissionManageWebhooks, "Manage Webhooks"},
	{discordgo.PermissionUseExternalEmojis, "Use External Emojis"},
}

// PermissionReport is the result of a guild-level permission check.
type PermissionReport struct {
	HasBasic           bool
	MissingBasic       []string
	MissingRecommended []string
}

// PermissionChecker inspects the bot's effective permissions through
// the gateway session's state cache.
type PermissionChecker struct {
	session *discordgo.Session
}

func NewPermissionChecker(session *discordgo.Session) *PermissionChecker {
	return &PermissionChecker{session: session}
}

// CheckGuild evaluates the bot member's role permissions across the
// guild. Administrator short-circuits everything.
func (p *PermissionChecker) CheckGuild(guildID string) (PermissionReport, error) {
	perms, err := p.guildPermissions(guildID)
	if err != nil {
		return PermissionReport{}, err
	}

	report := PermissionReport{HasBasic: true}
	if perms&discordgo.PermissionAdministrator != 0 {
		return report, nil
	}
	for _, req := range basicPermissions {
		if perms&req.bit == 0 {
			report.HasBasic = false
			report.MissingBasic = append(report.MissingBasic, req.name)
		}
	}
	for _, rec := range recommendedPermissions {
		if perms&rec.bit == 0 {
			report.MissingRecommended = append(report.MissingRecommended, rec.name)
		}
	}
	return report, nil
}

// CanSendIn reports whether the bot can view and send messages in the
// channel, honoring channel overwrites.
func (p *PermissionChecker) CanSendIn(guildID, channelID string) bool {
	perms, err := p.session.State.UserChannelPermissions(p.session.State.User.ID, channelID)
	if err != nil {
		return false
	}
	need := int64(discordgo.PermissionViewChannel | discordgo.PermissionSendMessages)
	return perms&discordgo.PermissionAdministrator != 0 || perms&need == need
}

// IsTextChannel reports whether the channel exists in the guild and
// accepts plain messages.
func (p *PermissionChecker) IsTextChannel(guildID, channelID string) bool {
	ch, err := p.session.State.Channel(channelID)
	if err != nil {
		ch, err = p.session.Channel(channelID)
		if err != nil {
			return false
		}
	}
	if ch.GuildID != guildID {
		return false
	}
	switch ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return true
	}
	return false
}

// ChannelName resolves a channel's display name, or "" if unknown.
func (p *PermissionChecker) ChannelName(guildID, channelID string) string {
	ch, err := p.session.State.Channel(channelID)
	if err != nil {
		ch, err = p.session.Channel(channelID)
		if err != nil {
			return ""
		}
	}
	return ch.Name
}

// guildPermissions folds the bot member's role permission bits.
func (p *PermissionChecker) guildPermissions(guildID string) (int64, error) {
	guild, err := p.session.State.Guild(guildID)
	if err != nil {
		return 0, fmt.Errorf("guild %s not in state: %w", guildID, err)
	}
	member, err := p.session.State.Member(guildID, p.session.State.User.ID)
	if err != nil {
		member, err = p.session.GuildMember(guildID, p.session.State.User.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch bot member: %w", err)
		}
	}

	var perms int64
	for _, role := range guild.Roles {
		if role.ID == guildID {
			perms |= role.Permissions
		}
		for _, id := range member.Roles {
			if role.ID == id {
				perms |= role.Permissions
			}
		}
	}
	return perms, nil
}

// FormatMissing renders a missing-permission list for user display.
func FormatMissing(missing []string) string {
	if len(missing) == 0 {
		return "None"
	}
	lines := make([]string, len(missing))
	for i, name := range missing {
		lines[i] = "• " + name
	}
	return strings.Join(lines, "\n")
}
