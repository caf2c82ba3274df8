package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/store"
)

// Slash command definitions
func (b *Bot) getCommandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "setup",
			Description: "Open the guided setup wizard for message forwarding",
		},
		{
			Name:        "forward",
			Description: "Manage forwarding rules",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "List this server's forwarding rules",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "delete",
					Description: "Delete a forwarding rule",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "rule",
							Description: "Rule name or ID",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "edit",
					Description: "Edit a forwarding rule",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "rule",
							Description: "Rule name or ID",
							Required:    true,
						},
					},
				},
			},
		},
		{
			Name:        "premium",
			Description: "Premium subscription management",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "status",
					Description: "Show this server's subscription and limits",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "redeem",
					Description: "Redeem a premium code",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "code",
							Description: "The code to redeem",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "generate",
					Description: "Generate a premium code (bot owner only)",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "duration_days",
							Description: "Subscription length in days",
						},
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "lifetime",
							Description: "Issue a lifetime code",
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "guild_id",
							Description: "Restrict the code to one server",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "deactivate",
					Description: "Deactivate a server's subscription (bot owner only)",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "guild_id",
							Description: "The server to deactivate",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "codes",
					Description: "List unredeemed premium codes (bot owner only)",
				},
			},
		},
		{
			Name:        "settings",
			Description: "Server settings for the relay bot",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set-manager-role",
					Description: "Allow a role to manage forwarding rules",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionRole,
							Name:        "role",
							Description: "The manager role",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove-manager-role",
					Description: "Remove the manager role requirement",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "view",
					Description: "Show this server's settings",
				},
			},
		},
	}
}

// registerCommands registers all slash commands with Discord
func (b *Bot) registerCommands() error {
	slog.Info("Registering slash commands")

	commandDefinitions := b.getCommandDefinitions()
	registeredCommands := make([]*discordgo.ApplicationCommand, 0, len(commandDefinitions))

	for _, cmd := range commandDefinitions {
		registered, err := b.session.ApplicationCommandCreate(
			b.session.State.User.ID,
			"", // Empty string = global command
			cmd,
		)
		if err != nil {
			return fmt.Errorf("failed to register command %s: %w", cmd.Name, err)
		}
		registeredCommands = append(registeredCommands, registered)
		slog.Debug("Registered command", "name", cmd.Name)
	}

	b.commands = registeredCommands
	slog.Info("Slash commands registered", "count", len(registeredCommands))
	return nil
}

// isManager reports whether the invoking member may manage forwarding:
// Manage Server, Administrator, or the configured manager role.
func (b *Bot) isManager(ctx context.Context, i *discordgo.InteractionCreate) bool {
	if i.Member == nil {
		return false
	}
	const managePerms = discordgo.PermissionAdministrator | discordgo.PermissionManageServer
	if i.Member.Permissions&managePerms != 0 {
		return true
	}

	settings, err := b.guilds.Get(ctx, i.GuildID)
	if err != nil || settings == nil || settings.ManagerRoleID == "" {
		return false
	}
	for _, roleID := range i.Member.Roles {
		if roleID == settings.ManagerRoleID {
			return true
		}
	}
	return false
}

func (b *Bot) isOwner(i *discordgo.InteractionCreate) bool {
	userID := ""
	if i.Member != nil && i.Member.User != nil {
		userID = i.Member.User.ID
	} else if i.User != nil {
		userID = i.User.ID
	}
	return userID != "" && userID == b.config.BotOwnerID
}

// handleSetup handles the /setup command
func (b *Bot) handleSetup(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isManager(ctx, i) {
		respondEphemeral(s, i, "You need the **Manage Server** permission or the manager role to run setup.")
		return
	}
	b.wizard.Begin(ctx, s, i)
}

// handleForward handles the /forward command group
func (b *Bot) handleForward(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isManager(ctx, i) {
		respondEphemeral(s, i, "You need the **Manage Server** permission or the manager role to manage rules.")
		return
	}

	sub := i.ApplicationCommandData().Options[0]
	switch sub.Name {
	case "list":
		b.handleForwardList(ctx, s, i)
	case "delete":
		b.handleForwardDelete(ctx, s, i, sub.Options[0].StringValue())
	case "edit":
		b.handleForwardEdit(ctx, s, i, sub.Options[0].StringValue())
	}
}

func (b *Bot) handleForwardList(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	settings, err := b.guilds.Get(ctx, i.GuildID)
	if err != nil {
		slog.Error("Failed to load guild settings", "guild", i.GuildID, "error", err)
		respondEphemeral(s, i, "Failed to load rules. Please try again.")
		return
	}
	if settings == nil || len(settings.Rules) == 0 {
		respondEphemeral(s, i, "No forwarding rules yet. Run `/setup` to create one!")
		return
	}

	limits := b.premium.ResolveLimits(ctx, i.GuildID)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**Forwarding Rules** (%d/%d):\n\n", len(settings.Rules), limits.MaxRules))
	for idx, rule := range settings.Rules {
		status := "🟢"
		if !rule.IsActive {
			status = "⚪"
		}
		sb.WriteString(fmt.Sprintf("%d. %s **%s**\n   <#%s> → <#%s> · style `%s`\n",
			idx+1, status, rule.RuleName,
			rule.SourceChannelID, rule.DestinationChannelID,
			rule.Settings.Formatting.ForwardStyle))
	}
	respondEphemeral(s, i, sb.String())
}

const ruleActionPrefix = "rules:"

// handleForwardDelete opens a confirmation offering a soft disable or
// a permanent removal.
func (b *Bot) handleForwardDelete(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, ref string) {
	rule := b.findRule(ctx, i.GuildID, ref)
	if rule == nil {
		respondEphemeral(s, i, fmt.Sprintf("No rule matching `%s`. Use `/forward list` to see rule names.", ref))
		return
	}

	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: fmt.Sprintf("Remove rule **%s** (<#%s> → <#%s>)?\nDisabling keeps it for later; deleting is permanent.",
				rule.RuleName, rule.SourceChannelID, rule.DestinationChannelID),
			Flags: discordgo.MessageFlagsEphemeral,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.Button{
						CustomID: ruleActionPrefix + "soft:" + rule.RuleID,
						Label:    "Disable",
						Style:    discordgo.SecondaryButton,
					},
					discordgo.Button{
						CustomID: ruleActionPrefix + "hard:" + rule.RuleID,
						Label:    "Delete Permanently",
						Style:    discordgo.DangerButton,
					},
					discordgo.Button{
						CustomID: ruleActionPrefix + "cancel",
						Label:    "Cancel",
						Style:    discordgo.SecondaryButton,
					},
				}},
			},
		},
	})
}

// handleRuleComponent resolves the delete confirmation buttons.
func (b *Bot) handleRuleComponent(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	action := strings.TrimPrefix(i.MessageComponentData().CustomID, ruleActionPrefix)

	var content string
	switch {
	case action == "cancel":
		content = "No changes made."

	case strings.HasPrefix(action, "soft:"):
		ruleID := strings.TrimPrefix(action, "soft:")
		// Idempotent: disabling an already-disabled rule reports
		// success either way.
		b.rules.SoftDelete(ctx, ruleID)
		content = "Rule disabled. Re-enable it any time with `/forward edit`."

	case strings.HasPrefix(action, "hard:"):
		ruleID := strings.TrimPrefix(action, "hard:")
		rule, guildID := b.rules.ByID(ctx, ruleID)
		if rule == nil || guildID != i.GuildID {
			content = "That rule no longer exists."
		} else if b.rules.HardDelete(ctx, i.GuildID, ruleID) {
			content = fmt.Sprintf("Rule **%s** deleted.", rule.RuleName)
		} else {
			content = "Failed to delete the rule. Please try again."
		}

	default:
		return
	}

	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: []discordgo.MessageComponent{},
		},
	})
}

func (b *Bot) handleForwardEdit(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, ref string) {
	rule := b.findRule(ctx, i.GuildID, ref)
	if rule == nil {
		respondEphemeral(s, i, fmt.Sprintf("No rule matching `%s`. Use `/forward list` to see rule names.", ref))
		return
	}
	b.wizard.BeginEdit(ctx, s, i, *rule)
}

// findRule resolves a rule by id or case-insensitive name.
func (b *Bot) findRule(ctx context.Context, guildID, ref string) *store.Rule {
	settings, err := b.guilds.Get(ctx, guildID)
	if err != nil || settings == nil {
		return nil
	}
	for idx := range settings.Rules {
		rule := &settings.Rules[idx]
		if rule.RuleID == ref || strings.EqualFold(rule.RuleName, ref) {
			return rule
		}
	}
	return nil
}

// handlePremium handles the /premium command group
func (b *Bot) handlePremium(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	sub := i.ApplicationCommandData().Options[0]
	switch sub.Name {
	case "status":
		b.handlePremiumStatus(ctx, s, i)
	case "redeem":
		b.handlePremiumRedeem(ctx, s, i, sub.Options[0].StringValue())
	case "generate":
		b.handlePremiumGenerate(ctx, s, i, sub.Options)
	case "deactivate":
		b.handlePremiumDeactivate(ctx, s, i, sub.Options[0].StringValue())
	case "codes":
		b.handlePremiumCodes(ctx, s, i)
	}
}

func (b *Bot) handlePremiumStatus(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	// Defer: two store round-trips plus a count.
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})

	limits := b.premium.ResolveLimits(ctx, i.GuildID)
	used, err := b.guilds.DailyForwardCount(ctx, i.GuildID)
	if err != nil {
		slog.Error("Failed to count forwards", "guild", i.GuildID, "error", err)
	}

	tier := "Free"
	expiry := ""
	if limits.IsPremium {
		tier = "Premium"
		if active := b.premium.ActiveSubscription(ctx, i.GuildID); active != nil {
			if active.ExpiresAt == nil {
				expiry = "\n**Expires:** Never (lifetime)"
			} else {
				expiry = fmt.Sprintf("\n**Expires:** <t:%d:D>", active.ExpiresAt.Unix())
			}
		}
	}

	b.editResponse(s, i, fmt.Sprintf(
		"**Tier:** %s%s\n**Rules:** up to %d\n**Daily messages:** %d / %d (resets at midnight UTC)",
		tier, expiry, limits.MaxRules, used, limits.DailyLimit))
}

func (b *Bot) handlePremiumRedeem(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, code string) {
	if !b.isManager(ctx, i) {
		respondEphemeral(s, i, "You need the **Manage Server** permission to redeem codes.")
		return
	}

	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})

	userID := ""
	if i.Member != nil && i.Member.User != nil {
		userID = i.Member.User.ID
	}

	subRec, err := b.premium.Redeem(ctx, strings.ToUpper(strings.TrimSpace(code)), i.GuildID, userID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrCodeNotFound):
			b.editResponse(s, i, "That code doesn't exist. Double-check it and try again.")
		case errors.Is(err, store.ErrCodeRedeemed):
			b.editResponse(s, i, "That code has already been redeemed.")
		case errors.Is(err, store.ErrCodeRestricted):
			b.editResponse(s, i, "That code is restricted to a different server.")
		default:
			slog.Error("Failed to redeem code", "guild", i.GuildID, "error", err)
			b.editResponse(s, i, "Failed to redeem the code. Please try again.")
		}
		return
	}

	if subRec.ExpiresAt == nil {
		b.editResponse(s, i, "🎉 Lifetime premium activated for this server!")
		return
	}
	b.editResponse(s, i, fmt.Sprintf("🎉 Premium active until <t:%d:D>.", subRec.ExpiresAt.Unix()))
}

func (b *Bot) handlePremiumGenerate(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, opts []*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.isOwner(i) {
		respondEphemeral(s, i, "Only the bot owner can generate codes.")
		return
	}

	durationDays := 30
	lifetime := false
	restrictedGuild := ""
	for _, opt := range opts {
		switch opt.Name {
		case "duration_days":
			durationDays = int(opt.IntValue())
		case "lifetime":
			lifetime = opt.BoolValue()
		case "guild_id":
			restrictedGuild = opt.StringValue()
		}
	}

	code, err := b.premium.GenerateCode(ctx, durationDays, lifetime, restrictedGuild, b.config.BotOwnerID)
	if err != nil {
		slog.Error("Failed to generate code", "error", err)
		respondEphemeral(s, i, "Failed to generate a code. Please try again.")
		return
	}

	desc := fmt.Sprintf("%d days", durationDays)
	if lifetime {
		desc = "lifetime"
	}
	if restrictedGuild != "" {
		desc += ", restricted to guild " + restrictedGuild
	}
	respondEphemeral(s, i, fmt.Sprintf("Generated code (%s):\n```\n%s\n```", desc, code.Code))
}

func (b *Bot) handlePremiumDeactivate(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, guildID string) {
	if !b.isOwner(i) {
		respondEphemeral(s, i, "Only the bot owner can deactivate subscriptions.")
		return
	}

	if !b.premium.Deactivate(ctx, guildID) {
		respondEphemeral(s, i, fmt.Sprintf("No active subscription found for guild `%s`.", guildID))
		return
	}
	respondEphemeral(s, i, fmt.Sprintf("Subscription for guild `%s` deactivated.", guildID))
}

func (b *Bot) handlePremiumCodes(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isOwner(i) {
		respondEphemeral(s, i, "Only the bot owner can list codes.")
		return
	}

	codes, err := b.premium.ListCodes(ctx, b.config.BotOwnerID, false)
	if err != nil {
		slog.Error("Failed to list codes", "error", err)
		respondEphemeral(s, i, "Failed to list codes. Please try again.")
		return
	}
	if len(codes) == 0 {
		respondEphemeral(s, i, "No unredeemed codes.")
		return
	}

	var sb strings.Builder
	sb.WriteString("**Unredeemed Codes:**\n")
	for _, c := range codes {
		desc := fmt.Sprintf("%d days", c.DurationDays)
		if c.IsLifetime {
			desc = "lifetime"
		}
		sb.WriteString(fmt.Sprintf("`%s` — %s\n", c.Code, desc))
	}
	respondEphemeral(s, i, sb.String())
}

// handleSettings handles the /settings command group
func (b *Bot) handleSettings(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isManager(ctx, i) {
		respondEphemeral(s, i, "You need the **Manage Server** permission to change settings.")
		return
	}

	sub := i.ApplicationCommandData().Options[0]
	switch sub.Name {
	case "set-manager-role":
		role := sub.Options[0].RoleValue(s, i.GuildID)
		if !b.guilds.Update(ctx, i.GuildID, bson.M{"manager_role_id": role.ID}) {
			respondEphemeral(s, i, "Failed to save the manager role. Please try again.")
			return
		}
		respondEphemeral(s, i, fmt.Sprintf("Members with <@&%s> can now manage forwarding rules.", role.ID))

	case "remove-manager-role":
		if !b.guilds.Update(ctx, i.GuildID, bson.M{"manager_role_id": ""}) {
			respondEphemeral(s, i, "Failed to update settings. Please try again.")
			return
		}
		respondEphemeral(s, i, "Manager role removed. Only members with **Manage Server** can manage rules now.")

	case "view":
		b.handleSettingsView(ctx, s, i)
	}
}

func (b *Bot) handleSettingsView(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	settings, err := b.guilds.Get(ctx, i.GuildID)
	if err != nil || settings == nil {
		respondEphemeral(s, i, "Failed to load settings. Please try again.")
		return
	}

	logChannel := "not set"
	if settings.MasterLogChannelID != "" {
		logChannel = "<#" + settings.MasterLogChannelID + ">"
	}
	managerRole := "not set"
	if settings.ManagerRoleID != "" {
		managerRole = "<@&" + settings.ManagerRoleID + ">"
	}
	forwarding := "enabled"
	if !settings.Features.ForwardingEnabled {
		forwarding = "disabled"
	}

	respondEphemeral(s, i, fmt.Sprintf(
		"**Tier:** %s\n**Forwarding:** %s\n**Log channel:** %s\n**Manager role:** %s\n**Rules:** %d",
		settings.PremiumTier, forwarding, logChannel, managerRole, len(settings.Rules)))
}

// Helper functions

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func (b *Bot) editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
}
