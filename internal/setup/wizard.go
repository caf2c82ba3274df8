package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/store"
)

const customIDPrefix = "setup:"

const (
	colorPrimary = 0x5865F2
	colorSuccess = 0x57F287
	colorWarning = 0xFEE75C
	colorDanger  = 0xED4245
)

// Wizard renders the setup flow and routes component interactions
// into the machine. Every interaction is acknowledged even when the
// event is refused.
type Wizard struct {
	machine  *Machine
	sessions *SessionStore
	checker  *PermissionChecker
}

func NewWizard(machine *Machine, sessions *SessionStore, checker *PermissionChecker) *Wizard {
	return &Wizard{machine: machine, sessions: sessions, checker: checker}
}

// Begin creates (or resumes) the guild's session and responds with
// the current step's panel.
func (w *Wizard) Begin(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	session := w.sessions.Create(ctx, i.GuildID, interactionUserID(i))

	data := w.render(session, nil)
	data.Flags = discordgo.MessageFlagsEphemeral
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		slog.Error("Failed to open setup panel", "guild", i.GuildID, "error", err)
	}
}

// BeginEdit opens the wizard at the preview step for an existing rule.
func (w *Wizard) BeginEdit(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, rule store.Rule) {
	session := w.machine.StartEdit(ctx, i.GuildID, interactionUserID(i), rule)

	data := w.render(session, nil)
	data.Flags = discordgo.MessageFlagsEphemeral
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		slog.Error("Failed to open rule editor", "guild", i.GuildID, "error", err)
	}
}

// HandlesCustomID reports whether the interaction belongs to the wizard.
func HandlesCustomID(customID string) bool {
	return strings.HasPrefix(customID, customIDPrefix)
}

// HandleComponent routes a button or select interaction.
func (w *Wizard) HandleComponent(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.MessageComponentData()
	action := strings.TrimPrefix(data.CustomID, customIDPrefix)

	// The rule-name step opens a modal instead of firing an event.
	if action == "open_name_modal" {
		w.openNameModal(s, i)
		return
	}

	ev := componentEvent(action, data)
	w.fireAndUpdate(ctx, s, i, ev)
}

// HandleModal routes the rule-name modal submission.
func (w *Wizard) HandleModal(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ModalSubmitData()
	if !strings.HasPrefix(data.CustomID, customIDPrefix) {
		return
	}

	name := ""
	for _, row := range data.Components {
		actionRow, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, comp := range actionRow.Components {
			if input, ok := comp.(*discordgo.TextInput); ok && input.CustomID == "rule_name" {
				name = strings.TrimSpace(input.Value)
			}
		}
	}

	w.fireAndUpdate(ctx, s, i, Event{Type: EventSetName, Name: name})
}

// componentEvent maps a custom-id action plus payload onto an Event.
func componentEvent(action string, data discordgo.MessageComponentInteractionData) Event {
	switch action {
	case "channel":
		ev := Event{Type: EventSelectChannel}
		if len(data.Values) > 0 {
			ev.ChannelID = data.Values[0]
		}
		return ev
	case "source":
		ev := Event{Type: EventSelectSource}
		if len(data.Values) > 0 {
			ev.ChannelID = data.Values[0]
		}
		return ev
	case "style":
		ev := Event{Type: EventSetStyle}
		if len(data.Values) > 0 {
			ev.Style = store.ForwardStyle(data.Values[0])
		}
		return ev
	case "start":
		return Event{Type: EventStart}
	case "auto_name":
		return Event{Type: EventAutoName}
	case "create":
		return Event{Type: EventCreate}
	case "edit_settings":
		return Event{Type: EventEditSettings}
	case "start_over":
		return Event{Type: EventStartOver}
	case "toggle_active":
		return Event{Type: EventToggleActive}
	case "recheck":
		return Event{Type: EventRecheck}
	case "back":
		return Event{Type: EventBack}
	case "cancel":
		return Event{Type: EventCancel}
	default:
		return Event{Type: EventContinue}
	}
}

func (w *Wizard) fireAndUpdate(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, ev Event) {
	session, err := w.machine.Fire(ctx, i.GuildID, ev)

	var data *discordgo.InteractionResponseData
	switch {
	case errors.Is(err, ErrNoSession):
		data = &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{{
				Title:       "Session Expired",
				Description: "Your setup session expired. Run `/setup` to start again.",
				Color:       colorWarning,
			}},
			Components: []discordgo.MessageComponent{},
		}
	case err != nil:
		var verr *ValidationError
		if errors.As(err, &verr) {
			data = w.render(session, verr.Messages)
		} else {
			slog.Error("Setup transition failed", "guild", i.GuildID, "error", err)
			data = w.render(session, []string{"Something went wrong. Please try again."})
		}
	default:
		data = w.render(session, nil)
	}

	respErr := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: data,
	})
	if respErr != nil {
		slog.Error("Failed to update setup panel", "guild", i.GuildID, "error", respErr)
	}
}

func (w *Wizard) openNameModal(s *discordgo.Session, i *discordgo.InteractionCreate) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: customIDPrefix + "name_modal",
			Title:    "Name Your Rule",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    "rule_name",
						Label:       "Rule name",
						Style:       discordgo.TextInputShort,
						Placeholder: "e.g. Announcements to General",
						Required:    true,
						MaxLength:   100,
					},
				}},
			},
		},
	})
	if err != nil {
		slog.Error("Failed to open name modal", "guild", i.GuildID, "error", err)
	}
}

// render produces the panel for the session's current step.
// Validation messages from a refused transition are shown above the
// step content.
func (w *Wizard) render(session *Session, problems []string) *discordgo.InteractionResponseData {
	if session == nil {
		return &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{{
				Title:       "Session Expired",
				Description: "Your setup session expired. Run `/setup` to start again.",
				Color:       colorWarning,
			}},
			Components: []discordgo.MessageComponent{},
		}
	}

	var embed *discordgo.MessageEmbed
	var components []discordgo.MessageComponent

	switch session.Step {
	case StepWelcome:
		embed = &discordgo.MessageEmbed{
			Title: "Welcome to Stygian Relay Setup",
			Description: "This wizard walks you through connecting channels so messages " +
				"flow from one to another automatically.\n\n" +
				"You'll pick a log channel, then create your first forwarding rule.",
			Color: colorPrimary,
		}
		components = buttonRow(
			button("start", "Get Started", discordgo.PrimaryButton),
			button("cancel", "Cancel", discordgo.SecondaryButton),
		)

	case StepPermissions:
		embed = w.permissionsEmbed(session.GuildID)
		components = buttonRow(
			button("continue", "Continue", discordgo.PrimaryButton),
			button("recheck", "Re-check", discordgo.SecondaryButton),
			button("back", "Back", discordgo.SecondaryButton),
			button("cancel", "Cancel", discordgo.DangerButton),
		)

	case StepLogChannel:
		embed = &discordgo.MessageEmbed{
			Title: "Choose a Log Channel",
			Description: "Pick the channel where I'll post forwarding activity and " +
				"error alerts. I need permission to send messages there.",
			Color: colorPrimary,
		}
		components = append(channelSelectRow("Select a log channel"), buttonRow(
			button("back", "Back", discordgo.SecondaryButton),
			button("cancel", "Cancel", discordgo.DangerButton),
		)...)

	case StepFirstRule:
		embed = &discordgo.MessageEmbed{
			Title: "Create Your First Rule",
			Description: fmt.Sprintf("Log channel set to <#%s>.\n\n"+
				"A rule forwards messages from one channel to another. "+
				"Ready to create your first one?", session.MasterLogChannel),
			Color: colorPrimary,
		}
		components = buttonRow(
			button("create", "Create Rule", discordgo.SuccessButton),
			button("back", "Back", discordgo.SecondaryButton),
			button("cancel", "Cancel", discordgo.DangerButton),
		)

	case StepSource:
		embed = &discordgo.MessageEmbed{
			Title:       "Pick the Source Channel",
			Description: "Messages posted in this channel will be forwarded.",
			Color:       colorPrimary,
		}
		components = append(channelSelectRow("Select the source channel"), buttonRow(
			button("back", "Back", discordgo.SecondaryButton),
			button("cancel", "Cancel", discordgo.DangerButton),
		)...)

	case StepDestination:
		embed = &discordgo.MessageEmbed{
			Title:       "Pick the Destination Channel",
			Description: "Forwarded messages will be delivered here.",
			Color:       colorPrimary,
		}
		components = append(channelSelectRow("Select the destination channel"), buttonRow(
			button("back", "Back", discordgo.SecondaryButton),
			button("cancel", "Cancel", discordgo.DangerButton),
		)...)

	case StepRuleName:
		embed = &discordgo.MessageEmbed{
			Title:       "Name Your Rule",
			Description: "Give this rule a name, or let me generate one from the channel names.",
			Color:       colorPrimary,
		}
		components = buttonRow(
			button("open_name_modal", "Enter a Name", discordgo.PrimaryButton),
			button("auto_name", "Auto-generate", discordgo.SecondaryButton),
			button("back", "Back", discordgo.SecondaryButton),
			button("cancel", "Cancel", discordgo.DangerButton),
		)

	case StepRulePreview:
		embed = rulePreviewEmbed(session)
		createLabel := "Create Rule"
		if session.IsEditing {
			createLabel = "Save Changes"
		}
		components = buttonRow(
			button("create", createLabel, discordgo.SuccessButton),
			button("edit_settings", "Edit Settings", discordgo.SecondaryButton),
			button("start_over", "Start Over", discordgo.SecondaryButton),
			button("back", "Back", discordgo.SecondaryButton),
			button("cancel", "Cancel", discordgo.DangerButton),
		)

	case StepEditSettings:
		embed = editSettingsEmbed(session)
		components = styleSelectRow(session)
		components = append(components, channelSelect("source", "Change the source channel")...)
		components = append(components, channelSelect("channel", "Change the destination channel")...)
		components = append(components, buttonRow(
			button("open_name_modal", "Rename", discordgo.SecondaryButton),
			button("toggle_active", "Toggle Active", discordgo.SecondaryButton),
			button("continue", "Done", discordgo.PrimaryButton),
			button("cancel", "Cancel", discordgo.DangerButton),
		)...)

	case StepComplete:
		title := "Rule Created"
		if session.IsEditing {
			title = "Rule Updated"
		}
		name := ""
		if session.CurrentRule != nil {
			name = session.CurrentRule.RuleName
		}
		embed = &discordgo.MessageEmbed{
			Title: title,
			Description: fmt.Sprintf("**%s** is now live. Manage your rules any time "+
				"with `/forward list`.", name),
			Color: colorSuccess,
		}
		components = []discordgo.MessageComponent{}

	case StepCancelled:
		embed = &discordgo.MessageEmbed{
			Title:       "Setup Cancelled",
			Description: "No changes were saved. Run `/setup` whenever you're ready.",
			Color:       colorWarning,
		}
		components = []discordgo.MessageComponent{}

	default:
		embed = &discordgo.MessageEmbed{
			Title:       "Setup",
			Description: "Unknown step. Run `/setup` to start again.",
			Color:       colorDanger,
		}
		components = []discordgo.MessageComponent{}
	}

	if len(problems) > 0 {
		embed.Fields = append([]*discordgo.MessageEmbedField{{
			Name:  "⚠️ Please fix these first",
			Value: "• " + strings.Join(problems, "\n• "),
		}}, embed.Fields...)
	}
	if session.Step != StepComplete && session.Step != StepCancelled {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Setup %.0f%% complete", session.Progress()*100),
		}
	}

	return &discordgo.InteractionResponseData{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: components,
	}
}

func (w *Wizard) permissionsEmbed(guildID string) *discordgo.MessageEmbed {
	report, err := w.checker.CheckGuild(guildID)
	if err != nil {
		return &discordgo.MessageEmbed{
			Title:       "Permission Check",
			Description: "I couldn't verify my permissions. Please try again.",
			Color:       colorDanger,
		}
	}

	embed := &discordgo.MessageEmbed{Title: "Permission Check"}
	if report.HasBasic {
		embed.Description = "✅ I have all the permissions I need."
		embed.Color = colorSuccess
	} else {
		embed.Description = "❌ I'm missing required permissions. Grant them and hit Re-check."
		embed.Color = colorDanger
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Missing Required",
			Value: FormatMissing(report.MissingBasic),
		})
	}
	if len(report.MissingRecommended) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Missing Recommended",
			Value: FormatMissing(report.MissingRecommended),
		})
	}
	return embed
}

func rulePreviewEmbed(session *Session) *discordgo.MessageEmbed {
	rule := session.CurrentRule
	if rule == nil {
		return &discordgo.MessageEmbed{
			Title:       "Rule Preview",
			Description: "No rule configured yet.",
			Color:       colorWarning,
		}
	}

	active := "Yes"
	if !rule.IsActive {
		active = "No"
	}
	return &discordgo.MessageEmbed{
		Title: "Rule Preview",
		Color: colorPrimary,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Name", Value: orDash(rule.RuleName), Inline: true},
			{Name: "Active", Value: active, Inline: true},
			{Name: "Source", Value: channelMention(rule.SourceChannelID), Inline: true},
			{Name: "Destination", Value: channelMention(rule.DestinationChannelID), Inline: true},
			{Name: "Style", Value: string(rule.Settings.Formatting.ForwardStyle), Inline: true},
		},
	}
}

func editSettingsEmbed(session *Session) *discordgo.MessageEmbed {
	embed := rulePreviewEmbed(session)
	embed.Title = "Edit Rule Settings"
	embed.Description = "Adjust the rule below, then hit Done to return to the preview."
	return embed
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

func channelMention(id string) string {
	if id == "" {
		return "—"
	}
	return "<#" + id + ">"
}

func button(action, label string, style discordgo.ButtonStyle) discordgo.Button {
	return discordgo.Button{
		CustomID: customIDPrefix + action,
		Label:    label,
		Style:    style,
	}
}

func buttonRow(buttons ...discordgo.Button) []discordgo.MessageComponent {
	comps := make([]discordgo.MessageComponent, len(buttons))
	for i, b := range buttons {
		comps[i] = b
	}
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: comps}}
}

func channelSelectRow(placeholder string) []discordgo.MessageComponent {
	return channelSelect("channel", placeholder)
}

func channelSelect(action, placeholder string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				MenuType:     discordgo.ChannelSelectMenu,
				CustomID:     customIDPrefix + action,
				Placeholder:  placeholder,
				ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews},
			},
		},
	}}
}

func styleSelectRow(session *Session) []discordgo.MessageComponent {
	current := store.StyleComponentV2
	if session.CurrentRule != nil {
		current = session.CurrentRule.Settings.Formatting.ForwardStyle
	}
	options := []discordgo.SelectMenuOption{
		{Label: "Components V2", Value: string(store.StyleComponentV2), Default: current == store.StyleComponentV2},
		{Label: "Native Forward", Value: string(store.StyleNative), Default: current == store.StyleNative},
		{Label: "Embed", Value: string(store.StyleEmbed), Default: current == store.StyleEmbed},
		{Label: "Plain Text", Value: string(store.StyleText), Default: current == store.StyleText},
	}
	return []discordgo.MessageComponent{discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				CustomID:    customIDPrefix + "style",
				Placeholder: "Forward style",
				Options:     options,
			},
		},
	}}
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
