package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/alert"
	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/config"
	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/forward"
	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/setup"
	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/store"
)

// GuildHandler is invoked when the bot joins or leaves a guild.
// Handlers are registered at composition time and run synchronously
// in registration order.
type GuildHandler func(ctx context.Context, guildID, guildName string)

// Bot represents the relay bot instance
type Bot struct {
	config   *config.Config
	session  *discordgo.Session
	store    *store.Store
	guilds   *store.Guilds
	rules    *store.Rules
	premium  *store.Premium
	sessions *setup.SessionStore
	machine  *setup.Machine
	wizard   *setup.Wizard
	checker  *setup.PermissionChecker
	engine   *forward.Engine
	notifier *alert.Notifier
	commands []*discordgo.ApplicationCommand

	onGuildJoin  []GuildHandler
	onGuildLeave []GuildHandler

	stopReaper chan struct{}
	reaperWG   sync.WaitGroup
}

// New creates a new Bot instance and wires its collaborators.
func New(ctx context.Context, cfg *config.Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	st, err := store.Connect(ctx, cfg.MongoURI, cfg.DatabaseName)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	guilds := store.NewGuilds(st)
	rules := store.NewRules(st)
	premium := store.NewPremium(st, guilds)
	durable := store.NewSessions(st)

	checker := setup.NewPermissionChecker(session)
	sessions := setup.NewSessionStore(durable, time.Duration(cfg.SessionTimeoutMinutes)*time.Minute)
	env := &setupEnv{checker: checker, guilds: guilds, rules: rules, premium: premium}
	machine := setup.NewMachine(sessions, env)
	wizard := setup.NewWizard(machine, sessions, checker)

	notifier := alert.NewNotifier(session, guilds, time.Duration(cfg.QuotaNoticeTTLSeconds)*time.Second)
	engine := forward.NewEngine(
		&storeSettings{guilds: guilds, premium: premium},
		&discordSender{session: session},
		forward.NewHTTPFetcher(),
		notifier,
		time.Duration(cfg.QuotaNoticeTTLSeconds)*time.Second,
	)

	b := &Bot{
		config:     cfg,
		session:    session,
		store:      st,
		guilds:     guilds,
		rules:      rules,
		premium:    premium,
		sessions:   sessions,
		machine:    machine,
		wizard:     wizard,
		checker:    checker,
		engine:     engine,
		notifier:   notifier,
		stopReaper: make(chan struct{}),
	}

	b.registerGuildHandlers()
	b.registerHandlers()

	return b, nil
}

// Start opens the Discord connection and starts background tasks
func (b *Bot) Start(ctx context.Context) error {
	if err := b.guilds.EnsureBotSettings(ctx, b.config.BotOwnerID); err != nil {
		return fmt.Errorf("failed to seed bot settings: %w", err)
	}

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	slog.Info("Connected to Discord", "user", b.session.State.User.Username)

	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	resumed := b.sessions.ResumeOnStartup(ctx)
	if resumed > 0 {
		slog.Info("Resumed setup sessions from store", "count", resumed)
	}

	b.reaperWG.Add(1)
	go b.runReaper()

	return nil
}

// Stop gracefully shuts down the bot
func (b *Bot) Stop(ctx context.Context) error {
	close(b.stopReaper)
	b.reaperWG.Wait()

	if b.store != nil {
		if err := b.store.Close(ctx); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
	}

	if b.session != nil {
		return b.session.Close()
	}
	return nil
}

// runReaper periodically expires idle setup sessions and prunes old
// session records from the store.
func (b *Bot) runReaper() {
	defer b.reaperWG.Done()

	interval := time.Duration(b.config.SessionReapIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Session reaper started", "interval", interval)

	for {
		select {
		case <-b.stopReaper:
			slog.Info("Session reaper stopped")
			return
		case <-ticker.C:
			if !b.store.Healthy() {
				slog.Warn("Skipping session sweep while the database is unreachable")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if reaped := b.sessions.ReapExpired(ctx); reaped > 0 {
				slog.Info("Expired idle setup sessions", "count", reaped)
			}
			b.sessions.PurgeOld(ctx, time.Duration(b.config.SessionRetentionDays)*24*time.Hour)
			cancel()
		}
	}
}

// registerGuildHandlers wires the join and leave behaviors. The
// handler lists are fixed at composition time.
func (b *Bot) registerGuildHandlers() {
	b.onGuildJoin = append(b.onGuildJoin, func(ctx context.Context, guildID, guildName string) {
		if _, err := b.guilds.SetupNewGuild(ctx, guildID, guildName); err != nil {
			slog.Error("Failed to set up new guild", "guild", guildID, "error", err)
			return
		}
		slog.Info("Guild configured", "guild", guildID, "name", guildName)
	})

	b.onGuildLeave = append(b.onGuildLeave, func(ctx context.Context, guildID, _ string) {
		if b.guilds.RemoveGuildData(ctx, guildID) {
			slog.Info("Guild data removed", "guild", guildID)
		}
	})
}

// updatePresence sets the status line to the configured guild count.
func (b *Bot) updatePresence(s *discordgo.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	count, err := b.guilds.Count(ctx)
	if err != nil {
		slog.Warn("Could not count guilds for presence", "error", err)
		return
	}
	if err := s.UpdateGameStatus(0, fmt.Sprintf("/setup · relaying in %d servers", count)); err != nil {
		slog.Debug("Could not update presence", "error", err)
	}
}

// sendWelcome posts a short greeting to the guild's system channel,
// if it has one.
func (b *Bot) sendWelcome(s *discordgo.Session, g *discordgo.GuildCreate) {
	if g.SystemChannelID == "" {
		return
	}
	_, err := s.ChannelMessageSendEmbed(g.SystemChannelID, &discordgo.MessageEmbed{
		Title: "Thanks for adding Stygian Relay!",
		Description: "Forward messages between channels with flexible rules.\n\n" +
			"Run `/setup` to create your first forwarding rule, or " +
			"`/forward list` to review rules at any time.",
		Color: 0x5865F2,
	})
	if err != nil {
		slog.Debug("Could not send welcome message", "guild", g.ID, "error", err)
	}
}

// registerHandlers sets up Discord event handlers
func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(b.handleMessageCreate)
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("Bot is ready", "guilds", len(r.Guilds))
		b.updatePresence(s)
	})
	b.session.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		for _, h := range b.onGuildJoin {
			h(ctx, g.ID, g.Name)
		}
		// GuildCreate also fires for every guild on (re)connect, so
		// only greet guilds the bot just joined.
		if time.Since(g.JoinedAt) < time.Minute {
			b.sendWelcome(s, g)
		}
	})
	b.session.AddHandler(func(s *discordgo.Session, g *discordgo.GuildDelete) {
		if g.Unavailable {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		for _, h := range b.onGuildLeave {
			h(ctx, g.ID, "")
		}
	})
}

// handleMessageCreate feeds guild messages into the forwarding engine.
func (b *Bot) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	b.engine.HandleMessage(ctx, m.Message)
}

// handleInteraction routes slash commands, wizard components, and
// modal submissions.
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		slog.Debug("Received command", "command", data.Name, "guild", i.GuildID)

		switch data.Name {
		case "setup":
			b.handleSetup(ctx, s, i)
		case "forward":
			b.handleForward(ctx, s, i)
		case "premium":
			b.handlePremium(ctx, s, i)
		case "settings":
			b.handleSettings(ctx, s, i)
		default:
			slog.Warn("Unknown command", "command", data.Name)
		}

	case discordgo.InteractionMessageComponent:
		customID := i.MessageComponentData().CustomID
		switch {
		case setup.HandlesCustomID(customID):
			b.wizard.HandleComponent(ctx, s, i)
		case strings.HasPrefix(customID, ruleActionPrefix):
			b.handleRuleComponent(ctx, s, i)
		}

	case discordgo.InteractionModalSubmit:
		if setup.HandlesCustomID(i.ModalSubmitData().CustomID) {
			b.wizard.HandleModal(ctx, s, i)
		}
	}
}
