package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Guilds provides access to guild settings documents and the forward
// log used for daily quota accounting.
type Guilds struct {
	store *Store
}

// NewGuilds creates the guild repository over the connected store.
func NewGuilds(s *Store) *Guilds {
	return &Guilds{store: s}
}

// Get returns the guild's settings, creating the default document if
// the guild has not been seen before.
func (g *Guilds) Get(ctx context.Context, guildID string) (*GuildSettings, error) {
	var settings GuildSettings
	err := g.store.guilds.FindOne(ctx, bson.M{"_id": guildID}).Decode(&settings)
	if errors.Is(err, mongo.ErrNoDocuments) {
		slog.Info("Guild not found, creating default settings", "guild", guildID)
		return g.SetupNewGuild(ctx, guildID, "")
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// SetupNewGuild creates the default settings document for a guild. If
// the document already exists it is refreshed in place rather than
// replaced, so existing rules survive a bot re-join.
func (g *Guilds) SetupNewGuild(ctx context.Context, guildID, guildName string) (*GuildSettings, error) {
	existing := g.store.guilds.FindOne(ctx, bson.M{"_id": guildID})
	if existing.Err() == nil {
		update := bson.M{"updated_at": time.Now().UTC()}
		if guildName != "" {
			update["guild_name"] = guildName
		}
		if _, err := g.store.guilds.UpdateOne(ctx, bson.M{"_id": guildID}, bson.M{"$set": update}); err != nil {
			return nil, err
		}
		var settings GuildSettings
		if err := g.store.guilds.FindOne(ctx, bson.M{"_id": guildID}).Decode(&settings); err != nil {
			return nil, err
		}
		return &settings, nil
	}

	settings := DefaultGuildSettings(guildID, guildName)
	if _, err := g.store.guilds.InsertOne(ctx, settings); err != nil {
		return nil, err
	}
	slog.Info("Default settings created for guild", "guild", guildID, "name", guildName)
	return &settings, nil
}

// Update applies a partial field update to the guild document.
func (g *Guilds) Update(ctx context.Context, guildID string, fields bson.M) bool {
	fields["updated_at"] = time.Now().UTC()
	res, err := g.store.guilds.UpdateOne(ctx, bson.M{"_id": guildID}, bson.M{"$set": fields})
	if err != nil {
		slog.Error("Failed to update guild settings", "guild", guildID, "error", err)
		return false
	}
	return res.ModifiedCount > 0
}

// RemoveGuildData deletes the settings document and setup session for a
// guild the bot left, and deactivates any subscription. The forward log
// is retained for audit.
func (g *Guilds) RemoveGuildData(ctx context.Context, guildID string) bool {
	if _, err := g.store.guilds.DeleteOne(ctx, bson.M{"_id": guildID}); err != nil {
		slog.Error("Failed to remove guild settings", "guild", guildID, "error", err)
		return false
	}
	if _, err := g.store.setupSessions.DeleteOne(ctx, bson.M{"_id": guildID}); err != nil {
		slog.Warn("Failed to remove setup session", "guild", guildID, "error", err)
	}
	now := time.Now().UTC()
	_, err := g.store.subscriptions.UpdateMany(ctx,
		bson.M{"guild_id": guildID, "is_active": true},
		bson.M{"$set": bson.M{"is_active": false, "deactivated_at": now}},
	)
	if err != nil {
		slog.Warn("Failed to deactivate subscriptions", "guild", guildID, "error", err)
	}
	slog.Info("Removed data for guild", "guild", guildID)
	return true
}

// LogForward records a successful forward for quota accounting.
func (g *Guilds) LogForward(ctx context.Context, entry ForwardLog) error {
	if entry.ForwardedAt.IsZero() {
		entry.ForwardedAt = time.Now().UTC()
	}
	_, err := g.store.messageLogs.InsertOne(ctx, entry)
	return err
}

// DailyForwardCount counts successful forwards for the guild since UTC
// midnight. There is no counter field to reset; the window does the
// work.
func (g *Guilds) DailyForwardCount(ctx context.Context, guildID string) (int64, error) {
	now := time.Now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	return g.store.messageLogs.CountDocuments(ctx, bson.M{
		"guild_id":     guildID,
		"success":      true,
		"forwarded_at": bson.M{"$gte": startOfDay},
	})
}

// Count returns the number of configured guilds.
func (g *Guilds) Count(ctx context.Context) (int64, error) {
	return g.store.guilds.CountDocuments(ctx, bson.M{})
}

// EnsureBotSettings seeds the global configuration document on first
// start and backfills any fields a newer version introduced.
func (g *Guilds) EnsureBotSettings(ctx context.Context, masterAdminID string) error {
	defaults := DefaultBotSettings()
	defaults.MasterAdminID = masterAdminID

	var existing BotSettings
	err := g.store.botSettings.FindOne(ctx, bson.M{"_id": botSettingsID}).Decode(&existing)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, err := g.store.botSettings.InsertOne(ctx, defaults); err != nil {
			return err
		}
		slog.Info("Default bot settings initialized")
		return nil
	}
	return err
}

// BotSettings returns the global configuration document, falling back
// to defaults when it cannot be read.
func (g *Guilds) BotSettings(ctx context.Context) BotSettings {
	var settings BotSettings
	err := g.store.botSettings.FindOne(ctx, bson.M{"_id": botSettingsID}).Decode(&settings)
	if err != nil {
		slog.Warn("Failed to load bot settings, using defaults", "error", err)
		return DefaultBotSettings()
	}
	return settings
}
