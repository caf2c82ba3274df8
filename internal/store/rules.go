package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Rules manages the per-guild rule array embedded in the guild
// settings document. The array is the source of truth; single-rule
// mutations use the store's positional update operator.
type Rules struct {
	store *Store
}

// NewRules creates the rule repository over the connected store.
func NewRules(s *Store) *Rules {
	return &Rules{store: s}
}

// NewRule builds a fully populated rule with a fresh id and default
// settings for any zero-valued sections.
func NewRule(name, sourceChannelID, destChannelID string) Rule {
	now := time.Now().UTC()
	return Rule{
		RuleID:               uuid.NewString(),
		RuleName:             name,
		SourceChannelID:      sourceChannelID,
		DestinationChannelID: destChannelID,
		IsActive:             true,
		Settings:             DefaultRuleSettings(),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// Add appends the rule to the guild's array. If the guild document
// does not exist yet it is lazily created with defaults and the append
// retried once.
func (r *Rules) Add(ctx context.Context, guildID string, rule Rule) bool {
	now := time.Now().UTC()
	update := bson.M{
		"$push": bson.M{"rules": rule},
		"$set":  bson.M{"updated_at": now},
	}

	res, err := r.store.guilds.UpdateOne(ctx, bson.M{"_id": guildID}, update)
	if err == nil && res.MatchedCount > 0 {
		slog.Info("Forwarding rule added", "guild", guildID, "rule", rule.RuleID, "name", rule.RuleName)
		return true
	}
	if err != nil {
		slog.Error("Failed to add forwarding rule", "guild", guildID, "error", err)
		return false
	}

	// No guild document yet; create defaults and retry the append once.
	settings := DefaultGuildSettings(guildID, "")
	if _, err := r.store.guilds.InsertOne(ctx, settings); err != nil && !mongo.IsDuplicateKeyError(err) {
		slog.Error("Failed to create guild for new rule", "guild", guildID, "error", err)
		return false
	}
	res, err = r.store.guilds.UpdateOne(ctx, bson.M{"_id": guildID}, update)
	if err != nil || res.MatchedCount == 0 {
		slog.Error("Failed to add forwarding rule after guild creation", "guild", guildID, "error", err)
		return false
	}
	slog.Info("Forwarding rule added with new guild document", "guild", guildID, "rule", rule.RuleID)
	return true
}

// Update applies a partial update to the matching array element via a
// positional update. Returns false if no element was modified.
func (r *Rules) Update(ctx context.Context, ruleID string, fields bson.M) bool {
	set := bson.M{
		"rules.$.updated_at": time.Now().UTC(),
	}
	for key, value := range fields {
		set["rules.$."+key] = value
	}

	res, err := r.store.guilds.UpdateOne(ctx,
		bson.M{"rules.rule_id": ruleID},
		bson.M{"$set": set},
	)
	if err != nil {
		slog.Error("Failed to update forwarding rule", "rule", ruleID, "error", err)
		return false
	}
	return res.ModifiedCount > 0
}

// SoftDelete marks the rule inactive without removing it. Only a
// still-active rule counts as modified, so repeated calls return false
// and leave the record untouched.
func (r *Rules) SoftDelete(ctx context.Context, ruleID string) bool {
	res, err := r.store.guilds.UpdateOne(ctx,
		bson.M{"rules": bson.M{"$elemMatch": bson.M{"rule_id": ruleID, "is_active": true}}},
		bson.M{"$set": bson.M{
			"rules.$.is_active":  false,
			"rules.$.updated_at": time.Now().UTC(),
		}},
	)
	if err != nil {
		slog.Error("Failed to disable forwarding rule", "rule", ruleID, "error", err)
		return false
	}
	return res.ModifiedCount > 0
}

// HardDelete removes the rule from the guild's array. Irreversible.
func (r *Rules) HardDelete(ctx context.Context, guildID, ruleID string) bool {
	res, err := r.store.guilds.UpdateOne(ctx,
		bson.M{"_id": guildID},
		bson.M{
			"$pull": bson.M{"rules": bson.M{"rule_id": ruleID}},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		slog.Error("Failed to delete forwarding rule", "guild", guildID, "rule", ruleID, "error", err)
		return false
	}
	return res.ModifiedCount > 0
}

// ByID locates the rule across guilds by scanning the matched guild
// document's array.
func (r *Rules) ByID(ctx context.Context, ruleID string) (*Rule, string) {
	var settings GuildSettings
	err := r.store.guilds.FindOne(ctx, bson.M{"rules.rule_id": ruleID}).Decode(&settings)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ""
	}
	if err != nil {
		slog.Error("Failed to look up forwarding rule", "rule", ruleID, "error", err)
		return nil, ""
	}

	for i := range settings.Rules {
		if settings.Rules[i].RuleID == ruleID {
			return &settings.Rules[i], settings.GuildID
		}
	}
	return nil, ""
}
