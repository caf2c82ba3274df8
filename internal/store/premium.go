package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrCodeNotFound is returned when the activation code does not exist.
	ErrCodeNotFound = errors.New("premium code not found")
	// ErrCodeRedeemed is returned when the code was already used.
	ErrCodeRedeemed = errors.New("premium code already redeemed")
	// ErrCodeRestricted is returned when the code is locked to another guild.
	ErrCodeRestricted = errors.New("premium code is restricted to a different server")
)

// Limits is the resolved rule-count and daily-message allowance for a
// guild, derived from the global config and the guild's subscription.
type Limits struct {
	MaxRules   int
	DailyLimit int
	IsPremium  bool
}

// Premium manages activation codes and guild subscriptions.
type Premium struct {
	store  *Store
	guilds *Guilds
}

// NewPremium creates the premium repository over the connected store.
func NewPremium(s *Store, guilds *Guilds) *Premium {
	return &Premium{store: s, guilds: guilds}
}

// ActiveSubscription returns the guild's active, unexpired
// subscription, or nil.
func (p *Premium) ActiveSubscription(ctx context.Context, guildID string) *PremiumSubscription {
	var sub PremiumSubscription
	err := p.store.subscriptions.FindOne(ctx, bson.M{
		"guild_id":  guildID,
		"is_active": true,
	}).Decode(&sub)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			slog.Error("Failed to look up subscription", "guild", guildID, "error", err)
		}
		return nil
	}
	if sub.Expired(time.Now().UTC()) {
		return nil
	}
	return &sub
}

// ResolveLimits returns the guild's limits from the global config
// document based on whether an active subscription exists.
func (p *Premium) ResolveLimits(ctx context.Context, guildID string) Limits {
	settings := p.guilds.BotSettings(ctx)
	if p.ActiveSubscription(ctx, guildID) != nil {
		return Limits{
			MaxRules:   settings.MaxRulesPremium,
			DailyLimit: settings.PremiumTierDailyLimit,
			IsPremium:  true,
		}
	}
	return Limits{
		MaxRules:   settings.MaxRulesPerGuild,
		DailyLimit: settings.FreeTierDailyLimit,
		IsPremium:  false,
	}
}

// GenerateCode creates a new activation code. A restrictedGuild of ""
// means the code is usable anywhere; lifetime codes ignore
// durationDays.
func (p *Premium) GenerateCode(ctx context.Context, durationDays int, lifetime bool, restrictedGuild, createdBy string) (*PremiumCode, error) {
	code := PremiumCode{
		Code:              generateCodeString(),
		Tier:              TierPremium,
		DurationDays:      durationDays,
		IsLifetime:        lifetime,
		RestrictedToGuild: restrictedGuild,
		CreatedBy:         createdBy,
		CreatedAt:         time.Now().UTC(),
	}
	if lifetime {
		code.DurationDays = 0
	}

	if _, err := p.store.premiumCodes.InsertOne(ctx, code); err != nil {
		return nil, fmt.Errorf("failed to store premium code: %w", err)
	}
	slog.Info("Premium code generated", "lifetime", lifetime, "days", code.DurationDays, "restricted", restrictedGuild != "")
	return &code, nil
}

// validateCode checks whether an activation code may be consumed by
// the given guild. Runs before any write, so a rejected redemption
// leaves every record untouched.
func validateCode(record *PremiumCode, guildID string) error {
	if record.IsRedeemed {
		return ErrCodeRedeemed
	}
	if record.RestrictedToGuild != "" && record.RestrictedToGuild != guildID {
		return ErrCodeRestricted
	}
	return nil
}

// Redeem validates and consumes an activation code for a guild. An
// existing active, unexpired subscription is extended; an expired one
// is replaced. Returns the resulting subscription.
func (p *Premium) Redeem(ctx context.Context, code, guildID, userID string) (*PremiumSubscription, error) {
	var record PremiumCode
	err := p.store.premiumCodes.FindOne(ctx, bson.M{"_id": code}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up premium code: %w", err)
	}
	if err := validateCode(&record, guildID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sub := p.ActiveSubscription(ctx, guildID)

	var result PremiumSubscription
	if sub != nil && !record.IsLifetime && !sub.IsLifetime && sub.ExpiresAt != nil {
		// Extend the live subscription from its current expiry.
		newExpiry := sub.ExpiresAt.Add(time.Duration(record.DurationDays) * 24 * time.Hour)
		_, err := p.store.subscriptions.UpdateOne(ctx,
			bson.M{"guild_id": guildID, "is_active": true},
			bson.M{"$set": bson.M{"expires_at": newExpiry}},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to extend subscription: %w", err)
		}
		result = *sub
		result.ExpiresAt = &newExpiry
	} else {
		// Replace any previous record rather than stacking actives.
		_, err := p.store.subscriptions.UpdateMany(ctx,
			bson.M{"guild_id": guildID, "is_active": true},
			bson.M{"$set": bson.M{"is_active": false}},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to retire previous subscription: %w", err)
		}

		result = PremiumSubscription{
			GuildID:        guildID,
			Tier:           record.Tier,
			IsActive:       true,
			IsLifetime:     record.IsLifetime,
			ActivatedAt:    now,
			ActivationCode: record.Code,
		}
		if !record.IsLifetime {
			expiry := now.Add(time.Duration(record.DurationDays) * 24 * time.Hour)
			result.ExpiresAt = &expiry
		}
		if _, err := p.store.subscriptions.InsertOne(ctx, result); err != nil {
			return nil, fmt.Errorf("failed to create subscription: %w", err)
		}
	}

	_, err = p.store.premiumCodes.UpdateOne(ctx,
		bson.M{"_id": code},
		bson.M{"$set": bson.M{
			"is_redeemed":    true,
			"redeemed_by":    userID,
			"redeemed_at":    now,
			"redeemed_guild": guildID,
		}},
	)
	if err != nil {
		slog.Error("Failed to mark code redeemed", "error", err)
	}

	p.guilds.Update(ctx, guildID, bson.M{"premium_tier": record.Tier})

	slog.Info("Premium code redeemed", "guild", guildID, "lifetime", record.IsLifetime)
	return &result, nil
}

// Deactivate flips the guild's subscription inactive and resets the
// guild's tier. History is retained.
func (p *Premium) Deactivate(ctx context.Context, guildID string) bool {
	res, err := p.store.subscriptions.UpdateMany(ctx,
		bson.M{"guild_id": guildID, "is_active": true},
		bson.M{"$set": bson.M{"is_active": false, "deactivated_at": time.Now().UTC()}},
	)
	if err != nil {
		slog.Error("Failed to deactivate subscription", "guild", guildID, "error", err)
		return false
	}
	if res.ModifiedCount == 0 {
		return false
	}
	p.guilds.Update(ctx, guildID, bson.M{"premium_tier": TierFree})
	return true
}

// ListCodes returns codes created by the given admin, newest first.
func (p *Premium) ListCodes(ctx context.Context, createdBy string, includeRedeemed bool) ([]PremiumCode, error) {
	filter := bson.M{"created_by": createdBy}
	if !includeRedeemed {
		filter["is_redeemed"] = false
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := p.store.premiumCodes.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var codes []PremiumCode
	if err := cursor.All(ctx, &codes); err != nil {
		return nil, err
	}
	return codes, nil
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// generateCodeString produces a XXXX-XXXX-XXXX code from a reduced
// alphabet that avoids ambiguous characters.
func generateCodeString() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	out := make([]byte, 0, 14)
	for i, b := range buf {
		if i > 0 && i%4 == 0 {
			out = append(out, '-')
		}
		out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
	}
	return string(out)
}
