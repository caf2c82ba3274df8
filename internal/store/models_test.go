package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPremiumSubscription_Expired(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.True(t, PremiumSubscription{ExpiresAt: &past}.Expired(now))
	assert.False(t, PremiumSubscription{ExpiresAt: &future}.Expired(now))
	assert.False(t, PremiumSubscription{ExpiresAt: nil}.Expired(now), "no expiry means lifetime")
	assert.False(t, PremiumSubscription{IsLifetime: true, ExpiresAt: &past}.Expired(now),
		"lifetime overrides any expiry timestamp")
}

func TestMessageTypes_Any(t *testing.T) {
	assert.False(t, MessageTypes{}.Any())
	assert.True(t, MessageTypes{Stickers: true}.Any())
	assert.True(t, DefaultRuleSettings().MessageTypes.Any())
}

func TestDefaultRuleSettings(t *testing.T) {
	settings := DefaultRuleSettings()

	assert.Equal(t, StyleComponentV2, settings.Formatting.ForwardStyle)
	assert.False(t, settings.MessageTypes.Stickers, "stickers are opt-in")
	assert.Equal(t, 2000, settings.Filters.MaxLength)
	assert.True(t, settings.Formatting.IncludeAuthor)
}

func TestDefaultGuildSettings(t *testing.T) {
	settings := DefaultGuildSettings("guild-1", "Test")

	assert.Equal(t, "guild-1", settings.GuildID)
	assert.Equal(t, TierFree, settings.PremiumTier)
	assert.True(t, settings.Features.ForwardingEnabled)
	assert.NotNil(t, settings.Rules)
	assert.Empty(t, settings.Rules)
}

func TestDefaultBotSettings(t *testing.T) {
	settings := DefaultBotSettings()

	assert.Equal(t, "global_config", settings.ID)
	assert.Less(t, settings.MaxRulesPerGuild, settings.MaxRulesPremium)
	assert.Less(t, settings.FreeTierDailyLimit, settings.PremiumTierDailyLimit)
}

func TestNewRule(t *testing.T) {
	rule := NewRule("Test Rule", "src", "dst")

	assert.NotEmpty(t, rule.RuleID)
	assert.True(t, rule.IsActive)
	assert.Equal(t, StyleComponentV2, rule.Settings.Formatting.ForwardStyle)

	other := NewRule("Other", "src", "dst")
	assert.NotEqual(t, rule.RuleID, other.RuleID)
}

func TestGenerateCodeString(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code := generateCodeString()

		assert.Len(t, code, 14, "XXXX-XXXX-XXXX")
		assert.Equal(t, byte('-'), code[4])
		assert.Equal(t, byte('-'), code[9])
		for idx, ch := range code {
			if idx == 4 || idx == 9 {
				continue
			}
			assert.Contains(t, codeAlphabet, string(ch))
		}
		assert.False(t, seen[code], "codes must not repeat")
		seen[code] = true
	}
}
