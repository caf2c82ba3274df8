package store

import "time"

// PremiumTier is the subscription level of a guild.
type PremiumTier string

const (
	TierFree       PremiumTier = "free"
	TierPremium    PremiumTier = "premium"
	TierEnterprise PremiumTier = "enterprise"
)

// ForwardStyle selects how a forwarded message is rendered in the
// destination channel.
type ForwardStyle string

const (
	StyleNative      ForwardStyle = "native"
	StyleComponentV2 ForwardStyle = "component_v2"
	StyleEmbed       ForwardStyle = "embed"
	StyleText        ForwardStyle = "text"
)

// GuildSettings is the per-guild configuration document, keyed by the
// Discord guild id.
type GuildSettings struct {
	GuildID            string        `bson:"_id"`
	GuildName          string        `bson:"guild_name,omitempty"`
	IsEnabled          bool          `bson:"is_enabled"`
	PremiumTier        PremiumTier   `bson:"premium_tier"`
	MasterLogChannelID string        `bson:"master_log_channel_id,omitempty"`
	ManagerRoleID      string        `bson:"manager_role_id,omitempty"`
	Features           GuildFeatures `bson:"features"`
	Limits             GuildLimits   `bson:"limits"`
	Rules              []Rule        `bson:"rules"`
	CreatedAt          time.Time     `bson:"created_at"`
	UpdatedAt          time.Time     `bson:"updated_at"`
}

type GuildFeatures struct {
	ForwardingEnabled bool `bson:"forwarding_enabled"`
	LoggingEnabled    bool `bson:"logging_enabled"`
	AutoCleanup       bool `bson:"auto_cleanup"`
	NotifyOnError     bool `bson:"notify_on_error"`
}

type GuildLimits struct {
	MaxRules      int `bson:"max_rules"`
	DailyMessages int `bson:"daily_messages"`
}

// Rule is one source->destination forwarding mapping, stored in
// insertion order inside the guild document.
type Rule struct {
	RuleID               string       `bson:"rule_id"`
	RuleName             string       `bson:"rule_name"`
	SourceChannelID      string       `bson:"source_channel_id"`
	DestinationChannelID string       `bson:"destination_channel_id"`
	IsActive             bool         `bson:"is_active"`
	Settings             RuleSettings `bson:"settings"`
	CreatedAt            time.Time    `bson:"created_at"`
	UpdatedAt            time.Time    `bson:"updated_at"`
}

type RuleSettings struct {
	MessageTypes    MessageTypes    `bson:"message_types"`
	Filters         RuleFilters     `bson:"filters"`
	Formatting      RuleFormatting  `bson:"formatting"`
	AdvancedOptions AdvancedOptions `bson:"advanced_options"`
}

type MessageTypes struct {
	Text     bool `bson:"text"`
	Media    bool `bson:"media"`
	Links    bool `bson:"links"`
	Embeds   bool `bson:"embeds"`
	Files    bool `bson:"files"`
	Stickers bool `bson:"stickers"`
}

// Any reports whether at least one message type is enabled.
func (t MessageTypes) Any() bool {
	return t.Text || t.Media || t.Links || t.Embeds || t.Files || t.Stickers
}

type RuleFilters struct {
	RequireKeywords []string `bson:"require_keywords"`
	BlockKeywords   []string `bson:"block_keywords"`
	MinLength       int      `bson:"min_length"`
	MaxLength       int      `bson:"max_length"`
}

type RuleFormatting struct {
	IncludeAuthor      bool         `bson:"include_author"`
	AddPrefix          string       `bson:"add_prefix,omitempty"`
	AddSuffix          string       `bson:"add_suffix,omitempty"`
	ForwardAttachments bool         `bson:"forward_attachments"`
	ForwardEmbeds      bool         `bson:"forward_embeds"`
	ForwardStyle       ForwardStyle `bson:"forward_style"`
	EmbedColor         int          `bson:"embed_color,omitempty"`
}

type AdvancedOptions struct {
	CaseSensitive bool `bson:"case_sensitive"`
	WholeWordOnly bool `bson:"whole_word_only"`
}

// SessionRecord is the durable form of a setup wizard session. One
// live record per guild; expired records are kept for audit until the
// retention sweep removes them.
type SessionRecord struct {
	GuildID          string          `bson:"_id"`
	UserID           string          `bson:"user_id"`
	Step             string          `bson:"step"`
	StartedAt        time.Time       `bson:"started_at"`
	LastActivity     time.Time       `bson:"last_activity"`
	MasterLogChannel string          `bson:"master_log_channel,omitempty"`
	CurrentRule      *Rule           `bson:"current_rule,omitempty"`
	IsEditing        bool            `bson:"is_editing"`
	SetupOptions     map[string]bool `bson:"setup_options,omitempty"`
	IsExpired        bool            `bson:"is_expired"`
	ExpiredAt        time.Time       `bson:"expired_at,omitempty"`
	UpdatedAt        time.Time       `bson:"updated_at"`
}

// PremiumSubscription records an active or historical premium grant
// for a guild. At most one record per guild has IsActive=true.
type PremiumSubscription struct {
	GuildID        string      `bson:"guild_id"`
	Tier           PremiumTier `bson:"tier"`
	IsActive       bool        `bson:"is_active"`
	IsLifetime     bool        `bson:"is_lifetime"`
	ActivatedAt    time.Time   `bson:"activated_at"`
	ExpiresAt      *time.Time  `bson:"expires_at,omitempty"`
	ActivationCode string      `bson:"activation_code"`
}

// Expired reports whether the subscription has lapsed. Lifetime
// subscriptions never expire.
func (s PremiumSubscription) Expired(now time.Time) bool {
	if s.IsLifetime || s.ExpiresAt == nil {
		return false
	}
	return !s.ExpiresAt.After(now)
}

// PremiumCode is a redeemable activation code in XXXX-XXXX-XXXX form.
type PremiumCode struct {
	Code              string      `bson:"_id"`
	Tier              PremiumTier `bson:"tier"`
	DurationDays      int         `bson:"duration_days"`
	IsLifetime        bool        `bson:"is_lifetime"`
	IsRedeemed        bool        `bson:"is_redeemed"`
	RestrictedToGuild string      `bson:"restricted_to_guild,omitempty"`
	CreatedBy         string      `bson:"created_by"`
	CreatedAt         time.Time   `bson:"created_at"`
	RedeemedBy        string      `bson:"redeemed_by,omitempty"`
	RedeemedAt        time.Time   `bson:"redeemed_at,omitempty"`
	RedeemedGuild     string      `bson:"redeemed_guild,omitempty"`
}

// ForwardLog records one successful forward; daily quotas are computed
// by counting these records from UTC midnight.
type ForwardLog struct {
	GuildID              string    `bson:"guild_id"`
	RuleID               string    `bson:"rule_id"`
	SourceChannelID      string    `bson:"source_channel_id"`
	DestinationChannelID string    `bson:"destination_channel_id"`
	OriginalMessageID    string    `bson:"original_message_id"`
	ForwardedMessageID   string    `bson:"forwarded_message_id,omitempty"`
	Success              bool      `bson:"success"`
	ForwardedAt          time.Time `bson:"forwarded_at"`
}

// BotSettings is the single global configuration document. Tier limit
// values live here rather than being hard-coded at call sites.
type BotSettings struct {
	ID                    string    `bson:"_id"`
	MaxRulesPerGuild      int       `bson:"max_rules_per_guild"`
	MaxRulesPremium       int       `bson:"max_rules_premium"`
	FreeTierDailyLimit    int       `bson:"free_tier_daily_limit"`
	PremiumTierDailyLimit int       `bson:"premium_tier_daily_limit"`
	PremiumEnabled        bool      `bson:"premium_enabled"`
	MaintenanceMode       bool      `bson:"maintenance_mode"`
	AutoSetupNewGuilds    bool      `bson:"auto_setup_new_guilds"`
	MasterAdminID         string    `bson:"master_admin_id,omitempty"`
	CreatedAt             time.Time `bson:"created_at"`
	UpdatedAt             time.Time `bson:"updated_at"`
}

const botSettingsID = "global_config"

// DefaultBotSettings returns the seed values for the global config
// document.
func DefaultBotSettings() BotSettings {
	now := time.Now().UTC()
	return BotSettings{
		ID:                    botSettingsID,
		MaxRulesPerGuild:      3,
		MaxRulesPremium:       20,
		FreeTierDailyLimit:    100,
		PremiumTierDailyLimit: 5000,
		PremiumEnabled:        true,
		AutoSetupNewGuilds:    true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// DefaultGuildSettings returns the settings document created for a
// guild the first time it is seen.
func DefaultGuildSettings(guildID, guildName string) GuildSettings {
	now := time.Now().UTC()
	return GuildSettings{
		GuildID:     guildID,
		GuildName:   guildName,
		IsEnabled:   true,
		PremiumTier: TierFree,
		Features: GuildFeatures{
			ForwardingEnabled: true,
			LoggingEnabled:    false,
			AutoCleanup:       true,
			NotifyOnError:     true,
		},
		Limits: GuildLimits{
			MaxRules:      3,
			DailyMessages: 100,
		},
		Rules:     []Rule{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DefaultRuleSettings returns the settings a freshly created rule
// starts with.
func DefaultRuleSettings() RuleSettings {
	return RuleSettings{
		MessageTypes: MessageTypes{
			Text:   true,
			Media:  true,
			Links:  true,
			Embeds: true,
			Files:  true,
		},
		Filters: RuleFilters{
			RequireKeywords: []string{},
			BlockKeywords:   []string{},
			MinLength:       0,
			MaxLength:       2000,
		},
		Formatting: RuleFormatting{
			IncludeAuthor:      true,
			ForwardAttachments: true,
			ForwardEmbeds:      true,
			ForwardStyle:       StyleComponentV2,
		},
	}
}
