package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the bot
type Config struct {
	// Discord
	DiscordToken         string
	DiscordApplicationID string
	BotOwnerID           string
	AdminGuildID         string

	// MongoDB
	MongoURI     string
	DatabaseName string

	// Setup wizard sessions
	SessionTimeoutMinutes   int
	SessionReapIntervalSecs int
	SessionRetentionDays    int

	// Forwarding
	QuotaNoticeTTLSeconds int

	// Logging
	LogLevel  string
	LogFormat string // "text" or "json"
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:         os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordApplicationID: os.Getenv("DISCORD_APPLICATION_ID"),
		BotOwnerID:           os.Getenv("BOT_OWNER_ID"),
		AdminGuildID:         os.Getenv("ADMIN_GUILD_ID"),
		MongoURI:             os.Getenv("MONGODB_URI"),
		DatabaseName:         getEnvOrDefault("MONGODB_DATABASE", "stygian_relay"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "text"),
	}

	var err error
	cfg.SessionTimeoutMinutes, err = getEnvInt("SESSION_TIMEOUT_MINUTES", 30)
	if err != nil {
		return nil, err
	}
	cfg.SessionReapIntervalSecs, err = getEnvInt("SESSION_REAP_INTERVAL_SECONDS", 300)
	if err != nil {
		return nil, err
	}
	cfg.SessionRetentionDays, err = getEnvInt("SESSION_RETENTION_DAYS", 7)
	if err != nil {
		return nil, err
	}
	cfg.QuotaNoticeTTLSeconds, err = getEnvInt("QUOTA_NOTICE_TTL_SECONDS", 60)
	if err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("MONGODB_URI is required")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
