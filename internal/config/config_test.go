package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "token")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "stygian_relay", cfg.DatabaseName)
	assert.Equal(t, 30, cfg.SessionTimeoutMinutes)
	assert.Equal(t, 300, cfg.SessionReapIntervalSecs)
	assert.Equal(t, 7, cfg.SessionRetentionDays)
	assert.Equal(t, 60, cfg.QuotaNoticeTTLSeconds)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_MissingToken(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")

	_, err := Load()
	assert.ErrorContains(t, err, "DISCORD_BOT_TOKEN")
}

func TestLoad_MissingMongoURI(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "token")
	t.Setenv("MONGODB_URI", "")

	_, err := Load()
	assert.ErrorContains(t, err, "MONGODB_URI")
}

func TestLoad_InvalidInt(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "token")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("SESSION_TIMEOUT_MINUTES", "not-a-number")

	_, err := Load()
	assert.ErrorContains(t, err, "SESSION_TIMEOUT_MINUTES")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "token")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("MONGODB_DATABASE", "relay_test")
	t.Setenv("SESSION_TIMEOUT_MINUTES", "10")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "relay_test", cfg.DatabaseName)
	assert.Equal(t, 10, cfg.SessionTimeoutMinutes)
	assert.Equal(t, "json", cfg.LogFormat)
}
