package forward

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"

	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/store"
)

func allTypesOff() store.MessageTypes {
	return store.MessageTypes{}
}

func TestPassesTypeGate_EmptyMessageAlwaysPasses(t *testing.T) {
	msg := &discordgo.Message{Content: ""}

	assert.True(t, PassesTypeGate(allTypesOff(), msg),
		"a message with no content of any kind passes even with every type disabled")
}

func TestPassesTypeGate_TextOnly(t *testing.T) {
	msg := &discordgo.Message{Content: "hello there"}

	assert.True(t, PassesTypeGate(store.MessageTypes{Text: true}, msg))
	assert.False(t, PassesTypeGate(allTypesOff(), msg))
}

func TestPassesTypeGate_Links(t *testing.T) {
	msg := &discordgo.Message{Content: "check HTTPS://example.com"}

	assert.True(t, PassesTypeGate(store.MessageTypes{Links: true}, msg))
	assert.False(t, PassesTypeGate(store.MessageTypes{Links: true}, &discordgo.Message{Content: "no url here"}))
}

func TestPassesTypeGate_MediaAttachment(t *testing.T) {
	msg := &discordgo.Message{
		Attachments: []*discordgo.MessageAttachment{
			{Filename: "cat.png", ContentType: "image/png"},
		},
	}

	// Media enabled: passes because the type matches, not because the
	// message is empty; with media disabled the same message still
	// passes through the no-content leniency only if it carries
	// nothing at all, which it does not.
	assert.True(t, PassesTypeGate(store.MessageTypes{Media: true}, msg))
	assert.False(t, PassesTypeGate(store.MessageTypes{Text: true}, msg))
}

func TestPassesTypeGate_FileAttachment(t *testing.T) {
	msg := &discordgo.Message{
		Attachments: []*discordgo.MessageAttachment{
			{Filename: "report.pdf", ContentType: "application/pdf"},
		},
	}

	assert.True(t, PassesTypeGate(store.MessageTypes{Files: true}, msg))
	assert.False(t, PassesTypeGate(store.MessageTypes{Media: true}, msg))
}

func TestPassesTypeGate_Stickers(t *testing.T) {
	msg := &discordgo.Message{
		StickerItems: []*discordgo.StickerItem{{ID: "1", Name: "wave"}},
	}

	assert.True(t, PassesTypeGate(store.MessageTypes{Stickers: true}, msg))
	assert.False(t, PassesTypeGate(store.MessageTypes{Text: true}, msg))
}

func TestPassesTypeGate_Embeds(t *testing.T) {
	msg := &discordgo.Message{
		Embeds: []*discordgo.MessageEmbed{{Title: "announcement"}},
	}

	assert.True(t, PassesTypeGate(store.MessageTypes{Embeds: true}, msg))
	assert.False(t, PassesTypeGate(store.MessageTypes{Text: true}, msg))
}

func TestPassesFilters_BlockBeatsRequire(t *testing.T) {
	settings := store.DefaultRuleSettings()
	settings.Filters.RequireKeywords = []string{"release"}
	settings.Filters.BlockKeywords = []string{"spam"}

	assert.False(t, PassesFilters(settings, "new release but also spam"),
		"a blocked keyword wins even when a required keyword matches")
	assert.True(t, PassesFilters(settings, "new release today"))
}

func TestPassesFilters_RequireKeywords(t *testing.T) {
	settings := store.DefaultRuleSettings()
	settings.Filters.RequireKeywords = []string{"patch", "hotfix"}

	assert.True(t, PassesFilters(settings, "hotfix shipped"))
	assert.False(t, PassesFilters(settings, "nothing relevant"))
}

func TestPassesFilters_WholeWordOnly(t *testing.T) {
	settings := store.DefaultRuleSettings()
	settings.Filters.BlockKeywords = []string{"spam"}
	settings.AdvancedOptions.WholeWordOnly = true

	assert.False(t, PassesFilters(settings, "this is spam content"))
	assert.True(t, PassesFilters(settings, "the spammer strikes again"),
		"whole-word matching must not match inside a larger token")
}

func TestPassesFilters_CaseSensitivity(t *testing.T) {
	settings := store.DefaultRuleSettings()
	settings.Filters.BlockKeywords = []string{"Secret"}

	assert.False(t, PassesFilters(settings, "a SECRET note"), "case-insensitive by default")

	settings.AdvancedOptions.CaseSensitive = true
	assert.True(t, PassesFilters(settings, "a SECRET note"))
	assert.False(t, PassesFilters(settings, "a Secret note"))
}

func TestPassesFilters_Length(t *testing.T) {
	settings := store.DefaultRuleSettings()
	settings.Filters.MinLength = 5
	settings.Filters.MaxLength = 10

	assert.False(t, PassesFilters(settings, "hey"))
	assert.True(t, PassesFilters(settings, "hello!"))
	assert.False(t, PassesFilters(settings, "this one is far too long"))
}

func TestPassesFilters_LengthIgnoresCaseFolding(t *testing.T) {
	settings := store.DefaultRuleSettings()
	settings.Filters.MinLength = 4

	// Length is always checked against the raw content.
	assert.True(t, PassesFilters(settings, "ABCD"))
}
