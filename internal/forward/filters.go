package forward

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/store"
)

// PassesTypeGate reports whether at least one of the message's
// content types is enabled on the rule. A message carrying no content
// of any kind passes unconditionally; typeless system-style messages
// are treated permissively.
func PassesTypeGate(types store.MessageTypes, msg *discordgo.Message) bool {
	hasText := msg.Content != ""
	hasEmbeds := len(msg.Embeds) > 0
	hasStickers := len(msg.StickerItems) > 0
	hasMedia, hasFiles := false, false
	for _, att := range msg.Attachments {
		if isMedia(att) {
			hasMedia = true
		} else {
			hasFiles = true
		}
	}

	if !hasText && !hasEmbeds && !hasStickers && !hasMedia && !hasFiles {
		return true
	}

	switch {
	case types.Text && hasText:
		return true
	case types.Links && hasText && strings.Contains(strings.ToLower(msg.Content), "http"):
		return true
	case types.Media && hasMedia:
		return true
	case types.Files && hasFiles:
		return true
	case types.Embeds && hasEmbeds:
		return true
	case types.Stickers && hasStickers:
		return true
	}
	return false
}

// PassesFilters applies keyword and length filters against the raw
// message content. Block keywords win over require keywords.
func PassesFilters(settings store.RuleSettings, content string) bool {
	filters := settings.Filters
	adv := settings.AdvancedOptions

	haystack := content
	if !adv.CaseSensitive {
		haystack = strings.ToLower(haystack)
	}

	for _, kw := range filters.BlockKeywords {
		if kw == "" {
			continue
		}
		if !adv.CaseSensitive {
			kw = strings.ToLower(kw)
		}
		if containsKeyword(haystack, kw, adv.WholeWordOnly) {
			return false
		}
	}

	if len(filters.RequireKeywords) > 0 {
		found := false
		for _, kw := range filters.RequireKeywords {
			if kw == "" {
				continue
			}
			if !adv.CaseSensitive {
				kw = strings.ToLower(kw)
			}
			if containsKeyword(haystack, kw, adv.WholeWordOnly) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if filters.MinLength > 0 && len(content) < filters.MinLength {
		return false
	}
	if filters.MaxLength > 0 && len(content) > filters.MaxLength {
		return false
	}
	return true
}

// containsKeyword matches a keyword as a substring, or as a whole
// whitespace-delimited token when wholeWord is set.
func containsKeyword(haystack, keyword string, wholeWord bool) bool {
	if !wholeWord {
		return strings.Contains(haystack, keyword)
	}
	for _, token := range strings.Fields(haystack) {
		if token == keyword {
			return true
		}
	}
	return false
}

// isMedia classifies image and video attachments; everything else
// counts as a generic file.
func isMedia(att *discordgo.MessageAttachment) bool {
	return strings.HasPrefix(att.ContentType, "image/") ||
		strings.HasPrefix(att.ContentType, "video/")
}
