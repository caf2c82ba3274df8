package forward

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/Empire-of-Shadows/Stygian-Relay-sub000/internal/store"
)

const (
	maxContentLength = 2000
	maxEmbedDesc     = 4096
	maxEmbeds        = 10
)

// accentPalette is cycled through by author to give forwarded embeds
// a stable per-user color when no explicit color is configured.
var accentPalette = []int{0x5865F2, 0x57F287, 0xFEE75C, 0xEB459E, 0xED4245, 0x3BA55C, 0xFAA61A}

// Outgoing is a formatter's result, ready to be handed to the sender.
type Outgoing struct {
	Content    string
	Embeds     []*discordgo.MessageEmbed
	Components []discordgo.MessageComponent
	Files      []*discordgo.File
	Flags      discordgo.MessageFlags
	Reference  *discordgo.MessageReference
}

// AttachmentFetcher retrieves attachment bytes for re-upload.
type AttachmentFetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPFetcher fetches attachments over plain HTTP.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: 30 * time.Second}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attachment: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("attachment fetch returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Formatter renders a source message for delivery under one style.
type Formatter interface {
	Format(ctx context.Context, msg *discordgo.Message, cfg store.RuleFormatting, fetch AttachmentFetcher) (*Outgoing, error)
}

// Registry maps forward styles to their formatters. Unknown styles
// resolve to the component_v2 default.
type Registry struct {
	formatters map[store.ForwardStyle]Formatter
}

func NewRegistry() *Registry {
	return &Registry{formatters: map[store.ForwardStyle]Formatter{
		store.StyleText:        textFormatter{},
		store.StyleEmbed:       embedFormatter{},
		store.StyleComponentV2: componentV2Formatter{},
		store.StyleNative:      nativeFormatter{},
	}}
}

func (r *Registry) Lookup(style store.ForwardStyle) Formatter {
	if f, ok := r.formatters[style]; ok {
		return f
	}
	return r.formatters[store.StyleComponentV2]
}

// expandTemplate substitutes the supported placeholder variables in
// prefix and suffix text.
func expandTemplate(s string, msg *discordgo.Message) string {
	if s == "" || !strings.Contains(s, "{") {
		return s
	}
	author := ""
	if msg.Author != nil {
		author = msg.Author.Username
	}
	replacer := strings.NewReplacer(
		"{author}", author,
		"{channel}", "<#"+msg.ChannelID+">",
		"{message_id}", msg.ID,
	)
	return replacer.Replace(s)
}

// fetchFiles re-downloads each attachment for re-upload. Failures
// become user-visible notes instead of aborting the forward.
func fetchFiles(ctx context.Context, fetch AttachmentFetcher, attachments []*discordgo.MessageAttachment) ([]*discordgo.File, []string) {
	var files []*discordgo.File
	var failed []string
	for _, att := range attachments {
		body, err := fetch.Fetch(ctx, att.URL)
		if err != nil {
			failed = append(failed, fmt.Sprintf("(failed to forward: %s)", att.Filename))
			continue
		}
		files = append(files, &discordgo.File{
			Name:        att.Filename,
			ContentType: att.ContentType,
			Reader:      body,
		})
	}
	return files, failed
}

// cloneEmbeds copies the forwardable original embeds, dropping empty
// ones and anything past the cap.
func cloneEmbeds(embeds []*discordgo.MessageEmbed, limit int) []*discordgo.MessageEmbed {
	var out []*discordgo.MessageEmbed
	for _, e := range embeds {
		if e == nil || (e.Title == "" && e.Description == "" && e.URL == "" && e.Image == nil && len(e.Fields) == 0) {
			continue
		}
		clone := *e
		if len(clone.Description) > maxEmbedDesc {
			clone.Description = truncate(clone.Description, maxEmbedDesc)
		}
		out = append(out, &clone)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// truncate caps s at n bytes, ending on a rune boundary with room for
// the ellipsis so the result never exceeds n.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	const ellipsis = "…"
	if n < len(ellipsis) {
		return ""
	}
	cut := n - len(ellipsis)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}

func accentColor(msg *discordgo.Message, cfg store.RuleFormatting) int {
	if cfg.EmbedColor != 0 {
		return cfg.EmbedColor
	}
	if msg.Author == nil {
		return accentPalette[0]
	}
	h := fnv.New32a()
	h.Write([]byte(msg.Author.ID))
	return accentPalette[h.Sum32()%uint32(len(accentPalette))]
}

func jumpLink(msg *discordgo.Message) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", msg.GuildID, msg.ChannelID, msg.ID)
}

// textFormatter joins prefix, author line, content and suffix with
// newlines.
type textFormatter struct{}

func (textFormatter) Format(ctx context.Context, msg *discordgo.Message, cfg store.RuleFormatting, fetch AttachmentFetcher) (*Outgoing, error) {
	var parts []string
	if cfg.AddPrefix != "" {
		parts = append(parts, expandTemplate(cfg.AddPrefix, msg))
	}
	if cfg.IncludeAuthor && msg.Author != nil {
		parts = append(parts, fmt.Sprintf("From @%s:", msg.Author.Username))
	}
	if msg.Content != "" {
		parts = append(parts, msg.Content)
	}
	if cfg.AddSuffix != "" {
		parts = append(parts, expandTemplate(cfg.AddSuffix, msg))
	}

	out := &Outgoing{Content: truncate(strings.Join(parts, "\n"), maxContentLength)}
	if cfg.ForwardEmbeds {
		out.Embeds = cloneEmbeds(msg.Embeds, maxEmbeds)
	}
	if cfg.ForwardAttachments && len(msg.Attachments) > 0 {
		files, failed := fetchFiles(ctx, fetch, msg.Attachments)
		out.Files = files
		if len(failed) > 0 {
			out.Content = truncate(out.Content+"\n"+strings.Join(failed, "\n"), maxContentLength)
		}
	}
	return out, nil
}

// embedFormatter wraps the message in a single rich embed.
type embedFormatter struct{}

func (embedFormatter) Format(ctx context.Context, msg *discordgo.Message, cfg store.RuleFormatting, fetch AttachmentFetcher) (*Outgoing, error) {
	wrapper := &discordgo.MessageEmbed{
		Description: truncate(msg.Content, maxEmbedDesc),
		Color:       accentColor(msg, cfg),
		Timestamp:   msg.Timestamp.Format(time.RFC3339),
	}
	if cfg.AddPrefix != "" {
		wrapper.Title = expandTemplate(cfg.AddPrefix, msg)
	}
	if cfg.AddSuffix != "" {
		wrapper.Footer = &discordgo.MessageEmbedFooter{Text: expandTemplate(cfg.AddSuffix, msg)}
	}
	if cfg.IncludeAuthor && msg.Author != nil {
		wrapper.Author = &discordgo.MessageEmbedAuthor{
			Name:    msg.Author.Username,
			IconURL: msg.Author.AvatarURL(""),
			URL:     jumpLink(msg),
		}
	}
	for _, att := range msg.Attachments {
		if strings.HasPrefix(att.ContentType, "image/") {
			wrapper.Image = &discordgo.MessageEmbedImage{URL: "attachment://" + att.Filename}
			break
		}
	}

	out := &Outgoing{Embeds: []*discordgo.MessageEmbed{wrapper}}
	if cfg.ForwardEmbeds {
		out.Embeds = append(out.Embeds, cloneEmbeds(msg.Embeds, maxEmbeds-1)...)
	}
	if cfg.ForwardAttachments && len(msg.Attachments) > 0 {
		files, failed := fetchFiles(ctx, fetch, msg.Attachments)
		out.Files = files
		if len(failed) > 0 {
			out.Content = strings.Join(failed, "\n")
		}
	}
	return out, nil
}

// componentV2Formatter builds a structured layout block with a media
// gallery for image and video attachments.
type componentV2Formatter struct{}

func (componentV2Formatter) Format(ctx context.Context, msg *discordgo.Message, cfg store.RuleFormatting, fetch AttachmentFetcher) (*Outgoing, error) {
	var inner []discordgo.MessageComponent

	if cfg.AddPrefix != "" {
		inner = append(inner, discordgo.TextDisplay{Content: expandTemplate(cfg.AddPrefix, msg)})
	}
	if cfg.IncludeAuthor && msg.Author != nil {
		inner = append(inner, discordgo.Section{
			Components: []discordgo.MessageComponent{
				discordgo.TextDisplay{Content: fmt.Sprintf("**@%s** · [jump to original](%s)", msg.Author.Username, jumpLink(msg))},
			},
			Accessory: discordgo.Thumbnail{
				Media: discordgo.UnfurledMediaItem{URL: msg.Author.AvatarURL("")},
			},
		})
	}
	if msg.Content != "" {
		inner = append(inner, discordgo.TextDisplay{Content: truncate(msg.Content, maxContentLength)})
	}
	if cfg.AddSuffix != "" {
		inner = append(inner, discordgo.TextDisplay{Content: expandTemplate(cfg.AddSuffix, msg)})
	}

	var galleryItems []discordgo.MediaGalleryItem
	var fileNames []string
	if cfg.ForwardAttachments {
		for _, att := range msg.Attachments {
			if isMedia(att) {
				galleryItems = append(galleryItems, discordgo.MediaGalleryItem{
					Media: discordgo.UnfurledMediaItem{URL: att.URL},
				})
			} else {
				fileNames = append(fileNames, att.Filename)
			}
		}
	}
	if len(galleryItems) > 0 {
		inner = append(inner, discordgo.MediaGallery{Items: galleryItems})
	}
	if len(fileNames) > 0 {
		inner = append(inner, discordgo.TextDisplay{Content: "📎 " + strings.Join(fileNames, ", ")})
	}

	out := &Outgoing{
		Flags: discordgo.MessageFlagsIsComponentsV2,
		Components: []discordgo.MessageComponent{
			discordgo.Container{
				AccentColor: intPtr(accentColor(msg, cfg)),
				Components:  inner,
			},
		},
	}
	if cfg.ForwardAttachments && len(fileNames) > 0 {
		// Non-media attachments still need re-upload; the gallery only
		// carries images and videos by URL.
		var reupload []*discordgo.MessageAttachment
		for _, att := range msg.Attachments {
			if !isMedia(att) {
				reupload = append(reupload, att)
			}
		}
		files, failed := fetchFiles(ctx, fetch, reupload)
		out.Files = files
		if len(failed) > 0 {
			out.Components = append(out.Components, discordgo.TextDisplay{Content: strings.Join(failed, "\n")})
		}
	}
	return out, nil
}

// nativeFormatter uses the platform's own message-forward reference;
// no re-rendering happens at all.
type nativeFormatter struct{}

func (nativeFormatter) Format(_ context.Context, msg *discordgo.Message, _ store.RuleFormatting, _ AttachmentFetcher) (*Outgoing, error) {
	return &Outgoing{
		Reference: &discordgo.MessageReference{
			Type:      discordgo.MessageReferenceTypeForward,
			MessageID: msg.ID,
			ChannelID: msg.ChannelID,
			GuildID:   msg.GuildID,
		},
	}, nil
}

func intPtr(v int) *int { return &v }
