package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/avbelov/fanout/internal/models"
	"github.com/avbelov/fanout/internal/service/publisher"
)

const linkPlaceholder = "[LINK]"

// Resolved is the per-platform publish payload the resolver assembles from a
// content item.
type Resolved struct {
	Title     string
	Text      string
	ImageRef  string
	SourceURL string
}

// Resolver picks the text variant, image reference and link handling for one
// platform. It owns the one piece of network the pipeline does before an
// adapter runs: turning a bot file_id into a direct URL for non-Telegram
// targets.
type Resolver struct {
	logger    *zap.Logger
	client    *http.Client
	tgAPIBase string
}

func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{
		logger:    logger,
		client:    publisher.NewHTTPClient(30*time.Second, ""),
		tgAPIBase: "https://api.telegram.org",
	}
}

// Resolve builds the publish payload. override is the job's social_content,
// which beats every stored variant when present.
func (r *Resolver) Resolve(ctx context.Context, item models.Content, platform models.Platform, override string, settings publisher.Settings) Resolved {
	text := strings.TrimSpace(override)
	if text == "" {
		for _, candidate := range []string{
			item.Announces()[platform],
			item.BaseAnnounce(),
			item.LongForm(),
			item.RawSummary(),
		} {
			if strings.TrimSpace(candidate) != "" {
				text = strings.TrimSpace(candidate)
				break
			}
		}
	}

	text = r.applyLink(text, item.CanonicalURL(), settings)

	return Resolved{
		Title:     item.DisplayTitle(),
		Text:      text,
		ImageRef:  r.resolveImage(ctx, item, platform, settings),
		SourceURL: item.CanonicalURL(),
	}
}

// resolveImage walks the image priority chain: durable hosted draft image,
// then the bot file_id, then the item's own image, then nothing.
func (r *Resolver) resolveImage(ctx context.Context, item models.Content, platform models.Platform, settings publisher.Settings) string {
	draft := item.StableImageURL()
	if isStableURL(draft) {
		return draft
	}

	if fileID := item.ImageFileID(); fileID != "" {
		// Telegram accepts its own file_id directly.
		if platform == models.PlatformTelegram {
			return fileID
		}
		direct, err := r.fileURL(ctx, fileID, settings.Get(publisher.KeyTelegramBotToken))
		if err == nil {
			return direct
		}
		r.logger.Warn("Failed to resolve image file_id, falling back",
			zap.String("content_id", item.ContentID()),
			zap.Error(err))
	}

	// An expiring draft url still beats the source image when the file_id
	// path cannot produce a durable link.
	if strings.HasPrefix(draft, "http://") || strings.HasPrefix(draft, "https://") {
		return draft
	}
	return item.FallbackImageURL()
}

// isStableURL accepts only hosted http(s) URLs that will outlive a bot
// session. telegram.org file links expire, so they never count as stable.
func isStableURL(raw string) bool {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host != "telegram.org" && !strings.HasSuffix(host, ".telegram.org")
}

// fileURL exchanges a bot file_id for a direct download URL via getFile.
func (r *Resolver) fileURL(ctx context.Context, fileID, botToken string) (string, error) {
	if botToken == "" {
		return "", fmt.Errorf("telegram bot token is not configured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/getFile?file_id=%s", r.tgAPIBase, botToken, url.QueryEscape(fileID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call getFile: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read getFile response: %w", err)
	}

	var parsed struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
		Result      struct {
			FilePath string `json:"file_path"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse getFile response: %w", err)
	}
	if !parsed.OK || parsed.Result.FilePath == "" {
		return "", fmt.Errorf("getFile rejected: %s", parsed.Description)
	}

	return fmt.Sprintf("%s/file/bot%s/%s", r.tgAPIBase, botToken, parsed.Result.FilePath), nil
}

// applyLink wires the canonical published url into the text: an explicit
// [LINK] placeholder always wins; otherwise smart_link_mode decides whether
// the url is appended.
func (r *Resolver) applyLink(text, link string, settings publisher.Settings) string {
	if strings.Contains(text, linkPlaceholder) {
		return strings.TrimSpace(strings.ReplaceAll(text, linkPlaceholder, link))
	}
	if link == "" {
		return text
	}

	mode := settings.Get(publisher.KeySmartLinkMode)
	switch mode {
	case "off":
		return text
	case "always":
		return text + "\n\n" + link
	default: // auto
		if endsWithColon(publisher.StripHTML(text)) {
			return text + "\n" + link
		}
		return text
	}
}

// endsWithColon reports whether the text's last meaningful character is a
// colon, skipping trailing whitespace and emoji. "Читайте в обзоре: 👇" is a
// lead-in waiting for its link. Callers strip markup first so a closing tag
// does not hide the colon.
func endsWithColon(text string) bool {
	runes := []rune(strings.TrimSpace(text))
	for i := len(runes) - 1; i >= 0; i-- {
		r := runes[i]
		if r == ':' {
			return true
		}
		if unicode.IsSpace(r) || isEmoji(r) {
			continue
		}
		return false
	}
	return false
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF: // pictographs, emoticons, symbols
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r == 0xFE0F || r == 0x200D: // variation selector, ZWJ
		return true
	case r >= 0x2190 && r <= 0x21FF: // arrows
		return true
	}
	return false
}
