// Package telegram publishes through the Bot API: photo with caption first,
// text-only fallback when the photo call is rejected.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/avbelov/fanout/internal/service/publisher"
)

const (
	captionLimit = 1024
	messageLimit = 4096
)

type Publisher struct {
	logger   *zap.Logger
	client   *http.Client
	apiBase  string
	botToken string
	chatID   string
}

// FromSettings gates construction on the bot token. The channel id may also
// arrive per-publish via settings, so it is not required here.
func FromSettings(s publisher.Settings, logger *zap.Logger) (publisher.Publisher, bool) {
	token := s.Get(publisher.KeyTelegramBotToken)
	if token == "" {
		return nil, false
	}
	return New(token, s.Get(publisher.KeyTelegramChannelID), logger), true
}

func New(botToken, chatID string, logger *zap.Logger) *Publisher {
	return &Publisher{
		logger:   logger,
		client:   publisher.NewHTTPClient(30*time.Second, ""),
		apiBase:  "https://api.telegram.org",
		botToken: botToken,
		chatID:   chatID,
	}
}

func (p *Publisher) PlatformName() string {
	return "tg"
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (p *Publisher) Publish(ctx context.Context, pc publisher.PublishContext) *publisher.PublishResult {
	chatID := p.chatID
	if chatID == "" {
		chatID = pc.Settings.Get(publisher.KeyTelegramChannelID)
	}
	if chatID == "" {
		return publisher.Failure("telegram chat id is missing")
	}

	body := fmt.Sprintf("<b>%s</b>\n\n%s", pc.Title, pc.Text)

	// Photo with caption first. The announce is assumed to fit the caption
	// cap; when the provider rejects the call we fall back to text.
	if pc.ImageRef != "" {
		resp, err := p.call(ctx, "sendPhoto", map[string]any{
			"chat_id":    chatID,
			"photo":      pc.ImageRef,
			"caption":    publisher.Clip(body, captionLimit),
			"parse_mode": "HTML",
		})
		if err == nil && resp.OK {
			return &publisher.PublishResult{
				Success:    true,
				ExternalID: fmt.Sprintf("%d", resp.Result.MessageID),
				Raw:        map[string]string{"mode": "photo"},
			}
		}
		p.logger.Warn("Telegram photo send failed, retrying text only",
			zap.String("content_id", pc.ContentID),
			zap.Error(err),
			zap.String("description", respDescription(resp)))
	}

	resp, err := p.call(ctx, "sendMessage", map[string]any{
		"chat_id":    chatID,
		"text":       publisher.Clip(body, messageLimit),
		"parse_mode": "HTML",
	})
	if err != nil {
		return publisher.Failure("telegram request failed: %v", err)
	}
	if !resp.OK {
		if resp.Description == "" {
			return publisher.Failure("telegram API error")
		}
		return publisher.Failure("%s", resp.Description)
	}

	return &publisher.PublishResult{
		Success:    true,
		ExternalID: fmt.Sprintf("%d", resp.Result.MessageID),
		Raw:        map[string]string{"mode": "text"},
	}
}

func (p *Publisher) call(ctx context.Context, method string, payload map[string]any) (*apiResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", p.apiBase, p.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

func respDescription(resp *apiResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Description
}
