// Package threads publishes through the two-phase container/publish Graph
// flow. An image-mode failure is retried once in text-only mode; the image
// path failing alone never fails the publish.
package threads

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

type mediaType string

const (
	mediaText  mediaType = "TEXT"
	mediaImage mediaType = "IMAGE"
)

type Publisher struct {
	logger      *zap.Logger
	client      *http.Client
	graphBase   string
	accessToken string
	userID      string

	// Containers need time to settle before they can be published; images
	// take noticeably longer than text.
	textSettle  time.Duration
	imageSettle time.Duration
}

// FromSettings gates on the access token only; the user id can be resolved
// through the /me endpoint at publish time. Graph calls share the Meta proxy
// with the facebook adapter when one is configured.
func FromSettings(s publisher.Settings, logger *zap.Logger) (publisher.Publisher, bool) {
	token := s.Get(publisher.KeyThreadsAccessToken)
	if token == "" {
		return nil, false
	}
	proxyURL := s.Get(publisher.KeyMetaProxyURL)
	if proxyURL == "" {
		proxyURL = s.Get(publisher.KeyTwitterProxyURL)
	}
	return New(token, s.Get(publisher.KeyThreadsUserID), proxyURL, logger), true
}

func New(accessToken, userID, proxyURL string, logger *zap.Logger) *Publisher {
	return &Publisher{
		logger:      logger,
		client:      publisher.NewHTTPClient(30*time.Second, proxyURL),
		graphBase:   "https://graph.threads.net/v1.0",
		accessToken: accessToken,
		userID:      userID,
		textSettle:  time.Second,
		imageSettle: 6 * time.Second,
	}
}

func (p *Publisher) PlatformName() string {
	return "threads"
}

func (p *Publisher) Publish(ctx context.Context, pc publisher.PublishContext) *publisher.PublishResult {
	userID := p.userID
	if userID == "" {
		resolved, err := p.resolveUserID(ctx)
		if err != nil {
			return publisher.Failure("threads user id resolution failed: %v", err)
		}
		userID = resolved
	}

	text := publisher.StripHTML(pc.Text)

	if pc.ImageRef != "" {
		result, err := p.publishContainer(ctx, userID, mediaImage, text, pc.ImageRef)
		if err == nil {
			return result
		}
		p.logger.Warn("Threads image publication failed, falling back to text mode",
			zap.String("content_id", pc.ContentID),
			zap.Error(err))
	}

	result, err := p.publishContainer(ctx, userID, mediaText, text, "")
	if err != nil {
		return publisher.Failure("threads error: %v", err)
	}
	return result
}

func (p *Publisher) publishContainer(ctx context.Context, userID string, mode mediaType, text, imageURL string) (*publisher.PublishResult, error) {
	payload := map[string]any{
		"media_type":   string(mode),
		"text":         text,
		"access_token": p.accessToken,
	}
	if mode == mediaImage {
		payload["image_url"] = imageURL
	}

	container, err := p.post(ctx, fmt.Sprintf("%s/%s/threads", p.graphBase, userID), payload)
	if err != nil {
		return nil, err
	}
	if container.ID == "" {
		return nil, fmt.Errorf("container creation failed: %s", container.errMessage())
	}

	settle := p.textSettle
	if mode == mediaImage {
		settle = p.imageSettle
	}
	select {
	case <-time.After(settle):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	published, err := p.post(ctx, fmt.Sprintf("%s/%s/threads_publish", p.graphBase, userID), map[string]any{
		"creation_id":  container.ID,
		"access_token": p.accessToken,
	})
	if err != nil {
		return nil, err
	}
	if published.ID == "" {
		return nil, fmt.Errorf("publication failed: %s", published.errMessage())
	}

	return &publisher.PublishResult{
		Success:      true,
		ExternalID:   published.ID,
		PublishedURL: fmt.Sprintf("https://www.threads.net/t/%s", published.ID),
		Raw:          map[string]string{"mode": string(mode)},
	}, nil
}

type graphResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *graphResponse) errMessage() string {
	if g.Error != nil && g.Error.Message != "" {
		return g.Error.Message
	}
	return "unknown error"
}

func (p *Publisher) resolveUserID(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/me?fields=id&access_token=%s", p.graphBase, p.accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var me graphResponse
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if me.ID == "" {
		return "", fmt.Errorf("%s", me.errMessage())
	}
	return me.ID, nil
}

func (p *Publisher) post(ctx context.Context, url string, payload map[string]any) (*graphResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed graphResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &parsed, nil
}
