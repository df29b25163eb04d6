// Package facebook posts to a page through the Graph API. A text post goes
// to /feed; when an image is attached the call switches to /photos with the
// text in the caption field.
package facebook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/avbelov/fanout/internal/service/publisher"
)

const graphVersion = "v21.0"

type Publisher struct {
	logger      *zap.Logger
	client      *http.Client
	graphBase   string
	accessToken string
	pageID      string
}

func FromSettings(s publisher.Settings, logger *zap.Logger) (publisher.Publisher, bool) {
	if !s.Has(publisher.KeyFBAccessToken, publisher.KeyFBPageID) {
		return nil, false
	}
	proxyURL := s.Get(publisher.KeyMetaProxyURL)
	if proxyURL == "" {
		proxyURL = s.Get(publisher.KeyTwitterProxyURL)
	}
	return New(s.Get(publisher.KeyFBAccessToken), s.Get(publisher.KeyFBPageID), proxyURL, logger), true
}

func New(accessToken, pageID, proxyURL string, logger *zap.Logger) *Publisher {
	return &Publisher{
		logger:      logger,
		client:      publisher.NewHTTPClient(40*time.Second, proxyURL),
		graphBase:   "https://graph.facebook.com",
		accessToken: accessToken,
		pageID:      pageID,
	}
}

func (p *Publisher) PlatformName() string {
	return "fb"
}

func (p *Publisher) Publish(ctx context.Context, pc publisher.PublishContext) *publisher.PublishResult {
	message := publisher.StripHTML(pc.Text)
	if message == "" {
		message = pc.Title
	}
	if pc.Title != "" && !strings.Contains(message, pc.Title) {
		message = fmt.Sprintf("%s\n\n%s", pc.Title, message)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/feed", p.graphBase, graphVersion, p.pageID)
	params := map[string]any{
		"message":      message,
		"access_token": p.accessToken,
	}
	if pc.ImageRef != "" {
		endpoint = fmt.Sprintf("%s/%s/%s/photos", p.graphBase, graphVersion, p.pageID)
		params = map[string]any{
			"url":          pc.ImageRef,
			"caption":      message,
			"access_token": p.accessToken,
		}
	}

	data, err := json.Marshal(params)
	if err != nil {
		return publisher.Failure("failed to marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return publisher.Failure("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return publisher.Failure("facebook request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return publisher.Failure("failed to read response: %v", err)
	}

	var graph struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &graph); err != nil {
		return publisher.Failure("failed to parse response: %v", err)
	}
	if graph.Error != nil {
		return publisher.Failure("Facebook API error: %s", graph.Error.Message)
	}

	postID := graph.ID
	if graph.PostID != "" {
		postID = graph.PostID
	}
	if postID == "" {
		return publisher.Failure("Facebook API returned no post id")
	}

	return &publisher.PublishResult{
		Success:      true,
		ExternalID:   postID,
		PublishedURL: fmt.Sprintf("https://facebook.com/%s", postID),
	}
}
