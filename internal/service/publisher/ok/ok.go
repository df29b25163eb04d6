// Package ok posts group topics through the Odnoklassniki form API. Every
// call carries a deterministic MD5 signature over its sorted parameters; the
// photo flow adds three upload sub-steps before the main post call.
package ok

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/avbelov/fanout/internal/service/publisher"
)

type Publisher struct {
	logger      *zap.Logger
	client      *http.Client
	apiBase     string
	accessToken string
	publicKey   string
	appSecret   string
	groupID     string
}

func FromSettings(s publisher.Settings, logger *zap.Logger) (publisher.Publisher, bool) {
	if !s.Has(publisher.KeyOKAccessToken, publisher.KeyOKPublicKey,
		publisher.KeyOKAppSecret, publisher.KeyOKGroupID) {
		return nil, false
	}
	return New(
		s.Get(publisher.KeyOKAccessToken),
		s.Get(publisher.KeyOKPublicKey),
		s.Get(publisher.KeyOKAppSecret),
		s.Get(publisher.KeyOKGroupID),
		logger,
	), true
}

func New(accessToken, publicKey, appSecret, groupID string, logger *zap.Logger) *Publisher {
	return &Publisher{
		logger:      logger,
		client:      publisher.NewHTTPClient(60*time.Second, ""),
		apiBase:     "https://api.ok.ru",
		accessToken: accessToken,
		publicKey:   publicKey,
		appSecret:   appSecret,
		groupID:     groupID,
	}
}

func (p *Publisher) PlatformName() string {
	return "ok"
}

func md5hex(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}

// sign computes MD5(sorted key=value concatenation + session secret), where
// the session secret is MD5(access_token + app_secret).
func (p *Publisher) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&b, "%s=%s", key, params[key])
	}
	b.WriteString(md5hex(p.accessToken + p.appSecret))
	return md5hex(b.String())
}

func (p *Publisher) Publish(ctx context.Context, pc publisher.PublishContext) *publisher.PublishResult {
	var photoToken string
	if pc.ImageRef != "" {
		token, err := p.uploadPhoto(ctx, pc.ImageRef)
		if err != nil {
			// Degraded success: continue with a text-only topic.
			p.logger.Warn("OK photo upload failed, proceeding with text only",
				zap.String("content_id", pc.ContentID),
				zap.Error(err))
		} else {
			photoToken = token
		}
	}

	message := publisher.StripHTML(pc.Text)
	if message == "" {
		message = pc.Title
	}
	if pc.Title != "" && !strings.Contains(message, pc.Title) {
		message = fmt.Sprintf("%s\n\n%s", pc.Title, message)
	}

	media := []map[string]any{
		{"type": "text", "text": message},
	}
	if photoToken != "" {
		media = append(media, map[string]any{
			"type": "photo",
			"list": []map[string]string{{"id": photoToken}},
		})
	}
	attachment, err := json.Marshal(map[string]any{"media": media})
	if err != nil {
		return publisher.Failure("failed to encode attachment: %v", err)
	}

	body, err := p.call(ctx, map[string]string{
		"application_key": p.publicKey,
		"attachment":      string(attachment),
		"format":          "json",
		"gid":             p.groupID,
		"method":          "mediatopic.post",
		"type":            "GROUP_THEME",
	})
	if err != nil {
		return publisher.Failure("%v", err)
	}

	// mediatopic.post answers with the bare topic id, sometimes quoted.
	topicID := strings.Trim(strings.TrimSpace(string(body)), `"`)

	return &publisher.PublishResult{
		Success:      true,
		ExternalID:   topicID,
		PublishedURL: fmt.Sprintf("https://ok.ru/group/%s/topic/%s", p.groupID, topicID),
	}
}

func (p *Publisher) uploadPhoto(ctx context.Context, imageURL string) (string, error) {
	// Step 1: ask for an upload URL.
	body, err := p.call(ctx, map[string]string{
		"application_key": p.publicKey,
		"count":           "1",
		"format":          "json",
		"gid":             p.groupID,
		"method":          "photosV2.getUploadUrl",
	})
	if err != nil {
		return "", err
	}

	var server struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.Unmarshal(body, &server); err != nil || server.UploadURL == "" {
		return "", fmt.Errorf("failed to get OK upload URL: %s", string(body))
	}

	// Step 2: re-upload the image bytes.
	data, _, err := publisher.DownloadImage(ctx, p.client, imageURL)
	if err != nil {
		return "", err
	}

	form := &bytes.Buffer{}
	writer := multipart.NewWriter(form)
	part, err := writer.CreateFormFile("photo", "image.jpg")
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server.UploadURL, form)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send upload request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}

	// Step 3: extract the photo token from {photos: {<id>: {token}}}.
	var upload struct {
		Photos map[string]struct {
			Token string `json:"token"`
		} `json:"photos"`
	}
	if err := json.Unmarshal(raw, &upload); err != nil || len(upload.Photos) == 0 {
		return "", fmt.Errorf("OK upload failed: %s", string(raw))
	}
	for _, photo := range upload.Photos {
		if photo.Token != "" {
			return photo.Token, nil
		}
	}
	return "", fmt.Errorf("no photo token returned from OK")
}

// call issues a signed fb.do request and returns the raw body after checking
// for a structured API error.
func (p *Publisher) call(ctx context.Context, params map[string]string) ([]byte, error) {
	query := url.Values{}
	for key, val := range params {
		query.Set(key, val)
	}
	query.Set("sig", p.sign(params))
	query.Set("access_token", p.accessToken)

	endpoint := fmt.Sprintf("%s/fb.do?%s", p.apiBase, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var apiErr struct {
		ErrorCode int    `json:"error_code"`
		ErrorMsg  string `json:"error_msg"`
	}
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.ErrorCode != 0 {
		return nil, fmt.Errorf("OK API error: %s (code %d)", apiErr.ErrorMsg, apiErr.ErrorCode)
	}

	return raw, nil
}
