// Package vk posts to a wall through the VK REST API. Photos go through the
// two-step wall upload flow before the wall.post call; a failed upload
// degrades the publish to text-only.
package vk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/avbelov/fanout/internal/service/publisher"
)

const defaultAPIVersion = "5.199"

type Publisher struct {
	logger      *zap.Logger
	client      *http.Client
	apiBase     string
	accessToken string
	ownerID     int64
	version     string
}

func FromSettings(s publisher.Settings, logger *zap.Logger) (publisher.Publisher, bool) {
	token := s.Get(publisher.KeyVKAccessToken)
	ownerRaw := s.Get(publisher.KeyVKOwnerID)
	if token == "" || ownerRaw == "" {
		return nil, false
	}
	ownerID, err := strconv.ParseInt(ownerRaw, 10, 64)
	if err != nil || ownerID == 0 {
		return nil, false
	}
	return New(token, ownerID, s.Get(publisher.KeyVKAPIVersion), logger), true
}

func New(accessToken string, ownerID int64, version string, logger *zap.Logger) *Publisher {
	if version == "" {
		version = defaultAPIVersion
	}
	return &Publisher{
		logger:      logger,
		client:      publisher.NewHTTPClient(60*time.Second, ""),
		apiBase:     "https://api.vk.com",
		accessToken: accessToken,
		ownerID:     ownerID,
		version:     version,
	}
}

func (p *Publisher) PlatformName() string {
	return "vk"
}

func (p *Publisher) Publish(ctx context.Context, pc publisher.PublishContext) *publisher.PublishResult {
	var attachments []string

	if pc.ImageRef != "" {
		attachment, err := p.uploadPhoto(ctx, pc.ImageRef)
		if err != nil {
			// Degraded success: the text post still goes out.
			p.logger.Warn("VK image upload failed, proceeding with text only",
				zap.String("content_id", pc.ContentID),
				zap.Error(err))
		} else {
			attachments = append(attachments, attachment)
		}
	}

	// VK takes plain text only.
	message := publisher.StripHTML(pc.Text)
	if message == "" {
		message = pc.Title
	}
	if pc.Title != "" && !strings.HasPrefix(message, pc.Title) {
		message = fmt.Sprintf("%s\n\n%s", pc.Title, message)
	}
	if pc.SourceURL != "" && len(attachments) == 0 && strings.Contains(message, pc.SourceURL) {
		// Let VK render a link preview when the post is image-less.
		attachments = append(attachments, pc.SourceURL)
	}

	fromGroup := "0"
	if p.ownerID < 0 {
		fromGroup = "1"
	}
	var wall struct {
		PostID int64 `json:"post_id"`
	}
	err := p.call(ctx, "wall.post", url.Values{
		"owner_id":    {strconv.FormatInt(p.ownerID, 10)},
		"from_group":  {fromGroup},
		"message":     {message},
		"attachments": {strings.Join(attachments, ",")},
	}, &wall)
	if err != nil {
		return publisher.Failure("%v", err)
	}

	return &publisher.PublishResult{
		Success:      true,
		ExternalID:   strconv.FormatInt(wall.PostID, 10),
		PublishedURL: fmt.Sprintf("https://vk.com/wall%d_%d", p.ownerID, wall.PostID),
	}
}

// uploadPhoto runs the wall photo flow: get upload server, re-upload the
// image bytes, save the photo, return the attachment reference.
func (p *Publisher) uploadPhoto(ctx context.Context, imageURL string) (string, error) {
	params := url.Values{}
	if p.ownerID < 0 {
		params.Set("group_id", strconv.FormatInt(-p.ownerID, 10))
	}

	var server struct {
		UploadURL string `json:"upload_url"`
	}
	if err := p.call(ctx, "photos.getWallUploadServer", params, &server); err != nil {
		return "", err
	}
	if server.UploadURL == "" {
		return "", fmt.Errorf("VK returned empty upload URL")
	}

	data, _, err := publisher.DownloadImage(ctx, p.client, imageURL)
	if err != nil {
		return "", err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server.UploadURL, body)
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

	var upload struct {
		Server int64  `json:"server"`
		Photo  string `json:"photo"`
		Hash   string `json:"hash"`
	}
	if err := json.Unmarshal(raw, &upload); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}

	saveParams := url.Values{
		"photo":  {upload.Photo},
		"server": {strconv.FormatInt(upload.Server, 10)},
		"hash":   {upload.Hash},
	}
	if p.ownerID < 0 {
		saveParams.Set("group_id", strconv.FormatInt(-p.ownerID, 10))
	}

	var saved []struct {
		ID      int64 `json:"id"`
		OwnerID int64 `json:"owner_id"`
	}
	if err := p.call(ctx, "photos.saveWallPhoto", saveParams, &saved); err != nil {
		return "", err
	}
	if len(saved) == 0 {
		return "", fmt.Errorf("failed to save photo")
	}

	return fmt.Sprintf("photo%d_%d", saved[0].OwnerID, saved[0].ID), nil
}

func (p *Publisher) call(ctx context.Context, method string, params url.Values, out any) error {
	query := url.Values{}
	for key, vals := range params {
		for _, v := range vals {
			query.Add(key, v)
		}
	}
	query.Set("access_token", p.accessToken)
	query.Set("v", p.version)

	endpoint := fmt.Sprintf("%s/method/%s?%s", p.apiBase, method, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope struct {
		Response json.RawMessage `json:"response"`
		Error    *struct {
			ErrorCode int    `json:"error_code"`
			ErrorMsg  string `json:"error_msg"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("VK API error [%s]: %s (code %d)", method, envelope.Error.ErrorMsg, envelope.Error.ErrorCode)
	}
	if out != nil && len(envelope.Response) > 0 {
		if err := json.Unmarshal(envelope.Response, out); err != nil {
			return fmt.Errorf("failed to parse %s response: %w", method, err)
		}
	}
	return nil
}
