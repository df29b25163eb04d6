// Package tilda publishes site posts through the feeds.tilda.ru session
// workflow: scrape the session keys, upload the image to the CDN, create a
// draft, fill its content blocks, activate it and read back the public slug.
// Any failed phase aborts the publish so no partial post is left live.
package tilda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/avbelov/fanout/internal/service/publisher"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36"

var (
	publicKeyRe = regexp.MustCompile(`(?i)publickey\s*[:=]\s*["']([^"']+)["']`)
	uploadKeyRe = regexp.MustCompile(`(?i)uploadkey\s*[:=]\s*["']([^"']+)["']`)
	paragraphRe = regexp.MustCompile(`\n\s*\n`)
)

type sessionKeys struct {
	publicKey string
	uploadKey string
}

type Publisher struct {
	logger     *zap.Logger
	client     *http.Client
	feedsBase  string
	uploadBase string
	cookies    string
	projectID  string
	feedUID    string
	siteURL    string
}

func FromSettings(s publisher.Settings, logger *zap.Logger) (publisher.Publisher, bool) {
	if !s.Has(publisher.KeyTildaCookies, publisher.KeyTildaProjectID, publisher.KeyTildaFeedUID) {
		return nil, false
	}
	return New(
		s.Get(publisher.KeyTildaCookies),
		s.Get(publisher.KeyTildaProjectID),
		s.Get(publisher.KeyTildaFeedUID),
		s.Get(publisher.KeyTildaSiteURL),
		logger,
	), true
}

func New(cookies, projectID, feedUID, siteURL string, logger *zap.Logger) *Publisher {
	// A bare session value is shorthand for the PHPSESSID cookie.
	if cookies != "" && !strings.Contains(cookies, ";") && !strings.Contains(cookies, "=") {
		cookies = "PHPSESSID=" + cookies
	}

	client := publisher.NewHTTPClient(60*time.Second, "")
	// A redirect from the feeds page means the session is gone; surface it
	// instead of following to the login page.
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Publisher{
		logger:     logger,
		client:     client,
		feedsBase:  "https://feeds.tilda.ru",
		uploadBase: "https://upload.tildacdn.com",
		cookies:    cookies,
		projectID:  projectID,
		feedUID:    feedUID,
		siteURL:    strings.TrimRight(siteURL, "/"),
	}
}

func (p *Publisher) PlatformName() string {
	return "site"
}

func (p *Publisher) Publish(ctx context.Context, pc publisher.PublishContext) *publisher.PublishResult {
	keys, err := p.fetchKeys(ctx)
	if err != nil {
		return publisher.Failure("failed to extract Tilda keys (session might be expired): %v", err)
	}

	var imageURL string
	if pc.ImageRef != "" {
		imageURL, err = p.uploadImage(ctx, pc.ImageRef, keys)
		if err != nil {
			// Aborting here keeps Tilda free of half-built drafts.
			return publisher.Failure("image upload failed: %v", err)
		}
	}

	postUID, err := p.createDraft(ctx, pc.Title)
	if err != nil {
		return publisher.Failure("draft creation failed: %v", err)
	}
	p.logger.Info("Tilda draft created",
		zap.String("content_id", pc.ContentID),
		zap.String("postuid", postUID))

	if err := p.editContent(ctx, postUID, pc.Title, pc.Text, imageURL); err != nil {
		return publisher.Failure("content update failed: %v", err)
	}

	if err := p.activate(ctx, postUID); err != nil {
		return publisher.Failure("activation failed: %v", err)
	}

	slug := p.fetchSlug(ctx, postUID)

	result := &publisher.PublishResult{
		Success:    true,
		ExternalID: postUID,
		Raw: map[string]string{
			"postuid": postUID,
			"slug":    slug,
		},
	}
	if imageURL != "" {
		result.Raw["image"] = imageURL
		result.Raw["thumb"] = imageURL
	}
	if p.siteURL != "" {
		result.PublishedURL = fmt.Sprintf("%s/tpost/%s", p.siteURL, slug)
	}
	return result
}

// fetchKeys scrapes publickey/uploadkey out of the feeds page for this
// project and feed.
func (p *Publisher) fetchKeys(ctx context.Context) (*sessionKeys, error) {
	pageURL := fmt.Sprintf("%s/posts/?feeduid=%s&projectid=%s",
		p.feedsBase, strings.TrimSpace(p.feedUID), strings.TrimSpace(p.projectID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.setBrowserHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feeds page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return nil, fmt.Errorf("redirected to %s (status %d), session invalid",
			resp.Header.Get("Location"), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feeds page returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read feeds page: %w", err)
	}
	html := string(raw)

	keys := &sessionKeys{}
	if doc, docErr := goquery.NewDocumentFromReader(strings.NewReader(html)); docErr == nil {
		keys.publicKey, _ = doc.Find(`input[name="publickey"]`).Attr("value")
		keys.uploadKey, _ = doc.Find(`input[name="uploadkey"]`).Attr("value")
	}
	if keys.publicKey == "" {
		if m := publicKeyRe.FindStringSubmatch(html); m != nil {
			keys.publicKey = m[1]
		}
	}
	if keys.uploadKey == "" {
		if m := uploadKeyRe.FindStringSubmatch(html); m != nil {
			keys.uploadKey = m[1]
		}
	}

	if keys.publicKey == "" || keys.uploadKey == "" {
		return nil, fmt.Errorf("keys not present in feeds page response")
	}
	return keys, nil
}

// uploadImage re-uploads the source image to the Tilda CDN and returns the
// hosted URL.
func (p *Publisher) uploadImage(ctx context.Context, sourceURL string, keys *sessionKeys) (string, error) {
	data, _, err := publisher.DownloadImage(ctx, p.client, sourceURL)
	if err != nil {
		return "", err
	}

	form := &bytes.Buffer{}
	writer := multipart.NewWriter(form)
	if err := writer.WriteField("publickey", keys.publicKey); err != nil {
		return "", fmt.Errorf("failed to write form field: %w", err)
	}
	if err := writer.WriteField("uploadkey", keys.uploadKey); err != nil {
		return "", fmt.Errorf("failed to write form field: %w", err)
	}
	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	uploadURL := fmt.Sprintf("%s/api/upload/?publickey=%s&uploadkey=%s",
		p.uploadBase, url.QueryEscape(keys.publicKey), url.QueryEscape(keys.uploadKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, form)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Origin", p.feedsBase)
	req.Header.Set("Referer", p.feedsBase+"/")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send upload request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}

	var parsed struct {
		Result []struct {
			CDNURL string `json:"cdnUrl"`
			URL    string `json:"url"`
			File   string `json:"file"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("non-JSON response from upload: %s", publisher.Clip(string(raw), 100))
	}
	for _, entry := range parsed.Result {
		for _, candidate := range []string{entry.CDNURL, entry.URL, entry.File} {
			if candidate != "" {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("upload succeeded but no URL found in response: %s", publisher.Clip(string(raw), 200))
}

func (p *Publisher) createDraft(ctx context.Context, title string) (string, error) {
	raw, err := p.submit(ctx, [][2]string{
		{"feeduid", p.feedUID},
		{"partuid", ""},
		{"title", title},
		{"action", "posts_Add"},
	})
	if err != nil {
		return "", err
	}

	var parsed struct {
		PostUID string `json:"postuid"`
		UID     string `json:"uid"`
		Error   string `json:"error"`
		Data    struct {
			UID     string `json:"uid"`
			PostUID string `json:"postuid"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("invalid JSON from posts_Add: %s", publisher.Clip(string(raw), 200))
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("%s", parsed.Error)
	}
	for _, uid := range []string{parsed.PostUID, parsed.Data.UID, parsed.UID, parsed.Data.PostUID} {
		if uid != "" {
			return uid, nil
		}
	}
	return "", fmt.Errorf("no post UID returned")
}

// editContent sets the draft body as a JSON block array: the image block
// first, then one text block per paragraph.
func (p *Publisher) editContent(ctx context.Context, postUID, title, text, imageURL string) error {
	var blocks []map[string]string
	if imageURL != "" {
		blocks = append(blocks, map[string]string{"ty": "image", "url": imageURL, "zoomin": "y"})
	}
	for _, paragraph := range paragraphRe.Split(text, -1) {
		clean := strings.TrimSpace(paragraph)
		if clean == "" {
			continue
		}
		blocks = append(blocks, map[string]string{
			"ty": "text",
			"te": strings.ReplaceAll(clean, "\n", "<br>"),
		})
	}

	// Plain encoder so the <br> joins survive instead of <br>.
	var payload bytes.Buffer
	enc := json.NewEncoder(&payload)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(blocks); err != nil {
		return fmt.Errorf("failed to encode content blocks: %w", err)
	}

	fields := [][2]string{
		{"action", "posts_Edit"},
		{"postuid", postUID},
		{"feeduid", p.feedUID},
		{"title", title},
		{"text", strings.TrimSpace(payload.String())},
	}
	if imageURL != "" {
		fields = append(fields,
			[2]string{"mediatype", "image"},
			[2]string{"mediadata", ""},
			[2]string{"image", imageURL},
			[2]string{"thumb", imageURL},
		)
	}

	raw, err := p.submit(ctx, fields)
	if err != nil {
		return err
	}

	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("invalid JSON from posts_Edit: %s", publisher.Clip(string(raw), 200))
	}
	if parsed.Error != "" {
		return fmt.Errorf("%s", parsed.Error)
	}
	return nil
}

func (p *Publisher) activate(ctx context.Context, postUID string) error {
	raw, err := p.submit(ctx, [][2]string{
		{"postuid", postUID},
		{"action", "posts_Active"},
	})
	if err != nil {
		return err
	}

	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != "" {
		return fmt.Errorf("%s", parsed.Error)
	}
	return nil
}

// fetchSlug reads back the canonical slug of the activated post; the post
// UID is the fallback when the read-back cannot be parsed.
func (p *Publisher) fetchSlug(ctx context.Context, postUID string) string {
	raw, err := p.submit(ctx, [][2]string{
		{"postuid", postUID},
		{"action", "posts_Get"},
	})
	if err != nil {
		p.logger.Warn("Tilda posts_Get failed, using post UID as slug", zap.Error(err))
		return postUID
	}

	var parsed struct {
		Post postInfo `json:"post"`
		Data postInfo `json:"data"`
		postInfo
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return postUID
	}
	for _, info := range []postInfo{parsed.Post, parsed.Data, parsed.postInfo} {
		if slug := info.slug(); slug != "" {
			return slug
		}
	}
	return postUID
}

type postInfo struct {
	PostDefaultURL string `json:"postdefaulturl"`
	Slug           string `json:"slug"`
	PostAlias      string `json:"postalias"`
}

func (i postInfo) slug() string {
	for _, candidate := range []string{i.PostDefaultURL, i.Slug, i.PostAlias} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// submit posts an ordered form-urlencoded body to the feeds submit endpoint.
func (p *Publisher) submit(ctx context.Context, fields [][2]string) ([]byte, error) {
	var body strings.Builder
	for i, field := range fields {
		if i > 0 {
			body.WriteByte('&')
		}
		body.WriteString(url.QueryEscape(field[0]))
		body.WriteByte('=')
		body.WriteString(url.QueryEscape(field[1]))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.feedsBase+"/submit/", strings.NewReader(body.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.setBrowserHeaders(req)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Origin", p.feedsBase)
	req.Header.Set("Referer", p.feedsBase+"/")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return raw, nil
}

func (p *Publisher) setBrowserHeaders(req *http.Request) {
	req.Header.Set("Cookie", p.cookies)
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
}
