// Package twitter posts through the x.com web GraphQL API using a captured
// session cookie bundle. Each call carries a transaction id derived from the
// live homepage; provider code 226 (automation detected) is surfaced as a
// distinct error.
package twitter

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/avbelov/fanout/internal/service/publisher"
)

const (
	tweetLimit    = 280
	createTweetID = "z0m4Q8u_67R9VOSMXU_MWg"

	// Public bearer of the x.com web client, required alongside cookie auth.
	webBearer = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36"
)

var ct0Re = regexp.MustCompile(`ct0=([^;]+)`)

type Publisher struct {
	logger    *zap.Logger
	client    *http.Client
	apiBase   string
	homeBase  string
	authToken string
}

func FromSettings(s publisher.Settings, logger *zap.Logger) (publisher.Publisher, bool) {
	token := s.Get(publisher.KeyTwitterAuthToken)
	if token == "" {
		return nil, false
	}
	return New(token, s.Get(publisher.KeyTwitterProxyURL), logger), true
}

func New(authToken, proxyURL string, logger *zap.Logger) *Publisher {
	return &Publisher{
		logger:    logger,
		client:    publisher.NewHTTPClient(45*time.Second, proxyURL),
		apiBase:   "https://x.com",
		homeBase:  "https://x.com",
		authToken: authToken,
	}
}

func (p *Publisher) PlatformName() string {
	return "x"
}

func (p *Publisher) Publish(ctx context.Context, pc publisher.PublishContext) *publisher.PublishResult {
	text := publisher.Ellipsize(publisher.StripHTML(pc.Text), tweetLimit)

	// The auth token is a base64-encoded cookie bundle; ct0 doubles as the
	// csrf token.
	decoded, err := base64.StdEncoding.DecodeString(p.authToken)
	if err != nil {
		return publisher.Failure("twitter error: auth token is not valid base64: %v", err)
	}
	cookie := strings.TrimSpace(string(decoded))
	if !strings.HasSuffix(cookie, ";") {
		cookie += ";"
	}
	var csrf string
	if m := ct0Re.FindStringSubmatch(cookie); m != nil {
		csrf = m[1]
	}

	endpoint := fmt.Sprintf("%s/i/api/graphql/%s/CreateTweet", p.apiBase, createTweetID)

	payload := map[string]any{
		"variables": map[string]any{
			"tweet_text":   text,
			"dark_request": false,
			"media": map[string]any{
				"media_entities":     []any{},
				"possibly_sensitive": false,
			},
			"disallowed_reply_options": nil,
			"semantic_annotation_ids":  []any{},
		},
		"features": map[string]bool{
			"tweetypie_unmention_optimization_enabled":                true,
			"responsive_web_edit_tweet_api_enabled":                   true,
			"graphql_is_translatable_rweb_tweet_is_translatable_enabled": true,
			"view_counts_everywhere_api_enabled":                      true,
			"longform_notetweets_consumption_enabled":                 true,
			"responsive_web_twitter_article_tweet_consumption_enabled": true,
			"tweet_awards_web_tipping_enabled":                        false,
			"responsive_web_home_pinned_timelines_enabled":            true,
			"freedom_of_speech_not_reach_fetch_enabled":               true,
			"standardized_nudges_misinfo":                             true,
			"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled": true,
			"longform_notetweets_rich_text_read_enabled":              true,
			"longform_notetweets_inline_media_enabled":                true,
			"responsive_web_graphql_exclude_directive_enabled":        true,
			"verified_phone_label_enabled":                            false,
			"responsive_web_graphql_skip_user_profile_image_extensions_enabled": false,
			"responsive_web_graphql_timeline_navigation_enabled":      true,
			"responsive_web_enhance_cards_enabled":                    false,
		},
		"queryId": createTweetID,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return publisher.Failure("failed to marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return publisher.Failure("failed to create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+webBearer)
	req.Header.Set("Cookie", cookie)
	req.Header.Set("X-Csrf-Token", csrf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Twitter-Active-User", "yes")
	req.Header.Set("X-Twitter-Auth-Type", "OAuth2Session")
	req.Header.Set("Origin", "https://x.com")
	req.Header.Set("Referer", "https://x.com/compose/post")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Client-Transaction-Id", p.transactionID(ctx, endpoint))

	resp, err := p.client.Do(req)
	if err != nil {
		return publisher.Failure("twitter request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return publisher.Failure("failed to read response: %v", err)
	}

	var result struct {
		Data struct {
			CreateTweet struct {
				TweetResults struct {
					Result struct {
						RestID string `json:"rest_id"`
					} `json:"result"`
				} `json:"tweet_results"`
			} `json:"create_tweet"`
		} `json:"data"`
		Errors []struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return publisher.Failure("failed to parse response: %v", err)
	}

	if id := result.Data.CreateTweet.TweetResults.Result.RestID; id != "" {
		return &publisher.PublishResult{
			Success:      true,
			ExternalID:   id,
			PublishedURL: fmt.Sprintf("https://x.com/i/web/status/%s", id),
		}
	}

	errMsg := "authentication rejected by x.com"
	var errCode int
	if len(result.Errors) > 0 {
		errCode = result.Errors[0].Code
		if result.Errors[0].Message != "" {
			errMsg = result.Errors[0].Message
		}
	}

	if errCode == 226 {
		return publisher.Failure("twitter error: automation detected (226), refresh cookies and retry with a new transaction id")
	}
	if resp.StatusCode == http.StatusUnauthorized || strings.Contains(errMsg, "authenticate") {
		return publisher.Failure("twitter error: session expired, update the auth token")
	}
	return publisher.Failure("twitter error: %s", errMsg)
}

// transactionID derives the anti-automation header from the live homepage.
// The verification meta tag seeds a digest over the request method and path;
// when the homepage cannot be fetched a random id is used so the call still
// carries a well-formed header.
func (p *Publisher) transactionID(ctx context.Context, endpoint string) string {
	seed := p.fetchVerificationSeed(ctx)

	path := endpoint
	if parsed, err := url.Parse(endpoint); err == nil {
		path = parsed.Path
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return ""
	}

	sum := sha256.Sum256([]byte("POST" + path + seed + string(nonce)))
	id := append(nonce, sum[:]...)
	return base64.RawStdEncoding.EncodeToString(id)
}

func (p *Publisher) fetchVerificationSeed(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.homeBase, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("Twitter homepage fetch failed, using random transaction id", zap.Error(err))
		return ""
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return ""
	}
	seed, _ := doc.Find(`meta[name="twitter-site-verification"]`).Attr("content")
	return seed
}
