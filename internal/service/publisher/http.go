package publisher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// NewHTTPClient builds a client with an explicit timeout and an optional
// outbound proxy, for adapters that must route around network blocks.
func NewHTTPClient(timeout time.Duration, proxyURL string) *http.Client {
	client := &http.Client{Timeout: timeout}
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			client.Transport = &http.Transport{Proxy: http.ProxyURL(parsed)}
		}
	}
	return client
}

// DownloadImage fetches image bytes for re-upload to a provider. Returns the
// payload and the content type reported by the host.
func DownloadImage(ctx context.Context, client *http.Client, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download image, status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image data: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}

	return data, contentType, nil
}
