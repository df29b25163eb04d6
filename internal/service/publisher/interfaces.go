package publisher

import (
	"context"
	"fmt"
)

// PublishContext is the normalized input every adapter receives. Text is
// final: variant selection, overrides and source-link handling happen before
// an adapter sees it.
type PublishContext struct {
	ContentID string
	Title     string
	Text      string
	// ImageRef is a direct URL for every platform except Telegram, where it
	// may also be an opaque file_id.
	ImageRef  string
	SourceURL string
	Settings  Settings
}

// PublishResult is the uniform outcome contract regardless of the adapter's
// wire protocol. Provider error text is carried verbatim.
type PublishResult struct {
	Success      bool              `json:"success"`
	ExternalID   string            `json:"external_id,omitempty"`
	PublishedURL string            `json:"published_url,omitempty"`
	Error        string            `json:"error,omitempty"`
	Raw          map[string]string `json:"raw_response,omitempty"`
}

// Publisher is the single capability every platform adapter implements.
// Adapters never mutate jobs or content items; they only report back.
type Publisher interface {
	PlatformName() string
	Publish(ctx context.Context, pc PublishContext) *PublishResult
}

// Failure builds an unsuccessful result with a formatted error message.
func Failure(format string, args ...any) *PublishResult {
	return &PublishResult{Success: false, Error: fmt.Sprintf(format, args...)}
}
