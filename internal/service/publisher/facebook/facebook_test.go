package facebook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avbelov/fanout/internal/service/publisher"
)

func newTestPublisher(t *testing.T, handler http.Handler) *Publisher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p := New("tok", "page1", "", zap.NewNop())
	p.graphBase = srv.URL
	p.client = srv.Client()
	return p
}

func TestPublishTextGoesToFeed(t *testing.T) {
	var path string
	var body map[string]any
	p := newTestPublisher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"id":"page1_111"}`))
	}))

	result := p.Publish(context.Background(), publisher.PublishContext{Title: "Title", Text: "Body"})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "/v21.0/page1/feed", path)
	assert.Equal(t, "Title\n\nBody", body["message"])
	assert.Equal(t, "page1_111", result.ExternalID)
	assert.Equal(t, "https://facebook.com/page1_111", result.PublishedURL)
}

func TestPublishImageSwitchesToPhotos(t *testing.T) {
	var path string
	var body map[string]any
	p := newTestPublisher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"id":"ph9","post_id":"page1_222"}`))
	}))

	result := p.Publish(context.Background(), publisher.PublishContext{
		Title:    "Title",
		Text:     "Body",
		ImageRef: "https://cdn.example.com/pic.jpg",
	})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "/v21.0/page1/photos", path)
	assert.Equal(t, "https://cdn.example.com/pic.jpg", body["url"])
	assert.Equal(t, "Title\n\nBody", body["caption"])
	// post_id wins over the photo object id.
	assert.Equal(t, "page1_222", result.ExternalID)
}

func TestPublishGraphErrorVerbatim(t *testing.T) {
	p := newTestPublisher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Error validating access token: Session has expired"}}`))
	}))

	result := p.Publish(context.Background(), publisher.PublishContext{Title: "T", Text: "x"})

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "Session has expired")
}

func TestFromSettingsGating(t *testing.T) {
	_, ok := FromSettings(publisher.Settings{"fb_access_token": "t"}, zap.NewNop())
	assert.False(t, ok)

	p, ok := FromSettings(publisher.Settings{"fb_access_token": "t", "fb_page_id": "p"}, zap.NewNop())
	require.True(t, ok)
	assert.Equal(t, "fb", p.PlatformName())
}
