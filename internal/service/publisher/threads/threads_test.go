package threads

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

	p := New("tok", "user1", "", zap.NewNop())
	p.graphBase = srv.URL
	p.client = srv.Client()
	p.textSettle = 0
	p.imageSettle = 0
	return p
}

func TestPublishText(t *testing.T) {
	var containerPayload map[string]any
	p := newTestPublisher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user1/threads":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&containerPayload))
			w.Write([]byte(`{"id":"container-1"}`))
		case "/user1/threads_publish":
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "container-1", payload["creation_id"])
			w.Write([]byte(`{"id":"thread-99"}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	result := p.Publish(context.Background(), publisher.PublishContext{Text: "hello threads"})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "TEXT", containerPayload["media_type"])
	assert.Equal(t, "thread-99", result.ExternalID)
	assert.Equal(t, "https://www.threads.net/t/thread-99", result.PublishedURL)
	assert.Equal(t, "TEXT", result.Raw["mode"])
}

func TestPublishImageFailureRetriesAsText(t *testing.T) {
	var modes []string
	p := newTestPublisher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user1/threads":
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			mode, _ := payload["media_type"].(string)
			modes = append(modes, mode)
			if mode == "IMAGE" {
				w.Write([]byte(`{"error":{"message":"Media could not be fetched"}}`))
				return
			}
			w.Write([]byte(`{"id":"container-2"}`))
		case "/user1/threads_publish":
			w.Write([]byte(`{"id":"thread-55"}`))
		}
	}))

	result := p.Publish(context.Background(), publisher.PublishContext{
		Text:     "text body",
		ImageRef: "https://cdn.example.com/pic.jpg",
	})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, []string{"IMAGE", "TEXT"}, modes)
	assert.Equal(t, "thread-55", result.ExternalID)
	assert.Equal(t, "TEXT", result.Raw["mode"])
}

func TestPublishResolvesUserID(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/me":
			w.Write([]byte(`{"id":"resolved-7"}`))
		case "/resolved-7/threads":
			w.Write([]byte(`{"id":"c"}`))
		case "/resolved-7/threads_publish":
			w.Write([]byte(`{"id":"t"}`))
		}
	}))
	defer srv.Close()

	p := New("tok", "", "", zap.NewNop())
	p.graphBase = srv.URL
	p.client = srv.Client()
	p.textSettle = 0

	result := p.Publish(context.Background(), publisher.PublishContext{Text: "x"})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, []string{"/me", "/resolved-7/threads", "/resolved-7/threads_publish"}, paths)
}

func TestPublishBothModesFail(t *testing.T) {
	p := newTestPublisher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"message":"Invalid OAuth access token"}}`))
	}))

	result := p.Publish(context.Background(), publisher.PublishContext{
		Text:     "x",
		ImageRef: "https://cdn.example.com/pic.jpg",
	})

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "Invalid OAuth access token")
}

func TestFromSettingsGating(t *testing.T) {
	_, ok := FromSettings(publisher.Settings{}, zap.NewNop())
	assert.False(t, ok)

	p, ok := FromSettings(publisher.Settings{"th_access_token": "t"}, zap.NewNop())
	require.True(t, ok)
	assert.Equal(t, "threads", p.PlatformName())
}

func TestFromSettingsProxy(t *testing.T) {
	p, ok := FromSettings(publisher.Settings{
		"th_access_token": "t",
		"meta_proxy_url":  "http://proxy.internal:3128",
	}, zap.NewNop())
	require.True(t, ok)

	transport, isTransport := p.(*Publisher).client.Transport.(*http.Transport)
	require.True(t, isTransport)

	req, err := http.NewRequest(http.MethodPost, "https://graph.threads.net/v1.0/me/threads", nil)
	require.NoError(t, err)
	proxyURL, err := transport.Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, "http://proxy.internal:3128", proxyURL.String())
}
