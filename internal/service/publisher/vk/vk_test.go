package vk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avbelov/fanout/internal/service/publisher"
)

func TestPublishWithPhotoRunsUploadFlow(t *testing.T) {
	var calls []string
	var wallAttachments string

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/image.jpg", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "image")
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	})
	mux.HandleFunc("/method/photos.getWallUploadServer", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "getWallUploadServer")
		assert.Equal(t, "77", r.URL.Query().Get("group_id"))
		w.Write([]byte(`{"response":{"upload_url":"` + srv.URL + `/upload"}}`))
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "upload")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, _, err := r.FormFile("photo")
		require.NoError(t, err)
		w.Write([]byte(`{"server":11,"photo":"raw","hash":"h"}`))
	})
	mux.HandleFunc("/method/photos.saveWallPhoto", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "saveWallPhoto")
		w.Write([]byte(`{"response":[{"id":456,"owner_id":-77}]}`))
	})
	mux.HandleFunc("/method/wall.post", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "wall.post")
		wallAttachments = r.URL.Query().Get("attachments")
		assert.Equal(t, "1", r.URL.Query().Get("from_group"))
		w.Write([]byte(`{"response":{"post_id":900}}`))
	})

	p := New("tok", -77, "", zap.NewNop())
	p.apiBase = srv.URL
	p.client = srv.Client()

	result := p.Publish(context.Background(), publisher.PublishContext{
		Title:    "Заголовок",
		Text:     "Текст",
		ImageRef: srv.URL + "/image.jpg",
	})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, []string{"getWallUploadServer", "image", "upload", "saveWallPhoto", "wall.post"}, calls)
	assert.Equal(t, "photo-77_456", wallAttachments)
	assert.Equal(t, "900", result.ExternalID)
	assert.Equal(t, "https://vk.com/wall-77_900", result.PublishedURL)
}

func TestPublishUploadFailureDegradesToText(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/method/photos.getWallUploadServer", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"error_code":15,"error_msg":"Access denied"}}`))
	})
	var posted bool
	mux.HandleFunc("/method/wall.post", func(w http.ResponseWriter, r *http.Request) {
		posted = true
		assert.Empty(t, r.URL.Query().Get("attachments"))
		w.Write([]byte(`{"response":{"post_id":7}}`))
	})

	p := New("tok", -77, "", zap.NewNop())
	p.apiBase = srv.URL
	p.client = srv.Client()

	result := p.Publish(context.Background(), publisher.PublishContext{
		Title:    "T",
		Text:     "body",
		ImageRef: "https://example.com/x.jpg",
	})

	require.True(t, result.Success, result.Error)
	assert.True(t, posted)
}

func TestPublishAPIErrorVerbatim(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/method/wall.post", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"error_code":214,"error_msg":"Access to adding post denied"}}`))
	})

	p := New("tok", -77, "", zap.NewNop())
	p.apiBase = srv.URL
	p.client = srv.Client()

	result := p.Publish(context.Background(), publisher.PublishContext{Title: "T", Text: "x"})

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "Access to adding post denied")
	assert.Contains(t, result.Error, "214")
}

func TestFromSettingsGating(t *testing.T) {
	_, ok := FromSettings(publisher.Settings{"vk_access_token": "t"}, zap.NewNop())
	assert.False(t, ok)

	_, ok = FromSettings(publisher.Settings{"vk_access_token": "t", "vk_owner_id": "abc"}, zap.NewNop())
	assert.False(t, ok)

	p, ok := FromSettings(publisher.Settings{"vk_access_token": "t", "vk_owner_id": "-100"}, zap.NewNop())
	require.True(t, ok)
	assert.Equal(t, "vk", p.PlatformName())
}
