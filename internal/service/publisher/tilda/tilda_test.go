package tilda

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

const feedsPage = `<html><body>
<input type="hidden" name="publickey" value="pk-1"/>
<input type="hidden" name="uploadkey" value="uk-1"/>
</body></html>`

func newTestPublisher(t *testing.T, feeds, upload http.Handler) *Publisher {
	t.Helper()
	feedsSrv := httptest.NewServer(feeds)
	t.Cleanup(feedsSrv.Close)

	p := New("session-value", "proj1", "feed1", "https://news.example.com", zap.NewNop())
	p.feedsBase = feedsSrv.URL
	p.client = feedsSrv.Client()
	p.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if upload != nil {
		uploadSrv := httptest.NewServer(upload)
		t.Cleanup(uploadSrv.Close)
		p.uploadBase = uploadSrv.URL
	}
	return p
}

func TestPublishWithoutImage(t *testing.T) {
	var actions []string
	feeds := http.NewServeMux()
	feeds.HandleFunc("/posts/", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Cookie"), "PHPSESSID=session-value")
		w.Write([]byte(feedsPage))
	})
	feeds.HandleFunc("/submit/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		action := r.PostForm.Get("action")
		actions = append(actions, action)
		switch action {
		case "posts_Add":
			w.Write([]byte(`{"postuid":"post-77"}`))
		case "posts_Edit", "posts_Active":
			w.Write([]byte(`{}`))
		case "posts_Get":
			w.Write([]byte(`{"post":{"postdefaulturl":"my-first-post"}}`))
		}
	})

	p := newTestPublisher(t, feeds, nil)

	result := p.Publish(context.Background(), publisher.PublishContext{
		Title: "Title",
		Text:  "First paragraph\nsecond line\n\nSecond paragraph",
	})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, []string{"posts_Add", "posts_Edit", "posts_Active", "posts_Get"}, actions)
	assert.Equal(t, "post-77", result.ExternalID)
	assert.Equal(t, "https://news.example.com/tpost/my-first-post", result.PublishedURL)
	assert.Equal(t, "my-first-post", result.Raw["slug"])
}

func TestPublishImageUploadFailureAborts(t *testing.T) {
	var submitActions []string
	feeds := http.NewServeMux()
	feeds.HandleFunc("/posts/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedsPage))
	})
	feeds.HandleFunc("/image.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg"))
	})
	feeds.HandleFunc("/submit/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		submitActions = append(submitActions, r.PostForm.Get("action"))
		w.Write([]byte(`{}`))
	})

	upload := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream error"))
	})

	p := newTestPublisher(t, feeds, upload)

	result := p.Publish(context.Background(), publisher.PublishContext{
		Title:    "Title",
		Text:     "Body",
		ImageRef: p.feedsBase + "/image.jpg",
	})

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "image upload failed")
	// No draft may be created or activated after a failed upload.
	assert.Empty(t, submitActions)
}

func TestPublishWithImage(t *testing.T) {
	feeds := http.NewServeMux()
	var editedText string
	var editedImage string
	feeds.HandleFunc("/posts/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedsPage))
	})
	feeds.HandleFunc("/image.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg"))
	})
	feeds.HandleFunc("/submit/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch r.PostForm.Get("action") {
		case "posts_Add":
			w.Write([]byte(`{"postuid":"p1"}`))
		case "posts_Edit":
			editedText = r.PostForm.Get("text")
			editedImage = r.PostForm.Get("image")
			w.Write([]byte(`{}`))
		case "posts_Active":
			w.Write([]byte(`{}`))
		case "posts_Get":
			w.Write([]byte(`{"post":{"postdefaulturl":"slug-1"}}`))
		}
	})

	upload := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "pk-1", r.MultipartForm.Value["publickey"][0])
		w.Write([]byte(`{"result":[{"cdnUrl":"https://static.tildacdn.com/img-1.jpg"}]}`))
	})

	p := newTestPublisher(t, feeds, upload)

	result := p.Publish(context.Background(), publisher.PublishContext{
		Title:    "Title",
		Text:     "Line one\nline two",
		ImageRef: p.feedsBase + "/image.jpg",
	})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "https://static.tildacdn.com/img-1.jpg", result.Raw["image"])
	assert.Equal(t, "https://static.tildacdn.com/img-1.jpg", result.Raw["thumb"])
	assert.Equal(t, "https://static.tildacdn.com/img-1.jpg", editedImage)
	// The block array carries the image first, then the text with <br> joins.
	assert.Contains(t, editedText, `"ty":"image"`)
	assert.Contains(t, editedText, "Line one<br>line two")
}

func TestFetchKeysRedirectMeansSessionInvalid(t *testing.T) {
	feeds := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://tilda.cc/login/", http.StatusFound)
	})

	p := newTestPublisher(t, feeds, nil)

	result := p.Publish(context.Background(), publisher.PublishContext{Title: "T", Text: "x"})

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "session")
}

func TestFromSettingsGating(t *testing.T) {
	full := publisher.Settings{
		"tilda_cookies":    "c",
		"tilda_project_id": "p",
		"tilda_feed_uid":   "f",
	}

	p, ok := FromSettings(full, zap.NewNop())
	require.True(t, ok)
	assert.Equal(t, "site", p.PlatformName())

	for key := range full {
		partial := publisher.Settings{}
		for k, v := range full {
			if k != key {
				partial[k] = v
			}
		}
		_, ok := FromSettings(partial, zap.NewNop())
		assert.False(t, ok, "expected gating on missing %s", key)
	}
}
