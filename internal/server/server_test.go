package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avbelov/fanout/internal/config"
	"github.com/avbelov/fanout/internal/models"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{Mode: "test"},
		Database: config.DatabaseConfig{
			Type: "sqlite",
			Path: "file:" + t.Name() + "?mode=memory&cache=shared",
		},
		Project:   config.ProjectConfig{Key: "testproj"},
		Scheduler: config.SchedulerConfig{PollInterval: "1m", MaxPerPlatform: 1},
	}

	srv, err := NewServer(cfg, zap.NewNop())
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestCreateJobValidation(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/jobs", map[string]any{
		"platform":   "mastodon",
		"publish_at": "2026-05-01T10:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown platform")

	// Both content references set.
	w = doJSON(t, srv, http.MethodPost, "/api/v1/jobs", map[string]any{
		"platform":   "tg",
		"publish_at": "2026-05-01T10:00:00Z",
		"news_id":    "n1",
		"review_id":  "r1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateAndFetchJob(t *testing.T) {
	srv := newTestServer(t)

	news := models.NewsItem{Title: "n"}
	require.NoError(t, srv.DB.Create(&news).Error)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/jobs", map[string]any{
		"platform":   "tg",
		"publish_at": "2026-05-01T10:00:00Z",
		"news_id":    news.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Job models.PublishJob `json:"job"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, models.JobStatusQueued, created.Job.Status)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/jobs/"+created.Job.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/jobs/missing-id", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecipesAndCascadePreview(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPut, "/api/v1/recipes", map[string]any{
		"platform": "site", "is_active": true, "is_main": true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodPut, "/api/v1/recipes", map[string]any{
		"platform": "tg", "is_active": true, "delay_hours": 2,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/recipes/cascade", map[string]any{
		"anchor": "2026-05-01T10:00:00Z",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var preview struct {
		Schedule []struct {
			Platform  string `json:"platform"`
			PublishAt string `json:"publish_at"`
		} `json:"schedule"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &preview))
	require.Len(t, preview.Schedule, 2)
}

func TestSettingsRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPut, "/api/v1/settings", map[string]any{
		"key": "safe_publish_mode", "value": "true",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "safe_publish_mode")
}

func TestScheduleEndpointCreatesJobs(t *testing.T) {
	srv := newTestServer(t)

	news := models.NewsItem{Title: "n"}
	require.NoError(t, srv.DB.Create(&news).Error)

	doJSON(t, srv, http.MethodPut, "/api/v1/recipes", map[string]any{
		"platform": "site", "is_active": true, "is_main": true,
	})
	doJSON(t, srv, http.MethodPut, "/api/v1/recipes", map[string]any{
		"platform": "vk", "is_active": true, "delay_hours": 1,
	})

	w := doJSON(t, srv, http.MethodPost, "/api/v1/schedule", map[string]any{
		"news_id":    news.ID,
		"publish_at": "2026-05-01T10:00:00Z",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var jobs []models.PublishJob
	require.NoError(t, srv.DB.Find(&jobs).Error)
	assert.Len(t, jobs, 2)
}
