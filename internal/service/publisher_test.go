package service

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avbelov/fanout/internal/models"
	"github.com/avbelov/fanout/internal/service/publisher"
)

func TestRegistryCoversAllPlatforms(t *testing.T) {
	registry := NewPublisherRegistry(zap.NewNop())
	for _, platform := range models.Platforms() {
		assert.True(t, registry.Known(platform), platform.String())
	}
	assert.False(t, registry.Known(models.Platform("mastodon")))
}

func TestRegistryCredentialGating(t *testing.T) {
	registry := NewPublisherRegistry(zap.NewNop())

	full := publisher.Settings{
		"telegram_bot_token": "tok",
		"tilda_cookies":      "c",
		"tilda_project_id":   "p",
		"tilda_feed_uid":     "f",
		"vk_access_token":    "tok",
		"vk_owner_id":        "-1",
		"ok_access_token":    "tok",
		"ok_public_key":      "pk",
		"ok_app_secret":      "sec",
		"ok_group_id":        "g",
		"fb_access_token":    "tok",
		"fb_page_id":         "page",
		"th_access_token":    "tok",
		"twitter_auth_token": base64.StdEncoding.EncodeToString([]byte("ct0=x;")),
	}

	for _, platform := range models.Platforms() {
		p, ok := registry.New(platform, full)
		require.True(t, ok, "expected %s to construct with full settings", platform)
		assert.Equal(t, platform.String(), p.PlatformName())
	}

	// With nothing configured, every adapter reports unavailable rather than
	// erroring or half-constructing.
	for _, platform := range models.Platforms() {
		p, ok := registry.New(platform, publisher.Settings{})
		assert.False(t, ok, platform.String())
		assert.Nil(t, p)
	}
}
