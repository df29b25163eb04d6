package service

import (
	"go.uber.org/zap"

	"github.com/avbelov/fanout/internal/models"
	"github.com/avbelov/fanout/internal/service/publisher"
	"github.com/avbelov/fanout/internal/service/publisher/facebook"
	"github.com/avbelov/fanout/internal/service/publisher/ok"
	"github.com/avbelov/fanout/internal/service/publisher/telegram"
	"github.com/avbelov/fanout/internal/service/publisher/threads"
	"github.com/avbelov/fanout/internal/service/publisher/tilda"
	"github.com/avbelov/fanout/internal/service/publisher/twitter"
	"github.com/avbelov/fanout/internal/service/publisher/vk"
)

// NewPublisherRegistry builds the registry with every supported platform
// adapter. Whether an adapter is usable is decided per dispatch from the
// settings snapshot, not here.
func NewPublisherRegistry(logger *zap.Logger) *publisher.Registry {
	registry := publisher.NewRegistry(logger)
	registry.Register(models.PlatformTelegram, telegram.FromSettings)
	registry.Register(models.PlatformSite, tilda.FromSettings)
	registry.Register(models.PlatformVK, vk.FromSettings)
	registry.Register(models.PlatformOK, ok.FromSettings)
	registry.Register(models.PlatformFacebook, facebook.FromSettings)
	registry.Register(models.PlatformThreads, threads.FromSettings)
	registry.Register(models.PlatformTwitter, twitter.FromSettings)
	return registry
}
