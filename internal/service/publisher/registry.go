package publisher

import (
	"go.uber.org/zap"

	"github.com/avbelov/fanout/internal/models"
)

// Constructor builds an adapter from a settings snapshot. It returns false
// when the required credentials are missing or empty; it never errors and
// never partially constructs.
type Constructor func(s Settings, logger *zap.Logger) (Publisher, bool)

// Registry maps platform identifiers to adapter constructors. "Not
// configured" is a normal, reportable condition for callers, not a crash.
type Registry struct {
	constructors map[models.Platform]Constructor
	logger       *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		constructors: make(map[models.Platform]Constructor),
		logger:       logger,
	}
}

func (r *Registry) Register(platform models.Platform, c Constructor) {
	r.constructors[platform] = c
	r.logger.Info("Publisher registered", zap.String("platform", platform.String()))
}

// Known reports whether a constructor exists for the platform.
func (r *Registry) Known(platform models.Platform) bool {
	_, ok := r.constructors[platform]
	return ok
}

// New constructs an adapter for the platform, or reports unavailable when the
// platform is unknown or its credentials are incomplete.
func (r *Registry) New(platform models.Platform, s Settings) (Publisher, bool) {
	c, ok := r.constructors[platform]
	if !ok {
		return nil, false
	}
	return c(s, r.logger)
}
