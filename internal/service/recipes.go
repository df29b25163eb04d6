package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/avbelov/fanout/internal/models"
)

// ScheduledPublish is one computed slot of a publish cascade.
type ScheduledPublish struct {
	Platform  models.Platform `json:"platform"`
	PublishAt time.Time       `json:"publish_at"`
}

// RecomputeCascade maps an anchor time onto per-platform publish times: the
// main recipe publishes at the anchor, every other active recipe at anchor
// plus its delay. Negative delays schedule before the anchor. Inactive
// recipes are skipped. Pure function, no storage access.
func RecomputeCascade(anchor time.Time, recipes []models.PublishRecipe) []ScheduledPublish {
	var out []ScheduledPublish
	for _, recipe := range recipes {
		if !recipe.IsActive {
			continue
		}
		at := anchor
		if !recipe.IsMain {
			at = anchor.Add(time.Duration(recipe.DelayHours) * time.Hour)
		}
		out = append(out, ScheduledPublish{Platform: recipe.Platform, PublishAt: at})
	}
	return out
}

// RecipeService manages publish recipes and materializes them into jobs.
type RecipeService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewRecipeService(db *gorm.DB, logger *zap.Logger) *RecipeService {
	return &RecipeService{db: db, logger: logger}
}

func (s *RecipeService) List(ctx context.Context) ([]models.PublishRecipe, error) {
	var recipes []models.PublishRecipe
	if err := s.db.WithContext(ctx).Order("is_main DESC, platform").Find(&recipes).Error; err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	return recipes, nil
}

// Cascade previews the publish times an anchor would produce under the
// current recipes.
func (s *RecipeService) Cascade(ctx context.Context, anchor time.Time) ([]ScheduledPublish, error) {
	recipes, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return RecomputeCascade(anchor, recipes), nil
}

// CreateSchedule inserts one queued job per active recipe for the content
// item, timed by the cascade. Exactly one of newsID/reviewID is set.
func (s *RecipeService) CreateSchedule(ctx context.Context, newsID, reviewID *string, anchor time.Time) ([]models.PublishJob, error) {
	if (newsID == nil) == (reviewID == nil) {
		return nil, fmt.Errorf("exactly one of news_id and review_id must be set")
	}

	recipes, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	slots := RecomputeCascade(anchor, recipes)
	if len(slots) == 0 {
		return nil, fmt.Errorf("no active recipes to schedule")
	}

	jobs := make([]models.PublishJob, 0, len(slots))
	for _, slot := range slots {
		jobs = append(jobs, models.PublishJob{
			NewsID:    newsID,
			ReviewID:  reviewID,
			Platform:  slot.Platform,
			Status:    models.JobStatusQueued,
			PublishAt: slot.PublishAt,
		})
	}
	if err := s.db.WithContext(ctx).Create(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}

	s.logger.Info("Schedule created",
		zap.Int("jobs", len(jobs)),
		zap.Time("anchor", anchor))
	return jobs, nil
}

// MoveAnchor re-times one job. With cascade set, sibling queued jobs for the
// same content item are re-timed by their recipes' offsets from the new
// anchor; without it, only the moved job changes.
func (s *RecipeService) MoveAnchor(ctx context.Context, jobID string, newTime time.Time, cascade bool) error {
	var job models.PublishJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is %s and cannot be rescheduled", jobID, job.Status)
	}

	if err := s.db.WithContext(ctx).Model(&models.PublishJob{}).
		Where("id = ?", job.ID).
		Update("publish_at", newTime).Error; err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	if !cascade {
		return nil
	}

	recipes, err := s.List(ctx)
	if err != nil {
		return err
	}
	for _, slot := range RecomputeCascade(newTime, recipes) {
		if slot.Platform == job.Platform {
			continue
		}
		sibling := s.db.WithContext(ctx).Model(&models.PublishJob{}).
			Where("platform = ? AND status = ?", slot.Platform, models.JobStatusQueued)
		switch {
		case job.NewsID != nil:
			sibling = sibling.Where("news_id = ?", *job.NewsID)
		case job.ReviewID != nil:
			sibling = sibling.Where("review_id = ?", *job.ReviewID)
		default:
			continue
		}
		if err := sibling.Update("publish_at", slot.PublishAt).Error; err != nil {
			return fmt.Errorf("failed to cascade reschedule for %s: %w", slot.Platform, err)
		}
	}
	return nil
}

// Upsert creates or updates the recipe for a platform. Marking a recipe main
// demotes the previous main so at most one stays.
func (s *RecipeService) Upsert(ctx context.Context, recipe *models.PublishRecipe) error {
	if !recipe.Platform.Valid() {
		return fmt.Errorf("unknown platform: %s", recipe.Platform)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if recipe.IsMain {
			if err := tx.Model(&models.PublishRecipe{}).
				Where("platform <> ?", recipe.Platform).
				Update("is_main", false).Error; err != nil {
				return fmt.Errorf("failed to demote previous main recipe: %w", err)
			}
		}

		var existing models.PublishRecipe
		err := tx.First(&existing, "platform = ?", recipe.Platform).Error
		switch {
		case err == nil:
			recipe.ID = existing.ID
			return tx.Model(&existing).Updates(map[string]any{
				"is_active":   recipe.IsActive,
				"is_main":     recipe.IsMain,
				"delay_hours": recipe.DelayHours,
			}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(recipe).Error
		default:
			return fmt.Errorf("failed to load recipe: %w", err)
		}
	})
}
