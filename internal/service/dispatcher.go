package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/avbelov/fanout/internal/models"
	"github.com/avbelov/fanout/internal/service/publisher"
)

// ErrNotClaimable is returned when a job is not in the queued state at claim
// time: another worker took it, or it already reached a terminal state.
var ErrNotClaimable = errors.New("job is not claimable")

// Dispatcher runs one job end to end: claim, resolve, publish, record. A job
// reaches an adapter at most once per queued cycle; concurrent dispatchers
// race on the claim, and exactly one wins.
type Dispatcher struct {
	db       *gorm.DB
	registry *publisher.Registry
	resolver *Resolver
	settings *SettingsService
	logger   *zap.Logger
	nowFn    func() time.Time
}

func NewDispatcher(db *gorm.DB, registry *publisher.Registry, resolver *Resolver, settings *SettingsService, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		db:       db,
		registry: registry,
		resolver: resolver,
		settings: settings,
		logger:   logger,
		nowFn:    time.Now,
	}
}

// Dispatch publishes the job to its platform and returns the updated job.
// Provider failures are recorded on the job, not returned as errors; an error
// return means the job itself could not be processed (missing, not
// claimable, storage trouble).
func (d *Dispatcher) Dispatch(ctx context.Context, jobID string) (*models.PublishJob, error) {
	job, err := d.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	// Unknown platform fails fast: no claim transition, no network.
	if !job.Platform.Valid() || !d.registry.Known(job.Platform) {
		if err := d.markFailed(ctx, job, fmt.Sprintf("unknown platform: %s", job.Platform)); err != nil {
			return nil, err
		}
		return job, nil
	}

	if err := d.claim(ctx, job); err != nil {
		return nil, err
	}

	snapshot, err := d.settings.Snapshot(ctx)
	if err != nil {
		if markErr := d.markFailed(ctx, job, err.Error()); markErr != nil {
			return nil, markErr
		}
		return job, nil
	}

	result := d.publish(ctx, job, snapshot)

	if !result.Success {
		d.logger.Warn("Publish failed",
			zap.String("job_id", job.ID),
			zap.String("platform", job.Platform.String()),
			zap.String("error", result.Error))
		if err := d.markFailed(ctx, job, result.Error); err != nil {
			return nil, err
		}
		return job, nil
	}

	if err := d.markPublished(ctx, job, result); err != nil {
		return nil, err
	}
	if job.Platform == models.PlatformSite {
		d.syncBack(ctx, job, result)
	}

	d.logger.Info("Publish succeeded",
		zap.String("job_id", job.ID),
		zap.String("platform", job.Platform.String()),
		zap.String("external_id", result.ExternalID))
	return job, nil
}

func (d *Dispatcher) publish(ctx context.Context, job *models.PublishJob, snapshot publisher.Settings) *publisher.PublishResult {
	// Safe mode simulates the whole pipeline with zero outbound calls, so
	// operators can exercise scheduling and status flow against production
	// data without posting anything.
	if snapshot.GetBool(publisher.KeySafePublishMode) {
		d.logger.Info("Safe publish mode: simulating success",
			zap.String("job_id", job.ID),
			zap.String("platform", job.Platform.String()))
		return &publisher.PublishResult{
			Success:    true,
			ExternalID: "safe-" + job.ID,
			Raw:        map[string]string{"mode": "safe"},
		}
	}

	item := job.Item()
	if item == nil {
		return publisher.Failure("job has no content item")
	}

	pub, ok := d.registry.New(job.Platform, snapshot)
	if !ok {
		return publisher.Failure("missing credentials for platform %s", job.Platform)
	}

	resolved := d.resolver.Resolve(ctx, item, job.Platform, job.SocialContent, snapshot)
	if resolved.Text == "" && resolved.Title == "" {
		return publisher.Failure("content item has no publishable text")
	}

	return pub.Publish(ctx, publisher.PublishContext{
		ContentID: item.ContentID(),
		Title:     resolved.Title,
		Text:      resolved.Text,
		ImageRef:  resolved.ImageRef,
		SourceURL: resolved.SourceURL,
		Settings:  snapshot,
	})
}

// Requeue resets a failed job to queued so the worker picks it up again.
func (d *Dispatcher) Requeue(ctx context.Context, jobID string) (*models.PublishJob, error) {
	res := d.db.WithContext(ctx).Model(&models.PublishJob{}).
		Where("id = ? AND status = ?", jobID, models.JobStatusFailed).
		Updates(map[string]any{
			"status":        models.JobStatusQueued,
			"error_message": "",
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to requeue job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("job %s is not in a failed state", jobID)
	}
	return d.loadJob(ctx, jobID)
}

// Cancel takes a not-yet-published job out of rotation permanently.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) (*models.PublishJob, error) {
	res := d.db.WithContext(ctx).Model(&models.PublishJob{}).
		Where("id = ? AND status IN ?", jobID, []models.JobStatus{models.JobStatusQueued, models.JobStatusFailed}).
		Update("status", models.JobStatusCancelled)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to cancel job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("job %s cannot be cancelled", jobID)
	}
	return d.loadJob(ctx, jobID)
}

func (d *Dispatcher) loadJob(ctx context.Context, jobID string) (*models.PublishJob, error) {
	var job models.PublishJob
	err := d.db.WithContext(ctx).
		Preload("News").
		Preload("Review").
		First(&job, "id = ?", jobID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job %s not found", jobID)
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return &job, nil
}

// claim flips queued to processing with a conditional update, so two workers
// holding the same job can never both publish it.
func (d *Dispatcher) claim(ctx context.Context, job *models.PublishJob) error {
	res := d.db.WithContext(ctx).Model(&models.PublishJob{}).
		Where("id = ? AND status = ?", job.ID, models.JobStatusQueued).
		Update("status", models.JobStatusProcessing)
	if res.Error != nil {
		return fmt.Errorf("failed to claim job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: job %s is %s", ErrNotClaimable, job.ID, job.Status)
	}
	job.Status = models.JobStatusProcessing
	return nil
}

func (d *Dispatcher) markPublished(ctx context.Context, job *models.PublishJob, result *publisher.PublishResult) error {
	now := d.nowFn()
	err := d.db.WithContext(ctx).Model(&models.PublishJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":              models.JobStatusPublished,
			"published_at_actual": now,
			"external_id":         result.ExternalID,
			"published_url":       result.PublishedURL,
			"error_message":       "",
		}).Error
	if err != nil {
		return fmt.Errorf("failed to record publish: %w", err)
	}
	job.Status = models.JobStatusPublished
	job.PublishedAtActual = &now
	job.ExternalID = result.ExternalID
	job.PublishedURL = result.PublishedURL
	job.ErrorMessage = ""
	return nil
}

// markFailed records the provider error verbatim so operators can act on it.
func (d *Dispatcher) markFailed(ctx context.Context, job *models.PublishJob, message string) error {
	err := d.db.WithContext(ctx).Model(&models.PublishJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":        models.JobStatusFailed,
			"error_message": message,
			"retry_count":   gorm.Expr("retry_count + 1"),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	job.Status = models.JobStatusFailed
	job.ErrorMessage = message
	job.RetryCount++
	return nil
}

// syncBack writes the site publish artifacts (hosted image, public url) onto
// the content item, where later social publishes pick them up as the stable
// image source and the smart-link target.
func (d *Dispatcher) syncBack(ctx context.Context, job *models.PublishJob, result *publisher.PublishResult) {
	updates := map[string]any{}
	if image := result.Raw["image"]; image != "" {
		updates["draft_image_url"] = image
	}
	if result.PublishedURL != "" {
		updates["published_url"] = result.PublishedURL
	}
	if len(updates) == 0 {
		return
	}

	var err error
	switch {
	case job.NewsID != nil:
		err = d.db.WithContext(ctx).Model(&models.NewsItem{}).
			Where("id = ?", *job.NewsID).Updates(updates).Error
	case job.ReviewID != nil:
		err = d.db.WithContext(ctx).Model(&models.ReviewItem{}).
			Where("id = ?", *job.ReviewID).Updates(updates).Error
	default:
		return
	}
	if err != nil {
		d.logger.Error("Failed to sync site publish back onto content item",
			zap.String("job_id", job.ID),
			zap.Error(err))
	}
}
