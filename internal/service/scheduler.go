package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/avbelov/fanout/internal/config"
	"github.com/avbelov/fanout/internal/models"
)

// Scheduler polls for due jobs and hands them to the dispatcher. Per-platform
// concurrency is capped so one provider never sees parallel posts from us.
type Scheduler struct {
	config     *config.SchedulerConfig
	logger     *zap.Logger
	db         *gorm.DB
	dispatcher *Dispatcher
	ticker     *time.Ticker
	stopCh     chan struct{}
	slots      map[models.Platform]chan struct{}
}

func NewScheduler(cfg *config.SchedulerConfig, db *gorm.DB, dispatcher *Dispatcher, logger *zap.Logger) *Scheduler {
	limit := cfg.MaxPerPlatform
	if limit < 1 {
		limit = 1
	}
	slots := make(map[models.Platform]chan struct{}, len(models.Platforms()))
	for _, platform := range models.Platforms() {
		slots[platform] = make(chan struct{}, limit)
	}
	return &Scheduler{
		config:     cfg,
		logger:     logger,
		db:         db,
		dispatcher: dispatcher,
		stopCh:     make(chan struct{}),
		slots:      slots,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Scheduler is disabled")
		return nil
	}

	interval, err := time.ParseDuration(s.config.PollInterval)
	if err != nil {
		s.logger.Error("Invalid poll interval", zap.String("interval", s.config.PollInterval), zap.Error(err))
		return err
	}

	s.logger.Info("Starting scheduler", zap.String("poll_interval", s.config.PollInterval))

	s.ticker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-s.ticker.C:
				if _, err := s.RunDue(ctx); err != nil {
					s.logger.Error("Scheduled dispatch failed", zap.Error(err))
				}
			case <-s.stopCh:
				s.logger.Info("Scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Scheduler context cancelled")
				return
			}
		}
	}()

	return nil
}

func (s *Scheduler) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.logger.Info("Scheduler shutdown completed")
}

// RunDue dispatches every queued job whose publish time has arrived and
// returns how many were picked up. Jobs run concurrently, bounded per
// platform; the call waits for the batch to finish.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	var jobs []models.PublishJob
	err := s.db.WithContext(ctx).
		Where("status = ? AND publish_at <= ?", models.JobStatusQueued, time.Now()).
		Order("publish_at").
		Find(&jobs).Error
	if err != nil {
		s.logger.Error("Failed to select due jobs", zap.Error(err))
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	s.logger.Info("Dispatching due jobs", zap.Int("count", len(jobs)))

	var wg sync.WaitGroup
	for _, job := range jobs {
		slot, ok := s.slots[job.Platform]
		if !ok {
			// Unknown platforms still go through Dispatch to be marked failed.
			slot = make(chan struct{}, 1)
		}

		wg.Add(1)
		go func(jobID string, slot chan struct{}) {
			defer wg.Done()
			slot <- struct{}{}
			defer func() { <-slot }()

			if _, err := s.dispatcher.Dispatch(ctx, jobID); err != nil {
				// Lost claims are routine when a manual dispatch raced us.
				s.logger.Warn("Dispatch skipped", zap.String("job_id", jobID), zap.Error(err))
			}
		}(job.ID, slot)
	}
	wg.Wait()

	return len(jobs), nil
}
