package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusPublished  JobStatus = "published"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// PublishJob is one intended delivery of one content item to one platform.
// Exactly one of NewsID/ReviewID is set.
type PublishJob struct {
	ID                string         `gorm:"type:uuid;primaryKey" json:"id"`
	NewsID            *string        `gorm:"type:uuid;index" json:"news_id"`
	ReviewID          *string        `gorm:"type:uuid;index" json:"review_id"`
	Platform          Platform       `gorm:"size:20;not null;index" json:"platform"`
	Status            JobStatus      `gorm:"size:20;not null;default:'queued';index" json:"status"`
	PublishAt         time.Time      `gorm:"index" json:"publish_at"`
	PublishedAtActual *time.Time     `json:"published_at_actual"`
	SocialContent     string         `gorm:"type:text" json:"social_content"`
	ExternalID        string         `gorm:"size:255" json:"external_id"`
	PublishedURL      string         `gorm:"size:1024" json:"published_url"`
	ErrorMessage      string         `gorm:"type:text" json:"error_message"`
	RetryCount        int            `gorm:"default:0" json:"retry_count"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"deleted_at"`

	News   *NewsItem   `gorm:"foreignKey:NewsID" json:"news,omitempty"`
	Review *ReviewItem `gorm:"foreignKey:ReviewID" json:"review,omitempty"`
}

func (j *PublishJob) BeforeCreate(*gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	return nil
}

// Item returns the linked content item, whichever kind is loaded.
func (j *PublishJob) Item() Content {
	if j.News != nil {
		return j.News
	}
	if j.Review != nil {
		return j.Review
	}
	return nil
}

// Terminal reports whether the job may never be dispatched again without an
// explicit external reset.
func (s JobStatus) Terminal() bool {
	return s == JobStatusPublished || s == JobStatusCancelled
}
