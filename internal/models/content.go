package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Content is the read surface the dispatcher needs from either content kind.
// The editorial subsystem owns the rest of the record.
type Content interface {
	ContentID() string
	DisplayTitle() string
	// Announces returns the per-platform announce variants, populated from
	// the stored columns at load time.
	Announces() map[Platform]string
	BaseAnnounce() string
	LongForm() string
	RawSummary() string
	// StableImageURL is a durable hosted image set by a prior site publish.
	StableImageURL() string
	// ImageFileID is an opaque bot-hosted media handle.
	ImageFileID() string
	// FallbackImageURL is the generic image field on the item.
	FallbackImageURL() string
	// CanonicalURL is the published site link, if any.
	CanonicalURL() string
}

// NewsItem is an ingested news piece with AI-drafted announce variants.
type NewsItem struct {
	ID                    string         `gorm:"type:uuid;primaryKey" json:"id"`
	Title                 string         `gorm:"size:512" json:"title"`
	SourceName            string         `gorm:"size:255" json:"source_name"`
	SourceURL             string         `gorm:"size:1024" json:"source_url"`
	RSSSummary            string         `gorm:"type:text" json:"rss_summary"`
	ImageURL              string         `gorm:"size:1024" json:"image_url"`
	DraftTitle            string         `gorm:"size:512" json:"draft_title"`
	DraftAnnounce         string         `gorm:"type:text" json:"draft_announce"`
	DraftLongread         string         `gorm:"type:text" json:"draft_longread"`
	DraftAnnounceTG       string         `gorm:"type:text" json:"draft_announce_tg"`
	DraftAnnounceVK       string         `gorm:"type:text" json:"draft_announce_vk"`
	DraftAnnounceOK       string         `gorm:"type:text" json:"draft_announce_ok"`
	DraftAnnounceFB       string         `gorm:"type:text" json:"draft_announce_fb"`
	DraftAnnounceThreads  string         `gorm:"type:text" json:"draft_announce_threads"`
	DraftAnnounceX        string         `gorm:"type:text" json:"draft_announce_x"`
	DraftImageURL         string         `gorm:"size:1024" json:"draft_image_url"`
	DraftImageFileID      string         `gorm:"size:255" json:"draft_image_file_id"`
	PublishedURL          string         `gorm:"size:1024" json:"published_url"`
	Status                string         `gorm:"size:50" json:"status"`
	CreatedAt             time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt             gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}

func (n *NewsItem) BeforeCreate(*gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

func (n *NewsItem) ContentID() string { return n.ID }

func (n *NewsItem) DisplayTitle() string {
	if n.DraftTitle != "" {
		return n.DraftTitle
	}
	return n.Title
}

func (n *NewsItem) Announces() map[Platform]string {
	return announceMap(n.DraftAnnounceTG, n.DraftAnnounceVK, n.DraftAnnounceOK,
		n.DraftAnnounceFB, n.DraftAnnounceThreads, n.DraftAnnounceX)
}

func (n *NewsItem) BaseAnnounce() string     { return n.DraftAnnounce }
func (n *NewsItem) LongForm() string         { return n.DraftLongread }
func (n *NewsItem) RawSummary() string       { return n.RSSSummary }
func (n *NewsItem) StableImageURL() string   { return n.DraftImageURL }
func (n *NewsItem) ImageFileID() string      { return n.DraftImageFileID }
func (n *NewsItem) FallbackImageURL() string { return n.ImageURL }
func (n *NewsItem) CanonicalURL() string     { return n.PublishedURL }

// ReviewItem is a long-form review drafted from a title seed. It has no feed
// source, so no RSS summary or source image.
type ReviewItem struct {
	ID                   string         `gorm:"type:uuid;primaryKey" json:"id"`
	TitleSeed            string         `gorm:"size:512" json:"title_seed"`
	DraftTitle           string         `gorm:"size:512" json:"draft_title"`
	DraftAnnounce        string         `gorm:"type:text" json:"draft_announce"`
	DraftLongread        string         `gorm:"type:text" json:"draft_longread"`
	DraftAnnounceTG      string         `gorm:"type:text" json:"draft_announce_tg"`
	DraftAnnounceVK      string         `gorm:"type:text" json:"draft_announce_vk"`
	DraftAnnounceOK      string         `gorm:"type:text" json:"draft_announce_ok"`
	DraftAnnounceFB      string         `gorm:"type:text" json:"draft_announce_fb"`
	DraftAnnounceThreads string         `gorm:"type:text" json:"draft_announce_threads"`
	DraftAnnounceX       string         `gorm:"type:text" json:"draft_announce_x"`
	DraftImageURL        string         `gorm:"size:1024" json:"draft_image_url"`
	DraftImageFileID     string         `gorm:"size:255" json:"draft_image_file_id"`
	PublishedURL         string         `gorm:"size:1024" json:"published_url"`
	Status               string         `gorm:"size:50" json:"status"`
	CreatedAt            time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt            gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}

func (r *ReviewItem) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

func (r *ReviewItem) ContentID() string { return r.ID }

func (r *ReviewItem) DisplayTitle() string {
	if r.DraftTitle != "" {
		return r.DraftTitle
	}
	return r.TitleSeed
}

func (r *ReviewItem) Announces() map[Platform]string {
	return announceMap(r.DraftAnnounceTG, r.DraftAnnounceVK, r.DraftAnnounceOK,
		r.DraftAnnounceFB, r.DraftAnnounceThreads, r.DraftAnnounceX)
}

func (r *ReviewItem) BaseAnnounce() string     { return r.DraftAnnounce }
func (r *ReviewItem) LongForm() string         { return r.DraftLongread }
func (r *ReviewItem) RawSummary() string       { return "" }
func (r *ReviewItem) StableImageURL() string   { return r.DraftImageURL }
func (r *ReviewItem) ImageFileID() string      { return r.DraftImageFileID }
func (r *ReviewItem) FallbackImageURL() string { return "" }
func (r *ReviewItem) CanonicalURL() string     { return r.PublishedURL }

func announceMap(tg, vk, ok, fb, threads, x string) map[Platform]string {
	m := make(map[Platform]string, 6)
	if tg != "" {
		m[PlatformTelegram] = tg
	}
	if vk != "" {
		m[PlatformVK] = vk
	}
	if ok != "" {
		m[PlatformOK] = ok
	}
	if fb != "" {
		m[PlatformFacebook] = fb
	}
	if threads != "" {
		m[PlatformThreads] = threads
	}
	if x != "" {
		m[PlatformTwitter] = x
	}
	return m
}
