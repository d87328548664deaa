package model

import (
	"time"

	"github.com/google/uuid"
)

type ArticleStatus string

const (
	StatusDraft     ArticleStatus = "draft"
	StatusApproved  ArticleStatus = "approved"
	StatusPublished ArticleStatus = "published"
	StatusDeleted   ArticleStatus = "deleted"
)

// Valid reports whether s is one of the four lifecycle states.
func (s ArticleStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusApproved, StatusPublished, StatusDeleted:
		return true
	}
	return false
}

// Article is a unit of generated content moving through the publication lifecycle.
// Status is authoritative; deletion is derived from it (see IsDeleted).
type Article struct {
	ID       uuid.UUID     `json:"id"`
	Title    string        `json:"title"`
	Excerpt  string        `json:"excerpt,omitempty"`
	Content  string        `json:"content,omitempty"`
	Status   ArticleStatus `json:"status"`
	Platform string        `json:"platform,omitempty"`

	SEOTitle        string   `json:"seo_title,omitempty"`
	MetaDescription string   `json:"meta_description,omitempty"`
	SEOTags         []string `json:"seo_tags,omitempty"`

	AutoPublish bool `json:"auto_publish_enabled"`
	AdsEnabled  bool `json:"ads_enabled"`

	ViewCount    int `json:"view_count"`
	RewriteCount int `json:"rewrite_count"`

	ExternalID string `json:"external_id,omitempty"`
	URL        string `json:"url,omitempty"`

	CreatedAt       time.Time  `json:"created_at"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
	LastOptimizedAt *time.Time `json:"last_optimized_at,omitempty"`

	// PublishLeaseUntil marks an in-flight publish claimed by one caller.
	PublishLeaseUntil *time.Time `json:"publish_lease_until,omitempty"`
}

// NewArticle creates a draft with a fresh id.
func NewArticle(title, content string, createdAt time.Time) Article {
	return Article{
		ID:        uuid.New(),
		Title:     title,
		Content:   content,
		Status:    StatusDraft,
		CreatedAt: createdAt,
	}
}

// IsDeleted is the soft-delete marker. It can never disagree with Status.
func (a Article) IsDeleted() bool {
	return a.Status == StatusDeleted
}

// HasBeenPublished reports whether the article reached the published state at least once.
func (a Article) HasBeenPublished() bool {
	return a.PublishedAt != nil
}

// LeaseActive reports whether a publish lease is held at now.
func (a Article) LeaseActive(now time.Time) bool {
	return a.PublishLeaseUntil != nil && now.Before(*a.PublishLeaseUntil)
}

// Clone returns a deep copy so callers can mutate without aliasing slices or timestamps.
func (a Article) Clone() Article {
	c := a
	if a.SEOTags != nil {
		c.SEOTags = append([]string(nil), a.SEOTags...)
	}
	c.PublishedAt = cloneTime(a.PublishedAt)
	c.DeletedAt = cloneTime(a.DeletedAt)
	c.LastOptimizedAt = cloneTime(a.LastOptimizedAt)
	c.PublishLeaseUntil = cloneTime(a.PublishLeaseUntil)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr is a small helper for optional timestamps.
func TimePtr(t time.Time) *time.Time {
	return &t
}
