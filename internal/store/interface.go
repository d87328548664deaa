package store

import (
	"context"
	"errors"
	"time"

	"content-pilot/internal/model"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("article not found")
	ErrTopicNotFound = errors.New("topic not found")
	ErrExists        = errors.New("article already exists")
	// ErrConflict is returned when a compare-and-swap update kept losing to concurrent writers.
	ErrConflict = errors.New("concurrent update conflict")
)

// maxCASAttempts bounds optimistic retries inside Update and RecordTopic.
const maxCASAttempts = 8

// UpdateFunc mutates a private copy of the current article. Returning an error
// aborts the update and nothing is written.
type UpdateFunc func(a *model.Article) error

// Filter narrows List. An empty filter returns every article.
type Filter struct {
	Statuses []model.ArticleStatus
}

func (f Filter) match(a model.Article) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if a.Status == s {
			return true
		}
	}
	return false
}

// Store is the single owner of article and topic state. Every mutation goes
// through Update, which applies fn atomically against the latest committed row.
type Store interface {
	Create(ctx context.Context, article *model.Article) error
	Get(ctx context.Context, id uuid.UUID) (*model.Article, error)
	// List returns article metadata ordered by creation time. Canonical content
	// is not loaded.
	List(ctx context.Context, filter Filter) ([]model.Article, error)
	Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*model.Article, error)

	GetTopic(ctx context.Context, key string) (*model.TopicUsage, error)
	RecordTopic(ctx context.Context, key string, at time.Time) (*model.TopicUsage, error)
	ListTopics(ctx context.Context, limit int) ([]model.TopicUsage, error)

	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error

	Close() error
}

// ImportQueue is implemented by backends that can hand URLs to a background importer.
type ImportQueue interface {
	EnqueueImport(ctx context.Context, url string) error
	PopImport(ctx context.Context) (string, error)
}

func applyTopicUse(rec *model.TopicUsage, key string, at time.Time) model.TopicUsage {
	if rec == nil {
		return model.TopicUsage{Topic: key, TimesUsed: 1, LastUsedAt: at}
	}
	next := *rec
	next.TimesUsed++
	next.LastUsedAt = at
	return next
}
