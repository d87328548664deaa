package ports

import (
	"context"
	"errors"

	"content-pilot/internal/model"
)

var (
	// ErrEmptyOutput is returned by generators that answered but produced nothing usable.
	ErrEmptyOutput = errors.New("generator returned empty output")
)

// ContentGenerator turns a prompt into text. Ordinary empty or timeout cases
// are reported as errors, never panics.
type ContentGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// TopicSuggester proposes topic strings, best first.
type TopicSuggester interface {
	SuggestTopics(ctx context.Context, region string, limit int) ([]string, error)
}

// PublishResult identifies the post on the external platform.
type PublishResult struct {
	ExternalID string `json:"external_id"`
	URL        string `json:"url"`
}

// Publisher pushes an article snapshot to an external blog platform.
type Publisher interface {
	Publish(ctx context.Context, article model.Article) (PublishResult, error)
}

// PublisherResolver picks the publisher for a platform name.
type PublisherResolver interface {
	Resolve(platform string) (Publisher, error)
}

// Switch is the runtime auto-publish toggle read by the scheduler and flipped by admins.
type Switch interface {
	Enabled(ctx context.Context) (bool, error)
	SetEnabled(ctx context.Context, enabled bool) error
}

// Event describes a committed lifecycle transition.
type Event struct {
	Type      string        `json:"type"`
	ArticleID string        `json:"article_id"`
	Status    string        `json:"status"`
	Article   model.Article `json:"article"`
}

// Notifier broadcasts lifecycle events. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}
