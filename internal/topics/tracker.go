// Package topics remembers which topics generation already consumed and
// enforces the reuse cooldown and usage quota.
package topics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"content-pilot/internal/clock"
	"content-pilot/internal/metrics"
	"content-pilot/internal/model"
	"content-pilot/internal/store"

	"go.uber.org/zap"
)

const (
	DefaultMaxUsage = 3
	DefaultCooldown = 14 * 24 * time.Hour
)

var ErrEmptyTopic = errors.New("topic is empty")

// Policy bounds topic reuse.
type Policy struct {
	MaxUsage int
	Cooldown time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxUsage: DefaultMaxUsage, Cooldown: DefaultCooldown}
}

// Allowed decides reuse for an existing record. A nil record is always allowed.
func (p Policy) Allowed(rec *model.TopicUsage, now time.Time) bool {
	if rec == nil {
		return true
	}
	if rec.TimesUsed >= p.MaxUsage {
		return false
	}
	return now.Sub(rec.LastUsedAt) >= p.Cooldown
}

// Store is the slice of the lifecycle store the tracker needs.
type Store interface {
	GetTopic(ctx context.Context, key string) (*model.TopicUsage, error)
	RecordTopic(ctx context.Context, key string, at time.Time) (*model.TopicUsage, error)
}

type Tracker struct {
	store  Store
	clock  clock.Clock
	policy Policy
	logger *zap.Logger
}

func NewTracker(st Store, clk clock.Clock, policy Policy, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: st, clock: clk, policy: policy, logger: logger}
}

// IsAllowed reports whether topic may be used now. Store errors are returned,
// never treated as "allowed".
func (t *Tracker) IsAllowed(ctx context.Context, topic string) (bool, error) {
	key := model.NormalizeTopic(topic)
	if key == "" {
		return false, ErrEmptyTopic
	}

	rec, err := t.store.GetTopic(ctx, key)
	if errors.Is(err, store.ErrTopicNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load topic %q: %w", key, err)
	}
	return t.policy.Allowed(rec, t.clock.Now()), nil
}

// RecordUsage counts one consumption of topic. Call it once per persisted article.
func (t *Tracker) RecordUsage(ctx context.Context, topic string) (*model.TopicUsage, error) {
	key := model.NormalizeTopic(topic)
	if key == "" {
		return nil, ErrEmptyTopic
	}

	rec, err := t.store.RecordTopic(ctx, key, t.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("record topic %q: %w", key, err)
	}
	metrics.TopicsRecorded.Inc()
	t.logger.Debug("Topic usage recorded",
		zap.String("topic", key),
		zap.Int("times_used", rec.TimesUsed))
	return rec, nil
}
