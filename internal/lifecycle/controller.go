// Package lifecycle applies article state transitions. Every transition is a
// single compare-and-swap update on the store; external collaborators are
// called outside the update and their results committed afterwards.
package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"content-pilot/internal/clock"
	"content-pilot/internal/metrics"
	"content-pilot/internal/model"
	"content-pilot/internal/policy"
	"content-pilot/internal/ports"
	"content-pilot/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	OpApprove     = "approve"
	OpPublish     = "publish"
	OpSoftDelete  = "soft-delete"
	OpRestore     = "restore"
	OpEdit        = "manual-edit"
	OpReoptimize  = "re-optimize"
	OpMarkAds     = "mark-ads"
	OpAutoPublish = "mark-auto-publish"
	OpView        = "record-view"
)

// Options tunes collaborator handling.
type Options struct {
	DefaultPlatform     string
	PublishLease        time.Duration
	CollaboratorTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		DefaultPlatform:     "wordpress",
		PublishLease:        5 * time.Minute,
		CollaboratorTimeout: 90 * time.Second,
	}
}

// Guard re-checks eligibility against the freshest snapshot. The scheduler
// passes its policy so a stale selection cannot act twice.
type Guard func(a model.Article, now time.Time) policy.Decision

// Deps wires the controller's collaborators.
type Deps struct {
	Store      store.Store
	Clock      clock.Clock
	Publishers ports.PublisherResolver
	Generator  ports.ContentGenerator
	Notifier   ports.Notifier
	Logger     *zap.Logger
	Options    Options
}

type Controller struct {
	store      store.Store
	clock      clock.Clock
	publishers ports.PublisherResolver
	generator  ports.ContentGenerator
	notifier   ports.Notifier
	logger     *zap.Logger
	opts       Options
}

func NewController(deps Deps) *Controller {
	c := &Controller{
		store:      deps.Store,
		clock:      deps.Clock,
		publishers: deps.Publishers,
		generator:  deps.Generator,
		notifier:   deps.Notifier,
		logger:     deps.Logger,
		opts:       deps.Options,
	}
	if c.clock == nil {
		c.clock = clock.System{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.opts.PublishLease <= 0 {
		c.opts.PublishLease = DefaultOptions().PublishLease
	}
	if c.opts.CollaboratorTimeout <= 0 {
		c.opts.CollaboratorTimeout = DefaultOptions().CollaboratorTimeout
	}
	return c
}

// PublishOutcome reports what Publish did.
type PublishOutcome struct {
	Article          model.Article
	AlreadyPublished bool
	Result           ports.PublishResult
}

// Message is the user-facing summary of the outcome.
func (o PublishOutcome) Message() string {
	if o.AlreadyPublished {
		return "already published"
	}
	return "published"
}

// Approve moves a draft to approved. Approving an approved article is a no-op.
func (c *Controller) Approve(ctx context.Context, id uuid.UUID) (*model.Article, error) {
	return c.transition(ctx, OpApprove, id, func(a *model.Article) error {
		switch a.Status {
		case model.StatusDraft:
			a.Status = model.StatusApproved
			return nil
		case model.StatusApproved:
			return errNoop
		case model.StatusDeleted:
			return violation(OpApprove, id, ReasonDeleted)
		default:
			return violation(OpApprove, id, ReasonNotDraft)
		}
	})
}

// Publish pushes an approved article to its platform. An article already in
// the published state is left alone and the publisher is not called. On
// publisher failure the article stays approved for the next cycle.
func (c *Controller) Publish(ctx context.Context, id uuid.UUID, guard Guard) (PublishOutcome, error) {
	logger := c.logger.With(zap.String("article_id", id.String()), zap.String("op", OpPublish))

	leaseUntil := c.clock.Now().Add(c.opts.PublishLease)
	claimed, err := c.store.Update(ctx, id, func(a *model.Article) error {
		now := c.clock.Now()
		switch {
		case a.Status == model.StatusPublished:
			return errNoop
		case a.IsDeleted():
			return violation(OpPublish, id, ReasonDeleted)
		case a.Status != model.StatusApproved:
			return violation(OpPublish, id, ReasonNotApproved)
		case a.LeaseActive(now):
			return violation(OpPublish, id, ReasonPublishInFlight)
		}
		if err := checkGuard(OpPublish, guard, *a, now); err != nil {
			return err
		}
		a.PublishLeaseUntil = &leaseUntil
		return nil
	})
	if errors.Is(err, errNoop) {
		current, getErr := c.store.Get(ctx, id)
		if getErr != nil {
			return PublishOutcome{}, c.fail(OpPublish, id, getErr)
		}
		metrics.TransitionsTotal.WithLabelValues(OpPublish, "noop").Inc()
		logger.Info("Publish skipped: already published")
		return PublishOutcome{Article: *current, AlreadyPublished: true}, nil
	}
	if err != nil {
		return PublishOutcome{}, c.fail(OpPublish, id, err)
	}

	result, pubErr := c.callPublisher(ctx, *claimed)
	if pubErr != nil {
		logger.Warn("Publisher failed, article stays approved", zap.Error(pubErr))
		c.releaseLease(ctx, id, leaseUntil)
		return PublishOutcome{}, c.fail(OpPublish, id, &Error{
			Kind: KindCollaborator, Op: OpPublish, ArticleID: id, Reason: "publisher failed", Err: pubErr,
		})
	}

	published, err := c.store.Update(ctx, id, func(a *model.Article) error {
		if a.Status != model.StatusApproved || a.PublishLeaseUntil == nil || !a.PublishLeaseUntil.Equal(leaseUntil) {
			return violation(OpPublish, id, ReasonChangedMeanwhile)
		}
		now := c.clock.Now()
		a.Status = model.StatusPublished
		if a.PublishedAt == nil {
			a.PublishedAt = &now
		}
		a.ExternalID = result.ExternalID
		a.URL = result.URL
		a.PublishLeaseUntil = nil
		return nil
	})
	if err != nil {
		// The post exists externally; surface loudly so an operator can reconcile.
		logger.Error("Published externally but commit failed",
			zap.String("external_id", result.ExternalID),
			zap.String("url", result.URL),
			zap.Error(err))
		return PublishOutcome{Result: result}, c.fail(OpPublish, id, err)
	}

	c.committed(ctx, OpPublish, "article.published", *published)
	logger.Info("Article published", zap.String("url", result.URL))
	return PublishOutcome{Article: *published, Result: result}, nil
}

// SoftDelete hides an article without destroying it.
func (c *Controller) SoftDelete(ctx context.Context, id uuid.UUID) (*model.Article, error) {
	return c.transition(ctx, OpSoftDelete, id, func(a *model.Article) error {
		if a.IsDeleted() {
			return violation(OpSoftDelete, id, ReasonAlreadyDeleted)
		}
		now := c.clock.Now()
		a.Status = model.StatusDeleted
		a.DeletedAt = &now
		a.PublishLeaseUntil = nil
		return nil
	})
}

// Restore brings a soft-deleted article back as approved.
func (c *Controller) Restore(ctx context.Context, id uuid.UUID) (*model.Article, error) {
	return c.transition(ctx, OpRestore, id, func(a *model.Article) error {
		if !a.IsDeleted() {
			return violation(OpRestore, id, ReasonNotDeleted)
		}
		a.Status = model.StatusApproved
		a.DeletedAt = nil
		return nil
	})
}

// Edit replaces title and content by hand and counts as a rewrite.
func (c *Controller) Edit(ctx context.Context, id uuid.UUID, title, content string) (*model.Article, error) {
	title, content = strings.TrimSpace(title), strings.TrimSpace(content)
	if title == "" || content == "" {
		return nil, c.fail(OpEdit, id, violation(OpEdit, id, ReasonMissingFields))
	}
	return c.transition(ctx, OpEdit, id, func(a *model.Article) error {
		if a.IsDeleted() {
			return violation(OpEdit, id, ReasonDeleted)
		}
		now := c.clock.Now()
		a.Title = title
		a.Content = content
		a.Status = model.StatusApproved
		a.RewriteCount++
		a.LastOptimizedAt = &now
		return nil
	})
}

// SetAds toggles ads without touching status.
func (c *Controller) SetAds(ctx context.Context, id uuid.UUID, enabled bool) (*model.Article, error) {
	return c.transition(ctx, OpMarkAds, id, func(a *model.Article) error {
		a.AdsEnabled = enabled
		return nil
	})
}

// SetAutoPublish includes or excludes one article from the auto-publish pool.
func (c *Controller) SetAutoPublish(ctx context.Context, id uuid.UUID, enabled bool) (*model.Article, error) {
	return c.transition(ctx, OpAutoPublish, id, func(a *model.Article) error {
		a.AutoPublish = enabled
		return nil
	})
}

// RecordView counts one read of a live published article.
func (c *Controller) RecordView(ctx context.Context, id uuid.UUID) (*model.Article, error) {
	updated, err := c.store.Update(ctx, id, func(a *model.Article) error {
		if a.Status != model.StatusPublished {
			return &Error{Kind: KindNotFound, Op: OpView, ArticleID: id, Reason: ReasonNotPublished}
		}
		a.ViewCount++
		return nil
	})
	if err != nil {
		return nil, c.fail(OpView, id, err)
	}
	return updated, nil
}

// transition runs a collaborator-free state change and records the outcome.
func (c *Controller) transition(ctx context.Context, op string, id uuid.UUID, fn store.UpdateFunc) (*model.Article, error) {
	updated, err := c.store.Update(ctx, id, fn)
	if errors.Is(err, errNoop) {
		current, getErr := c.store.Get(ctx, id)
		if getErr != nil {
			return nil, c.fail(op, id, getErr)
		}
		metrics.TransitionsTotal.WithLabelValues(op, "noop").Inc()
		return current, nil
	}
	if err != nil {
		return nil, c.fail(op, id, err)
	}
	c.committed(ctx, op, eventTypes[op], *updated)
	return updated, nil
}

var eventTypes = map[string]string{
	OpApprove:     "article.approved",
	OpSoftDelete:  "article.deleted",
	OpRestore:     "article.restored",
	OpEdit:        "article.edited",
	OpMarkAds:     "article.ads_changed",
	OpAutoPublish: "article.auto_publish_changed",
}

func (c *Controller) committed(ctx context.Context, op, eventType string, a model.Article) {
	metrics.TransitionsTotal.WithLabelValues(op, "ok").Inc()
	c.logger.Debug("Transition committed",
		zap.String("op", op),
		zap.String("article_id", a.ID.String()),
		zap.String("status", string(a.Status)))

	if c.notifier == nil {
		return
	}
	snapshot := a.Clone()
	snapshot.Content = ""
	event := ports.Event{Type: eventType, ArticleID: a.ID.String(), Status: string(a.Status), Article: snapshot}
	if err := c.notifier.Notify(ctx, event); err != nil {
		c.logger.Warn("Event notification failed", zap.String("event", eventType), zap.Error(err))
	}
}

// fail normalizes any error into *Error and counts it.
func (c *Controller) fail(op string, id uuid.UUID, err error) error {
	var lerr *Error
	switch {
	case errors.As(err, &lerr):
	case errors.Is(err, store.ErrNotFound):
		lerr = &Error{Kind: KindNotFound, Op: op, ArticleID: id, Reason: ReasonNotFound}
	default:
		lerr = &Error{Kind: KindPersistence, Op: op, ArticleID: id, Err: err}
	}
	metrics.TransitionsTotal.WithLabelValues(op, string(lerr.Kind)).Inc()
	return lerr
}

func (c *Controller) callPublisher(ctx context.Context, a model.Article) (ports.PublishResult, error) {
	if c.publishers == nil {
		return ports.PublishResult{}, errors.New("no publisher configured")
	}
	platform := a.Platform
	if platform == "" {
		platform = c.opts.DefaultPlatform
	}
	pub, err := c.publishers.Resolve(platform)
	if err != nil {
		return ports.PublishResult{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CollaboratorTimeout)
	defer cancel()

	started := time.Now()
	result, err := pub.Publish(callCtx, a)
	metrics.CollaboratorDuration.WithLabelValues("publisher", metrics.Status(err)).Observe(time.Since(started).Seconds())
	return result, err
}

// releaseLease drops our claim after a failed publish so the next cycle can retry.
func (c *Controller) releaseLease(ctx context.Context, id uuid.UUID, leaseUntil time.Time) {
	_, err := c.store.Update(ctx, id, func(a *model.Article) error {
		if a.PublishLeaseUntil == nil || !a.PublishLeaseUntil.Equal(leaseUntil) {
			return errNoop
		}
		a.PublishLeaseUntil = nil
		return nil
	})
	if err != nil && !errors.Is(err, errNoop) {
		c.logger.Warn("Could not release publish lease; it will expire",
			zap.String("article_id", id.String()), zap.Error(err))
	}
}

func checkGuard(op string, guard Guard, a model.Article, now time.Time) error {
	if guard == nil {
		return nil
	}
	if d := guard(a, now); !d.Eligible {
		return violation(op, a.ID, "not eligible: "+string(d.Reason))
	}
	return nil
}

// errNoop aborts an update that has nothing to change.
var errNoop = errors.New("no-op transition")
