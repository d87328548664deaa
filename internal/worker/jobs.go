package worker

import (
	"context"
	"errors"
	"time"

	"content-pilot/internal/clock"
	"content-pilot/internal/compose"
	"content-pilot/internal/lifecycle"
	"content-pilot/internal/metrics"
	"content-pilot/internal/model"
	"content-pilot/internal/policy"
	"content-pilot/internal/ports"
	"content-pilot/internal/selector"
	"content-pilot/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	JobAutoPublish    = "auto-publish-one"
	JobCTROptimize    = "ctr-optimize-batch"
	JobContentRefresh = "content-refresh-batch"
)

// BatchReport aggregates per-item outcomes of one job run.
type BatchReport struct {
	Job       string        `json:"job"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Abandoned int           `json:"abandoned"`
	Duration  time.Duration `json:"duration_ns"`
	// Note explains a run that did nothing, e.g. the switch is off.
	Note string `json:"note,omitempty"`
}

func (r BatchReport) fields() []zap.Field {
	return []zap.Field{
		zap.Int("attempted", r.Attempted),
		zap.Int("succeeded", r.Succeeded),
		zap.Int("failed", r.Failed),
		zap.Int("skipped", r.Skipped),
		zap.Int("abandoned", r.Abandoned),
		zap.String("note", r.Note),
	}
}

// Composer produces a fresh article when the publish pool is empty.
type Composer interface {
	FromTrending(ctx context.Context) (*model.Article, error)
}

// Transitions is the part of the lifecycle controller the jobs drive.
type Transitions interface {
	Publish(ctx context.Context, id uuid.UUID, guard lifecycle.Guard) (lifecycle.PublishOutcome, error)
	Reoptimize(ctx context.Context, id uuid.UUID, mode lifecycle.Mode, guard lifecycle.Guard) (*model.Article, error)
}

type JobsConfig struct {
	Thresholds        policy.Thresholds
	CTRLimit          int
	RefreshLimit      int
	GenerateWhenEmpty bool
}

type JobsDeps struct {
	Store       store.Store
	Transitions Transitions
	Switch      ports.Switch
	Composer    Composer
	Clock       clock.Clock
	Logger      *zap.Logger
	Config      JobsConfig
}

// Jobs holds the three scheduled units of work.
type Jobs struct {
	store    store.Store
	ctrl     Transitions
	sw       ports.Switch
	composer Composer
	clock    clock.Clock
	logger   *zap.Logger
	cfg      JobsConfig
}

func NewJobs(deps JobsDeps) *Jobs {
	j := &Jobs{
		store:    deps.Store,
		ctrl:     deps.Transitions,
		sw:       deps.Switch,
		composer: deps.Composer,
		clock:    deps.Clock,
		logger:   deps.Logger,
		cfg:      deps.Config,
	}
	if j.clock == nil {
		j.clock = clock.System{}
	}
	if j.logger == nil {
		j.logger = zap.NewNop()
	}
	return j
}

// Register adds the jobs to s under their cron specs.
func (j *Jobs) Register(s *Scheduler, publishSpec, ctrSpec, refreshSpec string) error {
	if err := s.Register(JobAutoPublish, publishSpec, j.AutoPublishOne); err != nil {
		return err
	}
	if err := s.Register(JobCTROptimize, ctrSpec, j.CTROptimizeBatch); err != nil {
		return err
	}
	return s.Register(JobContentRefresh, refreshSpec, j.ContentRefreshBatch)
}

// AutoPublishOne publishes the best approved candidate, or a freshly composed
// article when the pool is empty and generation is enabled.
func (j *Jobs) AutoPublishOne(ctx context.Context) (BatchReport, error) {
	var report BatchReport
	enabled, err := j.sw.Enabled(ctx)
	if err != nil {
		return report, err
	}
	if !enabled {
		report.Note = "auto-publish disabled"
		return report, nil
	}

	pool, err := j.store.List(ctx, store.Filter{Statuses: []model.ArticleStatus{model.StatusApproved}})
	if err != nil {
		return report, err
	}
	candidate, ok := selector.BestForPublish(pool)
	if !ok {
		if !j.cfg.GenerateWhenEmpty || j.composer == nil {
			report.Note = "no eligible candidate"
			return report, nil
		}
		fresh, err := j.composer.FromTrending(ctx)
		if errors.Is(err, compose.ErrNoAllowedTopic) {
			report.Note = "no eligible candidate and no allowed topic"
			return report, nil
		}
		if err != nil {
			return report, err
		}
		candidate = *fresh
	}

	guard := func(a model.Article, _ time.Time) policy.Decision { return policy.AutoPublish(a) }
	return j.runBatch(ctx, JobAutoPublish, []model.Article{candidate}, func(ctx context.Context, id uuid.UUID) error {
		_, err := j.ctrl.Publish(ctx, id, guard)
		return err
	})
}

// CTROptimizeBatch re-optimizes SEO on the weakest published articles.
func (j *Jobs) CTROptimizeBatch(ctx context.Context) (BatchReport, error) {
	pool, err := j.store.List(ctx, store.Filter{Statuses: []model.ArticleStatus{model.StatusPublished}})
	if err != nil {
		return BatchReport{}, err
	}
	th := j.cfg.Thresholds
	batch := selector.CTRBatch(pool, th, j.clock.Now(), j.cfg.CTRLimit)
	guard := func(a model.Article, now time.Time) policy.Decision { return th.CTRRewrite(a, now) }

	return j.runBatch(ctx, JobCTROptimize, batch, func(ctx context.Context, id uuid.UUID) error {
		_, err := j.ctrl.Reoptimize(ctx, id, lifecycle.ModeCTR, guard)
		return err
	})
}

// ContentRefreshBatch rewrites old low-traffic published articles.
func (j *Jobs) ContentRefreshBatch(ctx context.Context) (BatchReport, error) {
	pool, err := j.store.List(ctx, store.Filter{Statuses: []model.ArticleStatus{model.StatusPublished}})
	if err != nil {
		return BatchReport{}, err
	}
	th := j.cfg.Thresholds
	batch := selector.RefreshBatch(pool, th, j.clock.Now(), j.cfg.RefreshLimit)
	guard := func(a model.Article, now time.Time) policy.Decision {
		if a.Status != model.StatusPublished {
			return policy.Decision{Reason: policy.ReasonNotPublished}
		}
		return th.ContentRefresh(a, now)
	}

	return j.runBatch(ctx, JobContentRefresh, batch, func(ctx context.Context, id uuid.UUID) error {
		_, err := j.ctrl.Reoptimize(ctx, id, lifecycle.ModeRefresh, guard)
		return err
	})
}

// runBatch applies fn to each candidate in order. Item failures are counted
// and the batch continues; a persistence failure ends the run. Items left when
// the budget runs out are abandoned untouched.
func (j *Jobs) runBatch(ctx context.Context, name string, batch []model.Article, fn func(context.Context, uuid.UUID) error) (BatchReport, error) {
	report := BatchReport{}
	for i, a := range batch {
		if ctx.Err() != nil {
			report.Abandoned = len(batch) - i
			metrics.JobItemsTotal.WithLabelValues(name, "abandoned").Add(float64(report.Abandoned))
			j.logger.Warn("Job budget exhausted, abandoning remaining items",
				zap.String("job", name), zap.Int("abandoned", report.Abandoned))
			return report, nil
		}

		report.Attempted++
		logger := j.logger.With(zap.String("job", name), zap.String("article_id", a.ID.String()))
		err := fn(ctx, a.ID)
		switch {
		case err == nil:
			report.Succeeded++
			metrics.JobItemsTotal.WithLabelValues(name, "succeeded").Inc()
		case errors.Is(err, lifecycle.ErrPolicyViolation), errors.Is(err, lifecycle.ErrNotFound):
			// Selection went stale between listing and the conditional update.
			report.Skipped++
			metrics.JobItemsTotal.WithLabelValues(name, "skipped").Inc()
			logger.Info("Item skipped", zap.Error(err))
		case errors.Is(err, lifecycle.ErrPersistence):
			report.Failed++
			report.Abandoned = len(batch) - i - 1
			metrics.JobItemsTotal.WithLabelValues(name, "failed").Inc()
			metrics.JobItemsTotal.WithLabelValues(name, "abandoned").Add(float64(report.Abandoned))
			return report, err
		default:
			report.Failed++
			metrics.JobItemsTotal.WithLabelValues(name, "failed").Inc()
			logger.Warn("Item failed, will be reconsidered next run", zap.Error(err))
		}
	}
	return report, nil
}
