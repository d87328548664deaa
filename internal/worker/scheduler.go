package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"content-pilot/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	ErrJobRunning = errors.New("job is already running")
	ErrUnknownJob = errors.New("unknown job")
)

// RunFunc executes one unit of scheduled work.
type RunFunc func(ctx context.Context) (BatchReport, error)

type job struct {
	name    string
	spec    string
	run     RunFunc
	running sync.Mutex
}

// Scheduler fires named jobs on cron triggers. A job never overlaps itself: a
// trigger that arrives while the previous run is still going is dropped.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	budget time.Duration

	mu   sync.RWMutex
	jobs map[string]*job
	base context.Context
}

// NewScheduler builds a scheduler evaluating cron specs in loc. Each run is
// cut off after budget; zero means no limit.
func NewScheduler(loc *time.Location, budget time.Duration, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger.Named("cron").Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		logger: logger,
		budget: budget,
		jobs:   make(map[string]*job),
		base:   context.Background(),
	}
}

// Register adds a job. An empty spec registers it for RunNow only.
func (s *Scheduler) Register(name, spec string, run RunFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	j := &job{name: name, spec: spec, run: run}
	if spec != "" {
		if _, err := s.cron.AddFunc(spec, func() { s.trigger(j) }); err != nil {
			return fmt.Errorf("job %q: bad schedule %q: %w", name, spec, err)
		}
	}
	s.jobs[name] = j
	return nil
}

// Jobs lists registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start runs triggers until ctx is done, then waits for in-flight runs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Strings("jobs", s.Jobs()))

	<-ctx.Done()
	s.logger.Info("Scheduler stopping, waiting for running jobs")
	<-s.cron.Stop().Done()
}

// RunNow executes a job immediately, subject to the same single-flight rule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (BatchReport, error) {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return BatchReport{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, j)
}

func (s *Scheduler) trigger(j *job) {
	s.mu.RLock()
	ctx := s.base
	s.mu.RUnlock()
	// Errors are already logged and counted.
	_, _ = s.execute(ctx, j)
}

func (s *Scheduler) execute(ctx context.Context, j *job) (BatchReport, error) {
	logger := s.logger.With(zap.String("job", j.name))
	if !j.running.TryLock() {
		metrics.JobRunsTotal.WithLabelValues(j.name, "overlap").Inc()
		logger.Warn("Previous run still in progress, trigger dropped")
		return BatchReport{Job: j.name}, ErrJobRunning
	}
	defer j.running.Unlock()

	if s.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.budget)
		defer cancel()
	}

	started := time.Now()
	report, err := j.run(ctx)
	report.Job = j.name
	report.Duration = time.Since(started)

	metrics.JobDuration.WithLabelValues(j.name).Observe(report.Duration.Seconds())
	metrics.JobRunsTotal.WithLabelValues(j.name, metrics.Status(err)).Inc()

	fields := append(report.fields(), zap.Duration("duration", report.Duration))
	if err != nil {
		logger.Error("Job failed", append(fields, zap.Error(err))...)
		return report, err
	}
	logger.Info("Job finished", fields...)
	return report, nil
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
