package main

import (
	"errors"
	"fmt"

	"content-pilot/internal/clock"
	"content-pilot/internal/compose"
	"content-pilot/internal/config"
	"content-pilot/internal/dashboard"
	"content-pilot/internal/events"
	"content-pilot/internal/importer"
	"content-pilot/internal/lifecycle"
	"content-pilot/internal/llm"
	"content-pilot/internal/ports"
	"content-pilot/internal/publisher"
	"content-pilot/internal/server"
	"content-pilot/internal/store"
	"content-pilot/internal/topics"
	"content-pilot/internal/trends"
	"content-pilot/internal/worker"

	"go.uber.org/zap"
)

// app is the fully wired engine shared by every command.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	store store.Store
	// queue is nil for backends without an import queue.
	queue store.ImportQueue

	ctrl      *lifecycle.Controller
	composer  *compose.Composer
	importer  *importer.Importer
	sw        *worker.StoreSwitch
	scheduler *worker.Scheduler
	jobs      *worker.Jobs
	dashboard *dashboard.Service

	closers []func() error
}

// openStore connects the configured backend. In client mode the hybrid store
// skips Badger so a running server keeps its file lock; only metadata,
// settings and the import queue are reachable then.
func openStore(cfg config.StoreConfig, clientMode bool) (store.Store, store.ImportQueue, error) {
	switch cfg.Backend {
	case config.BackendHybrid:
		badgerPath := cfg.BadgerPath
		if clientMode {
			badgerPath = ""
		}
		st, err := store.NewHybridStore(cfg.RedisAddr, badgerPath)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	case config.BackendSQLite, config.BackendPostgres:
		st, err := store.NewSQLStore(cfg.Backend, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func newApp(cfg config.Config, logger *zap.Logger, clientMode bool) (*app, error) {
	st, queue, err := openStore(cfg.Store, clientMode)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: st, queue: queue}
	a.closers = append(a.closers, st.Close)

	clk := clock.System{}
	gen := llm.NewChatGPTClient(cfg.Generator)

	var suggester ports.TopicSuggester = gen
	if len(cfg.Trends.Feeds) > 0 {
		suggester = trends.NewFeedSuggester(cfg.Trends.Feeds, logger.Named("trends"))
	}

	registry := publisher.NewRegistry()
	registry.Register("wordpress", publisher.NewWordPress(cfg.Publisher))

	var notifier ports.Notifier = events.Nop{}
	if cfg.Events.NATSURL != "" {
		nn, err := events.NewNATSNotifier(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger.Named("events"))
		if err != nil {
			// Events are best effort; the engine runs without them.
			logger.Warn("NATS unavailable, lifecycle events disabled", zap.Error(err))
		} else {
			notifier = nn
			a.closers = append(a.closers, nn.Close)
		}
	}

	a.ctrl = lifecycle.NewController(lifecycle.Deps{
		Store:      st,
		Clock:      clk,
		Publishers: registry,
		Generator:  gen,
		Notifier:   notifier,
		Logger:     logger.Named("lifecycle"),
		Options: lifecycle.Options{
			DefaultPlatform:     cfg.Publisher.Platform,
			PublishLease:        cfg.Schedule.PublishLease,
			CollaboratorTimeout: cfg.Generator.Timeout,
		},
	})

	tracker := topics.NewTracker(st, clk, cfg.Policy.Topics(), logger.Named("topics"))
	a.composer = compose.New(compose.Deps{
		Store:     st,
		Tracker:   tracker,
		Suggester: suggester,
		Generator: gen,
		Clock:     clk,
		Logger:    logger.Named("compose"),
		Options: compose.Options{
			Region:       cfg.Trends.Region,
			SuggestLimit: cfg.Trends.Limit,
			Platform:     cfg.Publisher.Platform,
			Timeout:      cfg.Generator.Timeout,
		},
	})
	a.importer = importer.New(st, nil, clk, logger.Named("importer"))
	a.sw = worker.NewStoreSwitch(st)
	a.dashboard = dashboard.New(st, clk)

	a.scheduler = worker.NewScheduler(cfg.Schedule.Location(), cfg.Schedule.JobBudget, logger.Named("scheduler"))
	a.jobs = worker.NewJobs(worker.JobsDeps{
		Store:       st,
		Transitions: a.ctrl,
		Switch:      a.sw,
		Composer:    a.composer,
		Clock:       clk,
		Logger:      logger.Named("jobs"),
		Config: worker.JobsConfig{
			Thresholds:        cfg.Policy.Thresholds,
			CTRLimit:          cfg.Batches.CTRLimit,
			RefreshLimit:      cfg.Batches.RefreshLimit,
			GenerateWhenEmpty: cfg.Schedule.GenerateWhenEmpty,
		},
	})
	if err := a.jobs.Register(a.scheduler, cfg.Schedule.AutoPublish, cfg.Schedule.CTROptimize, cfg.Schedule.ContentRefresh); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) server() *server.Server {
	deps := server.Deps{
		Store:     a.store,
		Lifecycle: a.ctrl,
		Switch:    a.sw,
		Dashboard: a.dashboard,
		Composer:  a.composer,
		Importer:  a.importer,
		Queue:     a.queue,
		Jobs:      a.scheduler,
		Logger:    a.logger.Named("http"),
	}
	return server.NewServer(deps)
}

// importWorker drains the import queue when the backend has one.
func (a *app) importWorker() *worker.Worker {
	if a.queue == nil {
		return nil
	}
	return worker.NewWorker(a.queue, a.importer, a.logger.Named("import-worker"))
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
