package worker

import (
	"context"
	"time"

	"content-pilot/internal/model"
	"content-pilot/internal/store"

	"go.uber.org/zap"
)

// Importer turns a queued URL into a stored draft.
type Importer interface {
	Import(ctx context.Context, url string) (*model.Article, error)
}

// Worker drains the import queue in the background.
type Worker struct {
	queue    store.ImportQueue
	importer Importer
	logger   *zap.Logger
	backoff  time.Duration
}

func NewWorker(queue store.ImportQueue, importer Importer, logger *zap.Logger) *Worker {
	return &Worker{
		queue:    queue,
		importer: importer,
		logger:   logger,
		backoff:  time.Second,
	}
}

// Start runs the worker loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Import worker started. Waiting for jobs...")

	for {
		// Blocking pop
		url, err := w.queue.PopImport(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Import worker shutting down")
				return
			}
			w.logger.Error("Queue error", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.backoff):
			}
			continue
		}

		w.processJob(ctx, url)
	}
}

func (w *Worker) processJob(ctx context.Context, url string) {
	logger := w.logger.With(zap.String("url", url))
	logger.Info("Processing started")

	article, err := w.importer.Import(ctx, url)
	if err != nil {
		// Failed imports are dropped; the caller can enqueue again.
		logger.Error("Import failed", zap.Error(err))
		return
	}
	logger.Info("Import stored as draft", zap.String("article_id", article.ID.String()))
}
