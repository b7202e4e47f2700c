// Package worker runs background text extraction for uploaded files.
package worker

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/johnestech/smart-study-assistant/internal/app"
	"github.com/johnestech/smart-study-assistant/pkg/queue"
)

// Worker consumes extraction jobs and processes the referenced files.
type Worker struct {
	app         *app.App
	jobs        queue.JobQueue
	log         *slog.Logger
	concurrency int
}

// New builds a Worker. Concurrency below 1 defaults to 1.
func New(a *app.App, jobs queue.JobQueue, concurrency int, log *slog.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{app: a, jobs: jobs, log: log, concurrency: concurrency}
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			err := w.jobs.Consume(ctx, w.handle)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

func (w *Worker) handle(ctx context.Context, job queue.ExtractionJob) error {
	if err := w.app.ProcessFile(ctx, job.FileID); err != nil {
		w.log.Error("file processing failed", "file_id", job.FileID, "error", err)
		return err
	}
	return nil
}
