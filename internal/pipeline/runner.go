package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"gold-exchange-go/internal/config"
	"gold-exchange-go/internal/models"
	"gold-exchange-go/internal/queue"
)

// Handler runs a claimed job. Returning an error releases the job for retry.
type Handler interface {
	Handle(ctx context.Context, job *models.Job) error
}

// Runner is a pool of workers that poll the queue and hand jobs to a Handler.
type Runner struct {
	queue        *queue.Queue
	handler      Handler
	workers      int
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewRunner creates a new Runner.
func NewRunner(q *queue.Queue, handler Handler, cfg config.Queue, logger *zap.Logger) *Runner {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	interval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Runner{
		queue:        q,
		handler:      handler,
		workers:      workers,
		pollInterval: interval,
		logger:       logger.Named("runner"),
	}
}

// Run starts the workers and blocks until ctx is cancelled and all of them
// have returned.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("Starting workers", zap.Int("workers", r.workers), zap.Duration("poll_interval", r.pollInterval))

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.work(ctx, id)
		}(i)
	}
	wg.Wait()

	r.logger.Info("All workers stopped")
}

func (r *Runner) work(ctx context.Context, id int) {
	log := r.logger.With(zap.Int("worker", id))
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		// drain whatever is ready before sleeping again
		for ctx.Err() == nil {
			processed, err := r.ProcessNext(ctx)
			if err != nil {
				log.Error("Failed to process job", zap.Error(err))
				break
			}
			if !processed {
				break
			}
		}

		select {
		case <-ctx.Done():
			log.Debug("Stopping worker")
			return
		case <-ticker.C:
		}
	}
}

// ProcessNext claims and handles a single job. It reports whether a job was
// claimed.
func (r *Runner) ProcessNext(ctx context.Context) (bool, error) {
	job, err := r.queue.Claim(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	log := r.logger.With(zap.Uint("job_id", job.ID), zap.String("kind", job.Kind), zap.Int("attempt", job.Attempts))
	log.Debug("Claimed job")

	handleErr := r.handler.Handle(ctx, job)
	if handleErr == nil {
		return true, nil
	}

	// leave the lease to expire on shutdown; the job is picked up again later
	if ctx.Err() != nil {
		log.Info("Job interrupted by shutdown", zap.Error(handleErr))
		return true, nil
	}

	if errors.Is(handleErr, queue.ErrUnknownKind) {
		return true, r.queue.Fail(ctx, job, handleErr)
	}
	log.Warn("Job failed", zap.Error(handleErr))
	return true, r.queue.Release(ctx, job, handleErr)
}
