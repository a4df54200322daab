// Package worker claims queued deep-run jobs and drives them through the
// chunked runner.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/genius/internal/archetype"
	"github.com/kalambet/genius/internal/jobs"
	"github.com/kalambet/genius/internal/pipeline"
)

// JobRunner executes one claimed job to completion.
type JobRunner interface {
	RunChunked(ctx context.Context, jobID string, req pipeline.Request, set []archetype.Archetype) (*pipeline.Result, error)
}

// Worker processes jobs from a jobs.Queue.
type Worker struct {
	queue    jobs.Queue
	runner   JobRunner
	defaults []archetype.Archetype
	poll     time.Duration
	logger   *slog.Logger
}

// New creates a Worker. defaults is the archetype set that each job's custom
// archetypes are merged onto. If pollInterval is <= 0, it defaults to 500ms.
func New(queue jobs.Queue, runner JobRunner, defaults []archetype.Archetype, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		queue:    queue,
		runner:   runner,
		defaults: defaults,
		poll:     pollInterval,
		logger:   slog.Default().With("component", "worker"),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunPool runs n workers concurrently and returns once all have stopped
// after ctx is cancelled.
func (w *Worker) RunPool(ctx context.Context, n int) {
	var wg sync.WaitGroup
	for range max(n, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()
}

// RunOnce claims and runs a single job.
// Returns true if a job was claimed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.ClaimNext(ctx)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	log := w.logger.With("job_id", job.ID)

	set, err := pipeline.ResolveArchetypes(w.defaults, job.Request.CustomArchetypes)
	if err != nil {
		log.Warn("job rejected", "error", err)
		if failErr := w.queue.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			log.Error("failed to mark job as failed", "error", failErr)
		}
		return true, nil
	}

	log.Info("running job", "depth", job.ProcessingDepth, "circuit", job.CircuitType)
	_, err = w.runner.RunChunked(ctx, job.ID, job.Request, set)
	var serr *jobs.StoreError
	switch {
	case err == nil:
	case errors.Is(err, jobs.ErrFinished):
		log.Info("job finished externally")
	case errors.As(err, &serr):
		return true, fmt.Errorf("running job %s: %w", job.ID, err)
	default:
		log.Warn("job failed", "error", err)
	}
	return true, nil
}
