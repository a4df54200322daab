// Package runner executes deep runs chunk by chunk against a chunk worker,
// persisting progress and recovering failed chunks with fallback layers.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/genius/internal/archetype"
	"github.com/kalambet/genius/internal/jobs"
	"github.com/kalambet/genius/internal/pipeline"
)

const (
	defaultChunkSize     = 2
	defaultChunkDelay    = time.Second
	defaultContextWindow = 6
)

// ChunkRequest asks a worker to produce layers [StartLayer, EndLayer].
type ChunkRequest struct {
	JobID       string                `json:"jobId"`
	Question    string                `json:"question"`
	CircuitType pipeline.CircuitType  `json:"circuitType"`
	Archetypes  []archetype.Archetype `json:"archetypes"`
	StartLayer  int                   `json:"startLayer"`
	EndLayer    int                   `json:"endLayer"`
	TotalLayers int                   `json:"totalLayers"`
	Context     []pipeline.Layer      `json:"context"`
	Seed        uint64                `json:"seed,omitempty"`
}

// Worker processes one chunk of layers.
type Worker interface {
	ProcessChunk(ctx context.Context, req ChunkRequest) ([]pipeline.Layer, error)
}

// Options configure a Runner.
type Options struct {
	ChunkSize     int
	ChunkDelay    time.Duration
	ContextWindow int
	// Finalize, when set, decorates the result (compression, quality)
	// before the job is completed.
	Finalize func(ctx context.Context, req pipeline.Request, res *pipeline.Result)
}

// Runner drives chunked runs. One Runner may serve many jobs, but each job
// must be run by a single goroutine.
type Runner struct {
	store  jobs.Store
	worker Worker
	opts   Options
	logger *slog.Logger
}

// New creates a Runner. Zero options take their defaults.
func New(store jobs.Store, w Worker, opts Options) *Runner {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.ChunkDelay < 0 {
		opts.ChunkDelay = 0
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = defaultContextWindow
	}
	return &Runner{
		store:  store,
		worker: w,
		opts:   opts,
		logger: slog.Default().With("component", "runner"),
	}
}

// DefaultOptions returns the standard chunk size, delay and context window.
func DefaultOptions() Options {
	return Options{ChunkSize: defaultChunkSize, ChunkDelay: defaultChunkDelay, ContextWindow: defaultContextWindow}
}

// RunChunked runs req for job jobID. Failed chunks become fallback layers, so
// the result always holds layers 1..ProcessingDepth. Job store failures are
// fatal and returned as *jobs.StoreError. If the job was cancelled while
// running, the error wraps jobs.ErrFinished and the store is left alone.
func (r *Runner) RunChunked(ctx context.Context, jobID string, req pipeline.Request, set []archetype.Archetype) (*pipeline.Result, error) {
	depth := req.ProcessingDepth
	size := r.opts.ChunkSize
	totalChunks := (depth + size - 1) / size
	log := r.logger.With("job_id", jobID)

	layers := make([]pipeline.Layer, 0, depth)
	for ci := 0; ci < totalChunks; ci++ {
		start := ci*size + 1
		end := min(start+size-1, depth)

		if ci > 0 && r.opts.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, r.abort(ctx, jobID, ctx.Err())
			case <-time.After(r.opts.ChunkDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, r.abort(ctx, jobID, err)
		}

		progress := jobs.Progress{
			CurrentLayer: start,
			TotalLayers:  depth,
			Phase:        fmt.Sprintf("chunk %d/%d", ci+1, totalChunks),
			Chunk: jobs.ChunkProgress{
				Current:               ci + 1,
				Total:                 totalChunks,
				BreakthroughPotential: BreakthroughPotential(layers, depth),
				TensionLevel:          averageTension(layers),
			},
		}
		if err := r.store.UpdateProgress(ctx, jobID, progress); err != nil {
			return nil, r.storeFailure(ctx, jobID, "update progress", err)
		}

		chunk, err := r.worker.ProcessChunk(ctx, ChunkRequest{
			JobID:       jobID,
			Question:    req.Question,
			CircuitType: req.CircuitType,
			Archetypes:  set,
			StartLayer:  start,
			EndLayer:    end,
			TotalLayers: depth,
			Context:     lastN(layers, r.opts.ContextWindow),
			Seed:        chunkSeed(req.Seed, start),
		})
		if err == nil {
			err = checkChunk(chunk, start, end)
		}

		label := fmt.Sprintf("chunk-%d", ci+1)
		if err != nil {
			if ctx.Err() != nil {
				return nil, r.abort(ctx, jobID, ctx.Err())
			}
			lpe := &pipeline.LayerProcessingError{Layer: start, Err: err}
			log.Warn("chunk failed, using fallback layers", "chunk", ci+1, "start", start, "end", end, "error", lpe)
			chunk = FallbackLayers(req.Question, start, end)
			label += "-fallback"
		}

		if err := r.store.AppendResults(ctx, jobID, label, chunk); err != nil {
			return nil, r.storeFailure(ctx, jobID, "append results", err)
		}
		layers = append(layers, chunk...)
		log.Debug("chunk complete", "chunk", ci+1, "of", totalChunks, "layers", len(layers))
	}

	potential := BreakthroughPotential(layers, depth)
	res := pipeline.NewResult(req, layers, FinalSynthesis(req.Question, layers, potential))
	if r.opts.Finalize != nil {
		r.opts.Finalize(ctx, req, res)
	}

	if err := r.store.CompleteJob(ctx, jobID, res); err != nil {
		return nil, r.storeFailure(ctx, jobID, "complete job", err)
	}
	log.Info("chunked run complete", "layers", len(layers), "breakthrough_potential", potential)
	return res, nil
}

// storeFailure converts a store write error into a fatal *jobs.StoreError,
// attempting FailJob on a best-effort basis.
func (r *Runner) storeFailure(ctx context.Context, jobID, op string, err error) error {
	if errors.Is(err, jobs.ErrFinished) {
		r.logger.Info("job finished externally, stopping", "job_id", jobID)
		return fmt.Errorf("job %s: %w", jobID, err)
	}
	serr := &jobs.StoreError{Op: op, Err: err}
	if ferr := r.store.FailJob(context.WithoutCancel(ctx), jobID, serr.Error()); ferr != nil {
		r.logger.Error("failed to mark job as failed", "job_id", jobID, "error", ferr)
	}
	return serr
}

// abort marks a job failed after cancellation of ctx.
func (r *Runner) abort(ctx context.Context, jobID string, cause error) error {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.FailJob(fctx, jobID, "run interrupted: "+cause.Error()); err != nil && !errors.Is(err, jobs.ErrFinished) {
		r.logger.Error("failed to mark interrupted job as failed", "job_id", jobID, "error", err)
	}
	return cause
}

func checkChunk(layers []pipeline.Layer, start, end int) error {
	if len(layers) != end-start+1 {
		return fmt.Errorf("worker returned %d layers for range %d-%d", len(layers), start, end)
	}
	for i, l := range layers {
		if l.LayerNumber != start+i {
			return fmt.Errorf("worker returned layer %d at position %d, want %d", l.LayerNumber, i, start+i)
		}
	}
	return nil
}

func lastN(layers []pipeline.Layer, n int) []pipeline.Layer {
	if len(layers) <= n {
		return append([]pipeline.Layer(nil), layers...)
	}
	return append([]pipeline.Layer(nil), layers[len(layers)-n:]...)
}

// chunkSeed derives a per-chunk seed so that seeded runs stay reproducible.
func chunkSeed(seed uint64, start int) uint64 {
	if seed == 0 {
		return 0
	}
	return seed + uint64(start)
}
