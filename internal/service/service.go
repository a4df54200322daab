// Package service is the application layer shared by the HTTP API, the MCP
// server and the CLI. It decides whether a run executes directly or as a
// chunked background job, and finishes every result with compression, the
// quality block and a metrics record.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/genius/internal/advisor"
	"github.com/kalambet/genius/internal/archetype"
	"github.com/kalambet/genius/internal/compress"
	"github.com/kalambet/genius/internal/jobs"
	"github.com/kalambet/genius/internal/pipeline"
)

const (
	defaultDirectMaxDepth = 3
	defaultDirectTimeout  = 30 * time.Second
)

// Options wire a Service.
type Options struct {
	// Orchestrator runs direct requests. It should be lenient so that a
	// completion failure degrades to templates instead of failing the run.
	Orchestrator *pipeline.Orchestrator
	Queue        jobs.Queue
	Formatter    *compress.Formatter
	Advisor      *advisor.Advisor
	// DirectMaxDepth is the deepest run executed synchronously.
	DirectMaxDepth int
	DirectTimeout  time.Duration
	// Seed is applied to requests that leave their seed unset, making
	// every run reproducible. 0 keeps clock seeding.
	Seed uint64
}

// Service handles runs, jobs, compression and recommendations.
type Service struct {
	orch      *pipeline.Orchestrator
	queue     jobs.Queue
	formatter *compress.Formatter
	advisor   *advisor.Advisor
	directMax int
	timeout   time.Duration
	seed      uint64
	logger    *slog.Logger
}

// New creates a Service. Zero options take their defaults.
func New(opts Options) *Service {
	if opts.DirectMaxDepth <= 0 {
		opts.DirectMaxDepth = defaultDirectMaxDepth
	}
	if opts.DirectTimeout <= 0 {
		opts.DirectTimeout = defaultDirectTimeout
	}
	if opts.Advisor == nil {
		opts.Advisor = advisor.New(nil)
	}
	return &Service{
		orch:      opts.Orchestrator,
		queue:     opts.Queue,
		formatter: opts.Formatter,
		advisor:   opts.Advisor,
		directMax: opts.DirectMaxDepth,
		timeout:   opts.DirectTimeout,
		seed:      opts.Seed,
		logger:    slog.Default().With("component", "service"),
	}
}

// Submission is the outcome of Submit: either a finished Result or the id
// of a queued job.
type Submission struct {
	Result *pipeline.Result `json:"result,omitempty"`
	JobID  string           `json:"jobId,omitempty"`
	Status jobs.Status      `json:"status"`
}

// Queued reports whether the run was handed to the job queue.
func (s Submission) Queued() bool { return s.JobID != "" }

// Submit validates req and either runs it directly or queues it.
func (s *Service) Submit(ctx context.Context, req pipeline.Request) (*Submission, error) {
	req, err := pipeline.Normalize(req)
	if err != nil {
		return nil, err
	}
	if req.Seed == 0 {
		req.Seed = s.seed
	}
	if _, err := pipeline.ResolveArchetypes(s.orch.Archetypes(), req.CustomArchetypes); err != nil {
		return nil, err
	}

	if req.ProcessingDepth <= s.directMax || s.queue == nil {
		res, err := s.RunDirect(ctx, req)
		if err != nil {
			if res != nil {
				return &Submission{Result: res, Status: jobs.StatusFailed}, err
			}
			return nil, err
		}
		return &Submission{Result: res, Status: jobs.StatusCompleted}, nil
	}

	id, err := s.queue.CreateJob(ctx, req)
	if err != nil {
		return nil, &jobs.StoreError{Op: "create job", Err: err}
	}
	s.logger.Info("queued chunked run", "job_id", id, "depth", req.ProcessingDepth, "circuit", req.CircuitType)
	return &Submission{JobID: id, Status: jobs.StatusPending}, nil
}

// RunDirect runs req synchronously under the direct-path timeout. When a
// layer fails for good, the completed layers are returned with the
// *pipeline.LayerProcessingError.
func (s *Service) RunDirect(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	req, err := pipeline.Normalize(req)
	if err != nil {
		return nil, err
	}

	dctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	res, err := s.orch.Run(dctx, req, nil)
	if err != nil {
		if ctx.Err() == nil && errors.Is(dctx.Err(), context.DeadlineExceeded) {
			return nil, &pipeline.TimeoutError{After: s.timeout}
		}
		var lpe *pipeline.LayerProcessingError
		if errors.As(err, &lpe) && res != nil {
			s.logger.Warn("direct run stopped early", "completed_layers", len(res.Layers), "error", err)
			return res, err
		}
		return nil, err
	}
	s.Finalize(ctx, req, res)
	s.logger.Debug("direct run complete", "depth", req.ProcessingDepth, "duration", time.Since(start))
	return res, nil
}

// Finalize attaches compression formats and the quality block to res and
// records the run's metrics. The chunk runner calls it before completing a
// job.
func (s *Service) Finalize(ctx context.Context, req pipeline.Request, res *pipeline.Result) {
	settings := compress.Settings{Length: compress.Medium}
	if req.CompressionSettings != nil {
		settings = *req.CompressionSettings
	}
	if s.formatter != nil {
		f := s.formatter.Compress(ctx, res.Insight, req.Question, settings, req.OutputType)
		res.CompressionFormats = &f
	} else {
		f := compress.Fallback(res.Insight)
		res.CompressionFormats = &f
	}

	set, err := pipeline.ResolveArchetypes(s.orch.Archetypes(), req.CustomArchetypes)
	if err != nil {
		set = s.orch.Archetypes()
	}
	res.QuestionQuality = pipeline.Assess(res, req.EnhancedMode, set)

	s.advisor.Record(ctx, req, res)
}

// GetJob returns a job with its chunk results.
func (s *Service) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	if s.queue == nil {
		return nil, jobs.ErrNotFound
	}
	return s.queue.GetJob(ctx, id)
}

// CancelJob stops a pending or processing job. The runner notices at its
// next store write.
func (s *Service) CancelJob(ctx context.Context, id string) error {
	if s.queue == nil {
		return jobs.ErrNotFound
	}
	if err := s.queue.CancelJob(ctx, id); err != nil {
		return err
	}
	s.logger.Info("job cancelled", "job_id", id)
	return nil
}

// CompressRequest asks for a standalone compression of an insight.
type CompressRequest struct {
	Insight             string              `json:"insight"`
	Question            string              `json:"question"`
	OutputType          compress.OutputType `json:"outputType,omitempty"`
	CompressionSettings *compress.Settings  `json:"compressionSettings,omitempty"`
}

// Compress renders req.Insight in the three compressed formats.
func (s *Service) Compress(ctx context.Context, req CompressRequest) (*compress.Formats, error) {
	if strings.TrimSpace(req.Insight) == "" {
		return nil, &pipeline.InvalidInputError{Field: "insight", Reason: "must not be empty"}
	}
	if req.OutputType == "" {
		req.OutputType = compress.Practical
	}
	if !compress.ValidOutputType(req.OutputType) {
		return nil, &pipeline.InvalidInputError{Field: "outputType", Reason: fmt.Sprintf("unknown output type %q", req.OutputType)}
	}
	settings := compress.Settings{Length: compress.Medium}
	if req.CompressionSettings != nil {
		settings = *req.CompressionSettings
		if settings.Length == "" {
			settings.Length = compress.Medium
		}
	}
	if !compress.ValidLength(settings.Length) {
		return nil, &pipeline.InvalidInputError{Field: "compressionSettings.length", Reason: fmt.Sprintf("unknown length %q", settings.Length)}
	}

	var f compress.Formats
	if s.formatter != nil {
		f = s.formatter.Compress(ctx, req.Insight, req.Question, settings, req.OutputType)
	} else {
		f = compress.Fallback(req.Insight)
	}
	return &f, nil
}

// Recommend suggests a configuration for question.
func (s *Service) Recommend(ctx context.Context, question string) (advisor.Recommendation, error) {
	return s.advisor.Recommend(ctx, question)
}

// Archetypes returns the effective default archetype set.
func (s *Service) Archetypes() []archetype.Archetype {
	return s.orch.Archetypes()
}

// DirectMaxDepth is the deepest run Submit executes synchronously.
func (s *Service) DirectMaxDepth() int {
	return s.directMax
}
