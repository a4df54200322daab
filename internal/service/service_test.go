package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/genius/internal/advisor"
	"github.com/kalambet/genius/internal/compress"
	"github.com/kalambet/genius/internal/jobs"
	"github.com/kalambet/genius/internal/llm"
	"github.com/kalambet/genius/internal/pipeline"
	"github.com/kalambet/genius/internal/runner"
	"github.com/kalambet/genius/internal/worker"
)

type recordingMetrics struct {
	mu   sync.Mutex
	runs []advisor.RunRecord
}

func (m *recordingMetrics) RecordRun(_ context.Context, r advisor.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func (m *recordingMetrics) FindSimilar(context.Context, string, int) ([]advisor.RunRecord, error) {
	return nil, nil
}

func (m *recordingMetrics) BestConfigFor(context.Context, string) (*advisor.Config, error) {
	return nil, nil
}

func newTestService(t *testing.T, c llm.Completer, timeout time.Duration) (*Service, *jobs.Memory, *recordingMetrics) {
	t.Helper()
	f, err := compress.New(nil, 0)
	if err != nil {
		t.Fatalf("compress.New: %v", err)
	}
	q := jobs.NewMemory()
	m := &recordingMetrics{}
	svc := New(Options{
		Orchestrator:  pipeline.New(pipeline.Options{Completer: c}),
		Queue:         q,
		Formatter:     f,
		Advisor:       advisor.New(m),
		DirectTimeout: timeout,
	})
	return svc, q, m
}

func TestSubmit_DirectRun(t *testing.T) {
	svc, q, m := newTestService(t, nil, 0)

	sub, err := svc.Submit(context.Background(), pipeline.Request{Question: "  What is creativity?  ", ProcessingDepth: 3})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Queued() || sub.Status != jobs.StatusCompleted {
		t.Fatalf("submission = %+v, want direct result", sub)
	}
	res := sub.Result
	if len(res.Layers) != 3 || len(res.LogicTrail) != 15 {
		t.Errorf("layers = %d, trail = %d", len(res.Layers), len(res.LogicTrail))
	}
	if res.CompressionFormats == nil || res.CompressionFormats.UltraConcise == "" {
		t.Errorf("compression formats missing: %+v", res.CompressionFormats)
	}
	if res.QuestionQuality == nil || res.QuestionQuality.GeniusYield < 7 {
		t.Errorf("quality block missing: %+v", res.QuestionQuality)
	}
	if len(m.runs) != 1 || m.runs[0].Question != "What is creativity?" {
		t.Errorf("metrics = %+v", m.runs)
	}
	if j, _ := q.ClaimNext(context.Background()); j != nil {
		t.Errorf("direct run created job %s", j.ID)
	}
}

func TestSubmit_QueuesDeepRun(t *testing.T) {
	svc, q, _ := newTestService(t, nil, 0)
	ctx := context.Background()

	sub, err := svc.Submit(ctx, pipeline.Request{Question: "What is creativity?", ProcessingDepth: 10, CircuitType: pipeline.Hybrid})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !sub.Queued() || sub.Status != jobs.StatusPending || sub.Result != nil {
		t.Fatalf("submission = %+v, want queued job", sub)
	}
	j, err := q.GetJob(ctx, sub.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Request.OutputType != compress.Practical || j.Request.CompressionSettings == nil {
		t.Errorf("stored request not normalized: %+v", j.Request)
	}
}

func TestSubmit_InvalidInput(t *testing.T) {
	svc, _, _ := newTestService(t, nil, 0)
	tests := []pipeline.Request{
		{Question: "", ProcessingDepth: 3},
		{Question: "q", ProcessingDepth: 31},
		{Question: "q", ProcessingDepth: 12, CircuitType: "spiral"},
	}
	for _, req := range tests {
		_, err := svc.Submit(context.Background(), req)
		var inv *pipeline.InvalidInputError
		if !errors.As(err, &inv) {
			t.Errorf("Submit(%+v) err = %v, want InvalidInputError", req, err)
		}
	}
}

func TestSubmit_DirectTimeout(t *testing.T) {
	slow := llm.CompleterFunc(func(ctx context.Context, _ llm.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	svc, _, _ := newTestService(t, slow, 20*time.Millisecond)

	_, err := svc.Submit(context.Background(), pipeline.Request{Question: "q", ProcessingDepth: 3})
	var te *pipeline.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if pipeline.Category(err) != pipeline.CategoryTimeout {
		t.Errorf("category = %q", pipeline.Category(err))
	}
}

func TestChunkedJobIsFinalized(t *testing.T) {
	svc, q, m := newTestService(t, nil, 0)
	ctx := context.Background()

	sub, err := svc.Submit(ctx, pipeline.Request{Question: "What is creativity?", ProcessingDepth: 5})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	strict := pipeline.New(pipeline.Options{Strict: true})
	rn := runner.New(q, runner.NewOrchestratorWorker(strict), runner.Options{ChunkSize: 2, Finalize: svc.Finalize})
	if _, err := worker.New(q, rn, svc.Archetypes(), 0).RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	j, err := svc.GetJob(ctx, sub.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != jobs.StatusCompleted || j.FinalResults == nil {
		t.Fatalf("job = %s %q", j.Status, j.Error)
	}
	if j.FinalResults.CompressionFormats == nil || j.FinalResults.QuestionQuality == nil {
		t.Errorf("final results not finalized: %+v", j.FinalResults)
	}
	if len(j.Results) != 3 {
		t.Errorf("chunk results = %d, want 3", len(j.Results))
	}
	if len(m.runs) != 1 || m.runs[0].Depth != 5 {
		t.Errorf("metrics = %+v", m.runs)
	}
}

func TestCancelJob(t *testing.T) {
	svc, _, _ := newTestService(t, nil, 0)
	ctx := context.Background()

	sub, err := svc.Submit(ctx, pipeline.Request{Question: "q", ProcessingDepth: 8})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := svc.CancelJob(ctx, sub.JobID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if err := svc.CancelJob(ctx, sub.JobID); !errors.Is(err, jobs.ErrFinished) {
		t.Errorf("second cancel err = %v, want ErrFinished", err)
	}
	if err := svc.CancelJob(ctx, "missing"); !errors.Is(err, jobs.ErrNotFound) {
		t.Errorf("missing cancel err = %v, want ErrNotFound", err)
	}
}

func TestCompress(t *testing.T) {
	svc, _, _ := newTestService(t, nil, 0)
	ctx := context.Background()

	f, err := svc.Compress(ctx, CompressRequest{Insight: "Creativity is recombination. It needs constraint. It rewards play. It fades without practice."})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if f.UltraConcise != "Creativity is recombination." {
		t.Errorf("UltraConcise = %q", f.UltraConcise)
	}

	if _, err := svc.Compress(ctx, CompressRequest{Insight: " "}); err == nil {
		t.Error("expected error for empty insight")
	}
	_, err = svc.Compress(ctx, CompressRequest{Insight: "x", CompressionSettings: &compress.Settings{Length: "epic"}})
	var inv *pipeline.InvalidInputError
	if !errors.As(err, &inv) || inv.Field != "compressionSettings.length" {
		t.Errorf("err = %v, want invalid length", err)
	}
}

func TestRecommend(t *testing.T) {
	svc, _, _ := newTestService(t, nil, 0)
	rec, err := svc.Recommend(context.Background(), "What is the meaning of truth?")
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if rec.QuestionType != advisor.TypePhilosophical {
		t.Errorf("question type = %q", rec.QuestionType)
	}
}

func TestSubmit_DefaultSeedIsReproducible(t *testing.T) {
	run := func() *pipeline.Result {
		t.Helper()
		f, _ := compress.New(nil, 0)
		svc := New(Options{
			Orchestrator: pipeline.New(pipeline.Options{}),
			Formatter:    f,
			Seed:         42,
		})
		sub, err := svc.Submit(context.Background(), pipeline.Request{Question: "What is time?", ProcessingDepth: 3})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		return sub.Result
	}

	a, b := run(), run()
	for i := range a.LogicTrail {
		if a.LogicTrail[i].Response != b.LogicTrail[i].Response {
			t.Fatalf("trail entry %d differs:\n%s\n%s", i, a.LogicTrail[i].Response, b.LogicTrail[i].Response)
		}
	}
}

func TestRunDirect_LayerFailureKeepsCompletedLayers(t *testing.T) {
	c := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		if strings.Contains(req.User, "Layer 2") {
			return "", &llm.CompletionError{Provider: "fake", Err: errors.New("down")}
		}
		return "Generated text.", nil
	})
	f, _ := compress.New(nil, 0)
	svc := New(Options{
		Orchestrator: pipeline.New(pipeline.Options{Completer: c, Strict: true, LayerRetries: 1}),
		Formatter:    f,
	})

	req := pipeline.Request{Question: "What is time?", ProcessingDepth: 3, Seed: 7}
	res, err := svc.RunDirect(context.Background(), req)
	var lpe *pipeline.LayerProcessingError
	if !errors.As(err, &lpe) {
		t.Fatalf("err = %v, want *LayerProcessingError", err)
	}
	if res == nil || len(res.Layers) != 1 {
		t.Fatalf("partial result = %+v, want 1 completed layer", res)
	}

	sub, err := svc.Submit(context.Background(), req)
	if err == nil || sub == nil || sub.Status != jobs.StatusFailed || len(sub.Result.Layers) != 1 {
		t.Errorf("Submit = %+v, %v; want failed submission with the completed layer", sub, err)
	}
}
