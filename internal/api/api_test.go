package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/genius/internal/compress"
	"github.com/kalambet/genius/internal/events"
	"github.com/kalambet/genius/internal/jobs"
	"github.com/kalambet/genius/internal/llm"
	"github.com/kalambet/genius/internal/pipeline"
	"github.com/kalambet/genius/internal/runner"
	"github.com/kalambet/genius/internal/service"
)

const testWorkerToken = "worker-token-123"

type testEnv struct {
	handler http.Handler
	svc     *service.Service
	queue   *jobs.Memory
	hub     *events.Hub
}

func setupHandler(t *testing.T, c llm.Completer, timeout time.Duration) *testEnv {
	t.Helper()
	f, err := compress.New(nil, 0)
	if err != nil {
		t.Fatalf("compress.New: %v", err)
	}
	q := jobs.NewMemory()
	hub := events.NewHub()
	orch := pipeline.New(pipeline.Options{Completer: c})
	svc := service.New(service.Options{
		Orchestrator:  orch,
		Queue:         jobs.WithEvents(q, hub),
		Formatter:     f,
		DirectTimeout: timeout,
	})
	h := NewHandler(Deps{
		Service:     svc,
		Watcher:     hub,
		ChunkWorker: runner.NewOrchestratorWorker(orch),
		WorkerToken: testWorkerToken,
	})
	return &testEnv{handler: h, svc: svc, queue: q, hub: hub}
}

func (e *testEnv) do(method, url, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error.Type
}

func TestHealth(t *testing.T) {
	env := setupHandler(t, nil, 0)

	rr := env.do(http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestArchetypes(t *testing.T) {
	env := setupHandler(t, nil, 0)

	rr := env.do(http.MethodGet, "/v1/archetypes", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Archetypes []struct {
			Name string `json:"name"`
		} `json:"archetypes"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(body.Archetypes) != 5 || body.Archetypes[0].Name != "Visionary" {
		t.Errorf("archetypes = %+v", body.Archetypes)
	}
}

func TestRun_Direct(t *testing.T) {
	env := setupHandler(t, nil, 0)

	rr := env.do(http.MethodPost, "/v1/runs", `{"question":"What is creativity?","processingDepth":2,"circuitType":"parallel"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var res pipeline.Result
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(res.Layers) != 2 || res.CircuitType != pipeline.Parallel {
		t.Errorf("result = %d layers, circuit %q", len(res.Layers), res.CircuitType)
	}
	if res.CompressionFormats == nil || res.QuestionQuality == nil {
		t.Error("result missing compression or quality block")
	}
}

func TestRun_QueuesDeepRun(t *testing.T) {
	env := setupHandler(t, nil, 0)

	rr := env.do(http.MethodPost, "/v1/runs", `{"question":"What is time?","processingDepth":8}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var body struct {
		JobID  string      `json:"jobId"`
		Status jobs.Status `json:"status"`
	}
	json.NewDecoder(rr.Body).Decode(&body)
	if body.JobID == "" || body.Status != jobs.StatusPending {
		t.Fatalf("body = %+v", body)
	}

	rr = env.do(http.MethodGet, "/v1/jobs/"+body.JobID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get job status = %d", rr.Code)
	}
	var job jobs.Job
	json.NewDecoder(rr.Body).Decode(&job)
	if job.Question != "What is time?" || job.ProcessingDepth != 8 {
		t.Errorf("job = %+v", job)
	}
}

func TestRun_InvalidInput(t *testing.T) {
	env := setupHandler(t, nil, 0)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"question":`},
		{"empty question", `{"question":"  ","processingDepth":3}`},
		{"depth too high", `{"question":"q","processingDepth":31}`},
		{"unknown circuit", `{"question":"q","processingDepth":3,"circuitType":"spiral"}`},
		{"bad archetype", `{"question":"q","processingDepth":3,"customArchetypes":[{"name":"Jester"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(http.MethodPost, "/v1/runs", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
			if got := errorType(t, rr); got != errInvalidRequest {
				t.Errorf("type = %q", got)
			}
		})
	}
}

func TestRun_Timeout(t *testing.T) {
	slow := llm.CompleterFunc(func(ctx context.Context, _ llm.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	env := setupHandler(t, slow, 20*time.Millisecond)

	rr := env.do(http.MethodPost, "/v1/runs", `{"question":"q","processingDepth":3}`)
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rr.Code)
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	json.NewDecoder(rr.Body).Decode(&body)
	if body.Error.Type != errTimeout || body.Error.Message != pipeline.TimeoutMessage {
		t.Errorf("error = %+v", body.Error)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	env := setupHandler(t, nil, 0)

	rr := env.do(http.MethodGet, "/v1/jobs/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if got := errorType(t, rr); got != errNotFound {
		t.Errorf("type = %q", got)
	}
}

func TestCancelJob(t *testing.T) {
	env := setupHandler(t, nil, 0)
	ctx := context.Background()
	id, err := env.queue.CreateJob(ctx, pipeline.Request{Question: "q", ProcessingDepth: 6})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	rr := env.do(http.MethodPost, "/v1/jobs/"+id+"/cancel", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	job, _ := env.queue.GetJob(ctx, id)
	if job.Status != jobs.StatusCancelled {
		t.Errorf("status = %q, want cancelled", job.Status)
	}

	rr = env.do(http.MethodPost, "/v1/jobs/"+id+"/cancel", "")
	if rr.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", rr.Code)
	}
}

func TestCompress(t *testing.T) {
	env := setupHandler(t, nil, 0)

	rr := env.do(http.MethodPost, "/v1/compress", `{"insight":"Creativity is constraint made visible. It grows where limits meet curiosity.","question":"What is creativity?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var f compress.Formats
	json.NewDecoder(rr.Body).Decode(&f)
	if f.UltraConcise == "" || f.Comprehensive == "" {
		t.Errorf("formats = %+v", f)
	}

	rr = env.do(http.MethodPost, "/v1/compress", `{"insight":""}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty insight status = %d, want 400", rr.Code)
	}
}

func TestRecommendations(t *testing.T) {
	env := setupHandler(t, nil, 0)

	rr := env.do(http.MethodGet, "/v1/recommendations", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing question status = %d, want 400", rr.Code)
	}

	rr = env.do(http.MethodGet, "/v1/recommendations?question=What+is+the+meaning+of+existence%3F", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var rec struct {
		QuestionType    string `json:"questionType"`
		ProcessingDepth int    `json:"processingDepth"`
	}
	json.NewDecoder(rr.Body).Decode(&rec)
	if rec.QuestionType != "philosophical" || rec.ProcessingDepth < 1 {
		t.Errorf("recommendation = %+v", rec)
	}
}

func TestWorkerChunk(t *testing.T) {
	env := setupHandler(t, nil, 0)
	body := `{"jobId":"j1","question":"What is time?","circuitType":"sequential","startLayer":3,"endLayer":4,"totalLayers":6,"seed":7}`

	t.Run("missing token", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/v1/worker/chunk", body)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rr.Code)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/worker/chunk", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+testWorkerToken)
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
		}
		var resp runner.ChunkResponse
		json.NewDecoder(rr.Body).Decode(&resp)
		if len(resp.Layers) != 2 || resp.Layers[0].LayerNumber != 3 {
			t.Errorf("layers = %+v", resp.Layers)
		}
	})

	t.Run("bad range", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/worker/chunk", strings.NewReader(`{"question":"q","startLayer":4,"endLayer":2}`))
		req.Header.Set("Authorization", "Bearer "+testWorkerToken)
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})
}

func TestHTTPWorkerAgainstHandler(t *testing.T) {
	env := setupHandler(t, nil, 0)
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	w := runner.NewHTTPWorker(srv.URL, 5*time.Second).WithToken(testWorkerToken)
	layers, err := w.ProcessChunk(context.Background(), runner.ChunkRequest{
		Question:    "What is time?",
		CircuitType: pipeline.Hybrid,
		StartLayer:  1,
		EndLayer:    2,
		TotalLayers: 2,
		Seed:        3,
	})
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	if len(layers) != 2 {
		t.Errorf("layers = %d, want 2", len(layers))
	}
}
