package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/genius/internal/pipeline"
)

// OrchestratorWorker processes chunks in-process.
type OrchestratorWorker struct {
	orch *pipeline.Orchestrator
}

// NewOrchestratorWorker wraps orch, which should be built with Strict set so
// that completion failures fail the chunk.
func NewOrchestratorWorker(orch *pipeline.Orchestrator) *OrchestratorWorker {
	return &OrchestratorWorker{orch: orch}
}

func (w *OrchestratorWorker) ProcessChunk(ctx context.Context, req ChunkRequest) ([]pipeline.Layer, error) {
	if req.StartLayer < 1 || req.EndLayer < req.StartLayer {
		return nil, &pipeline.InvalidInputError{Field: "range", Reason: fmt.Sprintf("invalid layer range %d-%d", req.StartLayer, req.EndLayer)}
	}
	layers, err := w.orch.RunRange(ctx, pipeline.Range{
		Question:    req.Question,
		CircuitType: req.CircuitType,
		Archetypes:  req.Archetypes,
		Start:       req.StartLayer,
		Count:       req.EndLayer - req.StartLayer + 1,
		TotalLayers: req.TotalLayers,
	}, req.Context, pipeline.NewRand(req.Seed), nil)
	if err != nil {
		return nil, err
	}
	return layers, nil
}

// ChunkResponse is the body returned by a remote chunk worker.
type ChunkResponse struct {
	Layers []pipeline.Layer `json:"layers"`
}

// HTTPWorker sends chunks to another instance's /v1/worker/chunk endpoint.
type HTTPWorker struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewHTTPWorker creates a worker targeting baseURL.
func NewHTTPWorker(baseURL string, timeout time.Duration) *HTTPWorker {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPWorker{
		url:        strings.TrimRight(baseURL, "/") + "/v1/worker/chunk",
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithToken sets the bearer token sent with each chunk request.
func (w *HTTPWorker) WithToken(token string) *HTTPWorker {
	w.token = token
	return w
}

func (w *HTTPWorker) ProcessChunk(ctx context.Context, req ChunkRequest) ([]pipeline.Layer, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling chunk request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling chunk worker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("chunk worker returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out ChunkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding chunk response: %w", err)
	}
	return out.Layers, nil
}
