package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/genius/internal/jobs"
	"github.com/kalambet/genius/internal/pipeline"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPServer_Registers(t *testing.T) {
	env := setupHandler(t, nil, 0)
	if s := NewMCPServer(env.svc, "test"); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_AskDirect(t *testing.T) {
	env := setupHandler(t, nil, 0)

	result, err := mcpAsk(env.svc)(context.Background(), makeCallToolRequest("ask_genius", map[string]any{
		"question": "What is creativity?",
		"depth":    2,
		"circuit":  "hybrid",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var res pipeline.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("parsing result: %v", err)
	}
	if len(res.Layers) != 2 || res.CircuitType != pipeline.Hybrid {
		t.Errorf("result = %d layers, circuit %q", len(res.Layers), res.CircuitType)
	}
}

func TestMCPTool_AskQueuesThenGetJob(t *testing.T) {
	env := setupHandler(t, nil, 0)
	ctx := context.Background()

	result, err := mcpAsk(env.svc)(ctx, makeCallToolRequest("ask_genius", map[string]any{
		"question": "What is time?",
		"depth":    9,
	}))
	if err != nil || result.IsError {
		t.Fatalf("ask failed: %v %+v", err, result)
	}
	var queued struct {
		JobID  string      `json:"jobId"`
		Status jobs.Status `json:"status"`
	}
	json.Unmarshal([]byte(toolText(t, result)), &queued)
	if queued.JobID == "" || queued.Status != jobs.StatusPending {
		t.Fatalf("queued = %+v", queued)
	}

	result, err = mcpGetJob(env.svc)(ctx, makeCallToolRequest("get_job", map[string]any{"job_id": queued.JobID}))
	if err != nil || result.IsError {
		t.Fatalf("get_job failed: %v %+v", err, result)
	}
	var job jobs.Job
	json.Unmarshal([]byte(toolText(t, result)), &job)
	if job.ID != queued.JobID || job.ProcessingDepth != 9 {
		t.Errorf("job = %+v", job)
	}
}

func TestMCPTool_AskInvalid(t *testing.T) {
	env := setupHandler(t, nil, 0)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing question", map[string]any{}},
		{"bad depth", map[string]any{"question": "q", "depth": 0}},
		{"bad circuit", map[string]any{"question": "q", "circuit": "loop"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := mcpAsk(env.svc)(context.Background(), makeCallToolRequest("ask_genius", tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Errorf("expected tool error, got %s", toolText(t, result))
			}
		})
	}
}

func TestMCPTool_GetJobNotFound(t *testing.T) {
	env := setupHandler(t, nil, 0)

	result, err := mcpGetJob(env.svc)(context.Background(), makeCallToolRequest("get_job", map[string]any{"job_id": "nope"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Errorf("expected tool error, got %s", toolText(t, result))
	}
}

func TestMCPTool_RecommendConfig(t *testing.T) {
	env := setupHandler(t, nil, 0)

	result, err := mcpRecommend(env.svc)(context.Background(), makeCallToolRequest("recommend_config", map[string]any{
		"question": "How do I debug a slow database query?",
	}))
	if err != nil || result.IsError {
		t.Fatalf("recommend failed: %v %+v", err, result)
	}
	var rec struct {
		QuestionType string `json:"questionType"`
		CircuitType  string `json:"circuitType"`
	}
	json.Unmarshal([]byte(toolText(t, result)), &rec)
	if rec.QuestionType == "" || rec.CircuitType == "" {
		t.Errorf("recommendation = %+v", rec)
	}
}

func TestMCPResource_Archetypes(t *testing.T) {
	env := setupHandler(t, nil, 0)

	contents, err := mcpResourceArchetypes(env.svc)(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "genius://archetypes"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d, want 1", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var set []map[string]any
	if err := json.Unmarshal([]byte(tc.Text), &set); err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(set) != 5 {
		t.Errorf("archetypes = %d, want 5", len(set))
	}
}
