package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/genius/internal/jobs"
	"github.com/kalambet/genius/internal/pipeline"
	"github.com/kalambet/genius/internal/service"
)

// NewMCPServer creates an MCP server exposing the genius tools and the
// archetype resource.
func NewMCPServer(svc *service.Service, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"genius",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("genius runs a question through layered archetype reasoning and returns a synthesized insight."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_genius",
			mcp.WithDescription("Run a question through the layered archetype pipeline. Deep runs return a job id to poll with get_job."),
			mcp.WithString("question", mcp.Description("The question to analyze"), mcp.Required()),
			mcp.WithNumber("depth", mcp.Description("Processing depth, 1-30 (default 3)")),
			mcp.WithString("circuit", mcp.Description("Circuit type: sequential, parallel, recursive or hybrid")),
			mcp.WithBoolean("enhanced", mcp.Description("Enable enhanced mode")),
		),
		mcpAsk(svc),
	)

	s.AddTool(
		mcp.NewTool("get_job",
			mcp.WithDescription("Fetch the status, progress and results of a chunked run."),
			mcp.WithString("job_id", mcp.Description("Job id returned by ask_genius"), mcp.Required()),
		),
		mcpGetJob(svc),
	)

	s.AddTool(
		mcp.NewTool("recommend_config",
			mcp.WithDescription("Suggest depth, circuit and enhanced mode for a question from its type and past runs."),
			mcp.WithString("question", mcp.Description("The question to classify"), mcp.Required()),
		),
		mcpRecommend(svc),
	)

	s.AddResource(
		mcp.NewResource(
			"genius://archetypes",
			"Archetypes",
			mcp.WithResourceDescription("The default archetype set as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceArchetypes(svc),
	)

	return s
}

func mcpAsk(svc *service.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		sub, err := svc.Submit(ctx, pipeline.Request{
			Question:        question,
			ProcessingDepth: req.GetInt("depth", 3),
			CircuitType:     pipeline.CircuitType(req.GetString("circuit", string(pipeline.Sequential))),
			EnhancedMode:    req.GetBool("enhanced", false),
		})
		if err != nil {
			var to *pipeline.TimeoutError
			if errors.As(err, &to) {
				return mcpError(pipeline.TimeoutMessage), nil
			}
			return mcpError(fmt.Sprintf("run failed: %v", err)), nil
		}
		if sub.Queued() {
			return mcpJSON(map[string]any{"jobId": sub.JobID, "status": sub.Status})
		}
		return mcpJSON(sub.Result)
	}
}

func mcpGetJob(svc *service.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}

		job, err := svc.GetJob(ctx, id)
		if errors.Is(err, jobs.ErrNotFound) {
			return mcpError(fmt.Sprintf("job %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get job: %v", err)), nil
		}
		return mcpJSON(job)
	}
}

func mcpRecommend(svc *service.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		rec, err := svc.Recommend(ctx, question)
		if err != nil {
			return mcpError(fmt.Sprintf("recommendation failed: %v", err)), nil
		}
		return mcpJSON(rec)
	}
}

func mcpResourceArchetypes(svc *service.Service) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(svc.Archetypes())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal archetypes: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
