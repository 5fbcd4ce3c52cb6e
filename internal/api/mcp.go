package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"coursemate/internal/assistant"
)

// NewMCPServer registers the coursemate tools so agent clients can query
// the same materials the REST API serves.
func NewMCPServer(svc Service) *server.MCPServer {
	s := server.NewMCPServer(
		"coursemate",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("coursemate: question answering over locally indexed course materials."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_materials",
			mcp.WithDescription("Answer a question using the indexed course materials, falling back to general knowledge when nothing relevant is found."),
			mcp.WithString("query", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("partition", mcp.Description("Preferred partition (course/topic) to search first")),
			mcp.WithString("backend", mcp.Description("Model backend: local (default) or hosted")),
		),
		mcpAsk(svc),
	)

	s.AddTool(
		mcp.NewTool("search_materials",
			mcp.WithDescription("Semantically search the indexed course materials and return ranked chunks without generating an answer."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("partition", mcp.Description("Preferred partition to search first")),
			mcp.WithNumber("limit", mcp.Description("Maximum results per partition (default 3)")),
		),
		mcpSearch(svc),
	)

	s.AddResource(
		mcp.NewResource(
			"coursemate://partitions",
			"Indexed Partitions",
			mcp.WithResourceDescription("Names of the indexed material partitions as a JSON array"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePartitions(svc),
	)

	return s
}

func mcpAsk(svc Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		res, err := svc.Answer(ctx, assistant.AnswerRequest{
			Query:     query,
			Partition: req.GetString("partition", ""),
			Backend:   req.GetString("backend", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		if res.Failed {
			return mcpError(res.Answer), nil
		}
		return mcpText(res.Answer), nil
	}
}

func mcpSearch(svc Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 0)
		if limit < 0 {
			limit = 0
		}

		out, err := svc.Search(ctx, query, req.GetString("partition", ""), limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(out.Results) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(out.Results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourcePartitions(svc Service) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		names := svc.Partitions()
		if names == nil {
			names = []string{}
		}
		b, err := json.Marshal(names)
		if err != nil {
			return nil, fmt.Errorf("marshaling partitions: %w", err)
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
