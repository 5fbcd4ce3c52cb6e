package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"coursemate/internal/assistant"
	"coursemate/internal/searcher"
)

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

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

func TestMCPTool_Ask(t *testing.T) {
	svc := &fakeService{answer: assistant.AnswerResult{Answer: "The mitochondria.", Grounded: true}}
	handler := mcpAsk(svc)

	result, err := handler(context.Background(), makeCallToolRequest("ask_materials", map[string]any{
		"query":     "powerhouse of the cell?",
		"partition": "biology",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "The mitochondria." {
		t.Errorf("text = %q", got)
	}
	if svc.lastAnswer.Partition != "biology" {
		t.Errorf("partition = %q, want biology", svc.lastAnswer.Partition)
	}
}

func TestMCPTool_Ask_MissingQuery(t *testing.T) {
	handler := mcpAsk(&fakeService{})
	result, err := handler(context.Background(), makeCallToolRequest("ask_materials", map[string]any{}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !result.IsError {
		t.Error("missing query accepted")
	}
}

func TestMCPTool_Ask_FailedAnswerIsToolError(t *testing.T) {
	svc := &fakeService{answer: assistant.AnswerResult{Answer: "error: the model took too long", Failed: true}}
	handler := mcpAsk(svc)

	result, err := handler(context.Background(), makeCallToolRequest("ask_materials", map[string]any{
		"query": "q",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !result.IsError {
		t.Error("failed answer not flagged as tool error")
	}
}

func TestMCPTool_Search(t *testing.T) {
	svc := &fakeService{output: searcher.Output{
		Results: []searcher.Result{
			{Content: "chunk one", Score: 0.9, Partition: "math"},
			{Content: "chunk two", Score: 0.5, Partition: "math"},
		},
	}}
	handler := mcpSearch(svc)

	result, err := handler(context.Background(), makeCallToolRequest("search_materials", map[string]any{
		"query": "limits",
		"limit": 2,
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var results []searcher.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &results); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if len(results) != 2 || results[0].Content != "chunk one" {
		t.Errorf("results = %+v", results)
	}
}

func TestMCPTool_Search_Empty(t *testing.T) {
	handler := mcpSearch(&fakeService{})
	result, err := handler(context.Background(), makeCallToolRequest("search_materials", map[string]any{
		"query": "nothing indexed",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got := toolText(t, result); got != "[]" {
		t.Errorf("empty search = %q, want []", got)
	}
}

func TestMCPResource_Partitions(t *testing.T) {
	svc := &fakeService{partitions: []string{"biology", "math"}}
	handler := mcpResourcePartitions(svc)

	contents, err := handler(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "coursemate://partitions"},
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var names []string
	if err := json.Unmarshal([]byte(text.Text), &names); err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Errorf("partitions = %v", names)
	}
}
