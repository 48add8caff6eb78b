package server

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "domquery-test", Version: "0.1.0"}

func mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	svc := New(Options{})
	srv := mcp.NewServer(testMCPImpl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if result.IsError {
		t.Fatalf("CallTool(%s) tool error: %v", name, result.Content)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

func mcpRegister(t *testing.T, session *mcp.ClientSession) {
	t.Helper()
	text := mcpCallTool(t, session, "domquery_register", map[string]any{
		"page_id": "page-1",
		"html":    testPage,
	})
	var reg RegisterResponse
	if err := json.Unmarshal([]byte(text), &reg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if reg.PageID != "page-1" {
		t.Fatalf("register response = %+v", reg)
	}
}

func TestMCP_RegisterAndResolve(t *testing.T) {
	session := mcpSession(t)
	mcpRegister(t, session)

	text := mcpCallTool(t, session, "domquery_resolve", map[string]any{
		"page_id":  "page-1",
		"selector": "//li[@class='item'][2]",
	})
	var rr ResolveResponse
	if err := json.Unmarshal([]byte(text), &rr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rr.Total != 1 || rr.Matches[0].Attrs["id"] != "b" {
		t.Fatalf("resolve response = %+v", rr)
	}
}

func TestMCP_Count(t *testing.T) {
	session := mcpSession(t)
	mcpRegister(t, session)

	text := mcpCallTool(t, session, "domquery_count", map[string]any{
		"page_id":  "page-1",
		"selector": "//li",
	})
	var cr CountResponse
	json.Unmarshal([]byte(text), &cr)
	if cr.Count != 2 {
		t.Fatalf("count = %d, want 2", cr.Count)
	}
}

func TestMCP_WaitImmediate(t *testing.T) {
	session := mcpSession(t)
	mcpRegister(t, session)

	text := mcpCallTool(t, session, "domquery_wait", map[string]any{
		"page_id":    "page-1",
		"selector":   "//ul[@id='list']",
		"state":      "attached",
		"timeout_ms": 1000,
	})
	var wr WaitResponse
	json.Unmarshal([]byte(text), &wr)
	if !wr.Satisfied {
		t.Fatalf("wait response = %+v", wr)
	}
}

func TestMCP_WaitTimeoutIsToolError(t *testing.T) {
	session := mcpSession(t)
	mcpRegister(t, session)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "domquery_wait",
		Arguments: map[string]any{
			"page_id":    "page-1",
			"selector":   "//li[@id='never']",
			"state":      "attached",
			"timeout_ms": 50,
		},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for wait timeout")
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatal("expected TextContent in tool error")
	}
	if !strings.Contains(tc.Text, "timeout") {
		t.Fatalf("tool error = %v", tc.Text)
	}
}

func TestMCP_UnknownPageIsToolError(t *testing.T) {
	session := mcpSession(t)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "domquery_count",
		Arguments: map[string]any{"page_id": "ghost", "selector": "//li"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unknown page")
	}
}
