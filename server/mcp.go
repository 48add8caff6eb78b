package server

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domquery/kit"
)

// RegisterMCP registers the domquery tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerRegisterTool(srv)
	s.registerResolveTool(srv)
	s.registerCountTool(srv)
	s.registerWaitTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var selectorProps = map[string]any{
	"page_id":  map[string]any{"type": "string", "description": "Registered page ID"},
	"selector": map[string]any{"type": "string", "description": "CSS selector or constrained XPath (leading / or xpath= prefix)"},
	"strategy": map[string]any{"type": "string", "description": "auto | native | composed"},
	"pierce":   map[string]any{"type": "boolean", "description": "Pierce shadow subtrees (default true)"},
}

func (s *Service) registerRegisterTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domquery_register",
		Description: "Register a document replica from inline HTML or by capturing a live URL.",
		InputSchema: inputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Optional stable page ID"},
			"url":     map[string]any{"type": "string", "description": "Page URL to capture when no HTML is given"},
			"html":    map[string]any{"type": "string", "description": "Inline HTML snapshot"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Register(ctx, req.(*RegisterRequest))
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r RegisterRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (s *Service) registerResolveTool(srv *mcp.Server) {
	props := map[string]any{"limit": map[string]any{"type": "integer", "description": "Cap the number of returned matches"}}
	for k, v := range selectorProps {
		props[k] = v
	}
	tool := &mcp.Tool{
		Name:        "domquery_resolve",
		Description: "Resolve a selector against a registered page and return the matching elements.",
		InputSchema: inputSchema(props, []string{"page_id", "selector"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Resolve(ctx, req.(*ResolveRequest))
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r ResolveRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (s *Service) registerCountTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domquery_count",
		Description: "Count the elements matching a selector on a registered page.",
		InputSchema: inputSchema(selectorProps, []string{"page_id", "selector"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Count(ctx, req.(*CountRequest))
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r CountRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (s *Service) registerWaitTool(srv *mcp.Server) {
	props := map[string]any{
		"state":      map[string]any{"type": "string", "description": "attached | detached | visible | hidden (default visible)"},
		"timeout_ms": map[string]any{"type": "integer", "description": "Wait timeout in milliseconds"},
	}
	for k, v := range selectorProps {
		props[k] = v
	}
	tool := &mcp.Tool{
		Name:        "domquery_wait",
		Description: "Block until a selector reaches a lifecycle state on a registered page.",
		InputSchema: inputSchema(props, []string{"page_id", "selector"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Wait(ctx, req.(*WaitRequest))
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r WaitRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
