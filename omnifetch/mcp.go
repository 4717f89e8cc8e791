package omnifetch

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/omnifetch/idgen"
	"github.com/hazyhaar/omnifetch/kit"
)

// RegisterMCP registers the OmniFetch tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	mw := kit.Chain(s.mcpRequestID, s.mcpErrors)
	s.registerExtractTool(srv, mw)
	s.registerDetectTool(srv, mw)
	s.registerGenerateTool(srv, mw)
	s.registerRunTool(srv, mw)
	s.registerPreviewTool(srv, mw)
	s.registerListTool(srv, mw)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var (
	urlProp     = map[string]any{"type": "string", "description": "Absolute http(s) URL of the page"}
	waitProp    = map[string]any{"type": "string", "enum": []any{"domcontentloaded", "networkidle"}, "description": "Navigation completion signal (default domcontentloaded)"}
	timeoutProp = map[string]any{"type": "integer", "description": "Navigation timeout in milliseconds"}
	promptProp  = map[string]any{"type": "string", "description": "Natural-language description of the data to extract"}
)

func (s *Service) mcpRequestID(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		id := idgen.New()
		ctx = kit.WithRequestID(ctx, id)
		log := s.log.With("request_id", id, "transport", kit.GetTransport(ctx))
		start := time.Now()
		resp, err := next(ctx, req)
		if err != nil {
			log.Warn("omnifetch: tool call failed", "error", err, "elapsed", time.Since(start))
		} else {
			log.Debug("omnifetch: tool call", "elapsed", time.Since(start))
		}
		return resp, err
	}
}

// mcpErrors prefixes tool errors with their Kind so MCP clients can branch
// on the failure class the same way HTTP clients do.
func (s *Service) mcpErrors(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		resp, err := next(ctx, req)
		if err != nil {
			kind, _ := Classify(err)
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		return resp, nil
	}
}

// --- extract ---

func (s *Service) registerExtractTool(srv *mcp.Server, mw kit.Middleware) {
	tool := &mcp.Tool{
		Name:        "omnifetch_extract",
		Description: "Render a page in a headless browser and extract one text value per field using the given CSS selectors.",
		InputSchema: inputSchema(map[string]any{
			"url":        urlProp,
			"selectors":  map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}, "description": "Field name to CSS selector"},
			"wait":       waitProp,
			"timeout_ms": timeoutProp,
		}, []string{"url", "selectors"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Extract(ctx, *req.(*ExtractRequest))
	}
	kit.RegisterMCPTool(srv, tool, mw(endpoint), kit.DecodeArgs[ExtractRequest])
}

// --- detect ---

func (s *Service) registerDetectTool(srv *mcp.Server, mw kit.Middleware) {
	tool := &mcp.Tool{
		Name:        "omnifetch_detect",
		Description: "Infer CSS selectors for the data described by the prompt. Nothing is stored.",
		InputSchema: inputSchema(map[string]any{
			"url":        urlProp,
			"prompt":     promptProp,
			"wait":       waitProp,
			"timeout_ms": timeoutProp,
		}, []string{"url", "prompt"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Detect(ctx, *req.(*DetectRequest))
	}
	kit.RegisterMCPTool(srv, tool, mw(endpoint), kit.DecodeArgs[DetectRequest])
}

// --- generate ---

func (s *Service) registerGenerateTool(srv *mcp.Server, mw kit.Middleware) {
	tool := &mcp.Tool{
		Name:        "omnifetch_generate",
		Description: "Infer CSS selectors for the data described by the prompt and save them as a replayable blueprint.",
		InputSchema: inputSchema(map[string]any{
			"url":        urlProp,
			"prompt":     promptProp,
			"wait":       waitProp,
			"timeout_ms": timeoutProp,
		}, []string{"url", "prompt"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Generate(ctx, *req.(*DetectRequest))
	}
	kit.RegisterMCPTool(srv, tool, mw(endpoint), kit.DecodeArgs[DetectRequest])
}

// --- run ---

type runRequest struct {
	ID string `json:"id"`
	FetchOptions
}

func (s *Service) registerRunTool(srv *mcp.Server, mw kit.Middleware) {
	tool := &mcp.Tool{
		Name:        "omnifetch_run",
		Description: "Replay a saved blueprint against its source page.",
		InputSchema: inputSchema(map[string]any{
			"id":         map[string]any{"type": "string", "description": "Blueprint id (api-xxxxxxxx)"},
			"wait":       waitProp,
			"timeout_ms": timeoutProp,
		}, []string{"id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*runRequest)
		return s.Run(ctx, r.ID, r.FetchOptions)
	}
	kit.RegisterMCPTool(srv, tool, mw(endpoint), kit.DecodeArgs[runRequest])
}

// --- preview ---

func (s *Service) registerPreviewTool(srv *mcp.Server, mw kit.Middleware) {
	tool := &mcp.Tool{
		Name:        "omnifetch_preview",
		Description: "Render a page and return it as markdown together with its structural skeleton.",
		InputSchema: inputSchema(map[string]any{
			"url":        urlProp,
			"wait":       waitProp,
			"timeout_ms": timeoutProp,
		}, []string{"url"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Preview(ctx, *req.(*PreviewRequest))
	}
	kit.RegisterMCPTool(srv, tool, mw(endpoint), kit.DecodeArgs[PreviewRequest])
}

// --- list ---

type listRequest struct {
	Limit int `json:"limit,omitempty"`
}

func (s *Service) registerListTool(srv *mcp.Server, mw kit.Middleware) {
	tool := &mcp.Tool{
		Name:        "omnifetch_list_blueprints",
		Description: "List saved blueprints, newest first.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max results (default 50)"},
		}, nil),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		bps, err := s.ListBlueprints(ctx, req.(*listRequest).Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"blueprints": s.blueprintViews(bps)}, nil
	}
	kit.RegisterMCPTool(srv, tool, mw(endpoint), kit.DecodeArgs[listRequest])
}
