package kit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPDecodeResult holds the decoded request and an optional context enrichment.
type MCPDecodeResult struct {
	Request   any
	EnrichCtx func(context.Context) context.Context
}

// ArgumentsErrorPrefix starts the tool error reported when the arguments do
// not decode, matching the "kind: message" form of endpoint errors.
const ArgumentsErrorPrefix = "invalid_request: "

// RegisterMCPTool serves endpoint as the MCP tool described by tool.
// Decoding and endpoint failures are reported as tool results with IsError
// set; the protocol call itself always succeeds. A successful response is
// returned as one JSON text block.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode func(*mcp.CallToolRequest) (*MCPDecodeResult, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req)
		if err != nil {
			return toolError(ArgumentsErrorPrefix + "arguments: " + err.Error()), nil
		}
		ctx = WithTransport(ctx, "mcp")
		if decoded.EnrichCtx != nil {
			ctx = decoded.EnrichCtx(ctx)
		}

		resp, err := endpoint(ctx, decoded.Request)
		if err != nil {
			return toolError(err.Error()), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Sprintf("internal_error: encode result: %v", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(msg string) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(errors.New(msg))
	return &res
}

// DecodeArgs decodes the JSON arguments into a fresh T. Missing arguments
// leave T at its zero value.
func DecodeArgs[T any](req *mcp.CallToolRequest) (*MCPDecodeResult, error) {
	var r T
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
	}
	return &MCPDecodeResult{Request: &r}, nil
}
