package kit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type echoRequest struct {
	N int `json:"n"`
}

func echoSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	impl := &mcp.Implementation{Name: "kit-test", Version: "0"}
	srv := mcp.NewServer(impl, nil)

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*echoRequest)
		if r.N < 0 {
			return nil, errors.New("invalid_request: n must be >= 0")
		}
		return map[string]any{"n": r.N, "transport": GetTransport(ctx)}, nil
	}
	RegisterMCPTool(srv, &mcp.Tool{
		Name:        "echo",
		Description: "echo n",
		InputSchema: map[string]any{"type": "object"},
	}, endpoint, DecodeArgs[echoRequest])

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() {
		_ = srv.Run(ctx, serverT)
	}()
	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callEcho(t *testing.T, s *mcp.ClientSession, args map[string]any) (string, bool) {
	t.Helper()
	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: "echo", Arguments: args})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content: got %T, want *mcp.TextContent", res.Content[0])
	}
	return tc.Text, res.IsError
}

func TestRegisterMCPTool(t *testing.T) {
	s := echoSession(t)

	text, isErr := callEcho(t, s, map[string]any{"n": 3})
	if isErr {
		t.Fatalf("unexpected tool error: %s", text)
	}
	var got struct {
		N         int    `json:"n"`
		Transport string `json:"transport"`
	}
	if err := json.Unmarshal([]byte(text), &got); err != nil {
		t.Fatalf("decode result %q: %v", text, err)
	}
	if got.N != 3 || got.Transport != "mcp" {
		t.Fatalf("result: got %+v, want n=3 transport=mcp", got)
	}

	text, isErr = callEcho(t, s, map[string]any{"n": -1})
	if !isErr || text != "invalid_request: n must be >= 0" {
		t.Fatalf("endpoint error: got (%q, %v)", text, isErr)
	}

	text, isErr = callEcho(t, s, map[string]any{"n": "three"})
	if !isErr || !strings.HasPrefix(text, ArgumentsErrorPrefix) {
		t.Fatalf("decode error: got (%q, %v), want prefix %q", text, isErr, ArgumentsErrorPrefix)
	}
}
