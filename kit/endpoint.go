// Package kit holds the transport-neutral plumbing shared by the HTTP and MCP
// surfaces: request-scoped context values and the Endpoint abstraction.
package kit

import "context"

// Endpoint is a transport-neutral operation: a decoded request in, a
// JSON-encodable response out.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so that the first one is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
