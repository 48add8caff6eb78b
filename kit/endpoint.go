// Package kit holds the transport-agnostic service plumbing shared by the
// HTTP and MCP surfaces: endpoints, middleware chaining, and request-scoped
// context values.
package kit

import "context"

// Endpoint is a transport-agnostic request handler. Both the HTTP handlers
// and the MCP tools decode into a typed request and delegate to one of
// these.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares left to right: the first argument is the
// outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
