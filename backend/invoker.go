// Package backend defines the invoker contract the broker dispatches to,
// plus an HTTP implementation for OpenAI-compatible local model servers.
package backend

import (
	"context"
)

// Result is the outcome for a single payload within an invocation.
// Value and Err are mutually exclusive.
type Result struct {
	Value any
	Err   error
}

// InvokeRequest carries one unit of dispatched work. Payloads has length 1
// for non-batchable classes; for batchable classes it holds every member of
// a closed batch window, in arrival order.
type InvokeRequest struct {
	Class    string
	Payloads []any
}

// InvokeResponse returns one Result per payload, positionally aligned with
// InvokeRequest.Payloads. A backend that cannot distinguish per-item
// failures returns a top-level error from Invoke instead.
type InvokeResponse struct {
	Results []Result
}

// Invoker is the backend collaborator. Implementations may be slow
// (seconds) and may fail transiently; the broker never retries — it only
// regulates admission and ordering.
type Invoker interface {
	Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error)

func (f InvokerFunc) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error) {
	return f(ctx, req)
}
