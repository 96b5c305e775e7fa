// Package infergate provides a top-level convenience entry point for creating
// a request broker with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/infergate"
//
//	b, err := infergate.New(cfg, invoker)
//	b, err := infergate.New(cfg, invoker, infergate.WithLogger(logger))
//
// This is a thin wrapper around [broker.New]; both produce identical results.
// Use this package when you prefer the shorter import path.
package infergate

import (
	"github.com/BaSui01/infergate/backend"
	"github.com/BaSui01/infergate/broker"
	"github.com/BaSui01/infergate/config"
)

// Broker mediates concurrent access to an inference backend.
type Broker = broker.Broker

// Handle tracks a submitted request through to resolution.
type Handle = broker.Handle

// Option configures the broker created by [New].
type Option = broker.Option

// SubmitOption adjusts a single submission.
type SubmitOption = broker.SubmitOption

// Priority orders requests within a class queue.
type Priority = broker.Priority

// Priority levels, lowest to highest.
const (
	PriorityLow      = broker.PriorityLow
	PriorityNormal   = broker.PriorityNormal
	PriorityHigh     = broker.PriorityHigh
	PriorityCritical = broker.PriorityCritical
)

// New creates a [broker.Broker] from a loaded configuration and a backend
// invoker. Per-class policies come from cfg.Classes.
func New(cfg *config.Config, invoker backend.Invoker, opts ...Option) (*Broker, error) {
	return broker.New(cfg, invoker, opts...)
}

// Re-export broker options so callers never need to import broker/.

// WithLogger sets a custom zap logger.
var WithLogger = broker.WithLogger

// WithCostFunc sets the per-payload cost function used for batch token budgets.
var WithCostFunc = broker.WithCostFunc

// WithPriority sets the submission priority.
var WithPriority = broker.WithPriority

// WithTimeout overrides the class request timeout for one submission.
var WithTimeout = broker.WithTimeout
