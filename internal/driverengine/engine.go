// Package driverengine abstracts how a driver.Func call is actually
// carried out: directly in-process, or durably through a workflow engine
// that can survive an executor crash mid-call. This mirrors the role
// runtime/agent/engine.Engine plays in the teacher: a small interface with
// one Future-returning entry point, with an in-memory adapter (the
// default) and a Temporal-backed adapter.
package driverengine

import "context"

// Result is what a driver invocation produced.
type Result struct {
	Files []string
}

// Future represents an in-flight driver invocation.
type Future interface {
	// Get blocks until the invocation completes or ctx is cancelled.
	Get(ctx context.Context) (*Result, error)
}

// Engine starts a driver invocation for protocolName and returns a Future
// for its result. Implementations must not block Invoke itself on the
// driver call completing.
type Engine interface {
	Invoke(ctx context.Context, protocolName string) Future
}
