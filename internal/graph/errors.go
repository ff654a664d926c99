// Package graph implements the protocol DAG: the Start/Protocol/Delay node
// model, its invariants, and its round-trip serialization.
package graph

import "errors"

// Sentinel errors returned by graph operations. Callers should use
// errors.Is to test for a specific kind; wrapped errors carry additional
// context (node ids, field names).
var (
	// ErrCycle is returned by Attach when the child's identifier is already
	// reachable from the receiver's root.
	ErrCycle = errors.New("graph: cycle")

	// ErrDuplicateIdentifier is returned when a submitted graph carries a
	// node identifier already present in the executor's protocol set.
	ErrDuplicateIdentifier = errors.New("graph: duplicate identifier")

	// ErrUnknownIdentifier is returned when a task token names an
	// identifier that no node in the executor's protocol set has.
	ErrUnknownIdentifier = errors.New("graph: unknown identifier")

	// ErrInvalidGraph is returned when a node's shape violates the model's
	// invariants (wrong successor type or arity, unknown node_type, missing
	// required field).
	ErrInvalidGraph = errors.New("graph: invalid graph")
)
