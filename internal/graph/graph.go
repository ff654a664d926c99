package graph

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NodeType tags the three node variants that make up a protocol DAG. Go has
// no closed sum type, so the variants are folded into one struct and every
// operation switches on Type — the same discipline the decode/encode/
// optimizer-lowering code in this module follows throughout.
type NodeType string

const (
	TypeStart    NodeType = "start"
	TypeProtocol NodeType = "protocol"
	TypeDelay    NodeType = "delay"
)

// FromType selects the anchor a Delay measures its target gap from.
type FromType string

const (
	FromStart  FromType = "START"
	FromFinish FromType = "FINISH"
)

func (f FromType) valid() bool {
	return f == FromStart || f == FromFinish
}

// Node is a single vertex in a protocol DAG. Only the fields relevant to
// Type are meaningful; the field comments below say which variant uses
// each one. Node is not safe for concurrent mutation — the executor
// serializes all writes through its own single-consumer loop.
type Node struct {
	ID       uuid.UUID
	Type     NodeType
	Children []*Node
	parent   *Node

	// Protocol fields.
	Name          string
	ScheduledTime *time.Time
	StartedTime   *time.Time
	FinishedTime  *time.Time

	// Protocol and Delay share a Duration field: non-negative for Protocol,
	// signed for Delay.
	Duration time.Duration

	// Delay-only fields.
	FromType FromType
	Offset   time.Duration
}

// NewStart creates a new Start node with a fresh identifier.
func NewStart() *Node {
	return &Node{ID: uuid.New(), Type: TypeStart}
}

// NewProtocol creates a new Protocol node. duration must be non-negative.
func NewProtocol(name string, duration time.Duration) (*Node, error) {
	if duration < 0 {
		return nil, fmt.Errorf("%w: protocol duration must be non-negative, got %s", ErrInvalidGraph, duration)
	}
	return &Node{ID: uuid.New(), Type: TypeProtocol, Name: name, Duration: duration}, nil
}

// NewDelay creates a new Delay node. duration may be negative or positive;
// offset may be negative or positive; from must be FromStart or FromFinish.
func NewDelay(duration time.Duration, from FromType, offset time.Duration) (*Node, error) {
	if !from.valid() {
		return nil, fmt.Errorf("%w: invalid from_type %q", ErrInvalidGraph, from)
	}
	return &Node{ID: uuid.New(), Type: TypeDelay, Duration: duration, FromType: from, Offset: offset}, nil
}

// Attach appends child as a successor of n, after validating the model's
// structural invariants:
//   - child must not already be reachable from n's root (ErrCycle).
//   - a Start may never be a successor.
//   - a Delay may have at most one successor, and it must be a Protocol.
//
// On success, child's predecessor pointer is set to n.
func (n *Node) Attach(child *Node) error {
	if child.Type == TypeStart {
		return fmt.Errorf("%w: Start cannot be a successor", ErrInvalidGraph)
	}
	if n.Type == TypeDelay {
		if len(n.Children) >= 1 {
			return fmt.Errorf("%w: Delay may have only one successor", ErrInvalidGraph)
		}
		if child.Type != TypeProtocol {
			return fmt.Errorf("%w: Delay's successor must be a Protocol", ErrInvalidGraph)
		}
	}
	root := n.Root()
	for _, node := range root.Flatten() {
		if node.ID == child.ID {
			return ErrCycle
		}
	}
	n.Children = append(n.Children, child)
	child.parent = n
	return nil
}

// Root follows predecessor links until it finds the node with none.
func (n *Node) Root() *Node {
	cur := n
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// Parent returns n's predecessor, or nil if n is a root.
func (n *Node) Parent() *Node {
	return n.parent
}

// Flatten returns a pre-order slice of all nodes reachable
// from n (n included).
func (n *Node) Flatten() []*Node {
	flat := make([]*Node, 0, 1+len(n.Children))
	flat = append(flat, n)
	for _, child := range n.Children {
		flat = append(flat, child.Flatten()...)
	}
	return flat
}

// Find returns the node with the given identifier within n's reachable set,
// or false if none exists.
func (n *Node) Find(id uuid.UUID) (*Node, bool) {
	for _, node := range n.Flatten() {
		if node.ID == id {
			return node, true
		}
	}
	return nil, false
}

// Protocols returns every Protocol node reachable from n, pre-order.
func (n *Node) Protocols() []*Node {
	var out []*Node
	for _, node := range n.Flatten() {
		if node.Type == TypeProtocol {
			out = append(out, node)
		}
	}
	return out
}

// IsFinished reports whether a Protocol node has both started_time and
// finished_time set. Only meaningful for TypeProtocol nodes.
func (n *Node) IsFinished() bool {
	return n.StartedTime != nil && n.FinishedTime != nil
}
