// Package storage defines the persistence layer for protocol graph
// snapshots, abstracting over the backend exactly the way the teacher's
// registry store package abstracts toolset persistence: a small interface,
// one ErrNotFound sentinel, and a backend per storage technology.
package storage

import (
	"context"
	"errors"

	"github.com/metasched/orchestrator/internal/graph"
)

// ErrNotFound is returned by Load when no snapshot exists yet.
var ErrNotFound = errors.New("storage: no snapshot found")

// Store persists and retrieves protocol graph snapshots. Implementations
// must be append-only: Save never overwrites a prior snapshot, and Load
// always returns the most recently saved one. This lets a crashed executor
// resume from the last complete snapshot without any read-modify-write
// race with a concurrent Save.
type Store interface {
	// Save writes roots (one Start-rooted graph per element, per spec
	// §6.2) as a new snapshot and returns its identifying name.
	Save(ctx context.Context, roots []*graph.Node) (string, error)

	// Load returns the most recently saved snapshot, or ErrNotFound if
	// none has ever been saved.
	Load(ctx context.Context) ([]*graph.Node, error)
}
