// Package jsonfile implements storage.Store as an append-only directory of
// JSON snapshots, the literal default persistence backend described in
// spec §6.2: one file per Save, named so that lexicographic order equals
// chronological order, with Load always picking the newest.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/metasched/orchestrator/internal/graph"
	"github.com/metasched/orchestrator/internal/graph/schema"
	"github.com/metasched/orchestrator/internal/storage"
)

const timeLayout = "20060102T150405.000000000Z"

// Store saves snapshots as <timestamp>_<random>.json files under Dir.
type Store struct {
	Dir string
}

// Compile-time check that Store implements storage.Store.
var _ storage.Store = (*Store)(nil)

// New returns a Store rooted at dir. dir is created if it does not exist.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jsonfile: create snapshot dir %q: %w", dir, err)
	}
	return &Store{Dir: dir}, nil
}

// Save encodes roots as a JSON array, one element per Start-rooted graph
// (spec §6.2), and writes it to a new file. The write goes to a temporary
// file in the same directory first and is renamed into place, so a reader
// never observes a partially written snapshot and a crash mid-write never
// corrupts a prior snapshot.
func (s *Store) Save(ctx context.Context, roots []*graph.Node) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	arr := make([]map[string]any, len(roots))
	for i, root := range roots {
		arr[i] = root.Encode()
	}
	raw, err := json.Marshal(arr)
	if err != nil {
		return "", fmt.Errorf("jsonfile: encode snapshot: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json", time.Now().UTC().Format(timeLayout), uuid.New().String()[:8])
	final := filepath.Join(s.Dir, name)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return "", fmt.Errorf("jsonfile: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("jsonfile: rename %q: %w", tmp, err)
	}
	return name, nil
}

// Load returns the snapshot with the lexicographically greatest filename,
// which — because names are timestamp-prefixed with a fixed-width layout —
// is also the most recently saved one.
func (s *Store) Load(ctx context.Context) ([]*graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("jsonfile: read dir %q: %w", s.Dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, storage.ErrNotFound
	}
	sort.Strings(names)
	newest := names[len(names)-1]

	raw, err := os.ReadFile(filepath.Join(s.Dir, newest))
	if err != nil {
		return nil, fmt.Errorf("jsonfile: read %q: %w", newest, err)
	}

	var arr []any
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, fmt.Errorf("jsonfile: unmarshal %q: %w", newest, err)
	}
	roots := make([]*graph.Node, len(arr))
	for i, elem := range arr {
		m, ok := elem.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("jsonfile: %q: element %d is not an object", newest, i)
		}
		if err := schema.Validate(m); err != nil {
			return nil, fmt.Errorf("jsonfile: %q: element %d: %w", newest, i, err)
		}
		root, err := graph.Decode(m)
		if err != nil {
			return nil, fmt.Errorf("jsonfile: %q: element %d: %w", newest, i, err)
		}
		roots[i] = root
	}
	return roots, nil
}
