// Package mongostore implements storage.Store on top of MongoDB, the
// alternate production-durability backend grounded on the teacher's
// registry/store/mongo package. Each Save inserts a new document rather
// than replacing one, preserving the append-only snapshot contract;
// Load picks the document with the greatest saved_at.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/metasched/orchestrator/internal/graph"
	"github.com/metasched/orchestrator/internal/graph/schema"
	"github.com/metasched/orchestrator/internal/storage"
)

// Store is a MongoDB-backed storage.Store.
type Store struct {
	collection *mongo.Collection
}

// Compile-time check that Store implements storage.Store.
var _ storage.Store = (*Store)(nil)

// New returns a Store backed by the given collection, which should come
// from an already-connected client.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

// snapshotDocument is the MongoDB document representation of one snapshot:
// one document per Save, holding all Start-rooted graphs from that save
// (spec §6.2's "JSON array, one element per Start-rooted graph"
// translated to an array-valued field instead of a top-level array).
type snapshotDocument struct {
	SavedAt string   `bson:"saved_at"`
	Graphs  []bson.M `bson:"graphs"`
}

// Save inserts roots as a new snapshot document.
func (s *Store) Save(ctx context.Context, roots []*graph.Node) (string, error) {
	// Fixed-width layout so that string order of saved_at equals time order
	// (RFC3339Nano trims trailing zeros and would not sort correctly).
	savedAt := time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z")
	graphs := make([]bson.M, len(roots))
	for i, root := range roots {
		graphs[i] = bson.M(root.Encode())
	}
	doc := snapshotDocument{SavedAt: savedAt, Graphs: graphs}
	res, err := s.collection.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("mongostore: insert snapshot: %w", err)
	}
	oid, _ := res.InsertedID.(bson.ObjectID)
	return oid.Hex(), nil
}

// Load returns the most recently saved snapshot.
func (s *Store) Load(ctx context.Context) ([]*graph.Node, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "saved_at", Value: -1}})
	var doc snapshotDocument
	err := s.collection.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("mongostore: load snapshot: %w", err)
	}
	roots := make([]*graph.Node, len(doc.Graphs))
	for i, g := range doc.Graphs {
		m := normalize(g).(map[string]any)
		if err := schema.Validate(m); err != nil {
			return nil, fmt.Errorf("mongostore: snapshot graph %d: %w", i, err)
		}
		root, err := graph.Decode(m)
		if err != nil {
			return nil, fmt.Errorf("mongostore: decode snapshot graph %d: %w", i, err)
		}
		roots[i] = root
	}
	return roots, nil
}

// normalize converts the driver's default embedded-document representation
// (bson.D for subdocuments reached through an interface{} field, even when
// the top-level value is bson.M) into plain map[string]any / []any so that
// graph.Decode's type assertions see what it expects regardless of how the
// driver chose to decode nested post_node entries.
func normalize(v any) any {
	switch val := v.(type) {
	case bson.M:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalize(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}
