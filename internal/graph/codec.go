package graph

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/metasched/orchestrator/internal/graph/schema"
)

// Encode produces the self-describing dictionary form described in spec §3:
// node_type, id, post_node (recursive), plus variant-specific fields. The
// result round-trips through Decode preserving identifiers and all time
// fields.
func (n *Node) Encode() map[string]any {
	post := make([]map[string]any, 0, len(n.Children))
	for _, child := range n.Children {
		post = append(post, child.Encode())
	}

	m := map[string]any{
		"node_type": string(n.Type),
		"id":        n.ID.String(),
		"post_node": post,
	}

	switch n.Type {
	case TypeProtocol:
		m["name"] = n.Name
		m["duration_seconds"] = n.Duration.Seconds()
		m["scheduled_time_epoch"] = epochOf(n.ScheduledTime)
		m["started_time_epoch"] = epochOf(n.StartedTime)
		m["finished_time_epoch"] = epochOf(n.FinishedTime)
	case TypeDelay:
		m["duration_seconds"] = n.Duration.Seconds()
		m["from_type"] = string(n.FromType)
		m["offset_seconds"] = n.Offset.Seconds()
	}
	return m
}

// EncodeJSON is Encode followed by a json.Marshal of the result.
func (n *Node) EncodeJSON() ([]byte, error) {
	return json.Marshal(n.Encode())
}

func epochOf(t *time.Time) any {
	if t == nil {
		return nil
	}
	// Seconds (with fractional part), not nanoseconds: float64 has ~53 bits
	// of mantissa, and at unix-epoch magnitude (~1.7e9) that keeps
	// sub-microsecond precision, comfortably inside spec's one-second
	// precision guarantee. Encoding raw UnixNano would silently truncate.
	return float64(t.UTC().UnixNano()) / float64(time.Second)
}

func timeOf(v any) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	f, ok := asFloat(v)
	if !ok {
		return nil, fmt.Errorf("%w: epoch field must be a number", ErrInvalidGraph)
	}
	t := time.Unix(0, int64(f*float64(time.Second))).UTC()
	return &t, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Decode rebuilds a node tree from the dictionary form produced by Encode.
// It rejects unknown node_type values, missing required fields, and (per
// variant) invalid successor shapes: a Delay may only have Protocol
// successors and only one of them; a Start may not appear as a successor.
func Decode(data map[string]any) (*Node, error) {
	return decode(data, nil)
}

// DecodeJSON unmarshals raw bytes into the dictionary form, validates it
// against the graph schema, and decodes it.
func DecodeJSON(raw []byte) (*Node, error) {
	if err := schema.ValidateJSON(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	return Decode(m)
}

func decode(data map[string]any, parent *Node) (*Node, error) {
	rawType, ok := data["node_type"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing node_type", ErrInvalidGraph)
	}
	nodeType := NodeType(rawType)

	rawID, _ := data["id"].(string)
	var id uuid.UUID
	if rawID != "" {
		parsed, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid id %q: %v", ErrInvalidGraph, rawID, err)
		}
		id = parsed
	} else {
		id = uuid.New()
	}

	if parent != nil && nodeType == TypeStart {
		return nil, fmt.Errorf("%w: Start cannot be a successor", ErrInvalidGraph)
	}
	if parent != nil && parent.Type == TypeDelay && nodeType != TypeProtocol {
		return nil, fmt.Errorf("%w: Delay's successor must be a Protocol", ErrInvalidGraph)
	}

	node := &Node{ID: id, Type: nodeType, parent: parent}

	switch nodeType {
	case TypeStart:
		// no variant fields
	case TypeProtocol:
		name, ok := data["name"].(string)
		if !ok {
			return nil, fmt.Errorf("%w: protocol missing name", ErrInvalidGraph)
		}
		node.Name = name
		dur, ok := asFloat(data["duration_seconds"])
		if !ok {
			return nil, fmt.Errorf("%w: protocol missing duration_seconds", ErrInvalidGraph)
		}
		if dur < 0 {
			return nil, fmt.Errorf("%w: protocol duration must be non-negative", ErrInvalidGraph)
		}
		node.Duration = time.Duration(dur * float64(time.Second))
		var err error
		if node.ScheduledTime, err = timeOf(data["scheduled_time_epoch"]); err != nil {
			return nil, err
		}
		if node.StartedTime, err = timeOf(data["started_time_epoch"]); err != nil {
			return nil, err
		}
		if node.FinishedTime, err = timeOf(data["finished_time_epoch"]); err != nil {
			return nil, err
		}
	case TypeDelay:
		dur, ok := asFloat(data["duration_seconds"])
		if !ok {
			return nil, fmt.Errorf("%w: delay missing duration_seconds", ErrInvalidGraph)
		}
		node.Duration = time.Duration(dur * float64(time.Second))
		from, _ := data["from_type"].(string)
		node.FromType = FromType(from)
		if !node.FromType.valid() {
			return nil, fmt.Errorf("%w: invalid from_type %q", ErrInvalidGraph, from)
		}
		off, ok := asFloat(data["offset_seconds"])
		if !ok {
			return nil, fmt.Errorf("%w: delay missing offset_seconds", ErrInvalidGraph)
		}
		node.Offset = time.Duration(off * float64(time.Second))
	default:
		return nil, fmt.Errorf("%w: unknown node_type %q", ErrInvalidGraph, rawType)
	}

	rawChildren, _ := data["post_node"].([]any)
	if nodeType == TypeDelay && len(rawChildren) > 1 {
		return nil, fmt.Errorf("%w: Delay may have only one successor", ErrInvalidGraph)
	}
	for _, rc := range rawChildren {
		cm, ok := rc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: post_node entry is not an object", ErrInvalidGraph)
		}
		child, err := decode(cm, node)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}

	return node, nil
}
