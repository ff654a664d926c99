// Package schema validates the protocol graph dictionary form (spec §3)
// against a JSON Schema document before it is handed to graph.Decode. This
// turns a malformed --protocolfile or a corrupt storage snapshot into a
// single positional error instead of a cascade of missing-field errors
// from decode, the same role validatePayloadJSONAgainstSchema plays in the
// teacher's registry service.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed graph.schema.json
var graphSchemaDoc []byte

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		var doc any
		if compileErr = json.Unmarshal(graphSchemaDoc, &doc); compileErr != nil {
			return
		}
		c := jsonschema.NewCompiler()
		if compileErr = c.AddResource("graph.json", doc); compileErr != nil {
			return
		}
		compiled, compileErr = c.Compile("graph.json")
	})
	return compiled, compileErr
}

// Validate checks raw (a protocol graph dictionary form, already
// json.Unmarshal'd into map[string]any/[]any/etc.) against the embedded
// graph schema.
func Validate(raw any) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("schema: compile: %w", err)
	}
	if err := s.Validate(raw); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}

// ValidateJSON unmarshals raw JSON bytes and validates the result.
func ValidateJSON(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("schema: unmarshal: %w", err)
	}
	return Validate(doc)
}
