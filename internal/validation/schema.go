package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/danshapiro/typedagent/internal/agenterr"
)

// JSONSchema validates the decoded JSON tree against a compiled JSON Schema document and then
// decodes it into T.
type JSONSchema[T any] struct {
	doc    map[string]any
	schema *jsonschema.Schema
}

// CompileJSONSchema compiles doc. An empty doc accepts any JSON object.
func CompileJSONSchema[T any](doc map[string]any) (*JSONSchema[T], error) {
	if doc == nil {
		doc = map[string]any{"type": "object"}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("output schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("output.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("output schema: %w", err)
	}
	s, err := c.Compile("output.json")
	if err != nil {
		return nil, fmt.Errorf("output schema: %w", err)
	}
	// keep a private copy so callers cannot change what Document reports
	var cp map[string]any
	_ = json.Unmarshal(b, &cp)
	return &JSONSchema[T]{doc: cp, schema: s}, nil
}

// Document returns a copy of the schema document, suitable as tool parameters.
func (s *JSONSchema[T]) Document() map[string]any {
	b, err := json.Marshal(s.doc)
	if err != nil {
		return nil
	}
	var out map[string]any
	_ = json.Unmarshal(b, &out)
	return out
}

func (s *JSONSchema[T]) Parse(raw json.RawMessage) (T, error) {
	var zero T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return zero, &SchemaError{Issues: []agenterr.Issue{{Message: "output is not valid JSON: " + err.Error()}}}
	}
	if err := s.schema.Validate(tree); err != nil {
		return zero, &SchemaError{Issues: issuesFrom(err)}
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, &SchemaError{Issues: []agenterr.Issue{{Message: "output does not match the expected shape: " + err.Error()}}}
	}
	return out, nil
}

func issuesFrom(err error) []agenterr.Issue {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []agenterr.Issue{{Message: err.Error()}}
	}
	var out []agenterr.Issue
	for _, be := range ve.BasicOutput().Errors {
		msg := strings.TrimSpace(be.Error)
		// the root entry only says which schema failed
		if msg == "" || strings.HasPrefix(msg, "doesn't validate with") {
			continue
		}
		out = append(out, agenterr.Issue{Path: be.InstanceLocation, Message: msg})
	}
	if len(out) == 0 {
		out = append(out, agenterr.Issue{Path: ve.InstanceLocation, Message: ve.Message})
	}
	return out
}
