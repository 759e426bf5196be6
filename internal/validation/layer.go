// Package validation runs parsed model output through a schema layer and then through an
// ordered list of custom layers, stopping at the first failure.
package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/danshapiro/typedagent/internal/agenterr"
)

// SchemaLayerName is the name reported for the schema layer in callbacks and errors.
const SchemaLayerName = "schema"

type LayerType string

const (
	LayerSchema LayerType = "schema"
	LayerCustom LayerType = "custom"
)

// Layer is one custom validation stage. Validate receives its own copy of the value; it must
// not modify anything reachable through it.
type Layer[T any] interface {
	Name() string
	Description() string
	Validate(ctx context.Context, value T) error
}

type funcLayer[T any] struct {
	name        string
	description string
	fn          func(ctx context.Context, value T) error
}

// Func adapts a plain function to a Layer.
func Func[T any](name, description string, fn func(ctx context.Context, value T) error) Layer[T] {
	return funcLayer[T]{name: name, description: description, fn: fn}
}

func (l funcLayer[T]) Name() string        { return l.name }
func (l funcLayer[T]) Description() string { return l.description }
func (l funcLayer[T]) Validate(ctx context.Context, value T) error {
	return l.fn(ctx, value)
}

// LayerResult is reported to OnLayerComplete once per layer that ran.
type LayerResult struct {
	Success     bool
	Name        string
	Description string
	Type        LayerType
	Err         error
}

// Callbacks observe the pipeline. Panics raised by callbacks are swallowed.
type Callbacks struct {
	OnLayerStart    func(name string, typ LayerType)
	OnLayerComplete func(result LayerResult)
}

func (c *Callbacks) start(name string, typ LayerType) {
	if c == nil || c.OnLayerStart == nil {
		return
	}
	defer func() { _ = recover() }()
	c.OnLayerStart(name, typ)
}

func (c *Callbacks) complete(r LayerResult) {
	if c == nil || c.OnLayerComplete == nil {
		return
	}
	defer func() { _ = recover() }()
	c.OnLayerComplete(r)
}

// SchemaError reports that the raw output did not satisfy the schema.
type SchemaError struct {
	Issues []agenterr.Issue
}

func (e *SchemaError) Error() string {
	switch len(e.Issues) {
	case 0:
		return "schema validation failed"
	case 1:
		return "schema validation failed: " + issueString(e.Issues[0])
	}
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, issueString(is))
	}
	return fmt.Sprintf("schema validation failed with %d issues: %s", len(e.Issues), strings.Join(parts, "; "))
}

func issueString(is agenterr.Issue) string {
	if is.Path == "" {
		return is.Message
	}
	return is.Path + ": " + is.Message
}

// LayerError wraps the failure of one custom layer.
type LayerError struct {
	Layer string
	Err   error
}

func (e *LayerError) Error() string {
	return fmt.Sprintf("validation layer %q failed: %v", e.Layer, e.Err)
}

func (e *LayerError) Unwrap() error { return e.Err }

// PanicError carries a non-error value a layer panicked with.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// AsAgentError converts a failure returned by Run into VALIDATION_FAILED. Mutation failures
// and errors that already are *agenterr.Error pass through unchanged.
func AsAgentError(err error) *agenterr.Error {
	if err == nil {
		return nil
	}
	if e, ok := agenterr.As(err); ok {
		return e
	}
	switch x := err.(type) {
	case *SchemaError:
		reason := fmt.Sprintf("%d issue(s)", len(x.Issues))
		if len(x.Issues) == 1 {
			reason = x.Issues[0].Message
		}
		return agenterr.ValidationFailed(SchemaLayerName, reason, x.Issues...)
	case *LayerError:
		return agenterr.ValidationFailed(x.Layer, x.Err.Error())
	}
	return agenterr.ValidationFailed("unknown", err.Error())
}
