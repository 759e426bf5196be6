package validation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/danshapiro/typedagent/internal/agenterr"
)

// Schema parses raw model output into T, reporting violations as *SchemaError.
type Schema[T any] interface {
	Parse(raw json.RawMessage) (T, error)
}

// MutationReason is the reason recorded when a layer modifies its input.
func MutationReason(layer string) string {
	return fmt.Sprintf("validator %q attempted to mutate input: validators must not modify the input object", layer)
}

// Run validates raw against schema and then each layer in order. It returns the parsed value
// when every layer passes and the first failure otherwise; later layers never run.
//
// Failures are a *SchemaError from the schema layer, a *LayerError wrapping whatever a custom
// layer returned or panicked with, or a VALIDATION_FAILED *agenterr.Error when a layer modified
// its input. A cancelled ctx between layers yields ctx.Err().
func Run[T any](ctx context.Context, raw json.RawMessage, schema Schema[T], layers []Layer[T], cb *Callbacks) (T, error) {
	var zero T
	if schema == nil {
		return zero, fmt.Errorf("validation: schema is nil")
	}

	cb.start(SchemaLayerName, LayerSchema)
	value, err := parse(schema, raw)
	if err != nil {
		cb.complete(LayerResult{Name: SchemaLayerName, Description: "output schema", Type: LayerSchema, Err: err})
		return zero, err
	}
	cb.complete(LayerResult{Success: true, Name: SchemaLayerName, Description: "output schema", Type: LayerSchema})

	sealed := sealOf(value)
	for i, l := range layers {
		if l == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		name, desc, err := describe(l, i)
		if err != nil {
			cb.complete(LayerResult{Name: name, Type: LayerCustom, Err: err})
			return zero, err
		}
		cb.start(name, LayerCustom)
		err = runLayer(ctx, l, name, value, sealed)
		if err != nil {
			cb.complete(LayerResult{Name: name, Description: desc, Type: LayerCustom, Err: err})
			return zero, err
		}
		cb.complete(LayerResult{Success: true, Name: name, Description: desc, Type: LayerCustom})
	}
	return value, nil
}

func parse[T any](schema Schema[T], raw json.RawMessage) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SchemaError{Issues: []agenterr.Issue{{Message: fmt.Sprint(r)}}}
		}
	}()
	// Parse sees a private copy so the caller's bytes are never touched.
	return schema.Parse(append(json.RawMessage(nil), raw...))
}

// describe reads a layer's name and description. A panic in either is reported as a failure
// of that layer under the positional name "layer[i]".
func describe[T any](l Layer[T], i int) (name, desc string, err error) {
	defer func() {
		if r := recover(); r != nil {
			name, desc = fmt.Sprintf("layer[%d]", i), ""
			if e, ok := r.(error); ok {
				err = &LayerError{Layer: name, Err: e}
				return
			}
			err = &LayerError{Layer: name, Err: PanicError{Value: r}}
		}
	}()
	return l.Name(), l.Description(), nil
}

func runLayer[T any](ctx context.Context, l Layer[T], name string, value T, sealed seal) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			if sealed.broken(value) {
				err = agenterr.ValidationFailed(name, MutationReason(name))
			}
			return
		}
		if isMutationPanic(r) || sealed.broken(value) {
			err = agenterr.ValidationFailed(name, MutationReason(name))
			return
		}
		if e, ok := r.(error); ok {
			err = &LayerError{Layer: name, Err: e}
			return
		}
		err = &LayerError{Layer: name, Err: PanicError{Value: r}}
	}()
	if lerr := l.Validate(ctx, value); lerr != nil {
		return &LayerError{Layer: name, Err: lerr}
	}
	return nil
}
