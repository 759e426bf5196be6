// Package prompt invokes the user-supplied prompt generators and turns every way they can
// fail into a PROMPT_GENERATION_FAILED error.
package prompt

import (
	"context"
	"fmt"

	"github.com/danshapiro/typedagent/internal/agenterr"
	"github.com/danshapiro/typedagent/internal/execution"
)

type SystemFunc[I any] func(ctx context.Context, input I, ec execution.Context) (string, error)

// UserFunc receives no execution context: the user prompt is generated once per execution.
type UserFunc[I any] func(ctx context.Context, input I) (string, error)

type ErrorFunc[I any] func(ctx context.Context, input I, ec execution.Context, previousError string) (string, error)

// Built holds the prompts for one attempt. Error is set only when IsRetry is true.
type Built struct {
	System  string
	User    string
	Error   string
	IsRetry bool
}

func BuildSystem[I any](ctx context.Context, gen SystemFunc[I], input I, ec execution.Context) (string, error) {
	if gen == nil {
		return "", agenterr.PromptGenerationFailed(agenterr.PromptSystem, "generator is not set", ec.Attempt)
	}
	return invoke(ctx, agenterr.PromptSystem, ec.Attempt, func() (string, error) {
		return gen(ctx, input, ec)
	})
}

// BuildUser takes ec only to attribute failures to the current attempt.
func BuildUser[I any](ctx context.Context, gen UserFunc[I], input I, ec execution.Context) (string, error) {
	if gen == nil {
		return "", agenterr.PromptGenerationFailed(agenterr.PromptUser, "generator is not set", ec.Attempt)
	}
	return invoke(ctx, agenterr.PromptUser, ec.Attempt, func() (string, error) {
		return gen(ctx, input)
	})
}

func BuildError[I any](ctx context.Context, gen ErrorFunc[I], input I, ec execution.Context, previousError string) (string, error) {
	if gen == nil {
		return "", agenterr.PromptGenerationFailed(agenterr.PromptError, "generator is not set", ec.Attempt)
	}
	return invoke(ctx, agenterr.PromptError, ec.Attempt, func() (string, error) {
		return gen(ctx, input, ec, previousError)
	})
}

// invoke runs fn, observing cancellation on both sides of the call. A returned error, a
// panic with an error value and a panic with any other value all become
// PROMPT_GENERATION_FAILED.
func invoke(ctx context.Context, pt agenterr.PromptType, attempt int, fn func() (string, error)) (string, error) {
	if ctx.Err() != nil {
		return "", agenterr.Cancelled(attempt, agenterr.PhasePromptGeneration)
	}
	out, reason, failed := call(fn)
	if ctx.Err() != nil {
		return "", agenterr.Cancelled(attempt, agenterr.PhasePromptGeneration)
	}
	if failed {
		return "", agenterr.PromptGenerationFailed(pt, reason, attempt)
	}
	return out, nil
}

func call(fn func() (string, error)) (out string, reason string, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			out, reason, failed = "", panicReason(r), true
		}
	}()
	s, err := fn()
	if err != nil {
		return "", err.Error(), true
	}
	return s, "", false
}

func panicReason(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(v)
}

// DefaultError is used when an agent does not supply its own error prompt generator. The
// formatted feedback is passed through as is.
func DefaultError[I any]() ErrorFunc[I] {
	return func(_ context.Context, _ I, ec execution.Context, previousError string) (string, error) {
		return fmt.Sprintf("Attempt %d of %d.\n\n%s", ec.Attempt, ec.MaxAttempts, previousError), nil
	}
}

// Builder builds the prompts for each attempt of one execution. The user prompt is generated
// on the first successful build and reused afterwards. A Builder is not safe for concurrent use.
type Builder[I any] struct {
	system SystemFunc[I]
	user   UserFunc[I]
	errFn  ErrorFunc[I]

	userPrompt string
	userBuilt  bool
}

func NewBuilder[I any](system SystemFunc[I], user UserFunc[I], errFn ErrorFunc[I]) *Builder[I] {
	if errFn == nil {
		errFn = DefaultError[I]()
	}
	return &Builder[I]{system: system, user: user, errFn: errFn}
}

// Build produces the prompts for the attempt described by ec. It stops at the first failure;
// the error prompt is built only on a retry with previous feedback available.
func (b *Builder[I]) Build(ctx context.Context, input I, ec execution.Context, previousError string) (Built, error) {
	system, err := BuildSystem(ctx, b.system, input, ec)
	if err != nil {
		return Built{}, err
	}
	if !b.userBuilt {
		user, err := BuildUser(ctx, b.user, input, ec)
		if err != nil {
			return Built{}, err
		}
		b.userPrompt, b.userBuilt = user, true
	}
	out := Built{System: system, User: b.userPrompt}
	if ec.Attempt <= 1 || previousError == "" {
		return out, nil
	}
	errPrompt, err := BuildError(ctx, b.errFn, input, ec, previousError)
	if err != nil {
		return Built{}, err
	}
	out.Error = errPrompt
	out.IsRetry = true
	return out, nil
}
