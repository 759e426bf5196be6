// Package agent runs typed agents: it drives the attempt and tool-calling loops around a model
// collaborator until the output tool returns a value that passes every validation layer.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/danshapiro/typedagent/internal/agenterr"
	"github.com/danshapiro/typedagent/internal/execution"
	"github.com/danshapiro/typedagent/internal/llm"
	"github.com/danshapiro/typedagent/internal/prompt"
	"github.com/danshapiro/typedagent/internal/validation"
)

// Model is the collaborator called once per iteration. *llm.Client implements it.
type Model interface {
	Complete(ctx context.Context, req llm.Request) (llm.Response, error)
}

type ModelFunc func(ctx context.Context, req llm.Request) (llm.Response, error)

func (f ModelFunc) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return f(ctx, req)
}

type Option func(*options)

type options struct {
	logger *zap.Logger
	sinks  []Sink
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSinks adds observability sinks. Events are delivered in the order sinks are given.
func WithSinks(sinks ...Sink) Option {
	return func(o *options) {
		for _, s := range sinks {
			if s != nil {
				o.sinks = append(o.sinks, s)
			}
		}
	}
}

// Agent is a validated definition bound to a model. It is safe for concurrent Execute calls.
type Agent[I, O any] struct {
	r      *resolved[I, O]
	model  Model
	logger *zap.Logger
	sinks  []namedSink
}

// New validates def and binds it to model. Definition problems are returned as *agenterr.Error
// before anything is executed.
func New[I, O any](def Definition[I, O], model Model, opts ...Option) (*Agent[I, O], error) {
	r, err := resolve(def)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, fmt.Errorf("agent %q: model is required", def.Name)
	}
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	a := &Agent[I, O]{r: r, model: model, logger: o.logger.With(zap.String("agent", def.Name))}
	for i, s := range o.sinks {
		a.sinks = append(a.sinks, namedSink{name: sinkName(s, i), sink: s})
	}
	return a, nil
}

func (a *Agent[I, O]) Name() string { return a.r.def.Name }

// Tools returns the tool definitions offered to the model on every iteration.
func (a *Agent[I, O]) Tools() []llm.ToolDefinition {
	return append([]llm.ToolDefinition(nil), a.r.toolDefs...)
}

// Result describes one execution. On failure Output is the zero value and the remaining
// fields describe the work done before failing.
type Result[O any] struct {
	Output   O
	Metrics  execution.TokenMetrics
	Latency  time.Duration
	Attempts int

	// Iterations counts model turns over all attempts.
	Iterations  int
	ExecutionID string
	Warnings    []*agenterr.Error
}

// Execute runs input through the attempt loop. The returned *Result is never nil. A failed
// execution returns a *agenterr.ExecutionError whose primary entry is the terminal error,
// followed by any warnings.
func (a *Agent[I, O]) Execute(ctx context.Context, input I) (*Result[O], error) {
	if ctx == nil {
		ctx = context.Background()
	}
	id := ulid.Make().String()
	r := &run[I, O]{
		agent:   a,
		input:   input,
		started: time.Now(),
		builder: prompt.NewBuilder(a.r.def.Prompts.System, a.r.def.Prompts.User, a.r.def.Prompts.Error),
		em:      &emitter{executionID: id, sinks: a.sinks, logger: a.logger},
		res:     &Result[O]{ExecutionID: id},
	}
	return r.execute(ctx)
}

type run[I, O any] struct {
	agent   *Agent[I, O]
	input   I
	started time.Time
	builder *prompt.Builder[I]
	em      *emitter
	res     *Result[O]
}

func (r *run[I, O]) execute(ctx context.Context) (*Result[O], error) {
	def := r.agent.r
	ec := execution.New(def.maxAttempts, def.maxIterations)
	r.agent.logger.Debug("execution start",
		zap.String("execution_id", r.res.ExecutionID),
		zap.Int("max_attempts", ec.MaxAttempts),
		zap.Int("max_iterations", ec.MaxIterations),
	)
	r.em.emit(EventExecutionStart, ec.Attempt, ec.Iteration, map[string]any{
		"agent":          def.def.Name,
		"max_attempts":   ec.MaxAttempts,
		"max_iterations": ec.MaxIterations,
	})

	previous := ""
	for {
		r.res.Attempts = ec.Attempt
		out, ae := r.attempt(ctx, ec, previous)
		if ae == nil {
			return r.succeed(out, ec), nil
		}
		if !ae.Retryable() {
			return r.fail(ae, ec)
		}
		if ec.LastAttempt() {
			return r.fail(agenterr.MaxAttemptsExceeded(ec.Attempt, ec.MaxAttempts, agenterr.Format(ae)), ec)
		}
		previous = agenterr.FormatForModel(ae)
		r.agent.logger.Info("attempt rejected, retrying",
			zap.String("execution_id", r.res.ExecutionID),
			zap.Int("attempt", ec.Attempt),
			zap.String("error", agenterr.Format(ae)),
		)
		r.em.emit(EventRetry, ec.Attempt, ec.Iteration, map[string]any{
			"code":         string(ae.Code),
			"message":      agenterr.Message(ae),
			"next_attempt": ec.Attempt + 1,
		})
		ec = ec.NextAttempt()
	}
}

func (r *run[I, O]) succeed(out O, ec execution.Context) *Result[O] {
	r.res.Output = out
	r.res.Latency = time.Since(r.started)
	r.em.emit(EventSuccess, ec.Attempt, ec.Iteration, map[string]any{
		"attempts":      r.res.Attempts,
		"iterations":    r.res.Iterations,
		"latency_ms":    r.res.Latency.Milliseconds(),
		"input_tokens":  r.res.Metrics.Input,
		"output_tokens": r.res.Metrics.Output,
	})
	r.res.Warnings = r.em.warnings
	return r.res
}

func (r *run[I, O]) fail(ae *agenterr.Error, ec execution.Context) (*Result[O], error) {
	r.res.Latency = time.Since(r.started)
	r.agent.logger.Warn("execution failed",
		zap.String("execution_id", r.res.ExecutionID),
		zap.String("code", string(ae.Code)),
		zap.Int("attempt", ec.Attempt),
		zap.Int("iteration", ec.Iteration),
	)
	r.em.emit(EventFailure, ec.Attempt, ec.Iteration, map[string]any{
		"code":          string(ae.Code),
		"message":       agenterr.Message(ae),
		"attempts":      r.res.Attempts,
		"iterations":    r.res.Iterations,
		"latency_ms":    r.res.Latency.Milliseconds(),
		"input_tokens":  r.res.Metrics.Input,
		"output_tokens": r.res.Metrics.Output,
	})
	r.res.Warnings = r.em.warnings
	return r.res, agenterr.NewExecutionError(append([]*agenterr.Error{ae}, r.em.warnings...)...)
}

// attempt runs one attempt to completion: prompts, then the tool loop.
func (r *run[I, O]) attempt(ctx context.Context, ec execution.Context, previous string) (O, *agenterr.Error) {
	var zero O
	def := r.agent.r
	r.em.emit(EventAttemptStart, ec.Attempt, ec.Iteration, map[string]any{"is_retry": ec.IsRetry()})

	built, err := r.builder.Build(ctx, r.input, ec, previous)
	if err != nil {
		return zero, asAgentError(err)
	}
	r.em.emit(EventPromptsBuilt, ec.Attempt, ec.Iteration, map[string]any{
		"is_retry":   built.IsRetry,
		"system_len": len(built.System),
		"user_len":   len(built.User),
		"error_len":  len(built.Error),
	})

	msgs := []llm.Message{llm.System(built.System), llm.User(built.User)}
	if built.IsRetry {
		msgs = append(msgs, llm.User(built.Error))
	}

	var (
		accepted  O
		hasOutput bool
	)
	for {
		ec = ec.NextIteration()
		if ec.Iteration > ec.MaxIterations {
			return zero, agenterr.MaxIterationsExceeded(ec.Iteration, ec.MaxIterations)
		}
		if ctx.Err() != nil {
			return zero, agenterr.Cancelled(ec.Attempt, agenterr.PhaseIteration)
		}
		r.res.Iterations++
		r.em.emit(EventIterationStart, ec.Attempt, ec.Iteration, nil)

		resp, ae := r.complete(ctx, ec, msgs)
		if ae != nil {
			return zero, ae
		}

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			if hasOutput {
				return accepted, nil
			}
			return zero, agenterr.OutputToolNotUsed(ec.Attempt, def.output.Name)
		}
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = "call_" + ulid.Make().String()
			}
		}
		msgs = append(msgs, llm.AssistantToolCalls(resp.Text(), calls...))

		var results []llm.Message
		for _, call := range calls {
			switch {
			case call.Name == def.output.Name:
				r.em.emit(EventToolCallStart, ec.Attempt, ec.Iteration, toolData(call, "output"))
				value, ae := r.validate(ctx, ec, call.Arguments)
				end := toolData(call, "output")
				end["is_error"] = ae != nil
				r.em.emit(EventToolCallEnd, ec.Attempt, ec.Iteration, end)
				if ae != nil {
					return zero, ae
				}
				if def.submit == nil {
					return value, nil
				}
				accepted, hasOutput = value, true
				results = append(results, llm.ToolResultNamed(call.ID, call.Name,
					fmt.Sprintf("Output accepted. Call %q to finish.", def.submit.Name), false))

			case def.submit != nil && call.Name == def.submit.Name:
				if !hasOutput {
					return zero, agenterr.SubmitBeforeOutput(ec.Attempt, ec.Iteration, def.submit.Name, def.output.Name)
				}
				r.em.emit(EventToolCallStart, ec.Attempt, ec.Iteration, toolData(call, "submit"))
				r.em.emit(EventToolCallEnd, ec.Attempt, ec.Iteration, toolData(call, "submit"))
				return accepted, nil

			default:
				if ctx.Err() != nil {
					return zero, agenterr.Cancelled(ec.Attempt, agenterr.PhaseIteration)
				}
				r.em.emit(EventToolCallStart, ec.Attempt, ec.Iteration, toolData(call, "auxiliary"))
				res := def.registry.ExecuteCall(ctx, call)
				end := toolData(call, "auxiliary")
				end["is_error"] = res.IsError
				end["output"] = res.FullOutput
				r.em.emit(EventToolCallEnd, ec.Attempt, ec.Iteration, end)
				results = append(results, llm.ToolResultNamed(call.ID, call.Name, res.Output, res.IsError))
			}
		}
		msgs = append(msgs, results...)
	}
}

// complete performs the model call for one iteration and accounts its usage.
func (r *run[I, O]) complete(ctx context.Context, ec execution.Context, msgs []llm.Message) (llm.Response, *agenterr.Error) {
	def := r.agent.r
	maxTokens := def.maxTokens
	req := llm.Request{
		Provider:    def.def.Model.Provider,
		Model:       def.def.Model.Name,
		Messages:    append([]llm.Message(nil), msgs...),
		Tools:       append([]llm.ToolDefinition(nil), def.toolDefs...),
		Temperature: def.def.Model.Temperature,
		MaxTokens:   &maxTokens,
	}
	resp, err := r.agent.model.Complete(ctx, req)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return llm.Response{}, agenterr.Cancelled(ec.Attempt, agenterr.PhaseAPICall)
	}
	if err != nil {
		ae := agenterr.Classify(err, def.def.Model.Provider)
		r.agent.logger.Warn("model call failed",
			zap.String("execution_id", r.res.ExecutionID),
			zap.Int("attempt", ec.Attempt),
			zap.Int("iteration", ec.Iteration),
			zap.Error(err),
		)
		return llm.Response{}, ae
	}
	r.res.Metrics = r.res.Metrics.Add(execution.TokenMetrics{
		Input:              resp.Usage.InputTokens,
		Output:             resp.Usage.OutputTokens,
		CacheCreationInput: resp.Usage.CacheWriteTokens,
		CacheReadInput:     resp.Usage.CacheReadTokens,
	})
	r.em.emit(EventModelResponse, ec.Attempt, ec.Iteration, map[string]any{
		"finish_reason": string(resp.FinishReason),
		"tool_calls":    len(resp.ToolCalls()),
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	})
	return resp, nil
}

// validate runs the output tool's arguments through the schema and custom layers.
func (r *run[I, O]) validate(ctx context.Context, ec execution.Context, raw json.RawMessage) (O, *agenterr.Error) {
	var zero O
	if ctx.Err() != nil {
		return zero, agenterr.Cancelled(ec.Attempt, agenterr.PhaseValidation)
	}
	def := r.agent.r
	cb := &validation.Callbacks{
		OnLayerStart: func(name string, typ validation.LayerType) {
			r.em.emit(EventLayerStart, ec.Attempt, ec.Iteration, map[string]any{"layer": name, "type": string(typ)})
		},
		OnLayerComplete: func(res validation.LayerResult) {
			data := map[string]any{"layer": res.Name, "type": string(res.Type), "success": res.Success}
			if res.Err != nil {
				data["error"] = agenterr.Truncate(res.Err)
			}
			r.em.emit(EventLayerComplete, ec.Attempt, ec.Iteration, data)
		},
	}
	value, err := validation.Run(ctx, raw, def.def.Validation.Schema, def.def.Validation.Validators, cb)
	if ctx.Err() != nil {
		return zero, agenterr.Cancelled(ec.Attempt, agenterr.PhaseValidation)
	}
	if err != nil {
		return zero, validation.AsAgentError(err)
	}
	return value, nil
}

func toolData(call llm.ToolCallData, role string) map[string]any {
	return map[string]any{"tool": call.Name, "call_id": call.ID, "role": role}
}

func asAgentError(err error) *agenterr.Error {
	if ae, ok := agenterr.As(err); ok {
		return ae
	}
	return agenterr.APIError("", 0, err.Error())
}
