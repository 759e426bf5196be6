package agent

import (
	"fmt"
	"math"
	"strings"

	"github.com/danshapiro/typedagent/internal/agenterr"
	"github.com/danshapiro/typedagent/internal/llm"
	"github.com/danshapiro/typedagent/internal/prompt"
	"github.com/danshapiro/typedagent/internal/validation"
)

const (
	DefaultMaxAttempts    = 3
	DefaultMaxIterations  = 15
	DefaultMaxTokens      = 4096
	DefaultOutputToolName = "submit_output"

	defaultOutputToolDescription = "Return the final result. The arguments must satisfy the output schema."
	defaultSubmitToolDescription = "Finish the task after the output tool has accepted your result."
)

// Definition describes an agent. It is validated once by New, before any execution starts.
type Definition[I, O any] struct {
	Name        string
	Description string
	Prompts     Prompts[I]
	Validation  Validation[O]
	Tools       Tools
	Model       ModelSettings

	// MaxIterations bounds model turns per attempt. Zero means DefaultMaxIterations.
	MaxIterations int
}

// Prompts holds the generators. Error is optional; prompt.DefaultError is used when nil.
type Prompts[I any] struct {
	System prompt.SystemFunc[I]
	User   prompt.UserFunc[I]
	Error  prompt.ErrorFunc[I]
}

type Validation[O any] struct {
	Schema     validation.Schema[O]
	Validators []validation.Layer[O]

	// MaxAttempts bounds attempts per execution. Zero means DefaultMaxAttempts.
	MaxAttempts int
}

type ToolSpec struct {
	Name        string
	Description string
}

type Tools struct {
	// Output is the tool whose arguments are validated as the result.
	Output ToolSpec

	// Submit, when set, must be called after Output to finish.
	Submit    *ToolSpec
	Auxiliary []Tool
}

type ModelSettings struct {
	Provider    string
	Name        string
	Temperature *float64

	// MaxTokens caps each completion. Zero means DefaultMaxTokens.
	MaxTokens int
}

// Documented is implemented by schemas that can describe themselves as JSON Schema, such as
// validation.JSONSchema. The document becomes the output tool's parameters.
type Documented interface {
	Document() map[string]any
}

// resolved is a validated Definition with defaults applied.
type resolved[I, O any] struct {
	def           Definition[I, O]
	maxAttempts   int
	maxIterations int
	maxTokens     int
	output        ToolSpec
	submit        *ToolSpec
	registry      *ToolRegistry
	toolDefs      []llm.ToolDefinition
}

func resolve[I, O any](def Definition[I, O]) (*resolved[I, O], error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, agenterr.EmptyName("name")
	}
	if strings.TrimSpace(def.Description) == "" {
		return nil, agenterr.EmptyDescription("description")
	}

	r := &resolved[I, O]{
		def:           def,
		maxAttempts:   def.Validation.MaxAttempts,
		maxIterations: def.MaxIterations,
		maxTokens:     def.Model.MaxTokens,
	}
	if r.maxAttempts == 0 {
		r.maxAttempts = DefaultMaxAttempts
	}
	if r.maxAttempts < 1 {
		return nil, agenterr.InvalidMaxAttempts(r.maxAttempts)
	}
	if r.maxIterations == 0 {
		r.maxIterations = DefaultMaxIterations
	}
	if r.maxIterations < 1 {
		return nil, agenterr.InvalidMaxIterations(r.maxIterations)
	}
	if t := def.Model.Temperature; t != nil && (math.IsNaN(*t) || *t < 0 || *t > 1) {
		return nil, agenterr.InvalidTemperature(*t)
	}
	if r.maxTokens == 0 {
		r.maxTokens = DefaultMaxTokens
	}
	if r.maxTokens < 1 {
		return nil, agenterr.InvalidMaxTokens(r.maxTokens)
	}
	if def.Validation.Schema == nil {
		return nil, agenterr.MissingOutputSchema()
	}
	if def.Prompts.System == nil {
		return nil, agenterr.MissingPrompt(agenterr.PromptSystem)
	}
	if def.Prompts.User == nil {
		return nil, agenterr.MissingPrompt(agenterr.PromptUser)
	}

	out := def.Tools.Output
	if out.Name == "" {
		out.Name = DefaultOutputToolName
	}
	if strings.TrimSpace(out.Name) == "" {
		return nil, agenterr.EmptyName("tools.output.name")
	}
	if out.Description == "" {
		out.Description = defaultOutputToolDescription
	}
	if strings.TrimSpace(out.Description) == "" {
		return nil, agenterr.EmptyDescription("tools.output.description")
	}
	r.output = out

	if s := def.Tools.Submit; s != nil {
		sub := *s
		if strings.TrimSpace(sub.Name) == "" {
			return nil, agenterr.EmptyName("tools.submit.name")
		}
		if strings.TrimSpace(sub.Description) == "" {
			sub.Description = defaultSubmitToolDescription
		}
		r.submit = &sub
	}

	seen := map[string]bool{}
	claim := func(name string) error {
		if seen[name] {
			return agenterr.DuplicateToolName(name)
		}
		seen[name] = true
		if err := llm.ValidateToolName(name); err != nil {
			return fmt.Errorf("tool %q: %w", name, err)
		}
		return nil
	}
	if err := claim(r.output.Name); err != nil {
		return nil, err
	}
	if r.submit != nil {
		if err := claim(r.submit.Name); err != nil {
			return nil, err
		}
	}
	r.registry = NewToolRegistry()
	for _, t := range def.Tools.Auxiliary {
		if strings.TrimSpace(t.Definition.Name) == "" {
			return nil, agenterr.EmptyName("tools.auxiliary.name")
		}
		if err := claim(t.Definition.Name); err != nil {
			return nil, err
		}
		if err := r.registry.Register(t); err != nil {
			return nil, fmt.Errorf("tool %q: %w", t.Definition.Name, err)
		}
	}

	params := map[string]any{"type": "object"}
	if d, ok := def.Validation.Schema.(Documented); ok {
		if doc := d.Document(); doc != nil {
			params = doc
		}
	}
	r.toolDefs = append(r.toolDefs, llm.ToolDefinition{Name: r.output.Name, Description: r.output.Description, Parameters: params})
	if r.submit != nil {
		r.toolDefs = append(r.toolDefs, llm.ToolDefinition{
			Name:        r.submit.Name,
			Description: r.submit.Description,
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		})
	}
	r.toolDefs = append(r.toolDefs, r.registry.Definitions()...)
	return r, nil
}
