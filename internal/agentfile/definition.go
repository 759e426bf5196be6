package agentfile

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/danshapiro/typedagent/internal/agent"
	"github.com/danshapiro/typedagent/internal/execution"
	"github.com/danshapiro/typedagent/internal/prompt"
	"github.com/danshapiro/typedagent/internal/validation"
)

// PromptData is what prompt templates are executed with. The user prompt is rendered once per
// execution, before any attempt, so it sees Attempt 1 and Iteration 0.
type PromptData struct {
	Input         map[string]any
	Attempt       int
	MaxAttempts   int
	Iteration     int
	MaxIterations int
	Error         string
}

// Definition converts f into an agent definition over untyped JSON objects. Templates and the
// schema are compiled here; agent.New performs the remaining checks.
func (f *File) Definition() (agent.Definition[map[string]any, map[string]any], error) {
	var def agent.Definition[map[string]any, map[string]any]

	system, err := compileTemplate("system", f.Prompts.System)
	if err != nil {
		return def, err
	}
	user, err := compileTemplate("user", f.Prompts.User)
	if err != nil {
		return def, err
	}
	errTmpl, err := compileTemplate("error", f.Prompts.Error)
	if err != nil {
		return def, err
	}

	var schema validation.Schema[map[string]any]
	if f.Schema != nil {
		s, err := validation.CompileJSONSchema[map[string]any](f.Schema)
		if err != nil {
			return def, err
		}
		schema = s
	}

	def = agent.Definition[map[string]any, map[string]any]{
		Name:        f.Name,
		Description: f.Description,
		Prompts: agent.Prompts[map[string]any]{
			System: systemFunc(system),
			User:   userFunc(user),
			Error:  errorFunc(errTmpl),
		},
		Validation: agent.Validation[map[string]any]{
			Schema:      schema,
			Validators:  rulesToLayers(f.Rules),
			MaxAttempts: f.MaxAttempts,
		},
		Tools: agent.Tools{
			Output: agent.ToolSpec{Name: f.Tools.Output.Name, Description: f.Tools.Output.Description},
		},
		Model: agent.ModelSettings{
			Provider:    f.Model.Provider,
			Name:        f.Model.Name,
			Temperature: f.Model.Temperature,
			MaxTokens:   f.Model.MaxTokens,
		},
		MaxIterations: f.MaxIterations,
	}
	if s := f.Tools.Submit; s != nil {
		def.Tools.Submit = &agent.ToolSpec{Name: s.Name, Description: s.Description}
	}
	return def, nil
}

// compileTemplate returns nil for an empty source so agent.New can report the missing prompt.
func compileTemplate(name, src string) (*template.Template, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	t, err := template.New(name).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("prompts.%s: %w", name, err)
	}
	return t, nil
}

func render(t *template.Template, data PromptData) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

func systemFunc(t *template.Template) prompt.SystemFunc[map[string]any] {
	if t == nil {
		return nil
	}
	return func(_ context.Context, input map[string]any, ec execution.Context) (string, error) {
		return render(t, PromptData{
			Input:         input,
			Attempt:       ec.Attempt,
			MaxAttempts:   ec.MaxAttempts,
			Iteration:     ec.Iteration,
			MaxIterations: ec.MaxIterations,
		})
	}
}

func userFunc(t *template.Template) prompt.UserFunc[map[string]any] {
	if t == nil {
		return nil
	}
	return func(_ context.Context, input map[string]any) (string, error) {
		return render(t, PromptData{Input: input, Attempt: 1})
	}
}

func errorFunc(t *template.Template) prompt.ErrorFunc[map[string]any] {
	if t == nil {
		return nil
	}
	return func(_ context.Context, input map[string]any, ec execution.Context, previousError string) (string, error) {
		return render(t, PromptData{
			Input:         input,
			Attempt:       ec.Attempt,
			MaxAttempts:   ec.MaxAttempts,
			Iteration:     ec.Iteration,
			MaxIterations: ec.MaxIterations,
			Error:         previousError,
		})
	}
}
