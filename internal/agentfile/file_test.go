package agentfile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danshapiro/typedagent/internal/agent"
	"github.com/danshapiro/typedagent/internal/agenterr"
	"github.com/danshapiro/typedagent/internal/execution"
	"github.com/danshapiro/typedagent/internal/llm"
)

const summarizerYAML = `
version: 1
name: summarizer
description: Summarizes an article into a title and tags.
model:
  provider: Claude
  name: claude-sonnet-4-5
  temperature: 0.2
  max_tokens: 1024
max_attempts: 2
max_iterations: 4
prompts:
  system: "You summarize articles. Attempt {{.Attempt}} of {{.MaxAttempts}}."
  user: "Summarize: {{.Input.text}}"
  error: "Try again ({{.Attempt}}/{{.MaxAttempts}}): {{.Error}}"
tools:
  output:
    name: emit_summary
    description: Return the summary.
schema:
  type: object
  properties:
    title: {type: string}
    tags: {type: array, items: {type: string}}
    kind: {type: string}
    path: {type: string}
  required: [title]
rules:
  - kind: non_empty
    field: title
  - name: short-title
    kind: max_length
    field: title
    max: 20
  - kind: one_of
    field: kind
    values: [news, essay]
  - kind: glob
    field: path
    pattern: "docs/**/*.md"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_YAML(t *testing.T) {
	f, err := Load(writeFile(t, "summarizer.yaml", summarizerYAML))
	require.NoError(t, err)

	assert.Equal(t, 1, f.Version)
	assert.Equal(t, "summarizer", f.Name)
	assert.Equal(t, "anthropic", f.Model.Provider)
	require.NotNil(t, f.Model.Temperature)
	assert.Equal(t, 0.2, *f.Model.Temperature)
	assert.Equal(t, 2, f.MaxAttempts)
	require.Len(t, f.Rules, 4)
	assert.Equal(t, "non_empty:title", f.Rules[0].Name)
	assert.Equal(t, "short-title", f.Rules[1].Name)
}

func TestLoad_JSONIsStrict(t *testing.T) {
	_, err := Load(writeFile(t, "a.json", `{"name":"x","description":"y","bogus":1}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")

	_, err = Load(writeFile(t, "b.json", `{"name":"x"} {"name":"y"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple top-level values")
}

func TestParse_QualifiedModelName(t *testing.T) {
	f, err := Parse([]byte("name: x\nmodel: {name: claude/claude-haiku-4-5}\n"))
	require.NoError(t, err)
	assert.Equal(t, "anthropic", f.Model.Provider)
	assert.Equal(t, "claude-haiku-4-5", f.Model.Name)
}

func TestParse_RejectsInvalidFiles(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "name: x\nnope: 1\n", "nope"},
		{"multiple documents", "name: x\n---\nname: y\n", "multiple documents"},
		{"bad version", "version: 2\nname: x\n", "unsupported agent file version"},
		{"unknown provider", "name: x\nmodel: {provider: nowhere}\n", "unknown model.provider"},
		{"rule without field", "rules: [{kind: non_empty}]\n", "rules[0].field"},
		{"bad rule kind", "rules: [{kind: shiny, field: a}]\n", "kind \"shiny\" is invalid"},
		{"max_length without max", "rules: [{kind: max_length, field: a}]\n", "rules[0].max"},
		{"one_of without values", "rules: [{kind: one_of, field: a}]\n", "rules[0].values"},
		{"bad glob", "rules: [{kind: glob, field: a, pattern: \"[\"}]\n", "not a valid glob"},
		{"duplicate rule", "rules: [{kind: non_empty, field: a}, {kind: non_empty, field: a}]\n", "duplicate rule name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestDefinition_RendersPrompts(t *testing.T) {
	f, err := Parse([]byte(summarizerYAML))
	require.NoError(t, err)
	def, err := f.Definition()
	require.NoError(t, err)

	ctx := context.Background()
	input := map[string]any{"text": "Go 1.25 released"}
	ec := execution.New(2, 4)

	system, err := def.Prompts.System(ctx, input, ec)
	require.NoError(t, err)
	assert.Equal(t, "You summarize articles. Attempt 1 of 2.", system)

	user, err := def.Prompts.User(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, "Summarize: Go 1.25 released", user)

	retry, err := def.Prompts.Error(ctx, input, ec.NextAttempt(), "bad title")
	require.NoError(t, err)
	assert.Equal(t, "Try again (2/2): bad title", retry)

	_, err = def.Prompts.User(ctx, map[string]any{})
	require.Error(t, err, "missing input keys must fail the template")

	assert.Equal(t, "emit_summary", def.Tools.Output.Name)
	assert.Equal(t, 1024, def.Model.MaxTokens)
	assert.Equal(t, 4, def.MaxIterations)
	assert.Len(t, def.Validation.Validators, 4)
}

func TestDefinition_TemplateErrors(t *testing.T) {
	f, err := Parse([]byte("name: x\nprompts: {system: \"{{.Attempt\", user: u}\n"))
	require.NoError(t, err)
	_, err = f.Definition()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompts.system")
}

func TestDefinition_MissingPiecesSurfaceAsTaxonomyErrors(t *testing.T) {
	f, err := Parse([]byte("name: x\ndescription: y\nprompts: {system: s, user: u}\n"))
	require.NoError(t, err)
	def, err := f.Definition()
	require.NoError(t, err)

	_, err = agent.New(def, agent.ModelFunc(func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{}, nil
	}))
	assert.True(t, agenterr.IsCode(err, agenterr.CodeMissingOutputSchema))

	f.Schema = map[string]any{"type": "object"}
	f.Prompts.User = ""
	def, err = f.Definition()
	require.NoError(t, err)
	_, err = agent.New(def, agent.ModelFunc(func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{}, nil
	}))
	assert.True(t, agenterr.IsCode(err, agenterr.CodeMissingPrompt))
}

func TestRules(t *testing.T) {
	f, err := Parse([]byte(summarizerYAML))
	require.NoError(t, err)
	layers := rulesToLayers(f.Rules)
	require.Len(t, layers, 4)
	byName := map[string]int{}
	for i, l := range layers {
		byName[l.Name()] = i
	}

	cases := []struct {
		layer string
		value map[string]any
		fails bool
	}{
		{"non_empty:title", map[string]any{"title": "ok"}, false},
		{"non_empty:title", map[string]any{"title": "   "}, true},
		{"non_empty:title", map[string]any{}, true},
		{"short-title", map[string]any{"title": "short"}, false},
		{"short-title", map[string]any{"title": strings.Repeat("é", 21)}, true},
		{"short-title", map[string]any{}, false},
		{"short-title", map[string]any{"title": 12.0}, true},
		{"one_of:kind", map[string]any{"kind": "essay"}, false},
		{"one_of:kind", map[string]any{"kind": "poem"}, true},
		{"glob:path", map[string]any{"path": "docs/a/b/readme.md"}, false},
		{"glob:path", map[string]any{"path": "src/main.go"}, true},
		{"glob:path", map[string]any{"path": 3.0}, true},
	}
	for _, tc := range cases {
		l := layers[byName[tc.layer]]
		err := l.Validate(context.Background(), tc.value)
		if tc.fails {
			assert.Error(t, err, "%s %v", tc.layer, tc.value)
		} else {
			assert.NoError(t, err, "%s %v", tc.layer, tc.value)
		}
	}
}

func TestLookup_NestedPaths(t *testing.T) {
	v := map[string]any{"a": map[string]any{"b": map[string]any{"c": "deep"}}, "n": 1.0}
	got, ok := lookup(v, "a.b.c")
	assert.True(t, ok)
	assert.Equal(t, "deep", got)
	_, ok = lookup(v, "a.x.c")
	assert.False(t, ok)
	_, ok = lookup(v, "n.m")
	assert.False(t, ok)
}

func TestOneOf_ComparesNumbersAcrossDecoders(t *testing.T) {
	f, err := Parse([]byte("rules: [{kind: one_of, field: n, values: [1, 2]}]\n"))
	require.NoError(t, err)
	l := rulesToLayers(f.Rules)[0]

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"n": 2}`), &out))
	assert.NoError(t, l.Validate(context.Background(), out))
	require.NoError(t, json.Unmarshal([]byte(`{"n": 3}`), &out))
	assert.Error(t, l.Validate(context.Background(), out))
}

func TestDiscover(t *testing.T) {
	fsys := fstest.MapFS{
		"agents/a.yaml":        {Data: []byte("name: a")},
		"agents/nested/b.yaml": {Data: []byte("name: b")},
		"agents/readme.md":     {Data: []byte("#")},
		"other/c.yaml":         {Data: []byte("name: c")},
	}
	got, err := Discover(fsys, "agents/**/*.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"agents/a.yaml", "agents/nested/b.yaml"}, got)

	_, err = Discover(fsys, "agents/[")
	assert.Error(t, err)
}

func TestExecute_FromFile(t *testing.T) {
	f, err := Parse([]byte(summarizerYAML))
	require.NoError(t, err)
	def, err := f.Definition()
	require.NoError(t, err)

	calls := 0
	model := agent.ModelFunc(func(_ context.Context, req llm.Request) (llm.Response, error) {
		calls++
		args := `{"title":"` + strings.Repeat("x", 30) + `"}`
		if calls == 2 {
			args = `{"title":"Go ships","kind":"news","path":"docs/go/125.md"}`
		}
		return llm.Response{Message: llm.AssistantToolCalls("", llm.ToolCallData{
			ID: "c", Name: "emit_summary", Arguments: json.RawMessage(args),
		})}, nil
	})
	a, err := agent.New(def, model)
	require.NoError(t, err)

	res, err := a.Execute(context.Background(), map[string]any{"text": "Go 1.25 released"})
	require.NoError(t, err)
	assert.Equal(t, "Go ships", res.Output["title"])
	assert.Equal(t, 2, res.Attempts)
}
