// Package agentfile loads declarative agent definitions from YAML or JSON files.
package agentfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/danshapiro/typedagent/internal/modelmeta"
	"github.com/danshapiro/typedagent/internal/providerspec"
)

type File struct {
	Version       int            `json:"version" yaml:"version"`
	Name          string         `json:"name" yaml:"name"`
	Description   string         `json:"description" yaml:"description"`
	Model         Model          `json:"model" yaml:"model"`
	MaxAttempts   int            `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	MaxIterations int            `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	Prompts       Prompts        `json:"prompts" yaml:"prompts"`
	Tools         Tools          `json:"tools,omitempty" yaml:"tools,omitempty"`
	Schema        map[string]any `json:"schema" yaml:"schema"`
	Rules         []Rule         `json:"rules,omitempty" yaml:"rules,omitempty"`
}

type Model struct {
	Provider    string   `json:"provider,omitempty" yaml:"provider,omitempty"`
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// Prompts are text/template sources. See PromptData for the fields they can reference.
type Prompts struct {
	System string `json:"system" yaml:"system"`
	User   string `json:"user" yaml:"user"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

type ToolSpec struct {
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type Tools struct {
	Output ToolSpec  `json:"output,omitempty" yaml:"output,omitempty"`
	Submit *ToolSpec `json:"submit,omitempty" yaml:"submit,omitempty"`
}

type RuleKind string

const (
	RuleNonEmpty  RuleKind = "non_empty"
	RuleMaxLength RuleKind = "max_length"
	RuleOneOf     RuleKind = "one_of"
	RuleGlob      RuleKind = "glob"
)

// Rule is a declarative validation layer applied to one field of the output, addressed by a
// dot-separated path.
type Rule struct {
	Name    string   `json:"name,omitempty" yaml:"name,omitempty"`
	Kind    RuleKind `json:"kind" yaml:"kind"`
	Field   string   `json:"field" yaml:"field"`
	Max     int      `json:"max,omitempty" yaml:"max,omitempty"`
	Values  []any    `json:"values,omitempty" yaml:"values,omitempty"`
	Pattern string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = decodeJSONStrict(b, &f)
	default:
		err = decodeYAMLStrict(b, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	applyDefaults(&f)
	if err := validate(&f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &f, nil
}

// Parse decodes a YAML document. JSON is accepted too, being a subset of YAML.
func Parse(b []byte) (*File, error) {
	var f File
	if err := decodeYAMLStrict(b, &f); err != nil {
		return nil, err
	}
	applyDefaults(&f)
	if err := validate(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Discover returns the files under fsys matching a doublestar pattern, sorted.
func Discover(fsys fs.FS, pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func decodeJSONStrict(b []byte, f *File) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(f); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func decodeYAMLStrict(b []byte, f *File) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func applyDefaults(f *File) {
	if f.Version == 0 {
		f.Version = 1
	}
	f.Name = strings.TrimSpace(f.Name)
	f.Model.Provider, f.Model.Name = modelmeta.Resolve(f.Model.Provider, f.Model.Name)
	for i := range f.Rules {
		r := &f.Rules[i]
		r.Kind = RuleKind(strings.ToLower(strings.TrimSpace(string(r.Kind))))
		r.Field = strings.TrimSpace(r.Field)
		if strings.TrimSpace(r.Name) == "" {
			r.Name = string(r.Kind) + ":" + r.Field
		}
	}
}

// validate checks the file's own shape. Limits and required agent fields are checked by
// agent.New so both paths report the same taxonomy codes.
func validate(f *File) error {
	if f.Version != 1 {
		return fmt.Errorf("unsupported agent file version: %d", f.Version)
	}
	if p := f.Model.Provider; p != "" {
		if _, ok := providerspec.Lookup(p); !ok {
			return fmt.Errorf("unknown model.provider %q (known: %s)", p, strings.Join(providerspec.Keys(), ", "))
		}
	}
	seen := map[string]bool{}
	for i, r := range f.Rules {
		if r.Field == "" {
			return fmt.Errorf("rules[%d].field is required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("rules[%d]: duplicate rule name %q", i, r.Name)
		}
		seen[r.Name] = true
		switch r.Kind {
		case RuleNonEmpty:
		case RuleMaxLength:
			if r.Max < 1 {
				return fmt.Errorf("rules[%d].max must be >= 1", i)
			}
		case RuleOneOf:
			if len(r.Values) == 0 {
				return fmt.Errorf("rules[%d].values must not be empty", i)
			}
		case RuleGlob:
			if !doublestar.ValidatePattern(r.Pattern) || r.Pattern == "" {
				return fmt.Errorf("rules[%d].pattern %q is not a valid glob", i, r.Pattern)
			}
		default:
			return fmt.Errorf("rules[%d].kind %q is invalid (want non_empty|max_length|one_of|glob)", i, r.Kind)
		}
	}
	return nil
}
