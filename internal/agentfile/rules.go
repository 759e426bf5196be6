package agentfile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/danshapiro/typedagent/internal/validation"
)

func rulesToLayers(rules []Rule) []validation.Layer[map[string]any] {
	out := make([]validation.Layer[map[string]any], 0, len(rules))
	for _, r := range rules {
		out = append(out, validation.Func(r.Name, r.describe(), func(_ context.Context, v map[string]any) error {
			return r.check(v)
		}))
	}
	return out
}

func (r Rule) describe() string {
	switch r.Kind {
	case RuleNonEmpty:
		return fmt.Sprintf("%s must not be empty", r.Field)
	case RuleMaxLength:
		return fmt.Sprintf("%s must have at most %d elements or characters", r.Field, r.Max)
	case RuleOneOf:
		return fmt.Sprintf("%s must be one of %v", r.Field, r.Values)
	case RuleGlob:
		return fmt.Sprintf("%s must match %s", r.Field, r.Pattern)
	}
	return string(r.Kind)
}

// check applies r to v. Only non_empty fails on an absent field; the other kinds leave
// presence to the schema.
func (r Rule) check(v map[string]any) error {
	val, ok := lookup(v, r.Field)
	switch r.Kind {
	case RuleNonEmpty:
		if !ok || isEmpty(val) {
			return fmt.Errorf("%s must not be empty", r.Field)
		}
	case RuleMaxLength:
		if !ok {
			return nil
		}
		n, measurable := length(val)
		if !measurable {
			return fmt.Errorf("%s has no length", r.Field)
		}
		if n > r.Max {
			return fmt.Errorf("%s has length %d, maximum is %d", r.Field, n, r.Max)
		}
	case RuleOneOf:
		if !ok {
			return nil
		}
		got := fmt.Sprint(val)
		for _, want := range r.Values {
			if fmt.Sprint(want) == got {
				return nil
			}
		}
		return fmt.Errorf("%s is %q, want one of %v", r.Field, got, r.Values)
	case RuleGlob:
		if !ok {
			return nil
		}
		s, isString := val.(string)
		if !isString {
			return fmt.Errorf("%s is not a string", r.Field)
		}
		matched, err := doublestar.Match(r.Pattern, s)
		if err != nil {
			return err
		}
		if !matched {
			return fmt.Errorf("%s %q does not match %s", r.Field, s, r.Pattern)
		}
	default:
		return errors.New("unknown rule kind " + string(r.Kind))
	}
	return nil
}

// lookup resolves a dot-separated path through nested objects.
func lookup(v map[string]any, path string) (any, bool) {
	var cur any = v
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

func length(v any) (int, bool) {
	switch x := v.(type) {
	case string:
		return utf8.RuneCountInString(x), true
	case []any:
		return len(x), true
	case map[string]any:
		return len(x), true
	}
	return 0, false
}
