// Package providerspec holds the canonical provider keys known to the model client and the
// aliases that resolve to them.
package providerspec

import (
	"sort"
	"strings"
	"sync"
)

type Spec struct {
	Key              string
	Aliases          []string
	DefaultAPIKeyEnv string
	DefaultModel     string
}

var builtins = map[string]Spec{
	"anthropic": {
		Key:              "anthropic",
		Aliases:          []string{"claude", "anthropic_messages"},
		DefaultAPIKeyEnv: "ANTHROPIC_API_KEY",
		DefaultModel:     "claude-sonnet-4-5",
	},
}

var (
	providerAliasOnce  sync.Once
	providerAliasIndex map[string]string
)

func Builtins() map[string]Spec {
	out := make(map[string]Spec, len(builtins))
	for k, v := range builtins {
		v.Aliases = append([]string(nil), v.Aliases...)
		out[k] = v
	}
	return out
}

func providerAliases() map[string]string {
	providerAliasOnce.Do(func() {
		providerAliasIndex = providerAliasIndexFromBuiltins(Builtins())
	})
	return providerAliasIndex
}

func providerAliasIndexFromBuiltins(specs map[string]Spec) map[string]string {
	out := map[string]string{}
	for rawKey, spec := range specs {
		key := strings.ToLower(strings.TrimSpace(rawKey))
		if key == "" {
			continue
		}
		out[key] = key
		for _, rawAlias := range spec.Aliases {
			alias := strings.ToLower(strings.TrimSpace(rawAlias))
			if alias != "" {
				out[alias] = key
			}
		}
	}
	return out
}

func CanonicalProviderKey(in string) string {
	key := strings.ToLower(strings.TrimSpace(in))
	if key == "" {
		return ""
	}
	if canonical, ok := providerAliases()[key]; ok {
		return canonical
	}
	return key
}

// Lookup returns the builtin spec for a provider name or alias.
func Lookup(name string) (Spec, bool) {
	s, ok := builtins[CanonicalProviderKey(name)]
	return s, ok
}

func Keys() []string {
	out := make([]string, 0, len(builtins))
	for k := range builtins {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
