// Package modelmeta parses model references of the form "provider/model".
package modelmeta

import (
	"strings"

	"github.com/danshapiro/typedagent/internal/providerspec"
)

// Split separates a qualified model reference into its canonical provider key and model name.
// Unqualified ids and ids whose prefix is not a known provider return an empty provider and
// the trimmed id unchanged, so model names that contain slashes survive.
func Split(id string) (provider, model string) {
	id = strings.TrimSpace(id)
	prefix, rest, ok := strings.Cut(id, "/")
	if !ok || strings.TrimSpace(rest) == "" {
		return "", id
	}
	key := providerspec.CanonicalProviderKey(prefix)
	if _, known := providerspec.Lookup(key); !known {
		return "", id
	}
	return key, strings.TrimSpace(rest)
}

// Resolve fills provider from a qualified model id. An explicit provider wins; when it
// disagrees with the qualifier the id is returned untouched.
func Resolve(provider, id string) (string, string) {
	provider = providerspec.CanonicalProviderKey(provider)
	p, m := Split(id)
	switch {
	case p == "":
		return provider, strings.TrimSpace(id)
	case provider == "" || provider == p:
		return p, m
	default:
		return provider, strings.TrimSpace(id)
	}
}
