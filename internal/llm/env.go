package llm

import (
	"errors"
	"sync"
)

// EnvAdapterFactory builds an adapter from process environment. ok=false means the
// provider is not configured and should be skipped.
type EnvAdapterFactory func() (adapter ProviderAdapter, ok bool, err error)

var (
	envFactoriesMu sync.Mutex
	envFactories   []EnvAdapterFactory
)

// RegisterEnvAdapterFactory is called from provider package init functions.
func RegisterEnvAdapterFactory(f EnvAdapterFactory) {
	if f == nil {
		return
	}
	envFactoriesMu.Lock()
	defer envFactoriesMu.Unlock()
	envFactories = append(envFactories, f)
}

// NewFromEnv registers every provider adapter that can be constructed from environment
// variables. The first successfully registered provider becomes the default provider.
func NewFromEnv() (*Client, error) {
	envFactoriesMu.Lock()
	factories := append([]EnvAdapterFactory{}, envFactories...)
	envFactoriesMu.Unlock()

	c := NewClient()
	var errs []error
	for _, f := range factories {
		a, ok, err := f()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok || a == nil {
			continue
		}
		c.Register(a)
	}
	if len(c.providers) == 0 {
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		return nil, &ConfigurationError{Message: "no provider adapters configured from environment"}
	}
	return c, nil
}
