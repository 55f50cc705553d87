// SPDX-License-Identifier: MPL-2.0

package environ

import (
	"fmt"

	"revbench-cli/internal/config"
)

// Registry holds the environment factories available to a run. It is
// populated once at startup and passed by reference wherever environments
// are resolved; there is no process-wide plugin discovery.
type Registry struct {
	order     []string
	factories map[string]Factory
}

// NewRegistry creates a registry with the given factories, in preference
// order.
func NewRegistry(factories ...Factory) *Registry {
	r := &Registry{factories: make(map[string]Factory, len(factories))}
	for _, factory := range factories {
		r.Register(factory)
	}
	return r
}

// DefaultRegistry returns a registry with the built-in environment kinds.
func DefaultRegistry() *Registry {
	return NewRegistry(&VenvFactory{}, &ExistingFactory{})
}

// Register adds a factory. A factory with an already-registered kind
// replaces the previous one, keeping its position in the preference order.
func (r *Registry) Register(factory Factory) {
	kind := factory.ToolKind()
	if _, exists := r.factories[kind]; !exists {
		r.order = append(r.order, kind)
	}
	r.factories[kind] = factory
}

// Get returns the factory for a tool kind. An unknown kind is an
// unavailable environment, not a fatal error.
func (r *Registry) Get(kind string) (Factory, error) {
	factory, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("unknown environment type %q: %w", kind, ErrEnvironmentUnavailable)
	}
	return factory, nil
}

// Kinds returns the registered tool kinds in preference order.
func (r *Registry) Kinds() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// FactoryFor finds a factory able to handle the given interpreter
// specifier. The configured environment type is preferred; the remaining
// factories are tried in registration order.
func (r *Registry) FactoryFor(cfg *config.Config, pythonSpec string) (Factory, error) {
	if pythonSpec == "same" {
		return r.Get(existingToolKind)
	}

	kinds := r.order
	if cfg.EnvironmentType != "" {
		preferred, err := r.Get(cfg.EnvironmentType)
		if err != nil {
			return nil, err
		}
		kinds = append([]string{preferred.ToolKind()}, kinds...)
	}

	seen := make(map[string]bool, len(kinds))
	for _, kind := range kinds {
		if seen[kind] {
			continue
		}
		seen[kind] = true
		factory := r.factories[kind]
		if factory.Matches(pythonSpec) {
			return factory, nil
		}
	}
	return nil, fmt.Errorf("no way to create environment for python=%q: %w", pythonSpec, ErrEnvironmentUnavailable)
}

// ResolveKind returns the tool kind that would handle the interpreter
// specifier. Used by the matrix expander to fill the environment_type key.
func (r *Registry) ResolveKind(cfg *config.Config) func(string) (string, error) {
	return func(pythonSpec string) (string, error) {
		factory, err := r.FactoryFor(cfg, pythonSpec)
		if err != nil {
			return "", err
		}
		return factory.ToolKind(), nil
	}
}
