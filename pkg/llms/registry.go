package llms

import (
	"fmt"

	"github.com/autoresearch/autoresearch/pkg/registry"
)

// AdapterRegistry holds the model adapters available to a process. Shells
// populate it at startup; the orchestrator resolves adapters by name.
type AdapterRegistry struct {
	*registry.BaseRegistry[Adapter]
}

// NewAdapterRegistry creates an empty adapter registry.
func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{
		BaseRegistry: registry.NewBaseRegistry[Adapter](),
	}
}

// RegisterAdapter validates and registers an adapter under name.
func (r *AdapterRegistry) RegisterAdapter(name string, adapter Adapter) error {
	if name == "" {
		return fmt.Errorf("adapter name cannot be empty")
	}
	if adapter == nil {
		return fmt.Errorf("adapter cannot be nil")
	}
	return r.Register(name, adapter)
}

// GetAdapter returns the adapter registered under name.
func (r *AdapterRegistry) GetAdapter(name string) (Adapter, error) {
	adapter, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("adapter '%s' not found", name)
	}
	return adapter, nil
}

// Default returns the sole registered adapter, or the first in name order
// when several are registered. Errors when the registry is empty.
func (r *AdapterRegistry) Default() (Adapter, error) {
	adapters := r.List()
	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters registered")
	}
	return adapters[0], nil
}

// Close closes every registered adapter, returning the first error.
func (r *AdapterRegistry) Close() error {
	var firstErr error
	for _, a := range r.List() {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
