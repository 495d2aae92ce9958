package search

import (
	"fmt"

	"github.com/autoresearch/autoresearch/pkg/registry"
)

// BackendRegistry holds the search backends available to a process.
type BackendRegistry struct {
	*registry.BaseRegistry[Backend]
}

// NewBackendRegistry creates an empty backend registry.
func NewBackendRegistry() *BackendRegistry {
	return &BackendRegistry{
		BaseRegistry: registry.NewBaseRegistry[Backend](),
	}
}

// RegisterBackend validates and registers a backend under its own name.
func (r *BackendRegistry) RegisterBackend(backend Backend) error {
	if backend == nil {
		return fmt.Errorf("backend cannot be nil")
	}
	if backend.Name() == "" {
		return fmt.Errorf("backend name cannot be empty")
	}
	return r.Register(backend.Name(), backend)
}

// GetBackend returns the backend registered under name.
func (r *BackendRegistry) GetBackend(name string) (Backend, error) {
	backend, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("search backend '%s' not found", name)
	}
	return backend, nil
}
