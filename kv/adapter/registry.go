package adapter

import (
	"fmt"
	"sort"
	"sync"

	"dsp/store"
)

var globalRegistry = NewRegistry()

// Factory creates a fresh adapter instance.
type Factory func() Adapter

// Registry manages available KV adapters.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry holding the built-in adapters.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("memory", func() Adapter { return NewMemoryAdapter() })
	return r
}

// Register registers an adapter factory under name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get creates the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("kv adapter '%s': %w", name, store.ErrDriverNotFound)
	}
	return factory(), nil
}

// List returns the registered adapter names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register registers an adapter in the global registry.
func Register(name string, factory Factory) {
	globalRegistry.Register(name, factory)
}

// Get creates an adapter from the global registry.
func Get(name string) (Adapter, error) {
	return globalRegistry.Get(name)
}

// List returns all registered adapters from the global registry.
func List() []string {
	return globalRegistry.List()
}
