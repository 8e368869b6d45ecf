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

// aliases maps alternative driver names onto registered ones.
var aliases = map[string]string{
	"postgresql": "postgres",
	"sqlite3":    "sqlite",
}

// Registry maps driver names (as used in db.driver) to adapter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry holding the built-in adapters.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("postgres", func() Adapter { return NewPostgreSQLAdapter() })
	r.Register("pgx", func() Adapter { return NewPgxAdapter() })
	r.Register("mysql", func() Adapter { return NewMySQLAdapter() })
	r.Register("sqlite", func() Adapter { return NewSQLiteAdapter() })
	return r
}

// Register registers an adapter factory under name, replacing any previous
// one.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get creates the adapter registered under name or one of its aliases.
func (r *Registry) Get(name string) (Adapter, error) {
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("sql adapter '%s': %w", name, store.ErrDriverNotFound)
	}
	return factory(), nil
}

// List returns the registered adapter names, sorted. Aliases are not listed.
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

func Register(name string, factory Factory) {
	globalRegistry.Register(name, factory)
}

func Get(name string) (Adapter, error) {
	return globalRegistry.Get(name)
}

func List() []string {
	return globalRegistry.List()
}
