package provider

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrAlreadyRegistered = errors.New("adapter already registered")

// Registry maps adapter names ("generation", "retrieval", "websearch", ...) to adapters.
// It holds at most one adapter per name. Replacing an adapter is explicit.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a new adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter under name. It fails if the name is taken.
func (r *Registry) Register(name string, a Adapter) error {
	if name == "" || a == nil {
		return fmt.Errorf("register: name and adapter are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter %q: %w", name, ErrAlreadyRegistered)
	}
	r.adapters[name] = a
	return nil
}

// Replace registers a under name, swapping out any existing adapter.
// It returns the previous adapter, or nil if the name was free.
func (r *Registry) Replace(name string, a Adapter) (Adapter, error) {
	if name == "" || a == nil {
		return nil, fmt.Errorf("replace: name and adapter are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.adapters[name]
	r.adapters[name] = a
	return prev, nil
}

// Unregister removes an adapter from the registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, name)
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered adapters.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}
