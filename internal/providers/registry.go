package providers

import (
	"fmt"
	"sync"
)

// Factory builds a provider instance on first use.
type Factory func() (Provider, error)

// Registry holds named provider factories. Instances are built lazily and
// cached.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Provider),
	}
}

// Register binds a factory to an id, replacing any previous binding.
func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
	delete(r.instances, id)
}

// Get resolves an id to a provider instance. Empty ids resolve to
// DefaultProviderID.
func (r *Registry) Get(id string) (Provider, error) {
	if id == "" {
		id = DefaultProviderID
	}

	r.mu.RLock()
	if p, ok := r.instances[id]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}

	p, err := f()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.instances[id]; ok {
		return existing, nil
	}
	r.instances[id] = p
	return p, nil
}

// IDs returns the registered provider ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for id := range r.factories {
		out = append(out, id)
	}
	return out
}
