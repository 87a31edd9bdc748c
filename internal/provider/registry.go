// registry.go implements the provider Registry, which maps stable string keys
// (a template's provider_reference) to backend factories. The registry is
// populated once during startup, before the first Resolve, and is treated as
// read-mostly afterwards.
package provider

import (
	"fmt"
	"log/slog"
	"sync"
)

// Factory constructs a backend instance. The params map is the template's
// opaque template_params, passed through untouched so backends can pick up
// per-template settings (instance type, image, location, ...).
type Factory func(params map[string]any) (Backend, error)

// Registry stores backend factories keyed by provider reference.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under key. Registering over an existing key
// replaces it and logs a warning; this is non-fatal so tests can substitute
// backends.
func (r *Registry) Register(key string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[key]; exists {
		slog.Warn("provider already registered, replacing", "provider", key)
	}
	r.factories[key] = factory
}

// Remove deletes the factory under key if present; no-op otherwise.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, key)
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, found := r.factories[key]
	return found
}

// Keys returns all registered provider keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	return keys
}

// Resolve builds a backend instance for key. It fails with
// ErrUnknownProvider when the key was never registered.
func (r *Registry) Resolve(key string, params map[string]any) (Backend, error) {
	r.mu.RLock()
	factory, found := r.factories[key]
	r.mu.RUnlock()

	if !found {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, key)
	}
	return factory(params)
}

// Swap registers a factory and returns a function restoring the previous
// state. Tests use this to substitute a backend for the duration of a test
// without leaking the replacement into other tests:
//
//	restore := reg.Swap("hetzner", fakeFactory)
//	defer restore()
func (r *Registry) Swap(key string, factory Factory) (restore func()) {
	r.mu.Lock()
	prev, existed := r.factories[key]
	r.factories[key] = factory
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if existed {
			r.factories[key] = prev
		} else {
			delete(r.factories, key)
		}
	}
}

// DefaultRegistry is the process-wide registry used by the server binary.
// It is filled during the startup discovery phase in cmd/server.
var DefaultRegistry = NewRegistry()
