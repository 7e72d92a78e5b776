package source

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds sources keyed by name.
//
// Thread-safety: All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds src. Names must be unique.
func (r *Registry) Register(src Source) error {
	name := src.Name()
	if name == "" {
		return fmt.Errorf("register source: empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sources[name]; ok {
		return fmt.Errorf("register source: %q already registered", name)
	}
	r.sources[name] = src
	return nil
}

// Unregister removes and returns the named source. The caller owns the
// returned source and is responsible for closing it.
func (r *Registry) Unregister(name string) (Source, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.sources[name]
	if ok {
		delete(r.sources, name)
	}
	return src, ok
}

// Get returns the named source.
func (r *Registry) Get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	return src, ok
}

// List returns all sources ordered by name.
func (r *Registry) List() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Source, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
