package bridge

import "fmt"

// Registry maps an adapter tag (e.g. "across", "ccip", "binance") to its
// Adapter implementation.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds an empty registry; Register each concrete adapter
// (out of scope here) into it at process start.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register adds or replaces the adapter for tag.
func (r *Registry) Register(tag string, a Adapter) {
	r.adapters[tag] = a
}

// Get returns the adapter registered for tag, or ok=false if none is.
func (r *Registry) Get(tag string) (Adapter, bool) {
	a, ok := r.adapters[tag]
	return a, ok
}

// MustGet panics if tag is unregistered; used only at wiring time for tags
// that configuration asserts must exist.
func (r *Registry) MustGet(tag string) Adapter {
	a, ok := r.adapters[tag]
	if !ok {
		panic(fmt.Sprintf("bridge adapter %q is not registered", tag))
	}
	return a
}
