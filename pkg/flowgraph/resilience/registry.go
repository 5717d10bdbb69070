package resilience

import (
	"slices"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/registry"
)

// Registry holds one Handler per dependency name.
type Registry struct {
	handlers *registry.Registry[string, *Handler]
	defaults []HandlerOption
}

// NewRegistry creates a registry whose lazily created handlers use defaults.
func NewRegistry(defaults ...HandlerOption) *Registry {
	return &Registry{
		handlers: registry.New[string, *Handler](),
		defaults: defaults,
	}
}

// Get returns the handler for name, creating it with the default options
// on first use.
func (r *Registry) Get(name string) *Handler {
	return r.handlers.GetOrCreate(name, func() *Handler {
		return NewHandler(name, r.defaults...)
	})
}

// Configure replaces the handler for name with one built from the default
// options followed by opts.
func (r *Registry) Configure(name string, opts ...HandlerOption) *Handler {
	all := append(slices.Clone(r.defaults), opts...)
	h := NewHandler(name, all...)
	r.handlers.Register(name, h)
	return h
}

// Names returns the registered dependency names, sorted.
func (r *Registry) Names() []string {
	return r.handlers.Keys()
}

// Stats returns every handler's stats keyed by name.
func (r *Registry) Stats() map[string]HandlerStats {
	out := make(map[string]HandlerStats, r.handlers.Len())
	for name, h := range r.handlers.All() {
		out[name] = h.Stats()
	}
	return out
}
