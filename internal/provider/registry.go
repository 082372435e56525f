package provider

import (
	"github.com/rotisserie/eris"
)

// Registry maps provider IDs to their fetchers.
type Registry struct {
	fetchers map[string]Fetcher
	order    []string
}

// NewRegistry creates a registry with the given fetchers.
func NewRegistry(fetchers ...Fetcher) *Registry {
	r := &Registry{fetchers: make(map[string]Fetcher)}
	for _, f := range fetchers {
		r.Register(f)
	}
	return r
}

// Register adds a fetcher, replacing any previous one with the same ID.
func (r *Registry) Register(f Fetcher) {
	id := f.ID()
	if _, exists := r.fetchers[id]; !exists {
		r.order = append(r.order, id)
	}
	r.fetchers[id] = f
}

// Get returns the fetcher for a provider ID.
func (r *Registry) Get(id string) (Fetcher, error) {
	f, ok := r.fetchers[id]
	if !ok {
		return nil, eris.Errorf("provider: unknown provider %q", id)
	}
	return f, nil
}

// IDs returns registered provider IDs in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
