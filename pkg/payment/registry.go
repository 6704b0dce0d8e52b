package payment

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps gateway kinds to adapters.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway)}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

func (r *Registry) Register(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[g.Kind()] = g
}

func (r *Registry) Get(kind string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGateway, kind)
	}
	return g, nil
}

func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.gateways))
	for k := range r.gateways {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
