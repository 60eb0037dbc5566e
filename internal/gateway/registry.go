package gateway

import (
	"GigEscrow/internal/models"
)

// Registry resolves adapters by name. New payments go through the default
// adapter; webhooks and refunds use the adapter the payment was created with.
type Registry struct {
	def    Gateway
	byName map[models.Gateway]Gateway
}

func NewRegistry(def Gateway, others ...Gateway) *Registry {
	r := &Registry{def: def, byName: map[models.Gateway]Gateway{def.Name(): def}}
	for _, g := range others {
		r.byName[g.Name()] = g
	}
	return r
}

func (r *Registry) Default() Gateway {
	return r.def
}

// Get returns the named adapter. An empty name selects the default.
func (r *Registry) Get(name models.Gateway) (Gateway, bool) {
	if name == "" {
		return r.def, true
	}
	g, ok := r.byName[name]
	return g, ok
}
