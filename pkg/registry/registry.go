// Package registry maps component type names to constructors. The hub
// uses it to build filter instances from configuration.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Creator builds a component from its raw (still-encoded) config and a
// caller-supplied provider, typically the owning service.
type Creator[C any, P any] func(config json.RawMessage, provider P) (C, error)

type Registry[C any, P any] struct {
	creators map[string]Creator[C, P]
	provider P
}

func New[C any, P any](provider P) *Registry[C, P] {
	return &Registry[C, P]{
		provider: provider,
		creators: make(map[string]Creator[C, P]),
	}
}

func (r *Registry[C, P]) Register(typ string, creator Creator[C, P]) error {
	if _, ok := r.creators[typ]; ok {
		return fmt.Errorf("component type already registered: %s", typ)
	}
	r.creators[typ] = creator
	return nil
}

func (r *Registry[C, P]) MustRegister(typ string, creator Creator[C, P]) {
	if err := r.Register(typ, creator); err != nil {
		panic(err)
	}
}

func (r *Registry[C, P]) Has(typ string) bool {
	_, ok := r.creators[typ]
	return ok
}

// Types returns the registered type names, sorted.
func (r *Registry[C, P]) Types() []string {
	types := make([]string, 0, len(r.creators))
	for typ := range r.creators {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

func (r *Registry[C, P]) New(typ string, config json.RawMessage) (C, error) {
	creator, ok := r.creators[typ]
	if !ok {
		var zero C
		return zero, fmt.Errorf("component type not found: %s", typ)
	}
	return creator(config, r.provider)
}
