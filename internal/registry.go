package internal

import (
	"slices"
	"sync"
)

// Registry maps backend names to the factories that build them. Backends
// register themselves from init functions.
type Registry[F any] struct {
	lock      sync.RWMutex
	factories map[string]F
}

func (r *Registry[F]) Register(name string, impl F) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.factories == nil {
		r.factories = map[string]F{}
	}
	r.factories[name] = impl
}

func (r *Registry[F]) Get(name string) (F, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	result, ok := r.factories[name]
	return result, ok
}

// Methods returns the registered names in sorted order.
func (r *Registry[F]) Methods() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	result := make([]string, 0, len(r.factories))
	for method := range r.factories {
		result = append(result, method)
	}
	slices.Sort(result)
	return result
}
