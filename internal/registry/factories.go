package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Factories maps ids to constructors (agent runtimes, plugin
// implementations, data source adapters). It is owned by whoever builds
// the service graph; there is no package-level instance.
type Factories[F any] struct {
	mu    sync.RWMutex
	items map[string]F
}

// NewFactories creates an empty constructor registry.
func NewFactories[F any]() *Factories[F] {
	return &Factories[F]{items: make(map[string]F)}
}

// Register binds f to id. Registering the same id twice is an error.
func (f *Factories[F]) Register(id string, fn F) error {
	if id == "" {
		return ErrInvalidRecord
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[id]; ok {
		return fmt.Errorf("%w: constructor %s", ErrDuplicateID, id)
	}
	f.items[id] = fn
	return nil
}

// Lookup returns the constructor bound to id.
func (f *Factories[F]) Lookup(id string) (F, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fn, ok := f.items[id]
	return fn, ok
}

// IDs returns the registered ids in sorted order.
func (f *Factories[F]) IDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]string, 0, len(f.items))
	for id := range f.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
