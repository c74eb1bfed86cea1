package engine

import (
	"sync"

	"github.com/goodguyjay/typstgo/world"
)

// worldRegistry maps host-assigned world ids to their worlds so host
// imports can route guest callbacks. Ids start at 1; 0 is never valid.
type worldRegistry struct {
	mu   sync.RWMutex
	m    map[uint32]*world.World
	next uint32
}

func newWorldRegistry() *worldRegistry {
	return &worldRegistry{m: make(map[uint32]*world.World), next: 1}
}

func (r *worldRegistry) add(w *world.World) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.m[id] = w
	return id
}

func (r *worldRegistry) get(id uint32) (*world.World, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.m[id]
	return w, ok
}

func (r *worldRegistry) remove(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, id)
}

func (r *worldRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}
