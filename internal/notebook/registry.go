package notebook

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Registry is the process-scoped notebook container. It owns the
// single exclusive state lock that serializes all mutating notebook
// operations: the job scheduler acquires it for lock-requiring jobs,
// so no two mutations ever overlap. The map itself sits behind a
// separate leaf mutex, so lookups never block behind a long-running
// job and lock-holding jobs can register notebooks without deadlock.
type Registry struct {
	state sync.Mutex // exclusive notebook operation lock

	mu        sync.Mutex // guards the map only; never held with state
	notebooks map[string]*Notebook
}

func NewRegistry() *Registry {
	return &Registry{notebooks: make(map[string]*Notebook)}
}

// StateLock exposes the exclusive notebook lock for the job scheduler.
func (r *Registry) StateLock() *sync.Mutex {
	return &r.state
}

// Create registers a new notebook and returns its id.
func (r *Registry) Create(name, path string, deps Deps) (string, *Notebook) {
	id := uuid.NewString()
	nb := New(name, path, deps)
	r.Put(id, nb)
	return id, nb
}

// Put registers an already constructed notebook under id. The load
// path uses it with the job id doubling as the notebook id.
func (r *Registry) Put(id string, nb *Notebook) {
	r.mu.Lock()
	r.notebooks[id] = nb
	r.mu.Unlock()
}

// Get looks up a notebook.
func (r *Registry) Get(id string) (*Notebook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nb, ok := r.notebooks[id]
	if !ok {
		return nil, fmt.Errorf("notebook %s not found", id)
	}
	return nb, nil
}

// IDs lists all registered notebook ids.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.notebooks))
	for id := range r.notebooks {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops every notebook's live captures and closes its store.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	notebooks := make([]*Notebook, 0, len(r.notebooks))
	for _, nb := range r.notebooks {
		notebooks = append(notebooks, nb)
	}
	r.mu.Unlock()

	for _, nb := range notebooks {
		nb.Shutdown()
	}
}
