package cancellation

import "sync"

// Registry tracks the controllers of runs in progress so an outer surface
// (HTTP API, MCP tool) can stop a run by id.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*Controller
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Controller)}
}

// Start registers a fresh controller under id and returns it.
func (r *Registry) Start(id string) *Controller {
	c := New()
	r.mu.Lock()
	r.runs[id] = c
	r.mu.Unlock()
	return c
}

// Stop stops the run registered under id. It returns false when no such run
// is in progress.
func (r *Registry) Stop(id, reason string) bool {
	r.mu.Lock()
	c, ok := r.runs[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	c.Stop(reason)
	return true
}

// Finish removes id from the registry once its run reached a terminal state.
func (r *Registry) Finish(id string) {
	r.mu.Lock()
	delete(r.runs, id)
	r.mu.Unlock()
}

// Active returns the ids of runs in progress.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	return ids
}
