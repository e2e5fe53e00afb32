package renewal

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry multiplexes callbacks onto outstanding renewal states. Callers
// that ask for a resource while a renewal for it is in flight are queued onto
// the same state, and every state is dispatched exactly once.
// All methods are thread-safe.
type Registry struct {
	mu      sync.Mutex
	active  map[string]string   // resource -> state of the renewal in flight
	pending map[string]*waiters // state -> callbacks awaiting it
}

// waiters is the dispatch target of one state.
type waiters struct {
	resource  string
	callbacks []Callback
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active:  make(map[string]string),
		pending: make(map[string]*waiters),
	}
}

// Register appends cb to the callbacks of state and marks state as the
// renewal in flight for resource. The dispatch target for state is created on
// first registration only.
func (r *Registry) Register(state, resource string, cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(state, resource, cb)
}

// Join queues cb onto the renewal in flight for resource, if any, and
// returns its state. The check and the append are atomic with respect to
// Dispatch, so a joined callback is never lost.
func (r *Registry) Join(resource string, cb Callback) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.active[resource]
	if !ok {
		return "", false
	}
	r.register(state, resource, cb)
	return state, true
}

func (r *Registry) register(state, resource string, cb Callback) {
	w, ok := r.pending[state]
	if !ok {
		w = &waiters{resource: resource}
		r.pending[state] = w
	}
	w.callbacks = append(w.callbacks, cb)
	r.active[resource] = state
}

// Active returns the state of the renewal in flight for resource.
func (r *Registry) Active(resource string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.active[resource]
	return state, ok
}

// Resource returns the resource an outstanding state was registered for.
func (r *Registry) Resource(state string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.pending[state]
	if !ok {
		return "", false
	}
	return w.resource, true
}

// Dispatch delivers result to every callback registered for state, in
// registration order, then forgets state. It reports false when state is
// unknown or already dispatched, in which case no callback runs.
//
// A panicking callback is logged and does not prevent the remaining
// callbacks from running.
func (r *Registry) Dispatch(state string, result Result) bool {
	r.mu.Lock()
	w, ok := r.pending[state]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.pending, state)
	if r.active[w.resource] == state {
		delete(r.active, w.resource)
	}
	r.mu.Unlock()

	// Callbacks run unlocked so they may start new renewals.
	for i, cb := range w.callbacks {
		if err := invoke(cb, result); err != nil {
			slog.Warn("renewal callback failed",
				"resource", w.resource,
				"callback", i,
				"error", err,
			)
		}
	}
	return true
}

// invoke runs cb, converting a panic into an error.
func invoke(cb Callback, result Result) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("callback panicked: %v", rec)
		}
	}()
	cb(result)
	return nil
}
