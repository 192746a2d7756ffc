package intrinsic

import (
	"sync"

	"github.com/go-delve/intrinsics/pkg/logflags"
)

// Registry remembers, for the lifetime of the process, whether each
// intrinsic works on the running processor so that an instruction is
// probed at most once.
//
// Reads take a shared lock. First population of an identity is
// serialized by a mutex dedicated to that identity, so concurrent
// constructors of the same intrinsic do not each allocate and probe.
type Registry struct {
	mu     sync.RWMutex
	states map[ID]State
	probes map[ID]*sync.Mutex
	log    logflags.Logger
}

// DefaultRegistry is the process-wide registry used when a Config does
// not specify one.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		states: make(map[ID]State),
		probes: make(map[ID]*sync.Mutex),
		log:    logflags.RegistryLogger(),
	}
}

// State returns the recorded state of id.
func (r *Registry) State(id ID) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[id]
	return s, ok
}

// SetState records state for id, replacing any previous value.
func (r *Registry) SetState(id ID, state State) {
	r.mu.Lock()
	r.states[id] = state
	r.mu.Unlock()
	r.log.Debugf("%s: %v", id, state)
}

// Populate returns the recorded state of id. If there is none, fn is
// called, with no other Populate call for id running concurrently, and a
// terminal state returned by fn is recorded. An error from fn is returned
// and nothing is recorded.
func (r *Registry) Populate(id ID, fn func() (State, error)) (State, error) {
	if s, ok := r.State(id); ok {
		return s, nil
	}

	r.mu.Lock()
	m := r.probes[id]
	if m == nil {
		m = new(sync.Mutex)
		r.probes[id] = m
	}
	r.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	if s, ok := r.State(id); ok {
		return s, nil
	}
	s, err := fn()
	if err != nil {
		return Unknown, err
	}
	if s.Terminal() {
		r.SetState(id, s)
	}
	return s, nil
}

// Snapshot returns a copy of every recorded state.
func (r *Registry) Snapshot() map[ID]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := make(map[ID]State, len(r.states))
	for k, v := range r.states {
		m[k] = v
	}
	return m
}

// Reset forgets every recorded state.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.states = make(map[ID]State)
	r.mu.Unlock()
}

// Disable records every id as NotAvailable, so that the intrinsics are
// never probed and always use their fallback.
func (r *Registry) Disable(ids ...ID) {
	for _, id := range ids {
		r.SetState(id, NotAvailable)
	}
}
