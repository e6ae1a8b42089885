package prioritize

import (
	"sync"

	"github.com/lokegustafsson/ambacore/pkg/model"
)

// DeadStates is the mutex-guarded set of HostStateIds the host has
// reported killed. The engine thread is the only producer (on state-kill);
// the PrioritisationReceiver is the only consumer.
type DeadStates struct {
	mu  sync.Mutex
	set map[model.HostStateId]struct{}
}

// NewDeadStates returns an empty dead-states set.
func NewDeadStates() *DeadStates {
	return &DeadStates{set: make(map[model.HostStateId]struct{})}
}

// Add marks h as dead. Called from the engine thread.
func (d *DeadStates) Add(h model.HostStateId) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.set[h] = struct{}{}
}

// Contains reports whether h has been marked dead. Called from the
// receiver thread.
func (d *DeadStates) Contains(h model.HostStateId) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.set[h]
	return ok
}

// Len reports the number of dead states tracked. Diagnostic only.
func (d *DeadStates) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.set)
}
