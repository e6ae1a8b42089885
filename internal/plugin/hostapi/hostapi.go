// Package hostapi defines the callback and collaborator contracts the
// plugin boundary consumes from the host symbolic engine. Every type here
// is implemented by the host, not by this module; production code only
// ever holds these as interfaces.
package hostapi

import "github.com/lokegustafsson/ambacore/pkg/model"

// Module describes one guest module (shared library or executable image)
// as reported by the host's module map.
type Module interface {
	Path() string
	Pid() int32
	// ToNativeBase resolves a guest virtual address to a module-relative
	// native offset, or ok=false if pc does not fall inside any of the
	// module's sections.
	ToNativeBase(pc uint64) (offset uint64, ok bool)
}

// ModuleMap resolves the module that owns a symbolic state's current
// program counter.
type ModuleMap interface {
	GetModule(state HostState) (Module, bool)
}

// HostState is the host engine's live handle on one symbolic execution
// state.
type HostState interface {
	ID() model.HostStateId
}

// TranslationBlock carries the metadata the host reports for one
// translation of a guest basic block.
type TranslationBlock struct {
	Size int
}

// Searcher is the host engine's pluggable component that chooses which
// live state to execute next. The core never inspects its internals; it
// only constructs one (via Host.NewDepthFirstSearcher) and hands it back.
type Searcher interface {
	// Update adds and removes the given states from the searcher's
	// working set.
	Update(added, removed []HostState)
}

// Executor is the part of the host engine that owns the live-state set and
// the active searcher.
type Executor interface {
	States() []HostState
	SetSearcher(s Searcher)
}

// Host is the symbolic execution engine the plugin boundary attaches to.
type Host interface {
	Executor() Executor
	// NewDepthFirstSearcher allocates a fresh depth-first searcher; the
	// PrioritisationReceiver seeds it with the selected live states and
	// publishes it for installation by the engine thread.
	NewDepthFirstSearcher() Searcher
}

// GuestMemory reads concrete guest memory. The core tolerates read
// failure: symbolic or unmapped memory yields ok=false, never an error the
// core must propagate.
type GuestMemory interface {
	Read(state HostState, vaddr uint64, length int) (data []byte, ok bool)
}

// HeapEvent is the narrow seam for a heap-overflow detector collaborator.
// That detector is an out-of-scope external component; this type exists
// only so a host can notify the plugin boundary of one without the core
// needing to know anything about heap tracking.
type HeapEvent struct {
	State HostState
	Addr  uint64
	Size  int
}
