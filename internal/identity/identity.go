// Package identity assigns dense internal identifiers to the host engine's
// opaque state identifiers, and renumbers them on fork and merge.
package identity

import "github.com/lokegustafsson/ambacore/pkg/model"

// Map is a partial function from host state identifiers to internal state
// identifiers. It runs only on the engine thread (see the concurrency model
// in the design notes), so it carries no internal locking.
//
// InternalStateId 0 is reserved as "unset" and is never returned by
// GetOrAssign or Rename; nextID is pre-incremented so the first id issued
// is 1.
type Map struct {
	entries map[model.HostStateId]model.InternalStateId
	nextID  model.InternalStateId
}

// New returns an empty identity map.
func New() *Map {
	return &Map{
		entries: make(map[model.HostStateId]model.InternalStateId),
		nextID:  0,
	}
}

// GetOrAssign returns the current mapping for h if present, otherwise
// assigns the next id and stores it.
func (m *Map) GetOrAssign(h model.HostStateId) model.InternalStateId {
	if id, ok := m.entries[h]; ok {
		return id
	}
	return m.assign(h)
}

// Rename unconditionally allocates a fresh internal id for h, overwriting
// any prior mapping. Used when a state continues past a fork or merge so
// its future edges carry a new identity.
func (m *Map) Rename(h model.HostStateId) model.InternalStateId {
	return m.assign(h)
}

// Lookup returns the current mapping for h without assigning one, and
// whether it was present.
func (m *Map) Lookup(h model.HostStateId) (model.InternalStateId, bool) {
	id, ok := m.entries[h]
	return id, ok
}

func (m *Map) assign(h model.HostStateId) model.InternalStateId {
	m.nextID++
	m.entries[h] = m.nextID
	return m.nextID
}

// Len reports the number of distinct host state ids ever observed. Useful
// for diagnostics; not part of the identity contract.
func (m *Map) Len() int {
	return len(m.entries)
}

// Fork resolves internal ids for a state-fork event in the single place
// that owns the rename, so the block-graph and state-graph builders never
// race each other to rename the same parent. It returns the parent's
// pre-fork id and, for each child in order, a post-rename id: the
// continuing parent is always renamed first, so a child sharing the
// parent's host id receives the fresh id.
func (m *Map) Fork(parent model.HostStateId, children []model.HostStateId) (preFork model.InternalStateId, childIDs []model.InternalStateId) {
	preFork = m.GetOrAssign(parent)
	m.Rename(parent)

	childIDs = make([]model.InternalStateId, len(children))
	for i, child := range children {
		childIDs[i] = m.GetOrAssign(child)
	}
	return preFork, childIDs
}

// Merge resolves internal ids for a state-merge event: the destination's
// pre-merge id, the source's id, and the destination's fresh post-merge
// id.
func (m *Map) Merge(destination, source model.HostStateId) (left, right, to model.InternalStateId) {
	left = m.GetOrAssign(destination)
	right = m.GetOrAssign(source)
	m.Rename(destination)
	to = m.GetOrAssign(destination)
	return left, right, to
}
