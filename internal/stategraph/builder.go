// Package stategraph builds the symbolic-state graph: nodes are symbolic
// execution states, edges record forks and merges.
package stategraph

import (
	"github.com/lokegustafsson/ambacore/internal/batcher"
	"github.com/lokegustafsson/ambacore/pkg/errors"
	"github.com/lokegustafsson/ambacore/pkg/model"
)

// Builder turns resolved fork/merge identity into state-graph edges. It
// never touches the identity map itself: identity.Map.Fork and
// identity.Map.Merge are the single owners of renaming, called once by the
// PluginBoundary and shared with the blockgraph builder, so both graphs
// agree on identity at every instant.
type Builder struct {
	batcher *batcher.Batcher
}

// New returns a state-graph builder appending to the given edge batcher.
func New(b *batcher.Batcher) *Builder {
	return &Builder{batcher: b}
}

// StateFork emits one state-graph edge from the parent's pre-fork id to
// each child's post-rename id. parentHost/childHosts and
// preForkParent/childIDs must be parallel to each other and come from the
// same identity.Map.Fork call.
func (bld *Builder) StateFork(parentHost model.HostStateId, preForkParent model.InternalStateId, childHosts []model.HostStateId, childIDs []model.InternalStateId) {
	errors.Assert(len(childHosts) == len(childIDs), "childHosts and childIDs length mismatch: %d vs %d", len(childHosts), len(childIDs))

	for i, childID := range childIDs {
		errors.Assert(preForkParent != childID, "fork parent id %d equals child id %d", preForkParent, childID)
		bld.batcher.AppendStateEdge(model.Edge{
			Reason: model.EdgeKindFork,
			From:   model.Node{Kind: model.NodeKindState, InternalID: preForkParent, HostID: parentHost},
			To:     model.Node{Kind: model.NodeKindState, InternalID: childID, HostID: childHosts[i]},
		})
	}
}

// StateMerge emits two state-graph edges, from destination and from
// source, into the already-resolved post-merge destination id.
func (bld *Builder) StateMerge(destinationHost, sourceHost model.HostStateId, left, right, to model.InternalStateId) {
	bld.batcher.AppendStateEdge(model.Edge{
		Reason: model.EdgeKindMerge,
		From:   model.Node{Kind: model.NodeKindState, InternalID: left, HostID: destinationHost},
		To:     model.Node{Kind: model.NodeKindState, InternalID: to, HostID: destinationHost},
	})
	bld.batcher.AppendStateEdge(model.Edge{
		Reason: model.EdgeKindMerge,
		From:   model.Node{Kind: model.NodeKindState, InternalID: right, HostID: sourceHost},
		To:     model.Node{Kind: model.NodeKindState, InternalID: to, HostID: destinationHost},
	})
}
