// Package blockgraph builds the basic-block graph: concrete guest basic
// blocks distinguished by virtual address, per-(state, address) translation
// generation, and owning symbolic state.
package blockgraph

import (
	"github.com/lokegustafsson/ambacore/internal/batcher"
	"github.com/lokegustafsson/ambacore/internal/identity"
	"github.com/lokegustafsson/ambacore/internal/translation"
	"github.com/lokegustafsson/ambacore/pkg/collections"
	"github.com/lokegustafsson/ambacore/pkg/model"
)

// dedupBuckets bounds the packed-id dedup window. A packed id's bucket is
// its value modulo dedupBuckets, i.e. the low 16 bits of the guest address,
// so distinct nodes can share a bucket; a later node that hits an already
// set bucket has its byte snapshot omitted from its edge. The edge itself
// is always emitted.
const dedupBuckets = 1 << 16

// Builder turns translate-block-start, execute-block-start, state-fork, and
// state-merge callbacks into block-graph edges. It runs only on the engine
// thread and shares its identity.Map with a stategraph.Builder so the two
// graphs agree on state identity at every instant.
type Builder struct {
	identity *identity.Map
	cache    *translation.Cache
	batcher  *batcher.Batcher

	// cursor holds the last-observed block node per internal state,
	// propagated (never deleted) across forks. A nil entry means no
	// block has been observed yet for that state.
	cursor map[model.InternalStateId]*model.Node

	// dedup tracks, within the current batch window, which packed node ids
	// have already had their byte snapshot included in an emitted edge.
	// Every execute-block-start still emits an edge (the invariant is edge
	// completeness, not byte-snapshot completeness); a repeat occurrence
	// of the same packed id within the window has its Bytes field omitted
	// since the consumer already saw them earlier in the same batch.
	dedup *collections.VersionedBitset
}

// New returns a block-graph builder sharing the given identity map,
// translation cache, and edge batcher with the rest of the plugin.
func New(idMap *identity.Map, cache *translation.Cache, b *batcher.Batcher) *Builder {
	return &Builder{
		identity: idMap,
		cache:    cache,
		batcher:  b,
		cursor:   make(map[model.InternalStateId]*model.Node),
		dedup:    collections.NewVersionedBitset(dedupBuckets),
	}
}

// TranslateBlockStart records a translate-block-start observation. The
// caller (PluginBoundary) is responsible for resolving the module and
// reading the block's bytes from guest memory; bytes is nil if that read
// failed.
func (bld *Builder) TranslateBlockStart(host model.HostStateId, pc uint64, elfVAddr uint64, bytes []byte) *translation.Record {
	internal := bld.identity.GetOrAssign(host)
	return bld.cache.RecordTranslation(internal, pc, elfVAddr, bytes)
}

// ExecuteBlockStart processes one execute-block-start callback already
// filtered to the configured module, appending exactly one block edge to
// the shared batcher and returning the node it emitted as "to".
func (bld *Builder) ExecuteBlockStart(host model.HostStateId, pc uint64) model.Node {
	internal := bld.identity.GetOrAssign(host)
	record := bld.cache.Lookup(internal, pc)

	curr := model.Node{
		Kind:       model.NodeKindBlock,
		InternalID: internal,
		GuestVA:    pc,
		Generation: uint64(record.Generation),
		ElfVAddr:   record.ElfVAddr,
		Bytes:      record.Bytes,
	}

	packed := Pack(int64(pc), uint32(record.Generation), uint32(internal))
	bucket := int(packed % dedupBuckets)
	if bld.dedup.Test(bucket) {
		curr.Bytes = nil
	} else {
		bld.dedup.Set(bucket)
	}

	from := model.RootBlock
	if prev := bld.cursor[internal]; prev != nil {
		from = *prev
	}

	bld.batcher.AppendBlockEdge(model.Edge{Reason: model.EdgeKindSequential, From: from, To: curr})
	bld.cursor[internal] = &curr
	return curr
}

// StateFork propagates the pre-fork cursor of preForkParent to every child
// id in childIDs, including the renamed continuing parent. The rename
// itself is owned by identity.Map.Fork, called once by the PluginBoundary
// and shared with the stategraph builder, so the two graphs never race to
// rename the same parent.
func (bld *Builder) StateFork(preForkParent model.InternalStateId, childIDs []model.InternalStateId) {
	parentCursor := bld.cursor[preForkParent]
	for _, childInternal := range childIDs {
		bld.cursor[childInternal] = parentCursor
	}
}

// StateMerge is a no-op for the block graph: the destination's fresh
// post-merge id is always a key the cursor map has never seen, so its next
// block-start naturally emits an edge from the root node. The source
// state is consumed by the host; its cursor is never read again.
func (bld *Builder) StateMerge(postMergeDestination model.InternalStateId) {}

// ResetDedup clears the byte-snapshot dedup window. The PluginBoundary
// calls this after each successful flush so every new batch resends full
// byte snapshots for the packed ids it references, independent of what a
// prior (possibly dropped) batch already contained.
func (bld *Builder) ResetDedup() {
	bld.dedup.Reset()
}

// Cursor returns the current last-observed block node for an internal
// state id, and whether one has been recorded. Exposed for tests and
// diagnostics, not part of the callback contract.
func (bld *Builder) Cursor(internal model.InternalStateId) (model.Node, bool) {
	n := bld.cursor[internal]
	if n == nil {
		return model.Node{}, false
	}
	return *n, true
}
