package batcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lokegustafsson/ambacore/pkg/model"
)

func block(id model.InternalStateId, va uint64) model.Node {
	return model.Node{Kind: model.NodeKindBlock, InternalID: id, GuestVA: va}
}

func TestBatcher_Empty(t *testing.T) {
	b := New()
	assert.True(t, b.Empty())
	assert.Equal(t, 0, b.Len())
}

func TestBatcher_AppendPreservesOrder(t *testing.T) {
	b := New()
	b.AppendBlockEdge(model.Edge{From: block(1, 0x1000), To: block(1, 0x2000)})
	b.AppendBlockEdge(model.Edge{From: block(1, 0x2000), To: block(1, 0x3000)})
	blockEdges, _ := b.Flush()
	assert.Equal(t, uint64(0x1000), blockEdges[0].From.GuestVA)
	assert.Equal(t, uint64(0x3000), blockEdges[1].To.GuestVA)
}

func TestBatcher_FlushDrainsIdempotently(t *testing.T) {
	b := New()
	b.AppendBlockEdge(model.Edge{From: block(1, 0x1000), To: block(1, 0x2000)})
	b.AppendStateEdge(model.Edge{From: model.Node{Kind: model.NodeKindState, InternalID: 10}, To: model.Node{Kind: model.NodeKindState, InternalID: 20}})

	blockEdges, stateEdges := b.Flush()
	assert.Len(t, blockEdges, 1)
	assert.Len(t, stateEdges, 1)
	assert.True(t, b.Empty())

	blockEdges2, stateEdges2 := b.Flush()
	assert.Empty(t, blockEdges2)
	assert.Empty(t, stateEdges2)
}

func TestBatcher_FlushReturnsExactlyEdgesSincePriorFlush(t *testing.T) {
	b := New()
	b.AppendBlockEdge(model.Edge{From: block(1, 0x1000), To: block(1, 0x2000)})
	b.Flush()

	b.AppendBlockEdge(model.Edge{From: block(1, 0x3000), To: block(1, 0x4000)})
	blockEdges, _ := b.Flush()
	assert.Len(t, blockEdges, 1)
	assert.Equal(t, uint64(0x3000), blockEdges[0].From.GuestVA)
}

func TestBatcher_BlockAndStateEdgesIndependent(t *testing.T) {
	b := New()
	b.AppendStateEdge(model.Edge{From: model.Node{Kind: model.NodeKindState, InternalID: 1}, To: model.Node{Kind: model.NodeKindState, InternalID: 2}})
	assert.Equal(t, 1, b.Len())
	blockEdges, stateEdges := b.Flush()
	assert.Empty(t, blockEdges)
	assert.Len(t, stateEdges, 1)
}
