package graphview

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lokegustafsson/ambacore/pkg/model"
)

func TestAdjacency_AddEdge_DedupsRepeatsIntoCount(t *testing.T) {
	g := New()

	block1 := model.Node{Kind: model.NodeKindBlock, InternalID: 1, GuestVA: 0x4000, Generation: 1}
	edge := model.Edge{Reason: model.EdgeKindSequential, From: model.RootBlock, To: block1}

	g.AddEdge(edge)
	g.AddEdge(edge)
	g.AddEdge(edge)

	stats := g.GetStats()
	assert.Equal(t, 2, stats.NodeCount) // root + block1
	assert.Equal(t, 1, stats.EdgeCount)
	assert.EqualValues(t, 3, g.Edges()[0].Count)
}

func TestAdjacency_AddBatch_BuildsDistinctStateAndBlockGraphs(t *testing.T) {
	g := New()

	stateParent := model.Node{Kind: model.NodeKindState, InternalID: 1, HostID: 1}
	stateChild := model.Node{Kind: model.NodeKindState, InternalID: 2, HostID: 1}
	block := model.Node{Kind: model.NodeKindBlock, InternalID: 1, GuestVA: 0x1000, Generation: 1}

	batch := &model.EdgeBatch{
		StateEdges: []model.Edge{{Reason: model.EdgeKindFork, From: stateParent, To: stateChild}},
		BlockEdges: []model.Edge{{Reason: model.EdgeKindSequential, From: model.RootBlock, To: block}},
	}
	g.AddBatch(batch)

	stats := g.GetStats()
	assert.Equal(t, 4, stats.NodeCount)
	assert.Equal(t, 2, stats.EdgeCount)
	assert.Equal(t, 1, g.PackedIndex().Len(), "only block nodes feed the packed index")
}
