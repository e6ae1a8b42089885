package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokegustafsson/ambacore/pkg/model"
)

func TestWire_FrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, kindEdgeBatch, []byte("hello")))

	kind, payload, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, kindEdgeBatch, kind)
	assert.Equal(t, []byte("hello"), payload)
}

func TestWire_EdgeBatchRoundTrip(t *testing.T) {
	batch := &model.EdgeBatch{
		StateEdges: []model.Edge{
			{
				Reason: model.EdgeKindFork,
				From:   model.Node{Kind: model.NodeKindState, InternalID: 1, HostID: 10},
				To:     model.Node{Kind: model.NodeKindState, InternalID: 2, HostID: 11, Inputs: []model.SymbolicInput{{Name: "rax", Bytes: []byte{1, 2}}, {Name: "rbx", Bytes: []byte{3}}}},
			},
		},
		BlockEdges: []model.Edge{
			{
				Reason: model.EdgeKindSequential,
				From:   model.RootBlock,
				To:     model.Node{Kind: model.NodeKindBlock, InternalID: 1, GuestVA: 0x4000, Generation: 1, ElfVAddr: 0x1000, Bytes: []byte{0x90, 0x90}},
			},
		},
	}

	payload := encodeEdgeBatch(batch)
	decoded, err := decodeEdgeBatch(payload)
	require.NoError(t, err)

	require.Len(t, decoded.StateEdges, 1)
	assert.Equal(t, batch.StateEdges[0].From.InternalID, decoded.StateEdges[0].From.InternalID)
	assert.Equal(t, batch.StateEdges[0].To.HostID, decoded.StateEdges[0].To.HostID)
	require.Len(t, decoded.StateEdges[0].To.Inputs, 2)
	assert.Equal(t, "rax", decoded.StateEdges[0].To.Inputs[0].Name)
	assert.Equal(t, []byte{1, 2}, decoded.StateEdges[0].To.Inputs[0].Bytes)
	assert.Equal(t, []byte{3}, decoded.StateEdges[0].To.Inputs[1].Bytes)

	require.Len(t, decoded.BlockEdges, 1)
	assert.Equal(t, batch.BlockEdges[0].From.Kind, decoded.BlockEdges[0].From.Kind)
	assert.Equal(t, batch.BlockEdges[0].From.GuestVA, decoded.BlockEdges[0].From.GuestVA)
	assert.EqualValues(t, 0x4000, decoded.BlockEdges[0].To.GuestVA)
	assert.Equal(t, []byte{0x90, 0x90}, decoded.BlockEdges[0].To.Bytes)
}

func TestWire_PrioritiseRequestRoundTrip(t *testing.T) {
	req := &model.PrioritiseRequest{HostIDs: []model.HostStateId{7, 8, -1}}
	payload := encodePrioritiseRequest(req)
	decoded, err := decodePrioritiseRequest(payload)
	require.NoError(t, err)
	assert.Equal(t, req.HostIDs, decoded.HostIDs)
}

func TestWire_EmptyEdgeBatch(t *testing.T) {
	batch := &model.EdgeBatch{}
	payload := encodeEdgeBatch(batch)
	decoded, err := decodeEdgeBatch(payload)
	require.NoError(t, err)
	assert.Empty(t, decoded.StateEdges)
	assert.Empty(t, decoded.BlockEdges)
}
