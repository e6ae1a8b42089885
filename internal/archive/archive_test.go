package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokegustafsson/ambacore/pkg/compression"
	"github.com/lokegustafsson/ambacore/pkg/model"
)

func TestSinkArchiveAndFetch(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	sink := NewSink(storage, compression.NewNoOpCompressor())

	batch := &model.EdgeBatch{
		BatchID:     "batch-1",
		SequenceNum: 1,
		BlockEdges: []model.Edge{{
			Reason: model.EdgeKindSequential,
			From:   model.RootBlock,
			To:     model.Node{Kind: model.NodeKindBlock, InternalID: 1, GuestVA: 0x4000, Generation: 1},
		}},
	}

	require.NoError(t, sink.Archive(context.Background(), batch))

	roundtripped, err := sink.Fetch(context.Background(), "batch-1")
	require.NoError(t, err)
	assert.Equal(t, batch.BatchID, roundtripped.BatchID)
	assert.Equal(t, batch.SequenceNum, roundtripped.SequenceNum)
	assert.Equal(t, batch.BlockEdges, roundtripped.BlockEdges)
	assert.Empty(t, roundtripped.StateEdges)
}

func TestSinkArchiveAllCompressed(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	zstd, err := compression.NewZstdCompressor(compression.LevelFastest)
	require.NoError(t, err)
	defer zstd.Close()

	sink := NewSink(storage, zstd)

	batches := []*model.EdgeBatch{
		{BatchID: "a", StateEdges: []model.Edge{{Reason: model.EdgeKindFork}}},
		{BatchID: "b", StateEdges: []model.Edge{{Reason: model.EdgeKindMerge}}},
	}

	errs := sink.ArchiveAll(context.Background(), batches)
	for _, err := range errs {
		assert.NoError(t, err)
	}

	got, err := sink.Fetch(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, model.EdgeKindMerge, got.StateEdges[0].Reason)
}
