package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/lokegustafsson/ambacore/pkg/compression"
	"github.com/lokegustafsson/ambacore/pkg/model"
	"github.com/lokegustafsson/ambacore/pkg/parallel"
)

// Sink archives flushed EDGE_BATCH payloads to object storage. Spec §7
// documents this as the accepted degrade-to-storage path for "IPC send
// failure": rather than letting the in-memory batcher grow without bound
// while the transport is disconnected, a caller may mirror batches here
// instead. The core itself never calls this; wiring it in is the
// PluginBoundary's caller's choice.
type Sink struct {
	storage    Storage
	compressor compression.Compressor
}

// NewSink returns an archive sink backed by storage, compressing each
// archived batch with compressor. A nil compressor disables compression.
func NewSink(storage Storage, compressor compression.Compressor) *Sink {
	if compressor == nil {
		compressor = compression.NewNoOpCompressor()
	}
	return &Sink{storage: storage, compressor: compressor}
}

// archivedBatch is the on-disk JSON envelope for one archived EDGE_BATCH.
type archivedBatch struct {
	BatchID     string       `json:"batch_id"`
	SequenceNum uint64       `json:"sequence_num"`
	BlockEdges  []model.Edge `json:"block_edges"`
	StateEdges  []model.Edge `json:"state_edges"`
}

// Archive serialises and compresses batch, then uploads it under a key
// derived from its BatchID.
func (s *Sink) Archive(ctx context.Context, batch *model.EdgeBatch) error {
	key := batchKey(batch.BatchID)

	raw, err := json.Marshal(archivedBatch{
		BatchID:     batch.BatchID,
		SequenceNum: batch.SequenceNum,
		BlockEdges:  batch.BlockEdges,
		StateEdges:  batch.StateEdges,
	})
	if err != nil {
		return fmt.Errorf("archive: marshal batch %s: %w", batch.BatchID, err)
	}

	compressed, err := s.compressor.Compress(raw)
	if err != nil {
		return fmt.Errorf("archive: compress batch %s: %w", batch.BatchID, err)
	}

	if err := s.storage.Upload(ctx, key, bytes.NewReader(compressed)); err != nil {
		return fmt.Errorf("archive: upload batch %s: %w", batch.BatchID, err)
	}
	return nil
}

// ArchiveAll archives many batches concurrently using a bounded worker
// pool, for bulk flush-to-storage (e.g. draining a degraded backlog after
// a consumer reconnects). Never used on the engine thread that owns the
// graph builders; spec §5 forbids parallelism there.
func (s *Sink) ArchiveAll(ctx context.Context, batches []*model.EdgeBatch) []error {
	pool := parallel.NewWorkerPool[*model.EdgeBatch, struct{}](parallel.DefaultPoolConfig())
	results := pool.ExecuteFunc(ctx, batches, func(ctx context.Context, batch *model.EdgeBatch) (struct{}, error) {
		return struct{}{}, s.Archive(ctx, batch)
	})

	errs := make([]error, len(results))
	for i, r := range results {
		errs[i] = r.Error
	}
	return errs
}

// Fetch downloads and decompresses a previously archived batch by id.
func (s *Sink) Fetch(ctx context.Context, batchID string) (*model.EdgeBatch, error) {
	rc, err := s.storage.Download(ctx, batchKey(batchID))
	if err != nil {
		return nil, fmt.Errorf("archive: download batch %s: %w", batchID, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("archive: read batch %s: %w", batchID, err)
	}

	raw, err := s.compressor.Decompress(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("archive: decompress batch %s: %w", batchID, err)
	}

	var decoded archivedBatch
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("archive: unmarshal batch %s: %w", batchID, err)
	}

	return &model.EdgeBatch{
		BatchID:     decoded.BatchID,
		SequenceNum: decoded.SequenceNum,
		BlockEdges:  decoded.BlockEdges,
		StateEdges:  decoded.StateEdges,
	}, nil
}

func batchKey(batchID string) string {
	return fmt.Sprintf("edge-batches/%s.json.zst", batchID)
}
