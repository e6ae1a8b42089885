package model

import "time"

// EdgeBatch is the unit the EdgeBatcher flushes and the IpcTransport sends
// downstream as a single EDGE_BATCH message. BatchID is stamped by the
// transport, not the batcher, so the batcher stays free of any ID-generation
// dependency.
type EdgeBatch struct {
	BatchID     string
	SequenceNum uint64
	CreatedAt   time.Time
	BlockEdges  []Edge
	StateEdges  []Edge
}

// Len reports the total number of edges carried by the batch.
func (b *EdgeBatch) Len() int {
	return len(b.BlockEdges) + len(b.StateEdges)
}

// Empty reports whether the batch carries no edges at all; the batcher never
// flushes an empty batch.
func (b *EdgeBatch) Empty() bool {
	return b.Len() == 0
}

// PrioritiseRequest is the decoded payload of an inbound PRIORITISE_STATES
// message: the raw sequence of HostStateIds the viewer wants scheduled
// next, in the viewer's priority order. Filtering against dead and unknown
// ids is the PrioritisationReceiver's job, not the transport's.
type PrioritiseRequest struct {
	HostIDs []HostStateId
}
