// Package batcher accumulates newly observed block-graph and state-graph
// edges between periodic flushes.
package batcher

import "github.com/lokegustafsson/ambacore/pkg/model"

// Batcher holds two ordered, append-only edge sequences. Appenders run only
// on the engine thread, so no locking is required among them; Flush is also
// called from the engine thread.
type Batcher struct {
	blockEdges []model.Edge
	stateEdges []model.Edge
}

// New returns an empty batcher.
func New() *Batcher {
	return &Batcher{}
}

// AppendBlockEdge appends to the block-graph sequence, preserving call
// order.
func (b *Batcher) AppendBlockEdge(e model.Edge) {
	b.blockEdges = append(b.blockEdges, e)
}

// AppendStateEdge appends to the state-graph sequence, preserving call
// order.
func (b *Batcher) AppendStateEdge(e model.Edge) {
	b.stateEdges = append(b.stateEdges, e)
}

// Flush atomically swaps the internal buffers with empty ones and returns
// the prior contents. After Flush, Len reports 0 until new edges arrive.
func (b *Batcher) Flush() (blockEdges, stateEdges []model.Edge) {
	blockEdges, b.blockEdges = b.blockEdges, nil
	stateEdges, b.stateEdges = b.stateEdges, nil
	return blockEdges, stateEdges
}

// Len reports the total number of buffered edges across both sequences.
func (b *Batcher) Len() int {
	return len(b.blockEdges) + len(b.stateEdges)
}

// Empty reports whether both sequences are currently empty.
func (b *Batcher) Empty() bool {
	return b.Len() == 0
}
