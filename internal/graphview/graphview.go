// Package graphview reconstructs a reference adjacency view from the edges
// a PluginBoundary emits, for the replay harness and tests to assert on the
// shape of the graph the core's edges imply. It is explicitly not "the
// viewer" spec.md describes as an out-of-scope external consumer of
// EDGE_BATCH — this is test/dev tooling, grounded on the teacher's
// callgraph.CallGraph node/edge maps with content replaced: guest
// addresses and state ids instead of function/module names.
package graphview

import (
	"github.com/lokegustafsson/ambacore/internal/blockgraph"
	"github.com/lokegustafsson/ambacore/pkg/model"
)

// NodeView is one vertex of the reconstructed graph: either a state node or
// a block node, identified by its full-width tuple (never the packed id,
// which stays reserved for indexing).
type NodeView struct {
	Kind       model.NodeKind `json:"kind"`
	InternalID uint32         `json:"internalId"`
	HostID     int32          `json:"hostId,omitempty"`
	GuestVA    uint64         `json:"guestVa,omitempty"`
	Generation uint64         `json:"generation,omitempty"`
}

// EdgeView is one observed transition between two NodeViews.
type EdgeView struct {
	ID     string         `json:"id"`
	Source string         `json:"source"`
	Target string         `json:"target"`
	Reason model.EdgeKind `json:"reason"`
	Count  int64          `json:"count"`
}

// Adjacency is the reconstructed graph: a deduplicated node/edge set built
// incrementally from a stream of model.Edge values, mirroring the
// teacher's CallGraph accumulation pattern (AddNode/AddEdge, id-keyed maps,
// repeat edges bump Count rather than duplicating).
type Adjacency struct {
	nodes map[string]*NodeView
	edges map[string]*EdgeView

	nodeOrder []string
	edgeOrder []string

	packed *blockgraph.PackedIndex
}

// New returns an empty Adjacency.
func New() *Adjacency {
	return &Adjacency{
		nodes:  make(map[string]*NodeView),
		edges:  make(map[string]*EdgeView),
		packed: blockgraph.NewPackedIndex(),
	}
}

// AddEdge folds one observed edge into the graph, creating its endpoint
// nodes if new and incrementing the edge's observation count if not.
func (a *Adjacency) AddEdge(e model.Edge) {
	fromID := a.addNode(e.From)
	toID := a.addNode(e.To)

	if e.To.Kind == model.NodeKindBlock {
		a.packed.Add(e.To)
	}

	edgeID := fromID + "->" + toID + "#" + e.Reason.String()
	if existing, ok := a.edges[edgeID]; ok {
		existing.Count++
		return
	}
	a.edges[edgeID] = &EdgeView{
		ID:     edgeID,
		Source: fromID,
		Target: toID,
		Reason: e.Reason,
		Count:  1,
	}
	a.edgeOrder = append(a.edgeOrder, edgeID)
}

// AddBatch folds every state and block edge of batch into the graph.
func (a *Adjacency) AddBatch(batch *model.EdgeBatch) {
	for _, e := range batch.StateEdges {
		a.AddEdge(e)
	}
	for _, e := range batch.BlockEdges {
		a.AddEdge(e)
	}
}

func (a *Adjacency) addNode(n model.Node) string {
	id := nodeID(n)
	if _, ok := a.nodes[id]; ok {
		return id
	}
	a.nodes[id] = &NodeView{
		Kind:       n.Kind,
		InternalID: uint32(n.InternalID),
		HostID:     int32(n.HostID),
		GuestVA:    n.GuestVA,
		Generation: n.Generation,
	}
	a.nodeOrder = append(a.nodeOrder, id)
	return id
}

func nodeID(n model.Node) string {
	if n.Kind == model.NodeKindBlock && n.InternalID == model.RootBlock.InternalID &&
		n.GuestVA == model.RootBlock.GuestVA && n.Generation == model.RootBlock.Generation {
		return "root"
	}
	switch n.Kind {
	case model.NodeKindState:
		return "state:" + itoa(int64(n.InternalID))
	default:
		return "block:" + itoa(int64(n.InternalID)) + ":" + itoa(int64(n.GuestVA)) + ":" + itoa(int64(n.Generation))
	}
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Nodes returns every node view, in first-seen order.
func (a *Adjacency) Nodes() []*NodeView {
	out := make([]*NodeView, len(a.nodeOrder))
	for i, id := range a.nodeOrder {
		out[i] = a.nodes[id]
	}
	return out
}

// Edges returns every edge view, in first-seen order.
func (a *Adjacency) Edges() []*EdgeView {
	out := make([]*EdgeView, len(a.edgeOrder))
	for i, id := range a.edgeOrder {
		out[i] = a.edges[id]
	}
	return out
}

// Stats summarises the reconstructed graph's shape.
type Stats struct {
	NodeCount int `json:"nodeCount"`
	EdgeCount int `json:"edgeCount"`
}

// GetStats returns node/edge counts.
func (a *Adjacency) GetStats() Stats {
	return Stats{NodeCount: len(a.nodes), EdgeCount: len(a.edges)}
}

// PackedIndex exposes the block-node packed index accumulated alongside
// the adjacency, for tests exercising collision-tolerant lookups.
func (a *Adjacency) PackedIndex() *blockgraph.PackedIndex {
	return a.packed
}
