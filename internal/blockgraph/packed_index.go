package blockgraph

import "github.com/lokegustafsson/ambacore/pkg/model"

// PackedIndex is a HashableWrapper-style index keyed by a §4.5 packed node
// id. Because the packed id is a lossy projection (4-bit generation,
// 12-bit state id), distinct nodes can collide on the same key; PackedIndex
// tolerates that by keeping a small bucket of candidates per key instead of
// a single entry. It is never used by the core's own per-state cursor
// (blockgraph.Builder), only by the replay harness and internal/graphview
// for reconstructing an approximate adjacency for inspection and tests.
type PackedIndex struct {
	buckets map[uint64][]model.Node
}

// NewPackedIndex returns an empty index.
func NewPackedIndex() *PackedIndex {
	return &PackedIndex{buckets: make(map[uint64][]model.Node)}
}

// Add inserts n under its packed key, appending to any existing bucket.
// Re-adding a node identical in (InternalID, GuestVA, Generation) is a
// no-op to keep buckets from growing under repeated observation.
func (idx *PackedIndex) Add(n model.Node) {
	key := Pack(int64(n.GuestVA), uint32(n.Generation), uint32(n.InternalID))
	bucket := idx.buckets[key]
	for _, existing := range bucket {
		if sameIdentity(existing, n) {
			return
		}
	}
	idx.buckets[key] = append(bucket, n)
}

// Lookup returns every node sharing n's packed key, which may include
// collisions distinct from n itself; callers must disambiguate by the
// full-width (InternalID, GuestVA, Generation) tuple.
func (idx *PackedIndex) Lookup(n model.Node) []model.Node {
	key := Pack(int64(n.GuestVA), uint32(n.Generation), uint32(n.InternalID))
	return idx.buckets[key]
}

// Len returns the number of distinct nodes indexed, across all buckets.
func (idx *PackedIndex) Len() int {
	n := 0
	for _, bucket := range idx.buckets {
		n += len(bucket)
	}
	return n
}

func sameIdentity(a, b model.Node) bool {
	return a.InternalID == b.InternalID && a.GuestVA == b.GuestVA && a.Generation == b.Generation
}
