// Package graphstore provides an optional durable mirror of flushed edge
// batches, for offline inspection after the fact. The core itself "does
// not persist graphs" (spec §1); this is a consumer-side convenience that
// subscribes to the same EDGE_BATCH stream an external viewer would.
package graphstore

import (
	"time"

	"github.com/lokegustafsson/ambacore/pkg/model"
)

// NodeRecord is the nodes table row: one per endpoint of every saved edge.
// Rows are not deduplicated, so a node that appears in several edges or
// batches has several rows.
type NodeRecord struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	BatchID    string `gorm:"column:batch_id;type:varchar(64);index"`
	Kind       uint8  `gorm:"column:kind"`
	InternalID uint32 `gorm:"column:internal_id;index"`
	HostID     int32  `gorm:"column:host_id"`
	GuestVA    uint64 `gorm:"column:guest_va"`
	Generation uint64 `gorm:"column:generation"`
	ElfVAddr   uint64 `gorm:"column:elf_vaddr"`
	Bytes      []byte `gorm:"column:bytes;type:blob"`
}

// TableName returns the table name for NodeRecord.
func (NodeRecord) TableName() string { return "graph_node" }

// EdgeRecord is the edges table row: one per edge in either graph, tagged
// with the graph it belongs to and the batch it was flushed in.
type EdgeRecord struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	BatchID    string    `gorm:"column:batch_id;type:varchar(64);index"`
	Graph      string    `gorm:"column:graph;type:varchar(8)"` // "block" or "state"
	Reason     uint8     `gorm:"column:reason"`
	FromNodeID int64     `gorm:"column:from_node_id"`
	ToNodeID   int64     `gorm:"column:to_node_id"`
	CreateTime time.Time `gorm:"column:create_time;autoCreateTime"`
}

// TableName returns the table name for EdgeRecord.
func (EdgeRecord) TableName() string { return "graph_edge" }

func nodeToRecord(batchID string, n model.Node) NodeRecord {
	return NodeRecord{
		BatchID:    batchID,
		Kind:       uint8(n.Kind),
		InternalID: uint32(n.InternalID),
		HostID:     int32(n.HostID),
		GuestVA:    n.GuestVA,
		Generation: n.Generation,
		ElfVAddr:   n.ElfVAddr,
		Bytes:      n.Bytes,
	}
}
