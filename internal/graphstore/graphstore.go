package graphstore

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/lokegustafsson/ambacore/pkg/config"
	"github.com/lokegustafsson/ambacore/pkg/model"
)

// GraphStore mirrors flushed EDGE_BATCH payloads into a relational table
// pair (graph_node, graph_edge) for offline inspection. It is never
// consulted by the core's own graph builders.
type GraphStore interface {
	// SaveBatch persists every node and edge carried by batch.
	SaveBatch(ctx context.Context, batch *model.EdgeBatch) error

	// NodeCount returns the number of node rows ever saved, for
	// diagnostics.
	NodeCount(ctx context.Context) (int64, error)

	// EdgeCount returns the number of edge rows ever saved, for
	// diagnostics.
	EdgeCount(ctx context.Context) (int64, error)

	// HealthCheck verifies the underlying connection is alive.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

type gormStore struct {
	db *gorm.DB
}

// New opens a GraphStore for cfg. If cfg.Enabled is false, it returns
// (nil, nil): the caller should treat a nil store as "graph store
// disabled" and skip mirroring.
func New(cfg *config.GraphStoreConfig) (GraphStore, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	db, err := NewGormDB(cfg)
	if err != nil {
		return nil, err
	}
	return &gormStore{db: db}, nil
}

// NewWithDB wraps an already-open gorm connection, for tests that supply
// go-sqlmock.
func NewWithDB(db *gorm.DB) GraphStore {
	return &gormStore{db: db}
}

func (s *gormStore) SaveBatch(ctx context.Context, batch *model.EdgeBatch) error {
	if batch == nil || batch.Empty() {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := saveEdges(tx, batch.BatchID, "block", batch.BlockEdges); err != nil {
			return fmt.Errorf("save block edges: %w", err)
		}
		if err := saveEdges(tx, batch.BatchID, "state", batch.StateEdges); err != nil {
			return fmt.Errorf("save state edges: %w", err)
		}
		return nil
	})
}

func saveEdges(tx *gorm.DB, batchID, graph string, edges []model.Edge) error {
	for _, e := range edges {
		fromRec := nodeToRecord(batchID, e.From)
		if err := tx.Create(&fromRec).Error; err != nil {
			return err
		}
		toRec := nodeToRecord(batchID, e.To)
		if err := tx.Create(&toRec).Error; err != nil {
			return err
		}
		edgeRec := EdgeRecord{
			BatchID:    batchID,
			Graph:      graph,
			Reason:     uint8(e.Reason),
			FromNodeID: fromRec.ID,
			ToNodeID:   toRec.ID,
		}
		if err := tx.Create(&edgeRec).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *gormStore) NodeCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&NodeRecord{}).Count(&count).Error
	return count, err
}

func (s *gormStore) EdgeCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&EdgeRecord{}).Count(&count).Error
	return count, err
}

func (s *gormStore) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
