package graphstore

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lokegustafsson/ambacore/pkg/config"
	"github.com/lokegustafsson/ambacore/pkg/model"
)

func newTestGormDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&NodeRecord{}, &EdgeRecord{}))
	return db
}

func TestNewDisabledReturnsNil(t *testing.T) {
	store, err := New(&config.GraphStoreConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, store)
}

func TestNewUnsupportedType(t *testing.T) {
	_, err := NewGormDB(&config.GraphStoreConfig{Type: "clickhouse"})
	assert.Error(t, err)
}

func TestSaveBatchAndCounts(t *testing.T) {
	db := newTestGormDB(t)
	store := NewWithDB(db)
	ctx := context.Background()

	batch := &model.EdgeBatch{
		BatchID: "batch-1",
		BlockEdges: []model.Edge{{
			Reason: model.EdgeKindSequential,
			From:   model.RootBlock,
			To:     model.Node{Kind: model.NodeKindBlock, InternalID: 1, GuestVA: 0x4000, Generation: 1},
		}},
		StateEdges: []model.Edge{{
			Reason: model.EdgeKindFork,
			From:   model.Node{Kind: model.NodeKindState, InternalID: 1, HostID: 1},
			To:     model.Node{Kind: model.NodeKindState, InternalID: 2, HostID: 1},
		}},
	}

	require.NoError(t, store.SaveBatch(ctx, batch))

	nodes, err := store.NodeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), nodes)

	edges, err := store.EdgeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), edges)

	require.NoError(t, store.HealthCheck(ctx))
	require.NoError(t, store.Close())
}

// TestNodeCountAgainstMySQLDialect exercises the gorm dialect-selection
// code path against the mysql driver without a live database, mirroring
// how the teacher tests its repositories against go-sqlmock.
func TestNodeCountAgainstMySQLDialect(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      conn,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	store := NewWithDB(gdb)

	mock.ExpectQuery("SELECT count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := store.NodeCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveBatchEmptyIsNoop(t *testing.T) {
	db := newTestGormDB(t)
	store := NewWithDB(db)

	require.NoError(t, store.SaveBatch(context.Background(), &model.EdgeBatch{}))

	nodes, err := store.NodeCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), nodes)
}
