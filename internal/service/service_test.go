package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokegustafsson/ambacore/pkg/config"
	"github.com/lokegustafsson/ambacore/pkg/utils"
)

func testConfig() *config.Config {
	return &config.Config{
		Plugin: config.PluginConfig{
			ModulePath: "/lib/libtarget.so",
		},
		Harness: config.HarnessConfig{
			Sources: []config.SourceConfig{
				{Type: "file", Name: "empty", Enabled: true, Options: map[string]interface{}{"path": "/dev/null"}},
			},
		},
	}
}

func TestService_New(t *testing.T) {
	t.Run("WithLogger", func(t *testing.T) {
		logger := utils.NewDefaultLogger(utils.LevelInfo, nil)
		svc, err := New(testConfig(), logger)
		require.NoError(t, err)
		require.NotNil(t, svc)
		assert.False(t, svc.IsRunning())
	})

	t.Run("WithoutLogger", func(t *testing.T) {
		svc, err := New(testConfig(), nil)
		require.NoError(t, err)
		require.NotNil(t, svc)
	})
}

func TestService_Initialize_WiresHarnessWithoutTransportOrGraphStore(t *testing.T) {
	svc, err := New(testConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, svc.Initialize(context.Background()))
	assert.NotNil(t, svc.Harness())
	assert.Nil(t, svc.transport, "no transport_addr configured means no dial attempt")
	assert.Nil(t, svc.graphDB, "graph store disabled by default")
	assert.Nil(t, svc.StatusServer(), "status_port defaults to 0 in a bare Config literal")
}

func TestService_HealthCheck_NoGraphStore(t *testing.T) {
	svc, err := New(testConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, svc.Initialize(context.Background()))

	assert.NoError(t, svc.HealthCheck(context.Background()))
}

func TestDial_RejectsUnreachableAddressWithoutPanicking(t *testing.T) {
	_, err := dial("127.0.0.1:1")
	assert.Error(t, err)
}

func TestService_WriteSnapshot_WritesGzippedJSON(t *testing.T) {
	svc, err := New(testConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, svc.Initialize(context.Background()))

	path := filepath.Join(t.TempDir(), "graph.json.gz")
	result, err := svc.WriteSnapshot(path)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.FileExists(t, path)
	assert.Positive(t, result.JSONSize, "even an empty adjacency encodes a non-empty JSON envelope")
}
