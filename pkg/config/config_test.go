package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
plugin:
  module_path: /lib/target.so
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/lib/target.so", cfg.Plugin.ModulePath)
	assert.Equal(t, 8090, cfg.Plugin.HealthPort)
	assert.False(t, cfg.GraphStore.Enabled)
	assert.Equal(t, "sqlite", cfg.GraphStore.Type)
	assert.Equal(t, 5, cfg.Harness.WorkerCount)
}

func TestLoad_CustomValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
plugin:
  module_path: /lib/target.so
  transport_addr: "127.0.0.1:9000"
  compress: true
  health_port: 9090
graphstore:
  enabled: true
  type: postgres
  host: db.example.com
  port: 5432
  database: ambacore
  user: admin
  password: secret
archive:
  enabled: true
  type: cos
  bucket: test-bucket
  region: ap-guangzhou
harness:
  poll_interval: 5
  worker_count: 8
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Plugin.TransportAddr)
	assert.True(t, cfg.Plugin.Compress)
	assert.Equal(t, 9090, cfg.Plugin.HealthPort)
	assert.Equal(t, "db.example.com", cfg.GraphStore.Host)
	assert.Equal(t, 5432, cfg.GraphStore.Port)
	assert.Equal(t, "ambacore", cfg.GraphStore.Database)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "test-bucket", cfg.Archive.Bucket)
	assert.Equal(t, 8, cfg.Harness.WorkerCount)
}

func TestLoad_InvalidGraphStoreType(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
plugin:
  module_path: /lib/target.so
graphstore:
  enabled: true
  type: oracle
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	_, err = Load(configFile)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported graphstore type")
}

func TestLoad_EmptyModulePath_IsNotAValidationError(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(configFile, []byte("{}"), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.Empty(t, cfg.Plugin.ModulePath)
}

func TestValidate_InvalidGraphStoreType(t *testing.T) {
	cfg := &Config{GraphStore: GraphStoreConfig{Enabled: true, Type: "oracle"}}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported graphstore type")
}

func TestValidate_NegativeWorkerCount(t *testing.T) {
	cfg := &Config{Harness: HarnessConfig{WorkerCount: -1}}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be negative")
}

func TestGetTaskDir(t *testing.T) {
	cfg := &Config{Harness: HarnessConfig{DataDir: "/tmp/data"}}
	assert.Equal(t, "/tmp/data/session-123", cfg.GetTaskDir("session-123"))
}

func TestEnsureDataDir(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "harness", "data")

	cfg := &Config{Harness: HarnessConfig{DataDir: dataDir}}
	require.NoError(t, cfg.EnsureDataDir())

	_, err := os.Stat(dataDir)
	assert.NoError(t, err)
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestLoadFromReader(t *testing.T) {
	content := []byte(`
plugin:
  module_path: /lib/target.so
graphstore:
  enabled: true
  type: mysql
  host: mysql.local
`)
	cfg, err := LoadFromReader("yaml", content)
	require.NoError(t, err)
	assert.Equal(t, "/lib/target.so", cfg.Plugin.ModulePath)
	assert.Equal(t, "mysql", cfg.GraphStore.Type)
	assert.Equal(t, "mysql.local", cfg.GraphStore.Host)
}
