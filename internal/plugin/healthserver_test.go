package plugin

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lokegustafsson/ambacore/pkg/utils"
)

func TestHealthServer_ReflectsAliveFlag(t *testing.T) {
	var alive atomic.Bool
	alive.Store(true)

	h := NewHealthServer(0, &alive, &utils.NullLogger{})
	h.Refresh()

	resp, err := h.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "ambacore"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	alive.Store(false)
	h.Refresh()

	resp, err = h.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "ambacore"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}

func TestHealthServer_ShutdownWithoutStartIsNoop(t *testing.T) {
	var alive atomic.Bool
	h := NewHealthServer(0, &alive, &utils.NullLogger{})
	assert.NoError(t, h.Shutdown(context.Background()))
}
