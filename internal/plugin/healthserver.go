package plugin

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lokegustafsson/ambacore/pkg/utils"
)

// HealthServer exposes the plugin boundary's liveness over the standard
// grpc health-checking protocol, so an operator can point a load balancer
// or a readiness probe at the running analysis process without any
// ambacore-specific client.
type HealthServer struct {
	port   int
	logger utils.Logger

	alive      *atomic.Bool
	grpcServer *grpc.Server
	health     *health.Server
}

// NewHealthServer returns a health server reporting the given alive flag
// under the "" (overall) and "ambacore" service names. alive is read, never
// written, by this type.
func NewHealthServer(port int, alive *atomic.Bool, logger utils.Logger) *HealthServer {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &HealthServer{port: port, logger: logger, alive: alive, health: health.NewServer()}
}

// Start blocks serving gRPC health checks until the listener fails or
// Shutdown is called.
func (h *HealthServer) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", h.port))
	if err != nil {
		return fmt.Errorf("health server listen: %w", err)
	}

	h.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(h.grpcServer, h.health)
	h.setStatus()

	h.logger.Info("ambacore: health server listening on :%d", h.port)
	return h.grpcServer.Serve(lis)
}

// Refresh recomputes the reported status from the current alive flag. Call
// periodically (e.g. from the same timer that drives OnTimer) so a crashed
// engine thread is reflected within one tick.
func (h *HealthServer) Refresh() {
	h.setStatus()
}

func (h *HealthServer) setStatus() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if h.alive.Load() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus("ambacore", status)
}

// Shutdown stops accepting new health checks and marks every service
// NOT_SERVING before the gRPC server drains in-flight requests.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.grpcServer == nil {
		return nil
	}
	h.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		h.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		h.grpcServer.Stop()
		return ctx.Err()
	}
}
