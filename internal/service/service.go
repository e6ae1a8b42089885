// Package service wires the configured collaborators (graph store,
// archive sink, transport, replay harness, health and status servers)
// into one runnable process. Grounded on the teacher's service.Service:
// same Initialize/Start/Stop lifecycle and the same pattern of building
// each optional collaborator from its own Config sub-struct, but wiring
// ambacore's graph-replication components instead of the teacher's
// database/storage/scheduler trio.
package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/lokegustafsson/ambacore/internal/archive"
	"github.com/lokegustafsson/ambacore/internal/graphstore"
	"github.com/lokegustafsson/ambacore/internal/graphview"
	"github.com/lokegustafsson/ambacore/internal/harness"
	"github.com/lokegustafsson/ambacore/internal/plugin"
	"github.com/lokegustafsson/ambacore/internal/statusui"
	"github.com/lokegustafsson/ambacore/internal/transport"
	"github.com/lokegustafsson/ambacore/pkg/compression"
	"github.com/lokegustafsson/ambacore/pkg/config"
	"github.com/lokegustafsson/ambacore/pkg/model"
	"github.com/lokegustafsson/ambacore/pkg/utils"
	"github.com/lokegustafsson/ambacore/pkg/writer"
)

// Service is the main application process.
type Service struct {
	config *config.Config
	logger utils.Logger

	transport *transport.Transport
	graphSink *archive.Sink
	graphDB   graphstore.GraphStore
	adjacency *graphview.Adjacency
	harness   *harness.Harness

	health *plugin.HealthServer
	status *statusui.Server

	running bool
}

// New creates a Service from cfg. logger defaults to an info-level
// logger over stdout if nil.
func New(cfg *config.Config, logger utils.Logger) (*Service, error) {
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}
	return &Service{config: cfg, logger: logger}, nil
}

// Initialize constructs every configured collaborator but starts none of
// them; call Start to begin serving.
func (s *Service) Initialize(ctx context.Context) error {
	s.logger.Info("ambacore: initializing service components...")

	s.adjacency = graphview.New()

	if err := s.initGraphStore(); err != nil {
		return fmt.Errorf("failed to initialize graph store: %w", err)
	}
	if err := s.initArchive(); err != nil {
		return fmt.Errorf("failed to initialize archive: %w", err)
	}
	if err := s.initTransport(); err != nil {
		return fmt.Errorf("failed to initialize transport: %w", err)
	}
	if err := s.initHarness(); err != nil {
		return fmt.Errorf("failed to initialize harness: %w", err)
	}

	if s.config.Plugin.HealthPort > 0 {
		s.health = plugin.NewHealthServer(s.config.Plugin.HealthPort, s.harness.Boundary().Alive(), s.logger)
	}
	if s.config.Plugin.StatusPort > 0 {
		s.status = statusui.NewServer(s.config.Plugin.StatusPort, s.harness.Boundary(), s.adjacency, s.logger)
	}

	s.logger.Info("ambacore: service components initialized")
	return nil
}

func (s *Service) initGraphStore() error {
	store, err := graphstore.New(&s.config.GraphStore)
	if err != nil {
		return err
	}
	s.graphDB = store
	if store != nil {
		s.logger.Info("ambacore: graph store enabled (%s)", s.config.GraphStore.Type)
	}
	return nil
}

func (s *Service) initArchive() error {
	if !s.config.Archive.Enabled {
		return nil
	}
	storage, err := archive.NewStorage(&s.config.Archive)
	if err != nil {
		return err
	}
	s.graphSink = archive.NewSink(storage, compression.Default())
	s.logger.Info("ambacore: archive enabled (%s)", s.config.Archive.Type)
	return nil
}

// initTransport dials the configured transport address, tolerating a
// dial failure: the service then runs with no transport and does not
// redial, so the batcher keeps its edges and nothing reaches the archive
// sink or graph store, which only mirror batches sent over a transport.
func (s *Service) initTransport() error {
	addr := s.config.Plugin.TransportAddr
	if addr == "" {
		return nil
	}

	conn, err := dial(addr)
	if err != nil {
		s.logger.Warn("ambacore: transport dial failed, starting disconnected: %v", err)
		return nil
	}

	var opts []transport.Option
	opts = append(opts, transport.WithLogger(s.logger))
	if s.config.Plugin.Compress {
		opts = append(opts, transport.WithCompression())
	}

	tr, err := transport.New(conn, opts...)
	if err != nil {
		return err
	}
	s.transport = tr
	s.logger.Info("ambacore: transport connected to %s", addr)
	return nil
}

// dial parses addr as either "unix://<path>" or "host:port" and opens
// the corresponding network connection.
func dial(addr string) (net.Conn, error) {
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		return net.Dial("unix", path)
	}
	return net.Dial("tcp", addr)
}

func (s *Service) initHarness() error {
	h, err := harness.NewFromConfig(&s.config.Harness, harness.Options{
		ModulePath: s.config.Plugin.ModulePath,
		Transport:  s.edgeSender(),
		Host:       nil, // no live host engine: spec.md §1 out-of-scope
		Logger:     s.logger,
		Clock:      utils.NewRealClock(),
	})
	if err != nil {
		return err
	}
	s.harness = h
	return nil
}

// harnessTransport is the exact shape harness.Options.Transport expects;
// named here so edgeSender can return a true nil interface value rather
// than an interface wrapping a nil *mirroringSender, which harness.New's
// "opts.Transport != nil" check would otherwise treat as non-nil.
type harnessTransport interface {
	IsConnected() bool
	SendEdgeBatch(ctx context.Context, batch *model.EdgeBatch) error
	TryReceive() (*model.PrioritiseRequest, bool)
}

// edgeSender returns nil if no transport is configured, otherwise a
// decorator that mirrors every sent batch to the archive sink and graph
// store before forwarding it, so those collaborators observe the same
// flush cadence as the wire transport without the core needing to know
// about them.
func (s *Service) edgeSender() harnessTransport {
	if s.transport == nil {
		return nil
	}
	return &mirroringSender{
		transport: s.transport,
		sink:      s.graphSink,
		store:     s.graphDB,
		adjacency: s.adjacency,
		logger:    s.logger,
	}
}

// mirroringSender implements the harness.Options.Transport interface,
// fanning SendEdgeBatch out to the archive sink, graph store, and the
// status server's adjacency view as best-effort side mirrors: their
// failures are logged, never propagated, since none is in the core's
// critical path (spec §7: IPC to the viewer is the only send the core
// must observe the outcome of).
type mirroringSender struct {
	transport *transport.Transport
	sink      *archive.Sink
	store     graphstore.GraphStore
	adjacency *graphview.Adjacency
	logger    utils.Logger
}

func (m *mirroringSender) IsConnected() bool { return m.transport.IsConnected() }

func (m *mirroringSender) SendEdgeBatch(ctx context.Context, batch *model.EdgeBatch) error {
	err := m.transport.SendEdgeBatch(ctx, batch)

	if m.adjacency != nil {
		m.adjacency.AddBatch(batch)
	}
	if m.sink != nil {
		if archErr := m.sink.Archive(ctx, batch); archErr != nil {
			m.logger.Warn("ambacore: archive mirror failed for batch %s: %v", batch.BatchID, archErr)
		}
	}
	if m.store != nil {
		if dbErr := m.store.SaveBatch(ctx, batch); dbErr != nil {
			m.logger.Warn("ambacore: graph store mirror failed for batch %s: %v", batch.BatchID, dbErr)
		}
	}
	return err
}

func (m *mirroringSender) TryReceive() (*model.PrioritiseRequest, bool) {
	return m.transport.TryReceive()
}

// Start runs the harness until ctx is cancelled, starting the health
// server alongside it if configured. It blocks.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("ambacore: starting service...")

	if s.health != nil {
		go func() {
			if err := s.health.Start(); err != nil {
				s.logger.Error("ambacore: health server stopped: %v", err)
			}
		}()
	}
	if s.status != nil {
		go func() {
			if err := s.status.Start(); err != nil && err != http.ErrServerClosed {
				s.logger.Error("ambacore: status server stopped: %v", err)
			}
		}()
	}

	s.running = true
	err := s.harness.Run(ctx)
	s.running = false
	return err
}

// Stop releases transport and storage resources. Safe to call after
// Start's context was cancelled.
func (s *Service) Stop() error {
	s.logger.Info("ambacore: stopping service...")

	if s.harness != nil {
		s.harness.Stop()
		select {
		case <-s.harness.Done():
		case <-time.After(5 * time.Second):
		}
	}
	if s.status != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.status.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("ambacore: failed to shut down status server: %v", err)
		}
	}
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			s.logger.Error("ambacore: failed to close transport: %v", err)
		}
	}
	if s.graphDB != nil {
		if err := s.graphDB.Close(); err != nil {
			s.logger.Error("ambacore: failed to close graph store: %v", err)
		}
	}

	s.running = false
	s.logger.Info("ambacore: service stopped")
	return nil
}

// IsRunning reports whether Start's harness loop is active.
func (s *Service) IsRunning() bool {
	return s.running
}

// HealthCheck verifies the optional graph store connection is alive.
func (s *Service) HealthCheck(ctx context.Context) error {
	if s.graphDB != nil {
		if err := s.graphDB.HealthCheck(ctx); err != nil {
			return fmt.Errorf("graph store health check failed: %w", err)
		}
	}
	return nil
}

// Harness exposes the underlying replay harness, e.g. for a caller that
// wants to poll EventsIn or Boundary diagnostics directly.
func (s *Service) Harness() *harness.Harness { return s.harness }

// StatusServer exposes the optional status HTTP server, nil if
// plugin.status_port was configured as 0.
func (s *Service) StatusServer() *statusui.Server { return s.status }

// graphSnapshot is the on-disk shape of a WriteSnapshot dump: the
// reconstructed adjacency's nodes and edges plus the adjacency's own
// summary counters, for offline inspection of a replay run without a
// live viewer attached.
type graphSnapshot struct {
	Nodes []*graphview.NodeView `json:"nodes"`
	Edges []*graphview.EdgeView `json:"edges"`
	Stats graphview.Stats       `json:"stats"`
}

// WriteSnapshot gzip-encodes the current reconstructed adjacency to path,
// using the same JSONWriter/GzipWriter pair the teacher's pprof file mode
// uses to dump profiles to disk. Intended for the `ambacore run
// --snapshot` flag: a one-shot debugging artifact, never consulted by the
// core itself (spec.md §1 leaves graph persistence to the consumer).
func (s *Service) WriteSnapshot(path string) (*writer.WriteResult, error) {
	snap := graphSnapshot{
		Nodes: s.adjacency.Nodes(),
		Edges: s.adjacency.Edges(),
		Stats: s.adjacency.GetStats(),
	}
	gz := writer.NewGzipWriter[graphSnapshot]()
	return gz.WriteToFileWithStats(snap, path)
}
