// Package harness drives a plugin.Boundary from recorded callback streams
// instead of a live host engine, standing in for the symbolic engine in
// tests, offline replay, and the `ambacore run` CLI subcommand. It owns the
// source.Aggregator and dispatches every aggregated event on a single
// goroutine: the plugin boundary's graph builders are documented as
// single-engine-thread state, so the harness must never hand two callbacks
// to the boundary concurrently, unlike the worker-pool fan-out a live task
// queue would use.
package harness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lokegustafsson/ambacore/internal/harness/source"
	"github.com/lokegustafsson/ambacore/internal/plugin"
	"github.com/lokegustafsson/ambacore/internal/plugin/hostapi"
	"github.com/lokegustafsson/ambacore/pkg/config"
	"github.com/lokegustafsson/ambacore/pkg/model"
	"github.com/lokegustafsson/ambacore/pkg/utils"
)

// replayState is the harness's synthetic hostapi.HostState: a recorded
// callback only ever carries a HostStateId, never a live engine handle.
type replayState model.HostStateId

func (r replayState) ID() model.HostStateId { return model.HostStateId(r) }

// replayModule is a synthetic hostapi.Module covering the single
// configured module path, treating guest virtual addresses as already
// module-relative (the harness has no real ELF loader).
type replayModule struct {
	path string
	pid  int32
}

func (m *replayModule) Path() string { return m.path }
func (m *replayModule) Pid() int32   { return m.pid }
func (m *replayModule) ToNativeBase(pc uint64) (uint64, bool) {
	return pc, true
}

// replayModuleMap resolves every state to the single tracked module, once
// loaded.
type replayModuleMap struct {
	mu     sync.RWMutex
	module *replayModule
}

func (m *replayModuleMap) set(module *replayModule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.module = module
}

func (m *replayModuleMap) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.module = nil
}

func (m *replayModuleMap) GetModule(state hostapi.HostState) (hostapi.Module, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.module == nil {
		return nil, false
	}
	return m.module, true
}

// replayGuestMemory returns the bytes recorded alongside the callback
// instead of reading a live guest address space.
type replayGuestMemory struct {
	mu      sync.Mutex
	pending map[model.HostStateId][]byte
}

func newReplayGuestMemory() *replayGuestMemory {
	return &replayGuestMemory{pending: make(map[model.HostStateId][]byte)}
}

// stage records the bytes the next Read for this state should return.
func (g *replayGuestMemory) stage(state model.HostStateId, bytes []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[state] = bytes
}

func (g *replayGuestMemory) Read(state hostapi.HostState, vaddr uint64, length int) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	bytes, ok := g.pending[state.ID()]
	delete(g.pending, state.ID())
	return bytes, ok
}

// Harness replays a recorded callback stream into a plugin.Boundary,
// polling the aggregator on an interval instead of blocking forever, so it
// can also drive the periodic OnTimer flush the way an engine thread would.
type Harness struct {
	aggregator *source.Aggregator
	boundary   *plugin.Boundary
	moduleMap  *replayModuleMap
	guestMem   *replayGuestMemory
	logger     utils.Logger
	clock      utils.Clock

	pollInterval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}

	mu       sync.Mutex
	running  bool
	eventsIn uint64
}

// Options configures a Harness.
type Options struct {
	ModulePath string
	Transport  interface {
		IsConnected() bool
		SendEdgeBatch(ctx context.Context, batch *model.EdgeBatch) error
		TryReceive() (*model.PrioritiseRequest, bool)
	}
	Host         hostapi.Host
	PollInterval time.Duration
	Logger       utils.Logger
	Clock        utils.Clock
}

// New builds a Harness wired to the given sources and boundary
// collaborators.
func New(sources []source.CallbackSource, opts Options) *Harness {
	if opts.Logger == nil {
		opts.Logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}
	if opts.Clock == nil {
		opts.Clock = utils.NewRealClock()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	moduleMap := &replayModuleMap{}
	guestMem := newReplayGuestMemory()

	var transport interface {
		IsConnected() bool
		SendEdgeBatch(ctx context.Context, batch *model.EdgeBatch) error
	}
	if opts.Transport != nil {
		transport = opts.Transport
	}

	boundary := plugin.New(plugin.Config{
		ModulePath:  opts.ModulePath,
		ModuleMap:   moduleMap,
		GuestMemory: guestMem,
		Transport:   transport,
		Host:        opts.Host,
		Clock:       opts.Clock,
		Logger:      opts.Logger,
	})

	return &Harness{
		aggregator:   source.NewAggregator(sources, 256, opts.Logger),
		boundary:     boundary,
		moduleMap:    moduleMap,
		guestMem:     guestMem,
		logger:       opts.Logger,
		clock:        opts.Clock,
		pollInterval: opts.PollInterval,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// NewFromConfig builds the harness's sources from HarnessConfig and wires a
// Harness over them.
func NewFromConfig(cfg *config.HarnessConfig, opts Options) (*Harness, error) {
	srcConfigs := make([]*source.SourceConfig, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		srcConfigs = append(srcConfigs, &source.SourceConfig{
			Type:    source.SourceType(sc.Type),
			Name:    sc.Name,
			Enabled: sc.Enabled,
			Options: sc.Options,
		})
	}

	sources, err := source.CreateSources(srcConfigs)
	if err != nil {
		return nil, fmt.Errorf("harness: building sources: %w", err)
	}

	if cfg.PollInterval > 0 {
		opts.PollInterval = time.Duration(cfg.PollInterval) * time.Second
	}
	return New(sources, opts), nil
}

// Boundary exposes the underlying plugin.Boundary, e.g. for a status
// endpoint to read TranslationStats or Alive.
func (h *Harness) Boundary() *plugin.Boundary { return h.boundary }

// Run starts the aggregator and dispatches callbacks sequentially until the
// aggregator's channel closes or ctx is cancelled. It blocks until
// dispatch stops, performing a final OnEngineShutdown flush on the way out.
func (h *Harness) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return fmt.Errorf("harness: already running")
	}
	h.running = true
	h.mu.Unlock()

	if err := h.aggregator.Start(ctx); err != nil {
		return fmt.Errorf("harness: starting aggregator: %w", err)
	}
	h.boundary.Start()

	ticker := h.clock.NewTicker(h.pollInterval)
	defer ticker.Stop()

	defer close(h.doneCh)

	for {
		select {
		case <-ctx.Done():
			_ = h.aggregator.Stop()
			return h.boundary.OnEngineShutdown(context.Background())

		case <-h.stopCh:
			_ = h.aggregator.Stop()
			return h.boundary.OnEngineShutdown(context.Background())

		case <-ticker.C:
			if err := h.boundary.OnTimer(ctx); err != nil {
				h.logger.Error("harness: timer flush failed: %v", err)
			}

		case event, ok := <-h.aggregator.Callbacks():
			if !ok {
				_ = h.aggregator.Stop()
				return h.boundary.OnEngineShutdown(context.Background())
			}
			h.dispatch(ctx, event)
		}
	}
}

// Stop requests Run to return. Calls after the first, and calls made
// before Run has started, are no-ops.
func (h *Harness) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	close(h.stopCh)
}

// Done returns a channel closed once Run has fully returned.
func (h *Harness) Done() <-chan struct{} { return h.doneCh }

// EventsIn reports how many callback events have been dispatched so far.
func (h *Harness) EventsIn() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.eventsIn
}

// dispatch translates one aggregated CallbackEvent into the matching
// plugin.Boundary call. This is the single chokepoint through which every
// recorded callback passes, guaranteeing the graph builders only ever see
// one callback at a time regardless of how many sources feed the
// aggregator.
func (h *Harness) dispatch(ctx context.Context, event *source.CallbackEvent) {
	cb := event.Callback
	if cb == nil {
		return
	}

	h.mu.Lock()
	h.eventsIn++
	h.mu.Unlock()

	switch cb.Kind {
	case source.CallbackModuleLoad:
		h.moduleMap.set(&replayModule{path: cb.ModulePath, pid: cb.Pid})
		h.boundary.OnModuleLoad(cb.ModulePath, cb.Pid)

	case source.CallbackModuleUnload:
		h.boundary.OnModuleUnload(cb.ModulePath, cb.Pid)
		h.moduleMap.clear()

	case source.CallbackProcessUnload:
		h.boundary.OnProcessUnload(cb.Pid)

	case source.CallbackTranslateBlockStart:
		state := replayState(cb.HostID)
		h.guestMem.stage(state.ID(), cb.Bytes)
		h.boundary.OnTranslateBlockStart(state, cb.PC, hostapi.TranslationBlock{Size: cb.Size})

	case source.CallbackExecuteBlockStart:
		h.boundary.OnExecuteBlockStart(ctx, replayState(cb.HostID), cb.PC)

	case source.CallbackStateFork:
		children := make([]hostapi.HostState, len(cb.ChildIDs))
		for i, id := range cb.ChildIDs {
			children[i] = replayState(id)
		}
		h.boundary.OnStateFork(replayState(cb.HostID), children)

	case source.CallbackStateMerge:
		h.boundary.OnStateMerge(replayState(cb.HostID), replayState(cb.SourceID))

	case source.CallbackStateKill:
		h.boundary.OnStateKill(replayState(cb.HostID))

	case source.CallbackStateSwitch:
		h.boundary.OnStateSwitch(replayState(cb.SourceID), replayState(cb.HostID))

	case source.CallbackTimer:
		if err := h.boundary.OnTimer(ctx); err != nil {
			h.logger.Error("harness: callback-driven timer flush failed: %v", err)
		}

	default:
		h.logger.Warn("harness: unknown callback kind %q", cb.Kind)
	}

	if err := h.aggregator.Ack(ctx, event); err != nil {
		h.logger.Warn("harness: ack failed for event %s: %v", event.ID, err)
	}
}
