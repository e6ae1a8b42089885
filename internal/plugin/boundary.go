// Package plugin wires host callbacks to the graph builders, owns their
// lifecycles, filters callbacks to the configured module, and drives the
// background prioritisation receiver.
package plugin

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lokegustafsson/ambacore/internal/batcher"
	"github.com/lokegustafsson/ambacore/internal/blockgraph"
	"github.com/lokegustafsson/ambacore/internal/identity"
	"github.com/lokegustafsson/ambacore/internal/plugin/hostapi"
	"github.com/lokegustafsson/ambacore/internal/prioritize"
	"github.com/lokegustafsson/ambacore/internal/stategraph"
	"github.com/lokegustafsson/ambacore/internal/translation"
	"github.com/lokegustafsson/ambacore/pkg/model"
	"github.com/lokegustafsson/ambacore/pkg/utils"
)

var tracer = otel.Tracer("github.com/lokegustafsson/ambacore/internal/plugin")

// moduleState is the tracked-module state machine: Unloaded, Loaded(pid),
// Exited.
type moduleState uint8

const (
	moduleUnloaded moduleState = iota
	moduleLoaded
	moduleExited
)

// edgeSender is the narrow slice of transport.Transport the boundary needs
// for its periodic flush; kept as an interface so tests can supply a fake.
type edgeSender interface {
	IsConnected() bool
	SendEdgeBatch(ctx context.Context, batch *model.EdgeBatch) error
}

// Boundary implements the PluginBoundary component: it is the single
// owner of the graph builders, the edge batcher, the dead-states set, the
// identity map, and the background prioritisation receiver.
type Boundary struct {
	modulePath string

	moduleMap   hostapi.ModuleMap
	guestMemory hostapi.GuestMemory

	identity   *identity.Map
	cache      *translation.Cache
	batcher    *batcher.Batcher
	blockGraph *blockgraph.Builder
	stateGraph *stategraph.Builder

	transport    edgeSender
	deadStates   *prioritize.DeadStates
	searcherCell *prioritize.SearcherCell
	receiver     *prioritize.Receiver

	logger utils.Logger

	mu         sync.Mutex
	state      moduleState
	trackedPid int32

	// alive reports whether the plugin boundary is still accepting
	// callbacks; a HealthServer reads it to answer liveness probes.
	alive atomic.Bool

	warnedEmptyReadOnce map[translationKey]struct{}

	lastFlush atomic.Value // time.Time
}

type translationKey struct {
	state model.HostStateId
	pc    uint64
}

// Config is the one required configuration key for the plugin boundary,
// plus its collaborators.
type Config struct {
	ModulePath  string
	ModuleMap   hostapi.ModuleMap
	GuestMemory hostapi.GuestMemory
	Transport   edgeSender
	Host        hostapi.Host
	Clock       utils.Clock
	Logger      utils.Logger
}

// New constructs a Boundary. If cfg.ModulePath is empty, the boundary logs
// a warning and remains permanently in the Unloaded state: no callback
// ever acts, matching the "configuration missing" error-handling rule.
func New(cfg Config) *Boundary {
	idMap := identity.New()
	cache := translation.New()
	bat := batcher.New()

	b := &Boundary{
		modulePath:          cfg.ModulePath,
		moduleMap:           cfg.ModuleMap,
		guestMemory:         cfg.GuestMemory,
		identity:            idMap,
		cache:               cache,
		batcher:             bat,
		blockGraph:          blockgraph.New(idMap, cache, bat),
		stateGraph:          stategraph.New(bat),
		transport:           cfg.Transport,
		deadStates:          prioritize.NewDeadStates(),
		searcherCell:        &prioritize.SearcherCell{},
		logger:              cfg.Logger,
		warnedEmptyReadOnce: make(map[translationKey]struct{}),
	}

	if b.logger == nil {
		b.logger = &utils.NullLogger{}
	}

	b.alive.Store(true)

	if cfg.ModulePath == "" {
		b.logger.Warn("ambacore: module_path not configured, plugin stays inactive")
		return b
	}

	if cfg.Host != nil && cfg.Transport != nil {
		b.receiver = prioritize.New(cfg.Transport.(interface {
			TryReceive() (*model.PrioritiseRequest, bool)
		}), cfg.Host, b.deadStates, b.searcherCell, cfg.Clock, b.logger)
	}

	return b
}

// Start spawns the background prioritisation receiver, if one was wired.
func (b *Boundary) Start() {
	if b.receiver != nil {
		b.receiver.Start()
	}
}

// active reports whether the boundary is in Loaded(pid) state: only then
// are block callbacks acted upon.
func (b *Boundary) active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.modulePath != "" && b.state == moduleLoaded
}

// OnModuleLoad advances Unloaded -> Loaded(pid) or Exited -> Unloaded for
// the configured module path; any other path is ignored.
func (b *Boundary) OnModuleLoad(path string, pid int32) {
	if path != b.modulePath {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case moduleUnloaded:
		b.state = moduleLoaded
		b.trackedPid = pid
	case moduleExited:
		b.state = moduleUnloaded
	}
}

// OnModuleUnload advances Loaded(pid) -> Unloaded for the configured
// module path.
func (b *Boundary) OnModuleUnload(path string, pid int32) {
	if path != b.modulePath {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == moduleLoaded {
		b.state = moduleUnloaded
	}
}

// OnProcessUnload advances Loaded(pid) -> Exited when pid matches the
// tracked process.
func (b *Boundary) OnProcessUnload(pid int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == moduleLoaded && b.trackedPid == pid {
		b.state = moduleExited
	}
}

// OnTranslateBlockStart resolves the owning module and reads the block's
// bytes from guest memory, dropping the callback if pc is not inside the
// configured module. On a guest memory read failure it records the
// translation with empty bytes and emits a once-per-(state,pc) warning.
func (b *Boundary) OnTranslateBlockStart(state hostapi.HostState, pc uint64, tb hostapi.TranslationBlock) {
	if !b.active() {
		return
	}

	module, ok := b.moduleMap.GetModule(state)
	if !ok {
		return
	}
	elfVAddr, ok := module.ToNativeBase(pc)
	if !ok {
		return
	}

	bytes, ok := b.guestMemory.Read(state, pc, tb.Size)
	if !ok {
		key := translationKey{state: state.ID(), pc: pc}
		if _, warned := b.warnedEmptyReadOnce[key]; !warned {
			b.warnedEmptyReadOnce[key] = struct{}{}
			b.logger.Warn("ambacore: guest memory read failed for state=%d pc=%#x, recording empty bytes", state.ID(), pc)
		}
		bytes = nil
	}

	b.blockGraph.TranslateBlockStart(state.ID(), pc, elfVAddr, bytes)
}

// OnExecuteBlockStart processes one execute-block-start callback already
// filtered to the configured module.
func (b *Boundary) OnExecuteBlockStart(ctx context.Context, state hostapi.HostState, pc uint64) {
	if !b.active() {
		return
	}
	_, span := tracer.Start(ctx, "amba.callback", trace.WithAttributes(attribute.String("amba.callback.kind", "execute-block-start")))
	defer span.End()

	b.blockGraph.ExecuteBlockStart(state.ID(), pc)
}

// OnStateFork resolves identity exactly once, shared between the block
// graph and state graph builders, then dispatches to both.
func (b *Boundary) OnStateFork(parent hostapi.HostState, children []hostapi.HostState) {
	if !b.active() {
		return
	}

	childHosts := make([]model.HostStateId, len(children))
	for i, c := range children {
		childHosts[i] = c.ID()
	}

	preFork, childIDs := b.identity.Fork(parent.ID(), childHosts)
	b.blockGraph.StateFork(preFork, childIDs)
	b.stateGraph.StateFork(parent.ID(), preFork, childHosts, childIDs)
}

// OnStateMerge resolves identity exactly once, shared between both
// builders.
func (b *Boundary) OnStateMerge(destination, source hostapi.HostState) {
	if !b.active() {
		return
	}

	left, right, to := b.identity.Merge(destination.ID(), source.ID())
	b.blockGraph.StateMerge(to)
	b.stateGraph.StateMerge(destination.ID(), source.ID(), left, right, to)
}

// OnStateKill adds the host state to the dead-states set.
func (b *Boundary) OnStateKill(state hostapi.HostState) {
	b.deadStates.Add(state.ID())
}

// OnStateSwitch is a documented no-op: the spec leaves state-switch as a
// no-op for the core.
func (b *Boundary) OnStateSwitch(oldState, newState hostapi.HostState) {}

// OnHeapEvent is the extension point for a heap-overflow detector
// collaborator, kept deliberately inert: the detector itself is out of
// scope for the core, so this only logs at debug level for diagnostics.
func (b *Boundary) OnHeapEvent(event hostapi.HeapEvent) {
	b.logger.Debug("ambacore: heap event state=%d addr=%#x size=%d", event.State.ID(), event.Addr, event.Size)
}

// OnTimer drains the edge batcher and sends one EDGE_BATCH, if the
// transport is connected. While disconnected, edges remain buffered in the
// batcher (bounded growth is acceptable for an observational tool).
func (b *Boundary) OnTimer(ctx context.Context) error {
	if b.batcher.Empty() {
		return nil
	}
	if b.transport == nil || !b.transport.IsConnected() {
		return nil
	}

	// Flush is drained before the send is attempted, so a mid-send write
	// error (as opposed to the IsConnected precheck above) loses this
	// batch rather than retaining it for the next timer tick. That is
	// within the documented degrade path (§7: a full/failing channel
	// degrades to dropping batches), but it means a transient write error
	// is not recoverable for the edges already pulled out of the batcher.
	blockEdges, stateEdges := b.batcher.Flush()
	err := b.transport.SendEdgeBatch(ctx, &model.EdgeBatch{BlockEdges: blockEdges, StateEdges: stateEdges})
	b.blockGraph.ResetDedup()
	if err == nil {
		b.lastFlush.Store(time.Now())
	}
	return err
}

// LastFlush returns the time of the most recent successful edge batch
// flush, or the zero Time if none has happened yet.
func (b *Boundary) LastFlush() time.Time {
	t, _ := b.lastFlush.Load().(time.Time)
	return t
}

// DeadStatesCount exposes the dead-states set's size for status reporting.
func (b *Boundary) DeadStatesCount() int {
	return b.deadStates.Len()
}

// OnEngineShutdown performs a final flush, then stops the background
// receiver.
func (b *Boundary) OnEngineShutdown(ctx context.Context) error {
	err := b.OnTimer(ctx)
	if b.receiver != nil {
		b.receiver.Stop()
	}
	b.alive.Store(false)
	return err
}

// Alive exposes the liveness flag for a HealthServer to report. The
// pointer is stable for the Boundary's lifetime.
func (b *Boundary) Alive() *atomic.Bool {
	return &b.alive
}

// SearcherCell exposes the atomic hand-off cell for the engine's searcher
// installation hook to consume.
func (b *Boundary) SearcherCell() *prioritize.SearcherCell {
	return b.searcherCell
}

// TranslationStats exposes the translation cache's diagnostic counters.
func (b *Boundary) TranslationStats() translation.Stats {
	return b.cache.Stats()
}
