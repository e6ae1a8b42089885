package plugin

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokegustafsson/ambacore/internal/plugin/hostapi"
	"github.com/lokegustafsson/ambacore/pkg/model"
)

type fakeState struct{ id model.HostStateId }

func (s fakeState) ID() model.HostStateId { return s.id }

type fakeModule struct {
	base uint64
}

func (m fakeModule) Path() string { return "/lib/target.so" }
func (m fakeModule) Pid() int32   { return 1234 }
func (m fakeModule) ToNativeBase(pc uint64) (uint64, bool) {
	if pc < m.base {
		return 0, false
	}
	return pc - m.base, true
}

type fakeModuleMap struct {
	module hostapi.Module
	ok     bool
}

func (m fakeModuleMap) GetModule(hostapi.HostState) (hostapi.Module, bool) { return m.module, m.ok }

type fakeGuestMemory struct {
	data map[uint64][]byte
}

func (g fakeGuestMemory) Read(_ hostapi.HostState, vaddr uint64, length int) ([]byte, bool) {
	b, ok := g.data[vaddr]
	return b, ok
}

type fakeEdgeSender struct {
	mu        sync.Mutex
	connected bool
	sent      []*model.EdgeBatch
}

func (f *fakeEdgeSender) IsConnected() bool { return f.connected }
func (f *fakeEdgeSender) SendEdgeBatch(_ context.Context, batch *model.EdgeBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, batch)
	return nil
}
func (f *fakeEdgeSender) TryReceive() (*model.PrioritiseRequest, bool) { return nil, false }

func testConfig(modulePath string, mm hostapi.ModuleMap, gm hostapi.GuestMemory, tr edgeSender) Config {
	return Config{
		ModulePath:  modulePath,
		ModuleMap:   mm,
		GuestMemory: gm,
		Transport:   tr,
	}
}

func TestBoundary_InactiveUntilModuleLoaded(t *testing.T) {
	mm := fakeModuleMap{module: fakeModule{base: 0x1000}, ok: true}
	gm := fakeGuestMemory{data: map[uint64][]byte{0x1000: {0xAA}}}
	tr := &fakeEdgeSender{connected: true}

	b := New(testConfig("/lib/target.so", mm, gm, tr))
	state := fakeState{id: 1}

	b.OnTranslateBlockStart(state, 0x1000, hostapi.TranslationBlock{Size: 1})
	b.OnExecuteBlockStart(context.Background(), state, 0x1000)

	assert.NoError(t, b.OnTimer(context.Background()))
	assert.Empty(t, tr.sent, "callbacks before module load must be ignored")
}

func TestBoundary_EmptyModulePath_NeverActivates(t *testing.T) {
	mm := fakeModuleMap{module: fakeModule{base: 0x1000}, ok: true}
	gm := fakeGuestMemory{data: map[uint64][]byte{0x1000: {0xAA}}}
	tr := &fakeEdgeSender{connected: true}

	b := New(testConfig("", mm, gm, tr))
	b.OnModuleLoad("/lib/target.so", 1234)
	assert.False(t, b.active())
}

func TestBoundary_ModuleLifecycle(t *testing.T) {
	mm := fakeModuleMap{module: fakeModule{base: 0x1000}, ok: true}
	gm := fakeGuestMemory{data: map[uint64][]byte{0x1000: {0xAA}}}
	tr := &fakeEdgeSender{connected: true}

	b := New(testConfig("/lib/target.so", mm, gm, tr))
	assert.False(t, b.active())

	b.OnModuleLoad("/lib/target.so", 1234)
	assert.True(t, b.active())

	b.OnModuleUnload("/lib/target.so", 1234)
	assert.False(t, b.active())

	b.OnModuleLoad("/lib/target.so", 1234)
	b.OnProcessUnload(1234)
	assert.False(t, b.active())

	// Exited -> Unloaded on reload, per the documented state machine.
	b.OnModuleLoad("/lib/target.so", 5678)
	assert.False(t, b.active())
	b.OnModuleLoad("/lib/target.so", 5678)
	assert.True(t, b.active())
}

func TestBoundary_TranslateAndExecute_ProducesOneFlushedEdge(t *testing.T) {
	mm := fakeModuleMap{module: fakeModule{base: 0x1000}, ok: true}
	gm := fakeGuestMemory{data: map[uint64][]byte{0x1000: {0xAA, 0xBB}}}
	tr := &fakeEdgeSender{connected: true}

	b := New(testConfig("/lib/target.so", mm, gm, tr))
	b.OnModuleLoad("/lib/target.so", 1234)

	state := fakeState{id: 1}
	b.OnTranslateBlockStart(state, 0x1000, hostapi.TranslationBlock{Size: 2})
	b.OnExecuteBlockStart(context.Background(), state, 0x1000)

	require.NoError(t, b.OnTimer(context.Background()))
	require.Len(t, tr.sent, 1)
	require.Len(t, tr.sent[0].BlockEdges, 1)
	assert.Equal(t, uint64(1), tr.sent[0].BlockEdges[0].To.Generation)
}

func TestBoundary_GuestMemoryReadFailure_RecordsEmptyBytes(t *testing.T) {
	mm := fakeModuleMap{module: fakeModule{base: 0x1000}, ok: true}
	gm := fakeGuestMemory{data: map[uint64][]byte{}}
	tr := &fakeEdgeSender{connected: true}

	b := New(testConfig("/lib/target.so", mm, gm, tr))
	b.OnModuleLoad("/lib/target.so", 1234)

	state := fakeState{id: 1}
	b.OnTranslateBlockStart(state, 0x1000, hostapi.TranslationBlock{Size: 2})
	b.OnExecuteBlockStart(context.Background(), state, 0x1000)

	require.NoError(t, b.OnTimer(context.Background()))
	require.Len(t, tr.sent, 1)
	require.Len(t, tr.sent[0].BlockEdges, 1)
	assert.Empty(t, tr.sent[0].BlockEdges[0].To.Bytes)
}

func TestBoundary_UnresolvedModule_DropsTranslation(t *testing.T) {
	mm := fakeModuleMap{ok: false}
	gm := fakeGuestMemory{data: map[uint64][]byte{}}
	tr := &fakeEdgeSender{connected: true}

	b := New(testConfig("/lib/target.so", mm, gm, tr))
	b.OnModuleLoad("/lib/target.so", 1234)

	state := fakeState{id: 1}
	b.OnTranslateBlockStart(state, 0x1000, hostapi.TranslationBlock{Size: 2})
	stats := b.TranslationStats()
	assert.Equal(t, 0, stats.DistinctKeys)
}

func TestBoundary_StateFork_SharesOneRenameAcrossBothGraphs(t *testing.T) {
	mm := fakeModuleMap{module: fakeModule{base: 0x1000}, ok: true}
	gm := fakeGuestMemory{data: map[uint64][]byte{0x1000: {0xAA}}}
	tr := &fakeEdgeSender{connected: true}

	b := New(testConfig("/lib/target.so", mm, gm, tr))
	b.OnModuleLoad("/lib/target.so", 1234)

	parent := fakeState{id: 1}
	b.OnTranslateBlockStart(parent, 0x1000, hostapi.TranslationBlock{Size: 1})
	b.OnExecuteBlockStart(context.Background(), parent, 0x1000)

	child1 := fakeState{id: 2}
	child2 := fakeState{id: 1} // host commonly reuses the parent's id for one child
	b.OnStateFork(parent, []hostapi.HostState{child1, child2})

	require.NoError(t, b.OnTimer(context.Background()))
	require.Len(t, tr.sent, 1)
	require.Len(t, tr.sent[0].StateEdges, 2)
	for _, e := range tr.sent[0].StateEdges {
		assert.NotEqual(t, e.From.InternalID, e.To.InternalID)
	}
}

func TestBoundary_StateMerge_EmitsTwoEdges(t *testing.T) {
	mm := fakeModuleMap{module: fakeModule{base: 0x1000}, ok: true}
	gm := fakeGuestMemory{data: map[uint64][]byte{}}
	tr := &fakeEdgeSender{connected: true}

	b := New(testConfig("/lib/target.so", mm, gm, tr))
	b.OnModuleLoad("/lib/target.so", 1234)

	dest := fakeState{id: 1}
	src := fakeState{id: 2}
	b.OnStateMerge(dest, src)

	require.NoError(t, b.OnTimer(context.Background()))
	require.Len(t, tr.sent, 1)
	assert.Len(t, tr.sent[0].StateEdges, 2)
}

func TestBoundary_StateKill_AddsToDeadStates(t *testing.T) {
	b := New(testConfig("/lib/target.so", fakeModuleMap{}, fakeGuestMemory{}, &fakeEdgeSender{}))
	b.OnStateKill(fakeState{id: 42})
	assert.True(t, b.deadStates.Contains(model.HostStateId(42)))
}

func TestBoundary_OnTimer_NoopWhileDisconnected(t *testing.T) {
	mm := fakeModuleMap{module: fakeModule{base: 0x1000}, ok: true}
	gm := fakeGuestMemory{data: map[uint64][]byte{0x1000: {0xAA}}}
	tr := &fakeEdgeSender{connected: false}

	b := New(testConfig("/lib/target.so", mm, gm, tr))
	b.OnModuleLoad("/lib/target.so", 1234)

	state := fakeState{id: 1}
	b.OnTranslateBlockStart(state, 0x1000, hostapi.TranslationBlock{Size: 1})
	b.OnExecuteBlockStart(context.Background(), state, 0x1000)

	require.NoError(t, b.OnTimer(context.Background()))
	assert.Empty(t, tr.sent, "edges stay buffered while the transport is disconnected")
	assert.False(t, b.batcher.Empty())
}

func TestBoundary_EngineShutdown_FlushesAndStopsReceiver(t *testing.T) {
	mm := fakeModuleMap{module: fakeModule{base: 0x1000}, ok: true}
	gm := fakeGuestMemory{data: map[uint64][]byte{0x1000: {0xAA}}}
	tr := &fakeEdgeSender{connected: true}

	b := New(testConfig("/lib/target.so", mm, gm, tr))
	b.OnModuleLoad("/lib/target.so", 1234)

	state := fakeState{id: 1}
	b.OnTranslateBlockStart(state, 0x1000, hostapi.TranslationBlock{Size: 1})
	b.OnExecuteBlockStart(context.Background(), state, 0x1000)

	// No Host is configured, so no receiver is wired and the stop step is
	// a no-op here; the final flush and the liveness flag are checked.
	require.NoError(t, b.OnEngineShutdown(context.Background()))
	assert.Len(t, tr.sent, 1, "shutdown performs a final flush")
	assert.False(t, b.Alive().Load())
}
