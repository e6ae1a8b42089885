package harness

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokegustafsson/ambacore/internal/harness/source"
	"github.com/lokegustafsson/ambacore/internal/plugin/hostapi"
)

type fakeExecutor struct{}

func (e *fakeExecutor) States() []hostapi.HostState  { return nil }
func (e *fakeExecutor) SetSearcher(hostapi.Searcher) {}

type fakeSearcher struct{}

func (s *fakeSearcher) Update(added, removed []hostapi.HostState) {}

type fakeHost struct{}

func (h *fakeHost) Executor() hostapi.Executor             { return &fakeExecutor{} }
func (h *fakeHost) NewDepthFirstSearcher() hostapi.Searcher { return &fakeSearcher{} }

func writeTrace(t *testing.T, lines []source.RecordedCallback) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.ndjson")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for _, cb := range lines {
		b, err := json.Marshal(cb)
		require.NoError(t, err)
		_, err = f.Write(append(b, '\n'))
		require.NoError(t, err)
	}
	return path
}

// Replays a minimal module-load/translate/execute/fork/kill/unload
// sequence through the harness and checks it reached the plugin boundary.
func TestHarnessReplaysTraceIntoBoundary(t *testing.T) {
	trace := []source.RecordedCallback{
		{Kind: source.CallbackModuleLoad, ModulePath: "/bin/guest", Pid: 1},
		{Kind: source.CallbackTranslateBlockStart, HostID: 1, PC: 0x1000, Size: 4, ElfVAddr: 0x1000, Bytes: []byte{0x90, 0x90, 0x90, 0x90}},
		{Kind: source.CallbackExecuteBlockStart, HostID: 1, PC: 0x1000},
		{Kind: source.CallbackStateFork, HostID: 1, ChildIDs: []int32{2, 3}},
		{Kind: source.CallbackTranslateBlockStart, HostID: 2, PC: 0x1004, Size: 4, ElfVAddr: 0x1004, Bytes: []byte{0x90, 0x90, 0x90, 0x90}},
		{Kind: source.CallbackExecuteBlockStart, HostID: 2, PC: 0x1004},
		{Kind: source.CallbackStateKill, HostID: 3},
		{Kind: source.CallbackProcessUnload, Pid: 1},
	}
	tracePath := writeTrace(t, trace)

	fileSrc := source.NewFileSourceWithOptions("trace", &source.FileOptions{Path: tracePath}, nil)

	h := New([]source.CallbackSource{fileSrc}, Options{
		ModulePath:   "/bin/guest",
		Host:         &fakeHost{},
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		h.Stop()
		t.Fatal("harness did not finish replaying the trace in time")
	}

	assert.EqualValues(t, len(trace), h.EventsIn())

	stats := h.Boundary().TranslationStats()
	assert.Equal(t, 2, stats.DistinctKeys)
}

func TestHarnessStopIsIdempotentBeforeRun(t *testing.T) {
	fileSrc := source.NewFileSourceWithOptions("empty", &source.FileOptions{Path: os.DevNull}, nil)
	h := New([]source.CallbackSource{fileSrc}, Options{Host: &fakeHost{}})
	h.Stop()
	h.Stop()
}
