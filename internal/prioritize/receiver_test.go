package prioritize

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokegustafsson/ambacore/internal/plugin/hostapi"
	"github.com/lokegustafsson/ambacore/pkg/model"
	"github.com/lokegustafsson/ambacore/pkg/utils"
)

type fakeHostState struct{ id model.HostStateId }

func (s fakeHostState) ID() model.HostStateId { return s.id }

type fakeSearcher struct {
	mu      sync.Mutex
	added   []hostapi.HostState
	removed []hostapi.HostState
}

func (s *fakeSearcher) Update(added, removed []hostapi.HostState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = added
	s.removed = removed
}

type fakeExecutor struct {
	states []hostapi.HostState
}

func (e *fakeExecutor) States() []hostapi.HostState { return e.states }
func (e *fakeExecutor) SetSearcher(hostapi.Searcher) {}

type fakeHost struct {
	executor        *fakeExecutor
	nextSearcher    func() *fakeSearcher
	createdCount    int
	mu              sync.Mutex
}

func (h *fakeHost) Executor() hostapi.Executor { return h.executor }
func (h *fakeHost) NewDepthFirstSearcher() hostapi.Searcher {
	h.mu.Lock()
	h.createdCount++
	h.mu.Unlock()
	return h.nextSearcher()
}

type fakeTransport struct {
	mu       sync.Mutex
	messages []*model.PrioritiseRequest
}

func (t *fakeTransport) push(req *model.PrioritiseRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, req)
}

func (t *fakeTransport) TryReceive() (*model.PrioritiseRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.messages) == 0 {
		return nil, false
	}
	req := t.messages[0]
	t.messages = t.messages[1:]
	return req, true
}

// Scenario 5: prioritisation round trip.
func TestReceiver_FiltersDeadStates_SelectsLiveOnes(t *testing.T) {
	dead := NewDeadStates()
	dead.Add(model.HostStateId(8))

	executor := &fakeExecutor{states: []hostapi.HostState{fakeHostState{id: 7}}}
	searcher := &fakeSearcher{}
	host := &fakeHost{executor: executor, nextSearcher: func() *fakeSearcher { return searcher }}

	cell := &SearcherCell{}
	tr := &fakeTransport{}
	tr.push(&model.PrioritiseRequest{HostIDs: []model.HostStateId{7, 8}})

	r := New(tr, host, dead, cell, utils.NewMockClock(time.Now()), &utils.NullLogger{})
	r.Start()

	require.Eventually(t, func() bool {
		_, ok := cell.Take()
		return ok
	}, time.Second, time.Millisecond)

	r.Stop()

	require.Len(t, searcher.added, 1)
	assert.EqualValues(t, 7, searcher.added[0].ID())
}

func TestReceiver_NoLiveStates_PublishesEmptySearcher(t *testing.T) {
	dead := NewDeadStates()
	dead.Add(model.HostStateId(8))

	executor := &fakeExecutor{}
	searcher := &fakeSearcher{}
	host := &fakeHost{executor: executor, nextSearcher: func() *fakeSearcher { return searcher }}

	cell := &SearcherCell{}
	tr := &fakeTransport{}
	tr.push(&model.PrioritiseRequest{HostIDs: []model.HostStateId{8}})

	r := New(tr, host, dead, cell, utils.NewMockClock(time.Now()), &utils.NullLogger{})
	r.Start()

	require.Eventually(t, func() bool {
		_, ok := cell.Take()
		return ok
	}, time.Second, time.Millisecond)

	r.Stop()
	assert.Empty(t, searcher.added)
}

func TestSearcherCell_TakeIsEmptyBeforePublish(t *testing.T) {
	cell := &SearcherCell{}
	_, ok := cell.Take()
	assert.False(t, ok)
}

func TestSearcherCell_PublishThenTake(t *testing.T) {
	cell := &SearcherCell{}
	s := &fakeSearcher{}
	cell.Publish(s)

	got, ok := cell.Take()
	require.True(t, ok)
	assert.Same(t, hostapi.Searcher(s), got)

	_, ok = cell.Take()
	assert.False(t, ok, "Take drains the cell")
}

func TestDeadStates_AddAndContains(t *testing.T) {
	d := NewDeadStates()
	assert.False(t, d.Contains(model.HostStateId(1)))
	d.Add(model.HostStateId(1))
	assert.True(t, d.Contains(model.HostStateId(1)))
	assert.Equal(t, 1, d.Len())
}

func TestReceiver_Stop_JoinsGoroutine(t *testing.T) {
	host := &fakeHost{executor: &fakeExecutor{}, nextSearcher: func() *fakeSearcher { return &fakeSearcher{} }}
	r := New(&fakeTransport{}, host, NewDeadStates(), &SearcherCell{}, utils.NewMockClock(time.Now()), &utils.NullLogger{})
	r.Start()
	r.Stop()
	assert.False(t, r.alive.Load())
}
