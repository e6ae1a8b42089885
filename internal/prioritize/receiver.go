// Package prioritize runs the background task that turns inbound
// PRIORITISE_STATES messages into a fresh depth-first searcher installed
// into the host engine.
package prioritize

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lokegustafsson/ambacore/internal/plugin/hostapi"
	"github.com/lokegustafsson/ambacore/pkg/model"
	"github.com/lokegustafsson/ambacore/pkg/utils"
)

// PollInterval is the receiver's fixed polling cadence: the only internal
// time constant in the system.
const PollInterval = 200 * time.Millisecond

// Receiver implements the PrioritisationReceiver component: a background
// task spawned at initialisation and joined on teardown.
type Receiver struct {
	transport    receiverTransport
	host         hostapi.Host
	deadStates   *DeadStates
	searcherCell *SearcherCell
	clock        utils.Clock
	logger       utils.Logger

	alive atomic.Bool
	wg    sync.WaitGroup
}

// receiverTransport is the narrow slice of Transport the receiver needs;
// kept as an interface so tests can supply a fake without a real Conn.
type receiverTransport interface {
	TryReceive() (*model.PrioritiseRequest, bool)
}

// New returns a Receiver wired to its collaborators. Start must be called
// to begin polling.
func New(tr receiverTransport, host hostapi.Host, deadStates *DeadStates, cell *SearcherCell, clock utils.Clock, logger utils.Logger) *Receiver {
	return &Receiver{
		transport:    tr,
		host:         host,
		deadStates:   deadStates,
		searcherCell: cell,
		clock:        clock,
		logger:       logger,
	}
}

// Start spawns the polling loop. Safe to call once.
func (r *Receiver) Start() {
	r.alive.Store(true)
	r.wg.Add(1)
	go r.loop()
}

// Stop clears the alive flag and joins the polling goroutine. The receiver
// observes the cleared flag between polls, so Stop may block up to one
// PollInterval.
func (r *Receiver) Stop() {
	r.alive.Store(false)
	r.wg.Wait()
}

func (r *Receiver) loop() {
	defer r.wg.Done()
	for r.alive.Load() {
		req, ok := r.transport.TryReceive()
		if !ok {
			r.clock.Sleep(PollInterval)
			continue
		}
		r.process(req)
	}
}

// process implements one iteration of the receiver algorithm: filter dead
// and unknown ids, select the corresponding live host states, allocate a
// fresh depth-first searcher seeded with them, and publish it. If no live
// states remain, an empty searcher is still published as a no-op
// replacement.
func (r *Receiver) process(req *model.PrioritiseRequest) {
	wanted := make(map[model.HostStateId]struct{}, len(req.HostIDs))
	for _, id := range req.HostIDs {
		if r.deadStates.Contains(id) {
			continue
		}
		wanted[id] = struct{}{}
	}

	var selected []hostapi.HostState
	for _, s := range r.host.Executor().States() {
		if _, ok := wanted[s.ID()]; ok {
			selected = append(selected, s)
		}
	}

	searcher := r.host.NewDepthFirstSearcher()
	searcher.Update(selected, nil)
	r.searcherCell.Publish(searcher)

	if r.logger != nil {
		r.logger.Debug("prioritise: selected %d of %d requested states", len(selected), len(req.HostIDs))
	}
}
