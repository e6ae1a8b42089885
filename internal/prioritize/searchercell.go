package prioritize

import (
	"sync/atomic"

	"github.com/lokegustafsson/ambacore/internal/plugin/hostapi"
)

// SearcherCell is the single-cell, lock-free atomic hand-off between the
// PrioritisationReceiver (publisher) and the engine thread (consumer,
// installing into the host's executor on a well-defined hook). Publish
// uses an atomic swap so a slower producer never overwrites a consumer
// that has just taken the value; a non-nil prior value returned to Publish
// by that swap means the engine thread had not yet consumed it, and it is simply
// dropped for the garbage collector rather than explicitly freed.
type SearcherCell struct {
	value atomic.Pointer[hostapi.Searcher]
}

// Publish stores s, discarding (not installing) whatever searcher was
// previously published but never taken.
func (c *SearcherCell) Publish(s hostapi.Searcher) {
	c.value.Swap(&s)
}

// Take exchanges the cell's contents with nil and returns the previous
// value, if any. Called from the engine thread on its searcher
// installation hook.
func (c *SearcherCell) Take() (hostapi.Searcher, bool) {
	p := c.value.Swap(nil)
	if p == nil {
		return nil, false
	}
	return *p, true
}
