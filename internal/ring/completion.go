package ring

import (
	"sync"

	"github.com/ehrlich-b/go-nvme/internal/hw"
)

// Completion is the driver-owned view of one completion queue. The
// device writes entries carrying a phase bit that toggles every time the
// device's write position wraps; a slot holds a new completion only when
// its phase bit matches the phase the driver currently expects.
//
// The ring starts zeroed so the first device pass writes phase 1, which
// is also the driver's initial expected phase. The expected phase flips
// exactly once per full traversal, when head wraps to 0.
type Completion struct {
	mu      sync.Mutex
	entries []hw.Completion
	head    uint32
	phase   bool
}

// NewCompletion creates a completion ring with the given capacity.
func NewCompletion(capacity int) *Completion {
	if capacity < 2 {
		capacity = 2
	}
	return &Completion{
		entries: make([]hw.Completion, capacity),
		phase:   true,
	}
}

// Capacity returns the number of slots in the ring.
func (c *Completion) Capacity() int {
	return len(c.entries)
}

// Peek returns the entry at head without consuming it. ok is false when
// the slot's phase bit does not match the expected phase, i.e. there are
// no new completions.
func (c *Completion) Peek() (hw.Completion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[c.head]
	if e.Phase() != c.phase {
		return hw.Completion{}, false
	}
	return e, true
}

// Next consumes the entry at head if it is new. It returns the entry and
// the new head value, which is the completion doorbell payload.
func (c *Completion) Next() (e hw.Completion, head uint32, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e = c.entries[c.head]
	if e.Phase() != c.phase {
		return hw.Completion{}, 0, false
	}
	c.head++
	if c.head == uint32(len(c.entries)) {
		c.head = 0
		c.phase = !c.phase
	}
	return e, c.head, true
}

// ExpectedPhase returns the phase bit the driver currently expects.
func (c *Completion) ExpectedPhase() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Post writes a fully-formed entry into slot i. This is the device-side
// write used by the simulated controller; the device tracks its own
// write position and phase.
func (c *Completion) Post(i uint32, e hw.Completion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[i%uint32(len(c.entries))] = e
}
