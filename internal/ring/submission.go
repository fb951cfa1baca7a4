// Package ring implements the fixed-capacity circular buffers through
// which commands and completions pass between driver and device.
package ring

import (
	"sync"

	"github.com/ehrlich-b/go-nvme/internal/hw"
)

// Submission is the driver-owned view of one submission queue. The
// driver writes slots at tail; the device consumes from head and reports
// its drain position back through completion entries, which the driver
// mirrors with AdvanceHead as a local occupancy bound.
//
// The ring is full one slot early so head == tail is unambiguous as
// "empty". Capacity does not have to be a power of two.
type Submission struct {
	mu      sync.Mutex
	entries []hw.Command
	head    uint32
	tail    uint32
}

// NewSubmission creates a submission ring with the given capacity.
func NewSubmission(capacity int) *Submission {
	if capacity < 2 {
		capacity = 2
	}
	return &Submission{entries: make([]hw.Command, capacity)}
}

// Capacity returns the number of slots in the ring.
func (s *Submission) Capacity() int {
	return len(s.entries)
}

// Push writes cmd into the next free slot and advances tail. It returns
// the new tail value, which is the submission doorbell payload. ok is
// false when the ring is full; the slot is untouched in that case.
func (s *Submission) Push(cmd hw.Command) (tail uint32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := uint32(len(s.entries))
	if (s.tail+1)%n == s.head {
		return 0, false
	}
	s.entries[s.tail] = cmd
	s.tail = (s.tail + 1) % n
	return s.tail, true
}

// Full reports whether a Push would fail.
func (s *Submission) Full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (s.tail+1)%uint32(len(s.entries)) == s.head
}

// Len returns the number of occupied slots.
func (s *Submission) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := uint32(len(s.entries))
	return int((s.tail + n - s.head) % n)
}

// AdvanceHead records the device-reported drain position, freeing slots
// for reuse.
func (s *Submission) AdvanceHead(head uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if head < uint32(len(s.entries)) {
		s.head = head
	}
}

// Slot returns a copy of slot i. This is the device-side read used by
// the simulated controller after a doorbell write.
func (s *Submission) Slot(i uint32) hw.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[i%uint32(len(s.entries))]
}
