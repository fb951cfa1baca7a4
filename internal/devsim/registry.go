package devsim

import (
	"fmt"
	"sync"
)

// Registry is the simulator's stand-in for the physical memory mapping
// layer: it hands out fake device-visible addresses for driver buffers
// and resolves them back on the device side. Mappings are released
// exactly once, after the completion for the referencing command has
// been observed.
type Registry struct {
	mu   sync.Mutex
	next uint64
	bufs map[uint64][]byte
}

// NewRegistry creates an empty buffer registry.
func NewRegistry() *Registry {
	return &Registry{
		// Fake bus addresses start away from zero so a zero PRP is
		// always invalid.
		next: 0x1000_0000,
		bufs: make(map[uint64][]byte),
	}
}

// Map implements hw.DMA.
func (r *Registry) Map(p []byte) (prp1, prp2 uint64, release func(), err error) {
	if len(p) == 0 {
		return 0, 0, nil, fmt.Errorf("cannot map empty buffer")
	}

	r.mu.Lock()
	addr := r.next
	r.next += uint64(len(p)) + 0x1000
	r.bufs[addr] = p
	r.mu.Unlock()

	release = func() {
		r.mu.Lock()
		delete(r.bufs, addr)
		r.mu.Unlock()
	}
	return addr, 0, release, nil
}

// Buffer resolves a device-visible address back to the mapped buffer.
func (r *Registry) Buffer(addr uint64) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.bufs[addr]
	return p, ok
}

// Live returns the number of active mappings, for leak checks in tests.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bufs)
}
