package hw

import (
	"fmt"
	"time"
	"unsafe"
)

// Registers provides 32/64-bit access to the memory-mapped controller
// register window. The backing slice is either an mmap'd PCI BAR
// (see MapBAR) or plain memory supplied by a simulated controller.
//
// Accesses go through unsafe pointers rather than encoding/binary so an
// access compiles to a single aligned load or store, which is what MMIO
// requires.
type Registers struct {
	base []byte
}

// NewRegisters wraps an existing register window. The slice must be at
// least DoorbellBase bytes plus the doorbell region for all queues.
func NewRegisters(base []byte) (*Registers, error) {
	if len(base) < DoorbellBase {
		return nil, fmt.Errorf("register window too small: %d bytes", len(base))
	}
	return &Registers{base: base}, nil
}

func (r *Registers) Read32(off uint64) uint32 {
	return *(*uint32)(unsafe.Pointer(&r.base[off]))
}

func (r *Registers) Write32(off uint64, v uint32) {
	*(*uint32)(unsafe.Pointer(&r.base[off])) = v
}

func (r *Registers) Read64(off uint64) uint64 {
	return *(*uint64)(unsafe.Pointer(&r.base[off]))
}

func (r *Registers) Write64(off uint64, v uint64) {
	*(*uint64)(unsafe.Pointer(&r.base[off])) = v
}

// Stride returns the doorbell stride exponent reported in CAP.DSTRD.
func (r *Registers) Stride() uint8 {
	return CapDSTRD(r.Read64(RegCAP))
}

// ReadyTimeout returns the CAP.TO worst-case ready wait.
func (r *Registers) ReadyTimeout() time.Duration {
	return time.Duration(CapTO(r.Read64(RegCAP))) * 500 * time.Millisecond
}

// MaxQueueEntries returns the one's-based CAP.MQES limit.
func (r *Registers) MaxQueueEntries() uint32 {
	return uint32(CapMQES(r.Read64(RegCAP))) + 1
}

// SQDoorbell returns the submission-tail doorbell for queue q.
func (r *Registers) SQDoorbell(q uint16) *RegisterDoorbell {
	return &RegisterDoorbell{regs: r, off: SQDoorbellOffset(q, r.Stride())}
}

// CQDoorbell returns the completion-head doorbell for queue q.
func (r *Registers) CQDoorbell(q uint16) *RegisterDoorbell {
	return &RegisterDoorbell{regs: r, off: CQDoorbellOffset(q, r.Stride())}
}

// Doorbell is a single-writer device register that signals new ring
// entries to the device. Only the owning queue's submit or poll path may
// ring it.
type Doorbell interface {
	// Ring writes the new tail (submission) or head (completion) value.
	Ring(v uint32)
}

// RegisterDoorbell rings a doorbell through the register window. The
// full barrier orders the preceding ring slot stores ahead of the
// doorbell store.
type RegisterDoorbell struct {
	regs *Registers
	off  uint64
}

func (d *RegisterDoorbell) Ring(v uint32) {
	Mfence()
	d.regs.Write32(d.off, v)
}

var _ Doorbell = (*RegisterDoorbell)(nil)
