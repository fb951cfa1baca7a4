// Package devsim simulates an NVMe controller behind the ring protocol:
// it consumes submission slots when the tail doorbell is written,
// executes commands against namespace stores, and posts completions with
// the correct phase bit. Tests and benchmarks run the full driver stack
// against it without hardware.
package devsim

import (
	"sync"

	"github.com/ehrlich-b/go-nvme/backend"
	"github.com/ehrlich-b/go-nvme/internal/hw"
	"github.com/ehrlich-b/go-nvme/internal/interfaces"
	"github.com/ehrlich-b/go-nvme/internal/logging"
	"github.com/ehrlich-b/go-nvme/internal/ring"
)

// Controller is the device-side model shared by all simulated queues.
// It implements interfaces.Device.
type Controller struct {
	mu         sync.Mutex
	namespaces map[uint32]backend.Store
	queues     map[uint16]*Queue

	dma *Registry
	log *logging.Logger

	injectMu     sync.Mutex
	injectStatus uint16
	injectCount  int
}

var _ interfaces.Device = (*Controller)(nil)

// New creates a controller with no namespaces attached.
func New() *Controller {
	return &Controller{
		namespaces: make(map[uint32]backend.Store),
		queues:     make(map[uint16]*Queue),
		dma:        NewRegistry(),
		log:        logging.Default(),
	}
}

// AddNamespace attaches a store under the given namespace id.
func (c *Controller) AddNamespace(nsid uint32, store backend.Store) {
	c.mu.Lock()
	c.namespaces[nsid] = store
	c.mu.Unlock()
}

// DMA implements interfaces.Device.
func (c *Controller) DMA() hw.DMA {
	return c.dma
}

// Registry exposes the buffer registry for leak checks in tests.
func (c *Controller) Registry() *Registry {
	return c.dma
}

// InjectError makes the next count I/O commands complete with the given
// status code.
func (c *Controller) InjectError(status uint16, count int) {
	c.injectMu.Lock()
	c.injectStatus = status
	c.injectCount = count
	c.injectMu.Unlock()
}

func (c *Controller) takeInjected() (uint16, bool) {
	c.injectMu.Lock()
	defer c.injectMu.Unlock()
	if c.injectCount == 0 {
		return 0, false
	}
	c.injectCount--
	return c.injectStatus, true
}

func (c *Controller) namespace(nsid uint32) (backend.Store, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, ok := c.namespaces[nsid]
	return ns, ok
}

// Queue is the device side of one queue pair.
type Queue struct {
	ctrl  *Controller
	id    uint16
	admin bool

	mu     sync.Mutex
	sq     *ring.Submission
	cq     *ring.Completion
	sqHead uint32
	cqTail uint32
	phase  bool
	seenCQ uint32 // last completion-head doorbell value from the driver
	irq    *IRQ
}

// Queue implements interfaces.Device. Queue 0 is the admin queue and
// accepts only admin opcodes. The same device-side queue is returned for
// repeated calls with one id.
func (c *Controller) Queue(id uint16) interfaces.DeviceQueue {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.queues[id]; ok {
		return q
	}
	q := &Queue{
		ctrl:  c,
		id:    id,
		admin: id == 0,
		phase: true,
		irq:   NewIRQ(),
	}
	c.queues[id] = q
	return q
}

// Attach wires the driver's rings into the device side. Must be called
// before the first doorbell write.
func (q *Queue) Attach(sq *ring.Submission, cq *ring.Completion) {
	q.mu.Lock()
	q.sq = sq
	q.cq = cq
	q.mu.Unlock()
}

// IRQ returns the queue's interrupt vector.
func (q *Queue) IRQ() interfaces.IRQSource {
	return q.irq
}

// SQDoorbell returns the submission-tail doorbell for this queue.
func (q *Queue) SQDoorbell() hw.Doorbell { return sqDoorbell{q} }

// CQDoorbell returns the completion-head doorbell for this queue.
func (q *Queue) CQDoorbell() hw.Doorbell { return cqDoorbell{q} }

type sqDoorbell struct{ q *Queue }

// Ring consumes every submission slot between the device's head and the
// new tail, executing each command and posting its completion.
func (d sqDoorbell) Ring(tail uint32) {
	q := d.q
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sq == nil {
		return
	}

	posted := false
	for q.sqHead != tail {
		cmd := q.sq.Slot(q.sqHead)
		q.sqHead = (q.sqHead + 1) % uint32(q.sq.Capacity())
		status, result := q.execute(cmd)
		q.post(cmd.CID, status, result)
		posted = true
	}
	if posted {
		q.irq.Raise()
	}
}

type cqDoorbell struct{ q *Queue }

// Ring records the driver's consumption point; the device may reuse
// completion slots up to it.
func (d cqDoorbell) Ring(head uint32) {
	d.q.mu.Lock()
	d.q.seenCQ = head
	d.q.mu.Unlock()
}

// post writes one completion entry with the device's current phase.
func (q *Queue) post(cid uint16, status uint16, result uint32) {
	e := hw.Completion{
		Result: result,
		SQHead: uint16(q.sqHead),
		SQID:   q.id,
		CID:    cid,
	}
	e.SetStatus(status, q.phase)
	q.cq.Post(q.cqTail, e)

	q.cqTail++
	if q.cqTail == uint32(q.cq.Capacity()) {
		q.cqTail = 0
		q.phase = !q.phase
	}
}

func (q *Queue) execute(cmd hw.Command) (uint16, uint32) {
	if q.admin {
		return q.executeAdmin(cmd)
	}

	if status, ok := q.ctrl.takeInjected(); ok {
		return status, 0
	}

	switch cmd.Opcode {
	case hw.OpRead, hw.OpWrite:
		return q.executeRW(cmd)
	case hw.OpFlush:
		ns, ok := q.ctrl.namespace(cmd.NSID)
		if !ok {
			return hw.StatusInvalidNamespace, 0
		}
		if err := ns.Flush(); err != nil {
			return hw.StatusInternalError, 0
		}
		return hw.StatusSuccess, 0
	default:
		return hw.StatusInvalidOpcode, 0
	}
}

func (q *Queue) executeRW(cmd hw.Command) (uint16, uint32) {
	ns, ok := q.ctrl.namespace(cmd.NSID)
	if !ok {
		return hw.StatusInvalidNamespace, 0
	}

	lba := cmd.LBA()
	blocks := cmd.BlockCount()
	nbytes := int(blocks) * ns.BlockSize()

	buf, ok := q.ctrl.dma.Buffer(cmd.PRP1)
	if !ok || len(buf) < nbytes {
		return hw.StatusDataXferError, 0
	}

	var err error
	if cmd.Opcode == hw.OpWrite {
		err = ns.WriteBlocks(lba, buf[:nbytes])
	} else {
		err = ns.ReadBlocks(lba, buf[:nbytes])
	}
	if err != nil {
		if lba+uint64(blocks) > ns.Blocks() {
			return hw.StatusLBAOutOfRange, 0
		}
		return hw.StatusInternalError, 0
	}
	return hw.StatusSuccess, uint32(nbytes)
}

func (q *Queue) executeAdmin(cmd hw.Command) (uint16, uint32) {
	switch cmd.Opcode {
	case hw.AdminIdentify:
		return q.executeIdentify(cmd)
	case hw.AdminCreateSQ, hw.AdminCreateCQ, hw.AdminDeleteSQ, hw.AdminDeleteCQ:
		// Simulated queues are wired through Attach; the commands are
		// acknowledged so the driver's bring-up sequence runs unchanged.
		return hw.StatusSuccess, 0
	case hw.AdminSetFeatures, hw.AdminGetFeatures:
		return hw.StatusSuccess, 0
	default:
		return hw.StatusInvalidOpcode, 0
	}
}

func (q *Queue) executeIdentify(cmd hw.Command) (uint16, uint32) {
	cns := cmd.CDW10 & 0xFF
	if cns != hw.IdentifyNamespace {
		return hw.StatusInvalidField, 0
	}

	ns, ok := q.ctrl.namespace(cmd.NSID)
	if !ok {
		return hw.StatusInvalidNamespace, 0
	}

	buf, found := q.ctrl.dma.Buffer(cmd.PRP1)
	if !found || len(buf) != hw.IdentifyPageSize {
		return hw.StatusDataXferError, 0
	}

	page, err := hw.IdentifyNamespaceFromBytes(buf)
	if err != nil {
		return hw.StatusDataXferError, 0
	}
	page.NSZE = ns.Blocks()
	page.NCAP = ns.Blocks()
	page.NUSE = ns.Blocks()
	page.LBASize = uint32(ns.BlockSize())
	return hw.StatusSuccess, 0
}
