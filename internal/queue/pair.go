// Package queue implements hardware queue pairs: one submission ring and
// one completion ring sharing a doorbell pair, plus the workers that
// harvest completions.
package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-nvme/internal/hw"
	"github.com/ehrlich-b/go-nvme/internal/logging"
	"github.com/ehrlich-b/go-nvme/internal/ring"
)

// PendingCommand carries the caller context attached to an in-flight
// command identifier. It is inserted at submit time and removed exactly
// once, by the first completion that matches its identifier.
type PendingCommand struct {
	SubmittedAt time.Time
	Write       bool
	Bytes       int

	// CID is the allocated command identifier, filled in by Submit so
	// error reporting can name the command. Valid once Submit returns ok.
	CID uint16

	// Release tears down the DMA mapping for the command's data buffer.
	// Called exactly once when the completion is observed, including on
	// device-reported errors. Nil for commands without a buffer.
	Release func()

	// Done delivers the completion status and result to the caller.
	Done func(status uint16, result uint32)
}

// CompletionInfo describes one harvested completion.
type CompletionInfo struct {
	CID     uint16
	Status  uint16 // status code, phase bit already stripped
	Result  uint32
	Latency time.Duration

	// Pending is the matched caller context, nil when the identifier was
	// unknown (stale or double completion).
	Pending *PendingCommand
}

// Config describes one queue pair.
type Config struct {
	ID         uint16
	Depth      int
	SQDoorbell hw.Doorbell
	CQDoorbell hw.Doorbell
	Logger     *logging.Logger
}

// Pair owns one submission ring, one completion ring and their doorbell
// pair. The submit path and the queue's worker are different actors:
// each ring carries its own exclusive lock, the pending map is
// reader/writer-locked, counters are atomics.
type Pair struct {
	id    uint16
	sq    *ring.Submission
	cq    *ring.Completion
	sqDB  hw.Doorbell
	cqDB  hw.Doorbell
	depth int32
	log   *logging.Logger

	// submitMu serializes identifier allocation with the slot write and
	// doorbell ring, keeping the doorbell single-writer.
	submitMu sync.Mutex
	nextCID  uint16

	pendingMu sync.RWMutex
	pending   map[uint16]*PendingCommand

	inFlight atomic.Int32
	stats    Stats
}

// NewPair creates a queue pair with rings sized to cfg.Depth.
func NewPair(cfg Config) *Pair {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	p := &Pair{
		id:      cfg.ID,
		sq:      ring.NewSubmission(cfg.Depth),
		cq:      ring.NewCompletion(cfg.Depth),
		sqDB:    cfg.SQDoorbell,
		cqDB:    cfg.CQDoorbell,
		depth:   int32(cfg.Depth),
		log:     logger.WithQueue(int(cfg.ID)),
		pending: make(map[uint16]*PendingCommand),
	}
	p.stats.init()
	return p
}

// ID returns the queue pair's id.
func (p *Pair) ID() uint16 { return p.id }

// SQ exposes the submission ring for the device side.
func (p *Pair) SQ() *ring.Submission { return p.sq }

// CQ exposes the completion ring for the device side.
func (p *Pair) CQ() *ring.Completion { return p.cq }

// SubmitRead submits a read command. It fails immediately (ok=false)
// when the in-flight count has reached the queue depth or the ring is
// full; it never blocks. pc may be nil for fire-and-forget commands.
func (p *Pair) SubmitRead(nsid uint32, lba uint64, blocks uint16, prp1, prp2 uint64, pc *PendingCommand) (uint16, bool) {
	cmd := hw.Command{Opcode: hw.OpRead, NSID: nsid, PRP1: prp1, PRP2: prp2}
	cmd.SetLBA(lba)
	cmd.SetBlockCount(blocks)
	return p.Submit(cmd, pc)
}

// SubmitWrite submits a write command; semantics match SubmitRead.
func (p *Pair) SubmitWrite(nsid uint32, lba uint64, blocks uint16, prp1, prp2 uint64, pc *PendingCommand) (uint16, bool) {
	cmd := hw.Command{Opcode: hw.OpWrite, NSID: nsid, PRP1: prp1, PRP2: prp2}
	cmd.SetLBA(lba)
	cmd.SetBlockCount(blocks)
	return p.Submit(cmd, pc)
}

// SubmitFlush submits a flush for the namespace.
func (p *Pair) SubmitFlush(nsid uint32, pc *PendingCommand) (uint16, bool) {
	return p.Submit(hw.Command{Opcode: hw.OpFlush, NSID: nsid}, pc)
}

// Submit assigns a command identifier, writes the slot, rings the
// submission doorbell and registers pc under the identifier. A full ring
// or exhausted depth is a local, recoverable condition: the command is
// not submitted and ok is false.
func (p *Pair) Submit(cmd hw.Command, pc *PendingCommand) (uint16, bool) {
	if p.inFlight.Add(1) > p.depth {
		p.inFlight.Add(-1)
		return 0, false
	}

	p.submitMu.Lock()
	cid, ok := p.allocCID()
	if !ok {
		p.submitMu.Unlock()
		p.inFlight.Add(-1)
		return 0, false
	}
	cmd.CID = cid

	// Pending context must be visible before the device can complete the
	// command, so it goes in ahead of the doorbell.
	if pc != nil {
		pc.CID = cid
		if pc.SubmittedAt.IsZero() {
			pc.SubmittedAt = time.Now()
		}
		p.AddPending(cid, pc)
	}

	tail, pushed := p.sq.Push(cmd)
	if !pushed {
		if pc != nil {
			p.CompleteCommand(cid)
		}
		p.submitMu.Unlock()
		p.inFlight.Add(-1)
		return 0, false
	}
	p.sqDB.Ring(tail)
	p.submitMu.Unlock()

	p.stats.Submitted.Add(1)
	return cid, true
}

// allocCID returns the next free command identifier. Identifiers recycle
// by wraparound but are never handed out while a completion bearing the
// same identifier is still outstanding.
//
// The caller must hold submitMu: nextCID is guarded by it, not by
// pendingMu, which is taken here only to read the outstanding set.
func (p *Pair) allocCID() (uint16, bool) {
	p.pendingMu.RLock()
	defer p.pendingMu.RUnlock()

	for i := 0; i < 1<<16; i++ {
		cid := p.nextCID
		p.nextCID++
		if _, taken := p.pending[cid]; !taken {
			return cid, true
		}
	}
	return 0, false
}

// AddPending associates caller context with a command identifier.
func (p *Pair) AddPending(cid uint16, pc *PendingCommand) {
	p.pendingMu.Lock()
	p.pending[cid] = pc
	p.pendingMu.Unlock()
}

// CompleteCommand detaches and returns the context for cid, or nil if
// the identifier is unknown. Removal on first match enforces at most one
// completion per identifier.
func (p *Pair) CompleteCommand(cid uint16) *PendingCommand {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	pc := p.pending[cid]
	if pc != nil {
		delete(p.pending, cid)
	}
	return pc
}

// PollCompletion inspects the completion slot at head. If its phase bit
// does not match the expected phase there are no new completions and ok
// is false. Otherwise it consumes the entry, rings the completion-head
// doorbell, updates counters and latency accumulators and returns the
// completion.
func (p *Pair) PollCompletion() (CompletionInfo, bool) {
	e, head, ok := p.cq.Next()
	if !ok {
		return CompletionInfo{}, false
	}

	p.sq.AdvanceHead(uint32(e.SQHead))
	p.cqDB.Ring(head)

	info := CompletionInfo{
		CID:    e.CID,
		Status: e.StatusCode(),
		Result: e.Result,
	}

	info.Pending = p.CompleteCommand(e.CID)
	p.inFlight.Add(-1)
	p.stats.Completed.Add(1)

	if info.Pending == nil {
		// Stale or duplicated identifier. The pending map is the
		// authority; there is no caller left to notify.
		p.log.Warn("completion for unknown command id", "cid", e.CID, "status", info.Status)
		return info, true
	}

	info.Latency = time.Since(info.Pending.SubmittedAt)
	p.stats.recordCompletion(info.Pending, info.Latency, info.Status)
	return info, true
}

// DrainCompletions polls until the completion ring is empty, firing the
// Release and Done hooks of each matched command. Used by both the
// interrupt and polling workers.
func (p *Pair) DrainCompletions() []CompletionInfo {
	var drained []CompletionInfo
	for {
		info, ok := p.PollCompletion()
		if !ok {
			return drained
		}
		if pc := info.Pending; pc != nil {
			if pc.Release != nil {
				pc.Release()
			}
			if pc.Done != nil {
				pc.Done(info.Status, info.Result)
			}
		}
		drained = append(drained, info)
	}
}

// WaitIdle spins draining completions until the in-flight count reaches
// zero. This is a bounded, short-lived spin for shutdown and flush
// boundaries, not a latency-sensitive path.
func (p *Pair) WaitIdle() {
	for p.inFlight.Load() > 0 {
		if len(p.DrainCompletions()) == 0 {
			time.Sleep(time.Microsecond)
		}
	}
}

// Depth returns the current in-flight command count.
func (p *Pair) Depth() int {
	return int(p.inFlight.Load())
}

// StatsSnapshot returns a point-in-time copy of the queue's counters.
func (p *Pair) StatsSnapshot() StatsSnapshot {
	return p.stats.Snapshot()
}
