// Package nvme implements the core of an NVMe block-storage driver: the
// hardware command-queue protocol, multi-queue dispatch under pluggable
// scheduling policies, in-flight command tracking and latency/throughput
// statistics. The protocol layer above it turns file operations into
// Requests; the bus layer below it supplies the register window and
// interrupt vectors.
package nvme

import "time"

// Direction identifies what a request does to the namespace.
type Direction uint8

const (
	DirRead Direction = iota
	DirWrite
	DirFlush
)

func (d Direction) String() string {
	switch d {
	case DirRead:
		return "read"
	case DirWrite:
		return "write"
	case DirFlush:
		return "flush"
	default:
		return "unknown"
	}
}

// Priority orders requests under the priority scheduling policy.
type Priority uint8

const (
	PriorityBackground Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityRealtime
)

func (p Priority) String() string {
	switch p {
	case PriorityBackground:
		return "background"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityRealtime:
		return "realtime"
	default:
		return "unknown"
	}
}

// NoQueueHint marks a request with no preferred queue.
const NoQueueHint = -1

// Request is one block I/O operation handed to the driver by the
// protocol layer. It is consumed by exactly one scheduler Next call.
type Request struct {
	// ID is assigned by the driver at submit time.
	ID uint64

	Direction Direction
	Priority  Priority

	// Deadline, when non-zero, fails the request with a timeout if it is
	// still unscheduled past this instant. The deadline scheduler also
	// orders by it.
	Deadline time.Time

	NSID   uint32
	LBA    uint64
	Blocks uint16

	// Data covers Blocks logical blocks. Nil for flushes.
	Data []byte

	// QueueHint pins the request to a queue pair, NoQueueHint otherwise.
	QueueHint int

	// EnqueuedAt is stamped when the request enters the driver.
	EnqueuedAt time.Time

	// done delivers the final status to the caller exactly once.
	done func(err error)
}

func (r *Request) complete(err error) {
	if r.done != nil {
		r.done(err)
		r.done = nil
	}
}

// Batch is an ordered run of same-direction requests with contiguous
// LBAs, built by the Merger. It exists only between scheduling and
// submission.
type Batch struct {
	Direction   Direction
	NSID        uint32
	StartLBA    uint64
	TotalBlocks uint32
	TotalBytes  int
	Requests    []*Request
}
