package queue

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-nvme/internal/hw"
)

// Stats holds per-queue counters. Everything is lock-free: plain atomic
// adds for the monotonic counters, compare-and-swap retry loops for the
// min/max latency trackers so the completion path never serializes
// behind a lock.
type Stats struct {
	Submitted  atomic.Uint64
	Completed  atomic.Uint64
	Errors     atomic.Uint64
	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	LatencySumNs atomic.Uint64
	LatencyMinNs atomic.Uint64
	LatencyMaxNs atomic.Uint64
}

// init seeds the min tracker; an untouched queue snapshots it back to 0.
func (s *Stats) init() {
	s.LatencyMinNs.Store(math.MaxUint64)
}

func (s *Stats) recordCompletion(pc *PendingCommand, latency time.Duration, status uint16) {
	ns := uint64(latency.Nanoseconds())
	s.LatencySumNs.Add(ns)

	for {
		cur := s.LatencyMinNs.Load()
		if ns >= cur || s.LatencyMinNs.CompareAndSwap(cur, ns) {
			break
		}
	}
	for {
		cur := s.LatencyMaxNs.Load()
		if ns <= cur || s.LatencyMaxNs.CompareAndSwap(cur, ns) {
			break
		}
	}

	if status != hw.StatusSuccess {
		s.Errors.Add(1)
		return
	}
	if pc.Write {
		s.WriteBytes.Add(uint64(pc.Bytes))
	} else {
		s.ReadBytes.Add(uint64(pc.Bytes))
	}
}

// StatsSnapshot is a point-in-time copy of one queue's counters.
type StatsSnapshot struct {
	Submitted  uint64
	Completed  uint64
	Errors     uint64
	ReadBytes  uint64
	WriteBytes uint64

	LatencySumNs uint64
	LatencyMinNs uint64
	LatencyMaxNs uint64
	AvgLatencyNs uint64
}

// Snapshot copies the counters and derives the average latency.
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Submitted:    s.Submitted.Load(),
		Completed:    s.Completed.Load(),
		Errors:       s.Errors.Load(),
		ReadBytes:    s.ReadBytes.Load(),
		WriteBytes:   s.WriteBytes.Load(),
		LatencySumNs: s.LatencySumNs.Load(),
		LatencyMaxNs: s.LatencyMaxNs.Load(),
	}
	min := s.LatencyMinNs.Load()
	if min != math.MaxUint64 {
		snap.LatencyMinNs = min
	}
	if snap.Completed > 0 {
		snap.AvgLatencyNs = snap.LatencySumNs / snap.Completed
	}
	return snap
}
