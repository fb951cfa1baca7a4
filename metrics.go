package nvme

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// latencyBucketBoundsNs holds the upper bounds of the finite latency
// histogram buckets in nanoseconds: 1us..512us doubling, then 1ms..16ms
// doubling. The sixteenth bucket is the overflow bucket.
var latencyBucketBoundsNs = [numLatencyBuckets - 1]uint64{
	1_000, 2_000, 4_000, 8_000, 16_000, 32_000, 64_000, 128_000, 256_000, 512_000,
	1_000_000, 2_000_000, 4_000_000, 8_000_000, 16_000_000,
}

const numLatencyBuckets = 16

// PerformanceStats tracks driver-wide I/O statistics. Every update path
// is lock-free: plain atomic adds for counters, one histogram bucket
// increment per completion, and compare-and-swap retry loops for the
// min/max trackers, so recording never blocks the I/O fast path. Only
// Snapshot takes a lock, to diff against the previous snapshot.
type PerformanceStats struct {
	// I/O operation counters
	ReadOps  atomic.Uint64
	WriteOps atomic.Uint64
	FlushOps atomic.Uint64

	// Byte counters, added at submit time
	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	// Error counter
	Errors atomic.Uint64

	// Latency tracking
	TotalLatencyNs atomic.Uint64
	MinLatencyNs   atomic.Uint64
	MaxLatencyNs   atomic.Uint64

	// Queue depth gauge
	CurrentDepth atomic.Int64
	MaxDepth     atomic.Int64

	// Latency histogram; each completion lands in exactly one bucket,
	// the first whose upper bound is >= the latency.
	buckets [numLatencyBuckets]atomic.Uint64

	startTime time.Time

	// Previous snapshot state for rate computation
	snapMu        sync.Mutex
	lastSnapAt    time.Time
	lastSnapOps   uint64
	lastSnapBytes uint64
}

// NewPerformanceStats creates a stats block.
func NewPerformanceStats() *PerformanceStats {
	s := &PerformanceStats{startTime: time.Now()}
	s.MinLatencyNs.Store(math.MaxUint64)
	return s
}

// RecordSubmit accounts one submitted operation: byte counters by
// direction and the current-depth gauge with its max tracker.
func (s *PerformanceStats) RecordSubmit(bytes int, write bool) {
	if write {
		s.WriteBytes.Add(uint64(bytes))
	} else {
		s.ReadBytes.Add(uint64(bytes))
	}

	depth := s.CurrentDepth.Add(1)
	for {
		max := s.MaxDepth.Load()
		if depth <= max || s.MaxDepth.CompareAndSwap(max, depth) {
			break
		}
	}
}

// RecordComplete accounts one completed operation: op counters, latency
// accumulators, exactly one histogram bucket, and the depth decrement.
func (s *PerformanceStats) RecordComplete(write bool, latency time.Duration) {
	if write {
		s.WriteOps.Add(1)
	} else {
		s.ReadOps.Add(1)
	}
	s.recordLatency(latency)
	s.CurrentDepth.Add(-1)
}

// RecordFlush accounts one completed flush.
func (s *PerformanceStats) RecordFlush(latency time.Duration) {
	s.FlushOps.Add(1)
	s.recordLatency(latency)
	s.CurrentDepth.Add(-1)
}

// RecordError accounts one failed operation.
func (s *PerformanceStats) RecordError() {
	s.Errors.Add(1)
}

func (s *PerformanceStats) recordLatency(latency time.Duration) {
	ns := uint64(latency.Nanoseconds())
	s.TotalLatencyNs.Add(ns)

	for {
		cur := s.MinLatencyNs.Load()
		if ns >= cur || s.MinLatencyNs.CompareAndSwap(cur, ns) {
			break
		}
	}
	for {
		cur := s.MaxLatencyNs.Load()
		if ns <= cur || s.MaxLatencyNs.CompareAndSwap(cur, ns) {
			break
		}
	}

	s.buckets[bucketIndex(ns)].Add(1)
}

// bucketIndex returns the first bucket whose upper bound is >= ns; the
// overflow bucket catches the rest.
func bucketIndex(ns uint64) int {
	for i, bound := range latencyBucketBoundsNs {
		if ns <= bound {
			return i
		}
	}
	return numLatencyBuckets - 1
}

// PerfSnapshot is a point-in-time view of the driver's statistics with
// rates derived against the previous snapshot.
type PerfSnapshot struct {
	Timestamp time.Time

	ReadOps  uint64
	WriteOps uint64
	FlushOps uint64
	TotalOps uint64

	ReadBytes  uint64
	WriteBytes uint64
	TotalBytes uint64

	Errors uint64

	AvgLatencyNs uint64
	MinLatencyNs uint64
	MaxLatencyNs uint64

	// Percentiles reported as histogram bucket upper bounds; the
	// approximation error is bounded by bucket width.
	P50LatencyNs  uint64
	P99LatencyNs  uint64
	P999LatencyNs uint64

	CurrentDepth int64
	MaxDepth     int64

	Histogram [numLatencyBuckets]uint64

	// Rates over the interval since the previous snapshot; zero on the
	// first snapshot.
	IOPS           float64
	ThroughputBps  float64
	IntervalLength time.Duration
}

// Snapshot copies the counters and computes rates by diffing against the
// previous snapshot over elapsed wall time.
func (s *PerformanceStats) Snapshot() PerfSnapshot {
	now := time.Now()
	snap := PerfSnapshot{
		Timestamp:    now,
		ReadOps:      s.ReadOps.Load(),
		WriteOps:     s.WriteOps.Load(),
		FlushOps:     s.FlushOps.Load(),
		ReadBytes:    s.ReadBytes.Load(),
		WriteBytes:   s.WriteBytes.Load(),
		Errors:       s.Errors.Load(),
		MaxLatencyNs: s.MaxLatencyNs.Load(),
		CurrentDepth: s.CurrentDepth.Load(),
		MaxDepth:     s.MaxDepth.Load(),
	}
	snap.TotalOps = snap.ReadOps + snap.WriteOps + snap.FlushOps
	snap.TotalBytes = snap.ReadBytes + snap.WriteBytes

	if min := s.MinLatencyNs.Load(); min != math.MaxUint64 {
		snap.MinLatencyNs = min
	}

	totalLatency := s.TotalLatencyNs.Load()
	if snap.TotalOps > 0 {
		snap.AvgLatencyNs = totalLatency / snap.TotalOps
	}

	var histTotal uint64
	for i := range s.buckets {
		snap.Histogram[i] = s.buckets[i].Load()
		histTotal += snap.Histogram[i]
	}
	if histTotal > 0 {
		snap.P50LatencyNs = s.percentile(snap.Histogram, histTotal, histTotal/2)
		snap.P99LatencyNs = s.percentile(snap.Histogram, histTotal, histTotal*99/100)
		snap.P999LatencyNs = s.percentile(snap.Histogram, histTotal, histTotal*999/1000)
	}

	s.snapMu.Lock()
	if !s.lastSnapAt.IsZero() {
		elapsed := now.Sub(s.lastSnapAt)
		if elapsed > 0 {
			snap.IntervalLength = elapsed
			snap.IOPS = float64(snap.TotalOps-s.lastSnapOps) / elapsed.Seconds()
			snap.ThroughputBps = float64(snap.TotalBytes-s.lastSnapBytes) / elapsed.Seconds()
		}
	}
	s.lastSnapAt = now
	s.lastSnapOps = snap.TotalOps
	s.lastSnapBytes = snap.TotalBytes
	s.snapMu.Unlock()

	return snap
}

// percentile walks the buckets in order, accumulating counts until the
// cumulative count reaches threshold, and reports that bucket's upper
// bound. The overflow bucket reports the max observed latency.
func (s *PerformanceStats) percentile(hist [numLatencyBuckets]uint64, total, threshold uint64) uint64 {
	if threshold == 0 {
		threshold = 1
	}
	var cumulative uint64
	for i, count := range hist {
		cumulative += count
		if cumulative >= threshold {
			if i == numLatencyBuckets-1 {
				return s.MaxLatencyNs.Load()
			}
			return latencyBucketBoundsNs[i]
		}
	}
	return s.MaxLatencyNs.Load()
}

// Uptime reports how long the stats block has been live.
func (s *PerformanceStats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Reset clears all counters (useful for testing and between benchmark
// phases).
func (s *PerformanceStats) Reset() {
	s.ReadOps.Store(0)
	s.WriteOps.Store(0)
	s.FlushOps.Store(0)
	s.ReadBytes.Store(0)
	s.WriteBytes.Store(0)
	s.Errors.Store(0)
	s.TotalLatencyNs.Store(0)
	s.MinLatencyNs.Store(math.MaxUint64)
	s.MaxLatencyNs.Store(0)
	s.CurrentDepth.Store(0)
	s.MaxDepth.Store(0)
	for i := range s.buckets {
		s.buckets[i].Store(0)
	}
	s.snapMu.Lock()
	s.lastSnapAt = time.Time{}
	s.lastSnapOps = 0
	s.lastSnapBytes = 0
	s.snapMu.Unlock()
	s.startTime = time.Now()
}
