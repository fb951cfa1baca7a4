package nvme

import (
	"testing"
	"time"
)

func TestPerformanceStatsCounters(t *testing.T) {
	s := NewPerformanceStats()

	s.RecordSubmit(4096, false)
	s.RecordSubmit(8192, true)
	s.RecordComplete(false, 100*time.Microsecond)
	s.RecordComplete(true, 200*time.Microsecond)

	snap := s.Snapshot()
	if snap.ReadOps != 1 || snap.WriteOps != 1 {
		t.Errorf("Expected 1 read + 1 write, got %d + %d", snap.ReadOps, snap.WriteOps)
	}
	if snap.ReadBytes != 4096 {
		t.Errorf("Expected 4096 read bytes, got %d", snap.ReadBytes)
	}
	if snap.WriteBytes != 8192 {
		t.Errorf("Expected 8192 write bytes, got %d", snap.WriteBytes)
	}
	if snap.TotalOps != 2 {
		t.Errorf("Expected 2 total ops, got %d", snap.TotalOps)
	}

	wantAvg := uint64(150 * 1000)
	if snap.AvgLatencyNs != wantAvg {
		t.Errorf("Expected avg latency %d ns, got %d", wantAvg, snap.AvgLatencyNs)
	}
	if snap.MinLatencyNs != 100*1000 {
		t.Errorf("Expected min latency 100000 ns, got %d", snap.MinLatencyNs)
	}
	if snap.MaxLatencyNs != 200*1000 {
		t.Errorf("Expected max latency 200000 ns, got %d", snap.MaxLatencyNs)
	}
}

func TestPerformanceStatsDepthGauge(t *testing.T) {
	s := NewPerformanceStats()

	for i := 0; i < 5; i++ {
		s.RecordSubmit(512, false)
	}
	if got := s.CurrentDepth.Load(); got != 5 {
		t.Errorf("Expected depth 5, got %d", got)
	}

	s.RecordComplete(false, time.Microsecond)
	s.RecordComplete(false, time.Microsecond)
	if got := s.CurrentDepth.Load(); got != 3 {
		t.Errorf("Expected depth 3 after completions, got %d", got)
	}
	if got := s.MaxDepth.Load(); got != 5 {
		t.Errorf("Expected max depth 5, got %d", got)
	}
}

func TestHistogramBucketPlacement(t *testing.T) {
	s := NewPerformanceStats()

	// 500us exceeds the 256us bound, so it lands in the 512us bucket
	// and nowhere else.
	s.RecordComplete(false, 500*time.Microsecond)

	snap := s.Snapshot()
	var placed int
	for i, count := range snap.Histogram {
		if count == 0 {
			continue
		}
		placed += int(count)
		if latencyBucketBoundsNs[i] != 512_000 {
			t.Errorf("Latency landed in bucket with bound %d ns, want 512000", latencyBucketBoundsNs[i])
		}
	}
	if placed != 1 {
		t.Errorf("Expected exactly 1 histogram entry, got %d", placed)
	}
}

func TestHistogramOverflowBucket(t *testing.T) {
	s := NewPerformanceStats()

	s.RecordComplete(false, 50*time.Millisecond)

	snap := s.Snapshot()
	if snap.Histogram[numLatencyBuckets-1] != 1 {
		t.Errorf("50ms latency should land in the overflow bucket")
	}
	// Overflow percentiles report the max observed latency.
	if snap.P50LatencyNs != uint64(50*time.Millisecond) {
		t.Errorf("Expected p50 %d (max observed), got %d", 50*time.Millisecond, snap.P50LatencyNs)
	}
}

func TestPercentilesSingleBucket(t *testing.T) {
	s := NewPerformanceStats()

	// All samples in one bucket force every percentile to that bucket's
	// upper bound.
	for i := 0; i < 1000; i++ {
		s.RecordComplete(false, 3*time.Microsecond)
	}

	snap := s.Snapshot()
	for _, p := range []uint64{snap.P50LatencyNs, snap.P99LatencyNs, snap.P999LatencyNs} {
		if p != 4000 {
			t.Errorf("Expected percentile 4000 ns, got %d", p)
		}
	}
}

func TestPercentilesSplitBuckets(t *testing.T) {
	s := NewPerformanceStats()

	// 90 fast samples, 10 slow. p50 stays in the fast bucket, p99 in
	// the slow one.
	for i := 0; i < 90; i++ {
		s.RecordComplete(false, 900*time.Nanosecond) // 1us bucket
	}
	for i := 0; i < 10; i++ {
		s.RecordComplete(false, 7*time.Millisecond) // 8ms bucket
	}

	snap := s.Snapshot()
	if snap.P50LatencyNs != 1000 {
		t.Errorf("Expected p50 1000 ns, got %d", snap.P50LatencyNs)
	}
	if snap.P99LatencyNs != 8_000_000 {
		t.Errorf("Expected p99 8000000 ns, got %d", snap.P99LatencyNs)
	}
}

func TestSnapshotRates(t *testing.T) {
	s := NewPerformanceStats()

	// First snapshot has no baseline, so rates are zero.
	first := s.Snapshot()
	if first.IOPS != 0 || first.ThroughputBps != 0 {
		t.Errorf("First snapshot should report zero rates, got %f/%f", first.IOPS, first.ThroughputBps)
	}

	s.RecordSubmit(4096, false)
	s.RecordComplete(false, time.Microsecond)
	time.Sleep(10 * time.Millisecond)

	second := s.Snapshot()
	if second.IOPS <= 0 {
		t.Errorf("Second snapshot should report positive IOPS, got %f", second.IOPS)
	}
	if second.ThroughputBps <= 0 {
		t.Errorf("Second snapshot should report positive throughput, got %f", second.ThroughputBps)
	}
	if second.IntervalLength <= 0 {
		t.Errorf("Interval length not recorded")
	}
}

func TestStatsReset(t *testing.T) {
	s := NewPerformanceStats()
	s.RecordSubmit(512, true)
	s.RecordComplete(true, time.Millisecond)
	s.RecordError()

	s.Reset()
	snap := s.Snapshot()
	if snap.TotalOps != 0 || snap.Errors != 0 || snap.TotalBytes != 0 {
		t.Errorf("Reset did not clear counters: %+v", snap)
	}
	if snap.MinLatencyNs != 0 {
		t.Errorf("Reset min latency should snapshot as 0, got %d", snap.MinLatencyNs)
	}
}
