package nvme

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func sampleSnapshot() PerfSnapshot {
	return PerfSnapshot{
		ReadOps:       1000,
		WriteOps:      500,
		FlushOps:      2,
		TotalOps:      1502,
		ReadBytes:     1000 * 4096,
		WriteBytes:    500 * 4096,
		TotalBytes:    1500 * 4096,
		Errors:        3,
		AvgLatencyNs:  75_000,
		MinLatencyNs:  12_000,
		MaxLatencyNs:  900_000,
		P50LatencyNs:  64_000,
		P99LatencyNs:  512_000,
		P999LatencyNs: 900_000,
	}
}

func TestNewBenchmarkResults(t *testing.T) {
	r := NewBenchmarkResults("randread", sampleSnapshot(), 2*time.Second, 4096, 32, 4)

	if r.RunID == "" {
		t.Error("Expected a run ID")
	}
	if r.Name != "randread" {
		t.Errorf("Expected name randread, got %q", r.Name)
	}
	if r.IOPS != 751 {
		t.Errorf("Expected 751 IOPS, got %f", r.IOPS)
	}
	wantBW := float64(1500*4096) / 2 / (1 << 20)
	if r.BandwidthMBps != wantBW {
		t.Errorf("Expected %.3f MiB/s, got %.3f", wantBW, r.BandwidthMBps)
	}
	if r.Errors != 3 {
		t.Errorf("Expected 3 errors, got %d", r.Errors)
	}
	if r.P99LatencyNs != 512_000 {
		t.Errorf("Expected p99 512000ns, got %d", r.P99LatencyNs)
	}
}

func TestBenchmarkResultsZeroDuration(t *testing.T) {
	r := NewBenchmarkResults("warmup", sampleSnapshot(), 0, 4096, 32, 4)
	if r.IOPS != 0 || r.BandwidthMBps != 0 {
		t.Errorf("Zero duration should yield zero rates, got iops=%f bw=%f", r.IOPS, r.BandwidthMBps)
	}
}

func TestFioText(t *testing.T) {
	r := NewBenchmarkResults("randrw", sampleSnapshot(), 2*time.Second, 4096, 32, 4)
	out := r.FioText()

	for _, want := range []string{
		"randrw: (bs=4096, iodepth=32, queues=4)",
		"read : ios=1000",
		"write: ios=500",
		"flush: ios=2",
		"lat (usec): min=12.00, max=900.00, avg=75.00",
		"clat percentiles (usec): 50.00th=[64.00]",
		"total=1502 ops",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("FioText missing %q in:\n%s", want, out)
		}
	}
}

func TestFioTextOmitsIdleDirections(t *testing.T) {
	snap := sampleSnapshot()
	snap.WriteOps = 0
	snap.FlushOps = 0
	out := NewBenchmarkResults("read", snap, time.Second, 4096, 32, 1).FioText()

	if strings.Contains(out, "write:") {
		t.Error("FioText should omit the write line when no writes ran")
	}
	if strings.Contains(out, "flush:") {
		t.Error("FioText should omit the flush line when no flushes ran")
	}
}

func TestBenchmarkResultsJSON(t *testing.T) {
	r := NewBenchmarkResults("randread", sampleSnapshot(), 2*time.Second, 4096, 32, 4)
	raw, err := r.JSON()
	if err != nil {
		t.Fatalf("JSON failed: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("Failed to parse JSON output: %v", err)
	}
	if m["name"] != "randread" {
		t.Errorf("Expected name randread, got %v", m["name"])
	}
	if m["read_ops"].(float64) != 1000 {
		t.Errorf("Expected 1000 read ops, got %v", m["read_ops"])
	}
	if m["run_id"] == "" {
		t.Error("Expected a run_id field")
	}
}
