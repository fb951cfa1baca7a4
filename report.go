package nvme

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BenchmarkResults is one benchmark run reduced to its headline numbers,
// derived purely from a PerfSnapshot.
type BenchmarkResults struct {
	RunID     string        `json:"run_id"`
	Name      string        `json:"name"`
	Duration  time.Duration `json:"duration_ns"`
	BlockSize int           `json:"block_size"`
	Depth     int           `json:"queue_depth"`
	Queues    int           `json:"queues"`

	ReadOps    uint64 `json:"read_ops"`
	WriteOps   uint64 `json:"write_ops"`
	FlushOps   uint64 `json:"flush_ops"`
	ReadBytes  uint64 `json:"read_bytes"`
	WriteBytes uint64 `json:"write_bytes"`
	Errors     uint64 `json:"errors"`

	IOPS          float64 `json:"iops"`
	BandwidthMBps float64 `json:"bandwidth_mbps"`

	AvgLatencyNs  uint64 `json:"lat_avg_ns"`
	MinLatencyNs  uint64 `json:"lat_min_ns"`
	MaxLatencyNs  uint64 `json:"lat_max_ns"`
	P50LatencyNs  uint64 `json:"lat_p50_ns"`
	P99LatencyNs  uint64 `json:"lat_p99_ns"`
	P999LatencyNs uint64 `json:"lat_p999_ns"`
}

// NewBenchmarkResults reduces a snapshot taken after a run of the given
// wall-clock duration. Rates come from the run totals, not from the
// snapshot's interval diff, so a single end-of-run snapshot is enough.
func NewBenchmarkResults(name string, snap PerfSnapshot, elapsed time.Duration, blockSize, depth, queues int) *BenchmarkResults {
	r := &BenchmarkResults{
		RunID:         uuid.New().String(),
		Name:          name,
		Duration:      elapsed,
		BlockSize:     blockSize,
		Depth:         depth,
		Queues:        queues,
		ReadOps:       snap.ReadOps,
		WriteOps:      snap.WriteOps,
		FlushOps:      snap.FlushOps,
		ReadBytes:     snap.ReadBytes,
		WriteBytes:    snap.WriteBytes,
		Errors:        snap.Errors,
		AvgLatencyNs:  snap.AvgLatencyNs,
		MinLatencyNs:  snap.MinLatencyNs,
		MaxLatencyNs:  snap.MaxLatencyNs,
		P50LatencyNs:  snap.P50LatencyNs,
		P99LatencyNs:  snap.P99LatencyNs,
		P999LatencyNs: snap.P999LatencyNs,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		r.IOPS = float64(snap.TotalOps) / secs
		r.BandwidthMBps = float64(snap.TotalBytes) / secs / (1 << 20)
	}
	return r
}

// FioText renders the run in a fio-style text block.
func (r *BenchmarkResults) FioText() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s: (bs=%d, iodepth=%d, queues=%d): err=%d: run=%s\n",
		r.Name, r.BlockSize, r.Depth, r.Queues, r.Errors, r.RunID)

	if r.ReadOps > 0 {
		fmt.Fprintf(&b, "  read : ios=%d, iops=%s, bw=%s\n",
			r.ReadOps, humanCount(r.opsPerSec(r.ReadOps)), humanBW(r.bytesPerSec(r.ReadBytes)))
	}
	if r.WriteOps > 0 {
		fmt.Fprintf(&b, "  write: ios=%d, iops=%s, bw=%s\n",
			r.WriteOps, humanCount(r.opsPerSec(r.WriteOps)), humanBW(r.bytesPerSec(r.WriteBytes)))
	}
	if r.FlushOps > 0 {
		fmt.Fprintf(&b, "  flush: ios=%d\n", r.FlushOps)
	}

	fmt.Fprintf(&b, "  lat (usec): min=%.2f, max=%.2f, avg=%.2f\n",
		float64(r.MinLatencyNs)/1e3, float64(r.MaxLatencyNs)/1e3, float64(r.AvgLatencyNs)/1e3)
	fmt.Fprintf(&b, "  clat percentiles (usec): 50.00th=[%.2f], 99.00th=[%.2f], 99.90th=[%.2f]\n",
		float64(r.P50LatencyNs)/1e3, float64(r.P99LatencyNs)/1e3, float64(r.P999LatencyNs)/1e3)
	fmt.Fprintf(&b, "  run : total=%d ops in %s (%.0f iops, %.2f MiB/s)\n",
		r.ReadOps+r.WriteOps+r.FlushOps, r.Duration.Round(time.Millisecond), r.IOPS, r.BandwidthMBps)

	return b.String()
}

// JSON renders the run as an indented JSON object with the same fields.
func (r *BenchmarkResults) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func (r *BenchmarkResults) opsPerSec(ops uint64) float64 {
	if secs := r.Duration.Seconds(); secs > 0 {
		return float64(ops) / secs
	}
	return 0
}

func (r *BenchmarkResults) bytesPerSec(bytes uint64) float64 {
	if secs := r.Duration.Seconds(); secs > 0 {
		return float64(bytes) / secs
	}
	return 0
}

func humanCount(v float64) string {
	switch {
	case v >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.1fk", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}

func humanBW(bps float64) string {
	switch {
	case bps >= 1<<30:
		return fmt.Sprintf("%.1fGiB/s", bps/(1<<30))
	case bps >= 1<<20:
		return fmt.Sprintf("%.1fMiB/s", bps/(1<<20))
	case bps >= 1<<10:
		return fmt.Sprintf("%.1fKiB/s", bps/(1<<10))
	default:
		return fmt.Sprintf("%.0fB/s", bps)
	}
}
