package nvme

import (
	"sort"

	"github.com/ehrlich-b/go-nvme/internal/constants"
)

// Merger coalesces adjacent same-direction requests into single hardware
// commands. Merging is a pure, synchronous transform applied
// opportunistically before submission to cut command count on sequential
// workloads.
type Merger struct {
	// MaxBytes caps the merged byte size of one batch.
	MaxBytes int

	// MaxEntries caps the number of requests per batch.
	MaxEntries int
}

// NewMerger creates a merger with the default limits.
func NewMerger() *Merger {
	return &Merger{
		MaxBytes:   constants.DefaultMaxBatchBytes,
		MaxEntries: constants.DefaultMaxBatchEntries,
	}
}

// Merge sorts requests by namespace then starting LBA (stably, so the
// relative order of non-mergeable requests is preserved) and accumulates
// runs into batches. A request joins the current batch only when it has
// the same direction and namespace, starts exactly at the batch's end,
// and neither the byte nor the entry limit would be exceeded. Flushes
// never merge.
func (m *Merger) Merge(requests []*Request) []*Batch {
	if len(requests) == 0 {
		return nil
	}

	sorted := make([]*Request, len(requests))
	copy(sorted, requests)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].NSID != sorted[j].NSID {
			return sorted[i].NSID < sorted[j].NSID
		}
		return sorted[i].LBA < sorted[j].LBA
	})

	var batches []*Batch
	var cur *Batch
	for _, req := range sorted {
		if cur != nil && m.mergeable(cur, req) {
			cur.TotalBlocks += uint32(req.Blocks)
			cur.TotalBytes += len(req.Data)
			cur.Requests = append(cur.Requests, req)
			continue
		}
		cur = &Batch{
			Direction:   req.Direction,
			NSID:        req.NSID,
			StartLBA:    req.LBA,
			TotalBlocks: uint32(req.Blocks),
			TotalBytes:  len(req.Data),
			Requests:    []*Request{req},
		}
		batches = append(batches, cur)
	}
	return batches
}

func (m *Merger) mergeable(b *Batch, req *Request) bool {
	if req.Direction == DirFlush || b.Direction != req.Direction {
		return false
	}
	if b.NSID != req.NSID {
		return false
	}
	if req.LBA != b.StartLBA+uint64(b.TotalBlocks) {
		return false
	}
	if m.MaxBytes > 0 && b.TotalBytes+len(req.Data) > m.MaxBytes {
		return false
	}
	if m.MaxEntries > 0 && len(b.Requests) >= m.MaxEntries {
		return false
	}
	// Merged commands carry the block count in a 16-bit field, so a
	// batch can never grow past 0xFFFF blocks.
	if b.TotalBlocks+uint32(req.Blocks) > 0xFFFF {
		return false
	}
	return true
}
