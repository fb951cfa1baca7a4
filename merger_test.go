package nvme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rw(dir Direction, lba uint64, blocks uint16) *Request {
	return &Request{
		Direction: dir,
		NSID:      1,
		LBA:       lba,
		Blocks:    blocks,
		Data:      make([]byte, int(blocks)*DefaultLogicalBlockSize),
		QueueHint: NoQueueHint,
	}
}

func TestMergeAdjacentReads(t *testing.T) {
	m := NewMerger()

	// Three 1-block reads at LBAs 10, 11, 12 become one 3-block batch.
	batches := m.Merge([]*Request{
		rw(DirRead, 10, 1),
		rw(DirRead, 11, 1),
		rw(DirRead, 12, 1),
	})

	require.Len(t, batches, 1)
	b := batches[0]
	assert.Equal(t, uint64(10), b.StartLBA)
	assert.Equal(t, uint32(3), b.TotalBlocks)
	assert.Equal(t, 3*DefaultLogicalBlockSize, b.TotalBytes)
	assert.Len(t, b.Requests, 3)
}

func TestMergeSortsBeforeCoalescing(t *testing.T) {
	m := NewMerger()

	// Adjacent but submitted out of order still merges.
	batches := m.Merge([]*Request{
		rw(DirRead, 12, 1),
		rw(DirRead, 10, 1),
		rw(DirRead, 11, 1),
	})

	require.Len(t, batches, 1)
	assert.Equal(t, uint64(10), batches[0].StartLBA)
	assert.Equal(t, uint32(3), batches[0].TotalBlocks)
}

func TestMergeDirectionBoundary(t *testing.T) {
	m := NewMerger()

	// A write wedged between adjacent reads splits the run into three
	// batches; relative order of the non-mergeable pieces is preserved.
	batches := m.Merge([]*Request{
		rw(DirRead, 10, 1),
		rw(DirWrite, 11, 1),
		rw(DirRead, 12, 1),
	})

	require.Len(t, batches, 3)
	assert.Equal(t, DirRead, batches[0].Direction)
	assert.Equal(t, DirWrite, batches[1].Direction)
	assert.Equal(t, DirRead, batches[2].Direction)
}

func TestMergeGapBreaksBatch(t *testing.T) {
	m := NewMerger()

	batches := m.Merge([]*Request{
		rw(DirRead, 10, 1),
		rw(DirRead, 12, 1), // hole at 11
	})

	require.Len(t, batches, 2)
}

func TestMergeOverlapNeverMerges(t *testing.T) {
	m := NewMerger()

	// Overlapping ranges are not exactly adjacent, so they stay apart.
	batches := m.Merge([]*Request{
		rw(DirWrite, 10, 4),
		rw(DirWrite, 12, 4),
	})

	require.Len(t, batches, 2)
}

func TestMergeNamespaceBoundary(t *testing.T) {
	m := NewMerger()

	a := rw(DirRead, 10, 1)
	b := rw(DirRead, 11, 1)
	b.NSID = 2

	batches := m.Merge([]*Request{a, b})
	require.Len(t, batches, 2)
}

func TestMergeByteCap(t *testing.T) {
	m := &Merger{MaxBytes: 2 * DefaultLogicalBlockSize, MaxEntries: 32}

	batches := m.Merge([]*Request{
		rw(DirRead, 10, 1),
		rw(DirRead, 11, 1),
		rw(DirRead, 12, 1),
	})

	// Two blocks fill a batch; the third starts a new one.
	require.Len(t, batches, 2)
	assert.Equal(t, uint32(2), batches[0].TotalBlocks)
	assert.Equal(t, uint32(1), batches[1].TotalBlocks)
}

func TestMergeEntryCap(t *testing.T) {
	m := &Merger{MaxBytes: DefaultMaxBatchBytes, MaxEntries: 2}

	batches := m.Merge([]*Request{
		rw(DirRead, 10, 1),
		rw(DirRead, 11, 1),
		rw(DirRead, 12, 1),
	})

	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Requests, 2)
	assert.Len(t, batches[1].Requests, 1)
}

func TestMergeBlockCountLimit(t *testing.T) {
	m := &Merger{MaxBytes: 64 << 20, MaxEntries: 32}

	// 32768 + 32767 blocks fill the 16-bit block count exactly.
	batches := m.Merge([]*Request{
		rw(DirWrite, 0, 32768),
		rw(DirWrite, 32768, 32767),
	})
	require.Len(t, batches, 1)
	assert.Equal(t, uint32(0xFFFF), batches[0].TotalBlocks)

	// One more block would need a 65536-block command, which the count
	// field cannot express; the run splits instead of wrapping to zero.
	batches = m.Merge([]*Request{
		rw(DirWrite, 0, 32768),
		rw(DirWrite, 32768, 32768),
	})
	require.Len(t, batches, 2)
	for _, b := range batches {
		assert.LessOrEqual(t, b.TotalBlocks, uint32(0xFFFF))
	}
}

func TestMergeFlushNeverMerges(t *testing.T) {
	m := NewMerger()

	f1 := &Request{Direction: DirFlush, NSID: 1, QueueHint: NoQueueHint}
	f2 := &Request{Direction: DirFlush, NSID: 1, QueueHint: NoQueueHint}

	batches := m.Merge([]*Request{f1, f2})
	require.Len(t, batches, 2)
}

func TestMergeEmptyInput(t *testing.T) {
	m := NewMerger()
	assert.Nil(t, m.Merge(nil))
}
