// Package backend provides namespace store implementations for the
// simulated controller.
package backend

import (
	"fmt"
	"sync"
)

// Store is the block-addressed storage behind one namespace.
type Store interface {
	// ReadBlocks fills buf from the blocks starting at lba. len(buf)
	// must be a multiple of the block size.
	ReadBlocks(lba uint64, buf []byte) error

	// WriteBlocks writes buf to the blocks starting at lba.
	WriteBlocks(lba uint64, buf []byte) error

	// Blocks returns the namespace capacity in logical blocks.
	Blocks() uint64

	// BlockSize returns the logical block size in bytes.
	BlockSize() int

	// Flush commits cached writes to stable storage.
	Flush() error

	// Close releases the store's resources.
	Close() error
}

// Memory provides a RAM-backed namespace store.
type Memory struct {
	data      []byte
	blocks    uint64
	blockSize int
	mu        sync.RWMutex
}

// NewMemory creates a memory store holding the given number of logical
// blocks of blockSize bytes each.
func NewMemory(blocks uint64, blockSize int) *Memory {
	return &Memory{
		data:      make([]byte, blocks*uint64(blockSize)),
		blocks:    blocks,
		blockSize: blockSize,
	}
}

// ReadBlocks implements the Store interface.
func (m *Memory) ReadBlocks(lba uint64, buf []byte) error {
	if err := m.checkRange(lba, len(buf)); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	off := lba * uint64(m.blockSize)
	copy(buf, m.data[off:off+uint64(len(buf))])
	return nil
}

// WriteBlocks implements the Store interface.
func (m *Memory) WriteBlocks(lba uint64, buf []byte) error {
	if err := m.checkRange(lba, len(buf)); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	off := lba * uint64(m.blockSize)
	copy(m.data[off:off+uint64(len(buf))], buf)
	return nil
}

func (m *Memory) checkRange(lba uint64, n int) error {
	if n%m.blockSize != 0 {
		return fmt.Errorf("buffer length %d not a multiple of block size %d", n, m.blockSize)
	}
	end := lba + uint64(n/m.blockSize)
	if end > m.blocks || end < lba {
		return fmt.Errorf("block range [%d, %d) beyond namespace capacity %d", lba, end, m.blocks)
	}
	return nil
}

// Blocks implements the Store interface.
func (m *Memory) Blocks() uint64 {
	return m.blocks
}

// BlockSize implements the Store interface.
func (m *Memory) BlockSize() int {
	return m.blockSize
}

// Flush implements the Store interface. Memory writes are immediately
// durable for the store's lifetime, so this is a no-op.
func (m *Memory) Flush() error {
	return nil
}

// Close implements the Store interface.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Drop the data to help with GC
	m.data = nil
	return nil
}

var _ Store = (*Memory)(nil)
