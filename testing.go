package nvme

import (
	"sync"

	"github.com/ehrlich-b/go-nvme/backend"
)

// MockStore provides a mock implementation of backend.Store for testing.
// It tracks method calls for verification.
type MockStore struct {
	data      []byte
	blocks    uint64
	blockSize int

	// Method call tracking
	mu          sync.RWMutex
	closed      bool
	flushed     bool
	readCalls   int
	writeCalls  int
	flushCalls  int
	failReads   bool
	failWrites  bool
}

var _ backend.Store = (*MockStore)(nil)

// NewMockStore creates a mock store holding the given number of logical
// blocks. This is useful for unit testing code that drives namespaces.
func NewMockStore(blocks uint64, blockSize int) *MockStore {
	return &MockStore{
		data:      make([]byte, blocks*uint64(blockSize)),
		blocks:    blocks,
		blockSize: blockSize,
	}
}

// FailReads makes subsequent reads return an error.
func (m *MockStore) FailReads(fail bool) {
	m.mu.Lock()
	m.failReads = fail
	m.mu.Unlock()
}

// FailWrites makes subsequent writes return an error.
func (m *MockStore) FailWrites(fail bool) {
	m.mu.Lock()
	m.failWrites = fail
	m.mu.Unlock()
}

// ReadBlocks implements backend.Store
func (m *MockStore) ReadBlocks(lba uint64, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls++
	if m.closed || m.failReads {
		return NewError("READ", ErrCodeIOError, "mock read failure")
	}
	if err := m.checkRange(lba, len(buf)); err != nil {
		return err
	}

	off := lba * uint64(m.blockSize)
	copy(buf, m.data[off:off+uint64(len(buf))])
	return nil
}

// WriteBlocks implements backend.Store
func (m *MockStore) WriteBlocks(lba uint64, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCalls++
	if m.closed || m.failWrites {
		return NewError("WRITE", ErrCodeIOError, "mock write failure")
	}
	if err := m.checkRange(lba, len(buf)); err != nil {
		return err
	}

	off := lba * uint64(m.blockSize)
	copy(m.data[off:off+uint64(len(buf))], buf)
	return nil
}

func (m *MockStore) checkRange(lba uint64, n int) error {
	if n%m.blockSize != 0 {
		return NewError("IO", ErrCodeBadDescriptor, "buffer is not block aligned")
	}
	end := lba + uint64(n)/uint64(m.blockSize)
	if end > m.blocks {
		return NewError("IO", ErrCodeInvalidParameters, "range beyond namespace end")
	}
	return nil
}

// Blocks implements backend.Store
func (m *MockStore) Blocks() uint64 { return m.blocks }

// BlockSize implements backend.Store
func (m *MockStore) BlockSize() int { return m.blockSize }

// Flush implements backend.Store
func (m *MockStore) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushCalls++
	m.flushed = true
	return nil
}

// Close implements backend.Store
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}

// ReadCalls returns how many reads the store has served.
func (m *MockStore) ReadCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readCalls
}

// WriteCalls returns how many writes the store has served.
func (m *MockStore) WriteCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writeCalls
}

// FlushCalls returns how many flushes the store has served.
func (m *MockStore) FlushCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flushCalls
}

// Flushed reports whether Flush has been called at least once.
func (m *MockStore) Flushed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flushed
}
