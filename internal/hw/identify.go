package hw

import (
	"fmt"
	"unsafe"
)

// IdentifyPageSize is the size of every identify data page.
const IdentifyPageSize = 4096

// IdentifyNamespaceData is the namespace identify page returned by the
// admin identify command with CNS 0. Only the fields this driver
// consumes are broken out; the rest stays reserved.
type IdentifyNamespaceData struct {
	NSZE     uint64 // namespace size in logical blocks
	NCAP     uint64 // namespace capacity in logical blocks
	NUSE     uint64 // namespace utilization in logical blocks
	LBASize  uint32 // logical block size in bytes
	Reserved [4068]byte
}

// Compile-time size check - identify pages are exactly 4096 bytes
var _ [IdentifyPageSize]byte = [unsafe.Sizeof(IdentifyNamespaceData{})]byte{}

// IdentifyNamespaceFromBytes reinterprets an identify page buffer. The
// buffer must be exactly IdentifyPageSize bytes.
func IdentifyNamespaceFromBytes(p []byte) (*IdentifyNamespaceData, error) {
	if len(p) != IdentifyPageSize {
		return nil, fmt.Errorf("identify page must be %d bytes, got %d", IdentifyPageSize, len(p))
	}
	return (*IdentifyNamespaceData)(unsafe.Pointer(&p[0])), nil
}
