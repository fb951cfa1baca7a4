package hw

import "unsafe"

// Command is one fixed-size submission queue slot. Layout must match the
// hardware command format exactly (64 bytes):
//
//	byte  0      opcode
//	byte  1      flags (fused operation, PRP/SGL select)
//	bytes 2-3    command identifier
//	bytes 4-7    namespace id
//	bytes 8-15   command dwords 2-3 (reserved for I/O commands)
//	bytes 16-23  metadata pointer
//	bytes 24-39  PRP entry 1 and 2
//	bytes 40-63  command dwords 10-15
type Command struct {
	Opcode uint8
	Flags  uint8
	CID    uint16
	NSID   uint32
	CDW2   uint32
	CDW3   uint32
	MPTR   uint64
	PRP1   uint64
	PRP2   uint64
	CDW10  uint32
	CDW11  uint32
	CDW12  uint32
	CDW13  uint32
	CDW14  uint32
	CDW15  uint32
}

// Compile-time size check - must be exactly 64 bytes
var _ [64]byte = [unsafe.Sizeof(Command{})]byte{}

// SetLBA stores the starting logical block address in CDW10/CDW11.
func (c *Command) SetLBA(lba uint64) {
	c.CDW10 = uint32(lba)
	c.CDW11 = uint32(lba >> 32)
}

// LBA returns the starting logical block address from CDW10/CDW11.
func (c *Command) LBA() uint64 {
	return uint64(c.CDW10) | uint64(c.CDW11)<<32
}

// SetBlockCount stores the zero's-based block count in CDW12.
// The hardware encodes "number of logical blocks minus one".
func (c *Command) SetBlockCount(blocks uint16) {
	c.CDW12 = (c.CDW12 &^ 0xFFFF) | uint32(blocks-1)
}

// BlockCount returns the one's-based block count from CDW12.
func (c *Command) BlockCount() uint16 {
	return uint16(c.CDW12&0xFFFF) + 1
}

// Completion is one fixed-size completion queue slot (16 bytes):
//
//	bytes 0-3    command-specific result (DW0)
//	bytes 4-7    reserved (DW1)
//	bytes 8-9    submission queue head pointer at completion time
//	bytes 10-11  submission queue id
//	bytes 12-13  originating command identifier
//	bytes 14-15  phase bit (bit 0) and status code (bits 1-15)
type Completion struct {
	Result   uint32
	Reserved uint32
	SQHead   uint16
	SQID     uint16
	CID      uint16
	Status   uint16
}

// Compile-time size check - must be exactly 16 bytes
var _ [16]byte = [unsafe.Sizeof(Completion{})]byte{}

// Phase extracts the phase bit from the status field.
func (c *Completion) Phase() bool {
	return c.Status&1 != 0
}

// StatusCode extracts the status code, shifted past the phase bit.
func (c *Completion) StatusCode() uint16 {
	return c.Status >> 1
}

// SetStatus packs a status code and phase bit into the status field.
func (c *Completion) SetStatus(code uint16, phase bool) {
	c.Status = code << 1
	if phase {
		c.Status |= 1
	}
}

// Ok reports whether the completion carries a success status.
func (c *Completion) Ok() bool {
	return c.StatusCode() == StatusSuccess
}
