// Package hw provides the NVMe hardware protocol definitions: command and
// completion slot layouts, controller register offsets, doorbell addressing
// and status codes. Everything here must match the device bit-for-bit.
package hw

// I/O command opcodes
const (
	OpFlush       = 0x00
	OpWrite       = 0x01
	OpRead        = 0x02
	OpWriteUncor  = 0x04
	OpCompare     = 0x05
	OpWriteZeroes = 0x08
	OpDSM         = 0x09
)

// Admin command opcodes
const (
	AdminDeleteSQ    = 0x00
	AdminCreateSQ    = 0x01
	AdminGetLogPage  = 0x02
	AdminDeleteCQ    = 0x04
	AdminCreateCQ    = 0x05
	AdminIdentify    = 0x06
	AdminAbort       = 0x08
	AdminSetFeatures = 0x09
	AdminGetFeatures = 0x0A
)

// Identify CNS values
const (
	IdentifyNamespace  = 0x00
	IdentifyController = 0x01
	IdentifyActiveNS   = 0x02
)

// Completion status codes (generic command status type)
const (
	StatusSuccess           = 0x00
	StatusInvalidOpcode     = 0x01
	StatusInvalidField      = 0x02
	StatusIDConflict        = 0x03
	StatusDataXferError     = 0x04
	StatusAbortedPowerLoss  = 0x05
	StatusInternalError     = 0x06
	StatusAbortRequested    = 0x07
	StatusInvalidNamespace  = 0x0B
	StatusLBAOutOfRange     = 0x80
	StatusCapacityExceeded  = 0x81
	StatusNamespaceNotReady = 0x82
)

// Controller register offsets within the BAR
const (
	RegCAP   = 0x00 // Controller Capabilities (64-bit)
	RegVS    = 0x08 // Version
	RegINTMS = 0x0C // Interrupt Mask Set
	RegINTMC = 0x10 // Interrupt Mask Clear
	RegCC    = 0x14 // Controller Configuration
	RegCSTS  = 0x1C // Controller Status
	RegAQA   = 0x24 // Admin Queue Attributes
	RegASQ   = 0x28 // Admin Submission Queue base (64-bit)
	RegACQ   = 0x30 // Admin Completion Queue base (64-bit)

	// DoorbellBase is the offset of doorbell register 0
	DoorbellBase = 0x1000
)

// CC register bits
const (
	CCEnable = 1 << 0
	// Entry size exponents: 64-byte SQ entries, 16-byte CQ entries
	CCIOSQES = 6 << 16
	CCIOCQES = 4 << 20
)

// CSTS register bits
const (
	CSTSReady = 1 << 0
	CSTSFatal = 1 << 1
)

// CAP field extraction. CAP is a 64-bit register:
// bits 0-15 MQES (max queue entries, zero's based), bits 24-31 TO
// (worst-case ready timeout in 500ms units), bits 32-35 DSTRD
// (doorbell stride exponent).
func CapMQES(cap uint64) uint16 { return uint16(cap & 0xFFFF) }
func CapTO(cap uint64) uint8    { return uint8(cap >> 24) }
func CapDSTRD(cap uint64) uint8 { return uint8((cap >> 32) & 0xF) }

// SQDoorbellOffset returns the submission-tail doorbell offset for queue q
// given the doorbell stride exponent from CAP.DSTRD.
func SQDoorbellOffset(q uint16, dstrd uint8) uint64 {
	return DoorbellBase + uint64(2*uint32(q))*(4<<dstrd)
}

// CQDoorbellOffset returns the completion-head doorbell offset for queue q.
func CQDoorbellOffset(q uint16, dstrd uint8) uint64 {
	return DoorbellBase + uint64(2*uint32(q)+1)*(4<<dstrd)
}
