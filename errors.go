package nvme

import (
	"errors"
	"fmt"

	"github.com/ehrlich-b/go-nvme/internal/hw"
)

// Error represents a structured driver error with context and NVMe
// status mapping
type Error struct {
	Op     string    // Operation that failed (e.g., "SUBMIT", "IDENTIFY")
	Queue  int       // Queue ID (-1 if not applicable)
	CID    uint16    // Command ID (0 if not applicable)
	Code   ErrorCode // High-level error category
	Status uint16    // NVMe status code (0 if not applicable)
	Msg    string    // Human-readable message
	Inner  error     // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.Queue >= 0 {
		parts = append(parts, fmt.Sprintf("queue=%d", e.Queue))
	}

	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=0x%02x", e.Status))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("nvme: %s (%s)", msg, parts[0])
	}

	return fmt.Sprintf("nvme: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support by error code
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}

	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeQueueFull         ErrorCode = "queue full"
	ErrCodeBadDescriptor     ErrorCode = "bad data descriptor"
	ErrCodeIOError           ErrorCode = "I/O error"
	ErrCodeTimeout           ErrorCode = "timeout"
	ErrCodeNotImplemented    ErrorCode = "not implemented"
	ErrCodeDeviceNotReady    ErrorCode = "device not ready"
	ErrCodeInvalidParameters ErrorCode = "invalid parameters"
	ErrCodeNamespaceNotFound ErrorCode = "namespace not found"
	ErrCodeDriverClosed      ErrorCode = "driver closed"
)

// Error constructors

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:    op,
		Queue: -1,
		Code:  code,
		Msg:   msg,
	}
}

// NewQueueError creates a new queue-specific error
func NewQueueError(op string, queue int, code ErrorCode, msg string) *Error {
	return &Error{
		Op:    op,
		Queue: queue,
		Code:  code,
		Msg:   msg,
	}
}

// NewStatusError creates an error from an NVMe completion status code
func NewStatusError(op string, queue int, cid uint16, status uint16) *Error {
	return &Error{
		Op:     op,
		Queue:  queue,
		CID:    cid,
		Code:   mapStatusToCode(status),
		Status: status,
		Msg:    fmt.Sprintf("command failed with status 0x%02x", status),
	}
}

// WrapError wraps an existing error with driver context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	// If it's already a structured error, just update the operation
	if ne, ok := inner.(*Error); ok {
		return &Error{
			Op:     op,
			Queue:  ne.Queue,
			CID:    ne.CID,
			Code:   ne.Code,
			Status: ne.Status,
			Msg:    ne.Msg,
			Inner:  ne.Inner,
		}
	}

	return &Error{
		Op:    op,
		Queue: -1,
		Code:  ErrCodeIOError,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// mapStatusToCode maps NVMe completion status codes to error categories
func mapStatusToCode(status uint16) ErrorCode {
	switch status {
	case hw.StatusInvalidOpcode, hw.StatusInvalidField:
		return ErrCodeInvalidParameters
	case hw.StatusInvalidNamespace:
		return ErrCodeNamespaceNotFound
	case hw.StatusLBAOutOfRange, hw.StatusCapacityExceeded:
		return ErrCodeInvalidParameters
	case hw.StatusAbortRequested, hw.StatusAbortedPowerLoss:
		return ErrCodeTimeout
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// IsStatus checks if an error carries a specific NVMe status code
func IsStatus(err error, status uint16) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Status == status
	}
	return false
}
