// Package interfaces defines the attachment surface between the driver
// core and whatever supplies the hardware: doorbell registers, interrupt
// vectors and the DMA mapping layer. The simulator implements it for
// tests and benchmarks; a real PCIe attachment would sit behind the same
// surface.
package interfaces

import (
	"context"

	"github.com/ehrlich-b/go-nvme/internal/hw"
	"github.com/ehrlich-b/go-nvme/internal/ring"
)

// IRQSource is the interrupt vector for one queue pair.
type IRQSource interface {
	// Wait blocks until the device raises the interrupt or ctx ends.
	Wait(ctx context.Context) error

	// Ack re-arms the vector after the queue has been drained.
	Ack()
}

// DeviceQueue is the device side of one queue pair: the memory the
// device will read submissions from and post completions to, plus the
// doorbells and the interrupt vector.
type DeviceQueue interface {
	// Attach hands the driver's rings to the device. Must be called
	// before the first doorbell write.
	Attach(sq *ring.Submission, cq *ring.Completion)

	// SQDoorbell returns the submission-tail doorbell.
	SQDoorbell() hw.Doorbell

	// CQDoorbell returns the completion-head doorbell.
	CQDoorbell() hw.Doorbell

	// IRQ returns the queue's interrupt vector.
	IRQ() IRQSource
}

// Device is the bus-side attachment the driver binds to. Queue 0 is
// always the admin queue.
type Device interface {
	// Queue returns the device side of queue pair id, creating it on
	// first use.
	Queue(id uint16) DeviceQueue

	// DMA returns the mapping layer that turns driver buffers into
	// device-visible PRP addresses.
	DMA() hw.DMA
}
