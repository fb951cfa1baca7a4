package devsim

import "context"

// IRQ is an edge-triggered interrupt vector backed by a coalescing
// channel: raising an already-pending vector is a no-op, so the device
// side never blocks on a slow worker.
type IRQ struct {
	ch chan struct{}
}

// NewIRQ creates an unraised vector.
func NewIRQ() *IRQ {
	return &IRQ{ch: make(chan struct{}, 1)}
}

// Raise signals the vector.
func (i *IRQ) Raise() {
	select {
	case i.ch <- struct{}{}:
	default:
	}
}

// Wait implements interfaces.IRQSource.
func (i *IRQ) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-i.ch:
		return nil
	}
}

// Ack implements interfaces.IRQSource. Taking the pending token in Wait
// already re-armed the vector.
func (i *IRQ) Ack() {}
