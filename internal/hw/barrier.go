package hw

import "sync/atomic"

// barrierDummy is used for atomic operations that provide memory barrier
// semantics. On x86-64, atomic.AddInt64 compiles to LOCK XADD which has
// full fence semantics.
var barrierDummy int64

// Mfence issues a full memory fence equivalent. Doorbell writes must be
// preceded by a full barrier so that ring slot stores are externally
// observable before the device is notified.
func Mfence() {
	atomic.AddInt64(&barrierDummy, 0)
}
