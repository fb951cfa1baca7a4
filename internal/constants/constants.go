package constants

import "time"

// Default configuration constants
const (
	// DefaultQueueDepth is the default I/O queue depth per queue pair
	DefaultQueueDepth = 1024

	// DefaultAdminQueueDepth is the depth of the admin queue pair
	DefaultAdminQueueDepth = 32

	// DefaultLogicalBlockSize is the default logical block size in bytes
	DefaultLogicalBlockSize = 512

	// DefaultMaxIOSize is the default maximum I/O size in bytes (1MB)
	DefaultMaxIOSize = 1 << 20

	// DefaultPollInterval is the sleep interval between empty completion
	// drains when a queue worker runs in polling mode
	DefaultPollInterval = 10 * time.Microsecond

	// DefaultMaxBatchBytes is the maximum merged byte size of one batch
	DefaultMaxBatchBytes = 1 << 20

	// DefaultMaxBatchEntries is the maximum number of requests per batch
	DefaultMaxBatchEntries = 32

	// DefaultRequestDeadline is assigned on submit to requests without an
	// explicit deadline when the deadline scheduler is active
	DefaultRequestDeadline = 100 * time.Millisecond

	// DeadlineCheckInterval is how often the dispatcher sweeps the
	// scheduler for expired requests
	DeadlineCheckInterval = 1 * time.Millisecond
)

// Controller timing constants
const (
	// ControllerReadyPollInterval is the interval to check CSTS.RDY while
	// enabling or disabling the controller
	ControllerReadyPollInterval = 100 * time.Microsecond

	// ControllerReadyTimeout caps the CSTS.RDY wait regardless of CAP.TO
	ControllerReadyTimeout = 10 * time.Second
)

// Environment configuration keys
const (
	EnvNumQueues    = "NVME_NUM_QUEUES"
	EnvQueueDepth   = "NVME_QUEUE_DEPTH"
	EnvPollMode     = "NVME_POLL_MODE"
	EnvPollInterval = "NVME_POLL_INTERVAL_US"
	EnvZeroCopy     = "NVME_ZERO_COPY"
	EnvScheduler    = "NVME_SCHEDULER"
)
