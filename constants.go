package nvme

import "github.com/ehrlich-b/go-nvme/internal/constants"

// Re-export constants for public API
const (
	DefaultQueueDepth       = constants.DefaultQueueDepth
	DefaultAdminQueueDepth  = constants.DefaultAdminQueueDepth
	DefaultLogicalBlockSize = constants.DefaultLogicalBlockSize
	DefaultMaxIOSize        = constants.DefaultMaxIOSize
	DefaultMaxBatchBytes    = constants.DefaultMaxBatchBytes
	DefaultMaxBatchEntries  = constants.DefaultMaxBatchEntries
	DefaultPollInterval     = constants.DefaultPollInterval
	DefaultRequestDeadline  = constants.DefaultRequestDeadline
)
