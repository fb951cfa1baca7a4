package nvme

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/ehrlich-b/go-nvme/internal/constants"
)

// Config controls driver-wide behavior. Zero values fall back to the
// defaults applied by DefaultConfig.
type Config struct {
	// NumQueues is the number of I/O queue pairs to create.
	NumQueues int

	// QueueDepth is the number of slots per submission/completion ring.
	QueueDepth int

	// PollMode selects busy-polling completion reaping instead of
	// interrupt-driven workers.
	PollMode bool

	// PollInterval is the sleep between empty drains in polling mode.
	PollInterval time.Duration

	// ZeroCopy submits caller buffers directly instead of staging them
	// through the bounce pool. Caller buffers must then stay untouched
	// until completion and be block-size aligned in length.
	ZeroCopy bool

	// Scheduler selects the I/O scheduling policy.
	Scheduler SchedulerPolicy

	// MaxBatchBytes caps the merged byte size of a single batch.
	MaxBatchBytes int

	// MaxBatchEntries caps the number of requests merged into one batch.
	MaxBatchEntries int

	// RequestDeadline is assigned to requests submitted without an
	// explicit deadline when the deadline scheduler is active.
	RequestDeadline time.Duration
}

// DefaultConfig returns a config with one queue pair per CPU and the
// package defaults for everything else.
func DefaultConfig() Config {
	return Config{
		NumQueues:       runtime.NumCPU(),
		QueueDepth:      constants.DefaultQueueDepth,
		PollInterval:    constants.DefaultPollInterval,
		ZeroCopy:        true,
		Scheduler:       PolicyCPUAffinity,
		MaxBatchBytes:   constants.DefaultMaxBatchBytes,
		MaxBatchEntries: constants.DefaultMaxBatchEntries,
		RequestDeadline: constants.DefaultRequestDeadline,
	}
}

// ConfigFromEnv returns DefaultConfig with NVME_* environment overrides
// applied. Unset or malformed variables keep the default.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v, ok := envInt(constants.EnvNumQueues); ok && v > 0 {
		cfg.NumQueues = v
	}
	if v, ok := envInt(constants.EnvQueueDepth); ok && v > 1 {
		cfg.QueueDepth = v
	}
	if v, ok := envBool(constants.EnvPollMode); ok {
		cfg.PollMode = v
	}
	if v, ok := envInt(constants.EnvPollInterval); ok && v > 0 {
		cfg.PollInterval = time.Duration(v) * time.Microsecond
	}
	if v, ok := envBool(constants.EnvZeroCopy); ok {
		cfg.ZeroCopy = v
	}
	if v := os.Getenv(constants.EnvScheduler); v != "" {
		if policy, err := ParsePolicy(v); err == nil {
			cfg.Scheduler = policy
		}
	}

	return cfg
}

// normalize fills zero fields with defaults so a partially populated
// Config behaves predictably.
func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.NumQueues <= 0 {
		c.NumQueues = def.NumQueues
	}
	if c.QueueDepth <= 1 {
		c.QueueDepth = def.QueueDepth
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.Scheduler == "" {
		c.Scheduler = def.Scheduler
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = def.MaxBatchBytes
	}
	if c.MaxBatchEntries <= 0 {
		c.MaxBatchEntries = def.MaxBatchEntries
	}
	if c.RequestDeadline <= 0 {
		c.RequestDeadline = def.RequestDeadline
	}
	return c
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
