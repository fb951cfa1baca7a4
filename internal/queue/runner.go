package queue

import (
	"context"
	"sync"
	"time"

	"github.com/ehrlich-b/go-nvme/internal/interfaces"
	"github.com/ehrlich-b/go-nvme/internal/logging"
)

// Mode selects the completion-harvesting model. It is chosen once at
// startup and fixed for the process lifetime.
type Mode int

const (
	// ModeInterrupt blocks each worker on its queue's interrupt source.
	ModeInterrupt Mode = iota
	// ModePolling repeatedly drains; an empty drain sleeps for the poll
	// interval, trading CPU for latency.
	ModePolling
)

// IRQSource is the interrupt vector for one queue. The bus layer (or
// the simulator) supplies it.
type IRQSource = interfaces.IRQSource

// RunnerConfig configures a queue worker.
type RunnerConfig struct {
	Pair         *Pair
	Mode         Mode
	PollInterval time.Duration
	IRQ          IRQSource // required in interrupt mode
	Logger       *logging.Logger
}

// Runner drives completion harvesting for a single queue pair on its own
// worker goroutine.
type Runner struct {
	pair         *Pair
	mode         Mode
	pollInterval time.Duration
	irq          IRQSource
	log          *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a worker for the pair. Start launches it.
func NewRunner(ctx context.Context, cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Runner{
		pair:         cfg.Pair,
		mode:         cfg.Mode,
		pollInterval: cfg.PollInterval,
		irq:          cfg.IRQ,
		log:          logger.WithQueue(int(cfg.Pair.ID())),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the worker goroutine.
func (r *Runner) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		switch r.mode {
		case ModePolling:
			r.pollLoop()
		default:
			r.interruptLoop()
		}
	}()
}

// Close stops the worker and waits for it to exit. Completions still in
// the ring are drained one final time so no caller is left hanging.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
	r.pair.DrainCompletions()
}

func (r *Runner) interruptLoop() {
	r.log.Debug("interrupt worker starting")
	for {
		if err := r.irq.Wait(r.ctx); err != nil {
			r.log.Debug("interrupt worker stopping", "reason", err)
			return
		}
		r.pair.DrainCompletions()
		r.irq.Ack()
	}
}

func (r *Runner) pollLoop() {
	r.log.Debug("polling worker starting", "interval", r.pollInterval)
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.log.Debug("polling worker stopping")
			return
		default:
		}

		if len(r.pair.DrainCompletions()) > 0 {
			continue
		}

		timer.Reset(r.pollInterval)
		select {
		case <-r.ctx.Done():
			return
		case <-timer.C:
		}
	}
}
