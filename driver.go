package nvme

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-nvme/internal/constants"
	"github.com/ehrlich-b/go-nvme/internal/hw"
	"github.com/ehrlich-b/go-nvme/internal/interfaces"
	"github.com/ehrlich-b/go-nvme/internal/logging"
	"github.com/ehrlich-b/go-nvme/internal/queue"
)

// NamespaceInfo describes one namespace as reported by the admin
// identify command.
type NamespaceInfo struct {
	NSID      uint32
	Blocks    uint64
	BlockSize int
}

// Bytes returns the namespace capacity in bytes.
func (n NamespaceInfo) Bytes() uint64 {
	return n.Blocks * uint64(n.BlockSize)
}

// Driver owns the queue pairs of one controller: the admin pair and a
// set of I/O pairs, each with its own completion worker. Requests enter
// through Submit (or the synchronous wrappers), pass through the active
// scheduler and the merger on the dispatcher goroutine, and land on a
// hardware queue. Completions flow back on the per-queue workers.
type Driver struct {
	cfg Config
	dev interfaces.Device
	dma hw.DMA
	log *logging.Logger

	admin       *queue.Pair
	adminRunner *queue.Runner

	io      []*queue.Pair
	runners []*queue.Runner

	sched  Scheduler
	merger *Merger
	stats  *PerformanceStats

	nextID atomic.Uint64
	nextRR atomic.Uint32

	// kick wakes the dispatcher; the channel coalesces.
	kick   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	nsMu sync.RWMutex
	ns   map[uint32]NamespaceInfo

	closed atomic.Bool
}

// Open binds a driver to a device and brings up the admin pair plus the
// configured number of I/O pairs with their workers.
func Open(dev interfaces.Device, cfg Config) (*Driver, error) {
	cfg = cfg.normalize()

	sched, err := newSchedulerFor(cfg.Scheduler, cfg.NumQueues, cfg.RequestDeadline)
	if err != nil {
		return nil, WrapError("OPEN", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		cfg:    cfg,
		dev:    dev,
		dma:    dev.DMA(),
		log:    logging.Default(),
		sched:  sched,
		merger: &Merger{MaxBytes: cfg.MaxBatchBytes, MaxEntries: cfg.MaxBatchEntries},
		stats:  NewPerformanceStats(),
		kick:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		ns:     make(map[uint32]NamespaceInfo),
	}

	// Admin pair is interrupt-driven regardless of the I/O mode; its
	// traffic is rare and latency-insensitive.
	d.admin, d.adminRunner = d.bringUpPair(0, constants.DefaultAdminQueueDepth, queue.ModeInterrupt)

	mode := queue.ModeInterrupt
	if cfg.PollMode {
		mode = queue.ModePolling
	}
	for i := 0; i < cfg.NumQueues; i++ {
		pair, runner := d.bringUpPair(uint16(i+1), cfg.QueueDepth, mode)
		d.io = append(d.io, pair)
		d.runners = append(d.runners, runner)
	}

	d.wg.Add(1)
	go d.dispatch()

	d.log.Info("driver open",
		"queues", cfg.NumQueues,
		"depth", cfg.QueueDepth,
		"scheduler", string(cfg.Scheduler),
		"poll", cfg.PollMode,
		"zero_copy", cfg.ZeroCopy)
	return d, nil
}

func (d *Driver) bringUpPair(id uint16, depth int, mode queue.Mode) (*queue.Pair, *queue.Runner) {
	devQ := d.dev.Queue(id)
	pair := queue.NewPair(queue.Config{
		ID:         id,
		Depth:      depth,
		SQDoorbell: devQ.SQDoorbell(),
		CQDoorbell: devQ.CQDoorbell(),
		Logger:     d.log,
	})
	devQ.Attach(pair.SQ(), pair.CQ())

	runner := queue.NewRunner(d.ctx, queue.RunnerConfig{
		Pair:         pair,
		Mode:         mode,
		PollInterval: d.cfg.PollInterval,
		IRQ:          devQ.IRQ(),
		Logger:       d.log,
	})
	runner.Start()
	return pair, runner
}

// Submit queues one request for asynchronous execution. done is invoked
// exactly once with the final status, from a completion worker or the
// dispatcher. The request's Data must stay untouched until then. ctx
// bounds only the validation step, which may identify the namespace on
// first touch; once Submit returns nil the request runs to completion.
func (d *Driver) Submit(ctx context.Context, req *Request, done func(err error)) error {
	if d.closed.Load() {
		return NewError("SUBMIT", ErrCodeDriverClosed, "driver is closed")
	}

	if err := d.validate(ctx, req); err != nil {
		return err
	}

	req.ID = d.nextID.Add(1)
	req.EnqueuedAt = time.Now()
	req.done = done
	if req.QueueHint >= len(d.io) {
		req.QueueHint = NoQueueHint
	}

	d.stats.RecordSubmit(len(req.Data), req.Direction == DirWrite)

	// The none policy bypasses scheduling: straight to a hardware queue
	// on the caller's goroutine.
	if d.cfg.Scheduler == PolicyNone {
		if ok := d.submitBatch(singleBatch(req)); !ok {
			d.failRequest(req, NewError("SUBMIT", ErrCodeQueueFull, "queue full"))
		}
		return nil
	}

	d.sched.Submit(req)
	d.kickDispatcher()
	return nil
}

func (d *Driver) validate(ctx context.Context, req *Request) error {
	switch req.Direction {
	case DirFlush:
		return nil
	case DirRead, DirWrite:
	default:
		return NewError("SUBMIT", ErrCodeInvalidParameters, fmt.Sprintf("unknown direction %d", req.Direction))
	}

	if req.Blocks == 0 {
		return NewError("SUBMIT", ErrCodeInvalidParameters, "zero block count")
	}

	info, err := d.NamespaceInfo(ctx, req.NSID)
	if err != nil {
		return err
	}
	want := int(req.Blocks) * info.BlockSize
	if len(req.Data) != want {
		return NewError("SUBMIT", ErrCodeBadDescriptor,
			fmt.Sprintf("buffer is %d bytes, %d blocks need %d", len(req.Data), req.Blocks, want))
	}
	return nil
}

// Read reads blocks starting at lba into buf. buf's length selects the
// block count and must be a multiple of the namespace block size.
func (d *Driver) Read(ctx context.Context, nsid uint32, lba uint64, buf []byte) error {
	return d.doSync(ctx, nsid, lba, buf, DirRead)
}

// Write writes buf to blocks starting at lba.
func (d *Driver) Write(ctx context.Context, nsid uint32, lba uint64, buf []byte) error {
	return d.doSync(ctx, nsid, lba, buf, DirWrite)
}

// Flush commits the namespace's cached writes.
func (d *Driver) Flush(ctx context.Context, nsid uint32) error {
	return d.doSync(ctx, nsid, 0, nil, DirFlush)
}

func (d *Driver) doSync(ctx context.Context, nsid uint32, lba uint64, buf []byte, dir Direction) error {
	if d.closed.Load() {
		return NewError("SUBMIT", ErrCodeDriverClosed, "driver is closed")
	}

	req := &Request{
		Direction: dir,
		Priority:  PriorityNormal,
		NSID:      nsid,
		LBA:       lba,
		QueueHint: NoQueueHint,
	}
	if dir != DirFlush {
		info, err := d.NamespaceInfo(ctx, nsid)
		if err != nil {
			return err
		}
		if len(buf) == 0 || len(buf)%info.BlockSize != 0 {
			return NewError("SUBMIT", ErrCodeBadDescriptor,
				fmt.Sprintf("buffer length %d is not a positive multiple of block size %d", len(buf), info.BlockSize))
		}
		blocks := len(buf) / info.BlockSize
		if blocks > 0xFFFF {
			return NewError("SUBMIT", ErrCodeInvalidParameters, "transfer exceeds 65535 blocks")
		}
		req.Blocks = uint16(blocks)
		req.Data = buf
	}

	done := make(chan error, 1)
	if err := d.Submit(ctx, req, func(err error) { done <- err }); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// The request still completes in the background; the buffered
		// channel keeps the callback from blocking.
		return WrapError("SUBMIT", ctx.Err())
	}
}

// NamespaceInfo identifies the namespace, caching the answer.
func (d *Driver) NamespaceInfo(ctx context.Context, nsid uint32) (NamespaceInfo, error) {
	d.nsMu.RLock()
	info, ok := d.ns[nsid]
	d.nsMu.RUnlock()
	if ok {
		return info, nil
	}
	if d.closed.Load() {
		return NamespaceInfo{}, NewError("IDENTIFY", ErrCodeDriverClosed, "driver is closed")
	}

	page := make([]byte, hw.IdentifyPageSize)
	cmd := hw.Command{Opcode: hw.AdminIdentify, NSID: nsid, CDW10: hw.IdentifyNamespace}
	if _, err := d.adminCommand(ctx, cmd, page); err != nil {
		return NamespaceInfo{}, WrapError("IDENTIFY", err)
	}

	data, err := hw.IdentifyNamespaceFromBytes(page)
	if err != nil {
		return NamespaceInfo{}, WrapError("IDENTIFY", err)
	}
	if data.LBASize == 0 {
		return NamespaceInfo{}, NewError("IDENTIFY", ErrCodeInvalidParameters, "identify page reports zero block size")
	}

	info = NamespaceInfo{NSID: nsid, Blocks: data.NSZE, BlockSize: int(data.LBASize)}
	d.nsMu.Lock()
	d.ns[nsid] = info
	d.nsMu.Unlock()
	return info, nil
}

// NamespaceSize returns the namespace capacity in bytes.
func (d *Driver) NamespaceSize(ctx context.Context, nsid uint32) (uint64, error) {
	info, err := d.NamespaceInfo(ctx, nsid)
	if err != nil {
		return 0, err
	}
	return info.Bytes(), nil
}

// adminCommand runs one admin command synchronously, mapping data for
// DMA when non-nil.
func (d *Driver) adminCommand(ctx context.Context, cmd hw.Command, data []byte) (uint32, error) {
	var release func()
	if data != nil {
		prp1, prp2, rel, err := d.dma.Map(data)
		if err != nil {
			return 0, NewError("ADMIN", ErrCodeBadDescriptor, err.Error())
		}
		cmd.PRP1, cmd.PRP2 = prp1, prp2
		release = rel
	}

	type outcome struct {
		status uint16
		result uint32
	}
	done := make(chan outcome, 1)
	cid, ok := d.admin.Submit(cmd, &queue.PendingCommand{
		Release: release,
		Done: func(status uint16, result uint32) {
			done <- outcome{status, result}
		},
	})
	if !ok {
		if release != nil {
			release()
		}
		return 0, NewQueueError("ADMIN", 0, ErrCodeQueueFull, "admin queue full")
	}

	select {
	case out := <-done:
		if out.status != hw.StatusSuccess {
			return 0, NewStatusError("ADMIN", 0, cid, out.status)
		}
		return out.result, nil
	case <-ctx.Done():
		return 0, WrapError("ADMIN", ctx.Err())
	}
}

// kickDispatcher wakes the dispatcher without ever blocking the caller.
func (d *Driver) kickDispatcher() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// dispatch is the single consumer of the scheduler. It wakes on kicks
// and on a deadline tick, pulls pending requests through the merger and
// drives them onto the hardware queues.
func (d *Driver) dispatch() {
	defer d.wg.Done()

	ticker := time.NewTicker(constants.DeadlineCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.kick:
			d.drainScheduler()
		case <-ticker.C:
			d.failExpired()
			d.drainScheduler()
		}
	}
}

func (d *Driver) failExpired() {
	for _, req := range d.sched.CheckDeadlines() {
		d.failRequest(req, &Error{
			Op:    "DISPATCH",
			Queue: -1,
			Code:  ErrCodeTimeout,
			Msg:   fmt.Sprintf("deadline exceeded after %s", time.Since(req.EnqueuedAt).Round(time.Microsecond)),
		})
	}
}

// failRequest delivers a driver-side failure for a request that never
// reached the hardware.
func (d *Driver) failRequest(req *Request, err error) {
	d.stats.RecordError()
	d.stats.CurrentDepth.Add(-1)
	req.complete(err)
}

func (d *Driver) drainScheduler() {
	for {
		reqs := d.take(d.merger.MaxEntries)
		if len(reqs) == 0 {
			return
		}

		batches := d.merger.Merge(reqs)
		for i, batch := range batches {
			if d.submitBatch(batch) {
				continue
			}
			// Capacity exhausted. Everything not yet on hardware goes
			// back to the scheduler and a delayed kick retries once the
			// workers have drained some completions.
			for _, later := range batches[i:] {
				for _, req := range later.Requests {
					d.sched.Submit(req)
				}
			}
			time.AfterFunc(50*time.Microsecond, d.kickDispatcher)
			return
		}
	}
}

func (d *Driver) take(limit int) []*Request {
	var reqs []*Request
	for len(reqs) < limit {
		req := d.sched.Next()
		if req == nil {
			break
		}
		reqs = append(reqs, req)
	}
	return reqs
}

// pickQueue maps a queue hint (or the round-robin counter) to an I/O
// pair. The selection counter is independent of the scheduler policy.
func (d *Driver) pickQueue(hint int) *queue.Pair {
	if hint >= 0 && hint < len(d.io) {
		return d.io[hint]
	}
	n := d.nextRR.Add(1) - 1
	return d.io[int(n)%len(d.io)]
}

// submitBatch pushes one batch onto a hardware queue. It returns false
// when the queue is full; the batch was not submitted and the caller
// decides whether to retry or fail.
func (d *Driver) submitBatch(batch *Batch) bool {
	pair := d.pickQueue(batch.Requests[0].QueueHint)

	if batch.Direction == DirFlush {
		return d.submitFlush(pair, batch.Requests[0])
	}

	write := batch.Direction == DirWrite

	// Zero-copy needs one contiguous caller buffer, so only unmerged
	// requests qualify.
	var payload []byte
	var bounce []byte
	if d.cfg.ZeroCopy && len(batch.Requests) == 1 {
		payload = batch.Requests[0].Data
	} else {
		bounce = queue.GetBuffer(batch.TotalBytes)
		payload = bounce
		if write {
			off := 0
			for _, req := range batch.Requests {
				off += copy(bounce[off:], req.Data)
			}
		}
	}

	prp1, prp2, release, err := d.dma.Map(payload)
	if err != nil {
		if bounce != nil {
			queue.PutBuffer(bounce)
		}
		d.completeBatch(batch, NewError("SUBMIT", ErrCodeBadDescriptor, err.Error()))
		return true
	}

	pc := &queue.PendingCommand{
		Write:   write,
		Bytes:   batch.TotalBytes,
		Release: release,
	}
	pc.Done = func(status uint16, result uint32) {
		d.finishBatch(pair, batch, bounce, pc.CID, status)
	}

	var ok bool
	if write {
		_, ok = pair.SubmitWrite(batch.NSID, batch.StartLBA, uint16(batch.TotalBlocks), prp1, prp2, pc)
	} else {
		_, ok = pair.SubmitRead(batch.NSID, batch.StartLBA, uint16(batch.TotalBlocks), prp1, prp2, pc)
	}
	if !ok {
		release()
		if bounce != nil {
			queue.PutBuffer(bounce)
		}
		return false
	}
	return true
}

func (d *Driver) submitFlush(pair *queue.Pair, req *Request) bool {
	pc := &queue.PendingCommand{}
	pc.Done = func(status uint16, result uint32) {
		latency := time.Since(req.EnqueuedAt)
		if status != hw.StatusSuccess {
			d.stats.RecordError()
		}
		d.stats.RecordFlush(latency)
		req.complete(statusErr(pair, pc.CID, status))
	}
	_, ok := pair.SubmitFlush(req.NSID, pc)
	return ok
}

// finishBatch runs on a completion worker: it scatters read data back to
// the callers, returns the bounce buffer and completes every request in
// the batch.
func (d *Driver) finishBatch(pair *queue.Pair, batch *Batch, bounce []byte, cid uint16, status uint16) {
	if bounce != nil && batch.Direction == DirRead && status == hw.StatusSuccess {
		off := 0
		for _, req := range batch.Requests {
			off += copy(req.Data, bounce[off:off+len(req.Data)])
		}
	}
	if bounce != nil {
		queue.PutBuffer(bounce)
	}

	write := batch.Direction == DirWrite
	now := time.Now()
	for _, req := range batch.Requests {
		if status != hw.StatusSuccess {
			d.stats.RecordError()
		}
		d.stats.RecordComplete(write, now.Sub(req.EnqueuedAt))
		req.complete(statusErr(pair, cid, status))
	}
}

func statusErr(pair *queue.Pair, cid uint16, status uint16) error {
	if status == hw.StatusSuccess {
		return nil
	}
	return NewStatusError("IO", int(pair.ID()), cid, status)
}

// completeBatch fails every request in a batch with the same error.
func (d *Driver) completeBatch(batch *Batch, err error) {
	for _, req := range batch.Requests {
		d.failRequest(req, err)
	}
}

// singleBatch wraps one request for the direct-to-queue path.
func singleBatch(req *Request) *Batch {
	return &Batch{
		Direction:   req.Direction,
		NSID:        req.NSID,
		StartLBA:    req.LBA,
		TotalBlocks: uint32(req.Blocks),
		TotalBytes:  len(req.Data),
		Requests:    []*Request{req},
	}
}

// Stats returns the driver-wide performance counters.
func (d *Driver) Stats() *PerformanceStats {
	return d.stats
}

// QueueStats returns a snapshot per I/O queue pair, indexed by queue.
func (d *Driver) QueueStats() []queue.StatsSnapshot {
	snaps := make([]queue.StatsSnapshot, len(d.io))
	for i, pair := range d.io {
		snaps[i] = pair.StatsSnapshot()
	}
	return snaps
}

// AggregateStats sums the per-queue counters. The latency aggregates
// average the per-queue averages, which skews toward idle queues; the
// histogram percentiles in Stats are the accurate view.
func (d *Driver) AggregateStats() queue.StatsSnapshot {
	var agg queue.StatsSnapshot
	var avgSum uint64
	var active uint64
	for _, pair := range d.io {
		s := pair.StatsSnapshot()
		agg.Submitted += s.Submitted
		agg.Completed += s.Completed
		agg.Errors += s.Errors
		agg.ReadBytes += s.ReadBytes
		agg.WriteBytes += s.WriteBytes
		agg.LatencySumNs += s.LatencySumNs
		if s.Completed > 0 {
			avgSum += s.AvgLatencyNs
			active++
			if agg.LatencyMinNs == 0 || s.LatencyMinNs < agg.LatencyMinNs {
				agg.LatencyMinNs = s.LatencyMinNs
			}
			if s.LatencyMaxNs > agg.LatencyMaxNs {
				agg.LatencyMaxNs = s.LatencyMaxNs
			}
		}
	}
	if active > 0 {
		agg.AvgLatencyNs = avgSum / active
	}
	return agg
}

// Close fails everything still queued, waits for in-flight commands and
// tears down the workers. The driver cannot be reused afterwards.
func (d *Driver) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Stop the dispatcher first so nothing new reaches the hardware.
	d.cancel()
	d.wg.Wait()

	for {
		req := d.sched.Next()
		if req == nil {
			break
		}
		d.failRequest(req, NewError("CLOSE", ErrCodeDriverClosed, "driver is closed"))
	}

	// The workers stopped with the context; Close performs the final
	// drain, which reaps anything the device already posted. Only then
	// can the pairs go idle.
	for _, runner := range d.runners {
		runner.Close()
	}
	d.adminRunner.Close()

	for _, pair := range d.io {
		pair.WaitIdle()
	}
	d.admin.WaitIdle()

	d.log.Info("driver closed")
	return nil
}
