package nvme

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/ehrlich-b/go-nvme/internal/constants"
)

// SchedulerPolicy names one of the dispatch policies.
type SchedulerPolicy string

const (
	PolicyNone        SchedulerPolicy = "none"
	PolicyRoundRobin  SchedulerPolicy = "roundrobin"
	PolicyCPUAffinity SchedulerPolicy = "cpu"
	PolicyPriority    SchedulerPolicy = "priority"
	PolicyDeadline    SchedulerPolicy = "deadline"
)

// ParsePolicy resolves a policy name from configuration.
func ParsePolicy(s string) (SchedulerPolicy, error) {
	switch SchedulerPolicy(s) {
	case PolicyNone, PolicyRoundRobin, PolicyCPUAffinity, PolicyPriority, PolicyDeadline:
		return SchedulerPolicy(s), nil
	case "":
		return PolicyCPUAffinity, nil
	default:
		return "", fmt.Errorf("unknown scheduler policy %q", s)
	}
}

// Scheduler is the common contract of the dispatch policies. Submit may
// be called from any number of producers; Next and CheckDeadlines are
// called by the driver's single dispatcher.
type Scheduler interface {
	// Submit queues a request under the policy.
	Submit(req *Request)

	// Next returns the next request to dispatch, or nil when none are
	// pending.
	Next() *Request

	// PendingCount returns the number of queued requests.
	PendingCount() int

	// CheckDeadlines removes and returns every queued request whose
	// deadline has passed; the caller fails them back as timeouts.
	CheckDeadlines() []*Request
}

// NewScheduler builds the scheduler for a policy over numQueues queues
// with the default request deadline.
func NewScheduler(policy SchedulerPolicy, numQueues int) (Scheduler, error) {
	return newSchedulerFor(policy, numQueues, constants.DefaultRequestDeadline)
}

func newSchedulerFor(policy SchedulerPolicy, numQueues int, deadline time.Duration) (Scheduler, error) {
	switch policy {
	case PolicyNone:
		return &noopScheduler{}, nil
	case PolicyRoundRobin:
		return newRoundRobinScheduler(numQueues), nil
	case PolicyCPUAffinity:
		return newCPUAffinityScheduler(numQueues), nil
	case PolicyPriority:
		return newPriorityScheduler(), nil
	case PolicyDeadline:
		return newDeadlineScheduler(deadline), nil
	default:
		return nil, fmt.Errorf("unknown scheduler policy %q", policy)
	}
}

// noopScheduler is the direct-to-queue mode: requests bypass scheduling
// entirely, so nothing is ever queued here.
type noopScheduler struct{}

func (*noopScheduler) Submit(*Request)            {}
func (*noopScheduler) Next() *Request             { return nil }
func (*noopScheduler) PendingCount() int          { return 0 }
func (*noopScheduler) CheckDeadlines() []*Request { return nil }

// fifo is one mutex-protected request lane. Per-queue ordering within a
// lane is strict FIFO.
type fifo struct {
	mu    sync.Mutex
	items []*Request
}

func (f *fifo) push(req *Request) {
	f.mu.Lock()
	f.items = append(f.items, req)
	f.mu.Unlock()
}

func (f *fifo) pop() *Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return nil
	}
	req := f.items[0]
	f.items = f.items[1:]
	return req
}

func (f *fifo) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// expire removes and returns every queued request with a deadline at or
// before now, preserving the order of the survivors.
func (f *fifo) expire(now time.Time) []*Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	var expired []*Request
	kept := f.items[:0]
	for _, req := range f.items {
		if !req.Deadline.IsZero() && !req.Deadline.After(now) {
			expired = append(expired, req)
		} else {
			kept = append(kept, req)
		}
	}
	f.items = kept
	return expired
}

// roundRobinScheduler keeps one FIFO per queue; submissions rotate
// through them with a wrapping counter, and Next scans from the counter
// position until a lane yields a request.
type roundRobinScheduler struct {
	lanes   []fifo
	nextSub uint32
	nextPop uint32
	mu      sync.Mutex
}

func newRoundRobinScheduler(numQueues int) *roundRobinScheduler {
	if numQueues < 1 {
		numQueues = 1
	}
	return &roundRobinScheduler{lanes: make([]fifo, numQueues)}
}

func (s *roundRobinScheduler) Submit(req *Request) {
	s.mu.Lock()
	lane := s.nextSub % uint32(len(s.lanes))
	s.nextSub++
	s.mu.Unlock()

	if req.QueueHint == NoQueueHint {
		req.QueueHint = int(lane)
	}
	s.lanes[lane].push(req)
}

func (s *roundRobinScheduler) Next() *Request {
	s.mu.Lock()
	start := s.nextPop
	s.nextPop++
	s.mu.Unlock()

	n := uint32(len(s.lanes))
	for i := uint32(0); i < n; i++ {
		if req := s.lanes[(start+i)%n].pop(); req != nil {
			return req
		}
	}
	return nil
}

func (s *roundRobinScheduler) PendingCount() int {
	total := 0
	for i := range s.lanes {
		total += s.lanes[i].len()
	}
	return total
}

func (s *roundRobinScheduler) CheckDeadlines() []*Request {
	now := time.Now()
	var expired []*Request
	for i := range s.lanes {
		expired = append(expired, s.lanes[i].expire(now)...)
	}
	return expired
}

// cpuAffinityScheduler keeps one FIFO per queue. Submit honors an
// explicit queue hint, else a CPU-derived index; Next drains the calling
// context's own lane first and then work-steals from the others in
// order, which bounds worst-case starvation to N-1 extra probes.
type cpuAffinityScheduler struct {
	lanes []fifo
}

func newCPUAffinityScheduler(numQueues int) *cpuAffinityScheduler {
	if numQueues < 1 {
		numQueues = 1
	}
	return &cpuAffinityScheduler{lanes: make([]fifo, numQueues)}
}

// cpuIndex derives a stable lane for the calling context. Go does not
// expose the current CPU, so the goroutine stack page stands in as a
// cheap affinity proxy: it is stable for a goroutine's lifetime and
// spreads across goroutines.
func cpuIndex(n int) int {
	var probe byte
	return int((uintptr(unsafe.Pointer(&probe)) >> 12) % uintptr(n))
}

func (s *cpuAffinityScheduler) Submit(req *Request) {
	lane := req.QueueHint
	if lane < 0 || lane >= len(s.lanes) {
		lane = cpuIndex(len(s.lanes))
		req.QueueHint = lane
	}
	s.lanes[lane].push(req)
}

func (s *cpuAffinityScheduler) Next() *Request {
	own := cpuIndex(len(s.lanes))
	if req := s.lanes[own].pop(); req != nil {
		return req
	}
	// Work-stealing pass over the remaining lanes.
	for i := range s.lanes {
		if i == own {
			continue
		}
		if req := s.lanes[i].pop(); req != nil {
			return req
		}
	}
	return nil
}

func (s *cpuAffinityScheduler) PendingCount() int {
	total := 0
	for i := range s.lanes {
		total += s.lanes[i].len()
	}
	return total
}

func (s *cpuAffinityScheduler) CheckDeadlines() []*Request {
	now := time.Now()
	var expired []*Request
	for i := range s.lanes {
		expired = append(expired, s.lanes[i].expire(now)...)
	}
	return expired
}

// priorityScheduler serves three lanes: high (High and Realtime),
// normal, and background. High is preferred, but only while the running
// served ratio high:normal stays within 4:1 when normal work is waiting;
// past that, one normal request is served before resuming high
// preference. Background only drains when both other lanes are empty.
type priorityScheduler struct {
	high       fifo
	normal     fifo
	background fifo

	mu           sync.Mutex
	highServed   uint64
	normalServed uint64
}

// highNormalRatio is the anti-starvation bound on consecutive high
// preference.
const highNormalRatio = 4

func newPriorityScheduler() *priorityScheduler {
	return &priorityScheduler{}
}

func (s *priorityScheduler) Submit(req *Request) {
	switch req.Priority {
	case PriorityHigh, PriorityRealtime:
		s.high.push(req)
	case PriorityBackground:
		s.background.push(req)
	default:
		s.normal.push(req)
	}
}

func (s *priorityScheduler) Next() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	ratioExceeded := s.highServed > highNormalRatio*s.normalServed
	if ratioExceeded && s.normal.len() > 0 {
		if req := s.normal.pop(); req != nil {
			s.normalServed++
			return req
		}
	}
	if req := s.high.pop(); req != nil {
		s.highServed++
		return req
	}
	if req := s.normal.pop(); req != nil {
		s.normalServed++
		return req
	}
	return s.background.pop()
}

func (s *priorityScheduler) PendingCount() int {
	return s.high.len() + s.normal.len() + s.background.len()
}

func (s *priorityScheduler) CheckDeadlines() []*Request {
	now := time.Now()
	var expired []*Request
	expired = append(expired, s.high.expire(now)...)
	expired = append(expired, s.normal.expire(now)...)
	expired = append(expired, s.background.expire(now)...)
	return expired
}
