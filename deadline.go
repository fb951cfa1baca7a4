package nvme

import (
	"container/heap"
	"sync"
	"time"
)

// deadlineScheduler implements earliest-deadline-first dispatch over a
// priority heap. Requests without an explicit deadline receive the
// configured default on submit. Ties break by priority (higher first)
// and then by ascending LBA to favor sequential access.
type deadlineScheduler struct {
	mu              sync.Mutex
	heap            requestHeap
	defaultDeadline time.Duration
}

func newDeadlineScheduler(defaultDeadline time.Duration) *deadlineScheduler {
	return &deadlineScheduler{defaultDeadline: defaultDeadline}
}

func (s *deadlineScheduler) Submit(req *Request) {
	if req.Deadline.IsZero() {
		req.Deadline = time.Now().Add(s.defaultDeadline)
	}
	s.mu.Lock()
	heap.Push(&s.heap, req)
	s.mu.Unlock()
}

func (s *deadlineScheduler) Next() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heap.Len() == 0 {
		return nil
	}
	return heap.Pop(&s.heap).(*Request)
}

func (s *deadlineScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

// CheckDeadlines rebuilds the heap without the entries whose deadline
// has passed and returns those as expired.
func (s *deadlineScheduler) CheckDeadlines() []*Request {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*Request
	kept := s.heap[:0]
	for _, req := range s.heap {
		if !req.Deadline.After(now) {
			expired = append(expired, req)
		} else {
			kept = append(kept, req)
		}
	}
	if len(expired) > 0 {
		s.heap = kept
		heap.Init(&s.heap)
	}
	return expired
}

// requestHeap orders by ascending deadline, then descending priority,
// then ascending LBA.
type requestHeap []*Request

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if !h[i].Deadline.Equal(h[j].Deadline) {
		return h[i].Deadline.Before(h[j].Deadline)
	}
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].LBA < h[j].LBA
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) {
	*h = append(*h, x.(*Request))
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	req := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return req
}
