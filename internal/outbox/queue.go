package outbox

import (
	"container/heap"
	"sync"
	"time"
)

// task is one pending redelivery: which event, which attempt number, and when
// it becomes eligible.
type task struct {
	eventID int64
	attempt int
	at      time.Time
}

type taskHeap []task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)        { *h = append(*h, x.(task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}

// retryQueue orders pending redeliveries by next-eligible-time. push wakes the
// drain loop so a newly scheduled task shortens the current wait.
type retryQueue struct {
	mu   sync.Mutex
	h    taskHeap
	wake chan struct{}
}

func newRetryQueue() *retryQueue {
	return &retryQueue{wake: make(chan struct{}, 1)}
}

func (q *retryQueue) push(t task) {
	q.mu.Lock()
	heap.Push(&q.h, t)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop returns the next due task, or the wait until the earliest task becomes
// due. wait is zero when the queue is empty.
func (q *retryQueue) pop(now time.Time) (*task, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil, 0
	}
	if q.h[0].at.After(now) {
		return nil, q.h[0].at.Sub(now)
	}
	t := heap.Pop(&q.h).(task)
	return &t, 0
}

func (q *retryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
