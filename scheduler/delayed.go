package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/tim42/tools-sub000/task"
)

// delayedEntry pairs a long-duration task with the earliest time it
// may run. Per spec.md §4.E, delayed tasks are best-effort, lowest
// priority, and not required to use a particularly fast data
// structure; container/heap's priority queue is the stdlib's idiomatic
// choice for this and needs no third-party dependency to justify.
type delayedEntry struct {
	at   time.Time
	t    *task.Task
	gid  task.GroupID
	heap int
}

type delayedHeap []*delayedEntry

func (h delayedHeap) Len() int            { return len(h) }
func (h delayedHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h delayedHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].heap, h[j].heap = i, j }
func (h *delayedHeap) Push(x interface{}) { e := x.(*delayedEntry); e.heap = len(*h); *h = append(*h, e) }
func (h *delayedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// delayedQueue holds long-duration tasks that must not run before a
// given time. pollReady moves every entry whose time has come onto
// the manager's ready path.
type delayedQueue struct {
	mu sync.Mutex
	h  delayedHeap
}

func newDelayedQueue() *delayedQueue {
	return &delayedQueue{}
}

func (q *delayedQueue) add(t *task.Task, at time.Time) {
	q.mu.Lock()
	heap.Push(&q.h, &delayedEntry{at: at, t: t, gid: task.GroupLongDuration})
	q.mu.Unlock()
}

// pollReady pops and returns every entry whose deadline is at or
// before now, in deadline order.
func (q *delayedQueue) pollReady(now time.Time) []*task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []*task.Task
	for len(q.h) > 0 && !q.h[0].at.After(now) {
		e := heap.Pop(&q.h).(*delayedEntry)
		ready = append(ready, e.t)
	}
	return ready
}

func (q *delayedQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
