package scheduler

import (
	"sync"

	"github.com/tim42/tools-sub000/task"
)

// taskQueue is a group's (or named thread's) FIFO of ready tasks. It
// is a plain mutex-guarded slice rather than a lock-free ring buffer:
// the manager-wide ready counter in Manager is the fast, conservative
// signal idle workers spin on, so contention on any single queue's
// mutex is expected to be rare and brief, matching the hot/cold split
// the original scheduler's MPMC queue makes between its atomic counter
// and its backing storage.
type taskQueue struct {
	mu  sync.Mutex
	buf []*task.Task
}

func (q *taskQueue) push(t *task.Task) {
	q.mu.Lock()
	q.buf = append(q.buf, t)
	q.mu.Unlock()
}

// tryPop removes and returns the oldest task in the queue, or
// (nil, false) if the queue is currently empty.
func (q *taskQueue) tryPop() (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return nil, false
	}
	t := q.buf[0]
	q.buf[0] = nil
	q.buf = q.buf[1:]
	return t, true
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
