package task

import (
	"sync"
	"sync/atomic"
)

// Marker is a completion latch that can be attached to a task with
// SignalMarker and waited on from any goroutine. It plays the role the
// original scheduler's task_completion_marker_ptr_t plays for the
// "wait for this specific task" case, adapted to a reusable,
// pool-backed handle since Go has no RAII to release it automatically.
type Marker struct {
	done int32
	ch   chan struct{}
}

var markerPool = sync.Pool{
	New: func() any {
		return &Marker{}
	},
}

// NewMarker returns a ready-to-attach Marker. Callers should return it
// to the pool with Put once it has been waited on and is no longer
// needed, to avoid allocating a fresh Marker per task. The completion
// channel itself is not reusable once closed, so it is allocated fresh
// each time a pooled Marker is handed out.
func NewMarker() *Marker {
	m := markerPool.Get().(*Marker)
	atomic.StoreInt32(&m.done, 0)
	m.ch = make(chan struct{})
	return m
}

// Put returns m to the pool. m must not be signaled or waited on
// again afterwards. Put panics if m has not been signaled: destroying
// an incomplete marker is a programmer error, not a race to paper
// over.
func (m *Marker) Put() {
	if atomic.LoadInt32(&m.done) == 0 {
		panic("task: destroying an incomplete marker")
	}
	markerPool.Put(m)
}

// IsSignaled reports whether the task this marker is attached to has
// completed.
func (m *Marker) IsSignaled() bool {
	return atomic.LoadInt32(&m.done) != 0
}

// Wait blocks until the task this marker is attached to completes.
func (m *Marker) Wait() {
	if m.IsSignaled() {
		return
	}
	<-m.ch
}

// Chan returns a channel that is closed once the task this marker is
// attached to completes, for use in a select alongside other events.
func (m *Marker) Chan() <-chan struct{} {
	return m.ch
}

func (m *Marker) signal() {
	if atomic.CompareAndSwapInt32(&m.done, 0, 1) {
		close(m.ch)
	}
}
