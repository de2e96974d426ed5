package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/tim42/tools-sub000/groupgraph"
)

// groupState is the runtime counterpart of a groupgraph.GroupConfig:
// the atomics and queue the frame interpreter and worker loop drive a
// single task group through, per spec.md §3.3.
type groupState struct {
	cfg   groupgraph.GroupConfig
	queue taskQueue

	remainingTasks  int64 // atomic: tasks created - tasks destroyed
	tasksThatCanRun int64 // atomic: staged ready count while !isStarted

	isStarted   int32 // atomic bool
	willStart   int32 // atomic bool
	isCompleted int32 // atomic bool

	startCallback atomic.Value // func()
	endCallback   atomic.Value // func()
}

func (g *groupState) started() bool   { return atomic.LoadInt32(&g.isStarted) != 0 }
func (g *groupState) completed() bool { return atomic.LoadInt32(&g.isCompleted) != 0 }

func (g *groupState) setStarted(v bool)   { atomic.StoreInt32(&g.isStarted, b2i(v)) }
func (g *groupState) setWillStart(v bool) { atomic.StoreInt32(&g.willStart, b2i(v)) }

// markCompletedOnce transitions the group to completed, returning true
// only for the caller that actually performed the transition: exactly
// one chain runs the group's end callback, per spec.md §3.3/§4.C.
func (g *groupState) markCompletedOnce() bool {
	return atomic.CompareAndSwapInt32(&g.isCompleted, 0, 1)
}

func (g *groupState) resetForNextFrame() {
	atomic.StoreInt32(&g.isStarted, 0)
	atomic.StoreInt32(&g.isCompleted, 0)
	atomic.StoreInt32(&g.willStart, 0)
}

func (g *groupState) setStartCallback(fn func()) { g.startCallback.Store(fn) }
func (g *groupState) setEndCallback(fn func())   { g.endCallback.Store(fn) }

func (g *groupState) runStartCallback() {
	if fn, ok := g.startCallback.Load().(func()); ok && fn != nil {
		fn()
	}
}

func (g *groupState) runEndCallback() {
	if fn, ok := g.endCallback.Load().(func()); ok && fn != nil {
		fn()
	}
}

func b2i(v bool) int32 {
	if v {
		return 1
	}
	return 0
}

// chainState is one execution chain's cursor over the shared opcode
// stream: an opcode index, an ended flag, and the lock that makes
// chain advancement single-threaded, per spec.md §3.4.
type chainState struct {
	mu      sync.Mutex
	index   int
	startOp int
	ended   bool
}

func (c *chainState) resetForNextFrame() {
	c.index = c.startOp
	c.ended = false
}
