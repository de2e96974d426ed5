package task

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// MaxReverseDeps bounds the number of tasks that may directly depend on
// any single task. It is a compile-time cap, not a dynamic limit, so
// that notifying dependents on completion never allocates.
const MaxReverseDeps = 32

// Sentinel values for Task.dependencies. Any value strictly less than
// stateCompleted (the smallest sentinel) is a literal count of
// unresolved prerequisites.
const (
	stateWaitingToRun uint32 = 1<<32 - 1 - iota
	stateRunning
	stateCompleted
)

// Manager is the subset of the scheduler a Task needs to call back
// into: routing itself onto a run queue once it becomes ready, and
// reporting the frame generation a transient task was created in.
//
// Task lives below the scheduler in the import graph, so this is
// expressed as an interface rather than a direct dependency.
type Manager interface {
	EnqueueReady(t *Task)
	CurrentFrameKey() FrameKey
	Warnf(format string, args ...any)
}

// Task is a single unit of work: a callable, a count of unresolved
// dependencies, and the bounded list of tasks that depend on it.
//
// A Task is obtained already "held" (see heldByWrapper below) and must
// have Release called on it exactly once, typically via a deferred
// call right after creation, once the caller has finished wiring its
// dependencies. Go has no destructors, so Release stands in for the
// RAII handle the original scheduler returns from task creation.
type Task struct {
	mgr Manager

	fn    func()
	group GroupID

	// frameKey snapshots the frame generation at creation time for
	// transient tasks (group != GroupLongDuration). A mismatch
	// between a task's frameKey and the manager's current one when
	// the task is wired or run means it outlived its frame.
	frameKey FrameKey

	// targetThread is ThreadNone for every task except a long-duration
	// task created with NewLongDurationForThread, which must only ever
	// be popped by the worker pinned to that named thread.
	targetThread ThreadID

	mu            sync.Mutex
	dependencies  uint32
	reverseDeps   [MaxReverseDeps]*Task
	reverseDepN   int
	heldByWrapper bool
	marker        *Marker
}

// New constructs a transient task bound to group and the manager's
// current frame, wrapping fn. The returned Task is held; call Release
// once it is fully wired.
func New(mgr Manager, group GroupID, fn func()) *Task {
	if group == GroupLongDuration {
		panic("task.New: use NewLongDuration for group 0")
	}
	return &Task{
		mgr:           mgr,
		fn:            fn,
		group:         group,
		frameKey:      mgr.CurrentFrameKey(),
		dependencies:  0,
		heldByWrapper: true,
	}
}

// NewLongDuration constructs a task that is not tied to any frame and
// may outlive many frame resets. The returned Task is held; call
// Release once it is fully wired.
func NewLongDuration(mgr Manager, fn func()) *Task {
	return &Task{
		mgr:           mgr,
		fn:            fn,
		group:         GroupLongDuration,
		heldByWrapper: true,
	}
}

// NewLongDurationForThread constructs a long-duration task restricted
// to run on the named thread identified by threadID. The returned
// Task is held; call Release once it is fully wired.
func NewLongDurationForThread(mgr Manager, threadID ThreadID, fn func()) *Task {
	return &Task{
		mgr:           mgr,
		fn:            fn,
		group:         GroupLongDuration,
		targetThread:  threadID,
		heldByWrapper: true,
	}
}

// Group returns the group this task belongs to.
func (t *Task) Group() GroupID { return t.group }

// TargetThread returns the named thread this task must run on, or
// ThreadNone if it may run on any worker eligible to take
// long-duration work.
func (t *Task) TargetThread() ThreadID { return t.targetThread }

// IsLongDuration reports whether this task is exempt from frame-key
// checks.
func (t *Task) IsLongDuration() bool { return t.group == GroupLongDuration }

func (t *Task) depState() uint32 {
	return atomic.LoadUint32(&t.dependencies)
}

// IsCompleted reports whether the task has finished running.
func (t *Task) IsCompleted() bool { return t.depState() == stateCompleted }

// IsRunning reports whether the task is currently executing.
func (t *Task) IsRunning() bool { return t.depState() == stateRunning }

// IsWaitingToRun reports whether the task has no unresolved
// dependencies and is sitting on (or about to be pushed onto) a run
// queue.
func (t *Task) IsWaitingToRun() bool { return t.depState() == stateWaitingToRun }

// CanRun reports whether the task has no unresolved dependencies, i.e.
// whether it is eligible to be queued once released.
func (t *Task) CanRun() bool {
	return t.depState() == 0
}

func (t *Task) checkFrame(label string) {
	if t.IsLongDuration() {
		return
	}
	if t.frameKey != t.mgr.CurrentFrameKey() {
		panic(fmt.Sprintf("task: %s used a transient task outside the frame it was created in", label))
	}
}

// AddDependencyTo makes t wait for other to complete before t can run.
// t and other must belong to the same group. t must not already be
// running, waiting to run, or completed, and other must not be waiting
// to run. other may be running (as when Then is called from inside
// other's own function). A dependency on an already-completed task is
// permitted and is dropped with a warning: it cannot change t's
// readiness since other has nothing left to notify t about.
func (t *Task) AddDependencyTo(other *Task) {
	if t == other {
		panic("task: a task cannot depend on itself")
	}
	if t.group != other.group {
		panic("task: cross-group dependency")
	}
	t.checkFrame("AddDependencyTo")
	other.checkFrame("AddDependencyTo")

	switch t.depState() {
	case stateRunning, stateCompleted, stateWaitingToRun:
		panic("task: cannot add a dependency to a task that is already running, waiting to run, or completed")
	}

	other.mu.Lock()
	if other.depState() == stateCompleted {
		other.mu.Unlock()
		t.mgr.Warnf("task: dependency added on an already-completed task, ignored")
		return
	}
	if other.depState() == stateWaitingToRun {
		other.mu.Unlock()
		panic("task: cannot add a dependency on a task that is already waiting to run")
	}
	if other.reverseDepN == MaxReverseDeps {
		other.mu.Unlock()
		panic("task: reverse dependency list is full")
	}
	other.reverseDeps[other.reverseDepN] = t
	other.reverseDepN++
	other.mu.Unlock()

	atomic.AddUint32(&t.dependencies, 1)
}

// Then allocates a new task in the same group, wired to run only
// after t completes, and returns it held. The caller must Release the
// returned task once it has finished wiring any further dependencies.
func (t *Task) Then(fn func()) *Task {
	var next *Task
	if t.IsLongDuration() {
		if t.targetThread != ThreadNone {
			next = NewLongDurationForThread(t.mgr, t.targetThread, fn)
		} else {
			next = NewLongDuration(t.mgr, fn)
		}
	} else {
		next = New(t.mgr, t.group, fn)
	}
	next.AddDependencyTo(t)
	return next
}

// SignalMarker attaches a completion marker to t. At most one marker
// may be attached to a task; attaching a second one panics.
func (t *Task) SignalMarker(m *Marker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.marker != nil {
		panic("task: a task may only have one marker")
	}
	t.marker = m
}

// Release marks t as fully wired. If t has no unresolved dependencies
// it becomes eligible to run and is handed to the manager.
func (t *Task) Release() {
	t.mu.Lock()
	t.heldByWrapper = false
	ready := t.depState() == 0
	t.mu.Unlock()
	if ready {
		t.enqueue()
	}
}

func (t *Task) enqueue() {
	if !atomic.CompareAndSwapUint32(&t.dependencies, 0, stateWaitingToRun) {
		return
	}
	t.mgr.EnqueueReady(t)
}

// notifyDependents decrements the dependency count of every task that
// depends on t, releasing onto the manager's run queue any that reach
// zero outstanding dependencies and are not held.
func (t *Task) notifyDependents() {
	t.mu.Lock()
	deps := t.reverseDeps[:t.reverseDepN]
	t.mu.Unlock()

	for _, d := range deps {
		d.mu.Lock()
		remaining := atomic.AddUint32(&d.dependencies, ^uint32(0)) // -1
		held := d.heldByWrapper
		d.mu.Unlock()
		if remaining == 0 && !held {
			d.enqueue()
		}
	}
}

// Run executes the task's function and notifies every dependent task.
// It is called by the scheduler after popping t from a run queue and
// must only be called once per task, when t.IsWaitingToRun() is true
// and t is not held by a wrapper.
func (t *Task) Run() {
	if !atomic.CompareAndSwapUint32(&t.dependencies, stateWaitingToRun, stateRunning) {
		panic("task: Run called on a task that was not waiting to run")
	}
	t.checkFrame("Run")

	t.fn()

	t.mu.Lock()
	atomic.StoreUint32(&t.dependencies, stateCompleted)
	m := t.marker
	t.mu.Unlock()

	t.notifyDependents()

	if m != nil {
		m.signal()
	}
}
