package scheduler

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/tim42/tools-sub000/task"
)

// SelectionMode controls how getTaskToRun treats named-thread affinity.
type SelectionMode int

const (
	// ModeNormal honors affinity as configured: a named thread skips
	// tasks restricted to a different name, and a generic worker
	// skips every affinity-restricted group.
	ModeNormal SelectionMode = iota
	// ModeOnlyOwnTasks makes a named thread refuse every task not
	// explicitly restricted to it, including otherwise-unrestricted
	// groups.
	ModeOnlyOwnTasks
	// ModeAnything ignores affinity entirely.
	ModeAnything
)

// WorkerContext is the explicit, caller-held value a goroutine
// threads through every worker-API call. The original scheduler
// stashes the equivalent state (current group, current thread) in
// thread-local storage; Go goroutines are not pinned to OS threads and
// have no per-goroutine storage, so this module makes that state an
// explicit parameter instead. This is a deliberate, spec-deviating
// design choice, not an oversight.
type WorkerContext struct {
	// CurrentThread identifies this worker if it is a named thread,
	// or task.ThreadNone for a generic worker.
	CurrentThread task.ThreadID
	// CurrentGroup is set by the manager while a task is running on
	// this context, and restored to task.GroupInvalid otherwise.
	CurrentGroup task.GroupID

	rotate           int
	lastSeenStateKey int64
	primed           bool
}

// NewWorkerContext returns a WorkerContext for a generic worker. Use
// the CurrentThread field directly (or a constructor of your own) to
// identify a named thread.
func NewWorkerContext() *WorkerContext {
	return &WorkerContext{CurrentThread: task.ThreadNone, CurrentGroup: task.GroupInvalid}
}

// getTaskToRun scans the groups (and the long-duration group, unless
// excludeLongDuration) starting from ctx's rotating index, honoring
// affinity per mode, and pops the first ready task it finds.
func (m *Manager) getTaskToRun(ctx *WorkerContext, excludeLongDuration bool, mode SelectionMode) (*task.Task, task.GroupID, bool) {
	// A named thread's own long-duration queue is always fair game for
	// that thread: it exists only because tasks were explicitly
	// targeted at this thread by id, which affinity modes have no
	// further opinion about.
	if !excludeLongDuration && ctx.CurrentThread != task.ThreadNone {
		if t, ok := m.tryPopThreadQueue(ctx.CurrentThread); ok {
			return t, task.GroupLongDuration, true
		}
	}

	n := len(m.groups)
	if n == 0 {
		return nil, task.GroupInvalid, false
	}

	for i := 0; i < n; i++ {
		idx := (ctx.rotate + i) % n
		gid := task.GroupID(idx)
		g := m.groups[idx]

		if gid == task.GroupLongDuration {
			if excludeLongDuration {
				continue
			}
		} else {
			if !g.started() || g.completed() {
				continue
			}
		}

		restricted := g.cfg.RestrictToNamedThread
		switch mode {
		case ModeAnything:
		case ModeOnlyOwnTasks:
			if restricted != ctx.CurrentThread || restricted == task.ThreadNone {
				continue
			}
		default: // ModeNormal
			if restricted != task.ThreadNone && restricted != ctx.CurrentThread {
				continue
			}
			// An unrestricted group is only fair game for a named
			// thread if it was configured to also run generic work.
			if restricted == task.ThreadNone && ctx.CurrentThread != task.ThreadNone {
				cfg := m.threads.config(ctx.CurrentThread)
				if gid == task.GroupLongDuration {
					if !cfg.CanRunGeneralLongDurationTasks {
						continue
					}
				} else if !cfg.CanRunGeneralTasks {
					continue
				}
			}
		}

		if t, ok := m.tryPopGroup(g); ok {
			ctx.rotate = idx + 1
			return t, gid, true
		}
	}
	return nil, task.GroupInvalid, false
}

// tryPopGroup pops a task from g's queue, gated by the manager-wide
// ready counter: the counter is only a hint (peeked first as a cheap
// gate), and is only decremented after an actual successful pop,
// matching spec.md §5's "fetch_sub is only committed after a
// successful pop".
func (m *Manager) tryPopGroup(g *groupState) (*task.Task, bool) {
	if atomic.LoadInt64(&m.readyCount) <= 0 {
		return nil, false
	}
	t, ok := g.queue.tryPop()
	if !ok {
		return nil, false
	}
	atomic.AddInt64(&m.readyCount, -1)
	return t, true
}

// tryPopThreadQueue pops a task from the named thread id's own
// long-duration queue, gated by the same manager-wide ready counter
// tryPopGroup uses.
func (m *Manager) tryPopThreadQueue(id task.ThreadID) (*task.Task, bool) {
	if int(id) >= len(m.threadQueues) {
		return nil, false
	}
	if atomic.LoadInt64(&m.readyCount) <= 0 {
		return nil, false
	}
	t, ok := m.threadQueues[id].tryPop()
	if !ok {
		return nil, false
	}
	atomic.AddInt64(&m.readyCount, -1)
	return t, true
}

// RunATask offers ctx's goroutine to the scheduler for one unit of
// work: it first tries to advance the frame interpreter, and only if
// that did nothing useful does it pop and run a single ready task. It
// returns true if it did anything at all.
func (m *Manager) RunATask(ctx *WorkerContext, excludeLongDuration bool, mode SelectionMode) bool {
	if m.advance(ctx) {
		return true
	}

	m.pollDelayed()

	t, gid, ok := m.getTaskToRun(ctx, excludeLongDuration, mode)
	if !ok {
		return false
	}

	prevGroup := ctx.CurrentGroup
	ctx.CurrentGroup = gid
	t.Run()
	ctx.CurrentGroup = prevGroup

	m.taskCompleted(gid)
	return true
}

const (
	waitSpinThreshold = 64
	waitYieldRounds   = 32
	waitSleepStep     = 100 * time.Microsecond
)

// WaitForATask offers ctx's goroutine to the scheduler until some work
// becomes available, spinning briefly, then yielding, then sleeping in
// short increments, per spec.md §4.D. It returns early if the frame
// key changes underneath it or if the manager asks threads to exit
// their wait.
func (m *Manager) WaitForATask(ctx *WorkerContext) {
	startFrame := m.CurrentFrameKey()

	for spins := 0; ; spins++ {
		if m.ShouldThreadsExitWait() {
			return
		}
		if atomic.LoadInt64(&m.readyCount) > 0 {
			return
		}
		if m.advance(ctx) {
			return
		}
		if m.CurrentFrameKey() != startFrame {
			return
		}

		switch {
		case spins < waitSpinThreshold:
			// busy spin
		case spins < waitSpinThreshold+waitYieldRounds:
			runtime.Gosched()
		default:
			time.Sleep(waitSleepStep)
		}
	}
}

// ActivelyWaitFor runs tasks until m fires, per spec.md §4.D. If
// group is not task.GroupInvalid, ActivelyWaitFor asserts that the
// group has already started: waiting on a marker from a group that
// has not yet been allowed to run is the most common deadlock this
// API can construct, and is refused eagerly rather than hung
// silently. Calling this from within a running task is only safe when
// the marker's group matches ctx.CurrentGroup; nested waits across
// different groups deadlock by construction (see DESIGN.md OQ-3).
func (m *Manager) ActivelyWaitFor(ctx *WorkerContext, marker *task.Marker, group task.GroupID) {
	if group != task.GroupInvalid && !m.groups[group].started() {
		panic("scheduler: ActivelyWaitFor called for a group that has not started")
	}
	if group != task.GroupInvalid && ctx.CurrentGroup != task.GroupInvalid && ctx.CurrentGroup != group {
		panic("scheduler: nested ActivelyWaitFor across different groups deadlocks")
	}

	for !marker.IsSignaled() {
		if !m.RunATask(ctx, false, ModeNormal) {
			m.WaitForATask(ctx)
		}
	}
}

// RunTasks executes ready tasks until d elapses or until K=16
// consecutive attempts find no work, whichever comes first. It
// returns the duration actually spent: less than d when it stops for
// lack of work, and possibly more than d, since elapsed time is only
// checked before starting each task and a started task runs to the
// end.
func (m *Manager) RunTasks(ctx *WorkerContext, d time.Duration) time.Duration {
	const maxIdleAttempts = 16
	start := time.Now()
	idle := 0

	for {
		elapsed := time.Since(start)
		if elapsed >= d {
			return elapsed
		}
		if !m.RunATask(ctx, false, ModeNormal) {
			idle++
			if idle >= maxIdleAttempts {
				return time.Since(start)
			}
			continue
		}
		idle = 0
	}
}
