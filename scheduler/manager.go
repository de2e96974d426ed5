// Package scheduler implements the task-manager runtime: per-group,
// per-chain and per-thread state, the MPMC-ish ready queues, the frame
// interpreter, and the worker API a goroutine uses to offer its time
// to the scheduler.
package scheduler

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tim42/tools-sub000/groupgraph"
	"github.com/tim42/tools-sub000/task"
)

// Config configures a Manager at construction time.
type Config struct {
	// Logger receives CapacityWarning/TransientRuntimeWarning
	// messages. Defaults to a wrapper around log.Default().
	Logger Logger
	// EnsureOnTaskInsertion makes GetTask panic if the target group is
	// not currently started or being started (will_start), restoring
	// task_manager.hpp's should_ensure_on_task_insertion debug toggle.
	EnsureOnTaskInsertion bool
}

// Manager is the runtime that drives a compiled task-group graph
// through repeated frames and hands tasks to worker goroutines.
type Manager struct {
	logger                Logger
	ensureOnTaskInsertion int32 // atomic bool

	compiled *groupgraph.CompiledGraph
	threads  *ThreadsConfig

	groups []*groupState // indexed by task.GroupID; 0 is long-duration
	chains []*chainState

	// threadQueues holds long-duration tasks targeted at a specific
	// named thread (see GetLongDurationTaskForThread), indexed by
	// task.ThreadID. A task pushed here is never visible to any other
	// worker's getTaskToRun scan.
	threadQueues []taskQueue

	frameMu sync.RWMutex // exclusive during reset/stop, shared during advance

	frameKey       int64 // atomic task.FrameKey
	globalStateKey int64 // atomic, bumped on any observable group transition
	readyCount     int64 // atomic, manager-wide conservative "has ready work" hint
	endedChains    int32 // atomic count of chains that reached end_chain this frame

	delayed *delayedQueue

	stopMu          sync.Mutex
	stopRequested   bool
	onStopped       func()
	flushAllDelayed bool
	exitWait        int32 // atomic bool, should_threads_exit_wait
}

// NewManager creates an unloaded Manager. Call Load before running
// any worker.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = stdLogger{l: log.Default()}
	}
	return &Manager{
		logger:                logger,
		ensureOnTaskInsertion: b2i(cfg.EnsureOnTaskInsertion),
		delayed:               newDelayedQueue(),
	}
}

// Load installs a compiled graph and named-thread configuration,
// (re)initializing all runtime state. Load must not be called while
// any worker is active.
func (m *Manager) Load(cg *groupgraph.CompiledGraph, threads *ThreadsConfig) {
	if threads == nil {
		threads = NewThreadsConfig()
	}

	m.compiled = cg
	m.threads = threads
	m.threadQueues = make([]taskQueue, len(threads.configs))

	m.groups = make([]*groupState, len(cg.Groups))
	for i, gc := range cg.Groups {
		m.groups[i] = &groupState{cfg: gc}
	}
	// the long-duration group is always started and never completes.
	m.groups[task.GroupLongDuration].setStarted(true)

	starts := chainStarts(cg.Opcodes)
	m.chains = make([]*chainState, len(starts))
	for i, start := range starts {
		m.chains[i] = &chainState{index: start, startOp: start}
	}

	atomic.StoreInt64(&m.frameKey, 0)
	atomic.StoreInt64(&m.globalStateKey, 0)
	atomic.StoreInt64(&m.readyCount, 0)
	atomic.StoreInt32(&m.endedChains, 0)
}

// chainStarts scans a compiled opcode stream for each OpDeclareChainIndex
// and returns, for each chain in order, the index of its first
// effective opcode (the one right after its declaration).
func chainStarts(ops []groupgraph.Opcode) []int {
	var starts []int
	for i, op := range ops {
		if op.Kind == groupgraph.OpDeclareChainIndex {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// CurrentFrameKey implements task.Manager.
func (m *Manager) CurrentFrameKey() task.FrameKey {
	return task.FrameKey(atomic.LoadInt64(&m.frameKey)) & task.FrameKeyMask
}

// EnqueueReady implements task.Manager: it is called whenever a task
// transitions from "has unmet dependencies" to ready. The task is
// pushed onto its group's queue; if the group has not started yet,
// the group's staged tasksThatCanRun counter is incremented instead of
// the manager-wide ready counter, per spec.md §3.3's staged-wakeup
// design, and is transferred in bulk when the group starts.
func (m *Manager) EnqueueReady(t *task.Task) {
	if tid := t.TargetThread(); t.Group() == task.GroupLongDuration && tid != task.ThreadNone {
		m.threadQueues[tid].push(t)
		atomic.AddInt64(&m.readyCount, 1)
		return
	}

	g := m.groups[t.Group()]
	g.queue.push(t)
	if t.Group() != task.GroupLongDuration && !g.started() {
		atomic.AddInt64(&g.tasksThatCanRun, 1)
	} else {
		atomic.AddInt64(&m.readyCount, 1)
	}
}

// GetTask creates a transient task in group, wrapping fn. The
// returned task is held; the caller must call Release on it (commonly
// via defer) once any dependencies have been wired.
func (m *Manager) GetTask(group task.GroupID, fn func()) *task.Task {
	if int(group) >= len(m.groups) || group == task.GroupLongDuration {
		panic("scheduler: GetTask called with an invalid or long-duration group id")
	}
	g := m.groups[group]
	if g.completed() {
		panic(fmt.Sprintf("scheduler: GetTask called for task group %d, which has already completed this frame", group))
	}
	if atomic.LoadInt32(&m.ensureOnTaskInsertion) != 0 && !g.started() && atomic.LoadInt32(&g.willStart) == 0 {
		panic("scheduler: GetTask called for a group that has not started")
	}
	atomic.AddInt64(&g.remainingTasks, 1)
	return task.New(m, group, fn)
}

// GetLongDurationTask creates a task in the reserved long-duration
// group. It is not tied to any frame and may complete at any point in
// the manager's lifetime.
func (m *Manager) GetLongDurationTask(fn func()) *task.Task {
	atomic.AddInt64(&m.groups[task.GroupLongDuration].remainingTasks, 1)
	return task.NewLongDuration(m, fn)
}

// GetLongDurationTaskForThread creates a long-duration task restricted
// to run on the named thread threadID. It is only ever dispatched to
// the worker whose WorkerContext.CurrentThread equals threadID, never
// to a generic worker or a different named thread, regardless of
// SelectionMode. threadID must have been registered with the
// ThreadsConfig passed to Load.
func (m *Manager) GetLongDurationTaskForThread(threadID task.ThreadID, fn func()) *task.Task {
	if int(threadID) >= len(m.threadQueues) {
		panic("scheduler: GetLongDurationTaskForThread called with an unregistered thread id")
	}
	atomic.AddInt64(&m.groups[task.GroupLongDuration].remainingTasks, 1)
	return task.NewLongDurationForThread(m, threadID, fn)
}

// GetDelayedTask creates a long-duration task that will not be
// enqueued until at least delay has elapsed. It is moved onto the
// ready path the next time a worker polls delayed tasks (see
// pollDelayed, which RunATask calls before each task selection).
func (m *Manager) GetDelayedTask(delay time.Duration, fn func()) *task.Task {
	atomic.AddInt64(&m.groups[task.GroupLongDuration].remainingTasks, 1)
	t := task.NewLongDuration(m, fn)
	m.delayed.add(t, time.Now().Add(delay))
	return t
}

// SetStartTaskGroupCallback installs fn to run exactly once per frame,
// immediately before any task of group is dispatched to a worker.
func (m *Manager) SetStartTaskGroupCallback(group task.GroupID, fn func()) {
	m.groups[group].setStartCallback(fn)
}

// SetEndTaskGroupCallback installs fn to run exactly once per frame,
// strictly after every task of group has completed.
func (m *Manager) SetEndTaskGroupCallback(group task.GroupID, fn func()) {
	m.groups[group].setEndCallback(fn)
}

func (m *Manager) taskCompleted(group task.GroupID) {
	if atomic.AddInt64(&m.groups[group].remainingTasks, -1) == 0 {
		// a wait_task_group on this group can now make progress, so
		// workers that already saw the old state key must advance again
		atomic.AddInt64(&m.globalStateKey, 1)
	}
}

// pollDelayed moves every delayed task whose deadline has passed onto
// the long-duration group's ready queue. RunATask calls it each time
// the frame interpreter had nothing to advance, right before it
// selects a task to run.
func (m *Manager) pollDelayed() {
	for _, t := range m.delayed.pollReady(time.Now()) {
		t.Release()
	}
}

// HasPendingTasks reports whether any group has tasks that have not
// yet been destroyed (created but not completed).
func (m *Manager) HasPendingTasks() bool {
	return m.PendingTaskCount() > 0
}

// PendingTaskCount sums remainingTasks across every group.
func (m *Manager) PendingTaskCount() int {
	total := 0
	for _, g := range m.groups {
		total += int(atomic.LoadInt64(&g.remainingTasks))
	}
	return total
}

// HasRunningTasks reports whether any group, the long-duration group
// included, still has tasks that were created but have not completed.
// It does not look at chain state.
func (m *Manager) HasRunningTasks() bool {
	for _, g := range m.groups {
		if atomic.LoadInt64(&g.remainingTasks) > 0 {
			return true
		}
	}
	return false
}
