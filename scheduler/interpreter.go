package scheduler

import (
	"sync/atomic"

	"github.com/tim42/tools-sub000/groupgraph"
	"github.com/tim42/tools-sub000/task"
)

// advance drives the frame interpreter forward by one step on every
// chain that is not currently contended, per spec.md §4.C. It
// short-circuits cheaply if the caller has already observed the
// current global state key, or if the frame lock is held exclusively
// (a reset or a stop callback is in progress elsewhere).
func (m *Manager) advance(ctx *WorkerContext) bool {
	cur := atomic.LoadInt64(&m.globalStateKey)
	if ctx != nil && ctx.primed && ctx.lastSeenStateKey == cur {
		return false
	}

	if !m.frameMu.TryRLock() {
		return false
	}

	did := false
	resetNeeded := false
	for _, c := range m.chains {
		if !c.mu.TryLock() {
			continue
		}
		chainDid, triggersReset := m.advanceChain(c)
		c.mu.Unlock()
		if chainDid {
			did = true
		}
		if triggersReset {
			resetNeeded = true
		}
	}
	m.frameMu.RUnlock()

	if resetNeeded {
		m.resetFrame()
		did = true
	}

	if ctx != nil {
		ctx.lastSeenStateKey = atomic.LoadInt64(&m.globalStateKey)
		ctx.primed = true
	}
	return did
}

// advanceChain dispatches opcodes on c until it hits a blocking
// condition (an unstarted dependency, or the chain's end), looping
// internally through any opcodes that resolve immediately. The second
// return value is true exactly when this call is the one that brought
// every chain to end_chain, and the caller must run resetFrame.
func (m *Manager) advanceChain(c *chainState) (did bool, triggersReset bool) {
	if c.ended {
		return false, false
	}

	for {
		op := m.compiled.Opcodes[c.index]
		switch op.Kind {
		case groupgraph.OpDeclareChainIndex:
			c.index++

		case groupgraph.OpExecuteTaskGroup:
			gid := task.GroupID(op.Arg)
			g := m.groups[gid]

			g.setWillStart(true)
			g.runStartCallback()
			staged := atomic.SwapInt64(&g.tasksThatCanRun, 0)
			if staged > 0 {
				atomic.AddInt64(&m.readyCount, staged)
			}
			g.setStarted(true)
			g.setWillStart(false)

			c.index++
			did = true

		case groupgraph.OpWaitTaskGroup:
			gid := task.GroupID(op.Arg)
			g := m.groups[gid]

			if !g.started() {
				return did, false
			}
			if g.completed() {
				c.index++
				did = true
				continue
			}
			if atomic.LoadInt64(&g.remainingTasks) == 0 {
				if g.markCompletedOnce() {
					g.runEndCallback()
					atomic.AddInt64(&m.globalStateKey, 1)
				}
				c.index++
				did = true
				continue
			}
			return did, false

		case groupgraph.OpEndChain:
			c.ended = true
			did = true
			return did, atomic.AddInt32(&m.endedChains, 1) == int32(len(m.chains))

		default:
			panic("scheduler: invalid opcode in compiled graph")
		}
	}
}

// resetFrame performs the exclusive end-of-frame transition: it takes
// the frame lock and every chain lock (fixed iteration order, so no
// two callers can deadlock against each other), checks for a pending
// stop request, and otherwise rewinds every chain and group back to
// their initial-frame state and bumps the frame key.
func (m *Manager) resetFrame() {
	m.frameMu.Lock()
	defer m.frameMu.Unlock()

	for _, c := range m.chains {
		c.mu.Lock()
	}
	defer func() {
		for _, c := range m.chains {
			c.mu.Unlock()
		}
	}()

	if m.maybeRunOnStopped() {
		return
	}

	for i, g := range m.groups {
		if task.GroupID(i) == task.GroupLongDuration {
			continue
		}
		if atomic.LoadInt64(&g.remainingTasks) != 0 || !g.completed() {
			panic("scheduler: frame reset with an incomplete task group")
		}
		g.resetForNextFrame()
	}
	m.groups[task.GroupLongDuration].setStarted(true)

	for _, c := range m.chains {
		c.resetForNextFrame()
	}

	atomic.AddInt64(&m.frameKey, 1)
	atomic.StoreInt32(&m.endedChains, 0)
	atomic.AddInt64(&m.globalStateKey, 1)
}
