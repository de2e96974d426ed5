package scheduler

import (
	"sync/atomic"
	"time"
)

// farFuture is used to drain every remaining delayed task regardless
// of its deadline when a stop requests flushAllDelayed.
func farFuture() time.Time {
	return time.Now().Add(100 * 365 * 24 * time.Hour)
}

// RequestStop asks the manager to stop after the current frame
// completes. onStopped runs under the frame lock at the next
// end-of-frame, with the frame graph frozen, so it can safely inspect
// or tear down manager state; flushAllDelayed controls whether
// pending delayed tasks should still be allowed to run or are left
// for a post-shutdown drain.
func (m *Manager) RequestStop(onStopped func(), flushAllDelayed bool) {
	m.stopMu.Lock()
	defer m.stopMu.Unlock()
	m.stopRequested = true
	m.onStopped = onStopped
	m.flushAllDelayed = flushAllDelayed
}

// TryRequestStop is the non-blocking variant of RequestStop: it
// returns false instead of blocking if the internal stopping lock is
// contended, restoring task_manager.hpp's try_request_stop.
func (m *Manager) TryRequestStop(onStopped func(), flushAllDelayed bool) bool {
	if !m.stopMu.TryLock() {
		return false
	}
	defer m.stopMu.Unlock()
	m.stopRequested = true
	m.onStopped = onStopped
	m.flushAllDelayed = flushAllDelayed
	return true
}

// IsStopRequested reports whether a stop requested by RequestStop or
// TryRequestStop is still pending. It returns false again once the
// stop has been serviced at the end of a frame.
func (m *Manager) IsStopRequested() bool {
	m.stopMu.Lock()
	defer m.stopMu.Unlock()
	return m.stopRequested
}

// ShouldThreadsExitWait tells WaitForATask and RunTasks to return
// promptly instead of sleeping, so worker goroutines can notice a
// requested shutdown and exit their loop.
func (m *Manager) ShouldThreadsExitWait() bool {
	return atomic.LoadInt32(&m.exitWait) != 0
}

func (m *Manager) setExitWait(v bool) {
	atomic.StoreInt32(&m.exitWait, b2i(v))
}

// maybeRunOnStopped is called from resetFrame while the frame lock and
// every chain lock are held exclusively. It returns true if a stop
// was pending and has now been serviced, in which case resetFrame
// skips the normal frame rewind: the graph is left exactly as it was
// at end-of-frame for on_stopped (and any subsequent inspection) to
// examine.
func (m *Manager) maybeRunOnStopped() bool {
	m.stopMu.Lock()
	if !m.stopRequested {
		m.stopMu.Unlock()
		return false
	}
	onStopped := m.onStopped
	flushAllDelayed := m.flushAllDelayed
	m.stopRequested = false
	m.stopMu.Unlock()

	if onStopped != nil {
		onStopped()
	}

	if flushAllDelayed {
		for _, t := range m.delayed.pollReady(farFuture()) {
			t.Release()
		}
	}

	m.setExitWait(true)
	return true
}
