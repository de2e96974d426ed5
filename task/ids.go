// Package task implements the task object and its state machine: a
// move-only callable plus a dependency count, a bounded reverse-dependency
// fan-out list, an optional completion marker, and the transitions that
// take it from creation through completion.
package task

// GroupID identifies a task group. GroupLongDuration is the reserved
// group for tasks that are not bound to a single frame. GroupInvalid is
// returned by lookups that fail to find a group.
type GroupID uint8

const (
	GroupLongDuration GroupID = 0
	GroupInvalid      GroupID = ^GroupID(0)
)

// ThreadID identifies a named worker thread. ThreadNone means "no
// named thread" (a generic worker). ThreadInvalid is returned by
// lookups that fail to find a named thread.
type ThreadID uint8

const (
	ThreadNone    ThreadID = 0
	ThreadInvalid ThreadID = ^ThreadID(0)
)

// FrameKey is a 24-bit, monotonically increasing, wrapping generation
// counter. It is bumped once per frame reset and snapshotted into every
// transient task at creation, so that using a transient task outside the
// frame it was created in can be detected.
type FrameKey uint32

// FrameKeyMask is the modulus FrameKey wraps around at.
const FrameKeyMask FrameKey = 1<<24 - 1

// Next returns the frame key that follows k, wrapping at FrameKeyMask.
func (k FrameKey) Next() FrameKey {
	return (k + 1) & FrameKeyMask
}
