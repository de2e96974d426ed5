package scheduler

import (
	"sync"

	"github.com/tim42/tools-sub000/lmap"
	"github.com/tim42/tools-sub000/stringid"
	"github.com/tim42/tools-sub000/task"
)

// NamedThreadConfig describes what a named worker thread is allowed
// to run in addition to the tasks targeted at it by name.
type NamedThreadConfig struct {
	// CanRunGeneralTasks allows this thread to also run tasks from
	// groups that are not restricted to any named thread.
	CanRunGeneralTasks bool
	// CanRunGeneralLongDurationTasks allows this thread to also run
	// long-duration tasks that were not targeted at it by name.
	CanRunGeneralLongDurationTasks bool
}

// ThreadsConfig is a builder for the set of named threads a Manager
// knows about, mirroring groupgraph.Tree's name-registration pattern:
// the first registration of a name wins, and the id space is a small
// fixed-width integer that can be exhausted.
type ThreadsConfig struct {
	mu      sync.Mutex
	started bool
	names   *lmap.LinkedMap[stringid.ID, task.ThreadID]
	configs []NamedThreadConfig
	// byName is indexed in parallel with configs, and exists only so
	// String can render the original name next to each id: the lookup
	// table itself is keyed by stringid.ID, not the string.
	byName []string
}

// NewThreadsConfig creates an empty thread registry. Thread 0
// (task.ThreadNone) is reserved for "no named thread".
func NewThreadsConfig() *ThreadsConfig {
	return &ThreadsConfig{
		names:   lmap.New[stringid.ID, task.ThreadID](),
		configs: []NamedThreadConfig{{}},
		byName:  []string{""},
	}
}

// AddNamedThread registers name with cfg and returns its ThreadID. A
// second registration of the same name returns the existing id. If
// the id space (task.ThreadID, 8 bits) is exhausted, it logs through
// logger and returns task.ThreadInvalid rather than panicking: this is
// a CapacityWarning, not a programmer error.
func (tc *ThreadsConfig) AddNamedThread(name string, cfg NamedThreadConfig, logger Logger) task.ThreadID {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	key := stringid.Of(name)
	if id, ok := tc.names.Get(key, false); ok {
		logger.Warnf("scheduler: named thread %q already registered, reusing existing id", name)
		return id
	}

	if len(tc.configs) >= int(task.ThreadInvalid) {
		logger.Warnf("scheduler: named thread id space exhausted, cannot register %q", name)
		return task.ThreadInvalid
	}

	id := task.ThreadID(len(tc.configs))
	tc.configs = append(tc.configs, cfg)
	tc.byName = append(tc.byName, name)
	tc.names.Set(key, id, false)
	return id
}

// Lookup returns the ThreadID registered for name, or
// task.ThreadInvalid if none was registered.
func (tc *ThreadsConfig) Lookup(name string) task.ThreadID {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if id, ok := tc.names.Get(stringid.Of(name), false); ok {
		return id
	}
	return task.ThreadInvalid
}

func (tc *ThreadsConfig) config(id task.ThreadID) NamedThreadConfig {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if int(id) >= len(tc.configs) {
		return NamedThreadConfig{}
	}
	return tc.configs[id]
}

// String renders the registered threads in ascending id order, for
// debugging.
func (tc *ThreadsConfig) String() string {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	out := "threads:"
	for id := task.ThreadID(1); int(id) < len(tc.configs); id++ {
		cfg := tc.configs[id]
		out += "\n  " + tc.byName[id] + ":"
		if cfg.CanRunGeneralTasks {
			out += " general"
		}
		if cfg.CanRunGeneralLongDurationTasks {
			out += " general-long-duration"
		}
	}
	return out
}
