package groupgraph

import (
	"log"
	"sync"

	"github.com/tim42/tools-sub000/graph"
	"github.com/tim42/tools-sub000/lmap"
	"github.com/tim42/tools-sub000/stringid"
	"github.com/tim42/tools-sub000/task"
)

// Tree is a builder for a dependency tree of task groups. Declare
// groups with AddTaskGroup, order them with AddDependency, then call
// Compile exactly once to turn the tree into a CompiledGraph. A Tree
// must not be modified after Compile is called.
type Tree struct {
	mu      sync.Mutex
	started bool
	logger  Logger
	names   *lmap.LinkedMap[stringid.ID, task.GroupID]
	configs []GroupConfig
	g       *graph.AdjacencyListDigraph[task.GroupID]
}

// TreeOption configures a Tree at construction time.
type TreeOption func(*Tree)

// WithLogger routes Tree's CapacityWarning reports (such as a
// duplicate group name) through logger instead of the default
// log.Default()-backed logger.
func WithLogger(logger Logger) TreeOption {
	return func(t *Tree) { t.logger = logger }
}

// NewTree creates an empty Tree. Group 0 (task.GroupLongDuration) is
// reserved and always present; it is never scheduled by a chain.
func NewTree(opts ...TreeOption) *Tree {
	t := &Tree{
		logger:  stdLogger{l: log.Default()},
		names:   lmap.New[stringid.ID, task.GroupID](),
		configs: []GroupConfig{{}},
		g:       graph.NewAdjacencyListDigraph[task.GroupID](),
	}
	for _, o := range opts {
		o(t)
	}
	t.g.AddNode(task.GroupLongDuration)
	return t
}

// AddTaskGroup declares a task group named name, applying any options,
// and returns its GroupID. A second call with a name already declared
// logs a CapacityWarning through the Tree's Logger and returns the
// existing GroupID unchanged: the first request wins. AddTaskGroup
// panics if called after Compile.
func (t *Tree) AddTaskGroup(name string, opts ...GroupOption) task.GroupID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		panic("groupgraph: tree already compiled")
	}

	key := stringid.Of(name)
	if id, ok := t.names.Get(key, false); ok {
		t.logger.Warnf("groupgraph: task group %q already registered, reusing existing id", name)
		return id
	}

	if len(t.configs) >= int(task.GroupInvalid) {
		panic("groupgraph: too many task groups")
	}

	cfg := GroupConfig{Name: name}
	for _, o := range opts {
		o(&cfg)
	}

	id := task.GroupID(len(t.configs))
	t.configs = append(t.configs, cfg)
	t.names.Set(key, id, false)
	t.g.AddNode(id)
	return id
}

// AddDependency records that group must wait for dependsOn to
// complete before it can start. Both must already have been declared
// with AddTaskGroup. AddDependency panics if group equals dependsOn,
// if either id is unknown, or if called after Compile.
func (t *Tree) AddDependency(group, dependsOn task.GroupID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		panic("groupgraph: tree already compiled")
	}
	if group == dependsOn {
		panic("groupgraph: a task group cannot depend on itself")
	}
	if !t.has(group) || !t.has(dependsOn) {
		panic("groupgraph: unknown task group in AddDependency")
	}

	t.g.AddEdge(dependsOn, group)
}

func (t *Tree) has(id task.GroupID) bool {
	return int(id) < len(t.configs)
}
