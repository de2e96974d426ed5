// Package groupgraph compiles a dependency tree of task groups into a
// linear, chain-oriented opcode stream that the scheduler's frame
// interpreter can dispatch without revisiting the graph itself.
package groupgraph

import (
	"fmt"
	"strings"

	"github.com/tim42/tools-sub000/task"
)

// OpKind identifies the kind of a compiled opcode.
type OpKind uint8

const (
	// OpDeclareChainIndex starts a new execution chain. Arg is the
	// chain's index.
	OpDeclareChainIndex OpKind = iota
	// OpExecuteTaskGroup starts the task group named by Arg (runs its
	// start callback and releases its staged tasks); the chain advances
	// without waiting for the group's tasks.
	OpExecuteTaskGroup
	// OpWaitTaskGroup blocks the chain until the task group named by
	// Arg has started and has no remaining tasks. The first chain to
	// see that marks the group completed and runs its end callback.
	OpWaitTaskGroup
	// OpEndChain marks the end of the current chain's opcodes.
	OpEndChain
)

func (k OpKind) String() string {
	switch k {
	case OpDeclareChainIndex:
		return "declare_chain_index"
	case OpExecuteTaskGroup:
		return "execute_task_group"
	case OpWaitTaskGroup:
		return "wait_task_group"
	case OpEndChain:
		return "end_chain"
	default:
		return "<invalid opcode>"
	}
}

// Opcode is a single instruction in a compiled chain's opcode stream.
// Arg's meaning depends on Kind: a chain index for
// OpDeclareChainIndex, a task.GroupID for OpExecuteTaskGroup and
// OpWaitTaskGroup, unused for OpEndChain.
type Opcode struct {
	Kind OpKind
	Arg  uint16
}

// GroupConfig is the per-group configuration recorded at AddTaskGroup
// time and carried into the compiled graph for the scheduler to read.
type GroupConfig struct {
	Name string
	// RestrictToNamedThread, when not task.ThreadNone, confines every
	// task pushed to this group to the named worker thread.
	RestrictToNamedThread task.ThreadID
}

// GroupOption configures a task group at AddTaskGroup time.
type GroupOption func(*GroupConfig)

// WithNamedThread restricts every task in the group to the given
// named thread.
func WithNamedThread(id task.ThreadID) GroupOption {
	return func(c *GroupConfig) { c.RestrictToNamedThread = id }
}

// CompiledGraph is the output of Tree.Compile: a linear opcode stream
// split across ChainCount independent chains, plus the group
// configuration table the scheduler needs to run it.
type CompiledGraph struct {
	// Groups is indexed by task.GroupID. Index 0 (task.GroupLongDuration)
	// is always the zero GroupConfig; it is never scheduled by a chain.
	Groups     []GroupConfig
	ChainCount int
	Opcodes    []Opcode
}

// GroupID looks up a group by name, returning task.GroupInvalid if no
// such group was declared.
func (c *CompiledGraph) GroupID(name string) task.GroupID {
	for i, g := range c.Groups {
		if i != 0 && g.Name == name {
			return task.GroupID(i)
		}
	}
	return task.GroupInvalid
}

// String renders the compiled opcode stream grouped by chain, in the
// same registration order Tree.AddTaskGroup saw the names (c.Groups
// is already in that order, since Compile copies it from the Tree's
// configs slice, which AddTaskGroup appends to), for debugging.
func (c *CompiledGraph) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "groups (%d):", len(c.Groups)-1)
	for i, g := range c.Groups {
		if i == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n  %d: %s", i, g.Name)
		if g.RestrictToNamedThread != task.ThreadNone {
			fmt.Fprintf(&b, " (thread %d)", g.RestrictToNamedThread)
		}
	}

	b.WriteString("\nchains:")
	chain := -1
	for _, op := range c.Opcodes {
		switch op.Kind {
		case OpDeclareChainIndex:
			chain = int(op.Arg)
			fmt.Fprintf(&b, "\n  chain %d:", chain)
		case OpExecuteTaskGroup:
			fmt.Fprintf(&b, "\n    execute %s", c.Groups[op.Arg].Name)
		case OpWaitTaskGroup:
			fmt.Fprintf(&b, "\n    wait %s", c.Groups[op.Arg].Name)
		case OpEndChain:
			fmt.Fprintf(&b, "\n    end_chain")
		}
	}
	return b.String()
}
