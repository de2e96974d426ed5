package groupgraph

import (
	"encoding/binary"
	"fmt"

	"github.com/tim42/tools-sub000/task"
	"golang.org/x/exp/slices"
)

// chainBuilder accumulates the opcodes for one execution chain while
// Compile packs groups into chains.
type chainBuilder struct {
	ops       []Opcode
	last      task.GroupID
	lastValid bool
}

// Compile canonicalizes the tree (transitive reduction), orders groups
// topologically, and packs them into chains: a chain keeps executing
// the same physical thread of control for as long as the next group's
// direct predecessor was the last thing that chain ran, and emits
// OpWaitTaskGroup whenever a group also depends on work still
// in-flight on another chain. Every OpExecuteTaskGroup is followed on
// its chain by an OpWaitTaskGroup for the same group, since only a wait
// completes a group. Compile may only be called once per Tree; a
// second call returns an error.
func (t *Tree) Compile() (*CompiledGraph, error) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil, fmt.Errorf("groupgraph: tree already compiled")
	}
	t.started = true
	configs := append([]GroupConfig(nil), t.configs...)
	g := t.g
	t.mu.Unlock()

	g.TransitiveReduction()

	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, fmt.Errorf("groupgraph: %w", err)
	}

	preds := make(map[task.GroupID][]task.GroupID, len(configs))
	for _, from := range g.Nodes() {
		tos, _ := g.Neighbours(from)
		for _, to := range tos {
			preds[to] = append(preds[to], from)
		}
	}

	var chains []*chainBuilder
	groupChain := make(map[task.GroupID]int, len(configs))

	for _, gid := range order {
		if gid == task.GroupLongDuration {
			continue
		}

		ps := append([]task.GroupID(nil), preds[gid]...)
		slices.Sort(ps)

		chainIdx := -1
		for _, p := range ps {
			pc, ok := groupChain[p]
			if !ok {
				continue
			}
			if chains[pc].lastValid && chains[pc].last == p {
				chainIdx = pc
				break
			}
		}
		if chainIdx == -1 {
			chains = append(chains, &chainBuilder{})
			chainIdx = len(chains) - 1
		}

		for _, p := range ps {
			pc, ok := groupChain[p]
			if !ok || pc == chainIdx {
				continue
			}
			chains[chainIdx].ops = append(chains[chainIdx].ops,
				Opcode{Kind: OpWaitTaskGroup, Arg: uint16(p)})
		}

		chains[chainIdx].ops = append(chains[chainIdx].ops,
			Opcode{Kind: OpExecuteTaskGroup, Arg: uint16(gid)})
		chains[chainIdx].ops = append(chains[chainIdx].ops,
			Opcode{Kind: OpWaitTaskGroup, Arg: uint16(gid)})
		chains[chainIdx].last = gid
		chains[chainIdx].lastValid = true
		groupChain[gid] = chainIdx
	}

	var ops []Opcode
	for i, c := range chains {
		ops = append(ops, Opcode{Kind: OpDeclareChainIndex, Arg: uint16(i)})
		ops = append(ops, c.ops...)
		ops = append(ops, Opcode{Kind: OpEndChain})
	}

	return &CompiledGraph{
		Groups:     configs,
		ChainCount: len(chains),
		Opcodes:    ops,
	}, nil
}

// MarshalBinary encodes the opcode stream as a sequence of
// (opcode uint16, arg uint16) pairs, big-endian, preceded by a count.
// Group names and configuration are not part of this encoding: it is
// meant for round-tripping the compiled chain program, not the
// builder state.
func (c *CompiledGraph) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 4+4*len(c.Opcodes))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(c.Opcodes)))
	for i, op := range c.Opcodes {
		off := 4 + i*4
		binary.BigEndian.PutUint16(buf[off:off+2], uint16(op.Kind))
		binary.BigEndian.PutUint16(buf[off+2:off+4], op.Arg)
	}
	return buf, nil
}

// UnmarshalBinary decodes an opcode stream produced by MarshalBinary.
// It does not restore Groups or ChainCount; callers that need those
// must carry them separately.
func (c *CompiledGraph) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("groupgraph: truncated compiled graph")
	}
	n := binary.BigEndian.Uint32(data[0:4])
	want := 4 + 4*int(n)
	if len(data) != want {
		return fmt.Errorf("groupgraph: compiled graph length mismatch: want %d bytes, got %d", want, len(data))
	}

	ops := make([]Opcode, n)
	chains := 0
	for i := range ops {
		off := 4 + i*4
		kind := OpKind(binary.BigEndian.Uint16(data[off : off+2]))
		arg := binary.BigEndian.Uint16(data[off+2 : off+4])
		ops[i] = Opcode{Kind: kind, Arg: arg}
		if kind == OpDeclareChainIndex {
			chains++
		}
	}

	c.Opcodes = ops
	c.ChainCount = chains
	return nil
}
