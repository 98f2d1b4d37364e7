// Package grammar compiles JSON Schema documents into deterministic byte
// automatons whose accepted strings are exactly the schema's valid JSON
// serializations.
package grammar

import (
	"fmt"
	"sort"
)

// StateID addresses a state in the automaton arena. Recursive schema
// constructs become back-edges between indexes, never cyclic pointers.
type StateID int32

// NoState is the zero value for "no such state".
const NoState StateID = -1

type transition struct {
	b  byte
	to StateID
}

type state struct {
	// edges are sorted by byte and unique per byte, so a lookup is a
	// binary search and the automaton is deterministic by construction.
	edges []transition

	// eps marks a state whose language continues at another state: the
	// target's edges and accept flag are folded into this state before
	// the automaton is finalized. At most one per state; resolved and
	// cleared by the compiler.
	eps StateID

	accept bool
}

// Automaton is the compiled grammar artifact. It is immutable after
// Compile returns and safe for concurrent readers.
type Automaton struct {
	states []state
	start  StateID
}

// Start returns the automaton's start state.
func (a *Automaton) Start() StateID { return a.start }

// Len returns the number of states in the arena.
func (a *Automaton) Len() int { return len(a.states) }

// Accepting reports whether id is an accepting state.
func (a *Automaton) Accepting(id StateID) bool {
	return a.states[id].accept
}

// Step advances one byte from id. It returns the target state and whether
// a transition on b exists.
func (a *Automaton) Step(id StateID, b byte) (StateID, bool) {
	edges := a.states[id].edges
	i := sort.Search(len(edges), func(i int) bool { return edges[i].b >= b })
	if i < len(edges) && edges[i].b == b {
		return edges[i].to, true
	}
	return NoState, false
}

// WalkBytes advances from id over p, stopping at the first byte with no
// transition. It returns the last state reached, the number of bytes
// consumed, and whether all of p was consumed.
func (a *Automaton) WalkBytes(id StateID, p []byte) (StateID, int, bool) {
	for i, b := range p {
		next, ok := a.Step(id, b)
		if !ok {
			return id, i, false
		}
		id = next
	}
	return id, len(p), true
}

// EdgeBytes returns the bytes with outgoing transitions from id, in
// ascending order.
func (a *Automaton) EdgeBytes(id StateID) []byte {
	edges := a.states[id].edges
	bs := make([]byte, len(edges))
	for i, e := range edges {
		bs[i] = e.b
	}
	return bs
}

// Terminal reports whether id has no outgoing transitions. After
// compilation a terminal state is always accepting: non-accepting states
// with no continuation are pruned as dead.
func (a *Automaton) Terminal(id StateID) bool {
	return len(a.states[id].edges) == 0
}

func (a *Automaton) newState() StateID {
	a.states = append(a.states, state{eps: NoState})
	return StateID(len(a.states) - 1)
}

// addEdge installs a transition. Adding a second transition on the same
// byte with a different target is an ambiguity in the source schema.
func (a *Automaton) addEdge(from StateID, b byte, to StateID) error {
	s := &a.states[from]
	i := sort.Search(len(s.edges), func(i int) bool { return s.edges[i].b >= b })
	if i < len(s.edges) && s.edges[i].b == b {
		if s.edges[i].to == to {
			return nil
		}
		return fmt.Errorf("ambiguous transition on %q", b)
	}
	s.edges = append(s.edges, transition{})
	copy(s.edges[i+1:], s.edges[i:])
	s.edges[i] = transition{b: b, to: to}
	return nil
}

// setEdge installs a transition, replacing any existing transition on the
// same byte. Used only while resolving eps links, where a state's own
// edges take priority over inherited ones.
func (a *Automaton) setEdge(from StateID, b byte, to StateID) {
	s := &a.states[from]
	i := sort.Search(len(s.edges), func(i int) bool { return s.edges[i].b >= b })
	if i < len(s.edges) && s.edges[i].b == b {
		s.edges[i].to = to
		return
	}
	s.edges = append(s.edges, transition{})
	copy(s.edges[i+1:], s.edges[i:])
	s.edges[i] = transition{b: b, to: to}
}

// resolveEps folds each state's eps continuation into its own edge set and
// accept flag. Inherited edges never override a state's own edges: the
// longer, more specific path wins, which is how e.g. a number's trailing
// digits take priority over the enclosing object's separator bytes.
func (a *Automaton) resolveEps() error {
	// 0 = unvisited, 1 = in progress, 2 = done
	mark := make([]uint8, len(a.states))
	var visit func(id StateID) error
	visit = func(id StateID) error {
		switch mark[id] {
		case 1:
			return fmt.Errorf("state %d: epsilon cycle", id)
		case 2:
			return nil
		}
		mark[id] = 1
		if t := a.states[id].eps; t != NoState {
			if err := visit(t); err != nil {
				return err
			}
			if a.states[t].accept {
				a.states[id].accept = true
			}
			for _, e := range a.states[t].edges {
				if _, ok := a.Step(id, e.b); !ok {
					a.setEdge(id, e.b, e.to)
				}
			}
			a.states[id].eps = NoState
		}
		mark[id] = 2
		return nil
	}
	for id := range a.states {
		if err := visit(StateID(id)); err != nil {
			return err
		}
	}
	return nil
}

// prune removes states that are unreachable from the start state or that
// cannot reach an accepting state, and compacts the arena. It reports an
// error if the start state itself is dead.
func (a *Automaton) prune() error {
	reach := make([]bool, len(a.states))
	stack := []StateID{a.start}
	reach[a.start] = true
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range a.states[id].edges {
			if !reach[e.to] {
				reach[e.to] = true
				stack = append(stack, e.to)
			}
		}
	}

	// live = can reach an accepting state, via reverse BFS
	rev := make([][]StateID, len(a.states))
	live := make([]bool, len(a.states))
	var queue []StateID
	for id := range a.states {
		for _, e := range a.states[id].edges {
			rev[e.to] = append(rev[e.to], StateID(id))
		}
		if a.states[id].accept {
			live[id] = true
			queue = append(queue, StateID(id))
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, p := range rev[id] {
			if !live[p] {
				live[p] = true
				queue = append(queue, p)
			}
		}
	}

	if !reach[a.start] || !live[a.start] {
		return fmt.Errorf("grammar accepts no strings")
	}

	remap := make([]StateID, len(a.states))
	var packed []state
	for id := range a.states {
		if reach[id] && live[id] {
			remap[id] = StateID(len(packed))
			packed = append(packed, a.states[id])
		} else {
			remap[id] = NoState
		}
	}
	for i := range packed {
		edges := packed[i].edges[:0]
		for _, e := range packed[i].edges {
			if remap[e.to] != NoState {
				edges = append(edges, transition{b: e.b, to: remap[e.to]})
			}
		}
		packed[i].edges = edges
	}
	a.states = packed
	a.start = remap[a.start]
	return nil
}
