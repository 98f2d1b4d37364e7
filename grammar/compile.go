package grammar

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/anonymous-tct-authors/tct-models/grammar/jsonschema"
)

// CompileError reports a schema construct the compiler cannot express as a
// deterministic finite automaton. It is fatal for the schema: no partial
// automaton is ever returned alongside it.
type CompileError struct {
	Path   string
	Reason string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("grammar: %s: %s", e.Path, e.Reason)
}

// Compile builds the automaton for a parsed schema. The accepted byte
// strings are exactly the canonical JSON serializations of the schema:
// object members in declared order, no insignificant whitespace.
func Compile(s *jsonschema.Schema) (*Automaton, error) {
	a := &Automaton{}
	start := a.newState()
	a.start = start
	exit := a.newState()
	a.states[exit].accept = true

	c := &compiler{a: a}
	if err := c.value(s, start, exit); err != nil {
		return nil, err
	}
	if err := a.resolveEps(); err != nil {
		return nil, &CompileError{Path: s.Path, Reason: err.Error()}
	}
	if err := a.prune(); err != nil {
		return nil, &CompileError{Path: s.Path, Reason: err.Error()}
	}
	return a, nil
}

type compiler struct {
	a *Automaton
}

func (c *compiler) errf(s *jsonschema.Schema, format string, args ...any) error {
	return &CompileError{Path: s.Path, Reason: fmt.Sprintf(format, args...)}
}

// value wires the sub-automaton for one schema node between from and exit.
// Arriving at exit means the value is complete; exit's own transitions
// belong to the enclosing context.
func (c *compiler) value(s *jsonschema.Schema, from, exit StateID) error {
	if len(s.Enum) > 0 {
		return c.enum(s, from, exit)
	}
	switch typ := s.EffectiveType(); typ {
	case "object":
		return c.object(s, from, exit)
	case "array":
		return c.array(s, from, exit)
	case "string":
		if s.Pattern != "" {
			return c.patternString(s, from, exit)
		}
		return c.freeString(from, exit)
	case "number":
		if err := c.number(from, exit, true); err != nil {
			return c.errf(s, "%v", err)
		}
		return nil
	case "integer":
		if err := c.number(from, exit, false); err != nil {
			return c.errf(s, "%v", err)
		}
		return nil
	case "boolean":
		if err := c.literal(from, exit, []byte("true")); err != nil {
			return c.errf(s, "%v", err)
		}
		if err := c.literal(from, exit, []byte("false")); err != nil {
			return c.errf(s, "%v", err)
		}
		return nil
	case "null":
		if err := c.literal(from, exit, []byte("null")); err != nil {
			return c.errf(s, "%v", err)
		}
		return nil
	case "anyOf":
		for _, alt := range s.AnyOf {
			if err := c.value(alt, from, exit); err != nil {
				return err
			}
		}
		return nil
	case "value":
		return c.errf(s, "unconstrained value cannot be compiled to a finite grammar")
	default:
		return c.errf(s, "unsupported type %q", typ)
	}
}

// object compiles an object schema. Members are emitted in declared order.
// Optional members branch at dispatch states: from the state after "{" or
// after a separating comma, the admissible next keys are the next declared
// property and every later property reachable by skipping only optional
// ones.
func (c *compiler) object(s *jsonschema.Schema, from, exit StateID) error {
	seen := make(map[string]bool, len(s.Properties))
	for _, p := range s.Properties {
		if seen[p.Name] {
			return c.errf(s, "duplicate property %q", p.Name)
		}
		seen[p.Name] = true
	}
	for _, r := range s.Required {
		if !seen[r] {
			return c.errf(s, "required property %q not declared", r)
		}
	}

	n := len(s.Properties)
	open := c.a.newState()
	if err := c.a.addEdge(from, '{', open); err != nil {
		return c.errf(s, "%v", err)
	}

	// optionalTail[k] reports whether properties k..n-1 are all optional,
	// i.e. the object may close without emitting any of them.
	optionalTail := make([]bool, n+1)
	optionalTail[n] = true
	for k := n - 1; k >= 0; k-- {
		optionalTail[k] = optionalTail[k+1] && !s.IsRequired(s.Properties[k].Name)
	}

	if optionalTail[0] {
		if err := c.a.addEdge(open, '}', exit); err != nil {
			return c.errf(s, "%v", err)
		}
	}

	// afterValue[k] is the state reached once property k's value is
	// complete; dispatch[k] is the state after the comma that follows
	// property k.
	afterValue := make([]StateID, n)
	for k, p := range s.Properties {
		afterValue[k] = c.a.newState()
		key, err := json.Marshal(p.Name)
		if err != nil {
			return c.errf(p, "%v", err)
		}
		key = append(key, ':')

		// Property k is offered at every dispatch state from which
		// all intervening properties may be skipped.
		entries := []StateID{}
		if optionalBetween(s, 0, k) {
			entries = append(entries, open)
		}
		for j := 0; j < k; j++ {
			if optionalBetween(s, j+1, k) {
				entries = append(entries, dispatchAfter(c, s, afterValue, j))
			}
		}
		for _, entry := range entries {
			colon := c.trie(entry, key)
			// The value sub-automaton is compiled once per entry
			// chain; entries sharing a key prefix converge in the
			// trie, so the colon state, and therefore the value,
			// is shared.
			if c.a.Terminal(colon) && c.a.states[colon].eps == NoState {
				if err := c.value(p, colon, afterValue[k]); err != nil {
					return err
				}
			}
		}

		if optionalTail[k+1] {
			if err := c.a.addEdge(afterValue[k], '}', exit); err != nil {
				return c.errf(p, "%v", err)
			}
		}
	}
	return nil
}

// dispatchAfter returns the state reached by the comma after property j,
// creating it on first use.
func dispatchAfter(c *compiler, s *jsonschema.Schema, afterValue []StateID, j int) StateID {
	if to, ok := c.a.Step(afterValue[j], ','); ok {
		return to
	}
	d := c.a.newState()
	// afterValue[j] has no comma edge yet, so this cannot conflict.
	c.a.setEdge(afterValue[j], ',', d)
	return d
}

// optionalBetween reports whether properties in [lo, hi) are all optional.
func optionalBetween(s *jsonschema.Schema, lo, hi int) bool {
	for i := lo; i < hi; i++ {
		if s.IsRequired(s.Properties[i].Name) {
			return false
		}
	}
	return true
}

// array compiles an array schema as a bounded self-loop: the item
// sub-automaton is built once and repetition is a comma back-edge into it,
// so nesting depth is fixed by the schema, not the input.
func (c *compiler) array(s *jsonschema.Schema, from, exit StateID) error {
	if s.Items == nil {
		return c.errf(s, "array schema missing items")
	}
	open := c.a.newState()
	if err := c.a.addEdge(from, '[', open); err != nil {
		return c.errf(s, "%v", err)
	}
	if err := c.a.addEdge(open, ']', exit); err != nil {
		return c.errf(s, "%v", err)
	}

	itemStart := c.a.newState()
	afterItem := c.a.newState()
	if err := c.value(s.Items, itemStart, afterItem); err != nil {
		return err
	}
	// The open state offers the item's first bytes alongside its own "]"
	// edge; the eps link folds them in without permitting "[,".
	c.a.states[open].eps = itemStart
	if err := c.a.addEdge(afterItem, ',', itemStart); err != nil {
		return c.errf(s, "%v", err)
	}
	if err := c.a.addEdge(afterItem, ']', exit); err != nil {
		return c.errf(s, "%v", err)
	}
	return nil
}

// enum expands each allowed literal to a per-byte transition chain. Chains
// share prefixes in a trie, so common lead bytes stay deterministic. The
// trie only follows states it created itself: walking into a state owned
// by another construct (for example a free-string alternative in the same
// anyOf) would make the choice point ambiguous.
func (c *compiler) enum(s *jsonschema.Schema, from, exit StateID) error {
	owned := map[StateID]bool{}
	for _, raw := range s.Enum {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return c.errf(s, "invalid enum literal %s: %v", raw, err)
		}
		lit := buf.Bytes()
		if len(lit) == 0 {
			return c.errf(s, "empty enum literal")
		}
		cur := from
		for _, b := range lit {
			if to, ok := c.a.Step(cur, b); ok {
				if !owned[to] {
					return c.errf(s, "enum literal %s overlaps another alternative", lit)
				}
				cur = to
				continue
			}
			to := c.a.newState()
			owned[to] = true
			c.a.setEdge(cur, b, to)
			cur = to
		}
		if err := c.setEps(cur, exit); err != nil {
			return c.errf(s, "enum literal %s: %v", lit, err)
		}
	}
	return nil
}

// freeString compiles the unconstrained JSON string grammar: any byte at
// or above 0x20 except the quote and backslash, with the RFC 8259 escapes
// and \uXXXX sequences.
func (c *compiler) freeString(from, exit StateID) error {
	in := c.a.newState()
	if err := c.a.addEdge(from, '"', in); err != nil {
		return err
	}
	esc := c.a.newState()
	for b := 0x20; b <= 0xff; b++ {
		switch byte(b) {
		case '"', '\\':
		default:
			c.a.setEdge(in, byte(b), in)
		}
	}
	c.a.setEdge(in, '"', exit)
	c.a.setEdge(in, '\\', esc)
	for _, b := range []byte{'"', '\\', '/', 'b', 'f', 'n', 'r', 't'} {
		c.a.setEdge(esc, b, in)
	}
	u := esc
	for i := 0; i < 4; i++ {
		next := c.a.newState()
		if i == 0 {
			c.a.setEdge(u, 'u', next)
		} else {
			hexEdges(c.a, u, next)
		}
		u = next
	}
	hexEdges(c.a, u, in)
	return nil
}

func hexEdges(a *Automaton, from, to StateID) {
	for b := byte('0'); b <= '9'; b++ {
		a.setEdge(from, b, to)
	}
	for b := byte('a'); b <= 'f'; b++ {
		a.setEdge(from, b, to)
	}
	for b := byte('A'); b <= 'F'; b++ {
		a.setEdge(from, b, to)
	}
}

// number compiles the canonical JSON number grammar: optional minus, no
// leading zeros, optional fraction, optional exponent. Numbers are not
// self-delimiting, so every complete-number state carries an eps link to
// exit; the enclosing context's separator bytes are folded in afterward.
func (c *compiler) number(from, exit StateID, frac bool) error {
	a := c.a
	neg := a.newState()
	zero := a.newState()
	digits := a.newState()
	if err := a.addEdge(from, '-', neg); err != nil {
		return err
	}
	if err := a.addEdge(from, '0', zero); err != nil {
		return err
	}
	a.setEdge(neg, '0', zero)
	for b := byte('1'); b <= '9'; b++ {
		if err := a.addEdge(from, b, digits); err != nil {
			return err
		}
		a.setEdge(neg, b, digits)
	}
	for b := byte('0'); b <= '9'; b++ {
		a.setEdge(digits, b, digits)
	}
	complete := []StateID{zero, digits}

	if frac {
		dot := a.newState()
		fracDigits := a.newState()
		a.setEdge(zero, '.', dot)
		a.setEdge(digits, '.', dot)
		for b := byte('0'); b <= '9'; b++ {
			a.setEdge(dot, b, fracDigits)
			a.setEdge(fracDigits, b, fracDigits)
		}
		expStart := a.newState()
		expSign := a.newState()
		expDigits := a.newState()
		for _, s := range []StateID{zero, digits, fracDigits} {
			a.setEdge(s, 'e', expStart)
			a.setEdge(s, 'E', expStart)
		}
		a.setEdge(expStart, '+', expSign)
		a.setEdge(expStart, '-', expSign)
		for b := byte('0'); b <= '9'; b++ {
			a.setEdge(expStart, b, expDigits)
			a.setEdge(expSign, b, expDigits)
			a.setEdge(expDigits, b, expDigits)
		}
		complete = append(complete, fracDigits, expDigits)
	}
	for _, s := range complete {
		a.states[s].eps = exit
	}
	return nil
}

// literal compiles one fixed byte string, sharing prefixes with anything
// already emitted from the same state. The final byte lands on exit.
func (c *compiler) literal(from, exit StateID, lit []byte) error {
	end := c.trie(from, lit[:len(lit)-1])
	return c.a.addEdge(end, lit[len(lit)-1], exit)
}

// trie walks p from the given state, following existing transitions and
// creating fresh states where none exist.
func (c *compiler) trie(from StateID, p []byte) StateID {
	for _, b := range p {
		if to, ok := c.a.Step(from, b); ok {
			from = to
			continue
		}
		to := c.a.newState()
		c.a.setEdge(from, b, to)
		from = to
	}
	return from
}

func (c *compiler) setEps(id, to StateID) error {
	if cur := c.a.states[id].eps; cur != NoState && cur != to {
		return fmt.Errorf("ambiguous continuation")
	}
	c.a.states[id].eps = to
	return nil
}
