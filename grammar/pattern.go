package grammar

import (
	"fmt"
	"regexp/syntax"
	"sort"
	"unicode/utf8"

	"github.com/anonymous-tct-authors/tct-models/grammar/jsonschema"
)

// maxPatternStates bounds subset construction so a pathological pattern
// fails compilation instead of exhausting memory.
const maxPatternStates = 4096

// patternString compiles a string schema with a "pattern" constraint:
// a quote, a sub-automaton for the supported regex subset, and a closing
// quote from every match-complete state. Patterns that could match a quote
// or backslash are rejected rather than escaped, since the match runs over
// raw string bytes.
func (c *compiler) patternString(s *jsonschema.Schema, from, exit StateID) error {
	re, err := syntax.Parse(s.Pattern, syntax.Perl)
	if err != nil {
		return c.errf(s, "pattern %q: %v", s.Pattern, err)
	}
	var b nfaBuilder
	frag, err := b.build(re)
	if err != nil {
		return c.errf(s, "pattern %q: %v", s.Pattern, err)
	}

	open := c.a.newState()
	if err := c.a.addEdge(from, '"', open); err != nil {
		return c.errf(s, "%v", err)
	}

	// subset construction over the NFA, emitting DFA states directly
	// into the arena
	dfa := map[string]StateID{}
	start := b.closure([]int{frag.start})
	dfa[setKey(start)] = open
	type work struct {
		set []int
		id  StateID
	}
	queue := []work{{start, open}}
	for len(queue) > 0 {
		w := queue[0]
		queue = queue[1:]

		for _, n := range w.set {
			if n == frag.end {
				if err := c.a.addEdge(w.id, '"', exit); err != nil {
					return c.errf(s, "pattern %q: %v", s.Pattern, err)
				}
				break
			}
		}

		byByte := map[byte][]int{}
		for _, n := range w.set {
			for _, e := range b.nodes[n].edges {
				byByte[e.b] = append(byByte[e.b], e.to)
			}
		}
		bs := make([]byte, 0, len(byByte))
		for bb := range byByte {
			bs = append(bs, bb)
		}
		sort.Slice(bs, func(i, j int) bool { return bs[i] < bs[j] })
		for _, bb := range bs {
			next := b.closure(byByte[bb])
			key := setKey(next)
			id, ok := dfa[key]
			if !ok {
				if len(dfa) >= maxPatternStates {
					return c.errf(s, "pattern %q: too many states", s.Pattern)
				}
				id = c.a.newState()
				dfa[key] = id
				queue = append(queue, work{next, id})
			}
			if err := c.a.addEdge(w.id, bb, id); err != nil {
				return c.errf(s, "pattern %q: %v", s.Pattern, err)
			}
		}
	}
	return nil
}

func setKey(set []int) string {
	b := make([]byte, 0, len(set)*4)
	for _, n := range set {
		b = append(b, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
	}
	return string(b)
}

type nfaEdge struct {
	b  byte
	to int
}

type nfaNode struct {
	edges []nfaEdge
	eps   []int
}

type nfaFrag struct {
	start, end int
}

type nfaBuilder struct {
	nodes []nfaNode
}

func (b *nfaBuilder) node() int {
	b.nodes = append(b.nodes, nfaNode{})
	return len(b.nodes) - 1
}

func (b *nfaBuilder) byteEdge(from int, bb byte, to int) {
	b.nodes[from].edges = append(b.nodes[from].edges, nfaEdge{b: bb, to: to})
}

func (b *nfaBuilder) epsEdge(from, to int) {
	b.nodes[from].eps = append(b.nodes[from].eps, to)
}

// closure returns the sorted, deduplicated epsilon closure of set.
func (b *nfaBuilder) closure(set []int) []int {
	seen := map[int]bool{}
	stack := append([]int(nil), set...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, b.nodes[n].eps...)
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// build translates a parsed regexp into a Thompson NFA fragment. Constructs
// outside the supported subset return an error, which surfaces as a
// CompileError for the schema node.
func (b *nfaBuilder) build(re *syntax.Regexp) (nfaFrag, error) {
	switch re.Op {
	case syntax.OpEmptyMatch, syntax.OpBeginLine, syntax.OpEndLine, syntax.OpBeginText, syntax.OpEndText:
		// anchors are implicit: the automaton always matches the
		// whole string between the quotes
		n := b.node()
		return nfaFrag{n, n}, nil

	case syntax.OpLiteral:
		if re.Flags&syntax.FoldCase != 0 {
			return nfaFrag{}, fmt.Errorf("case-insensitive matching is not supported")
		}
		start := b.node()
		cur := start
		for _, r := range re.Rune {
			var buf [utf8.UTFMax]byte
			for _, bb := range buf[:utf8.EncodeRune(buf[:], r)] {
				if bb == '"' || bb == '\\' {
					return nfaFrag{}, fmt.Errorf("literal %q conflicts with string quoting", r)
				}
				next := b.node()
				b.byteEdge(cur, bb, next)
				cur = next
			}
		}
		return nfaFrag{start, cur}, nil

	case syntax.OpCharClass:
		start := b.node()
		end := b.node()
		for i := 0; i+1 < len(re.Rune); i += 2 {
			lo, hi := re.Rune[i], re.Rune[i+1]
			if hi > 0x7f {
				if lo > 0x7f {
					continue
				}
				hi = 0x7f
			}
			if lo < 0x20 {
				lo = 0x20
			}
			for r := lo; r <= hi; r++ {
				if r == '"' || r == '\\' {
					continue
				}
				b.byteEdge(start, byte(r), end)
			}
		}
		if len(b.nodes[start].edges) == 0 {
			return nfaFrag{}, fmt.Errorf("character class matches nothing in the printable ASCII subset")
		}
		return nfaFrag{start, end}, nil

	case syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		start := b.node()
		end := b.node()
		for r := byte(0x20); r < 0x7f; r++ {
			if r == '"' || r == '\\' {
				continue
			}
			b.byteEdge(start, r, end)
		}
		return nfaFrag{start, end}, nil

	case syntax.OpCapture:
		return b.build(re.Sub[0])

	case syntax.OpConcat:
		cur, err := b.build(re.Sub[0])
		if err != nil {
			return nfaFrag{}, err
		}
		for _, sub := range re.Sub[1:] {
			next, err := b.build(sub)
			if err != nil {
				return nfaFrag{}, err
			}
			b.epsEdge(cur.end, next.start)
			cur.end = next.end
		}
		return cur, nil

	case syntax.OpAlternate:
		start := b.node()
		end := b.node()
		for _, sub := range re.Sub {
			f, err := b.build(sub)
			if err != nil {
				return nfaFrag{}, err
			}
			b.epsEdge(start, f.start)
			b.epsEdge(f.end, end)
		}
		return nfaFrag{start, end}, nil

	case syntax.OpStar:
		f, err := b.build(re.Sub[0])
		if err != nil {
			return nfaFrag{}, err
		}
		start := b.node()
		end := b.node()
		b.epsEdge(start, f.start)
		b.epsEdge(start, end)
		b.epsEdge(f.end, f.start)
		b.epsEdge(f.end, end)
		return nfaFrag{start, end}, nil

	case syntax.OpPlus:
		f, err := b.build(re.Sub[0])
		if err != nil {
			return nfaFrag{}, err
		}
		end := b.node()
		b.epsEdge(f.end, f.start)
		b.epsEdge(f.end, end)
		return nfaFrag{f.start, end}, nil

	case syntax.OpQuest:
		f, err := b.build(re.Sub[0])
		if err != nil {
			return nfaFrag{}, err
		}
		start := b.node()
		end := b.node()
		b.epsEdge(start, f.start)
		b.epsEdge(start, end)
		b.epsEdge(f.end, end)
		return nfaFrag{start, end}, nil

	case syntax.OpRepeat:
		if re.Max < 0 || re.Max > 64 {
			return nfaFrag{}, fmt.Errorf("unbounded or oversized repetition {%d,%d}", re.Min, re.Max)
		}
		start := b.node()
		end := b.node()
		cur := start
		for i := 0; i < re.Max; i++ {
			f, err := b.build(re.Sub[0])
			if err != nil {
				return nfaFrag{}, err
			}
			b.epsEdge(cur, f.start)
			if i >= re.Min {
				b.epsEdge(cur, end)
			}
			cur = f.end
		}
		b.epsEdge(cur, end)
		return nfaFrag{start, end}, nil

	default:
		return nfaFrag{}, fmt.Errorf("unsupported construct %v", re.Op)
	}
}
