// Package tct implements schema-aware tokenization: a token vocabulary
// derived from a compiled grammar automaton, and a codec between JSON text
// and token sequences under that automaton. Any decodable token sequence
// is syntactically valid by construction.
package tct

import (
	"bytes"
	"log/slog"
	"time"

	heap "github.com/emirpasic/gods/v2/trees/binaryheap"

	"github.com/anonymous-tct-authors/tct-models/grammar"
)

// DefaultBudget caps the derived vocabulary size when the caller does not
// choose one.
const DefaultBudget = 1024

// Entry binds a token id to the exact byte string it consumes. The
// automaton is deterministic, so a token's bytes walk to a single target
// from any state that offers them.
type Entry struct {
	ID    int32
	Bytes []byte
}

// Vocabulary is the schema-aware token vocabulary. Seed tokens are the
// automaton's single transition bytes; longer tokens are built by merging
// adjacent pairs. Immutable once derived.
type Vocabulary struct {
	entries []Entry
	trie    []trieNode
	maxLen  int
}

type trieNode struct {
	next [256]int32 // child node index+1, 0 = none
	id   int32      // entry ending here, -1 = none
}

// candidate is a proposed merge of two existing tokens, ranked by how many
// automaton states offer the merged byte string.
type candidate struct {
	bytes []byte
	count int
}

// better orders candidates: higher count first, then lexicographically
// smaller bytes, so derivation is deterministic.
func better(a, b *candidate) int {
	if a.count != b.count {
		return b.count - a.count
	}
	return bytes.Compare(a.bytes, b.bytes)
}

// Derive builds the vocabulary for an automaton. Seed tokens are every
// distinct transition byte, with ids assigned in byte order; merged tokens
// take ids in merge order, so the id space is stable for a given
// (automaton, budget) pair.
func Derive(a *grammar.Automaton, budget int) *Vocabulary {
	if budget <= 0 {
		budget = DefaultBudget
	}
	start := time.Now()

	var seedSet [256]bool
	for id := 0; id < a.Len(); id++ {
		for _, b := range a.EdgeBytes(grammar.StateID(id)) {
			seedSet[b] = true
		}
	}
	v := &Vocabulary{trie: make([]trieNode, 1)}
	v.trie[0].id = -1
	for b := 0; b < 256; b++ {
		if seedSet[b] {
			v.add([]byte{byte(b)})
		}
	}

	// walkable counts how many states offer p in full. It depends only
	// on the automaton, never on the vocabulary, so candidate ranks are
	// computed once and a single agenda heap drives the merge loop.
	walkable := func(p []byte) int {
		var n int
		for id := 0; id < a.Len(); id++ {
			if _, _, ok := a.WalkBytes(grammar.StateID(id), p); ok {
				n++
			}
		}
		return n
	}

	h := heap.NewWith[*candidate](better)
	push := func(x, y []byte) {
		m := make([]byte, 0, len(x)+len(y))
		m = append(m, x...)
		m = append(m, y...)
		if v.lookup(m) >= 0 {
			return
		}
		if n := walkable(m); n > 0 {
			h.Push(&candidate{bytes: m, count: n})
		}
	}
	for _, x := range v.entries {
		for _, y := range v.entries {
			push(x.Bytes, y.Bytes)
		}
	}
	for len(v.entries) < budget {
		best, ok := h.Pop()
		if !ok {
			break
		}
		if v.lookup(best.bytes) >= 0 {
			continue
		}
		v.add(best.bytes)
		for _, e := range v.entries[:len(v.entries)-1] {
			push(e.Bytes, best.bytes)
			push(best.bytes, e.Bytes)
		}
		push(best.bytes, best.bytes)
	}

	slog.Debug("derived vocabulary", "size", len(v.entries), "budget", budget, "elapsed", time.Since(start))
	return v
}

func (v *Vocabulary) add(p []byte) {
	id := int32(len(v.entries))
	v.entries = append(v.entries, Entry{ID: id, Bytes: p})
	if len(p) > v.maxLen {
		v.maxLen = len(p)
	}

	n := int32(0)
	for _, b := range p {
		child := v.trie[n].next[b]
		if child == 0 {
			v.trie = append(v.trie, trieNode{id: -1})
			child = int32(len(v.trie)) // stored as index+1
			v.trie[n].next[b] = child
		}
		n = child - 1
	}
	if v.trie[n].id < 0 {
		v.trie[n].id = id
	}
}

// lookup returns the id of the entry with exactly these bytes, or -1.
func (v *Vocabulary) lookup(p []byte) int32 {
	n := int32(0)
	for _, b := range p {
		child := v.trie[n].next[b]
		if child == 0 {
			return -1
		}
		n = child - 1
	}
	return v.trie[n].id
}

// longestMatch returns the id and length of the longest vocabulary token
// that is a prefix of p. Equal-length matches cannot collide, but were two
// tokens ever to share bytes the lower id would win by construction, since
// the trie stores the first id inserted.
func (v *Vocabulary) longestMatch(p []byte) (int32, int) {
	n := int32(0)
	bestID, bestLen := int32(-1), 0
	for i, b := range p {
		child := v.trie[n].next[b]
		if child == 0 {
			break
		}
		n = child - 1
		if id := v.trie[n].id; id >= 0 {
			bestID, bestLen = id, i+1
		}
	}
	return bestID, bestLen
}

// Size returns the number of tokens in the vocabulary.
func (v *Vocabulary) Size() int { return len(v.entries) }

// Entries returns the vocabulary entries in id order. The returned slice
// is shared; callers must not modify it.
func (v *Vocabulary) Entries() []Entry { return v.entries }

// TokenBytes returns the byte string for a token id, or nil if the id is
// out of range.
func (v *Vocabulary) TokenBytes(id int32) []byte {
	if id < 0 || int(id) >= len(v.entries) {
		return nil
	}
	return v.entries[id].Bytes
}

// MaxTokenLen returns the longest token byte length.
func (v *Vocabulary) MaxTokenLen() int { return v.maxLen }
