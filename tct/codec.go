package tct

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/anonymous-tct-authors/tct-models/grammar"
)

// EncodeError reports input that does not conform to the schema grammar.
type EncodeError struct {
	Offset int
	Reason string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("tct: encode: offset %d: %s", e.Offset, e.Reason)
}

// Codec encodes JSON text to schema-aware token sequences and back. It is
// immutable and safe for concurrent use.
type Codec struct {
	automaton *grammar.Automaton
	vocab     *Vocabulary
}

// NewCodec binds a derived vocabulary to its automaton.
func NewCodec(a *grammar.Automaton, v *Vocabulary) *Codec {
	return &Codec{automaton: a, vocab: v}
}

// Vocabulary returns the codec's token vocabulary.
func (c *Codec) Vocabulary() *Vocabulary { return c.vocab }

// Automaton returns the automaton the codec walks.
func (c *Codec) Automaton() *grammar.Automaton { return c.automaton }

// Encode tokenizes schema-conforming JSON text. The walk is byte by byte
// against the automaton; segmentation is greedy longest match anchored at
// the current state, with ties broken by lowest token id, so any given
// text has exactly one encoding.
func (c *Codec) Encode(text string) ([]int32, error) {
	p := []byte(text)

	// validate the whole input first so errors carry the byte offset of
	// the first non-conforming byte
	state := c.automaton.Start()
	for i, b := range p {
		next, ok := c.automaton.Step(state, b)
		if !ok {
			return nil, &EncodeError{Offset: i, Reason: fmt.Sprintf("byte %q is not valid here", b)}
		}
		state = next
	}
	if !c.automaton.Accepting(state) {
		return nil, &EncodeError{Offset: len(p), Reason: "input ends before the grammar accepts"}
	}

	var ids []int32
	for i := 0; i < len(p); {
		id, n := c.vocab.longestMatch(p[i:])
		if id < 0 {
			// every transition byte is a seed token, so a validated
			// input always matches
			return nil, &EncodeError{Offset: i, Reason: "no vocabulary token matches"}
		}
		ids = append(ids, id)
		i += n
	}
	return ids, nil
}

// DecodePrefix walks tokens in order and returns the decoded text of the
// longest valid prefix, the number of tokens consumed, and the surplus
// count. It never fails: generated sequences routinely overrun or
// underrun, and the caller needs a graded signal, not an error.
// consumed+surplus == len(tokens) always; text is empty iff consumed is 0.
func (c *Codec) DecodePrefix(tokens []int32) (string, int, int) {
	var buf bytes.Buffer
	state := c.automaton.Start()
	consumed := 0
	for _, id := range tokens {
		p := c.vocab.TokenBytes(id)
		if p == nil {
			break
		}
		next, _, ok := c.automaton.WalkBytes(state, p)
		if !ok {
			break
		}
		state = next
		buf.Write(p)
		consumed++
	}
	return buf.String(), consumed, len(tokens) - consumed
}

var codecs struct {
	mu sync.Mutex
	m  map[string]*Codec
}

// Open returns the codec for a schema document, compiling the automaton
// and deriving the vocabulary on first use. Codecs are cached process-wide
// under the schema digest and the budget, mirroring the automaton cache.
func Open(doc []byte, budget int) (*Codec, error) {
	if budget <= 0 {
		budget = DefaultBudget
	}
	a, digest, err := grammar.CompileCached(doc)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s/%d", digest, budget)

	codecs.mu.Lock()
	defer codecs.mu.Unlock()
	if c, ok := codecs.m[key]; ok {
		return c, nil
	}
	c := NewCodec(a, Derive(a, budget))
	if codecs.m == nil {
		codecs.m = make(map[string]*Codec)
	}
	codecs.m[key] = c
	return c, nil
}
