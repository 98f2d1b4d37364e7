package sample

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/anonymous-tct-authors/tct-models/grammar"
	"github.com/anonymous-tct-authors/tct-models/model"
)

// ErrDeadEnd reports a state where no vocabulary token is valid. With a
// byte-complete vocabulary this cannot happen on a pruned automaton; a
// sparser external vocabulary can strand a walk mid-document.
var ErrDeadEnd = errors.New("sample: no valid token in the current state")

// DefaultMaxTokens bounds a generation when the caller does not choose a
// limit.
const DefaultMaxTokens = 1024

// Phase is the lifecycle of one constrained generation.
type Phase int

const (
	// PhaseWalking means the walk is mid-document and expects more tokens.
	PhaseWalking Phase = iota
	// PhaseAccepted means EOS arrived with the automaton accepting.
	PhaseAccepted
	// PhaseTruncated means the token budget ran out mid-document.
	PhaseTruncated
	// PhaseDeadEnd means no token was valid in the last state reached.
	PhaseDeadEnd
)

func (p Phase) String() string {
	switch p {
	case PhaseWalking:
		return "walking"
	case PhaseAccepted:
		return "accepted"
	case PhaseTruncated:
		return "truncated"
	case PhaseDeadEnd:
		return "dead_end"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Context tracks one constrained generation: the automaton state reached
// so far, the accepted tokens, and the decoded output. Not safe for
// concurrent use.
type Context struct {
	ID string

	engine    *MaskEngine
	state     grammar.StateID
	phase     Phase
	tokens    []int32
	buf       bytes.Buffer
	maxTokens int
}

// NewContext starts a generation at the automaton's start state.
// maxTokens caps the number of accepted tokens; zero or negative selects
// DefaultMaxTokens.
func NewContext(engine *MaskEngine, maxTokens int) *Context {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Context{
		ID:        uuid.NewString(),
		engine:    engine,
		state:     engine.automaton.Start(),
		maxTokens: maxTokens,
	}
}

func (c *Context) Phase() Phase           { return c.phase }
func (c *Context) State() grammar.StateID { return c.state }
func (c *Context) Output() string         { return c.buf.String() }

// Tokens returns the accepted token ids, including a final EOS when the
// generation completed. The slice is shared; callers must not modify it.
func (c *Context) Tokens() []int32 { return c.tokens }

// Apply masks logits in place: every token invalid in the current state
// goes to negative infinity. Logit positions beyond the vocabulary are
// masked too. Returns ErrDeadEnd, and moves to PhaseDeadEnd, if nothing
// is valid.
func (c *Context) Apply(logits []float32) error {
	if c.phase != PhaseWalking {
		return fmt.Errorf("sample: generation already finished (%s)", c.phase)
	}
	if len(logits) < c.engine.vocab.Size() {
		return fmt.Errorf("sample: %d logits for vocabulary of %d", len(logits), c.engine.vocab.Size())
	}
	mask := c.engine.Mask(c.state)
	if mask.Count() == 0 {
		c.phase = PhaseDeadEnd
		return ErrDeadEnd
	}
	neg := float32(math.Inf(-1))
	for i := range logits {
		if !mask.Test(i) {
			logits[i] = neg
		}
	}
	return nil
}

// Accept records a sampled token and advances the automaton. EOS finishes
// the generation; it is only valid in an accepting state. Hitting the
// token budget mid-document moves to PhaseTruncated.
func (c *Context) Accept(id int32) error {
	if c.phase != PhaseWalking {
		return fmt.Errorf("sample: generation already finished (%s)", c.phase)
	}
	if c.engine.vocab.Is(id, model.SpecialEOS) {
		if !c.engine.automaton.Accepting(c.state) {
			return fmt.Errorf("sample: eos token %d before the grammar accepts", id)
		}
		c.tokens = append(c.tokens, id)
		c.phase = PhaseAccepted
		return nil
	}
	next, ok := c.engine.Step(c.state, id)
	if !ok {
		return fmt.Errorf("sample: token %d is not valid in the current state", id)
	}
	c.tokens = append(c.tokens, id)
	c.buf.WriteString(c.engine.vocab.Decode(id))
	c.state = next
	if len(c.tokens) >= c.maxTokens {
		c.phase = PhaseTruncated
	}
	return nil
}

// Truncate ends the generation early, keeping the output produced so far.
func (c *Context) Truncate() {
	if c.phase == PhaseWalking {
		c.phase = PhaseTruncated
	}
}
