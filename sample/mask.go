// Package sample constrains token-by-token generation to a schema
// grammar. A MaskEngine precomputes, for every automaton state, which
// tokens of an external vocabulary keep the output inside the grammar; a
// Context walks the automaton as tokens are accepted and masks logits at
// each step.
package sample

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anonymous-tct-authors/tct-models/grammar"
	"github.com/anonymous-tct-authors/tct-models/model"
)

// MaskEngine binds an external token vocabulary to a grammar automaton.
// For each (state, token) pair it precomputes whether the token's bytes
// walk from the state, and where they land. Immutable after NewMaskEngine
// and safe for concurrent use.
type MaskEngine struct {
	automaton *grammar.Automaton
	vocab     *model.Vocabulary

	masks   []Bitset
	landing [][]grammar.StateID
}

// NewMaskEngine precomputes token masks for every automaton state. States
// are processed in parallel; ctx cancels a long precompute.
func NewMaskEngine(ctx context.Context, a *grammar.Automaton, v *model.Vocabulary) (*MaskEngine, error) {
	start := time.Now()
	e := &MaskEngine{
		automaton: a,
		vocab:     v,
		masks:     make([]Bitset, a.Len()),
		landing:   make([][]grammar.StateID, a.Len()),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for id := 0; id < a.Len(); id++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			e.masks[id], e.landing[id] = e.compute(grammar.StateID(id))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Debug("precomputed token masks", "states", a.Len(), "vocab", v.Size(), "elapsed", time.Since(start))
	return e, nil
}

func (e *MaskEngine) compute(state grammar.StateID) (Bitset, []grammar.StateID) {
	mask := newBitset(e.vocab.Size())
	land := make([]grammar.StateID, e.vocab.Size())
	accepting := e.automaton.Accepting(state)
	for id := int32(0); int(id) < e.vocab.Size(); id++ {
		land[id] = grammar.NoState
		if e.vocab.Is(id, model.SpecialEOS) {
			// end of sequence is only legal once the text so far is a
			// complete document
			if accepting {
				mask.set(int(id))
				land[id] = state
			}
			continue
		}
		if e.vocab.Is(id, model.SpecialBOS) {
			continue
		}
		s := e.vocab.Decode(id)
		if s == "" {
			continue
		}
		next, _, ok := e.automaton.WalkBytes(state, []byte(s))
		if !ok {
			continue
		}
		mask.set(int(id))
		land[id] = next
	}
	return mask, land
}

// Mask returns the set of token ids valid in state. The bitset is shared;
// callers must not modify it.
func (e *MaskEngine) Mask(state grammar.StateID) Bitset {
	return e.masks[state]
}

// Step returns the state reached by accepting token id in state, or
// NoState and false if the token is masked there.
func (e *MaskEngine) Step(state grammar.StateID, id int32) (grammar.StateID, bool) {
	if id < 0 || int(id) >= e.vocab.Size() {
		return grammar.NoState, false
	}
	next := e.landing[state][id]
	return next, next != grammar.NoState
}

// Automaton returns the engine's grammar automaton.
func (e *MaskEngine) Automaton() *grammar.Automaton { return e.automaton }

// Vocabulary returns the external vocabulary the masks are computed over.
func (e *MaskEngine) Vocabulary() *model.Vocabulary { return e.vocab }
