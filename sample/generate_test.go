package sample

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/anonymous-tct-authors/tct-models/model"
)

// flatForward stands in for a model: every token is equally likely, so a
// greedy sampler deterministically picks the lowest valid id.
func flatForward(size int) ForwardFunc {
	return func(ctx context.Context, tokens []int32) ([]float32, error) {
		return make([]float32, size), nil
	}
}

func TestGenerateCompletes(t *testing.T) {
	v := model.NewByteVocabulary()
	e := newEngine(t, `{"type":"object","properties":{"on":{"type":"boolean"}},"required":["on"]}`, v)

	gc, err := Generate(context.Background(), e, flatForward(v.Size()), Sampler{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if gc.Phase() != PhaseAccepted {
		t.Fatalf("phase = %s, want accepted", gc.Phase())
	}
	// greedy over uniform logits takes the lowest byte at each choice
	if got := gc.Output(); got != `{"on":false}` {
		t.Errorf("output = %q", got)
	}
	if !json.Valid([]byte(gc.Output())) {
		t.Errorf("output %q is not valid JSON", gc.Output())
	}
	last := gc.Tokens()[len(gc.Tokens())-1]
	if !v.Is(last, model.SpecialEOS) {
		t.Error("accepted generation should end with eos")
	}
}

func TestGenerateSampledStaysValid(t *testing.T) {
	v := model.NewByteVocabulary()
	schema := `{
		"type": "object",
		"properties": {
			"kind": {"type": "string", "enum": ["Pod", "Service"]},
			"replicas": {"type": "integer"}
		},
		"required": ["kind"]
	}`
	e := newEngine(t, schema, v)

	sampler := NewSampler(0.9, 40, 0.95, 0, 7)
	for i := 0; i < 10; i++ {
		gc, err := Generate(context.Background(), e, flatForward(v.Size()), sampler, 64)
		if err != nil {
			t.Fatal(err)
		}
		switch gc.Phase() {
		case PhaseAccepted:
			if !json.Valid([]byte(gc.Output())) {
				t.Errorf("accepted output %q is not valid JSON", gc.Output())
			}
		case PhaseTruncated:
			// a prefix is fine, it just must have walked the automaton
			if _, _, ok := e.Automaton().WalkBytes(e.Automaton().Start(), []byte(gc.Output())); !ok {
				t.Errorf("truncated output %q left the grammar", gc.Output())
			}
		default:
			t.Errorf("phase = %s", gc.Phase())
		}
	}
}

func TestGenerateTruncates(t *testing.T) {
	v := model.NewByteVocabulary()
	e := newEngine(t, intFieldSchema, v)

	gc, err := Generate(context.Background(), e, flatForward(v.Size()), Sampler{}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if gc.Phase() != PhaseTruncated {
		t.Fatalf("phase = %s, want truncated", gc.Phase())
	}
	if len(gc.Tokens()) != 3 {
		t.Errorf("accepted %d tokens, want 3", len(gc.Tokens()))
	}
}

func TestGenerateDeadEnd(t *testing.T) {
	// vocabulary that can open an object but never continue it
	v := &model.Vocabulary{Values: []string{`{`, `<eos>`}, EOS: []int32{1}}
	e := newEngine(t, intFieldSchema, v)

	gc, err := Generate(context.Background(), e, flatForward(v.Size()), Sampler{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if gc.Phase() != PhaseDeadEnd {
		t.Errorf("phase = %s, want dead_end", gc.Phase())
	}
	if gc.Output() != `{` {
		t.Errorf("output = %q, want the opening brace", gc.Output())
	}
}

func TestAcceptRejectsEarlyEOS(t *testing.T) {
	v := model.NewByteVocabulary()
	e := newEngine(t, intFieldSchema, v)
	gc := NewContext(e, 0)
	if err := gc.Accept(v.EOS[0]); err == nil {
		t.Error("eos at the start state should be rejected")
	}
	if err := gc.Accept(int32('x')); err == nil {
		t.Error("invalid byte token should be rejected")
	}
	if err := gc.Accept(int32('{')); err != nil {
		t.Errorf("opening brace rejected: %v", err)
	}
}

func TestGenerateBatch(t *testing.T) {
	v := model.NewByteVocabulary()
	e := newEngine(t, `{"type":"object","properties":{"on":{"type":"boolean"}},"required":["on"]}`, v)

	results, err := GenerateBatch(context.Background(), e, flatForward(v.Size()), Sampler{}, 0, 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results", len(results))
	}
	ids := map[string]bool{}
	for i, gc := range results {
		if gc == nil || gc.Phase() != PhaseAccepted {
			t.Fatalf("result %d: %+v", i, gc)
		}
		if gc.Output() != `{"on":false}` {
			t.Errorf("result %d output = %q", i, gc.Output())
		}
		ids[gc.ID] = true
	}
	if len(ids) != 4 {
		t.Error("contexts should have distinct ids")
	}
}

func TestGenerateForwardError(t *testing.T) {
	v := model.NewByteVocabulary()
	e := newEngine(t, intFieldSchema, v)
	boom := errors.New("boom")
	_, err := Generate(context.Background(), e, func(context.Context, []int32) ([]float32, error) {
		return nil, boom
	}, Sampler{}, 0)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}
