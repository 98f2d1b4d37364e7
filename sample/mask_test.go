package sample

import (
	"context"
	"testing"

	"github.com/anonymous-tct-authors/tct-models/grammar"
	"github.com/anonymous-tct-authors/tct-models/grammar/jsonschema"
	"github.com/anonymous-tct-authors/tct-models/model"
)

const intFieldSchema = `{"type":"object","properties":{"a":{"type":"integer"}},"required":["a"]}`

func compile(t testing.TB, schema string) *grammar.Automaton {
	t.Helper()
	s, err := jsonschema.Parse([]byte(schema))
	if err != nil {
		t.Fatalf("parse schema: %v", err)
	}
	a, err := grammar.Compile(s)
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	return a
}

func newEngine(t testing.TB, schema string, v *model.Vocabulary) *MaskEngine {
	t.Helper()
	e, err := NewMaskEngine(context.Background(), compile(t, schema), v)
	if err != nil {
		t.Fatalf("NewMaskEngine: %v", err)
	}
	return e
}

func TestMaskAtStart(t *testing.T) {
	v := &model.Vocabulary{
		Values: []string{`{"a":`, `1`, `2`, `}`, `{`, `"`, `<eos>`},
		EOS:    []int32{6},
	}
	e := newEngine(t, intFieldSchema, v)

	start := e.Automaton().Start()
	mask := e.Mask(start)

	for _, id := range []int{0, 4} { // `{"a":` and `{`
		if !mask.Test(id) {
			t.Errorf("token %q should be valid at start", v.Values[id])
		}
	}
	for _, id := range []int{1, 3, 5, 6} { // digit, `}`, `"`, eos
		if mask.Test(id) {
			t.Errorf("token %q should be masked at start", v.Values[id])
		}
	}

	// after `{"a":` a digit opens the value but `}` is still early
	afterKey, ok := e.Step(start, 0)
	if !ok {
		t.Fatal("multi-byte token did not step")
	}
	if !e.Mask(afterKey).Test(1) {
		t.Error("digit should be valid after the key")
	}
	if e.Mask(afterKey).Test(3) {
		t.Error("close brace should be masked before a value")
	}

	// after `{"a":1` the document may close, and after `}` only eos is left
	afterDigit, _ := e.Step(afterKey, 1)
	if !e.Mask(afterDigit).Test(3) {
		t.Error("close brace should be valid after the value")
	}
	end, _ := e.Step(afterDigit, 3)
	if !e.Mask(end).Test(6) {
		t.Error("eos should be valid once the document is complete")
	}
	if got := e.Mask(end).Count(); got != 1 {
		t.Errorf("complete document allows %d tokens, want only eos", got)
	}
}

func TestMaskMatchesWalk(t *testing.T) {
	v := model.NewByteVocabulary()
	e := newEngine(t, `{
		"type": "object",
		"properties": {
			"kind": {"type": "string", "enum": ["Pod", "Service"]},
			"count": {"type": "integer"}
		},
		"required": ["kind"]
	}`, v)

	a := e.Automaton()
	for id := 0; id < a.Len(); id++ {
		state := grammar.StateID(id)
		mask := e.Mask(state)
		for tok := int32(0); int(tok) < v.Size(); tok++ {
			if v.Is(tok, model.SpecialEOS) {
				if mask.Test(int(tok)) != a.Accepting(state) {
					t.Errorf("state %d: eos allowed=%v accepting=%v", state, mask.Test(int(tok)), a.Accepting(state))
				}
				continue
			}
			want, _, ok := a.WalkBytes(state, []byte(v.Decode(tok)))
			if mask.Test(int(tok)) != ok {
				t.Errorf("state %d token %d: mask=%v walk=%v", state, tok, mask.Test(int(tok)), ok)
			}
			if got, stepped := e.Step(state, tok); stepped != ok || (ok && got != want) {
				t.Errorf("state %d token %d: Step=(%d,%v) walk=(%d,%v)", state, tok, got, stepped, want, ok)
			}
		}
	}
}

func TestMaskCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMaskEngine(ctx, compile(t, intFieldSchema), model.NewByteVocabulary())
	if err == nil {
		t.Error("cancelled precompute should fail")
	}
}
