package grammar

import (
	"errors"
	"testing"

	"github.com/anonymous-tct-authors/tct-models/grammar/jsonschema"
)

func mustCompile(t *testing.T, schema string) *Automaton {
	t.Helper()
	s, err := jsonschema.Parse([]byte(schema))
	if err != nil {
		t.Fatalf("parse schema: %v", err)
	}
	a, err := Compile(s)
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	return a
}

// accepts walks input through the automaton and reports whether it ends in
// an accepting state.
func accepts(a *Automaton, input string) bool {
	id, _, ok := a.WalkBytes(a.Start(), []byte(input))
	return ok && a.Accepting(id)
}

func TestCompileAccepts(t *testing.T) {
	cases := []struct {
		name   string
		schema string
		accept []string
		reject []string
	}{
		{
			name:   "required integer property",
			schema: `{"type":"object","properties":{"a":{"type":"integer"}},"required":["a"]}`,
			accept: []string{`{"a":1}`, `{"a":0}`, `{"a":-12}`, `{"a":100}`},
			reject: []string{`{}`, `{"a":}`, `{"a":1.5}`, `{"a":"x"}`, `{"a":01}`, `{"a":1,}`, `{"b":1}`, `{"a":1`},
		},
		{
			name:   "optional property can be skipped",
			schema: `{"type":"object","properties":{"a":{"type":"integer"},"b":{"type":"boolean"}},"required":["a"]}`,
			accept: []string{`{"a":1}`, `{"a":1,"b":true}`, `{"a":7,"b":false}`},
			reject: []string{`{"b":true}`, `{"b":true,"a":1}`, `{"a":1,"b":true,}`, `{"a":1,}`},
		},
		{
			name:   "canonical member order",
			schema: `{"type":"object","properties":{"a":{"type":"integer"},"b":{"type":"integer"}},"required":["a","b"]}`,
			accept: []string{`{"a":1,"b":2}`},
			reject: []string{`{"b":2,"a":1}`, `{"a":1}`, `{"b":2}`},
		},
		{
			name:   "all optional allows empty object",
			schema: `{"type":"object","properties":{"a":{"type":"null"}}}`,
			accept: []string{`{}`, `{"a":null}`},
			reject: []string{`{"a":}`, `{,}`},
		},
		{
			name:   "array self loop",
			schema: `{"type":"array","items":{"type":"integer"}}`,
			accept: []string{`[]`, `[1]`, `[1,2,3]`, `[-4,0]`},
			reject: []string{`[,]`, `[1,]`, `[1 2]`, `[`, `[1`},
		},
		{
			name:   "nested object in array",
			schema: `{"type":"array","items":{"type":"object","properties":{"x":{"type":"number"}},"required":["x"]}}`,
			accept: []string{`[]`, `[{"x":1.5}]`, `[{"x":1},{"x":2e3}]`, `[{"x":-0.25}]`},
			reject: []string{`[{}]`, `[{"x":1},]`, `[{"x":01}]`},
		},
		{
			name:   "string enum",
			schema: `{"type":"string","enum":["red","green","blue"]}`,
			accept: []string{`"red"`, `"green"`, `"blue"`},
			reject: []string{`"yellow"`, `"re"`, `"redd"`, `red`},
		},
		{
			name:   "integer enum with shared prefixes",
			schema: `{"type":"integer","enum":[1,12,2]}`,
			accept: []string{`1`, `12`, `2`},
			reject: []string{`123`, `21`, `3`},
		},
		{
			name:   "free string",
			schema: `{"type":"string"}`,
			accept: []string{`""`, `"hello"`, `"tab\tline"`, `"q\""`, `"é"`, `"héllo"`},
			reject: []string{`"unterminated`, `"bad\q"`, `"\u00g1"`},
		},
		{
			name:   "boolean and null",
			schema: `{"type":"object","properties":{"b":{"type":"boolean"},"n":{"type":"null"}},"required":["b","n"]}`,
			accept: []string{`{"b":true,"n":null}`, `{"b":false,"n":null}`},
			reject: []string{`{"b":1,"n":null}`, `{"b":true,"n":nil}`},
		},
		{
			name:   "anyOf disjoint alternatives",
			schema: `{"anyOf":[{"type":"string","enum":["auto"]},{"type":"integer"}]}`,
			accept: []string{`"auto"`, `42`, `-1`},
			reject: []string{`"manual"`, `true`},
		},
		{
			name:   "top level number",
			schema: `{"type":"number"}`,
			accept: []string{`0`, `-0.5`, `12.25`, `1e9`, `2E-3`, `10`},
			reject: []string{`.5`, `1.`, `01`, `+1`, `1e`, `--1`},
		},
		{
			name:   "pattern string",
			schema: `{"type":"string","pattern":"^v[0-9]+$"}`,
			accept: []string{`"v1"`, `"v22"`, `"v007"`},
			reject: []string{`"v"`, `"1"`, `"v1x"`, `""`},
		},
		{
			name:   "ref to defs",
			schema: `{"type":"object","properties":{"port":{"$ref":"#/$defs/port"}},"required":["port"],"$defs":{"port":{"type":"integer"}}}`,
			accept: []string{`{"port":8080}`},
			reject: []string{`{"port":"8080"}`},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			a := mustCompile(t, tt.schema)
			for _, in := range tt.accept {
				if !accepts(a, in) {
					t.Errorf("rejects %q, want accept", in)
				}
			}
			for _, in := range tt.reject {
				if accepts(a, in) {
					t.Errorf("accepts %q, want reject", in)
				}
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	cases := []struct {
		name   string
		schema string
	}{
		{"unconstrained value", `{}`},
		{"unknown type", `{"type":"blob"}`},
		{"array without items", `{"type":"array"}`},
		{"required property not declared", `{"type":"object","properties":{"a":{"type":"integer"}},"required":["a","b"]}`},
		{"ambiguous anyOf", `{"anyOf":[{"type":"integer"},{"type":"number"}]}`},
		{"enum overlapping string alternative", `{"anyOf":[{"type":"string"},{"type":"string","enum":["x"]}]}`},
		{"unsupported pattern construct", `{"type":"string","pattern":"a\\b"}`},
		{"unbounded pattern repeat", `{"type":"string","pattern":"(ab){2,}"}`},
		{"pattern matching quote", `{"type":"string","pattern":"\""}`},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			s, err := jsonschema.Parse([]byte(tt.schema))
			if err != nil {
				t.Fatalf("parse schema: %v", err)
			}
			a, err := Compile(s)
			if err == nil {
				t.Fatal("compile succeeded, want error")
			}
			var ce *CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("error type %T, want *CompileError", err)
			}
			if a != nil {
				t.Fatal("partial automaton returned alongside error")
			}
		})
	}
}

func TestRecursiveRefFailsParse(t *testing.T) {
	schema := `{"type":"object","properties":{"next":{"$ref":"#/$defs/node"}},"$defs":{"node":{"type":"object","properties":{"next":{"$ref":"#/$defs/node"}}}}}`
	_, err := jsonschema.Parse([]byte(schema))
	if err == nil {
		t.Fatal("parse succeeded, want recursive $ref error")
	}
}

// Every state that survives compilation must be able to reach an accepting
// state, and transitions must be deterministic.
func TestAutomatonInvariants(t *testing.T) {
	schemas := []string{
		`{"type":"object","properties":{"a":{"type":"integer"},"b":{"type":"string"}},"required":["a"]}`,
		`{"type":"array","items":{"type":"string","enum":["on","off"]}}`,
		`{"type":"number"}`,
	}
	for _, schema := range schemas {
		a := mustCompile(t, schema)
		for id := 0; id < a.Len(); id++ {
			sid := StateID(id)
			seen := map[byte]bool{}
			for _, b := range a.EdgeBytes(sid) {
				if seen[b] {
					t.Fatalf("state %d: duplicate transition on %q", id, b)
				}
				seen[b] = true
			}
			if a.Terminal(sid) && !a.Accepting(sid) {
				t.Fatalf("state %d: dead non-accepting terminal survived pruning", id)
			}
		}
	}
}

func TestCompileDeterministic(t *testing.T) {
	schema := `{"type":"object","properties":{"kind":{"type":"string","enum":["Pod","Service"]},"replicas":{"type":"integer"}},"required":["kind"]}`
	a1 := mustCompile(t, schema)
	a2 := mustCompile(t, schema)

	inputs := []string{
		`{"kind":"Pod"}`,
		`{"kind":"Service","replicas":3}`,
		`{"kind":"Deployment"}`,
		`{"replicas":3}`,
		`{}`,
	}
	for _, in := range inputs {
		if accepts(a1, in) != accepts(a2, in) {
			t.Errorf("automatons disagree on %q", in)
		}
	}
	if a1.Len() != a2.Len() {
		t.Errorf("state counts differ: %d vs %d", a1.Len(), a2.Len())
	}
}

func TestCompileCached(t *testing.T) {
	doc := []byte(`{"type":"object","properties":{"v":{"type":"integer"}},"required":["v"]}`)
	a1, d1, err := CompileCached(doc)
	if err != nil {
		t.Fatal(err)
	}
	a2, d2, err := CompileCached(doc)
	if err != nil {
		t.Fatal(err)
	}
	if a1 != a2 {
		t.Error("second compile did not hit the cache")
	}
	if d1 != d2 {
		t.Errorf("digests differ: %s vs %s", d1, d2)
	}
	if got, ok := Cached(d1); !ok || got != a1 {
		t.Error("Cached did not return the compiled automaton")
	}
}
