package grammar

import (
	"testing"

	"github.com/anonymous-tct-authors/tct-models/grammar/jsonschema"
)

const benchDoc = `{
	"type": "object",
	"properties": {
		"apiVersion": {"type": "string", "enum": ["v1", "apps/v1"]},
		"kind": {"type": "string", "enum": ["Deployment", "Service", "Pod"]},
		"metadata": {
			"type": "object",
			"properties": {
				"name": {"type": "string", "pattern": "[a-z][a-z0-9-]{0,30}"},
				"namespace": {"type": "string"}
			},
			"required": ["name"]
		},
		"spec": {
			"type": "object",
			"properties": {
				"replicas": {"type": "integer"},
				"paused": {"type": "boolean"}
			}
		}
	},
	"required": ["apiVersion", "kind", "metadata"]
}`

func BenchmarkCompile(b *testing.B) {
	s, err := jsonschema.Parse([]byte(benchDoc))
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Compile(s); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkWalk(b *testing.B) {
	s, err := jsonschema.Parse([]byte(benchDoc))
	if err != nil {
		b.Fatal(err)
	}
	a, err := Compile(s)
	if err != nil {
		b.Fatal(err)
	}
	doc := []byte(`{"apiVersion":"v1","kind":"Pod","metadata":{"name":"api-0"},"spec":{"replicas":3}}`)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, ok := a.WalkBytes(a.Start(), doc); !ok {
			b.Fatal("walk rejected the document")
		}
	}
}
