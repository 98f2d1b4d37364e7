// Package api defines the wire types for the HTTP service and a small
// client for them.
package api

import (
	"encoding/json"
	"fmt"
)

// StatusError is an error with an HTTP status code and message. It is
// built on the client side from non-2xx responses.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		return "something went wrong, please see the server logs for details"
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CompileRequest compiles a schema and derives its vocabulary.
type CompileRequest struct {
	Schema json.RawMessage `json:"schema"`
	// Budget caps the derived vocabulary size; zero selects the
	// configured default.
	Budget int `json:"budget,omitempty"`
}

type CompileResponse struct {
	Digest    string `json:"digest"`
	States    int    `json:"states"`
	VocabSize int    `json:"vocab_size"`
}

// EncodeRequest tokenizes schema-conforming text.
type EncodeRequest struct {
	Schema json.RawMessage `json:"schema"`
	Budget int             `json:"budget,omitempty"`
	Text   string          `json:"text"`
}

type EncodeResponse struct {
	Tokens []int32 `json:"tokens"`
}

// DecodeRequest decodes the longest valid prefix of a token sequence.
type DecodeRequest struct {
	Schema json.RawMessage `json:"schema"`
	Budget int             `json:"budget,omitempty"`
	Tokens []int32         `json:"tokens"`
}

type DecodeResponse struct {
	Text     string `json:"text"`
	Consumed int    `json:"consumed"`
	Surplus  int    `json:"surplus"`
}

// MaskRequest asks which bytes may follow a text prefix under a schema.
type MaskRequest struct {
	Schema json.RawMessage `json:"schema"`
	Prefix string          `json:"prefix"`
}

type MaskResponse struct {
	// Allowed lists the bytes valid after the prefix, each as a
	// one-byte string.
	Allowed []string `json:"allowed"`
	// Accepting reports whether the prefix is already a complete
	// document.
	Accepting bool `json:"accepting"`
}

// GenerateRequest runs constrained generations against a schema. The
// server has no model; logits are uniform, so the output is a sampled
// walk of the grammar.
type GenerateRequest struct {
	Schema      json.RawMessage `json:"schema"`
	Count       int             `json:"count,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	TopK        int             `json:"top_k,omitempty"`
	TopP        float32         `json:"top_p,omitempty"`
	MinP        float32         `json:"min_p,omitempty"`
	Seed        *int            `json:"seed,omitempty"`
}

type Generation struct {
	ID     string `json:"id"`
	Phase  string `json:"phase"`
	Output string `json:"output"`
	Tokens int    `json:"tokens"`
}

type GenerateResponse struct {
	Generations []Generation `json:"generations"`
}

// SchemaResponse lists the schema digests compiled so far.
type SchemaResponse struct {
	Digests []string `json:"digests"`
}
