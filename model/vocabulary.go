// Package model holds the external, schema-agnostic tokenizer side of the
// system: byte-level vocabularies and the byte pair encoding used by the
// constrained-decoding baseline. The grammar core treats these
// vocabularies as opaque lists of byte strings.
package model

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sync"
)

type Special int32

const (
	SpecialBOS Special = iota
	SpecialEOS
)

// Vocabulary is an external token vocabulary: token id to byte string,
// plus special token markers. Lookup maps are built lazily and the struct
// is safe for concurrent readers afterward, so share one instance rather
// than copying.
type Vocabulary struct {
	Values []string
	Merges []string

	BOS, EOS []int32

	valuesOnce sync.Once
	values     map[string]int32

	mergeOnce sync.Once
	merge     map[string]int32
}

func (v *Vocabulary) Is(id int32, special Special) bool {
	switch special {
	case SpecialBOS:
		return slices.Contains(v.BOS, id)
	case SpecialEOS:
		return slices.Contains(v.EOS, id)
	default:
		return false
	}
}

// Encode returns the id for an exact token string, or -1.
func (v *Vocabulary) Encode(s string) int32 {
	v.valuesOnce.Do(func() {
		v.values = make(map[string]int32, len(v.Values))
		for i, value := range v.Values {
			v.values[value] = int32(i)
		}
	})

	if id, ok := v.values[s]; ok {
		return id
	}

	return -1
}

// Decode returns the token string for id, or "" if out of range.
func (v *Vocabulary) Decode(id int32) string {
	if id < 0 || int(id) >= len(v.Values) {
		return ""
	}
	return v.Values[id]
}

func (v *Vocabulary) Size() int { return len(v.Values) }

// Merge returns the rank of a learned merge, or -1 if the pair was never
// merged during training. Lower ranks merge first.
func (v *Vocabulary) Merge(left, right string) int {
	v.mergeOnce.Do(func() {
		v.merge = make(map[string]int32, len(v.Merges))
		for i, merge := range v.Merges {
			v.merge[merge] = int32(i)
		}
	})

	if id, ok := v.merge[left+" "+right]; ok {
		return int(id)
	}

	return -1
}

// NewByteVocabulary returns the minimal byte-level vocabulary: one token
// per byte value, plus a trailing EOS token. This is the untrained
// baseline the comparison harness starts from.
func NewByteVocabulary() *Vocabulary {
	values := make([]string, 257)
	for b := 0; b < 256; b++ {
		values[b] = string([]byte{byte(b)})
	}
	values[256] = "<eos>"
	return &Vocabulary{Values: values, EOS: []int32{256}}
}

type vocabularyFile struct {
	Values []string `json:"values"`
	Merges []string `json:"merges"`
	BOS    []int32  `json:"bos"`
	EOS    []int32  `json:"eos"`
}

// LoadVocabulary reads a vocabulary from a JSON file written by
// SaveVocabulary.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f vocabularyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("vocabulary %s: %w", path, err)
	}
	if len(f.Values) == 0 {
		return nil, fmt.Errorf("vocabulary %s: no values", path)
	}
	return &Vocabulary{Values: f.Values, Merges: f.Merges, BOS: f.BOS, EOS: f.EOS}, nil
}

// SaveVocabulary writes the vocabulary as JSON.
func SaveVocabulary(v *Vocabulary, path string) error {
	data, err := json.Marshal(vocabularyFile{Values: v.Values, Merges: v.Merges, BOS: v.BOS, EOS: v.EOS})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
