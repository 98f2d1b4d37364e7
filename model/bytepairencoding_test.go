package model

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestByteVocabularyRoundTrip(t *testing.T) {
	bpe := NewBytePairEncoding(NewByteVocabulary())
	cases := []string{
		"",
		"hello world",
		`{"kind":"Pod","name":"api"}`,
		"tabs\tand\nnewlines",
	}
	for _, s := range cases {
		ids, err := bpe.Encode(s)
		if err != nil {
			t.Fatalf("Encode(%q): %v", s, err)
		}
		if len(ids) != len(s) {
			t.Errorf("Encode(%q) = %d tokens, want one per byte", s, len(ids))
		}
		got, err := bpe.Decode(ids)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got != s {
			t.Errorf("round trip of %q = %q", s, got)
		}
	}
}

func TestTrainMergesFrequentPairs(t *testing.T) {
	corpus := []string{
		`{"name":"alpha"}`,
		`{"name":"beta"}`,
		`{"name":"gamma"}`,
	}
	v := Train(corpus, 300)
	if v.Size() > 300 {
		t.Fatalf("Size = %d exceeds requested 300", v.Size())
	}
	if len(v.Merges) == 0 {
		t.Fatal("no merges learned from a repetitive corpus")
	}

	bpe := NewBytePairEncoding(v)
	ids, err := bpe.Encode(`{"name":"delta"}`)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) >= len(`{"name":"delta"}`) {
		t.Errorf("trained encoding uses %d tokens, want fewer than byte count %d", len(ids), len(`{"name":"delta"}`))
	}
	got, err := bpe.Decode(ids)
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"name":"delta"}` {
		t.Errorf("round trip = %q", got)
	}
}

func TestTrainDeterministic(t *testing.T) {
	corpus := []string{`{"a":1,"b":2}`, `{"a":3,"b":4}`}
	v1 := Train(corpus, 280)
	v2 := Train(corpus, 280)
	if diff := cmp.Diff(v1.Values, v2.Values); diff != "" {
		t.Errorf("values differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(v1.Merges, v2.Merges); diff != "" {
		t.Errorf("merges differ (-first +second):\n%s", diff)
	}
}

func TestSaveLoadVocabulary(t *testing.T) {
	v := Train([]string{"aaaa bbbb aaaa"}, 270)
	path := filepath.Join(t.TempDir(), "vocab.json")
	if err := SaveVocabulary(v, path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadVocabulary(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(v.Values, loaded.Values); diff != "" {
		t.Errorf("values differ after reload:\n%s", diff)
	}
	if diff := cmp.Diff(v.Merges, loaded.Merges); diff != "" {
		t.Errorf("merges differ after reload:\n%s", diff)
	}
	if !loaded.Is(loaded.EOS[0], SpecialEOS) {
		t.Error("EOS marker lost on reload")
	}
}

func TestEncodeSpecial(t *testing.T) {
	v := NewByteVocabulary()
	if got := v.Encode("<eos>"); got != 256 {
		t.Errorf("Encode(<eos>) = %d, want 256", got)
	}
	if got := v.Decode(256); got != "<eos>" {
		t.Errorf("Decode(256) = %q", got)
	}
	if v.Decode(-1) != "" || v.Decode(999) != "" {
		t.Error("out of range ids should decode to empty string")
	}
}
