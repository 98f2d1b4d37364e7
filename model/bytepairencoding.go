package model

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
)

// BytePairEncoding is the baseline byte-level tokenizer. Text is split by
// pretokenizer patterns, then each fragment is merged bottom-up from
// single bytes following the vocabulary's learned merge ranks.
type BytePairEncoding struct {
	vocab   *Vocabulary
	regexps []*regexp2.Regexp
}

func NewBytePairEncoding(vocab *Vocabulary, pretokenizers ...string) BytePairEncoding {
	if len(pretokenizers) == 0 {
		// default byte-level pretokenizer, e.g.
		// https://github.com/huggingface/tokenizers/blob/main/tokenizers/src/pre_tokenizers/byte_level.rs#L44
		pretokenizers = []string{`'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`}
	}

	regexps := make([]*regexp2.Regexp, 0, len(pretokenizers))
	for _, p := range pretokenizers {
		regexps = append(regexps, regexp2.MustCompile(p, regexp2.RE2))
	}
	return BytePairEncoding{vocab: vocab, regexps: regexps}
}

func (bpe BytePairEncoding) Vocabulary() *Vocabulary {
	return bpe.vocab
}

func (bpe BytePairEncoding) split(s string) []string {
	parts := []string{s}
	for _, re := range bpe.regexps {
		var next []string
		for _, part := range parts {
			r := []rune(part)
			var offset int
			for m, _ := re.FindRunesMatch(r); m != nil; m, _ = re.FindNextMatch(m) {
				if m.Index > offset {
					next = append(next, string(r[offset:m.Index]))
				}
				next = append(next, m.String())
				offset = m.Index + m.Length
			}
			if offset < len(r) {
				next = append(next, string(r[offset:]))
			}
		}
		parts = next
	}
	return parts
}

// Encode tokenizes text. Every byte value is in the vocabulary, so
// encoding cannot fail on ordinary input; an id below zero means the
// vocabulary is missing its byte seeds.
func (bpe BytePairEncoding) Encode(s string) ([]int32, error) {
	var ids []int32
	for _, part := range bpe.split(s) {
		syms := make([]string, 0, len(part))
		for i := 0; i < len(part); i++ {
			syms = append(syms, part[i:i+1])
		}
		for len(syms) > 1 {
			bestRank, bestIdx := -1, -1
			for i := 0; i+1 < len(syms); i++ {
				if r := bpe.vocab.Merge(syms[i], syms[i+1]); r >= 0 && (bestRank < 0 || r < bestRank) {
					bestRank, bestIdx = r, i
				}
			}
			if bestIdx < 0 {
				break
			}
			syms[bestIdx] += syms[bestIdx+1]
			syms = append(syms[:bestIdx+1], syms[bestIdx+2:]...)
		}
		for _, sym := range syms {
			id := bpe.vocab.Encode(sym)
			if id < 0 {
				return nil, fmt.Errorf("bpe: token %q not in vocabulary", sym)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Decode concatenates token byte strings.
func (bpe BytePairEncoding) Decode(ids []int32) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		if id < 0 || int(id) >= len(bpe.vocab.Values) {
			return "", fmt.Errorf("bpe: token id %d out of range", id)
		}
		sb.WriteString(bpe.vocab.Values[id])
	}
	return sb.String(), nil
}

// Train learns a byte-level BPE vocabulary from a corpus. The result
// starts from the 256 byte seeds, appends one value per merge up to
// vocabSize, and ends with an EOS token. Ties between equally frequent
// pairs break lexicographically so training is deterministic.
func Train(corpus []string, vocabSize int) *Vocabulary {
	values := make([]string, 256)
	for b := 0; b < 256; b++ {
		values[b] = string([]byte{byte(b)})
	}

	docs := make([][]string, len(corpus))
	for i, doc := range corpus {
		syms := make([]string, 0, len(doc))
		for j := 0; j < len(doc); j++ {
			syms = append(syms, doc[j:j+1])
		}
		docs[i] = syms
	}

	var merges []string
	for len(values)+1 < vocabSize {
		counts := map[[2]string]int{}
		for _, syms := range docs {
			for i := 0; i+1 < len(syms); i++ {
				counts[[2]string{syms[i], syms[i+1]}]++
			}
		}
		var best [2]string
		bestCount := 1 // a pair must occur at least twice to be worth a merge
		for pair, n := range counts {
			if n > bestCount || (n == bestCount && n > 1 && lessPair(pair, best)) {
				best, bestCount = pair, n
			}
		}
		if bestCount < 2 {
			break
		}

		merged := best[0] + best[1]
		values = append(values, merged)
		merges = append(merges, best[0]+" "+best[1])
		for i, syms := range docs {
			out := syms[:0]
			for j := 0; j < len(syms); j++ {
				if j+1 < len(syms) && syms[j] == best[0] && syms[j+1] == best[1] {
					out = append(out, merged)
					j++
				} else {
					out = append(out, syms[j])
				}
			}
			docs[i] = out
		}
	}

	eos := int32(len(values))
	values = append(values, "<eos>")
	return &Vocabulary{Values: values, Merges: merges, EOS: []int32{eos}}
}

func lessPair(a, b [2]string) bool {
	if a[0] != b[0] {
		return a[0] < b[0]
	}
	return a[1] < b[1]
}
