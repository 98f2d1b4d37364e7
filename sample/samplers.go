package sample

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"
)

// token pairs a token id with its logit or probability during sampling.
type token struct {
	id    int32
	value float32
}

// Sampler picks a token id from masked logits. The zero value is greedy.
type Sampler struct {
	rng         *rand.Rand
	topK        int
	topP        float32
	minP        float32
	temperature float32
}

// NewSampler builds a sampler. temperature zero means greedy; seed -1
// means a nondeterministic stream.
func NewSampler(temperature float32, topK int, topP, minP float32, seed int) Sampler {
	var rng *rand.Rand
	if seed != -1 {
		sequence := uint64(seed)
		// golden ratio hash gives an independent stream parameter
		rng = rand.New(rand.NewPCG(sequence, sequence^0x9E3779B9))
	}
	if temperature < 0 {
		temperature = 0
	}
	if topP < 0 {
		topP = 0
	}
	if topP >= 1 {
		topP = 1
	}
	if minP < 0 {
		minP = 0
	}
	if minP >= 1 {
		minP = 1
	}
	return Sampler{
		rng:         rng,
		topK:        topK,
		topP:        topP,
		minP:        minP,
		temperature: temperature,
	}
}

// Sample picks a token. Masked-out positions carry negative infinity and
// are never chosen. Logits are not modified.
func (s Sampler) Sample(logits []float32) (int32, error) {
	if len(logits) == 0 {
		return -1, errors.New("sample: no logits provided")
	}

	tokens := make([]token, 0, len(logits))
	for i, v := range logits {
		if math.IsInf(float64(v), -1) {
			continue
		}
		tokens = append(tokens, token{id: int32(i), value: v})
	}
	if len(tokens) == 0 {
		return -1, ErrDeadEnd
	}

	if s.temperature == 0 {
		return greedy(tokens).id, nil
	}

	tokens = topK(tokens, s.topK)
	temperature(tokens, s.temperature)
	softmax(tokens)
	tokens = topP(tokens, s.topP)
	tokens = minP(tokens, s.minP)

	var r float32
	if s.rng != nil {
		r = s.rng.Float32()
	} else {
		r = rand.Float32()
	}

	var sum float32
	for i := range tokens {
		sum += tokens[i].value
		tokens[i].value = sum
	}
	if math.IsNaN(float64(sum)) {
		return -1, errors.New("sample: probabilities sum to NaN")
	}
	r *= sum

	idx, _ := slices.BinarySearchFunc(tokens, r, func(t token, target float32) int {
		if t.value < target {
			return -1
		}
		return 1
	})
	if idx >= len(tokens) {
		idx = len(tokens) - 1
	}
	return tokens[idx].id, nil
}

// greedy returns the highest-logit token, lowest id on ties.
func greedy(tokens []token) token {
	max := tokens[0]
	for _, t := range tokens[1:] {
		if t.value > max.value {
			max = t
		}
	}
	return max
}
