package sample

import (
	"cmp"
	"math"
	"slices"
)

// temperature scales logits in place, subtracting the max first to avoid
// overflow in softmax.
func temperature(tokens []token, t float32) {
	if t == 1 {
		return
	}
	temp := max(t, 1e-7)
	maxLogit := float32(math.Inf(-1))
	for _, tk := range tokens {
		if tk.value > maxLogit {
			maxLogit = tk.value
		}
	}
	for i := range tokens {
		tokens[i].value = (tokens[i].value - maxLogit) / temp
	}
}

// softmax converts logits to probabilities in place.
func softmax(tokens []token) {
	var sum float32
	for i := range tokens {
		tokens[i].value = float32(math.Exp(float64(tokens[i].value)))
		sum += tokens[i].value
	}
	for i := range tokens {
		tokens[i].value /= sum
	}
}

// topK keeps the k highest-logit tokens, sorted descending. k <= 0 keeps
// everything but still sorts, so later cutoffs can assume order.
func topK(tokens []token, k int) []token {
	slices.SortFunc(tokens, func(a, b token) int {
		return cmp.Compare(b.value, a.value)
	})
	if k > 0 && k < len(tokens) {
		tokens = tokens[:k]
	}
	return tokens
}

// topP keeps the smallest prefix of sorted probabilities whose sum
// exceeds p.
func topP(tokens []token, p float32) []token {
	if p >= 1 {
		return tokens
	}
	var sum float32
	for i := range tokens {
		sum += tokens[i].value
		if sum > p {
			return tokens[:i+1]
		}
	}
	return tokens
}

// minP drops tokens whose probability falls below p times the max.
func minP(tokens []token, p float32) []token {
	if p <= 0 {
		return tokens
	}
	var maxProb float32
	for _, t := range tokens {
		if t.value > maxProb {
			maxProb = t.value
		}
	}
	threshold := maxProb * p
	kept := tokens[:0]
	for _, t := range tokens {
		if t.value >= threshold {
			kept = append(kept, t)
		}
	}
	return kept
}
