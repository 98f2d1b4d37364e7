package sample

import (
	"math"
	"testing"
)

func TestGreedyPicksMax(t *testing.T) {
	s := Sampler{}
	logits := []float32{0.1, 2.5, 0.3, 2.5}
	id, err := s.Sample(logits)
	if err != nil {
		t.Fatal(err)
	}
	// ties break toward the lowest id
	if id != 1 {
		t.Errorf("id = %d, want 1", id)
	}
}

func TestSampleSkipsMasked(t *testing.T) {
	neg := float32(math.Inf(-1))
	logits := []float32{neg, neg, 0.0, neg}
	for _, s := range []Sampler{{}, NewSampler(1.5, 0, 1, 0, 3)} {
		for i := 0; i < 20; i++ {
			id, err := s.Sample(logits)
			if err != nil {
				t.Fatal(err)
			}
			if id != 2 {
				t.Fatalf("id = %d, want the only unmasked token", id)
			}
		}
	}
}

func TestSampleAllMasked(t *testing.T) {
	neg := float32(math.Inf(-1))
	if _, err := (Sampler{}).Sample([]float32{neg, neg}); err == nil {
		t.Error("fully masked logits should fail")
	}
	if _, err := (Sampler{}).Sample(nil); err == nil {
		t.Error("empty logits should fail")
	}
}

func TestSeededSamplerDeterministic(t *testing.T) {
	logits := []float32{0.5, 1.0, 0.25, 0.75, 0.1}
	a := NewSampler(0.8, 3, 0.9, 0.05, 42)
	b := NewSampler(0.8, 3, 0.9, 0.05, 42)
	for i := 0; i < 50; i++ {
		x, err := a.Sample(logits)
		if err != nil {
			t.Fatal(err)
		}
		y, err := b.Sample(logits)
		if err != nil {
			t.Fatal(err)
		}
		if x != y {
			t.Fatalf("step %d: %d != %d", i, x, y)
		}
	}
}

func TestTransforms(t *testing.T) {
	tokens := []token{{0, 4}, {1, 3}, {2, 2}, {3, 1}}

	got := topK(append([]token{}, tokens...), 2)
	if len(got) != 2 || got[0].id != 0 || got[1].id != 1 {
		t.Errorf("topK = %+v", got)
	}

	probs := append([]token{}, tokens...)
	softmax(probs)
	var sum float32
	for _, tk := range probs {
		sum += tk.value
	}
	if math.Abs(float64(sum)-1) > 1e-5 {
		t.Errorf("softmax sum = %f", sum)
	}

	kept := topP([]token{{0, 0.5}, {1, 0.3}, {2, 0.15}, {3, 0.05}}, 0.75)
	if len(kept) != 2 {
		t.Errorf("topP kept %d, want 2", len(kept))
	}

	kept = minP([]token{{0, 0.5}, {1, 0.3}, {2, 0.01}}, 0.1)
	if len(kept) != 2 {
		t.Errorf("minP kept %d, want 2", len(kept))
	}
}
