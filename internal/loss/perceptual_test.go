package loss

import (
	"math"
	"math/rand"
	"testing"
)

func TestPerceptualZeroAtIdentity(t *testing.T) {
	p := NewPerceptual(testExtractor(t))
	rng := rand.New(rand.NewSource(4))
	x := randImage(rng, 1, 3, 16, 16)

	if got := p.Forward(x, x); got != 0 {
		t.Errorf("Forward(x, x) = %v, want 0", got)
	}
	grad := p.Backward(x, x)
	for i, g := range grad.Data {
		if g != 0 {
			t.Fatalf("Backward(x, x)[%d] = %v, want 0", i, g)
		}
	}
}

func TestPerceptualSeparatesImages(t *testing.T) {
	p := NewPerceptual(testExtractor(t))
	rng := rand.New(rand.NewSource(5))
	pred := randImage(rng, 1, 3, 16, 16)
	target := randImage(rng, 1, 3, 16, 16)

	got := p.Forward(pred, target)
	if got <= 0 || math.IsNaN(got) || math.IsInf(got, 0) {
		t.Errorf("Forward = %v, want a positive finite value", got)
	}
	grad := p.Backward(pred, target)
	nonzero := 0
	for _, g := range grad.Data {
		if g != 0 {
			nonzero++
		}
	}
	if nonzero == 0 {
		t.Error("Backward produced an all-zero gradient for distinct images")
	}
}
