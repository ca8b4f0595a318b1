package layer

import (
	"math/rand"
	"testing"
)

func TestAggregationShape(t *testing.T) {
	rng := rand.New(rand.NewSource(40))
	a, err := NewAggregation(16, 8, rng)
	if err != nil {
		t.Fatal(err)
	}
	out := a.Forward(randTensor(2, 16, 8, 8, rng))
	if out.N != 2 || out.C != 8 || out.H != 8 || out.W != 8 {
		t.Errorf("output shape [%d,%d,%d,%d], want [2,8,8,8]", out.N, out.C, out.H, out.W)
	}
}

func TestAggregationRejectsNonDivisibleChannels(t *testing.T) {
	rng := rand.New(rand.NewSource(41))
	if _, err := NewAggregation(12, 8, rng); err == nil {
		t.Error("expected a configuration error for channels not divisible by the gate reduction")
	}
}

func TestAggregationGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	a, err := NewAggregation(8, 4, rng)
	if err != nil {
		t.Fatal(err)
	}
	gradCheck(t, a, randTensor(1, 8, 4, 4, rng), 1e-4)
}
