package activations

import (
	"math"
	"testing"
)

func TestLeakyReLU(t *testing.T) {
	cases := []struct {
		z, slope, want float64
	}{
		{2, 0.2, 2},
		{-2, 0.2, -0.4},
		{-2, 0, 0},
		{0, 0.2, 0},
		{-1, 0.25, -0.25},
	}
	for _, tc := range cases {
		if got := LeakyReLU(tc.z, tc.slope); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("LeakyReLU(%v, %v) = %v, want %v", tc.z, tc.slope, got, tc.want)
		}
	}
}

func TestLeakyReLUPrime(t *testing.T) {
	cases := []struct {
		z, slope, want float64
	}{
		{2, 0.2, 1},
		{-2, 0.2, 0.2},
		{-2, 0, 0},
		{0, 0.3, 0.3},
	}
	for _, tc := range cases {
		if got := LeakyReLUPrime(tc.z, tc.slope); got != tc.want {
			t.Errorf("LeakyReLUPrime(%v, %v) = %v, want %v", tc.z, tc.slope, got, tc.want)
		}
	}
}

func TestSigmoid(t *testing.T) {
	if got := Sigmoid(0); got != 0.5 {
		t.Errorf("Sigmoid(0) = %v, want 0.5", got)
	}
	if got := Sigmoid(2); math.Abs(got-0.8807970779778823) > 1e-12 {
		t.Errorf("Sigmoid(2) = %v", got)
	}
	// Complementary halves of the curve must agree.
	for _, z := range []float64{0.5, 1, 3, 10} {
		if diff := math.Abs(Sigmoid(-z) - (1 - Sigmoid(z))); diff > 1e-12 {
			t.Errorf("Sigmoid(-%v) and 1-Sigmoid(%v) differ by %v", z, z, diff)
		}
	}
}

func TestSigmoidExtremes(t *testing.T) {
	if got := Sigmoid(1000); got != 1 {
		t.Errorf("Sigmoid(1000) = %v, want 1", got)
	}
	if got := Sigmoid(-1000); got != 0 {
		t.Errorf("Sigmoid(-1000) = %v, want 0", got)
	}
	for _, z := range []float64{-745, -709, 709, 745} {
		if got := Sigmoid(z); math.IsNaN(got) || math.IsInf(got, 0) {
			t.Errorf("Sigmoid(%v) = %v", z, got)
		}
	}
}

func TestSigmoidPrime(t *testing.T) {
	if got := SigmoidPrime(0.5); got != 0.25 {
		t.Errorf("SigmoidPrime(0.5) = %v, want 0.25", got)
	}
	// Matches the finite difference of the curve itself.
	const z, eps = 0.7, 1e-6
	want := (Sigmoid(z+eps) - Sigmoid(z-eps)) / (2 * eps)
	if got := SigmoidPrime(Sigmoid(z)); math.Abs(got-want) > 1e-9 {
		t.Errorf("SigmoidPrime(Sigmoid(%v)) = %v, want %v", z, got, want)
	}
}
