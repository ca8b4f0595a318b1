package loss

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/diff/fd"

	"github.com/oceanlens/uwagg/internal/backbone"
	"github.com/oceanlens/uwagg/internal/tensor"
)

func TestMSEKnownValues(t *testing.T) {
	pred := &tensor.Tensor{Data: []float64{1, 2, 3, 4}, N: 1, C: 1, H: 2, W: 2}
	target := &tensor.Tensor{Data: []float64{1, 2, 3, 6}, N: 1, C: 1, H: 2, W: 2}

	if got := (MSE{}).Forward(pred, target); math.Abs(got-1) > 1e-12 {
		t.Errorf("Forward = %v, want 1", got)
	}
	grad := (MSE{}).Backward(pred, target)
	want := []float64{0, 0, 0, -1}
	for i, w := range want {
		if math.Abs(grad.Data[i]-w) > 1e-12 {
			t.Errorf("Backward[%d] = %v, want %v", i, grad.Data[i], w)
		}
	}
}

func TestMSEGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	pred := randImage(rng, 1, 3, 5, 5)
	target := randImage(rng, 1, 3, 5, 5)

	checkLossGradient(t, MSE{}, pred, target, 1e-7)
}

func TestMSEShapeMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected a panic")
		}
	}()
	(MSE{}).Forward(tensor.New(1, 3, 4, 4), tensor.New(1, 3, 4, 5))
}

func TestCompositeZeroAtIdentity(t *testing.T) {
	bb := testExtractor(t)
	rng := rand.New(rand.NewSource(2))
	x := randImage(rng, 1, 3, 16, 16)

	c := NewComposite(bb)
	if got := c.Forward(x, x); math.Abs(got) > 1e-10 {
		t.Errorf("Forward(x, x) = %v, want 0", got)
	}
}

func TestCompositeDirectionalDerivative(t *testing.T) {
	if testing.Short() {
		t.Skip("full extractor passes")
	}
	bb := testExtractor(t)
	rng := rand.New(rand.NewSource(3))
	pred := randImage(rng, 1, 3, 16, 16)
	target := randImage(rng, 1, 3, 16, 16)

	c := NewComposite(bb)
	grad := c.Backward(pred, target)

	dir := make([]float64, pred.Len())
	for i := range dir {
		dir[i] = rng.NormFloat64()
	}
	analytic := 0.0
	for i, g := range grad.Data {
		analytic += g * dir[i]
	}

	const eps = 1e-5
	plus, minus := pred.Clone(), pred.Clone()
	for i := range dir {
		plus.Data[i] += eps * dir[i]
		minus.Data[i] -= eps * dir[i]
	}
	numeric := (c.Forward(plus, target) - c.Forward(minus, target)) / (2 * eps)

	if diff := math.Abs(analytic - numeric); diff > 1e-3*math.Max(1, math.Abs(numeric)) {
		t.Errorf("directional derivative = %v, want %v (diff %v)", analytic, numeric, diff)
	}
}

// checkLossGradient compares Backward against a numerical gradient of
// Forward with respect to every prediction element.
func checkLossGradient(t *testing.T, c Criterion, pred, target *tensor.Tensor, tol float64) {
	t.Helper()
	probe := pred.Clone()
	objective := func(p []float64) float64 {
		copy(probe.Data, p)
		return c.Forward(probe, target)
	}
	numeric := fd.Gradient(nil, objective, pred.Data, &fd.Settings{Formula: fd.Central})
	analytic := c.Backward(pred, target)
	for i, want := range numeric {
		if math.Abs(analytic.Data[i]-want) > tol {
			t.Fatalf("grad[%d] = %v, want %v", i, analytic.Data[i], want)
		}
	}
}

func testExtractor(t *testing.T) *backbone.Backbone {
	t.Helper()
	bb, err := backbone.New(backbone.RandomWeights(1))
	if err != nil {
		t.Fatalf("backbone.New: %v", err)
	}
	return bb
}

func randImage(rng *rand.Rand, n, c, h, w int) *tensor.Tensor {
	x := tensor.New(n, c, h, w)
	for i := range x.Data {
		x.Data[i] = rng.Float64()
	}
	return x
}
