package net

import (
	"math"
	"math/rand"
	"testing"

	"github.com/oceanlens/uwagg/internal/backbone"
	"github.com/oceanlens/uwagg/internal/loss"
	"github.com/oceanlens/uwagg/internal/opt"
	"github.com/oceanlens/uwagg/internal/tensor"
)

func newTestEnhancer(t *testing.T, channels int) (*Enhancer, *backbone.Backbone) {
	t.Helper()
	bb, err := backbone.New(backbone.RandomWeights(1))
	if err != nil {
		t.Fatalf("backbone.New: %v", err)
	}
	e, err := NewEnhancer(bb, channels, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatalf("NewEnhancer: %v", err)
	}
	return e, bb
}

func randBatch(seed int64, n, h, w int) *tensor.Tensor {
	rng := rand.New(rand.NewSource(seed))
	x := tensor.New(n, 3, h, w)
	for i := range x.Data {
		x.Data[i] = rng.Float64()
	}
	return x
}

func TestEnhancerOutputShape(t *testing.T) {
	e, _ := newTestEnhancer(t, 8)
	x := randBatch(3, 1, 16, 16)

	out := e.Forward(x)
	if out.N != 1 || out.C != 3 || out.H != 16 || out.W != 16 {
		t.Errorf("output shape = [%d,%d,%d,%d], want [1,3,16,16]", out.N, out.C, out.H, out.W)
	}
}

func TestEnhancerRejectsBadChannels(t *testing.T) {
	bb, err := backbone.New(backbone.RandomWeights(1))
	if err != nil {
		t.Fatalf("backbone.New: %v", err)
	}
	for _, channels := range []int{0, 6, -8} {
		if _, err := NewEnhancer(bb, channels, rand.New(rand.NewSource(1))); err == nil {
			t.Errorf("channels %d: expected an error", channels)
		}
	}
}

func TestEnhancerParamsGradientsAligned(t *testing.T) {
	e, _ := newTestEnhancer(t, 8)

	params := e.Params()
	grads := e.Gradients()
	if len(params) != len(grads) {
		t.Fatalf("%d params but %d gradients", len(params), len(grads))
	}
	if len(params) == 0 {
		t.Fatal("no trainable parameters")
	}
	for i, g := range grads {
		if g != 0 {
			t.Fatalf("gradient[%d] = %v before any backward pass", i, g)
		}
	}
}

func TestEnhancerSetParamsRoundTrip(t *testing.T) {
	e, _ := newTestEnhancer(t, 8)

	params := e.Params()
	shifted := append([]float64(nil), params...)
	for i := range shifted {
		shifted[i] += 0.01
	}
	e.SetParams(shifted)
	got := e.Params()
	for i := range got {
		if got[i] != shifted[i] {
			t.Fatalf("params[%d] = %v after SetParams, want %v", i, got[i], shifted[i])
		}
	}

	mustPanic(t, func() { e.SetParams(shifted[:len(shifted)-1]) })
}

func TestEnhancerCloneKeepsItsOwnParams(t *testing.T) {
	e, _ := newTestEnhancer(t, 8)
	original := e.Params()

	c := e.Clone()
	zeros := make([]float64, len(original))
	e.SetParams(zeros)

	got := c.Params()
	for i := range got {
		if got[i] != original[i] {
			t.Fatalf("clone params[%d] changed to %v after mutating the source", i, got[i])
		}
	}
}

// TestEnhancerZeroInputFiniteStep trains one step on an all-zero pair.
// Constant images exercise the SSIM stabilizers; the step must stay
// finite end to end.
func TestEnhancerZeroInputFiniteStep(t *testing.T) {
	if testing.Short() {
		t.Skip("full pipeline pass")
	}
	e, bb := newTestEnhancer(t, 8)
	e.SetTraining(true)
	x := tensor.New(1, 3, 64, 64)
	target := tensor.New(1, 3, 64, 64)

	criterion := loss.NewComposite(bb)
	out := e.Forward(x)
	l := criterion.Forward(out, target)
	if math.IsNaN(l) || math.IsInf(l, 0) {
		t.Fatalf("objective = %v", l)
	}

	e.ClearGradients()
	e.Backward(criterion.Backward(out, target))
	for i, g := range e.Gradients() {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			t.Fatalf("gradient %d = %v", i, g)
		}
	}
}

// TestEnhancerTrainingStep drives the full pipeline once: forward,
// composite objective, backward, optimizer update.
func TestEnhancerTrainingStep(t *testing.T) {
	if testing.Short() {
		t.Skip("full pipeline pass")
	}
	e, bb := newTestEnhancer(t, 8)
	e.SetTraining(true)
	x := randBatch(4, 1, 16, 16)
	target := randBatch(5, 1, 16, 16)

	criterion := loss.NewComposite(bb)
	out := e.Forward(x)
	before := criterion.Forward(out, target)
	if math.IsNaN(before) || math.IsInf(before, 0) {
		t.Fatalf("objective = %v", before)
	}

	e.ClearGradients()
	e.Backward(criterion.Backward(out, target))

	grads := e.Gradients()
	nonzero := 0
	for _, g := range grads {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			t.Fatal("non-finite gradient")
		}
		if g != 0 {
			nonzero++
		}
	}
	if nonzero == 0 {
		t.Fatal("backward produced no gradient")
	}

	params := e.Params()
	opt.NewAdamW(1e-3).Step(params, grads)
	e.SetParams(params)

	if next := e.Forward(x); tensorEqual(out, next) {
		t.Error("output unchanged after an optimizer step")
	}
}

func tensorEqual(a, b *tensor.Tensor) bool {
	if !tensor.SameShape(a, b) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}

func mustPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Error("expected a panic")
		}
	}()
	fn()
}
