package layer

import (
	"math"
	"math/rand"
	"testing"

	"github.com/oceanlens/uwagg/internal/tensor"
)

func TestAvgPool2D(t *testing.T) {
	x := tensor.New(1, 1, 4, 4)
	for i := range x.Data {
		x.Data[i] = float64(i + 1)
	}
	out := AvgPool2D(x, 2, 2, 0)
	want := []float64{3.5, 5.5, 11.5, 13.5}
	if out.H != 2 || out.W != 2 {
		t.Fatalf("pooled shape = %dx%d, want 2x2", out.H, out.W)
	}
	for i, w := range want {
		if math.Abs(out.Data[i]-w) > 1e-12 {
			t.Errorf("pooled[%d] = %v, want %v", i, out.Data[i], w)
		}
	}
}

// Floor sizing drops trailing rows and columns that do not fill a window.
func TestAvgPool2DPartialInputDropped(t *testing.T) {
	x := tensor.New(1, 1, 5, 5)
	x.Fill(1)
	out := AvgPool2D(x, 2, 2, 0)
	if out.H != 2 || out.W != 2 {
		t.Fatalf("pooled shape = %dx%d, want 2x2", out.H, out.W)
	}
	for i, v := range out.Data {
		if v != 1 {
			t.Errorf("pooled[%d] = %v, want 1", i, v)
		}
	}
}

// Zero padding counts toward the divisor, so a padded corner window over a
// constant input averages below the constant.
func TestAvgPool2DPaddedWindow(t *testing.T) {
	x := tensor.New(1, 1, 4, 4)
	x.Fill(1)
	out := AvgPool2D(x, 3, 3, 1)
	if out.H != 2 || out.W != 2 {
		t.Fatalf("pooled shape = %dx%d, want 2x2", out.H, out.W)
	}
	want := 4.0 / 9.0
	for i, v := range out.Data {
		if math.Abs(v-want) > 1e-12 {
			t.Errorf("pooled[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestAvgPool2DAdjoint(t *testing.T) {
	rng := rand.New(rand.NewSource(50))
	x := tensor.New(1, 2, 9, 11)
	for i := range x.Data {
		x.Data[i] = rng.NormFloat64()
	}
	cases := []struct {
		kernel, stride, pad int
	}{
		{2, 2, 0},
		{4, 4, 0},
		{3, 3, 1},
	}
	for _, tc := range cases {
		fwd := AvgPool2D(x, tc.kernel, tc.stride, tc.pad)
		y := tensor.New(fwd.N, fwd.C, fwd.H, fwd.W)
		for i := range y.Data {
			y.Data[i] = rng.NormFloat64()
		}
		bwd := AvgPool2DBackward(y, tc.kernel, tc.stride, tc.pad, x.H, x.W)

		lhs, rhs := 0.0, 0.0
		for i := range fwd.Data {
			lhs += fwd.Data[i] * y.Data[i]
		}
		for i := range x.Data {
			rhs += x.Data[i] * bwd.Data[i]
		}
		if math.Abs(lhs-rhs) > 1e-9*math.Max(1, math.Abs(lhs)) {
			t.Errorf("k=%d s=%d p=%d adjoint mismatch: %v vs %v", tc.kernel, tc.stride, tc.pad, lhs, rhs)
		}
	}
}
