package tensor

import (
	"math"

	"github.com/pkg/errors"
)

// Interp selects the kernel used by Resize.
type Interp int

const (
	// Bilinear uses the 2-tap triangle kernel.
	Bilinear Interp = iota
	// Bicubic uses the 4-tap cubic convolution kernel with a = -0.75.
	Bicubic
)

// ParseInterp maps a configuration string onto an Interp kind.
func ParseInterp(name string) (Interp, error) {
	switch name {
	case "bilinear":
		return Bilinear, nil
	case "bicubic":
		return Bicubic, nil
	default:
		return 0, errors.Errorf("unknown interpolation %q", name)
	}
}

func (k Interp) String() string {
	if k == Bicubic {
		return "bicubic"
	}
	return "bilinear"
}

// cubicWeight is the cubic convolution kernel with a = -0.75.
func cubicWeight(x float64) float64 {
	const a = -0.75
	x = math.Abs(x)
	if x <= 1 {
		return ((a+2)*x-(a+3))*x*x + 1
	}
	if x < 2 {
		return (((x-5)*x+8)*x - 4) * a
	}
	return 0
}

// axisTaps holds, for one output coordinate, the clamped source indices and
// kernel weights along a single axis.
type axisTaps struct {
	idx [4]int
	w   [4]float64
	n   int
}

// buildTaps precomputes per-coordinate taps for resampling an axis from
// size in to size out. Source positions follow the half-pixel convention,
// so equal sizes give the identity map.
func buildTaps(in, out int, kind Interp) []axisTaps {
	taps := make([]axisTaps, out)
	scale := float64(in) / float64(out)
	clamp := func(i int) int {
		if i < 0 {
			return 0
		}
		if i >= in {
			return in - 1
		}
		return i
	}
	for o := 0; o < out; o++ {
		src := (float64(o)+0.5)*scale - 0.5
		base := math.Floor(src)
		frac := src - base
		b := int(base)
		t := &taps[o]
		if kind == Bilinear {
			t.n = 2
			t.idx[0], t.w[0] = clamp(b), 1-frac
			t.idx[1], t.w[1] = clamp(b+1), frac
		} else {
			t.n = 4
			for j := 0; j < 4; j++ {
				t.idx[j] = clamp(b - 1 + j)
				t.w[j] = cubicWeight(frac - float64(j-1))
			}
		}
	}
	return taps
}

// Resize resamples t to (outH, outW). The result is a new tensor; resizing
// to the current extents returns an exact copy.
func Resize(t *Tensor, outH, outW int, kind Interp) *Tensor {
	if outH == t.H && outW == t.W {
		return t.Clone()
	}
	hTaps := buildTaps(t.H, outH, kind)
	wTaps := buildTaps(t.W, outW, kind)
	out := New(t.N, t.C, outH, outW)

	for n := 0; n < t.N; n++ {
		for c := 0; c < t.C; c++ {
			inPlane := t.Data[(n*t.C+c)*t.H*t.W:]
			outPlane := out.Data[(n*t.C+c)*outH*outW:]
			for oh := 0; oh < outH; oh++ {
				ht := &hTaps[oh]
				outRow := outPlane[oh*outW:]
				for ow := 0; ow < outW; ow++ {
					wt := &wTaps[ow]
					sum := 0.0
					for i := 0; i < ht.n; i++ {
						inRow := inPlane[ht.idx[i]*t.W:]
						rowSum := 0.0
						for j := 0; j < wt.n; j++ {
							rowSum += wt.w[j] * inRow[wt.idx[j]]
						}
						sum += ht.w[i] * rowSum
					}
					outRow[ow] = sum
				}
			}
		}
	}
	return out
}

// ResizeBackward routes gradients of a resized tensor back to the source
// grid of extents (inH, inW) by scattering through the same taps Resize
// gathered with.
func ResizeBackward(grad *Tensor, inH, inW int, kind Interp) *Tensor {
	if grad.H == inH && grad.W == inW {
		return grad.Clone()
	}
	hTaps := buildTaps(inH, grad.H, kind)
	wTaps := buildTaps(inW, grad.W, kind)
	out := New(grad.N, grad.C, inH, inW)

	for n := 0; n < grad.N; n++ {
		for c := 0; c < grad.C; c++ {
			gradPlane := grad.Data[(n*grad.C+c)*grad.H*grad.W:]
			outPlane := out.Data[(n*grad.C+c)*inH*inW:]
			for oh := 0; oh < grad.H; oh++ {
				ht := &hTaps[oh]
				gradRow := gradPlane[oh*grad.W:]
				for ow := 0; ow < grad.W; ow++ {
					wt := &wTaps[ow]
					g := gradRow[ow]
					for i := 0; i < ht.n; i++ {
						outRow := outPlane[ht.idx[i]*inW:]
						hw := ht.w[i] * g
						for j := 0; j < wt.n; j++ {
							outRow[wt.idx[j]] += hw * wt.w[j]
						}
					}
				}
			}
		}
	}
	return out
}
