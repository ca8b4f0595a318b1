package loss

import (
	"fmt"
	"math"

	"github.com/oceanlens/uwagg/internal/tensor"
)

const (
	ssimWindow = 11
	ssimSigma  = 1.5

	// Stabilizers for a unit data range.
	ssimC1 = 0.01 * 0.01
	ssimC2 = 0.03 * 0.03
)

// SSIM computes the mean structural similarity index over densely strided
// 11x11 Gaussian windows, and its gradient with respect to the prediction.
// Inputs are assumed to span a unit data range. Higher is better, so the
// structural loss term is formed as 1 - Forward.
type SSIM struct {
	window [ssimWindow * ssimWindow]float64
}

// NewSSIM precomputes the normalized Gaussian window.
func NewSSIM() *SSIM {
	var axis [ssimWindow]float64
	sum := 0.0
	for i := range axis {
		d := float64(i) - float64(ssimWindow-1)/2
		axis[i] = math.Exp(-d * d / (2 * ssimSigma * ssimSigma))
		sum += axis[i]
	}
	for i := range axis {
		axis[i] /= sum
	}
	s := &SSIM{}
	for i := 0; i < ssimWindow; i++ {
		for j := 0; j < ssimWindow; j++ {
			s.window[i*ssimWindow+j] = axis[i] * axis[j]
		}
	}
	return s
}

type winStats struct {
	mu1, mu2, var1, var2, cov float64
}

func (s *SSIM) moments(pred, target *tensor.Tensor, n, c, oh, ow int) winStats {
	var mu1, mu2, xx, yy, xy float64
	for kh := 0; kh < ssimWindow; kh++ {
		pOff := pred.Idx(n, c, oh+kh, ow)
		tOff := target.Idx(n, c, oh+kh, ow)
		wOff := kh * ssimWindow
		for kw := 0; kw < ssimWindow; kw++ {
			g := s.window[wOff+kw]
			x := pred.Data[pOff+kw]
			y := target.Data[tOff+kw]
			mu1 += g * x
			mu2 += g * y
			xx += g * x * x
			yy += g * y * y
			xy += g * x * y
		}
	}
	return winStats{mu1: mu1, mu2: mu2, var1: xx - mu1*mu1, var2: yy - mu2*mu2, cov: xy - mu1*mu2}
}

func validWindows(t *tensor.Tensor) (int, int) {
	if t.H < ssimWindow || t.W < ssimWindow {
		panic(fmt.Sprintf("SSIM: input %dx%d smaller than the %d-pixel window", t.H, t.W, ssimWindow))
	}
	return t.H - ssimWindow + 1, t.W - ssimWindow + 1
}

// Forward returns the similarity index averaged over every window, channel
// and sample. Identical inputs score exactly 1.
func (s *SSIM) Forward(pred, target *tensor.Tensor) float64 {
	checkPair("SSIM", pred, target)
	outH, outW := validWindows(pred)
	total := 0.0
	for n := 0; n < pred.N; n++ {
		for c := 0; c < pred.C; c++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					st := s.moments(pred, target, n, c, oh, ow)
					a1 := 2*st.mu1*st.mu2 + ssimC1
					a2 := 2*st.cov + ssimC2
					b1 := st.mu1*st.mu1 + st.mu2*st.mu2 + ssimC1
					b2 := st.var1 + st.var2 + ssimC2
					total += (a1 * a2) / (b1 * b2)
				}
			}
		}
	}
	return total / float64(pred.N*pred.C*outH*outW)
}

// Backward returns dForward/dPred. Each window's contribution splits into
// mean, variance and covariance terms, scattered through the Gaussian taps.
func (s *SSIM) Backward(pred, target *tensor.Tensor) *tensor.Tensor {
	checkPair("SSIM", pred, target)
	outH, outW := validWindows(pred)
	grad := tensor.New(pred.N, pred.C, pred.H, pred.W)
	scale := 1.0 / float64(pred.N*pred.C*outH*outW)
	for n := 0; n < pred.N; n++ {
		for c := 0; c < pred.C; c++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					st := s.moments(pred, target, n, c, oh, ow)
					a1 := 2*st.mu1*st.mu2 + ssimC1
					a2 := 2*st.cov + ssimC2
					b1 := st.mu1*st.mu1 + st.mu2*st.mu2 + ssimC1
					b2 := st.var1 + st.var2 + ssimC2
					d := b1 * b2
					dMu1 := 2 * a2 * (st.mu2*b1 - st.mu1*a1) / (b1 * d)
					dVar1 := -a1 * a2 / (b2 * d)
					dCov := 2 * a1 / d
					for kh := 0; kh < ssimWindow; kh++ {
						pOff := pred.Idx(n, c, oh+kh, ow)
						tOff := target.Idx(n, c, oh+kh, ow)
						wOff := kh * ssimWindow
						for kw := 0; kw < ssimWindow; kw++ {
							g := s.window[wOff+kw]
							x := pred.Data[pOff+kw]
							y := target.Data[tOff+kw]
							grad.Data[pOff+kw] += scale * g *
								(dMu1 + 2*(x-st.mu1)*dVar1 + (y-st.mu2)*dCov)
						}
					}
				}
			}
		}
	}
	return grad
}
