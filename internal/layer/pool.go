package layer

import (
	"github.com/oceanlens/uwagg/internal/tensor"
)

// AvgPool2D average-pools with a square kernel, floor output sizing and
// optional zero padding. Padded cells count toward the divisor, so every
// window divides by kernel*kernel.
func AvgPool2D(x *tensor.Tensor, kernel, stride, pad int) *tensor.Tensor {
	outH := (x.H+2*pad-kernel)/stride + 1
	outW := (x.W+2*pad-kernel)/stride + 1
	out := tensor.New(x.N, x.C, outH, outW)
	inv := 1 / float64(kernel*kernel)

	for nc := 0; nc < x.N*x.C; nc++ {
		inPlane := x.Data[nc*x.H*x.W:]
		outPlane := out.Data[nc*outH*outW:]
		for oh := 0; oh < outH; oh++ {
			h0 := oh*stride - pad
			for ow := 0; ow < outW; ow++ {
				w0 := ow*stride - pad
				sum := 0.0
				for kh := 0; kh < kernel; kh++ {
					ih := h0 + kh
					if ih < 0 || ih >= x.H {
						continue
					}
					row := inPlane[ih*x.W:]
					for kw := 0; kw < kernel; kw++ {
						iw := w0 + kw
						if iw < 0 || iw >= x.W {
							continue
						}
						sum += row[iw]
					}
				}
				outPlane[oh*outW+ow] = sum * inv
			}
		}
	}
	return out
}

// AvgPool2DBackward spreads pooled-output gradients uniformly over each
// window's in-bounds cells.
func AvgPool2DBackward(grad *tensor.Tensor, kernel, stride, pad, inH, inW int) *tensor.Tensor {
	out := tensor.New(grad.N, grad.C, inH, inW)
	inv := 1 / float64(kernel*kernel)

	for nc := 0; nc < grad.N*grad.C; nc++ {
		gradPlane := grad.Data[nc*grad.H*grad.W:]
		outPlane := out.Data[nc*inH*inW:]
		for oh := 0; oh < grad.H; oh++ {
			h0 := oh*stride - pad
			for ow := 0; ow < grad.W; ow++ {
				g := gradPlane[oh*grad.W+ow] * inv
				w0 := ow*stride - pad
				for kh := 0; kh < kernel; kh++ {
					ih := h0 + kh
					if ih < 0 || ih >= inH {
						continue
					}
					row := outPlane[ih*inW:]
					for kw := 0; kw < kernel; kw++ {
						iw := w0 + kw
						if iw < 0 || iw >= inW {
							continue
						}
						row[iw] += g
					}
				}
			}
		}
	}
	return out
}
