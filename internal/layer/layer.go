// Package layer implements the building blocks of the enhancement network:
// reflection-padded convolution units, channel attention gates, spatial
// pyramid pooling and attention-gated aggregation stages.
package layer

import (
	"github.com/oceanlens/uwagg/internal/tensor"
)

// Layer is a differentiable tensor transform. Backward takes the gradient
// of the loss w.r.t. the layer output, accumulates parameter gradients
// internally (until ClearGradients) and returns the gradient w.r.t. the
// layer input. Forward must have run before Backward.
type Layer interface {
	Forward(x *tensor.Tensor) *tensor.Tensor
	Backward(grad *tensor.Tensor) *tensor.Tensor
	Params() []float64
	SetParams([]float64)
	Gradients() []float64
	ClearGradients()
	SetTraining(training bool)
	Clone() Layer
}

// concatParams flattens the Params of several layers into one slice.
func concatParams(layers ...Layer) []float64 {
	var out []float64
	for _, l := range layers {
		out = append(out, l.Params()...)
	}
	return out
}

// scatterParams distributes a flat parameter slice across layers in order.
// Panics if the slice length does not match the layers' total.
func scatterParams(params []float64, layers ...Layer) {
	off := 0
	for _, l := range layers {
		n := len(l.Params())
		l.SetParams(params[off : off+n])
		off += n
	}
	if off != len(params) {
		panic("layer: parameter slice length mismatch")
	}
}

// concatGradients flattens the Gradients of several layers into one slice.
func concatGradients(layers ...Layer) []float64 {
	var out []float64
	for _, l := range layers {
		out = append(out, l.Gradients()...)
	}
	return out
}
