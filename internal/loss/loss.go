// Package loss implements the restoration objective: a pixel MSE term, a
// structural term derived from SSIM and a perceptual term computed over
// frozen extractor features. Every component exposes a matching
// Forward/Backward pair so the trainer can drive them interchangeably.
package loss

import (
	"fmt"

	"github.com/oceanlens/uwagg/internal/tensor"
)

// Criterion scores a restored batch against its reference and produces the
// gradient of that score with respect to the restoration.
type Criterion interface {
	// Forward computes the scalar loss between prediction and target.
	Forward(pred, target *tensor.Tensor) float64

	// Backward computes dLoss/dPred. The target is treated as constant.
	Backward(pred, target *tensor.Tensor) *tensor.Tensor
}

func checkPair(name string, pred, target *tensor.Tensor) {
	if !tensor.SameShape(pred, target) {
		panic(fmt.Sprintf("%s: prediction [%d,%d,%d,%d] and target [%d,%d,%d,%d] differ",
			name, pred.N, pred.C, pred.H, pred.W, target.N, target.C, target.H, target.W))
	}
}

// MSE is the mean squared error over all tensor elements.
type MSE struct{}

// Forward computes (1/n) * sum((pred - target)^2).
func (MSE) Forward(pred, target *tensor.Tensor) float64 {
	checkPair("MSE", pred, target)
	var sum float64
	for i, p := range pred.Data {
		diff := p - target.Data[i]
		sum += diff * diff
	}
	return sum / float64(pred.Len())
}

// Backward computes dL/dPred = (2/n) * (pred - target).
func (MSE) Backward(pred, target *tensor.Tensor) *tensor.Tensor {
	checkPair("MSE", pred, target)
	grad := tensor.New(pred.N, pred.C, pred.H, pred.W)
	factor := 2.0 / float64(pred.Len())
	for i, p := range pred.Data {
		grad.Data[i] = factor * (p - target.Data[i])
	}
	return grad
}
