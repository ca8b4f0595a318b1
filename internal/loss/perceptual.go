package loss

import (
	"github.com/oceanlens/uwagg/internal/backbone"
	"github.com/oceanlens/uwagg/internal/tensor"
)

// perceptualWeights scales each extractor depth. Deeper taps dominate so
// the restored image matches semantics as well as edges.
var perceptualWeights = [5]float64{1.0 / 16, 1.0 / 8, 1.0 / 4, 1.0 / 2, 1}

// Perceptual measures feature-space distance between prediction and target
// over the five frozen extractor blocks. The extractor is shared with the
// enhancement network and never trained.
type Perceptual struct {
	extractor *backbone.Backbone
}

// NewPerceptual wraps a frozen extractor.
func NewPerceptual(extractor *backbone.Backbone) *Perceptual {
	return &Perceptual{extractor: extractor}
}

// Forward computes sum_b w_b * MSE(features_b(pred), features_b(target)).
func (p *Perceptual) Forward(pred, target *tensor.Tensor) float64 {
	checkPair("Perceptual", pred, target)
	actsP := p.extractor.Forward(pred)
	actsT := p.extractor.Forward(target)
	total := 0.0
	for i, f := range actsP.Blocks {
		ref := actsT.Blocks[i]
		var sum float64
		for j, v := range f.Data {
			diff := v - ref.Data[j]
			sum += diff * diff
		}
		total += perceptualWeights[i] * sum / float64(f.Len())
	}
	return total
}

// Backward propagates the per-block feature errors through the frozen
// extractor down to the prediction. The target branch receives no gradient.
func (p *Perceptual) Backward(pred, target *tensor.Tensor) *tensor.Tensor {
	checkPair("Perceptual", pred, target)
	actsP := p.extractor.Forward(pred)
	actsT := p.extractor.Forward(target)
	var grads [5]*tensor.Tensor
	for i, f := range actsP.Blocks {
		ref := actsT.Blocks[i]
		g := tensor.New(f.N, f.C, f.H, f.W)
		factor := 2 * perceptualWeights[i] / float64(f.Len())
		for j, v := range f.Data {
			g.Data[j] = factor * (v - ref.Data[j])
		}
		grads[i] = g
	}
	return p.extractor.Backward(actsP, grads)
}
