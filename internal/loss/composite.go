package loss

import (
	"github.com/oceanlens/uwagg/internal/backbone"
	"github.com/oceanlens/uwagg/internal/tensor"
)

// structuralWeight scales the SSIM complement inside the total objective.
const structuralWeight = 0.4

// Composite is the full restoration objective:
//
//	perceptual + mse + 0.4*(1 - ssim)
type Composite struct {
	perceptual *Perceptual
	pixel      MSE
	structural *SSIM
}

// NewComposite builds the objective around a shared frozen extractor.
func NewComposite(extractor *backbone.Backbone) *Composite {
	return &Composite{
		perceptual: NewPerceptual(extractor),
		structural: NewSSIM(),
	}
}

// Forward computes the scalar objective.
func (c *Composite) Forward(pred, target *tensor.Tensor) float64 {
	return c.perceptual.Forward(pred, target) +
		c.pixel.Forward(pred, target) +
		structuralWeight*(1-c.structural.Forward(pred, target))
}

// Backward computes dObjective/dPred by summing the three term gradients.
// The structural term enters negated because a higher similarity lowers
// the objective.
func (c *Composite) Backward(pred, target *tensor.Tensor) *tensor.Tensor {
	grad := c.perceptual.Backward(pred, target)
	tensor.Add(grad, c.pixel.Backward(pred, target))
	tensor.AddScaled(grad, -structuralWeight, c.structural.Backward(pred, target))
	return grad
}
