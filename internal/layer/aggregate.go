package layer

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/oceanlens/uwagg/internal/tensor"
)

// aggregationReduction is the bottleneck reduction of every aggregation
// stage's attention gate.
const aggregationReduction = 8

// Aggregation fuses a concatenated multi-stream tensor: a channel
// attention gate over the full stack followed by a 3x3 conv unit down to
// the stage width.
type Aggregation struct {
	gate *ChannelGate
	conv *ConvUnit
}

// NewAggregation builds an aggregation stage from inC stacked channels
// down to outC. inC must divide evenly by the gate reduction.
func NewAggregation(inC, outC int, rng *rand.Rand) (*Aggregation, error) {
	gate, err := NewChannelGate(inC, aggregationReduction, ActReLU, rng)
	if err != nil {
		return nil, errors.Wrap(err, "aggregation gate")
	}
	conv, err := NewConvUnit(inC, outC, 3, 1, ConvOpts{Act: ActLeakyReLU}, rng)
	if err != nil {
		return nil, errors.Wrap(err, "aggregation conv")
	}
	return &Aggregation{gate: gate, conv: conv}, nil
}

// SetTraining propagates the mode to the owned layers.
func (a *Aggregation) SetTraining(training bool) {
	a.gate.SetTraining(training)
	a.conv.SetTraining(training)
}

// Forward gates the stacked input then projects it to the stage width.
func (a *Aggregation) Forward(x *tensor.Tensor) *tensor.Tensor {
	return a.conv.Forward(a.gate.Forward(x))
}

// Backward propagates through the projection then the gate.
func (a *Aggregation) Backward(grad *tensor.Tensor) *tensor.Tensor {
	return a.gate.Backward(a.conv.Backward(grad))
}

// Params returns gate parameters followed by conv parameters.
func (a *Aggregation) Params() []float64 { return concatParams(a.gate, a.conv) }

// SetParams restores parameters in the Params layout.
func (a *Aggregation) SetParams(params []float64) { scatterParams(params, a.gate, a.conv) }

// Gradients returns accumulated gradients in the Params layout.
func (a *Aggregation) Gradients() []float64 { return concatGradients(a.gate, a.conv) }

// ClearGradients zeroes all owned gradients.
func (a *Aggregation) ClearGradients() {
	a.gate.ClearGradients()
	a.conv.ClearGradients()
}

// Clone deep-copies the stage.
func (a *Aggregation) Clone() Layer {
	return &Aggregation{
		gate: a.gate.Clone().(*ChannelGate),
		conv: a.conv.Clone().(*ConvUnit),
	}
}
