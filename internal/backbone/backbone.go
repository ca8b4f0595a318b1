// Package backbone runs a frozen VGG16 feature extractor over image
// batches. It produces the multi-scale activation stack consumed by the
// enhancement network and backpropagates feature gradients for the
// perceptual objective. Its weights are never updated.
package backbone

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/oceanlens/uwagg/internal/tensor"
)

// StackChannels is the channel count of Stack's output: the 3 input
// channels plus the five block outputs (64+128+256+512+512).
const StackChannels = 1475

// minInput is the smallest spatial extent Forward accepts. Four pooling
// halvings need at least 16 pixels per axis so every window stays full.
const minInput = 16

// convSpecs lists the 13 convolutions of the VGG16 feature stack in order.
var convSpecs = [13]struct{ in, out int }{
	{3, 64}, {64, 64},
	{64, 128}, {128, 128},
	{128, 256}, {256, 256}, {256, 256},
	{256, 512}, {512, 512}, {512, 512},
	{512, 512}, {512, 512}, {512, 512},
}

// featureIndex maps conv position onto its index inside the torchvision
// "features" module, which names the checkpoint tensors.
var featureIndex = [13]int{0, 2, 5, 7, 10, 12, 14, 17, 19, 21, 24, 26, 28}

// blockConvs is the number of convolutions per block; blocks 2..5 start
// with a 2x2 stride-2 max pool.
var blockConvs = [5]int{2, 2, 3, 3, 3}

var blockStart = [5]int{0, 2, 4, 7, 10}

// Backbone is the frozen extractor. It holds only weights, so a single
// instance can serve concurrent callers.
type Backbone struct {
	convs [13]conv3x3
}

// Activations records one forward pass: the five post-ReLU block outputs
// plus the intermediates Backward needs.
type Activations struct {
	// Blocks holds the output of each of the five stages, from the
	// full-resolution 64-channel map down to the 1/16-scale 512-channel map.
	Blocks [5]*tensor.Tensor

	pre    [13]*tensor.Tensor
	argmax [4][]int
}

// New builds the extractor from a weight source. Tensor names follow the
// torchvision checkpoint layout (features.N.weight, features.N.bias).
func New(src Weights) (*Backbone, error) {
	b := &Backbone{}
	for i, spec := range convSpecs {
		w, wShape, err := src.Tensor(weightName(i))
		if err != nil {
			return nil, err
		}
		if len(wShape) != 4 || wShape[0] != uint64(spec.out) || wShape[1] != uint64(spec.in) ||
			wShape[2] != 3 || wShape[3] != 3 {
			return nil, errors.Errorf("backbone: %s has shape %v, want [%d %d 3 3]",
				weightName(i), wShape, spec.out, spec.in)
		}
		bias, bShape, err := src.Tensor(biasName(i))
		if err != nil {
			return nil, err
		}
		if len(bShape) != 1 || bShape[0] != uint64(spec.out) {
			return nil, errors.Errorf("backbone: %s has shape %v, want [%d]",
				biasName(i), bShape, spec.out)
		}
		b.convs[i] = conv3x3{inC: spec.in, outC: spec.out, weight: w, bias: bias}
	}
	return b, nil
}

func weightName(i int) string { return fmt.Sprintf("features.%d.weight", featureIndex[i]) }

func biasName(i int) string { return fmt.Sprintf("features.%d.bias", featureIndex[i]) }

// Forward runs the frozen stack over a 3-channel batch and records every
// intermediate Backward needs. The returned record is independent of the
// receiver, so one Backbone can serve concurrent callers.
func (b *Backbone) Forward(x *tensor.Tensor) *Activations {
	if x.C != 3 {
		panic(fmt.Sprintf("backbone: expected 3 input channels, got %d", x.C))
	}
	if x.H < minInput || x.W < minInput {
		panic(fmt.Sprintf("backbone: input %dx%d below the %d-pixel minimum", x.H, x.W, minInput))
	}
	acts := &Activations{}
	cur := x
	ci := 0
	for blk := 0; blk < 5; blk++ {
		if blk > 0 {
			pooled, argmax := maxPool2(cur)
			acts.argmax[blk-1] = argmax
			cur = pooled
		}
		for j := 0; j < blockConvs[blk]; j++ {
			pre := b.convs[ci].forward(cur)
			acts.pre[ci] = pre
			cur = relu(pre)
			ci++
		}
		acts.Blocks[blk] = cur
	}
	return acts
}

// Backward propagates per-block output gradients down to the network
// input. Entries in grads may be nil when a block receives no gradient;
// at least one must be set.
func (b *Backbone) Backward(acts *Activations, grads [5]*tensor.Tensor) *tensor.Tensor {
	var g *tensor.Tensor
	for blk := 4; blk >= 0; blk-- {
		if grads[blk] != nil {
			if g == nil {
				g = grads[blk].Clone()
			} else {
				tensor.Add(g, grads[blk])
			}
		}
		if g == nil {
			continue
		}
		for j := blockConvs[blk] - 1; j >= 0; j-- {
			ci := blockStart[blk] + j
			g = b.convs[ci].backward(reluBackward(g, acts.pre[ci]))
		}
		if blk > 0 {
			g = maxPool2Backward(g, acts.argmax[blk-1], acts.Blocks[blk-1])
		}
	}
	if g == nil {
		panic("backbone: Backward called with no gradients")
	}
	return g
}

// Stack concatenates x with its five block activations, resampling the
// coarser maps back to the input resolution with the bicubic kernel.
func (b *Backbone) Stack(x *tensor.Tensor) *tensor.Tensor {
	acts := b.Forward(x)
	parts := make([]*tensor.Tensor, 0, 6)
	parts = append(parts, x)
	for _, f := range acts.Blocks {
		if f.H != x.H || f.W != x.W {
			f = tensor.Resize(f, x.H, x.W, tensor.Bicubic)
		}
		parts = append(parts, f)
	}
	return tensor.Cat(parts...)
}

// conv3x3 is one frozen convolution: stride 1, zero padding 1.
type conv3x3 struct {
	inC, outC int
	weight    []float64
	bias      []float64
}

func (c *conv3x3) forward(x *tensor.Tensor) *tensor.Tensor {
	if x.C != c.inC {
		panic(fmt.Sprintf("backbone: conv expected %d channels, got %d", c.inC, x.C))
	}
	out := tensor.New(x.N, c.outC, x.H, x.W)
	for n := 0; n < x.N; n++ {
		for oc := 0; oc < c.outC; oc++ {
			wBase := oc * c.inC * 9
			bias := c.bias[oc]
			for oh := 0; oh < x.H; oh++ {
				for ow := 0; ow < x.W; ow++ {
					sum := bias
					for ic := 0; ic < c.inC; ic++ {
						wOff := wBase + ic*9
						for kh := 0; kh < 3; kh++ {
							ih := oh + kh - 1
							if ih < 0 || ih >= x.H {
								continue
							}
							row := x.Data[x.Idx(n, ic, ih, 0) : x.Idx(n, ic, ih, 0)+x.W]
							for kw := 0; kw < 3; kw++ {
								iw := ow + kw - 1
								if iw < 0 || iw >= x.W {
									continue
								}
								sum += c.weight[wOff+kh*3+kw] * row[iw]
							}
						}
					}
					out.Data[out.Idx(n, oc, oh, ow)] = sum
				}
			}
		}
	}
	return out
}

// backward maps output gradients to input gradients. Weight and bias
// gradients are never formed.
func (c *conv3x3) backward(grad *tensor.Tensor) *tensor.Tensor {
	din := tensor.New(grad.N, c.inC, grad.H, grad.W)
	for n := 0; n < grad.N; n++ {
		for oc := 0; oc < c.outC; oc++ {
			wBase := oc * c.inC * 9
			for oh := 0; oh < grad.H; oh++ {
				for ow := 0; ow < grad.W; ow++ {
					g := grad.Data[grad.Idx(n, oc, oh, ow)]
					if g == 0 {
						continue
					}
					for ic := 0; ic < c.inC; ic++ {
						wOff := wBase + ic*9
						for kh := 0; kh < 3; kh++ {
							ih := oh + kh - 1
							if ih < 0 || ih >= grad.H {
								continue
							}
							row := din.Data[din.Idx(n, ic, ih, 0) : din.Idx(n, ic, ih, 0)+din.W]
							for kw := 0; kw < 3; kw++ {
								iw := ow + kw - 1
								if iw < 0 || iw >= grad.W {
									continue
								}
								row[iw] += g * c.weight[wOff+kh*3+kw]
							}
						}
					}
				}
			}
		}
	}
	return din
}

func relu(z *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(z.N, z.C, z.H, z.W)
	for i, v := range z.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	return out
}

func reluBackward(grad, pre *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(grad.N, grad.C, grad.H, grad.W)
	for i, g := range grad.Data {
		if pre.Data[i] > 0 {
			out.Data[i] = g
		}
	}
	return out
}

// maxPool2 is a 2x2 stride-2 max pool. It returns the pooled map and the
// flat input index of each window maximum for gradient routing.
func maxPool2(x *tensor.Tensor) (*tensor.Tensor, []int) {
	outH, outW := x.H/2, x.W/2
	out := tensor.New(x.N, x.C, outH, outW)
	argmax := make([]int, out.Len())
	for n := 0; n < x.N; n++ {
		for c := 0; c < x.C; c++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					best := math.Inf(-1)
					bestIdx := -1
					for kh := 0; kh < 2; kh++ {
						for kw := 0; kw < 2; kw++ {
							idx := x.Idx(n, c, oh*2+kh, ow*2+kw)
							if x.Data[idx] > best {
								best = x.Data[idx]
								bestIdx = idx
							}
						}
					}
					pos := out.Idx(n, c, oh, ow)
					out.Data[pos] = best
					argmax[pos] = bestIdx
				}
			}
		}
	}
	return out, argmax
}

// maxPool2Backward routes each output gradient to the input position that
// produced the window maximum.
func maxPool2Backward(grad *tensor.Tensor, argmax []int, in *tensor.Tensor) *tensor.Tensor {
	din := tensor.New(in.N, in.C, in.H, in.W)
	for pos, idx := range argmax {
		din.Data[idx] += grad.Data[pos]
	}
	return din
}
