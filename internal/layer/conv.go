package layer

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/oceanlens/uwagg/internal/tensor"
)

// ConvOpts carries the optional knobs of a ConvUnit. Zero values mean
// dilation 1, groups 1, bias enabled, no normalization, no activation.
type ConvOpts struct {
	Dilation int
	Groups   int
	NoBias   bool
	Norm     Norm
	Act      Act
}

// ConvUnit applies reflective spatial padding, a dilated convolution, an
// optional normalization and an optional activation. The padding is
// (kernel + (dilation-1)(kernel-1)) / 2 per side, so with stride 1 the
// output spatial size always equals the input's.
type ConvUnit struct {
	inC, outC int
	kernel    int
	stride    int
	dilation  int
	groups    int
	pad       int
	useBias   bool
	norm      Norm
	act       Act

	// Weights: [outC, inC/groups, kernel, kernel] flattened contiguously.
	weights    []float64
	biases     []float64
	preluSlope []float64

	bn *batchNorm2d
	in *instanceNorm2d

	gradWeights []float64
	gradBiases  []float64
	gradPrelu   []float64

	training bool

	// Saved forward state for the backward pass.
	padded   *tensor.Tensor
	preAct   *tensor.Tensor
	inH, inW int
}

// NewConvUnit builds a ConvUnit with He-initialized weights drawn from rng.
func NewConvUnit(inC, outC, kernel, stride int, opts ConvOpts, rng *rand.Rand) (*ConvUnit, error) {
	if opts.Dilation == 0 {
		opts.Dilation = 1
	}
	if opts.Groups == 0 {
		opts.Groups = 1
	}
	switch {
	case inC <= 0 || outC <= 0:
		return nil, errors.Errorf("conv unit: invalid channel counts %d -> %d", inC, outC)
	case kernel <= 0 || stride <= 0 || opts.Dilation < 0:
		return nil, errors.Errorf("conv unit: invalid kernel/stride/dilation %d/%d/%d", kernel, stride, opts.Dilation)
	case opts.Groups < 0 || inC%opts.Groups != 0 || outC%opts.Groups != 0:
		return nil, errors.Errorf("conv unit: groups %d must divide channels %d and %d", opts.Groups, inC, outC)
	case !opts.Norm.valid():
		return nil, errors.Errorf("conv unit: unknown normalization kind %d", opts.Norm)
	case !opts.Act.valid():
		return nil, errors.Errorf("conv unit: unknown activation kind %d", opts.Act)
	}

	inCperG := inC / opts.Groups
	weights := make([]float64, outC*inCperG*kernel*kernel)
	scale := math.Sqrt(2.0 / float64(inCperG*kernel*kernel))
	for i := range weights {
		weights[i] = rng.Float64()*2*scale - scale
	}

	u := &ConvUnit{
		inC:         inC,
		outC:        outC,
		kernel:      kernel,
		stride:      stride,
		dilation:    opts.Dilation,
		groups:      opts.Groups,
		pad:         (kernel + (opts.Dilation-1)*(kernel-1)) / 2,
		useBias:     !opts.NoBias,
		norm:        opts.Norm,
		act:         opts.Act,
		weights:     weights,
		gradWeights: make([]float64, len(weights)),
		training:    true,
	}
	if u.useBias {
		u.biases = make([]float64, outC)
		for i := range u.biases {
			u.biases[i] = rng.Float64()*0.2 - 0.1
		}
		u.gradBiases = make([]float64, outC)
	}
	switch opts.Norm {
	case NormBatch:
		u.bn = newBatchNorm2d(outC)
	case NormInstance:
		u.in = newInstanceNorm2d()
	}
	if opts.Act == ActPReLU {
		u.preluSlope = []float64{0.25}
		u.gradPrelu = make([]float64, 1)
	}
	return u, nil
}

// OutChannels returns the number of output channels.
func (u *ConvUnit) OutChannels() int { return u.outC }

// InChannels returns the number of input channels.
func (u *ConvUnit) InChannels() int { return u.inC }

// SetTraining switches batch statistics between mini-batch and running
// estimates.
func (u *ConvUnit) SetTraining(training bool) { u.training = training }

func (u *ConvUnit) slope() float64 {
	if u.act == ActPReLU {
		return u.preluSlope[0]
	}
	return 0
}

// Forward runs pad, convolution, normalization and activation.
func (u *ConvUnit) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.C != u.inC {
		panic(fmt.Sprintf("layer: conv unit expects %d input channels, got %d", u.inC, x.C))
	}
	u.inH, u.inW = x.H, x.W
	u.padded = tensor.ReflectPad2D(x, u.pad)

	out := u.convolve(u.padded)
	switch u.norm {
	case NormBatch:
		out = u.bn.forward(out, u.training)
	case NormInstance:
		out = u.in.forward(out)
	}
	u.preAct = out

	if u.act == ActNone {
		return out
	}
	res := tensor.New(out.N, out.C, out.H, out.W)
	slope := u.slope()
	for i, z := range out.Data {
		res.Data[i] = u.act.apply(z, slope)
	}
	return res
}

// Backward propagates grad through activation, normalization, convolution
// and padding, accumulating parameter gradients along the way.
func (u *ConvUnit) Backward(grad *tensor.Tensor) *tensor.Tensor {
	dPre := u.actBackward(grad)
	switch u.norm {
	case NormBatch:
		dPre = u.bn.backward(dPre)
	case NormInstance:
		dPre = u.in.backward(dPre)
	}
	dPadded := u.convBackward(dPre)
	return tensor.ReflectPad2DBackward(dPadded, u.pad, u.inH, u.inW)
}

func (u *ConvUnit) actBackward(grad *tensor.Tensor) *tensor.Tensor {
	if u.act == ActNone {
		return grad
	}
	out := tensor.New(grad.N, grad.C, grad.H, grad.W)
	if u.act == ActPReLU {
		slope := u.preluSlope[0]
		slopeGrad := 0.0
		for i, z := range u.preAct.Data {
			if z > 0 {
				out.Data[i] = grad.Data[i]
			} else {
				out.Data[i] = grad.Data[i] * slope
				slopeGrad += grad.Data[i] * z
			}
		}
		u.gradPrelu[0] += slopeGrad
		return out
	}
	for i, z := range u.preAct.Data {
		out.Data[i] = grad.Data[i] * u.act.derivative(z, 0)
	}
	return out
}

func (u *ConvUnit) convolve(in *tensor.Tensor) *tensor.Tensor {
	span := (u.kernel-1)*u.dilation + 1
	outH := (in.H-span)/u.stride + 1
	outW := (in.W-span)/u.stride + 1
	out := tensor.New(in.N, u.outC, outH, outW)

	inCperG := u.inC / u.groups
	outCperG := u.outC / u.groups
	kk := u.kernel * u.kernel
	outSize := outH * outW

	for n := 0; n < in.N; n++ {
		for oc := 0; oc < u.outC; oc++ {
			g := oc / outCperG
			ocWeightBase := oc * inCperG * kk
			outPlane := out.Data[(n*u.outC+oc)*outSize : (n*u.outC+oc+1)*outSize]
			for icg := 0; icg < inCperG; icg++ {
				ic := g*inCperG + icg
				inPlane := in.Data[(n*in.C+ic)*in.H*in.W:]
				wBase := ocWeightBase + icg*kk
				for kh := 0; kh < u.kernel; kh++ {
					ihOff := kh * u.dilation
					for kw := 0; kw < u.kernel; kw++ {
						w := u.weights[wBase+kh*u.kernel+kw]
						iwOff := kw * u.dilation
						for oh := 0; oh < outH; oh++ {
							inRow := inPlane[(oh*u.stride+ihOff)*in.W+iwOff:]
							outRow := outPlane[oh*outW:]
							for ow := 0; ow < outW; ow++ {
								outRow[ow] += w * inRow[ow*u.stride]
							}
						}
					}
				}
			}
			if u.useBias {
				b := u.biases[oc]
				for i := range outPlane {
					outPlane[i] += b
				}
			}
		}
	}
	return out
}

func (u *ConvUnit) convBackward(dOut *tensor.Tensor) *tensor.Tensor {
	in := u.padded
	outH, outW := dOut.H, dOut.W
	outSize := outH * outW
	dIn := tensor.New(in.N, in.C, in.H, in.W)

	inCperG := u.inC / u.groups
	outCperG := u.outC / u.groups
	kk := u.kernel * u.kernel

	for n := 0; n < in.N; n++ {
		for oc := 0; oc < u.outC; oc++ {
			g := oc / outCperG
			ocWeightBase := oc * inCperG * kk
			dOutPlane := dOut.Data[(n*u.outC+oc)*outSize : (n*u.outC+oc+1)*outSize]
			if u.useBias {
				sum := 0.0
				for _, v := range dOutPlane {
					sum += v
				}
				u.gradBiases[oc] += sum
			}
			for icg := 0; icg < inCperG; icg++ {
				ic := g*inCperG + icg
				inPlane := in.Data[(n*in.C+ic)*in.H*in.W:]
				dInPlane := dIn.Data[(n*in.C+ic)*in.H*in.W:]
				wBase := ocWeightBase + icg*kk
				for kh := 0; kh < u.kernel; kh++ {
					ihOff := kh * u.dilation
					for kw := 0; kw < u.kernel; kw++ {
						wIdx := wBase + kh*u.kernel + kw
						w := u.weights[wIdx]
						iwOff := kw * u.dilation
						wGrad := 0.0
						for oh := 0; oh < outH; oh++ {
							rowBase := (oh*u.stride+ihOff)*in.W + iwOff
							inRow := inPlane[rowBase:]
							dInRow := dInPlane[rowBase:]
							dRow := dOutPlane[oh*outW:]
							for ow := 0; ow < outW; ow++ {
								gv := dRow[ow]
								wGrad += gv * inRow[ow*u.stride]
								dInRow[ow*u.stride] += gv * w
							}
						}
						u.gradWeights[wIdx] += wGrad
					}
				}
			}
		}
	}
	return dIn
}

// Params returns weights, biases, normalization affine and PReLU slope as
// one flat copy, in that fixed order.
func (u *ConvUnit) Params() []float64 {
	out := make([]float64, 0, u.paramLen())
	out = append(out, u.weights...)
	out = append(out, u.biases...)
	if u.bn != nil {
		out = append(out, u.bn.gamma...)
		out = append(out, u.bn.beta...)
	}
	out = append(out, u.preluSlope...)
	return out
}

// SetParams restores parameters from a slice laid out as Params returns.
func (u *ConvUnit) SetParams(params []float64) {
	if len(params) != u.paramLen() {
		panic(fmt.Sprintf("layer: conv unit got %d params, want %d", len(params), u.paramLen()))
	}
	off := copyInto(u.weights, params, 0)
	off = copyInto(u.biases, params, off)
	if u.bn != nil {
		off = copyInto(u.bn.gamma, params, off)
		off = copyInto(u.bn.beta, params, off)
	}
	copyInto(u.preluSlope, params, off)
}

// Gradients returns accumulated gradients in the same layout as Params.
func (u *ConvUnit) Gradients() []float64 {
	out := make([]float64, 0, u.paramLen())
	out = append(out, u.gradWeights...)
	out = append(out, u.gradBiases...)
	if u.bn != nil {
		out = append(out, u.bn.gradGamma...)
		out = append(out, u.bn.gradBeta...)
	}
	out = append(out, u.gradPrelu...)
	return out
}

// ClearGradients zeroes the accumulated gradients.
func (u *ConvUnit) ClearGradients() {
	zero(u.gradWeights)
	zero(u.gradBiases)
	if u.bn != nil {
		zero(u.bn.gradGamma)
		zero(u.bn.gradBeta)
	}
	zero(u.gradPrelu)
}

// Clone deep-copies the unit's configuration and parameters. Gradient
// buffers and forward caches start empty.
func (u *ConvUnit) Clone() Layer {
	c := &ConvUnit{
		inC:         u.inC,
		outC:        u.outC,
		kernel:      u.kernel,
		stride:      u.stride,
		dilation:    u.dilation,
		groups:      u.groups,
		pad:         u.pad,
		useBias:     u.useBias,
		norm:        u.norm,
		act:         u.act,
		weights:     append([]float64(nil), u.weights...),
		gradWeights: make([]float64, len(u.weights)),
		training:    u.training,
	}
	if u.useBias {
		c.biases = append([]float64(nil), u.biases...)
		c.gradBiases = make([]float64, len(u.biases))
	}
	if u.bn != nil {
		c.bn = u.bn.clone()
	}
	if u.in != nil {
		c.in = newInstanceNorm2d()
	}
	if u.preluSlope != nil {
		c.preluSlope = append([]float64(nil), u.preluSlope...)
		c.gradPrelu = make([]float64, 1)
	}
	return c
}

func (u *ConvUnit) paramLen() int {
	n := len(u.weights) + len(u.biases) + len(u.preluSlope)
	if u.bn != nil {
		n += len(u.bn.gamma) + len(u.bn.beta)
	}
	return n
}

func copyInto(dst, src []float64, off int) int {
	copy(dst, src[off:off+len(dst)])
	return off + len(dst)
}

func zero(s []float64) {
	for i := range s {
		s[i] = 0
	}
}
