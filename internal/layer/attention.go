package layer

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/oceanlens/uwagg/internal/activations"
	"github.com/oceanlens/uwagg/internal/tensor"
)

// ChannelGate is a squeeze-style channel attention gate: global average
// pooling, a bottleneck projection C -> C/k -> C with a rectifier in the
// middle and a sigmoid at the end, then an elementwise rescale of the
// input by the per-channel gate. Gate values are strictly inside (0,1).
type ChannelGate struct {
	channels int
	reduced  int
	act      Act

	w1, w2     *mat.Dense
	b1, b2     []float64
	preluSlope []float64

	gradW1, gradW2 *mat.Dense
	gradB1, gradB2 []float64
	gradPrelu      []float64

	// Saved forward state, one row per batch sample.
	input  *tensor.Tensor
	pooled []float64
	preIn  []float64
	hidden []float64
	gate   []float64
}

// NewChannelGate builds a gate over the given channel count with bottleneck
// reduction k. The channel count must divide evenly by k; the activation
// must be one of the rectifier kinds.
func NewChannelGate(channels, k int, act Act, rng *rand.Rand) (*ChannelGate, error) {
	if channels <= 0 || k <= 0 {
		return nil, errors.Errorf("channel gate: invalid channels %d or reduction %d", channels, k)
	}
	if channels%k != 0 {
		return nil, errors.Errorf("channel gate: channels %d not divisible by reduction %d", channels, k)
	}
	switch act {
	case ActReLU, ActLeakyReLU, ActPReLU:
	default:
		return nil, errors.Errorf("channel gate: unsupported activation %q", act)
	}

	reduced := channels / k
	g := &ChannelGate{
		channels: channels,
		reduced:  reduced,
		act:      act,
		w1:       xavierDense(reduced, channels, rng),
		w2:       xavierDense(channels, reduced, rng),
		b1:       uniformBiases(reduced, rng),
		b2:       uniformBiases(channels, rng),
		gradW1:   mat.NewDense(reduced, channels, nil),
		gradW2:   mat.NewDense(channels, reduced, nil),
		gradB1:   make([]float64, reduced),
		gradB2:   make([]float64, channels),
	}
	if act == ActPReLU {
		g.preluSlope = []float64{0.25}
		g.gradPrelu = make([]float64, 1)
	}
	return g, nil
}

func xavierDense(rows, cols int, rng *rand.Rand) *mat.Dense {
	data := make([]float64, rows*cols)
	scale := math.Sqrt(2.0 / float64(rows+cols))
	for i := range data {
		data[i] = rng.Float64()*2*scale - scale
	}
	return mat.NewDense(rows, cols, data)
}

func uniformBiases(n int, rng *rand.Rand) []float64 {
	b := make([]float64, n)
	for i := range b {
		b[i] = rng.Float64()*0.2 - 0.1
	}
	return b
}

// SetTraining is a no-op; the gate has no mode-dependent statistics.
func (g *ChannelGate) SetTraining(bool) {}

func (g *ChannelGate) slope() float64 {
	if g.act == ActPReLU {
		return g.preluSlope[0]
	}
	return 0
}

// Forward rescales x by its per-channel gate.
func (g *ChannelGate) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.C != g.channels {
		panic(fmt.Sprintf("layer: channel gate expects %d channels, got %d", g.channels, x.C))
	}
	C, r := g.channels, g.reduced
	plane := x.H * x.W
	g.input = x
	g.pooled = resizeBuf(g.pooled, x.N*C)
	g.preIn = resizeBuf(g.preIn, x.N*r)
	g.hidden = resizeBuf(g.hidden, x.N*r)
	g.gate = resizeBuf(g.gate, x.N*C)

	out := tensor.New(x.N, x.C, x.H, x.W)
	slope := g.slope()
	for n := 0; n < x.N; n++ {
		s := g.pooled[n*C : (n+1)*C]
		for c := 0; c < C; c++ {
			p := x.Data[(n*x.C+c)*plane : (n*x.C+c+1)*plane]
			sum := 0.0
			for _, v := range p {
				sum += v
			}
			s[c] = sum / float64(plane)
		}

		pre := g.preIn[n*r : (n+1)*r]
		z1 := mat.NewVecDense(r, pre)
		z1.MulVec(g.w1, mat.NewVecDense(C, s))
		hid := g.hidden[n*r : (n+1)*r]
		for i := 0; i < r; i++ {
			pre[i] += g.b1[i]
			hid[i] = g.act.apply(pre[i], slope)
		}

		z2 := mat.NewVecDense(C, g.gate[n*C:(n+1)*C])
		z2.MulVec(g.w2, mat.NewVecDense(r, hid))
		gate := g.gate[n*C : (n+1)*C]
		for c := 0; c < C; c++ {
			gate[c] = activations.Sigmoid(gate[c] + g.b2[c])
		}

		for c := 0; c < C; c++ {
			gv := gate[c]
			src := x.Data[(n*x.C+c)*plane : (n*x.C+c+1)*plane]
			dst := out.Data[(n*x.C+c)*plane : (n*x.C+c+1)*plane]
			for i, v := range src {
				dst[i] = v * gv
			}
		}
	}
	return out
}

// Backward propagates through both the rescale path and the gate path.
func (g *ChannelGate) Backward(grad *tensor.Tensor) *tensor.Tensor {
	x := g.input
	C, r := g.channels, g.reduced
	plane := x.H * x.W
	dx := tensor.New(x.N, x.C, x.H, x.W)
	slope := g.slope()

	dGate := make([]float64, C)
	dz2 := make([]float64, C)
	dHidden := make([]float64, r)
	dz1 := make([]float64, r)
	dPool := make([]float64, C)

	for n := 0; n < x.N; n++ {
		gate := g.gate[n*C : (n+1)*C]
		s := g.pooled[n*C : (n+1)*C]
		hid := g.hidden[n*r : (n+1)*r]

		// Direct path: out = gate * x.
		for c := 0; c < C; c++ {
			gv := gate[c]
			gSum := 0.0
			base := (n*x.C + c) * plane
			for i := 0; i < plane; i++ {
				d := grad.Data[base+i]
				gSum += d * x.Data[base+i]
				dx.Data[base+i] = d * gv
			}
			dGate[c] = gSum
			dz2[c] = gSum * activations.SigmoidPrime(gv)
		}

		// Second projection.
		dz2v := mat.NewVecDense(C, dz2)
		g.gradW2.RankOne(g.gradW2, 1, dz2v, mat.NewVecDense(r, hid))
		for c := 0; c < C; c++ {
			g.gradB2[c] += dz2[c]
		}
		dHiddenV := mat.NewVecDense(r, dHidden)
		dHiddenV.MulVec(g.w2.T(), dz2v)

		// Bottleneck activation.
		if g.act == ActPReLU {
			slopeGrad := 0.0
			for i := 0; i < r; i++ {
				z := g.preIn[n*r+i]
				if z > 0 {
					dz1[i] = dHidden[i]
				} else {
					dz1[i] = dHidden[i] * slope
					slopeGrad += dHidden[i] * z
				}
			}
			g.gradPrelu[0] += slopeGrad
		} else {
			for i := 0; i < r; i++ {
				dz1[i] = dHidden[i] * g.act.derivative(g.preIn[n*r+i], 0)
			}
		}

		// First projection.
		dz1v := mat.NewVecDense(r, dz1)
		g.gradW1.RankOne(g.gradW1, 1, dz1v, mat.NewVecDense(C, s))
		for i := 0; i < r; i++ {
			g.gradB1[i] += dz1[i]
		}
		dPoolV := mat.NewVecDense(C, dPool)
		dPoolV.MulVec(g.w1.T(), dz1v)

		// Pooling spreads each channel's gradient uniformly.
		for c := 0; c < C; c++ {
			d := dPool[c] / float64(plane)
			base := (n*x.C + c) * plane
			for i := 0; i < plane; i++ {
				dx.Data[base+i] += d
			}
		}
	}
	return dx
}

// Params returns w1, b1, w2, b2 and the PReLU slope as one flat copy.
func (g *ChannelGate) Params() []float64 {
	out := make([]float64, 0, g.paramLen())
	out = append(out, g.w1.RawMatrix().Data...)
	out = append(out, g.b1...)
	out = append(out, g.w2.RawMatrix().Data...)
	out = append(out, g.b2...)
	out = append(out, g.preluSlope...)
	return out
}

// SetParams restores parameters from a slice laid out as Params returns.
func (g *ChannelGate) SetParams(params []float64) {
	if len(params) != g.paramLen() {
		panic(fmt.Sprintf("layer: channel gate got %d params, want %d", len(params), g.paramLen()))
	}
	off := copyInto(g.w1.RawMatrix().Data, params, 0)
	off = copyInto(g.b1, params, off)
	off = copyInto(g.w2.RawMatrix().Data, params, off)
	off = copyInto(g.b2, params, off)
	copyInto(g.preluSlope, params, off)
}

// Gradients returns accumulated gradients in the same layout as Params.
func (g *ChannelGate) Gradients() []float64 {
	out := make([]float64, 0, g.paramLen())
	out = append(out, g.gradW1.RawMatrix().Data...)
	out = append(out, g.gradB1...)
	out = append(out, g.gradW2.RawMatrix().Data...)
	out = append(out, g.gradB2...)
	out = append(out, g.gradPrelu...)
	return out
}

// ClearGradients zeroes the accumulated gradients.
func (g *ChannelGate) ClearGradients() {
	zero(g.gradW1.RawMatrix().Data)
	zero(g.gradB1)
	zero(g.gradW2.RawMatrix().Data)
	zero(g.gradB2)
	zero(g.gradPrelu)
}

// Clone deep-copies configuration and parameters with fresh gradients.
func (g *ChannelGate) Clone() Layer {
	c := &ChannelGate{
		channels: g.channels,
		reduced:  g.reduced,
		act:      g.act,
		w1:       mat.DenseCopyOf(g.w1),
		w2:       mat.DenseCopyOf(g.w2),
		b1:       append([]float64(nil), g.b1...),
		b2:       append([]float64(nil), g.b2...),
		gradW1:   mat.NewDense(g.reduced, g.channels, nil),
		gradW2:   mat.NewDense(g.channels, g.reduced, nil),
		gradB1:   make([]float64, g.reduced),
		gradB2:   make([]float64, g.channels),
	}
	if g.preluSlope != nil {
		c.preluSlope = append([]float64(nil), g.preluSlope...)
		c.gradPrelu = make([]float64, 1)
	}
	return c
}

func (g *ChannelGate) paramLen() int {
	return g.reduced*g.channels*2 + g.reduced + g.channels + len(g.preluSlope)
}

func resizeBuf(buf []float64, n int) []float64 {
	if cap(buf) < n {
		return make([]float64, n)
	}
	return buf[:n]
}
