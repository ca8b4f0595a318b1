package layer

import (
	"math"

	"github.com/oceanlens/uwagg/internal/tensor"
)

// batchNorm2d normalizes each channel with statistics pooled across the
// batch and spatial dimensions, applies a learned affine transform and
// maintains running estimates for evaluation mode.
type batchNorm2d struct {
	eps      float64
	momentum float64

	gamma, beta     []float64
	runMean, runVar []float64
	gradGamma       []float64
	gradBeta        []float64

	// Saved forward state.
	xhat      *tensor.Tensor
	invStd    []float64
	usedBatch bool
}

func newBatchNorm2d(channels int) *batchNorm2d {
	bn := &batchNorm2d{
		eps:       1e-5,
		momentum:  0.1,
		gamma:     make([]float64, channels),
		beta:      make([]float64, channels),
		runMean:   make([]float64, channels),
		runVar:    make([]float64, channels),
		gradGamma: make([]float64, channels),
		gradBeta:  make([]float64, channels),
		invStd:    make([]float64, channels),
	}
	for i := range bn.gamma {
		bn.gamma[i] = 1
		bn.runVar[i] = 1
	}
	return bn
}

func (bn *batchNorm2d) forward(x *tensor.Tensor, training bool) *tensor.Tensor {
	plane := x.H * x.W
	m := x.N * plane
	out := tensor.New(x.N, x.C, x.H, x.W)
	bn.xhat = tensor.New(x.N, x.C, x.H, x.W)
	bn.usedBatch = training

	for c := 0; c < x.C; c++ {
		var mean, variance float64
		if training {
			sum := 0.0
			for n := 0; n < x.N; n++ {
				p := x.Data[(n*x.C+c)*plane : (n*x.C+c+1)*plane]
				for _, v := range p {
					sum += v
				}
			}
			mean = sum / float64(m)
			sq := 0.0
			for n := 0; n < x.N; n++ {
				p := x.Data[(n*x.C+c)*plane : (n*x.C+c+1)*plane]
				for _, v := range p {
					d := v - mean
					sq += d * d
				}
			}
			variance = sq / float64(m)

			bn.runMean[c] = (1-bn.momentum)*bn.runMean[c] + bn.momentum*mean
			unbiased := variance
			if m > 1 {
				unbiased = sq / float64(m-1)
			}
			bn.runVar[c] = (1-bn.momentum)*bn.runVar[c] + bn.momentum*unbiased
		} else {
			mean = bn.runMean[c]
			variance = bn.runVar[c]
		}
		inv := 1 / math.Sqrt(variance+bn.eps)
		bn.invStd[c] = inv
		g, b := bn.gamma[c], bn.beta[c]
		for n := 0; n < x.N; n++ {
			base := (n*x.C + c) * plane
			for i := 0; i < plane; i++ {
				xh := (x.Data[base+i] - mean) * inv
				bn.xhat.Data[base+i] = xh
				out.Data[base+i] = g*xh + b
			}
		}
	}
	return out
}

func (bn *batchNorm2d) backward(dy *tensor.Tensor) *tensor.Tensor {
	plane := dy.H * dy.W
	m := float64(dy.N * plane)
	dx := tensor.New(dy.N, dy.C, dy.H, dy.W)

	for c := 0; c < dy.C; c++ {
		inv := bn.invStd[c]
		g := bn.gamma[c]
		if !bn.usedBatch {
			// Running statistics are constants, so the map is elementwise.
			for n := 0; n < dy.N; n++ {
				base := (n*dy.C + c) * plane
				for i := 0; i < plane; i++ {
					d := dy.Data[base+i]
					bn.gradBeta[c] += d
					bn.gradGamma[c] += d * bn.xhat.Data[base+i]
					dx.Data[base+i] = d * g * inv
				}
			}
			continue
		}
		var sumDy, sumDyXhat float64
		for n := 0; n < dy.N; n++ {
			base := (n*dy.C + c) * plane
			for i := 0; i < plane; i++ {
				d := dy.Data[base+i]
				sumDy += d
				sumDyXhat += d * bn.xhat.Data[base+i]
			}
		}
		bn.gradBeta[c] += sumDy
		bn.gradGamma[c] += sumDyXhat
		k := g * inv / m
		for n := 0; n < dy.N; n++ {
			base := (n*dy.C + c) * plane
			for i := 0; i < plane; i++ {
				d := dy.Data[base+i]
				dx.Data[base+i] = k * (m*d - sumDy - bn.xhat.Data[base+i]*sumDyXhat)
			}
		}
	}
	return dx
}

func (bn *batchNorm2d) clone() *batchNorm2d {
	c := newBatchNorm2d(len(bn.gamma))
	copy(c.gamma, bn.gamma)
	copy(c.beta, bn.beta)
	copy(c.runMean, bn.runMean)
	copy(c.runVar, bn.runVar)
	return c
}

// instanceNorm2d normalizes every sample and channel plane independently
// with no learned affine transform, in training and evaluation alike.
type instanceNorm2d struct {
	eps    float64
	xhat   *tensor.Tensor
	invStd []float64
}

func newInstanceNorm2d() *instanceNorm2d {
	return &instanceNorm2d{eps: 1e-5}
}

func (in *instanceNorm2d) forward(x *tensor.Tensor) *tensor.Tensor {
	plane := x.H * x.W
	out := tensor.New(x.N, x.C, x.H, x.W)
	in.xhat = tensor.New(x.N, x.C, x.H, x.W)
	if cap(in.invStd) < x.N*x.C {
		in.invStd = make([]float64, x.N*x.C)
	}
	in.invStd = in.invStd[:x.N*x.C]

	for nc := 0; nc < x.N*x.C; nc++ {
		p := x.Data[nc*plane : (nc+1)*plane]
		sum := 0.0
		for _, v := range p {
			sum += v
		}
		mean := sum / float64(plane)
		sq := 0.0
		for _, v := range p {
			d := v - mean
			sq += d * d
		}
		inv := 1 / math.Sqrt(sq/float64(plane)+in.eps)
		in.invStd[nc] = inv
		for i, v := range p {
			xh := (v - mean) * inv
			in.xhat.Data[nc*plane+i] = xh
			out.Data[nc*plane+i] = xh
		}
	}
	return out
}

func (in *instanceNorm2d) backward(dy *tensor.Tensor) *tensor.Tensor {
	plane := dy.H * dy.W
	m := float64(plane)
	dx := tensor.New(dy.N, dy.C, dy.H, dy.W)

	for nc := 0; nc < dy.N*dy.C; nc++ {
		base := nc * plane
		var sumDy, sumDyXhat float64
		for i := 0; i < plane; i++ {
			d := dy.Data[base+i]
			sumDy += d
			sumDyXhat += d * in.xhat.Data[base+i]
		}
		k := in.invStd[nc] / m
		for i := 0; i < plane; i++ {
			d := dy.Data[base+i]
			dx.Data[base+i] = k * (m*d - sumDy - in.xhat.Data[base+i]*sumDyXhat)
		}
	}
	return dx
}
