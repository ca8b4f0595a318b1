// Package net assembles the restoration network and its checkpoint
// format.
package net

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/oceanlens/uwagg/internal/backbone"
	"github.com/oceanlens/uwagg/internal/layer"
	"github.com/oceanlens/uwagg/internal/tensor"
)

// Enhancer restores underwater images. A frozen extractor stack is fused
// to the working width, refined by four progressively dilated stages with
// attention aggregation between them, pooled across scales and projected
// back to RGB. Spatial dimensions are preserved end to end.
type Enhancer struct {
	channels  int
	extractor *backbone.Backbone

	fusion *layer.ConvUnit
	stages [4][2]*layer.ConvUnit
	aggs   [4]*layer.Aggregation
	spp    *layer.SPP
	proj   *layer.ConvUnit
}

type builder struct {
	rng *rand.Rand
	err error
}

func (b *builder) conv(name string, in, out, kernel int, opts layer.ConvOpts) *layer.ConvUnit {
	if b.err != nil {
		return nil
	}
	u, err := layer.NewConvUnit(in, out, kernel, 1, opts, b.rng)
	if err != nil {
		b.err = errors.Wrap(err, name)
	}
	return u
}

func (b *builder) agg(name string, in, out int) *layer.Aggregation {
	if b.err != nil {
		return nil
	}
	a, err := layer.NewAggregation(in, out, b.rng)
	if err != nil {
		b.err = errors.Wrap(err, name)
	}
	return a
}

// NewEnhancer builds the network at the given working width. The width
// must be a positive multiple of 8 so every aggregation gate divides
// evenly. The extractor is shared, not owned.
func NewEnhancer(extractor *backbone.Backbone, channels int, rng *rand.Rand) (*Enhancer, error) {
	if channels <= 0 || channels%8 != 0 {
		return nil, errors.Errorf("net: channels %d must be a positive multiple of 8", channels)
	}

	leaky := func(dilation int) layer.ConvOpts {
		return layer.ConvOpts{Dilation: dilation, Act: layer.ActLeakyReLU}
	}

	e := &Enhancer{channels: channels, extractor: extractor}
	b := &builder{rng: rng}

	e.fusion = b.conv("fusion", backbone.StackChannels, channels, 1, leaky(1))

	e.stages[0][0] = b.conv("stage0 1x1", channels, channels, 1, leaky(1))
	e.stages[0][1] = b.conv("stage0 3x3", channels, channels, 3, leaky(1))
	e.aggs[0] = b.agg("aggregation0", 2*channels, channels)

	e.stages[1][0] = b.conv("stage1 d2", channels, channels, 3, leaky(2))
	e.stages[1][1] = b.conv("stage1 d4", channels, channels, 3, leaky(4))
	e.aggs[1] = b.agg("aggregation1", 3*channels, channels)

	e.stages[2][0] = b.conv("stage2 d8", channels, channels, 3, leaky(8))
	e.stages[2][1] = b.conv("stage2 d16", channels, channels, 3, leaky(16))
	e.aggs[2] = b.agg("aggregation2", 3*channels, channels)

	e.stages[3][0] = b.conv("stage3 d32", channels, channels, 3, leaky(32))
	e.stages[3][1] = b.conv("stage3 d64", channels, channels, 3, leaky(64))
	e.aggs[3] = b.agg("aggregation3", 4*channels, channels)

	if b.err == nil {
		var err error
		e.spp, err = layer.NewSPP(channels, channels, 4, tensor.Bicubic, b.rng)
		if err != nil {
			b.err = errors.Wrap(err, "spp")
		}
	}
	e.proj = b.conv("projection", channels, 3, 1, layer.ConvOpts{})

	if b.err != nil {
		return nil, b.err
	}
	return e, nil
}

// Channels returns the working width.
func (e *Enhancer) Channels() int { return e.channels }

// Forward restores a 3-channel batch. Each stage's pair output joins the
// running aggregate, and the final aggregation also receives the stage-1
// aggregate as a long-range skip.
func (e *Enhancer) Forward(x *tensor.Tensor) *tensor.Tensor {
	fused := e.fusion.Forward(e.extractor.Stack(x))

	out01 := e.stages[0][0].Forward(fused)
	out02 := e.stages[0][1].Forward(out01)
	agg0 := e.aggs[0].Forward(tensor.Cat(out01, out02))

	out11 := e.stages[1][0].Forward(agg0)
	out12 := e.stages[1][1].Forward(out11)
	agg1 := e.aggs[1].Forward(tensor.Cat(agg0, out11, out12))

	out21 := e.stages[2][0].Forward(agg1)
	out22 := e.stages[2][1].Forward(out21)
	agg2 := e.aggs[2].Forward(tensor.Cat(agg1, out21, out22))

	out31 := e.stages[3][0].Forward(agg2)
	out32 := e.stages[3][1].Forward(out31)
	agg3 := e.aggs[3].Forward(tensor.Cat(agg1, agg2, out31, out32))

	return e.proj.Forward(e.spp.Forward(agg3))
}

// Backward accumulates parameter gradients from dLoss/dOutput. It must
// follow a Forward on the same batch. The returned tensor is the gradient
// with respect to the fused feature stack; the frozen extractor consumes
// no gradient, so callers normally discard it.
func (e *Enhancer) Backward(grad *tensor.Tensor) *tensor.Tensor {
	c := e.channels

	dAgg3 := e.spp.Backward(e.proj.Backward(grad))

	parts := tensor.SplitC(e.aggs[3].Backward(dAgg3), c, c, c, c)
	dAgg1, dAgg2, dOut31 := parts[0], parts[1], parts[2]
	tensor.Add(dOut31, e.stages[3][1].Backward(parts[3]))
	tensor.Add(dAgg2, e.stages[3][0].Backward(dOut31))

	parts = tensor.SplitC(e.aggs[2].Backward(dAgg2), c, c, c)
	tensor.Add(dAgg1, parts[0])
	dOut21 := parts[1]
	tensor.Add(dOut21, e.stages[2][1].Backward(parts[2]))
	tensor.Add(dAgg1, e.stages[2][0].Backward(dOut21))

	parts = tensor.SplitC(e.aggs[1].Backward(dAgg1), c, c, c)
	dAgg0, dOut11 := parts[0], parts[1]
	tensor.Add(dOut11, e.stages[1][1].Backward(parts[2]))
	tensor.Add(dAgg0, e.stages[1][0].Backward(dOut11))

	parts = tensor.SplitC(e.aggs[0].Backward(dAgg0), c, c)
	dOut01 := parts[0]
	tensor.Add(dOut01, e.stages[0][1].Backward(parts[1]))

	return e.fusion.Backward(e.stages[0][0].Backward(dOut01))
}

// layers returns every trainable component in a fixed order. Parameter
// and gradient vectors follow this order, so it must never change across
// a checkpoint's lifetime.
func (e *Enhancer) layers() []layer.Layer {
	ls := make([]layer.Layer, 0, 15)
	ls = append(ls, e.fusion)
	for i := range e.stages {
		ls = append(ls, e.stages[i][0], e.stages[i][1], e.aggs[i])
	}
	return append(ls, e.spp, e.proj)
}

// Params returns a flat copy of every trainable parameter.
func (e *Enhancer) Params() []float64 {
	var out []float64
	for _, l := range e.layers() {
		out = append(out, l.Params()...)
	}
	return out
}

// SetParams restores parameters produced by Params.
func (e *Enhancer) SetParams(params []float64) {
	off := 0
	for _, l := range e.layers() {
		n := len(l.Params())
		l.SetParams(params[off : off+n])
		off += n
	}
	if off != len(params) {
		panic(fmt.Sprintf("net: %d params provided, network holds %d", len(params), off))
	}
}

// Gradients returns a flat copy of the accumulated gradients, aligned
// with Params.
func (e *Enhancer) Gradients() []float64 {
	var out []float64
	for _, l := range e.layers() {
		out = append(out, l.Gradients()...)
	}
	return out
}

// ClearGradients zeroes the accumulated gradients before the next step.
func (e *Enhancer) ClearGradients() {
	for _, l := range e.layers() {
		l.ClearGradients()
	}
}

// SetTraining switches between training and evaluation behavior.
func (e *Enhancer) SetTraining(training bool) {
	for _, l := range e.layers() {
		l.SetTraining(training)
	}
}

// Clone returns a deep copy that shares only the frozen extractor.
// Replicas train independently until their gradients are combined.
func (e *Enhancer) Clone() *Enhancer {
	c := &Enhancer{channels: e.channels, extractor: e.extractor}
	c.fusion = e.fusion.Clone().(*layer.ConvUnit)
	for i := range e.stages {
		c.stages[i][0] = e.stages[i][0].Clone().(*layer.ConvUnit)
		c.stages[i][1] = e.stages[i][1].Clone().(*layer.ConvUnit)
		c.aggs[i] = e.aggs[i].Clone().(*layer.Aggregation)
	}
	c.spp = e.spp.Clone().(*layer.SPP)
	c.proj = e.proj.Clone().(*layer.ConvUnit)
	return c
}
