package layer

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/oceanlens/uwagg/internal/tensor"
)

// SPP fuses multi-scale context into a tensor: each pyramid level
// average-pools the input with kernel and stride 2*2^(level+1), projects it
// through a 1x1 conv unit and resamples it back to the input extents. The
// level outputs and the raw input are concatenated and fused by a 3x3 conv
// unit to the requested channel count.
type SPP struct {
	inC, outC int
	levels    int
	interp    tensor.Interp

	convs []*ConvUnit
	fuse  *ConvUnit

	// Saved forward state.
	inH, inW   int
	pooledDims [][2]int
	poolSizes  []int
}

// NewSPP builds an SPP block with the given pyramid depth.
func NewSPP(inC, outC, levels int, interp tensor.Interp, rng *rand.Rand) (*SPP, error) {
	if levels <= 0 {
		return nil, errors.Errorf("spp: invalid level count %d", levels)
	}
	s := &SPP{
		inC:        inC,
		outC:       outC,
		levels:     levels,
		interp:     interp,
		convs:      make([]*ConvUnit, levels),
		pooledDims: make([][2]int, levels),
		poolSizes:  make([]int, levels),
	}
	for l := 0; l < levels; l++ {
		conv, err := NewConvUnit(inC, inC, 1, 1, ConvOpts{Act: ActLeakyReLU}, rng)
		if err != nil {
			return nil, errors.Wrapf(err, "spp level %d", l)
		}
		s.convs[l] = conv
		s.poolSizes[l] = 2 * (1 << uint(l+1))
	}
	fuse, err := NewConvUnit(inC*(levels+1), outC, 3, 1, ConvOpts{Act: ActLeakyReLU}, rng)
	if err != nil {
		return nil, errors.Wrap(err, "spp fusion")
	}
	s.fuse = fuse
	return s, nil
}

// SetTraining propagates the mode to the owned conv units.
func (s *SPP) SetTraining(training bool) {
	for _, c := range s.convs {
		c.SetTraining(training)
	}
	s.fuse.SetTraining(training)
}

// Forward computes the pyramid fusion. The input spatial extents must be
// large enough for the deepest pooling level to produce at least one cell.
func (s *SPP) Forward(x *tensor.Tensor) *tensor.Tensor {
	s.inH, s.inW = x.H, x.W
	streams := make([]*tensor.Tensor, 0, s.levels+1)
	for l := 0; l < s.levels; l++ {
		size := s.poolSizes[l]
		pooled := AvgPool2D(x, size, size, size%2)
		s.pooledDims[l] = [2]int{pooled.H, pooled.W}
		projected := s.convs[l].Forward(pooled)
		streams = append(streams, tensor.Resize(projected, x.H, x.W, s.interp))
	}
	streams = append(streams, x)
	return s.fuse.Forward(tensor.Cat(streams...))
}

// Backward splits the fused gradient back into the level streams and the
// raw-input stream and accumulates all of them onto the input gradient.
func (s *SPP) Backward(grad *tensor.Tensor) *tensor.Tensor {
	dCat := s.fuse.Backward(grad)
	sizes := make([]int, s.levels+1)
	for i := range sizes {
		sizes[i] = s.inC
	}
	parts := tensor.SplitC(dCat, sizes...)

	dx := parts[s.levels]
	for l := 0; l < s.levels; l++ {
		size := s.poolSizes[l]
		dProjected := tensor.ResizeBackward(parts[l], s.pooledDims[l][0], s.pooledDims[l][1], s.interp)
		dPooled := s.convs[l].Backward(dProjected)
		tensor.Add(dx, AvgPool2DBackward(dPooled, size, size, size%2, s.inH, s.inW))
	}
	return dx
}

// Params returns the level conv parameters followed by the fusion conv's.
func (s *SPP) Params() []float64 { return concatParams(s.layers()...) }

// SetParams restores parameters in the Params layout.
func (s *SPP) SetParams(params []float64) { scatterParams(params, s.layers()...) }

// Gradients returns accumulated gradients in the Params layout.
func (s *SPP) Gradients() []float64 { return concatGradients(s.layers()...) }

// ClearGradients zeroes all owned gradients.
func (s *SPP) ClearGradients() {
	for _, l := range s.layers() {
		l.ClearGradients()
	}
}

// Clone deep-copies the block.
func (s *SPP) Clone() Layer {
	c := &SPP{
		inC:        s.inC,
		outC:       s.outC,
		levels:     s.levels,
		interp:     s.interp,
		convs:      make([]*ConvUnit, s.levels),
		fuse:       s.fuse.Clone().(*ConvUnit),
		pooledDims: make([][2]int, s.levels),
		poolSizes:  append([]int(nil), s.poolSizes...),
	}
	for l, conv := range s.convs {
		c.convs[l] = conv.Clone().(*ConvUnit)
	}
	return c
}

func (s *SPP) layers() []Layer {
	out := make([]Layer, 0, s.levels+1)
	for _, c := range s.convs {
		out = append(out, c)
	}
	return append(out, s.fuse)
}
