// Package tensor implements dense NCHW tensors and the spatial primitives
// shared by the enhancement network: channel concatenation, reflection
// padding and differentiable resampling.
package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Tensor is a dense 4D array in NCHW layout backed by one contiguous slice.
// Element (n, c, h, w) lives at n*C*H*W + c*H*W + h*W + w.
type Tensor struct {
	Data       []float64
	N, C, H, W int
}

// New allocates a zero-filled tensor with the given shape.
func New(n, c, h, w int) *Tensor {
	if n <= 0 || c <= 0 || h <= 0 || w <= 0 {
		panic(fmt.Sprintf("tensor: non-positive dimension [%d,%d,%d,%d]", n, c, h, w))
	}
	return &Tensor{Data: make([]float64, n*c*h*w), N: n, C: c, H: h, W: w}
}

// Len returns the number of elements.
func (t *Tensor) Len() int { return t.N * t.C * t.H * t.W }

// Idx returns the flat offset of element (n, c, h, w).
func (t *Tensor) Idx(n, c, h, w int) int {
	return ((n*t.C+c)*t.H+h)*t.W + w
}

// At reads element (n, c, h, w).
func (t *Tensor) At(n, c, h, w int) float64 { return t.Data[t.Idx(n, c, h, w)] }

// Set writes element (n, c, h, w).
func (t *Tensor) Set(n, c, h, w int, v float64) { t.Data[t.Idx(n, c, h, w)] = v }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{Data: make([]float64, len(t.Data)), N: t.N, C: t.C, H: t.H, W: t.W}
	copy(out.Data, t.Data)
	return out
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float64) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// Zero resets every element to zero.
func (t *Tensor) Zero() {
	for i := range t.Data {
		t.Data[i] = 0
	}
}

// SameShape reports whether a and b have identical dimensions.
func SameShape(a, b *Tensor) bool {
	return a.N == b.N && a.C == b.C && a.H == b.H && a.W == b.W
}

// Add accumulates src into dst elementwise.
func Add(dst, src *Tensor) {
	if !SameShape(dst, src) {
		panic("tensor: Add shape mismatch")
	}
	floats.Add(dst.Data, src.Data)
}

// AddScaled accumulates alpha*src into dst elementwise.
func AddScaled(dst *Tensor, alpha float64, src *Tensor) {
	if !SameShape(dst, src) {
		panic("tensor: AddScaled shape mismatch")
	}
	floats.AddScaled(dst.Data, alpha, src.Data)
}

// Scale multiplies every element of t by alpha.
func Scale(t *Tensor, alpha float64) {
	floats.Scale(alpha, t.Data)
}

// Cat concatenates tensors along the channel axis. All inputs must share
// batch and spatial dimensions.
func Cat(ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic("tensor: Cat of nothing")
	}
	n, h, w := ts[0].N, ts[0].H, ts[0].W
	totalC := 0
	for _, t := range ts {
		if t.N != n || t.H != h || t.W != w {
			panic(fmt.Sprintf("tensor: Cat shape mismatch [%d,%d,%d,%d] vs [%d,·,%d,%d]",
				t.N, t.C, t.H, t.W, n, h, w))
		}
		totalC += t.C
	}
	out := New(n, totalC, h, w)
	plane := h * w
	for b := 0; b < n; b++ {
		dst := out.Data[b*totalC*plane : (b+1)*totalC*plane]
		off := 0
		for _, t := range ts {
			size := t.C * plane
			copy(dst[off:off+size], t.Data[b*size:(b+1)*size])
			off += size
		}
	}
	return out
}

// SplitC slices t into channel groups of the given sizes. It is the inverse
// of Cat and is used to route gradients back through concatenations.
func SplitC(t *Tensor, sizes ...int) []*Tensor {
	total := 0
	for _, s := range sizes {
		total += s
	}
	if total != t.C {
		panic(fmt.Sprintf("tensor: SplitC sizes sum %d != channels %d", total, t.C))
	}
	out := make([]*Tensor, len(sizes))
	plane := t.H * t.W
	off := 0
	for i, s := range sizes {
		part := New(t.N, s, t.H, t.W)
		size := s * plane
		for b := 0; b < t.N; b++ {
			src := t.Data[b*t.C*plane+off*plane:]
			copy(part.Data[b*size:(b+1)*size], src[:size])
		}
		out[i] = part
		off += s
	}
	return out
}

// Stack joins single-sample tensors into one batch. Every input must have
// N=1 and matching channel and spatial dimensions.
func Stack(samples []*Tensor) *Tensor {
	if len(samples) == 0 {
		panic("tensor: Stack of nothing")
	}
	c, h, w := samples[0].C, samples[0].H, samples[0].W
	for _, s := range samples {
		if s.N != 1 || s.C != c || s.H != h || s.W != w {
			panic("tensor: Stack shape mismatch")
		}
	}
	out := New(len(samples), c, h, w)
	size := c * h * w
	for i, s := range samples {
		copy(out.Data[i*size:(i+1)*size], s.Data)
	}
	return out
}
