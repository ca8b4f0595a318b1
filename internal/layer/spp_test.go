package layer

import (
	"math"
	"math/rand"
	"testing"

	"github.com/oceanlens/uwagg/internal/tensor"
)

func TestSPPOutputChannels(t *testing.T) {
	rng := rand.New(rand.NewSource(30))
	cases := []struct {
		name   string
		inC    int
		outC   int
		levels int
		h, w   int
	}{
		{"four levels", 8, 5, 4, 64, 64},
		{"two levels", 4, 4, 2, 32, 48},
		{"rectangular", 8, 8, 4, 64, 96},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewSPP(tc.inC, tc.outC, tc.levels, tensor.Bicubic, rng)
			if err != nil {
				t.Fatal(err)
			}
			out := s.Forward(randTensor(1, tc.inC, tc.h, tc.w, rng))
			if out.C != tc.outC || out.H != tc.h || out.W != tc.w {
				t.Errorf("output shape [%d,%d,%d,%d], want [1,%d,%d,%d]",
					out.N, out.C, out.H, out.W, tc.outC, tc.h, tc.w)
			}
		})
	}
}

// Pooling, projection, resampling and fusion all map constant planes to
// constant planes, so a constant input must come out constant per channel
// with no border artifacts.
func TestSPPConstantRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	s, err := NewSPP(4, 4, 4, tensor.Bicubic, rng)
	if err != nil {
		t.Fatal(err)
	}
	x := tensor.New(1, 4, 64, 64)
	x.Fill(0.3)
	out := s.Forward(x)

	plane := 64 * 64
	for c := 0; c < out.C; c++ {
		p := out.Data[c*plane : (c+1)*plane]
		first := p[0]
		for i, v := range p {
			if math.Abs(v-first) > 1e-9 {
				t.Fatalf("channel %d not constant: p[%d]=%v vs p[0]=%v", c, i, v, first)
			}
		}
	}
}

func TestSPPGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(32))
	s, err := NewSPP(2, 2, 2, tensor.Bilinear, rng)
	if err != nil {
		t.Fatal(err)
	}
	gradCheck(t, s, randTensor(1, 2, 16, 16, rng), 1e-4)
}

func TestSPPCloneIndependence(t *testing.T) {
	rng := rand.New(rand.NewSource(33))
	s, err := NewSPP(4, 4, 2, tensor.Bicubic, rng)
	if err != nil {
		t.Fatal(err)
	}
	c := s.Clone()
	before := c.Params()

	params := s.Params()
	for i := range params {
		params[i] *= 2
	}
	s.SetParams(params)

	after := c.Params()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("clone params changed at %d", i)
		}
	}
}
