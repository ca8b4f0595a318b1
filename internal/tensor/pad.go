package tensor

// reflectIndex maps a possibly out-of-range coordinate onto [0, n) by
// mirroring around the borders without repeating the edge sample. The
// reflection has period 2(n-1), so pads of any size fold back in range.
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// ReflectPad2D pads the spatial dimensions by pad on all four sides using
// mirror indexing. Unlike the usual reflection pad, pads equal to or larger
// than the spatial extent are valid.
func ReflectPad2D(t *Tensor, pad int) *Tensor {
	if pad == 0 {
		return t.Clone()
	}
	outH, outW := t.H+2*pad, t.W+2*pad
	out := New(t.N, t.C, outH, outW)

	// Precompute the source index for each padded coordinate.
	srcH := make([]int, outH)
	for h := 0; h < outH; h++ {
		srcH[h] = reflectIndex(h-pad, t.H)
	}
	srcW := make([]int, outW)
	for w := 0; w < outW; w++ {
		srcW[w] = reflectIndex(w-pad, t.W)
	}

	for n := 0; n < t.N; n++ {
		for c := 0; c < t.C; c++ {
			inPlane := t.Data[(n*t.C+c)*t.H*t.W:]
			outPlane := out.Data[(n*t.C+c)*outH*outW:]
			for h := 0; h < outH; h++ {
				inRow := inPlane[srcH[h]*t.W:]
				outRow := outPlane[h*outW:]
				for w := 0; w < outW; w++ {
					outRow[w] = inRow[srcW[w]]
				}
			}
		}
	}
	return out
}

// ReflectPad2DBackward scatters gradients of a padded tensor back onto the
// original (inH, inW) grid. Positions sampled several times by the mirror
// accumulate their contributions.
func ReflectPad2DBackward(grad *Tensor, pad, inH, inW int) *Tensor {
	if grad.H != inH+2*pad || grad.W != inW+2*pad {
		panic("tensor: ReflectPad2DBackward size mismatch")
	}
	out := New(grad.N, grad.C, inH, inW)
	if pad == 0 {
		copy(out.Data, grad.Data)
		return out
	}

	srcH := make([]int, grad.H)
	for h := 0; h < grad.H; h++ {
		srcH[h] = reflectIndex(h-pad, inH)
	}
	srcW := make([]int, grad.W)
	for w := 0; w < grad.W; w++ {
		srcW[w] = reflectIndex(w-pad, inW)
	}

	for n := 0; n < grad.N; n++ {
		for c := 0; c < grad.C; c++ {
			gradPlane := grad.Data[(n*grad.C+c)*grad.H*grad.W:]
			outPlane := out.Data[(n*grad.C+c)*inH*inW:]
			for h := 0; h < grad.H; h++ {
				gradRow := gradPlane[h*grad.W:]
				outRow := outPlane[srcH[h]*inW:]
				for w := 0; w < grad.W; w++ {
					outRow[srcW[w]] += gradRow[w]
				}
			}
		}
	}
	return out
}
