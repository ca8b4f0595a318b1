package data

import (
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/oceanlens/uwagg/internal/tensor"
)

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "data: open image")
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "data: decode %s", path)
	}
	return img, nil
}

// fitToCrop sizes the input to the target's frame, then scales both up
// when the frame is smaller than the crop. Aspect ratio is kept on the
// upscale so the crop never runs out of pixels on either axis.
func fitToCrop(inp, tar image.Image, crop Crop) (image.Image, image.Image) {
	tb := tar.Bounds()
	if ib := inp.Bounds(); ib.Dx() != tb.Dx() || ib.Dy() != tb.Dy() {
		inp = scaleTo(inp, tb.Dx(), tb.Dy())
	}
	w, h := tb.Dx(), tb.Dy()
	if w >= crop.W && h >= crop.H {
		return inp, tar
	}
	f := math.Max(float64(crop.W)/float64(w), float64(crop.H)/float64(h))
	nw := int(math.Ceil(float64(w) * f))
	nh := int(math.Ceil(float64(h) * f))
	return scaleTo(inp, nw, nh), scaleTo(tar, nw, nh)
}

func scaleTo(img image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// ToTensor converts an image to a [1,3,H,W] tensor scaled to [0,1].
func ToTensor(img image.Image) *tensor.Tensor {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	t := tensor.New(1, 3, h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			t.Set(0, 0, y, x, float64(r)/65535)
			t.Set(0, 1, y, x, float64(g)/65535)
			t.Set(0, 2, y, x, float64(bl)/65535)
		}
	}
	return t
}

// ToImage renders the first sample of a [N,3,H,W] tensor, clamping
// values to [0,1].
func ToImage(t *tensor.Tensor) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, t.W, t.H))
	for y := 0; y < t.H; y++ {
		for x := 0; x < t.W; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: byteValue(t.At(0, 0, y, x)),
				G: byteValue(t.At(0, 1, y, x)),
				B: byteValue(t.At(0, 2, y, x)),
				A: 255,
			})
		}
	}
	return img
}

func byteValue(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(math.Round(v * 255))
}

// cropTensor copies the window at (x0,y0) of size w by h from a
// [1,C,H,W] tensor.
func cropTensor(t *tensor.Tensor, x0, y0, w, h int) *tensor.Tensor {
	out := tensor.New(1, t.C, h, w)
	for c := 0; c < t.C; c++ {
		for y := 0; y < h; y++ {
			src := t.Idx(0, c, y0+y, x0)
			dst := out.Idx(0, c, y, 0)
			copy(out.Data[dst:dst+w], t.Data[src:src+w])
		}
	}
	return out
}
