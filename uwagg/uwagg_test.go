package uwagg

import (
	"image"
	"image/color"
	"testing"
)

func TestFacadeBuildEnhanceRestore(t *testing.T) {
	if testing.Short() {
		t.Skip("full model construction in short mode")
	}
	bb := RandomBackbone(1)
	m, err := NewEnhancer(bb, 8, 2)
	if err != nil {
		t.Fatalf("NewEnhancer: %v", err)
	}

	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	out := Enhance(m, img)
	if b := out.Bounds(); b.Dx() != 16 || b.Dy() != 16 {
		t.Errorf("enhanced bounds = %v, want 16x16", b)
	}

	ck := &Checkpoint{Epoch: 3, Params: m.Params()}
	restored, err := Restore(bb, 8, ck)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	rp, mp := restored.Params(), m.Params()
	for i := range mp {
		if rp[i] != mp[i] {
			t.Fatalf("restored params diverge at %d", i)
		}
	}

	if _, err := Restore(bb, 16, ck); err == nil {
		t.Error("Restore accepted a mismatched channel width")
	}
}
