// Package data loads paired underwater image directories and feeds
// rebalanced, cropped mini-batches to the trainer.
package data

import (
	"math/rand"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/oceanlens/uwagg/internal/tensor"
)

// Crop is the patch size extracted from every pair, width by height.
type Crop struct {
	W, H int
}

// Sample is one loaded pair. Tensors are single-sample [1,3,H,W] with
// values in [0,1].
type Sample struct {
	Target *tensor.Tensor
	Input  *tensor.Tensor
	Name   string
}

// Dataset indexes a directory holding input/ and target/ subdirectories
// with identically named image files. Images are decoded on demand.
type Dataset struct {
	inputs  []string
	targets []string
	names   []string
	labels  []string
	crop    Crop
}

// Open scans dir and labels every pair for the rebalancing sampler. With
// film set, the label is the filename's leading token; otherwise pairs
// are clustered by their dominant water cast.
func Open(dir string, film bool, crop Crop) (*Dataset, error) {
	if crop.W <= 0 || crop.H <= 0 {
		return nil, errors.Errorf("data: invalid crop %dx%d", crop.W, crop.H)
	}
	inDir := filepath.Join(dir, "input")
	tarDir := filepath.Join(dir, "target")
	entries, err := os.ReadDir(inDir)
	if err != nil {
		return nil, errors.Wrap(err, "data: scan inputs")
	}

	ds := &Dataset{crop: crop}
	for _, e := range entries {
		if e.IsDir() || !isImage(e.Name()) {
			continue
		}
		tar := filepath.Join(tarDir, e.Name())
		if _, err := os.Stat(tar); err != nil {
			return nil, errors.Errorf("data: %s has no target pair", e.Name())
		}
		ds.inputs = append(ds.inputs, filepath.Join(inDir, e.Name()))
		ds.targets = append(ds.targets, tar)
		ds.names = append(ds.names, e.Name())
	}
	if len(ds.inputs) == 0 {
		return nil, errors.Errorf("data: no image pairs under %s", dir)
	}

	if film {
		ds.labels = filenameLabels(ds.names)
	} else {
		ds.labels, err = colorLabels(ds.inputs)
		if err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// Len returns the number of pairs.
func (d *Dataset) Len() int { return len(d.inputs) }

// Labels returns the per-pair condition labels, aligned with indices.
func (d *Dataset) Labels() []string { return d.labels }

// Name returns the filename of pair i.
func (d *Dataset) Name(i int) string { return d.names[i] }

// Sample loads pair i with a random crop window shared by input and
// target, so both views show the same patch.
func (d *Dataset) Sample(i int, rng *rand.Rand) (Sample, error) {
	inp, tar, err := d.loadPair(i)
	if err != nil {
		return Sample{}, err
	}
	x := rng.Intn(tar.W - d.crop.W + 1)
	y := rng.Intn(tar.H - d.crop.H + 1)
	return d.cropped(i, inp, tar, x, y), nil
}

// At loads pair i with a deterministic center crop, for validation.
func (d *Dataset) At(i int) (Sample, error) {
	inp, tar, err := d.loadPair(i)
	if err != nil {
		return Sample{}, err
	}
	x := (tar.W - d.crop.W) / 2
	y := (tar.H - d.crop.H) / 2
	return d.cropped(i, inp, tar, x, y), nil
}

func (d *Dataset) cropped(i int, inp, tar *tensor.Tensor, x, y int) Sample {
	return Sample{
		Target: cropTensor(tar, x, y, d.crop.W, d.crop.H),
		Input:  cropTensor(inp, x, y, d.crop.W, d.crop.H),
		Name:   d.names[i],
	}
}

// loadPair decodes pair i, sizes the input to the target's frame and
// upscales both when the frame is smaller than the crop.
func (d *Dataset) loadPair(i int) (*tensor.Tensor, *tensor.Tensor, error) {
	inImg, err := decodeImage(d.inputs[i])
	if err != nil {
		return nil, nil, err
	}
	tarImg, err := decodeImage(d.targets[i])
	if err != nil {
		return nil, nil, err
	}
	inImg, tarImg = fitToCrop(inImg, tarImg, d.crop)
	return ToTensor(inImg), ToTensor(tarImg), nil
}

func isImage(name string) bool {
	switch filepath.Ext(name) {
	case ".png", ".jpg", ".jpeg", ".PNG", ".JPG", ".JPEG":
		return true
	}
	return false
}
