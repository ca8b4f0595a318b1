// Package uwagg is the public surface of the underwater image
// enhancement trainer: building and restoring models, running the
// training loop, and enhancing single images.
package uwagg

import (
	"context"
	"image"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/oceanlens/uwagg/internal/backbone"
	"github.com/oceanlens/uwagg/internal/config"
	"github.com/oceanlens/uwagg/internal/data"
	"github.com/oceanlens/uwagg/internal/net"
	"github.com/oceanlens/uwagg/internal/trainer"
	"github.com/oceanlens/uwagg/internal/weights"
)

// Re-export the library types for easier access.
type (
	Backbone   = backbone.Backbone
	Enhancer   = net.Enhancer
	Checkpoint = net.Checkpoint
	Config     = config.Config
	Overrides  = config.Overrides
)

// LoadConfig reads and validates a YAML run configuration.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// LoadBackbone opens a GGUF weights file and builds the frozen feature
// extractor from it.
func LoadBackbone(path string) (*Backbone, error) {
	src, err := weights.Open(path)
	if err != nil {
		return nil, err
	}
	return backbone.New(src)
}

// RandomBackbone builds an untrained extractor. Restoration quality is
// poor without pretrained weights; this exists for pipeline experiments
// and smoke tests.
func RandomBackbone(seed int64) *Backbone {
	bb, err := backbone.New(backbone.RandomWeights(seed))
	if err != nil {
		panic(err)
	}
	return bb
}

// NewEnhancer builds a model over the extractor with the given working
// channel width, initialized from seed.
func NewEnhancer(extractor *Backbone, channels int, seed int64) (*Enhancer, error) {
	return net.NewEnhancer(extractor, channels, rand.New(rand.NewSource(seed)))
}

// LoadCheckpoint reads a checkpoint written during training.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	return net.LoadCheckpoint(path)
}

// Restore builds an enhancer and loads a checkpoint's parameters into
// it. The channel width must match the checkpointed model.
func Restore(extractor *Backbone, channels int, ck *Checkpoint) (*Enhancer, error) {
	m, err := NewEnhancer(extractor, channels, 0)
	if err != nil {
		return nil, err
	}
	if got, want := len(ck.Params), len(m.Params()); got != want {
		return nil, errors.Errorf("uwagg: checkpoint holds %d params, model with %d channels has %d", got, channels, want)
	}
	m.SetParams(ck.Params)
	return m, nil
}

// Train runs the training loop described by cfg until completion or
// cancellation.
func Train(ctx context.Context, cfg *Config) error {
	return trainer.Run(ctx, cfg)
}

// Enhance restores a single image with a trained model.
func Enhance(m *Enhancer, img image.Image) image.Image {
	m.SetTraining(false)
	defer m.SetTraining(true)
	return data.ToImage(m.Forward(data.ToTensor(img)))
}
