// Package config captures the runtime knobs for a training run.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config mirrors the YAML layout: model, optim, training, testing and
// tracking sections.
type Config struct {
	Model    Model    `yaml:"model"`
	Optim    Optim    `yaml:"optim"`
	Training Training `yaml:"training"`
	Testing  Testing  `yaml:"testing"`
	Tracking Tracking `yaml:"tracking"`
}

// Model selects the network and its frozen backbone weights.
type Model struct {
	Session         string `yaml:"session"`
	Film            bool   `yaml:"film"`
	Channels        int    `yaml:"channels"`
	BackboneWeights string `yaml:"backbone_weights"`
}

// Optim holds optimizer and schedule settings.
type Optim struct {
	BatchSize int     `yaml:"batch_size"`
	NumEpochs int     `yaml:"num_epochs"`
	LRInitial float64 `yaml:"lr_initial"`
	LRMin     float64 `yaml:"lr_min"`
	Seed      int64   `yaml:"seed"`
}

// Training holds the data locations and loop settings.
type Training struct {
	TrainDir      string `yaml:"train_dir"`
	ValDir        string `yaml:"val_dir"`
	SaveDir       string `yaml:"save_dir"`
	ValAfterEvery int    `yaml:"val_after_every"`
	PSW           int    `yaml:"ps_w"`
	PSH           int    `yaml:"ps_h"`
	Workers       int    `yaml:"workers"`
	Replicas      int    `yaml:"replicas"`
}

// Testing holds the validation patch size.
type Testing struct {
	PSW int `yaml:"ps_w"`
	PSH int `yaml:"ps_h"`
}

// Tracking names the metrics log and its run label.
type Tracking struct {
	Path string `yaml:"path"`
	Run  string `yaml:"run"`
}

// Overrides captures CLI supplied values. Zero values leave the config
// untouched.
type Overrides struct {
	TrainDir        string
	ValDir          string
	SaveDir         string
	BackboneWeights string
	NumEpochs       int
	BatchSize       int
	Seed            int64
	Workers         int
	Replicas        int
}

// Load reads and validates a Config from YAML. Unknown keys are
// rejected so typos surface before a long run starts.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: open")
	}
	defer f.Close()

	cfg := &Config{}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "config: parse %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override. Call Validate
// again afterwards.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.TrainDir != "" {
		c.Training.TrainDir = o.TrainDir
	}
	if o.ValDir != "" {
		c.Training.ValDir = o.ValDir
	}
	if o.SaveDir != "" {
		c.Training.SaveDir = o.SaveDir
	}
	if o.BackboneWeights != "" {
		c.Model.BackboneWeights = o.BackboneWeights
	}
	if o.NumEpochs > 0 {
		c.Optim.NumEpochs = o.NumEpochs
	}
	if o.BatchSize > 0 {
		c.Optim.BatchSize = o.BatchSize
	}
	if o.Seed != 0 {
		c.Optim.Seed = o.Seed
	}
	if o.Workers > 0 {
		c.Training.Workers = o.Workers
	}
	if o.Replicas > 0 {
		c.Training.Replicas = o.Replicas
	}
}

// Validate verifies the config is runnable and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Model.Session == "" {
		c.Model.Session = "UWEnhancer"
	}
	if c.Model.Channels == 0 {
		c.Model.Channels = 64
	}
	if c.Model.Channels <= 0 || c.Model.Channels%8 != 0 {
		return errors.Errorf("config: channels must be a positive multiple of 8 (got %d)", c.Model.Channels)
	}
	if c.Model.BackboneWeights == "" {
		return errors.New("config: backbone_weights must be set")
	}

	if c.Optim.BatchSize <= 0 {
		return errors.Errorf("config: batch_size must be > 0 (got %d)", c.Optim.BatchSize)
	}
	if c.Optim.NumEpochs <= 0 {
		return errors.Errorf("config: num_epochs must be > 0 (got %d)", c.Optim.NumEpochs)
	}
	if c.Optim.LRInitial <= 0 {
		return errors.Errorf("config: lr_initial must be > 0 (got %g)", c.Optim.LRInitial)
	}
	if c.Optim.LRMin < 0 || c.Optim.LRMin > c.Optim.LRInitial {
		return errors.Errorf("config: lr_min must sit in [0, lr_initial] (got %g)", c.Optim.LRMin)
	}

	if c.Training.TrainDir == "" {
		return errors.New("config: train_dir must be set")
	}
	if c.Training.ValDir == "" {
		return errors.New("config: val_dir must be set")
	}
	if c.Training.SaveDir == "" {
		return errors.New("config: save_dir must be set")
	}
	if c.Training.PSW <= 0 || c.Training.PSH <= 0 {
		return errors.Errorf("config: training patch %dx%d must be positive", c.Training.PSW, c.Training.PSH)
	}
	if c.Training.ValAfterEvery <= 0 {
		c.Training.ValAfterEvery = 1
	}
	if c.Training.Workers <= 0 {
		c.Training.Workers = 1
	}
	if c.Training.Replicas <= 0 {
		c.Training.Replicas = 1
	}

	if c.Testing.PSW <= 0 {
		c.Testing.PSW = c.Training.PSW
	}
	if c.Testing.PSH <= 0 {
		c.Testing.PSH = c.Training.PSH
	}

	if c.Tracking.Run == "" {
		c.Tracking.Run = "uw"
	}
	return nil
}
