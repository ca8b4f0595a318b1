// Command uwtrain trains the underwater image enhancer described by a
// YAML config, with CLI overrides for the common knobs.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/oceanlens/uwagg/internal/config"
	"github.com/oceanlens/uwagg/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "config.yml", "Path to YAML config")
	trainDir := flag.String("train-dir", "", "Override training pair directory")
	valDir := flag.String("val-dir", "", "Override validation pair directory")
	saveDir := flag.String("save-dir", "", "Override checkpoint directory")
	backbone := flag.String("backbone", "", "Override backbone weights file")
	epochs := flag.Int("epochs", 0, "Number of training epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	seed := flag.Int64("seed", 0, "PRNG seed")
	workers := flag.Int("workers", 0, "Number of data loader workers")
	replicas := flag.Int("replicas", 0, "Number of data-parallel replicas")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		TrainDir:        *trainDir,
		ValDir:          *valDir,
		SaveDir:         *saveDir,
		BackboneWeights: *backbone,
		NumEpochs:       *epochs,
		BatchSize:       *batchSize,
		Seed:            *seed,
		Workers:         *workers,
		Replicas:        *replicas,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if err := os.MkdirAll(cfg.Training.SaveDir, 0o755); err != nil {
		log.Fatalf("create save dir: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := trainer.Run(ctx, cfg); err != nil {
		log.Fatalf("training failed: %v", err)
	}
}
