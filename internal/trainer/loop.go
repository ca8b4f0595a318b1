// Package trainer drives the enhancer training loop: rebalanced epochs,
// data-parallel replicas, cosine-annealed AdamW updates, periodic
// validation and best-PSNR checkpointing.
package trainer

import (
	"context"
	"log"
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/oceanlens/uwagg/internal/backbone"
	"github.com/oceanlens/uwagg/internal/config"
	"github.com/oceanlens/uwagg/internal/data"
	"github.com/oceanlens/uwagg/internal/metrics"
	"github.com/oceanlens/uwagg/internal/net"
	"github.com/oceanlens/uwagg/internal/opt"
	"github.com/oceanlens/uwagg/internal/tensor"
	"github.com/oceanlens/uwagg/internal/track"
	"github.com/oceanlens/uwagg/internal/weights"
)

// checkpointStore is the slice of net.Store the loop needs.
type checkpointStore interface {
	Save(*net.Checkpoint) (string, error)
}

// Run builds the model from cfg and trains it to completion or until
// ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	src, err := weights.Open(cfg.Model.BackboneWeights)
	if err != nil {
		return errors.Wrap(err, "trainer: backbone weights")
	}
	extractor, err := backbone.New(src)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(cfg.Optim.Seed))
	model, err := net.NewEnhancer(extractor, cfg.Model.Channels, rng)
	if err != nil {
		return err
	}
	return run(ctx, cfg, extractor, model)
}

// run trains an already constructed model. Split from Run so tests can
// inject a synthetic extractor.
func run(ctx context.Context, cfg *config.Config, extractor *backbone.Backbone, model *net.Enhancer) error {
	trainSet, err := data.Open(cfg.Training.TrainDir, cfg.Model.Film, data.Crop{W: cfg.Training.PSW, H: cfg.Training.PSH})
	if err != nil {
		return err
	}
	valSet, err := data.Open(cfg.Training.ValDir, cfg.Model.Film, data.Crop{W: cfg.Testing.PSW, H: cfg.Testing.PSH})
	if err != nil {
		return err
	}

	optim := opt.NewAdamW(cfg.Optim.LRInitial)
	tracker := track.New(cfg.Tracking.Path, cfg.Tracking.Run, "PSNR", "SSIM")
	defer tracker.Close()

	st := &runState{
		cfg:      cfg,
		trainSet: trainSet,
		valSet:   valSet,
		rs:       newReplicaSet(model, extractor, optim, cfg.Training.Replicas),
		sched:    opt.NewCosineAnnealing(optim, cfg.Optim.NumEpochs, cfg.Optim.LRMin),
		store:    net.NewStore(cfg.Training.SaveDir),
		tracker:  tracker,
		best:     math.Inf(-1),
	}

	log.Printf("session=%s train_pairs=%d val_pairs=%d channels=%d replicas=%d",
		cfg.Model.Session, trainSet.Len(), valSet.Len(), cfg.Model.Channels, cfg.Training.Replicas)

	for epoch := 1; epoch <= cfg.Optim.NumEpochs; epoch++ {
		meanLoss, err := st.trainEpoch(ctx, epoch)
		if err != nil {
			return err
		}
		st.sched.Step()
		log.Printf("epoch=%d loss=%.6f lr=%.3e", epoch, meanLoss, st.sched.LR())

		if epoch%cfg.Training.ValAfterEvery == 0 {
			if err := st.validate(ctx, epoch); err != nil {
				return err
			}
		}
	}
	return nil
}

type runState struct {
	cfg      *config.Config
	trainSet *data.Dataset
	valSet   *data.Dataset
	rs       *replicaSet
	sched    *opt.CosineAnnealing
	store    checkpointStore
	tracker  *track.Tracker
	best     float64
}

// trainEpoch streams one rebalanced pass over the training set and
// returns the mean step loss.
func (s *runState) trainEpoch(ctx context.Context, epoch int) (float64, error) {
	// Scoped to the epoch so an early return also stops the loader.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	seed := s.cfg.Optim.Seed + int64(epoch)
	plan := data.Rebalance(s.trainSet.Labels(), rand.New(rand.NewSource(seed)))
	batches, errCh := data.StartLoader(ctx, s.trainSet, plan, data.LoaderOptions{
		BatchSize: s.cfg.Optim.BatchSize,
		Workers:   s.cfg.Training.Workers,
		Seed:      seed,
	})

	var meter metrics.Meter
	group := make([]data.Batch, 0, len(s.rs.replicas))
	for b := range batches {
		group = append(group, b)
		if len(group) < cap(group) {
			continue
		}
		l, err := s.rs.step(group)
		if err != nil {
			return 0, err
		}
		meter.Add(l)
		group = group[:0]
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	select {
	case err := <-errCh:
		if err != nil {
			return 0, errors.Wrap(err, "trainer: load batch")
		}
	default:
	}
	if len(group) > 0 {
		l, err := s.rs.step(group)
		if err != nil {
			return 0, err
		}
		meter.Add(l)
	}
	if meter.Count() == 0 {
		return 0, errors.New("trainer: epoch produced no batches")
	}
	return meter.Average(), nil
}

// validate scores the primary replica over the validation set, logs the
// metrics and checkpoints on a strict PSNR improvement.
func (s *runState) validate(ctx context.Context, epoch int) error {
	model := s.rs.primary()
	model.SetTraining(false)
	defer model.SetTraining(true)

	var psnr, ssim metrics.Meter
	for i := 0; i < s.valSet.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		sample, err := s.valSet.At(i)
		if err != nil {
			return err
		}
		pred := clamp01(fitToTarget(model.Forward(sample.Input), sample.Target))
		psnr.Add(metrics.PSNR(pred, sample.Target))
		ssim.Add(metrics.SSIM(pred, sample.Target))
	}

	p, sm := psnr.Average(), ssim.Average()
	s.tracker.Log(epoch, map[string]float64{"PSNR": p, "SSIM": sm})

	if p > s.best {
		s.best = p
		path, err := s.store.Save(&net.Checkpoint{
			Epoch:    epoch,
			Params:   model.Params(),
			OptState: s.rs.optim.State(),
		})
		if err != nil {
			return err
		}
		log.Printf("epoch=%d checkpoint=%s", epoch, path)
	}
	log.Printf("epoch=%d psnr=%.4f ssim=%.4f best=%.4f", epoch, p, sm, s.best)
	return nil
}

// fitToTarget resizes a prediction whose frame drifted from the
// target's, so the metrics always compare equal shapes.
func fitToTarget(pred, target *tensor.Tensor) *tensor.Tensor {
	if pred.H == target.H && pred.W == target.W {
		return pred
	}
	return tensor.Resize(pred, target.H, target.W, tensor.Bilinear)
}

func clamp01(t *tensor.Tensor) *tensor.Tensor {
	for i, v := range t.Data {
		if v < 0 {
			t.Data[i] = 0
		} else if v > 1 {
			t.Data[i] = 1
		}
	}
	return t
}
