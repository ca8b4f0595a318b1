package data

import (
	"context"
	"math/rand"
	"sync"

	"github.com/oceanlens/uwagg/internal/tensor"
)

// Batch is a stacked mini-batch in plan order.
type Batch struct {
	Input  *tensor.Tensor
	Target *tensor.Tensor
	Names  []string
}

// LoaderOptions configures the prefetch pipeline.
type LoaderOptions struct {
	BatchSize int
	Workers   int
	Seed      int64
}

type loadJob struct {
	seq   int
	index int
}

type loadResult struct {
	seq    int
	sample Sample
}

// StartLoader streams the planned epoch as batches. Decoding and
// cropping run on a bounded worker pool; batches still arrive in plan
// order because the collector reorders results by sequence number. Crop
// windows derive from Seed and the sequence number alone, so a plan
// replays identically at any worker count.
//
// The batch channel closes after the last batch or on cancellation. The
// error channel is buffered and carries the first failure, which also
// stops the pipeline.
func StartLoader(ctx context.Context, ds *Dataset, plan []int, opts LoaderOptions) (<-chan Batch, <-chan error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	out := make(chan Batch, 2)
	errCh := make(chan error, 1)

	ctx, cancel := context.WithCancel(ctx)
	jobs := make(chan loadJob, opts.Workers)
	results := make(chan loadResult, opts.Workers*2)

	go func() {
		defer close(jobs)
		for seq, idx := range plan {
			select {
			case <-ctx.Done():
				return
			case jobs <- loadJob{seq: seq, index: idx}:
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				rng := rand.New(rand.NewSource(opts.Seed + int64(j.seq)))
				s, err := ds.Sample(j.index, rng)
				if err != nil {
					select {
					case errCh <- err:
					default:
					}
					cancel()
					return
				}
				select {
				case <-ctx.Done():
					return
				case results <- loadResult{seq: j.seq, sample: s}:
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	go func() {
		defer cancel()
		defer close(out)
		pending := make(map[int]Sample, opts.Workers*2)
		next := 0
		var batch []Sample
		for r := range results {
			pending[r.seq] = r.sample
			for {
				s, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				batch = append(batch, s)
				if len(batch) == opts.BatchSize {
					if !emit(ctx, out, batch) {
						return
					}
					batch = nil
				}
			}
		}
		if ctx.Err() == nil && len(batch) > 0 {
			emit(ctx, out, batch)
		}
	}()

	return out, errCh
}

func emit(ctx context.Context, out chan<- Batch, samples []Sample) bool {
	inputs := make([]*tensor.Tensor, len(samples))
	targets := make([]*tensor.Tensor, len(samples))
	names := make([]string, len(samples))
	for i, s := range samples {
		inputs[i] = s.Input
		targets[i] = s.Target
		names[i] = s.Name
	}
	b := Batch{
		Input:  tensor.Stack(inputs),
		Target: tensor.Stack(targets),
		Names:  names,
	}
	select {
	case <-ctx.Done():
		return false
	case out <- b:
		return true
	}
}
