package trainer

import (
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/oceanlens/uwagg/internal/backbone"
	"github.com/oceanlens/uwagg/internal/data"
	"github.com/oceanlens/uwagg/internal/loss"
	"github.com/oceanlens/uwagg/internal/net"
	"github.com/oceanlens/uwagg/internal/opt"
)

// replicaSet trains data-parallel copies of one enhancer. Replica 0 is
// the original model; the rest are clones sharing its frozen extractor.
type replicaSet struct {
	replicas []*net.Enhancer
	crits    []*loss.Composite
	optim    *opt.AdamW
}

func newReplicaSet(model *net.Enhancer, extractor *backbone.Backbone, optim *opt.AdamW, n int) *replicaSet {
	rs := &replicaSet{optim: optim}
	for i := 0; i < n; i++ {
		m := model
		if i > 0 {
			m = model.Clone()
		}
		rs.replicas = append(rs.replicas, m)
		rs.crits = append(rs.crits, loss.NewComposite(extractor))
	}
	return rs
}

func (rs *replicaSet) primary() *net.Enhancer { return rs.replicas[0] }

// step runs one batch per replica, averages their gradients in replica
// order and applies a single optimizer update to every replica. Fewer
// batches than replicas is allowed at the end of an epoch; the spare
// replicas sit the step out but still receive the updated parameters.
func (rs *replicaSet) step(batches []data.Batch) (float64, error) {
	n := len(batches)
	if n == 0 || n > len(rs.replicas) {
		return 0, errors.Errorf("trainer: %d batches for %d replicas", n, len(rs.replicas))
	}

	losses := make([]float64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = errors.Errorf("trainer: replica %d: %v", i, r)
				}
			}()
			m, crit := rs.replicas[i], rs.crits[i]
			m.ClearGradients()
			pred := m.Forward(batches[i].Input)
			losses[i] = crit.Forward(pred, batches[i].Target)
			m.Backward(crit.Backward(pred, batches[i].Target))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return 0, err
		}
	}

	grads := rs.replicas[0].Gradients()
	for i := 1; i < n; i++ {
		floats.Add(grads, rs.replicas[i].Gradients())
	}
	if n > 1 {
		floats.Scale(1/float64(n), grads)
	}

	params := rs.replicas[0].Params()
	rs.optim.Step(params, grads)
	for _, m := range rs.replicas {
		m.SetParams(params)
	}
	return floats.Sum(losses) / float64(n), nil
}
