package backbone

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// Weights supplies named backbone tensors. *weights.File satisfies it, so
// a converted torchvision checkpoint can be opened and passed straight to
// New.
type Weights interface {
	Tensor(name string) ([]float64, []uint64, error)
}

type synthTensor struct {
	data  []float64
	shape []uint64
}

type randomWeights struct {
	tensors map[string]synthTensor
}

// RandomWeights returns a synthetic source with correctly shaped, He-scaled
// random tensors. It stands in for a real checkpoint in tests.
func RandomWeights(seed int64) Weights {
	rng := rand.New(rand.NewSource(seed))
	tensors := make(map[string]synthTensor, 2*len(convSpecs))
	for i, spec := range convSpecs {
		scale := math.Sqrt(2.0 / float64(spec.in*9))
		w := make([]float64, spec.out*spec.in*9)
		for j := range w {
			w[j] = (rng.Float64()*2 - 1) * scale
		}
		tensors[weightName(i)] = synthTensor{
			data:  w,
			shape: []uint64{uint64(spec.out), uint64(spec.in), 3, 3},
		}
		tensors[biasName(i)] = synthTensor{
			data:  make([]float64, spec.out),
			shape: []uint64{uint64(spec.out)},
		}
	}
	return &randomWeights{tensors: tensors}
}

func (r *randomWeights) Tensor(name string) ([]float64, []uint64, error) {
	t, ok := r.tensors[name]
	if !ok {
		return nil, nil, errors.Errorf("backbone: no tensor %q", name)
	}
	return t.data, t.shape, nil
}
