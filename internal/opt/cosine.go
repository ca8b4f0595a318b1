package opt

import "math"

// CosineAnnealing lowers the optimizer's learning rate from its starting
// value to a floor along half a cosine period. Step is called once per
// epoch; after period steps the rate stays at the floor.
type CosineAnnealing struct {
	opt     *AdamW
	initial float64
	floor   float64
	period  int
	epoch   int
}

// NewCosineAnnealing captures the optimizer's current rate as the curve's
// starting point.
func NewCosineAnnealing(opt *AdamW, period int, floor float64) *CosineAnnealing {
	return &CosineAnnealing{opt: opt, initial: opt.LR(), floor: floor, period: period}
}

// Step advances one epoch and updates the optimizer's learning rate.
func (s *CosineAnnealing) Step() {
	if s.epoch < s.period {
		s.epoch++
	}
	t := float64(s.epoch) / float64(s.period)
	lr := s.floor + (s.initial-s.floor)*(1+math.Cos(math.Pi*t))/2
	s.opt.SetLR(lr)
}

// LR returns the rate set by the last Step, or the initial rate before any.
func (s *CosineAnnealing) LR() float64 { return s.opt.LR() }
