// Package opt provides the parameter update rule and learning rate
// schedule used by the trainer.
package opt

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// AdamW implements Adam with decoupled weight decay. The decay term is
// applied directly to the parameters instead of being folded into the
// gradient, so it does not interact with the moment estimates.
type AdamW struct {
	lr          float64
	beta1       float64
	beta2       float64
	epsilon     float64
	weightDecay float64

	step int
	m    []float64
	v    []float64
}

// NewAdamW returns an optimizer with betas 0.9/0.999, epsilon 1e-8 and
// weight decay 0.01.
func NewAdamW(lr float64) *AdamW {
	return &AdamW{lr: lr, beta1: 0.9, beta2: 0.999, epsilon: 1e-8, weightDecay: 0.01}
}

// LR returns the current learning rate.
func (a *AdamW) LR() float64 { return a.lr }

// SetLR replaces the learning rate. Schedulers call this between epochs.
func (a *AdamW) SetLR(lr float64) { a.lr = lr }

// Step updates params in place from grads, advancing the moment estimates.
func (a *AdamW) Step(params, grads []float64) {
	if len(params) != len(grads) {
		panic(fmt.Sprintf("opt: %d params but %d gradients", len(params), len(grads)))
	}
	if a.m == nil {
		a.m = make([]float64, len(params))
		a.v = make([]float64, len(params))
	}
	if len(a.m) != len(params) {
		panic(fmt.Sprintf("opt: optimizer state sized for %d params, got %d", len(a.m), len(params)))
	}

	a.step++
	bc1 := 1 - math.Pow(a.beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.beta2, float64(a.step))

	for i, g := range grads {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g

		mHat := a.m[i] / bc1
		vHat := a.v[i] / bc2

		params[i] -= a.lr * (mHat/(math.Sqrt(vHat)+a.epsilon) + a.weightDecay*params[i])
	}
}

// State is the serializable optimizer state stored in checkpoints.
type State struct {
	Step int
	LR   float64
	M    []float64
	V    []float64
}

// State returns a deep copy of the current state.
func (a *AdamW) State() State {
	s := State{Step: a.step, LR: a.lr}
	if a.m != nil {
		s.M = append([]float64(nil), a.m...)
		s.V = append([]float64(nil), a.v...)
	}
	return s
}

// LoadState restores a previously saved state, resuming the moment
// estimates and step count.
func (a *AdamW) LoadState(s State) error {
	if len(s.M) != len(s.V) {
		return errors.Errorf("opt: state has %d first moments but %d second moments", len(s.M), len(s.V))
	}
	a.step = s.Step
	a.lr = s.LR
	a.m = append([]float64(nil), s.M...)
	a.v = append([]float64(nil), s.V...)
	if len(a.m) == 0 {
		a.m, a.v = nil, nil
	}
	return nil
}
