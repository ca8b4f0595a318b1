// Package metrics provides the evaluation measures reported during
// validation and the rolling accumulators used for epoch logging.
package metrics

import (
	"math"

	"github.com/oceanlens/uwagg/internal/loss"
	"github.com/oceanlens/uwagg/internal/tensor"
)

var defaultSSIM = loss.NewSSIM()

// PSNR returns the peak signal-to-noise ratio in decibels for a unit data
// range. Identical inputs yield +Inf.
func PSNR(pred, target *tensor.Tensor) float64 {
	mse := (loss.MSE{}).Forward(pred, target)
	if mse == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(1/mse)
}

// SSIM returns the mean structural similarity index, computed with the
// same Gaussian window as the training objective.
func SSIM(pred, target *tensor.Tensor) float64 {
	return defaultSSIM.Forward(pred, target)
}

// Meter accumulates values and reports their mean, one epoch at a time.
type Meter struct {
	sum   float64
	count int
}

// Add records one value.
func (m *Meter) Add(v float64) {
	m.sum += v
	m.count++
}

// Average returns the mean of the recorded values, or 0 when empty.
func (m *Meter) Average() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// Count returns how many values were recorded.
func (m *Meter) Count() int { return m.count }

// Reset clears the meter for the next epoch.
func (m *Meter) Reset() {
	m.sum = 0
	m.count = 0
}
