// Package activations holds the scalar nonlinearities shared by the
// model's layers.
package activations

import "math"

// LeakyReLU returns z for positive z and slope*z otherwise. A slope of
// zero gives the plain rectifier.
func LeakyReLU(z, slope float64) float64 {
	if z > 0 {
		return z
	}
	return slope * z
}

// LeakyReLUPrime is the derivative of LeakyReLU at pre-activation z.
func LeakyReLUPrime(z, slope float64) float64 {
	if z > 0 {
		return 1
	}
	return slope
}

// Sigmoid computes 1/(1+e^-z) without overflowing for large negative z.
func Sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// SigmoidPrime is the sigmoid derivative expressed in terms of the
// sigmoid output s.
func SigmoidPrime(s float64) float64 {
	return s * (1 - s)
}
