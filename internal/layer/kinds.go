package layer

import (
	"github.com/pkg/errors"

	"github.com/oceanlens/uwagg/internal/activations"
)

// Norm selects the normalization applied between a unit's convolution and
// activation.
type Norm int

const (
	NormNone Norm = iota
	// NormBatch normalizes each channel with cross-batch statistics and a
	// learned affine transform.
	NormBatch
	// NormInstance normalizes each sample and channel independently with
	// no learned affine transform.
	NormInstance
)

// ParseNorm maps a configuration string onto a Norm kind.
func ParseNorm(name string) (Norm, error) {
	switch name {
	case "none", "":
		return NormNone, nil
	case "batch":
		return NormBatch, nil
	case "instance":
		return NormInstance, nil
	}
	return 0, errors.Errorf("unknown normalization %q", name)
}

func (n Norm) valid() bool { return n >= NormNone && n <= NormInstance }

func (n Norm) String() string {
	switch n {
	case NormBatch:
		return "batch"
	case NormInstance:
		return "instance"
	default:
		return "none"
	}
}

// Act selects the activation applied at the end of a unit.
type Act int

const (
	ActNone Act = iota
	ActReLU
	// ActLeakyReLU uses a fixed negative-side slope of 0.2.
	ActLeakyReLU
	// ActPReLU carries one learnable negative-side slope per unit.
	ActPReLU
)

const leakySlope = 0.2

// ParseAct maps a configuration string onto an Act kind.
func ParseAct(name string) (Act, error) {
	switch name {
	case "none", "":
		return ActNone, nil
	case "relu":
		return ActReLU, nil
	case "leaky_relu":
		return ActLeakyReLU, nil
	case "prelu":
		return ActPReLU, nil
	}
	return 0, errors.Errorf("unknown activation %q", name)
}

func (a Act) valid() bool { return a >= ActNone && a <= ActPReLU }

func (a Act) String() string {
	switch a {
	case ActReLU:
		return "relu"
	case ActLeakyReLU:
		return "leaky_relu"
	case ActPReLU:
		return "prelu"
	default:
		return "none"
	}
}

// apply computes the activation of pre-activation z. Every rectifier
// kind is a LeakyReLU with a different negative-side slope; slope is
// only read by ActPReLU.
func (a Act) apply(z, slope float64) float64 {
	switch a {
	case ActNone:
		return z
	case ActReLU:
		return activations.LeakyReLU(z, 0)
	case ActLeakyReLU:
		return activations.LeakyReLU(z, leakySlope)
	default:
		return activations.LeakyReLU(z, slope)
	}
}

// derivative returns the activation's derivative at pre-activation z.
func (a Act) derivative(z, slope float64) float64 {
	switch a {
	case ActNone:
		return 1
	case ActReLU:
		return activations.LeakyReLUPrime(z, 0)
	case ActLeakyReLU:
		return activations.LeakyReLUPrime(z, leakySlope)
	default:
		return activations.LeakyReLUPrime(z, slope)
	}
}
