package gemmbed

import (
	"math/rand"
)

// Distribution names a statistical distribution used to initialize an
// operand tensor.
type Distribution int

const (
	DistUniform Distribution = iota
	DistGaussian
	DistIdentity
	DistSequential
	DistAllOnes
)

// String returns the distribution name.
func (d Distribution) String() string {
	switch d {
	case DistUniform:
		return "Uniform"
	case DistGaussian:
		return "Gaussian"
	case DistIdentity:
		return "Identity"
	case DistSequential:
		return "Sequential"
	case DistAllOnes:
		return "AllOnes"
	default:
		return "Unknown"
	}
}

// FillTensor fills t with values drawn from the named distribution.
// Uniform ranges are type-width dependent: 1-bit elements draw from
// [0, 2), elements of at most 8 bits from [-1, 1], wider elements
// from [-4, 4]. Gaussian draws with mean 0 and standard deviation 0.5.
// An unsupported kind returns a not-implemented error; the caller is
// responsible for surfacing the test failure.
func FillTensor(t *HostTensor, kind Distribution, seed uint64) error {
	rng := rand.New(rand.NewSource(int64(seed)))

	switch kind {
	case DistUniform:
		var scopeMin, scopeMax float64
		bits := t.Element().Bits()
		switch {
		case bits == 1:
			scopeMin, scopeMax = 0, 2
		case bits <= 8:
			scopeMin, scopeMax = -1, 1
		default:
			scopeMin, scopeMax = -4, 4
		}
		for i := range t.Data() {
			t.SetRaw(i, float32(scopeMin+rng.Float64()*(scopeMax-scopeMin)))
		}

	case DistGaussian:
		for i := range t.Data() {
			t.SetRaw(i, float32(rng.NormFloat64()*0.5))
		}

	case DistIdentity:
		for r := 0; r < t.Rows(); r++ {
			for c := 0; c < t.Cols(); c++ {
				if r == c {
					t.Set(r, c, 1)
				} else {
					t.Set(r, c, 0)
				}
			}
		}

	case DistSequential:
		// Increasing values in raw memory order.
		for i := range t.Data() {
			t.SetRaw(i, float32(i))
		}

	case DistAllOnes:
		t.Fill(1)

	default:
		return NewNotImplementedError("FillTensor", "distribution kind not implemented: "+kind.String())
	}

	return nil
}
