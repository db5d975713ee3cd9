package gemmbed

import "math"

// ApplyActivation evaluates the epilogue activation on a single value.
// Unparameterized kinds ignore args. Kernels and the reference share it
// so an activation mismatch can never masquerade as a numeric error.
func ApplyActivation(kind ActivationKind, args ActivationArguments, x float32) float32 {
	switch kind {
	case ActReLU:
		if x < 0 {
			return 0
		}
		return x
	case ActClamp:
		if x < args.LowerBound {
			return args.LowerBound
		}
		if x > args.UpperBound {
			return args.UpperBound
		}
		return x
	case ActScaledGELU:
		return args.Scale * gelu(x)
	case ActSiLU:
		return silu(x)
	default:
		return x
	}
}

// gelu uses the tanh approximation
// 0.5 * x * (1 + tanh(sqrt(2/pi) * (x + 0.044715 * x^3))).
func gelu(x float32) float32 {
	const sqrt2OverPi = 0.7978845608028654
	x64 := float64(x)
	inner := sqrt2OverPi * (x64 + 0.044715*x64*x64*x64)
	return float32(0.5 * x64 * (1 + math.Tanh(inner)))
}

// silu is x * sigmoid(x).
func silu(x float32) float32 {
	x64 := float64(x)
	return float32(x64 / (1 + math.Exp(-x64)))
}
