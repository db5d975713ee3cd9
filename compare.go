package gemmbed

import "math"

// CheckEquality selects the comparison mode between a reference tensor
// and a computed tensor.
type CheckEquality int

const (
	// CheckExact requires bit-for-bit identical values.
	CheckExact CheckEquality = iota
	// CheckRelative accepts deviations below an epsilon scaled
	// relative to the compared magnitudes, with a nonzero floor.
	CheckRelative
)

// relEpsilon is the relative tolerance used by CheckRelative. The
// nonzero floor comes from the element type's minimum normal value;
// naive relative comparison is unstable near zero without it (see
// https://floating-point-gui.de/errors/comparison/).
const relEpsilon = 0.1

// RelativelyEqual reports whether a and b agree within epsilon, using
// nonzeroFloor to stabilize the comparison around zero.
func RelativelyEqual(a, b, epsilon, nonzeroFloor float32) bool {
	if a == b {
		return true
	}
	absA := math.Abs(float64(a))
	absB := math.Abs(float64(b))
	diff := math.Abs(float64(a - b))

	if a == 0 || b == 0 || absA+absB < float64(nonzeroFloor) {
		// Near zero: absolute comparison against the floor.
		return diff < float64(epsilon)*float64(nonzeroFloor)
	}
	return diff/math.Min(absA+absB, math.MaxFloat32) < float64(epsilon)
}

// TensorEquals reports bitwise-value equality of two tensors of equal
// shape.
func TensorEquals(lhs, rhs *HostTensor) bool {
	a, b := lhs.Data(), rhs.Data()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TensorRelativelyEquals reports element-wise relative equality of two
// tensors of equal shape.
func TensorRelativelyEquals(lhs, rhs *HostTensor, epsilon, nonzeroFloor float32) bool {
	a, b := lhs.Data(), rhs.Data()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !RelativelyEqual(a[i], b[i], epsilon, nonzeroFloor) {
			return false
		}
	}
	return true
}

// equalityCheck compares reference against computed under the given
// mode. The nonzero floor for relative mode is the minimum normal value
// of the computed tensor's element type.
func equalityCheck(mode CheckEquality, reference, computed *HostTensor) bool {
	if mode == CheckRelative {
		return TensorRelativelyEquals(reference, computed, relEpsilon, computed.Element().MinNormal())
	}
	return TensorEquals(reference, computed)
}
