package gemmbed

import "math"

// Element identifies the logical numeric type of a tensor operand. The
// harness stores every host tensor as float32 and uses the Element tag
// to pick distribution ranges, quantize stored values to the type's
// grid, and derive comparison floors.
type Element int

const (
	ElementF32 Element = iota // IEEE binary32
	ElementF16                // IEEE binary16
	ElementBF16               // bfloat16: 8 exponent bits, 7 mantissa bits
	ElementE4M3               // 8-bit float, 4 exponent / 3 mantissa bits
	ElementE5M2               // 8-bit float, 5 exponent / 2 mantissa bits
	ElementI8                 // signed 8-bit integer
	ElementB1                 // 1-bit element
)

// String returns the conventional short name of the element type.
func (e Element) String() string {
	switch e {
	case ElementF32:
		return "f32"
	case ElementF16:
		return "f16"
	case ElementBF16:
		return "bf16"
	case ElementE4M3:
		return "e4m3"
	case ElementE5M2:
		return "e5m2"
	case ElementI8:
		return "i8"
	case ElementB1:
		return "b1"
	default:
		return "unknown"
	}
}

// Bits returns the storage width of the element type in bits.
func (e Element) Bits() int {
	switch e {
	case ElementF32:
		return 32
	case ElementF16, ElementBF16:
		return 16
	case ElementE4M3, ElementE5M2, ElementI8:
		return 8
	case ElementB1:
		return 1
	default:
		return 32
	}
}

// MinNormal returns the smallest positive normal value of the type,
// used as the nonzero floor in relative comparisons.
func (e Element) MinNormal() float32 {
	switch e {
	case ElementF32:
		return math.SmallestNonzeroFloat32 * (1 << 23) // 2^-126
	case ElementF16:
		return 1.0 / (1 << 14) // 2^-14
	case ElementBF16:
		return math.Float32frombits(0x00800000) // 2^-126
	case ElementE4M3:
		return 1.0 / (1 << 6) // 2^-6
	case ElementE5M2:
		return 1.0 / (1 << 14) // 2^-14
	case ElementI8, ElementB1:
		return 1
	default:
		return math.SmallestNonzeroFloat32
	}
}

// MaxFinite returns the largest finite value representable in the type.
func (e Element) MaxFinite() float32 {
	switch e {
	case ElementF32:
		return math.MaxFloat32
	case ElementF16:
		return 65504
	case ElementBF16:
		return math.Float32frombits(0x7F7F0000) // ~3.39e38
	case ElementE4M3:
		return 448
	case ElementE5M2:
		return 57344
	case ElementI8:
		return 127
	case ElementB1:
		return 1
	default:
		return math.MaxFloat32
	}
}

// IsNarrowFloat8 reports whether the type is one of the two 8-bit float
// kinds eligible for absolute-max reduction.
func (e Element) IsNarrowFloat8() bool {
	return e == ElementE4M3 || e == ElementE5M2
}

// Quantize rounds v to the nearest value representable in the element
// type. ElementF32 is the identity.
func (e Element) Quantize(v float32) float32 {
	switch e {
	case ElementF32:
		return v
	case ElementF16:
		return f16Round(v)
	case ElementBF16:
		return bf16Round(v)
	case ElementE4M3:
		return fp8Round(v, 4, 3, 448)
	case ElementE5M2:
		return fp8Round(v, 5, 2, 57344)
	case ElementI8:
		return clampRound(v, -128, 127)
	case ElementB1:
		if v != 0 {
			return 1
		}
		return 0
	default:
		return v
	}
}

// f16Round rounds a float32 to the binary16 grid (round to nearest
// even) and returns it re-widened. Overflow saturates to the largest
// finite binary16 value.
func f16Round(f float32) float32 {
	return fp8Round(f, 5, 10, 65504)
}

// bf16Round rounds a float32 to the bfloat16 grid, round to nearest
// even on the top 16 bits.
func bf16Round(f float32) float32 {
	bits := math.Float32bits(f)
	if bits&0x7F800000 == 0x7F800000 {
		return f
	}
	lower := bits & 0xFFFF
	bits &^= 0xFFFF
	if lower > 0x8000 || (lower == 0x8000 && (bits>>16)&1 == 1) {
		bits += 0x10000
	}
	return math.Float32frombits(bits)
}

// fp8Round rounds to a reduced-precision float grid with the given
// exponent and mantissa widths, saturating at maxFinite. It serves the
// 8-bit kinds and, with wider parameters, binary16.
func fp8Round(f float32, expBits, manBits int, maxFinite float32) float32 {
	if f != f {
		return f
	}
	if f > maxFinite {
		return maxFinite
	}
	if f < -maxFinite {
		return -maxFinite
	}
	if f == 0 {
		return 0
	}

	bias := (1 << (expBits - 1)) - 1
	af := float64(math.Abs(float64(f)))
	exp := int(math.Floor(math.Log2(af)))
	minExp := 1 - bias
	if exp < minExp {
		exp = minExp // subnormal range shares the minimum exponent
	}
	// Scale so the representable grid step becomes 1, round, scale back.
	step := math.Ldexp(1, exp-manBits)
	q := math.RoundToEven(float64(f)/step) * step
	return float32(q)
}

func clampRound(v, lo, hi float32) float32 {
	r := float32(math.RoundToEven(float64(v)))
	if r < lo {
		return lo
	}
	if r > hi {
		return hi
	}
	return r
}
