package gemmbed

import "testing"

func TestRelativelyEqual(t *testing.T) {
	cases := []struct {
		a, b  float32
		floor float32
		want  bool
	}{
		{1, 1, 1e-6, true},
		{100, 104, 1e-6, true},   // 4/204 < 0.1
		{100, 125, 1e-6, false},  // 25/225 > 0.1
		{-100, -104, 1e-6, true},
		{0, 0, 1e-6, true},
		{0, 1e-8, 1e-6, true},    // below the floor
		{0, 1e-3, 1e-6, false},   // above floor times epsilon
		{1e-8, -1e-8, 1e-6, true},
	}
	for _, c := range cases {
		if got := RelativelyEqual(c.a, c.b, relEpsilon, c.floor); got != c.want {
			t.Errorf("RelativelyEqual(%v, %v, floor=%v) = %v, want %v",
				c.a, c.b, c.floor, got, c.want)
		}
	}
}

func TestTensorEquals(t *testing.T) {
	a, _ := NewHostTensor(nil, 2, 2, RowMajor, ElementF32)
	b, _ := NewHostTensor(nil, 2, 2, RowMajor, ElementF32)
	for i := 0; i < 4; i++ {
		a.SetRaw(i, float32(i))
		b.SetRaw(i, float32(i))
	}
	if !TensorEquals(a, b) {
		t.Error("identical tensors compare unequal")
	}
	b.SetRaw(3, 99)
	if TensorEquals(a, b) {
		t.Error("differing tensors compare equal")
	}

	short, _ := NewHostTensor(nil, 1, 2, RowMajor, ElementF32)
	if TensorEquals(a, short) {
		t.Error("mismatched shapes compare equal")
	}
}

func TestTensorRelativelyEquals(t *testing.T) {
	a, _ := NewHostTensor(nil, 1, 3, RowMajor, ElementF32)
	b, _ := NewHostTensor(nil, 1, 3, RowMajor, ElementF32)
	a.SetRaw(0, 100)
	b.SetRaw(0, 103)
	a.SetRaw(1, -8)
	b.SetRaw(1, -8.2)
	if !TensorRelativelyEquals(a, b, relEpsilon, ElementF32.MinNormal()) {
		t.Error("tensors within tolerance compare unequal")
	}
	b.SetRaw(2, 50)
	if TensorRelativelyEquals(a, b, relEpsilon, ElementF32.MinNormal()) {
		t.Error("tensors outside tolerance compare equal")
	}
}

func TestEqualityCheckModes(t *testing.T) {
	a, _ := NewHostTensor(nil, 1, 1, RowMajor, ElementF32)
	b, _ := NewHostTensor(nil, 1, 1, RowMajor, ElementF32)
	a.SetRaw(0, 1.0)
	b.SetRaw(0, 1.0+1e-4)
	if equalityCheck(CheckExact, a, b) {
		t.Error("exact mode accepted a perturbed value")
	}
	if !equalityCheck(CheckRelative, a, b) {
		t.Error("relative mode rejected a value within tolerance")
	}
}
