package gemmbed

import "testing"

func TestPackedStride(t *testing.T) {
	s := PackedStride(RowMajor, 4, 6, 2)
	if s.Row != 6 || s.Col != 1 || s.Batch != 24 {
		t.Errorf("row-major stride = %+v", s)
	}
	s = PackedStride(ColMajor, 4, 6, 2)
	if s.Row != 1 || s.Col != 4 || s.Batch != 24 {
		t.Errorf("col-major stride = %+v", s)
	}
}

func TestProblemShapeString(t *testing.T) {
	p := ProblemShape{M: 128, N: 256, K: 64}
	if got := p.String(); got != "128x256x64x1" {
		t.Errorf("shape string = %q", got)
	}
	p.L = 3
	if got := p.String(); got != "128x256x64x3" {
		t.Errorf("batched shape string = %q", got)
	}
}

func TestProblemShapeValidate(t *testing.T) {
	if err := (ProblemShape{M: 8, N: 8, K: 8}).Validate(); err != nil {
		t.Errorf("valid shape rejected: %v", err)
	}
	if err := (ProblemShape{M: 0, N: 8, K: 8}).Validate(); err == nil {
		t.Error("zero M accepted")
	}
	if err := (ProblemShape{M: 8, N: 8, K: -1}).Validate(); err == nil {
		t.Error("negative K accepted")
	}
}

func TestHostTensorIndexing(t *testing.T) {
	rm, err := NewHostTensor(nil, 3, 4, RowMajor, ElementF32)
	if err != nil {
		t.Fatal(err)
	}
	rm.Set(1, 2, 7)
	if rm.AtRaw(1*4+2) != 7 {
		t.Error("row-major index mismatch")
	}
	if rm.At(1, 2) != 7 {
		t.Error("row-major readback mismatch")
	}

	cm, err := NewHostTensor(nil, 3, 4, ColMajor, ElementF32)
	if err != nil {
		t.Fatal(err)
	}
	cm.Set(1, 2, 7)
	if cm.AtRaw(2*3+1) != 7 {
		t.Error("col-major index mismatch")
	}
	if cm.At(1, 2) != 7 {
		t.Error("col-major readback mismatch")
	}
}

func TestHostTensorSetQuantizes(t *testing.T) {
	tn, err := NewHostTensor(nil, 2, 2, RowMajor, ElementF16)
	if err != nil {
		t.Fatal(err)
	}
	tn.Set(0, 0, 70000)
	if got := tn.At(0, 0); got != 65504 {
		t.Errorf("f16 tensor stored %v, want saturated 65504", got)
	}
	tn.SetRaw(1, 1.0+1.0/2048)
	if got := tn.AtRaw(1); got != 1.0 {
		t.Errorf("f16 tensor stored %v, want 1", got)
	}
}

func TestHostTensorNorm(t *testing.T) {
	tn, err := NewHostTensor(nil, 1, 2, RowMajor, ElementF32)
	if err != nil {
		t.Fatal(err)
	}
	tn.Set(0, 0, 3)
	tn.Set(0, 1, 4)
	if got := tn.Norm(); got != 5 {
		t.Errorf("norm = %v, want 5", got)
	}
}

func TestHostOnlyTensorSync(t *testing.T) {
	tn, err := NewHostVector(nil, 4, ElementF32)
	if err != nil {
		t.Fatal(err)
	}
	if tn.HasDevice() {
		t.Error("host-only tensor claims a device mirror")
	}
	if err := tn.SyncDevice(); err != nil {
		t.Errorf("SyncDevice on host-only tensor: %v", err)
	}
	if err := tn.SyncHost(); err != nil {
		t.Errorf("SyncHost on host-only tensor: %v", err)
	}
	tn.Free()
}
