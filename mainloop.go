package gemmbed

import (
	"fmt"
	"io"

	"github.com/LynnColeArt/gemmbed/device"
)

// kDefaultSeed seeds every distribution draw unless the caller
// overrides it. Operand-specific offsets (A: +2022, B: +2021, C: +2020,
// bias/mask: +2023...) decorrelate the operands from one another.
const kDefaultSeed uint64 = 4096

// MainloopParams are the host-side views of the A/B operands handed to
// the reference computation, with their complex-transform tags.
type MainloopParams struct {
	A, B             *HostTensor
	StrideA, StrideB Stride
	TransformA       ComplexTransform
	TransformB       ComplexTransform
}

// HostMainloop provisions the A/B input operands for one run: it
// allocates and initializes them, exposes kernel-ready arguments and
// host reference views, and sanity-checks them after the run.
type HostMainloop interface {
	Initialize(problem ProblemShape) error
	ToArgs() MainloopArguments
	ToHostArgs(problem ProblemShape) MainloopParams
	CompareReference(problem ProblemShape) bool
	PrintTensors(w io.Writer)
	Free()
}

// DenseMainloop is the host model for dense A/B operands.
type DenseMainloop struct {
	ctx    *device.Context
	traits Traits

	initA Distribution
	initB Distribution
	seed  uint64

	strideA Stride
	strideB Stride

	tensorA *HostTensor
	tensorB *HostTensor
}

// NewDenseMainloop builds a dense operand provisioner for the given
// kernel traits.
func NewDenseMainloop(ctx *device.Context, traits Traits, initA, initB Distribution, seed uint64) *DenseMainloop {
	return &DenseMainloop{
		ctx:    ctx,
		traits: traits,
		initA:  initA,
		initB:  initB,
		seed:   seed,
	}
}

// Initialize computes packed strides for A (M x K x L) and B
// (N x K x L), allocates host+device tensors with the batch folded into
// the leading extent, fills them, and syncs to device. Any failure is
// fatal to the run and propagates.
func (m *DenseMainloop) Initialize(problem ProblemShape) error {
	p := problem.Canonicalize()
	M, N, K, L := p.M, p.N, p.K, p.L

	m.strideA = PackedStride(m.traits.LayoutA, M, K, L)
	m.strideB = PackedStride(m.traits.LayoutB, N, K, L)

	// The host tensor has no native batch mode, so the batch is folded
	// into the outer extent. B is held K x (N*L): the layouts refer to
	// the M x K by K x N product.
	var err error
	m.tensorA, err = NewHostTensor(m.ctx, M*L, K, m.traits.LayoutA, m.traits.ElementA)
	if err != nil {
		return err
	}
	m.tensorB, err = NewHostTensor(m.ctx, K, N*L, m.traits.LayoutB, m.traits.ElementB)
	if err != nil {
		return err
	}

	if err := FillTensor(m.tensorA, m.initA, m.seed+2022); err != nil {
		return err
	}
	if err := FillTensor(m.tensorB, m.initB, m.seed+2021); err != nil {
		return err
	}

	// A random draw can come out all zeros; force the upper-left corner
	// of each operand non-zero so the comparison cannot degenerate.
	m.tensorA.Set(0, 0, 1)
	m.tensorB.Set(0, 0, 1)

	if err := m.tensorA.SyncDevice(); err != nil {
		return err
	}
	if err := m.tensorB.SyncDevice(); err != nil {
		return err
	}
	return nil
}

// ToArgs returns device pointers and strides in the kernel's expected
// argument shape.
func (m *DenseMainloop) ToArgs() MainloopArguments {
	return MainloopArguments{
		A:       m.tensorA.DeviceData(),
		StrideA: m.strideA,
		B:       m.tensorB.DeviceData(),
		StrideB: m.strideB,
	}
}

// ToHostArgs returns host tensor views wrapped with the kernel's
// complex-transform tags for the reference computation.
func (m *DenseMainloop) ToHostArgs(problem ProblemShape) MainloopParams {
	return MainloopParams{
		A:          m.tensorA,
		B:          m.tensorB,
		StrideA:    m.strideA,
		StrideB:    m.strideB,
		TransformA: m.traits.TransformA,
		TransformB: m.traits.TransformB,
	}
}

// CompareReference is a basic sanity check: each operand's norm must be
// nonzero. It does not validate kernel output.
func (m *DenseMainloop) CompareReference(problem ProblemShape) bool {
	passed := true
	if m.tensorA.Norm() <= 0 {
		log.Error().Msg("operand A has zero norm")
		passed = false
	}
	if m.tensorB.Norm() <= 0 {
		log.Error().Msg("operand B has zero norm")
		passed = false
	}
	return passed
}

// PrintTensors writes the operands in human-readable form.
func (m *DenseMainloop) PrintTensors(w io.Writer) {
	fmt.Fprintf(w, "A =\n")
	writeTensor(w, m.tensorA)
	fmt.Fprintf(w, "\nB =\n")
	writeTensor(w, m.tensorB)
}

// Free releases the operands' device mirrors.
func (m *DenseMainloop) Free() {
	m.tensorA.Free()
	m.tensorB.Free()
}
