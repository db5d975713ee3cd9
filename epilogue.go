package gemmbed

import (
	"fmt"
	"io"

	"github.com/LynnColeArt/gemmbed/device"
)

// EpilogueParams are the host-side inputs and output buffers for the
// reference computation's epilogue phase. Optional tensors are nil when
// the corresponding capability is off; the reference skips them.
type EpilogueParams struct {
	Alpha, Beta float32

	// Per-(row, batch) scale vectors. When set they override the
	// scalar Alpha/Beta.
	AlphaVec, BetaVec *HostTensor

	// Per-batch scalar vectors of length L, one pair per batch
	// element. When set they override the scalar Alpha/Beta.
	AlphaBatch, BetaBatch *HostTensor

	// PerBatchBeta means the effective beta of batch l is Beta + l.
	// Device-resident scalars use it to prove the kernel reads the
	// right index.
	PerBatchBeta bool

	C                *HostTensor
	D                *HostTensor // reference output buffer
	StrideC, StrideD Stride

	ScaleA, ScaleB, ScaleC, ScaleD, ScaleAux float32

	Bias  *HostTensor
	DBias *HostTensor // reference bias-gradient accumulator

	Activation     ActivationKind
	ActivationArgs ActivationArguments

	AuxIn  *HostTensor
	AuxOut *HostTensor // reference auxiliary output buffer

	AbsMaxD   *HostTensor // 1-element reference accumulators
	AbsMaxAux *HostTensor
}

// HostEpilogue provisions the C/D operands and any fusion tensors for
// one run, exposes kernel arguments and reference buffers, and checks
// the kernel's outputs against the reference after the run.
type HostEpilogue interface {
	Initialize(problem ProblemShape, alpha, beta float32) error
	ToArgs() EpilogueArguments
	ToHostArgs(problem ProblemShape) EpilogueParams
	CompareReference(problem ProblemShape, check CheckEquality) bool
	PrintTensors(w io.Writer)
	Free()
}

// DefaultEpilogue is the host model for kernels with the plain linear
// combination epilogue D = alpha * acc + beta * C.
type DefaultEpilogue struct {
	ctx    *device.Context
	traits Traits
	initC  Distribution
	seed   uint64

	alpha, beta float32

	strideC Stride
	strideD Stride

	tensorC *HostTensor
	tensorD *HostTensor
	refD    *HostTensor
}

// NewDefaultEpilogue builds the plain epilogue host model.
func NewDefaultEpilogue(ctx *device.Context, traits Traits, initC Distribution, seed uint64) *DefaultEpilogue {
	return &DefaultEpilogue{
		ctx:    ctx,
		traits: traits,
		initC:  initC,
		seed:   seed,
	}
}

// Initialize allocates C, D and the reference-D buffer with the batch
// folded into the leading extent, fills C, and seeds reference-D with a
// copy of C.
func (e *DefaultEpilogue) Initialize(problem ProblemShape, alpha, beta float32) error {
	p := problem.Canonicalize()
	M, N, L := p.M, p.N, p.L
	e.alpha, e.beta = alpha, beta

	e.strideC = PackedStride(e.traits.LayoutC, M, N, L)
	e.strideD = PackedStride(e.traits.LayoutD, M, N, L)

	var err error
	e.tensorC, err = NewHostTensor(e.ctx, M*L, N, e.traits.LayoutC, e.traits.ElementC)
	if err != nil {
		return err
	}
	e.tensorD, err = NewHostTensor(e.ctx, M*L, N, e.traits.LayoutD, e.traits.ElementD)
	if err != nil {
		return err
	}
	e.refD, err = NewHostTensor(nil, M*L, N, e.traits.LayoutD, e.traits.ElementD)
	if err != nil {
		return err
	}

	if err := FillTensor(e.tensorC, e.initC, e.seed+2020); err != nil {
		return err
	}
	e.tensorC.Set(0, 0, 1)

	// Reference-D starts as a converted copy of C, matching the output
	// element type.
	for r := 0; r < e.tensorC.Rows(); r++ {
		for c := 0; c < e.tensorC.Cols(); c++ {
			e.refD.Set(r, c, e.tensorC.At(r, c))
		}
	}

	if err := e.tensorC.SyncDevice(); err != nil {
		return err
	}
	return e.tensorD.SyncDevice()
}

// ToArgs returns the C/D device pointers with scalar alpha/beta.
func (e *DefaultEpilogue) ToArgs() EpilogueArguments {
	return EpilogueArguments{
		C:       e.tensorC.DeviceData(),
		StrideC: e.strideC,
		D:       e.tensorD.DeviceData(),
		StrideD: e.strideD,
		Fusion: FusionArguments{
			Alpha: e.alpha,
			Beta:  e.beta,
		},
	}
}

// ToHostArgs exposes C and the reference-D buffer for the reference
// computation.
func (e *DefaultEpilogue) ToHostArgs(problem ProblemShape) EpilogueParams {
	return EpilogueParams{
		Alpha:   e.alpha,
		Beta:    e.beta,
		C:       e.tensorC,
		D:       e.refD,
		StrideC: e.strideC,
		StrideD: e.strideD,
		ScaleA:  1,
		ScaleB:  1,
		ScaleC:  1,
		ScaleD:  1,
	}
}

// CompareReference syncs the computed D back to the host and checks it
// against the reference. Norm checks are skipped for single-element
// tensors, whose norm legitimately carries no signal beyond the value.
func (e *DefaultEpilogue) CompareReference(problem ProblemShape, check CheckEquality) bool {
	if err := e.tensorD.SyncHost(); err != nil {
		log.Error().Err(err).Msg("failed to read back D")
		return false
	}

	passed := true
	if e.tensorC.Size() > 1 && e.tensorC.Norm() <= 0 {
		log.Error().Msg("operand C has zero norm")
		passed = false
	}
	if e.tensorD.Size() > 1 && e.tensorD.Norm() <= 0 {
		log.Error().Msg("computed D has zero norm")
		passed = false
	}
	if e.refD.Size() > 1 && e.refD.Norm() <= 0 {
		log.Error().Msg("reference D has zero norm")
		passed = false
	}
	if !equalityCheck(check, e.refD, e.tensorD) {
		log.Error().Msg("D does not match reference")
		passed = false
	}
	return passed
}

// PrintTensors writes C, the computed D, and the reference D.
func (e *DefaultEpilogue) PrintTensors(w io.Writer) {
	fmt.Fprintf(w, "C =\n")
	writeTensor(w, e.tensorC)
	fmt.Fprintf(w, "\nD =\n")
	writeTensor(w, e.tensorD)
	fmt.Fprintf(w, "\nReference =\n")
	writeTensor(w, e.refD)
}

// Free releases the device mirrors.
func (e *DefaultEpilogue) Free() {
	e.tensorC.Free()
	e.tensorD.Free()
}
