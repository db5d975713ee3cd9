package gemmbed

import (
	"fmt"
	"io"

	"github.com/LynnColeArt/gemmbed/device"
)

// SparseMainloop is the host model for structured-sparse kernels. It
// provisions dense A and B like the dense mainloop, then applies the
// structured zero mask to A and runs the compression transform to
// produce the compressed operand and its metadata before the GEMM
// launch. The dense copy of A stays resident so the reference
// computation never depends on decompression.
type SparseMainloop struct {
	ctx    *device.Context
	traits Traits
	config SparseConfig

	initA Distribution
	initB Distribution
	seed  uint64

	strideA           Stride
	strideB           Stride
	strideACompressed Stride
	strideE           Stride

	tensorA     *HostTensor
	tensorB     *HostTensor
	tensorAComp *HostTensor
	tensorE     *HostTensor
}

// NewSparseMainloop builds a sparse operand provisioner. The traits
// must declare a SparseConfig.
func NewSparseMainloop(ctx *device.Context, traits Traits, initA, initB Distribution, seed uint64) *SparseMainloop {
	return &SparseMainloop{
		ctx:    ctx,
		traits: traits,
		config: *traits.Sparse,
		initA:  initA,
		initB:  initB,
		seed:   seed,
	}
}

// Initialize fills dense A and B, masks A to the structured pattern,
// allocates compressed-A and metadata tensors at their aligned physical
// extents, and runs the compressor. Any compressor status other than
// success aborts provisioning.
func (m *SparseMainloop) Initialize(problem ProblemShape) error {
	p := problem.Canonicalize()
	M, N, K, L := p.M, p.N, p.K, p.L

	m.strideA = PackedStride(m.traits.LayoutA, M, K, L)
	m.strideB = PackedStride(m.traits.LayoutB, N, K, L)

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
	m.tensorA.Set(0, 0, 1)
	m.tensorB.Set(0, 0, 1)

	// The mask runs after the corner force so the surviving pattern is
	// exactly what the compressor sees.
	m.config.ZeroMaskFill(m.tensorA, m.seed+2023)

	mComp := m.config.CompressedMPhysical(M)
	kComp := m.config.CompressedKPhysical(K)
	mMeta := m.config.MetadataMPhysical(M)
	kMeta := m.config.MetadataKPhysical(K)

	m.strideACompressed = PackedStride(m.traits.LayoutA, mComp, kComp, L)
	m.strideE = PackedStride(m.traits.LayoutA, mMeta, kMeta, L)

	m.tensorAComp, err = NewHostTensor(m.ctx, mComp*L, kComp, m.traits.LayoutA, m.traits.ElementA)
	if err != nil {
		return err
	}
	m.tensorE, err = NewHostTensor(m.ctx, mMeta*L, kMeta, m.traits.LayoutA, m.traits.ElementE)
	if err != nil {
		return err
	}

	if err := m.tensorA.SyncDevice(); err != nil {
		return err
	}
	if err := m.tensorB.SyncDevice(); err != nil {
		return err
	}
	if err := m.tensorAComp.SyncDevice(); err != nil {
		return err
	}
	if err := m.tensorE.SyncDevice(); err != nil {
		return err
	}

	if err := m.compress(p); err != nil {
		return err
	}

	// The compressed operands are read back so error dumps show what
	// the kernel actually consumed.
	if err := m.tensorAComp.SyncHost(); err != nil {
		return err
	}
	return m.tensorE.SyncHost()
}

func (m *SparseMainloop) compress(p ProblemShape) error {
	if m.config.NewCompressor == nil {
		return NewInvalidArgError("SparseMainloop.compress", "sparse config has no compressor")
	}
	comp := m.config.NewCompressor(m.ctx)

	args := CompressorArguments{
		Problem:     p,
		A:           m.tensorA.DeviceData(),
		StrideA:     m.strideA,
		ACompressed: m.tensorAComp.DeviceData(),
		E:           m.tensorE.DeviceData(),
		Hardware: HardwareInfo{
			DeviceID: m.ctx.Device().ID,
			SMCount:  m.ctx.Device().SMCount,
		},
	}

	if status := comp.CanImplement(args); status != StatusSuccess {
		return NewExecutionError("SparseMainloop.compress",
			fmt.Sprintf("compressor cannot implement arguments: %s", status), nil)
	}

	var workspace device.DevicePtr
	if ws := comp.WorkspaceSize(args); ws > 0 {
		var err error
		workspace, err = m.ctx.Malloc(ws)
		if err != nil {
			return err
		}
		defer m.ctx.Free(workspace)
	}

	if status := comp.Initialize(args, workspace); status != StatusSuccess {
		return NewExecutionError("SparseMainloop.compress",
			fmt.Sprintf("compressor initialization failed: %s", status), nil)
	}
	if status := comp.Run(); status != StatusSuccess {
		return NewExecutionError("SparseMainloop.compress",
			fmt.Sprintf("compressor run failed: %s", status), nil)
	}
	return m.ctx.Synchronize()
}

// ToArgs hands the kernel the compressed operand and metadata in place
// of dense A.
func (m *SparseMainloop) ToArgs() MainloopArguments {
	return MainloopArguments{
		A:                 m.tensorAComp.DeviceData(),
		StrideA:           m.strideA,
		B:                 m.tensorB.DeviceData(),
		StrideB:           m.strideB,
		E:                 m.tensorE.DeviceData(),
		StrideACompressed: m.strideACompressed,
		StrideE:           m.strideE,
	}
}

// ToHostArgs exposes the masked dense A, so the reference path computes
// on the exact values the kernel reconstructs.
func (m *SparseMainloop) ToHostArgs(problem ProblemShape) MainloopParams {
	return MainloopParams{
		A:          m.tensorA,
		B:          m.tensorB,
		StrideA:    m.strideA,
		StrideB:    m.strideB,
		TransformA: m.traits.TransformA,
		TransformB: m.traits.TransformB,
	}
}

// CompareReference checks the operand norms, including the compressed
// tensors produced by the transform.
func (m *SparseMainloop) CompareReference(problem ProblemShape) bool {
	passed := true
	if m.tensorA.Norm() <= 0 {
		log.Error().Msg("operand A has zero norm")
		passed = false
	}
	if m.tensorB.Norm() <= 0 {
		log.Error().Msg("operand B has zero norm")
		passed = false
	}
	if m.tensorAComp.Norm() <= 0 {
		log.Error().Msg("compressed operand A has zero norm")
		passed = false
	}
	return passed
}

// PrintTensors writes dense A, B, and the compression outputs.
func (m *SparseMainloop) PrintTensors(w io.Writer) {
	fmt.Fprintf(w, "A =\n")
	writeTensor(w, m.tensorA)
	fmt.Fprintf(w, "\nB =\n")
	writeTensor(w, m.tensorB)
	fmt.Fprintf(w, "\nA_compressed =\n")
	writeTensor(w, m.tensorAComp)
	fmt.Fprintf(w, "\nE =\n")
	writeTensor(w, m.tensorE)
}

// Free releases all operand device mirrors.
func (m *SparseMainloop) Free() {
	m.tensorA.Free()
	m.tensorB.Free()
	m.tensorAComp.Free()
	m.tensorE.Free()
}
