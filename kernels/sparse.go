package kernels

import (
	"github.com/LynnColeArt/gemmbed"
	"github.com/LynnColeArt/gemmbed/device"
)

// NewSparseConfig returns the canonical 2:4 structured sparsity scheme
// wired to the in-tree compressor. The metadata element encodes the
// kept in-group indices base-GroupK, least significant digit first.
func NewSparseConfig(layoutA gemmbed.Layout) *gemmbed.SparseConfig {
	cfg := &gemmbed.SparseConfig{
		GroupK:           4,
		KeepK:            2,
		AlignCompressedM: 8,
		AlignCompressedK: 8,
		AlignMetadataM:   16,
		AlignMetadataK:   8,
	}
	cfg.NewCompressor = func(ctx *device.Context) gemmbed.Compressor {
		return &structuredCompressor{ctx: ctx, config: *cfg, layout: layoutA}
	}
	return cfg
}

// structuredCompressor produces (compressed A, metadata E) from a
// masked dense A. Nonzero positions are kept in ascending index order;
// groups with fewer nonzeros than KeepK are padded with the lowest
// unused indices, so reconstruction is exact for any input obeying the
// sparsity pattern.
type structuredCompressor struct {
	ctx    *device.Context
	config gemmbed.SparseConfig
	layout gemmbed.Layout

	args  gemmbed.CompressorArguments
	ready bool
}

func (c *structuredCompressor) CanImplement(args gemmbed.CompressorArguments) gemmbed.Status {
	p := args.Problem.Canonicalize()
	if p.K%c.config.GroupK != 0 {
		return gemmbed.StatusErrorInvalidProblem
	}
	if args.A.IsNil() || args.ACompressed.IsNil() || args.E.IsNil() {
		return gemmbed.StatusErrorInvalidProblem
	}
	return gemmbed.StatusSuccess
}

func (c *structuredCompressor) WorkspaceSize(args gemmbed.CompressorArguments) int {
	return 0
}

func (c *structuredCompressor) Initialize(args gemmbed.CompressorArguments, workspace device.DevicePtr) gemmbed.Status {
	if st := c.CanImplement(args); st != gemmbed.StatusSuccess {
		return st
	}
	c.args = args
	c.args.Problem = args.Problem.Canonicalize()
	c.ready = true
	return gemmbed.StatusSuccess
}

// Run compresses one dense row per execution unit.
func (c *structuredCompressor) Run() gemmbed.Status {
	if !c.ready {
		return gemmbed.StatusErrorInternal
	}
	p := c.args.Problem
	grid := device.Dim3{X: p.M * p.L, Y: 1, Z: 1}
	one := device.Dim3{X: 1, Y: 1, Z: 1}
	if err := c.ctx.Launch(c.compressRow, grid, one); err != nil {
		return gemmbed.StatusErrorInternal
	}
	return gemmbed.StatusSuccess
}

func (c *structuredCompressor) compressRow(tid device.ThreadID) {
	cfg := c.config
	p := c.args.Problem
	M, K, L := p.M, p.K, p.L

	mComp := cfg.CompressedMPhysical(M)
	kComp := cfg.CompressedKPhysical(K)
	mMeta := cfg.MetadataMPhysical(M)
	kMeta := cfg.MetadataKPhysical(K)

	dense := c.args.A.Float32()
	comp := c.args.ACompressed.Float32()
	meta := c.args.E.Float32()

	r := tid.Global()
	l := r / M
	m := r % M

	kept := make([]int, 0, cfg.KeepK)
	for g := 0; g < K/cfg.GroupK; g++ {
		base := g * cfg.GroupK

		kept = kept[:0]
		for i := 0; i < cfg.GroupK && len(kept) < cfg.KeepK; i++ {
			v := dense[operandIndex(c.layout, M*L, K, l*M+m, base+i)]
			if v != 0 {
				kept = append(kept, i)
			}
		}
		// Pad with the lowest unused indices; the padded slots carry
		// zeros either way.
		for i := 0; len(kept) < cfg.KeepK; i++ {
			if !contains(kept, i) {
				kept = append(kept, i)
			}
		}

		code := 0
		for j := cfg.KeepK - 1; j >= 0; j-- {
			code = code*cfg.GroupK + kept[j]
		}
		meta[operandIndex(c.layout, mMeta*L, kMeta, l*mMeta+m, g)] = float32(code)

		for j, idx := range kept {
			v := dense[operandIndex(c.layout, M*L, K, l*M+m, base+idx)]
			comp[operandIndex(c.layout, mComp*L, kComp, l*mComp+m, g*cfg.KeepK+j)] = v
		}
	}
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// SparseKernel is the structured-sparse GEMM: the dense kernel's
// schedule and epilogue with an A reader that reconstructs elements
// from the compressed operand and its metadata.
type SparseKernel struct {
	*DenseKernel
}

// NewSparseKernel builds a sparse kernel. The traits must declare a
// SparseConfig.
func NewSparseKernel(ctx *device.Context, traits gemmbed.Traits) *SparseKernel {
	return &SparseKernel{DenseKernel: NewDenseKernel(ctx, traits)}
}

// CanImplement adds the structured-sparsity constraints to the dense
// checks: K must tile into groups and the metadata operand must be
// present.
func (k *SparseKernel) CanImplement(args gemmbed.Arguments) gemmbed.Status {
	cfg := k.traits.Sparse
	p := args.Problem.Canonicalize()
	if p.K%cfg.GroupK != 0 {
		return gemmbed.StatusErrorInvalidProblem
	}
	if args.Mainloop.E.IsNil() {
		return gemmbed.StatusErrorWorkspaceNull
	}
	return k.DenseKernel.CanImplement(args)
}

// Initialize plans the dense schedule, then swaps in the decompressing
// A reader.
func (k *SparseKernel) Initialize(args gemmbed.Arguments, workspace device.DevicePtr) gemmbed.Status {
	if st := k.DenseKernel.Initialize(args, workspace); st != gemmbed.StatusSuccess {
		return st
	}

	cfg := *k.traits.Sparse
	p := k.args.Problem
	M, K, L := p.M, p.K, p.L
	mComp := cfg.CompressedMPhysical(M)
	kComp := cfg.CompressedKPhysical(K)
	mMeta := cfg.MetadataMPhysical(M)
	kMeta := cfg.MetadataKPhysical(K)

	comp := k.args.Mainloop.A.Float32()
	meta := k.args.Mainloop.E.Float32()
	layout := k.traits.LayoutA

	k.readA = func(m, kk, l int) float32 {
		g := kk / cfg.GroupK
		pos := kk % cfg.GroupK
		code := int(meta[operandIndex(layout, mMeta*L, kMeta, l*mMeta+m, g)])
		for j := 0; j < cfg.KeepK; j++ {
			idx := code % cfg.GroupK
			code /= cfg.GroupK
			if idx == pos {
				return comp[operandIndex(layout, mComp*L, kComp, l*mComp+m, g*cfg.KeepK+j)]
			}
		}
		return 0
	}
	return gemmbed.StatusSuccess
}
