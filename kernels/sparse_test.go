package kernels

import (
	"testing"

	"github.com/LynnColeArt/gemmbed"
	"github.com/LynnColeArt/gemmbed/device"
)

// decodeA reconstructs one dense element from the compressed operand and
// its metadata, the same way the sparse kernel's A reader does.
func decodeA(cfg gemmbed.SparseConfig, layout gemmbed.Layout,
	comp, meta []float32, problem gemmbed.ProblemShape, m, k, l int) float32 {

	M, K, L := problem.M, problem.K, problem.L
	mComp := cfg.CompressedMPhysical(M)
	kComp := cfg.CompressedKPhysical(K)
	mMeta := cfg.MetadataMPhysical(M)
	kMeta := cfg.MetadataKPhysical(K)

	g := k / cfg.GroupK
	pos := k % cfg.GroupK
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

func TestCompressorRoundTrip(t *testing.T) {
	for _, layout := range []gemmbed.Layout{gemmbed.RowMajor, gemmbed.ColMajor} {
		ctx := device.NewContext(device.Default())
		defer ctx.Destroy()

		cfg := NewSparseConfig(layout)
		problem := gemmbed.ProblemShape{M: 12, N: 1, K: 24, L: 2}
		M, K, L := problem.M, problem.K, problem.L

		dense, err := gemmbed.NewHostTensor(ctx, M*L, K, layout, gemmbed.ElementF32)
		if err != nil {
			t.Fatal(err)
		}
		if err := gemmbed.FillTensor(dense, gemmbed.DistUniform, 4096); err != nil {
			t.Fatal(err)
		}
		cfg.ZeroMaskFill(dense, 4099)
		if err := dense.SyncDevice(); err != nil {
			t.Fatal(err)
		}

		mComp := cfg.CompressedMPhysical(M)
		kComp := cfg.CompressedKPhysical(K)
		mMeta := cfg.MetadataMPhysical(M)
		kMeta := cfg.MetadataKPhysical(K)
		comp, err := ctx.Malloc(mComp * L * kComp * 4)
		if err != nil {
			t.Fatal(err)
		}
		meta, err := ctx.Malloc(mMeta * L * kMeta * 4)
		if err != nil {
			t.Fatal(err)
		}

		compressor := cfg.NewCompressor(ctx)
		args := gemmbed.CompressorArguments{
			Problem:     problem,
			A:           dense.DeviceData(),
			ACompressed: comp,
			E:           meta,
		}
		if st := compressor.CanImplement(args); st != gemmbed.StatusSuccess {
			t.Fatalf("CanImplement = %s", st)
		}
		if st := compressor.Initialize(args, device.DevicePtr{}); st != gemmbed.StatusSuccess {
			t.Fatalf("Initialize = %s", st)
		}
		if st := compressor.Run(); st != gemmbed.StatusSuccess {
			t.Fatalf("Run = %s", st)
		}
		if err := ctx.Synchronize(); err != nil {
			t.Fatal(err)
		}

		compBuf := comp.Float32()
		metaBuf := meta.Float32()
		for l := 0; l < L; l++ {
			for m := 0; m < M; m++ {
				for k := 0; k < K; k++ {
					want := dense.At(l*M+m, k)
					got := decodeA(*cfg, layout, compBuf, metaBuf, problem, m, k, l)
					if got != want {
						t.Fatalf("layout %s element (%d,%d,%d): decoded %v, want %v",
							layout, m, k, l, got, want)
					}
				}
			}
		}
	}
}

func TestCompressorRejectsRaggedK(t *testing.T) {
	ctx := device.NewContext(device.Default())
	defer ctx.Destroy()

	cfg := NewSparseConfig(gemmbed.RowMajor)
	buf, err := ctx.Malloc(64)
	if err != nil {
		t.Fatal(err)
	}
	args := gemmbed.CompressorArguments{
		Problem:     gemmbed.ProblemShape{M: 4, N: 4, K: 6, L: 1},
		A:           buf,
		ACompressed: buf,
		E:           buf,
	}
	if st := cfg.NewCompressor(ctx).CanImplement(args); st != gemmbed.StatusErrorInvalidProblem {
		t.Errorf("CanImplement = %s, want ErrorInvalidProblem", st)
	}
}
