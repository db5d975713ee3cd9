package gemmbed_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gemmbed "github.com/LynnColeArt/gemmbed"
	"github.com/LynnColeArt/gemmbed/device"
	"github.com/LynnColeArt/gemmbed/kernels"
)

func f32Traits(name string) gemmbed.Traits {
	return gemmbed.Traits{
		Name:           name,
		ElementA:       gemmbed.ElementF32,
		ElementB:       gemmbed.ElementF32,
		ElementC:       gemmbed.ElementF32,
		ElementD:       gemmbed.ElementF32,
		LayoutA:        gemmbed.RowMajor,
		LayoutB:        gemmbed.RowMajor,
		LayoutC:        gemmbed.RowMajor,
		LayoutD:        gemmbed.RowMajor,
		AlignmentA:     1,
		AlignmentB:     1,
		Tile:           gemmbed.TileShape{M: 16, N: 16, K: 8},
		Stages:         2,
		BatchSupported: true,
	}
}

func newCtx(t *testing.T) *device.Context {
	t.Helper()
	ctx := device.NewContext(device.Default())
	t.Cleanup(ctx.Destroy)
	return ctx
}

func TestDenseKernelMatchesReference(t *testing.T) {
	ctx := newCtx(t)
	kernel := kernels.NewDenseKernel(ctx, f32Traits("dense_f32"))
	testbed, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{})
	require.NoError(t, err)

	passed, err := testbed.RunSimple(gemmbed.ProblemShape{M: 33, N: 27, K: 19}, 2, 0.5)
	require.NoError(t, err)
	assert.True(t, passed, "data-parallel run must match the reference bitwise")
}

func TestDenseKernelColMajorOperands(t *testing.T) {
	ctx := newCtx(t)
	traits := f32Traits("dense_f32_cm")
	traits.LayoutA = gemmbed.ColMajor
	traits.LayoutB = gemmbed.ColMajor
	traits.LayoutC = gemmbed.ColMajor
	traits.LayoutD = gemmbed.ColMajor
	kernel := kernels.NewDenseKernel(ctx, traits)
	testbed, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{})
	require.NoError(t, err)

	passed, err := testbed.RunSimple(gemmbed.ProblemShape{M: 21, N: 34, K: 17}, 1, 1)
	require.NoError(t, err)
	assert.True(t, passed)
}

func TestDenseKernelBatched(t *testing.T) {
	ctx := newCtx(t)
	kernel := kernels.NewDenseKernel(ctx, f32Traits("dense_f32_batched"))
	testbed, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{})
	require.NoError(t, err)

	passed, err := testbed.RunSimple(gemmbed.ProblemShape{M: 20, N: 18, K: 11, L: 3}, 1, 2)
	require.NoError(t, err)
	assert.True(t, passed)
}

func TestStreamKSplitCountInvariance(t *testing.T) {
	ctx := newCtx(t)
	traits := f32Traits("streamk_f32")
	traits.Scheduler = gemmbed.SchedulerStreamK

	kernel := kernels.NewDenseKernel(ctx, traits)
	// All-ones operands keep every partial sum an exact integer, so the
	// split reduction cannot introduce rounding differences.
	testbed, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{
		InitA: gemmbed.DistAllOnes,
		InitB: gemmbed.DistAllOnes,
	})
	require.NoError(t, err)

	problem := gemmbed.ProblemShape{M: 32, N: 32, K: 72}
	for _, splits := range []gemmbed.Splits{1, 2, 4, 9, 100} {
		passed, err := testbed.Run(problem, 1.5, 0.25,
			gemmbed.RasterAlongM, gemmbed.DecompSplitK,
			splits, gemmbed.MaxSwizzleSize(1), gemmbed.Iterations(0))
		require.NoError(t, err)
		assert.True(t, passed, "splits=%d", splits)
	}
}

func TestStreamKDecompositionModes(t *testing.T) {
	ctx := newCtx(t)
	traits := f32Traits("streamk_modes")
	traits.Scheduler = gemmbed.SchedulerStreamK

	kernel := kernels.NewDenseKernel(ctx, traits)
	testbed, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{
		InitA: gemmbed.DistAllOnes,
		InitB: gemmbed.DistAllOnes,
	})
	require.NoError(t, err)

	// A single output tile with many K tiles drives the stream-K
	// heuristic into splitting.
	problem := gemmbed.ProblemShape{M: 16, N: 16, K: 256}
	for _, decomp := range []gemmbed.DecompositionMode{
		gemmbed.DecompHeuristic, gemmbed.DecompDataParallel,
		gemmbed.DecompSplitK, gemmbed.DecompStreamK,
	} {
		passed, err := testbed.Run(problem, 1, 1,
			gemmbed.RasterAlongN, decomp,
			gemmbed.Splits(3), gemmbed.MaxSwizzleSize(2), gemmbed.Iterations(0))
		require.NoError(t, err)
		assert.True(t, passed, "decomposition %s", decomp)
	}
}

func TestFusionBiasActivation(t *testing.T) {
	ctx := newCtx(t)
	traits := f32Traits("fusion_bias_relu")
	traits.ElementBias = gemmbed.ElementF32
	traits.ElementAmax = gemmbed.ElementF32
	traits.Fusion = &gemmbed.FusionCaps{
		PerRowBias:  true,
		DeBias:      true,
		ScaleFactor: true,
		Activation:  gemmbed.ActReLU,
	}

	kernel := kernels.NewDenseKernel(ctx, traits)
	testbed, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{})
	require.NoError(t, err)

	passed, err := testbed.RunSimple(gemmbed.ProblemShape{M: 24, N: 17, K: 13}, 1, 1)
	require.NoError(t, err)
	assert.True(t, passed, "bias+relu fusion must match the reference")
}

func TestFusionAbsMaxNarrowOutput(t *testing.T) {
	ctx := newCtx(t)
	traits := f32Traits("fusion_fp8_amax")
	traits.ElementD = gemmbed.ElementE4M3
	traits.ElementAux = gemmbed.ElementE5M2
	traits.ElementAmax = gemmbed.ElementF32
	traits.LayoutAux = gemmbed.RowMajor
	traits.Fusion = &gemmbed.FusionCaps{
		ScaleFactor: true,
		AuxOut:      true,
		AbsMax:      true,
	}

	kernel := kernels.NewDenseKernel(ctx, traits)
	testbed, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{})
	require.NoError(t, err)

	passed, err := testbed.RunSimple(gemmbed.ProblemShape{M: 19, N: 23, K: 9}, 1, 0.5)
	require.NoError(t, err)
	assert.True(t, passed, "fp8 output with abs-max tracking must match the reference")
}

func TestFusionDeviceScalarsBatched(t *testing.T) {
	ctx := newCtx(t)
	traits := f32Traits("fusion_device_scalars")
	traits.ElementAmax = gemmbed.ElementF32
	traits.Fusion = &gemmbed.FusionCaps{}

	kernel := kernels.NewDenseKernel(ctx, traits)
	testbed, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{
		ScalarLoc: gemmbed.ScalarOnDevice,
	})
	require.NoError(t, err)

	// Device-resident beta is perturbed per batch; a kernel that reads
	// the wrong batch index cannot pass.
	passed, err := testbed.RunSimple(gemmbed.ProblemShape{M: 14, N: 10, K: 8, L: 3}, 2, 1)
	require.NoError(t, err)
	assert.True(t, passed)
}

func TestFusionPerBatchDeviceScalars(t *testing.T) {
	ctx := newCtx(t)
	traits := f32Traits("fusion_batch_scalars")
	traits.ElementAmax = gemmbed.ElementF32
	traits.Fusion = &gemmbed.FusionCaps{PerRowScale: true}

	kernel := kernels.NewDenseKernel(ctx, traits)
	testbed, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{
		ScalarLoc: gemmbed.ScalarOnDevice,
	})
	require.NoError(t, err)

	// A per-row-scale kernel with device scalars draws an independent
	// alpha/beta pair per batch element; a kernel reading one broadcast
	// pair cannot pass.
	passed, err := testbed.RunSimple(gemmbed.ProblemShape{M: 12, N: 11, K: 9, L: 4}, 1, 0.5)
	require.NoError(t, err)
	assert.True(t, passed)

	// beta == 0 zero-fills the per-batch beta vector.
	passed, err = testbed.RunSimple(gemmbed.ProblemShape{M: 12, N: 11, K: 9, L: 4}, 2, 0)
	require.NoError(t, err)
	assert.True(t, passed)
}

func TestFusionAuxInput(t *testing.T) {
	ctx := newCtx(t)
	traits := f32Traits("fusion_aux_in")
	traits.ElementAux = gemmbed.ElementF32
	traits.LayoutAux = gemmbed.RowMajor
	traits.Fusion = &gemmbed.FusionCaps{AuxIn: true}

	kernel := kernels.NewDenseKernel(ctx, traits)
	testbed, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{})
	require.NoError(t, err)

	passed, err := testbed.RunSimple(gemmbed.ProblemShape{M: 18, N: 14, K: 10, L: 2}, 1, 0.5)
	require.NoError(t, err)
	assert.True(t, passed, "auxiliary input must be added before the activation")
}

func TestFusionPerRowScaleVectors(t *testing.T) {
	ctx := newCtx(t)
	traits := f32Traits("fusion_row_scale")
	traits.ElementAmax = gemmbed.ElementF32
	traits.Fusion = &gemmbed.FusionCaps{PerRowScale: true}

	kernel := kernels.NewDenseKernel(ctx, traits)
	testbed, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{
		VectorScale: gemmbed.VectorScaleEnabled,
	})
	require.NoError(t, err)

	passed, err := testbed.RunSimple(gemmbed.ProblemShape{M: 22, N: 9, K: 12, L: 2}, 1, 1)
	require.NoError(t, err)
	assert.True(t, passed)
}

func TestFusionLegacyArguments(t *testing.T) {
	ctx := newCtx(t)
	traits := f32Traits("fusion_legacy")
	traits.ElementBias = gemmbed.ElementF32
	traits.LegacyEpilogue = true
	traits.Fusion = &gemmbed.FusionCaps{
		PerRowBias: true,
		Activation: gemmbed.ActReLU,
	}

	kernel := kernels.NewDenseKernel(ctx, traits)
	testbed, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{})
	require.NoError(t, err)

	passed, err := testbed.RunSimple(gemmbed.ProblemShape{M: 15, N: 15, K: 7}, 1, 0)
	require.NoError(t, err)
	assert.True(t, passed)
}

func TestSparseKernelMatchesReference(t *testing.T) {
	ctx := newCtx(t)
	traits := f32Traits("sparse_f32")
	traits.ElementE = gemmbed.ElementI8
	traits.Sparse = kernels.NewSparseConfig(traits.LayoutA)

	kernel := kernels.NewSparseKernel(ctx, traits)
	testbed, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{})
	require.NoError(t, err)

	passed, err := testbed.RunSimple(gemmbed.ProblemShape{M: 24, N: 20, K: 32}, 1, 1)
	require.NoError(t, err)
	assert.True(t, passed, "compressed operand must reconstruct masked A exactly")
}

func TestSparseKernelBatched(t *testing.T) {
	ctx := newCtx(t)
	traits := f32Traits("sparse_f32_batched")
	traits.ElementE = gemmbed.ElementI8
	traits.Sparse = kernels.NewSparseConfig(traits.LayoutA)

	kernel := kernels.NewSparseKernel(ctx, traits)
	testbed, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{})
	require.NoError(t, err)

	passed, err := testbed.RunSimple(gemmbed.ProblemShape{M: 16, N: 12, K: 16, L: 2}, 2, 0)
	require.NoError(t, err)
	assert.True(t, passed)
}

func TestMisalignedProblemIsSkipped(t *testing.T) {
	ctx := newCtx(t)
	traits := f32Traits("aligned_kernel")
	traits.AlignmentA = 8
	traits.AlignmentB = 8

	kernel := kernels.NewDenseKernel(ctx, traits)
	testbed, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{})
	require.NoError(t, err)

	// K = 13 violates the row-major A alignment; the verdict is a skip,
	// not a failure.
	passed, err := testbed.RunSimple(gemmbed.ProblemShape{M: 16, N: 16, K: 13}, 1, 0)
	require.NoError(t, err)
	assert.True(t, passed)
}

func TestUnsupportedBatchIsSkipped(t *testing.T) {
	ctx := newCtx(t)
	traits := f32Traits("no_batch")
	traits.BatchSupported = false

	kernel := kernels.NewDenseKernel(ctx, traits)
	testbed, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{})
	require.NoError(t, err)

	passed, err := testbed.RunSimple(gemmbed.ProblemShape{M: 8, N: 8, K: 8, L: 2}, 1, 0)
	require.NoError(t, err)
	assert.True(t, passed)
}

func TestInsufficientSharedMemoryIsWaived(t *testing.T) {
	ctx := newCtx(t)
	traits := f32Traits("huge_smem")
	traits.SharedMemSize = 1 << 30

	kernel := kernels.NewDenseKernel(ctx, traits)
	testbed, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{})
	require.NoError(t, err)

	passed, err := testbed.RunSimple(gemmbed.ProblemShape{M: 8, N: 8, K: 8}, 1, 0)
	require.NoError(t, err)
	assert.True(t, passed, "insufficient shared memory waives the run")
}

func TestUnimplementedDistributionFails(t *testing.T) {
	ctx := newCtx(t)
	kernel := kernels.NewDenseKernel(ctx, f32Traits("dense_f32"))
	testbed, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{
		InitA: gemmbed.Distribution(99),
	})
	require.NoError(t, err)

	// An unknown distribution kind is a reported failure, not a harness
	// fault.
	passed, err := testbed.RunSimple(gemmbed.ProblemShape{M: 8, N: 8, K: 8}, 1, 0)
	require.NoError(t, err)
	assert.False(t, passed)
}

func TestInvalidProblemRejected(t *testing.T) {
	ctx := newCtx(t)
	kernel := kernels.NewDenseKernel(ctx, f32Traits("dense_f32"))
	testbed, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{})
	require.NoError(t, err)

	_, err = testbed.RunSimple(gemmbed.ProblemShape{M: 0, N: 8, K: 8}, 1, 0)
	require.Error(t, err)
	assert.True(t, gemmbed.IsErrorType(err, gemmbed.ErrTypeInvalidArg))
}

func TestVectorScaleRequiresCapability(t *testing.T) {
	ctx := newCtx(t)
	kernel := kernels.NewDenseKernel(ctx, f32Traits("dense_f32"))
	_, err := gemmbed.NewTestbed(ctx, kernel, gemmbed.TestbedOptions{
		VectorScale: gemmbed.VectorScaleEnabled,
	})
	require.Error(t, err)
	assert.True(t, gemmbed.IsErrorType(err, gemmbed.ErrTypeInvalidArg))
}

func TestSweepAllDense(t *testing.T) {
	if testing.Short() {
		t.Skip("full sweep is slow")
	}
	ctx := newCtx(t)
	traits := f32Traits("sweep_dense")
	traits.AlignmentA = 4
	traits.AlignmentB = 4

	kernel := kernels.NewDenseKernel(ctx, traits)
	result, err := gemmbed.SweepAll(ctx, kernel, 1, 0.5, gemmbed.CheckExact)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.NotEmpty(t, result.Records)
	for _, rec := range result.Records {
		assert.True(t, rec.Passed, "config %+v", rec)
	}
}

func TestSweepAllStreamK(t *testing.T) {
	if testing.Short() {
		t.Skip("full sweep is slow")
	}
	ctx := newCtx(t)
	traits := f32Traits("sweep_streamk")
	traits.Scheduler = gemmbed.SchedulerStreamK
	traits.AlignmentA = 4
	traits.AlignmentB = 4

	kernel := kernels.NewDenseKernel(ctx, traits)
	// Relative mode: split reductions reassociate the K sum.
	result, err := gemmbed.SweepAll(ctx, kernel, 1, 1, gemmbed.CheckRelative)
	require.NoError(t, err)
	assert.True(t, result.Passed)
}
