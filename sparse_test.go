package gemmbed_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gemmbed "github.com/LynnColeArt/gemmbed"
	"github.com/LynnColeArt/gemmbed/kernels"
)

func TestSparseConfigPhysicalExtents(t *testing.T) {
	cfg := kernels.NewSparseConfig(gemmbed.RowMajor)
	assert.Equal(t, 4, cfg.GroupK)
	assert.Equal(t, 2, cfg.KeepK)

	// 64 dense K columns compress to 32, already aligned.
	assert.Equal(t, 32, cfg.CompressedKPhysical(64))
	// 24 compress to 12, padded up to the next multiple of 8.
	assert.Equal(t, 16, cfg.CompressedKPhysical(24))
	assert.Equal(t, 8, cfg.CompressedMPhysical(5))
	// One metadata element per group of 4.
	assert.Equal(t, 16, cfg.MetadataKPhysical(64))
	assert.Equal(t, 8, cfg.MetadataKPhysical(8))
	assert.Equal(t, 16, cfg.MetadataMPhysical(3))
}

func TestZeroMaskFillStructure(t *testing.T) {
	cfg := kernels.NewSparseConfig(gemmbed.RowMajor)
	tn, err := gemmbed.NewHostTensor(nil, 8, 32, gemmbed.RowMajor, gemmbed.ElementF32)
	require.NoError(t, err)
	require.NoError(t, gemmbed.FillTensor(tn, gemmbed.DistAllOnes, 0))

	cfg.ZeroMaskFill(tn, 4096)

	for r := 0; r < tn.Rows(); r++ {
		for g := 0; g < tn.Cols()/cfg.GroupK; g++ {
			nonzero := 0
			for i := 0; i < cfg.GroupK; i++ {
				if tn.At(r, g*cfg.GroupK+i) != 0 {
					nonzero++
				}
			}
			assert.Equal(t, cfg.KeepK, nonzero,
				"row %d group %d keeps the wrong element count", r, g)
		}
	}
}

func TestZeroMaskFillDeterministic(t *testing.T) {
	cfg := kernels.NewSparseConfig(gemmbed.RowMajor)
	mask := func(seed uint64) []float32 {
		tn, err := gemmbed.NewHostTensor(nil, 4, 16, gemmbed.RowMajor, gemmbed.ElementF32)
		require.NoError(t, err)
		require.NoError(t, gemmbed.FillTensor(tn, gemmbed.DistSequential, 0))
		cfg.ZeroMaskFill(tn, seed)
		return tn.Data()
	}
	assert.Equal(t, mask(7), mask(7), "same seed must reproduce the mask")
	assert.NotEqual(t, mask(7), mask(8), "different seeds must diverge")
}
