package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LynnColeArt/gemmbed"
)

const sampleConfig = `
alpha: 2
beta: 0.5
check: exact
kernels:
  - name: dense_f16
    element_a: f16
    element_b: f16
    element_c: f32
    element_d: f32
    layout_a: col
    alignment_a: 8
    alignment_b: 8
    tile: {m: 64, n: 64, k: 16}
    stages: 3
    scheduler: streamk
    batched: true
  - name: fused_fp8
    element_d: e4m3
    fusion:
      per_row_bias: true
      scale_factor: true
      abs_max: true
      activation: relu
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gemmbed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, float32(2), cfg.Alpha)
	assert.Equal(t, float32(0.5), cfg.Beta)
	require.Len(t, cfg.Kernels, 2)

	mode, err := cfg.checkMode()
	require.NoError(t, err)
	assert.Equal(t, gemmbed.CheckExact, mode)

	traits, err := cfg.Kernels[0].traits()
	require.NoError(t, err)
	assert.Equal(t, gemmbed.ElementF16, traits.ElementA)
	assert.Equal(t, gemmbed.ColMajor, traits.LayoutA)
	assert.Equal(t, gemmbed.RowMajor, traits.LayoutB)
	assert.Equal(t, gemmbed.TileShape{M: 64, N: 64, K: 16}, traits.Tile)
	assert.Equal(t, 3, traits.Stages)
	assert.Equal(t, gemmbed.SchedulerStreamK, traits.Scheduler)
	assert.True(t, traits.BatchSupported)
	assert.Nil(t, traits.Fusion)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "kernels:\n  - name: plain\n"))
	require.NoError(t, err)

	assert.Equal(t, float32(1), cfg.Alpha)
	mode, err := cfg.checkMode()
	require.NoError(t, err)
	assert.Equal(t, gemmbed.CheckRelative, mode)

	traits, err := cfg.Kernels[0].traits()
	require.NoError(t, err)
	assert.Equal(t, gemmbed.ElementF32, traits.ElementA)
	assert.Equal(t, gemmbed.TileShape{M: 128, N: 128, K: 32}, traits.Tile)
	assert.Equal(t, 4, traits.Stages)
	assert.Equal(t, gemmbed.SchedulerPersistent, traits.Scheduler)
}

func TestFusionSpecTraits(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	traits, err := cfg.Kernels[1].traits()
	require.NoError(t, err)
	require.NotNil(t, traits.Fusion)
	assert.True(t, traits.Fusion.PerRowBias)
	assert.True(t, traits.Fusion.ScaleFactor)
	assert.True(t, traits.Fusion.AbsMax)
	assert.Equal(t, gemmbed.ActReLU, traits.Fusion.Activation)
	assert.Equal(t, gemmbed.ElementE4M3, traits.ElementD)
	assert.Equal(t, gemmbed.ElementE4M3, traits.ElementAux)
	assert.Equal(t, gemmbed.ElementF32, traits.ElementBias)
	assert.True(t, traits.Fusion.AbsMaxD(traits.ElementD))
}

func TestBadConfigValues(t *testing.T) {
	cfg := Config{Check: "fuzzy"}
	_, err := cfg.checkMode()
	assert.Error(t, err)

	_, err = KernelSpec{ElementA: "f64"}.traits()
	assert.Error(t, err)

	_, err = KernelSpec{LayoutA: "diag"}.traits()
	assert.Error(t, err)

	_, err = KernelSpec{Scheduler: "greedy"}.traits()
	assert.Error(t, err)
}
