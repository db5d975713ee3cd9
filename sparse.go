package gemmbed

import (
	"math/rand"

	"github.com/LynnColeArt/gemmbed/device"
)

// SparseConfig describes a kernel's structured-sparsity scheme: the
// group size along K, how many elements each group retains, and the
// physical alignment rules for the compressed operand and the metadata
// tensor. A kernel declaring a SparseConfig is provisioned through the
// sparse host mainloop, which masks dense A and runs the compression
// transform before the GEMM launch.
type SparseConfig struct {
	// GroupK elements along K form one structured group; KeepK of
	// them survive compression. The canonical scheme is 2:4.
	GroupK int
	KeepK  int

	// Alignment of the compressed-A physical extents.
	AlignCompressedM int
	AlignCompressedK int

	// Alignment of the metadata tensor's physical extents.
	AlignMetadataM int
	AlignMetadataK int

	// NewCompressor builds the device transform that produces
	// (compressed A, metadata E) from dense A.
	NewCompressor func(ctx *device.Context) Compressor
}

// CompressedKPhysical returns the K extent of the compressed operand
// after alignment.
func (c SparseConfig) CompressedKPhysical(k int) int {
	kc := k / c.GroupK * c.KeepK
	return alignUp(kc, c.AlignCompressedK)
}

// CompressedMPhysical returns the M extent of the compressed operand
// after alignment.
func (c SparseConfig) CompressedMPhysical(m int) int {
	return alignUp(m, c.AlignCompressedM)
}

// MetadataKPhysical returns the K extent of the metadata tensor: one
// metadata element per structured group, aligned.
func (c SparseConfig) MetadataKPhysical(k int) int {
	return alignUp(k/c.GroupK, c.AlignMetadataK)
}

// MetadataMPhysical returns the M extent of the metadata tensor after
// alignment.
func (c SparseConfig) MetadataMPhysical(m int) int {
	return alignUp(m, c.AlignMetadataM)
}

func alignUp(v, a int) int {
	if a <= 1 {
		return v
	}
	return (v + a - 1) / a * a
}

// ZeroMaskFill applies the structured-sparse pattern to an initialized
// dense A tensor: in every group of GroupK elements along K, KeepK
// randomly chosen positions survive and the rest are zeroed. The draw
// is seeded so masked operands are reproducible.
func (c SparseConfig) ZeroMaskFill(a *HostTensor, seed uint64) {
	rng := rand.New(rand.NewSource(int64(seed)))
	rows := a.Rows()
	k := a.Cols()

	keep := make([]int, c.GroupK)
	for r := 0; r < rows; r++ {
		for g := 0; g*c.GroupK < k; g++ {
			base := g * c.GroupK
			width := c.GroupK
			if base+width > k {
				width = k - base
			}
			for i := 0; i < width; i++ {
				keep[i] = i
			}
			rng.Shuffle(width, func(i, j int) {
				keep[i], keep[j] = keep[j], keep[i]
			})
			// Positions beyond the first KeepK drawn are zeroed.
			for i := c.KeepK; i < width; i++ {
				a.Set(r, base+keep[i], 0)
			}
		}
	}
}
