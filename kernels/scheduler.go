package kernels

import "github.com/LynnColeArt/gemmbed"

// PartitionK clamps a requested split count to the number of K tiles.
// Asking for more splits than tiles falls back to one split per tile.
func PartitionK(requested, kTiles int) int {
	if requested < 1 {
		requested = 1
	}
	if requested > kTiles {
		return kTiles
	}
	return requested
}

// tileScheduler maps flat work-unit indices to output tile coordinates.
// It honors the raster order and swizzle width for traversal and, for
// stream-K kernels, the decomposition mode and split count for
// partitioning the reduction dimension.
type tileScheduler struct {
	tilesM, tilesN, tilesK int
	batches                int
	splits                 int
	order                  gemmbed.RasterOrder
	swizzle                int
}

// workUnit is one scheduled unit: an output tile plus the K-tile range
// it reduces.
type workUnit struct {
	tileM, tileN, batch  int
	split                int
	kTileBegin, kTileEnd int
}

func newTileScheduler(problem gemmbed.ProblemShape, tile gemmbed.TileShape,
	args gemmbed.SchedulerArguments, streamK bool, smCount int) tileScheduler {

	p := problem.Canonicalize()
	s := tileScheduler{
		tilesM:  ceilDiv(p.M, tile.M),
		tilesN:  ceilDiv(p.N, tile.N),
		tilesK:  ceilDiv(p.K, tile.K),
		batches: p.L,
		splits:  1,
		order:   args.Order,
		swizzle: args.MaxSwizzle,
	}
	if s.swizzle < 1 {
		s.swizzle = 1
	}
	if !streamK {
		return s
	}

	switch args.Decomposition {
	case gemmbed.DecompDataParallel:
		s.splits = 1
	case gemmbed.DecompStreamK:
		// Split only when the output grid underfills the device.
		outputTiles := s.tilesM * s.tilesN * s.batches
		if outputTiles < smCount {
			s.splits = PartitionK(ceilDiv(smCount, outputTiles), s.tilesK)
		}
	default:
		// Heuristic and SplitK honor the requested split count,
		// clamped to the available K tiles.
		s.splits = PartitionK(args.Splits, s.tilesK)
	}
	return s
}

// units returns the total number of work units.
func (s tileScheduler) units() int {
	return s.tilesM * s.tilesN * s.batches * s.splits
}

// unit decodes a flat index into a work unit. The fast dimension
// follows the raster order; swizzle interleaves blocks of the slow
// dimension to spread adjacent units across distinct output rows or
// columns, which changes traversal order but never coverage.
func (s tileScheduler) unit(idx int) workUnit {
	perSplit := s.tilesM * s.tilesN
	perBatch := perSplit * s.splits

	batch := idx / perBatch
	rem := idx % perBatch
	split := rem / perSplit
	tileIdx := rem % perSplit

	var tm, tn int
	if s.order == gemmbed.RasterAlongN {
		tm, tn = s.swizzled(tileIdx, s.tilesM, s.tilesN)
	} else {
		tn, tm = s.swizzled(tileIdx, s.tilesN, s.tilesM)
	}

	kTilesPerSplit := ceilDiv(s.tilesK, s.splits)
	kBegin := split * kTilesPerSplit
	kEnd := kBegin + kTilesPerSplit
	if kEnd > s.tilesK {
		kEnd = s.tilesK
	}

	return workUnit{
		tileM:      tm,
		tileN:      tn,
		batch:      batch,
		split:      split,
		kTileBegin: kBegin,
		kTileEnd:   kEnd,
	}
}

// swizzled decodes a tile index where fast is the extent of the fast
// dimension. Swizzle groups the slow dimension in bands of the swizzle
// width.
func (s tileScheduler) swizzled(tileIdx, slow, fast int) (slowCoord, fastCoord int) {
	band := s.swizzle
	if band > slow {
		band = slow
	}
	perBand := band * fast

	bandIdx := tileIdx / perBand
	inBand := tileIdx % perBand
	bandRows := band
	if (bandIdx+1)*band > slow {
		bandRows = slow - bandIdx*band
	}

	slowCoord = bandIdx*band + inBand%bandRows
	fastCoord = inBand / bandRows
	return slowCoord, fastCoord
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
