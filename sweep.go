package gemmbed

import (
	"fmt"

	"github.com/LynnColeArt/gemmbed/device"
)

// minTilesPerStreamKUnit is the scheduler's lower bound on K tiles per
// stream-K unit; the sweep sizes K so stream-K decompositions actually
// engage.
const minTilesPerStreamKUnit = 8

// SweepRecord is one sweep iteration's configuration and verdict.
type SweepRecord struct {
	Problem       string  `json:"problem"`
	Alpha         float32 `json:"alpha"`
	Beta          float32 `json:"beta"`
	RasterOrder   string  `json:"raster_order"`
	MaxSwizzle    int     `json:"max_swizzle"`
	Decomposition string  `json:"decomposition"`
	Splits        int     `json:"splits"`
	Passed        bool    `json:"passed"`
}

// SweepResult aggregates a sweep: the overall verdict and the per-run
// records in execution order. A failed run is always the last record.
type SweepResult struct {
	Passed  bool
	Records []SweepRecord
}

// SweepAll runs the full verification sweep for a kernel: a problem
// grid derived from its alignments, tile K extent and stage count,
// crossed with both raster orders, swizzle sizes 1 and 4 and, for
// stream-K schedulers, all decomposition modes and a split-count
// ladder that exercises clamping. The sweep stops at the first
// failure. Batched kernels get one additional three-batch run.
func SweepAll(ctx *device.Context, kernel Kernel, alpha, beta float32, check CheckEquality) (SweepResult, error) {
	traits := kernel.Traits()

	testbed, err := NewTestbed(ctx, kernel, TestbedOptions{Check: check})
	if err != nil {
		return SweepResult{}, err
	}

	maxAlignment := traits.AlignmentA
	if traits.AlignmentB > maxAlignment {
		maxAlignment = traits.AlignmentB
	}
	if maxAlignment < 1 {
		maxAlignment = 1
	}

	problemM := []int{maxAlignment, 512 - 3*maxAlignment}
	problemN := []int{maxAlignment, 512 - 2*maxAlignment}
	if traits.Pingpong {
		problemM = append(problemM, 768)
		problemN = append(problemN, 768)
	}

	tileK := traits.Tile.K
	problemK := []int{maxAlignment, tileK*(traits.Stages+1) - maxAlignment}

	streamK := traits.Scheduler == SchedulerStreamK
	decompModes := []DecompositionMode{DecompHeuristic}
	if streamK {
		decompModes = append(decompModes, DecompDataParallel, DecompSplitK, DecompStreamK)
		// Larger K sizes so stream-K units get their minimum tile
		// count.
		problemK = []int{
			tileK * minTilesPerStreamKUnit,
			tileK*3*minTilesPerStreamKUnit - maxAlignment,
		}
	}

	rasterOrders := []RasterOrder{RasterAlongM, RasterAlongN}
	maxSwizzleSizes := []MaxSwizzleSize{1, 4}

	result := SweepResult{Passed: true}

	for _, m := range problemM {
		for _, n := range problemN {
			for _, k := range problemK {
				for _, order := range rasterOrders {
					for _, swizzle := range maxSwizzleSizes {
						for _, decomp := range decompModes {
							for _, splits := range splitLadder(streamK, decomp, k, tileK) {
								problem := ProblemShape{M: m, N: n, K: k, L: 1}
								rec := SweepRecord{
									Problem:       problem.String(),
									Alpha:         alpha,
									Beta:          beta,
									RasterOrder:   order.String(),
									MaxSwizzle:    swizzle.Int(),
									Decomposition: decomp.String(),
									Splits:        splits.Int(),
								}

								passed, err := runSweepCase(testbed, problem, alpha, beta, order, decomp, splits, swizzle, rec)
								rec.Passed = passed && err == nil
								result.Records = append(result.Records, rec)
								if err != nil {
									result.Passed = false
									return result, err
								}
								if !passed {
									log.Error().
										Str("problem", rec.Problem).
										Str("raster_order", rec.RasterOrder).
										Int("max_swizzle", rec.MaxSwizzle).
										Str("decomposition", rec.Decomposition).
										Int("splits", rec.Splits).
										Msg("sweep stopped at first failure")
									result.Passed = false
									return result, nil
								}
							}
						}
					}
				}
			}
		}
	}

	// One batched run is enough; the batch path does not interact with
	// the scheduler options swept above.
	if traits.BatchSupported {
		problem := ProblemShape{
			M: 256 + maxAlignment,
			N: 256 + maxAlignment,
			K: 160 + maxAlignment,
			L: 3,
		}
		rec := SweepRecord{
			Problem:       problem.String(),
			Alpha:         alpha,
			Beta:          beta,
			RasterOrder:   RasterHeuristic.String(),
			MaxSwizzle:    1,
			Decomposition: DecompHeuristic.String(),
			Splits:        1,
		}
		passed, err := testbed.RunSimple(problem, alpha, beta)
		rec.Passed = passed && err == nil
		result.Records = append(result.Records, rec)
		if err != nil {
			result.Passed = false
			return result, err
		}
		if !passed {
			result.Passed = false
		}
	}

	return result, nil
}

// runSweepCase executes one sweep iteration, converting a panic into a
// log line carrying the full configuration before re-raising it.
func runSweepCase(testbed *Testbed, problem ProblemShape, alpha, beta float32,
	order RasterOrder, decomp DecompositionMode,
	splits Splits, swizzle MaxSwizzleSize, rec SweepRecord) (passed bool, err error) {

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("problem", rec.Problem).
				Float32("alpha", alpha).
				Float32("beta", beta).
				Str("raster_order", rec.RasterOrder).
				Int("max_swizzle", rec.MaxSwizzle).
				Str("decomposition", rec.Decomposition).
				Int("splits", rec.Splits).
				Str("panic", fmt.Sprint(r)).
				Msg("sweep iteration panicked")
			panic(r)
		}
	}()

	return testbed.Run(problem, alpha, beta, order, decomp, splits, swizzle, Iterations(0))
}

// splitLadder returns the split counts to sweep for one decomposition
// mode: {1}, then 2 and 3 when enough K tiles exist, the exact tile
// count, and one past it to exercise the scheduler's clamp.
func splitLadder(streamK bool, decomp DecompositionMode, k, tileK int) []Splits {
	ladder := []Splits{1}
	if !streamK || (decomp != DecompHeuristic && decomp != DecompSplitK) {
		return ladder
	}
	maxSplits := (k + tileK - 1) / tileK
	if maxSplits > 2 {
		ladder = append(ladder, 2)
	}
	if maxSplits > 3 {
		ladder = append(ladder, 3)
	}
	ladder = append(ladder, Splits(maxSplits), Splits(maxSplits+1))
	return ladder
}

// SweepPerf is the profiling entry point: a single large shape run for
// the requested iteration count with the scheduler's defaults and the
// full device multiprocessor count.
func SweepPerf(ctx *device.Context, kernel Kernel, iterations Iterations) (bool, error) {
	testbed, err := NewTestbed(ctx, kernel, TestbedOptions{
		Check:     CheckRelative,
		Profiling: true,
	})
	if err != nil {
		return false, err
	}

	problem := ProblemShape{M: 4608, N: 4608, K: 8192, L: 1}
	return testbed.Run(problem, 1, 0,
		RasterHeuristic, DecompHeuristic, Splits(1), MaxSwizzleSize(1), iterations)
}
