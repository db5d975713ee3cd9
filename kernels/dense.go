// Package kernels provides deterministic GEMM kernels that run on the
// simulated device runtime. The mainloop accumulates in float64,
// sequentially over K, so data-parallel results match the host
// reference exactly; split reductions sum partials in ascending split
// order and stay deterministic across runs.
package kernels

import (
	"sync"

	"github.com/LynnColeArt/gemmbed"
	"github.com/LynnColeArt/gemmbed/device"
)

// DenseKernel is a tiled dense GEMM supporting the persistent and
// stream-K tile schedulers and the full fusion epilogue its traits
// declare.
type DenseKernel struct {
	ctx    *device.Context
	traits gemmbed.Traits

	args  gemmbed.Arguments
	sched tileScheduler
	ep    epilogueState
	readA func(m, k, l int) float32
	ready bool

	workspace device.DevicePtr

	amaxMu  sync.Mutex
	amaxD   float64
	amaxAux float64
}

// NewDenseKernel builds a dense kernel instance for the given traits.
func NewDenseKernel(ctx *device.Context, traits gemmbed.Traits) *DenseKernel {
	return &DenseKernel{ctx: ctx, traits: traits}
}

// Traits returns the kernel's compile-time description.
func (k *DenseKernel) Traits() gemmbed.Traits { return k.traits }

// CanImplement checks the problem against the kernel's alignment and
// batching constraints.
func (k *DenseKernel) CanImplement(args gemmbed.Arguments) gemmbed.Status {
	p := args.Problem.Canonicalize()
	if p.M <= 0 || p.N <= 0 || p.K <= 0 {
		return gemmbed.StatusErrorInvalidProblem
	}
	if p.L > 1 && !k.traits.BatchSupported {
		return gemmbed.StatusErrorInvalidProblem
	}
	if !contiguousAligned(k.traits.LayoutA, p.M, p.K, k.traits.AlignmentA) {
		return gemmbed.StatusErrorInvalidProblem
	}
	if !contiguousAligned(k.traits.LayoutB, p.K, p.N, k.traits.AlignmentB) {
		return gemmbed.StatusErrorInvalidProblem
	}
	return gemmbed.StatusSuccess
}

// contiguousAligned checks that an operand's contiguous extent is a
// multiple of the kernel's vector access width.
func contiguousAligned(layout gemmbed.Layout, rows, cols, align int) bool {
	if align <= 1 {
		return true
	}
	if layout == gemmbed.ColMajor {
		return rows%align == 0
	}
	return cols%align == 0
}

// WorkspaceSize returns the bytes needed for split partial sums and the
// bias-gradient scratch.
func (k *DenseKernel) WorkspaceSize(args gemmbed.Arguments) int {
	p := args.Problem.Canonicalize()
	sched := newTileScheduler(p, k.traits.Tile, args.Scheduler,
		k.traits.Scheduler == gemmbed.SchedulerStreamK, args.Hardware.SMCount)

	size := 0
	if sched.splits > 1 {
		size += p.M * p.N * p.L * sched.splits * 8
	}
	if k.traits.Fusion != nil && k.traits.Fusion.DeBias {
		size += p.M * p.N * p.L * 8
	}
	return size
}

// Initialize captures the arguments, plans the schedule, and resolves
// the epilogue parameters.
func (k *DenseKernel) Initialize(args gemmbed.Arguments, workspace device.DevicePtr) gemmbed.Status {
	if need := k.WorkspaceSize(args); need > 0 && workspace.Size() < need {
		return gemmbed.StatusErrorWorkspaceNull
	}
	k.args = args
	k.args.Problem = args.Problem.Canonicalize()
	k.sched = newTileScheduler(k.args.Problem, k.traits.Tile, args.Scheduler,
		k.traits.Scheduler == gemmbed.SchedulerStreamK, args.Hardware.SMCount)
	k.ep = resolveEpilogue(k.traits, k.args)
	k.workspace = workspace

	p := k.args.Problem
	a := k.args.Mainloop.A.Float32()
	k.readA = func(m, kk, l int) float32 {
		return a[operandIndex(k.traits.LayoutA, p.M*p.L, p.K, l*p.M+m, kk)]
	}

	k.ready = true
	return gemmbed.StatusSuccess
}

// Run enqueues the mainloop, reduction, and finalization passes on the
// default stream. Completion is observed through device
// synchronization.
func (k *DenseKernel) Run() gemmbed.Status {
	if !k.ready {
		return gemmbed.StatusErrorInternal
	}

	one := device.Dim3{X: 1, Y: 1, Z: 1}
	if err := k.ctx.Launch(func(device.ThreadID) {
		k.amaxD, k.amaxAux = 0, 0
	}, one, one); err != nil {
		return gemmbed.StatusErrorInternal
	}

	grid := device.Dim3{X: k.sched.units(), Y: 1, Z: 1}
	if k.sched.splits > 1 {
		if err := k.ctx.Launch(k.partialTile, grid, one); err != nil {
			return gemmbed.StatusErrorInternal
		}
		p := k.args.Problem
		rows := device.Dim3{X: p.M * p.L, Y: 1, Z: 1}
		if err := k.ctx.Launch(k.reduceRow, rows, one); err != nil {
			return gemmbed.StatusErrorInternal
		}
	} else {
		if err := k.ctx.Launch(k.fullTile, grid, one); err != nil {
			return gemmbed.StatusErrorInternal
		}
	}

	if err := k.ctx.Launch(func(device.ThreadID) {
		k.finalize()
	}, one, one); err != nil {
		return gemmbed.StatusErrorInternal
	}
	return gemmbed.StatusSuccess
}

// splitPartials views the workspace region holding per-split partial
// accumulators.
func (k *DenseKernel) splitPartials() []float64 {
	p := k.args.Problem
	n := p.M * p.N * p.L * k.sched.splits
	return k.workspace.Float64()[:n]
}

// dbiasScratch views the workspace region holding per-element
// activation outputs for the bias-gradient reduction.
func (k *DenseKernel) dbiasScratch() []float64 {
	if k.traits.Fusion == nil || !k.traits.Fusion.DeBias {
		return nil
	}
	p := k.args.Problem
	n := p.M * p.N * p.L
	off := 0
	if k.sched.splits > 1 {
		off = p.M * p.N * p.L * k.sched.splits
	}
	return k.workspace.Float64()[off : off+n]
}

// fullTile computes one work unit end to end: the complete K reduction
// for every element of its output tile, then the epilogue.
func (k *DenseKernel) fullTile(tid device.ThreadID) {
	u := k.sched.unit(tid.Global())
	p := k.args.Problem
	tile := k.traits.Tile

	m0, m1 := tileRange(u.tileM, tile.M, p.M)
	n0, n1 := tileRange(u.tileN, tile.N, p.N)
	dbias := k.dbiasScratch()

	var localD, localAux float64
	for m := m0; m < m1; m++ {
		for n := n0; n < n1; n++ {
			acc := k.accumulate(m, n, u.batch, 0, p.K)
			k.ep.apply(m, n, u.batch, acc, dbias, &localD, &localAux)
		}
	}
	k.mergeAmax(localD, localAux)
}

// partialTile computes one split's K-range partial for every element of
// its tile and stores it in the workspace.
func (k *DenseKernel) partialTile(tid device.ThreadID) {
	u := k.sched.unit(tid.Global())
	p := k.args.Problem
	tile := k.traits.Tile

	m0, m1 := tileRange(u.tileM, tile.M, p.M)
	n0, n1 := tileRange(u.tileN, tile.N, p.N)
	k0 := u.kTileBegin * tile.K
	k1 := u.kTileEnd * tile.K
	if k1 > p.K {
		k1 = p.K
	}

	partials := k.splitPartials()
	splits := k.sched.splits
	for m := m0; m < m1; m++ {
		for n := n0; n < n1; n++ {
			acc := k.accumulate(m, n, u.batch, k0, k1)
			elem := (u.batch*p.M+m)*p.N + n
			partials[elem*splits+u.split] = acc
		}
	}
}

// reduceRow sums the split partials of one output row in ascending
// split order and applies the epilogue.
func (k *DenseKernel) reduceRow(tid device.ThreadID) {
	p := k.args.Problem
	r := tid.Global()
	l := r / p.M
	m := r % p.M

	partials := k.splitPartials()
	splits := k.sched.splits
	dbias := k.dbiasScratch()

	var localD, localAux float64
	for n := 0; n < p.N; n++ {
		elem := (l*p.M+m)*p.N + n
		acc := 0.0
		for s := 0; s < splits; s++ {
			acc += partials[elem*splits+s]
		}
		k.ep.apply(m, n, l, acc, dbias, &localD, &localAux)
	}
	k.mergeAmax(localD, localAux)
}

// accumulate reduces A(m, k) * B(k, n) for batch l over [k0, k1),
// sequentially in float64. A is read through readA so the sparse
// variant can decompress in place.
func (k *DenseKernel) accumulate(m, n, l, k0, k1 int) float64 {
	p := k.args.Problem
	b := k.args.Mainloop.B.Float32()

	acc := 0.0
	for kk := k0; kk < k1; kk++ {
		av := k.readA(m, kk, l)
		bv := b[operandIndex(k.traits.LayoutB, p.K, p.N*p.L, kk, l*p.N+n)]
		acc += float64(av) * float64(bv)
	}
	return acc
}

func (k *DenseKernel) mergeAmax(d, aux float64) {
	if !k.ep.trackAmaxD && !k.ep.trackAmaxAux {
		return
	}
	k.amaxMu.Lock()
	if d > k.amaxD {
		k.amaxD = d
	}
	if aux > k.amaxAux {
		k.amaxAux = aux
	}
	k.amaxMu.Unlock()
}

// finalize runs after all tiles: the bias-gradient reduction in a fixed
// order and the abs-max stores.
func (k *DenseKernel) finalize() {
	p := k.args.Problem

	if dbias := k.dbiasScratch(); dbias != nil && !k.args.Epilogue.Fusion.DBiasPtr.IsNil() {
		out := k.args.Epilogue.Fusion.DBiasPtr.Float32()
		elem := k.traits.ElementBias
		for m := 0; m < p.M; m++ {
			sum := 0.0
			for l := 0; l < p.L; l++ {
				for n := 0; n < p.N; n++ {
					sum += dbias[(l*p.M+m)*p.N+n]
				}
			}
			out[m] = elem.Quantize(float32(sum))
		}
	}

	if k.ep.trackAmaxD {
		k.ep.amaxDBuf[0] = k.traits.ElementAmax.Quantize(float32(k.amaxD))
	}
	if k.ep.trackAmaxAux {
		k.ep.amaxAuxBuf[0] = k.traits.ElementAmax.Quantize(float32(k.amaxAux))
	}
}

// tileRange returns the [begin, end) extent of tile index t.
func tileRange(t, tileExtent, bound int) (int, int) {
	begin := t * tileExtent
	end := begin + tileExtent
	if end > bound {
		end = bound
	}
	return begin, end
}

// operandIndex maps a logical (row, col) coordinate to the physical
// offset of an operand whose batch is folded into the leading extent.
func operandIndex(layout gemmbed.Layout, rows, cols, r, c int) int {
	if layout == gemmbed.ColMajor {
		return c*rows + r
	}
	return r*cols + c
}
