package gemmbed

import (
	"time"

	"github.com/LynnColeArt/gemmbed/device"
)

// maxSMCount caps the multiprocessor count reported to the kernel's
// scheduler outside profiling runs. Small grids force tile schedulers
// through their wrap-around paths.
const maxSMCount = 16

// TestbedOptions configure a testbed. Zero values select uniform
// initialization, the default seed, exact equality, host scalars, and
// no per-row scale vectors.
type TestbedOptions struct {
	InitA, InitB, InitC Distribution
	Seed                uint64
	Check               CheckEquality
	ScalarLoc           ScalarLoc
	VectorScale         VectorScale
	Profiling           bool
}

// Testbed drives one kernel through the verification lifecycle:
// sufficiency check, operand provisioning, argument assembly, launch,
// synchronization, and verification against the host reference.
type Testbed struct {
	ctx    *device.Context
	kernel Kernel
	traits Traits
	opts   TestbedOptions

	mainloop HostMainloop
	epilogue HostEpilogue
}

// NewTestbed builds a testbed for the kernel, selecting the host-model
// variants its traits call for. Only row-major and column-major
// operand layouts are representable.
func NewTestbed(ctx *device.Context, kernel Kernel, opts TestbedOptions) (*Testbed, error) {
	traits := kernel.Traits()
	for _, l := range []Layout{traits.LayoutA, traits.LayoutB, traits.LayoutC, traits.LayoutD} {
		if !l.Valid() {
			return nil, NewInvalidArgError("NewTestbed", "unsupported operand layout")
		}
	}
	if opts.VectorScale == VectorScaleEnabled {
		if traits.Fusion == nil || !traits.Fusion.PerRowScale {
			return nil, NewInvalidArgError("NewTestbed", "per-row scale vectors need the per-row-scale capability")
		}
	}
	if opts.Seed == 0 {
		opts.Seed = kDefaultSeed
	}

	t := &Testbed{
		ctx:    ctx,
		kernel: kernel,
		traits: traits,
		opts:   opts,
	}
	if traits.Sparse != nil {
		t.mainloop = NewSparseMainloop(ctx, traits, opts.InitA, opts.InitB, opts.Seed)
	} else {
		t.mainloop = NewDenseMainloop(ctx, traits, opts.InitA, opts.InitB, opts.Seed)
	}
	if traits.Fusion != nil {
		t.epilogue = NewFusionEpilogue(ctx, traits, opts.InitC, opts.Seed, opts.ScalarLoc, opts.VectorScale)
	} else {
		t.epilogue = NewDefaultEpilogue(ctx, traits, opts.InitC, opts.Seed)
	}
	return t, nil
}

// Sufficient reports whether the device can host this kernel at all. A
// false return waives the run rather than failing it.
func (t *Testbed) Sufficient() bool {
	dev := t.ctx.Device()
	if t.traits.SharedMemSize > dev.SharedMemPerBlockOptin {
		log.Warn().
			Str("kernel", t.traits.Name).
			Int("required", t.traits.SharedMemSize).
			Int("available", dev.SharedMemPerBlockOptin).
			Msg("insufficient shared memory, waiving")
		return false
	}
	return true
}

// Run executes one verification run. The boolean is the verdict:
// true for pass, waive, or skip; false for a verification failure or a
// non-success kernel status. Errors are reserved for harness
// failures (allocation, copy, synchronization).
func (t *Testbed) Run(problem ProblemShape, alpha, beta float32,
	order RasterOrder, decomp DecompositionMode,
	splits Splits, swizzle MaxSwizzleSize, iterations Iterations) (bool, error) {

	if err := problem.Validate(); err != nil {
		return false, err
	}
	if !t.Sufficient() {
		runsTotal.WithLabelValues(t.traits.Name, "waived").Inc()
		return true, nil
	}

	if err := t.mainloop.Initialize(problem); err != nil {
		return false, t.initFailure(err)
	}
	defer t.mainloop.Free()
	if err := t.epilogue.Initialize(problem, alpha, beta); err != nil {
		return false, t.initFailure(err)
	}
	defer t.epilogue.Free()

	args := t.buildArguments(problem, order, decomp, splits, swizzle)

	if status := t.kernel.CanImplement(args); status != StatusSuccess {
		log.Warn().
			Str("kernel", t.traits.Name).
			Str("status", status.String()).
			Str("problem", problem.String()).
			Msg("kernel cannot implement configuration, skipping")
		runsTotal.WithLabelValues(t.traits.Name, "skipped").Inc()
		return true, nil
	}

	var workspace device.DevicePtr
	if ws := t.kernel.WorkspaceSize(args); ws > 0 {
		var err error
		workspace, err = t.ctx.Malloc(ws)
		if err != nil {
			return false, err
		}
		defer t.ctx.Free(workspace)
	}

	if status := t.kernel.Initialize(args, workspace); status != StatusSuccess {
		log.Error().
			Str("kernel", t.traits.Name).
			Str("status", status.String()).
			Msg("kernel initialization failed")
		runsTotal.WithLabelValues(t.traits.Name, "failed").Inc()
		return false, nil
	}

	runs := 1
	if t.opts.Profiling {
		runs = iterations.Int()
	}
	for i := 0; i < runs; i++ {
		start := time.Now()
		if status := t.kernel.Run(); status != StatusSuccess {
			log.Error().
				Str("kernel", t.traits.Name).
				Str("status", status.String()).
				Msg("kernel run failed")
			runsTotal.WithLabelValues(t.traits.Name, "failed").Inc()
			return false, nil
		}
		kernelDuration.WithLabelValues(t.traits.Name).Observe(time.Since(start).Seconds())
	}

	if err := t.ctx.Synchronize(); err != nil {
		return false, NewSyncError("Testbed.Run", "device synchronization failed", err)
	}

	passed := t.verify(problem, alpha, beta)
	if passed {
		runsTotal.WithLabelValues(t.traits.Name, "passed").Inc()
	} else {
		runsTotal.WithLabelValues(t.traits.Name, "failed").Inc()
	}
	return passed, nil
}

// initFailure classifies a provisioning error. An unimplemented
// distribution kind is a reported test failure, not a harness fault;
// allocation and copy errors stay fatal.
func (t *Testbed) initFailure(err error) error {
	if IsErrorType(err, ErrTypeNotImplemented) {
		log.Error().
			Str("kernel", t.traits.Name).
			Err(err).
			Msg("operand initialization not implemented")
		runsTotal.WithLabelValues(t.traits.Name, "failed").Inc()
		return nil
	}
	return err
}

// RunSimple is Run with the default scheduler configuration.
func (t *Testbed) RunSimple(problem ProblemShape, alpha, beta float32) (bool, error) {
	return t.Run(problem, alpha, beta, RasterHeuristic, DecompHeuristic, Splits(0), MaxSwizzleSize(0), Iterations(0))
}

func (t *Testbed) buildArguments(problem ProblemShape,
	order RasterOrder, decomp DecompositionMode,
	splits Splits, swizzle MaxSwizzleSize) Arguments {

	dev := t.ctx.Device()
	smCount := dev.SMCount
	if !t.opts.Profiling && smCount > maxSMCount {
		smCount = maxSMCount
	}

	sched := SchedulerArguments{
		MaxSwizzle: swizzle.Int(),
		Order:      order,
	}
	if t.traits.Scheduler == SchedulerStreamK {
		sched.Splits = splits.Int()
		sched.Decomposition = decomp
	}

	return Arguments{
		Problem:  problem.Canonicalize(),
		Mainloop: t.mainloop.ToArgs(),
		Epilogue: t.epilogue.ToArgs(),
		Hardware: HardwareInfo{
			DeviceID: dev.ID,
			SMCount:  smCount,
		},
		Scheduler: sched,
	}
}

func (t *Testbed) verify(problem ProblemShape, alpha, beta float32) bool {
	GemmReference(problem, t.mainloop.ToHostArgs(problem), t.epilogue.ToHostArgs(problem))

	passed := t.mainloop.CompareReference(problem)
	if !t.epilogue.CompareReference(problem, t.opts.Check) {
		passed = false
	}
	if !passed {
		verifyMismatches.WithLabelValues(t.traits.Name, "D").Inc()
		log.Error().
			Str("kernel", t.traits.Name).
			Str("problem", problem.String()).
			Float32("alpha", alpha).
			Float32("beta", beta).
			Msg("verification failed")
		dumpFailure(problem, t.traits.Tile, alpha, beta, t.mainloop, t.epilogue)
	}
	return passed
}
