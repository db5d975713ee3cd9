package gemmbed

import (
	"fmt"
	"io"
	"math"

	"github.com/LynnColeArt/gemmbed/device"
)

// FusionEpilogue is the host model for fusion-capable kernels. It
// provisions only the tensors the kernel's declared capabilities call
// for, in both host-scalar and device-scalar modes, and verifies every
// enabled output (D, aux, bias gradient, abs-max) against the
// reference.
type FusionEpilogue struct {
	ctx    *device.Context
	traits Traits
	caps   FusionCaps
	initC  Distribution
	seed   uint64

	scalarLoc   ScalarLoc
	vectorScale VectorScale

	alpha, beta float32

	strideC   Stride
	strideD   Stride
	strideAux Stride

	tensorC *HostTensor
	tensorD *HostTensor
	refD    *HostTensor

	// Device-resident alpha/beta: 1-element scalars, 1-per-batch
	// scalars, or per-(row, batch) vectors.
	alphaDev, betaDev *HostTensor
	dAlpha, dBeta     Stride

	scaleA, scaleB, scaleC, scaleD *HostTensor
	scaleAux                       *HostTensor

	bias     *HostTensor
	dBias    *HostTensor
	refDBias *HostTensor

	aux    *HostTensor
	refAux *HostTensor

	amaxD      *HostTensor
	refAmaxD   *HostTensor
	amaxAux    *HostTensor
	refAmaxAux *HostTensor

	activation ActivationArguments
}

// NewFusionEpilogue builds the fusion host model. The traits must
// declare FusionCaps. ScalarLoc and VectorScale select how alpha/beta
// and the scale factors are delivered to the kernel; VectorScaleEnabled
// requires the per-row-scale capability.
func NewFusionEpilogue(ctx *device.Context, traits Traits, initC Distribution, seed uint64, loc ScalarLoc, vec VectorScale) *FusionEpilogue {
	return &FusionEpilogue{
		ctx:         ctx,
		traits:      traits,
		caps:        *traits.Fusion,
		initC:       initC,
		seed:        seed,
		scalarLoc:   loc,
		vectorScale: vec,
	}
}

// Initialize provisions C/D plus every capability-gated tensor. Seeds
// follow the operand offset scheme so each tensor draws an independent
// stream.
func (e *FusionEpilogue) Initialize(problem ProblemShape, alpha, beta float32) error {
	p := problem.Canonicalize()
	M, N, L := p.M, p.N, p.L
	e.alpha, e.beta = alpha, beta

	e.strideC = PackedStride(e.traits.LayoutC, M, N, L)
	e.strideD = PackedStride(e.traits.LayoutD, M, N, L)

	var err error
	e.tensorC, err = NewHostTensor(e.ctx, M*L, N, e.traits.LayoutC, e.traits.ElementC)
	if err != nil {
		return err
	}
	e.tensorD, err = NewHostTensor(e.ctx, M*L, N, e.traits.LayoutD, e.traits.ElementD)
	if err != nil {
		return err
	}
	e.refD, err = NewHostTensor(nil, M*L, N, e.traits.LayoutD, e.traits.ElementD)
	if err != nil {
		return err
	}

	if err := FillTensor(e.tensorC, e.initC, e.seed+2020); err != nil {
		return err
	}
	e.tensorC.Set(0, 0, 1)
	if err := e.tensorC.SyncDevice(); err != nil {
		return err
	}
	if err := e.tensorD.SyncDevice(); err != nil {
		return err
	}

	if err := e.initScalars(M, L); err != nil {
		return err
	}
	if err := e.initScaleFactors(); err != nil {
		return err
	}
	if err := e.initBias(M); err != nil {
		return err
	}
	if err := e.initAux(M, N, L); err != nil {
		return err
	}
	if err := e.initAbsMax(); err != nil {
		return err
	}

	e.activation = ActivationArguments{}
	switch e.caps.Activation {
	case ActScaledGELU:
		// The scaled variant exists to exercise the parameter path;
		// scale 1 keeps the reference identical to plain GELU.
		e.activation.Scale = 1
	case ActClamp:
		// Clamp configured as ReLU.
		e.activation.LowerBound = 0
		e.activation.UpperBound = math.MaxFloat32
	}
	return nil
}

func (e *FusionEpilogue) initScalars(m, l int) error {
	if e.vectorScale == VectorScaleEnabled {
		// Per-(row, batch) vectors of length M*L.
		var err error
		e.alphaDev, err = NewHostVector(e.ctx, m*l, ElementF32)
		if err != nil {
			return err
		}
		e.betaDev, err = NewHostVector(e.ctx, m*l, ElementF32)
		if err != nil {
			return err
		}
		if err := FillTensor(e.alphaDev, DistUniform, e.seed+2023); err != nil {
			return err
		}
		if e.beta != 0 {
			if err := FillTensor(e.betaDev, DistUniform, e.seed+2024); err != nil {
				return err
			}
		}
		// beta == 0 keeps the vector zero-filled so the vector path
		// still honors a beta-free epilogue.
		e.dAlpha = Stride{Row: 1, Col: 0, Batch: int64(m)}
		e.dBeta = e.dAlpha
	} else if e.scalarLoc == ScalarOnDevice && e.caps.PerRowScale {
		// Per-row-scale kernels take one randomly drawn scalar pair per
		// batch element when the scalars live on the device.
		var err error
		e.alphaDev, err = NewHostVector(e.ctx, l, ElementF32)
		if err != nil {
			return err
		}
		e.betaDev, err = NewHostVector(e.ctx, l, ElementF32)
		if err != nil {
			return err
		}
		if err := FillTensor(e.alphaDev, DistUniform, e.seed+2023); err != nil {
			return err
		}
		if e.beta != 0 {
			if err := FillTensor(e.betaDev, DistUniform, e.seed+2024); err != nil {
				return err
			}
		}
		e.dAlpha = Stride{Row: 0, Col: 0, Batch: 1}
		e.dBeta = e.dAlpha
	} else if e.scalarLoc == ScalarOnDevice {
		// One alpha for all batches, one beta per batch. The per-batch
		// perturbation beta+l proves the kernel indexes by batch.
		var err error
		e.alphaDev, err = NewHostVector(e.ctx, 1, ElementF32)
		if err != nil {
			return err
		}
		e.betaDev, err = NewHostVector(e.ctx, l, ElementF32)
		if err != nil {
			return err
		}
		e.alphaDev.Set(0, 0, e.alpha)
		for i := 0; i < l; i++ {
			e.betaDev.SetRaw(i, e.beta+float32(i))
		}
		e.dAlpha = Stride{}
		e.dBeta = Stride{Row: 0, Col: 0, Batch: 1}
	} else {
		return nil
	}
	if err := e.alphaDev.SyncDevice(); err != nil {
		return err
	}
	return e.betaDev.SyncDevice()
}

func (e *FusionEpilogue) initScaleFactors() error {
	if !e.caps.ScaleFactor {
		return nil
	}
	fill := func(t **HostTensor, seed uint64) error {
		v, err := NewHostVector(e.ctx, 1, ElementF32)
		if err != nil {
			return err
		}
		if err := FillTensor(v, DistUniform, seed); err != nil {
			return err
		}
		if err := v.SyncDevice(); err != nil {
			return err
		}
		*t = v
		return nil
	}
	if err := fill(&e.scaleA, e.seed+2023); err != nil {
		return err
	}
	if err := fill(&e.scaleB, e.seed+2024); err != nil {
		return err
	}
	if err := fill(&e.scaleC, e.seed+2025); err != nil {
		return err
	}
	if err := fill(&e.scaleD, e.seed+2026); err != nil {
		return err
	}
	if e.caps.AuxOut {
		return fill(&e.scaleAux, e.seed+2027)
	}
	return nil
}

func (e *FusionEpilogue) initBias(m int) error {
	if e.caps.PerRowBias {
		var err error
		e.bias, err = NewHostVector(e.ctx, m, e.traits.ElementBias)
		if err != nil {
			return err
		}
		if err := FillTensor(e.bias, DistUniform, e.seed+2023); err != nil {
			return err
		}
		if err := e.bias.SyncDevice(); err != nil {
			return err
		}
	}
	if e.caps.DeBias {
		var err error
		e.dBias, err = NewHostVector(e.ctx, m, e.traits.ElementBias)
		if err != nil {
			return err
		}
		if err := e.dBias.SyncDevice(); err != nil {
			return err
		}
		e.refDBias, err = NewHostVector(nil, m, e.traits.ElementBias)
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *FusionEpilogue) initAux(m, n, l int) error {
	if !e.caps.AuxIn && !e.caps.AuxOut {
		return nil
	}
	e.strideAux = PackedStride(e.traits.LayoutAux, m, n, l)
	var err error
	e.aux, err = NewHostTensor(e.ctx, m*l, n, e.traits.LayoutAux, e.traits.ElementAux)
	if err != nil {
		return err
	}
	if e.caps.AuxIn {
		if err := FillTensor(e.aux, DistUniform, e.seed+2023); err != nil {
			return err
		}
	}
	if err := e.aux.SyncDevice(); err != nil {
		return err
	}
	if e.caps.AuxOut {
		e.refAux, err = NewHostTensor(nil, m*l, n, e.traits.LayoutAux, e.traits.ElementAux)
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *FusionEpilogue) initAbsMax() error {
	// The device value is pre-filled with the largest finite value of
	// the accumulator type; a kernel that never writes it cannot pass.
	prime := func(dev, ref **HostTensor) error {
		d, err := NewHostVector(e.ctx, 1, e.traits.ElementAmax)
		if err != nil {
			return err
		}
		d.Set(0, 0, e.traits.ElementAmax.MaxFinite())
		if err := d.SyncDevice(); err != nil {
			return err
		}
		r, err := NewHostVector(nil, 1, e.traits.ElementAmax)
		if err != nil {
			return err
		}
		*dev, *ref = d, r
		return nil
	}
	if e.caps.AbsMaxD(e.traits.ElementD) {
		if err := prime(&e.amaxD, &e.refAmaxD); err != nil {
			return err
		}
	}
	if e.caps.AbsMaxAux(e.traits.ElementAux) {
		if err := prime(&e.amaxAux, &e.refAmaxAux); err != nil {
			return err
		}
	}
	return nil
}

// ToArgs assembles the epilogue argument bundle. Kernels declaring the
// legacy policy get the flat argument shape; everything else gets the
// general fusion bundle.
func (e *FusionEpilogue) ToArgs() EpilogueArguments {
	args := EpilogueArguments{
		C:       e.tensorC.DeviceData(),
		StrideC: e.strideC,
		D:       e.tensorD.DeviceData(),
		StrideD: e.strideD,
	}

	if e.traits.LegacyEpilogue {
		legacy := &LegacyEpilogueArguments{}
		if e.alphaDev != nil {
			legacy.AlphaPtr = e.alphaDev.DeviceData()
			legacy.BetaPtr = e.betaDev.DeviceData()
		} else {
			legacy.Alpha = e.alpha
			legacy.Beta = e.beta
		}
		if e.bias != nil {
			legacy.BiasPtr = e.bias.DeviceData()
		}
		if e.aux != nil {
			legacy.AuxPtr = e.aux.DeviceData()
		}
		args.Legacy = legacy
		return args
	}

	f := FusionArguments{Activation: e.activation}
	if e.alphaDev != nil {
		f.AlphaPtr = e.alphaDev.DeviceData()
		f.BetaPtr = e.betaDev.DeviceData()
		f.DAlpha = e.dAlpha
		f.DBeta = e.dBeta
	} else {
		f.Alpha = e.alpha
		f.Beta = e.beta
	}
	if e.caps.ScaleFactor {
		if e.scalarLoc == ScalarOnDevice {
			f.ScaleAPtr = e.scaleA.DeviceData()
			f.ScaleBPtr = e.scaleB.DeviceData()
			f.ScaleCPtr = e.scaleC.DeviceData()
			f.ScaleDPtr = e.scaleD.DeviceData()
		} else {
			f.ScaleA = e.scaleA.At(0, 0)
			f.ScaleB = e.scaleB.At(0, 0)
			f.ScaleC = e.scaleC.At(0, 0)
			f.ScaleD = e.scaleD.At(0, 0)
		}
	}
	if e.bias != nil {
		f.BiasPtr = e.bias.DeviceData()
	}
	if e.dBias != nil {
		f.DBiasPtr = e.dBias.DeviceData()
	}
	if e.amaxD != nil {
		f.AmaxDPtr = e.amaxD.DeviceData()
	}
	if e.aux != nil {
		f.AuxPtr = e.aux.DeviceData()
		f.DAux = e.strideAux
	}
	if e.scaleAux != nil {
		if e.scalarLoc == ScalarOnDevice {
			f.ScaleAuxPtr = e.scaleAux.DeviceData()
		} else {
			f.ScaleAux = e.scaleAux.At(0, 0)
		}
	}
	if e.amaxAux != nil {
		f.AmaxAuxPtr = e.amaxAux.DeviceData()
	}
	args.Fusion = f
	return args
}

// ToHostArgs exposes every enabled tensor to the reference computation.
func (e *FusionEpilogue) ToHostArgs(problem ProblemShape) EpilogueParams {
	params := EpilogueParams{
		Alpha:          e.alpha,
		Beta:           e.beta,
		C:              e.tensorC,
		D:              e.refD,
		StrideC:        e.strideC,
		StrideD:        e.strideD,
		ScaleA:         1,
		ScaleB:         1,
		ScaleC:         1,
		ScaleD:         1,
		ScaleAux:       1,
		Bias:           e.bias,
		DBias:          e.refDBias,
		Activation:     e.caps.Activation,
		ActivationArgs: e.activation,
		AbsMaxD:        e.refAmaxD,
		AbsMaxAux:      e.refAmaxAux,
	}
	if e.vectorScale == VectorScaleEnabled {
		params.AlphaVec = e.alphaDev
		params.BetaVec = e.betaDev
	} else if e.scalarLoc == ScalarOnDevice && e.caps.PerRowScale {
		params.AlphaBatch = e.alphaDev
		params.BetaBatch = e.betaDev
	} else if e.scalarLoc == ScalarOnDevice {
		params.PerBatchBeta = true
	}
	if e.caps.ScaleFactor {
		params.ScaleA = e.scaleA.At(0, 0)
		params.ScaleB = e.scaleB.At(0, 0)
		params.ScaleC = e.scaleC.At(0, 0)
		params.ScaleD = e.scaleD.At(0, 0)
		if e.scaleAux != nil {
			params.ScaleAux = e.scaleAux.At(0, 0)
		}
	}
	if e.caps.AuxIn {
		params.AuxIn = e.aux
	}
	if e.caps.AuxOut {
		params.AuxOut = e.refAux
	}
	return params
}

// CompareReference reads back every enabled output and checks each one
// against the reference. All checks run even after a failure so the log
// names every mismatching tensor.
func (e *FusionEpilogue) CompareReference(problem ProblemShape, check CheckEquality) bool {
	if err := e.tensorD.SyncHost(); err != nil {
		log.Error().Err(err).Msg("failed to read back D")
		return false
	}

	passed := true
	if e.tensorC.Size() > 1 && e.tensorC.Norm() <= 0 {
		log.Error().Msg("operand C has zero norm")
		passed = false
	}
	if e.tensorD.Size() > 1 && e.tensorD.Norm() <= 0 {
		log.Error().Msg("computed D has zero norm")
		passed = false
	}
	if e.refD.Size() > 1 && e.refD.Norm() <= 0 {
		log.Error().Msg("reference D has zero norm")
		passed = false
	}
	if !equalityCheck(check, e.refD, e.tensorD) {
		log.Error().Msg("D does not match reference")
		passed = false
	}

	if e.caps.AuxOut {
		if err := e.aux.SyncHost(); err != nil {
			log.Error().Err(err).Msg("failed to read back aux")
			return false
		}
		if e.aux.Norm() <= 0 {
			log.Error().Msg("computed aux has zero norm")
			passed = false
		}
		if e.refAux.Norm() <= 0 {
			log.Error().Msg("reference aux has zero norm")
			passed = false
		}
		if !equalityCheck(check, e.refAux, e.aux) {
			log.Error().Msg("aux output does not match reference")
			passed = false
		}
	}
	if e.caps.DeBias {
		if err := e.dBias.SyncHost(); err != nil {
			log.Error().Err(err).Msg("failed to read back bias gradient")
			return false
		}
		if e.dBias.Norm() <= 0 {
			log.Error().Msg("computed bias gradient has zero norm")
			passed = false
		}
		if e.refDBias.Norm() <= 0 {
			log.Error().Msg("reference bias gradient has zero norm")
			passed = false
		}
		if !equalityCheck(check, e.refDBias, e.dBias) {
			log.Error().Msg("bias gradient does not match reference")
			passed = false
		}
	}
	if e.amaxD != nil {
		if err := e.amaxD.SyncHost(); err != nil {
			log.Error().Err(err).Msg("failed to read back amax D")
			return false
		}
		if !equalityCheck(check, e.refAmaxD, e.amaxD) {
			log.Error().Msg("abs-max of D does not match reference")
			passed = false
		}
	}
	if e.amaxAux != nil {
		if err := e.amaxAux.SyncHost(); err != nil {
			log.Error().Err(err).Msg("failed to read back amax aux")
			return false
		}
		if !equalityCheck(check, e.refAmaxAux, e.amaxAux) {
			log.Error().Msg("abs-max of aux does not match reference")
			passed = false
		}
	}
	return passed
}

// PrintTensors writes every value the failure could implicate: the
// scale factors, the alpha/beta scalars or vectors, the abs-max pairs,
// bias and auxiliary tensors, the bias-gradient pair, and finally C,
// the reference, and the computed D.
func (e *FusionEpilogue) PrintTensors(w io.Writer) {
	if e.caps.ScaleFactor {
		fmt.Fprintf(w, "scale_a: %g, scale_b: %g, scale_c: %g, scale_d: %g\n",
			e.scaleA.At(0, 0), e.scaleB.At(0, 0), e.scaleC.At(0, 0), e.scaleD.At(0, 0))
	}
	if e.scaleAux != nil {
		fmt.Fprintf(w, "scale_aux: %g\n", e.scaleAux.At(0, 0))
	}
	if e.alphaDev != nil {
		fmt.Fprintf(w, "\nvalpha =\n")
		writeTensor(w, e.alphaDev)
		fmt.Fprintf(w, "\nvbeta =\n")
		writeTensor(w, e.betaDev)
	} else {
		fmt.Fprintf(w, "\nalpha = %g\nbeta = %g\n", e.alpha, e.beta)
	}
	if e.amaxD != nil {
		fmt.Fprintf(w, "\nreference abs_max_D = %g\n", e.refAmaxD.At(0, 0))
		fmt.Fprintf(w, "computed abs_max_D = %g\n", e.amaxD.At(0, 0))
	}
	if e.amaxAux != nil {
		fmt.Fprintf(w, "\nreference abs_max_Aux = %g\n", e.refAmaxAux.At(0, 0))
		fmt.Fprintf(w, "computed abs_max_Aux = %g\n", e.amaxAux.At(0, 0))
	}
	if e.bias != nil {
		fmt.Fprintf(w, "\nbias =\n")
		writeTensor(w, e.bias)
	}
	if e.dBias != nil {
		fmt.Fprintf(w, "\nreference dbias =\n")
		writeTensor(w, e.refDBias)
		fmt.Fprintf(w, "\ncomputed dbias =\n")
		writeTensor(w, e.dBias)
	}
	if e.caps.AuxIn && e.aux != nil {
		fmt.Fprintf(w, "\naux input =\n")
		writeTensor(w, e.aux)
	}
	if e.refAux != nil {
		fmt.Fprintf(w, "\nreference aux =\n")
		writeTensor(w, e.refAux)
		fmt.Fprintf(w, "\ncomputed aux =\n")
		writeTensor(w, e.aux)
	}
	fmt.Fprintf(w, "\nC =\n")
	writeTensor(w, e.tensorC)
	fmt.Fprintf(w, "\nReference =\n")
	writeTensor(w, e.refD)
	fmt.Fprintf(w, "\nComputed =\n")
	writeTensor(w, e.tensorD)
}

// Free releases the device mirrors of every allocated tensor.
func (e *FusionEpilogue) Free() {
	for _, t := range []*HostTensor{
		e.tensorC, e.tensorD, e.alphaDev, e.betaDev,
		e.scaleA, e.scaleB, e.scaleC, e.scaleD, e.scaleAux,
		e.bias, e.dBias, e.aux, e.amaxD, e.amaxAux,
	} {
		if t != nil {
			t.Free()
		}
	}
}
