package kernels

import (
	"math"

	"github.com/LynnColeArt/gemmbed"
	"github.com/LynnColeArt/gemmbed/device"
)

// epilogueState is the kernel's resolved epilogue configuration:
// argument pointers materialized as slices, scale factors resolved to
// values, and capabilities gated by the traits. Resolution happens once
// at Initialize so the per-element path stays branch-light.
type epilogueState struct {
	problem gemmbed.ProblemShape

	layoutC, layoutD, layoutAux gemmbed.Layout
	elemD, elemAux              gemmbed.Element

	alpha, beta       float32
	alphaBuf, betaBuf []float32
	dAlpha, dBeta     gemmbed.Stride

	scaleA, scaleB, scaleC, scaleD, scaleAux float32

	bias          []float32
	cBuf, dBuf    []float32
	auxIn, auxOut []float32

	act     gemmbed.ActivationKind
	actArgs gemmbed.ActivationArguments

	trackAmaxD, trackAmaxAux bool
	amaxDBuf, amaxAuxBuf     []float32
}

func resolveEpilogue(traits gemmbed.Traits, args gemmbed.Arguments) epilogueState {
	caps := gemmbed.FusionCaps{}
	if traits.Fusion != nil {
		caps = *traits.Fusion
	}

	e := epilogueState{
		problem:   args.Problem,
		layoutC:   traits.LayoutC,
		layoutD:   traits.LayoutD,
		layoutAux: traits.LayoutAux,
		elemD:     traits.ElementD,
		elemAux:   traits.ElementAux,
		scaleA:    1, scaleB: 1, scaleC: 1, scaleD: 1, scaleAux: 1,
		dBuf: args.Epilogue.D.Float32(),
		act:  caps.Activation,
	}
	if !args.Epilogue.C.IsNil() {
		e.cBuf = args.Epilogue.C.Float32()
	}

	if legacy := args.Epilogue.Legacy; legacy != nil {
		e.alpha, e.beta = legacy.Alpha, legacy.Beta
		if !legacy.AlphaPtr.IsNil() {
			e.alphaBuf = legacy.AlphaPtr.Float32()
			e.betaBuf = legacy.BetaPtr.Float32()
		}
		if caps.PerRowBias && !legacy.BiasPtr.IsNil() {
			e.bias = legacy.BiasPtr.Float32()
		}
		if !legacy.AuxPtr.IsNil() {
			if caps.AuxOut {
				e.auxOut = legacy.AuxPtr.Float32()
			} else if caps.AuxIn {
				e.auxIn = legacy.AuxPtr.Float32()
			}
		}
		return e
	}

	f := args.Epilogue.Fusion
	e.alpha, e.beta = f.Alpha, f.Beta
	e.actArgs = f.Activation
	if !f.AlphaPtr.IsNil() {
		e.alphaBuf = f.AlphaPtr.Float32()
		e.betaBuf = f.BetaPtr.Float32()
		e.dAlpha = f.DAlpha
		e.dBeta = f.DBeta
	}

	if caps.ScaleFactor {
		e.scaleA = scalarOf(f.ScaleA, f.ScaleAPtr)
		e.scaleB = scalarOf(f.ScaleB, f.ScaleBPtr)
		e.scaleC = scalarOf(f.ScaleC, f.ScaleCPtr)
		e.scaleD = scalarOf(f.ScaleD, f.ScaleDPtr)
		if caps.AuxOut {
			e.scaleAux = scalarOf(f.ScaleAux, f.ScaleAuxPtr)
		}
	}
	if caps.PerRowBias && !f.BiasPtr.IsNil() {
		e.bias = f.BiasPtr.Float32()
	}
	if !f.AuxPtr.IsNil() {
		if caps.AuxOut {
			e.auxOut = f.AuxPtr.Float32()
		} else if caps.AuxIn {
			e.auxIn = f.AuxPtr.Float32()
		}
	}
	if caps.AbsMaxD(traits.ElementD) && !f.AmaxDPtr.IsNil() {
		e.trackAmaxD = true
		e.amaxDBuf = f.AmaxDPtr.Float32()
	}
	if caps.AbsMaxAux(traits.ElementAux) && !f.AmaxAuxPtr.IsNil() {
		e.trackAmaxAux = true
		e.amaxAuxBuf = f.AmaxAuxPtr.Float32()
	}
	return e
}

func scalarOf(v float32, ptr device.DevicePtr) float32 {
	if !ptr.IsNil() {
		return ptr.Float32()[0]
	}
	return v
}

func (e *epilogueState) alphaAt(m, l int) float32 {
	if e.alphaBuf == nil {
		return e.alpha
	}
	return e.alphaBuf[m*int(e.dAlpha.Row)+l*int(e.dAlpha.Batch)]
}

func (e *epilogueState) betaAt(m, l int) float32 {
	if e.betaBuf == nil {
		return e.beta
	}
	return e.betaBuf[m*int(e.dBeta.Row)+l*int(e.dBeta.Batch)]
}

// apply runs the epilogue for one output element. The arithmetic is
// float64 with float32 narrowing at exactly the points the host
// reference narrows, so a data-parallel run agrees with it bitwise.
func (e *epilogueState) apply(m, n, l int, acc float64, dbias []float64, localAmaxD, localAmaxAux *float64) {
	M, N, L := e.problem.M, e.problem.N, e.problem.L

	alphaEff := float64(e.alphaAt(m, l)) * float64(e.scaleA) * float64(e.scaleB)
	betaEff := float64(e.betaAt(m, l)) * float64(e.scaleC)

	z := alphaEff * acc
	if betaEff != 0 {
		z += betaEff * float64(e.cBuf[operandIndex(e.layoutC, M*L, N, l*M+m, n)])
	}
	if e.bias != nil {
		z += float64(e.bias[m])
	}
	if e.auxIn != nil {
		z += float64(e.auxIn[operandIndex(e.layoutAux, M*L, N, l*M+m, n)])
	}
	if e.auxOut != nil {
		if a := math.Abs(z); a > *localAmaxAux {
			*localAmaxAux = a
		}
		e.auxOut[operandIndex(e.layoutAux, M*L, N, l*M+m, n)] = e.elemAux.Quantize(float32(float64(e.scaleAux) * z))
	}

	d := float64(gemmbed.ApplyActivation(e.act, e.actArgs, float32(z)))
	if a := math.Abs(d); a > *localAmaxD {
		*localAmaxD = a
	}
	e.dBuf[operandIndex(e.layoutD, M*L, N, l*M+m, n)] = e.elemD.Quantize(float32(float64(e.scaleD) * d))

	if dbias != nil {
		dbias[(l*M+m)*N+n] = d
	}
}
