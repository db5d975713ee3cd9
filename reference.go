package gemmbed

import "math"

// GemmReference computes the verification output on the host. The
// mainloop accumulates in float64, sequentially over K, which is also
// how the in-tree kernels accumulate; data-parallel runs therefore
// match the reference bit for bit. The epilogue mirrors the full fusion
// pipeline: scale factors fold into alpha/beta, then bias, auxiliary
// input, activation, abs-max tracking, output scaling, and the bias
// gradient reduction.
//
// Operands hold real values, so the conjugate transform tags are
// identities here; they travel with the host args for kernels that
// declare them.
func GemmReference(problem ProblemShape, mainloop MainloopParams, epilogue EpilogueParams) {
	p := problem.Canonicalize()
	M, N, K, L := p.M, p.N, p.K, p.L

	amaxD := 0.0
	amaxAux := 0.0

	var dbias []float64
	if epilogue.DBias != nil {
		dbias = make([]float64, M)
	}

	for l := 0; l < L; l++ {
		for m := 0; m < M; m++ {
			alpha, beta := effectiveScalars(epilogue, m, l, M)
			alphaEff := float64(alpha) * float64(epilogue.ScaleA) * float64(epilogue.ScaleB)
			betaEff := float64(beta) * float64(epilogue.ScaleC)

			for n := 0; n < N; n++ {
				acc := 0.0
				for k := 0; k < K; k++ {
					a := mainloop.A.At(l*M+m, k)
					b := mainloop.B.At(k, l*N+n)
					acc += float64(a) * float64(b)
				}

				z := alphaEff * acc
				if betaEff != 0 {
					z += betaEff * float64(epilogue.C.At(l*M+m, n))
				}
				if epilogue.Bias != nil {
					z += float64(epilogue.Bias.AtRaw(m))
				}
				if epilogue.AuxIn != nil {
					z += float64(epilogue.AuxIn.At(l*M+m, n))
				}

				if epilogue.AuxOut != nil {
					// Aux stores the pre-activation value; its abs-max
					// and scale apply to that value.
					if a := math.Abs(z); a > amaxAux {
						amaxAux = a
					}
					epilogue.AuxOut.Set(l*M+m, n, float32(float64(epilogue.ScaleAux)*z))
				}

				d := float64(ApplyActivation(epilogue.Activation, epilogue.ActivationArgs, float32(z)))
				if a := math.Abs(d); a > amaxD {
					amaxD = a
				}
				epilogue.D.Set(l*M+m, n, float32(float64(epilogue.ScaleD)*d))

				if dbias != nil {
					dbias[m] += d
				}
			}
		}
	}

	if dbias != nil {
		for m := 0; m < M; m++ {
			epilogue.DBias.SetRaw(m, float32(dbias[m]))
		}
	}

	if epilogue.AbsMaxD != nil {
		epilogue.AbsMaxD.Set(0, 0, float32(amaxD))
	}
	if epilogue.AbsMaxAux != nil {
		epilogue.AbsMaxAux.Set(0, 0, float32(amaxAux))
	}
}

// effectiveScalars resolves alpha and beta for one output row: vector
// entries when per-row scaling is on, per-batch entries when the
// kernel takes one scalar pair per batch element, the per-batch
// perturbed beta when scalars live on the device, plain scalars
// otherwise.
func effectiveScalars(epilogue EpilogueParams, m, l, rowsPerBatch int) (float32, float32) {
	alpha, beta := epilogue.Alpha, epilogue.Beta
	if epilogue.AlphaVec != nil {
		alpha = epilogue.AlphaVec.AtRaw(l*rowsPerBatch + m)
	} else if epilogue.AlphaBatch != nil {
		alpha = epilogue.AlphaBatch.AtRaw(l)
	}
	if epilogue.BetaVec != nil {
		beta = epilogue.BetaVec.AtRaw(l*rowsPerBatch + m)
	} else if epilogue.BetaBatch != nil {
		beta = epilogue.BetaBatch.AtRaw(l)
	} else if epilogue.PerBatchBeta {
		beta += float32(l)
	}
	return alpha, beta
}
