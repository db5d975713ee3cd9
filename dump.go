package gemmbed

import (
	"fmt"
	"io"
	"os"
)

// writeTensor writes a tensor row by row in logical coordinates.
func writeTensor(w io.Writer, t *HostTensor) {
	for r := 0; r < t.Rows(); r++ {
		for c := 0; c < t.Cols(); c++ {
			if c > 0 {
				fmt.Fprint(w, " ")
			}
			fmt.Fprintf(w, "%g", t.At(r, c))
		}
		fmt.Fprintln(w)
	}
}

// errorDumpName returns the dump filename for a failed run. The format
// is fixed; downstream tooling greps for it.
func errorDumpName(p ProblemShape, tile TileShape) string {
	return fmt.Sprintf("error_Gemm_device_%dx%dx%dx%d_%d_%d_%d.txt",
		p.M, p.N, p.K, p.L, tile.M, tile.N, tile.K)
}

// dumpFailure writes the full run context next to the test binary so a
// mismatch can be diffed post mortem.
func dumpFailure(p ProblemShape, tile TileShape, alpha, beta float32, mainloop HostMainloop, epilogue HostEpilogue) {
	name := errorDumpName(p, tile)
	f, err := os.Create(name)
	if err != nil {
		log.Error().Err(err).Str("file", name).Msg("could not write error dump")
		return
	}
	defer f.Close()

	fmt.Fprintf(f, "problem: %d x %d x %d x %d\n", p.M, p.N, p.K, p.L)
	fmt.Fprintf(f, "alpha: %g  beta: %g\n\n", alpha, beta)
	mainloop.PrintTensors(f)
	fmt.Fprintln(f)
	epilogue.PrintTensors(f)

	log.Info().Str("file", name).Msg("wrote error dump")
}
