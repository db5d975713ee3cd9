// Package gemmbed is a correctness and performance verification harness
// for tiled GEMM kernels running on the simulated device runtime in
// package device.
//
// The harness provisions operands on host and device, assembles the
// kernel's argument bundle, drives its lifecycle (CanImplement,
// Initialize, Run, synchronize), and verifies the output against a
// host reference that models the full fusion epilogue. Configuration
// sweeps cover problem shapes derived from the kernel's alignment and
// tile geometry, raster orders, swizzle sizes, and for stream-K
// schedulers the decomposition modes and split counts.
//
// Verification supports exact and relative equality. Host tensors
// store float32 with a logical element tag (f16, bf16, fp8, int8)
// that quantizes values onto the narrower type's grid, so narrow-type
// kernels are verified without carrying native narrow arithmetic.
package gemmbed
