// Package simd provides the vector kernels used on the query hot path.
//
// Kernels are selected once at startup based on CPU capability (AVX2,
// AVX-512, NEON). Every kernel has a portable scalar implementation; the
// vectorized variants match it up to float rounding (they sum in a
// different order). The vectorized variants are written so the
// compiler can auto-vectorize the inner loops on capable targets. There
// are no suspension points inside any kernel.
package simd
