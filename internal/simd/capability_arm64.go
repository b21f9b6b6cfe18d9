//go:build arm64

package simd

// NEON is baseline on arm64.
func detect() Level { return LevelNEON }
