//go:build amd64

package simd

import "golang.org/x/sys/cpu"

func detect() Level {
	if cpu.X86.HasAVX512F && cpu.X86.HasAVX512DQ {
		return LevelAVX512
	}
	if cpu.X86.HasAVX2 && cpu.X86.HasFMA {
		return LevelAVX2
	}
	return LevelScalar
}
