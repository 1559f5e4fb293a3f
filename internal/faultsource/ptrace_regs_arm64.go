//go:build linux && arm64

package faultsource

import "syscall"

func instructionPointer(regs *syscall.PtraceRegs) uintptr {
	return uintptr(regs.Pc)
}
