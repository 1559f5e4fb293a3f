//go:build linux && amd64

package faultsource

import "syscall"

func instructionPointer(regs *syscall.PtraceRegs) uintptr {
	return uintptr(regs.Rip)
}
