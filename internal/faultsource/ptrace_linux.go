//go:build linux

package faultsource

import "syscall"

// faultInstructionPointer resolves the program counter of the thread
// currently blocked on a write-protect fault, per SPEC_FULL.md §13:
// userfaultfd only reports the faulting data address, not the faulting
// instruction, so the instruction pointer is recovered with a best-effort
// PTRACE_GETREGS on the reported thread id. The thread is already
// stopped inside the kernel's fault handler waiting for
// UFFDIO_WRITEPROTECT to lift, so attaching briefly does not change
// program behavior; if ptrace is unavailable (no CAP_SYS_PTRACE, a
// restrictive yama ptrace_scope, or a sandboxed namespace) fip is left
// zero and the worker reports a partially-filled "where" per spec.md §4.7.
func faultInstructionPointer(tid int32) uintptr {
	if tid <= 0 {
		return 0
	}

	pid := int(tid)

	if err := syscall.PtraceAttach(pid); err != nil {
		return 0
	}
	defer syscall.PtraceDetach(pid) //nolint:errcheck

	var ws syscall.WaitStatus
	if _, err := syscall.Wait4(pid, &ws, 0, nil); err != nil {
		return 0
	}

	var regs syscall.PtraceRegs
	if err := syscall.PtraceGetRegs(pid, &regs); err != nil {
		return 0
	}

	return instructionPointer(&regs)
}
