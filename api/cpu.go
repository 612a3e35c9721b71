// File: api/cpu.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Guest execution context exposed to the CPU execution loop. The kernel
// saves and restores these on context switches; interpreting instructions
// against the context is the execution loop's business.

package api

// ThreadContext is the saved register file of a guest thread.
type ThreadContext struct {
	CPURegisters [31]uint64
	SP           uint64
	PC           uint64
	CPSR         uint32
	FPSCR        uint32
	TPIDR        uint64
}

// Reset prepares the context for first dispatch: argument in register 0,
// program counter at the entry point, stack pointer at the stack top.
func (c *ThreadContext) Reset(stackTop, entryPoint VAddr, arg uint64) {
	*c = ThreadContext{}
	c.CPURegisters[0] = arg
	c.PC = entryPoint
	c.SP = stackTop
}
