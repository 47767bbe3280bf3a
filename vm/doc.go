// Package vm implements the Corvid bytecode virtual machine.
//
// This package contains:
//   - NaN-boxed value representation with registry handles
//   - Fixed-width instruction set, assembler, and disassembler
//   - Stack-based dispatch loop with block-structured unwinding
//   - Data-carried guest exceptions with tracebacks
//   - Heap-state coroutines with send/throw/close
//   - Mark/sweep reclamation over the handle registries
package vm
