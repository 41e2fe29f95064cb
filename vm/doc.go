// Package vm implements the Allot virtual machine.
//
// This package contains:
//   - Tagged value representation
//   - Register file with move/copy accessors
//   - Call frame stack
//   - Shared heap handle
//   - Instruction set and register operators
//   - The execution engine (step and run-to-halt loop)
package vm
