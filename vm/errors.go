package vm

import (
	"errors"
	"fmt"
)

// Every condition below is fatal to the running program. The VM never
// recovers from one internally; Step and Run hand it back wrapped in a
// *Fault and the caller decides whether to crash, log, or exit.
var (
	ErrPCOutOfRange     = errors.New("program counter out of range")
	ErrLabelOutOfRange  = errors.New("label out of range")
	ErrEmptyRegister    = errors.New("register is empty")
	ErrTypeMismatch     = errors.New("type mismatch")
	ErrForgedCapability = errors.New("capability value cannot be moved into a register")
	ErrEmptyFrame       = errors.New("stack frame is empty")
	ErrOffsetOutOfRange = errors.New("stack offset out of range")
	ErrFrameUnderflow   = errors.New("cannot pop the root stack frame")
	ErrUnknownNative    = errors.New("unknown native function")
	ErrNativeFailed     = errors.New("native function failed")
	ErrUnimplemented    = errors.New("instruction not implemented")
	ErrDivideByZero     = errors.New("division by zero")
	ErrBadOperands      = errors.New("bad operand registers")
	ErrBadRegister      = errors.New("no such register")
	ErrClosed           = errors.New("vm is closed")
)

// Fault is the error returned by Step and Run. It records where the
// machine stopped and why.
type Fault struct {
	PC  int
	Op  Opcode
	Err error
}

func (f *Fault) Error() string {
	if !f.Op.Valid() {
		return fmt.Sprintf("vm: fault at %04d: %v", f.PC, f.Err)
	}
	return fmt.Sprintf("vm: fault at %04d (%s): %v", f.PC, f.Op, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// mismatch reports a register or operand holding the wrong variant.
func mismatch(where string, want Kind, got Value) error {
	return fmt.Errorf("%w: %s holds %s, want %s", ErrTypeMismatch, where, got, want)
}
