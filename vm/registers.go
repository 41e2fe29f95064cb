package vm

import (
	"fmt"
	"strings"
)

// Register names one slot of the register file.
type Register uint8

const (
	R0 Register = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15

	NumRegisters = 16
)

const (
	// RegArg carries the argument into a native call.
	RegArg = R9
	// RegRet receives the value a native call returns.
	RegRet = R10

	// NoRegister marks an absent optional register operand.
	NoRegister Register = 0xFF
)

func (r Register) String() string {
	if r == NoRegister {
		return "_"
	}
	return fmt.Sprintf("R%d", uint8(r))
}

// Valid reports whether r addresses a slot in the register file.
func (r Register) Valid() bool {
	return r < NumRegisters
}

type slot struct {
	value Value
	full  bool
}

// Registers is the register file. Each slot holds at most one value and
// starts empty; reading an empty slot is an error.
type Registers struct {
	slots [NumRegisters]slot
}

// NewRegisters returns an empty register file.
func NewRegisters() *Registers {
	return &Registers{}
}

func (rs *Registers) slot(r Register) (*slot, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrBadRegister, r)
	}
	return &rs.slots[r], nil
}

// Get returns the current value of r.
func (rs *Registers) Get(r Register) (Value, error) {
	s, err := rs.slot(r)
	if err != nil {
		return Nop, err
	}
	if !s.full {
		return Nop, fmt.Errorf("%w: %s", ErrEmptyRegister, r)
	}
	return s.value, nil
}

// Take returns the value of r and leaves the slot empty. Ownership of the
// value moves to the caller.
func (rs *Registers) Take(r Register) (Value, error) {
	v, err := rs.Get(r)
	if err != nil {
		return Nop, err
	}
	rs.slots[r] = slot{}
	return v, nil
}

// Copy returns a duplicate of r's value; the slot is unchanged.
func (rs *Registers) Copy(r Register) (Value, error) {
	return rs.Get(r)
}

// Set stores v in r, discarding any previous occupant.
func (rs *Registers) Set(r Register, v Value) error {
	s, err := rs.slot(r)
	if err != nil {
		return err
	}
	*s = slot{value: v, full: true}
	return nil
}

// IsSet reports whether r currently holds a value.
func (rs *Registers) IsSet(r Register) bool {
	return r.Valid() && rs.slots[r].full
}

// Kinded reads r and checks that it holds the wanted variant.
func (rs *Registers) Kinded(r Register, want Kind) (Value, error) {
	v, err := rs.Get(r)
	if err != nil {
		return Nop, err
	}
	if v.Kind() != want {
		return Nop, mismatch(r.String(), want, v)
	}
	return v, nil
}

// Reset empties every slot.
func (rs *Registers) Reset() {
	rs.slots = [NumRegisters]slot{}
}

func (rs *Registers) String() string {
	var sb strings.Builder
	for i, s := range rs.slots {
		if !s.full {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%s=%s", Register(i), s.value)
	}
	if sb.Len() == 0 {
		return "(empty)"
	}
	return sb.String()
}
