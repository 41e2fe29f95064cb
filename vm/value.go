package vm

import (
	"fmt"
	"math"
)

// Kind identifies the variant carried by a Value.
type Kind uint8

const (
	KindNop Kind = iota
	KindBoolean
	KindInt32
	KindUInt
	KindPointer
	KindLabel
	KindAddress
	KindRegister
	KindThread

	kindCount
)

var kindNames = [kindCount]string{
	KindNop:      "Nop",
	KindBoolean:  "Boolean",
	KindInt32:    "Int32",
	KindUInt:     "UInt",
	KindPointer:  "Pointer",
	KindLabel:    "Label",
	KindAddress:  "Address",
	KindRegister: "Register",
	KindThread:   "Thread",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k names a known variant.
func (k Kind) Valid() bool {
	return k < kindCount
}

// IsCapability reports whether values of this kind may only be produced by
// the machine itself (Lea, call/return) and never moved in as literals.
func (k Kind) IsCapability() bool {
	switch k {
	case KindPointer, KindLabel, KindAddress, KindThread:
		return true
	}
	return false
}

// Value is the machine's tagged value. The payload of every variant fits in
// 64 bits, so values are small, comparable, and copied by assignment.
// The zero Value is Nop.
type Value struct {
	kind Kind
	bits uint64
}

// Nop is the empty value.
var Nop = Value{}

func Bool(b bool) Value {
	if b {
		return Value{kind: KindBoolean, bits: 1}
	}
	return Value{kind: KindBoolean}
}

func Int32(i int32) Value { return Value{kind: KindInt32, bits: uint64(uint32(i))} }

func UInt(u uint64) Value { return Value{kind: KindUInt, bits: u} }

func Pointer(p uint64) Value { return Value{kind: KindPointer, bits: p} }

func Label(pc int) Value { return Value{kind: KindLabel, bits: uint64(pc)} }

func Address(pc int) Value { return Value{kind: KindAddress, bits: uint64(pc)} }

func Reg(r Register) Value { return Value{kind: KindRegister, bits: uint64(r)} }

func Thread(h uint64) Value { return Value{kind: KindThread, bits: h} }

// FromRaw rebuilds a value from its kind and raw payload, as produced by
// Kind and Raw. Payloads that do not fit the variant are rejected.
func FromRaw(k Kind, raw uint64) (Value, error) {
	switch k {
	case KindNop:
		if raw != 0 {
			return Nop, fmt.Errorf("%w: Nop with payload %d", ErrTypeMismatch, raw)
		}
	case KindBoolean:
		if raw > 1 {
			return Nop, fmt.Errorf("%w: Boolean payload %d", ErrTypeMismatch, raw)
		}
	case KindInt32:
		if raw > math.MaxUint32 {
			return Nop, fmt.Errorf("%w: Int32 payload %d", ErrTypeMismatch, raw)
		}
	case KindRegister:
		if raw >= NumRegisters {
			return Nop, fmt.Errorf("%w: register %d", ErrTypeMismatch, raw)
		}
	case KindLabel, KindAddress:
		if raw > math.MaxInt {
			return Nop, fmt.Errorf("%w: %s payload %d", ErrTypeMismatch, k, raw)
		}
	case KindUInt, KindPointer, KindThread:
	default:
		return Nop, fmt.Errorf("%w: unknown kind %d", ErrTypeMismatch, uint8(k))
	}
	return Value{kind: k, bits: raw}, nil
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// Raw returns the untyped payload.
func (v Value) Raw() uint64 { return v.bits }

func (v Value) IsNop() bool { return v.kind == KindNop }

func (v Value) AsBool() (bool, bool) {
	return v.bits != 0, v.kind == KindBoolean
}

func (v Value) AsInt32() (int32, bool) {
	return int32(uint32(v.bits)), v.kind == KindInt32
}

func (v Value) AsUInt() (uint64, bool) {
	return v.bits, v.kind == KindUInt
}

func (v Value) AsPointer() (uint64, bool) {
	return v.bits, v.kind == KindPointer
}

func (v Value) AsLabel() (int, bool) {
	return int(v.bits), v.kind == KindLabel
}

func (v Value) AsAddress() (int, bool) {
	return int(v.bits), v.kind == KindAddress
}

func (v Value) AsRegister() (Register, bool) {
	return Register(v.bits), v.kind == KindRegister
}

func (v Value) AsThread() (uint64, bool) {
	return v.bits, v.kind == KindThread
}

func (v Value) String() string {
	switch v.kind {
	case KindNop:
		return "Nop"
	case KindBoolean:
		b, _ := v.AsBool()
		return fmt.Sprintf("Boolean(%t)", b)
	case KindInt32:
		i, _ := v.AsInt32()
		return fmt.Sprintf("Int32(%d)", i)
	case KindRegister:
		return fmt.Sprintf("Register(%s)", Register(v.bits))
	case KindPointer:
		return fmt.Sprintf("Pointer(0x%x)", v.bits)
	default:
		return fmt.Sprintf("%s(%d)", v.kind, v.bits)
	}
}
