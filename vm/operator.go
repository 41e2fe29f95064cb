package vm

import "fmt"

// Operator is a primitive executed by the OP instruction against the
// register file. The first register is the destination; the rest are
// operands, read without being cleared.
type Operator uint8

const (
	PrimAdd Operator = iota
	PrimSub
	PrimMul
	PrimDiv
	PrimRem
	PrimNeg
	PrimEq
	PrimNe
	PrimLt
	PrimLe
	PrimGt
	PrimGe
	PrimNot
	PrimAnd
	PrimOr

	operatorCount
)

var operatorNames = [operatorCount]string{
	PrimAdd: "add", PrimSub: "sub", PrimMul: "mul", PrimDiv: "div", PrimRem: "rem",
	PrimNeg: "neg", PrimEq: "eq", PrimNe: "ne", PrimLt: "lt", PrimLe: "le",
	PrimGt: "gt", PrimGe: "ge", PrimNot: "not", PrimAnd: "and", PrimOr: "or",
}

func (o Operator) String() string {
	if o < operatorCount {
		return operatorNames[o]
	}
	return fmt.Sprintf("operator(%d)", uint8(o))
}

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	return o < operatorCount
}

// Arity is the number of operand registers o reads.
func (o Operator) Arity() int {
	switch o {
	case PrimNeg, PrimNot:
		return 1
	}
	return 2
}

// Equal compares two values. It yields Boolean when both share a variant
// and Nop when they cannot be compared.
func Equal(a, b Value) Value {
	if a.kind != b.kind {
		return Nop
	}
	return Bool(a.bits == b.bits)
}

// Solve applies o to the operand registers and writes the result into the
// destination register regs[0].
func (o Operator) Solve(rs *Registers, regs []Register) error {
	if !o.Valid() {
		return fmt.Errorf("%w: %s", ErrBadOperands, o)
	}
	if len(regs) != o.Arity()+1 {
		return fmt.Errorf("%w: %s takes %d operands, got %d", ErrBadOperands, o, o.Arity(), len(regs)-1)
	}

	args := make([]Value, len(regs)-1)
	for i, r := range regs[1:] {
		v, err := rs.Copy(r)
		if err != nil {
			return err
		}
		args[i] = v
	}

	var (
		out Value
		err error
	)
	if o.Arity() == 1 {
		out, err = o.unary(args[0])
	} else {
		out, err = o.binary(args[0], args[1])
	}
	if err != nil {
		return err
	}
	return rs.Set(regs[0], out)
}

func (o Operator) unary(a Value) (Value, error) {
	switch o {
	case PrimNeg:
		if i, ok := a.AsInt32(); ok {
			return Int32(-i), nil
		}
		return Nop, mismatch("neg operand", KindInt32, a)
	case PrimNot:
		if b, ok := a.AsBool(); ok {
			return Bool(!b), nil
		}
		return Nop, mismatch("not operand", KindBoolean, a)
	}
	return Nop, fmt.Errorf("%w: %s is not unary", ErrBadOperands, o)
}

func (o Operator) binary(a, b Value) (Value, error) {
	if a.kind != b.kind {
		return Nop, fmt.Errorf("%w: %s of %s and %s", ErrTypeMismatch, o, a, b)
	}

	switch o {
	case PrimEq:
		return Equal(a, b), nil
	case PrimNe:
		return Bool(a.bits != b.bits), nil
	case PrimAnd, PrimOr:
		x, ok := a.AsBool()
		if !ok {
			return Nop, mismatch(o.String()+" operand", KindBoolean, a)
		}
		y, _ := b.AsBool()
		if o == PrimAnd {
			return Bool(x && y), nil
		}
		return Bool(x || y), nil
	}

	switch a.kind {
	case KindInt32:
		x, _ := a.AsInt32()
		y, _ := b.AsInt32()
		return solveInt32(o, x, y)
	case KindUInt:
		return solveUInt(o, a.bits, b.bits)
	}
	return Nop, fmt.Errorf("%w: %s on %s", ErrTypeMismatch, o, a.kind)
}

func solveInt32(o Operator, x, y int32) (Value, error) {
	switch o {
	case PrimAdd:
		return Int32(x + y), nil
	case PrimSub:
		return Int32(x - y), nil
	case PrimMul:
		return Int32(x * y), nil
	case PrimDiv:
		if y == 0 {
			return Nop, ErrDivideByZero
		}
		return Int32(x / y), nil
	case PrimRem:
		if y == 0 {
			return Nop, ErrDivideByZero
		}
		return Int32(x % y), nil
	case PrimLt:
		return Bool(x < y), nil
	case PrimLe:
		return Bool(x <= y), nil
	case PrimGt:
		return Bool(x > y), nil
	case PrimGe:
		return Bool(x >= y), nil
	}
	return Nop, fmt.Errorf("%w: %s on Int32", ErrTypeMismatch, o)
}

func solveUInt(o Operator, x, y uint64) (Value, error) {
	switch o {
	case PrimAdd:
		return UInt(x + y), nil
	case PrimSub:
		return UInt(x - y), nil
	case PrimMul:
		return UInt(x * y), nil
	case PrimDiv:
		if y == 0 {
			return Nop, ErrDivideByZero
		}
		return UInt(x / y), nil
	case PrimRem:
		if y == 0 {
			return Nop, ErrDivideByZero
		}
		return UInt(x % y), nil
	case PrimLt:
		return Bool(x < y), nil
	case PrimLe:
		return Bool(x <= y), nil
	case PrimGt:
		return Bool(x > y), nil
	case PrimGe:
		return Bool(x >= y), nil
	}
	return Nop, fmt.Errorf("%w: %s on UInt", ErrTypeMismatch, o)
}
