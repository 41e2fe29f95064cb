package vm

import (
	"fmt"
	"strings"
)

// Opcode identifies an instruction.
type Opcode uint8

const (
	OpNop Opcode = iota
	OpOp
	OpMov
	OpCpy
	OpCast
	OpLea
	OpJmp
	OpRet
	OpCall
	OpExit
	OpPush
	OpPushCpy
	OpPop
	OpPopMany
	OpStackCpy
	OpPushFrame
	OpPopFrame
	OpPushOnto
	OpPopInto
	OpThreadStart
	OpThreadJoin
	OpAssert
	OpDbg
	OpDump

	opcodeCount
)

var opcodeNames = [opcodeCount]string{
	OpNop:         "NOP",
	OpOp:          "OP",
	OpMov:         "MOV",
	OpCpy:         "CPY",
	OpCast:        "CAST",
	OpLea:         "LEA",
	OpJmp:         "JMP",
	OpRet:         "RET",
	OpCall:        "CALL",
	OpExit:        "EXIT",
	OpPush:        "PUSH",
	OpPushCpy:     "PUSHCPY",
	OpPop:         "POP",
	OpPopMany:     "POPMANY",
	OpStackCpy:    "STACKCPY",
	OpPushFrame:   "PUSHFRAME",
	OpPopFrame:    "POPFRAME",
	OpPushOnto:    "PUSHONTO",
	OpPopInto:     "POPINTO",
	OpThreadStart: "THREADSTART",
	OpThreadJoin:  "THREADJOIN",
	OpAssert:      "ASSERT",
	OpDbg:         "DBG",
	OpDump:        "DUMP",
}

func (op Opcode) String() string {
	if op < opcodeCount {
		return opcodeNames[op]
	}
	return fmt.Sprintf("OP_%02X", uint8(op))
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool {
	return op < opcodeCount
}

// Instruction is one decoded instruction. Which fields are meaningful
// depends on Op:
//
//	Reg      destination (MOV CPY LEA STACKCPY CAST), source (PUSH PUSHCPY),
//	         condition (JMP), optional destination (POP), subject (ASSERT DBG)
//	Src      source register (CPY)
//	Operand  literal or register operand (MOV JMP EXIT POPMANY STACKCPY ASSERT
//	         PUSHONTO THREADSTART THREADJOIN)
//	Operator, Regs   operator and its registers (OP)
//	Name     native function name (CALL)
//	Index    label index (LEA), capacity hint (PUSHFRAME), flags (DUMP),
//	         target kind (CAST)
//
// Optional registers use NoRegister when absent.
type Instruction struct {
	Op       Opcode
	Reg      Register
	Src      Register
	Operand  Value
	Operator Operator
	Regs     []Register
	Name     string
	Index    int
}

// Program is an instruction stream plus its label table. Labels map a label
// index to an absolute instruction index.
type Program struct {
	Code   []Instruction
	Labels []int
}

func Noop() Instruction { return Instruction{Op: OpNop} }

func Operate(op Operator, regs ...Register) Instruction {
	return Instruction{Op: OpOp, Operator: op, Regs: regs}
}

func Mov(dst Register, v Value) Instruction {
	return Instruction{Op: OpMov, Reg: dst, Operand: v}
}

func Cpy(dst, src Register) Instruction {
	return Instruction{Op: OpCpy, Reg: dst, Src: src}
}

func Cast(dst Register, to Kind) Instruction {
	return Instruction{Op: OpCast, Reg: dst, Index: int(to)}
}

func Lea(dst Register, label int) Instruction {
	return Instruction{Op: OpLea, Reg: dst, Index: label}
}

// Jmp jumps to target when cond holds true. Pass NoRegister for an
// unconditional jump.
func Jmp(cond Register, target Value) Instruction {
	return Instruction{Op: OpJmp, Reg: cond, Operand: target}
}

func Ret() Instruction { return Instruction{Op: OpRet} }

func Call(name string) Instruction {
	return Instruction{Op: OpCall, Name: name}
}

func Exit(v Value) Instruction {
	return Instruction{Op: OpExit, Operand: v}
}

func Push(src Register) Instruction {
	return Instruction{Op: OpPush, Reg: src}
}

func PushCpy(src Register) Instruction {
	return Instruction{Op: OpPushCpy, Reg: src}
}

func Pop(dst Register) Instruction {
	return Instruction{Op: OpPop, Reg: dst}
}

// Discard pops the top value and drops it.
func Discard() Instruction {
	return Instruction{Op: OpPop, Reg: NoRegister}
}

func PopMany(n Value) Instruction {
	return Instruction{Op: OpPopMany, Operand: n}
}

func StackCpy(dst Register, offset Value) Instruction {
	return Instruction{Op: OpStackCpy, Reg: dst, Operand: offset}
}

func PushFrame(capacity int) Instruction {
	return Instruction{Op: OpPushFrame, Index: capacity}
}

func PopFrame() Instruction { return Instruction{Op: OpPopFrame} }

func PushOnto(v Value) Instruction {
	return Instruction{Op: OpPushOnto, Operand: v}
}

func PopInto() Instruction { return Instruction{Op: OpPopInto} }

func ThreadStart(v Value) Instruction {
	return Instruction{Op: OpThreadStart, Operand: v}
}

func ThreadJoin(v Value) Instruction {
	return Instruction{Op: OpThreadJoin, Operand: v}
}

func Assert(r Register, want Value) Instruction {
	return Instruction{Op: OpAssert, Reg: r, Operand: want}
}

func Dbg(r Register) Instruction {
	return Instruction{Op: OpDbg, Reg: r}
}

func Dump(flags DumpFlags) Instruction {
	return Instruction{Op: OpDump, Index: int(flags)}
}

func (in Instruction) String() string {
	name := in.Op.String()
	switch in.Op {
	case OpOp:
		regs := make([]string, len(in.Regs))
		for i, r := range in.Regs {
			regs[i] = r.String()
		}
		return fmt.Sprintf("%-10s %s %s", name, in.Operator, strings.Join(regs, ", "))
	case OpMov, OpStackCpy, OpAssert:
		return fmt.Sprintf("%-10s %s, %s", name, in.Reg, in.Operand)
	case OpJmp:
		if in.Reg == NoRegister {
			return fmt.Sprintf("%-10s %s", name, in.Operand)
		}
		return fmt.Sprintf("%-10s %s ? %s", name, in.Reg, in.Operand)
	case OpCpy:
		return fmt.Sprintf("%-10s %s, %s", name, in.Reg, in.Src)
	case OpCast:
		return fmt.Sprintf("%-10s %s, %s", name, in.Reg, Kind(in.Index))
	case OpLea:
		return fmt.Sprintf("%-10s %s, L%d", name, in.Reg, in.Index)
	case OpCall:
		return fmt.Sprintf("%-10s %q", name, in.Name)
	case OpExit, OpPopMany, OpPushOnto, OpThreadStart, OpThreadJoin:
		return fmt.Sprintf("%-10s %s", name, in.Operand)
	case OpPush, OpPushCpy, OpPop, OpDbg:
		return fmt.Sprintf("%-10s %s", name, in.Reg)
	case OpPushFrame:
		return fmt.Sprintf("%-10s %d", name, in.Index)
	case OpDump:
		return fmt.Sprintf("%-10s %s", name, DumpFlags(in.Index))
	default:
		return name
	}
}
