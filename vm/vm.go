package vm

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("allot.vm")

// NativeFunc is a function callable from bytecode. It receives the value of
// the argument register, the caller's current frame, and a handle to the
// shared heap. It may change the frame and the heap but must not keep the
// frame after returning.
type NativeFunc func(arg Value, frame *Frame, heap *Heap) (Value, error)

// Natives resolves native functions by exact name.
type Natives interface {
	Lookup(name string) (NativeFunc, bool)
}

// NativeMap is the simplest Natives: a fixed name to function table.
type NativeMap map[string]NativeFunc

func (m NativeMap) Lookup(name string) (NativeFunc, bool) {
	fn, ok := m[name]
	return fn, ok
}

// opInvalid tags faults raised before an instruction could be fetched.
const opInvalid = opcodeCount

// VM is one execution engine: a program counter, register file and frame
// stack running an immutable program against a possibly shared heap.
type VM struct {
	id uuid.UUID

	pc     int
	code   []Instruction
	labels []int

	regs   *Registers
	frames *FrameStack
	heap   *Heap

	natives Natives

	debug   bool
	dumpOut io.Writer

	isThread bool
	steps    uint64
}

// Option configures a VM at construction.
type Option func(*VM)

// WithHeap attaches the VM to an existing heap. The VM takes ownership of
// the handle and releases it on Close.
func WithHeap(h *Heap) Option {
	return func(vm *VM) { vm.heap = h }
}

// WithNatives sets the registry CALL resolves against.
func WithNatives(n Natives) Option {
	return func(vm *VM) { vm.natives = n }
}

// WithDebug enables the DBG and DUMP instructions.
func WithDebug(on bool) Option {
	return func(vm *VM) { vm.debug = on }
}

// WithDumpWriter redirects debug output, which goes to stderr by default.
func WithDumpWriter(w io.Writer) Option {
	return func(vm *VM) { vm.dumpOut = w }
}

// WithFrameCapacity sets the capacity hint of the root frame.
func WithFrameCapacity(n int) Option {
	return func(vm *VM) { vm.frames = NewFrameStack(n) }
}

// New creates a VM for p. The program is copied; later changes to p are
// not seen by the VM.
func New(p Program, opts ...Option) *VM {
	code := slices.Clone(p.Code)
	for i := range code {
		code[i].Regs = slices.Clone(code[i].Regs)
	}

	vm := &VM{
		id:      uuid.New(),
		code:    code,
		labels:  slices.Clone(p.Labels),
		regs:    NewRegisters(),
		frames:  NewFrameStack(0),
		dumpOut: os.Stderr,
	}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.heap == nil {
		vm.heap = NewHeap()
	}

	log.Debugf("vm %s: %d instructions, %d labels, thread=%t", vm.id, len(vm.code), len(vm.labels), vm.isThread)
	return vm
}

// NewThread creates a VM that shares heap with other engines. It gets its
// own handle to heap and its own program counter, registers and frames.
func NewThread(p Program, heap *Heap, opts ...Option) *VM {
	opts = append(opts, WithHeap(heap.Clone()), func(vm *VM) { vm.isThread = true })
	return New(p, opts...)
}

// Close releases the VM's heap handle. Stepping a closed VM faults with
// ErrClosed.
func (vm *VM) Close() {
	if vm.heap != nil {
		vm.heap.Release()
		vm.heap = nil
	}
}

func (vm *VM) ID() uuid.UUID         { return vm.id }
func (vm *VM) PC() int               { return vm.pc }
func (vm *VM) Registers() *Registers { return vm.regs }
func (vm *VM) Frames() *FrameStack   { return vm.frames }
func (vm *VM) Heap() *Heap           { return vm.heap }
func (vm *VM) Steps() uint64         { return vm.steps }
func (vm *VM) IsThread() bool        { return vm.isThread }
func (vm *VM) Program() Program      { return Program{Code: vm.code, Labels: vm.labels} }

// Instruction returns the instruction at the program counter. ok is false
// when the counter is outside the program.
func (vm *VM) Instruction() (in Instruction, ok bool) {
	if vm.pc < 0 || vm.pc >= len(vm.code) {
		return Instruction{}, false
	}
	return vm.code[vm.pc], true
}

// Run steps until the program halts and returns the halt code.
func (vm *VM) Run() (int32, error) {
	for {
		code, halted, err := vm.Step()
		if err != nil {
			log.Debugf("vm %s: %v", vm.id, err)
			return 0, err
		}
		if halted {
			log.Debugf("vm %s: halted with %d after %d steps", vm.id, code, vm.steps)
			return code, nil
		}
	}
}

// Step executes exactly one instruction. When the instruction halts the
// machine, Step reports the halt code and leaves the program counter on
// the halting instruction.
func (vm *VM) Step() (code int32, halted bool, err error) {
	if vm.heap == nil {
		return 0, false, &Fault{PC: vm.pc, Op: opInvalid, Err: ErrClosed}
	}
	if vm.pc < 0 || vm.pc >= len(vm.code) {
		return 0, false, &Fault{
			PC:  vm.pc,
			Op:  opInvalid,
			Err: fmt.Errorf("%w: %d not in [0, %d)", ErrPCOutOfRange, vm.pc, len(vm.code)),
		}
	}

	in := &vm.code[vm.pc]
	next, code, halted, err := vm.exec(in)
	if err != nil {
		return 0, false, &Fault{PC: vm.pc, Op: in.Op, Err: err}
	}
	vm.steps++
	if halted {
		return code, true, nil
	}
	vm.pc = next
	return 0, false, nil
}

func (vm *VM) exec(in *Instruction) (next int, code int32, halted bool, err error) {
	next = vm.pc + 1

	switch in.Op {
	case OpNop:

	case OpOp:
		err = in.Operator.Solve(vm.regs, in.Regs)

	case OpMov:
		var v Value
		switch k := in.Operand.Kind(); {
		case k.IsCapability():
			err = fmt.Errorf("%w: %s", ErrForgedCapability, in.Operand)
		case !in.Reg.Valid():
			err = fmt.Errorf("%w: %s", ErrBadRegister, in.Reg)
		case k == KindRegister:
			src, _ := in.Operand.AsRegister()
			v, err = vm.regs.Take(src)
		default:
			v = in.Operand
		}
		if err == nil {
			err = vm.regs.Set(in.Reg, v)
		}

	case OpCpy:
		var v Value
		if v, err = vm.regs.Copy(in.Src); err == nil {
			err = vm.regs.Set(in.Reg, v)
		}

	case OpCast:
		// Reserved.

	case OpLea:
		if in.Index < 0 || in.Index >= len(vm.labels) {
			err = fmt.Errorf("%w: L%d of %d", ErrLabelOutOfRange, in.Index, len(vm.labels))
			break
		}
		err = vm.regs.Set(in.Reg, Label(vm.labels[in.Index]))

	case OpJmp:
		var target int
		if target, err = vm.resolveLabel(in.Operand); err != nil {
			break
		}
		jump := true
		if in.Reg != NoRegister {
			var cond Value
			if cond, err = vm.regs.Kinded(in.Reg, KindBoolean); err != nil {
				break
			}
			jump, _ = cond.AsBool()
		}
		if jump {
			next = target
		}

	case OpRet:
		var v Value
		if v, err = vm.frames.Pop(); err != nil {
			break
		}
		addr, ok := v.AsAddress()
		if !ok {
			err = mismatch("return slot", KindAddress, v)
			break
		}
		next = addr

	case OpCall:
		err = vm.call(in.Name)

	case OpExit:
		if code, err = vm.resolveInt32(in.Operand); err == nil {
			halted = true
		}

	case OpPush:
		var v Value
		if v, err = vm.regs.Take(in.Reg); err == nil {
			vm.frames.Push(v)
		}

	case OpPushCpy:
		var v Value
		if v, err = vm.regs.Copy(in.Reg); err == nil {
			vm.frames.Push(v)
		}

	case OpPop:
		var v Value
		if v, err = vm.frames.Pop(); err == nil && in.Reg != NoRegister {
			err = vm.regs.Set(in.Reg, v)
		}

	case OpPopMany:
		var n uint64
		if n, err = vm.resolveUInt(in.Operand); err != nil {
			break
		}
		for i := uint64(0); i < n && err == nil; i++ {
			_, err = vm.frames.Pop()
		}

	case OpStackCpy:
		var (
			off uint64
			v   Value
		)
		if off, err = vm.resolveUInt(in.Operand); err != nil {
			break
		}
		if v, err = vm.frames.PeekAt(off); err == nil {
			err = vm.regs.Set(in.Reg, v)
		}

	case OpPushFrame:
		vm.frames.PushFrame(in.Index)

	case OpPopFrame:
		err = vm.frames.PopFrame()

	case OpPushOnto, OpPopInto, OpThreadStart, OpThreadJoin:
		err = fmt.Errorf("%w: %s", ErrUnimplemented, in.Op)

	case OpAssert:
		var v Value
		if v, err = vm.regs.Copy(in.Reg); err != nil {
			break
		}
		if ok, isBool := Equal(v, in.Operand).AsBool(); !isBool || !ok {
			log.Debugf("vm %s: assertion failed at %04d: %s is %s, want %s", vm.id, vm.pc, in.Reg, v, in.Operand)
			code, halted = -1, true
		}

	case OpDbg:
		if vm.debug {
			vm.dumpRegister(vm.dumpOut, in.Reg)
		}

	case OpDump:
		if vm.debug {
			vm.dump(vm.dumpOut, DumpFlags(in.Index))
		}

	default:
		err = fmt.Errorf("%w: opcode %d", ErrUnimplemented, uint8(in.Op))
	}
	return next, code, halted, err
}

// call invokes a native with the argument register, the top frame, and a
// fresh heap handle that is released when the native returns.
func (vm *VM) call(name string) error {
	arg, err := vm.regs.Copy(RegArg)
	if err != nil {
		return err
	}

	var fn NativeFunc
	if vm.natives != nil {
		fn, _ = vm.natives.Lookup(name)
	}
	if fn == nil {
		return fmt.Errorf("%w: %q", ErrUnknownNative, name)
	}

	heap := vm.heap.Clone()
	defer heap.Release()

	ret, err := fn(arg, vm.frames.Top(), heap)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNativeFailed, name, err)
	}
	return vm.regs.Set(RegRet, ret)
}

// resolveUInt resolves a UInt literal or a register holding one.
func (vm *VM) resolveUInt(operand Value) (uint64, error) {
	v, err := vm.resolve(operand, KindUInt)
	if err != nil {
		return 0, err
	}
	n, _ := v.AsUInt()
	return n, nil
}

// resolveInt32 resolves an Int32 literal or a register holding one.
func (vm *VM) resolveInt32(operand Value) (int32, error) {
	v, err := vm.resolve(operand, KindInt32)
	if err != nil {
		return 0, err
	}
	i, _ := v.AsInt32()
	return i, nil
}

// resolveLabel resolves a Label literal or a register holding one.
func (vm *VM) resolveLabel(operand Value) (int, error) {
	v, err := vm.resolve(operand, KindLabel)
	if err != nil {
		return 0, err
	}
	pc, _ := v.AsLabel()
	return pc, nil
}

func (vm *VM) resolve(operand Value, want Kind) (Value, error) {
	if r, ok := operand.AsRegister(); ok {
		return vm.regs.Kinded(r, want)
	}
	if operand.Kind() != want {
		return Nop, mismatch("operand", want, operand)
	}
	return operand, nil
}
