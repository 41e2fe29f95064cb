package vm

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func run(t *testing.T, p Program, opts ...Option) (int32, error) {
	t.Helper()
	v := New(p, opts...)
	defer v.Close()
	return v.Run()
}

func program(code ...Instruction) Program {
	return Program{Code: code}
}

func wantFault(t *testing.T, err error, target error) *Fault {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("got error %v, want %v", err, target)
	}
	var f *Fault
	if !errors.As(err, &f) {
		t.Fatalf("error %v is not a *Fault", err)
	}
	return f
}

func TestMoveExit(t *testing.T) {
	code, err := run(t, program(
		Mov(R0, Int32(42)),
		Exit(Reg(R0)),
	))
	if err != nil {
		t.Fatal(err)
	}
	if code != 42 {
		t.Errorf("got %d, want 42", code)
	}
}

func TestExitLiteral(t *testing.T) {
	for _, want := range []int32{0, 1, -1, 255, -2147483648} {
		code, err := run(t, program(Exit(Int32(want))))
		if err != nil {
			t.Fatal(err)
		}
		if code != want {
			t.Errorf("got %d, want %d", code, want)
		}
	}
}

func TestExitRequiresInt32(t *testing.T) {
	_, err := run(t, program(Exit(UInt(1))))
	wantFault(t, err, ErrTypeMismatch)

	_, err = run(t, program(Mov(R0, Bool(true)), Exit(Reg(R0))))
	wantFault(t, err, ErrTypeMismatch)

	_, err = run(t, program(Exit(Reg(R0))))
	wantFault(t, err, ErrEmptyRegister)
}

func TestMoveFromRegisterTakes(t *testing.T) {
	v := New(program(
		Mov(R0, Int32(1)),
		Mov(R1, Reg(R0)),
		Exit(Reg(R1)),
	))
	defer v.Close()

	for i := 0; i < 2; i++ {
		if _, _, err := v.Step(); err != nil {
			t.Fatal(err)
		}
	}
	if v.Registers().IsSet(R0) {
		t.Error("MOV from a register should leave the source empty")
	}
	if got, _ := v.Registers().Get(R1); got != Int32(1) {
		t.Errorf("R1: got %v, want Int32(1)", got)
	}
}

func TestMoveTakenRegisterIsEmpty(t *testing.T) {
	_, err := run(t, program(
		Mov(R0, Int32(1)),
		Mov(R1, Reg(R0)),
		Exit(Reg(R0)),
	))
	f := wantFault(t, err, ErrEmptyRegister)
	if f.PC != 2 || f.Op != OpExit {
		t.Errorf("fault at %d (%s), want 2 (EXIT)", f.PC, f.Op)
	}
}

func TestMoveRejectsCapabilities(t *testing.T) {
	for _, lit := range []Value{Label(0), Address(0), Pointer(1), Thread(1)} {
		t.Run(lit.Kind().String(), func(t *testing.T) {
			// Destination already holding a value changes nothing.
			for _, prefill := range []bool{false, true} {
				code := []Instruction{Mov(R0, lit), Exit(Int32(0))}
				if prefill {
					code = append([]Instruction{Mov(R0, Int32(5))}, code...)
				}
				_, err := run(t, program(code...))
				wantFault(t, err, ErrForgedCapability)
			}
		})
	}
}

func TestCopyKeepsSource(t *testing.T) {
	code, err := run(t, program(
		Mov(R0, Int32(8)),
		Cpy(R1, R0),
		Operate(PrimAdd, R2, R0, R1),
		Exit(Reg(R2)),
	))
	if err != nil {
		t.Fatal(err)
	}
	if code != 16 {
		t.Errorf("got %d, want 16", code)
	}
}

func TestLea(t *testing.T) {
	v := New(Program{
		Code:   []Instruction{Lea(R3, 1), Noop(), Exit(Int32(0))},
		Labels: []int{0, 2},
	})
	defer v.Close()
	if _, _, err := v.Step(); err != nil {
		t.Fatal(err)
	}
	if got, _ := v.Registers().Get(R3); got != Label(2) {
		t.Errorf("R3: got %v, want Label(2)", got)
	}

	_, err := run(t, Program{Code: []Instruction{Lea(R0, 5)}, Labels: []int{0}})
	wantFault(t, err, ErrLabelOutOfRange)
}

func TestJumpUnconditional(t *testing.T) {
	code, err := run(t, Program{
		Code: []Instruction{
			Lea(R0, 0),
			Jmp(NoRegister, Reg(R0)),
			Exit(Int32(1)),
			Exit(Int32(2)),
		},
		Labels: []int{3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if code != 2 {
		t.Errorf("got %d, want 2", code)
	}
}

func TestJumpConditional(t *testing.T) {
	for _, cond := range []bool{true, false} {
		code, err := run(t, Program{
			Code: []Instruction{
				Mov(R1, Bool(cond)),
				Jmp(R1, Label(3)),
				Exit(Int32(10)),
				Exit(Int32(20)),
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		want := int32(10)
		if cond {
			want = 20
		}
		if code != want {
			t.Errorf("cond=%t: got %d, want %d", cond, code, want)
		}
	}
}

func TestJumpConditionMustBeBoolean(t *testing.T) {
	_, err := run(t, program(
		Mov(R1, Int32(1)),
		Jmp(R1, Label(0)),
	))
	wantFault(t, err, ErrTypeMismatch)
}

func TestJumpTargetMustBeLabel(t *testing.T) {
	_, err := run(t, program(Jmp(NoRegister, Int32(0))))
	wantFault(t, err, ErrTypeMismatch)
}

func TestJumpOutOfProgram(t *testing.T) {
	_, err := run(t, program(Jmp(NoRegister, Label(7))))
	f := wantFault(t, err, ErrPCOutOfRange)
	if f.PC != 7 {
		t.Errorf("fault pc: got %d, want 7", f.PC)
	}
	if !strings.Contains(f.Error(), "program counter out of range") {
		t.Errorf("message: %q", f.Error())
	}
}

func TestCountdownLoop(t *testing.T) {
	// R0 = 5; loop: R0 -= 1; R3 = R0 > 0; if R3 goto loop; exit R2 (iterations)
	code, err := run(t, Program{
		Code: []Instruction{
			Mov(R0, Int32(5)),
			Mov(R1, Int32(1)),
			Mov(R2, Int32(0)),
			Mov(R4, Int32(0)),
			Operate(PrimSub, R0, R0, R1), // loop
			Operate(PrimAdd, R2, R2, R1),
			Operate(PrimGt, R3, R0, R4),
			Jmp(R3, Label(4)),
			Exit(Reg(R2)),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if code != 5 {
		t.Errorf("got %d, want 5", code)
	}
}

func TestRetJumpsToAddress(t *testing.T) {
	v := New(program(
		Ret(),
		Exit(Int32(1)),
		Exit(Int32(2)),
		Exit(Int32(99)),
	))
	defer v.Close()
	v.Frames().Push(Address(3))

	code, err := v.Run()
	if err != nil {
		t.Fatal(err)
	}
	if code != 99 {
		t.Errorf("got %d, want 99", code)
	}
}

func TestRetRequiresAddress(t *testing.T) {
	for _, top := range []Value{Label(3), Int32(3), UInt(3), Nop} {
		v := New(program(Ret(), Exit(Int32(0)), Exit(Int32(0)), Exit(Int32(0))))
		v.Frames().Push(top)
		_, err := v.Run()
		v.Close()
		wantFault(t, err, ErrTypeMismatch)
	}

	_, err := run(t, program(Ret()))
	wantFault(t, err, ErrEmptyFrame)
}

func TestPushPop(t *testing.T) {
	v := New(program(
		Mov(R0, Int32(3)),
		Push(R0),
		Mov(R1, Int32(4)),
		PushCpy(R1),
		Pop(R2),
		Pop(R3),
		Exit(Int32(0)),
	))
	defer v.Close()
	if _, err := v.Run(); err != nil {
		t.Fatal(err)
	}
	rs := v.Registers()
	if rs.IsSet(R0) {
		t.Error("PUSH should consume its source")
	}
	if got, _ := rs.Get(R1); got != Int32(4) {
		t.Errorf("PUSHCPY should keep its source: R1 = %v", got)
	}
	if got, _ := rs.Get(R2); got != Int32(4) {
		t.Errorf("R2: got %v, want Int32(4)", got)
	}
	if got, _ := rs.Get(R3); got != Int32(3) {
		t.Errorf("R3: got %v, want Int32(3)", got)
	}
	if n := v.Frames().Top().Len(); n != 0 {
		t.Errorf("frame: got %d values, want 0", n)
	}
}

func TestPopDiscard(t *testing.T) {
	v := New(program(
		Mov(R0, Int32(1)),
		Push(R0),
		Discard(),
		Exit(Int32(0)),
	))
	defer v.Close()
	if _, err := v.Run(); err != nil {
		t.Fatal(err)
	}
	if v.Registers().IsSet(R0) {
		t.Error("no register should receive a discarded value")
	}

	_, err := run(t, program(Discard()))
	wantFault(t, err, ErrEmptyFrame)
}

func TestPopMany(t *testing.T) {
	v := New(program(
		Mov(R5, UInt(2)),
		PopMany(Reg(R5)),
		PopMany(UInt(1)),
		Exit(Int32(0)),
	))
	defer v.Close()
	for i := 0; i < 4; i++ {
		v.Frames().Push(Int32(int32(i)))
	}
	if _, err := v.Run(); err != nil {
		t.Fatal(err)
	}
	if got, _ := v.Frames().PeekAt(0); got != Int32(0) || v.Frames().Top().Len() != 1 {
		t.Errorf("frame after POPMANY: %s", v.Frames().Top())
	}

	_, err := run(t, program(PopMany(UInt(1))))
	wantFault(t, err, ErrEmptyFrame)

	_, err = run(t, program(PopMany(Int32(1))))
	wantFault(t, err, ErrTypeMismatch)
}

func TestStackCpy(t *testing.T) {
	v := New(program(
		StackCpy(R0, UInt(0)),
		Mov(R1, UInt(2)),
		StackCpy(R2, Reg(R1)),
		Exit(Int32(0)),
	))
	defer v.Close()
	v.Frames().Push(Int32(10))
	v.Frames().Push(Int32(20))
	v.Frames().Push(Int32(30))

	if _, err := v.Run(); err != nil {
		t.Fatal(err)
	}
	if got, _ := v.Registers().Get(R0); got != Int32(30) {
		t.Errorf("R0: got %v, want Int32(30)", got)
	}
	if got, _ := v.Registers().Get(R2); got != Int32(10) {
		t.Errorf("R2: got %v, want Int32(10)", got)
	}
	if v.Frames().Top().Len() != 3 {
		t.Errorf("STACKCPY changed the frame: %s", v.Frames().Top())
	}

	_, err := run(t, program(StackCpy(R0, UInt(0))))
	wantFault(t, err, ErrOffsetOutOfRange)
}

func TestFrames(t *testing.T) {
	v := New(program(
		PushFrame(4),
		Mov(R0, Int32(1)),
		Push(R0),
		PopFrame(),
		Exit(Int32(0)),
	))
	defer v.Close()
	v.Frames().Push(Int32(7))

	if _, err := v.Run(); err != nil {
		t.Fatal(err)
	}
	if d := v.Frames().Depth(); d != 1 {
		t.Errorf("depth: got %d, want 1", d)
	}
	if got := v.Frames().Top().Values(); len(got) != 1 || got[0] != Int32(7) {
		t.Errorf("root frame: got %v, want [Int32(7)]", got)
	}

	_, err := run(t, program(PushFrame(0), PopFrame(), PopFrame()))
	f := wantFault(t, err, ErrFrameUnderflow)
	if f.PC != 2 {
		t.Errorf("fault pc: got %d, want 2", f.PC)
	}
}

func TestPushFrameHugeHint(t *testing.T) {
	code, err := run(t, program(PushFrame(1<<62), PopFrame(), Exit(Int32(7))))
	if err != nil {
		t.Fatal(err)
	}
	if code != 7 {
		t.Errorf("got %d, want 7", code)
	}
}

func TestMovToBadRegisterKeepsSource(t *testing.T) {
	v := New(program(Mov(NoRegister, Reg(R0))))
	defer v.Close()
	v.Registers().Set(R0, Int32(3))

	_, err := v.Run()
	wantFault(t, err, ErrBadRegister)
	if got, err := v.Registers().Get(R0); err != nil || got != Int32(3) {
		t.Errorf("R0 after fault: got %v, %v; want Int32(3)", got, err)
	}
}

func TestInstructionAccessor(t *testing.T) {
	v := New(program(Mov(R0, Int32(1)), Exit(Reg(R0))))
	defer v.Close()

	if in, ok := v.Instruction(); !ok || in.Op != OpMov {
		t.Errorf("got %s, %t; want MOV", in, ok)
	}

	empty := New(Program{})
	defer empty.Close()
	if _, ok := empty.Instruction(); ok {
		t.Error("empty program should have no current instruction")
	}
}

func TestStepAfterClose(t *testing.T) {
	natives := NativeMap{"id": func(arg Value, _ *Frame, _ *Heap) (Value, error) { return arg, nil }}
	v := New(program(Mov(RegArg, Int32(1)), Call("id"), Exit(Int32(0))), WithNatives(natives))
	v.Close()

	_, err := v.Run()
	f := wantFault(t, err, ErrClosed)
	if f.PC != 0 {
		t.Errorf("fault pc: got %d, want 0", f.PC)
	}
	v.Close()
}

func TestAssert(t *testing.T) {
	tests := []struct {
		name string
		set  Value
		want Value
		code int32
	}{
		{"equal", Int32(3), Int32(3), 0},
		{"not equal", Int32(3), Int32(4), -1},
		{"other variant", Int32(3), UInt(3), -1},
		{"boolean", Bool(true), Bool(true), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := run(t, program(
				Mov(R0, tt.set),
				Assert(R0, tt.want),
				Exit(Int32(0)),
			))
			if err != nil {
				t.Fatal(err)
			}
			if code != tt.code {
				t.Errorf("got %d, want %d", code, tt.code)
			}
		})
	}
}

func TestAssertDoesNotConsume(t *testing.T) {
	code, err := run(t, program(
		Mov(R0, Int32(6)),
		Assert(R0, Int32(6)),
		Exit(Reg(R0)),
	))
	if err != nil {
		t.Fatal(err)
	}
	if code != 6 {
		t.Errorf("got %d, want 6", code)
	}

	_, err = run(t, program(Assert(R0, Int32(0))))
	wantFault(t, err, ErrEmptyRegister)
}

func TestCall(t *testing.T) {
	var sawHeap *Heap
	natives := NativeMap{
		"double": func(arg Value, frame *Frame, heap *Heap) (Value, error) {
			sawHeap = heap
			i, ok := arg.AsInt32()
			if !ok {
				return Nop, fmt.Errorf("want Int32")
			}
			frame.Push(Bool(true))
			return Int32(i * 2), nil
		},
	}
	v := New(program(
		Mov(RegArg, Int32(21)),
		Call("double"),
		Exit(Reg(RegRet)),
	), WithNatives(natives))
	defer v.Close()

	code, err := v.Run()
	if err != nil {
		t.Fatal(err)
	}
	if code != 42 {
		t.Errorf("got %d, want 42", code)
	}
	if !v.Registers().IsSet(RegArg) {
		t.Error("CALL should not consume the argument register")
	}
	if v.Frames().Top().Len() != 1 {
		t.Error("native should see and change the top frame")
	}
	if !sawHeap.Same(v.Heap()) {
		t.Error("native should receive a handle to the VM heap")
	}
	if v.Heap().Refs() != 1 {
		t.Errorf("heap refs after call: got %d, want 1", v.Heap().Refs())
	}
}

func TestCallErrors(t *testing.T) {
	_, err := run(t, program(Mov(RegArg, Nop), Call("missing")))
	wantFault(t, err, ErrUnknownNative)

	_, err = run(t, program(Call("anything")), WithNatives(NativeMap{}))
	wantFault(t, err, ErrEmptyRegister)

	boom := errors.New("boom")
	natives := NativeMap{"fail": func(Value, *Frame, *Heap) (Value, error) { return Nop, boom }}
	_, err = run(t, program(Mov(RegArg, Nop), Call("fail")), WithNatives(natives))
	wantFault(t, err, ErrNativeFailed)
	if !errors.Is(err, boom) {
		t.Errorf("native error should be wrapped: %v", err)
	}
}

func TestReservedInstructions(t *testing.T) {
	for _, in := range []Instruction{PushOnto(Int32(0)), PopInto(), ThreadStart(Label(0)), ThreadJoin(Reg(R0))} {
		_, err := run(t, program(in))
		f := wantFault(t, err, ErrUnimplemented)
		if f.Op != in.Op {
			t.Errorf("fault op: got %s, want %s", f.Op, in.Op)
		}
	}
}

func TestCastIsNoop(t *testing.T) {
	code, err := run(t, program(Mov(R0, Int32(4)), Cast(R0, KindUInt), Exit(Reg(R0))))
	if err != nil {
		t.Fatal(err)
	}
	if code != 4 {
		t.Errorf("got %d, want 4", code)
	}
}

func TestDebugInstructions(t *testing.T) {
	p := program(
		Mov(R0, Int32(5)),
		Dbg(R0),
		Dbg(R1),
		Dump(DumpAll),
		Exit(Int32(0)),
	)

	var buf bytes.Buffer
	if _, err := run(t, p, WithDumpWriter(&buf)); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("debug output without debug mode: %q", buf.String())
	}

	code, err := run(t, p, WithDebug(true), WithDumpWriter(&buf))
	if err != nil || code != 0 {
		t.Fatalf("debug run: %d, %v", code, err)
	}
	out := buf.String()
	for _, want := range []string{"register R0 = Int32(5)", "register R1:", "registers: R0=Int32(5)", "frames (1)", "heap (0 cells", "MOV"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
}

func TestStepHaltKeepsPC(t *testing.T) {
	v := New(program(Noop(), Exit(Int32(3))))
	defer v.Close()

	if _, halted, err := v.Step(); halted || err != nil {
		t.Fatalf("first step: halted=%t err=%v", halted, err)
	}
	for i := 0; i < 2; i++ {
		code, halted, err := v.Step()
		if err != nil || !halted || code != 3 {
			t.Fatalf("halt step: code=%d halted=%t err=%v", code, halted, err)
		}
		if v.PC() != 1 {
			t.Errorf("pc: got %d, want 1", v.PC())
		}
	}
	if v.Steps() != 3 {
		t.Errorf("steps: got %d, want 3", v.Steps())
	}
}

func TestEmptyProgramFaults(t *testing.T) {
	_, err := run(t, Program{})
	f := wantFault(t, err, ErrPCOutOfRange)
	if strings.Contains(f.Error(), "(OP_") {
		t.Errorf("fetch fault should not name an opcode: %q", f.Error())
	}
}

func TestProgramIsCopied(t *testing.T) {
	p := program(Exit(Int32(1)))
	v := New(p)
	defer v.Close()
	p.Code[0] = Exit(Int32(2))

	code, err := v.Run()
	if err != nil || code != 1 {
		t.Errorf("got %d, %v; want 1", code, err)
	}
}

func TestVMsHaveDistinctIDs(t *testing.T) {
	a, b := New(Program{}), New(Program{})
	defer a.Close()
	defer b.Close()
	if a.ID() == b.ID() {
		t.Error("two VMs share an ID")
	}
}
