package library

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/chazu/allot/vm"
)

func TestRegistryLookup(t *testing.T) {
	r := New()
	if _, ok := r.Lookup("print"); ok {
		t.Fatal("empty registry resolved print")
	}
	r.Register("one", func(vm.Value, *vm.Frame, *vm.Heap) (vm.Value, error) { return vm.Int32(1), nil })
	fn, ok := r.Lookup("one")
	if !ok {
		t.Fatal("registered native not found")
	}
	if v, _ := fn(vm.Nop, nil, nil); v != vm.Int32(1) {
		t.Errorf("got %v, want Int32(1)", v)
	}
	if _, ok := r.Lookup("One"); ok {
		t.Error("lookup must match names exactly")
	}
}

func TestDefaultNames(t *testing.T) {
	want := []string{"alloc", "depth", "free", "load", "print", "store"}
	if got := Default().Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	p := Print(&buf)
	for _, v := range []vm.Value{vm.Int32(-4), vm.UInt(9), vm.Bool(true), vm.Nop} {
		if _, err := p(v, nil, nil); err != nil {
			t.Fatal(err)
		}
	}
	if got, want := buf.String(), "-4\n9\ntrue\nNop\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestHeapNatives(t *testing.T) {
	heap := vm.NewHeap()
	frame := vm.NewFrame(0)

	ptr, err := Alloc(vm.Int32(5), frame, heap)
	if err != nil {
		t.Fatal(err)
	}
	if ptr.Kind() != vm.KindPointer {
		t.Fatalf("alloc returned %v", ptr)
	}

	if v, err := Load(ptr, frame, heap); err != nil || v != vm.Int32(5) {
		t.Errorf("load: got %v, %v", v, err)
	}

	frame.Push(vm.Int32(6))
	if _, err := Store(ptr, frame, heap); err != nil {
		t.Fatal(err)
	}
	if frame.Len() != 0 {
		t.Error("store should pop its value from the frame")
	}
	if v, _ := Load(ptr, frame, heap); v != vm.Int32(6) {
		t.Errorf("load after store: got %v", v)
	}

	if v, _ := Free(ptr, frame, heap); v != vm.Bool(true) {
		t.Errorf("free: got %v, want Boolean(true)", v)
	}
	if v, _ := Free(ptr, frame, heap); v != vm.Bool(false) {
		t.Errorf("second free: got %v, want Boolean(false)", v)
	}
	if _, err := Load(ptr, frame, heap); err == nil {
		t.Error("load of freed cell should fail")
	}

	frame.Push(vm.Int32(1))
	if _, err := Store(ptr, frame, heap); err == nil {
		t.Error("store to freed cell should fail")
	}
	if frame.Len() != 1 {
		t.Error("failed store should leave the frame unchanged")
	}
}

func TestNativesRejectNonPointers(t *testing.T) {
	heap := vm.NewHeap()
	for name, fn := range map[string]vm.NativeFunc{"load": Load, "store": Store, "free": Free} {
		if _, err := fn(vm.UInt(1), vm.NewFrame(0), heap); !errors.Is(err, ErrBadArgument) {
			t.Errorf("%s: got %v, want ErrBadArgument", name, err)
		}
	}
}

func TestDefaultLibraryInVM(t *testing.T) {
	var out bytes.Buffer
	p := vm.Program{Code: []vm.Instruction{
		vm.Mov(vm.RegArg, vm.Int32(11)),
		vm.Call("alloc"),
		vm.Mov(vm.R0, vm.Reg(vm.RegRet)), // R0 = pointer
		vm.Mov(vm.R1, vm.Int32(12)),
		vm.Push(vm.R1),
		vm.Cpy(vm.RegArg, vm.R0),
		vm.Call("store"),
		vm.Call("load"),
		vm.Cpy(vm.RegArg, vm.RegRet),
		vm.Call("print"),
		vm.Call("depth"),
		vm.Assert(vm.RegRet, vm.UInt(0)),
		vm.Exit(vm.Int32(0)),
	}}

	machine := vm.New(p, vm.WithNatives(WithOutput(&out)))
	defer machine.Close()
	code, err := machine.Run()
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 {
		t.Errorf("exit code: got %d, want 0", code)
	}
	if out.String() != "12\n" {
		t.Errorf("output: got %q, want %q", out.String(), "12\n")
	}
}
