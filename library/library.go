// Package library holds the registry of native functions callable from
// Allot bytecode, plus the built-in natives every program can use.
package library

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/allot/vm"
)

var log = commonlog.GetLogger("allot.library")

// ErrBadArgument is returned by a native given the wrong kind of argument.
var ErrBadArgument = errors.New("bad argument")

// Registry maps names to native functions. It is safe for concurrent use,
// so one registry can serve every VM in a group.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]vm.NativeFunc
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{funcs: make(map[string]vm.NativeFunc)}
}

// Register adds fn under name, replacing any earlier entry.
func (r *Registry) Register(name string, fn vm.NativeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[name]; ok {
		log.Debugf("replacing native %q", name)
	}
	r.funcs[name] = fn
}

// Lookup implements vm.Natives.
func (r *Registry) Lookup(name string) (vm.NativeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Default returns a registry with the built-in natives. print writes to
// stdout.
func Default() *Registry {
	return WithOutput(os.Stdout)
}

// WithOutput is Default with print writing to w.
func WithOutput(w io.Writer) *Registry {
	r := New()
	r.Register("print", Print(w))
	r.Register("alloc", Alloc)
	r.Register("load", Load)
	r.Register("store", Store)
	r.Register("free", Free)
	r.Register("depth", Depth)
	return r
}

// Print returns a native that writes its argument on its own line.
func Print(w io.Writer) vm.NativeFunc {
	var mu sync.Mutex
	return func(arg vm.Value, _ *vm.Frame, _ *vm.Heap) (vm.Value, error) {
		mu.Lock()
		defer mu.Unlock()
		var err error
		switch arg.Kind() {
		case vm.KindInt32:
			i, _ := arg.AsInt32()
			_, err = fmt.Fprintln(w, i)
		case vm.KindUInt:
			u, _ := arg.AsUInt()
			_, err = fmt.Fprintln(w, u)
		case vm.KindBoolean:
			b, _ := arg.AsBool()
			_, err = fmt.Fprintln(w, b)
		default:
			_, err = fmt.Fprintln(w, arg)
		}
		return vm.Nop, err
	}
}

// Alloc stores its argument in a new heap cell and returns the pointer.
func Alloc(arg vm.Value, _ *vm.Frame, heap *vm.Heap) (vm.Value, error) {
	var ptr uint64
	heap.Write(func(s *vm.Store) {
		ptr = s.Alloc(arg)
	})
	return vm.Pointer(ptr), nil
}

// Load returns the value stored at the pointer argument.
func Load(arg vm.Value, _ *vm.Frame, heap *vm.Heap) (vm.Value, error) {
	ptr, err := pointer(arg)
	if err != nil {
		return vm.Nop, err
	}
	var (
		v  vm.Value
		ok bool
	)
	heap.Read(func(s *vm.Store) {
		v, ok = s.Load(ptr)
	})
	if !ok {
		return vm.Nop, fmt.Errorf("load: no cell at 0x%x", ptr)
	}
	return v, nil
}

// Store pops a value off the caller's frame and writes it to the pointer
// argument.
func Store(arg vm.Value, frame *vm.Frame, heap *vm.Heap) (vm.Value, error) {
	ptr, err := pointer(arg)
	if err != nil {
		return vm.Nop, err
	}
	v, err := frame.Pop()
	if err != nil {
		return vm.Nop, fmt.Errorf("store: %w", err)
	}
	heap.Write(func(s *vm.Store) {
		err = s.Put(ptr, v)
	})
	if err != nil {
		frame.Push(v)
		return vm.Nop, err
	}
	return vm.Nop, nil
}

// Free releases the pointer argument and reports whether it was live.
func Free(arg vm.Value, _ *vm.Frame, heap *vm.Heap) (vm.Value, error) {
	ptr, err := pointer(arg)
	if err != nil {
		return vm.Nop, err
	}
	var freed bool
	heap.Write(func(s *vm.Store) {
		freed = s.Free(ptr)
	})
	return vm.Bool(freed), nil
}

// Depth returns the number of values on the caller's frame.
func Depth(_ vm.Value, frame *vm.Frame, _ *vm.Heap) (vm.Value, error) {
	return vm.UInt(uint64(frame.Len())), nil
}

func pointer(arg vm.Value) (uint64, error) {
	ptr, ok := arg.AsPointer()
	if !ok {
		return 0, fmt.Errorf("%w: want Pointer, got %s", ErrBadArgument, arg)
	}
	return ptr, nil
}
