package vm

import (
	"fmt"
	"strings"
)

// Frame is one activation's value stack.
type Frame struct {
	values []Value
}

// maxPrealloc caps how much of a capacity hint is allocated up front.
const maxPrealloc = 1024

// NewFrame returns an empty frame. capacity is an allocation hint only;
// frames grow without bound.
func NewFrame(capacity int) *Frame {
	capacity = min(max(capacity, 0), maxPrealloc)
	return &Frame{values: make([]Value, 0, capacity)}
}

// Len returns the number of values on the frame.
func (f *Frame) Len() int {
	return len(f.values)
}

// Push appends v to the top of the frame.
func (f *Frame) Push(v Value) {
	f.values = append(f.values, v)
}

// Pop removes and returns the top value.
func (f *Frame) Pop() (Value, error) {
	n := len(f.values)
	if n == 0 {
		return Nop, ErrEmptyFrame
	}
	v := f.values[n-1]
	f.values[n-1] = Nop
	f.values = f.values[:n-1]
	return v, nil
}

// Peek returns a copy of the value offset slots below the top; offset 0 is
// the top itself. The frame is not modified.
func (f *Frame) Peek(offset uint64) (Value, error) {
	n := uint64(len(f.values))
	if offset >= n {
		return Nop, fmt.Errorf("%w: offset %d in frame of %d", ErrOffsetOutOfRange, offset, n)
	}
	return f.values[n-1-offset], nil
}

// Poke overwrites the value offset slots below the top. Natives use it to
// update function locals in place.
func (f *Frame) Poke(offset uint64, v Value) error {
	n := uint64(len(f.values))
	if offset >= n {
		return fmt.Errorf("%w: offset %d in frame of %d", ErrOffsetOutOfRange, offset, n)
	}
	f.values[n-1-offset] = v
	return nil
}

// Values returns a copy of the frame contents, bottom first.
func (f *Frame) Values() []Value {
	out := make([]Value, len(f.values))
	copy(out, f.values)
	return out
}

func (f *Frame) String() string {
	parts := make([]string, len(f.values))
	for i, v := range f.values {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// FrameStack is the stack of call frames. It always holds at least the
// root frame, which cannot be popped.
type FrameStack struct {
	frames []*Frame
}

// NewFrameStack returns a stack holding only a root frame.
func NewFrameStack(rootCapacity int) *FrameStack {
	return &FrameStack{frames: []*Frame{NewFrame(rootCapacity)}}
}

// Depth returns the number of frames, root included.
func (s *FrameStack) Depth() int {
	return len(s.frames)
}

// Top returns the current frame.
func (s *FrameStack) Top() *Frame {
	return s.frames[len(s.frames)-1]
}

// At returns frame i, counting from the root.
func (s *FrameStack) At(i int) *Frame {
	return s.frames[i]
}

// Push appends v to the top frame.
func (s *FrameStack) Push(v Value) {
	s.Top().Push(v)
}

// Pop removes the top frame's last value.
func (s *FrameStack) Pop() (Value, error) {
	return s.Top().Pop()
}

// PeekAt copies the value n slots below the top of the current frame.
func (s *FrameStack) PeekAt(n uint64) (Value, error) {
	return s.Top().Peek(n)
}

// PushFrame starts a new, empty frame on call entry.
func (s *FrameStack) PushFrame(capacity int) {
	s.frames = append(s.frames, NewFrame(capacity))
}

// PopFrame discards the top frame. The root frame is permanent.
func (s *FrameStack) PopFrame() error {
	n := len(s.frames)
	if n <= 1 {
		return fmt.Errorf("%w: depth %d", ErrFrameUnderflow, n)
	}
	s.frames[n-1] = nil
	s.frames = s.frames[:n-1]
	return nil
}

func (s *FrameStack) String() string {
	var sb strings.Builder
	for i, f := range s.frames {
		fmt.Fprintf(&sb, "  #%d %s\n", i, f)
	}
	return sb.String()
}
