package vm

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Store is the mutable storage behind a Heap. It is only reachable through
// Heap.Read and Heap.Write, which hold the heap lock for the duration of
// the callback.
type Store struct {
	cells map[uint64]Value
	next  uint64
}

// Alloc stores v in a fresh cell and returns its address.
func (s *Store) Alloc(v Value) uint64 {
	s.next++
	s.cells[s.next] = v
	return s.next
}

// Load returns the value at ptr.
func (s *Store) Load(ptr uint64) (Value, bool) {
	v, ok := s.cells[ptr]
	return v, ok
}

// Put overwrites the value at an allocated address.
func (s *Store) Put(ptr uint64, v Value) error {
	if _, ok := s.cells[ptr]; !ok {
		return fmt.Errorf("heap: no cell at 0x%x", ptr)
	}
	s.cells[ptr] = v
	return nil
}

// Free releases ptr and reports whether it was allocated.
func (s *Store) Free(ptr uint64) bool {
	if _, ok := s.cells[ptr]; !ok {
		return false
	}
	delete(s.cells, ptr)
	return true
}

// Len returns the number of live cells.
func (s *Store) Len() int {
	return len(s.cells)
}

type heapState struct {
	mu    sync.RWMutex
	store Store
	refs  atomic.Int64
}

// Heap is a shared handle to one Store. Copies made with Clone refer to the
// same storage; access is serialized by a reader/writer lock so that
// several VMs can hold the same heap. The VM never looks inside the heap,
// it only forwards handles to native functions.
type Heap struct {
	state *heapState
}

// NewHeap returns a handle to a fresh, empty heap.
func NewHeap() *Heap {
	st := &heapState{store: Store{cells: make(map[uint64]Value)}}
	st.refs.Store(1)
	return &Heap{state: st}
}

// Clone returns another handle to the same heap and bumps the reference count.
func (h *Heap) Clone() *Heap {
	h.state.refs.Add(1)
	return &Heap{state: h.state}
}

// Release drops this handle's reference.
func (h *Heap) Release() {
	h.state.refs.Add(-1)
}

// Refs returns the number of live handles.
func (h *Heap) Refs() int64 {
	return h.state.refs.Load()
}

// Same reports whether two handles share storage.
func (h *Heap) Same(other *Heap) bool {
	return other != nil && h.state == other.state
}

// Read runs fn with shared access to the store.
func (h *Heap) Read(fn func(*Store)) {
	h.state.mu.RLock()
	defer h.state.mu.RUnlock()
	fn(&h.state.store)
}

// Write runs fn with exclusive access to the store.
func (h *Heap) Write(fn func(*Store)) {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	fn(&h.state.store)
}

func (h *Heap) String() string {
	var sb strings.Builder
	h.Read(func(s *Store) {
		ptrs := make([]uint64, 0, len(s.cells))
		for p := range s.cells {
			ptrs = append(ptrs, p)
		}
		sort.Slice(ptrs, func(i, j int) bool { return ptrs[i] < ptrs[j] })
		fmt.Fprintf(&sb, "heap (%d cells, %d refs)\n", len(ptrs), h.Refs())
		for _, p := range ptrs {
			fmt.Fprintf(&sb, "  0x%x = %s\n", p, s.cells[p])
		}
	})
	return sb.String()
}
