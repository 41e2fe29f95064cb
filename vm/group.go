package vm

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one VM run inside a Group.
type Result struct {
	ID   uuid.UUID
	Code int32
	Err  error
}

// Group runs several VMs concurrently, typically threads sharing one heap.
// Each VM runs on its own goroutine; a VM must not be added twice.
type Group struct {
	eg errgroup.Group

	mu      sync.Mutex
	results []Result
}

// Go starts running v and returns immediately.
func (g *Group) Go(v *VM) {
	g.mu.Lock()
	idx := len(g.results)
	g.results = append(g.results, Result{ID: v.ID()})
	g.mu.Unlock()

	g.eg.Go(func() error {
		code, err := runGuarded(v)

		g.mu.Lock()
		g.results[idx].Code = code
		g.results[idx].Err = err
		g.mu.Unlock()
		return err
	})
}

// Wait blocks until every VM has stopped. Results are in the order the VMs
// were added; the error is the first fault any of them reported.
func (g *Group) Wait() ([]Result, error) {
	err := g.eg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Result, len(g.results))
	copy(out, g.results)
	return out, err
}

// runGuarded executes v, turning a panic in a native function into an error.
func runGuarded(v *VM) (code int32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Fault{PC: v.PC(), Op: OpCall, Err: fmt.Errorf("%w: panic: %v", ErrNativeFailed, r)}
		}
	}()
	return v.Run()
}
