package vm

import (
	"fmt"
	"io"
	"strings"
)

// DumpFlags selects which parts of the machine a DUMP instruction prints.
type DumpFlags uint8

const (
	DumpInstructions DumpFlags = 1 << iota
	DumpLabels
	DumpRegisters
	DumpFrames
	DumpHeap

	DumpAll = DumpInstructions | DumpLabels | DumpRegisters | DumpFrames | DumpHeap
)

var dumpFlagNames = []struct {
	flag DumpFlags
	name string
}{
	{DumpInstructions, "instructions"},
	{DumpLabels, "labels"},
	{DumpRegisters, "registers"},
	{DumpFrames, "frames"},
	{DumpHeap, "heap"},
}

func (f DumpFlags) String() string {
	var parts []string
	for _, n := range dumpFlagNames {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Disassemble returns a human-readable listing of the program.
func Disassemble(p Program) string {
	var sb strings.Builder

	targets := make(map[int][]int)
	for i, pc := range p.Labels {
		targets[pc] = append(targets[pc], i)
	}

	sb.WriteString(fmt.Sprintf("; Allot program: %d instructions, %d labels\n", len(p.Code), len(p.Labels)))
	if len(p.Labels) > 0 {
		sb.WriteString("; Labels:\n")
		for i, pc := range p.Labels {
			sb.WriteString(fmt.Sprintf(";   L%-3d -> %04d\n", i, pc))
		}
	}
	sb.WriteString("\n")

	for pc, in := range p.Code {
		for _, l := range targets[pc] {
			sb.WriteString(fmt.Sprintf("L%d:\n", l))
		}
		sb.WriteString(fmt.Sprintf("  %04d  %s\n", pc, in))
	}
	return sb.String()
}

// dump writes the sections selected by flags.
func (vm *VM) dump(w io.Writer, flags DumpFlags) {
	fmt.Fprintf(w, "=== dump vm=%s pc=%04d flags=%s ===\n", vm.id, vm.pc, flags)
	if flags&DumpInstructions != 0 {
		fmt.Fprint(w, Disassemble(Program{Code: vm.code, Labels: vm.labels}))
	}
	if flags&DumpLabels != 0 {
		fmt.Fprintf(w, "labels: %v\n", vm.labels)
	}
	if flags&DumpRegisters != 0 {
		fmt.Fprintf(w, "registers: %s\n", vm.regs)
	}
	if flags&DumpFrames != 0 {
		fmt.Fprintf(w, "frames (%d):\n%s", vm.frames.Depth(), vm.frames)
	}
	if flags&DumpHeap != 0 {
		fmt.Fprint(w, vm.heap)
	}
}

func (vm *VM) dumpRegister(w io.Writer, r Register) {
	v, err := vm.regs.Get(r)
	if err != nil {
		fmt.Fprintf(w, "register %s: %v\n", r, err)
		return
	}
	fmt.Fprintf(w, "register %s = %s\n", r, v)
}
