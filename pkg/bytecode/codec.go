package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/allot/vm"
)

// Version is the current program format version.
// Increment when making incompatible changes to the format.
const Version uint16 = 1

// Magic bytes for program files: "ALBC" (ALlot ByteCode)
var Magic = []byte{'A', 'L', 'B', 'C'}

const headerLen = 6

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

type wireValue struct {
	Kind uint8  `cbor:"1,keyasint"`
	Raw  uint64 `cbor:"2,keyasint,omitempty"`
}

type wireInstruction struct {
	Op       uint8      `cbor:"1,keyasint"`
	Reg      uint8      `cbor:"2,keyasint,omitempty"`
	Src      uint8      `cbor:"3,keyasint,omitempty"`
	Operand  *wireValue `cbor:"4,keyasint,omitempty"`
	Operator uint8      `cbor:"5,keyasint,omitempty"`
	Regs     []uint8    `cbor:"6,keyasint"`
	Name     string     `cbor:"7,keyasint,omitempty"`
	Index    int64      `cbor:"8,keyasint,omitempty"`
}

type wireProgram struct {
	Code   []wireInstruction `cbor:"1,keyasint"`
	Labels []uint64          `cbor:"2,keyasint"`
}

// Encode serializes p with the program header.
func Encode(p vm.Program) ([]byte, error) {
	w := wireProgram{}
	if p.Code != nil {
		w.Code = make([]wireInstruction, len(p.Code))
		for i, in := range p.Code {
			w.Code[i] = encodeInstruction(in)
		}
	}
	if p.Labels != nil {
		w.Labels = make([]uint64, len(p.Labels))
		for i, l := range p.Labels {
			if l < 0 {
				return nil, fmt.Errorf("bytecode: label %d has negative target %d", i, l)
			}
			w.Labels[i] = uint64(l)
		}
	}

	body, err := encMode.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("bytecode: marshal program: %w", err)
	}

	buf := make([]byte, headerLen, headerLen+len(body))
	copy(buf, Magic)
	binary.BigEndian.PutUint16(buf[4:], Version)
	return append(buf, body...), nil
}

// Decode parses a program produced by Encode.
func Decode(data []byte) (vm.Program, error) {
	if len(data) < headerLen {
		return vm.Program{}, fmt.Errorf("bytecode: too short: need at least %d bytes, got %d", headerLen, len(data))
	}
	if !bytes.Equal(data[:4], Magic) {
		return vm.Program{}, fmt.Errorf("bytecode: invalid magic: expected %q, got %q", Magic, data[:4])
	}
	if v := binary.BigEndian.Uint16(data[4:]); v > Version {
		return vm.Program{}, fmt.Errorf("bytecode: version %d is newer than supported version %d", v, Version)
	}

	var w wireProgram
	if err := cbor.Unmarshal(data[headerLen:], &w); err != nil {
		return vm.Program{}, fmt.Errorf("bytecode: unmarshal program: %w", err)
	}

	var p vm.Program
	if w.Code != nil {
		p.Code = make([]vm.Instruction, len(w.Code))
		for i, wi := range w.Code {
			in, err := decodeInstruction(wi)
			if err != nil {
				return vm.Program{}, fmt.Errorf("bytecode: instruction %d: %w", i, err)
			}
			p.Code[i] = in
		}
	}
	if w.Labels != nil {
		p.Labels = make([]int, len(w.Labels))
		for i, l := range w.Labels {
			if l > math.MaxInt {
				return vm.Program{}, fmt.Errorf("bytecode: label %d target %d overflows", i, l)
			}
			p.Labels[i] = int(l)
		}
	}
	return p, nil
}

// WriteFile encodes p to path.
func WriteFile(path string, p vm.Program) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("bytecode: write %s: %w", path, err)
	}
	return nil
}

// ReadFile decodes the program stored at path.
func ReadFile(path string) (vm.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return vm.Program{}, fmt.Errorf("bytecode: read %s: %w", path, err)
	}
	return Decode(data)
}

func encodeInstruction(in vm.Instruction) wireInstruction {
	wi := wireInstruction{
		Op:       uint8(in.Op),
		Reg:      uint8(in.Reg),
		Src:      uint8(in.Src),
		Operator: uint8(in.Operator),
		Name:     in.Name,
		Index:    int64(in.Index),
	}
	if !in.Operand.IsNop() {
		wi.Operand = &wireValue{Kind: uint8(in.Operand.Kind()), Raw: in.Operand.Raw()}
	}
	if in.Regs != nil {
		wi.Regs = make([]uint8, len(in.Regs))
		for i, r := range in.Regs {
			wi.Regs[i] = uint8(r)
		}
	}
	return wi
}

func decodeInstruction(wi wireInstruction) (vm.Instruction, error) {
	in := vm.Instruction{
		Op:       vm.Opcode(wi.Op),
		Reg:      vm.Register(wi.Reg),
		Src:      vm.Register(wi.Src),
		Operator: vm.Operator(wi.Operator),
		Name:     wi.Name,
	}
	if !in.Op.Valid() {
		return in, fmt.Errorf("unknown opcode %d", wi.Op)
	}
	if !in.Operator.Valid() {
		return in, fmt.Errorf("unknown operator %d", wi.Operator)
	}
	if !in.Reg.Valid() && in.Reg != vm.NoRegister {
		return in, fmt.Errorf("unknown register %d", wi.Reg)
	}
	if !in.Src.Valid() {
		return in, fmt.Errorf("unknown source register %d", wi.Src)
	}
	if wi.Index < math.MinInt || wi.Index > math.MaxInt {
		return in, fmt.Errorf("index %d overflows", wi.Index)
	}
	in.Index = int(wi.Index)

	if wi.Operand != nil {
		v, err := vm.FromRaw(vm.Kind(wi.Operand.Kind), wi.Operand.Raw)
		if err != nil {
			return in, err
		}
		in.Operand = v
	}
	if wi.Regs != nil {
		in.Regs = make([]vm.Register, len(wi.Regs))
		for i, r := range wi.Regs {
			reg := vm.Register(r)
			if !reg.Valid() {
				return in, fmt.Errorf("unknown operand register %d", r)
			}
			in.Regs[i] = reg
		}
	}
	return in, nil
}
