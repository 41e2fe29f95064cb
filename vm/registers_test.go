package vm

import (
	"errors"
	"testing"
)

func TestRegistersEmptyRead(t *testing.T) {
	rs := NewRegisters()
	if _, err := rs.Get(R0); !errors.Is(err, ErrEmptyRegister) {
		t.Fatalf("Get on empty register: got %v, want ErrEmptyRegister", err)
	}
	if _, err := rs.Copy(R3); !errors.Is(err, ErrEmptyRegister) {
		t.Fatalf("Copy on empty register: got %v, want ErrEmptyRegister", err)
	}
	if _, err := rs.Take(R3); !errors.Is(err, ErrEmptyRegister) {
		t.Fatalf("Take on empty register: got %v, want ErrEmptyRegister", err)
	}
}

func TestRegistersTakeClearsSlot(t *testing.T) {
	rs := NewRegisters()
	if err := rs.Set(R1, Int32(7)); err != nil {
		t.Fatal(err)
	}

	v, err := rs.Take(R1)
	if err != nil {
		t.Fatal(err)
	}
	if v != Int32(7) {
		t.Errorf("Take: got %v, want Int32(7)", v)
	}
	if _, err := rs.Get(R1); !errors.Is(err, ErrEmptyRegister) {
		t.Errorf("Get after Take: got %v, want ErrEmptyRegister", err)
	}

	if err := rs.Set(R1, Bool(true)); err != nil {
		t.Fatal(err)
	}
	if v, err := rs.Get(R1); err != nil || v != Bool(true) {
		t.Errorf("Get after Set: got %v, %v", v, err)
	}
}

func TestRegistersCopyLeavesSlot(t *testing.T) {
	rs := NewRegisters()
	rs.Set(R2, UInt(5))

	for i := 0; i < 3; i++ {
		v, err := rs.Copy(R2)
		if err != nil {
			t.Fatalf("Copy #%d: %v", i, err)
		}
		if v != UInt(5) {
			t.Errorf("Copy #%d: got %v, want UInt(5)", i, v)
		}
	}
	if !rs.IsSet(R2) {
		t.Error("R2 should still be set after copies")
	}
}

func TestRegistersSetOverwrites(t *testing.T) {
	rs := NewRegisters()
	rs.Set(R4, Int32(1))
	rs.Set(R4, Bool(false))

	v, _ := rs.Get(R4)
	if v != Bool(false) {
		t.Errorf("got %v, want Boolean(false)", v)
	}
}

func TestRegistersKinded(t *testing.T) {
	rs := NewRegisters()
	rs.Set(R0, Int32(3))

	if _, err := rs.Kinded(R0, KindInt32); err != nil {
		t.Errorf("Kinded Int32: %v", err)
	}
	if _, err := rs.Kinded(R0, KindBoolean); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Kinded Boolean: got %v, want ErrTypeMismatch", err)
	}
}

func TestRegistersInvalid(t *testing.T) {
	rs := NewRegisters()
	if err := rs.Set(Register(NumRegisters), Nop); !errors.Is(err, ErrBadRegister) {
		t.Errorf("Set out of range: got %v, want ErrBadRegister", err)
	}
	if _, err := rs.Get(NoRegister); !errors.Is(err, ErrBadRegister) {
		t.Errorf("Get NoRegister: got %v, want ErrBadRegister", err)
	}
}

func TestRegistersReset(t *testing.T) {
	rs := NewRegisters()
	rs.Set(R0, Int32(1))
	rs.Set(R15, Int32(2))
	rs.Reset()
	if rs.IsSet(R0) || rs.IsSet(R15) {
		t.Error("Reset should empty every register")
	}
	if rs.String() != "(empty)" {
		t.Errorf("String: got %q", rs.String())
	}
}
