package codegen_test

import (
	"testing"

	"quartz/internal/asm"
	"quartz/internal/codegen"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func expectPanic(t *testing.T, msg string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic: %s", msg)
		}
	}()
	fn()
}

func emitTable(t *testing.T, table *codegen.SafepointTable, a *asm.Assembler, slots int) []codegen.TableEntry {
	t.Helper()
	offset := table.Emit(a, slots)
	code, err := a.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	entries, gotSlots, err := codegen.DecodeSafepointTable(code, offset)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gotSlots != slots {
		t.Fatalf("decoded %d slots, want %d", gotSlots, slots)
	}
	return entries
}

// ---------------------------------------------------------------------------
// Recording
// ---------------------------------------------------------------------------

func TestSafepointCapturesOffset(t *testing.T) {
	a := asm.New(256)
	table := codegen.NewSafepointTable()
	a.Nop()
	a.Nop()
	s := table.DefineSafepoint(a, codegen.KindSimple, 0, codegen.NoLazyDeopt)
	if s.ID() != 0 {
		t.Errorf("first safepoint id = %d", s.ID())
	}
	entries := emitTable(t, table, a, 0)
	if len(entries) != 1 || entries[0].PC != 2 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestDeoptimizationPcIsOneShot(t *testing.T) {
	a := asm.New(256)
	table := codegen.NewSafepointTable()
	table.DefineSafepoint(a, codegen.KindSimple, 0, codegen.LazyDeopt)
	table.SetDeoptimizationPc(0, 16)
	expectPanic(t, "second SetDeoptimizationPc", func() {
		table.SetDeoptimizationPc(0, 24)
	})
}

func TestDeoptimizationPcUnknownID(t *testing.T) {
	table := codegen.NewSafepointTable()
	expectPanic(t, "no such safepoint", func() {
		table.SetDeoptimizationPc(3, 16)
	})
}

func TestLazyIndexTiesLastSafepoint(t *testing.T) {
	a := asm.New(256)
	table := codegen.NewSafepointTable()
	table.DefineSafepoint(a, codegen.KindSimple, 0, codegen.NoLazyDeopt)
	a.Nop()
	table.DefineSafepoint(a, codegen.KindSimple, 0, codegen.LazyDeopt)
	table.RecordLazyDeoptimizationIndex(4)

	entries := emitTable(t, table, a, 0)
	if entries[0].LazyDeoptIndex != -1 {
		t.Errorf("first safepoint lazy index = %d, want -1", entries[0].LazyDeoptIndex)
	}
	if entries[1].LazyDeoptIndex != 4 {
		t.Errorf("second safepoint lazy index = %d, want 4", entries[1].LazyDeoptIndex)
	}
}

func TestLazyIndexWithoutSafepointPanics(t *testing.T) {
	table := codegen.NewSafepointTable()
	expectPanic(t, "no safepoint to tie to", func() {
		table.RecordLazyDeoptimizationIndex(0)
	})
}

// ---------------------------------------------------------------------------
// Emission guards
// ---------------------------------------------------------------------------

func TestEmitTwicePanics(t *testing.T) {
	a := asm.New(256)
	table := codegen.NewSafepointTable()
	table.Emit(a, 0)
	expectPanic(t, "second Emit", func() { table.Emit(a, 0) })
}

func TestDefineAfterEmitPanics(t *testing.T) {
	a := asm.New(256)
	table := codegen.NewSafepointTable()
	table.Emit(a, 0)
	expectPanic(t, "DefineSafepoint after Emit", func() {
		table.DefineSafepoint(a, codegen.KindSimple, 0, codegen.NoLazyDeopt)
	})
}

func TestCodeOffsetBeforeEmitPanics(t *testing.T) {
	table := codegen.NewSafepointTable()
	expectPanic(t, "CodeOffset before Emit", func() { table.CodeOffset() })
}

// ---------------------------------------------------------------------------
// Serialization round-trip
// ---------------------------------------------------------------------------

func TestRoundTripSlotsAndRegisters(t *testing.T) {
	a := asm.New(1024)
	table := codegen.NewSafepointTable()

	s := table.DefineSafepoint(a, codegen.KindWithRegisters, 2, codegen.LazyDeopt)
	s.DefinePointerSlot(0)
	s.DefinePointerSlot(33) // second bitmap word
	s.DefinePointerRegister(3)
	table.SetDeoptimizationPc(s.ID(), 40)
	table.RecordLazyDeoptimizationIndex(1)

	entries := emitTable(t, table, a, 40)
	e := entries[0]
	if e.Kind != codegen.KindWithRegisters || e.Mode != codegen.LazyDeopt {
		t.Errorf("kind/mode = %v/%v", e.Kind, e.Mode)
	}
	if e.DeoptPC != 40 || e.LazyDeoptIndex != 1 || e.ArgCount != 2 {
		t.Errorf("entry = %+v", e)
	}
	if len(e.Slots) != 2 || e.Slots[0] != 0 || e.Slots[1] != 33 {
		t.Errorf("slots = %v", e.Slots)
	}
	if len(e.Registers) != 1 || e.Registers[0] != 3 {
		t.Errorf("registers = %v", e.Registers)
	}
}

func TestPointerSlotOutsideFramePanics(t *testing.T) {
	a := asm.New(256)
	table := codegen.NewSafepointTable()
	s := table.DefineSafepoint(a, codegen.KindSimple, 0, codegen.NoLazyDeopt)
	s.DefinePointerSlot(0)
	expectPanic(t, "pointer slot outside the frame", func() { table.Emit(a, 0) })
}

func TestEmptyTableRoundTrips(t *testing.T) {
	a := asm.New(64)
	table := codegen.NewSafepointTable()
	entries := emitTable(t, table, a, 3)
	if len(entries) != 0 {
		t.Errorf("entries = %+v", entries)
	}
}
