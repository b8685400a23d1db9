package codegen_test

import (
	"bytes"
	"testing"

	"quartz/internal/codegen"
	"quartz/internal/heap"
	"quartz/internal/ir"
	"quartz/internal/irparse"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func parseSequence(t *testing.T, hp *heap.Heap, src string) *ir.Sequence {
	t.Helper()
	seq, err := irparse.Parse(src, hp)
	if err != nil {
		t.Fatalf("parse errors: %v", err)
	}
	if problems := ir.Verify(seq); ir.HasErrors(problems) {
		t.Fatalf("verify errors: %v", problems)
	}
	return seq
}

func generate(t *testing.T, hp *heap.Heap, seq *ir.Sequence, slots int) *heap.Code {
	t.Helper()
	linkage := codegen.FunctionLinkage(0, slots, 1, hp.InternName("test_fn"))
	code, err := codegen.New(seq, linkage, hp, codegen.Options{}).GenerateCode()
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	return code
}

func decodeTable(t *testing.T, code *heap.Code) []codegen.TableEntry {
	t.Helper()
	entries, _, err := codegen.DecodeSafepointTable(code.Bytes, code.SafepointTableOffset)
	if err != nil {
		t.Fatalf("decode safepoint table: %v", err)
	}
	return entries
}

func decodeEntry(t *testing.T, code *heap.Code, id int) []codegen.TranslationRecord {
	t.Helper()
	e := code.Deopt.Entries[id]
	records, err := codegen.DecodeTranslation(code.Deopt.TranslationBytes, e.TranslationIndex)
	if err != nil {
		t.Fatalf("decode translation %d: %v", id, err)
	}
	return records
}

// ---------------------------------------------------------------------------
// Whole-unit scenarios
// ---------------------------------------------------------------------------

const lazyDeoptUnit = `
frame_state fs0 bailout=7 size=3 params=1
block b0
  gap start: s0 <- imm i32 20, s1 <- imm i32 22
  callrt.framestate.lazydeopt fs0 [imm i32 0, s0, s1, imm ref shared] live{s0} -> b1, b2
  jump b1
block b1
  ret
block b2
  ret
`

func TestLazyDeoptCallMetadata(t *testing.T) {
	hp := heap.New()
	seq := parseSequence(t, hp, lazyDeoptUnit)
	code := generate(t, hp, seq, 2)

	entries := decodeTable(t, code)
	if len(entries) != 1 {
		t.Fatalf("got %d safepoints, want 1", len(entries))
	}
	sp := entries[0]
	if len(sp.Slots) != 1 || sp.Slots[0] != 0 {
		t.Errorf("pointer slots = %v, want [0]", sp.Slots)
	}
	if len(sp.Registers) != 0 {
		t.Errorf("simple safepoint recorded registers %v", sp.Registers)
	}
	if sp.Mode != codegen.LazyDeopt {
		t.Error("call safepoint should be a lazy-deopt safepoint")
	}
	// Both the safepoint pc and the patched deopt pc are the call's return
	// address.
	if sp.DeoptPC == -1 || sp.DeoptPC != sp.PC {
		t.Errorf("deopt pc = %d, want the call pc %d", sp.DeoptPC, sp.PC)
	}
	if sp.LazyDeoptIndex != 0 {
		t.Errorf("lazy deopt index = %d, want 0", sp.LazyDeoptIndex)
	}

	d := code.Deopt
	if d == nil {
		t.Fatal("expected deoptimization data")
	}
	if len(d.Entries) != 1 {
		t.Fatalf("got %d deopt entries, want 1", len(d.Entries))
	}
	e := d.Entries[0]
	if e.BailoutID != 7 {
		t.Errorf("bailout id = %d, want 7", e.BailoutID)
	}
	if e.ArgumentsStackHeight != 0 || e.Pc != -1 {
		t.Errorf("deferred fields = %d/%d, want 0/-1", e.ArgumentsStackHeight, e.Pc)
	}
	if len(d.Literals) != 1 {
		t.Fatalf("literal pool = %d entries, want 1", len(d.Literals))
	}
	if d.Literals[0] != hp.InternName("shared") {
		t.Error("literal pool does not hold the interned ref")
	}

	records := decodeEntry(t, code, 0)
	if len(records) != 4 {
		t.Fatalf("translation has %d records: %+v", len(records), records)
	}
	if records[0].Kind != "begin_frame" || records[0].BailoutID != 7 || records[0].Locals != 2 {
		t.Errorf("frame marker = %+v", records[0])
	}
	if records[1].Kind != "stack_slot" || records[1].Index != 0 {
		t.Errorf("value 0 = %+v", records[1])
	}
	if records[2].Kind != "stack_slot" || records[2].Index != 1 {
		t.Errorf("value 1 = %+v", records[2])
	}
	if records[3].Kind != "literal" || records[3].Index != 0 {
		t.Errorf("value 2 = %+v", records[3])
	}
}

func TestEmptyUnitSkipsMetadata(t *testing.T) {
	hp := heap.New()
	code := generate(t, hp, &ir.Sequence{}, 0)
	if code.Deopt != nil {
		t.Error("unit without frame states should carry no deoptimization data")
	}
	if entries := decodeTable(t, code); len(entries) != 0 {
		t.Errorf("got %d safepoints, want 0", len(entries))
	}
	if !code.Backend {
		t.Error("backend marker not set")
	}
}

func TestGenerationIsDeterministic(t *testing.T) {
	run := func() []byte {
		hp := heap.New()
		seq := parseSequence(t, hp, lazyDeoptUnit)
		return generate(t, hp, seq, 2).Bytes
	}
	if !bytes.Equal(run(), run()) {
		t.Error("two runs over the same input produced different bytes")
	}
}

func TestPlainCallSafepointIsNotLazy(t *testing.T) {
	hp := heap.New()
	seq := parseSequence(t, hp, "block b0\n  callrt [imm i32 2] live{s0}\n  ret\n")
	code := generate(t, hp, seq, 1)

	entries := decodeTable(t, code)
	if len(entries) != 1 {
		t.Fatalf("got %d safepoints", len(entries))
	}
	e := entries[0]
	if e.Mode != codegen.NoLazyDeopt || e.DeoptPC != -1 || e.LazyDeoptIndex != -1 {
		t.Errorf("entry = %+v", e)
	}
	if code.Deopt != nil {
		t.Error("plain call should produce no deoptimization data")
	}
}

func TestRegisterPointersDroppedForSimpleKind(t *testing.T) {
	hp := heap.New()
	seq := parseSequence(t, hp, "block b0\n  callrt [imm i32 2] live{s1, r0}\n  ret\n")
	code := generate(t, hp, seq, 2)

	e := decodeTable(t, code)[0]
	if len(e.Slots) != 1 || e.Slots[0] != 1 {
		t.Errorf("slots = %v, want [1]", e.Slots)
	}
	if len(e.Registers) != 0 {
		t.Errorf("registers recorded for a simple safepoint: %v", e.Registers)
	}
}

func TestBoxedImmediatesAreDistinctLiterals(t *testing.T) {
	hp := heap.New()
	src := `
frame_state fs0 bailout=1 size=2 params=0
block b0
  callrt.framestate fs0 [imm i32 0, imm i32 5, imm i32 5]
  ret
`
	seq := parseSequence(t, hp, src)
	code := generate(t, hp, seq, 0)

	// Boxing allocates a fresh number each time, so equal values do not
	// collapse in the pool.
	if len(code.Deopt.Literals) != 2 {
		t.Errorf("literal pool = %d entries, want 2", len(code.Deopt.Literals))
	}
}

func TestSharedRefLiteralsCollapse(t *testing.T) {
	hp := heap.New()
	src := `
frame_state fs0 bailout=1 size=2 params=0
block b0
  callrt.framestate fs0 [imm i32 0, imm ref fn, imm ref fn]
  ret
`
	seq := parseSequence(t, hp, src)
	code := generate(t, hp, seq, 0)

	if len(code.Deopt.Literals) != 1 {
		t.Fatalf("literal pool = %d entries, want 1", len(code.Deopt.Literals))
	}
	records := decodeEntry(t, code, 0)
	if records[1].Index != 0 || records[2].Index != 0 {
		t.Errorf("both records should reference literal 0: %+v", records[1:])
	}
}

func TestTranslationPerFrameState(t *testing.T) {
	hp := heap.New()
	src := `
frame_state fs0 bailout=1 size=1 params=0
frame_state fs1 bailout=2 size=1 params=0
block b0
  callrt.framestate fs0 [imm i32 0, s0]
  callrt.framestate fs1 [imm i32 0, ds1]
  ret
`
	seq := parseSequence(t, hp, src)
	code := generate(t, hp, seq, 2)

	if len(code.Deopt.Entries) != 2 {
		t.Fatalf("got %d entries", len(code.Deopt.Entries))
	}
	r0 := decodeEntry(t, code, 0)
	r1 := decodeEntry(t, code, 1)
	if r0[0].BailoutID != 1 || r1[0].BailoutID != 2 {
		t.Errorf("bailout ids = %d, %d", r0[0].BailoutID, r1[0].BailoutID)
	}
	if r1[1].Kind != "double_stack_slot" || r1[1].Index != 1 {
		t.Errorf("second unit value = %+v", r1[1])
	}
}

func TestRebuildingTranslationPanics(t *testing.T) {
	hp := heap.New()
	src := `
frame_state fs0 bailout=1 size=1 params=0
block b0
  callrt.framestate fs0 [imm i32 0, s0]
  callrt.framestate fs0 [imm i32 0, s0]
  ret
`
	seq := parseSequence(t, hp, src)
	linkage := codegen.FunctionLinkage(0, 1, 1, hp.InternName("fn"))
	gen := codegen.New(seq, linkage, hp, codegen.Options{})
	expectPanic(t, "translation built twice", func() {
		_, _ = gen.GenerateCode()
	})
}

func TestUnreachedFrameStatePanics(t *testing.T) {
	hp := heap.New()
	src := `
frame_state fs0 bailout=1 size=0 params=0
block b0
  ret
`
	// The verifier rejects a dangling frame state up front; feed the sequence
	// in unverified to reach the generator's own invariant.
	seq, err := irparse.Parse(src, hp)
	if err != nil {
		t.Fatalf("parse errors: %v", err)
	}
	linkage := codegen.FunctionLinkage(0, 0, 1, hp.InternName("fn"))
	gen := codegen.New(seq, linkage, hp, codegen.Options{})
	expectPanic(t, "frame state never reached", func() {
		_, _ = gen.GenerateCode()
	})
}

func TestBufferOverflowIsAnError(t *testing.T) {
	hp := heap.New()
	seq := parseSequence(t, hp, "block b0\n  ret\n")
	linkage := codegen.StubLinkage(0)
	gen := codegen.New(seq, linkage, hp, codegen.Options{BufferSize: 2})
	if _, err := gen.GenerateCode(); err == nil {
		t.Error("expected an overflow error")
	}
}

func TestStubLinkageKind(t *testing.T) {
	hp := heap.New()
	seq := parseSequence(t, hp, "block b0\n  ret\n")
	code, err := codegen.New(seq, codegen.StubLinkage(0), hp, codegen.Options{}).GenerateCode()
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if code.Kind != heap.CodeStub {
		t.Errorf("kind = %v, want stub", code.Kind)
	}
	if code.Deopt != nil {
		t.Error("stub should carry no deoptimization data")
	}
}

func TestCommentsAnnotateBlocks(t *testing.T) {
	hp := heap.New()
	seq := parseSequence(t, hp, "block b0\n  pos 5\n  ret\n")
	linkage := codegen.StubLinkage(0)
	gen := codegen.New(seq, linkage, hp, codegen.Options{EnableComments: true})
	if _, err := gen.GenerateCode(); err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	var found bool
	for _, c := range gen.Assembler().Comments() {
		if c.Text == "-- b0 start --" {
			found = true
		}
	}
	if !found {
		t.Error("block-start comment missing")
	}
	if got := gen.Assembler().Positions(); len(got) != 1 || got[0].Pos != 5 {
		t.Errorf("positions = %+v", got)
	}
}

func TestDuplicateSourcePositionSkipped(t *testing.T) {
	hp := heap.New()
	seq := parseSequence(t, hp, "block b0\n  pos 5\n  pos 5\n  pos 9\n  ret\n")
	gen := codegen.New(seq, codegen.StubLinkage(0), hp, codegen.Options{})
	if _, err := gen.GenerateCode(); err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	got := gen.Assembler().Positions()
	if len(got) != 2 || got[0].Pos != 5 || got[1].Pos != 9 {
		t.Errorf("positions = %+v", got)
	}
}
