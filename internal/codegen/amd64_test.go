package codegen_test

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"quartz/internal/codegen"
	"quartz/internal/heap"
)

// loweringUnit touches every lowering path: immediate fills, two-address
// arithmetic, branch and boolean flags handling, word and double moves in
// all location combinations, and a swap cycle.
const loweringUnit = `
block b0
  gap start: r0 <- imm i32 1, r1 <- imm i32 2, d0 <- imm f64 1.5
  add r0, r0, r1
  sub r0, r0, imm i32 3
  cmp.branch.lt r0, r1 -> b1, b2
block b1
  gap start: r2 <- r0, s0 <- r1, r3 <- s0, s1 <- s0, ds2 <- d0, d1 <- ds2
  cmp.set.eq r4, r2, r3
  ret
block b2
  gap start: r0 <- r1, r1 <- r0
  gap end: s0 <- imm ref target
  jump b1
`

func TestLoweringDecodes(t *testing.T) {
	hp := heap.New()
	seq := parseSequence(t, hp, loweringUnit)
	code := generate(t, hp, seq, 3)

	insts := 0
	bytes := code.InstructionBytes()
	for off := 0; off < len(bytes); {
		inst, err := x86asm.Decode(bytes[off:], 64)
		if err != nil {
			t.Fatalf("undecodable bytes at offset %d: % x", off, bytes[off:])
		}
		insts++
		off += inst.Len
	}
	// Prologue, three gaps, arithmetic, branch, setcc, swap, two epilogues.
	if insts < 20 {
		t.Errorf("decoded only %d instructions", insts)
	}
}

func TestReturnEpilogueShape(t *testing.T) {
	hp := heap.New()
	seq := parseSequence(t, hp, "block b0\n  ret\n")
	code := generate(t, hp, seq, 0)

	bytes := code.InstructionBytes()
	var ops []x86asm.Op
	for off := 0; off < len(bytes); {
		inst, err := x86asm.Decode(bytes[off:], 64)
		if err != nil {
			t.Fatalf("undecodable bytes at offset %d", off)
		}
		ops = append(ops, inst.Op)
		off += inst.Len
	}
	want := []x86asm.Op{x86asm.PUSH, x86asm.MOV, x86asm.MOV, x86asm.POP, x86asm.RET}
	if len(ops) != len(want) {
		t.Fatalf("ops = %v", ops)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("instruction %d: got %s, want %s", i, ops[i], want[i])
		}
	}
}

func TestBinopMustReuseLeftInput(t *testing.T) {
	hp := heap.New()
	seq := parseSequence(t, hp, "block b0\n  add r0, r1, r2\n  ret\n")
	gen := codegen.New(seq, codegen.StubLinkage(0), hp, codegen.Options{})
	expectPanic(t, "output does not reuse left input", func() {
		_, _ = gen.GenerateCode()
	})
}
