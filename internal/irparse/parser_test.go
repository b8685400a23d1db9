package irparse_test

import (
	"strings"
	"testing"

	"quartz/internal/heap"
	"quartz/internal/ir"
	"quartz/internal/irparse"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func parse(t *testing.T, src string) *ir.Sequence {
	t.Helper()
	seq, err := irparse.Parse(src, heap.New())
	if err != nil {
		t.Fatalf("parse errors: %v", err)
	}
	return seq
}

func parseErr(t *testing.T, src string) error {
	t.Helper()
	_, err := irparse.Parse(src, heap.New())
	if err == nil {
		t.Fatal("expected parse errors, got none")
	}
	return err
}

func expectErrorContains(t *testing.T, err error, substr string) {
	t.Helper()
	if !strings.Contains(err.Error(), substr) {
		t.Errorf("expected error containing %q, got:\n%s", substr, err.Error())
	}
}

// ops returns the InstrOp entries of a block, skipping markers.
func ops(blk *ir.Block) []*ir.Instr {
	var out []*ir.Instr
	for i := range blk.Instrs {
		if blk.Instrs[i].Kind == ir.InstrOp {
			out = append(out, &blk.Instrs[i])
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Valid input
// ---------------------------------------------------------------------------

func TestEmptyInput(t *testing.T) {
	seq := parse(t, "\n  // comment only\n# another\n")
	if len(seq.Blocks) != 0 || seq.FrameStateCount() != 0 {
		t.Errorf("empty input produced %d blocks, %d frame states",
			len(seq.Blocks), seq.FrameStateCount())
	}
}

func TestBlockAndReturn(t *testing.T) {
	seq := parse(t, "block b0\n  ret\n")
	if len(seq.Blocks) != 1 {
		t.Fatalf("got %d blocks", len(seq.Blocks))
	}
	blk := seq.Blocks[0]
	if blk.Instrs[0].Kind != ir.InstrBlockStart {
		t.Error("block does not start with a block-start marker")
	}
	body := ops(blk)
	if len(body) != 1 || body[0].Opcode.ArchOp() != ir.ArchReturn {
		t.Errorf("body = %v", blk.Instrs)
	}
}

func TestFrameStateDirective(t *testing.T) {
	seq := parse(t, "frame_state fs0 bailout=7 size=3 params=1\nblock b0\n  ret\n")
	if seq.FrameStateCount() != 1 {
		t.Fatalf("got %d frame states", seq.FrameStateCount())
	}
	fs := seq.FrameState(0)
	if fs.BailoutID != 7 || fs.Size != 3 || fs.ParamCount != 1 {
		t.Errorf("descriptor = %+v", fs)
	}
}

func TestGapMoves(t *testing.T) {
	seq := parse(t, "block b0\n  gap start: s1 <- r2, r3 <- imm i32 -5\n  ret\n")
	in := &seq.Blocks[0].Instrs[1]
	if in.Kind != ir.InstrGap {
		t.Fatalf("expected gap, got %v", in)
	}
	set := in.Moves[ir.GapStart]
	if set == nil || len(set.Moves) != 2 {
		t.Fatalf("moves = %+v", set)
	}
	if set.Moves[0].Dst != ir.Slot(1) || set.Moves[0].Src != ir.Reg(2) {
		t.Errorf("first move = %v", set.Moves[0])
	}
	if set.Moves[1].Dst != ir.Reg(3) {
		t.Errorf("second move = %v", set.Moves[1])
	}
	if c := set.Moves[1].Src; c.Kind != ir.OperandImmediate || c.Const.I32 != -5 {
		t.Errorf("second source = %v", c)
	}
	if in.Moves[ir.GapEnd] != nil {
		t.Error("end position should be empty")
	}
}

func TestSourcePosition(t *testing.T) {
	seq := parse(t, "block b0\n  pos 14\n  ret\n")
	in := &seq.Blocks[0].Instrs[1]
	if in.Kind != ir.InstrSourcePos || in.Pos != 14 {
		t.Errorf("got %v", in)
	}
}

func TestArithmeticAndMove(t *testing.T) {
	seq := parse(t, "block b0\n  move r1, imm f64 2.5\n  add r0, r0, r1\n  sub r0, r0, imm i32 3\n  ret\n")
	body := ops(seq.Blocks[0])
	if len(body) != 4 {
		t.Fatalf("got %d ops", len(body))
	}
	mv := body[0]
	if mv.Output != ir.Reg(1) || mv.Inputs[0].Const.F64 != 2.5 {
		t.Errorf("move = %v", mv)
	}
	add := body[1]
	if add.Opcode.ArchOp() != ir.ArchAdd || add.Output != ir.Reg(0) ||
		add.Inputs[0] != ir.Reg(0) || add.Inputs[1] != ir.Reg(1) {
		t.Errorf("add = %v", add)
	}
	sub := body[2]
	if sub.Inputs[1].Const.I32 != 3 {
		t.Errorf("sub = %v", sub)
	}
}

func TestBranchShape(t *testing.T) {
	seq := parse(t, "block b0\n  cmp.branch.lt r0, r1 -> b1, b2\nblock b1\n  ret\nblock b2\n  ret\n")
	br := ops(seq.Blocks[0])[0]
	if br.Opcode.FlagsMode() != ir.FlagsBranch || br.Opcode.Condition() != ir.CondLessThan {
		t.Fatalf("opcode = %s", br.Opcode)
	}
	if n := len(br.Inputs); n != 4 {
		t.Fatalf("branch has %d inputs", n)
	}
	if br.InputBlock(2) != 1 || br.InputBlock(3) != 2 {
		t.Errorf("targets = %s, %s", br.InputBlock(2), br.InputBlock(3))
	}
}

func TestBooleanShape(t *testing.T) {
	seq := parse(t, "block b0\n  cmp.set.eq r2, r0, r1\n  ret\n")
	set := ops(seq.Blocks[0])[0]
	if set.Opcode.FlagsMode() != ir.FlagsSet || set.Output != ir.Reg(2) {
		t.Errorf("set = %v", set)
	}
}

func TestLazyDeoptCallShape(t *testing.T) {
	src := `
frame_state fs0 bailout=7 size=2 params=0
block b0
  callrt.framestate.lazydeopt fs0 [imm i32 3, s0, s1] live{s0, s1} -> b1, b2
block b1
  ret
block b2
  ret
`
	seq := parse(t, src)
	call := ops(seq.Blocks[0])[0]

	if call.FrameState != 0 {
		t.Errorf("frame state = %d", call.FrameState)
	}
	support := call.Opcode.DeoptSupport()
	if support&ir.NeedsFrameState == 0 || support&ir.SupportsLazyDeopt == 0 {
		t.Errorf("deopt support = %d", support)
	}
	// target, synthesized deopt id, two values, two block refs.
	if len(call.Inputs) != 6 {
		t.Fatalf("call has %d inputs", len(call.Inputs))
	}
	if call.InputAt(ir.CallTargetInput).Const.I32 != 3 {
		t.Errorf("target = %v", call.InputAt(ir.CallTargetInput))
	}
	if call.InputAt(ir.CallDeoptIDInput).Const.I32 != 0 {
		t.Errorf("deopt id = %v", call.InputAt(ir.CallDeoptIDInput))
	}
	if call.InputAt(ir.FirstFrameStateValueInput) != ir.Slot(0) {
		t.Errorf("first value = %v", call.InputAt(ir.FirstFrameStateValueInput))
	}
	if call.InputBlock(4) != 1 || call.InputBlock(5) != 2 {
		t.Errorf("continuations = %s, %s", call.InputBlock(4), call.InputBlock(5))
	}
	if call.Pointers == nil || len(call.Pointers.NormalizedOperands()) != 2 {
		t.Errorf("pointers = %+v", call.Pointers)
	}
}

func TestPlainCallHasNoDeoptID(t *testing.T) {
	seq := parse(t, "block b0\n  callrt [imm i32 5]\n  ret\n")
	call := ops(seq.Blocks[0])[0]
	if len(call.Inputs) != 1 || call.FrameState != -1 || call.Pointers != nil {
		t.Errorf("call = %+v", call)
	}
}

func TestRefImmediatesAreInterned(t *testing.T) {
	hp := heap.New()
	seq, err := irparse.Parse("block b0\n  gap start: s0 <- imm ref fn, s1 <- imm ref fn\n  ret\n", hp)
	if err != nil {
		t.Fatalf("parse errors: %v", err)
	}
	set := seq.Blocks[0].Instrs[1].Moves[ir.GapStart]
	a := set.Moves[0].Src.Const.Ref
	b := set.Moves[1].Src.Const.Ref
	if a != b {
		t.Error("the same ref name should intern to the same ref")
	}
	if a != hp.InternName("fn") {
		t.Error("parsed ref does not match the heap's interned ref")
	}
}

func TestDoubleOperands(t *testing.T) {
	seq := parse(t, "block b0\n  gap start: ds0 <- d3\n  ret\n")
	m := seq.Blocks[0].Instrs[1].Moves[ir.GapStart].Moves[0]
	if m.Dst != ir.DoubleSlot(0) || m.Src != ir.DoubleReg(3) {
		t.Errorf("move = %v", m)
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestUnknownOperation(t *testing.T) {
	err := parseErr(t, "block b0\n  frobnicate r1\n")
	expectErrorContains(t, err, "unknown operation")
}

func TestInstructionBeforeBlock(t *testing.T) {
	err := parseErr(t, "ret\n")
	expectErrorContains(t, err, "before any block")
}

func TestBlockOutOfOrder(t *testing.T) {
	err := parseErr(t, "block b1\n")
	expectErrorContains(t, err, "declared in order")
}

func TestFrameStateOutOfOrder(t *testing.T) {
	err := parseErr(t, "frame_state fs1 bailout=0 size=0 params=0\n")
	expectErrorContains(t, err, "declared in order")
}

func TestUnknownFrameStateReference(t *testing.T) {
	err := parseErr(t, "block b0\n  callrt.framestate fs3 [imm i32 0]\n")
	expectErrorContains(t, err, "unknown frame state")
}

func TestBadOperand(t *testing.T) {
	err := parseErr(t, "block b0\n  move r1, q7\n")
	expectErrorContains(t, err, "bad operand")
}

func TestMissingBranchTargets(t *testing.T) {
	err := parseErr(t, "block b0\n  cmp.branch.lt r0, r1\n")
	expectErrorContains(t, err, "->")
}

func TestTrailingInput(t *testing.T) {
	err := parseErr(t, "block b0\n  ret r1 extra\n")
	expectErrorContains(t, err, "trailing")
}

func TestErrorsCarryLineNumbers(t *testing.T) {
	err := parseErr(t, "block b0\n  ret\n  bogus r0\n")
	expectErrorContains(t, err, "line 3")
}

func TestMultipleErrorsCollected(t *testing.T) {
	_, err := irparse.Parse("block b0\n  bogus1 r0\n  bogus2 r1\n", heap.New())
	list, ok := err.(irparse.ErrorList)
	if !ok {
		t.Fatalf("expected ErrorList, got %T", err)
	}
	if len(list) != 2 {
		t.Errorf("collected %d errors, want 2", len(list))
	}
}
