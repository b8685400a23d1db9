package ir

import "fmt"

// ---------------------------------------------------------------------------
// Sequence verifier
//
// Upstream phases (instruction selection, register allocation) guarantee the
// structural invariants the code generator relies on; the generator itself
// treats breaches as fatal.  Verify gives tools and tests a way to check a
// sequence up front and report everything wrong with it instead of stopping
// at the first panic.
// ---------------------------------------------------------------------------

// Severity indicates whether a problem is an error or a warning.
type Severity int

const (
	Error Severity = iota
	Warning
)

func (s Severity) String() string {
	switch s {
	case Error:
		return "error"
	case Warning:
		return "warning"
	default:
		return "unknown"
	}
}

// Problem is a single verifier finding.
type Problem struct {
	Message  string
	Block    BlockID
	Severity Severity
}

func (p Problem) Error() string {
	if p.Block < 0 {
		return fmt.Sprintf("%s: %s", p.Severity, p.Message)
	}
	return fmt.Sprintf("%s: %s: %s", p.Block, p.Severity, p.Message)
}

// HasErrors reports whether any problem is an error.
func HasErrors(problems []Problem) bool {
	for _, p := range problems {
		if p.Severity == Error {
			return true
		}
	}
	return false
}

type verifier struct {
	seq      *Sequence
	block    BlockID
	problems []Problem
}

func (v *verifier) errorf(format string, args ...any) {
	v.problems = append(v.problems, Problem{
		Message:  fmt.Sprintf(format, args...),
		Block:    v.block,
		Severity: Error,
	})
}

func (v *verifier) warnf(format string, args ...any) {
	v.problems = append(v.problems, Problem{
		Message:  fmt.Sprintf(format, args...),
		Block:    v.block,
		Severity: Warning,
	})
}

// Verify checks the structural invariants of a sequence and returns all
// findings.  A sequence with no Error findings is safe to hand to the code
// generator.
func Verify(seq *Sequence) []Problem {
	v := &verifier{seq: seq}
	seen := map[BlockID]bool{}
	for _, blk := range seq.Blocks {
		v.block = blk.ID
		if seen[blk.ID] {
			v.errorf("duplicate block id")
		}
		seen[blk.ID] = true
		v.verifyBlock(blk)
	}
	for _, blk := range seq.Blocks {
		v.block = blk.ID
		for i := range blk.Instrs {
			in := &blk.Instrs[i]
			if in.Kind != InstrOp {
				continue
			}
			v.verifyBlockRefs(in, seen)
		}
	}
	v.verifyFrameStateUse()
	return v.problems
}

// verifyFrameStateUse checks that every declared frame state is reached by
// some instruction.  The generator treats an unbuilt translation as fatal, so
// a dangling declaration can never produce a valid unit.
func (v *verifier) verifyFrameStateUse() {
	used := make([]bool, v.seq.FrameStateCount())
	for _, blk := range v.seq.Blocks {
		for i := range blk.Instrs {
			in := &blk.Instrs[i]
			if in.Kind == InstrOp && in.FrameState >= 0 && in.FrameState < len(used) {
				used[in.FrameState] = true
			}
		}
	}
	v.block = -1
	for i, u := range used {
		if !u {
			v.errorf("frame state fs%d is never used by any instruction", i)
		}
	}
}

func (v *verifier) verifyBlock(blk *Block) {
	if len(blk.Instrs) == 0 || blk.Instrs[0].Kind != InstrBlockStart {
		v.errorf("block does not begin with a block-start marker")
		return
	}
	if blk.Instrs[0].Block != blk.ID {
		v.errorf("block-start marker names %s", blk.Instrs[0].Block)
	}
	for i := 1; i < len(blk.Instrs); i++ {
		in := &blk.Instrs[i]
		switch in.Kind {
		case InstrBlockStart:
			v.errorf("block-start marker in block body")
		case InstrGap:
			v.verifyGap(in)
		case InstrSourcePos:
			// Unknown positions are legal; the generator skips them.
		case InstrOp:
			v.verifyOp(in)
		default:
			v.errorf("instruction of unknown kind %d", int(in.Kind))
		}
	}
}

func (v *verifier) verifyGap(in *Instr) {
	for pos := GapPosition(0); pos < GapPositionCount; pos++ {
		set := in.Moves[pos]
		if set == nil {
			continue
		}
		for _, m := range set.Moves {
			if m.Src.Kind == OperandInvalid || m.Dst.Kind == OperandInvalid {
				v.errorf("gap move with invalid operand")
			}
			if m.Dst.Kind == OperandImmediate {
				v.errorf("gap move into an immediate")
			}
		}
	}
}

func (v *verifier) verifyOp(in *Instr) {
	for _, op := range in.Inputs {
		if op.Kind == OperandInvalid {
			v.errorf("%s has an invalid input operand", in.Opcode)
		}
	}
	mode := in.Opcode.FlagsMode()
	if mode != FlagsNone && in.Opcode.ArchOp() != ArchCmp {
		v.warnf("%s carries a flags mode but does not set flags", in.Opcode)
	}
	if mode == FlagsSet && !in.Output.IsRegister() {
		v.errorf("%s materializes a boolean but has no register output", in.Opcode)
	}
	if in.Pointers != nil {
		for _, op := range in.Pointers.NormalizedOperands() {
			if op.Kind == OperandInvalid {
				v.errorf("%s live set has an invalid operand", in.Opcode)
			}
			if op.Kind == OperandImmediate {
				v.errorf("%s live set contains an immediate", in.Opcode)
			}
		}
	}
	if in.FrameState >= 0 {
		v.verifyFrameState(in)
	}
	if in.Opcode.DeoptSupport()&NeedsFrameState != 0 && in.FrameState < 0 {
		v.errorf("%s needs a frame state but carries none", in.Opcode)
	}
}

func (v *verifier) verifyFrameState(in *Instr) {
	if in.FrameState >= v.seq.FrameStateCount() {
		v.errorf("frame state fs%d out of range", in.FrameState)
		return
	}
	desc := v.seq.FrameState(in.FrameState)
	// Call input layout: target, deopt id, then the frame values.
	first := FirstFrameStateValueInput
	if len(in.Inputs) < first+desc.Size {
		v.errorf("call has %d inputs, frame state fs%d needs %d values",
			len(in.Inputs), in.FrameState, desc.Size)
		return
	}
	// Registers are clobbered by the call itself; frame values must live in
	// stack slots or be immediates.
	for i := 0; i < desc.Size; i++ {
		op := in.Inputs[first+i]
		if op.IsRegister() {
			v.errorf("frame state fs%d value %d lives in register %s across a call",
				in.FrameState, i, op)
		}
	}
}

func (v *verifier) verifyBlockRefs(in *Instr, blocks map[BlockID]bool) {
	check := func(n int) {
		op := in.Inputs[n]
		if op.Kind != OperandImmediate || op.Const.Kind != ConstInt32 {
			v.errorf("%s input %d is not a block reference", in.Opcode, n)
			return
		}
		if !blocks[BlockID(op.Const.I32)] {
			v.errorf("%s references unknown block b%d", in.Opcode, op.Const.I32)
		}
	}
	if in.Opcode.FlagsMode() == FlagsBranch {
		if len(in.Inputs) < 2 {
			v.errorf("branch %s is missing its target blocks", in.Opcode)
			return
		}
		check(len(in.Inputs) - 2)
		check(len(in.Inputs) - 1)
	}
	if in.Opcode.ArchOp() == ArchJump {
		if len(in.Inputs) < 1 {
			v.errorf("jump is missing its target block")
			return
		}
		check(0)
	}
	if in.Opcode.DeoptSupport()&SupportsLazyDeopt != 0 {
		if len(in.Inputs) < 2 {
			v.errorf("lazy-deopt call %s is missing continuation blocks", in.Opcode)
			return
		}
		check(len(in.Inputs) - 2)
		check(len(in.Inputs) - 1)
	}
}
