package ir

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Instructions, blocks, and the sequence container
//
// A Sequence is the register-allocated input to the code generator: an
// ordered list of basic blocks, each starting with a BlockStart marker and
// containing gap (parallel move) entries, source-position markers, and
// architecture-level operations, in order.
// ---------------------------------------------------------------------------

// BlockID identifies a basic block within one sequence.
type BlockID int

func (b BlockID) String() string { return fmt.Sprintf("b%d", int(b)) }

// SourcePosition is a byte offset into the original script; -1 is unknown.
type SourcePosition int32

// UnknownPosition is the absent source position.
const UnknownPosition SourcePosition = -1

// IsKnown reports whether the position refers to a real script offset.
func (p SourcePosition) IsKnown() bool { return p >= 0 }

// ---------------------------------------------------------------------------
// Parallel moves (gaps)
// ---------------------------------------------------------------------------

// GapPosition is one of the fixed inner positions within a gap entry: the
// moves applying before the instruction and the moves applying at the block
// join.
type GapPosition int

const (
	GapStart GapPosition = iota
	GapEnd

	GapPositionCount = 2
)

// Move is a single source→destination transfer request.
type Move struct {
	Src Operand
	Dst Operand
}

func (m Move) String() string { return m.Dst.String() + " <- " + m.Src.String() }

// MoveSet is an unordered set of moves that must take effect simultaneously.
type MoveSet struct {
	Moves []Move
}

// AddMove appends a transfer request.
func (s *MoveSet) AddMove(src, dst Operand) {
	s.Moves = append(s.Moves, Move{Src: src, Dst: dst})
}

// ---------------------------------------------------------------------------
// Pointer maps
// ---------------------------------------------------------------------------

// PointerMap lists the operands holding live heap pointers across a call.
type PointerMap struct {
	live []Operand
}

// RecordPointer marks an operand as holding a live heap pointer.
func (p *PointerMap) RecordPointer(op Operand) {
	p.live = append(p.live, op)
}

// NormalizedOperands returns the live set with duplicate locations merged,
// in first-recorded order.
func (p *PointerMap) NormalizedOperands() []Operand {
	var out []Operand
	for _, op := range p.live {
		dup := false
		for _, seen := range out {
			if seen.SameLocation(op) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, op)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Frame states
// ---------------------------------------------------------------------------

// Call input layout: input 0 is the runtime-entry index, input 1 the
// deoptimization id, and frame-state values start at input 2.  Calls that
// support lazy deoptimization additionally carry the continuation block and
// the deopt block as their final two inputs.
const (
	CallTargetInput           = 0
	CallDeoptIDInput          = 1
	FirstFrameStateValueInput = 2
)

// FrameStateDescriptor statically describes one potential bail-out point:
// the unoptimized frame's shape.  Descriptors are immutable and looked up by
// a small integer deoptimization id unique within one sequence.
type FrameStateDescriptor struct {
	BailoutID  int
	Size       int // total number of frame values
	ParamCount int // leading values that are parameters
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// InstrKind discriminates the instruction variants.
type InstrKind int

const (
	InstrBlockStart InstrKind = iota
	InstrGap
	InstrSourcePos
	InstrOp
)

// Instr is a single entry in the instruction stream.  The populated fields
// depend on Kind; the driver switches exhaustively on it.
type Instr struct {
	Kind InstrKind

	// InstrBlockStart
	Block BlockID

	// InstrGap
	Moves [GapPositionCount]*MoveSet

	// InstrSourcePos
	Pos SourcePosition

	// InstrOp
	Opcode     Opcode
	Output     Operand   // result location, OperandInvalid if none
	Inputs     []Operand
	Pointers   *PointerMap // live pointers across a call, nil if not a call
	FrameState int         // deoptimization id, -1 if none
}

// BlockStartInstr begins a block.
func BlockStartInstr(b BlockID) Instr {
	return Instr{Kind: InstrBlockStart, Block: b}
}

// GapInstr creates an empty gap entry; callers fill inner positions via
// MoveSetAt.
func GapInstr() Instr {
	return Instr{Kind: InstrGap}
}

// MoveSetAt returns the move set for an inner position, allocating it on
// first use.  Only valid on gap instructions.
func (in *Instr) MoveSetAt(pos GapPosition) *MoveSet {
	if in.Kind != InstrGap {
		panic("ir: MoveSetAt on non-gap instruction")
	}
	if in.Moves[pos] == nil {
		in.Moves[pos] = &MoveSet{}
	}
	return in.Moves[pos]
}

// SourcePosInstr records a source position for the following code.
func SourcePosInstr(p SourcePosition) Instr {
	return Instr{Kind: InstrSourcePos, Pos: p}
}

// OpInstr creates an architecture-level operation.
func OpInstr(op Opcode, output Operand, inputs ...Operand) Instr {
	return Instr{Kind: InstrOp, Opcode: op, Output: output, Inputs: inputs, FrameState: -1}
}

// InputAt returns the n-th input operand.
func (in *Instr) InputAt(n int) Operand {
	return in.Inputs[n]
}

// InputBlock reads the n-th input as a block reference (an int32 immediate
// holding the block id).  Panics on any other operand: a malformed block
// reference is an upstream contract breach.
func (in *Instr) InputBlock(n int) BlockID {
	op := in.Inputs[n]
	if op.Kind != OperandImmediate || op.Const.Kind != ConstInt32 {
		panic(fmt.Sprintf("ir: input %d of %s is not a block reference", n, in.Opcode))
	}
	return BlockID(op.Const.I32)
}

func (in *Instr) String() string {
	switch in.Kind {
	case InstrBlockStart:
		return "block " + in.Block.String()
	case InstrGap:
		var parts []string
		for pos := GapPosition(0); pos < GapPositionCount; pos++ {
			if set := in.Moves[pos]; set != nil {
				var ms []string
				for _, m := range set.Moves {
					ms = append(ms, m.String())
				}
				parts = append(parts, fmt.Sprintf("%v: %s", pos, strings.Join(ms, ", ")))
			}
		}
		return "gap " + strings.Join(parts, "; ")
	case InstrSourcePos:
		return fmt.Sprintf("pos %d", int32(in.Pos))
	case InstrOp:
		s := in.Opcode.String()
		if in.Output.Kind != OperandInvalid {
			s += " " + in.Output.String() + " <-"
		}
		for i, op := range in.Inputs {
			if i > 0 {
				s += ","
			}
			s += " " + op.String()
		}
		if in.FrameState >= 0 {
			s += fmt.Sprintf(" fs%d", in.FrameState)
		}
		return s
	default:
		return "<bad instr>"
	}
}

func (p GapPosition) String() string {
	switch p {
	case GapStart:
		return "start"
	case GapEnd:
		return "end"
	default:
		return "?"
	}
}

// ---------------------------------------------------------------------------
// Blocks and the sequence
// ---------------------------------------------------------------------------

// Block is one basic block: a BlockStart marker followed by its body.
type Block struct {
	ID     BlockID
	Instrs []Instr
}

// Emit appends an instruction to the block.
func (b *Block) Emit(in Instr) {
	b.Instrs = append(b.Instrs, in)
}

// Sequence is the complete register-allocated input for one compiled unit.
type Sequence struct {
	Blocks      []*Block
	FrameStates []FrameStateDescriptor
}

// NewBlock appends a fresh block (with its BlockStart marker) and returns it.
func (s *Sequence) NewBlock() *Block {
	b := &Block{ID: BlockID(len(s.Blocks))}
	b.Emit(BlockStartInstr(b.ID))
	s.Blocks = append(s.Blocks, b)
	return b
}

// AddFrameState registers a descriptor and returns its deoptimization id.
func (s *Sequence) AddFrameState(d FrameStateDescriptor) int {
	s.FrameStates = append(s.FrameStates, d)
	return len(s.FrameStates) - 1
}

// FrameState returns the descriptor for a deoptimization id.
func (s *Sequence) FrameState(i int) FrameStateDescriptor {
	return s.FrameStates[i]
}

// FrameStateCount returns the number of registered frame states.
func (s *Sequence) FrameStateCount() int { return len(s.FrameStates) }

// DebugDump returns a human-readable rendering of the whole sequence.
func (s *Sequence) DebugDump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== sequence (%d blocks, %d frame states) ===\n",
		len(s.Blocks), len(s.FrameStates))
	for i, fs := range s.FrameStates {
		fmt.Fprintf(&b, "  fs%d bailout=%d size=%d params=%d\n",
			i, fs.BailoutID, fs.Size, fs.ParamCount)
	}
	for _, blk := range s.Blocks {
		for _, in := range blk.Instrs {
			if in.Kind == InstrBlockStart {
				fmt.Fprintf(&b, "%s\n", in.String())
			} else {
				fmt.Fprintf(&b, "  %s\n", in.String())
			}
		}
	}
	return b.String()
}
