package ir

import "fmt"

// ---------------------------------------------------------------------------
// Opcodes
//
// An opcode packs the architecture-level operation together with its flags
// handling, condition, and call deopt-support bits into one 32-bit word, so
// an instruction stream stays compact and the decoder side is branch-free.
//
// Layout:  [15:14] deopt support  [13:10] condition  [9:8] flags mode
//          [7:0] arch op
// ---------------------------------------------------------------------------

// Opcode is a packed instruction opcode.
type Opcode uint32

const (
	archOpShift       = 0
	archOpBits        = 8
	flagsModeShift    = archOpShift + archOpBits
	flagsModeBits     = 2
	conditionShift    = flagsModeShift + flagsModeBits
	conditionBits     = 4
	deoptSupportShift = conditionShift + conditionBits
	deoptSupportBits  = 2
)

// ArchOp is the architecture-level operation selected by instruction
// selection.  The set here is the minimum a real unit needs: data movement,
// integer arithmetic, compare, runtime call, and control flow.
type ArchOp int

const (
	ArchNop ArchOp = iota
	ArchMove
	ArchAdd
	ArchSub
	ArchCmp
	ArchCallRuntime
	ArchJump
	ArchReturn
)

var archOpNames = map[ArchOp]string{
	ArchNop: "nop", ArchMove: "move", ArchAdd: "add", ArchSub: "sub",
	ArchCmp: "cmp", ArchCallRuntime: "callrt", ArchJump: "jump", ArchReturn: "ret",
}

func (a ArchOp) String() string {
	if s, ok := archOpNames[a]; ok {
		return s
	}
	return fmt.Sprintf("archop_%d", int(a))
}

// FlagsMode describes what happens to the condition flags an instruction
// computes: nothing, materialize a boolean, or branch.  Exactly one applies.
type FlagsMode int

const (
	FlagsNone FlagsMode = iota
	FlagsSet            // materialize the condition as 0/1 into the output
	FlagsBranch         // branch on the condition
)

func (m FlagsMode) String() string {
	switch m {
	case FlagsNone:
		return "none"
	case FlagsSet:
		return "set"
	case FlagsBranch:
		return "branch"
	default:
		return "unknown"
	}
}

// Condition is the comparison condition attached to FlagsSet/FlagsBranch
// instructions.
type Condition int

const (
	CondEqual Condition = iota
	CondNotEqual
	CondLessThan
	CondLessOrEqual
	CondGreaterThan
	CondGreaterOrEqual
	CondUnsignedLessThan
	CondUnsignedLessOrEqual
	CondUnsignedGreaterThan
	CondUnsignedGreaterOrEqual
	CondOverflow
	CondNotOverflow
)

var conditionNames = map[Condition]string{
	CondEqual: "eq", CondNotEqual: "ne",
	CondLessThan: "lt", CondLessOrEqual: "le",
	CondGreaterThan: "gt", CondGreaterOrEqual: "ge",
	CondUnsignedLessThan: "ult", CondUnsignedLessOrEqual: "ule",
	CondUnsignedGreaterThan: "ugt", CondUnsignedGreaterOrEqual: "uge",
	CondOverflow: "o", CondNotOverflow: "no",
}

func (c Condition) String() string {
	if s, ok := conditionNames[c]; ok {
		return s
	}
	return fmt.Sprintf("cond_%d", int(c))
}

// DeoptSupport flags what a call site needs from the deoptimizer.
type DeoptSupport int

const (
	NoDeoptSupport    DeoptSupport = 0
	NeedsFrameState   DeoptSupport = 1 << 0 // a frame state rides on the call
	SupportsLazyDeopt DeoptSupport = 1 << 1 // call may be lazily deoptimized on return
)

// MakeOpcode packs the fields into an Opcode.
func MakeOpcode(op ArchOp, mode FlagsMode, cond Condition, deopt DeoptSupport) Opcode {
	return Opcode(op)<<archOpShift |
		Opcode(mode)<<flagsModeShift |
		Opcode(cond)<<conditionShift |
		Opcode(deopt)<<deoptSupportShift
}

// Op packs a plain opcode with no flags handling and no deopt support.
func Op(op ArchOp) Opcode {
	return MakeOpcode(op, FlagsNone, CondEqual, NoDeoptSupport)
}

func field(o Opcode, shift, bits uint) uint32 {
	return (uint32(o) >> shift) & (1<<bits - 1)
}

// ArchOp decodes the architecture-level operation.
func (o Opcode) ArchOp() ArchOp { return ArchOp(field(o, archOpShift, archOpBits)) }

// FlagsMode decodes the flags handling.
func (o Opcode) FlagsMode() FlagsMode { return FlagsMode(field(o, flagsModeShift, flagsModeBits)) }

// Condition decodes the attached condition.
func (o Opcode) Condition() Condition { return Condition(field(o, conditionShift, conditionBits)) }

// DeoptSupport decodes the call deopt-support bits.
func (o Opcode) DeoptSupport() DeoptSupport {
	return DeoptSupport(field(o, deoptSupportShift, deoptSupportBits))
}

func (o Opcode) String() string {
	s := o.ArchOp().String()
	if o.FlagsMode() != FlagsNone {
		s += "." + o.FlagsMode().String() + "." + o.Condition().String()
	}
	if o.DeoptSupport()&NeedsFrameState != 0 {
		s += ".framestate"
	}
	if o.DeoptSupport()&SupportsLazyDeopt != 0 {
		s += ".lazydeopt"
	}
	return s
}
