package ir

import (
	"fmt"

	"quartz/internal/heap"
)

// ---------------------------------------------------------------------------
// Operands — the allocated locations and immediates instructions refer to
//
// Register allocation has already run: every operand is a concrete stack
// slot, a concrete machine register, or an immediate constant.  The set of
// kinds is closed and matched exhaustively throughout the backend.
// ---------------------------------------------------------------------------

// OperandKind describes what an operand represents.
type OperandKind int

const (
	OperandInvalid         OperandKind = iota
	OperandStackSlot                   // word-sized spill slot (index from frame base)
	OperandDoubleStackSlot             // float64 spill slot
	OperandRegister                    // general-purpose register (allocation index)
	OperandDoubleRegister              // floating-point register (allocation index)
	OperandImmediate                   // constant
)

// Operand is a single allocated value location or immediate.
type Operand struct {
	Kind  OperandKind
	Index int      // slot index or register allocation index
	Const Constant // payload for OperandImmediate
}

// Convenience constructors for operands.
func Slot(i int) Operand       { return Operand{Kind: OperandStackSlot, Index: i} }
func DoubleSlot(i int) Operand { return Operand{Kind: OperandDoubleStackSlot, Index: i} }
func Reg(r int) Operand        { return Operand{Kind: OperandRegister, Index: r} }
func DoubleReg(r int) Operand  { return Operand{Kind: OperandDoubleRegister, Index: r} }
func Imm(c Constant) Operand   { return Operand{Kind: OperandImmediate, Const: c} }

// IsStackSlot reports whether the operand lives in a word or double spill slot.
func (o Operand) IsStackSlot() bool {
	return o.Kind == OperandStackSlot || o.Kind == OperandDoubleStackSlot
}

// IsRegister reports whether the operand lives in a machine register.
func (o Operand) IsRegister() bool {
	return o.Kind == OperandRegister || o.Kind == OperandDoubleRegister
}

// SameLocation reports whether two operands name the same storage location.
// Immediates are not locations and never alias anything.
func (o Operand) SameLocation(other Operand) bool {
	if o.Kind == OperandImmediate || other.Kind == OperandImmediate {
		return false
	}
	return o.Kind == other.Kind && o.Index == other.Index
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandInvalid:
		return "<invalid>"
	case OperandStackSlot:
		return fmt.Sprintf("s%d", o.Index)
	case OperandDoubleStackSlot:
		return fmt.Sprintf("ds%d", o.Index)
	case OperandRegister:
		return fmt.Sprintf("r%d", o.Index)
	case OperandDoubleRegister:
		return fmt.Sprintf("d%d", o.Index)
	case OperandImmediate:
		return o.Const.String()
	default:
		return "?"
	}
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// ConstantKind describes the payload of an immediate.
type ConstantKind int

const (
	ConstInt32 ConstantKind = iota
	ConstFloat64
	ConstHeapRef
)

// Constant is an immediate value.  HeapRef constants carry an opaque token
// owned by the heap collaborator; the backend only stores, compares (by
// identity) and forwards it.
type Constant struct {
	Kind ConstantKind
	I32  int32
	F64  float64
	Ref  heap.Ref
}

func Int32Constant(v int32) Constant     { return Constant{Kind: ConstInt32, I32: v} }
func Float64Constant(v float64) Constant { return Constant{Kind: ConstFloat64, F64: v} }
func HeapConstant(r heap.Ref) Constant   { return Constant{Kind: ConstHeapRef, Ref: r} }

func (c Constant) String() string {
	switch c.Kind {
	case ConstInt32:
		return fmt.Sprintf("#%d", c.I32)
	case ConstFloat64:
		return fmt.Sprintf("#%g", c.F64)
	case ConstHeapRef:
		return "#ref"
	default:
		return "#?"
	}
}
