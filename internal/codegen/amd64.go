package codegen

import (
	"fmt"
	"math"

	"quartz/internal/asm"
	"quartz/internal/ir"
)

// ---------------------------------------------------------------------------
// x86-64 backend
//
// Maps allocation indices to hardware registers, lays out the frame, and
// lowers each architecture-level operation to encodings.  Register
// conventions:
//
//   r10, r11    word scratch (never allocatable, free at every gap)
//   r13         runtime dispatch table base, set up by the caller
//   xmm14, xmm15  double scratch
//
// Everything else in the tables below is allocatable.
// ---------------------------------------------------------------------------

// allocatableGPRs maps a general register allocation index to hardware.
var allocatableGPRs = []asm.Reg{
	asm.RAX, asm.RBX, asm.RDX, asm.RCX, asm.RSI,
	asm.RDI, asm.R8, asm.R9, asm.R12, asm.R14,
}

// allocatableXmms maps a double register allocation index to hardware.
var allocatableXmms = []asm.Xmm{
	asm.X0, asm.X1, asm.X2, asm.X3, asm.X4, asm.X5, asm.X6,
	asm.X7, asm.X8, asm.X9, asm.X10, asm.X11, asm.X12, asm.X13,
}

const (
	scratch0 = asm.R10
	scratch1 = asm.R11

	// Runtime entry points live in a table addressed off r13; a runtime call
	// is CALL [r13 + 8*index].
	runtimeTableReg = asm.R13

	doubleScratch0 = asm.X14
	doubleScratch1 = asm.X15
)

func gprForIndex(i int) asm.Reg {
	if i < 0 || i >= len(allocatableGPRs) {
		panic(fmt.Sprintf("codegen: general register index %d out of range", i))
	}
	return allocatableGPRs[i]
}

func xmmForIndex(i int) asm.Xmm {
	if i < 0 || i >= len(allocatableXmms) {
		panic(fmt.Sprintf("codegen: double register index %d out of range", i))
	}
	return allocatableXmms[i]
}

// slotDisp returns the rbp-relative displacement of a spill slot.  Slots grow
// downward from the frame base.
func slotDisp(index int) int32 {
	return int32(-8 * (index + 1))
}

// ---------------------------------------------------------------------------
// Frame construction
// ---------------------------------------------------------------------------

func (g *CodeGenerator) assemblePrologue() {
	if g.opts.EnableComments {
		g.masm.RecordComment("-- prologue --")
	}
	g.masm.PushReg(asm.RBP)
	g.masm.MovRegReg(asm.RBP, asm.RSP)
	frame := g.linkage.StackSlots * 8
	if frame%16 != 0 {
		frame += 8 // keep rsp 16-aligned for calls
	}
	if frame > 0 {
		g.masm.SubRegImm32(asm.RSP, int32(frame))
	}
}

func (g *CodeGenerator) assembleEpilogueAndReturn() {
	g.masm.MovRegReg(asm.RSP, asm.RBP)
	g.masm.PopReg(asm.RBP)
	g.masm.Ret()
}

// ---------------------------------------------------------------------------
// Operation lowering
// ---------------------------------------------------------------------------

// gprOutput returns the hardware register of the instruction's output, which
// must be a general register.
func (g *CodeGenerator) gprOutput(in *ir.Instr) asm.Reg {
	if in.Output.Kind != ir.OperandRegister {
		panic(fmt.Sprintf("codegen: output of %s is not a general register", in.Opcode))
	}
	return gprForIndex(in.Output.Index)
}

// gprInput returns the hardware register of a general-register input.
func (g *CodeGenerator) gprInput(in *ir.Instr, n int) asm.Reg {
	op := in.InputAt(n)
	if op.Kind != ir.OperandRegister {
		panic(fmt.Sprintf("codegen: input %d of %s is not a general register", n, in.Opcode))
	}
	return gprForIndex(op.Index)
}

func (g *CodeGenerator) assembleArchInstruction(in *ir.Instr) {
	switch op := in.Opcode.ArchOp(); op {
	case ir.ArchNop:
		// Nothing to emit; the entry only exists to carry annotations.
	case ir.ArchMove:
		g.AssembleMove(in.InputAt(0), in.Output)
	case ir.ArchAdd:
		g.assembleBinop(in, g.masm.AddRegReg, g.masm.AddRegImm32)
	case ir.ArchSub:
		g.assembleBinop(in, g.masm.SubRegReg, g.masm.SubRegImm32)
	case ir.ArchCmp:
		dst := g.gprInput(in, 0)
		rhs := in.InputAt(1)
		if rhs.Kind == ir.OperandImmediate && rhs.Const.Kind == ir.ConstInt32 {
			g.masm.CmpRegImm32(dst, rhs.Const.I32)
		} else {
			g.masm.CmpRegReg(dst, g.gprInput(in, 1))
		}
	case ir.ArchCallRuntime:
		index := g.constantInput(in, ir.CallTargetInput)
		if g.opts.EnableComments {
			g.masm.RecordComment(fmt.Sprintf("-- runtime call %d --", index))
		}
		g.masm.CallMem(runtimeTableReg, int32(index)*8)
		g.addSafepointAndDeopt(in)
	case ir.ArchJump:
		g.masm.Jmp(g.blockLabel(in.InputBlock(0)))
	case ir.ArchReturn:
		g.assembleEpilogueAndReturn()
	default:
		panic(fmt.Sprintf("codegen: unknown arch op %d", int(op)))
	}
}

// assembleBinop lowers a two-address integer op: the output register doubles
// as the left operand, the right operand is a register or an imm32.
func (g *CodeGenerator) assembleBinop(in *ir.Instr, regReg func(dst, src asm.Reg), regImm func(dst asm.Reg, imm int32)) {
	dst := g.gprOutput(in)
	if lhs := g.gprInput(in, 0); lhs != dst {
		panic(fmt.Sprintf("codegen: %s output %s does not reuse its left input", in.Opcode, in.Output))
	}
	rhs := in.InputAt(1)
	if rhs.Kind == ir.OperandImmediate && rhs.Const.Kind == ir.ConstInt32 {
		regImm(dst, rhs.Const.I32)
	} else {
		regReg(dst, g.gprInput(in, 1))
	}
}

// assembleArchBranch consumes the flags the instruction just computed.  The
// branch targets are the last two inputs: taken first, fall-through second.
func (g *CodeGenerator) assembleArchBranch(in *ir.Instr, cond ir.Condition) {
	trueBlock := in.InputBlock(len(in.Inputs) - 2)
	falseBlock := in.InputBlock(len(in.Inputs) - 1)
	g.masm.Jcc(ccFor(cond), g.blockLabel(trueBlock))
	g.masm.Jmp(g.blockLabel(falseBlock))
}

// assembleArchBoolean materializes the computed condition as 0 or 1 in the
// output register.
func (g *CodeGenerator) assembleArchBoolean(in *ir.Instr, cond ir.Condition) {
	g.masm.Setcc(g.gprOutput(in), ccFor(cond))
}

func ccFor(cond ir.Condition) asm.CC {
	switch cond {
	case ir.CondEqual:
		return asm.CCEqual
	case ir.CondNotEqual:
		return asm.CCNotEqual
	case ir.CondLessThan:
		return asm.CCLess
	case ir.CondLessOrEqual:
		return asm.CCLessEq
	case ir.CondGreaterThan:
		return asm.CCGreater
	case ir.CondGreaterOrEqual:
		return asm.CCGreaterEq
	case ir.CondUnsignedLessThan:
		return asm.CCBelow
	case ir.CondUnsignedLessOrEqual:
		return asm.CCBelowEqual
	case ir.CondUnsignedGreaterThan:
		return asm.CCAbove
	case ir.CondUnsignedGreaterOrEqual:
		return asm.CCAboveEqual
	case ir.CondOverflow:
		return asm.CCOverflow
	case ir.CondNotOverflow:
		return asm.CCNoOverflow
	default:
		panic(fmt.Sprintf("codegen: unknown condition %d", int(cond)))
	}
}

// ---------------------------------------------------------------------------
// Move primitives (MoveOperations)
// ---------------------------------------------------------------------------

// immediateBits returns the raw word a constant materializes as.
func (g *CodeGenerator) immediateBits(c ir.Constant) uint64 {
	switch c.Kind {
	case ir.ConstInt32:
		return uint64(int64(c.I32))
	case ir.ConstFloat64:
		return math.Float64bits(c.F64)
	case ir.ConstHeapRef:
		return g.hp.Address(c.Ref)
	default:
		panic(fmt.Sprintf("codegen: constant of unknown kind %d", int(c.Kind)))
	}
}

// AssembleMove emits one source-to-destination transfer.  Word and double
// classes never mix; the resolver only hands over class-consistent moves.
func (g *CodeGenerator) AssembleMove(src, dst ir.Operand) {
	switch {
	case src.Kind == ir.OperandRegister && dst.Kind == ir.OperandRegister:
		g.masm.MovRegReg(gprForIndex(dst.Index), gprForIndex(src.Index))
	case src.Kind == ir.OperandRegister && dst.Kind == ir.OperandStackSlot:
		g.masm.MovMemReg(asm.RBP, slotDisp(dst.Index), gprForIndex(src.Index))
	case src.Kind == ir.OperandStackSlot && dst.Kind == ir.OperandRegister:
		g.masm.MovRegMem(gprForIndex(dst.Index), asm.RBP, slotDisp(src.Index))
	case src.Kind == ir.OperandStackSlot && dst.Kind == ir.OperandStackSlot:
		g.masm.MovRegMem(scratch0, asm.RBP, slotDisp(src.Index))
		g.masm.MovMemReg(asm.RBP, slotDisp(dst.Index), scratch0)

	case src.Kind == ir.OperandImmediate && dst.Kind == ir.OperandRegister:
		g.masm.MovRegImm64(gprForIndex(dst.Index), g.immediateBits(src.Const))
	case src.Kind == ir.OperandImmediate && dst.Kind == ir.OperandStackSlot,
		src.Kind == ir.OperandImmediate && dst.Kind == ir.OperandDoubleStackSlot:
		g.masm.MovRegImm64(scratch0, g.immediateBits(src.Const))
		g.masm.MovMemReg(asm.RBP, slotDisp(dst.Index), scratch0)
	case src.Kind == ir.OperandImmediate && dst.Kind == ir.OperandDoubleRegister:
		g.masm.MovRegImm64(scratch0, g.immediateBits(src.Const))
		g.masm.MovqXmmGpr(xmmForIndex(dst.Index), scratch0)

	case src.Kind == ir.OperandDoubleRegister && dst.Kind == ir.OperandDoubleRegister:
		g.masm.MovsdXmmXmm(xmmForIndex(dst.Index), xmmForIndex(src.Index))
	case src.Kind == ir.OperandDoubleRegister && dst.Kind == ir.OperandDoubleStackSlot:
		g.masm.MovsdMemXmm(asm.RBP, slotDisp(dst.Index), xmmForIndex(src.Index))
	case src.Kind == ir.OperandDoubleStackSlot && dst.Kind == ir.OperandDoubleRegister:
		g.masm.MovsdXmmMem(xmmForIndex(dst.Index), asm.RBP, slotDisp(src.Index))
	case src.Kind == ir.OperandDoubleStackSlot && dst.Kind == ir.OperandDoubleStackSlot:
		g.masm.MovsdXmmMem(doubleScratch1, asm.RBP, slotDisp(src.Index))
		g.masm.MovsdMemXmm(asm.RBP, slotDisp(dst.Index), doubleScratch1)

	default:
		panic(fmt.Sprintf("codegen: unsupported move %s <- %s", dst, src))
	}
}

// AssembleSwap exchanges two locations of the same class.
func (g *CodeGenerator) AssembleSwap(a, b ir.Operand) {
	switch {
	case a.Kind == ir.OperandRegister && b.Kind == ir.OperandRegister:
		g.masm.XchgRegReg(gprForIndex(a.Index), gprForIndex(b.Index))
	case a.Kind == ir.OperandRegister && b.Kind == ir.OperandStackSlot:
		g.swapRegSlot(gprForIndex(a.Index), b.Index)
	case a.Kind == ir.OperandStackSlot && b.Kind == ir.OperandRegister:
		g.swapRegSlot(gprForIndex(b.Index), a.Index)
	case a.Kind == ir.OperandStackSlot && b.Kind == ir.OperandStackSlot:
		g.masm.MovRegMem(scratch0, asm.RBP, slotDisp(a.Index))
		g.masm.MovRegMem(scratch1, asm.RBP, slotDisp(b.Index))
		g.masm.MovMemReg(asm.RBP, slotDisp(a.Index), scratch1)
		g.masm.MovMemReg(asm.RBP, slotDisp(b.Index), scratch0)

	case a.Kind == ir.OperandDoubleRegister && b.Kind == ir.OperandDoubleRegister:
		g.masm.MovsdXmmXmm(doubleScratch1, xmmForIndex(a.Index))
		g.masm.MovsdXmmXmm(xmmForIndex(a.Index), xmmForIndex(b.Index))
		g.masm.MovsdXmmXmm(xmmForIndex(b.Index), doubleScratch1)
	case a.Kind == ir.OperandDoubleRegister && b.Kind == ir.OperandDoubleStackSlot:
		g.swapXmmSlot(xmmForIndex(a.Index), b.Index)
	case a.Kind == ir.OperandDoubleStackSlot && b.Kind == ir.OperandDoubleRegister:
		g.swapXmmSlot(xmmForIndex(b.Index), a.Index)
	case a.Kind == ir.OperandDoubleStackSlot && b.Kind == ir.OperandDoubleStackSlot:
		g.masm.MovsdXmmMem(doubleScratch0, asm.RBP, slotDisp(a.Index))
		g.masm.MovsdXmmMem(doubleScratch1, asm.RBP, slotDisp(b.Index))
		g.masm.MovsdMemXmm(asm.RBP, slotDisp(a.Index), doubleScratch1)
		g.masm.MovsdMemXmm(asm.RBP, slotDisp(b.Index), doubleScratch0)

	default:
		panic(fmt.Sprintf("codegen: unsupported swap %s <-> %s", a, b))
	}
}

func (g *CodeGenerator) swapRegSlot(r asm.Reg, slot int) {
	g.masm.MovRegReg(scratch0, r)
	g.masm.MovRegMem(r, asm.RBP, slotDisp(slot))
	g.masm.MovMemReg(asm.RBP, slotDisp(slot), scratch0)
}

func (g *CodeGenerator) swapXmmSlot(x asm.Xmm, slot int) {
	g.masm.MovsdXmmXmm(doubleScratch1, x)
	g.masm.MovsdXmmMem(x, asm.RBP, slotDisp(slot))
	g.masm.MovsdMemXmm(asm.RBP, slotDisp(slot), doubleScratch1)
}
