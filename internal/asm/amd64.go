package asm

// ---------------------------------------------------------------------------
// x86-64 instruction encodings
//
// Only the instructions the code generator actually emits: GPR/SSE moves
// between registers and frame slots, exchanges, integer ALU ops, compares,
// branches with label fixups, boolean materialization, indirect calls, and
// the frame prologue/epilogue primitives.
// ---------------------------------------------------------------------------

// Reg is a general-purpose register number (hardware encoding).
type Reg uint8

const (
	RAX Reg = 0
	RCX Reg = 1
	RDX Reg = 2
	RBX Reg = 3
	RSP Reg = 4
	RBP Reg = 5
	RSI Reg = 6
	RDI Reg = 7
	R8  Reg = 8
	R9  Reg = 9
	R10 Reg = 10
	R11 Reg = 11
	R12 Reg = 12
	R13 Reg = 13
	R14 Reg = 14
	R15 Reg = 15
)

// Xmm is an SSE register number.
type Xmm uint8

const (
	X0  Xmm = 0
	X1  Xmm = 1
	X2  Xmm = 2
	X3  Xmm = 3
	X4  Xmm = 4
	X5  Xmm = 5
	X6  Xmm = 6
	X7  Xmm = 7
	X8  Xmm = 8
	X9  Xmm = 9
	X10 Xmm = 10
	X11 Xmm = 11
	X12 Xmm = 12
	X13 Xmm = 13
	X14 Xmm = 14
	X15 Xmm = 15
)

// CC is an x86 condition code (the low nibble of Jcc/SETcc opcodes).
type CC byte

const (
	CCOverflow   CC = 0x0 // JO
	CCNoOverflow CC = 0x1 // JNO
	CCBelow      CC = 0x2 // JB  (unsigned <)
	CCAboveEqual CC = 0x3 // JAE (unsigned >=)
	CCEqual      CC = 0x4 // JE / JZ
	CCNotEqual   CC = 0x5 // JNE / JNZ
	CCBelowEqual CC = 0x6 // JBE (unsigned <=)
	CCAbove      CC = 0x7 // JA  (unsigned >)
	CCLess       CC = 0xC // JL
	CCGreaterEq  CC = 0xD // JGE
	CCLessEq     CC = 0xE // JLE
	CCGreater    CC = 0xF // JG
)

// --- GPR moves ---

// MovRegReg emits MOV dst, src (64-bit GPR to GPR).
func (a *Assembler) MovRegReg(dst, src Reg) {
	rex := byte(0x48)
	if src >= 8 {
		rex |= 0x04 // REX.R
	}
	if dst >= 8 {
		rex |= 0x01 // REX.B
	}
	modrm := byte(0xC0) | (byte(src&7) << 3) | byte(dst&7)
	a.emit(rex, 0x89, modrm)
}

// MovRegImm64 emits MOV reg, imm64.
func (a *Assembler) MovRegImm64(dst Reg, imm uint64) {
	rex := byte(0x48)
	if dst >= 8 {
		rex |= 0x01
	}
	a.emit(rex, 0xB8|byte(dst&7))
	a.emitU64(imm)
}

// emitMemOp emits <rex> <opcode...> with a [base + disp] memory operand for
// the register field regEnc.  RSP/R12 bases need a SIB byte and RBP/R13
// always need a displacement.
func (a *Assembler) emitMemOp(rex byte, opcode []byte, regEnc byte, base Reg, disp int32) {
	if base >= 8 {
		rex |= 0x40 | 0x01 // REX.B
	}
	if rex != 0 {
		a.emit(rex)
	}
	a.emit(opcode...)
	baseEnc := byte(base & 7)
	switch {
	case disp == 0 && baseEnc != 5:
		modrm := (regEnc << 3) | baseEnc
		if baseEnc == 4 {
			a.emit(modrm, 0x24)
		} else {
			a.emit(modrm)
		}
	case disp >= -128 && disp <= 127:
		modrm := 0x40 | (regEnc << 3) | baseEnc
		if baseEnc == 4 {
			a.emit(modrm, 0x24, byte(int8(disp)))
		} else {
			a.emit(modrm, byte(int8(disp)))
		}
	default:
		modrm := 0x80 | (regEnc << 3) | baseEnc
		if baseEnc == 4 {
			a.emit(modrm, 0x24)
		} else {
			a.emit(modrm)
		}
		a.emitU32(uint32(disp))
	}
}

// MovRegMem emits MOV dst, [base + disp] (64-bit load).
func (a *Assembler) MovRegMem(dst, base Reg, disp int32) {
	rex := byte(0x48)
	if dst >= 8 {
		rex |= 0x04
	}
	a.emitMemOp(rex, []byte{0x8B}, byte(dst&7), base, disp)
}

// MovMemReg emits MOV [base + disp], src (64-bit store).
func (a *Assembler) MovMemReg(base Reg, disp int32, src Reg) {
	rex := byte(0x48)
	if src >= 8 {
		rex |= 0x04
	}
	a.emitMemOp(rex, []byte{0x89}, byte(src&7), base, disp)
}

// XchgRegReg emits XCHG dst, src (64-bit).
func (a *Assembler) XchgRegReg(dst, src Reg) {
	rex := byte(0x48)
	if src >= 8 {
		rex |= 0x04
	}
	if dst >= 8 {
		rex |= 0x01
	}
	modrm := byte(0xC0) | (byte(src&7) << 3) | byte(dst&7)
	a.emit(rex, 0x87, modrm)
}

// PushReg emits PUSH reg.
func (a *Assembler) PushReg(r Reg) {
	if r >= 8 {
		a.emit(0x41)
	}
	a.emit(0x50 | byte(r&7))
}

// PopReg emits POP reg.
func (a *Assembler) PopReg(r Reg) {
	if r >= 8 {
		a.emit(0x41)
	}
	a.emit(0x58 | byte(r&7))
}

// --- SSE moves ---

// sseRex returns the optional REX prefix for a two-xmm-operand instruction.
func sseRex(regField, rmField byte) byte {
	rex := byte(0)
	if regField >= 8 {
		rex = 0x40 | 0x04
	}
	if rmField >= 8 {
		rex |= 0x40 | 0x01
	}
	return rex
}

// MovsdXmmXmm emits MOVSD dst, src (register form).
func (a *Assembler) MovsdXmmXmm(dst, src Xmm) {
	a.emit(0xF2)
	if rex := sseRex(byte(dst), byte(src)); rex != 0 {
		a.emit(rex)
	}
	modrm := byte(0xC0) | (byte(dst&7) << 3) | byte(src&7)
	a.emit(0x0F, 0x10, modrm)
}

// MovsdXmmMem emits MOVSD dst, [base + disp] (float64 load).
func (a *Assembler) MovsdXmmMem(dst Xmm, base Reg, disp int32) {
	a.emit(0xF2)
	rex := byte(0)
	if dst >= 8 {
		rex = 0x40 | 0x04
	}
	a.emitMemOp(rex, []byte{0x0F, 0x10}, byte(dst&7), base, disp)
}

// MovsdMemXmm emits MOVSD [base + disp], src (float64 store).
func (a *Assembler) MovsdMemXmm(base Reg, disp int32, src Xmm) {
	a.emit(0xF2)
	rex := byte(0)
	if src >= 8 {
		rex = 0x40 | 0x04
	}
	a.emitMemOp(rex, []byte{0x0F, 0x11}, byte(src&7), base, disp)
}

// MovqGprXmm emits MOVQ gpr, xmm.
func (a *Assembler) MovqGprXmm(dst Reg, src Xmm) {
	rex := byte(0x48)
	if src >= 8 {
		rex |= 0x04
	}
	if dst >= 8 {
		rex |= 0x01
	}
	modrm := byte(0xC0) | (byte(src&7) << 3) | byte(dst&7)
	a.emit(0x66, rex, 0x0F, 0x7E, modrm)
}

// MovqXmmGpr emits MOVQ xmm, gpr.
func (a *Assembler) MovqXmmGpr(dst Xmm, src Reg) {
	rex := byte(0x48)
	if dst >= 8 {
		rex |= 0x04
	}
	if src >= 8 {
		rex |= 0x01
	}
	modrm := byte(0xC0) | (byte(dst&7) << 3) | byte(src&7)
	a.emit(0x66, rex, 0x0F, 0x6E, modrm)
}

// --- ALU ---

// aluRegReg emits a REX.W ALU op of the form <opcode> r/m64, r64.
// opcode: 0x01=ADD, 0x29=SUB, 0x39=CMP, 0x09=OR, 0x21=AND, 0x31=XOR.
func (a *Assembler) aluRegReg(opcode byte, dst, src Reg) {
	rex := byte(0x48)
	if src >= 8 {
		rex |= 0x04
	}
	if dst >= 8 {
		rex |= 0x01
	}
	modrm := byte(0xC0) | (byte(src&7) << 3) | byte(dst&7)
	a.emit(rex, opcode, modrm)
}

// aluRegImm32 emits a REX.W 81 /ext ALU op with a sign-extended imm32.
func (a *Assembler) aluRegImm32(ext byte, dst Reg, imm int32) {
	rex := byte(0x48)
	if dst >= 8 {
		rex |= 0x01
	}
	modrm := byte(0xC0) | (ext << 3) | byte(dst&7)
	a.emit(rex, 0x81, modrm)
	a.emitU32(uint32(imm))
}

// AddRegReg emits ADD dst, src.
func (a *Assembler) AddRegReg(dst, src Reg) { a.aluRegReg(0x01, dst, src) }

// SubRegReg emits SUB dst, src.
func (a *Assembler) SubRegReg(dst, src Reg) { a.aluRegReg(0x29, dst, src) }

// CmpRegReg emits CMP dst, src.
func (a *Assembler) CmpRegReg(dst, src Reg) { a.aluRegReg(0x39, dst, src) }

// AddRegImm32 emits ADD dst, imm32.
func (a *Assembler) AddRegImm32(dst Reg, imm int32) { a.aluRegImm32(0, dst, imm) }

// SubRegImm32 emits SUB dst, imm32.
func (a *Assembler) SubRegImm32(dst Reg, imm int32) { a.aluRegImm32(5, dst, imm) }

// CmpRegImm32 emits CMP dst, imm32.
func (a *Assembler) CmpRegImm32(dst Reg, imm int32) { a.aluRegImm32(7, dst, imm) }

// --- Control flow ---

// Jmp emits JMP rel32 to the label.
func (a *Assembler) Jmp(l *Label) {
	a.emit(0xE9)
	a.emitRel32(l)
}

// Jcc emits a conditional jump (Jcc rel32) to the label.
func (a *Assembler) Jcc(cc CC, l *Label) {
	a.emit(0x0F, 0x80|byte(cc))
	a.emitRel32(l)
}

// Setcc emits SETcc + MOVZX, leaving 0 or 1 zero-extended in dst.
func (a *Assembler) Setcc(dst Reg, cc CC) {
	dstEnc := byte(dst & 7)
	switch {
	case dst >= 8:
		a.emit(0x41, 0x0F, 0x90|byte(cc), 0xC0|dstEnc)
	case dst >= 4:
		a.emit(0x40, 0x0F, 0x90|byte(cc), 0xC0|dstEnc) // REX for SPL/BPL/SIL/DIL
	default:
		a.emit(0x0F, 0x90|byte(cc), 0xC0|dstEnc)
	}
	modrm := byte(0xC0) | (dstEnc << 3) | dstEnc
	switch {
	case dst >= 8:
		a.emit(0x45, 0x0F, 0xB6, modrm)
	case dst >= 4:
		a.emit(0x40, 0x0F, 0xB6, modrm)
	default:
		a.emit(0x0F, 0xB6, modrm)
	}
}

// CallMem emits CALL [base + disp] (indirect through a dispatch table).
func (a *Assembler) CallMem(base Reg, disp int32) {
	a.emitMemOp(0, []byte{0xFF}, 2, base, disp)
}

// CallReg emits CALL reg.
func (a *Assembler) CallReg(r Reg) {
	if r >= 8 {
		a.emit(0x41)
	}
	a.emit(0xFF, 0xD0|byte(r&7))
}

// Ret emits RET.
func (a *Assembler) Ret() { a.emit(0xC3) }

// Nop emits a one-byte NOP.
func (a *Assembler) Nop() { a.emit(0x90) }
