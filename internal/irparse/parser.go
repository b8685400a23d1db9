package irparse

import (
	"fmt"
	"strconv"
	"strings"

	"quartz/internal/heap"
	"quartz/internal/ir"
)

// ---------------------------------------------------------------------------
// Parser for the textual instruction-sequence format
//
// Line-oriented: each line is one directive or instruction.
//
//   frame_state fs0 bailout=7 size=3 params=1
//   block b0
//     gap start: s1 <- r2, r3 <- r4
//     pos 14
//     move r1, imm i32 5
//     add r1, r1, r2
//     cmp.branch.lt r1, r2 -> b1, b2
//     callrt.framestate.lazydeopt fs0 [imm i32 0, s0, s1] live{s0} -> b1, b2
//     jump b1
//     ret
//
// Registers r0…, double registers d0…, slots s0…, double slots ds0…,
// immediates `imm i32 N | imm f64 N | imm ref NAME`.  Frame-state and block
// ids must appear in declaration order.  The parser inserts the
// deoptimization-id input of a frame-state call itself, so the written input
// list is target followed by the frame values.
// ---------------------------------------------------------------------------

// ParseError is a single error found during parsing.
type ParseError struct {
	Message string
	Line    int
	Column  int
}

func (e ParseError) Error() string {
	return fmt.Sprintf("line %d, col %d: %s", e.Line, e.Column, e.Message)
}

// ErrorList aggregates every error of one parse pass.
type ErrorList []ParseError

func (l ErrorList) Error() string {
	if len(l) == 1 {
		return l[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d errors:", len(l))
	for _, e := range l {
		b.WriteString("\n  " + e.Error())
	}
	return b.String()
}

var archOps = map[string]ir.ArchOp{
	"nop":    ir.ArchNop,
	"move":   ir.ArchMove,
	"add":    ir.ArchAdd,
	"sub":    ir.ArchSub,
	"cmp":    ir.ArchCmp,
	"callrt": ir.ArchCallRuntime,
	"jump":   ir.ArchJump,
	"ret":    ir.ArchReturn,
}

var conditions = map[string]ir.Condition{
	"eq": ir.CondEqual, "ne": ir.CondNotEqual,
	"lt": ir.CondLessThan, "le": ir.CondLessOrEqual,
	"gt": ir.CondGreaterThan, "ge": ir.CondGreaterOrEqual,
	"ult": ir.CondUnsignedLessThan, "ule": ir.CondUnsignedLessOrEqual,
	"ugt": ir.CondUnsignedGreaterThan, "uge": ir.CondUnsignedGreaterOrEqual,
	"o": ir.CondOverflow, "no": ir.CondNotOverflow,
}

// Parser holds the state for one parse pass.
type Parser struct {
	seq    *ir.Sequence
	hp     *heap.Heap
	block  *ir.Block
	errors []ParseError

	tokens []Token
	pos    int
	failed bool // current line aborted, skip to next
}

// Parse builds a sequence from textual source.  HeapRef immediates are
// interned through hp.  On any error the collected ErrorList is returned.
func Parse(src string, hp *heap.Heap) (*ir.Sequence, error) {
	p := &Parser{seq: &ir.Sequence{}, hp: hp}
	for i, line := range strings.Split(src, "\n") {
		tokens, lexErrs := lexLine(line, i+1)
		for _, e := range lexErrs {
			p.errors = append(p.errors, ParseError{Message: e.Message, Line: e.Line, Column: e.Column})
		}
		if len(tokens) == 1 { // EOL only: blank or comment line
			continue
		}
		p.tokens = tokens
		p.pos = 0
		p.failed = false
		p.parseLine()
	}
	if len(p.errors) > 0 {
		return nil, ErrorList(p.errors)
	}
	return p.seq, nil
}

// ---------------------------------------------------------------------------
// Token helpers
// ---------------------------------------------------------------------------

// peek returns the current token without consuming it.
func (p *Parser) peek() Token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return Token{Type: EOL}
}

// advance consumes and returns the current token.
func (p *Parser) advance() Token {
	tok := p.peek()
	if tok.Type != EOL {
		p.pos++
	}
	return tok
}

// check returns true if the current token has the given type.
func (p *Parser) check(typ string) bool {
	return p.peek().Type == typ
}

// match consumes the current token if it has the given type.
func (p *Parser) match(typ string) bool {
	if p.check(typ) {
		p.advance()
		return true
	}
	return false
}

// expect consumes the current token if it matches typ; otherwise it records
// an error and aborts the line.
func (p *Parser) expect(typ string, msg string) Token {
	if p.check(typ) {
		return p.advance()
	}
	tok := p.peek()
	p.fail(tok, fmt.Sprintf("%s (got %s %q)", msg, tok.Type, tok.Value))
	return tok
}

// fail records an error and marks the rest of the line as unusable.
func (p *Parser) fail(tok Token, msg string) {
	if p.failed {
		return
	}
	p.failed = true
	p.errors = append(p.errors, ParseError{Message: msg, Line: tok.Line, Column: tok.Column})
}

// ---------------------------------------------------------------------------
// Line dispatch
// ---------------------------------------------------------------------------

func (p *Parser) parseLine() {
	tok := p.expect(IDENT, "expected directive or instruction")
	if p.failed {
		return
	}
	switch tok.Value {
	case "frame_state":
		p.parseFrameState()
	case "block":
		p.parseBlockHeader()
	case "gap":
		p.parseGap()
	case "pos":
		p.parsePos()
	default:
		p.parseOp(tok)
	}
	if !p.failed && !p.check(EOL) {
		p.fail(p.peek(), fmt.Sprintf("trailing input %q", p.peek().Value))
	}
}

// parseFrameState handles `frame_state fsN bailout=B size=S params=P`.
func (p *Parser) parseFrameState() {
	idTok := p.expect(IDENT, "expected frame-state id")
	if p.failed {
		return
	}
	id, ok := indexedName(idTok.Value, "fs")
	if !ok {
		p.fail(idTok, fmt.Sprintf("bad frame-state id %q", idTok.Value))
		return
	}
	if id != p.seq.FrameStateCount() {
		p.fail(idTok, fmt.Sprintf("frame-state ids must be declared in order: got fs%d, want fs%d",
			id, p.seq.FrameStateCount()))
		return
	}

	var desc ir.FrameStateDescriptor
	seen := map[string]bool{}
	for !p.check(EOL) && !p.failed {
		key := p.expect(IDENT, "expected frame-state attribute")
		p.expect(ASSIGN, "expected '='")
		val := p.expect(INT, "expected integer value")
		if p.failed {
			return
		}
		n, _ := strconv.Atoi(val.Value)
		if seen[key.Value] {
			p.fail(key, fmt.Sprintf("duplicate attribute %q", key.Value))
			return
		}
		seen[key.Value] = true
		switch key.Value {
		case "bailout":
			desc.BailoutID = n
		case "size":
			desc.Size = n
		case "params":
			desc.ParamCount = n
		default:
			p.fail(key, fmt.Sprintf("unknown frame-state attribute %q", key.Value))
			return
		}
	}
	p.seq.AddFrameState(desc)
}

// parseBlockHeader handles `block bN`.
func (p *Parser) parseBlockHeader() {
	idTok := p.expect(IDENT, "expected block id")
	if p.failed {
		return
	}
	id, ok := indexedName(idTok.Value, "b")
	if !ok {
		p.fail(idTok, fmt.Sprintf("bad block id %q", idTok.Value))
		return
	}
	if id != len(p.seq.Blocks) {
		p.fail(idTok, fmt.Sprintf("block ids must be declared in order: got b%d, want b%d",
			id, len(p.seq.Blocks)))
		return
	}
	p.block = p.seq.NewBlock()
}

// currentBlock returns the block under construction, failing if no block
// header was seen yet.
func (p *Parser) currentBlock(tok Token) *ir.Block {
	if p.block == nil {
		p.fail(tok, "instruction before any block header")
	}
	return p.block
}

// parseGap handles `gap start: d <- s, …` and `gap end: …`.
func (p *Parser) parseGap() {
	posTok := p.expect(IDENT, "expected gap position (start or end)")
	if p.failed {
		return
	}
	var gapPos ir.GapPosition
	switch posTok.Value {
	case "start":
		gapPos = ir.GapStart
	case "end":
		gapPos = ir.GapEnd
	default:
		p.fail(posTok, fmt.Sprintf("bad gap position %q", posTok.Value))
		return
	}
	p.expect(COLON, "expected ':'")

	in := ir.GapInstr()
	set := in.MoveSetAt(gapPos)
	for !p.failed {
		dst := p.parseOperand()
		p.expect(LARROW, "expected '<-'")
		src := p.parseOperand()
		if p.failed {
			return
		}
		set.AddMove(src, dst)
		if !p.match(COMMA) {
			break
		}
	}
	if blk := p.currentBlock(posTok); blk != nil && !p.failed {
		blk.Emit(in)
	}
}

// parsePos handles `pos N`.
func (p *Parser) parsePos() {
	tok := p.expect(INT, "expected source position")
	if p.failed {
		return
	}
	n, _ := strconv.Atoi(tok.Value)
	if blk := p.currentBlock(tok); blk != nil {
		blk.Emit(ir.SourcePosInstr(ir.SourcePosition(n)))
	}
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// parseOp handles an operation line.  The opcode name is the arch op followed
// by dotted suffixes: `set`/`branch` plus a condition, `framestate`,
// `lazydeopt`.
func (p *Parser) parseOp(nameTok Token) {
	parts := strings.Split(nameTok.Value, ".")
	arch, ok := archOps[parts[0]]
	if !ok {
		p.fail(nameTok, fmt.Sprintf("unknown operation %q", parts[0]))
		return
	}

	mode := ir.FlagsNone
	cond := ir.CondEqual
	deopt := ir.NoDeoptSupport
	for i := 1; i < len(parts); i++ {
		switch parts[i] {
		case "set", "branch":
			if mode != ir.FlagsNone {
				p.fail(nameTok, "more than one flags mode")
				return
			}
			if parts[i] == "set" {
				mode = ir.FlagsSet
			} else {
				mode = ir.FlagsBranch
			}
			i++
			if i >= len(parts) {
				p.fail(nameTok, "flags mode without condition")
				return
			}
			c, ok := conditions[parts[i]]
			if !ok {
				p.fail(nameTok, fmt.Sprintf("unknown condition %q", parts[i]))
				return
			}
			cond = c
		case "framestate":
			deopt |= ir.NeedsFrameState
		case "lazydeopt":
			deopt |= ir.SupportsLazyDeopt
		default:
			p.fail(nameTok, fmt.Sprintf("unknown opcode suffix %q", parts[i]))
			return
		}
	}
	opcode := ir.MakeOpcode(arch, mode, cond, deopt)

	var in ir.Instr
	switch arch {
	case ir.ArchNop:
		in = ir.OpInstr(opcode, ir.Operand{})
	case ir.ArchReturn:
		in = ir.OpInstr(opcode, ir.Operand{})
		// The returned value's location may be written for readability; the
		// backend's calling convention fixes it, so it is carried untouched.
		if !p.check(EOL) {
			in.Inputs = append(in.Inputs, p.parseOperand())
		}
	case ir.ArchJump:
		target := p.parseBlockRef()
		in = ir.OpInstr(opcode, ir.Operand{}, blockRef(target))
	case ir.ArchMove:
		dst := p.parseOperand()
		p.expect(COMMA, "expected ','")
		src := p.parseOperand()
		in = ir.OpInstr(opcode, dst, src)
	case ir.ArchAdd, ir.ArchSub:
		out := p.parseOperand()
		p.expect(COMMA, "expected ','")
		lhs := p.parseOperand()
		p.expect(COMMA, "expected ','")
		rhs := p.parseOperand()
		in = ir.OpInstr(opcode, out, lhs, rhs)
	case ir.ArchCmp:
		in = p.parseCmp(opcode, mode)
	case ir.ArchCallRuntime:
		in = p.parseCall(opcode, deopt)
	}
	if p.failed {
		return
	}
	if blk := p.currentBlock(nameTok); blk != nil {
		blk.Emit(in)
	}
}

// parseCmp handles the three cmp shapes: plain, `.set.C out, a, b`, and
// `.branch.C a, b -> bT, bF`.
func (p *Parser) parseCmp(opcode ir.Opcode, mode ir.FlagsMode) ir.Instr {
	out := ir.Operand{}
	if mode == ir.FlagsSet {
		out = p.parseOperand()
		p.expect(COMMA, "expected ','")
	}
	lhs := p.parseOperand()
	p.expect(COMMA, "expected ','")
	rhs := p.parseOperand()
	inputs := []ir.Operand{lhs, rhs}
	if mode == ir.FlagsBranch {
		p.expect(ARROW, "expected '->' with branch targets")
		t := p.parseBlockRef()
		p.expect(COMMA, "expected ','")
		f := p.parseBlockRef()
		inputs = append(inputs, blockRef(t), blockRef(f))
	}
	return ir.OpInstr(opcode, out, inputs...)
}

// parseCall handles `callrt[.framestate[.lazydeopt]] [fsN] [target, values…]
// [live{…}] [-> bCont, bDeopt]`.  The deopt-id input is synthesized from the
// frame-state reference.
func (p *Parser) parseCall(opcode ir.Opcode, deopt ir.DeoptSupport) ir.Instr {
	fsIndex := -1
	if deopt&ir.NeedsFrameState != 0 {
		tok := p.expect(IDENT, "expected frame-state reference")
		if p.failed {
			return ir.Instr{}
		}
		id, ok := indexedName(tok.Value, "fs")
		if !ok || id < 0 || id >= p.seq.FrameStateCount() {
			p.fail(tok, fmt.Sprintf("unknown frame state %q", tok.Value))
			return ir.Instr{}
		}
		fsIndex = id
	}

	p.expect(LBRACKET, "expected '[' input list")
	target := p.parseOperand()
	inputs := []ir.Operand{target}
	if fsIndex >= 0 {
		inputs = append(inputs, ir.Imm(ir.Int32Constant(int32(fsIndex))))
	}
	for p.match(COMMA) && !p.failed {
		inputs = append(inputs, p.parseOperand())
	}
	p.expect(RBRACKET, "expected ']'")

	var pointers *ir.PointerMap
	if p.check(IDENT) && p.peek().Value == "live" {
		p.advance()
		p.expect(LBRACE, "expected '{'")
		pointers = &ir.PointerMap{}
		if !p.check(RBRACE) {
			for !p.failed {
				pointers.RecordPointer(p.parseOperand())
				if !p.match(COMMA) {
					break
				}
			}
		}
		p.expect(RBRACE, "expected '}'")
	}

	if deopt&ir.SupportsLazyDeopt != 0 {
		p.expect(ARROW, "expected '->' with continuation and deopt blocks")
		cont := p.parseBlockRef()
		p.expect(COMMA, "expected ','")
		d := p.parseBlockRef()
		inputs = append(inputs, blockRef(cont), blockRef(d))
	}

	in := ir.OpInstr(opcode, ir.Operand{}, inputs...)
	in.Pointers = pointers
	in.FrameState = fsIndex
	return in
}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// parseOperand reads one location or immediate.
func (p *Parser) parseOperand() ir.Operand {
	tok := p.expect(IDENT, "expected operand")
	if p.failed {
		return ir.Operand{}
	}
	if tok.Value == "imm" {
		return p.parseImmediate(tok)
	}
	if n, ok := indexedName(tok.Value, "ds"); ok {
		return ir.DoubleSlot(n)
	}
	if n, ok := indexedName(tok.Value, "s"); ok {
		return ir.Slot(n)
	}
	if n, ok := indexedName(tok.Value, "r"); ok {
		return ir.Reg(n)
	}
	if n, ok := indexedName(tok.Value, "d"); ok {
		return ir.DoubleReg(n)
	}
	p.fail(tok, fmt.Sprintf("bad operand %q", tok.Value))
	return ir.Operand{}
}

// parseImmediate reads the tail of `imm i32 N | imm f64 N | imm ref NAME`.
func (p *Parser) parseImmediate(immTok Token) ir.Operand {
	kind := p.expect(IDENT, "expected immediate kind (i32, f64, ref)")
	if p.failed {
		return ir.Operand{}
	}
	switch kind.Value {
	case "i32":
		tok := p.expect(INT, "expected integer")
		if p.failed {
			return ir.Operand{}
		}
		n, err := strconv.ParseInt(tok.Value, 10, 32)
		if err != nil {
			p.fail(tok, fmt.Sprintf("integer %q out of i32 range", tok.Value))
			return ir.Operand{}
		}
		return ir.Imm(ir.Int32Constant(int32(n)))
	case "f64":
		tok := p.advance()
		if tok.Type != INT && tok.Type != FLOAT {
			p.fail(tok, "expected number")
			return ir.Operand{}
		}
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			p.fail(tok, fmt.Sprintf("bad float %q", tok.Value))
			return ir.Operand{}
		}
		return ir.Imm(ir.Float64Constant(f))
	case "ref":
		tok := p.expect(IDENT, "expected reference name")
		if p.failed {
			return ir.Operand{}
		}
		return ir.Imm(ir.HeapConstant(p.hp.InternName(tok.Value)))
	default:
		p.fail(kind, fmt.Sprintf("unknown immediate kind %q", kind.Value))
		return ir.Operand{}
	}
}

// parseBlockRef reads a `bN` block reference.
func (p *Parser) parseBlockRef() ir.BlockID {
	tok := p.expect(IDENT, "expected block reference")
	if p.failed {
		return 0
	}
	n, ok := indexedName(tok.Value, "b")
	if !ok {
		p.fail(tok, fmt.Sprintf("bad block reference %q", tok.Value))
		return 0
	}
	return ir.BlockID(n)
}

// blockRef encodes a block id as an instruction input.
func blockRef(b ir.BlockID) ir.Operand {
	return ir.Imm(ir.Int32Constant(int32(b)))
}

// indexedName splits names like r7, s12, fs0 into prefix match + index.
func indexedName(s, prefix string) (int, bool) {
	if !strings.HasPrefix(s, prefix) {
		return 0, false
	}
	digits := s[len(prefix):]
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
