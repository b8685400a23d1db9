package asm

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Assembler — the target emitter
//
// An append-only machine-code buffer with labels, forward-reference fixups,
// and comment/source-position annotations.  Offsets are monotonically
// increasing and a label's address is stable once bound.  The buffer has a
// fixed capacity; running out of room latches an overflow error that Finish
// reports, and every later emission becomes a no-op so the unit aborts
// cleanly.
// ---------------------------------------------------------------------------

// Label marks a position in the emitted code.  Forward references are
// recorded as rel32 placeholders and patched when the label is bound.
type Label struct {
	pos   int
	bound bool
	refs  []int // offsets of rel32 placeholders awaiting the bind
}

// Bound reports whether the label has been bound to an offset.
func (l *Label) Bound() bool { return l.bound }

// Pos returns the bound offset.  Asking before the bind is a usage error.
func (l *Label) Pos() int {
	if !l.bound {
		panic("asm: position of unbound label")
	}
	return l.pos
}

// Comment is a human-readable annotation attached to a code offset.
type Comment struct {
	Offset int
	Text   string
}

// Position is a source-position annotation attached to a code offset.
type Position struct {
	Offset int
	Pos    int32
}

// Assembler accumulates machine code for one compiled unit.
type Assembler struct {
	code       []byte
	limit      int
	overflowed bool
	pending    int // unbound forward references

	comments  []Comment
	positions []Position
}

// New returns an assembler with the given capacity in bytes.
func New(limit int) *Assembler {
	return &Assembler{code: make([]byte, 0, limit), limit: limit}
}

// Offset returns the current emission offset.
func (a *Assembler) Offset() int { return len(a.code) }

// Overflowed reports whether the buffer capacity was exhausted.
func (a *Assembler) Overflowed() bool { return a.overflowed }

func (a *Assembler) emit(bs ...byte) {
	if a.overflowed {
		return
	}
	if len(a.code)+len(bs) > a.limit {
		a.overflowed = true
		return
	}
	a.code = append(a.code, bs...)
}

func (a *Assembler) emitU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	a.emit(b[:]...)
}

func (a *Assembler) emitU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	a.emit(b[:]...)
}

func (a *Assembler) patchU32(off int, v uint32) {
	if a.overflowed {
		return
	}
	binary.LittleEndian.PutUint32(a.code[off:off+4], v)
}

// Bind fixes a label at the current offset and patches every forward
// reference recorded against it.  Binding twice is a usage error.
func (a *Assembler) Bind(l *Label) {
	if l.bound {
		panic("asm: label bound twice")
	}
	l.pos = len(a.code)
	l.bound = true
	for _, ref := range l.refs {
		a.patchU32(ref, uint32(int32(l.pos-(ref+4))))
		a.pending--
	}
	l.refs = nil
}

// emitRel32 writes a rel32 displacement to the label, recording a fixup if
// the label is not bound yet.  Call after the opcode bytes: the displacement
// is relative to the end of the four placeholder bytes.
func (a *Assembler) emitRel32(l *Label) {
	if l.bound {
		a.emitU32(uint32(int32(l.pos - (len(a.code) + 4))))
		return
	}
	l.refs = append(l.refs, len(a.code))
	a.pending++
	a.emitU32(0)
}

// RecordComment attaches a comment at the current offset.
func (a *Assembler) RecordComment(text string) {
	a.comments = append(a.comments, Comment{Offset: len(a.code), Text: text})
}

// RecordPosition attaches a source position at the current offset.
func (a *Assembler) RecordPosition(pos int32) {
	a.positions = append(a.positions, Position{Offset: len(a.code), Pos: pos})
}

// Comments returns the recorded comment annotations in emission order.
func (a *Assembler) Comments() []Comment { return a.comments }

// Positions returns the recorded source positions in emission order.
func (a *Assembler) Positions() []Position { return a.positions }

// AppendRaw appends pre-encoded bytes (used for serialized metadata tables
// that live in the code object after the instructions).
func (a *Assembler) AppendRaw(bs []byte) {
	a.emit(bs...)
}

// Finish returns the emitted bytes.  It fails if the buffer overflowed or a
// forward reference was never bound.
func (a *Assembler) Finish() ([]byte, error) {
	if a.overflowed {
		return nil, fmt.Errorf("asm: code buffer overflow (limit %d bytes)", a.limit)
	}
	if a.pending != 0 {
		return nil, fmt.Errorf("asm: %d unresolved label references", a.pending)
	}
	out := make([]byte, len(a.code))
	copy(out, a.code)
	return out, nil
}
