package codegen

import (
	"encoding/binary"
	"fmt"

	"quartz/internal/asm"
)

// ---------------------------------------------------------------------------
// Safepoint table builder
//
// Accumulates, per call or runtime-entry site, which stack slots and
// registers hold live heap pointers, so the garbage collector can walk an
// optimized frame.  Lazy-deopt safepoints additionally receive the
// deoptimization program counter during the post-emission fix-up pass, and
// the whole table is serialized exactly once after that pass.
// ---------------------------------------------------------------------------

// SafepointKind selects how much machine state the safepoint tracks.
type SafepointKind int

const (
	KindSimple        SafepointKind = iota // stack slots only
	KindWithRegisters                      // stack slots and registers
)

// DeoptMode says whether the site can be lazily deoptimized.
type DeoptMode int

const (
	NoLazyDeopt DeoptMode = iota
	LazyDeopt
)

// Safepoint is one table entry under construction.
type Safepoint struct {
	id       int
	pc       int // code offset of the site
	kind     SafepointKind
	mode     DeoptMode
	argCount int

	slots     []int // pointer stack-slot indices
	registers []int // pointer register allocation indices (KindWithRegisters)

	deoptPC        int // patched in by the fix-up pass; -1 until then
	lazyDeoptIndex int // deoptimization id tied to this site; -1 if none
}

// ID returns the stable identifier of the safepoint.
func (s *Safepoint) ID() int { return s.id }

// DefinePointerSlot marks a stack slot as holding a live heap pointer.
func (s *Safepoint) DefinePointerSlot(index int) {
	s.slots = append(s.slots, index)
}

// DefinePointerRegister marks a register as holding a live heap pointer.
func (s *Safepoint) DefinePointerRegister(reg int) {
	s.registers = append(s.registers, reg)
}

// SafepointTable accumulates the safepoints of one compiled unit.
type SafepointTable struct {
	entries []*Safepoint
	emitted bool
	offset  int
}

// NewSafepointTable returns an empty builder.
func NewSafepointTable() *SafepointTable {
	return &SafepointTable{}
}

// DefineSafepoint opens a new safepoint at the assembler's current offset.
func (t *SafepointTable) DefineSafepoint(a *asm.Assembler, kind SafepointKind, argCount int, mode DeoptMode) *Safepoint {
	if t.emitted {
		panic("codegen: safepoint defined after table emission")
	}
	s := &Safepoint{
		id:             len(t.entries),
		pc:             a.Offset(),
		kind:           kind,
		mode:           mode,
		argCount:       argCount,
		deoptPC:        -1,
		lazyDeoptIndex: -1,
	}
	t.entries = append(t.entries, s)
	return s
}

// SetDeoptimizationPc associates the deoptimization program counter with a
// safepoint.  One-shot: the fix-up pass writes each safepoint exactly once.
func (t *SafepointTable) SetDeoptimizationPc(id, pc int) {
	if id < 0 || id >= len(t.entries) {
		panic(fmt.Sprintf("codegen: no safepoint with id %d", id))
	}
	s := t.entries[id]
	if s.deoptPC != -1 {
		panic(fmt.Sprintf("codegen: deoptimization pc of safepoint %d set twice", id))
	}
	s.deoptPC = pc
}

// RecordLazyDeoptimizationIndex ties the most recently defined safepoint to
// a deoptimization id.
func (t *SafepointTable) RecordLazyDeoptimizationIndex(deoptID int) {
	if len(t.entries) == 0 {
		panic("codegen: no safepoint to tie a deoptimization index to")
	}
	t.entries[len(t.entries)-1].lazyDeoptIndex = deoptID
}

// Len returns the number of recorded safepoints.
func (t *SafepointTable) Len() int { return len(t.entries) }

// Get returns a recorded safepoint by id.
func (t *SafepointTable) Get(id int) *Safepoint { return t.entries[id] }

// CodeOffset returns the offset the table was serialized at.
func (t *SafepointTable) CodeOffset() int {
	if !t.emitted {
		panic("codegen: safepoint table not emitted yet")
	}
	return t.offset
}

// Emit serializes the table into the assembler at the current code size and
// returns its offset.  Must run after the fix-up pass; running twice is a
// usage error.
func (t *SafepointTable) Emit(a *asm.Assembler, stackSlots int) int {
	if t.emitted {
		panic("codegen: safepoint table emitted twice")
	}
	t.emitted = true
	t.offset = a.Offset()

	var buf []byte
	u32 := func(v uint32) { buf = binary.LittleEndian.AppendUint32(buf, v) }

	u32(uint32(len(t.entries)))
	u32(uint32(stackSlots))
	for _, s := range t.entries {
		u32(uint32(s.pc))
		u32(uint32(int32(s.deoptPC)))
		u32(uint32(int32(s.lazyDeoptIndex)))
		u32(uint32(s.argCount))
		var flags uint32
		if s.kind == KindWithRegisters {
			flags |= 1
		}
		if s.mode == LazyDeopt {
			flags |= 2
		}
		u32(flags)
		var regBits uint32
		for _, r := range s.registers {
			regBits |= 1 << uint(r)
		}
		u32(regBits)
		words := (stackSlots + 31) / 32
		bitmap := make([]uint32, words)
		for _, slot := range s.slots {
			if slot < 0 || slot >= stackSlots {
				panic(fmt.Sprintf("codegen: pointer slot %d outside the frame's %d slots", slot, stackSlots))
			}
			bitmap[slot/32] |= 1 << uint(slot%32)
		}
		for _, w := range bitmap {
			u32(w)
		}
	}
	a.AppendRaw(buf)
	return t.offset
}

// ---------------------------------------------------------------------------
// Decoding — the consumer side of the serialized table, used by the dump
// tool and by tests to prove the format round-trips.
// ---------------------------------------------------------------------------

// TableEntry is one decoded safepoint.
type TableEntry struct {
	PC             int
	DeoptPC        int
	LazyDeoptIndex int
	ArgCount       int
	Kind           SafepointKind
	Mode           DeoptMode
	Slots          []int
	Registers      []int
}

// DecodeSafepointTable reads a serialized table starting at offset.
func DecodeSafepointTable(code []byte, offset int) (entries []TableEntry, stackSlots int, err error) {
	data := code[offset:]
	pos := 0
	u32 := func() (uint32, error) {
		if pos+4 > len(data) {
			return 0, fmt.Errorf("codegen: truncated safepoint table at byte %d", pos)
		}
		v := binary.LittleEndian.Uint32(data[pos:])
		pos += 4
		return v, nil
	}

	count, err := u32()
	if err != nil {
		return nil, 0, err
	}
	slots, err := u32()
	if err != nil {
		return nil, 0, err
	}
	stackSlots = int(slots)

	for i := uint32(0); i < count; i++ {
		var e TableEntry
		var v uint32
		if v, err = u32(); err != nil {
			return nil, 0, err
		}
		e.PC = int(v)
		if v, err = u32(); err != nil {
			return nil, 0, err
		}
		e.DeoptPC = int(int32(v))
		if v, err = u32(); err != nil {
			return nil, 0, err
		}
		e.LazyDeoptIndex = int(int32(v))
		if v, err = u32(); err != nil {
			return nil, 0, err
		}
		e.ArgCount = int(v)
		if v, err = u32(); err != nil {
			return nil, 0, err
		}
		if v&1 != 0 {
			e.Kind = KindWithRegisters
		}
		if v&2 != 0 {
			e.Mode = LazyDeopt
		}
		if v, err = u32(); err != nil {
			return nil, 0, err
		}
		for r := 0; r < 32; r++ {
			if v&(1<<uint(r)) != 0 {
				e.Registers = append(e.Registers, r)
			}
		}
		words := (stackSlots + 31) / 32
		for w := 0; w < words; w++ {
			if v, err = u32(); err != nil {
				return nil, 0, err
			}
			for b := 0; b < 32; b++ {
				if v&(1<<uint(b)) != 0 {
					e.Slots = append(e.Slots, w*32+b)
				}
			}
		}
		entries = append(entries, e)
	}
	return entries, stackSlots, nil
}
