package codegen

import (
	"encoding/binary"
	"fmt"

	"quartz/internal/asm"
)

// ---------------------------------------------------------------------------
// Deoptimization translations
//
// A translation is a byte-encoded program describing how to reconstruct one
// unoptimized frame's values from the optimized machine state: a frame
// marker followed by one value-store record per frame value.  All
// translations of a unit share one buffer; each is referenced by its start
// index.  Records are self-delimiting (kind tag + varint payload) and are
// replayed in emitted order at deopt time.
// ---------------------------------------------------------------------------

// translationOpcode tags one record in the translation byte stream.
type translationOpcode byte

const (
	transBeginFrame translationOpcode = iota
	transStackSlot
	transDoubleStackSlot
	transRegister
	transDoubleRegister
	transLiteral
)

func (op translationOpcode) String() string {
	switch op {
	case transBeginFrame:
		return "begin_frame"
	case transStackSlot:
		return "stack_slot"
	case transDoubleStackSlot:
		return "double_stack_slot"
	case transRegister:
		return "register"
	case transDoubleRegister:
		return "double_register"
	case transLiteral:
		return "literal"
	default:
		return fmt.Sprintf("trans_%d", int(op))
	}
}

// translationBuffer is the shared byte stream for all translations of a unit.
type translationBuffer struct {
	data []byte
}

func (b *translationBuffer) append(op translationOpcode, operands ...int64) {
	b.data = append(b.data, byte(op))
	for _, v := range operands {
		b.data = binary.AppendVarint(b.data, v)
	}
}

// Translation writes one frame's records into the shared buffer.
type Translation struct {
	start int
}

// Start returns the translation's index into the shared buffer.
func (t *Translation) Start() int { return t.start }

// newTranslation begins a frame: the marker carries the bailout id and the
// number of non-parameter values.
func (b *translationBuffer) newTranslation(bailoutID, localCount int) *Translation {
	t := &Translation{start: len(b.data)}
	b.append(transBeginFrame, int64(bailoutID), int64(localCount))
	return t
}

func (b *translationBuffer) storeStackSlot(index int)       { b.append(transStackSlot, int64(index)) }
func (b *translationBuffer) storeDoubleStackSlot(index int) { b.append(transDoubleStackSlot, int64(index)) }
func (b *translationBuffer) storeRegister(reg int)          { b.append(transRegister, int64(reg)) }
func (b *translationBuffer) storeDoubleRegister(reg int)    { b.append(transDoubleRegister, int64(reg)) }
func (b *translationBuffer) storeLiteral(index int)         { b.append(transLiteral, int64(index)) }

// deoptimizationState holds the per-deopt-id result of translation building.
// A nil state means "not built yet"; building twice is an invariant breach.
type deoptimizationState struct {
	translationIndex int
}

// lazyDeoptEntry defers the safepoint↔pc association across the emission
// boundary: the deopt pc is only knowable once the continuation code has a
// final address.
type lazyDeoptEntry struct {
	afterCallPC int
	cont        *asm.Label
	deopt       *asm.Label
	safepointID int
}

// ---------------------------------------------------------------------------
// Decoding — replay side, used by tests and the dump tool
// ---------------------------------------------------------------------------

// TranslationRecord is one decoded record.
type TranslationRecord struct {
	Kind      string
	BailoutID int // begin_frame only
	Locals    int // begin_frame only
	Index     int // slot index, register id, or literal index
}

// DecodeTranslation reads the frame marker at start plus every value record
// up to the next frame marker (or end of stream).
func DecodeTranslation(data []byte, start int) ([]TranslationRecord, error) {
	if start < 0 || start >= len(data) {
		return nil, fmt.Errorf("codegen: translation start %d out of range", start)
	}
	pos := start
	varint := func() (int64, error) {
		v, n := binary.Varint(data[pos:])
		if n <= 0 {
			return 0, fmt.Errorf("codegen: truncated translation at byte %d", pos)
		}
		pos += n
		return v, nil
	}

	var out []TranslationRecord
	for pos < len(data) {
		op := translationOpcode(data[pos])
		if op == transBeginFrame && pos != start {
			break // next frame
		}
		pos++
		switch op {
		case transBeginFrame:
			bailout, err := varint()
			if err != nil {
				return nil, err
			}
			locals, err := varint()
			if err != nil {
				return nil, err
			}
			out = append(out, TranslationRecord{
				Kind: op.String(), BailoutID: int(bailout), Locals: int(locals),
			})
		case transStackSlot, transDoubleStackSlot, transRegister, transDoubleRegister, transLiteral:
			idx, err := varint()
			if err != nil {
				return nil, err
			}
			out = append(out, TranslationRecord{Kind: op.String(), Index: int(idx)})
		default:
			return nil, fmt.Errorf("codegen: unknown translation opcode %d at byte %d", op, pos-1)
		}
	}
	if len(out) == 0 || out[0].Kind != transBeginFrame.String() {
		return nil, fmt.Errorf("codegen: translation at %d does not start with a frame marker", start)
	}
	return out, nil
}
