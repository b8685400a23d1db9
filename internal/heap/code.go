package heap

// ---------------------------------------------------------------------------
// Code — a finished code object plus its deoptimization metadata
//
// The code generator produces one Code per compiled unit and hands it to the
// heap, which owns it from then on.  All fields are final once handed over.
// ---------------------------------------------------------------------------

// CodeKind distinguishes full optimized functions from helper stubs.
type CodeKind int

const (
	CodeStub CodeKind = iota
	CodeOptimizedFunction
)

func (k CodeKind) String() string {
	switch k {
	case CodeStub:
		return "stub"
	case CodeOptimizedFunction:
		return "optimized function"
	default:
		return "unknown"
	}
}

// Code is a finished unit of machine code.
type Code struct {
	Kind  CodeKind
	Bytes []byte

	// StackSlots is the number of spill slots the frame reserves.
	StackSlots int

	// SafepointTableOffset is the byte offset of the serialized safepoint
	// table within Bytes.
	SafepointTableOffset int

	// Backend marks code produced by this backend (as opposed to the
	// baseline compiler).
	Backend bool

	// Deopt is nil when the unit has no frame states and no lazy-deopt
	// entries.
	Deopt *DeoptimizationData
}

// InstructionBytes returns the machine-instruction portion of the code,
// excluding the trailing safepoint table.
func (c *Code) InstructionBytes() []byte {
	if c.SafepointTableOffset <= 0 || c.SafepointTableOffset > len(c.Bytes) {
		return c.Bytes
	}
	return c.Bytes[:c.SafepointTableOffset]
}

// DeoptEntry describes one deoptimization id in the finished table.
//
// ArgumentsStackHeight and Pc are placeholders populated by a later pass:
// they are always 0 and -1 respectively when the code generator hands the
// object over.
type DeoptEntry struct {
	BailoutID            int
	TranslationIndex     int
	ArgumentsStackHeight int
	Pc                   int
}

// DeoptimizationData is the per-unit deoptimization metadata blob.
type DeoptimizationData struct {
	// TranslationBytes is the shared, self-delimiting translation byte
	// stream.  Entries reference start indices into it.
	TranslationBytes []byte

	// Literals holds interned constant refs, indexed exactly as the
	// translation records reference them.
	Literals []Ref

	// Entries is indexed by deoptimization id.
	Entries []DeoptEntry

	InlinedFunctionCount int
	OptimizationID       int

	// Function is the owning function, or the nil sentinel for stubs.
	Function Ref
}
