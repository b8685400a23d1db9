package codegen

import "quartz/internal/heap"

// ---------------------------------------------------------------------------
// Linkage — the target descriptor for one compiled unit
//
// Describes what kind of unit is being compiled (a full optimized function
// vs a helper stub), the shape of its frame, and the identity fields that
// end up on the finished code object.
// ---------------------------------------------------------------------------

// LinkKind distinguishes full function compilations from stubs.
type LinkKind int

const (
	LinkStub LinkKind = iota
	LinkFunction
)

func (k LinkKind) String() string {
	switch k {
	case LinkStub:
		return "stub"
	case LinkFunction:
		return "function"
	default:
		return "unknown"
	}
}

// Linkage is the per-unit target descriptor.
type Linkage struct {
	Kind       LinkKind
	ParamCount int

	// StackSlots is the number of spill slots register allocation assigned.
	StackSlots int

	// OptimizationID tags the finished deoptimization data.
	OptimizationID int

	// Function is the owning function, or the nil sentinel when the unit is
	// not a whole optimized function.
	Function heap.Ref
}

// FunctionLinkage describes a full optimized-function compilation.
func FunctionLinkage(params, stackSlots, optimizationID int, fn heap.Ref) *Linkage {
	return &Linkage{
		Kind:           LinkFunction,
		ParamCount:     params,
		StackSlots:     stackSlots,
		OptimizationID: optimizationID,
		Function:       fn,
	}
}

// StubLinkage describes a helper-stub compilation.
func StubLinkage(stackSlots int) *Linkage {
	return &Linkage{Kind: LinkStub, StackSlots: stackSlots}
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options configures one code generator.  The comment toggle is threaded
// explicitly here instead of being read from process-wide state.
type Options struct {
	// EnableComments records human-readable markers (block starts, source
	// locations) into the assembler's annotation stream.
	EnableComments bool

	// BufferSize caps the emitted code size in bytes.  0 means the default.
	BufferSize int
}

const defaultBufferSize = 64 << 10
