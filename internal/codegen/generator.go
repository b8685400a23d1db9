package codegen

import (
	"fmt"

	"quartz/internal/asm"
	"quartz/internal/heap"
	"quartz/internal/ir"
)

// ---------------------------------------------------------------------------
// CodeGenerator — the driver
//
// One forward pass over the instruction sequence (labels bound and metadata
// recorded as emission goes), then one bounded fix-up pass patching the
// lazy-deopt program counters, then table serialization and code-object
// assembly.  The generator exclusively owns its builders and the sequence
// cursor for the duration of one compilation; nothing here is shared across
// units, so concurrent compilation of independent units needs no locking.
// ---------------------------------------------------------------------------

// CodeGenerator turns one register-allocated sequence into machine code plus
// its safepoint and deoptimization side-tables.
type CodeGenerator struct {
	seq     *ir.Sequence
	linkage *Linkage
	hp      *heap.Heap
	opts    Options

	masm     *asm.Assembler
	resolver *MoveResolver
	labels   map[ir.BlockID]*asm.Label

	safepoints       *SafepointTable
	lazyDeoptEntries []lazyDeoptEntry
	deoptStates      []*deoptimizationState
	literals         []heap.Ref
	translations     translationBuffer

	currentBlock ir.BlockID
	currentPos   ir.SourcePosition
}

// New constructs a generator for one compiled unit.
func New(seq *ir.Sequence, linkage *Linkage, hp *heap.Heap, opts Options) *CodeGenerator {
	size := opts.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	g := &CodeGenerator{
		seq:          seq,
		linkage:      linkage,
		hp:           hp,
		opts:         opts,
		masm:         asm.New(size),
		labels:       map[ir.BlockID]*asm.Label{},
		safepoints:   NewSafepointTable(),
		deoptStates:  make([]*deoptimizationState, seq.FrameStateCount()),
		currentBlock: -1,
		currentPos:   ir.UnknownPosition,
	}
	g.resolver = NewMoveResolver(g)
	return g
}

// Assembler exposes the underlying emitter (annotations, offsets) to tools.
func (g *CodeGenerator) Assembler() *asm.Assembler { return g.masm }

// GenerateCode runs the full pipeline and returns the finished code object.
// Emitter overflow is fatal for the unit; upstream contract breaches panic.
func (g *CodeGenerator) GenerateCode() (*heap.Code, error) {
	g.assemblePrologue()

	for _, blk := range g.seq.Blocks {
		for i := range blk.Instrs {
			g.assembleInstruction(&blk.Instrs[i])
		}
	}

	g.updateSafepointsWithDeoptimizationPc()
	tableOffset := g.safepoints.Emit(g.masm, g.linkage.StackSlots)

	bytes, err := g.masm.Finish()
	if err != nil {
		return nil, fmt.Errorf("codegen: %w", err)
	}

	kind := heap.CodeStub
	if g.linkage.Kind == LinkFunction {
		kind = heap.CodeOptimizedFunction
	}
	code := &heap.Code{
		Kind:                 kind,
		Bytes:                bytes,
		StackSlots:           g.linkage.StackSlots,
		SafepointTableOffset: tableOffset,
		Backend:              true,
	}
	g.populateDeoptimizationData(code)
	return code, nil
}

// blockLabel returns the label for a block, creating it on first reference.
func (g *CodeGenerator) blockLabel(b ir.BlockID) *asm.Label {
	if l, ok := g.labels[b]; ok {
		return l
	}
	l := &asm.Label{}
	g.labels[b] = l
	return l
}

// assembleInstruction dispatches one instruction.  Exactly one flags mode
// applies to an operation; anything else is an upstream defect.
func (g *CodeGenerator) assembleInstruction(in *ir.Instr) {
	switch in.Kind {
	case ir.InstrBlockStart:
		g.currentBlock = in.Block
		if g.opts.EnableComments {
			g.masm.RecordComment(fmt.Sprintf("-- %s start --", in.Block))
		}
		g.masm.Bind(g.blockLabel(in.Block))
	case ir.InstrGap:
		g.assembleGap(in)
	case ir.InstrSourcePos:
		g.assembleSourcePosition(in)
	case ir.InstrOp:
		g.assembleArchInstruction(in)
		mode := in.Opcode.FlagsMode()
		cond := in.Opcode.Condition()
		switch mode {
		case ir.FlagsNone:
		case ir.FlagsSet:
			g.assembleArchBoolean(in, cond)
		case ir.FlagsBranch:
			g.assembleArchBranch(in, cond)
		default:
			panic(fmt.Sprintf("codegen: invalid flags mode %d", int(mode)))
		}
	default:
		panic(fmt.Sprintf("codegen: instruction of unknown kind %d", int(in.Kind)))
	}
}

// assembleSourcePosition forwards a position to the emitter.  Repeats of the
// current position are a silent no-op.
func (g *CodeGenerator) assembleSourcePosition(in *ir.Instr) {
	pos := in.Pos
	if pos == g.currentPos {
		return
	}
	if pos.IsKnown() {
		g.masm.RecordPosition(int32(pos))
		if g.opts.EnableComments {
			g.masm.RecordComment(fmt.Sprintf("-- position %d --", int32(pos)))
		}
	}
	g.currentPos = pos
}

// assembleGap hands each present inner-position move set to the resolver in
// fixed order.
func (g *CodeGenerator) assembleGap(in *ir.Instr) {
	for pos := ir.GapPosition(0); pos < ir.GapPositionCount; pos++ {
		if set := in.Moves[pos]; set != nil {
			g.resolver.Resolve(set)
		}
	}
}

// recordSafepoint opens a safepoint and marks the live pointer locations.
// Register pointers are only tracked when the kind asks for them.
func (g *CodeGenerator) recordSafepoint(pointers *ir.PointerMap, kind SafepointKind, argCount int, mode DeoptMode) int {
	s := g.safepoints.DefineSafepoint(g.masm, kind, argCount, mode)
	if pointers != nil {
		for _, op := range pointers.NormalizedOperands() {
			if op.IsStackSlot() {
				s.DefinePointerSlot(op.Index)
			} else if op.Kind == ir.OperandRegister && kind == KindWithRegisters {
				s.DefinePointerRegister(op.Index)
			}
		}
	}
	return s.ID()
}

// addSafepointAndDeopt records the call site's safepoint and, depending on
// the opcode's deopt-support bits, its lazy-deopt entry and translation.
func (g *CodeGenerator) addSafepointAndDeopt(in *ir.Instr) {
	support := in.Opcode.DeoptSupport()
	needsFrameState := support&ir.NeedsFrameState != 0

	mode := NoLazyDeopt
	if needsFrameState {
		mode = LazyDeopt
	}
	safepointID := g.recordSafepoint(in.Pointers, KindSimple, 0, mode)

	if support&ir.SupportsLazyDeopt != 0 {
		g.recordLazyDeoptimizationEntry(in, safepointID)
	}

	if needsFrameState {
		deoptID := g.constantInput(in, ir.CallDeoptIDInput)
		g.buildTranslation(in, ir.FirstFrameStateValueInput, int(deoptID))
		g.safepoints.RecordLazyDeoptimizationIndex(int(deoptID))
	}
}

// constantInput reads an input that must be an int32 immediate.
func (g *CodeGenerator) constantInput(in *ir.Instr, n int) int32 {
	op := in.InputAt(n)
	if op.Kind != ir.OperandImmediate || op.Const.Kind != ir.ConstInt32 {
		panic(fmt.Sprintf("codegen: input %d of %s is not an int32 immediate", n, in.Opcode))
	}
	return op.Const.I32
}

// recordLazyDeoptimizationEntry captures the after-call offset together with
// the continuation and deopt target labels.  The continuation and
// deoptimization blocks are the call's last two inputs.
func (g *CodeGenerator) recordLazyDeoptimizationEntry(in *ir.Instr, safepointID int) {
	afterCall := g.masm.Offset()
	contBlock := in.InputBlock(len(in.Inputs) - 2)
	deoptBlock := in.InputBlock(len(in.Inputs) - 1)
	g.lazyDeoptEntries = append(g.lazyDeoptEntries, lazyDeoptEntry{
		afterCallPC: afterCall,
		cont:        g.blockLabel(contBlock),
		deopt:       g.blockLabel(deoptBlock),
		safepointID: safepointID,
	})
}

// updateSafepointsWithDeoptimizationPc is the fix-up pass: every recorded
// lazy-deopt entry patches its captured after-call offset into its owning
// safepoint.  Entries are independent, so order does not matter.
func (g *CodeGenerator) updateSafepointsWithDeoptimizationPc() {
	for _, e := range g.lazyDeoptEntries {
		g.safepoints.SetDeoptimizationPc(e.safepointID, e.afterCallPC)
	}
}

// defineDeoptimizationLiteral interns a literal into the unit's pool,
// deduplicating by identity.  Pool order is first-seen order and indices are
// stable for the lifetime of the unit.
func (g *CodeGenerator) defineDeoptimizationLiteral(literal heap.Ref) int {
	for i, l := range g.literals {
		if l == literal {
			return i
		}
	}
	g.literals = append(g.literals, literal)
	return len(g.literals) - 1
}

// buildTranslation writes the translation program for a frame state.  Each
// deoptimization id is built at most once; a rebuild is a contract breach by
// the upstream phases.
func (g *CodeGenerator) buildTranslation(in *ir.Instr, firstValueIndex, deoptID int) {
	if g.deoptStates[deoptID] != nil {
		panic(fmt.Sprintf("codegen: translation for deoptimization id %d built twice", deoptID))
	}
	desc := g.seq.FrameState(deoptID)
	t := g.translations.newTranslation(desc.BailoutID, desc.Size-desc.ParamCount)

	for i := 0; i < desc.Size; i++ {
		op := in.InputAt(firstValueIndex + i)
		// The call clobbers registers, so a frame value living in one here
		// means register allocation broke its contract.
		if op.IsRegister() {
			panic(fmt.Sprintf("codegen: frame-state value %d of id %d is in register %s across a call",
				i, deoptID, op))
		}
		g.addTranslationForOperand(op)
	}
	g.deoptStates[deoptID] = &deoptimizationState{translationIndex: t.Start()}
}

// addTranslationForOperand appends the value-store record for one operand.
func (g *CodeGenerator) addTranslationForOperand(op ir.Operand) {
	switch op.Kind {
	case ir.OperandStackSlot:
		g.translations.storeStackSlot(op.Index)
	case ir.OperandDoubleStackSlot:
		g.translations.storeDoubleStackSlot(op.Index)
	case ir.OperandRegister:
		g.translations.storeRegister(op.Index)
	case ir.OperandDoubleRegister:
		g.translations.storeDoubleRegister(op.Index)
	case ir.OperandImmediate:
		var literal heap.Ref
		switch op.Const.Kind {
		case ir.ConstInt32:
			literal = g.hp.NewNumberFromInt32(op.Const.I32)
		case ir.ConstFloat64:
			literal = g.hp.NewNumberFromFloat64(op.Const.F64)
		case ir.ConstHeapRef:
			literal = op.Const.Ref
		default:
			panic(fmt.Sprintf("codegen: constant of unknown kind %d", int(op.Const.Kind)))
		}
		g.translations.storeLiteral(g.defineDeoptimizationLiteral(literal))
	default:
		panic(fmt.Sprintf("codegen: operand of unknown kind %d", int(op.Kind)))
	}
}

// populateDeoptimizationData assembles the metadata blob.  Units with no
// frame states and no lazy-deopt entries skip it entirely.
func (g *CodeGenerator) populateDeoptimizationData(code *heap.Code) {
	deoptCount := g.seq.FrameStateCount()
	if deoptCount == 0 && len(g.lazyDeoptEntries) == 0 {
		return
	}

	data := &heap.DeoptimizationData{
		TranslationBytes:     append([]byte(nil), g.translations.data...),
		Literals:             append([]heap.Ref(nil), g.literals...),
		InlinedFunctionCount: 0,
		OptimizationID:       g.linkage.OptimizationID,
		Function:             g.linkage.Function,
	}

	for i := 0; i < deoptCount; i++ {
		state := g.deoptStates[i]
		if state == nil {
			panic(fmt.Sprintf("codegen: deoptimization id %d was never reached", i))
		}
		desc := g.seq.FrameState(i)
		data.Entries = append(data.Entries, heap.DeoptEntry{
			BailoutID:        desc.BailoutID,
			TranslationIndex: state.translationIndex,
			// Deferred fields, populated by a later pass.
			ArgumentsStackHeight: 0,
			Pc:                   -1,
		})
	}
	code.Deopt = data
}
