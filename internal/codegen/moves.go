package codegen

import "quartz/internal/ir"

// ---------------------------------------------------------------------------
// Parallel move resolver
//
// A gap's move set must behave as if every move happened simultaneously.
// The resolver orders the moves so no source is clobbered before it is read,
// and breaks cycles with a swap primitive.  It terminates for any finite
// move set: every recursive step retires at least one move.
// ---------------------------------------------------------------------------

// MoveOperations is the primitive-emission surface the resolver drives.  The
// code generator implements it with real machine moves; tests implement it
// with a simulator.
type MoveOperations interface {
	AssembleMove(src, dst ir.Operand)
	AssembleSwap(a, b ir.Operand)
}

// MoveResolver sequences parallel move sets.
type MoveResolver struct {
	ops MoveOperations
}

// NewMoveResolver returns a resolver emitting through ops.
func NewMoveResolver(ops MoveOperations) *MoveResolver {
	return &MoveResolver{ops: ops}
}

type pendingMove struct {
	src, dst ir.Operand
	pending  bool
	done     bool
}

// blocks reports whether the move still needs to read the given location.
func (m *pendingMove) blocks(loc ir.Operand) bool {
	return !m.done && m.src.SameLocation(loc)
}

// Resolve emits a primitive sequence equivalent to performing every move in
// the set atomically.  Self-moves are dropped up front.
func (r *MoveResolver) Resolve(set *ir.MoveSet) {
	moves := make([]pendingMove, 0, len(set.Moves))
	for _, m := range set.Moves {
		if m.Src.SameLocation(m.Dst) {
			continue
		}
		moves = append(moves, pendingMove{src: m.Src, dst: m.Dst})
	}
	for i := range moves {
		if !moves[i].done && !moves[i].pending {
			r.performMove(moves, i)
		}
	}
}

func (r *MoveResolver) performMove(moves []pendingMove, index int) {
	m := &moves[index]
	m.pending = true

	// Anything reading our destination must be performed first.
	for i := range moves {
		other := &moves[i]
		if i != index && !other.pending && other.blocks(m.dst) {
			r.performMove(moves, i)
		}
	}
	m.pending = false

	// A swap further down may have placed the value already.
	if m.src.SameLocation(m.dst) {
		m.done = true
		return
	}

	// If a pending ancestor still reads our destination we are in a cycle;
	// break it with a swap, then redirect the remaining reads of the two
	// exchanged locations.
	for i := range moves {
		other := &moves[i]
		if i == index || !other.pending || !other.blocks(m.dst) {
			continue
		}
		r.ops.AssembleSwap(m.src, m.dst)
		m.done = true
		for j := range moves {
			o := &moves[j]
			if o.done {
				continue
			}
			if o.src.SameLocation(m.src) {
				o.src = m.dst
			} else if o.src.SameLocation(m.dst) {
				o.src = m.src
			}
		}
		return
	}

	r.ops.AssembleMove(m.src, m.dst)
	m.done = true
}
