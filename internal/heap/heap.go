package heap

import "fmt"

// ---------------------------------------------------------------------------
// Heap — the managed-heap collaborator boundary
//
// The code generator never owns or inspects managed objects.  It receives
// opaque Ref tokens, stores and compares them (by identity), and hands them
// back as part of the finished code object.  This package is the minimal
// in-process stand-in for that collaborator: it issues refs, boxes numeric
// deoptimization literals, and takes ownership of finished code objects.
// ---------------------------------------------------------------------------

// Ref is an opaque, copyable token for a managed heap object.  Refs compare
// by identity: two refs are the same object iff they are ==.  The zero Ref
// is the "no object" sentinel (used e.g. for stub code that has no owning
// function).
type Ref struct {
	index uint32
}

// IsNil reports whether the ref is the "no object" sentinel.
func (r Ref) IsNil() bool { return r.index == 0 }

// ---------------------------------------------------------------------------
// Object kinds held behind refs
// ---------------------------------------------------------------------------

type objectKind int

const (
	objNumber objectKind = iota
	objName
)

type object struct {
	kind  objectKind
	value float64 // numeric payload (objNumber)
	name  string  // symbolic payload (objName)
}

// Heap issues refs for one VM instance.  It is not safe for concurrent use;
// each compilation worker talks to its own isolate-like Heap.
type Heap struct {
	objects []object
	names   map[string]Ref
}

// New returns an empty heap.
func New() *Heap {
	return &Heap{names: map[string]Ref{}}
}

func (h *Heap) alloc(o object) Ref {
	h.objects = append(h.objects, o)
	// Index 0 is reserved for the nil sentinel.
	return Ref{index: uint32(len(h.objects))}
}

// NewNumberFromInt32 boxes an int32 into a fresh heap number.  Every call
// allocates a new object, so two boxings of the same value are distinct refs.
func (h *Heap) NewNumberFromInt32(v int32) Ref {
	return h.alloc(object{kind: objNumber, value: float64(v)})
}

// NewNumberFromFloat64 boxes a float64 into a fresh heap number.
func (h *Heap) NewNumberFromFloat64(v float64) Ref {
	return h.alloc(object{kind: objNumber, value: v})
}

// InternName returns the ref for a named object, allocating it on first use.
// Interning is what gives source-level constants stable identity: the same
// name always yields the same Ref.
func (h *Heap) InternName(name string) Ref {
	if r, ok := h.names[name]; ok {
		return r
	}
	r := h.alloc(object{kind: objName, name: name})
	h.names[name] = r
	return r
}

// Address returns the embeddable machine address of a managed object.  The
// code generator embeds this value into immediates; it never interprets it.
func (h *Heap) Address(r Ref) uint64 {
	if r.IsNil() {
		return 0
	}
	// Synthetic tagged addresses: stable per object, never dereferenced in
	// this process.
	return 0x10_0000 + uint64(r.index)*16
}

// Describe renders a ref for diagnostics and dump output.
func (h *Heap) Describe(r Ref) string {
	if r.IsNil() {
		return "<nil>"
	}
	i := int(r.index) - 1
	if i < 0 || i >= len(h.objects) {
		return fmt.Sprintf("<bad ref %d>", r.index)
	}
	o := h.objects[i]
	switch o.kind {
	case objNumber:
		return fmt.Sprintf("number(%v)", o.value)
	case objName:
		return fmt.Sprintf("name(%s)", o.name)
	default:
		return fmt.Sprintf("<object %d>", r.index)
	}
}
