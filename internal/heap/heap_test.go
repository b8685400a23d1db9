package heap_test

import (
	"strings"
	"testing"

	"quartz/internal/heap"
)

func TestNilSentinel(t *testing.T) {
	var r heap.Ref
	if !r.IsNil() {
		t.Error("zero Ref should be the nil sentinel")
	}
	h := heap.New()
	if h.Address(r) != 0 {
		t.Error("nil ref should have address 0")
	}
	if h.Describe(r) != "<nil>" {
		t.Errorf("nil ref described as %q", h.Describe(r))
	}
}

func TestInternNameIdentity(t *testing.T) {
	h := heap.New()
	a := h.InternName("foo")
	b := h.InternName("foo")
	c := h.InternName("bar")
	if a != b {
		t.Error("interning the same name twice should yield the same ref")
	}
	if a == c {
		t.Error("different names should yield different refs")
	}
}

func TestNumbersAreFresh(t *testing.T) {
	h := heap.New()
	a := h.NewNumberFromInt32(5)
	b := h.NewNumberFromInt32(5)
	if a == b {
		t.Error("boxing the same value twice should yield distinct refs")
	}
	x := h.NewNumberFromFloat64(1.5)
	y := h.NewNumberFromFloat64(1.5)
	if x == y {
		t.Error("boxing the same float twice should yield distinct refs")
	}
}

func TestAddressStable(t *testing.T) {
	h := heap.New()
	r := h.InternName("target")
	first := h.Address(r)
	if first == 0 {
		t.Fatal("live ref should have a nonzero address")
	}
	// More allocations must not move it.
	h.NewNumberFromInt32(1)
	h.InternName("other")
	if h.Address(r) != first {
		t.Error("ref address changed after later allocations")
	}
}

func TestDescribe(t *testing.T) {
	h := heap.New()
	if got := h.Describe(h.NewNumberFromInt32(42)); !strings.Contains(got, "42") {
		t.Errorf("number described as %q", got)
	}
	if got := h.Describe(h.InternName("fn")); !strings.Contains(got, "fn") {
		t.Errorf("name described as %q", got)
	}
}
