//go:build linux && amd64

package heap

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ---------------------------------------------------------------------------
// Executable installation
//
// Copies a finished code object into an anonymous mapping and flips it
// executable.  Only the instruction bytes are mapped; the safepoint table
// stays in the Code object.
// ---------------------------------------------------------------------------

// Mapping is an installed, executable copy of a code object.
type Mapping struct {
	mem []byte
}

// Install maps the instruction bytes of code into executable memory.
func Install(code *Code) (*Mapping, error) {
	text := code.InstructionBytes()
	if len(text) == 0 {
		return nil, fmt.Errorf("heap: cannot install empty code object")
	}
	size := (len(text) + unix.Getpagesize() - 1) &^ (unix.Getpagesize() - 1)
	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("heap: mmap failed: %w", err)
	}
	copy(mem, text)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("heap: mprotect failed: %w", err)
	}
	return &Mapping{mem: mem}, nil
}

// Bytes returns the mapped, executable instruction bytes.
func (m *Mapping) Bytes() []byte { return m.mem }

// Release unmaps the installed code.
func (m *Mapping) Release() error {
	if m.mem == nil {
		return nil
	}
	err := unix.Munmap(m.mem)
	m.mem = nil
	return err
}
