package asm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble pretty-prints machine code, one instruction per line with the
// raw bytes alongside.  Undecodable bytes degrade to `db` lines instead of
// stopping the dump.
func Disassemble(code []byte) string {
	var sb strings.Builder
	offset := 0
	for offset < len(code) {
		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil {
			sb.WriteString(fmt.Sprintf("0x%04x: db 0x%02x\n", offset, code[offset]))
			offset++
			continue
		}
		var hexBytes []string
		for i := 0; i < inst.Len; i++ {
			hexBytes = append(hexBytes, fmt.Sprintf("%02x", code[offset+i]))
		}
		sb.WriteString(fmt.Sprintf("0x%04x: %-24s %s\n",
			offset, strings.Join(hexBytes, " "), inst.String()))
		offset += inst.Len
	}
	return sb.String()
}

// DisassembleAnnotated interleaves recorded comments with the disassembly.
func DisassembleAnnotated(code []byte, comments []Comment) string {
	var sb strings.Builder
	offset := 0
	next := 0
	flush := func(upTo int) {
		for next < len(comments) && comments[next].Offset <= upTo {
			sb.WriteString(fmt.Sprintf("        ; %s\n", comments[next].Text))
			next++
		}
	}
	for offset < len(code) {
		flush(offset)
		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil {
			sb.WriteString(fmt.Sprintf("0x%04x: db 0x%02x\n", offset, code[offset]))
			offset++
			continue
		}
		sb.WriteString(fmt.Sprintf("0x%04x: %s\n", offset, inst.String()))
		offset += inst.Len
	}
	flush(len(code))
	return sb.String()
}
