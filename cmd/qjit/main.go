package main

import (
	"fmt"
	"os"
	"time"

	"github.com/xyproto/env/v2"

	"quartz/internal/asm"
	"quartz/internal/codegen"
	"quartz/internal/heap"
	"quartz/internal/ir"
	"quartz/internal/irparse"
)

const VERSION = "0.1.0"

var debugMode = false

// demoSequence is the built-in unit used with --demo: an add, a runtime call
// with a lazy-deopt frame state, and a three-block control-flow shape.
const demoSequence = `
frame_state fs0 bailout=7 size=3 params=1
block b0
  gap start: r0 <- imm i32 20, r1 <- imm i32 22
  pos 3
  add r0, r0, r1
  gap start: s0 <- r0, s1 <- imm ref demo_fn, s2 <- imm i32 1
  callrt.framestate.lazydeopt fs0 [imm i32 0, s0, s1, s2] live{s1} -> b1, b2
  jump b1
block b1
  gap start: r0 <- s0
  ret
block b2
  ret
`

func main() {
	start := time.Now()
	exitCode := run()
	if exitCode == 0 {
		printDebug(fmt.Sprintf("Total time: %s", time.Since(start)))
	}
	os.Exit(exitCode)
}

func run() int {
	// Flag defaults come from the environment; explicit flags win.
	debugMode = env.Bool("QJIT_DEBUG")
	comments := env.Bool("QJIT_COMMENTS")
	verify := true
	demo := false

	for _, arg := range os.Args[1:] {
		switch arg {
		case "--debug":
			debugMode = true
		case "--comments":
			comments = true
		case "--no-verify":
			verify = false
		case "--demo":
			demo = true
		}
	}

	fmt.Println("Quartz JIT backend V" + VERSION)
	printDebug("Using debug mode.")

	// Find the input (first non-flag argument).
	var filePath string
	for _, arg := range os.Args[1:] {
		if len(arg) > 0 && arg[0] != '-' {
			filePath = arg
			break
		}
	}
	var source string
	switch {
	case demo:
		source = demoSequence
		printDebug("Using the built-in demo sequence.")
	case filePath != "":
		content, err := os.ReadFile(filePath)
		if err != nil {
			fmt.Println("Error: Could not read file.")
			fmt.Println("Error details: " + err.Error())
			return 1
		}
		source = string(content)
		printDebug("Compiling: " + filePath)
	default:
		fmt.Println("Usage: qjit [flags] <file>")
		fmt.Println("Flags: --debug --comments --no-verify --demo")
		return 1
	}

	// --- Parsing ---
	printDebug("Starting parsing...")
	hp := heap.New()
	seq, err := irparse.Parse(source, hp)
	if err != nil {
		fmt.Println("Parse errors:")
		fmt.Printf("  %s\n", err.Error())
		return 1
	}
	printDebug("Parsing complete. No errors.")
	printDebug("--- Sequence ---")
	printDebug(seq.DebugDump())
	printDebug("--- End sequence ---")

	// --- Verification ---
	if verify {
		printDebug("Verifying sequence...")
		problems := ir.Verify(seq)
		for _, p := range problems {
			if p.Severity == ir.Warning {
				fmt.Printf("  warning: %s\n", p.Error())
			}
		}
		if ir.HasErrors(problems) {
			fmt.Println("Verification errors:")
			for _, p := range problems {
				if p.Severity == ir.Error {
					fmt.Printf("  %s\n", p.Error())
				}
			}
			return 1
		}
		printDebug("Verification complete. No errors.")
	}

	// --- Code generation ---
	printDebug("Starting code generation...")
	linkage := codegen.FunctionLinkage(0, countStackSlots(seq), 1, hp.InternName("qjit_main"))
	gen := codegen.New(seq, linkage, hp, codegen.Options{EnableComments: comments})
	code, err := gen.GenerateCode()
	if err != nil {
		fmt.Printf("Codegen error: %s\n", err)
		return 1
	}
	printDebug("Code generation complete.")

	dumpCode(code, gen.Assembler(), hp)
	return 0
}

// countStackSlots derives the frame size from the highest slot index used.
func countStackSlots(seq *ir.Sequence) int {
	max := 0
	scan := func(op ir.Operand) {
		if op.IsStackSlot() && op.Index+1 > max {
			max = op.Index + 1
		}
	}
	for _, blk := range seq.Blocks {
		for i := range blk.Instrs {
			in := &blk.Instrs[i]
			if in.Kind == ir.InstrGap {
				for pos := ir.GapPosition(0); pos < ir.GapPositionCount; pos++ {
					if set := in.Moves[pos]; set != nil {
						for _, m := range set.Moves {
							scan(m.Src)
							scan(m.Dst)
						}
					}
				}
				continue
			}
			scan(in.Output)
			for _, op := range in.Inputs {
				scan(op)
			}
			if in.Pointers != nil {
				for _, op := range in.Pointers.NormalizedOperands() {
					scan(op)
				}
			}
		}
	}
	return max
}

func dumpCode(code *heap.Code, a *asm.Assembler, hp *heap.Heap) {
	fmt.Printf("\n=== %s: %d bytes, %d stack slots ===\n",
		code.Kind, len(code.Bytes), code.StackSlots)
	fmt.Print(asm.DisassembleAnnotated(code.InstructionBytes(), a.Comments()))

	entries, slots, err := codegen.DecodeSafepointTable(code.Bytes, code.SafepointTableOffset)
	if err != nil {
		fmt.Printf("bad safepoint table: %s\n", err)
		return
	}
	fmt.Printf("\n=== safepoint table (%d entries, %d slots) ===\n", len(entries), slots)
	for i, e := range entries {
		fmt.Printf("  #%d pc=0x%04x deopt_pc=%d lazy_index=%d slots=%v registers=%v\n",
			i, e.PC, e.DeoptPC, e.LazyDeoptIndex, e.Slots, e.Registers)
	}

	if code.Deopt == nil {
		fmt.Println("\n=== no deoptimization data ===")
		return
	}
	d := code.Deopt
	fmt.Printf("\n=== deoptimization data (optimization id %d) ===\n", d.OptimizationID)
	for i, lit := range d.Literals {
		fmt.Printf("  literal %d: %s\n", i, hp.Describe(lit))
	}
	for id, e := range d.Entries {
		fmt.Printf("  id %d: bailout=%d translation=%d args_height=%d pc=%d\n",
			id, e.BailoutID, e.TranslationIndex, e.ArgumentsStackHeight, e.Pc)
		records, err := codegen.DecodeTranslation(d.TranslationBytes, e.TranslationIndex)
		if err != nil {
			fmt.Printf("    bad translation: %s\n", err)
			continue
		}
		for _, r := range records {
			if r.Kind == "begin_frame" {
				fmt.Printf("    %s bailout=%d locals=%d\n", r.Kind, r.BailoutID, r.Locals)
			} else {
				fmt.Printf("    %s %d\n", r.Kind, r.Index)
			}
		}
	}
}

/**
* Prints a debug message to the console.
* @param message The message to print.
 */
func printDebug(message string) {
	if !debugMode {
		return
	}
	fmt.Println("[DEBUG] " + message)
}
