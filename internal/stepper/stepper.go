// Package stepper implements C5: it classifies one decoded instruction
// by control-flow class and derives the next PC, independent of how the
// pending count was produced (i_cnt, history, or a taken/not-taken
// run). The trace engine (internal/engine) owns the counts; stepper
// only answers "given this instruction and this outcome, where next."
package stepper

import "github.com/riscv-trace/dqr/internal/image"

const linkX1 = 1
const linkX5 = 5

// Outcome is the per-instruction annotation the engine attaches to a
// retired record.
type Outcome struct {
	NextPC            uint64
	IsCall            bool
	IsReturn          bool
	IsSwap            bool
	BranchTaken       bool
	HaveBranchTaken   bool // false for non-branch instructions
	IsException       bool
	IsExceptionReturn bool
	IsInterrupt       bool
}

// isLink reports whether reg is one of the two return-address link
// registers (x1, x5).
func isLink(reg uint8) bool {
	return reg == linkX1 || reg == linkX5
}

// Step derives the Outcome for ins retiring at pc. eventPC is the
// destination implied by the message stream (f_addr/u_addr XOR
// current PC for an indirect/sync target, or 0 with haveEventPC=false
// when no such destination is pending); branchTaken/haveBranchTaken
// carry the consumed history/run-length bit for a conditional branch.
func Step(pc uint64, ins image.Instruction, haveEventPC bool, eventPC uint64, haveBranchTaken bool, branchTaken bool) Outcome {
	switch ins.Kind {
	case image.KindDirectUnconditional:
		return stepDirectUnconditional(pc, ins, haveEventPC, eventPC)
	case image.KindCall:
		// A JAL/JALR classified KindCall by the image view is still one
		// of direct or indirect depending on whether it carries RS1.
		if ins.IsIndirectCall() {
			return stepIndirectUnconditional(pc, ins, haveEventPC, eventPC)
		}
		return stepDirectUnconditional(pc, ins, haveEventPC, eventPC)
	case image.KindIndirectUnconditional, image.KindReturn:
		return stepIndirectUnconditional(pc, ins, haveEventPC, eventPC)
	case image.KindConditionalBranch:
		return stepConditionalBranch(pc, ins, haveEventPC, eventPC, haveBranchTaken, branchTaken)
	case image.KindTrap:
		return Outcome{NextPC: pc + uint64(ins.Size), IsException: true}
	case image.KindTrapReturn:
		next := pc + uint64(ins.Size)
		interrupt := false
		if haveEventPC {
			next = eventPC
			interrupt = eventPC != pc+uint64(ins.Size)
		}
		return Outcome{NextPC: next, IsExceptionReturn: true, IsInterrupt: interrupt}
	case image.KindUnknown:
		return stepUnknown(pc, ins, haveEventPC, eventPC)
	default:
		return stepNonBranch(pc, ins, haveEventPC, eventPC)
	}
}

// stepUnknown handles an undecodable opcode: the stepper has no
// prediction of its own, so the event stream's PC is authoritative.
func stepUnknown(pc uint64, ins image.Instruction, haveEventPC bool, eventPC uint64) Outcome {
	size := uint64(ins.Size)
	if size == 0 {
		size = 2
	}
	fallback := pc + size
	if !haveEventPC {
		return Outcome{NextPC: fallback}
	}
	return Outcome{NextPC: eventPC, IsInterrupt: eventPC != fallback}
}

func stepDirectUnconditional(pc uint64, ins image.Instruction, haveEventPC bool, eventPC uint64) Outcome {
	next := pc
	if ins.HaveImm {
		next = pc + uint64(ins.Imm)
	}
	out := Outcome{NextPC: next}
	if isLink(ins.RD) {
		out.IsCall = true
	}
	if haveEventPC && eventPC != next {
		out.IsInterrupt = true
	}
	return out
}

func stepIndirectUnconditional(pc uint64, ins image.Instruction, haveEventPC bool, eventPC uint64) Outcome {
	out := Outcome{}
	if haveEventPC {
		out.NextPC = eventPC
	} else {
		out.NextPC = pc + uint64(ins.Size)
	}
	rdLink, rs1Link := isLink(ins.RD), isLink(ins.RS1)
	switch {
	case rdLink && !rs1Link:
		out.IsCall = true
	case rdLink && rs1Link && ins.RD != ins.RS1:
		out.IsSwap = true
	case rdLink && rs1Link && ins.RD == ins.RS1:
		out.IsCall = true
	case !rdLink && rs1Link:
		out.IsReturn = true
	}
	return out
}

func stepConditionalBranch(pc uint64, ins image.Instruction, haveEventPC bool, eventPC uint64, haveBranchTaken bool, branchTaken bool) Outcome {
	fallthroughPC := pc + uint64(ins.Size)
	target := pc
	if ins.HaveImm {
		target = pc + uint64(ins.Imm)
	}

	out := Outcome{HaveBranchTaken: haveBranchTaken, BranchTaken: branchTaken}
	if haveBranchTaken {
		if branchTaken {
			out.NextPC = target
		} else {
			out.NextPC = fallthroughPC
		}
		return out
	}

	// No explicit outcome bit available: infer from the event PC, per
	// spec.md's "compare fall-through and target against event PC".
	switch {
	case haveEventPC && eventPC == target:
		out.NextPC, out.HaveBranchTaken, out.BranchTaken = target, true, true
	case haveEventPC && eventPC == fallthroughPC:
		out.NextPC, out.HaveBranchTaken, out.BranchTaken = fallthroughPC, true, false
	case haveEventPC:
		out.NextPC, out.IsInterrupt = eventPC, true
	default:
		out.NextPC = fallthroughPC
	}
	return out
}

func stepNonBranch(pc uint64, ins image.Instruction, haveEventPC bool, eventPC uint64) Outcome {
	size := uint64(ins.Size)
	if size == 0 {
		size = 2
	}
	next := pc + size
	out := Outcome{NextPC: next}
	if haveEventPC && eventPC != next {
		out.IsInterrupt = true
	}
	return out
}
