package stepper

import (
	"testing"

	"github.com/riscv-trace/dqr/internal/image"
)

func TestDirectUnconditionalSetsCallOnLinkRD(t *testing.T) {
	ins := image.Instruction{Kind: image.KindDirectUnconditional, Size: 4, Imm: 16, HaveImm: true, RD: 1}
	out := Step(0x1000, ins, false, 0, false, false)
	if out.NextPC != 0x1010 {
		t.Fatalf("got next PC %#x want 0x1010", out.NextPC)
	}
	if !out.IsCall {
		t.Fatalf("expected IsCall for rd=x1")
	}
}

func TestIndirectClassifiesCallReturnSwap(t *testing.T) {
	cases := []struct {
		name     string
		rd, rs1  uint8
		wantCall bool
		wantRet  bool
		wantSwap bool
	}{
		{"call", 1, 2, true, false, false},
		{"return", 0, 1, false, true, false},
		{"swap", 1, 5, false, false, true},
		{"call-same-link", 1, 1, true, false, false},
		{"plain-jump", 0, 2, false, false, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ins := image.Instruction{Kind: image.KindIndirectUnconditional, Size: 4, RD: c.rd, RS1: c.rs1}
			out := Step(0x2000, ins, true, 0x3000, false, false)
			if out.NextPC != 0x3000 {
				t.Fatalf("got next PC %#x want event PC 0x3000", out.NextPC)
			}
			if out.IsCall != c.wantCall || out.IsReturn != c.wantRet || out.IsSwap != c.wantSwap {
				t.Fatalf("got call=%v ret=%v swap=%v want call=%v ret=%v swap=%v",
					out.IsCall, out.IsReturn, out.IsSwap, c.wantCall, c.wantRet, c.wantSwap)
			}
		})
	}
}

func TestConditionalBranchTakenBit(t *testing.T) {
	ins := image.Instruction{Kind: image.KindConditionalBranch, Size: 4, Imm: 8, HaveImm: true}
	out := Step(0x1000, ins, false, 0, true, true)
	if out.NextPC != 0x1008 {
		t.Fatalf("got next PC %#x want 0x1008 (taken)", out.NextPC)
	}
	if !out.BranchTaken {
		t.Fatalf("expected BranchTaken true")
	}

	out = Step(0x1000, ins, false, 0, true, false)
	if out.NextPC != 0x1004 {
		t.Fatalf("got next PC %#x want 0x1004 (not taken)", out.NextPC)
	}
	if out.BranchTaken {
		t.Fatalf("expected BranchTaken false")
	}
}

func TestConditionalBranchInferredFromEventPC(t *testing.T) {
	ins := image.Instruction{Kind: image.KindConditionalBranch, Size: 4, Imm: 8, HaveImm: true}
	out := Step(0x1000, ins, true, 0x1008, false, false)
	if !out.HaveBranchTaken || !out.BranchTaken {
		t.Fatalf("expected inferred taken outcome")
	}

	out = Step(0x1000, ins, true, 0x1004, false, false)
	if !out.HaveBranchTaken || out.BranchTaken {
		t.Fatalf("expected inferred not-taken outcome")
	}

	out = Step(0x1000, ins, true, 0x9999, false, false)
	if !out.IsInterrupt {
		t.Fatalf("expected interrupt flag on unmatched event PC")
	}
}

func TestTrapSetsException(t *testing.T) {
	ins := image.Instruction{Kind: image.KindTrap, Size: 4}
	out := Step(0x1000, ins, false, 0, false, false)
	if !out.IsException || out.NextPC != 0x1004 {
		t.Fatalf("got %+v", out)
	}
}

func TestTrapReturnUsesEventPC(t *testing.T) {
	ins := image.Instruction{Kind: image.KindTrapReturn, Size: 4}
	out := Step(0x1000, ins, true, 0x4000, false, false)
	if !out.IsExceptionReturn || out.NextPC != 0x4000 {
		t.Fatalf("got %+v", out)
	}
}

func TestNonBranchAdvancesBySize(t *testing.T) {
	ins := image.Instruction{Kind: image.KindOther, Size: 2}
	out := Step(0x1000, ins, false, 0, false, false)
	if out.NextPC != 0x1002 || out.HaveBranchTaken {
		t.Fatalf("got %+v", out)
	}
}

func TestNonBranchInterruptOnMismatch(t *testing.T) {
	ins := image.Instruction{Kind: image.KindOther, Size: 2}
	out := Step(0x1000, ins, true, 0x5000, false, false)
	if !out.IsInterrupt {
		t.Fatalf("expected interrupt for a non-branch whose event PC disagrees")
	}
}

func TestUnknownPropagatesEventPC(t *testing.T) {
	ins := image.Instruction{Kind: image.KindUnknown, Size: 4}
	out := Step(0x1000, ins, true, 0x7000, false, false)
	if out.NextPC != 0x7000 || !out.IsInterrupt {
		t.Fatalf("got %+v", out)
	}
}
