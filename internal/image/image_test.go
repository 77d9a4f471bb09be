package image

import (
	"bytes"
	"testing"
)

func TestBuilderAddAndQuery(t *testing.T) {
	b := NewBuilder()
	if err := b.Add(Instruction{Addr: 0x1000, Kind: KindOther, Size: 2, Text: "add"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.AddSource(0x1000, SourceInfo{File: "main.c", Line: 10, Function: "main"})
	img := b.Build()

	ins, ok := img.DecodeInstructionAt(0x1000)
	if !ok || ins.Text != "add" {
		t.Fatalf("got %+v, %v", ins, ok)
	}
	si, ok := img.SourceInfoAt(0x1000)
	if !ok || si.Function != "main" {
		t.Fatalf("got %+v, %v", si, ok)
	}

	if _, ok := img.DecodeInstructionAt(0x2000); ok {
		t.Fatalf("expected miss for unmapped address")
	}
}

func TestBuilderRejectsDuplicateAddress(t *testing.T) {
	b := NewBuilder()
	if err := b.Add(Instruction{Addr: 0x100}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Add(Instruction{Addr: 0x100}); err == nil {
		t.Fatalf("expected error on duplicate address")
	}
}

func TestLoadFlatClassifiesDirectBranch(t *testing.T) {
	// add x0,x0,x0 ; beq x0,x0,+8 ; two raw 32-bit words, little-endian.
	raw := []byte{
		0x33, 0x00, 0x00, 0x00, // add x0,x0,x0
		0x63, 0x04, 0x00, 0x00, // beq x0,x0,8
	}
	img, err := LoadFlat(bytes.NewReader(raw), 0x1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	beq, ok := img.DecodeInstructionAt(0x1004)
	if !ok {
		t.Fatalf("expected instruction at 0x1004")
	}
	if beq.Kind != KindConditionalBranch {
		t.Fatalf("got kind %v want KindConditionalBranch", beq.Kind)
	}
	if beq.Imm != 8 {
		t.Fatalf("got imm %d want 8", beq.Imm)
	}
}

func TestLoadFlatClassifiesJalReturn(t *testing.T) {
	raw := []byte{
		0xEF, 0x00, 0x00, 0x00, // jal x1, +0 (call)
		0x67, 0x80, 0x00, 0x00, // jalr x0, x1, 0 (return)
	}
	img, err := LoadFlat(bytes.NewReader(raw), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	jal, _ := img.DecodeInstructionAt(0)
	if jal.Kind != KindCall {
		t.Fatalf("got kind %v want KindCall", jal.Kind)
	}
	ret, _ := img.DecodeInstructionAt(4)
	if ret.Kind != KindReturn {
		t.Fatalf("got kind %v want KindReturn", ret.Kind)
	}
}
