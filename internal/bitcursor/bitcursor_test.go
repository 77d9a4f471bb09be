package bitcursor

import (
	"testing"

	"github.com/riscv-trace/dqr/internal/dqrerr"
)

func TestReadFixedWithinSlice(t *testing.T) {
	// payload 0b101010, MSEO=End -> fixed(4) then fixed(2) ending on the slice boundary.
	slices := []Slice{MakeSlice(0b101010, End)}
	c := New(slices)
	v, err := c.ReadFixed(4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0b1010 {
		t.Fatalf("got %b want %b", v, 0b1010)
	}
	if c.EOM() {
		t.Fatalf("EOM should not be set before crossing the End slice")
	}
	// Remaining 2 bits exist in this slice (0b10); reading 2 more should
	// cross the slice boundary and set EOM.
	v2, err := c.ReadFixed(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v2 != 0b10 {
		t.Fatalf("got %b want %b", v2, 0b10)
	}
	if !c.EOM() {
		t.Fatalf("EOM should be set after consuming the End slice")
	}
}

func TestReadFixedCannotCrossVarEnd(t *testing.T) {
	slices := []Slice{MakeSlice(0b000001, VarEnd), MakeSlice(0b000001, End)}
	c := New(slices)
	_, err := c.ReadFixed(8) // needs to cross the VAR_END boundary
	if !dqrerr.Is(err, dqrerr.BadMessage) {
		t.Fatalf("expected BadMessage, got %v", err)
	}
}

func TestReadVarConcatenatesLittleEndian(t *testing.T) {
	// Two NORMAL slices then an END slice: value is payload0 | payload1<<6 | payload2<<12
	slices := []Slice{
		MakeSlice(0b000001, Normal),
		MakeSlice(0b000010, Normal),
		MakeSlice(0b000011, End),
	}
	c := New(slices)
	v, width, err := c.ReadVar()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := uint64(0b000001) | uint64(0b000010)<<6 | uint64(0b000011)<<12
	if v != want {
		t.Fatalf("got %#x want %#x", v, want)
	}
	if width != 18 {
		t.Fatalf("got width %d want 18", width)
	}
	if !c.EOM() {
		t.Fatalf("expected EOM after End slice")
	}
}

func TestReadVarStopsOnFirstVarEnd(t *testing.T) {
	slices := []Slice{
		MakeSlice(0b000001, Normal),
		MakeSlice(0b000010, VarEnd),
		MakeSlice(0b000011, End), // belongs to the next field
	}
	c := New(slices)
	_, width, err := c.ReadVar()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if width != 12 {
		t.Fatalf("got width %d want 12 (should stop at VAR_END)", width)
	}
	if c.EOM() {
		t.Fatalf("VAR_END must not set EOM")
	}
	if !c.Remaining() {
		t.Fatalf("one slice should remain for the next field")
	}
}

func TestReadVarOverflow(t *testing.T) {
	// 10 normal slices = 60 bits; the 11th (terminating) slice contributes
	// 4 more bits to reach 64, so its top 2 payload bits must be zero.
	slices := make([]Slice, 0, 11)
	for i := 0; i < 10; i++ {
		slices = append(slices, MakeSlice(0b111111, Normal))
	}
	slices = append(slices, MakeSlice(0b110000, End)) // upper 2 bits (0b11) non-zero past 64 bits
	c := New(slices)
	_, _, err := c.ReadVar()
	if !dqrerr.Is(err, dqrerr.Overflow) {
		t.Fatalf("expected Overflow, got %v", err)
	}
}

func TestReadVarOverflowToleratesZeroUpperBits(t *testing.T) {
	slices := make([]Slice, 0, 11)
	for i := 0; i < 10; i++ {
		slices = append(slices, MakeSlice(0b111111, Normal))
	}
	slices = append(slices, MakeSlice(0b001111, End)) // upper 2 bits are zero: tolerated
	c := New(slices)
	_, width, err := c.ReadVar()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if width != 64 {
		t.Fatalf("got width %d want 64 (clamped)", width)
	}
}
