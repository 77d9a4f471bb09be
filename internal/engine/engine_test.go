package engine

import (
	"testing"

	"github.com/riscv-trace/dqr/internal/image"
	"github.com/riscv-trace/dqr/internal/nexus"
)

func testImage() *image.Image {
	b := image.NewBuilder()
	b.Add(image.Instruction{Addr: 0x1000, Size: 2, Kind: image.KindOther, Text: "add"})
	b.Add(image.Instruction{Addr: 0x1002, Size: 2, Kind: image.KindOther, Text: "sub"})
	b.Add(image.Instruction{Addr: 0x1004, Size: 2, Kind: image.KindConditionalBranch, Imm: 8, HaveImm: true, Text: "beq +8"})
	b.Add(image.Instruction{Addr: 0x100c, Size: 2, Kind: image.KindOther, Text: "nop"})
	b.Add(image.Instruction{Addr: 0x100e, Size: 2, Kind: image.KindIndirectUnconditional, RD: 0, RS1: 1, Text: "jr ra"})
	return b.Build()
}

func newTestEngine() *Engine {
	return New(Config{}, testImage(), nil, nil)
}

// S1: SYNC(f_addr=0x1000, i_cnt=0) establishes position and retires
// nothing; DIRECT_BRANCH(i_cnt=3) then walks add, sub, beq against an
// image where 0x1000..0x1004 are add,sub,beq+8. i_cnt exhausting
// exactly on the beq is what makes it the run's taken branch, landing
// at 0x100c pending the next message.
func TestDirectBranchWalk(t *testing.T) {
	e := newTestEngine()

	e.Feed(&nexus.Message{TCode: nexus.Sync, HaveFAddr: true, FAddr: 0x1000 >> 1, HaveICnt: true, ICnt: 0})
	if got := e.Drain(); len(got) != 0 {
		t.Fatalf("got %d records from bootstrap sync, want 0: %+v", len(got), got)
	}

	e.Feed(&nexus.Message{TCode: nexus.DirectBranch, HaveICnt: true, ICnt: 3})
	recs := e.Drain()
	if len(recs) != 3 {
		t.Fatalf("got %d records want 3: %+v", len(recs), recs)
	}
	wantPC := []uint64{0x1000, 0x1002, 0x1004}
	for i, r := range recs {
		if r.PC != wantPC[i] {
			t.Fatalf("record %d: got pc %#x want %#x", i, r.PC, wantPC[i])
		}
	}
	if !recs[2].HaveBranchTaken || !recs[2].BranchTaken {
		t.Fatalf("expected the terminating beq to be tagged taken: %+v", recs[2])
	}
	h := e.hart(0)
	if h.currentPC != 0x100c {
		t.Fatalf("got currentPC %#x want 0x100c", h.currentPC)
	}
	if h.havePendingDest {
		t.Fatalf("expected pending destination cleared after a plain i_cnt walk")
	}
}

// A periodic (non-bootstrap) SYNC still carries a pending f_addr, but
// it must not block the next GET_NEXT_MSG transition or cause the
// engine to keep retiring instructions past it.
func TestPeriodicSyncDoesNotStallOnPendingDest(t *testing.T) {
	e := newTestEngine()
	e.Feed(&nexus.Message{TCode: nexus.Sync, HaveFAddr: true, FAddr: 0x1000 >> 1, HaveICnt: true, ICnt: 0})
	e.Drain()

	e.Feed(&nexus.Message{TCode: nexus.DirectBranch, HaveICnt: true, ICnt: 2})
	e.Drain()
	h := e.hart(0)
	if h.currentPC != 0x1004 {
		t.Fatalf("got currentPC %#x want 0x1004", h.currentPC)
	}

	// Periodic sync confirming the decoder is still at 0x1004, zero
	// instructions since the last message.
	e.Feed(&nexus.Message{TCode: nexus.Sync, HaveFAddr: true, FAddr: 0x1004 >> 1, HaveICnt: true, ICnt: 0})
	recs := e.Drain()
	if len(recs) != 0 {
		t.Fatalf("got %d records from a zero-i_cnt periodic sync, want 0: %+v", len(recs), recs)
	}
	if h.havePendingDest {
		t.Fatalf("expected pending destination cleared, engine would otherwise retire past the sync point")
	}

	// The stream must still make progress afterward.
	e.Feed(&nexus.Message{TCode: nexus.DirectBranch, HaveICnt: true, ICnt: 1})
	recs = e.Drain()
	if len(recs) != 1 || recs[0].PC != 0x1004 {
		t.Fatalf("got %+v, want one record at 0x1004", recs)
	}
}

// A conditional branch consumes history priority over i_cnt and tags
// the taken/not-taken outcome from the history bitstring's stop-bit
// encoding (bit 1 set as the sentinel, bit 0 the single outcome: taken).
func TestConditionalBranchConsumesHistory(t *testing.T) {
	e := newTestEngine()
	e.Feed(&nexus.Message{TCode: nexus.Sync, HaveFAddr: true, FAddr: 0x1004 >> 1, HaveICnt: true, ICnt: 0})
	e.Drain()

	e.Feed(&nexus.Message{TCode: nexus.IndirectBranchHistory, HaveHistory: true, History: 0b11, HistoryBits: 2})
	recs := e.Drain()
	if len(recs) != 1 {
		t.Fatalf("got %d records want 1: %+v", len(recs), recs)
	}
	if !recs[0].HaveBranchTaken || !recs[0].BranchTaken {
		t.Fatalf("got %+v, want a taken branch", recs[0])
	}
	if recs[0].PC != 0x1004 {
		t.Fatalf("got pc %#x want 0x1004", recs[0].PC)
	}
}

// An indirect branch consumes the message's u_addr as its landing
// point once i_cnt is exhausted.
func TestIndirectBranchConsumesPendingDest(t *testing.T) {
	e := newTestEngine()
	e.Feed(&nexus.Message{TCode: nexus.Sync, HaveFAddr: true, FAddr: 0x100e >> 1, HaveICnt: true, ICnt: 0})
	e.Drain()

	e.Feed(&nexus.Message{TCode: nexus.IndirectBranch, HaveUAddr: true, UAddr: 0, HaveICnt: true, ICnt: 0})
	recs := e.Drain()
	if len(recs) != 1 {
		t.Fatalf("got %d records want 1: %+v", len(recs), recs)
	}
	if !recs[0].IsReturn {
		t.Fatalf("expected jr ra to classify as a return")
	}
}

// An ERROR message resynchronizes the hart: counts, sync state and
// pending destination are all cleared, and the next message must carry
// a fresh f_addr before anything retires again.
func TestErrorMessageResyncs(t *testing.T) {
	e := newTestEngine()
	e.Feed(&nexus.Message{TCode: nexus.Sync, HaveFAddr: true, FAddr: 0x1000 >> 1, HaveICnt: true, ICnt: 0})
	e.Drain()
	e.Feed(&nexus.Message{TCode: nexus.DirectBranch, HaveICnt: true, ICnt: 1})
	e.Drain()

	e.Feed(&nexus.Message{TCode: nexus.Error})
	if got := e.Resyncs(); got != 1 {
		t.Fatalf("got %d resyncs want 1", got)
	}

	// A plain instruction message before a fresh sync point is dropped,
	// not retired.
	e.Feed(&nexus.Message{TCode: nexus.DirectBranch, HaveICnt: true, ICnt: 1})
	if got := e.Drain(); len(got) != 0 {
		t.Fatalf("got %d records before resync, want 0: %+v", len(got), got)
	}
	if got := e.DroppedMessages(); got != 1 {
		t.Fatalf("got %d dropped messages want 1", got)
	}

	e.Feed(&nexus.Message{TCode: nexus.Sync, HaveFAddr: true, FAddr: 0x1002 >> 1, HaveICnt: true, ICnt: 0})
	e.Feed(&nexus.Message{TCode: nexus.DirectBranch, HaveICnt: true, ICnt: 1})
	recs := e.Drain()
	if len(recs) != 1 || recs[0].PC != 0x1002 {
		t.Fatalf("got %+v, want one record at 0x1002 after resync", recs)
	}
}

func TestInstructionsRetiredAndHartsAccumulate(t *testing.T) {
	e := newTestEngine()
	e.Feed(&nexus.Message{TCode: nexus.Sync, HaveFAddr: true, FAddr: 0x1000 >> 1, HaveICnt: true, ICnt: 0})
	e.Feed(&nexus.Message{TCode: nexus.DirectBranch, HaveICnt: true, ICnt: 2})
	e.Drain()

	if got := e.InstructionsRetired(); got != 2 {
		t.Fatalf("got %d instructions retired want 2", got)
	}
	harts := e.Harts()
	if len(harts) != 1 || harts[0] != 0 {
		t.Fatalf("got harts %v want [0]", harts)
	}
}
