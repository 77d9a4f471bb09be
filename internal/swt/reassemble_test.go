package swt

import "testing"

func feedAll(r *Reassembler, data []byte) []DataAcquisitionMessage {
	var out []DataAcquisitionMessage
	for _, b := range data {
		r.AppendByte(b)
		if msg, ok := r.GetMessage(); ok {
			out = append(out, msg)
		}
	}
	return out
}

func TestReassemblerDecodesWellFormedMessage(t *testing.T) {
	var b MessageStreamBuilder
	b.AddDataAcquisitionMessage(0, 0, 0x10, 0x2a, true, 99)

	r := NewReassembler(0)
	msgs := feedAll(r, b.Bytes())
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Idtag != 0x10 || m.Data != 0x2a {
		t.Fatalf("got idtag=%#x data=%#x, want idtag=0x10 data=0x2a", m.Idtag, m.Data)
	}
	if !m.HaveTimestamp || m.Timestamp != 99 {
		t.Fatalf("got timestamp=%d have=%v, want 99/true", m.Timestamp, m.HaveTimestamp)
	}
	if r.Dropped() != 0 {
		t.Fatalf("got %d dropped, want 0", r.Dropped())
	}
}

func TestReassemblerDecodesSrcField(t *testing.T) {
	var b MessageStreamBuilder
	b.AddDataAcquisitionMessage(4, 7, 0x1, 0x2, false, 0)

	r := NewReassembler(4)
	msgs := feedAll(r, b.Bytes())
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if !msgs[0].HaveSrc || msgs[0].Src != 7 {
		t.Fatalf("got src=%d have=%v, want 7/true", msgs[0].Src, msgs[0].HaveSrc)
	}
	if msgs[0].HaveTimestamp {
		t.Fatalf("expected no timestamp")
	}
}

func TestReassemblerDropsMessageWithNoFields(t *testing.T) {
	var b MessageStreamBuilder
	b.AddMalformedDataAcquisitionMessageNoBody()

	r := NewReassembler(0)
	msgs := feedAll(r, b.Bytes())
	if len(msgs) != 0 {
		t.Fatalf("got %d messages, want 0", len(msgs))
	}
	if r.Dropped() != 1 {
		t.Fatalf("got %d dropped, want 1", r.Dropped())
	}
}

func TestReassemblerDropsMessageWithOneField(t *testing.T) {
	var b MessageStreamBuilder
	b.AddMalformedDataAcquisitionMessageNoData(0x5)

	r := NewReassembler(0)
	msgs := feedAll(r, b.Bytes())
	if len(msgs) != 0 {
		t.Fatalf("got %d messages, want 0", len(msgs))
	}
	if r.Dropped() != 1 {
		t.Fatalf("got %d dropped, want 1", r.Dropped())
	}
}

func TestReassemblerIgnoresOtherTCodes(t *testing.T) {
	var b MessageStreamBuilder
	b.AddNonDataAcquisitionMessage(3)
	b.AddDataAcquisitionMessage(0, 0, 0x1, 0x2, false, 0)

	r := NewReassembler(0)
	msgs := feedAll(r, b.Bytes())
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (the DIRECT_BRANCH message must be skipped, not dropped)", len(msgs))
	}
	if r.Dropped() != 0 {
		t.Fatalf("got %d dropped, want 0", r.Dropped())
	}
}
