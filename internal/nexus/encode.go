package nexus

import "github.com/riscv-trace/dqr/internal/bitcursor"

// Encoder builds a well-formed slice group for one message, the inverse
// of Parser.Next. It backs both the round-trip test suite (testable
// property 1 in spec.md §8) and internal/swt's MessageStreamBuilder,
// which plays the same "temp scaffolding before we have a serial cable"
// role as the original SwtMessageStreamBuilder (original_source/include/swt.hpp).
type Encoder struct {
	slices   []bitcursor.Slice
	curByte  uint8
	curBits  int
}

// NewEncoder starts a new message, writing tcode as the mandatory first
// fixed(6) field.
func NewEncoder(tcode TCode) *Encoder {
	e := &Encoder{}
	e.appendFixed(uint64(tcode), 6)
	return e
}

// Fixed appends a fixed-width field, matching bitcursor.ReadFixed's bit
// packing (low bit first, little-endian across slices).
func (e *Encoder) Fixed(val uint64, width int) *Encoder {
	e.appendFixed(val, width)
	return e
}

func (e *Encoder) appendFixed(val uint64, width int) {
	for width > 0 {
		take := 6 - e.curBits
		if take > width {
			take = width
		}
		bits := uint8(val & ((1 << uint(take)) - 1))
		e.curByte |= bits << uint(e.curBits)
		e.curBits += take
		val >>= uint(take)
		width -= take
		if e.curBits == 6 {
			e.flushNormal()
		}
	}
}

// flushNormal closes out the current in-progress byte with MSEO=NORMAL,
// used mid-field when a fixed field's bits exactly fill a slice.
func (e *Encoder) flushNormal() {
	e.slices = append(e.slices, bitcursor.MakeSlice(e.curByte, bitcursor.Normal))
	e.curByte, e.curBits = 0, 0
}

// Var appends a variable-width field using the minimum number of whole
// slices needed, terminated by VAR_END.
func (e *Encoder) Var(val uint64) *Encoder {
	e.padToSliceBoundary()
	if val == 0 {
		e.slices = append(e.slices, bitcursor.MakeSlice(0, bitcursor.VarEnd))
		return e
	}
	for val != 0 {
		payload := uint8(val & 0x3F)
		val >>= 6
		if val == 0 {
			e.slices = append(e.slices, bitcursor.MakeSlice(payload, bitcursor.VarEnd))
		} else {
			e.slices = append(e.slices, bitcursor.MakeSlice(payload, bitcursor.Normal))
		}
	}
	return e
}

// padToSliceBoundary flushes any partially-filled fixed-field byte; the
// wire format requires a variable field to start on a fresh slice.
func (e *Encoder) padToSliceBoundary() {
	if e.curBits != 0 {
		e.flushNormal()
	}
}

// End terminates the message with an END slice and returns the raw bytes.
func (e *Encoder) End() []byte {
	e.padToSliceBoundary()
	if len(e.slices) == 0 {
		e.slices = append(e.slices, bitcursor.MakeSlice(0, bitcursor.End))
	} else {
		last := e.slices[len(e.slices)-1]
		e.slices[len(e.slices)-1] = bitcursor.MakeSlice(last.Payload(), bitcursor.End)
	}
	out := make([]byte, len(e.slices))
	for i, s := range e.slices {
		out[i] = byte(s)
	}
	return out
}
