// Package bitcursor implements C1: reading arbitrary-width little-endian
// fields out of a packed stream of Nexus slices (spec.md §4.1).
package bitcursor

import "github.com/riscv-trace/dqr/internal/dqrerr"

// MSEO is the 2-bit message-state-end-of code carried in bits 1:0 of
// every slice byte.
type MSEO uint8

const (
	Normal MSEO = 0b00
	VarEnd MSEO = 0b01
	// 0b10 is invalid and never constructed by Slice.
	End MSEO = 0b11
)

// Slice is a single byte of Nexus wire data: 6 payload bits, 2 MSEO bits.
type Slice byte

// Payload returns bits 7:2.
func (s Slice) Payload() uint8 { return uint8(s) >> 2 }

// MSEO returns bits 1:0.
func (s Slice) MSEO() MSEO { return MSEO(byte(s) & 0x3) }

// MakeSlice packs a 6-bit payload and MSEO code into one byte.
func MakeSlice(payload uint8, mseo MSEO) Slice {
	return Slice((payload&0x3F)<<2 | uint8(mseo)&0x3)
}

const payloadBits = 6

// Cursor reads fixed- and variable-width fields from a slice stream,
// never stepping across a VAR_END or END boundary within a fixed read.
type Cursor struct {
	slices []Slice
	slice  int // index of current slice
	bit    int // bit offset within current slice's payload (0..payloadBits)
	eom    bool
}

// New creates a Cursor over a complete, END-terminated slice group.
func New(slices []Slice) *Cursor {
	return &Cursor{slices: slices}
}

// EOM reports whether the last read landed on (or consumed through) a
// slice with MSEO == End.
func (c *Cursor) EOM() bool { return c.eom }

// Remaining reports whether any unconsumed slices remain.
func (c *Cursor) Remaining() bool { return c.slice < len(c.slices) }

// currentMSEO returns the MSEO of the slice currently being read, or End
// if the cursor has run off the end of the buffer (treated as a hard
// stop rather than a panic).
func (c *Cursor) currentMSEO() MSEO {
	if c.slice >= len(c.slices) {
		return End
	}
	return c.slices[c.slice].MSEO()
}

// ReadFixed advances the bit index by width bits and returns the
// little-endian value. It fails with BadMessage if doing so would step
// across a VAR_END or END slice, or if the buffer is exhausted.
func (c *Cursor) ReadFixed(width int) (uint64, error) {
	var value uint64
	var got int
	for got < width {
		if c.slice >= len(c.slices) {
			return 0, dqrerr.New(dqrerr.BadMessage, "read_fixed: ran out of slices")
		}
		s := c.slices[c.slice]
		take := payloadBits - c.bit
		if got+take > width {
			take = width - got
		}
		bits := uint64(s.Payload()>>uint(c.bit)) & ((1 << uint(take)) - 1)
		value |= bits << uint(got)
		got += take
		c.bit += take

		if c.bit >= payloadBits {
			mseo := s.MSEO()
			if mseo != Normal {
				if got < width {
					return 0, dqrerr.New(dqrerr.BadMessage, "read_fixed: stepped across VAR_END/END before field complete")
				}
				c.eom = mseo == End
			}
			c.slice++
			c.bit = 0
		}
	}
	return value, nil
}

// ReadVar consumes whole slices until a slice with MSEO != Normal
// appears. A variable field always starts on a fresh slice: if a fixed
// field ended part-way through the current slice, the rest of that
// slice is padding and is skipped (and if that slice itself carried
// VAR_END/END, the result is an empty, zero-width field). It returns
// the little-endian concatenation of all payload bits read and the
// total bit width. If more than 64 bits would be produced and the two
// upper payload bits of the terminating slice are non-zero, it fails
// with Overflow.
func (c *Cursor) ReadVar() (uint64, int, error) {
	var value uint64
	width := 0
	if c.bit != 0 && c.slice < len(c.slices) {
		mseo := c.slices[c.slice].MSEO()
		c.slice++
		c.bit = 0
		if mseo != Normal {
			c.eom = mseo == End
			return 0, 0, nil
		}
	}
	for {
		if c.slice >= len(c.slices) {
			return 0, 0, dqrerr.New(dqrerr.BadMessage, "read_var: ran out of slices before VAR_END/END")
		}
		s := c.slices[c.slice]
		payload := uint64(s.Payload())

		// fit is how many of this slice's 6 payload bits still land
		// within the 64-bit value; any bits above that must be zero or
		// the field has overflowed.
		fit := 64 - width
		switch {
		case fit > payloadBits:
			fit = payloadBits
		case fit < 0:
			fit = 0
		}
		if fit > 0 {
			value |= (payload & ((1 << uint(fit)) - 1)) << uint(width)
		}
		if payload>>uint(fit) != 0 {
			return 0, 0, dqrerr.New(dqrerr.Overflow, "read_var: field exceeds 64 bits")
		}

		width += payloadBits
		mseo := s.MSEO()
		c.slice++
		c.bit = 0
		if mseo != Normal {
			c.eom = mseo == End
			break
		}
	}
	if width > 64 {
		width = 64
	}
	return value, width, nil
}
