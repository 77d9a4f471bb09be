package swt

import (
	"github.com/riscv-trace/dqr/internal/bitcursor"
	"github.com/riscv-trace/dqr/internal/nexus"
)

// Reassembler sits on top of an Unwrapper (C8) and, for
// TCODE=DATA_ACQUISITION only, turns a completed slice group back into
// a DataAcquisitionMessage (spec.md §4.9 "Reassembler"). It implements
// Acceptor itself so it can be driven directly by an Unwrapper.
//
// Field boundaries are counted via the Unwrapper's MessageData
// callbacks (idtag, dqdata, optional timestamp: 2 or 3 variable
// fields); the actual values are decoded from the raw slice bytes with
// bitcursor so the decode shares srcBits handling with internal/nexus's
// Parser rather than re-deriving it from the unwrapper's 6-bit-per-slice
// field buffers.
type Reassembler struct {
	srcBits int
	unwrap  *Unwrapper

	lastByte   byte
	freshStart bool
	raw        []byte

	tcode       int
	fieldCount  int
	anyOverflow bool

	ready   bool
	msg     DataAcquisitionMessage
	dropped uint64
}

// Dropped returns the count of DATA_ACQUISITION messages discarded for
// a bad field count or an overflowed field.
func (r *Reassembler) Dropped() uint64 { return r.dropped }

// NewReassembler builds a Reassembler for a stream whose DATA_ACQUISITION
// messages carry an srcBits-wide hart id (0 disables the field).
func NewReassembler(srcBits int) *Reassembler {
	r := &Reassembler{srcBits: srcBits}
	r.unwrap = NewUnwrapper(r)
	return r
}

// AppendByte feeds one slice byte, the Reassembler's only public input.
func (r *Reassembler) AppendByte(b byte) {
	r.lastByte = b
	r.freshStart = false
	r.unwrap.AppendByte(b)
	if !r.freshStart {
		r.raw = append(r.raw, b)
	}
}

// GetMessage returns the most recently reassembled DATA_ACQUISITION
// message, if one is pending, and clears it.
func (r *Reassembler) GetMessage() (DataAcquisitionMessage, bool) {
	if !r.ready {
		return DataAcquisitionMessage{}, false
	}
	r.ready = false
	m := r.msg
	r.msg.clear()
	return m, true
}

// StartMessage implements Acceptor.
func (r *Reassembler) StartMessage(tcode int) {
	r.raw = append(r.raw[:0], r.lastByte)
	r.freshStart = true
	r.tcode = tcode
	r.fieldCount = 0
	r.anyOverflow = false
}

// MessageData implements Acceptor.
func (r *Reassembler) MessageData(_ int, _ []byte, overflowed bool) {
	r.fieldCount++
	if overflowed {
		r.anyOverflow = true
	}
}

// EndField implements Acceptor; the Reassembler needs no per-field
// action beyond what MessageData already recorded.
func (r *Reassembler) EndField() {}

// EndMessage implements Acceptor: validate the field count and, for
// DATA_ACQUISITION, decode the buffered raw bytes.
func (r *Reassembler) EndMessage() {
	defer func() { r.raw = r.raw[:0] }()

	if nexus.TCode(r.tcode) != nexus.DataAcquisition {
		return
	}
	if r.anyOverflow || r.fieldCount < 2 || r.fieldCount > 3 {
		r.dropped++
		return
	}

	slices := make([]bitcursor.Slice, len(r.raw))
	for i, b := range r.raw {
		slices[i] = bitcursor.Slice(b)
	}
	c := bitcursor.New(slices)
	if _, err := c.ReadFixed(6); err != nil { // tcode, already known
		return
	}

	var m DataAcquisitionMessage
	m.TCode = r.tcode
	if r.srcBits > 0 {
		src, err := c.ReadFixed(r.srcBits)
		if err != nil {
			return
		}
		m.HaveSrc, m.Src = true, uint32(src)
	}
	idtag, _, err := c.ReadVar()
	if err != nil {
		return
	}
	m.Idtag = idtag
	data, _, err := c.ReadVar()
	if err != nil {
		return
	}
	m.Data = data
	if !c.EOM() {
		ts, _, err := c.ReadVar()
		if err != nil {
			return
		}
		m.HaveTimestamp, m.Timestamp = true, ts
	}

	r.msg = m
	r.ready = true
}
