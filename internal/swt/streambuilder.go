package swt

import (
	"bytes"

	"github.com/riscv-trace/dqr/internal/nexus"
)

// MessageStreamBuilder is test scaffolding recovered from
// original_source/include/swt.hpp's SwtMessageStreamBuilder: "temp
// scaffolding before we have a serial cable" for exercising the
// Unwrapper/Reassembler/Multiplexer without a physical link. It builds
// a byte stream of well-formed and deliberately malformed
// DATA_ACQUISITION messages.
type MessageStreamBuilder struct {
	buf bytes.Buffer
}

// AddDataAcquisitionMessage appends one well-formed DATA_ACQUISITION
// message with the given hart id, ITC address, and payload word.
func (b *MessageStreamBuilder) AddDataAcquisitionMessage(srcBits int, src uint8, idtag uint64, data uint32, haveTimestamp bool, timestamp uint64) {
	e := nexus.NewEncoder(nexus.DataAcquisition)
	if srcBits > 0 {
		e.Fixed(uint64(src), srcBits)
	}
	e.Var(idtag)
	e.Var(uint64(data))
	if haveTimestamp {
		e.Var(timestamp)
	}
	b.buf.Write(e.End())
}

// AddMalformedDataAcquisitionMessageNoBody appends a DATA_ACQUISITION
// message that terminates immediately after the tcode, with no idtag or
// data field at all; the Reassembler must discard it (fieldCount==0).
func (b *MessageStreamBuilder) AddMalformedDataAcquisitionMessageNoBody() {
	e := nexus.NewEncoder(nexus.DataAcquisition)
	b.buf.Write(e.End())
}

// AddMalformedDataAcquisitionMessageNoData appends a DATA_ACQUISITION
// message carrying only idtag; the Reassembler must discard it
// (fieldCount==1, below the minimum of 2).
func (b *MessageStreamBuilder) AddMalformedDataAcquisitionMessageNoData(idtag uint64) {
	e := nexus.NewEncoder(nexus.DataAcquisition)
	e.Var(idtag)
	b.buf.Write(e.End())
}

// AddNonDataAcquisitionMessage appends a well-formed message of a
// different tcode (DIRECT_BRANCH), which the Reassembler must ignore.
func (b *MessageStreamBuilder) AddNonDataAcquisitionMessage(iCnt uint64) {
	e := nexus.NewEncoder(nexus.DirectBranch)
	e.Var(iCnt)
	b.buf.Write(e.End())
}

// AddLiteralSlice appends one raw byte verbatim, for constructing
// invalid-MSEO or truncated-stream test fixtures byte by byte.
func (b *MessageStreamBuilder) AddLiteralSlice(slice byte) {
	b.buf.WriteByte(slice)
}

// Bytes returns the accumulated stream.
func (b *MessageStreamBuilder) Bytes() []byte {
	return b.buf.Bytes()
}
