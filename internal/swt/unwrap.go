// Package swt implements C8 (Slice Unwrapper + Reassembler) and C9 (the
// serial-to-TCP fan-out multiplexer) of spec.md §4.9. Unlike
// internal/nexus's pull-based Parser, the unwrapper here is
// callback-driven: bytes arrive one at a time off a live serial link and
// the acceptor is told about message/field boundaries as they happen,
// the same shape as the original's NexusSliceAcceptor
// (original_source/include/swt.hpp).
package swt

import "github.com/riscv-trace/dqr/internal/bitcursor"

// Acceptor is the callback interface the Unwrapper drives as it
// recognizes slice boundaries in an incoming byte stream.
type Acceptor interface {
	StartMessage(tcode int)
	MessageData(numBits int, buf []byte, overflowed bool)
	EndField()
	EndMessage()
}

// maxAccumulatorBits bounds one field's in-progress accumulator
// (spec.md §4.9 "An accumulator larger than 4096 bits...").
const maxAccumulatorBits = 4096

// Unwrapper is C8: a one-byte-at-a-time state machine that turns a raw
// Nexus slice stream into StartMessage/MessageData/EndField/EndMessage
// callbacks on its Acceptor.
type Unwrapper struct {
	acceptor   Acceptor
	inMessage  bool
	acc        []byte // one entry per slice's 6-bit payload, accumulated since the last field boundary
	overflowed bool
}

// NewUnwrapper builds an Unwrapper that drives acceptor.
func NewUnwrapper(acceptor Acceptor) *Unwrapper {
	return &Unwrapper{acceptor: acceptor}
}

// AppendByte feeds one slice byte. An invalid MSEO (0b10) resyncs by
// discarding any in-flight message, per spec.md §6 ("`10` is invalid;
// if observed, resync").
func (u *Unwrapper) AppendByte(b byte) {
	s := bitcursor.Slice(b)
	mseo := s.MSEO()
	if mseo == 0b10 {
		u.inMessage = false
		u.acc = u.acc[:0]
		u.overflowed = false
		return
	}

	if !u.inMessage {
		u.inMessage = true
		u.acc = u.acc[:0]
		u.overflowed = false
		u.acceptor.StartMessage(int(s.Payload()))
		if mseo != bitcursor.Normal {
			u.finishField(mseo)
		}
		return
	}

	if len(u.acc)*6 < maxAccumulatorBits {
		u.acc = append(u.acc, s.Payload())
	} else {
		u.overflowed = true
	}
	if mseo != bitcursor.Normal {
		u.finishField(mseo)
	}
}

func (u *Unwrapper) finishField(mseo bitcursor.MSEO) {
	buf := make([]byte, len(u.acc))
	copy(buf, u.acc)
	u.acceptor.MessageData(len(u.acc)*6, buf, u.overflowed)
	u.acceptor.EndField()
	u.acc = u.acc[:0]
	u.overflowed = false
	if mseo == bitcursor.End {
		u.acceptor.EndMessage()
		u.inMessage = false
	}
}
