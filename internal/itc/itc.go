// Package itc implements C7: the instrumentation-trace-channel
// aggregator. DATA_ACQUISITION and AUXACCESS_WRITE messages feed bytes
// into a per-hart in-progress line; completed lines queue on a FIFO
// until poll() drains them. This is the same log-from-silicon idiom as
// a hardware UART multiplexed over trace, just reassembled in software.
package itc

import (
	"github.com/rs/xid"
)

// Message is one completed (or, from Flush, still in-progress) ITC
// string, tagged with a sortable id so callers can dedupe across
// restarts of the poll loop.
type Message struct {
	ID        xid.ID
	CoreID    uint8
	Text      string
	StartTime uint64
	EndTime   uint64
	Overflowed bool
}

// FormatString is a pre-parsed no-load-string format entry: an ITC
// write's address maps directly to a known printf-style format, and
// the accompanying 32-bit word is formatted per SignMask/ArgCount
// rather than concatenated as raw bytes.
type FormatString struct {
	Address  uint64
	Format   string
	SignMask uint32
	ArgCount int
}

const maxFormatStrings = 32
const defaultRingCapacity = 4096

type hartState struct {
	line       []byte
	startTime  uint64
	overflowed bool
}

// Aggregator is C7. It is not safe for concurrent use from multiple
// goroutines without external locking; the trace engine feeds it from
// a single per-hart walker.
type Aggregator struct {
	channel      uint64
	haveChannel  bool
	noLoadString bool
	formats      map[uint64]FormatString
	ringCapacity int

	harts map[uint8]*hartState
	fifo  []Message
}

// Option configures an Aggregator at construction.
type Option func(*Aggregator)

// WithPrintChannel restricts byte-accumulation mode to ITC writes at
// the given channel address; without it, every AUXACCESS_WRITE/DATA_ACQUISITION
// message is treated as printable.
func WithPrintChannel(addr uint64) Option {
	return func(a *Aggregator) { a.channel, a.haveChannel = addr, true }
}

// WithNoLoadStrings enables direct format-string resolution for writes
// whose address matches a registered FormatString.
func WithNoLoadStrings(formats []FormatString) Option {
	return func(a *Aggregator) {
		a.noLoadString = true
		for i, f := range formats {
			if i >= maxFormatStrings {
				break
			}
			a.formats[f.Address] = f
		}
	}
}

// WithRingCapacity overrides the default per-hart in-progress-line byte
// capacity.
func WithRingCapacity(n int) Option {
	return func(a *Aggregator) { a.ringCapacity = n }
}

// New builds an empty Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		formats:      make(map[uint64]FormatString),
		ringCapacity: defaultRingCapacity,
		harts:        make(map[uint8]*hartState),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) hart(coreID uint8) *hartState {
	h, ok := a.harts[coreID]
	if !ok {
		h = &hartState{}
		a.harts[coreID] = h
	}
	return h
}

// Feed ingests one ITC write. address selects which ITC channel the
// write targets; data32 is the write's payload word; timestamp is the
// already-reconstructed engine timestamp at the time of the write.
func (a *Aggregator) Feed(coreID uint8, address uint64, data32 uint32, timestamp uint64) {
	if a.noLoadString {
		if fs, ok := a.formats[address]; ok {
			a.emitFormatted(coreID, fs, data32, timestamp)
			return
		}
	}
	if a.haveChannel && address != a.channel {
		return
	}
	a.appendBytes(coreID, data32, timestamp)
}

func (a *Aggregator) emitFormatted(coreID uint8, fs FormatString, data32 uint32, timestamp uint64) {
	h := a.hart(coreID)
	a.closeLine(coreID, h, timestamp)
	a.fifo = append(a.fifo, Message{
		ID:        xid.New(),
		CoreID:    coreID,
		Text:      formatValue(fs, data32),
		StartTime: timestamp,
		EndTime:   timestamp,
	})
}

// formatValue applies SignMask/ArgCount to render data32 into fs.Format.
// Only the single-argument integer case is supported; spec.md's
// no-load-string mode carries one 32-bit word per write.
func formatValue(fs FormatString, data32 uint32) string {
	if fs.ArgCount == 0 {
		return fs.Format
	}
	if fs.SignMask != 0 {
		return sprintfSigned(fs.Format, int32(data32))
	}
	return sprintfUnsigned(fs.Format, data32)
}

func (a *Aggregator) appendBytes(coreID uint8, data32 uint32, timestamp uint64) {
	h := a.hart(coreID)
	if len(h.line) == 0 {
		h.startTime = timestamp
	}
	for i := 0; i < 4; i++ {
		b := byte(data32 >> (8 * uint(i)))
		if b == 0 || b == '\n' || b == '\r' {
			a.closeLine(coreID, h, timestamp)
			if i < 3 {
				// Remaining bytes after a mid-word terminator start a
				// fresh line rather than being dropped.
				h = a.hart(coreID)
				h.startTime = timestamp
			}
			continue
		}
		if a.ringCapacity > 0 && len(h.line) >= a.ringCapacity {
			h.line = h.line[1:]
			h.overflowed = true
		}
		h.line = append(h.line, b)
	}
}

func (a *Aggregator) closeLine(coreID uint8, h *hartState, timestamp uint64) {
	if len(h.line) == 0 && !h.overflowed {
		return
	}
	a.fifo = append(a.fifo, Message{
		ID:         xid.New(),
		CoreID:     coreID,
		Text:       string(h.line),
		StartTime:  h.startTime,
		EndTime:    timestamp,
		Overflowed: h.overflowed,
	})
	h.line = nil
	h.overflowed = false
}

// Poll returns the next completed message, if any.
func (a *Aggregator) Poll() (Message, bool) {
	if len(a.fifo) == 0 {
		return Message{}, false
	}
	m := a.fifo[0]
	a.fifo = a.fifo[1:]
	return m, true
}

// Flush returns coreID's in-progress, unterminated line so no data is
// lost at end-of-stream, clearing it from the hart's state.
func (a *Aggregator) Flush(coreID uint8) (Message, bool) {
	h, ok := a.harts[coreID]
	if !ok || len(h.line) == 0 {
		return Message{}, false
	}
	m := Message{
		ID:         xid.New(),
		CoreID:     coreID,
		Text:       string(h.line),
		StartTime:  h.startTime,
		Overflowed: h.overflowed,
	}
	h.line = nil
	h.overflowed = false
	return m, true
}
