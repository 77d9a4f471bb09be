package nexus

// Message is C3: a tagged-union record for one parsed Nexus message.
// Rather than a Go interface per variant (which would force a type
// switch everywhere a field is read), fields absent from a given
// TCode's wire layout are simply left at their zero value and the
// accessor methods below return neutral sentinels for them; exactly
// the "queries never fail" contract spec.md §4.3 asks for.
type Message struct {
	TCode TCode

	MsgNum    uint64 // sequence number assigned by the parser
	RawBytes  []byte // raw slice bytes backing this message
	ByteOffset int64  // offset of the first slice in the source stream

	HaveSrc bool
	Src     uint8 // hart id; meaningful only if HaveSrc

	HaveICnt bool
	ICnt     uint64

	HaveUAddr bool
	UAddr     uint64

	HaveFAddr bool
	FAddr     uint64

	HaveBType bool
	BType     BType

	HaveSyncReason bool
	SyncReason     SyncReason

	HaveHistory bool
	History     uint64
	HistoryBits int

	HaveRCode bool
	RCode     uint8
	RData     uint64

	HaveICTSource bool
	ICTSource     ICTSource
	ICTPayload    [2]uint64
	ICTPayloadLen int

	HaveOwnership bool
	Pid           uint32
	Prv           uint8
	V             bool

	HaveCdf bool
	Cdf     uint8

	HaveIdtag bool
	Idtag     uint64

	HaveData bool
	Data     uint64

	HaveAddr bool
	Addr     uint64

	// HaveEType/EType double as ERROR's etype and CORRELATION's evcode;
	// both are a bare 4-bit code whose meaning is entirely determined by
	// TCode, so one field covers both rather than two near-duplicates.
	HaveEType bool
	EType     uint8

	HaveTimestamp bool
	Timestamp     uint64

	// Generic is true when TCode is recognized but outside spec.md's
	// core set (see tcode.go IsCore); such messages are exposed with
	// only the fields the generic layout parses (src/timestamp) and
	// never contribute to instruction retirement.
	Generic bool
}

const noValue = 0

// GetICnt returns the instruction count, or 0 if this variant carries none.
func (m *Message) GetICnt() uint64 {
	if !m.HaveICnt {
		return noValue
	}
	return m.ICnt
}

// GetUAddr returns the XOR-delta address, or 0 if absent.
func (m *Message) GetUAddr() uint64 {
	if !m.HaveUAddr {
		return noValue
	}
	return m.UAddr
}

// GetFAddr returns the absolute address, or 0 if absent.
func (m *Message) GetFAddr() uint64 {
	if !m.HaveFAddr {
		return noValue
	}
	return m.FAddr
}

// GetBType returns the branch classification, defaulting to BTypeIndirect.
func (m *Message) GetBType() BType {
	if !m.HaveBType {
		return BTypeIndirect
	}
	return m.BType
}

// GetSyncReason returns the sync reason, defaulting to SyncExitReset.
func (m *Message) GetSyncReason() SyncReason {
	if !m.HaveSyncReason {
		return SyncExitReset
	}
	return m.SyncReason
}

// GetHistory returns the raw history bitstring and its bit width. The
// stop-sentinel bit (the highest set bit) is still present in the
// returned value; counter.Counter strips it on load.
func (m *Message) GetHistory() (uint64, int) {
	if !m.HaveHistory {
		return 0, 0
	}
	return m.History, m.HistoryBits
}

// GetRCode returns a RESOURCEFULL message's kind and value.
func (m *Message) GetRCode() (uint8, uint64) {
	if !m.HaveRCode {
		return 0, noValue
	}
	return m.RCode, m.RData
}

// GetICT exposes an in-circuit-trace message's source and payload words.
func (m *Message) GetICT() (ICTSource, []uint64) {
	if !m.HaveICTSource {
		return 0, nil
	}
	return m.ICTSource, m.ICTPayload[:m.ICTPayloadLen]
}

// GetTimestamp returns the (as-wire, not-yet-reconstructed) timestamp
// value and whether one was present.
func (m *Message) GetTimestamp() (uint64, bool) {
	return m.Timestamp, m.HaveTimestamp
}

// GetSrc returns the hart id, or 0 (single-hart) if srcBits was 0.
func (m *Message) GetSrc() uint8 {
	if !m.HaveSrc {
		return 0
	}
	return m.Src
}

// IsBranchHistoryCarrier reports whether this message's pending-count
// contribution is a history bitstring rather than an i_cnt/taken/not-taken
// run length (spec.md §4.6 "Message retirement").
func (m *Message) IsBranchHistoryCarrier() bool {
	switch m.TCode {
	case IndirectBranchHistory, IndirectBranchHistoryWS:
		return true
	case ResourceFull:
		return m.RCode == 1
	case Correlation:
		return m.Cdf == 1
	default:
		return false
	}
}

// IsRunLengthCarrier reports whether this RESOURCEFULL message carries a
// taken/not-taken run length (rCode 8 or 9).
func (m *Message) IsRunLengthCarrier() (taken bool, ok bool) {
	if m.TCode != ResourceFull || !m.HaveRCode {
		return false, false
	}
	switch m.RCode {
	case 8:
		return false, true
	case 9:
		return true, true
	default:
		return false, false
	}
}
