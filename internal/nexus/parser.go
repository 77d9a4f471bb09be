package nexus

import (
	"io"

	"github.com/riscv-trace/dqr/internal/bitcursor"
	"github.com/riscv-trace/dqr/internal/dqrerr"
	"github.com/sirupsen/logrus"
)

// ByteSource is the minimal contract the parser needs from whatever
// carries the raw slice stream (a file, a TCP socket, a test fixture).
type ByteSource interface {
	ReadByte() (byte, error)
}

// Parser is C2: it groups an incoming slice stream into
// END-terminated messages and populates a typed Message per spec.md §4.2.
//
// SrcBits is fixed for the lifetime of a stream (spec.md: "Source-bit-width
// is set at construction and fixed for the stream").
type Parser struct {
	SrcBits int
	Log     *logrus.Entry

	msgNum      uint64
	byteOffset  int64
	dropped     uint64
}

// NewParser builds a Parser for a stream whose hart-id field is srcBits
// wide (0 disables the field, implying single-hart).
func NewParser(srcBits int, log *logrus.Entry) *Parser {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Parser{SrcBits: srcBits, Log: log}
}

// Dropped returns the count of messages discarded by the recovery path.
func (p *Parser) Dropped() uint64 { return p.dropped }

// Next reads slices from src until one END-terminated message has been
// collected, parses it, and returns it. It returns dqrerr.EndOfFile when
// src is exhausted between messages. A structurally invalid message is
// logged and dropped (spec.md §4.2 "Recovery policy"); Next then
// continues on to the following message rather than returning an error,
// since a dropped message is routine, not fatal, at the API boundary.
func (p *Parser) Next(src ByteSource) (*Message, error) {
	for {
		slices, off, err := p.readOneMessage(src)
		if err != nil {
			return nil, err
		}
		msg, perr := p.parseMessage(slices, off)
		if perr != nil {
			p.dropped++
			p.Log.WithError(perr).WithField("byte_offset", off).Warn("dropping malformed message")
			continue
		}
		return msg, nil
	}
}

// readOneMessage pulls raw bytes from src until an END-MSEO byte is
// seen, returning the slice group and its starting byte offset.
func (p *Parser) readOneMessage(src ByteSource) ([]bitcursor.Slice, int64, error) {
	var slices []bitcursor.Slice
	start := p.byteOffset
	for {
		b, err := src.ReadByte()
		if err != nil {
			if err == io.EOF && len(slices) == 0 {
				return nil, 0, dqrerr.New(dqrerr.EndOfFile, "end of slice stream")
			}
			return nil, 0, dqrerr.Wrap(dqrerr.IoError, "reading slice stream", err)
		}
		p.byteOffset++
		s := bitcursor.Slice(b)
		if s.MSEO() == 0b10 {
			// Invalid MSEO code: resync by discarding what we have and
			// continuing to look for a legitimate END.
			p.Log.Warn("invalid MSEO code 0b10 observed, resyncing")
			slices = nil
			start = p.byteOffset
			continue
		}
		slices = append(slices, s)
		if s.MSEO() == bitcursor.End {
			return slices, start, nil
		}
	}
}

// parseMessage dispatches by TCODE and populates the typed fields.
func (p *Parser) parseMessage(slices []bitcursor.Slice, off int64) (*Message, error) {
	if len(slices) == 0 {
		return nil, dqrerr.New(dqrerr.BadMessage, "empty slice group")
	}
	c := bitcursor.New(slices)
	tcodeVal, err := c.ReadFixed(6)
	if err != nil {
		return nil, err
	}
	tcode := TCode(tcodeVal)

	msg := &Message{
		TCode:      tcode,
		RawBytes:   sliceBytes(slices),
		ByteOffset: off,
	}

	if p.SrcBits > 0 {
		src, err := c.ReadFixed(p.SrcBits)
		if err != nil {
			return nil, err
		}
		msg.HaveSrc = true
		msg.Src = uint8(src)
	}

	if tcode.IsCore() {
		if err := parseCoreFields(c, msg); err != nil {
			return nil, err
		}
	} else {
		msg.Generic = true
	}

	if err := readTrailingTimestamp(c, msg); err != nil {
		return nil, err
	}

	p.msgNum++
	msg.MsgNum = p.msgNum
	return msg, nil
}

func sliceBytes(slices []bitcursor.Slice) []byte {
	b := make([]byte, len(slices))
	for i, s := range slices {
		b[i] = byte(s)
	}
	return b
}

// readTrailingTimestamp implements spec.md §4.2 step 4: attempt one
// trailing variable field. If EOM is already set the timestamp is
// absent; otherwise the read must consume exactly through the next
// VAR_END/END and EOM must then be true.
func readTrailingTimestamp(c *bitcursor.Cursor, msg *Message) error {
	if c.EOM() {
		return nil
	}
	ts, _, err := c.ReadVar()
	if err != nil {
		return err
	}
	if !c.EOM() {
		return dqrerr.New(dqrerr.BadMessage, "message did not terminate after trailing field")
	}
	msg.HaveTimestamp = true
	msg.Timestamp = ts
	return nil
}

// parseCoreFields reads the ordered fields for one of spec.md §6's
// "Message field order by TCODE" core variants.
func parseCoreFields(c *bitcursor.Cursor, msg *Message) error {
	switch msg.TCode {
	case DirectBranch:
		return readVarInto(c, &msg.ICnt, &msg.HaveICnt)

	case IndirectBranch:
		bt, err := c.ReadFixed(2)
		if err != nil {
			return err
		}
		msg.HaveBType, msg.BType = true, BType(bt)
		if err := readVarInto(c, &msg.ICnt, &msg.HaveICnt); err != nil {
			return err
		}
		return readVarInto(c, &msg.UAddr, &msg.HaveUAddr)

	case Sync, DirectBranchWS:
		sr, err := c.ReadFixed(4)
		if err != nil {
			return err
		}
		msg.HaveSyncReason, msg.SyncReason = true, SyncReason(sr)
		if err := readVarInto(c, &msg.ICnt, &msg.HaveICnt); err != nil {
			return err
		}
		return readVarInto(c, &msg.FAddr, &msg.HaveFAddr)

	case IndirectBranchWS:
		sr, err := c.ReadFixed(4)
		if err != nil {
			return err
		}
		msg.HaveSyncReason, msg.SyncReason = true, SyncReason(sr)
		bt, err := c.ReadFixed(2)
		if err != nil {
			return err
		}
		msg.HaveBType, msg.BType = true, BType(bt)
		if err := readVarInto(c, &msg.ICnt, &msg.HaveICnt); err != nil {
			return err
		}
		return readVarInto(c, &msg.FAddr, &msg.HaveFAddr)

	case ResourceFull:
		rc, err := c.ReadFixed(4)
		if err != nil {
			return err
		}
		msg.HaveRCode, msg.RCode = true, uint8(rc)
		rdata, _, err := c.ReadVar()
		if err != nil {
			return err
		}
		msg.RData = rdata
		return nil

	case IndirectBranchHistory, IndirectBranchHistoryWS:
		if msg.TCode == IndirectBranchHistoryWS {
			sr, err := c.ReadFixed(4)
			if err != nil {
				return err
			}
			msg.HaveSyncReason, msg.SyncReason = true, SyncReason(sr)
		}
		bt, err := c.ReadFixed(2)
		if err != nil {
			return err
		}
		msg.HaveBType, msg.BType = true, BType(bt)
		if err := readVarInto(c, &msg.ICnt, &msg.HaveICnt); err != nil {
			return err
		}
		// u_addr on the plain variant, f_addr on the _WS variant.
		if msg.TCode == IndirectBranchHistoryWS {
			if err := readVarInto(c, &msg.FAddr, &msg.HaveFAddr); err != nil {
				return err
			}
		} else {
			if err := readVarInto(c, &msg.UAddr, &msg.HaveUAddr); err != nil {
				return err
			}
		}
		hist, width, err := c.ReadVar()
		if err != nil {
			return err
		}
		msg.HaveHistory, msg.History, msg.HistoryBits = true, hist, width
		return nil

	case Correlation:
		ev, err := c.ReadFixed(4)
		if err != nil {
			return err
		}
		msg.HaveEType, msg.EType = true, uint8(ev)
		cdf, err := c.ReadFixed(2)
		if err != nil {
			return err
		}
		msg.HaveCdf, msg.Cdf = true, uint8(cdf)
		if err := readVarInto(c, &msg.ICnt, &msg.HaveICnt); err != nil {
			return err
		}
		if msg.Cdf == 1 {
			hist, width, err := c.ReadVar()
			if err != nil {
				return err
			}
			msg.HaveHistory, msg.History, msg.HistoryBits = true, hist, width
		}
		return nil

	case OwnershipTrace:
		packed, _, err := c.ReadVar()
		if err != nil {
			return err
		}
		msg.HaveOwnership = true
		msg.Pid = uint32(packed >> 5)
		msg.V = (packed>>4)&0x1 != 0
		msg.Prv = uint8((packed >> 2) & 0x3)
		return nil

	case DataAcquisition:
		if err := readVarInto(c, &msg.Idtag, &msg.HaveIdtag); err != nil {
			return err
		}
		return readVarInto(c, &msg.Data, &msg.HaveData)

	case AuxAccessWrite:
		if err := readVarInto(c, &msg.Addr, &msg.HaveAddr); err != nil {
			return err
		}
		return readVarInto(c, &msg.Data, &msg.HaveData)

	case Error:
		et, err := c.ReadFixed(4)
		if err != nil {
			return err
		}
		msg.HaveEType, msg.EType = true, uint8(et)
		_, _, err = c.ReadVar() // padding, discarded
		return err

	case InCircuitTrace, InCircuitTraceWS:
		cksrc, err := c.ReadFixed(4)
		if err != nil {
			return err
		}
		ckdf, err := c.ReadFixed(2)
		if err != nil {
			return err
		}
		msg.HaveICTSource, msg.ICTSource = true, ICTSource(cksrc)
		v0, _, err := c.ReadVar()
		if err != nil {
			return err
		}
		msg.ICTPayload[0] = v0
		msg.ICTPayloadLen = 1
		if msg.TCode == InCircuitTraceWS {
			// ckdata[0] is an ADDRESS for the WS variant (dqr.hpp's
			// ICTCall union types it TraceDqr::ADDRESS, not a plain
			// data word): it is the sync f_addr this message
			// establishes, same role as SYNC/DIRECT_BRANCH_WS's own
			// f_addr field.
			msg.HaveFAddr, msg.FAddr = true, v0
		}
		if ckdf == 1 {
			v1, _, err := c.ReadVar()
			if err != nil {
				return err
			}
			msg.ICTPayload[1] = v1
			msg.ICTPayloadLen = 2
		}
		return nil

	default:
		return dqrerr.New(dqrerr.InternalError, "parseCoreFields: unhandled core tcode "+msg.TCode.String())
	}
}

func readVarInto(c *bitcursor.Cursor, dst *uint64, have *bool) error {
	v, _, err := c.ReadVar()
	if err != nil {
		return err
	}
	*dst, *have = v, true
	return nil
}
