// Package engine implements C6, the per-hart trace reconstruction state
// machine: it retires Nexus messages against counter state, walks the
// program image instruction by instruction via the stepper, and yields
// retired instruction records. It is the component everything else
// (C1-C5, C7) exists to feed.
package engine

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/riscv-trace/dqr/internal/counter"
	"github.com/riscv-trace/dqr/internal/image"
	"github.com/riscv-trace/dqr/internal/itc"
	"github.com/riscv-trace/dqr/internal/nexus"
	"github.com/riscv-trace/dqr/internal/stepper"
)

type fsmState int

const (
	stateSyncing fsmState = iota
	stateGetFirstSync
	stateRetireMsg
	stateGetNextMsg
	stateGetNextInstruction
	stateDone
)

// Record is one retired instruction, the engine's externally visible
// unit of output (spec.md §4.6 "Yielded record").
type Record struct {
	Hart       uint8
	PC         uint64
	RawOpcode  uint32
	Size       int
	Text       string
	Pid        uint32
	Prv        uint8
	IsCall     bool
	IsReturn   bool
	IsSwap     bool
	BranchTaken     bool
	HaveBranchTaken bool
	IsException       bool
	IsExceptionReturn bool
	IsInterrupt       bool
	Timestamp  uint64

	SourceFile   string
	SourceLine   int
	SourceFunc   string
	SourceLabel  string
	LabelOffset  uint64
}

// Config bundles the construction-time values spec.md §9 insists be
// explicit rather than process-global: timestamp bit width/frequency
// and the hart-id field width the parser was built with.
type Config struct {
	SrcBits     int
	TsSizeBits  int
	Frequency   uint64 // ticks per second; 0 disables conversion
}

type hartState struct {
	id           uint8
	currentPC    uint64
	lastFullAddr uint64
	lastTimestamp uint64
	haveTimestamp bool
	counts       counter.Counter
	syncedOnce   bool
	fsm          fsmState

	pendingDest    uint64
	havePendingDest bool
	pendingBType   nexus.BType
	pid            uint32
	prv            uint8
	v              bool

	resyncs uint64
	dropped uint64
}

// Engine drives the state machine across every hart seen in the
// message stream. Feed is meant to be called from a single walker
// goroutine (spec.md's reconstruction loop is inherently sequential per
// stream); mu only guards the aggregate counters and hart map against
// the metrics Collector, which a metrics HTTP handler may poll from a
// different goroutine concurrently with Feed (the same shape as
// internal/swt's Multiplexer guarding its client map).
type Engine struct {
	cfg   Config
	img   *image.Image
	itc   *itc.Aggregator
	log   *logrus.Entry

	mu    sync.Mutex
	harts map[uint8]*hartState

	instructionsRetired uint64

	// Pending accumulates retired records since the last Drain; cmd/dqr
	// drains it after each Feed since the engine itself has no notion
	// of a consumer.
	Pending []Record
}

// New builds an Engine. log may be nil, in which case a default
// discard-free logrus entry is used (matching spec's "the engine logs
// and enters SYNCING" requirement; logging is not optional).
func New(cfg Config, img *image.Image, agg *itc.Aggregator, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{cfg: cfg, img: img, itc: agg, log: log, harts: make(map[uint8]*hartState)}
}

// hart looks up (or creates) a hart's state. Callers must hold e.mu;
// it is only ever called from within Feed, which locks for its whole
// duration so a concurrent metrics read never observes a hartState
// mid-update.
func (e *Engine) hart(id uint8) *hartState {
	h, ok := e.harts[id]
	if !ok {
		h = &hartState{id: id, fsm: stateSyncing}
		e.harts[id] = h
	}
	return h
}

// InstructionsRetired reports the running total across all harts, for
// the Collector in metrics.go.
func (e *Engine) InstructionsRetired() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instructionsRetired
}

// Harts returns the ids of every hart the engine has seen a message
// from, for callers that need to flush per-hart state at end-of-stream.
func (e *Engine) Harts() []uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]uint8, 0, len(e.harts))
	for id := range e.harts {
		out = append(out, id)
	}
	return out
}

// Resyncs reports the running total of resynchronization events across
// every hart, for metrics.go's Collector.
func (e *Engine) Resyncs() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var total uint64
	for _, h := range e.harts {
		total += h.resyncs
	}
	return total
}

// DroppedMessages reports the running total of messages discarded while
// a hart was hunting for a sync point (at start-up or after a resync).
func (e *Engine) DroppedMessages() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var total uint64
	for _, h := range e.harts {
		total += h.dropped
	}
	return total
}

// Feed processes one parsed message, updating the relevant hart's
// state machine. It never returns an error for a malformed trace;
// per spec.md §4.6 "Failure semantics" the engine logs and
// re-synchronizes instead of halting the iterator.
func (e *Engine) Feed(msg *nexus.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := e.hart(msg.GetSrc())

	if msg.TCode == nexus.Error {
		h.resyncs++
		e.log.WithField("hart", msg.GetSrc()).Warn("ERROR message observed, resynchronizing")
		e.resync(h)
		return
	}

	if h.fsm == stateSyncing {
		// The sync handshake fully consumes this message: it sets
		// currentPC and clears counts itself (spec.md §4.6 "Sync
		// handshake"), so it must not also flow through the general
		// message-retirement walk below, which would re-apply its
		// f_addr as a pending branch destination to a PC that is
		// already sitting there, walking instructions that were never
		// meant to be retired. Message retirement resumes with the
		// next message.
		if !e.tryFirstSync(h, msg) {
			h.dropped++
		}
		return
	}

	e.retireMessage(h, msg)
}

// tryFirstSync implements the "Sync handshake": skip messages until
// one carries an f_addr.
func (e *Engine) tryFirstSync(h *hartState, msg *nexus.Message) bool {
	faddr, ok := firstSyncFAddr(msg)
	if !ok {
		return false
	}
	h.currentPC = faddr << 1
	h.lastFullAddr = h.currentPC
	h.counts.Reset()
	h.syncedOnce = true
	h.fsm = stateRetireMsg
	return true
}

func firstSyncFAddr(msg *nexus.Message) (uint64, bool) {
	switch msg.TCode {
	case nexus.Sync, nexus.DirectBranchWS, nexus.IndirectBranchWS, nexus.IndirectBranchHistoryWS, nexus.InCircuitTraceWS:
		if msg.HaveFAddr {
			return msg.FAddr, true
		}
	}
	return 0, false
}

// retireMessage implements spec.md §4.6 "Message retirement": install
// the message's contribution into counts/pending destination, update
// timestamp/ownership, and feed ITC messages, then walk instructions.
func (e *Engine) retireMessage(h *hartState, msg *nexus.Message) {
	if msg.Generic {
		e.updateTimestamp(h, msg)
		return
	}

	switch msg.TCode {
	case nexus.OwnershipTrace:
		h.pid, h.prv, h.v = msg.Pid, msg.Prv, msg.V
		return
	case nexus.DataAcquisition:
		e.feedITC(h, msg)
		e.updateTimestamp(h, msg)
		return
	case nexus.AuxAccessWrite:
		e.feedITC(h, msg)
		e.updateTimestamp(h, msg)
		return
	}

	if err := e.installCounts(h, msg); err != nil {
		h.resyncs++
		e.log.WithError(err).WithField("hart", msg.GetSrc()).Warn("message contradicts counter state, resynchronizing")
		e.resync(h)
		return
	}
	e.installPendingDest(h, msg)
	e.updateTimestamp(h, msg)

	h.fsm = stateGetNextInstruction
	e.walk(h)
}

func (e *Engine) feedITC(h *hartState, msg *nexus.Message) {
	if e.itc == nil {
		return
	}
	ts := h.lastTimestamp
	addr := msg.Addr
	if msg.TCode == nexus.DataAcquisition {
		addr = msg.Idtag
	}
	e.itc.Feed(h.id, addr, uint32(msg.Data), ts)
}

// installCounts installs i_cnt/history/taken/notTaken per the
// message's TCode, per the "Message retirement" bullet list.
func (e *Engine) installCounts(h *hartState, msg *nexus.Message) error {
	if msg.IsBranchHistoryCarrier() {
		hist, _ := msg.GetHistory()
		return h.counts.SetHistory(hist)
	}
	if taken, ok := msg.IsRunLengthCarrier(); ok {
		_, rdata := msg.GetRCode()
		if taken {
			return h.counts.SetTaken(rdata)
		}
		return h.counts.SetNotTaken(rdata)
	}
	if msg.HaveICnt {
		h.counts.SetICnt(msg.GetICnt())
	}
	return nil
}

func (e *Engine) installPendingDest(h *hartState, msg *nexus.Message) {
	if msg.HaveFAddr {
		h.pendingDest = msg.FAddr << 1
		h.havePendingDest = true
	} else if msg.HaveUAddr {
		h.pendingDest = h.currentPC ^ (msg.UAddr << 1)
		h.havePendingDest = true
	}
	if msg.HaveBType {
		h.pendingBType = msg.BType
	}
}

// updateTimestamp applies spec.md §4.8's reconstruction rule.
func (e *Engine) updateTimestamp(h *hartState, msg *nexus.Message) {
	ts, have := msg.GetTimestamp()
	if !have {
		return
	}
	absolute := msg.TCode == nexus.Sync || msg.TCode == nexus.DirectBranchWS ||
		msg.TCode == nexus.IndirectBranchWS || msg.TCode == nexus.IndirectBranchHistoryWS ||
		msg.TCode == nexus.InCircuitTraceWS
	if absolute || !h.haveTimestamp {
		h.lastTimestamp = ts
		h.haveTimestamp = true
		return
	}
	next := h.lastTimestamp + ts
	if e.cfg.TsSizeBits > 0 {
		limit := uint64(1) << uint(e.cfg.TsSizeBits)
		for next < h.lastTimestamp {
			next += limit
		}
	}
	h.lastTimestamp = next
}

// TimestampSeconds converts a reconstructed tick count to seconds using
// the configured frequency, or returns the raw ticks when no
// frequency is configured.
func (e *Engine) TimestampSeconds(ticks uint64) float64 {
	if e.cfg.Frequency == 0 {
		return float64(ticks)
	}
	return float64(ticks) / float64(e.cfg.Frequency)
}

// resync clears a hart's in-flight state and returns it to SYNCING,
// the engine's universal, non-fatal recovery action.
func (e *Engine) resync(h *hartState) {
	h.counts.Reset()
	h.havePendingDest = false
	h.fsm = stateSyncing
}

// walk implements GET_NEXT_INSTRUCTION: consume the current message's
// counts one instruction at a time, emitting a Record for each, until
// the counts and pending destination are exhausted.
func (e *Engine) walk(h *hartState) {
	for h.fsm == stateGetNextInstruction {
		ins, ok := e.img.DecodeInstructionAt(h.currentPC)
		if !ok {
			h.resyncs++
			e.log.WithField("pc", h.currentPC).Warn("no image mapping at current PC, resynchronizing")
			e.resync(h)
			return
		}

		kind := h.counts.CurrentKind()
		switch {
		case ins.Kind == image.KindConditionalBranch && kind == counter.KindHistory:
			taken, exhausted := h.counts.ConsumeHistory()
			e.retireOne(h, ins, true, h.pendingDest, true, taken)
			if exhausted {
				h.havePendingDest = false
			}
		case ins.Kind == image.KindConditionalBranch && kind == counter.KindTaken:
			h.counts.ConsumeTaken()
			e.retireOne(h, ins, true, h.pendingDest, true, true)
		case ins.Kind == image.KindConditionalBranch && kind == counter.KindNotTaken:
			h.counts.ConsumeNotTaken()
			e.retireOne(h, ins, true, h.pendingDest, true, false)
		case ins.Kind == image.KindIndirectUnconditional || ins.Kind == image.KindReturn ||
			(ins.Kind == image.KindCall && ins.IsIndirectCall()):
			if kind == counter.KindICnt {
				h.resyncs++
				e.log.Warn("indirect branch reached with i_cnt still pending, resynchronizing")
				e.resync(h)
				return
			}
			e.retireOne(h, ins, h.havePendingDest, h.pendingDest, false, false)
			h.havePendingDest = false
		default:
			if kind == counter.KindNone {
				// i_cnt is already spent and this instruction isn't a
				// branch class that consumes a pending destination of
				// its own (direct branches land via the stepper's own
				// immediate, not pendingDest). Nothing left to walk.
				h.havePendingDest = false
				h.fsm = stateGetNextMsg
				return
			}
			if kind != counter.KindICnt {
				h.resyncs++
				e.log.Warn("non-branch instruction reached with pending branch outcome, resynchronizing")
				e.resync(h)
				return
			}
			h.counts.ConsumeICnt(1)
			// A conditional branch only ever appears inside a plain
			// i_cnt run (rather than under history/taken/notTaken) when
			// it is the run's terminating, implicitly taken branch
			// (spec.md's "predictable direct branch" case folds
			// conditional branches in here too): i_cnt exhausting right
			// on this instruction is what makes it taken, same as a
			// DIRECT_BRANCH message reporting straight-line code up to
			// and including the branch that fired.
			if ins.Kind == image.KindConditionalBranch && h.counts.CurrentKind() == counter.KindNone {
				e.retireOne(h, ins, false, 0, true, true)
			} else {
				e.retireOne(h, ins, false, 0, false, false)
			}
		}

		if h.counts.Exhausted() && !h.havePendingDest {
			h.fsm = stateGetNextMsg
			return
		}
	}
}

func (e *Engine) retireOne(h *hartState, ins image.Instruction, haveEventPC bool, eventPC uint64, haveBranchTaken, branchTaken bool) {
	out := stepper.Step(h.currentPC, ins, haveEventPC, eventPC, haveBranchTaken, branchTaken)

	rec := Record{
		Hart:              h.id,
		PC:                h.currentPC,
		RawOpcode:         ins.Opcode,
		Size:              ins.Size,
		Text:              ins.Text,
		Pid:               h.pid,
		Prv:               h.prv,
		IsCall:            out.IsCall,
		IsReturn:          out.IsReturn,
		IsSwap:            out.IsSwap,
		BranchTaken:       out.BranchTaken,
		HaveBranchTaken:   out.HaveBranchTaken,
		IsException:       out.IsException,
		IsExceptionReturn: out.IsExceptionReturn,
		IsInterrupt:       out.IsInterrupt,
		Timestamp:         h.lastTimestamp,
	}
	if si, ok := e.img.SourceInfoAt(h.currentPC); ok {
		rec.SourceFile, rec.SourceLine, rec.SourceFunc = si.File, si.Line, si.Function
		rec.SourceLabel, rec.LabelOffset = si.Label, si.Offset
	}

	h.currentPC = out.NextPC
	h.lastFullAddr = out.NextPC
	e.instructionsRetired++
	e.emit(rec)
}

func (e *Engine) emit(rec Record) {
	e.Pending = append(e.Pending, rec)
}

// Drain returns and clears all records retired since the last Drain.
func (e *Engine) Drain() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.Pending
	e.Pending = nil
	return out
}
