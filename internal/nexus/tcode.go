package nexus

// TCode is the 6-bit message kind carried in the payload of a message's
// first slice (spec.md §3). The full enum is recovered from
// original_source/include/dqr.hpp; spec.md's "must recognize" subset
// gets a fully-parsed Message variant (message.go), the rest route to
// the generic no-instruction-yielding handler.
type TCode uint8

const (
	DebugStatus             TCode = 0
	DeviceID                TCode = 1
	OwnershipTrace          TCode = 2
	DirectBranch            TCode = 3
	IndirectBranch          TCode = 4
	DataWrite                TCode = 5
	DataRead                 TCode = 6
	DataAcquisition          TCode = 7
	Error                    TCode = 8
	Sync                     TCode = 9
	Correction               TCode = 10
	DirectBranchWS           TCode = 11
	IndirectBranchWS         TCode = 12
	DataWriteWS              TCode = 13
	DataReadWS               TCode = 14
	Watchpoint               TCode = 15
	OutputPortReplacement    TCode = 20
	InputPortReplacement     TCode = 21
	AuxAccessRead            TCode = 22
	AuxAccessWrite           TCode = 23
	AuxAccessReadNext        TCode = 24
	AuxAccessWriteNext       TCode = 25
	AuxAccessResponse        TCode = 26
	ResourceFull             TCode = 27
	IndirectBranchHistory    TCode = 28
	IndirectBranchHistoryWS  TCode = 29
	RepeatBranch             TCode = 30
	RepeatInstruction        TCode = 31
	RepeatInstructionWS      TCode = 32
	Correlation              TCode = 33
	InCircuitTrace           TCode = 34
	InCircuitTraceWS         TCode = 35
)

// coreSet is spec.md's "must recognize" list: these get structured
// field parsing. Everything else recognized above is routed to Generic.
var coreSet = map[TCode]bool{
	OwnershipTrace:          true,
	DirectBranch:            true,
	IndirectBranch:          true,
	DataAcquisition:         true,
	Error:                   true,
	Sync:                    true,
	DirectBranchWS:          true,
	IndirectBranchWS:        true,
	AuxAccessWrite:          true,
	ResourceFull:            true,
	IndirectBranchHistory:   true,
	IndirectBranchHistoryWS: true,
	Correlation:             true,
	InCircuitTrace:          true,
	InCircuitTraceWS:        true,
}

// IsCore reports whether t is in spec.md's must-recognize set.
func (t TCode) IsCore() bool { return coreSet[t] }

// HasWS reports whether t is a "with-sync" variant (carries f_addr and
// is usable as a resync point).
func (t TCode) HasWS() bool {
	switch t {
	case Sync, DirectBranchWS, IndirectBranchWS, IndirectBranchHistoryWS, InCircuitTraceWS:
		return true
	default:
		return false
	}
}

func (t TCode) String() string {
	switch t {
	case DebugStatus:
		return "DEBUG_STATUS"
	case DeviceID:
		return "DEVICE_ID"
	case OwnershipTrace:
		return "OWNERSHIP_TRACE"
	case DirectBranch:
		return "DIRECT_BRANCH"
	case IndirectBranch:
		return "INDIRECT_BRANCH"
	case DataWrite:
		return "DATA_WRITE"
	case DataRead:
		return "DATA_READ"
	case DataAcquisition:
		return "DATA_ACQUISITION"
	case Error:
		return "ERROR"
	case Sync:
		return "SYNC"
	case Correction:
		return "CORRECTION"
	case DirectBranchWS:
		return "DIRECT_BRANCH_WS"
	case IndirectBranchWS:
		return "INDIRECT_BRANCH_WS"
	case DataWriteWS:
		return "DATA_WRITE_WS"
	case DataReadWS:
		return "DATA_READ_WS"
	case Watchpoint:
		return "WATCHPOINT"
	case OutputPortReplacement:
		return "OUTPUT_PORTREPLACEMENT"
	case InputPortReplacement:
		return "INPUT_PORTREPLACEMENT"
	case AuxAccessRead:
		return "AUXACCESS_READ"
	case AuxAccessWrite:
		return "AUXACCESS_WRITE"
	case AuxAccessReadNext:
		return "AUXACCESS_READNEXT"
	case AuxAccessWriteNext:
		return "AUXACCESS_WRITENEXT"
	case AuxAccessResponse:
		return "AUXACCESS_RESPONSE"
	case ResourceFull:
		return "RESOURCEFULL"
	case IndirectBranchHistory:
		return "INDIRECTBRANCHHISTORY"
	case IndirectBranchHistoryWS:
		return "INDIRECTBRANCHHISTORY_WS"
	case RepeatBranch:
		return "REPEATBRANCH"
	case RepeatInstruction:
		return "REPEATINSTRUCTION"
	case RepeatInstructionWS:
		return "REPEATINSTRUCTION_WS"
	case Correlation:
		return "CORRELATION"
	case InCircuitTrace:
		return "INCIRCUITTRACE"
	case InCircuitTraceWS:
		return "INCIRCUITTRACE_WS"
	default:
		return "UNDEFINED"
	}
}

// BType classifies an indirect/history branch (spec.md §3 b_type).
type BType uint8

const (
	BTypeIndirect BType = 0
	BTypeException BType = 1
	BTypeHardware BType = 2
)

// SyncReason classifies why a sync point was emitted (spec.md §3).
type SyncReason uint8

const (
	SyncExitReset SyncReason = iota
	SyncTraceEnable
	SyncWatchpoint
	SyncFifoOverrun
	SyncExitPowerdown
	SyncMessageContention
	SyncPCSample
	SyncICntOverflow
)

// ICTSource classifies an in-circuit-trace message (spec.md §3 ict_source).
type ICTSource uint8

const (
	ICTExtTrig ICTSource = iota
	ICTWatchpoint
	ICTInferableCall
	ICTException
	ICTInterrupt
	ICTContext
	ICTPCSample
	ICTControl
)
