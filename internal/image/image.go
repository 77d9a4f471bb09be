// Package image defines the external program-image collaborator
// (spec.md §3 "Program image view (external)", §4's decode_instruction_at
// / source_info contracts). No ELF parsing or disassembler lives here;
// that is an explicit non-goal; this package only owns the immutable,
// append-only address-indexed view the engine and stepper query against,
// plus a simple in-memory builder used by tests and by cmd/dqr's loader.
package image

import "github.com/riscv-trace/dqr/internal/dqrerr"

// Kind classifies a decoded instruction for the stepper (C5).
type Kind int

const (
	KindUnknown Kind = iota
	KindOther
	KindDirectUnconditional
	KindIndirectUnconditional
	KindConditionalBranch
	KindCall
	KindReturn
	KindTrap
	KindTrapReturn
)

// Instruction is the pre-disassembled view of one halfword-aligned
// address, as returned by decode_instruction_at.
type Instruction struct {
	Addr    uint64
	Opcode  uint32
	Size    int // 2 or 4 bytes
	Kind    Kind
	RS1     uint8
	RD      uint8
	Imm     int64
	HaveImm bool
	Text    string // pre-disassembled mnemonic, e.g. "beq a0,a1,+8"
}

// IsIndirectCall reports whether a KindCall instruction is the
// indirect (JALR rd=x1/x5) form rather than the direct (JAL rd=x1/x5)
// form; both classify as KindCall since either one is a call by the
// link-register rule, but only the indirect form needs a pending
// destination from the message stream instead of its own immediate.
func (ins Instruction) IsIndirectCall() bool {
	return ins.RS1 != 0 || ins.Opcode&0x7F == 0x67
}

// SourceInfo is the optional per-address source-line annotation
// returned by source_info.
type SourceInfo struct {
	File     string
	Line     int
	Function string
	Label    string
	Offset   uint64
}

// Image is the arena + index the engine walks: an append-only,
// immutable map from address to a pre-decoded instruction, built once
// and never mutated afterward (spec.md §9 "Manual pointer graphs").
type Image struct {
	instructions map[uint64]Instruction
	sources      map[uint64]SourceInfo
}

// New returns an empty Image ready for Builder to populate.
func New() *Image {
	return &Image{
		instructions: make(map[uint64]Instruction),
		sources:      make(map[uint64]SourceInfo),
	}
}

// DecodeInstructionAt implements decode_instruction_at(addr). It never
// errors on a miss; callers distinguish "no mapping" via ok.
func (img *Image) DecodeInstructionAt(addr uint64) (Instruction, bool) {
	ins, ok := img.instructions[addr]
	return ins, ok
}

// SourceInfoAt implements source_info(addr).
func (img *Image) SourceInfoAt(addr uint64) (SourceInfo, bool) {
	si, ok := img.sources[addr]
	return si, ok
}

// Builder accumulates instructions and source annotations before
// freezing them into an Image. It is not safe for concurrent use; build
// the image once at startup, then share the resulting *Image read-only.
type Builder struct {
	img *Image
}

// NewBuilder starts a fresh image under construction.
func NewBuilder() *Builder {
	return &Builder{img: New()}
}

// Add registers the decoded instruction at ins.Addr. It errors if an
// instruction is already registered at that address; the image is
// append-only and addresses are not meant to be overwritten.
func (b *Builder) Add(ins Instruction) error {
	if _, exists := b.img.instructions[ins.Addr]; exists {
		return dqrerr.New(dqrerr.InternalError, "image: duplicate instruction address")
	}
	b.img.instructions[ins.Addr] = ins
	return nil
}

// AddSource attaches source-line info to addr.
func (b *Builder) AddSource(addr uint64, si SourceInfo) {
	b.img.sources[addr] = si
}

// Build freezes and returns the constructed Image. The Builder must not
// be reused afterward.
func (b *Builder) Build() *Image {
	return b.img
}
