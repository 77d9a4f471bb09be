package image

import (
	"encoding/binary"
	"io"

	"github.com/riscv-trace/dqr/internal/dqrerr"
)

// LoadFlat builds an Image from a flat little-endian binary blob loaded
// at base, classifying each halfword/word by its RISC-V opcode bits.
// This is intentionally minimal: no ELF section headers, no symbol
// table, no real disassembly text; decode_instruction_at's contract
// only promises classification and operand fields, and a full
// disassembler is out of scope here. Real images come from whatever
// external tool the embedder already has; this loader exists so
// cmd/dqr has something runnable without one.
func LoadFlat(r io.Reader, base uint64) (*Image, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, dqrerr.Wrap(dqrerr.IoError, "image: reading flat binary", err)
	}
	b := NewBuilder()
	addr := base
	for i := 0; i < len(raw); {
		if len(raw)-i < 2 {
			break
		}
		low := binary.LittleEndian.Uint16(raw[i:])
		size := 2
		var opcode uint32 = uint32(low)
		if low&0x3 == 0x3 { // 32-bit instruction per the RVC length-encoding rule
			if len(raw)-i < 4 {
				break
			}
			opcode = binary.LittleEndian.Uint32(raw[i:])
			size = 4
		}
		ins := classify(addr, opcode, size)
		if err := b.Add(ins); err != nil {
			return nil, err
		}
		addr += uint64(size)
		i += size
	}
	return b.Build(), nil
}

// classify performs a coarse opcode-bit classification sufficient for
// the stepper (C5) to pick a next-PC rule; it is not a full decoder.
func classify(addr uint64, opcode uint32, size int) Instruction {
	ins := Instruction{Addr: addr, Opcode: opcode, Size: size, Kind: KindOther}

	if size == 4 {
		op := opcode & 0x7F
		rd := uint8((opcode >> 7) & 0x1F)
		rs1 := uint8((opcode >> 15) & 0x1F)
		switch op {
		case 0x6F: // JAL
			ins.RD = rd
			ins.Kind = KindDirectUnconditional
			if rd == 1 || rd == 5 {
				ins.Kind = KindCall
			}
			ins.Imm, ins.HaveImm = jalImm(opcode), true
		case 0x67: // JALR
			ins.RD, ins.RS1 = rd, rs1
			ins.Kind = KindIndirectUnconditional
			if rd == 1 || rd == 5 {
				ins.Kind = KindCall
			} else if rd == 0 && (rs1 == 1 || rs1 == 5) {
				ins.Kind = KindReturn
			}
			ins.Imm, ins.HaveImm = int64(int32(opcode)>>20), true
		case 0x63: // branches
			ins.RS1 = rs1
			ins.Kind = KindConditionalBranch
			ins.Imm, ins.HaveImm = bImm(opcode), true
		case 0x73: // SYSTEM: ECALL/EBREAK/MRET/SRET/URET
			switch opcode {
			case 0x00000073, 0x00100073:
				ins.Kind = KindTrap
			case 0x30200073, 0x10200073, 0x00200073:
				ins.Kind = KindTrapReturn
			}
		}
	} else {
		quadrant := opcode & 0x3
		funct3 := (opcode >> 13) & 0x7
		switch {
		case quadrant == 0x1 && funct3 == 0x5: // C.J
			ins.Kind = KindDirectUnconditional
		case quadrant == 0x1 && funct3 == 0x1: // C.JAL (RV32 only)
			ins.Kind = KindCall
			ins.RD = 1
		case quadrant == 0x2 && funct3 == 0x4 && (opcode>>12)&0x1 == 1 && (opcode>>2)&0x1F == 0 && (opcode>>7)&0x1F != 0:
			// C.JALR: implicit link to x1, rs1 from the rd/rs1 field.
			ins.Kind = KindIndirectUnconditional
			ins.RD = 1
			ins.RS1 = uint8((opcode >> 7) & 0x1F)
		case quadrant == 0x2 && funct3 == 0x4 && (opcode>>12)&0x1 == 0 && (opcode>>2)&0x1F == 0 && (opcode>>7)&0x1F != 0:
			// C.JR: no link, rs1 from the rd/rs1 field.
			ins.Kind = KindIndirectUnconditional
			ins.RS1 = uint8((opcode >> 7) & 0x1F)
		case quadrant == 0x1 && (funct3 == 0x6 || funct3 == 0x7): // C.BEQZ/C.BNEZ
			ins.Kind = KindConditionalBranch
			ins.RS1 = uint8(((opcode>>7)&0x7)+8)
		}
	}
	return ins
}

func jalImm(opcode uint32) int64 {
	imm20 := (opcode >> 31) & 0x1
	imm10_1 := (opcode >> 21) & 0x3FF
	imm11 := (opcode >> 20) & 0x1
	imm19_12 := (opcode >> 12) & 0xFF
	v := (imm20 << 20) | (imm19_12 << 12) | (imm11 << 11) | (imm10_1 << 1)
	return signExtend(v, 21)
}

func bImm(opcode uint32) int64 {
	imm12 := (opcode >> 31) & 0x1
	imm10_5 := (opcode >> 25) & 0x3F
	imm4_1 := (opcode >> 8) & 0xF
	imm11 := (opcode >> 7) & 0x1
	v := (imm12 << 12) | (imm11 << 11) | (imm10_5 << 5) | (imm4_1 << 1)
	return signExtend(v, 13)
}

func signExtend(v uint32, bits int) int64 {
	shift := 32 - bits
	return int64(int32(v<<shift) >> shift)
}
