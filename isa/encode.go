// Package isa is the concrete instruction-encoder collaborator that spec.md
// §1(c) treats as an external dependency ("an instruction-encoder library
// that yields 32-bit opcodes for named RISC-V instructions"). Nothing else
// in this repo stands in for it, so it lives here instead of behind an
// interface with a single implementation.
//
// Encodings follow the RV32/64I base ISA. Immediate-field packing mirrors
// the R/I/S/U/J helpers of a conventional RISC-V assembler (see
// danielcbailey-RISC-V-Emulator's assembler/codeGen.go for the style this
// was grounded on), generalized here to the handful of named instructions
// the injector, register and memory-I/O layers actually emit.
package isa

const (
	opLoad    = 0x03
	opLoadFP  = 0x07
	opOpImm   = 0x13
	opStore   = 0x23
	opStoreFP = 0x27
	opMiscMem = 0x0f
	opJal     = 0x6f
	opSystem  = 0x73
)

func rType(opcode, rd, rs1, rs2, funct3, funct7 uint32) uint32 {
	return (funct7 << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode
}

func iType(opcode, rd, rs1, funct3 uint32, imm int32) uint32 {
	return (uint32(imm)&0xfff)<<20 | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode
}

func sType(opcode, rs1, rs2, funct3 uint32, imm int32) uint32 {
	u := uint32(imm)
	return ((u>>5)&0x7f)<<25 | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | ((u & 0x1f) << 7) | opcode
}

func jType(opcode, rd uint32, imm int32) uint32 {
	u := uint32(imm)
	instr := (rd << 7) | opcode
	instr |= ((u >> 20) & 0x1) << 31
	instr |= ((u >> 1) & 0x3ff) << 21
	instr |= ((u >> 11) & 0x1) << 20
	instr |= ((u >> 12) & 0xff) << 12
	return instr
}

// Reg is a GPR index 0..31 (x0..x31).
type Reg uint32

const (
	X0 Reg = 0
	S0 Reg = 8  // x8, the injector's first scratch register
	S1 Reg = 9  // x9, the injector's second scratch register
	T0 Reg = 5  // x5, memio's address cursor
)

// Lw/Lh/Lb/Ld encode the load family used to read a memory word, halfword,
// byte or (64-bit target) doubleword into rd from offset(rs1).
func Lw(rd, rs1 Reg, offset int32) uint32 { return iType(opLoad, uint32(rd), uint32(rs1), 0x2, offset) }
func Lh(rd, rs1 Reg, offset int32) uint32 { return iType(opLoad, uint32(rd), uint32(rs1), 0x1, offset) }
func Lb(rd, rs1 Reg, offset int32) uint32 { return iType(opLoad, uint32(rd), uint32(rs1), 0x0, offset) }
func Ld(rd, rs1 Reg, offset int32) uint32 { return iType(opLoad, uint32(rd), uint32(rs1), 0x3, offset) }
func Lhu(rd, rs1 Reg, offset int32) uint32 { return iType(opLoad, uint32(rd), uint32(rs1), 0x5, offset) }
func Lbu(rd, rs1 Reg, offset int32) uint32 { return iType(opLoad, uint32(rd), uint32(rs1), 0x4, offset) }

// Sw/Sh/Sb/Sd encode the store family used to write rs2 to offset(rs1).
func Sw(rs1, rs2 Reg, offset int32) uint32 { return sType(opStore, uint32(rs1), uint32(rs2), 0x2, offset) }
func Sh(rs1, rs2 Reg, offset int32) uint32 { return sType(opStore, uint32(rs1), uint32(rs2), 0x1, offset) }
func Sb(rs1, rs2 Reg, offset int32) uint32 { return sType(opStore, uint32(rs1), uint32(rs2), 0x0, offset) }
func Sd(rs1, rs2 Reg, offset int32) uint32 { return sType(opStore, uint32(rs1), uint32(rs2), 0x3, offset) }

// Fsw stores floating-point register frs2 to offset(rs1). Used by the FPR
// register-access path (spec.md §4.6 register_get for FPR).
func Fsw(rs1 Reg, frs2 uint32, offset int32) uint32 {
	return sType(opStoreFP, uint32(rs1), frs2, 0x2, offset)
}

// Flw loads floating-point register frd from offset(rs1), the write-side
// counterpart of Fsw (spec.md §4.6 register_set for FPR).
func Flw(frd uint32, rs1 Reg, offset int32) uint32 {
	return iType(opLoadFP, frd, uint32(rs1), 0x2, offset)
}

// Addi/Xori/Srli encode the immediate-ALU instructions used by xlen
// discovery (spec.md §4.8) and by memio's address-cursor advance.
func Addi(rd, rs1 Reg, imm int32) uint32 { return iType(opOpImm, uint32(rd), uint32(rs1), 0x0, imm) }
func Xori(rd, rs1 Reg, imm int32) uint32 { return iType(opOpImm, uint32(rd), uint32(rs1), 0x4, imm) }

// Srli is a logical right shift by a 5..6 bit shift amount; funct7 selects
// the logical (vs. arithmetic) variant.
func Srli(rd, rs1 Reg, shamt uint32) uint32 {
	return rType(opOpImm, uint32(rd), uint32(rs1), shamt&0x3f, 0x5, 0x00)
}

// Jal encodes an unconditional jump-and-link; rd=x0 for the terminator jump
// back into the debug ROM (spec.md §4.4 cache_set_jump).
func Jal(rd Reg, imm int32) uint32 { return jType(opJal, uint32(rd), imm) }

// FenceI encodes fence.i, used by execute_resume's DCSR-write snippet
// (spec.md §4.8) to force the hart to see the freshly written Debug RAM.
func FenceI() uint32 { return iType(opMiscMem, 0, 0, 0x1, 0) }

// Csrrs/Csrrw/Csrrsi encode the three CSR instructions the driver needs:
// csrr (Csrrs rd, csr, x0), csrw (Csrrw x0, csr, rs1) and csrsi (Csrrsi x0,
// csr, imm), matching spec.md §4.6/§4.8's read_csr/write_csr/csrsi usages.
func Csrrs(rd Reg, csr uint32, rs1 Reg) uint32 {
	return iType(opSystem, uint32(rd), uint32(rs1), 0x2, int32(csr))
}
func Csrrw(rd Reg, csr uint32, rs1 Reg) uint32 {
	return iType(opSystem, uint32(rd), uint32(rs1), 0x1, int32(csr))
}
func Csrrsi(rd Reg, csr uint32, zimm uint32) uint32 {
	return iType(opSystem, uint32(rd), zimm&0x1f, 0x6, int32(csr))
}

// Csrr is the canonical "read CSR into rd" pseudo-instruction.
func Csrr(rd Reg, csr uint32) uint32 { return Csrrs(rd, csr, X0) }

// Csrw is the canonical "write rs1 into CSR" pseudo-instruction.
func Csrw(csr uint32, rs1 Reg) uint32 { return Csrrw(X0, csr, rs1) }

// Csrsi is the canonical "set CSR bits from a 5-bit immediate" pseudo-instruction.
func Csrsi(csr uint32, zimm uint32) uint32 { return Csrrsi(X0, csr, zimm) }
