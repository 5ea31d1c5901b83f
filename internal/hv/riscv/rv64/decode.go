package rv64

// Opcodes (bits 6:0)
const (
	OpLoad    uint32 = 0b0000011
	OpMiscMem uint32 = 0b0001111
	OpOpImm   uint32 = 0b0010011
	OpAuipc   uint32 = 0b0010111
	OpOpImm32 uint32 = 0b0011011
	OpStore   uint32 = 0b0100011
	OpAMO     uint32 = 0b0101111
	OpOp      uint32 = 0b0110011
	OpLui     uint32 = 0b0110111
	OpOp32    uint32 = 0b0111011
	OpBranch  uint32 = 0b1100011
	OpJalr    uint32 = 0b1100111
	OpJal     uint32 = 0b1101111
	OpSystem  uint32 = 0b1110011
)

// Group is the instruction family selected by the opcode.
type Group uint8

const (
	GroupInvalid Group = iota
	GroupLui
	GroupAuipc
	GroupJal
	GroupJalr
	GroupBranch
	GroupLoad
	GroupStore
	GroupOpImm
	GroupOp
	GroupOpImm32
	GroupOp32
	GroupMiscMem
	GroupSystem
	GroupAMO

	groupCount
)

var groupNames = [groupCount]string{
	GroupInvalid: "invalid",
	GroupLui:     "lui",
	GroupAuipc:   "auipc",
	GroupJal:     "jal",
	GroupJalr:    "jalr",
	GroupBranch:  "branch",
	GroupLoad:    "load",
	GroupStore:   "store",
	GroupOpImm:   "op-imm",
	GroupOp:      "op",
	GroupOpImm32: "op-imm-32",
	GroupOp32:    "op-32",
	GroupMiscMem: "misc-mem",
	GroupSystem:  "system",
	GroupAMO:     "amo",
}

func (g Group) String() string {
	if g >= groupCount {
		return "invalid"
	}
	return groupNames[g]
}

var opcodeGroups = [128]Group{
	OpLui:     GroupLui,
	OpAuipc:   GroupAuipc,
	OpJal:     GroupJal,
	OpJalr:    GroupJalr,
	OpBranch:  GroupBranch,
	OpLoad:    GroupLoad,
	OpStore:   GroupStore,
	OpOpImm:   GroupOpImm,
	OpOp:      GroupOp,
	OpOpImm32: GroupOpImm32,
	OpOp32:    GroupOp32,
	OpMiscMem: GroupMiscMem,
	OpSystem:  GroupSystem,
	OpAMO:     GroupAMO,
}

// Insn is a raw 32-bit instruction word.
type Insn uint32

// Group returns the instruction family for the opcode.
func (i Insn) Group() Group { return opcodeGroups[i.Opcode()] }

func (i Insn) Opcode() uint32 { return uint32(i) & 0x7f }
func (i Insn) Rd() uint32     { return (uint32(i) >> 7) & 0x1f }
func (i Insn) Funct3() uint32 { return (uint32(i) >> 12) & 0x7 }
func (i Insn) Rs1() uint32    { return (uint32(i) >> 15) & 0x1f }
func (i Insn) Rs2() uint32    { return (uint32(i) >> 20) & 0x1f }
func (i Insn) Funct7() uint32 { return uint32(i) >> 25 }

// CSR returns the 12-bit CSR address of a Zicsr instruction.
func (i Insn) CSR() uint16 { return uint16(uint32(i) >> 20) }

// ImmI extracts the I-type immediate (sign-extended)
func (i Insn) ImmI() int64 {
	return int64(int32(i)) >> 20
}

// ImmS extracts the S-type immediate (sign-extended)
func (i Insn) ImmS() int64 {
	return (int64(int32(i))>>25)<<5 | int64((uint32(i)>>7)&0x1f)
}

// ImmB extracts the B-type immediate (sign-extended)
func (i Insn) ImmB() int64 {
	v := uint32(i)
	imm := ((v >> 31) & 1) << 12
	imm |= ((v >> 7) & 1) << 11
	imm |= ((v >> 25) & 0x3f) << 5
	imm |= ((v >> 8) & 0xf) << 1
	return signExtend(uint64(imm), 13)
}

// ImmU extracts the U-type immediate (sign-extended)
func (i Insn) ImmU() int64 {
	return int64(int32(uint32(i) & 0xfffff000))
}

// ImmJ extracts the J-type immediate (sign-extended)
func (i Insn) ImmJ() int64 {
	v := uint32(i)
	imm := ((v >> 31) & 1) << 20
	imm |= ((v >> 12) & 0xff) << 12
	imm |= ((v >> 20) & 1) << 11
	imm |= ((v >> 21) & 0x3ff) << 1
	return signExtend(uint64(imm), 21)
}

// Shamt is the shift amount of a 64-bit shift (6 bits).
func (i Insn) Shamt() uint64 { return uint64((uint32(i) >> 20) & 0x3f) }

// ShamtW is the shift amount of a 32-bit W-form shift (5 bits).
func (i Insn) ShamtW() uint64 { return uint64((uint32(i) >> 20) & 0x1f) }
