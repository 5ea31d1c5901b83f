package rv64

import (
	"math/bits"
)

type execFunc func(cpu *CPU, insn Insn) error

// groupHandlers is indexed by Group. A nil entry is an illegal instruction.
var groupHandlers = [groupCount]execFunc{
	GroupLui:     (*CPU).execLui,
	GroupAuipc:   (*CPU).execAuipc,
	GroupJal:     (*CPU).execJal,
	GroupJalr:    (*CPU).execJalr,
	GroupBranch:  (*CPU).execBranch,
	GroupLoad:    (*CPU).execLoad,
	GroupStore:   (*CPU).execStore,
	GroupOpImm:   (*CPU).execOpImm,
	GroupOp:      (*CPU).execOp,
	GroupOpImm32: (*CPU).execOpImm32,
	GroupOp32:    (*CPU).execOp32,
	GroupMiscMem: (*CPU).execMiscMem,
	GroupSystem:  (*CPU).execSystem,
	GroupAMO:     (*CPU).execAMO,
}

// Execute runs one instruction. cpu.PC must already point at the following
// instruction. A returned ExceptionError means the instruction trapped and
// left no architectural side effects; any other error is a host failure.
func (cpu *CPU) Execute(insn Insn) error {
	var err error
	if h := groupHandlers[insn.Group()]; h != nil {
		err = h(cpu, insn)
	} else {
		err = illegal(insn)
	}
	cpu.X[0] = 0
	return err
}

func illegal(insn Insn) error {
	return Exception(CauseIllegalInsn, uint64(insn))
}

// insnPC returns the address of the instruction being executed.
func (cpu *CPU) insnPC() uint64 { return cpu.PC - 4 }

// jump moves the PC to target, raising a misaligned-fetch exception for
// targets that are not 4-byte aligned.
func (cpu *CPU) jump(target uint64) error {
	if target&3 != 0 {
		return Exception(CauseInsnAddrMisaligned, target)
	}
	cpu.PC = target
	return nil
}

func (cpu *CPU) execLui(insn Insn) error {
	cpu.WriteReg(insn.Rd(), uint64(insn.ImmU()))
	return nil
}

func (cpu *CPU) execAuipc(insn Insn) error {
	cpu.WriteReg(insn.Rd(), cpu.insnPC()+uint64(insn.ImmU()))
	return nil
}

func (cpu *CPU) execJal(insn Insn) error {
	link := cpu.PC
	if err := cpu.jump(cpu.insnPC() + uint64(insn.ImmJ())); err != nil {
		return err
	}
	cpu.WriteReg(insn.Rd(), link)
	return nil
}

func (cpu *CPU) execJalr(insn Insn) error {
	if insn.Funct3() != 0 {
		return illegal(insn)
	}
	link := cpu.PC
	target := (cpu.ReadReg(insn.Rs1()) + uint64(insn.ImmI())) &^ 1
	if err := cpu.jump(target); err != nil {
		return err
	}
	cpu.WriteReg(insn.Rd(), link)
	return nil
}

func (cpu *CPU) execBranch(insn Insn) error {
	r1 := cpu.ReadReg(insn.Rs1())
	r2 := cpu.ReadReg(insn.Rs2())

	var taken bool
	switch insn.Funct3() {
	case 0b000: // BEQ
		taken = r1 == r2
	case 0b001: // BNE
		taken = r1 != r2
	case 0b100: // BLT
		taken = int64(r1) < int64(r2)
	case 0b101: // BGE
		taken = int64(r1) >= int64(r2)
	case 0b110: // BLTU
		taken = r1 < r2
	case 0b111: // BGEU
		taken = r1 >= r2
	default:
		return illegal(insn)
	}

	if taken {
		return cpu.jump(cpu.insnPC() + uint64(insn.ImmB()))
	}
	return nil
}

func (cpu *CPU) execLoad(insn Insn) error {
	addr := cpu.ReadReg(insn.Rs1()) + uint64(insn.ImmI())

	var (
		size   int
		signed bool
	)
	switch insn.Funct3() {
	case 0b000: // LB
		size, signed = 8, true
	case 0b001: // LH
		size, signed = 16, true
	case 0b010: // LW
		size, signed = 32, true
	case 0b011: // LD
		size = 64
	case 0b100: // LBU
		size = 8
	case 0b101: // LHU
		size = 16
	case 0b110: // LWU
		size = 32
	default:
		return illegal(insn)
	}

	val, err := cpu.load(addr, size)
	if err != nil {
		return err
	}
	if signed {
		val = uint64(signExtend(val, size))
	}
	cpu.WriteReg(insn.Rd(), val)
	return nil
}

func (cpu *CPU) execStore(insn Insn) error {
	addr := cpu.ReadReg(insn.Rs1()) + uint64(insn.ImmS())
	val := cpu.ReadReg(insn.Rs2())

	var size int
	switch insn.Funct3() {
	case 0b000: // SB
		size = 8
	case 0b001: // SH
		size = 16
	case 0b010: // SW
		size = 32
	case 0b011: // SD
		size = 64
	default:
		return illegal(insn)
	}
	return cpu.store(addr, size, val)
}

func (cpu *CPU) execOpImm(insn Insn) error {
	r1 := cpu.ReadReg(insn.Rs1())
	imm := insn.ImmI()

	var val uint64
	switch insn.Funct3() {
	case 0b000: // ADDI
		val = r1 + uint64(imm)
	case 0b010: // SLTI
		if int64(r1) < imm {
			val = 1
		}
	case 0b011: // SLTIU
		if r1 < uint64(imm) {
			val = 1
		}
	case 0b100: // XORI
		val = r1 ^ uint64(imm)
	case 0b110: // ORI
		val = r1 | uint64(imm)
	case 0b111: // ANDI
		val = r1 & uint64(imm)
	case 0b001: // SLLI
		if insn.Funct7()>>1 != 0 {
			return illegal(insn)
		}
		val = r1 << insn.Shamt()
	case 0b101:
		switch insn.Funct7() >> 1 {
		case 0b000000: // SRLI
			val = r1 >> insn.Shamt()
		case 0b010000: // SRAI
			val = uint64(int64(r1) >> insn.Shamt())
		default:
			return illegal(insn)
		}
	}

	cpu.WriteReg(insn.Rd(), val)
	return nil
}

func (cpu *CPU) execOpImm32(insn Insn) error {
	r1 := uint32(cpu.ReadReg(insn.Rs1()))

	var val int32
	switch insn.Funct3() {
	case 0b000: // ADDIW
		val = int32(r1 + uint32(insn.ImmI()))
	case 0b001: // SLLIW
		if insn.Funct7()>>1 != 0 {
			return illegal(insn)
		}
		val = int32(r1 << insn.ShamtW())
	case 0b101:
		// Bit 25 belongs to the 6-bit shift field and is masked off.
		switch insn.Funct7() >> 1 {
		case 0b000000: // SRLIW
			val = int32(r1 >> insn.ShamtW())
		case 0b010000: // SRAIW
			val = int32(r1) >> insn.ShamtW()
		default:
			return illegal(insn)
		}
	default:
		return illegal(insn)
	}

	cpu.WriteReg(insn.Rd(), uint64(int64(val)))
	return nil
}

func (cpu *CPU) execOp(insn Insn) error {
	r1 := cpu.ReadReg(insn.Rs1())
	r2 := cpu.ReadReg(insn.Rs2())

	if insn.Funct7() == 0b0000001 {
		return cpu.execOpM(insn, r1, r2)
	}

	var val uint64
	switch insn.Funct7()<<3 | insn.Funct3() {
	case 0b0000000_000: // ADD
		val = r1 + r2
	case 0b0100000_000: // SUB
		val = r1 - r2
	case 0b0000000_001: // SLL
		val = r1 << (r2 & 0x3f)
	case 0b0000000_010: // SLT
		if int64(r1) < int64(r2) {
			val = 1
		}
	case 0b0000000_011: // SLTU
		if r1 < r2 {
			val = 1
		}
	case 0b0000000_100: // XOR
		val = r1 ^ r2
	case 0b0000000_101: // SRL
		val = r1 >> (r2 & 0x3f)
	case 0b0100000_101: // SRA
		val = uint64(int64(r1) >> (r2 & 0x3f))
	case 0b0000000_110: // OR
		val = r1 | r2
	case 0b0000000_111: // AND
		val = r1 & r2
	default:
		return illegal(insn)
	}

	cpu.WriteReg(insn.Rd(), val)
	return nil
}

// M extension operations
func (cpu *CPU) execOpM(insn Insn, r1, r2 uint64) error {
	var val uint64

	switch insn.Funct3() {
	case 0b000: // MUL
		val = r1 * r2
	case 0b001: // MULH
		val = mulh64(int64(r1), int64(r2))
	case 0b010: // MULHSU
		val = mulhsu64(int64(r1), r2)
	case 0b011: // MULHU
		val, _ = bits.Mul64(r1, r2)
	case 0b100: // DIV
		switch {
		case r2 == 0:
			val = ^uint64(0)
		case r1 == 1<<63 && r2 == ^uint64(0):
			val = r1 // overflow
		default:
			val = uint64(int64(r1) / int64(r2))
		}
	case 0b101: // DIVU
		if r2 == 0 {
			val = ^uint64(0)
		} else {
			val = r1 / r2
		}
	case 0b110: // REM
		switch {
		case r2 == 0:
			val = r1
		case r1 == 1<<63 && r2 == ^uint64(0):
			val = 0 // overflow
		default:
			val = uint64(int64(r1) % int64(r2))
		}
	case 0b111: // REMU
		if r2 == 0 {
			val = r1
		} else {
			val = r1 % r2
		}
	}

	cpu.WriteReg(insn.Rd(), val)
	return nil
}

// mulh64 returns the high 64 bits of the signed 128-bit product.
func mulh64(a, b int64) uint64 {
	hi, _ := bits.Mul64(uint64(a), uint64(b))
	if a < 0 {
		hi -= uint64(b)
	}
	if b < 0 {
		hi -= uint64(a)
	}
	return hi
}

// mulhsu64 returns the high 64 bits of signed a times unsigned b.
func mulhsu64(a int64, b uint64) uint64 {
	hi, _ := bits.Mul64(uint64(a), b)
	if a < 0 {
		hi -= b
	}
	return hi
}

func (cpu *CPU) execOp32(insn Insn) error {
	r1 := uint32(cpu.ReadReg(insn.Rs1()))
	r2 := uint32(cpu.ReadReg(insn.Rs2()))

	if insn.Funct7() == 0b0000001 {
		return cpu.execOp32M(insn, r1, r2)
	}

	var val int32
	switch insn.Funct7()<<3 | insn.Funct3() {
	case 0b0000000_000: // ADDW
		val = int32(r1 + r2)
	case 0b0100000_000: // SUBW
		val = int32(r1 - r2)
	case 0b0000000_001: // SLLW
		val = int32(r1 << (r2 & 0x1f))
	case 0b0000000_101: // SRLW
		val = int32(r1 >> (r2 & 0x1f))
	case 0b0100000_101: // SRAW
		val = int32(r1) >> (r2 & 0x1f)
	default:
		return illegal(insn)
	}

	cpu.WriteReg(insn.Rd(), uint64(int64(val)))
	return nil
}

func (cpu *CPU) execOp32M(insn Insn, r1, r2 uint32) error {
	var val int32

	switch insn.Funct3() {
	case 0b000: // MULW
		val = int32(r1 * r2)
	case 0b100: // DIVW
		switch {
		case r2 == 0:
			val = -1
		case int32(r1) == -1<<31 && int32(r2) == -1:
			val = int32(r1)
		default:
			val = int32(r1) / int32(r2)
		}
	case 0b101: // DIVUW
		if r2 == 0 {
			val = -1
		} else {
			val = int32(r1 / r2)
		}
	case 0b110: // REMW
		switch {
		case r2 == 0:
			val = int32(r1)
		case int32(r1) == -1<<31 && int32(r2) == -1:
			val = 0
		default:
			val = int32(r1) % int32(r2)
		}
	case 0b111: // REMUW
		if r2 == 0 {
			val = int32(r1)
		} else {
			val = int32(r1 % r2)
		}
	default:
		return illegal(insn)
	}

	cpu.WriteReg(insn.Rd(), uint64(int64(val)))
	return nil
}

// FENCE and FENCE.I are no-ops on a single in-order hart.
func (cpu *CPU) execMiscMem(insn Insn) error {
	switch insn.Funct3() {
	case 0b000, 0b001:
		return nil
	default:
		return illegal(insn)
	}
}

// System instruction encodings with funct3 == 0
const (
	insnEcall  = 0x00000073
	insnEbreak = 0x00100073
	insnSret   = 0x10200073
	insnMret   = 0x30200073
	insnWfi    = 0x10500073

	funct7SfenceVMA = 0b0001001
)

func (cpu *CPU) execSystem(insn Insn) error {
	if insn.Funct3() == 0 {
		switch uint32(insn) {
		case insnEcall:
			return cpu.ecall()
		case insnEbreak:
			return Exception(CauseBreakpoint, cpu.insnPC())
		case insnSret:
			return cpu.sret()
		case insnMret:
			return cpu.mret()
		case insnWfi:
			return nil
		}
		if insn.Funct7() == funct7SfenceVMA && insn.Rd() == 0 {
			// No TLB; every access walks the live page table.
			return nil
		}
		return illegal(insn)
	}
	return cpu.execCSR(insn)
}

func (cpu *CPU) ecall() error {
	switch cpu.Priv {
	case PrivUser:
		return Exception(CauseEcallFromU, 0)
	case PrivSupervisor:
		return Exception(CauseEcallFromS, 0)
	default:
		return Exception(CauseEcallFromM, 0)
	}
}

// execCSR implements CSRRW/CSRRS/CSRRC and their immediate forms. The old
// value is read before the CSR is modified.
func (cpu *CPU) execCSR(insn Insn) error {
	f3 := insn.Funct3()
	if f3 == 0b100 {
		return illegal(insn)
	}

	addr := insn.CSR()
	var src uint64
	if f3&0b100 != 0 {
		src = uint64(insn.Rs1()) // zimm
	} else {
		src = cpu.ReadReg(insn.Rs1())
	}

	old := cpu.ReadCSR(addr)
	switch f3 & 0b011 {
	case 0b01: // CSRRW
		cpu.WriteCSR(addr, src)
	case 0b10: // CSRRS
		if insn.Rs1() != 0 {
			cpu.WriteCSR(addr, old|src)
		}
	case 0b11: // CSRRC
		if insn.Rs1() != 0 {
			cpu.WriteCSR(addr, old&^src)
		}
	}

	cpu.WriteReg(insn.Rd(), old)
	return nil
}
