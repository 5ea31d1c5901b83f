package rv64

// AMO funct5 values
const (
	amoAdd  = 0b00000
	amoSwap = 0b00001
	amoLR   = 0b00010
	amoSC   = 0b00011
	amoXor  = 0b00100
	amoOr   = 0b01000
	amoAnd  = 0b01100
	amoMin  = 0b10000
	amoMax  = 0b10100
	amoMinU = 0b11000
	amoMaxU = 0b11100
)

// execAMO executes LR/SC and the read-modify-write AMOs. The .W forms
// operate on the low 32 bits and sign-extend the loaded value.
func (cpu *CPU) execAMO(insn Insn) error {
	var size int
	switch insn.Funct3() {
	case 0b010:
		size = 32
	case 0b011:
		size = 64
	default:
		return illegal(insn)
	}

	f5 := insn.Funct7() >> 2
	switch f5 {
	case amoLR:
		if insn.Rs2() != 0 {
			return illegal(insn)
		}
	case amoSC, amoSwap, amoAdd, amoXor, amoAnd, amoOr, amoMin, amoMax, amoMinU, amoMaxU:
	default:
		return illegal(insn)
	}

	addr := cpu.ReadReg(insn.Rs1())
	src := cpu.ReadReg(insn.Rs2())
	if addr&uint64(size/8-1) != 0 {
		if f5 == amoLR {
			return Exception(CauseLoadAddrMisaligned, addr)
		}
		return Exception(CauseStoreAddrMisaligned, addr)
	}

	switch f5 {
	case amoLR:
		val, err := cpu.load(addr, size)
		if err != nil {
			return err
		}
		cpu.WriteReg(insn.Rd(), extendAMO(val, size))
		cpu.Reservation = addr
		cpu.ReservationValid = true
		return nil

	case amoSC:
		if !cpu.ReservationValid || cpu.Reservation != addr {
			cpu.ReservationValid = false
			cpu.WriteReg(insn.Rd(), 1) // failure
			return nil
		}
		if err := cpu.store(addr, size, src); err != nil {
			return err
		}
		cpu.ReservationValid = false
		cpu.WriteReg(insn.Rd(), 0)
		return nil
	}

	// Read-modify-write. Translate once for the store so a read-only page
	// faults before the load has any effect.
	if _, err := cpu.Translate(addr, AccessStore); err != nil {
		return err
	}
	raw, err := cpu.load(addr, size)
	if err != nil {
		return err
	}
	old := extendAMO(raw, size)
	if size == 32 {
		src = uint64(int64(int32(src)))
	}

	var val uint64
	switch f5 {
	case amoSwap:
		val = src
	case amoAdd:
		val = old + src
	case amoXor:
		val = old ^ src
	case amoAnd:
		val = old & src
	case amoOr:
		val = old | src
	case amoMin:
		val = old
		if int64(src) < int64(old) {
			val = src
		}
	case amoMax:
		val = old
		if int64(src) > int64(old) {
			val = src
		}
	case amoMinU:
		val = old
		if amoUnsigned(src, size) < amoUnsigned(old, size) {
			val = src
		}
	case amoMaxU:
		val = old
		if amoUnsigned(src, size) > amoUnsigned(old, size) {
			val = src
		}
	}

	if err := cpu.store(addr, size, val); err != nil {
		return err
	}
	cpu.WriteReg(insn.Rd(), old)
	return nil
}

func extendAMO(val uint64, size int) uint64 {
	if size == 32 {
		return uint64(int64(int32(val)))
	}
	return val
}

// amoUnsigned views a (sign-extended) operand as unsigned at the AMO width.
func amoUnsigned(val uint64, size int) uint64 {
	if size == 32 {
		return uint64(uint32(val))
	}
	return val
}
