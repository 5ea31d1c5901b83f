// Package rv64 implements a single-hart RV64IMA machine: decoder, execution
// engine, privileged architecture with Sv39 translation, and a small
// memory-mapped device set (CLINT, PLIC, 16550 UART, legacy VirtIO block).
package rv64

import (
	"encoding/binary"
	"fmt"
)

// Physical memory map.
const (
	CLINTBase  uint64 = 0x0200_0000 // Core Local Interruptor
	CLINTSize  uint64 = 0x0001_0000
	PLICBase   uint64 = 0x0c00_0000 // Platform Level Interrupt Controller
	PLICSize   uint64 = 0x0400_0000
	UARTBase   uint64 = 0x1000_0000 // 16550 console
	UARTSize   uint64 = 0x0000_0100
	VirtIOBase uint64 = 0x1000_1000 // legacy virtio-mmio block device
	VirtIOSize uint64 = 0x0000_1000
	RAMBase    uint64 = 0x8000_0000 // RAM starts at 2GB

	DefaultRAMSize uint64 = 128 << 20
)

// PLIC interrupt sources
const (
	VirtIOIRQ = 1
	UARTIRQ   = 10
)

// Privilege levels
const (
	PrivUser       uint8 = 0
	PrivSupervisor uint8 = 1
	PrivMachine    uint8 = 3
)

// misa extension letters.
const (
	MisaA uint64 = 1 << 0  // Atomic
	MisaI uint64 = 1 << 8  // RV64I base
	MisaM uint64 = 1 << 12 // Multiply/Divide
	MisaS uint64 = 1 << 18 // Supervisor mode
	MisaU uint64 = 1 << 20 // User mode

	MXL64 uint64 = 2
)

// mstatus/sstatus bits
const (
	MstatusSIE  uint64 = 1 << 1
	MstatusMIE  uint64 = 1 << 3
	MstatusSPIE uint64 = 1 << 5
	MstatusMPIE uint64 = 1 << 7
	MstatusSPP  uint64 = 1 << 8
	MstatusMPP  uint64 = 3 << 11

	MstatusSPPShift = 8
	MstatusMPPShift = 11
)

// Interrupt pending and enable bits, shared by mip and mie.
const (
	MipSSIP uint64 = 1 << 1  // Supervisor software interrupt pending
	MipMSIP uint64 = 1 << 3  // Machine software interrupt pending
	MipSTIP uint64 = 1 << 5  // Supervisor timer interrupt pending
	MipMTIP uint64 = 1 << 7  // Machine timer interrupt pending
	MipSEIP uint64 = 1 << 9  // Supervisor external interrupt pending
	MipMEIP uint64 = 1 << 11 // Machine external interrupt pending
)

// Exception causes
const (
	CauseInsnAddrMisaligned  uint64 = 0
	CauseInsnAccessFault     uint64 = 1
	CauseIllegalInsn         uint64 = 2
	CauseBreakpoint          uint64 = 3
	CauseLoadAddrMisaligned  uint64 = 4
	CauseLoadAccessFault     uint64 = 5
	CauseStoreAddrMisaligned uint64 = 6
	CauseStoreAccessFault    uint64 = 7
	CauseEcallFromU          uint64 = 8
	CauseEcallFromS          uint64 = 9
	CauseEcallFromM          uint64 = 11
	CauseInsnPageFault       uint64 = 12
	CauseLoadPageFault       uint64 = 13
	CauseStorePageFault      uint64 = 15
)

// Interrupt codes. The cause CSR gets InterruptBit ORed in.
const (
	InterruptBit uint64 = 1 << 63

	IntUSoftware uint64 = 0
	IntSSoftware uint64 = 1
	IntMSoftware uint64 = 3
	IntUTimer    uint64 = 4
	IntSTimer    uint64 = 5
	IntMTimer    uint64 = 7
	IntUExternal uint64 = 8
	IntSExternal uint64 = 9
	IntMExternal uint64 = 11
)

// NoInterrupt is the selector value when no interrupt is pending.
const NoInterrupt = ^uint64(0)

// CSR numbers.
const (
	CSRSstatus  uint16 = 0x100
	CSRSie      uint16 = 0x104
	CSRStvec    uint16 = 0x105
	CSRSscratch uint16 = 0x140
	CSRSepc     uint16 = 0x141
	CSRScause   uint16 = 0x142
	CSRStval    uint16 = 0x143
	CSRSip      uint16 = 0x144
	CSRSatp     uint16 = 0x180
	CSRMstatus  uint16 = 0x300
	CSRMisa     uint16 = 0x301
	CSRMedeleg  uint16 = 0x302
	CSRMideleg  uint16 = 0x303
	CSRMie      uint16 = 0x304
	CSRMtvec    uint16 = 0x305
	CSRMscratch uint16 = 0x340
	CSRMepc     uint16 = 0x341
	CSRMcause   uint16 = 0x342
	CSRMtval    uint16 = 0x343
	CSRMip      uint16 = 0x344
	CSRMhartid  uint16 = 0xF14

	csrCount = 4096
)

// CPU is the state of the single hart.
type CPU struct {
	// x0..x31
	X [32]uint64

	// Program counter. During Execute it already points past the
	// instruction being executed.
	PC uint64

	// privilege mode of the hart
	Priv uint8

	// CSR bank, indexed by CSR address
	CSR [csrCount]uint64

	// TrapCause is the cause of the most recently delivered trap.
	TrapCause uint64

	// Interrupt is the interrupt code picked by the last selection, or
	// NoInterrupt.
	Interrupt uint64

	// Derived from satp on every write
	Paging    bool
	PageTable uint64

	// LR/SC reservation
	Reservation      uint64
	ReservationValid bool

	Bus *Bus
}

// NewCPU creates a hart in its reset state, attached to bus.
func NewCPU(bus *Bus) *CPU {
	cpu := &CPU{Bus: bus}
	cpu.Reset()
	return cpu
}

// Reset puts the hart back into machine mode at RAMBase with paging off and
// the stack pointer at the top of RAM.
func (cpu *CPU) Reset() {
	cpu.X = [32]uint64{}
	cpu.CSR = [csrCount]uint64{}
	cpu.PC = RAMBase
	cpu.Priv = PrivMachine
	cpu.TrapCause = 0
	cpu.Interrupt = NoInterrupt
	cpu.Paging = false
	cpu.PageTable = 0
	cpu.ReservationValid = false
	cpu.CSR[CSRMisa] = (MXL64 << 62) | MisaI | MisaM | MisaA | MisaS | MisaU
	if cpu.Bus != nil {
		cpu.X[2] = RAMBase + cpu.Bus.DRAM.Size()
	}
}

// ReadReg returns x[reg]. x0 reads as zero.
func (cpu *CPU) ReadReg(reg uint32) uint64 {
	if reg == 0 {
		return 0
	}
	return cpu.X[reg]
}

// WriteReg sets x[reg]. Writes to x0 are dropped.
func (cpu *CPU) WriteReg(reg uint32, val uint64) {
	if reg != 0 {
		cpu.X[reg] = val
	}
}

// Guest memory is little-endian.
var cpuEndian = binary.LittleEndian

// signExtend treats the low bits of val as a signed field.
func signExtend(val uint64, bits int) int64 {
	shift := 64 - bits
	return int64(val<<shift) >> shift
}

// ExceptionError is a synchronous exception raised while executing an
// instruction.
type ExceptionError struct {
	Cause uint64
	Tval  uint64
}

func (e ExceptionError) Error() string {
	return fmt.Sprintf("exception: %s (cause=%d) tval=0x%x", CauseName(e.Cause), e.Cause, e.Tval)
}

// Exception returns an ExceptionError for cause.
func Exception(cause uint64, tval uint64) error {
	return ExceptionError{Cause: cause, Tval: tval}
}
