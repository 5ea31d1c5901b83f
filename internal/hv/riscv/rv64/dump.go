package rv64

import (
	"fmt"
	"strings"
)

var abiNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

var exceptionNames = map[uint64]string{
	CauseInsnAddrMisaligned:  "instruction address misaligned",
	CauseInsnAccessFault:     "instruction access fault",
	CauseIllegalInsn:         "illegal instruction",
	CauseBreakpoint:          "breakpoint",
	CauseLoadAddrMisaligned:  "load address misaligned",
	CauseLoadAccessFault:     "load access fault",
	CauseStoreAddrMisaligned: "store/AMO address misaligned",
	CauseStoreAccessFault:    "store/AMO access fault",
	CauseEcallFromU:          "environment call from U-mode",
	CauseEcallFromS:          "environment call from S-mode",
	CauseEcallFromM:          "environment call from M-mode",
	CauseInsnPageFault:       "instruction page fault",
	CauseLoadPageFault:       "load page fault",
	CauseStorePageFault:      "store/AMO page fault",
}

var interruptNames = map[uint64]string{
	IntUSoftware: "user software interrupt",
	IntSSoftware: "supervisor software interrupt",
	IntMSoftware: "machine software interrupt",
	IntUTimer:    "user timer interrupt",
	IntSTimer:    "supervisor timer interrupt",
	IntMTimer:    "machine timer interrupt",
	IntUExternal: "user external interrupt",
	IntSExternal: "supervisor external interrupt",
	IntMExternal: "machine external interrupt",
}

// CauseName returns a readable name for an mcause/scause value.
func CauseName(cause uint64) string {
	if cause&InterruptBit != 0 {
		if name, ok := interruptNames[cause&^InterruptBit]; ok {
			return name
		}
		return fmt.Sprintf("interrupt %d", cause&^InterruptBit)
	}
	if name, ok := exceptionNames[cause]; ok {
		return name
	}
	return fmt.Sprintf("exception %d", cause)
}

// PrivName returns the single-letter name of a privilege level.
func PrivName(priv uint8) string {
	switch priv {
	case PrivUser:
		return "U"
	case PrivSupervisor:
		return "S"
	case PrivMachine:
		return "M"
	}
	return fmt.Sprintf("?%d", priv)
}

// DumpRegisters formats pc, privilege and the integer registers, four per
// line.
func (cpu *CPU) DumpRegisters() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pc=0x%016x priv=%s\n", cpu.PC, PrivName(cpu.Priv))
	for i := 0; i < 32; i += 4 {
		for j := i; j < i+4; j++ {
			if j > i {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "x%-2d(%-4s)=0x%016x", j, abiNames[j], cpu.X[j])
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

var dumpedCSRs = []struct {
	name string
	addr uint16
}{
	{"mstatus", CSRMstatus},
	{"mtvec", CSRMtvec},
	{"mepc", CSRMepc},
	{"mcause", CSRMcause},
	{"mtval", CSRMtval},
	{"mie", CSRMie},
	{"mip", CSRMip},
	{"medeleg", CSRMedeleg},
	{"mideleg", CSRMideleg},
	{"sstatus", CSRSstatus},
	{"stvec", CSRStvec},
	{"sepc", CSRSepc},
	{"scause", CSRScause},
	{"stval", CSRStval},
	{"sie", CSRSie},
	{"sip", CSRSip},
	{"satp", CSRSatp},
}

// DumpCSRs formats the trap-related CSRs, three per line.
func (cpu *CPU) DumpCSRs() string {
	var sb strings.Builder
	for i, c := range dumpedCSRs {
		fmt.Fprintf(&sb, "%-8s=0x%016x", c.name, cpu.ReadCSR(c.addr))
		if i%3 == 2 || i == len(dumpedCSRs)-1 {
			sb.WriteByte('\n')
		} else {
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}
