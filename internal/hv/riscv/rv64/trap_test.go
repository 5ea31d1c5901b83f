package rv64

import (
	"testing"
)

func TestVectoredInterrupt(t *testing.T) {
	m := newTestMachine(t, []uint32{addi(0, 0, 0)})
	cpu := m.CPU
	cpu.CSR[CSRMtvec] = (RAMBase + 0x100) | 1
	cpu.CSR[CSRMie] = MipMTIP
	cpu.CSR[CSRMstatus] = MstatusMIE

	// mtime (0) >= mtimecmp (0) so the timer fires immediately.
	if err := m.Step(); err != nil {
		t.Fatal(err)
	}

	if cpu.PC != RAMBase+0x100+4*IntMTimer {
		t.Errorf("pc = %#x, want %#x", cpu.PC, RAMBase+0x100+4*IntMTimer)
	}
	if cpu.CSR[CSRMcause] != InterruptBit|IntMTimer {
		t.Errorf("mcause = %#x", cpu.CSR[CSRMcause])
	}
	if cpu.CSR[CSRMepc] != RAMBase+4 {
		t.Errorf("mepc = %#x, want next instruction", cpu.CSR[CSRMepc])
	}
	status := cpu.CSR[CSRMstatus]
	if status&MstatusMIE != 0 || status&MstatusMPIE == 0 {
		t.Errorf("mstatus = %#x: MIE should move to MPIE", status)
	}
	if (status&MstatusMPP)>>MstatusMPPShift != uint64(PrivMachine) {
		t.Errorf("mstatus.MPP = %d", (status&MstatusMPP)>>MstatusMPPShift)
	}
	if cpu.Interrupt != IntMTimer {
		t.Errorf("selected interrupt = %d", cpu.Interrupt)
	}
}

func TestTrapVector(t *testing.T) {
	tests := []struct {
		name      string
		tvec      uint64
		cause     uint64
		interrupt bool
		want      uint64
	}{
		{"direct exception", 0x80000100, CauseIllegalInsn, false, 0x80000100},
		{"direct interrupt", 0x80000100, IntSExternal, true, 0x80000100},
		{"vectored exception uses base", 0x80000101, CauseEcallFromM, false, 0x80000100},
		{"vectored interrupt", 0x80000101, IntSExternal, true, 0x80000100 + 36},
		{"vectored timer", 0x80000101, IntMTimer, true, 0x80000100 + 28},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trapVector(tt.tvec, tt.cause, tt.interrupt); got != tt.want {
				t.Errorf("got %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestExceptionDelegation(t *testing.T) {
	m := newTestMachine(t, []uint32{insnEcall})
	cpu := m.CPU
	cpu.Priv = PrivUser
	cpu.CSR[CSRMedeleg] = 1 << CauseEcallFromU
	cpu.CSR[CSRStvec] = RAMBase + 0x200
	cpu.CSR[CSRMtvec] = RAMBase + 0x300

	if err := m.Step(); err != nil {
		t.Fatal(err)
	}

	if cpu.Priv != PrivSupervisor {
		t.Fatalf("priv = %s, want S", PrivName(cpu.Priv))
	}
	if cpu.PC != RAMBase+0x200 {
		t.Errorf("pc = %#x, want stvec", cpu.PC)
	}
	if cpu.CSR[CSRSepc] != RAMBase {
		t.Errorf("sepc = %#x, want trapping instruction", cpu.CSR[CSRSepc])
	}
	if cpu.CSR[CSRScause] != CauseEcallFromU {
		t.Errorf("scause = %d", cpu.CSR[CSRScause])
	}
	if cpu.CSR[CSRSstatus]&MstatusSPP != 0 {
		t.Errorf("sstatus.SPP set for a trap from U")
	}
	if cpu.CSR[CSRMcause] != 0 || cpu.CSR[CSRMepc] != 0 {
		t.Errorf("machine trap CSRs touched by delegated trap")
	}
}

func TestDelegationIgnoredInMachineMode(t *testing.T) {
	m := newTestMachine(t, []uint32{insnEcall})
	cpu := m.CPU
	cpu.CSR[CSRMedeleg] = ^uint64(0)
	cpu.CSR[CSRMtvec] = RAMBase + 0x300

	if err := m.Step(); err != nil {
		t.Fatal(err)
	}
	if cpu.Priv != PrivMachine || cpu.PC != RAMBase+0x300 {
		t.Errorf("priv=%s pc=%#x", PrivName(cpu.Priv), cpu.PC)
	}
	if cpu.CSR[CSRMcause] != CauseEcallFromM {
		t.Errorf("mcause = %d", cpu.CSR[CSRMcause])
	}
	if cpu.TrapCause != CauseEcallFromM {
		t.Errorf("trap cause = %d", cpu.TrapCause)
	}
}

func TestSupervisorTrapStatus(t *testing.T) {
	cpu := newTestCPU(t)
	cpu.Priv = PrivSupervisor
	cpu.PC = RAMBase + 0x44
	cpu.CSR[CSRMedeleg] = 1 << CauseBreakpoint
	cpu.CSR[CSRStvec] = RAMBase + 0x800
	cpu.CSR[CSRSstatus] = MstatusSIE

	cpu.TakeTrap(CauseBreakpoint, false)

	status := cpu.CSR[CSRSstatus]
	if status&MstatusSIE != 0 || status&MstatusSPIE == 0 || status&MstatusSPP == 0 {
		t.Errorf("sstatus = %#x", status)
	}
	if cpu.CSR[CSRSepc] != RAMBase+0x40 {
		t.Errorf("sepc = %#x", cpu.CSR[CSRSepc])
	}
	if cpu.CSR[CSRStval] != 0 {
		t.Errorf("stval = %#x", cpu.CSR[CSRStval])
	}
}

func TestMachineTrapFromSupervisor(t *testing.T) {
	cpu := newTestCPU(t)
	cpu.Priv = PrivSupervisor
	cpu.PC = RAMBase + 8
	cpu.CSR[CSRMtvec] = RAMBase + 0x400

	cpu.TakeTrap(CauseIllegalInsn, false)

	if cpu.Priv != PrivMachine || cpu.PC != RAMBase+0x400 {
		t.Fatalf("priv=%s pc=%#x", PrivName(cpu.Priv), cpu.PC)
	}
	if mpp := (cpu.CSR[CSRMstatus] & MstatusMPP) >> MstatusMPPShift; mpp != uint64(PrivSupervisor) {
		t.Errorf("mstatus.MPP = %d", mpp)
	}
	if cpu.CSR[CSRMstatus]&MstatusMPIE != 0 {
		t.Errorf("MPIE set although MIE was clear")
	}
}

func TestReturnFromTrap(t *testing.T) {
	cpu := newTestCPU(t)

	cpu.CSR[CSRMepc] = RAMBase + 0x1000
	cpu.CSR[CSRMstatus] = uint64(PrivSupervisor)<<MstatusMPPShift | MstatusMPIE
	if err := execOne(t, cpu, insnMret); err != nil {
		t.Fatal(err)
	}
	if cpu.Priv != PrivSupervisor || cpu.PC != RAMBase+0x1000 {
		t.Fatalf("mret: priv=%s pc=%#x", PrivName(cpu.Priv), cpu.PC)
	}
	status := cpu.CSR[CSRMstatus]
	if status&MstatusMIE == 0 || status&MstatusMPIE == 0 || status&MstatusMPP != 0 {
		t.Errorf("mret: mstatus = %#x", status)
	}

	cpu.CSR[CSRSepc] = RAMBase + 0x2000
	cpu.CSR[CSRSstatus] = MstatusSIE
	if err := execOne(t, cpu, insnSret); err != nil {
		t.Fatal(err)
	}
	if cpu.Priv != PrivUser || cpu.PC != RAMBase+0x2000 {
		t.Fatalf("sret: priv=%s pc=%#x", PrivName(cpu.Priv), cpu.PC)
	}
	status = cpu.CSR[CSRSstatus]
	if status&MstatusSIE != 0 || status&MstatusSPIE == 0 {
		t.Errorf("sret: sstatus = %#x", status)
	}

	// sret from U is illegal
	expectCause(t, execOne(t, cpu, insnSret), CauseIllegalInsn)
}

func TestInterruptPriority(t *testing.T) {
	cpu := newTestCPU(t)
	all := MipMEIP | MipMSIP | MipMTIP | MipSEIP | MipSSIP | MipSTIP
	cpu.CSR[CSRMie] = all
	cpu.CSR[CSRMip] = all

	want := []uint64{IntMExternal, IntMSoftware, IntMTimer, IntSExternal, IntSSoftware, IntSTimer}
	for i, code := range want {
		got, ok := cpu.selectInterrupt(false)
		if !ok || got != code {
			t.Fatalf("selection %d: got %d (%v), want %d", i, got, ok, code)
		}
	}
	if _, ok := cpu.selectInterrupt(false); ok {
		t.Errorf("interrupt selected after all pending bits were consumed")
	}
	if cpu.CSR[CSRMip] != 0 {
		t.Errorf("mip = %#x", cpu.CSR[CSRMip])
	}
	if cpu.Interrupt != NoInterrupt {
		t.Errorf("interrupt = %d, want none", cpu.Interrupt)
	}
}

func TestInterruptMaskedByMie(t *testing.T) {
	cpu := newTestCPU(t)
	cpu.CSR[CSRMip] = MipSSIP
	cpu.CSR[CSRMie] = MipMTIP
	if _, ok := cpu.selectInterrupt(false); ok {
		t.Errorf("disabled interrupt selected")
	}
	if cpu.CSR[CSRMip] != MipSSIP {
		t.Errorf("pending bit cleared without delivery")
	}
}

func TestInterruptsDisabled(t *testing.T) {
	m := newTestMachine(t, []uint32{addi(0, 0, 0)})
	cpu := m.CPU
	cpu.CSR[CSRMie] = MipMTIP // timer is pending from reset, MIE clear
	cpu.CSR[CSRMtvec] = RAMBase + 0x100

	if err := m.Step(); err != nil {
		t.Fatal(err)
	}
	if cpu.PC != RAMBase+4 {
		t.Errorf("interrupt taken with mstatus.MIE clear: pc=%#x", cpu.PC)
	}
	if cpu.Interrupt != NoInterrupt {
		t.Errorf("interrupt = %d", cpu.Interrupt)
	}

	// User mode is always interruptible.
	cpu.Priv = PrivUser
	if _, ok := m.checkInterrupt(); !ok {
		t.Errorf("user mode not interruptible")
	}
}

func TestTimerInterruptAfterTicks(t *testing.T) {
	nops := make([]uint32, 8)
	for i := range nops {
		nops[i] = addi(0, 0, 0)
	}
	m := newTestMachine(t, nops, WithTimerTick(true))
	cpu := m.CPU
	cpu.CSR[CSRMie] = MipMTIP
	cpu.CSR[CSRMstatus] = MstatusMIE
	cpu.CSR[CSRMtvec] = RAMBase + 0x100
	if err := m.Bus.Store(CLINTBase+CLINTMtimecmp, 64, 3); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := m.Step(); err != nil {
			t.Fatal(err)
		}
	}
	if cpu.PC != RAMBase+8 {
		t.Fatalf("timer fired early: pc=%#x", cpu.PC)
	}
	if err := m.Step(); err != nil {
		t.Fatal(err)
	}
	if cpu.PC != RAMBase+0x100 || cpu.CSR[CSRMepc] != RAMBase+12 {
		t.Errorf("pc=%#x mepc=%#x", cpu.PC, cpu.CSR[CSRMepc])
	}
	mtime, err := m.Bus.Load(CLINTBase+CLINTMtime, 64)
	if err != nil || mtime != 3 {
		t.Errorf("mtime = %d (%v)", mtime, err)
	}
}

func TestExternalInterruptFromUART(t *testing.T) {
	m := newTestMachine(t, []uint32{addi(0, 0, 0)})
	cpu := m.CPU
	cpu.CSR[CSRMie] = MipSEIP
	cpu.CSR[CSRMstatus] = MstatusMIE
	cpu.CSR[CSRMtvec] = RAMBase + 0x100

	if !m.UART.Deliver('x') {
		t.Fatal("deliver failed")
	}
	if err := m.Step(); err != nil {
		t.Fatal(err)
	}

	if cpu.CSR[CSRMcause] != InterruptBit|IntSExternal {
		t.Fatalf("mcause = %#x", cpu.CSR[CSRMcause])
	}
	claim, err := m.Bus.Load(PLICBase+PLICSClaim, 32)
	if err != nil || claim != UARTIRQ {
		t.Fatalf("claim = %d (%v)", claim, err)
	}
	pending, _ := m.Bus.Load(PLICBase+PLICPending, 32)
	if pending&(1<<UARTIRQ) == 0 {
		t.Errorf("pending = %#x", pending)
	}

	// Completing the claim clears the pending bit.
	if err := m.Bus.Store(PLICBase+PLICSClaim, 32, UARTIRQ); err != nil {
		t.Fatal(err)
	}
	pending, _ = m.Bus.Load(PLICBase+PLICPending, 32)
	if pending&(1<<UARTIRQ) != 0 {
		t.Errorf("pending after complete = %#x", pending)
	}

	// The byte is waiting in RHR.
	b, err := m.Bus.Load(UARTBase+UARTRegRHR, 8)
	if err != nil || b != 'x' {
		t.Errorf("rhr = %q (%v)", rune(b), err)
	}
}

func TestDelegatedInterrupt(t *testing.T) {
	m := newTestMachine(t, []uint32{addi(0, 0, 0)})
	cpu := m.CPU
	cpu.Priv = PrivSupervisor
	cpu.CSR[CSRMideleg] = MipSEIP
	cpu.CSR[CSRMie] = MipSEIP
	cpu.CSR[CSRSstatus] = MstatusSIE
	cpu.CSR[CSRStvec] = RAMBase + 0x200
	cpu.CSR[CSRMip] = MipSEIP

	if err := m.Step(); err != nil {
		t.Fatal(err)
	}
	if cpu.Priv != PrivSupervisor || cpu.PC != RAMBase+0x200 {
		t.Fatalf("priv=%s pc=%#x", PrivName(cpu.Priv), cpu.PC)
	}
	if cpu.CSR[CSRScause] != InterruptBit|IntSExternal {
		t.Errorf("scause = %#x", cpu.CSR[CSRScause])
	}
	if cpu.CSR[CSRSepc] != RAMBase+4 {
		t.Errorf("sepc = %#x", cpu.CSR[CSRSepc])
	}
}

func TestIsFatal(t *testing.T) {
	fatal := map[uint64]bool{
		CauseInsnAddrMisaligned:  true,
		CauseInsnAccessFault:     true,
		CauseLoadAccessFault:     true,
		CauseStoreAddrMisaligned: true,
		CauseStoreAccessFault:    true,
	}
	for cause := uint64(0); cause < 16; cause++ {
		if IsFatal(cause) != fatal[cause] {
			t.Errorf("IsFatal(%s) = %v", CauseName(cause), IsFatal(cause))
		}
	}
}
