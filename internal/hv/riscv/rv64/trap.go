package rv64

// interruptPriority is the order in which pending interrupts are taken.
var interruptPriority = [...]struct {
	bit  uint64
	code uint64
}{
	{MipMEIP, IntMExternal},
	{MipMSIP, IntMSoftware},
	{MipMTIP, IntMTimer},
	{MipSEIP, IntSExternal},
	{MipSSIP, IntSSoftware},
	{MipSTIP, IntSTimer},
}

// IsFatal reports whether an exception cause ends the session once delivered.
func IsFatal(cause uint64) bool {
	switch cause {
	case CauseInsnAddrMisaligned,
		CauseInsnAccessFault,
		CauseLoadAccessFault,
		CauseStoreAddrMisaligned,
		CauseStoreAccessFault:
		return true
	}
	return false
}

// interruptsEnabled reports the global interrupt enable of the current mode.
// User mode can always be interrupted.
func (cpu *CPU) interruptsEnabled() bool {
	switch cpu.Priv {
	case PrivMachine:
		return cpu.CSR[CSRMstatus]&MstatusMIE != 0
	case PrivSupervisor:
		return cpu.CSR[CSRSstatus]&MstatusSIE != 0
	default:
		return true
	}
}

// selectInterrupt picks the highest priority interrupt that is both pending
// and enabled, clears its pending bit and records it in cpu.Interrupt.
// timer reports whether the CLINT comparator is currently firing.
func (cpu *CPU) selectInterrupt(timer bool) (uint64, bool) {
	cpu.Interrupt = NoInterrupt

	mip := cpu.CSR[CSRMip]
	if timer {
		mip |= MipMTIP
	}
	pending := cpu.CSR[CSRMie] & mip
	if pending == 0 {
		return 0, false
	}

	for _, p := range interruptPriority {
		if pending&p.bit != 0 {
			cpu.CSR[CSRMip] &^= p.bit
			cpu.Interrupt = p.code
			return p.code, true
		}
	}
	return 0, false
}

// TakeTrap delivers a trap. For exceptions the saved pc is the trapping
// instruction (cpu.PC - 4). Interrupts do not follow that rule: they are
// taken between instructions, so the saved pc is cpu.PC, the instruction
// that has not run yet, and xRET resumes there instead of re-executing the
// one before it.
// Traps from U or S mode whose cause is delegated (medeleg for exceptions,
// mideleg for interrupts) are handled in S mode.
func (cpu *CPU) TakeTrap(cause uint64, interrupt bool) {
	epc := cpu.PC - 4
	mcause := cause
	deleg := cpu.CSR[CSRMedeleg]
	if interrupt {
		epc = cpu.PC
		mcause |= InterruptBit
		deleg = cpu.CSR[CSRMideleg]
	}
	cpu.TrapCause = mcause
	prev := cpu.Priv

	if prev <= PrivSupervisor && cause < 64 && deleg&(1<<cause) != 0 {
		cpu.Priv = PrivSupervisor
		cpu.PC = trapVector(cpu.CSR[CSRStvec], cause, interrupt)
		cpu.CSR[CSRSepc] = epc
		cpu.CSR[CSRScause] = mcause
		cpu.CSR[CSRStval] = 0

		status := cpu.CSR[CSRSstatus]
		if status&MstatusSIE != 0 {
			status |= MstatusSPIE
		} else {
			status &^= MstatusSPIE
		}
		status &^= MstatusSIE
		if prev == PrivSupervisor {
			status |= MstatusSPP
		} else {
			status &^= MstatusSPP
		}
		cpu.CSR[CSRSstatus] = status
		return
	}

	cpu.Priv = PrivMachine
	cpu.PC = trapVector(cpu.CSR[CSRMtvec], cause, interrupt)
	cpu.CSR[CSRMepc] = epc
	cpu.CSR[CSRMcause] = mcause
	cpu.CSR[CSRMtval] = 0

	status := cpu.CSR[CSRMstatus]
	if status&MstatusMIE != 0 {
		status |= MstatusMPIE
	} else {
		status &^= MstatusMPIE
	}
	status &^= MstatusMIE
	status = (status &^ MstatusMPP) | uint64(prev)<<MstatusMPPShift
	cpu.CSR[CSRMstatus] = status
}

// trapVector computes the handler address. Only interrupts in vectored mode
// (low bit set) are offset by 4*cause.
func trapVector(tvec, cause uint64, interrupt bool) uint64 {
	base := tvec &^ 1
	if tvec&1 != 0 && interrupt {
		return base + 4*cause
	}
	return base
}

func (cpu *CPU) mret() error {
	if cpu.Priv < PrivMachine {
		return Exception(CauseIllegalInsn, insnMret)
	}
	status := cpu.CSR[CSRMstatus]
	cpu.PC = cpu.CSR[CSRMepc]

	switch (status & MstatusMPP) >> MstatusMPPShift {
	case uint64(PrivMachine):
		cpu.Priv = PrivMachine
	case uint64(PrivSupervisor):
		cpu.Priv = PrivSupervisor
	default:
		cpu.Priv = PrivUser
	}

	if status&MstatusMPIE != 0 {
		status |= MstatusMIE
	} else {
		status &^= MstatusMIE
	}
	status |= MstatusMPIE
	status &^= MstatusMPP
	cpu.CSR[CSRMstatus] = status
	return nil
}

func (cpu *CPU) sret() error {
	if cpu.Priv < PrivSupervisor {
		return Exception(CauseIllegalInsn, insnSret)
	}
	status := cpu.CSR[CSRSstatus]
	cpu.PC = cpu.CSR[CSRSepc]

	if status&MstatusSPP != 0 {
		cpu.Priv = PrivSupervisor
	} else {
		cpu.Priv = PrivUser
	}

	if status&MstatusSPIE != 0 {
		status |= MstatusSIE
	} else {
		status &^= MstatusSIE
	}
	status |= MstatusSPIE
	status &^= MstatusSPP
	cpu.CSR[CSRSstatus] = status
	return nil
}
