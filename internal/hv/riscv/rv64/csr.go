package rv64

// satp fields
const (
	SatpModeSv39  uint64 = 8
	satpModeShift        = 60
	satpPPNMask   uint64 = 1<<44 - 1
)

// ReadCSR reads a CSR. sie is a view of mie restricted to the bits
// delegated through mideleg. Every other CSR is plain storage.
func (cpu *CPU) ReadCSR(addr uint16) uint64 {
	addr &= csrCount - 1
	switch addr {
	case CSRSie:
		return cpu.CSR[CSRMie] & cpu.CSR[CSRMideleg]
	default:
		return cpu.CSR[addr]
	}
}

// WriteCSR writes a CSR. Writing satp re-derives the paging state.
func (cpu *CPU) WriteCSR(addr uint16, val uint64) {
	addr &= csrCount - 1
	switch addr {
	case CSRSie:
		mask := cpu.CSR[CSRMideleg]
		cpu.CSR[CSRMie] = (cpu.CSR[CSRMie] &^ mask) | (val & mask)
	case CSRSatp:
		cpu.CSR[CSRSatp] = val
		cpu.updatePaging()
	default:
		cpu.CSR[addr] = val
	}
}

func (cpu *CPU) updatePaging() {
	satp := cpu.CSR[CSRSatp]
	cpu.PageTable = (satp & satpPPNMask) * PageSize
	cpu.Paging = satp>>satpModeShift == SatpModeSv39
}
