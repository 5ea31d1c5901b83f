package rv64

// Page table entry bits
const (
	PteV uint64 = 1 << 0 // Valid
	PteR uint64 = 1 << 1 // Readable
	PteW uint64 = 1 << 2 // Writable
	PteX uint64 = 1 << 3 // Executable
	PteU uint64 = 1 << 4 // User accessible
	PteG uint64 = 1 << 5 // Global
	PteA uint64 = 1 << 6 // Accessed
	PteD uint64 = 1 << 7 // Dirty

	pteFlagBits = 10
	ptePPNMask  = 1<<44 - 1
)

const (
	PageSize   uint64 = 4096
	PageShift         = 12
	sv39Levels        = 3
	vpnBits           = 9
	vpnMask    uint64 = 1<<vpnBits - 1
	pteSize    uint64 = 8
)

// AccessType selects the permission checked and the page fault raised.
type AccessType int

const (
	AccessInstruction AccessType = iota
	AccessLoad
	AccessStore
)

func (a AccessType) String() string {
	switch a {
	case AccessInstruction:
		return "fetch"
	case AccessLoad:
		return "load"
	default:
		return "store"
	}
}

// Translate maps a virtual address to a physical one. With paging off the
// address is returned unchanged. Page table entries are read straight from
// the bus.
func (cpu *CPU) Translate(addr uint64, access AccessType) (uint64, error) {
	if !cpu.Paging {
		return addr, nil
	}

	var vpn [sv39Levels]uint64
	for i := range vpn {
		vpn[i] = (addr >> (PageShift + vpnBits*i)) & vpnMask
	}

	table := cpu.PageTable
	level := sv39Levels - 1
	var pte uint64
	for {
		var err error
		pte, err = cpu.Bus.Load(table+vpn[level]*pteSize, 64)
		if err != nil {
			return 0, accessFault(access, addr)
		}
		if pte&PteV == 0 || (pte&PteR == 0 && pte&PteW != 0) {
			return 0, pageFault(access, addr)
		}
		if pte&(PteR|PteX) != 0 {
			break
		}
		level--
		if level < 0 {
			return 0, pageFault(access, addr)
		}
		table = ((pte >> pteFlagBits) & ptePPNMask) * PageSize
	}

	if !permitted(pte, access) {
		return 0, pageFault(access, addr)
	}

	ppn := (pte >> pteFlagBits) & ptePPNMask
	// A superpage must be aligned to its own size.
	low := uint64(1)<<(vpnBits*level) - 1
	if ppn&low != 0 {
		return 0, pageFault(access, addr)
	}

	offset := addr & (1<<(PageShift+vpnBits*level) - 1)
	return (ppn&^low)<<PageShift | offset, nil
}

func permitted(pte uint64, access AccessType) bool {
	switch access {
	case AccessInstruction:
		return pte&PteX != 0
	case AccessLoad:
		return pte&PteR != 0
	default:
		return pte&PteW != 0
	}
}

func pageFault(access AccessType, addr uint64) error {
	switch access {
	case AccessInstruction:
		return Exception(CauseInsnPageFault, addr)
	case AccessLoad:
		return Exception(CauseLoadPageFault, addr)
	default:
		return Exception(CauseStorePageFault, addr)
	}
}

func accessFault(access AccessType, addr uint64) error {
	switch access {
	case AccessInstruction:
		return Exception(CauseInsnAccessFault, addr)
	case AccessLoad:
		return Exception(CauseLoadAccessFault, addr)
	default:
		return Exception(CauseStoreAccessFault, addr)
	}
}

// load reads size bits at a virtual address.
func (cpu *CPU) load(addr uint64, size int) (uint64, error) {
	paddr, err := cpu.Translate(addr, AccessLoad)
	if err != nil {
		return 0, err
	}
	val, err := cpu.Bus.Load(paddr, size)
	if err != nil {
		return 0, accessFault(AccessLoad, addr)
	}
	return val, nil
}

// store writes size bits at a virtual address.
func (cpu *CPU) store(addr uint64, size int, val uint64) error {
	paddr, err := cpu.Translate(addr, AccessStore)
	if err != nil {
		return err
	}
	if err := cpu.Bus.Store(paddr, size, val); err != nil {
		return accessFault(AccessStore, addr)
	}
	if cpu.ReservationValid && cpu.Reservation == addr {
		cpu.ReservationValid = false
	}
	return nil
}

// Fetch reads the instruction word at a virtual address.
func (cpu *CPU) Fetch(addr uint64) (Insn, error) {
	paddr, err := cpu.Translate(addr, AccessInstruction)
	if err != nil {
		return 0, err
	}
	val, err := cpu.Bus.Load(paddr, 32)
	if err != nil {
		return 0, accessFault(AccessInstruction, addr)
	}
	return Insn(val), nil
}
