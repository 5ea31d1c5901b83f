package rv64

// PLIC register offsets (hart 0 supervisor context)
const (
	PLICPending   = 0x001000 // Pending bits
	PLICSEnable   = 0x002080 // Supervisor enable bits
	PLICSPriority = 0x201000 // Supervisor priority threshold
	PLICSClaim    = 0x201004 // Supervisor claim/complete
)

// PLIC implements the supervisor view of the Platform Level Interrupt
// Controller. It only honours 32-bit accesses.
type PLIC struct {
	pending   uint32
	senable   uint32
	spriority uint32
	sclaim    uint32
}

// NewPLIC creates a new PLIC
func NewPLIC() *PLIC {
	return &PLIC{}
}

// Size implements Device
func (p *PLIC) Size() uint64 {
	return PLICSize
}

// Load implements Device
func (p *PLIC) Load(offset uint64, size int) (uint64, error) {
	if size != 32 {
		return 0, sizeError("plic load", offset, size)
	}
	switch offset {
	case PLICPending:
		return uint64(p.pending), nil
	case PLICSEnable:
		return uint64(p.senable), nil
	case PLICSPriority:
		return uint64(p.spriority), nil
	case PLICSClaim:
		return uint64(p.sclaim), nil
	}
	return 0, nil
}

// Store implements Device. Writing the claim register completes the named
// source and clears its pending bit.
func (p *PLIC) Store(offset uint64, size int, value uint64) error {
	if size != 32 {
		return sizeError("plic store", offset, size)
	}
	switch offset {
	case PLICPending:
		p.pending = uint32(value)
	case PLICSEnable:
		p.senable = uint32(value)
	case PLICSPriority:
		p.spriority = uint32(value)
	case PLICSClaim:
		p.sclaim = uint32(value)
		if value < 32 {
			p.pending &^= 1 << value
		}
	}
	return nil
}

// Raise marks irq pending and makes it the claimable source.
func (p *PLIC) Raise(irq uint32) {
	if irq < 32 {
		p.pending |= 1 << irq
	}
	p.sclaim = irq
}

var _ Device = (*PLIC)(nil)
