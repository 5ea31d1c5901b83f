package rv64

// CLINT register offsets
const (
	CLINTMtimecmp = 0x4000 // Machine Timer Compare
	CLINTMtime    = 0xbff8 // Machine Time
)

// CLINT implements the Core Local Interruptor timer. It only honours
// 64-bit accesses.
type CLINT struct {
	mtime    uint64
	mtimecmp uint64
}

// NewCLINT creates a new CLINT
func NewCLINT() *CLINT {
	return &CLINT{}
}

// Size implements Device
func (c *CLINT) Size() uint64 {
	return CLINTSize
}

// Load implements Device
func (c *CLINT) Load(offset uint64, size int) (uint64, error) {
	if size != 64 {
		return 0, sizeError("clint load", offset, size)
	}
	switch offset {
	case CLINTMtimecmp:
		return c.mtimecmp, nil
	case CLINTMtime:
		return c.mtime, nil
	}
	return 0, nil
}

// Store implements Device
func (c *CLINT) Store(offset uint64, size int, value uint64) error {
	if size != 64 {
		return sizeError("clint store", offset, size)
	}
	switch offset {
	case CLINTMtimecmp:
		c.mtimecmp = value
	case CLINTMtime:
		c.mtime = value
	}
	return nil
}

// Tick advances mtime by one.
func (c *CLINT) Tick() {
	c.mtime++
}

// TimerPending reports whether the machine timer interrupt is asserted.
func (c *CLINT) TimerPending() bool {
	return c.mtime >= c.mtimecmp
}

var _ Device = (*CLINT)(nil)
