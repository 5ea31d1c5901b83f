package rv64

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDevice is returned for a physical address that no region claims.
	ErrNoDevice = errors.New("no device at address")
	// ErrInvalidSize is returned for an access width a region does not honour.
	ErrInvalidSize = errors.New("unsupported access size")
)

// Device is a memory-mapped device. Offsets are relative to the device base
// and sizes are in bits (8, 16, 32 or 64).
type Device interface {
	Load(offset uint64, size int) (uint64, error)
	Store(offset uint64, size int, value uint64) error
	// Size returns the size of the device's address window
	Size() uint64
}

func sizeError(op string, offset uint64, size int) error {
	return fmt.Errorf("%s offset=0x%x size=%d: %w", op, offset, size, ErrInvalidSize)
}

// DRAM is the guest main memory.
type DRAM struct {
	data []byte
}

// NewDRAM creates a zeroed memory of the given size in bytes.
func NewDRAM(size uint64) *DRAM {
	return &DRAM{data: make([]byte, size)}
}

// Size implements Device
func (d *DRAM) Size() uint64 { return uint64(len(d.data)) }

func (d *DRAM) check(op string, offset uint64, size int) error {
	switch size {
	case 8, 16, 32, 64:
	default:
		return sizeError(op, offset, size)
	}
	n := uint64(size / 8)
	if offset >= uint64(len(d.data)) || n > uint64(len(d.data))-offset {
		return fmt.Errorf("dram %s out of bounds: offset=0x%x size=%d len=%d: %w", op, offset, size, len(d.data), ErrNoDevice)
	}
	return nil
}

// Load implements Device
func (d *DRAM) Load(offset uint64, size int) (uint64, error) {
	if err := d.check("load", offset, size); err != nil {
		return 0, err
	}
	switch size {
	case 8:
		return uint64(d.data[offset]), nil
	case 16:
		return uint64(cpuEndian.Uint16(d.data[offset:])), nil
	case 32:
		return uint64(cpuEndian.Uint32(d.data[offset:])), nil
	default:
		return cpuEndian.Uint64(d.data[offset:]), nil
	}
}

// Store implements Device
func (d *DRAM) Store(offset uint64, size int, value uint64) error {
	if err := d.check("store", offset, size); err != nil {
		return err
	}
	switch size {
	case 8:
		d.data[offset] = byte(value)
	case 16:
		cpuEndian.PutUint16(d.data[offset:], uint16(value))
	case 32:
		cpuEndian.PutUint32(d.data[offset:], uint32(value))
	default:
		cpuEndian.PutUint64(d.data[offset:], value)
	}
	return nil
}

// Slice returns the backing bytes for [offset, offset+length), or nil if the
// range is not fully inside DRAM.
func (d *DRAM) Slice(offset, length uint64) []byte {
	if offset > uint64(len(d.data)) || length > uint64(len(d.data))-offset {
		return nil
	}
	return d.data[offset : offset+length]
}

// WriteAt implements io.WriterAt for loading images
func (d *DRAM) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || uint64(off)+uint64(len(p)) > uint64(len(d.data)) {
		return 0, fmt.Errorf("dram write of %d bytes at 0x%x exceeds %d bytes of memory", len(p), off, len(d.data))
	}
	return copy(d.data[off:], p), nil
}

type mapping struct {
	base   uint64
	size   uint64
	device Device
}

// Bus routes physical addresses to devices in the order they were mapped,
// then to DRAM for any address at or above RAMBase.
type Bus struct {
	DRAM     *DRAM
	mappings []mapping
}

// NewBus creates a bus with ramSize bytes of DRAM at RAMBase.
func NewBus(ramSize uint64) *Bus {
	return &Bus{DRAM: NewDRAM(ramSize)}
}

// Map attaches dev at base. Earlier mappings take priority.
func (b *Bus) Map(base uint64, dev Device) {
	b.mappings = append(b.mappings, mapping{base: base, size: dev.Size(), device: dev})
}

func (b *Bus) find(addr uint64) (Device, uint64, bool) {
	for _, m := range b.mappings {
		if addr >= m.base && addr-m.base < m.size {
			return m.device, addr - m.base, true
		}
	}
	if addr >= RAMBase {
		return b.DRAM, addr - RAMBase, true
	}
	return nil, 0, false
}

// Load reads size bits from a physical address.
func (b *Bus) Load(addr uint64, size int) (uint64, error) {
	dev, off, ok := b.find(addr)
	if !ok {
		return 0, fmt.Errorf("load 0x%x: %w", addr, ErrNoDevice)
	}
	return dev.Load(off, size)
}

// Store writes size bits to a physical address.
func (b *Bus) Store(addr uint64, size int, value uint64) error {
	dev, off, ok := b.find(addr)
	if !ok {
		return fmt.Errorf("store 0x%x: %w", addr, ErrNoDevice)
	}
	return dev.Store(off, size, value)
}

// LoadBytes copies data into physical memory starting at addr.
func (b *Bus) LoadBytes(addr uint64, data []byte) error {
	if addr < RAMBase {
		return fmt.Errorf("load bytes at 0x%x: %w", addr, ErrNoDevice)
	}
	_, err := b.DRAM.WriteAt(data, int64(addr-RAMBase))
	return err
}

var _ Device = (*DRAM)(nil)
