package rv64

import (
	"fmt"
)

// Legacy virtio-mmio register offsets
const (
	VirtIORegMagic          = 0x000
	VirtIORegVersion        = 0x004
	VirtIORegDeviceID       = 0x008
	VirtIORegVendorID       = 0x00c
	VirtIORegDeviceFeatures = 0x010
	VirtIORegDriverFeatures = 0x020
	VirtIORegGuestPageSize  = 0x028
	VirtIORegQueueSel       = 0x030
	VirtIORegQueueNumMax    = 0x034
	VirtIORegQueueNum       = 0x038
	VirtIORegQueuePFN       = 0x040
	VirtIORegQueueNotify    = 0x050
	VirtIORegStatus         = 0x070
)

const (
	VirtIOMagic    = 0x74726976 // "virt"
	VirtIOVersion  = 1          // legacy interface
	VirtIOBlockID  = 2
	VirtIOVendorID = 0x554d4551 // "QEMU"

	// VirtIONotifyIdle is the queue-notify value meaning no kick is pending.
	VirtIONotifyIdle = 9999

	VirtQueueSize = 8
	SectorSize    = 512

	DefaultDiskSize = 2 << 20
)

// Descriptor layout
const (
	virtqDescSize     = 16
	virtqDescAddr     = 0
	virtqDescLen      = 8
	virtqDescFlags    = 12
	virtqDescNext     = 14
	virtqDescFNext    = 1
	virtqDescFWrite   = 2
	virtqUsedElemSize = 8
	blkHeaderSector   = 8
)

// VirtIO is a legacy virtio-mmio block device with a single request queue.
type VirtIO struct {
	id             uint64
	driverFeatures uint32
	pageSize       uint32
	queueSel       uint32
	queueNum       uint32
	queuePFN       uint32
	queueNotify    uint32
	status         uint32

	disk []byte
}

// NewVirtIO creates a block device backed by a zeroed disk of diskSize
// bytes.
func NewVirtIO(diskSize uint64) *VirtIO {
	return &VirtIO{
		queueNotify: VirtIONotifyIdle,
		disk:        make([]byte, diskSize),
	}
}

// Size implements Device
func (v *VirtIO) Size() uint64 {
	return VirtIOSize
}

// Disk returns the backing disk bytes.
func (v *VirtIO) Disk() []byte { return v.disk }

// SetDisk copies image into the start of the disk, growing the disk if the
// image is larger.
func (v *VirtIO) SetDisk(image []byte) {
	if len(image) > len(v.disk) {
		v.disk = make([]byte, len(image))
	}
	copy(v.disk, image)
}

// Load implements Device
func (v *VirtIO) Load(offset uint64, size int) (uint64, error) {
	if size != 32 {
		return 0, sizeError("virtio load", offset, size)
	}
	var val uint32
	switch offset {
	case VirtIORegMagic:
		val = VirtIOMagic
	case VirtIORegVersion:
		val = VirtIOVersion
	case VirtIORegDeviceID:
		val = VirtIOBlockID
	case VirtIORegVendorID:
		val = VirtIOVendorID
	case VirtIORegDeviceFeatures:
		val = 0
	case VirtIORegDriverFeatures:
		val = v.driverFeatures
	case VirtIORegGuestPageSize:
		val = v.pageSize
	case VirtIORegQueueSel:
		val = v.queueSel
	case VirtIORegQueueNumMax:
		val = VirtQueueSize
	case VirtIORegQueueNum:
		val = v.queueNum
	case VirtIORegQueuePFN:
		val = v.queuePFN
	case VirtIORegQueueNotify:
		val = v.queueNotify
	case VirtIORegStatus:
		val = v.status
	}
	return uint64(val), nil
}

// Store implements Device
func (v *VirtIO) Store(offset uint64, size int, value uint64) error {
	if size != 32 {
		return sizeError("virtio store", offset, size)
	}
	val := uint32(value)
	switch offset {
	case VirtIORegDriverFeatures:
		v.driverFeatures = val
	case VirtIORegGuestPageSize:
		v.pageSize = val
	case VirtIORegQueueSel:
		v.queueSel = val
	case VirtIORegQueueNum:
		v.queueNum = val
	case VirtIORegQueuePFN:
		v.queuePFN = val
	case VirtIORegQueueNotify:
		v.queueNotify = val
	case VirtIORegStatus:
		v.status = val
	}
	return nil
}

// Interrupting reports and consumes a pending queue notification.
func (v *VirtIO) Interrupting() bool {
	if v.queueNotify == VirtIONotifyIdle {
		return false
	}
	v.queueNotify = VirtIONotifyIdle
	return true
}

func (v *VirtIO) guestPageSize() uint64 {
	if v.pageSize == 0 {
		return PageSize
	}
	return uint64(v.pageSize)
}

type virtqDesc struct {
	addr  uint64
	len   uint32
	flags uint16
	next  uint16
}

func readDesc(bus *Bus, table uint64, idx uint64) (virtqDesc, error) {
	base := table + (idx%VirtQueueSize)*virtqDescSize
	addr, err := bus.Load(base+virtqDescAddr, 64)
	if err != nil {
		return virtqDesc{}, err
	}
	length, err := bus.Load(base+virtqDescLen, 32)
	if err != nil {
		return virtqDesc{}, err
	}
	flags, err := bus.Load(base+virtqDescFlags, 16)
	if err != nil {
		return virtqDesc{}, err
	}
	next, err := bus.Load(base+virtqDescNext, 16)
	if err != nil {
		return virtqDesc{}, err
	}
	return virtqDesc{addr: addr, len: uint32(length), flags: uint16(flags), next: uint16(next)}, nil
}

// DiskAccess services the newest request in the available ring: a header
// descriptor holding the sector, chained to the data descriptor. Device-write
// data descriptors read from disk into guest memory; others write guest
// memory to disk. Completion goes to the used ring.
func (v *VirtIO) DiskAccess(bus *Bus) error {
	pageSize := v.guestPageSize()
	descTable := uint64(v.queuePFN) * pageSize
	avail := descTable + VirtQueueSize*virtqDescSize
	used := descTable + pageSize

	availIdx, err := bus.Load(avail+2, 16)
	if err != nil {
		return fmt.Errorf("read avail idx: %w", err)
	}
	slot := (uint16(availIdx) - 1) % VirtQueueSize
	head, err := bus.Load(avail+4+uint64(slot)*2, 16)
	if err != nil {
		return fmt.Errorf("read avail ring: %w", err)
	}

	hdr, err := readDesc(bus, descTable, head)
	if err != nil {
		return fmt.Errorf("read header descriptor: %w", err)
	}
	data, err := readDesc(bus, descTable, uint64(hdr.next))
	if err != nil {
		return fmt.Errorf("read data descriptor: %w", err)
	}
	sector, err := bus.Load(hdr.addr+blkHeaderSector, 64)
	if err != nil {
		return fmt.Errorf("read request sector: %w", err)
	}

	if err := v.transfer(bus, sector, data); err != nil {
		return err
	}

	// Optional status descriptor
	if data.flags&virtqDescFNext != 0 {
		status, err := readDesc(bus, descTable, uint64(data.next))
		if err != nil {
			return fmt.Errorf("read status descriptor: %w", err)
		}
		if err := bus.Store(status.addr, 8, 0); err != nil {
			return fmt.Errorf("write request status: %w", err)
		}
	}

	v.id++
	elem := used + 4 + ((v.id-1)%VirtQueueSize)*virtqUsedElemSize
	if err := bus.Store(elem, 32, head); err != nil {
		return fmt.Errorf("write used element: %w", err)
	}
	if err := bus.Store(elem+4, 32, uint64(data.len)); err != nil {
		return fmt.Errorf("write used element: %w", err)
	}
	if err := bus.Store(used+2, 16, v.id%VirtQueueSize); err != nil {
		return fmt.Errorf("write used idx: %w", err)
	}
	return nil
}

// transfer moves data.len bytes between the disk at sector and guest memory.
// The range is clipped to the disk.
func (v *VirtIO) transfer(bus *Bus, sector uint64, data virtqDesc) error {
	// Compare in sectors so a huge sector number cannot wrap the offset.
	sectors := (uint64(len(v.disk)) + SectorSize - 1) / SectorSize
	if sector >= sectors {
		return fmt.Errorf("sector %d beyond disk of %d bytes", sector, len(v.disk))
	}
	off := sector * SectorSize
	n := min(uint64(data.len), uint64(len(v.disk))-off)
	disk := v.disk[off : off+n]
	toGuest := data.flags&virtqDescFWrite != 0

	if data.addr >= RAMBase {
		if mem := bus.DRAM.Slice(data.addr-RAMBase, n); mem != nil {
			if toGuest {
				copy(mem, disk)
			} else {
				copy(disk, mem)
			}
			return nil
		}
	}

	for i := uint64(0); i < n; i++ {
		if toGuest {
			if err := bus.Store(data.addr+i, 8, uint64(disk[i])); err != nil {
				return fmt.Errorf("disk read into guest: %w", err)
			}
		} else {
			b, err := bus.Load(data.addr+i, 8)
			if err != nil {
				return fmt.Errorf("disk write from guest: %w", err)
			}
			disk[i] = byte(b)
		}
	}
	return nil
}

var _ Device = (*VirtIO)(nil)
