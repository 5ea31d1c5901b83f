package rv64

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/tinyrange/rvemu/internal/fdt"
)

func deviceTree(t *testing.T, m *Machine, bootargs string) []byte {
	t.Helper()
	blob, err := m.DeviceTree(bootargs)
	if err != nil {
		t.Fatalf("DeviceTree: %v", err)
	}
	return blob
}

func TestDeviceTreeHeader(t *testing.T) {
	m := newTestMachine(t, nil)
	blob := deviceTree(t, m, "console=ttyS0")

	if len(blob) < fdt.HeaderSize {
		t.Fatal("device tree too short")
	}
	be := binary.BigEndian
	if be.Uint32(blob[0:]) != fdt.Magic {
		t.Errorf("bad magic %#x", be.Uint32(blob[0:]))
	}
	if int(be.Uint32(blob[4:])) != len(blob) {
		t.Errorf("totalsize %d, blob is %d bytes", be.Uint32(blob[4:]), len(blob))
	}
	structOff := be.Uint32(blob[8:])
	stringsOff := be.Uint32(blob[12:])
	if structOff != fdt.HeaderSize+fdt.RsvmapSize || stringsOff <= structOff {
		t.Errorf("offsets: struct=%d strings=%d", structOff, stringsOff)
	}
	if structOff%4 != 0 || stringsOff%4 != 0 {
		t.Errorf("unaligned blocks")
	}
	if be.Uint32(blob[stringsOff-4:]) != fdt.TokenEnd {
		t.Errorf("structure block not terminated")
	}
	if be.Uint32(blob[structOff:]) != fdt.TokenBeginNode {
		t.Errorf("structure block does not start with the root node")
	}
}

func TestDeviceTreeContents(t *testing.T) {
	m := newTestMachine(t, nil)
	blob := deviceTree(t, m, "console=ttyS0 root=/dev/vda")

	for _, want := range []string{
		"console=ttyS0 root=/dev/vda",
		"memory@80000000",
		"clint@2000000",
		"plic@c000000",
		"serial@10000000",
		"virtio_mmio@10001000",
		"rv64ima_zicsr_zifencei",
		"riscv,sv39",
		"interrupts-extended",
	} {
		if !bytes.Contains(blob, []byte(want)) {
			t.Errorf("device tree missing %q", want)
		}
	}

	// Property names are interned once.
	if n := bytes.Count(blob, []byte("compatible\x00")); n != 1 {
		t.Errorf("\"compatible\" appears %d times", n)
	}

	// memory reg carries the DRAM size: 0x0 0x80000000 0x0 0x100000
	reg := binary.BigEndian.AppendUint64(nil, RAMBase)
	reg = binary.BigEndian.AppendUint64(reg, 1024*1024)
	if !bytes.Contains(blob, reg) {
		t.Errorf("memory reg property not found")
	}

	// the PLIC routes to the S and M external interrupt lines
	irqs := binary.BigEndian.AppendUint32(nil, phandleCPUIntc)
	irqs = binary.BigEndian.AppendUint32(irqs, uint32(IntSExternal))
	irqs = binary.BigEndian.AppendUint32(irqs, phandleCPUIntc)
	irqs = binary.BigEndian.AppendUint32(irqs, uint32(IntMExternal))
	if !bytes.Contains(blob, irqs) {
		t.Errorf("plic interrupts-extended not found")
	}
}
