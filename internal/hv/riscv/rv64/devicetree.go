package rv64

import (
	"fmt"

	"github.com/tinyrange/rvemu/internal/fdt"
)

// Interrupt controller phandles
const (
	phandleCPUIntc = 1
	phandlePLIC    = 2
)

// TimebaseFrequency is the nominal mtime rate advertised to the guest.
const TimebaseFrequency = 10_000_000

// DeviceTree returns a flattened device tree blob describing the machine's
// memory map and interrupt wiring.
func (m *Machine) DeviceTree(bootargs string) ([]byte, error) {
	cpu := fdt.Node{
		Name: "cpu@0",
		Properties: map[string]fdt.Property{
			"device_type": fdt.Strings("cpu"),
			"reg":         fdt.Cells(0),
			"status":      fdt.Strings("okay"),
			"compatible":  fdt.Strings("riscv"),
			"riscv,isa":   fdt.Strings("rv64ima_zicsr_zifencei"),
			"mmu-type":    fdt.Strings("riscv,sv39"),
		},
		Children: []fdt.Node{{
			Name: "interrupt-controller",
			Properties: map[string]fdt.Property{
				"#interrupt-cells":     fdt.Cells(1),
				"interrupt-controller": fdt.Empty(),
				"compatible":           fdt.Strings("riscv,cpu-intc"),
				"phandle":              fdt.Cells(phandleCPUIntc),
			},
		}},
	}

	clintIRQs := fdt.Cells(phandleCPUIntc, uint32(IntMSoftware), phandleCPUIntc, uint32(IntMTimer))
	plicIRQs := fdt.Cells(phandleCPUIntc, uint32(IntSExternal), phandleCPUIntc, uint32(IntMExternal))

	soc := fdt.Node{
		Name: "soc",
		Properties: map[string]fdt.Property{
			"#address-cells": fdt.Cells(2),
			"#size-cells":    fdt.Cells(2),
			"compatible":     fdt.Strings("simple-bus"),
			"ranges":         fdt.Empty(),
		},
		Children: []fdt.Node{
			{
				Name: fmt.Sprintf("clint@%x", CLINTBase),
				Properties: map[string]fdt.Property{
					"compatible":          fdt.Strings("sifive,clint0", "riscv,clint0"),
					"reg":                 fdt.Reg(CLINTBase, CLINTSize),
					"interrupts-extended": clintIRQs,
				},
			},
			{
				Name: fmt.Sprintf("plic@%x", PLICBase),
				Properties: map[string]fdt.Property{
					"compatible":           fdt.Strings("sifive,plic-1.0.0"),
					"#interrupt-cells":     fdt.Cells(1),
					"interrupt-controller": fdt.Empty(),
					"reg":                  fdt.Reg(PLICBase, PLICSize),
					"interrupts-extended":  plicIRQs,
					"riscv,ndev":           fdt.Cells(31),
					"phandle":              fdt.Cells(phandlePLIC),
				},
			},
			{
				Name: fmt.Sprintf("serial@%x", UARTBase),
				Properties: map[string]fdt.Property{
					"compatible":       fdt.Strings("ns16550a"),
					"reg":              fdt.Reg(UARTBase, UARTSize),
					"clock-frequency":  fdt.Cells(3686400),
					"interrupts":       fdt.Cells(UARTIRQ),
					"interrupt-parent": fdt.Cells(phandlePLIC),
				},
			},
			{
				Name: fmt.Sprintf("virtio_mmio@%x", VirtIOBase),
				Properties: map[string]fdt.Property{
					"compatible":       fdt.Strings("virtio,mmio"),
					"reg":              fdt.Reg(VirtIOBase, VirtIOSize),
					"interrupts":       fdt.Cells(VirtIOIRQ),
					"interrupt-parent": fdt.Cells(phandlePLIC),
				},
			},
		},
	}

	root := fdt.Node{
		Properties: map[string]fdt.Property{
			"#address-cells": fdt.Cells(2),
			"#size-cells":    fdt.Cells(2),
			"compatible":     fdt.Strings("riscv-virtio"),
			"model":          fdt.Strings("rvemu"),
		},
		Children: []fdt.Node{
			{
				Name: "chosen",
				Properties: map[string]fdt.Property{
					"bootargs":    fdt.Strings(bootargs),
					"stdout-path": fdt.Strings(fmt.Sprintf("/soc/serial@%x", UARTBase)),
				},
			},
			{
				Name: "cpus",
				Properties: map[string]fdt.Property{
					"#address-cells":     fdt.Cells(1),
					"#size-cells":        fdt.Cells(0),
					"timebase-frequency": fdt.Cells(TimebaseFrequency),
				},
				Children: []fdt.Node{cpu},
			},
			{
				Name: fmt.Sprintf("memory@%x", RAMBase),
				Properties: map[string]fdt.Property{
					"device_type": fdt.Strings("memory"),
					"reg":         fdt.Reg(RAMBase, m.Bus.DRAM.Size()),
				},
			},
			soc,
		},
	}

	blob, err := fdt.Build(root)
	if err != nil {
		return nil, fmt.Errorf("build device tree: %w", err)
	}
	return blob, nil
}
