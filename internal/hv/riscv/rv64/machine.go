package rv64

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrStepLimit is returned by Run when the configured step limit is reached.
var ErrStepLimit = errors.New("step limit reached")

// FatalTrapError is returned by Step and Run after a fatal exception has
// been delivered. The hart state is left as it was after delivery.
type FatalTrapError struct {
	Cause uint64
	PC    uint64 // address of the faulting instruction
	Tval  uint64
}

func (e *FatalTrapError) Error() string {
	return fmt.Sprintf("fatal trap: %s (cause=%d) at pc=0x%x tval=0x%x", CauseName(e.Cause), e.Cause, e.PC, e.Tval)
}

// Machine is a complete single-hart system. It owns the hart, the bus and
// every device.
type Machine struct {
	CPU    *CPU
	Bus    *Bus
	CLINT  *CLINT
	PLIC   *PLIC
	UART   *UART
	VirtIO *VirtIO

	ramSize   uint64
	diskSize  uint64
	output    io.Writer
	log       *slog.Logger
	maxSteps  uint64
	timerTick bool

	steps uint64
}

// Option configures a Machine.
type Option func(*Machine)

// WithMemory sets the DRAM size in bytes.
func WithMemory(size uint64) Option {
	return func(m *Machine) {
		m.ramSize = size
	}
}

// WithDiskSize sets the initial block device size in bytes.
func WithDiskSize(size uint64) Option {
	return func(m *Machine) {
		m.diskSize = size
	}
}

// WithOutput sets the writer that receives console output.
func WithOutput(w io.Writer) Option {
	return func(m *Machine) {
		m.output = w
	}
}

// WithLogger sets the logger used for trap and device diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		m.log = l
	}
}

// WithMaxSteps bounds the number of steps Run executes. 0 means no limit.
func WithMaxSteps(n uint64) Option {
	return func(m *Machine) {
		m.maxSteps = n
	}
}

// WithTimerTick makes mtime advance by one on every step.
func WithTimerTick(enable bool) Option {
	return func(m *Machine) {
		m.timerTick = enable
	}
}

// NewMachine creates a machine in its reset state.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		ramSize:  DefaultRAMSize,
		diskSize: DefaultDiskSize,
		output:   io.Discard,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.Bus = NewBus(m.ramSize)
	m.CLINT = NewCLINT()
	m.PLIC = NewPLIC()
	m.UART = NewUART(m.output, m.log)
	m.VirtIO = NewVirtIO(m.diskSize)

	// Priority order matters: DRAM is the catch-all behind these.
	m.Bus.Map(CLINTBase, m.CLINT)
	m.Bus.Map(PLICBase, m.PLIC)
	m.Bus.Map(UARTBase, m.UART)
	m.Bus.Map(VirtIOBase, m.VirtIO)

	m.CPU = NewCPU(m.Bus)
	return m
}

// LoadProgram copies a program image to the start of DRAM.
func (m *Machine) LoadProgram(image []byte) error {
	if err := m.Bus.LoadBytes(RAMBase, image); err != nil {
		return fmt.Errorf("load program: %w", err)
	}
	return nil
}

// LoadDisk copies a disk image into the block device.
func (m *Machine) LoadDisk(image []byte) {
	m.VirtIO.SetDisk(image)
}

// Steps returns the number of steps executed so far.
func (m *Machine) Steps() uint64 {
	return m.steps
}

// Step runs one instruction: fetch, advance pc, execute, deliver any
// exception, then select and deliver an interrupt.
func (m *Machine) Step() error {
	cpu := m.CPU
	pc := cpu.PC

	insn, err := cpu.Fetch(pc)
	cpu.PC += 4
	if err == nil {
		err = cpu.Execute(insn)
	}
	m.steps++

	if err != nil {
		var exc ExceptionError
		if !errors.As(err, &exc) {
			return fmt.Errorf("step at pc=0x%x: %w", pc, err)
		}
		cpu.TakeTrap(exc.Cause, false)
		if IsFatal(exc.Cause) {
			m.log.Debug("fatal trap", "cause", CauseName(exc.Cause), "pc", hex(pc), "tval", hex(exc.Tval))
			return &FatalTrapError{Cause: exc.Cause, PC: pc, Tval: exc.Tval}
		}
		m.log.Debug("trap", "cause", CauseName(exc.Cause), "pc", hex(pc), "priv", cpu.Priv, "handler", hex(cpu.PC))
	}

	if m.timerTick {
		m.CLINT.Tick()
	}
	if code, ok := m.checkInterrupt(); ok {
		cpu.TakeTrap(code, true)
		m.log.Debug("interrupt", "cause", CauseName(code|InterruptBit), "priv", cpu.Priv, "handler", hex(cpu.PC))
	}
	return nil
}

// checkInterrupt polls the console and block device, routes their interrupt
// through the PLIC, then selects a pending interrupt.
func (m *Machine) checkInterrupt() (uint64, bool) {
	cpu := m.CPU
	if !cpu.interruptsEnabled() {
		cpu.Interrupt = NoInterrupt
		return 0, false
	}

	var irq uint32
	switch {
	case m.UART.Interrupting():
		irq = UARTIRQ
	case m.VirtIO.Interrupting():
		if err := m.VirtIO.DiskAccess(m.Bus); err != nil {
			m.log.Debug("virtio disk access", "error", err)
		}
		irq = VirtIOIRQ
	}
	if irq != 0 {
		m.PLIC.Raise(irq)
		cpu.CSR[CSRMip] |= MipSEIP
	}

	return cpu.selectInterrupt(m.CLINT.TimerPending())
}

// yieldAfter is the number of steps between context checks.
const yieldAfter = 4096

// Run steps the machine until a fatal trap, the step limit, or ctx is done.
func (m *Machine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := 0; i < yieldAfter; i++ {
			if m.maxSteps != 0 && m.steps >= m.maxSteps {
				return ErrStepLimit
			}
			if err := m.Step(); err != nil {
				return err
			}
		}
	}
}

// Close stops the console input producer.
func (m *Machine) Close() error {
	return m.UART.Close()
}

type hex uint64

func (h hex) String() string { return fmt.Sprintf("0x%x", uint64(h)) }
