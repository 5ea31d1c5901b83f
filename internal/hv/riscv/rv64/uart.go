package rv64

import (
	"errors"
	"io"
	"log/slog"
	"sync"
)

// UART register offsets (16550 compatible)
const (
	UARTRegRHR = 0 // Receive Holding Register (read)
	UARTRegTHR = 0 // Transmit Holding Register (write)
	UARTRegIER = 1 // Interrupt Enable Register
	UARTRegFCR = 2 // FIFO Control Register
	UARTRegLCR = 3 // Line Control Register
	UARTRegMCR = 4 // Modem Control Register
	UARTRegLSR = 5 // Line Status Register
	UARTRegSCR = 7 // Scratch Register
)

// LSR bits
const (
	UARTLSRDataReady = 1 << 0 // Receive data ready
	UARTLSRTHREmpty  = 1 << 5 // Transmit holding register empty
)

// UART is a byte-wide 16550-style console. Input arrives from a producer
// goroutine through a one-byte mailbox: the producer waits until the guest
// has read the previous byte before delivering the next one.
type UART struct {
	out io.Writer
	log *slog.Logger

	mu           sync.Mutex
	cond         *sync.Cond
	regs         [UARTSize]uint8
	interrupting bool
	closed       bool
}

// NewUART creates a UART that writes transmitted bytes to out.
func NewUART(out io.Writer, log *slog.Logger) *UART {
	if out == nil {
		out = io.Discard
	}
	if log == nil {
		log = slog.Default()
	}
	u := &UART{out: out, log: log}
	u.cond = sync.NewCond(&u.mu)
	u.regs[UARTRegLSR] = UARTLSRTHREmpty
	return u
}

// Size implements Device
func (u *UART) Size() uint64 {
	return UARTSize
}

// Load implements Device. Reading RHR clears data-ready and releases the
// input producer.
func (u *UART) Load(offset uint64, size int) (uint64, error) {
	if size != 8 {
		return 0, sizeError("uart load", offset, size)
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	if offset == UARTRegRHR {
		u.regs[UARTRegLSR] &^= UARTLSRDataReady
		u.cond.Broadcast()
	}
	return uint64(u.regs[offset]), nil
}

// Store implements Device. Writing THR emits the byte and leaves the
// register file untouched.
func (u *UART) Store(offset uint64, size int, value uint64) error {
	if size != 8 {
		return sizeError("uart store", offset, size)
	}
	if offset == UARTRegTHR {
		if _, err := u.out.Write([]byte{byte(value)}); err != nil {
			u.log.Debug("uart output", "error", err)
		}
		return nil
	}

	u.mu.Lock()
	u.regs[offset] = byte(value)
	u.mu.Unlock()
	return nil
}

// Interrupting reports and clears the pending receive interrupt.
func (u *UART) Interrupting() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	pending := u.interrupting
	u.interrupting = false
	return pending
}

// Deliver places one input byte in the mailbox, blocking while the previous
// byte is still unread. It returns false once the UART is closed.
func (u *UART) Deliver(b byte) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	for u.regs[UARTRegLSR]&UARTLSRDataReady != 0 && !u.closed {
		u.cond.Wait()
	}
	if u.closed {
		return false
	}
	u.regs[UARTRegRHR] = b
	u.interrupting = true
	u.regs[UARTRegLSR] |= UARTLSRDataReady
	return true
}

// StartInput starts the producer goroutine reading from r. It stops on read
// error, EOF or Close.
func (u *UART) StartInput(r io.Reader) {
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := r.Read(buf)
			if n == 1 && !u.Deliver(buf[0]) {
				return
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					u.log.Debug("uart input stopped", "error", err)
				}
				return
			}
		}
	}()
}

// Close wakes and stops the input producer.
func (u *UART) Close() error {
	u.mu.Lock()
	u.closed = true
	u.cond.Broadcast()
	u.mu.Unlock()
	return nil
}

var _ Device = (*UART)(nil)
