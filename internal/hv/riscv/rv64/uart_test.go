package rv64

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"
)

func TestUARTTransmit(t *testing.T) {
	var out bytes.Buffer
	m := newTestMachine(t, []uint32{
		lui(10, 0x10000000), // a0 = UART base
		addi(11, 0, 0x41),   // a1 = 'A'
		sb(10, 11, 0),       // sb a1, 0(a0)
	}, WithOutput(&out))

	before := m.UART.regs
	for i := 0; i < 3; i++ {
		if err := m.Step(); err != nil {
			t.Fatal(err)
		}
	}
	if out.String() != "A" {
		t.Errorf("output = %q, want %q", out.String(), "A")
	}
	if m.UART.regs != before {
		t.Errorf("transmit modified the register file")
	}
}

func TestUARTReceive(t *testing.T) {
	u := NewUART(nil, nil)
	defer u.Close()

	if u.Interrupting() {
		t.Fatal("interrupt pending at reset")
	}
	if !u.Deliver('q') {
		t.Fatal("deliver failed")
	}
	lsr, _ := u.Load(UARTRegLSR, 8)
	if lsr&UARTLSRDataReady == 0 {
		t.Errorf("data ready not set: lsr=%#x", lsr)
	}
	if !u.Interrupting() {
		t.Errorf("no interrupt after delivery")
	}
	if u.Interrupting() {
		t.Errorf("interrupt not consumed")
	}

	b, _ := u.Load(UARTRegRHR, 8)
	if b != 'q' {
		t.Errorf("rhr = %q", rune(b))
	}
	lsr, _ = u.Load(UARTRegLSR, 8)
	if lsr&UARTLSRDataReady != 0 {
		t.Errorf("data ready still set after read")
	}
}

func TestUARTInputBackpressure(t *testing.T) {
	u := NewUART(nil, nil)
	defer u.Close()
	u.StartInput(strings.NewReader("hi"))

	waitReady := func() {
		t.Helper()
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			lsr, _ := u.Load(UARTRegLSR, 8)
			if lsr&UARTLSRDataReady != 0 {
				return
			}
			time.Sleep(time.Millisecond)
		}
		t.Fatal("timed out waiting for input")
	}

	waitReady()
	// The second byte must wait until the first is consumed.
	time.Sleep(10 * time.Millisecond)
	if b, _ := u.Load(UARTRegRHR, 8); b != 'h' {
		t.Fatalf("first byte = %q", rune(b))
	}
	waitReady()
	if b, _ := u.Load(UARTRegRHR, 8); b != 'i' {
		t.Fatalf("second byte = %q", rune(b))
	}
}

func TestUARTCloseReleasesProducer(t *testing.T) {
	u := NewUART(nil, nil)
	if !u.Deliver('a') {
		t.Fatal("deliver failed")
	}

	done := make(chan bool)
	go func() { done <- u.Deliver('b') }()

	u.Close()
	select {
	case ok := <-done:
		if ok {
			t.Errorf("deliver succeeded after close")
		}
	case <-time.After(time.Second):
		t.Fatal("blocked producer not released by Close")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestUARTOutputErrorIgnored(t *testing.T) {
	u := NewUART(failingWriter{}, nil)
	defer u.Close()
	if err := u.Store(UARTRegTHR, 8, 'x'); err != nil {
		t.Errorf("store: %v", err)
	}
}
