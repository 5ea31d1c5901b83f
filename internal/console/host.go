// Package console connects the guest serial console to the host: the
// controlling terminal, a headless screen capture and a plain-text
// transcript.
package console

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Fallback screen size when the host is not a terminal.
const (
	DefaultCols = 80
	DefaultRows = 25
)

// CRLFWriter turns bare line feeds into CR LF, for writing to a terminal in
// raw mode.
type CRLFWriter struct {
	W io.Writer
}

func (f *CRLFWriter) Write(p []byte) (n int, err error) {
	if _, err := f.W.Write(bytes.ReplaceAll(p, []byte{'\n'}, []byte{'\r', '\n'})); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Host is the terminal the guest console is attached to.
type Host struct {
	In  *os.File
	Out *os.File

	state *term.State
}

// NewHost attaches to in and out, normally os.Stdin and os.Stdout.
func NewHost(in, out *os.File) *Host {
	return &Host{In: in, Out: out}
}

// IsTerminal reports whether input comes from a terminal.
func (h *Host) IsTerminal() bool {
	return term.IsTerminal(int(h.In.Fd()))
}

// Raw reports whether the terminal is currently in raw mode.
func (h *Host) Raw() bool { return h.state != nil }

// EnterRaw switches the input terminal to raw mode so every key reaches
// the guest. It does nothing when input is not a terminal.
func (h *Host) EnterRaw() error {
	if h.state != nil || !h.IsTerminal() {
		return nil
	}
	state, err := term.MakeRaw(int(h.In.Fd()))
	if err != nil {
		return fmt.Errorf("enable raw mode: %w", err)
	}
	h.state = state
	return nil
}

// Restore undoes EnterRaw.
func (h *Host) Restore() error {
	if h.state == nil {
		return nil
	}
	state := h.state
	h.state = nil
	if err := term.Restore(int(h.In.Fd()), state); err != nil {
		return fmt.Errorf("restore terminal: %w", err)
	}
	return nil
}

// Output returns the writer for guest output.
func (h *Host) Output() io.Writer {
	if h.Raw() {
		return &CRLFWriter{W: h.Out}
	}
	return h.Out
}

// Size returns the output terminal size, or DefaultCols x DefaultRows.
func (h *Host) Size() (cols, rows int) {
	cols, rows, err := term.GetSize(int(h.Out.Fd()))
	if err != nil || cols <= 0 || rows <= 0 {
		return DefaultCols, DefaultRows
	}
	return cols, rows
}
