package console

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
)

// Transcript writes guest output to w as plain text. Escape sequences and
// carriage returns are removed a line at a time, since the console delivers
// one byte per write.
type Transcript struct {
	mu   sync.Mutex
	w    io.Writer
	line bytes.Buffer
}

func NewTranscript(w io.Writer) *Transcript {
	return &Transcript{w: w}
}

// Write implements io.Writer.
func (t *Transcript) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			t.line.Write(p)
			break
		}
		t.line.Write(p[:i+1])
		p = p[i+1:]
		if err := t.flush(); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (t *Transcript) flush() error {
	if t.line.Len() == 0 {
		return nil
	}
	text := strings.ReplaceAll(ansi.Strip(t.line.String()), "\r", "")
	t.line.Reset()
	_, err := io.WriteString(t.w, text)
	return err
}

// Close writes out a final partial line.
func (t *Transcript) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flush()
}
