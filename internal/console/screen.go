package console

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/vt"
)

// Screen renders guest output on a headless VT emulator so the final
// screen can be captured.
type Screen struct {
	emu  *vt.SafeEmulator
	done chan struct{}
}

// NewScreen creates a cols x rows screen.
func NewScreen(cols, rows int) *Screen {
	emu := vt.NewSafeEmulator(cols, rows)
	suppressReplies(emu)

	s := &Screen{emu: emu, done: make(chan struct{})}
	go s.drain()
	return s
}

// suppressReplies stops the emulator from answering status and attribute
// queries. There is nobody to deliver the replies to.
func suppressReplies(emu *vt.SafeEmulator) {
	// DSR: CSI 5 n, CSI 6 n
	emu.RegisterCsiHandler('n', func(params ansi.Params) bool {
		n, _, ok := params.Param(0, 1)
		return ok && (n == 5 || n == 6)
	})
	// DEC private DSR: CSI ? 6 n
	emu.RegisterCsiHandler(ansi.Command('?', 0, 'n'), func(params ansi.Params) bool {
		n, _, ok := params.Param(0, 1)
		return ok && n == 6
	})
	// Primary and secondary device attributes
	emu.RegisterCsiHandler('c', func(params ansi.Params) bool {
		n, _, _ := params.Param(0, 0)
		return n == 0
	})
	emu.RegisterCsiHandler(ansi.Command('>', 0, 'c'), func(params ansi.Params) bool {
		n, _, _ := params.Param(0, 0)
		return n == 0
	})
}

// drain discards whatever the emulator still wants to send back so its
// writer never blocks.
func (s *Screen) drain() {
	defer close(s.done)
	buf := make([]byte, 1024)
	for {
		if _, err := s.emu.Read(buf); err != nil {
			return
		}
	}
}

// Write implements io.Writer.
func (s *Screen) Write(p []byte) (int, error) {
	return s.emu.Write(p)
}

// Snapshot returns the visible text, one line per row, with trailing blanks
// and empty trailing rows removed.
func (s *Screen) Snapshot() string {
	cols, rows := s.emu.Width(), s.emu.Height()
	lines := make([]string, 0, rows)
	for y := 0; y < rows; y++ {
		var sb strings.Builder
		for x := 0; x < cols; {
			cell := s.emu.CellAt(x, y)
			w := 1
			content := " "
			if cell != nil {
				if cell.Content != "" {
					content = cell.Content
				}
				if cell.Width > 1 {
					w = cell.Width
				}
			}
			sb.WriteString(content)
			x += w
		}
		lines = append(lines, strings.TrimRight(sb.String(), " "))
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// Close stops the emulator.
func (s *Screen) Close() error {
	err := s.emu.Close()
	<-s.done
	return err
}
