package console

import (
	"bytes"
	"os"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConsole(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Console Suite")
}

// writeBytes feeds p one byte at a time, the way the UART emits output.
func writeBytes(w interface{ Write([]byte) (int, error) }, p string) {
	for i := 0; i < len(p); i++ {
		n, err := w.Write([]byte{p[i]})
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
	}
}

var _ = Describe("CRLFWriter", func() {
	It("should expand line feeds and report the input length", func() {
		var out bytes.Buffer
		w := &CRLFWriter{W: &out}
		n, err := w.Write([]byte("a\nb\n"))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(4))
		Expect(out.String()).To(Equal("a\r\nb\r\n"))
	})
})

var _ = Describe("Host", func() {
	var (
		r, w *os.File
		host *Host
	)

	BeforeEach(func() {
		var err error
		r, w, err = os.Pipe()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(r.Close)
		DeferCleanup(w.Close)
		host = NewHost(r, w)
	})

	It("should treat a pipe as a plain stream", func() {
		Expect(host.IsTerminal()).To(BeFalse())
		Expect(host.EnterRaw()).To(Succeed())
		Expect(host.Raw()).To(BeFalse())
		Expect(host.Output()).To(BeIdenticalTo(w))
		Expect(host.Restore()).To(Succeed())
	})

	It("should fall back to the default size", func() {
		cols, rows := host.Size()
		Expect(cols).To(Equal(DefaultCols))
		Expect(rows).To(Equal(DefaultRows))
	})
})

var _ = Describe("Screen", func() {
	var screen *Screen

	BeforeEach(func() {
		screen = NewScreen(20, 5)
		DeferCleanup(screen.Close)
	})

	It("should capture printed lines", func() {
		writeBytes(screen, "hello\r\nworld\r\n")
		Expect(screen.Snapshot()).To(Equal("hello\nworld"))
	})

	It("should apply cursor movement and erase", func() {
		writeBytes(screen, "garbage\r\n\x1b[2J\x1b[H$ ls\x1b[3;1Hthird")
		Expect(screen.Snapshot()).To(Equal("$ ls\n\nthird"))
	})

	It("should swallow status queries", func() {
		writeBytes(screen, "\x1b[6n\x1b[c\x1b[>cok")
		Expect(screen.Snapshot()).To(Equal("ok"))
	})

	It("should be empty before any output", func() {
		Expect(screen.Snapshot()).To(BeEmpty())
	})
})

var _ = Describe("Transcript", func() {
	var (
		out        bytes.Buffer
		transcript *Transcript
	)

	BeforeEach(func() {
		out.Reset()
		transcript = NewTranscript(&out)
	})

	It("should strip escape sequences split across writes", func() {
		writeBytes(transcript, "\x1b[1;32mgreen\x1b[0m text\r\n")
		Expect(out.String()).To(Equal("green text\n"))
	})

	It("should hold a partial line until Close", func() {
		writeBytes(transcript, "$ ")
		Expect(out.String()).To(BeEmpty())
		Expect(transcript.Close()).To(Succeed())
		Expect(out.String()).To(Equal("$ "))
	})

	It("should handle several lines in one write", func() {
		n, err := transcript.Write([]byte("one\ntwo\nthr"))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(11))
		Expect(out.String()).To(Equal("one\ntwo\n"))
	})
})
