// Package loader reads program and disk images from the host.
package loader

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
)

var ErrTooLarge = errors.New("image too large")

// Options controls how images are read.
type Options struct {
	// Progress receives a byte progress bar while the image is read.
	// Nil disables it.
	Progress io.Writer
}

func newProgressBar(w io.Writer, size int64, title string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(title),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(10),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
	)
}

// ReadImage reads the whole file at path. Files larger than limit bytes are
// rejected before they are read.
func ReadImage(path string, limit int64, opts Options) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("%s is %d bytes, limit %d: %w", path, info.Size(), limit, ErrTooLarge)
	}

	buf := bytes.NewBuffer(make([]byte, 0, info.Size()))
	var writer io.Writer = buf
	if opts.Progress != nil {
		bar := newProgressBar(opts.Progress, info.Size(), fmt.Sprintf("load %s", filepath.Base(path)))
		defer bar.Close()
		writer = io.MultiWriter(buf, bar)
	}

	if _, err := io.Copy(writer, io.LimitReader(f, limit)); err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return buf.Bytes(), nil
}

// Program is a guest program laid out for physical memory.
type Program struct {
	// Image is copied to the start of DRAM.
	Image []byte
	// Entry is the address execution should start at.
	Entry uint64
	// ELF reports whether the image was flattened from an ELF file.
	ELF bool
}

// ProgramImage prepares data for loading at base. Raw binaries are used
// as-is with entry at base. RISC-V ELF64 executables are flattened by
// placing every PT_LOAD segment at its physical address relative to base;
// the result may not extend past base+limit.
func ProgramImage(data []byte, base, limit uint64) (Program, error) {
	if !bytes.HasPrefix(data, []byte(elf.ELFMAG)) {
		if uint64(len(data)) > limit {
			return Program{}, fmt.Errorf("program of %d bytes exceeds %d: %w", len(data), limit, ErrTooLarge)
		}
		return Program{Image: data, Entry: base}, nil
	}

	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return Program{}, fmt.Errorf("parse elf: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_RISCV {
		return Program{}, fmt.Errorf("elf is %s %s, want ELFCLASS64 EM_RISCV", f.Class, f.Machine)
	}

	var end uint64
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		if p.Paddr < base {
			return Program{}, fmt.Errorf("segment at 0x%x is below memory base 0x%x", p.Paddr, base)
		}
		if p.Filesz > p.Memsz {
			return Program{}, fmt.Errorf("segment at 0x%x: file size exceeds memory size", p.Paddr)
		}
		segEnd := p.Paddr - base + p.Memsz
		if segEnd > limit || segEnd < p.Memsz {
			return Program{}, fmt.Errorf("segment at 0x%x+0x%x exceeds memory: %w", p.Paddr, p.Memsz, ErrTooLarge)
		}
		end = max(end, segEnd)
	}
	if end == 0 {
		return Program{}, errors.New("elf has no loadable segments")
	}

	image := make([]byte, end)
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		off := p.Paddr - base
		if _, err := io.ReadFull(p.Open(), image[off:off+p.Filesz]); err != nil {
			return Program{}, fmt.Errorf("read segment at 0x%x: %w", p.Paddr, err)
		}
	}
	return Program{Image: image, Entry: f.Entry, ELF: true}, nil
}
