// Package config holds the YAML description of an emulated machine.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultFilename = "rvemu.yaml"

	DefaultMemoryMB = 128
	DefaultDiskMB   = 2

	// MaxMemoryMB bounds the DRAM allocation.
	MaxMemoryMB = 4096
)

var ErrInvalid = errors.New("invalid machine config")

// Machine describes one emulator run.
type Machine struct {
	Version int `yaml:"version"`

	Program  string `yaml:"program,omitempty"`
	MemoryMB uint64 `yaml:"memoryMB"`

	Disk   string `yaml:"disk,omitempty"`
	DiskMB uint64 `yaml:"diskMB,omitempty"`

	TimerTick bool          `yaml:"timerTick,omitempty"`
	MaxSteps  uint64        `yaml:"maxSteps,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	Debug     bool          `yaml:"debug,omitempty"`

	Console ConsoleConfig `yaml:"console"`
}

type ConsoleConfig struct {
	// Raw puts the host terminal in raw mode while the guest runs.
	Raw        bool   `yaml:"raw"`
	Transcript string `yaml:"transcript,omitempty"`
	Screen     string `yaml:"screen,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Machine {
	m := Machine{Console: ConsoleConfig{Raw: true}}
	m.normalize()
	return m
}

func (m *Machine) normalize() {
	if m.Version == 0 {
		m.Version = 1
	}
	if m.MemoryMB == 0 {
		m.MemoryMB = DefaultMemoryMB
	}
	if m.DiskMB == 0 {
		m.DiskMB = DefaultDiskMB
	}
}

// Validate checks the values a file or flags can get wrong.
func (m Machine) Validate() error {
	if m.Version != 1 {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalid, m.Version)
	}
	if m.MemoryMB > MaxMemoryMB {
		return fmt.Errorf("%w: memoryMB %d exceeds %d", ErrInvalid, m.MemoryMB, MaxMemoryMB)
	}
	if m.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout %s", ErrInvalid, m.Timeout)
	}
	return nil
}

// MemoryBytes returns the DRAM size in bytes.
func (m Machine) MemoryBytes() uint64 { return m.MemoryMB << 20 }

// DiskBytes returns the initial block device size in bytes.
func (m Machine) DiskBytes() uint64 { return m.DiskMB << 20 }

// Parse decodes a YAML machine description and fills in defaults.
func Parse(data []byte) (Machine, error) {
	m := Default()
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Machine{}, fmt.Errorf("parse machine config: %w", err)
	}
	m.normalize()
	if err := m.Validate(); err != nil {
		return Machine{}, err
	}
	return m, nil
}

// Load reads a machine description from path. Relative image paths are
// resolved against the file's directory.
func Load(path string) (Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Machine{}, fmt.Errorf("read %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return Machine{}, fmt.Errorf("%s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for _, p := range []*string{&m.Program, &m.Disk, &m.Console.Transcript, &m.Console.Screen} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	return m, nil
}

// WriteTemplate writes m to path as YAML.
func WriteTemplate(path string, m Machine) error {
	m.normalize()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&m); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
