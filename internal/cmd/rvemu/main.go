package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/tinyrange/rvemu/internal/config"
	"github.com/tinyrange/rvemu/internal/console"
	"github.com/tinyrange/rvemu/internal/hv/riscv/rv64"
	"github.com/tinyrange/rvemu/internal/loader"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

// maxDiskBytes bounds the disk image read from the host.
const maxDiskBytes = 4 << 30

// exitError carries a process exit status out of run.
type exitError struct {
	Code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

func main() {
	if err := run(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "rvemu: %v\n", err)
		os.Exit(1)
	}
}

type uint64Flag struct {
	v   uint64
	set bool
}

func (f *uint64Flag) String() string { return strconv.FormatUint(f.v, 10) }

func (f *uint64Flag) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return err
	}
	f.v = v
	f.set = true
	return nil
}

type boolFlag struct {
	v   bool
	set bool
}

func (f *boolFlag) String() string {
	if f.v {
		return "true"
	}
	return "false"
}

func (f *boolFlag) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	f.v = v
	f.set = true
	return nil
}

func (f *boolFlag) IsBoolFlag() bool { return true }

type durationFlag struct {
	v   time.Duration
	set bool
}

func (f *durationFlag) String() string { return f.v.String() }

func (f *durationFlag) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	f.v = v
	f.set = true
	return nil
}

type options struct {
	configPath  string
	writeConfig string
	dtbPath     string
	bootargs    string
	dump        bool

	memory    uint64Flag
	diskSize  uint64Flag
	maxSteps  uint64Flag
	debug     boolFlag
	timerTick boolFlag
	raw       boolFlag
	timeout   durationFlag

	disk       string
	transcript string
	screen     string
}

func parseFlags() *options {
	o := &options{}
	flag.StringVar(&o.configPath, "config", "", "Machine description (YAML)")
	flag.StringVar(&o.writeConfig, "write-config", "", "Write the effective machine description to this path, then exit")
	flag.StringVar(&o.dtbPath, "dtb", "", "Write a flattened device tree for the machine to this path")
	flag.StringVar(&o.bootargs, "bootargs", "console=ttyS0", "Kernel command line placed in the device tree")
	flag.BoolVar(&o.dump, "dump", true, "Print registers and CSRs when the run ends")

	o.memory.v = config.DefaultMemoryMB
	flag.Var(&o.memory, "memory", "Memory in MB")
	o.diskSize.v = config.DefaultDiskMB
	flag.Var(&o.diskSize, "disk-size", "Block device size in MB when no disk image is given")
	flag.Var(&o.maxSteps, "max-steps", "Stop after this many instructions (0 = no limit)")
	flag.Var(&o.debug, "debug", "Enable debug logging")
	flag.Var(&o.timerTick, "timer-tick", "Advance mtime by one every instruction")
	o.raw.v = true
	flag.Var(&o.raw, "raw", "Put the host terminal in raw mode while the guest runs")
	flag.Var(&o.timeout, "timeout", "Stop the run after this long (0 = no limit)")

	flag.StringVar(&o.disk, "disk", "", "Disk image for the block device")
	flag.StringVar(&o.transcript, "transcript", "", "Write console output without escape sequences to this file")
	flag.StringVar(&o.screen, "screen", "", "Write the final console screen to this file")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <program-image>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	return o
}

// machineConfig starts from the config file (or the defaults) and applies
// every flag the user set explicitly.
func (o *options) machineConfig() (config.Machine, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return config.Machine{}, err
		}
		cfg = loaded
	}

	if flag.NArg() > 1 {
		return config.Machine{}, fmt.Errorf("expected one program image, got %d arguments", flag.NArg())
	}
	if flag.NArg() == 1 {
		cfg.Program = flag.Arg(0)
	}
	if o.memory.set {
		cfg.MemoryMB = o.memory.v
	}
	if o.diskSize.set {
		cfg.DiskMB = o.diskSize.v
	}
	if o.maxSteps.set {
		cfg.MaxSteps = o.maxSteps.v
	}
	if o.debug.set {
		cfg.Debug = o.debug.v
	}
	if o.timerTick.set {
		cfg.TimerTick = o.timerTick.v
	}
	if o.raw.set {
		cfg.Console.Raw = o.raw.v
	}
	if o.timeout.set {
		cfg.Timeout = o.timeout.v
	}
	if o.disk != "" {
		cfg.Disk = o.disk
	}
	if o.transcript != "" {
		cfg.Console.Transcript = o.transcript
	}
	if o.screen != "" {
		cfg.Console.Screen = o.screen
	}

	if err := cfg.Validate(); err != nil {
		return config.Machine{}, err
	}
	return cfg, nil
}

func run() error {
	o := parseFlags()

	cfg, err := o.machineConfig()
	if err != nil {
		return err
	}

	if o.writeConfig != "" {
		if err := config.WriteTemplate(o.writeConfig, cfg); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", o.writeConfig)
		return nil
	}

	host := console.NewHost(os.Stdin, os.Stdout)
	var logOut io.Writer = os.Stderr
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	if cfg.Console.Raw && host.IsTerminal() {
		logOut = &console.CRLFWriter{W: os.Stderr}
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Images are read before the terminal goes raw so the progress bars
	// render normally.
	var program loader.Program
	var disk []byte
	var loadOpts loader.Options
	if term.IsTerminal(int(os.Stderr.Fd())) {
		loadOpts.Progress = os.Stderr
	}
	if cfg.Program != "" {
		data, err := loader.ReadImage(cfg.Program, int64(cfg.MemoryBytes()), loadOpts)
		if err != nil {
			return fmt.Errorf("read program: %w", err)
		}
		program, err = loader.ProgramImage(data, rv64.RAMBase, cfg.MemoryBytes())
		if err != nil {
			return fmt.Errorf("program %s: %w", cfg.Program, err)
		}
		kind := "raw"
		if program.ELF {
			kind = "elf"
		}
		slog.Debug("loaded program", "path", cfg.Program, "kind", kind,
			"size", len(program.Image), "entry", fmt.Sprintf("0x%x", program.Entry))
	} else if o.dtbPath == "" {
		flag.Usage()
		return &exitError{Code: 2}
	}
	if cfg.Disk != "" {
		disk, err = loader.ReadImage(cfg.Disk, maxDiskBytes, loadOpts)
		if err != nil {
			return fmt.Errorf("read disk: %w", err)
		}
	}

	if cfg.Console.Raw {
		if err := host.EnterRaw(); err != nil {
			return err
		}
	}
	defer host.Restore()

	outputs := []io.Writer{host.Output()}
	var screen *console.Screen
	if cfg.Console.Screen != "" {
		screen = console.NewScreen(host.Size())
		defer screen.Close()
		outputs = append(outputs, screen)
	}
	if cfg.Console.Transcript != "" {
		f, err := os.Create(cfg.Console.Transcript)
		if err != nil {
			return fmt.Errorf("create transcript: %w", err)
		}
		defer f.Close()
		transcript := console.NewTranscript(f)
		defer transcript.Close()
		outputs = append(outputs, transcript)
	}

	m := rv64.NewMachine(
		rv64.WithMemory(cfg.MemoryBytes()),
		rv64.WithDiskSize(cfg.DiskBytes()),
		rv64.WithOutput(io.MultiWriter(outputs...)),
		rv64.WithLogger(logger),
		rv64.WithMaxSteps(cfg.MaxSteps),
		rv64.WithTimerTick(cfg.TimerTick),
	)
	defer m.Close()

	if o.dtbPath != "" {
		blob, err := m.DeviceTree(o.bootargs)
		if err != nil {
			return err
		}
		if err := os.WriteFile(o.dtbPath, blob, 0o644); err != nil {
			return fmt.Errorf("write device tree: %w", err)
		}
		slog.Debug("wrote device tree", "path", o.dtbPath)
		if cfg.Program == "" {
			return nil
		}
	}

	if err := m.LoadProgram(program.Image); err != nil {
		return err
	}
	m.CPU.PC = program.Entry
	if disk != nil {
		m.LoadDisk(disk)
	}
	m.UART.StartInput(os.Stdin)

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer stop()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return m.Close()
	})
	runErr := g.Wait()
	elapsed := time.Since(start)

	if err := host.Restore(); err != nil {
		slog.Warn("restore terminal", "error", err)
	}

	if screen != nil {
		if err := os.WriteFile(cfg.Console.Screen, []byte(screen.Snapshot()+"\n"), 0o644); err != nil {
			return fmt.Errorf("write screen: %w", err)
		}
	}

	if o.dump {
		fmt.Fprint(os.Stderr, m.CPU.DumpRegisters())
		fmt.Fprint(os.Stderr, m.CPU.DumpCSRs())
	}

	var fatal *rv64.FatalTrapError
	switch {
	case errors.As(runErr, &fatal):
		slog.Info("guest stopped", "reason", rv64.CauseName(fatal.Cause),
			"pc", fmt.Sprintf("0x%x", fatal.PC), "steps", m.Steps(), "elapsed", elapsed)
		return &exitError{Code: 3}
	case errors.Is(runErr, rv64.ErrStepLimit):
		slog.Info("step limit reached", "steps", m.Steps(), "elapsed", elapsed)
	case errors.Is(runErr, context.DeadlineExceeded):
		slog.Info("timeout reached", "timeout", cfg.Timeout, "steps", m.Steps())
	case errors.Is(runErr, context.Canceled):
		slog.Info("interrupted", "steps", m.Steps())
	case runErr != nil:
		return runErr
	}
	return nil
}
