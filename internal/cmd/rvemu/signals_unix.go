//go:build unix

package main

import (
	"os"

	"golang.org/x/sys/unix"
)

// shutdownSignals stop the run and restore the terminal.
var shutdownSignals = []os.Signal{os.Interrupt, unix.SIGTERM, unix.SIGHUP}
