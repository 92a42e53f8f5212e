//go:build windows

package tunnel

import "os"

// processTerminateSignal is the polite shutdown signal sent before the
// forced kill. Windows processes don't support POSIX signals through
// os.Process.Signal beyond os.Kill, so os.Interrupt is used as a
// best-effort request; the 5s grace window in Stop still applies before
// the hard kill.
func processTerminateSignal() os.Signal {
	return os.Interrupt
}
