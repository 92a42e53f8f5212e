//go:build !windows

package tunnel

import "syscall"

// processTerminateSignal is the polite shutdown signal sent before the
// forced kill on Unix-like platforms.
func processTerminateSignal() syscall.Signal {
	return syscall.SIGTERM
}
