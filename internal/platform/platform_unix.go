//go:build !windows

package platform

import "os"

// Interrupt asks proc to stop with a cooperative interrupt signal.
// Delivery is requested, not confirmed; the caller must watch for the
// process exit itself.
func Interrupt(proc *os.Process) error {
	return proc.Signal(os.Interrupt)
}
