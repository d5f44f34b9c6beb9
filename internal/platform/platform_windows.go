//go:build windows

package platform

import (
	"os"
	"os/exec"
	"strconv"
)

// Interrupt stops proc and its whole process tree. Windows has no
// cooperative interrupt we can deliver to a console child, so this uses
// taskkill with a forced tree kill instead.
func Interrupt(proc *os.Process) error {
	return exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(proc.Pid)).Run()
}
