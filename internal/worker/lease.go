package worker

import (
	"errors"
	"os"
	"syscall"
)

// pidAlive probes whether a process exists. Signal 0 performs the liveness
// check without delivering anything; EPERM means the process exists but
// belongs to someone else.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
