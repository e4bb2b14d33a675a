package procattr

import (
	"errors"
	"os"
	"syscall"
	"time"
)

// DefaultGrace is how long Terminate waits between SIGTERM and SIGKILL.
const DefaultGrace = 2 * time.Second

// SignalGroup delivers sig to every process in p's group.
func SignalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return nil
	}
	return SignalPID(p.Pid, sig)
}

// SignalPID delivers sig to the process group led by pid. ESRCH is not an
// error: the group is already gone.
func SignalPID(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// KillGroup sends SIGKILL to p's group.
func KillGroup(p *os.Process) error {
	return SignalGroup(p, syscall.SIGKILL)
}

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Terminate sends SIGTERM to pid's group and, unless exited is closed
// within grace, SIGKILL. It does not block; the escalation runs in the
// background.
func Terminate(pid int, exited <-chan struct{}, grace time.Duration) {
	if pid <= 0 {
		return
	}
	_ = SignalPID(pid, syscall.SIGTERM)
	go func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-exited:
		case <-timer.C:
			_ = SignalPID(pid, syscall.SIGKILL)
		}
	}()
}
