//go:build !linux

package procattr

import "syscall"

// DiesWithParent is false here: an agent left behind by a crashed sidecar
// is found through the PID file and stopped on the next Connect.
const DiesWithParent = false

func agentAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
