//go:build linux

package procattr

import "syscall"

// DiesWithParent reports whether the kernel stops the agent when the
// sidecar is killed before it can shut the agent down itself.
const DiesWithParent = true

func agentAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
