// Package procattr starts the agent in a process group of its own and
// signals that group, so helpers the agent forks go down with it.
package procattr

import "os/exec"

// Set prepares cmd to run as an agent: group leader of a fresh process
// group and, where the platform allows, bound to the sidecar's lifetime
// (see DiesWithParent).
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = agentAttr()
}
