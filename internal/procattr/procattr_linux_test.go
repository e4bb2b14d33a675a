//go:build linux

package procattr

import (
	"os/exec"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_AgentDiesWithSidecar(t *testing.T) {
	t.Parallel()
	cmd := exec.Command("true")
	Set(cmd)

	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, DiesWithParent)
	assert.Equal(t, syscall.SIGTERM, cmd.SysProcAttr.Pdeathsig)
}
