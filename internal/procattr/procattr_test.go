package procattr

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_CreatesProcessGroup(t *testing.T) {
	t.Parallel()
	cmd := exec.Command("true")
	require.Nil(t, cmd.SysProcAttr)

	Set(cmd)

	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setpgid)
}

func TestSignalGroup_NilProcess(t *testing.T) {
	t.Parallel()
	assert.NoError(t, SignalGroup(nil, syscall.SIGTERM))
	assert.NoError(t, KillGroup(nil))
}

func TestSignalPID_Gone(t *testing.T) {
	t.Parallel()
	cmd := exec.Command("true")
	Set(cmd)
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	_ = cmd.Wait()

	assert.NoError(t, SignalPID(pid, syscall.SIGTERM), "a vanished group is not an error")
	assert.False(t, Alive(pid))
	assert.False(t, Alive(0))
}

func TestTerminate_SIGTERM(t *testing.T) {
	t.Parallel()
	cmd := exec.Command("sleep", "60")
	Set(cmd)
	require.NoError(t, cmd.Start())
	assert.True(t, Alive(cmd.Process.Pid))

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	Terminate(cmd.Process.Pid, exited, DefaultGrace)

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after SIGTERM")
	}
}

func TestTerminate_EscalatesToSIGKILL(t *testing.T) {
	t.Parallel()
	cmd := exec.Command("sh", "-c", `trap "" TERM; while :; do sleep 1; done`)
	Set(cmd)
	require.NoError(t, cmd.Start())

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	// Give the shell time to install its trap.
	time.Sleep(200 * time.Millisecond)

	Terminate(cmd.Process.Pid, exited, 100*time.Millisecond)

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("process survived SIGKILL escalation")
	}
}
