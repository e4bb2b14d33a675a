package pidfile

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spamsch/son-of-simon-sub001/internal/procattr"
)

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "agent.pid")

	require.NoError(t, Write(path, 4242))
	pid, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	require.NoError(t, Remove(path))
	require.NoError(t, Remove(path), "removing twice is fine")
	_, err = Read(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRead_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))

	_, err := Read(path)
	assert.Error(t, err)
}

func TestKillStale_NoFile(t *testing.T) {
	pid, err := KillStale(filepath.Join(t.TempDir(), "missing.pid"), time.Second)
	assert.NoError(t, err)
	assert.Zero(t, pid)
}

func TestKillStale_DeadProcess(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())

	path := filepath.Join(t.TempDir(), "agent.pid")
	require.NoError(t, Write(path, cmd.Process.Pid))

	pid, err := KillStale(path, time.Second)
	assert.NoError(t, err)
	assert.Zero(t, pid)
	assert.NoFileExists(t, path)
}

func TestKillStale_LiveProcess(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	procattr.Set(cmd)
	require.NoError(t, cmd.Start())
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	path := filepath.Join(t.TempDir(), "agent.pid")
	require.NoError(t, Write(path, cmd.Process.Pid))

	pid, err := KillStale(path, 2*time.Second)
	assert.NoError(t, err)
	assert.Equal(t, cmd.Process.Pid, pid)
	assert.NoFileExists(t, path)

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("stale process still running")
	}
}
