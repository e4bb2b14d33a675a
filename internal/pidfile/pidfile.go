// Package pidfile records the pid of the running agent process so a later
// host can reap it if this one dies without cleaning up.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spamsch/son-of-simon-sub001/internal/procattr"
)

// Write records pid at path, creating parent directories.
func Write(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Read returns the pid stored at path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s: invalid content %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// Remove deletes path, ignoring a missing file.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// KillStale terminates the process recorded at path, if it is still alive,
// and removes the file. It returns the pid it signalled, or 0.
func KillStale(path string, grace time.Duration) (int, error) {
	pid, err := Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		_ = Remove(path)
		return 0, err
	}
	defer Remove(path) //nolint:errcheck

	if !procattr.Alive(pid) {
		return 0, nil
	}

	if err := procattr.SignalPID(pid, syscall.SIGTERM); err != nil {
		return pid, fmt.Errorf("signal stale agent %d: %w", pid, err)
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !procattr.Alive(pid) {
			return pid, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return pid, procattr.SignalPID(pid, syscall.SIGKILL)
}
