package sidecar

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/spamsch/son-of-simon-sub001/internal/procattr"
)

// Command describes the agent process to start.
type Command struct {
	Env  map[string]string
	Path string
	Dir  string
	Args []string
}

// Process is a running agent. Stdout and Stderr reach EOF once the
// process has exited; Wait must only be called after both are drained.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	Pid() int
	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)
	// Terminate asks the process to stop. It does not block.
	Terminate()
}

// Spawner starts agent processes.
type Spawner interface {
	Spawn(ctx context.Context, cmd Command) (Process, error)
}

// SpawnerFunc adapts a function to the Spawner interface.
type SpawnerFunc func(ctx context.Context, cmd Command) (Process, error)

// Spawn calls f(ctx, cmd).
func (f SpawnerFunc) Spawn(ctx context.Context, cmd Command) (Process, error) {
	return f(ctx, cmd)
}

// ExecSpawner starts the agent as an operating-system process in its own
// process group.
type ExecSpawner struct {
	// Grace is the delay between SIGTERM and SIGKILL on Terminate.
	Grace time.Duration
}

// Spawn starts cmd. The context only bounds the start itself; the process
// outlives it and is stopped through Terminate.
func (s ExecSpawner) Spawn(ctx context.Context, c Command) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Env = os.Environ()
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	procattr.Set(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to create stdin pipe", Cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to create stdout pipe", Cause: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to create stderr pipe", Cause: err}
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, &CommandNotFoundError{Path: c.Path, Cause: err}
		}
		return nil, &ProcessError{Message: "failed to start agent", Cause: err}
	}

	grace := s.Grace
	if grace <= 0 {
		grace = procattr.DefaultGrace
	}
	return &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		grace:  grace,
		exited: make(chan struct{}),
	}, nil
}

type execProcess struct {
	stdin    io.WriteCloser
	stdout   io.Reader
	stderr   io.Reader
	cmd      *exec.Cmd
	exited   chan struct{}
	grace    time.Duration
	termOnce sync.Once
	waitOnce sync.Once
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader      { return p.stdout }
func (p *execProcess) Stderr() io.Reader      { return p.stderr }
func (p *execProcess) Pid() int               { return p.cmd.Process.Pid }

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	p.waitOnce.Do(func() { close(p.exited) })

	state := p.cmd.ProcessState
	if state == nil {
		return -1, err
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = nil
	}
	return state.ExitCode(), err
}

func (p *execProcess) Terminate() {
	p.termOnce.Do(func() {
		_ = p.stdin.Close()
		procattr.Terminate(p.cmd.Process.Pid, p.exited, p.grace)
	})
}
