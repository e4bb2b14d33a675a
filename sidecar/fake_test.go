package sidecar

import (
	"bufio"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeProcess is an in-memory agent wired through io.Pipe.
type fakeProcess struct {
	stdinR     *io.PipeReader
	stdinW     *io.PipeWriter
	stdoutR    *io.PipeReader
	stdoutW    *io.PipeWriter
	stderrR    *io.PipeReader
	stderrW    *io.PipeWriter
	sent       chan string
	exited     chan struct{}
	terminated chan struct{}
	pid        int
	code       int
	exitOnce   sync.Once
	termOnce   sync.Once
	ignoreTerm bool
}

func newFakeProcess(pid int) *fakeProcess {
	p := &fakeProcess{
		pid:        pid,
		sent:       make(chan string, 16),
		exited:     make(chan struct{}),
		terminated: make(chan struct{}),
	}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()

	go func() {
		scanner := bufio.NewScanner(p.stdinR)
		for scanner.Scan() {
			p.sent <- scanner.Text()
		}
	}()
	return p
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeProcess) Stdout() io.Reader      { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader      { return p.stderrR }
func (p *fakeProcess) Pid() int               { return p.pid }

func (p *fakeProcess) Wait() (int, error) {
	<-p.exited
	return p.code, nil
}

func (p *fakeProcess) Terminate() {
	p.termOnce.Do(func() { close(p.terminated) })
	if p.ignoreTerm {
		return
	}
	_ = p.stdinR.Close()
	p.exit(-1)
}

func (p *fakeProcess) exit(code int) {
	p.exitOnce.Do(func() {
		p.code = code
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		close(p.exited)
	})
}

// emit writes one line to the agent's stdout. When it returns the session
// has read the line.
func (p *fakeProcess) emit(t *testing.T, line string) {
	t.Helper()
	_, err := p.stdoutW.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

// flush returns once every line emitted before it has been handled.
func (p *fakeProcess) flush(t *testing.T) {
	t.Helper()
	p.emit(t, "")
}

func (p *fakeProcess) nextSent(t *testing.T) string {
	t.Helper()
	select {
	case line := <-p.sent:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a line on stdin")
		return ""
	}
}

type fakeSpawner struct {
	err   error
	procs []*fakeProcess
	cmds  []Command
	mu    sync.Mutex
}

func (f *fakeSpawner) Spawn(_ context.Context, cmd Command) (Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	if f.err != nil {
		return nil, f.err
	}
	p := newFakeProcess(1000 + len(f.procs))
	f.procs = append(f.procs, p)
	return p, nil
}

func (f *fakeSpawner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.procs)
}

func (f *fakeSpawner) last() *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[len(f.procs)-1]
}

type stateRecorder struct {
	changes []StateChanged
	other   int
	mu      sync.Mutex
}

func (r *stateRecorder) OnSessionEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev := e.(type) {
	case StateChanged:
		r.changes = append(r.changes, ev)
	default:
		r.other++
	}
}

func (r *stateRecorder) transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.Old.String() + "->" + c.New.String()
	}
	return out
}

func (r *stateRecorder) transcriptEvents() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.other
}
