// Package sidecar supervises the long-running agent process. A Session
// spawns the agent, feeds its stdout through the line reassembler and the
// event dispatcher into the turn tracker, and writes user messages to its
// stdin. Every connection attempt gets a new generation number; events,
// exits and timers from an older generation are dropped, so a reconnect is
// a hard cut.
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spamsch/son-of-simon-sub001/internal/logging"
	"github.com/spamsch/son-of-simon-sub001/internal/ndjson"
	"github.com/spamsch/son-of-simon-sub001/internal/pidfile"
	"github.com/spamsch/son-of-simon-sub001/internal/procattr"
	"github.com/spamsch/son-of-simon-sub001/protocol"
	"github.com/spamsch/son-of-simon-sub001/transcript"
	"github.com/spamsch/son-of-simon-sub001/turn"
)

// Session owns one agent connection and its transcript.
type Session struct {
	lastErr   error
	proc      Process
	log       *slog.Logger
	store     *transcript.Store
	tracker   *turn.Tracker
	dispatch  *protocol.Dispatcher
	stdin     *ndjson.Writer
	recorder  *ndjson.Writer
	watchdogs map[transcript.Channel]*time.Timer
	changed   chan struct{}
	config    SessionConfig
	wg        sync.WaitGroup
	gen       uint64
	mu        sync.Mutex
	stateMu   sync.RWMutex // guards state, lastErr and changed
	writeMu   sync.Mutex
	state     ConnectionState
	pending   bool // a primary send is waiting for done or error
	errored   bool // an error ended the primary turn; the agent's trailing done is still due
	closed    bool
}

// NewSession creates a disconnected session.
func NewSession(opts ...SessionOption) *Session {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Spawner == nil {
		config.Spawner = ExecSpawner{}
	}

	storeOpts := append([]transcript.StoreOption{transcript.WithLogger(config.Logger)}, config.StoreOptions...)
	s := &Session{
		config:    config,
		log:       config.Logger,
		store:     transcript.NewStore(storeOpts...),
		dispatch:  protocol.NewDispatcher(config.Logger),
		watchdogs: make(map[transcript.Channel]*time.Timer),
		changed:   make(chan struct{}),
	}
	s.tracker = turn.NewTracker(s.store, config.Logger)
	if config.Recorder != nil {
		s.recorder = ndjson.NewWriter(config.Recorder)
	}
	s.store.AddObserver(transcript.ObserverFunc(func(e transcript.Event) {
		s.emit(TranscriptChanged{Event: e})
	}))
	return s
}

// AddObserver registers an observer after construction. The same rules as
// WithObserver apply.
func (s *Session) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Observers = append(s.config.Observers, o)
}

// Reconfigure applies opts to the session. Agent settings take effect on
// the next Connect; the logger and transcript options are fixed at
// construction.
func (s *Session) Reconfigure(opts ...SessionOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, opt := range opts {
		opt(&s.config)
	}
}

// Transcript returns the session's transcript store.
func (s *Session) Transcript() *transcript.Store {
	return s.store
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// LastError returns the error that put the session in the error state.
func (s *Session) LastError() error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastErr
}

// Pid returns the agent's pid, or 0 when no process is running.
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.Pid()
}

// Connect spawns the agent. It is a no-op while connecting or connected.
// It returns once the process is started; the session becomes connected
// when the agent reports ready (see WaitConnected). From the error state
// the previous connection is cleaned up first.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	switch s.State() {
	case StateConnecting, StateConnected:
		s.mu.Unlock()
		return nil
	case StateError:
		s.setStateLocked(StateDisconnected, nil)
	}
	s.gen++
	gen := s.gen
	s.setStateLocked(StateConnecting, nil)
	spawner, pidPath := s.config.Spawner, s.config.PIDFile
	cmd := Command{
		Path: s.config.Command,
		Args: s.config.Args,
		Env:  s.config.Env,
		Dir:  s.config.WorkDir,
	}
	s.mu.Unlock()

	if pidPath != "" {
		if pid, err := pidfile.KillStale(pidPath, procattr.DefaultGrace); err != nil {
			s.log.Warn("failed to stop stale agent", "pid", pid, "error", err)
		} else if pid != 0 {
			s.log.Info("stopped stale agent", "pid", pid)
		}
	}

	proc, err := spawner.Spawn(ctx, cmd)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		if proc != nil {
			proc.Terminate()
			go reap(proc)
		}
		return ErrConnectAborted
	}
	if err != nil {
		s.failLocked(err)
		return err
	}

	s.proc = proc
	s.stdin = ndjson.NewWriter(proc.Stdin())
	if s.config.PIDFile != "" {
		if err := pidfile.Write(s.config.PIDFile, proc.Pid()); err != nil {
			s.log.Warn("failed to write pid file", "path", s.config.PIDFile, "error", err)
		}
	}
	if marker, err := json.Marshal(protocol.NewSessionStart(proc.Pid())); err == nil {
		s.record(marker)
	}
	s.startLoops(gen, proc)
	s.log.Info("agent started", "pid", proc.Pid(), "command", s.config.Command, "dies_with_parent", procattr.DiesWithParent)
	return nil
}

// WaitConnected blocks until the current attempt leaves the connecting
// state. It returns nil once connected, the session's error if the attempt
// failed, or ErrNotConnected if it was disconnected.
func (s *Session) WaitConnected(ctx context.Context) error {
	for {
		s.stateMu.RLock()
		state, err, changed := s.state, s.lastErr, s.changed
		s.stateMu.RUnlock()

		switch state {
		case StateConnected:
			return nil
		case StateError:
			return err
		case StateDisconnected:
			return ErrNotConnected
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Disconnect stops the agent without waiting for it to exit. Open turns
// are forgotten but their messages are not finalized.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateDisconnected {
		return
	}
	s.teardownLocked()
	s.setStateLocked(StateDisconnected, nil)
}

// Reconnect disconnects and connects again.
func (s *Session) Reconnect(ctx context.Context) error {
	s.Disconnect()
	return s.Connect(ctx)
}

// Close disconnects and waits for the agent's output to be drained. The
// session cannot be reused.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.State() != StateDisconnected {
		s.teardownLocked()
		s.setStateLocked(StateDisconnected, nil)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// Send appends text to the transcript as a user message and writes it to
// the agent. It fails synchronously if text is blank, the session is not
// connected, or the previous primary turn has not finished. If ctx ends
// before the write completes the message stays in the transcript and the
// write continues in the background.
func (s *Session) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.State() != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.pending || s.store.TurnOpen(transcript.ChannelPrimary) {
		s.mu.Unlock()
		return ErrTurnInProgress
	}
	s.pending = true
	gen, w := s.gen, s.stdin
	s.tracker.BeginUserTurn(text)
	s.armWatchdogLocked(transcript.ChannelPrimary)
	s.mu.Unlock()

	record, err := json.Marshal(protocol.NewUserMessage(text))
	if err != nil {
		return err
	}
	s.record(record)

	errc := make(chan error, 1)
	go func() {
		s.writeMu.Lock()
		err := w.WriteRaw(record)
		s.writeMu.Unlock()
		if err != nil {
			err = &ProcessError{Message: "failed to write to agent", Cause: err}
			s.writeFailed(gen, err)
		}
		errc <- err
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClearTranscript empties the transcript. A reply still in flight opens a
// new message when its next event arrives.
func (s *Session) ClearTranscript() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Clear()
	for _, ch := range transcript.Channels {
		s.armWatchdogLocked(ch)
	}
}

// --- connection internals ---------------------------------------------------

// startLoops runs with s.mu held. The loops get a copy of the settings they
// read so Reconfigure does not race with them.
func (s *Session) startLoops(gen uint64, proc Process) {
	stdoutDone := make(chan struct{})
	stderrDone := make(chan struct{})
	chunk, maxLine, onStderr := s.config.ReadChunkSize, s.config.MaxLineSize, s.config.StderrHandler

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		defer close(stdoutDone)
		s.readLoop(gen, ndjson.NewReaderSize(proc.Stdout(), chunk, maxLine), maxLine)
	}()
	go func() {
		defer s.wg.Done()
		defer close(stderrDone)
		s.stderrLoop(proc.Stderr(), chunk, maxLine, onStderr)
	}()
	go func() {
		defer s.wg.Done()
		<-stdoutDone
		<-stderrDone
		code, err := proc.Wait()
		s.handleExit(gen, code, err)
	}()
}

// readLoop reads NDJSON lines from the agent and dispatches events.
func (s *Session) readLoop(gen uint64, reader *ndjson.Reader, maxLine int) {
	defer func() {
		if n := reader.Discarded(); n > 0 {
			s.log.Warn("discarded oversized lines from agent", "count", n, "max_line_size", maxLine)
		}
	}()

	for {
		line, err := reader.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				s.log.Debug("agent stdout closed", "error", err)
			}
			return
		}
		s.log.Log(context.Background(), logging.LevelTrace, "agent line", "line", string(line))
		s.record(line)

		if ev := s.dispatch.Decode(line); ev != nil {
			s.handleEvent(gen, ev)
		}
	}
}

// stderrLoop logs the agent's stderr line by line.
func (s *Session) stderrLoop(r io.Reader, chunk, maxLine int, onStderr func([]byte)) {
	if r == nil {
		return
	}
	re := ndjson.NewReassembler(maxLine)
	buf := make([]byte, chunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if onStderr != nil {
				onStderr(append([]byte(nil), buf[:n]...))
			}
			for _, line := range re.Feed(buf[:n]) {
				s.log.Debug("agent stderr", "line", string(line))
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) handleEvent(gen uint64, ev protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		s.log.Debug("dropping event from previous connection", "type", ev.EventType())
		return
	}

	if _, ok := ev.(protocol.ReadyEvent); ok {
		if s.State() == StateConnecting {
			s.setStateLocked(StateConnected, nil)
		}
		return
	}

	switch ev.(type) {
	case protocol.ErrorEvent:
		s.pending = false
		s.errored = true
	case protocol.DoneEvent:
		if s.errored && !s.store.TurnOpen(transcript.ChannelPrimary) {
			// The done that follows an error belongs to the failed turn.
			s.log.Debug("consuming done after error")
			s.errored = false
			return
		}
		s.errored = false
		s.pending = false
	case protocol.ChunkEvent, protocol.ToolCallEvent:
		s.errored = false
	}
	s.tracker.Apply(ev)
	if ch, ok := turn.ChannelOf(ev); ok {
		s.armWatchdogLocked(ch)
	}
}

func (s *Session) handleExit(gen uint64, code int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		s.log.Debug("agent exited", "exit_code", code)
		return
	}

	perr := &ProcessError{Message: "agent exited unexpectedly", Cause: err, ExitCode: code, Exited: true}
	switch s.State() {
	case StateConnected:
		s.log.Error("agent exited unexpectedly", "exit_code", code)
		s.store.Append(transcript.Message{
			Role:    transcript.RoleSystem,
			Text:    fmt.Sprintf("Agent process exited unexpectedly (exit code %d)", code),
			Status:  transcript.StatusError,
			Channel: transcript.ChannelPrimary,
		})
		s.failLocked(perr)
	case StateConnecting:
		perr.Message = "agent exited before becoming ready"
		s.log.Error(perr.Message, "exit_code", code)
		s.failLocked(perr)
	}
}

func (s *Session) writeFailed(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.log.Error("failed to write to agent", "error", err)
	s.failLocked(err)
}

// failLocked tears down the connection and moves to the error state.
func (s *Session) failLocked(err error) {
	s.teardownLocked()
	s.setStateLocked(StateError, err)
}

// teardownLocked ends the current generation: the process is told to stop,
// timers are cancelled and turn pointers are forgotten.
func (s *Session) teardownLocked() {
	s.gen++
	for ch, t := range s.watchdogs {
		t.Stop()
		delete(s.watchdogs, ch)
	}
	s.pending = false
	s.errored = false
	s.tracker.Reset()

	if s.proc != nil {
		s.proc.Terminate()
		s.proc = nil
		s.stdin = nil
		if s.config.PIDFile != "" {
			if err := pidfile.Remove(s.config.PIDFile); err != nil {
				s.log.Warn("failed to remove pid file", "path", s.config.PIDFile, "error", err)
			}
		}
	}
}

func (s *Session) setStateLocked(next ConnectionState, err error) {
	s.stateMu.Lock()
	prev := s.state
	if prev == next {
		s.stateMu.Unlock()
		return
	}
	if !prev.CanTransition(next) {
		s.log.Warn("unexpected connection state transition", "from", prev, "to", next)
	}
	s.state = next
	switch next {
	case StateError:
		s.lastErr = err
	case StateConnecting:
		s.lastErr = nil
	}
	close(s.changed)
	s.changed = make(chan struct{})
	s.stateMu.Unlock()

	if err != nil {
		s.log.Info("connection state changed", "from", prev, "to", next, "error", err)
	} else {
		s.log.Info("connection state changed", "from", prev, "to", next)
	}
	s.emit(StateChanged{Old: prev, New: next, Err: err})
}

// --- watchdog -----------------------------------------------------------------

// armWatchdogLocked restarts channel's silence timer, or stops it when the
// channel has nothing in flight.
func (s *Session) armWatchdogLocked(ch transcript.Channel) {
	if s.config.TurnTimeout <= 0 {
		return
	}
	if t := s.watchdogs[ch]; t != nil {
		t.Stop()
		delete(s.watchdogs, ch)
	}

	inFlight := s.store.TurnOpen(ch) || (ch == transcript.ChannelPrimary && s.pending)
	if !inFlight {
		return
	}

	gen := s.gen
	var t *time.Timer
	t = time.AfterFunc(s.config.TurnTimeout, func() { s.expire(gen, ch, &t) })
	s.watchdogs[ch] = t
}

func (s *Session) expire(gen uint64, ch transcript.Channel, t **time.Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.watchdogs[ch] != *t {
		return
	}
	delete(s.watchdogs, ch)

	reason := fmt.Sprintf("No response from agent for %s", s.config.TurnTimeout)
	if !s.tracker.Expire(ch, reason) && ch == transcript.ChannelPrimary && s.pending {
		s.tracker.Apply(protocol.ErrorEvent{Text: reason})
	}
	if ch == transcript.ChannelPrimary {
		s.pending = false
	}
}

// record copies a wire line to the recorder. Blank lines are not kept.
func (s *Session) record(line []byte) {
	if s.recorder == nil || len(bytes.TrimSpace(line)) == 0 {
		return
	}
	if err := s.recorder.WriteRaw(line); err != nil {
		s.log.Debug("failed to record wire line", "error", err)
	}
}

// emit runs with s.mu held; every store mutation happens under it too.
func (s *Session) emit(event Event) {
	for _, o := range s.config.Observers {
		o.OnSessionEvent(event)
	}
}

// reap drains and waits for a process nobody else owns.
func reap(proc Process) {
	var wg sync.WaitGroup
	for _, r := range []io.Reader{proc.Stdout(), proc.Stderr()} {
		if r == nil {
			continue
		}
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			_, _ = io.Copy(io.Discard, r)
		}(r)
	}
	wg.Wait()
	_, _ = proc.Wait()
}
