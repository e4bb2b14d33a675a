package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ergochat/readline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spamsch/son-of-simon-sub001/internal/config"
	"github.com/spamsch/son-of-simon-sub001/internal/logging"
	"github.com/spamsch/son-of-simon-sub001/internal/tui"
	"github.com/spamsch/son-of-simon-sub001/sidecar"
	"github.com/spamsch/son-of-simon-sub001/transcript"
)

func TestAgentOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.Command = "/usr/local/bin/macbot"
	cfg.Agent.Args = []string{"start"}
	cfg.Agent.Env = map[string]string{"MACBOT_PROFILE": "work"}
	cfg.Agent.WorkDir = "/tmp"
	cfg.Agent.PIDFile = "/tmp/service.pid"
	cfg.Agent.TurnTimeout = time.Minute

	var sc sidecar.SessionConfig
	for _, opt := range agentOptions(cfg) {
		opt(&sc)
	}
	assert.Equal(t, "/usr/local/bin/macbot", sc.Command)
	assert.Equal(t, []string{"start"}, sc.Args)
	assert.Equal(t, "work", sc.Env["MACBOT_PROFILE"])
	assert.Equal(t, "/tmp", sc.WorkDir)
	assert.Equal(t, "/tmp/service.pid", sc.PIDFile)
	assert.Equal(t, time.Minute, sc.TurnTimeout)
	assert.Equal(t, 8<<20, sc.MaxLineSize)
}

type fakeReloadTarget struct {
	applied    []sidecar.SessionOption
	reconnects int
}

func (f *fakeReloadTarget) Reconfigure(opts ...sidecar.SessionOption) { f.applied = opts }
func (f *fakeReloadTarget) Reconnect(context.Context) error {
	f.reconnects++
	return nil
}

func TestReloader(t *testing.T) {
	target := &fakeReloadTarget{}
	next := config.Default()
	var loadErr error
	r := &reloader{
		session: target,
		current: config.Default(),
		log:     logging.Discard(),
		load:    func() (*config.Config, error) { return next, loadErr },
	}

	r.reload(context.Background())
	assert.Zero(t, target.reconnects, "unchanged agent settings keep the agent running")

	next = config.Default()
	next.Agent.Command = "other"
	r.reload(context.Background())
	assert.Equal(t, 1, target.reconnects)
	assert.NotEmpty(t, target.applied)
	assert.Same(t, next, r.current)

	loadErr = errors.New("bad yaml")
	r.reload(context.Background())
	assert.Equal(t, 1, target.reconnects, "invalid configuration is ignored")
}

type scriptedLines struct {
	lines []string
	errs  []error
}

func (s *scriptedLines) ReadLine() (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line, err := s.lines[0], s.errs[0]
	s.lines, s.errs = s.lines[1:], s.errs[1:]
	return line, err
}

func lines(ls ...string) *scriptedLines {
	return &scriptedLines{lines: ls, errs: make([]error, len(ls))}
}

type fakeChat struct {
	sendErr    error
	sent       []string
	reconnects int
	clears     int
}

func (f *fakeChat) Send(_ context.Context, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}
func (f *fakeChat) Reconnect(context.Context) error     { f.reconnects++; return nil }
func (f *fakeChat) WaitConnected(context.Context) error { return nil }
func (f *fakeChat) ClearTranscript()                    { f.clears++ }

func TestChatLoop(t *testing.T) {
	chat := &fakeChat{}
	in := lines("hello", "  ", "/clear", "/reconnect", "second", "/quit", "never")

	var out bytes.Buffer
	require.NoError(t, chatLoop(context.Background(), in, chat, &out))
	assert.Equal(t, []string{"hello", "second"}, chat.sent)
	assert.Equal(t, 1, chat.clears)
	assert.Equal(t, 1, chat.reconnects)
	assert.Empty(t, out.String())
}

func TestChatLoop_InterruptAndRejection(t *testing.T) {
	chat := &fakeChat{sendErr: sidecar.ErrTurnInProgress}
	in := lines("", "busy")
	in.errs[0] = readline.ErrInterrupt

	var out bytes.Buffer
	require.NoError(t, chatLoop(context.Background(), in, chat, &out))
	assert.Contains(t, out.String(), "not sent: "+sidecar.ErrTurnInProgress.Error())
}

func TestPrinter(t *testing.T) {
	store := transcript.NewStore()
	var out bytes.Buffer
	p := &printer{out: &out, store: store, styles: tui.DefaultStyles(), width: 80}
	store.AddObserver(transcript.ObserverFunc(func(e transcript.Event) {
		p.OnSessionEvent(sidecar.TranscriptChanged{Event: e})
	}))

	store.Append(transcript.Message{Role: transcript.RoleUser, Text: "typed", Status: transcript.StatusComplete, Channel: transcript.ChannelPrimary})
	id := store.Append(transcript.Message{Role: transcript.RoleAssistant, Status: transcript.StatusStreaming, Channel: transcript.ChannelPrimary})
	store.Mutate(id, func(m *transcript.Message) { m.Text = "partial" })
	assert.Empty(t, out.String(), "nothing printed until the reply completes")

	store.Mutate(id, func(m *transcript.Message) { m.Status = transcript.StatusComplete })
	store.Mutate(id, func(m *transcript.Message) {})
	assert.Equal(t, 1, strings.Count(out.String(), "partial"))
	assert.NotContains(t, out.String(), "typed")

	p.OnSessionEvent(sidecar.StateChanged{New: sidecar.StateError, Err: errors.New("agent exited")})
	assert.Contains(t, out.String(), "error: agent exited")
}
