package sidecar

import (
	"io"
	"log/slog"
	"time"

	"github.com/spamsch/son-of-simon-sub001/transcript"
)

// SessionConfig holds session configuration.
type SessionConfig struct {
	Spawner       Spawner
	Recorder      io.Writer // optional; receives every wire line in both directions
	StderrHandler func([]byte)
	Env           map[string]string
	Logger        *slog.Logger
	Command       string // agent executable (default: "macbot")
	WorkDir       string
	PIDFile       string // optional; records the agent pid while connected
	Args          []string
	Observers     []Observer
	StoreOptions  []transcript.StoreOption
	TurnTimeout   time.Duration // 0 disables the watchdog
	MaxLineSize   int           // 0 means unlimited
	ReadChunkSize int
}

// SessionOption is a functional option for configuring a Session.
type SessionOption func(*SessionConfig)

// WithCommand sets the agent executable and its arguments.
func WithCommand(path string, args ...string) SessionOption {
	return func(c *SessionConfig) {
		c.Command = path
		c.Args = args
	}
}

// WithEnv sets additional environment variables for the agent.
func WithEnv(env map[string]string) SessionOption {
	return func(c *SessionConfig) {
		c.Env = env
	}
}

// WithWorkDir sets the agent's working directory.
func WithWorkDir(dir string) SessionOption {
	return func(c *SessionConfig) {
		c.WorkDir = dir
	}
}

// WithSpawner replaces the process spawner (default: ExecSpawner).
func WithSpawner(s Spawner) SessionOption {
	return func(c *SessionConfig) {
		c.Spawner = s
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) SessionOption {
	return func(c *SessionConfig) {
		c.Logger = log
	}
}

// WithObserver registers an observer for state and transcript events.
// Observers run synchronously on the session's goroutines; they may read
// State, LastError and the transcript but must not call Connect,
// Disconnect, Reconnect, Send or Close.
func WithObserver(o Observer) SessionOption {
	return func(c *SessionConfig) {
		c.Observers = append(c.Observers, o)
	}
}

// WithTurnTimeout enables the watchdog: a turn that sees no event for d is
// finalized with a timeout error.
func WithTurnTimeout(d time.Duration) SessionOption {
	return func(c *SessionConfig) {
		c.TurnTimeout = d
	}
}

// WithMaxLineSize caps the length of a single line from the agent.
func WithMaxLineSize(n int) SessionOption {
	return func(c *SessionConfig) {
		c.MaxLineSize = n
	}
}

// WithStderrHandler receives the agent's raw stderr output.
func WithStderrHandler(h func([]byte)) SessionOption {
	return func(c *SessionConfig) {
		c.StderrHandler = h
	}
}

// WithPIDFile records the agent pid at path while connected.
func WithPIDFile(path string) SessionOption {
	return func(c *SessionConfig) {
		c.PIDFile = path
	}
}

// WithRecorder copies every line read from and written to the agent to w,
// one per line, in the format the replay package reads. Each spawned agent
// is preceded by a session_start marker.
func WithRecorder(w io.Writer) SessionOption {
	return func(c *SessionConfig) {
		c.Recorder = w
	}
}

// WithStoreOptions configures the transcript store.
func WithStoreOptions(opts ...transcript.StoreOption) SessionOption {
	return func(c *SessionConfig) {
		c.StoreOptions = append(c.StoreOptions, opts...)
	}
}

func defaultConfig() SessionConfig {
	return SessionConfig{
		Command:       "macbot",
		Args:          []string{"start", "--foreground"},
		Spawner:       ExecSpawner{},
		MaxLineSize:   8 << 20,
		ReadChunkSize: 4096,
	}
}
