package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spamsch/son-of-simon-sub001/internal/logging"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, DirName, FileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(Sources{})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "macbot", cfg.Agent.Command)
	assert.Zero(t, cfg.Agent.TurnTimeout)
}

func TestLoad_Layering(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()

	userPath := writeConfig(t, home, `
agent:
  command: /usr/local/bin/macbot
  turn_timeout: 2m
log:
  level: debug
`)
	projectPath := writeConfig(t, work, `
agent:
  args: [serve, --json]
  env:
    MACBOT_PROFILE: work
bridge:
  addr: 127.0.0.1:9000
`)

	cfg, err := Load(Sources{HomeDir: home, WorkDir: work})
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/macbot", cfg.Agent.Command, "user value survives")
	assert.Equal(t, []string{"serve", "--json"}, cfg.Agent.Args, "project value wins")
	assert.Equal(t, 2*time.Minute, cfg.Agent.TurnTimeout)
	assert.Equal(t, map[string]string{"MACBOT_PROFILE": "work"}, cfg.Agent.Env)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:9000", cfg.Bridge.Addr)
	assert.Equal(t, []string{userPath, projectPath}, cfg.Files)
}

func TestLoad_ExplicitAndEnv(t *testing.T) {
	explicit := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte("log:\n  level: warn\n"), 0o644))

	cfg, err := Load(Sources{
		Path: explicit,
		LookupEnv: env(map[string]string{
			EnvAgentCommand: "python -m macbot start --foreground",
			EnvLogLevel:     "trace",
			EnvTurnTimeout:  "45s",
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, "python", cfg.Agent.Command)
	assert.Equal(t, []string{"-m", "macbot", "start", "--foreground"}, cfg.Agent.Args)
	assert.Equal(t, "trace", cfg.Log.Level)
	assert.Equal(t, 45*time.Second, cfg.Agent.TurnTimeout)

	level, err := logging.ParseLevel(cfg.Log.Level)
	require.NoError(t, err)
	assert.Equal(t, logging.LevelTrace, level)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(Sources{Path: filepath.Join(t.TempDir(), "nope.yaml")})
		assert.Error(t, err)
	})
	t.Run("bad yaml", func(t *testing.T) {
		home := t.TempDir()
		writeConfig(t, home, "agent: [unterminated")
		_, err := Load(Sources{HomeDir: home})
		assert.ErrorContains(t, err, "user config")
	})
	t.Run("bad level", func(t *testing.T) {
		_, err := Load(Sources{LookupEnv: env(map[string]string{EnvLogLevel: "shouty"})})
		assert.ErrorContains(t, err, "log.level")
	})
	t.Run("bad timeout", func(t *testing.T) {
		_, err := Load(Sources{LookupEnv: env(map[string]string{EnvTurnTimeout: "soon"})})
		assert.ErrorContains(t, err, EnvTurnTimeout)
	})
	t.Run("empty command", func(t *testing.T) {
		home := t.TempDir()
		writeConfig(t, home, "agent:\n  command: \"\"\n")
		_, err := Load(Sources{HomeDir: home})
		assert.ErrorContains(t, err, "agent.command")
	})
}

func TestSameAgent(t *testing.T) {
	a := Default()
	b := Default()
	assert.True(t, a.SameAgent(b))

	b.Log.Level = "debug"
	assert.True(t, a.SameAgent(b), "log settings do not restart the agent")

	b.Agent.Args = []string{"other"}
	assert.False(t, a.SameAgent(b))

	c := Default()
	c.Agent.Env = map[string]string{"K": "v"}
	assert.False(t, a.SameAgent(c))
}

func TestWatchPaths(t *testing.T) {
	paths := WatchPaths(Sources{HomeDir: "/h", WorkDir: "/w", Path: "/x.yaml"})
	assert.Equal(t, []string{
		filepath.Join("/h", DirName, FileName),
		filepath.Join("/w", DirName, FileName),
		"/x.yaml",
	}, paths)
}

func TestWatcher_ReportsChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log:\n  level: info\n")

	w := NewWatcher([]string{path}, logging.Discard())
	w.debounce = 20 * time.Millisecond

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, func() { calls.Add(1) }) }()

	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)

	unrelated := filepath.Join(filepath.Dir(path), "other.yaml")
	require.NoError(t, os.WriteFile(unrelated, []byte("x: 1\n"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
