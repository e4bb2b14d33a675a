// Command sidecar hosts the macbot agent: it supervises the agent process,
// keeps the conversation transcript and exposes it on the terminal or over
// a local websocket.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spamsch/son-of-simon-sub001/internal/config"
	"github.com/spamsch/son-of-simon-sub001/internal/logging"
	"github.com/spamsch/son-of-simon-sub001/sidecar"
)

var version = "dev"

var (
	configPath string
	logDir     string
	recordPath string
	verbosity  int
)

var rootCmd = &cobra.Command{
	Use:   "sidecar",
	Short: "Host the macbot agent and its conversation",
	Long: `Sidecar starts the macbot agent as a child process, talks to it over
newline-delimited JSON, and keeps a live transcript of the conversation,
including turns bridged in from chat bots.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file layered over ~/.macbot/sidecar.yaml and ./.macbot/sidecar.yaml")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Also write logs to a timestamped file in this directory")
	rootCmd.PersistentFlags().StringVar(&recordPath, "record", "", "Record every wire line to this file for later replay")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-vv for wire tracing)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.DefaultSources(configPath))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the logger from config and flags. Returns the logger,
// the log file path if any, and a cleanup function.
func newLogger(cfg *config.Config, stderr io.Writer) (*slog.Logger, string, func()) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	level = logging.LevelForVerbosity(level, verbosity)

	dir := cfg.Log.Dir
	if logDir != "" {
		dir = logDir
	}
	return logging.NewFileLogger(stderr, dir, level)
}

// agentOptions maps the agent section of the config onto session options.
func agentOptions(cfg *config.Config) []sidecar.SessionOption {
	a := cfg.Agent
	return []sidecar.SessionOption{
		sidecar.WithCommand(a.Command, a.Args...),
		sidecar.WithEnv(a.Env),
		sidecar.WithWorkDir(a.WorkDir),
		sidecar.WithPIDFile(a.PIDFile),
		sidecar.WithTurnTimeout(a.TurnTimeout),
		sidecar.WithMaxLineSize(a.MaxLineSize),
	}
}

// newSession creates a session from config. The returned cleanup closes the
// session and the recording file.
func newSession(cfg *config.Config, log *slog.Logger, opts ...sidecar.SessionOption) (*sidecar.Session, func(), error) {
	all := append(agentOptions(cfg), sidecar.WithLogger(log))

	var rec *os.File
	if recordPath != "" {
		if err := os.MkdirAll(filepath.Dir(recordPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create recording dir: %w", err)
		}
		f, err := os.OpenFile(recordPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open recording: %w", err)
		}
		rec = f
		all = append(all, sidecar.WithRecorder(f))
		log.Info("recording session", "path", recordPath)
	}

	s := sidecar.NewSession(append(all, opts...)...)
	return s, func() {
		_ = s.Close()
		if rec != nil {
			_ = rec.Close()
		}
	}, nil
}
