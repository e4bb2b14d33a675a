package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/spamsch/son-of-simon-sub001/bridge"
	"github.com/spamsch/son-of-simon-sub001/internal/config"
	"github.com/spamsch/son-of-simon-sub001/sidecar"
)

var (
	serveAddr   string
	serveToken  string
	serveNoAuth bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent and expose the session over a local websocket",
	Long: `Serve keeps the agent running and publishes the transcript to websocket
clients at /ws. Clients send {"type":"message","text":...} to talk to the
agent. Configuration files are watched; when the agent settings change the
agent is restarted with the new settings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, _, closeLog := newLogger(cfg, os.Stderr)
		defer closeLog()

		addr := cfg.Bridge.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		token := serveToken
		if token == "" && !serveNoAuth {
			if token, err = bridge.GenerateToken(); err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bridge token: %s\n", token)
		}

		session, closeSession, err := newSession(cfg, log)
		if err != nil {
			return err
		}
		defer closeSession()

		srv := bridge.NewServer(session, bridge.Options{
			Logger:         log.With("component", "bridge"),
			Token:          token,
			AllowedOrigins: cfg.Bridge.AllowedOrigins,
		})
		session.AddObserver(srv)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		if err := session.Connect(ctx); err != nil && !sidecar.IsRecoverable(err) {
			return err
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := &reloader{session: session, current: cfg, log: log}
			w := config.NewWatcher(config.WatchPaths(config.DefaultSources(configPath)), log)
			if err := w.Run(ctx, func() { r.reload(ctx) }); err != nil {
				log.Warn("config watcher stopped", "error", err)
			}
		}()

		err = srv.ListenAndServe(ctx, addr)
		cancel()
		wg.Wait()
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, 127.0.0.1:8765)")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Bearer token clients must present (generated if empty)")
	serveCmd.Flags().BoolVar(&serveNoAuth, "no-auth", false, "Accept clients without a token")
}

// reloader applies configuration changes to a running session.
type reloader struct {
	session interface {
		Reconfigure(opts ...sidecar.SessionOption)
		Reconnect(ctx context.Context) error
	}
	current *config.Config
	log     *slog.Logger
	load    func() (*config.Config, error)
}

func (r *reloader) reload(ctx context.Context) {
	load := r.load
	if load == nil {
		load = loadConfig
	}
	next, err := load()
	if err != nil {
		r.log.Warn("ignoring invalid configuration", "error", err)
		return
	}
	if next.Log.Level != r.current.Log.Level {
		r.log.Info("log level change takes effect on restart", "level", next.Log.Level)
	}
	if r.current.SameAgent(next) {
		r.current = next
		return
	}

	r.log.Info("agent configuration changed, restarting agent", "files", next.Files)
	r.current = next
	r.session.Reconfigure(agentOptions(next)...)
	if err := r.session.Reconnect(ctx); err != nil {
		r.log.Error("failed to restart agent", "error", err)
	}
}
