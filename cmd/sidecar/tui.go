package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/spamsch/son-of-simon-sub001/internal/config"
	"github.com/spamsch/son-of-simon-sub001/internal/tui"
	"github.com/spamsch/son-of-simon-sub001/sidecar"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Chat with the agent in a full-screen terminal UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return errors.New("stdout is not a terminal; use the chat command")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		// The screen belongs to the UI, so logs only go to a file.
		if cfg.Log.Dir == "" && logDir == "" {
			if home, err := os.UserHomeDir(); err == nil {
				cfg.Log.Dir = filepath.Join(home, config.DirName, "logs")
			}
		}
		log, logFile, closeLog := newLogger(cfg, io.Discard)
		defer closeLog()

		ctx := cmd.Context()
		notifier := tui.NewNotifier()
		session, closeSession, err := newSession(cfg, log, sidecar.WithObserver(notifier))
		if err != nil {
			return err
		}
		defer closeSession()

		if err := session.Connect(ctx); err != nil {
			// The error state is shown in the UI.
			log.Error("failed to start agent", "error", err)
		}

		md, err := tui.NewMarkdownRenderer(80, "")
		if err != nil {
			log.Warn("markdown rendering disabled", "error", err)
			md = nil
		}

		p := tea.NewProgram(tui.NewModel(ctx, session, notifier, md), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("TUI error: %w", err)
		}
		if logFile != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), "log written to", logFile)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}
