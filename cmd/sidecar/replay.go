package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/spamsch/son-of-simon-sub001/internal/tui"
	"github.com/spamsch/son-of-simon-sub001/replay"
	"github.com/spamsch/son-of-simon-sub001/transcript"
)

var replayJSON bool

var replayCmd = &cobra.Command{
	Use:   "replay <recording>",
	Short: "Rebuild and print the transcript of a recorded session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, _, closeLog := newLogger(cfg, os.Stderr)
		defer closeLog()

		store := transcript.NewStore(transcript.WithLogger(log))
		stats, err := replay.RunFile(args[0], store, replay.Options{
			Logger:      log,
			MaxLineSize: cfg.Agent.MaxLineSize,
		})
		if err != nil {
			return err
		}
		log.Info("replay finished",
			"lines", stats.Lines,
			"events", stats.Events,
			"user_turns", stats.UserTurns,
			"sessions", stats.Sessions,
			"malformed", stats.Malformed,
			"unknown", stats.Unknown,
			"discarded", stats.Discarded,
		)

		out := cmd.OutOrStdout()
		if replayJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(store.Snapshot())
		}

		width := 100
		var md *tui.MarkdownRenderer
		if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
				width = w
			}
			md, _ = tui.NewMarkdownRenderer(width, "")
		}
		_, err = fmt.Fprintln(out, tui.RenderTranscript(store.Snapshot(), md, tui.DefaultStyles(), width))
		return err
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "Output the transcript as JSON")
}
