package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ergochat/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/spamsch/son-of-simon-sub001/internal/config"
	"github.com/spamsch/son-of-simon-sub001/internal/tui"
	"github.com/spamsch/son-of-simon-sub001/sidecar"
	"github.com/spamsch/son-of-simon-sub001/transcript"
)

const connectTimeout = 30 * time.Second

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent on the command line",
	Long: `Chat reads messages from a line editor and prints each reply once it is
complete. Lines starting with a slash are commands: /reconnect, /clear and
/quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, _, closeLog := newLogger(cfg, os.Stderr)
		defer closeLog()

		rl, err := readline.NewFromConfig(&readline.Config{
			Prompt:          "> ",
			HistoryFile:     historyFile(),
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
		})
		if err != nil {
			return fmt.Errorf("init line editor: %w", err)
		}
		defer rl.Close()

		width := 100
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
			width = w
		}
		md, _ := tui.NewMarkdownRenderer(width, "")

		pr := &printer{out: rl, md: md, styles: tui.DefaultStyles(), width: width}
		session, closeSession, err := newSession(cfg, log, sidecar.WithObserver(pr))
		if err != nil {
			return err
		}
		defer closeSession()
		pr.store = session.Transcript()

		ctx := cmd.Context()
		if err := connectAndWait(ctx, session); err != nil {
			return err
		}
		return chatLoop(ctx, rl, session, rl)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, config.DirName, "chat_history")
}

func connectAndWait(ctx context.Context, s *sidecar.Session) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := s.WaitConnected(waitCtx); err != nil {
		return fmt.Errorf("agent did not become ready: %w", err)
	}
	return nil
}

type lineReader interface {
	ReadLine() (string, error)
}

// chatController is the part of a session the chat loop drives.
type chatController interface {
	Send(ctx context.Context, text string) error
	Reconnect(ctx context.Context) error
	WaitConnected(ctx context.Context) error
	ClearTranscript()
}

func chatLoop(ctx context.Context, in lineReader, s chatController, out io.Writer) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := in.ReadLine()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			s.ClearTranscript()
			continue
		case "/reconnect":
			if err := s.Reconnect(ctx); err != nil {
				fmt.Fprintf(out, "reconnect failed: %v\n", err)
				continue
			}
			waitCtx, cancel := context.WithTimeout(ctx, connectTimeout)
			err := s.WaitConnected(waitCtx)
			cancel()
			if err != nil {
				fmt.Fprintf(out, "agent did not become ready: %v\n", err)
			}
			continue
		}

		if err := s.Send(ctx, line); err != nil {
			fmt.Fprintf(out, "not sent: %v\n", err)
		}
	}
}

// printer writes each message once it reaches a terminal status, skipping
// the primary user messages the line editor already echoed.
type printer struct {
	out     io.Writer
	store   *transcript.Store
	md      *tui.MarkdownRenderer
	styles  *tui.Styles
	printed map[transcript.ID]bool
	width   int
	mu      sync.Mutex
}

func (p *printer) OnSessionEvent(ev sidecar.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed == nil {
		p.printed = make(map[transcript.ID]bool)
	}

	switch e := ev.(type) {
	case sidecar.StateChanged:
		switch e.New {
		case sidecar.StateConnected:
			fmt.Fprintln(p.out, p.styles.Dim.Render("connected to agent"))
		case sidecar.StateError:
			if e.Err != nil {
				fmt.Fprintln(p.out, p.styles.Error.Render("error: "+e.Err.Error()))
			}
		}
	case sidecar.TranscriptChanged:
		var id transcript.ID
		switch te := e.Event.(type) {
		case transcript.MessageAppended:
			id = te.ID
		case transcript.MessageUpdated:
			id = te.ID
		case transcript.Cleared:
			p.printed = make(map[transcript.ID]bool)
			return
		default:
			return
		}
		if p.store == nil || p.printed[id] {
			return
		}
		msg, ok := p.store.Get(id)
		if !ok || !msg.Status.IsTerminal() {
			return
		}
		p.printed[id] = true
		if msg.Role == transcript.RoleUser && msg.Channel == transcript.ChannelPrimary {
			return
		}
		fmt.Fprintln(p.out, tui.RenderMessage(msg, p.md, p.styles, p.width)+"\n")
	}
}
