// Package tui is the full-screen terminal front end for a sidecar session.
package tui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/spamsch/son-of-simon-sub001/sidecar"
	"github.com/spamsch/son-of-simon-sub001/transcript"
)

// Controller is the part of a session the TUI drives.
type Controller interface {
	Send(ctx context.Context, text string) error
	Reconnect(ctx context.Context) error
	ClearTranscript()
	State() sidecar.ConnectionState
	LastError() error
	Transcript() *transcript.Store
}

type sessionChangedMsg struct{}

type sendResultMsg struct {
	err  error
	text string
}

type reconnectResultMsg struct {
	err error
}

// Notifier turns session events into redraws. Register it as a session
// observer before starting the program.
type Notifier struct {
	ch chan struct{}
}

// NewNotifier creates a notifier.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// OnSessionEvent implements sidecar.Observer. It never blocks.
func (n *Notifier) OnSessionEvent(sidecar.Event) {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// Model is the bubbletea model for the chat screen.
type Model struct {
	ctx      context.Context
	ctrl     Controller
	notifier *Notifier
	md       *MarkdownRenderer
	styles   *Styles
	lastErr  error
	flash    string
	messages []transcript.Message
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	width    int
	height   int
	state    sidecar.ConnectionState
	ready    bool
}

// NewModel creates the chat model. md may be nil.
func NewModel(ctx context.Context, ctrl Controller, notifier *Notifier, md *MarkdownRenderer) Model {
	input := textinput.New()
	input.Placeholder = "Message the agent"
	input.Prompt = "> "
	input.Focus()

	m := Model{
		ctx:      ctx,
		ctrl:     ctrl,
		notifier: notifier,
		md:       md,
		styles:   DefaultStyles(),
		input:    input,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		viewport: viewport.New(80, 20),
	}
	m.refresh()
	return m
}

// Init starts cursor blinking, the spinner and the session listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.listen())
}

func (m Model) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
			return nil
		case <-m.notifier.ch:
			return sessionChangedMsg{}
		}
	}
}

// Update handles input and session changes.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.layout()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			return m.submit()
		case "ctrl+r":
			m.flash = "reconnecting…"
			return m, m.reconnect()
		case "ctrl+l":
			m.ctrl.ClearTranscript()
			m.flash = ""
			m.refresh()
			return m, nil
		case "pgup", "pgdown", "ctrl+u", "ctrl+d":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case sessionChangedMsg:
		m.refresh()
		return m, m.listen()

	case sendResultMsg:
		if msg.err != nil {
			m.flash = "not sent: " + describe(msg.err)
			if m.input.Value() == "" {
				m.input.SetValue(msg.text)
			}
		}
		return m, nil

	case reconnectResultMsg:
		m.flash = ""
		if msg.err != nil {
			m.flash = "reconnect failed: " + describe(msg.err)
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	if text == "" {
		return m, nil
	}
	m.input.Reset()
	m.flash = ""
	ctx, ctrl := m.ctx, m.ctrl
	return m, func() tea.Msg {
		return sendResultMsg{text: text, err: ctrl.Send(ctx, text)}
	}
}

func (m Model) reconnect() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		return reconnectResultMsg{err: ctrl.Reconnect(ctx)}
	}
}

func (m *Model) layout() {
	inputHeight := 3
	headerHeight := 1
	footerHeight := 1
	h := m.height - inputHeight - headerHeight - footerHeight
	if h < 1 {
		h = 1
	}
	m.viewport.Width = m.width
	m.viewport.Height = h
	m.input.Width = m.width - 6
	if m.md != nil {
		_ = m.md.SetWidth(m.width - 2)
	}
}

// refresh copies session state into the model and re-renders the
// transcript, following the bottom unless the user has scrolled up.
func (m *Model) refresh() {
	m.state = m.ctrl.State()
	m.lastErr = m.ctrl.LastError()
	m.messages = m.ctrl.Transcript().Snapshot()

	follow := m.viewport.AtBottom()
	m.viewport.SetContent(RenderTranscript(m.messages, m.md, m.styles, m.width))
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m Model) busy() bool {
	for _, msg := range m.messages {
		if msg.Status == transcript.StatusStreaming {
			return true
		}
	}
	return false
}

// View renders the screen.
func (m Model) View() string {
	if !m.ready {
		return "starting…"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.header(),
		m.viewport.View(),
		m.footer(),
		m.styles.InputBox.Width(max(m.width-2, 1)).Render(m.input.View()),
	)
}

func (m Model) header() string {
	var state string
	switch m.state {
	case sidecar.StateConnected:
		state = m.styles.Connected.Render("● connected")
	case sidecar.StateConnecting:
		state = m.styles.Pending.Render(m.spinner.View() + " connecting")
	case sidecar.StateError:
		state = m.styles.Error.Render("● error")
	default:
		state = m.styles.Dim.Render("○ disconnected")
	}
	return m.styles.Header.Width(m.width).Render("macbot  " + state)
}

func (m Model) footer() string {
	switch {
	case m.flash != "":
		return m.styles.Pending.Render(m.flash)
	case m.state == sidecar.StateError && m.lastErr != nil:
		return m.styles.Error.Render(describe(m.lastErr) + "  (ctrl+r to reconnect)")
	case m.busy():
		return m.styles.Dim.Render(m.spinner.View() + " agent is working")
	default:
		return m.styles.Dim.Render("enter send · ctrl+r reconnect · ctrl+l clear · esc quit")
	}
}

func describe(err error) string {
	var notFound *sidecar.CommandNotFoundError
	switch {
	case errors.As(err, &notFound):
		return fmt.Sprintf("agent command %q not found", notFound.Path)
	case errors.Is(err, sidecar.ErrNotConnected):
		return "not connected to the agent"
	case errors.Is(err, sidecar.ErrTurnInProgress):
		return "the agent is still answering"
	default:
		return err.Error()
	}
}
