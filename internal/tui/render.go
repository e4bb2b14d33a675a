package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/spamsch/son-of-simon-sub001/transcript"
)

const streamingMarker = "▍"

// RenderMessage renders one transcript message for a terminal of the given
// width. md may be nil to skip markdown rendering.
func RenderMessage(msg transcript.Message, md *MarkdownRenderer, styles *Styles, width int) string {
	var b strings.Builder

	b.WriteString(roleLabel(msg, styles))
	if msg.Channel == transcript.ChannelSecondary {
		label := "via chat"
		if msg.ChatID != "" {
			label += " " + msg.ChatID
		}
		b.WriteString(" " + styles.Secondary.Render(label))
	}
	b.WriteString("\n")

	for _, tc := range msg.ToolCalls {
		b.WriteString("  " + FormatToolCall(tc, width-2, styles) + "\n")
	}

	text := msg.Text
	if msg.Role == transcript.RoleAssistant && msg.Status == transcript.StatusComplete {
		text = renderText(text, md)
	}
	switch {
	case msg.Status == transcript.StatusError:
		b.WriteString(styles.Error.Render(text))
	case text != "":
		b.WriteString(text)
	}
	if msg.Status == transcript.StatusStreaming {
		b.WriteString(styles.Dim.Render(streamingMarker))
	}

	if msg.Media != nil {
		b.WriteString("\n" + styles.Dim.Render("[media] "+msg.Media.URL))
	}
	return b.String()
}

func roleLabel(msg transcript.Message, styles *Styles) string {
	switch msg.Role {
	case transcript.RoleUser:
		return styles.User.Render("You")
	case transcript.RoleAssistant:
		return styles.Assistant.Render("Agent")
	default:
		return styles.System.Render("System")
	}
}

// FormatToolCall renders a tool call as one line no wider than width.
func FormatToolCall(tc transcript.ToolCall, width int, styles *Styles) string {
	status := styles.Dim.Render("…")
	suffix := ""
	if tc.Result != nil {
		if tc.Result.Success {
			status = styles.ToolOK.Render("✓")
		} else {
			status = styles.ToolFail.Render("✗")
			if tc.Result.Error != "" {
				suffix = ": " + tc.Result.Error
			}
		}
	}

	line := tc.Name + "(" + formatArguments(tc.Arguments) + ")" + suffix
	if width > 2 {
		line = runewidth.Truncate(line, width-2, "…")
	}
	return status + " " + line
}

func formatArguments(args map[string]string) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, args[k])
	}
	return strings.Join(parts, ", ")
}

// RenderTranscript renders every message separated by blank lines.
func RenderTranscript(msgs []transcript.Message, md *MarkdownRenderer, styles *Styles, width int) string {
	parts := make([]string, len(msgs))
	for i, msg := range msgs {
		parts[i] = RenderMessage(msg, md, styles, width)
	}
	return strings.Join(parts, "\n\n")
}
