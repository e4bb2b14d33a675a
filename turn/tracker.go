// Package turn multiplexes protocol events onto the transcript. Each channel
// runs its own IDLE -> OPEN -> IDLE cycle: the first content event of a
// turn appends a streaming assistant message, later events mutate it in
// place, and a terminating event finalizes it and clears the channel's
// turn pointer.
package turn

import (
	"log/slog"

	"github.com/spamsch/son-of-simon-sub001/protocol"
	"github.com/spamsch/son-of-simon-sub001/transcript"
)

// FallbackErrorText is shown when an error event carries no text.
const FallbackErrorText = "An unknown error occurred"

// SupersededText finalizes a bridged-chat placeholder that a newer incoming
// message replaced before the agent answered it.
const SupersededText = "Superseded by a newer message"

// Tracker applies events to a transcript store. It is not safe for
// concurrent use; the owning session serializes calls.
type Tracker struct {
	store *transcript.Store
	log   *slog.Logger
}

// NewTracker creates a tracker writing into store.
func NewTracker(store *transcript.Store, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{store: store, log: log}
}

// ChannelOf returns the channel an event targets. ReadyEvent targets none.
func ChannelOf(ev protocol.Event) (transcript.Channel, bool) {
	switch ev.(type) {
	case protocol.ChunkEvent, protocol.ToolCallEvent, protocol.ToolResultEvent,
		protocol.DoneEvent, protocol.ErrorEvent:
		return transcript.ChannelPrimary, true
	case protocol.SecondaryTurnEvent:
		return transcript.ChannelSecondary, true
	default:
		return "", false
	}
}

// Apply routes ev to its channel's state machine and reports whether the
// transcript changed.
func (t *Tracker) Apply(ev protocol.Event) bool {
	switch e := ev.(type) {
	case protocol.ChunkEvent:
		return t.chunk(transcript.ChannelPrimary, e.Text)
	case protocol.ToolCallEvent:
		return t.toolCall(transcript.ChannelPrimary, e)
	case protocol.ToolResultEvent:
		return t.toolResult(transcript.ChannelPrimary, e)
	case protocol.DoneEvent:
		return t.done(transcript.ChannelPrimary)
	case protocol.ErrorEvent:
		return t.fail(transcript.ChannelPrimary, e.Text)
	case protocol.SecondaryTurnEvent:
		switch e.Direction {
		case protocol.DirectionIncoming:
			return t.incoming(e)
		case protocol.DirectionOutgoing:
			return t.outgoing(e)
		}
		t.log.Warn("ignoring secondary turn with unknown direction", "direction", e.Direction)
		return false
	case protocol.ReadyEvent:
		// Handshake only; the supervisor consumes it.
		return false
	default:
		t.log.Debug("ignoring event", "type", ev.EventType())
		return false
	}
}

// BeginUserTurn appends the complete user message for a primary send.
func (t *Tracker) BeginUserTurn(text string) transcript.ID {
	return t.store.Append(transcript.Message{
		Role:    transcript.RoleUser,
		Text:    text,
		Status:  transcript.StatusComplete,
		Channel: transcript.ChannelPrimary,
	})
}

// Reset forgets every open turn without finalizing its message. Messages
// that were streaming stay streaming.
func (t *Tracker) Reset() {
	for _, ch := range transcript.Channels {
		if id, ok := t.store.CloseTurn(ch, false); ok {
			t.log.Debug("abandoned open turn", "channel", ch, "id", id)
		}
	}
}

// Expire finalizes channel's open turn as an error with reason as its
// text. It returns false if no turn was open.
func (t *Tracker) Expire(channel transcript.Channel, reason string) bool {
	id, ok := t.store.CurrentTurn(channel)
	if !ok {
		return false
	}
	t.store.Mutate(id, func(m *transcript.Message) {
		m.Status = transcript.StatusError
		m.Text = reason
	})
	t.store.CloseTurn(channel, true)
	t.log.Warn("expired open turn", "channel", channel, "id", id, "reason", reason)
	return true
}

// open returns channel's open turn, appending a streaming assistant message
// when none is open.
func (t *Tracker) open(channel transcript.Channel) transcript.ID {
	if id, ok := t.store.CurrentTurn(channel); ok {
		return id
	}
	id := t.store.Append(transcript.Message{
		Role:    transcript.RoleAssistant,
		Status:  transcript.StatusStreaming,
		Channel: channel,
	})
	t.store.OpenTurn(channel, id)
	return id
}

func (t *Tracker) chunk(channel transcript.Channel, delta string) bool {
	id := t.open(channel)
	t.store.Mutate(id, func(m *transcript.Message) {
		m.Text += delta
	})
	return true
}

func (t *Tracker) toolCall(channel transcript.Channel, e protocol.ToolCallEvent) bool {
	id := t.open(channel)
	args := e.Arguments
	if args == nil {
		args = map[string]string{}
	}
	t.store.Mutate(id, func(m *transcript.Message) {
		m.ToolCalls = append(m.ToolCalls, transcript.ToolCall{Name: e.Name, Arguments: args})
	})
	return true
}

// toolResult attaches to the last tool call of the open message. Tool calls
// are assumed to run one at a time within a turn.
func (t *Tracker) toolResult(channel transcript.Channel, e protocol.ToolResultEvent) bool {
	id, ok := t.store.CurrentTurn(channel)
	if !ok {
		t.log.Debug("dropping tool result with no open turn", "channel", channel)
		return false
	}
	msg, ok := t.store.Get(id)
	if !ok || msg.LastToolCall() == nil {
		t.log.Debug("dropping tool result with no tool call", "channel", channel, "id", id)
		return false
	}

	result := &transcript.ToolResult{Success: e.Succeeded(), Error: e.Error}
	return t.store.Mutate(id, func(m *transcript.Message) {
		m.LastToolCall().Result = result
	})
}

func (t *Tracker) done(channel transcript.Channel) bool {
	id, ok := t.store.CurrentTurn(channel)
	if !ok {
		t.log.Debug("done with no open turn", "channel", channel)
		return false
	}
	t.store.Mutate(id, func(m *transcript.Message) {
		m.Status = transcript.StatusComplete
	})
	t.store.CloseTurn(channel, true)
	return true
}

func (t *Tracker) fail(channel transcript.Channel, text string) bool {
	if text == "" {
		text = FallbackErrorText
	}

	id, ok := t.store.CurrentTurn(channel)
	if !ok {
		t.store.Append(transcript.Message{
			Role:    transcript.RoleSystem,
			Text:    text,
			Status:  transcript.StatusError,
			Channel: channel,
		})
		return true
	}

	t.store.Mutate(id, func(m *transcript.Message) {
		m.Status = transcript.StatusError
		m.Text = text
	})
	t.store.CloseTurn(channel, true)
	return true
}

// incoming records a bridged-chat message and opens the placeholder for the
// agent's reply. A placeholder still open from an earlier message is
// finalized as an error first, so the channel never has two streaming
// messages.
func (t *Tracker) incoming(e protocol.SecondaryTurnEvent) bool {
	if prev, ok := t.store.CurrentTurn(transcript.ChannelSecondary); ok {
		t.log.Debug("superseding unanswered secondary turn", "id", prev)
		t.store.Mutate(prev, func(m *transcript.Message) {
			m.Status = transcript.StatusError
			if m.Text == "" {
				m.Text = SupersededText
			}
		})
		t.store.CloseTurn(transcript.ChannelSecondary, true)
	}

	t.store.Append(transcript.Message{
		Role:    transcript.RoleUser,
		Text:    e.Text,
		Status:  transcript.StatusComplete,
		Channel: transcript.ChannelSecondary,
		ChatID:  e.ChatID,
		Media:   media(e.ImageURL),
	})
	id := t.store.Append(transcript.Message{
		Role:    transcript.RoleAssistant,
		Status:  transcript.StatusStreaming,
		Channel: transcript.ChannelSecondary,
		ChatID:  e.ChatID,
	})
	t.store.OpenTurn(transcript.ChannelSecondary, id)
	return true
}

func (t *Tracker) outgoing(e protocol.SecondaryTurnEvent) bool {
	id, ok := t.store.CurrentTurn(transcript.ChannelSecondary)
	if !ok {
		t.store.Append(transcript.Message{
			Role:    transcript.RoleAssistant,
			Text:    e.Text,
			Status:  transcript.StatusComplete,
			Channel: transcript.ChannelSecondary,
			ChatID:  e.ChatID,
			Media:   media(e.ImageURL),
		})
		return true
	}

	t.store.Mutate(id, func(m *transcript.Message) {
		m.Text = e.Text
		m.Status = transcript.StatusComplete
		if e.ChatID != "" {
			m.ChatID = e.ChatID
		}
		if e.ImageURL != "" {
			m.Media = media(e.ImageURL)
		}
	})
	t.store.CloseTurn(transcript.ChannelSecondary, true)
	return true
}

func media(url string) *transcript.Media {
	if url == "" {
		return nil
	}
	return &transcript.Media{URL: url}
}
