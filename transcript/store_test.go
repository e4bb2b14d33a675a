package transcript

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	events []Event
	mu     sync.Mutex
}

func (r *recordingObserver) OnTranscriptEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func sequentialIDs() func() ID {
	n := 0
	return func() ID {
		n++
		return ID(fmt.Sprintf("m%d", n))
	}
}

func TestStore_AppendAssignsFreshIDs(t *testing.T) {
	s := NewStore()
	a := s.Append(Message{Role: RoleUser, Text: "a"})
	b := s.Append(Message{Role: RoleUser, Text: "b", ID: a})

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b, "caller-supplied ids are ignored")

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, a, snap[0].ID)
	assert.Equal(t, b, snap[1].ID)
}

func TestStore_AppendStampsTime(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewStore(WithClock(func() time.Time { return fixed }))

	id := s.Append(Message{Role: RoleSystem})
	msg, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, fixed, msg.Timestamp)

	earlier := fixed.Add(-time.Hour)
	id = s.Append(Message{Role: RoleSystem, Timestamp: earlier})
	msg, _ = s.Get(id)
	assert.Equal(t, earlier, msg.Timestamp)
}

func TestStore_MutatePreservesPosition(t *testing.T) {
	s := NewStore(WithIDGenerator(sequentialIDs()))
	s.Append(Message{Text: "first"})
	second := s.Append(Message{Text: "second", Status: StatusStreaming})
	s.Append(Message{Text: "third"})

	ok := s.Mutate(second, func(m *Message) {
		m.Text += " edited"
		m.Status = StatusComplete
		m.ID = "hijacked"
	})
	require.True(t, ok)

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "second edited", snap[1].Text)
	assert.Equal(t, StatusComplete, snap[1].Status)
	assert.Equal(t, second, snap[1].ID, "ids are immutable")
}

func TestStore_MutateMissingIDIsNoOp(t *testing.T) {
	obs := &recordingObserver{}
	s := NewStore()
	s.Append(Message{Text: "only"})
	s.AddObserver(obs)

	called := false
	ok := s.Mutate("nope", func(*Message) { called = true })
	assert.False(t, ok)
	assert.False(t, called)
	assert.Empty(t, obs.events)
}

func TestStore_SnapshotIsDeepCopy(t *testing.T) {
	s := NewStore()
	id := s.Append(Message{
		Media: &Media{URL: "https://a"},
		ToolCalls: []ToolCall{{
			Name:      "t",
			Arguments: map[string]string{"k": "v"},
			Result:    &ToolResult{Success: true},
		}},
	})

	snap := s.Snapshot()
	snap[0].Media.URL = "mutated"
	snap[0].ToolCalls[0].Arguments["k"] = "mutated"
	snap[0].ToolCalls[0].Result.Success = false
	snap[0].ToolCalls = append(snap[0].ToolCalls, ToolCall{Name: "extra"})

	orig, _ := s.Get(id)
	assert.Equal(t, "https://a", orig.Media.URL)
	assert.Equal(t, "v", orig.ToolCalls[0].Arguments["k"])
	assert.True(t, orig.ToolCalls[0].Result.Success)
	assert.Len(t, orig.ToolCalls, 1)
}

func TestStore_AppendDoesNotAliasCaller(t *testing.T) {
	s := NewStore()
	args := map[string]string{"k": "v"}
	id := s.Append(Message{ToolCalls: []ToolCall{{Name: "t", Arguments: args}}})
	args["k"] = "changed"

	msg, _ := s.Get(id)
	assert.Equal(t, "v", msg.ToolCalls[0].Arguments["k"])
}

func TestStore_TurnPointers(t *testing.T) {
	s := NewStore()
	id := s.Append(Message{Status: StatusStreaming, Channel: ChannelPrimary})

	assert.False(t, s.TurnOpen(ChannelPrimary))
	s.OpenTurn(ChannelPrimary, id)
	assert.True(t, s.TurnOpen(ChannelPrimary))
	assert.False(t, s.TurnOpen(ChannelSecondary))

	got, ok := s.CurrentTurn(ChannelPrimary)
	require.True(t, ok)
	assert.Equal(t, id, got)

	closed, ok := s.CloseTurn(ChannelPrimary, true)
	require.True(t, ok)
	assert.Equal(t, id, closed)
	assert.False(t, s.TurnOpen(ChannelPrimary))

	_, ok = s.CloseTurn(ChannelPrimary, true)
	assert.False(t, ok)
}

func TestStore_ClearDropsMessagesAndTurns(t *testing.T) {
	s := NewStore()
	id := s.Append(Message{Status: StatusStreaming})
	s.OpenTurn(ChannelSecondary, id)

	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.TurnOpen(ChannelSecondary))
	_, ok := s.Get(id)
	assert.False(t, ok)
	assert.False(t, s.Mutate(id, func(*Message) {}))
}

func TestStore_ObserverEvents(t *testing.T) {
	obs := &recordingObserver{}
	s := NewStore(WithIDGenerator(sequentialIDs()))
	s.AddObserver(obs)

	id := s.Append(Message{})
	s.OpenTurn(ChannelPrimary, id)
	s.Mutate(id, func(m *Message) { m.Text = "x" })
	s.CloseTurn(ChannelPrimary, false)
	s.Clear()

	assert.Equal(t, []Event{
		MessageAppended{ID: "m1", Index: 0},
		TurnOpened{Channel: ChannelPrimary, ID: "m1"},
		MessageUpdated{ID: "m1"},
		TurnClosed{Channel: ChannelPrimary, ID: "m1", Finalized: false},
		Cleared{},
	}, obs.events)
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := NewStore()
	id := s.Append(Message{Status: StatusStreaming})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Snapshot()
			}
		}()
	}
	for j := 0; j < 100; j++ {
		s.Mutate(id, func(m *Message) { m.Text += "." })
	}
	wg.Wait()

	msg, _ := s.Get(id)
	assert.Len(t, msg.Text, 100)
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusStreaming.IsTerminal())
	assert.True(t, StatusComplete.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
}
