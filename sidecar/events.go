package sidecar

import "github.com/spamsch/son-of-simon-sub001/transcript"

// Observer receives session notifications.
type Observer interface {
	OnSessionEvent(event Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnSessionEvent calls f(event).
func (f ObserverFunc) OnSessionEvent(event Event) { f(event) }

// Event is the interface for session notifications.
type Event interface {
	sessionEvent()
}

// StateChanged fires on every connection state transition. Err is set when
// New is StateError.
type StateChanged struct {
	Err error
	Old ConnectionState
	New ConnectionState
}

// TranscriptChanged forwards a transcript store mutation.
type TranscriptChanged struct {
	Event transcript.Event
}

func (StateChanged) sessionEvent()      {}
func (TranscriptChanged) sessionEvent() {}
