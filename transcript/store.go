package transcript

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the single source of truth for a session's transcript. Messages
// keep their position for their whole life; only their contents change.
// The store also holds each channel's turn pointer, so clearing the
// transcript and forgetting open turns happen together.
type Store struct {
	now       func() time.Time
	newID     func() ID
	log       *slog.Logger
	index     map[ID]int
	turns     map[Channel]ID
	messages  []Message
	observers []Observer
	mu        sync.RWMutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the time source used for message timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator sets the message id source. Ids must never repeat.
func WithIDGenerator(gen func() ID) StoreOption {
	return func(s *Store) { s.newID = gen }
}

// WithLogger sets the logger for diagnostics.
func WithLogger(log *slog.Logger) StoreOption {
	return func(s *Store) { s.log = log }
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		now:   time.Now,
		newID: func() ID { return ID(uuid.NewString()) },
		log:   slog.Default(),
		index: make(map[ID]int),
		turns: make(map[Channel]ID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- Write API (called by the turn tracker) --------------------------------

// Append adds msg at the end, assigns it a fresh id and returns the id. A
// zero Timestamp is filled in from the store's clock.
func (s *Store) Append(msg Message) ID {
	msg = msg.Clone()

	s.mu.Lock()
	msg.ID = s.newID()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	idx := len(s.messages)
	s.messages = append(s.messages, msg)
	s.index[msg.ID] = idx
	s.mu.Unlock()

	s.notify(MessageAppended{ID: msg.ID, Index: idx})
	return msg.ID
}

// Mutate applies fn to the message with the given id, in place. fn works on
// a private copy that replaces the stored message when fn returns; the id
// cannot be changed. A missing id is a logged no-op and returns false.
func (s *Store) Mutate(id ID, fn func(*Message)) bool {
	s.mu.Lock()
	idx, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		s.log.Debug("ignoring mutation of unknown message", "id", id)
		return false
	}
	msg := s.messages[idx].Clone()
	fn(&msg)
	msg.ID = id
	s.messages[idx] = msg
	s.mu.Unlock()

	s.notify(MessageUpdated{ID: id})
	return true
}

// Clear empties the transcript and forgets every open turn.
func (s *Store) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.index = make(map[ID]int)
	s.turns = make(map[Channel]ID)
	s.mu.Unlock()

	s.notify(Cleared{})
}

// OpenTurn points channel at the message it is now streaming into.
func (s *Store) OpenTurn(channel Channel, id ID) {
	s.mu.Lock()
	s.turns[channel] = id
	s.mu.Unlock()

	s.notify(TurnOpened{Channel: channel, ID: id})
}

// CloseTurn clears channel's turn pointer and returns the id it held.
// finalized records whether the message reached a terminal status.
func (s *Store) CloseTurn(channel Channel, finalized bool) (ID, bool) {
	s.mu.Lock()
	id, ok := s.turns[channel]
	delete(s.turns, channel)
	s.mu.Unlock()

	if ok {
		s.notify(TurnClosed{Channel: channel, ID: id, Finalized: finalized})
	}
	return id, ok
}

// --- Read API ----------------------------------------------------------------

// Get returns a copy of the message with the given id.
func (s *Store) Get(id ID) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return s.messages[idx].Clone(), true
}

// Snapshot returns a deep-copied, ordered view of all messages.
func (s *Store) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	for i := range s.messages {
		out[i] = s.messages[i].Clone()
	}
	return out
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// CurrentTurn returns the id of the message channel is streaming into.
func (s *Store) CurrentTurn(channel Channel) (ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.turns[channel]
	return id, ok
}

// TurnOpen reports whether channel has a turn in flight.
func (s *Store) TurnOpen(channel Channel) bool {
	_, ok := s.CurrentTurn(channel)
	return ok
}

// --- Observer management ----------------------------------------------------

// AddObserver registers an observer notified after every mutation.
func (s *Store) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// notify calls every observer synchronously; keep handlers fast and do not
// call write methods from them.
func (s *Store) notify(event Event) {
	s.mu.RLock()
	obs := s.observers
	s.mu.RUnlock()
	for _, o := range obs {
		o.OnTranscriptEvent(event)
	}
}
