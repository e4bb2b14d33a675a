// Package replay feeds a recorded agent conversation through the same
// reassembly, dispatch and turn tracking a live session uses, so a
// transcript can be rebuilt offline.
package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spamsch/son-of-simon-sub001/internal/ndjson"
	"github.com/spamsch/son-of-simon-sub001/protocol"
	"github.com/spamsch/son-of-simon-sub001/transcript"
	"github.com/spamsch/son-of-simon-sub001/turn"
)

// Stats summarizes a replay.
type Stats struct {
	Lines     int
	Events    int
	UserTurns int
	Sessions  int
	Malformed int64
	Unknown   int64
	Discarded int
}

// Options tune how a recording is read.
type Options struct {
	Logger *slog.Logger
	// ChunkSize is the read size; small values exercise reassembly.
	ChunkSize   int
	MaxLineSize int
}

// Run reads a recording from r and applies it to store. Outbound
// {"type":"message"} records become user turns and session_start markers
// forget every open turn, as a reconnect does; everything else goes through
// the event dispatcher. A trailing line without a newline is ignored, as a
// live session would.
func Run(r io.Reader, store *transcript.Store, opts Options) (Stats, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	reader := ndjson.NewReaderSize(r, opts.ChunkSize, opts.MaxLineSize)
	dispatch := protocol.NewDispatcher(log)
	tracker := turn.NewTracker(store, log)

	var stats Stats
	for {
		line, err := reader.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read recording: %w", err)
		}
		stats.Lines++

		switch kind, text := recordType(line); kind {
		case "message":
			tracker.BeginUserTurn(text)
			stats.UserTurns++
			continue
		case protocol.SessionStartType:
			tracker.Reset()
			stats.Sessions++
			continue
		}
		if ev := dispatch.Decode(line); ev != nil {
			tracker.Apply(ev)
			stats.Events++
		}
	}

	stats.Malformed, stats.Unknown = dispatch.Stats()
	stats.Discarded = reader.Discarded()
	return stats, nil
}

// RunFile replays the recording at path.
func RunFile(path string, store *transcript.Store, opts Options) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer f.Close()
	return Run(f, store, opts)
}

// recordType reports the type of a record the sidecar wrote itself, along
// with its text for user messages.
func recordType(line []byte) (string, string) {
	var rec protocol.UserMessage
	if err := json.Unmarshal(line, &rec); err != nil {
		return "", ""
	}
	return rec.Type, rec.Text
}
