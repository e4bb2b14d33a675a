package protocol

import (
	"bytes"
	"log/slog"
	"sync/atomic"
)

// maxLoggedLine bounds how much of a bad line ends up in a log record.
const maxLoggedLine = 256

// Dispatcher maps lines to events, dropping anything that is not a valid
// known record. Drops are logged, never returned.
type Dispatcher struct {
	log       *slog.Logger
	malformed atomic.Int64
	unknown   atomic.Int64
}

// NewDispatcher returns a Dispatcher logging to log, or slog.Default if nil.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{log: log}
}

// Decode returns the event carried by line, or nil if the line is blank,
// malformed or of an unknown type.
func (d *Dispatcher) Decode(line []byte) Event {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	ev, err := ParseEvent(line)
	if err != nil {
		d.malformed.Add(1)
		d.log.Warn("dropping malformed line", "error", err, "line", truncate(line))
		return nil
	}
	if ev == nil {
		d.unknown.Add(1)
		d.log.Debug("skipping unknown record type", "line", truncate(line))
		return nil
	}
	return ev
}

// Stats reports how many lines were dropped as malformed and as unknown.
func (d *Dispatcher) Stats() (malformed, unknown int64) {
	return d.malformed.Load(), d.unknown.Load()
}

func truncate(line []byte) string {
	if len(line) <= maxLoggedLine {
		return string(line)
	}
	return string(line[:maxLoggedLine]) + "..."
}
