// Package ndjson implements newline-delimited JSON framing over byte
// streams: reassembling arbitrary read chunks into complete lines, and
// writing one record per line.
package ndjson

import "bytes"

// Reassembler turns arbitrarily split chunks of a byte stream into complete
// lines. It holds a single pending partial line; a line is emitted exactly
// once, and only after its terminator has arrived.
//
// A Reassembler is not safe for concurrent use.
type Reassembler struct {
	pending []byte
	// MaxLineSize caps the pending partial line. Zero means unlimited.
	MaxLineSize int
	discarded   int
	skipping    bool
}

// NewReassembler returns a Reassembler with the given line size cap.
func NewReassembler(maxLineSize int) *Reassembler {
	return &Reassembler{MaxLineSize: maxLineSize}
}

// Feed appends chunk to the pending buffer and returns every line completed
// by it, in order, without terminators. A trailing "\r" is stripped so CRLF
// streams work. The returned slices are owned by the caller.
func (r *Reassembler) Feed(chunk []byte) [][]byte {
	var lines [][]byte
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			r.appendPartial(chunk)
			break
		}
		segment := chunk[:i]
		chunk = chunk[i+1:]

		if r.skipping {
			// Tail of an oversized line; the terminator ends the skip.
			r.skipping = false
			continue
		}
		if r.MaxLineSize > 0 && len(r.pending)+len(segment) > r.MaxLineSize {
			r.pending = r.pending[:0]
			r.discarded++
			continue
		}

		line := make([]byte, 0, len(r.pending)+len(segment))
		line = append(line, r.pending...)
		line = append(line, segment...)
		r.pending = r.pending[:0]
		lines = append(lines, bytes.TrimSuffix(line, []byte{'\r'}))
	}
	return lines
}

func (r *Reassembler) appendPartial(chunk []byte) {
	if r.skipping {
		return
	}
	if r.MaxLineSize > 0 && len(r.pending)+len(chunk) > r.MaxLineSize {
		r.pending = r.pending[:0]
		r.discarded++
		r.skipping = true
		return
	}
	r.pending = append(r.pending, chunk...)
}

// Pending reports the number of buffered bytes of the incomplete line.
func (r *Reassembler) Pending() int {
	return len(r.pending)
}

// Discarded reports how many oversized lines have been dropped.
func (r *Reassembler) Discarded() int {
	return r.discarded
}

// Reset drops any buffered partial line.
func (r *Reassembler) Reset() {
	r.pending = nil
	r.skipping = false
}
