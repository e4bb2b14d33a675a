package ndjson

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
)

const defaultChunkSize = 4096

// ErrEmbeddedNewline is returned when a raw record would span more than one
// line on the wire.
var ErrEmbeddedNewline = errors.New("ndjson: record contains a newline")

// Reader yields complete lines from an underlying reader, reading it in
// fixed-size chunks and reassembling across chunk boundaries.
type Reader struct {
	r     io.Reader
	re    *Reassembler
	buf   []byte
	ready [][]byte
	err   error
}

// NewReader returns a Reader with no line size cap.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, defaultChunkSize, 0)
}

// NewReaderSize returns a Reader reading chunkSize bytes at a time and
// dropping lines longer than maxLineSize (zero means unlimited).
func NewReaderSize(r io.Reader, chunkSize, maxLineSize int) *Reader {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Reader{
		r:   r,
		re:  NewReassembler(maxLineSize),
		buf: make([]byte, chunkSize),
	}
}

// ReadLine returns the next complete line without its terminator. A final
// unterminated segment at EOF is never returned; ReadLine then reports
// io.EOF.
func (r *Reader) ReadLine() ([]byte, error) {
	for len(r.ready) == 0 {
		if r.err != nil {
			return nil, r.err
		}
		n, err := r.r.Read(r.buf)
		if n > 0 {
			r.ready = append(r.ready, r.re.Feed(r.buf[:n])...)
		}
		if err != nil {
			r.err = err
		}
	}
	line := r.ready[0]
	r.ready = r.ready[1:]
	return line, nil
}

// Discarded reports how many oversized lines were dropped.
func (r *Reader) Discarded() int {
	return r.re.Discarded()
}

// Writer writes one JSON record per line. It is safe for concurrent use;
// each record is written with a single Write call so records never
// interleave.
type Writer struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Encode marshals v and writes it followed by a newline.
func (w *Writer) Encode(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.WriteRaw(data)
}

// WriteRaw writes an already-encoded record followed by a newline.
func (w *Writer) WriteRaw(record []byte) error {
	for _, b := range record {
		if b == '\n' {
			return ErrEmbeddedNewline
		}
	}
	line := make([]byte, 0, len(record)+1)
	line = append(line, record...)
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(line)
	return err
}
