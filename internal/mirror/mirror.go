// Package mirror records the client side of a protocol session as a
// msgpack record stream, and replays such a stream as if a client were
// typing it. Recording is a byte-level tee of the inbound frame payloads,
// so a replayed session is exactly the session the client drove.
package mirror

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// schemaVersion increments when the record layout changes.
const schemaVersion uint16 = 1

// ErrSchema reports a record stream written by an incompatible version.
var ErrSchema = errors.New("mirror: unsupported record schema")

type header struct {
	Schema    uint16
	CreatedAt time.Time
}

// Record is one inbound client frame payload.
type Record struct {
	Seq     uint64
	At      time.Time
	Payload []byte
}

// Writer appends frame payloads to a record stream. Safe for concurrent
// use.
type Writer struct {
	mu  sync.Mutex
	bw  *bufio.Writer
	enc *msgpack.Encoder
	c   io.Closer
	seq uint64
}

// NewWriter writes the stream header to w and returns the record writer.
func NewWriter(w io.Writer) (*Writer, error) {
	bw := bufio.NewWriter(w)
	enc := msgpack.NewEncoder(bw)
	if err := enc.Encode(header{Schema: schemaVersion, CreatedAt: time.Now()}); err != nil {
		return nil, fmt.Errorf("mirror: write header: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	return &Writer{bw: bw, enc: enc}, nil
}

// Create opens path for writing and writes the stream header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.c = f
	return w, nil
}

// Record appends one frame payload. Each record is flushed so a crashed
// process leaves a readable stream behind.
func (w *Writer) Record(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq++
	if err := w.enc.Encode(Record{Seq: w.seq, At: time.Now(), Payload: payload}); err != nil {
		return err
	}
	return w.bw.Flush()
}

// Close flushes and closes the underlying file, when there is one.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if w.c != nil {
		return w.c.Close()
	}
	return nil
}

// Reader reads a record stream back in order.
type Reader struct {
	dec  *msgpack.Decoder
	c    io.Closer
	next uint64
}

// NewReader validates the stream header and returns the record reader.
func NewReader(r io.Reader) (*Reader, error) {
	dec := msgpack.NewDecoder(r)
	var h header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("mirror: read header: %w", err)
	}
	if h.Schema != schemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSchema, h.Schema, schemaVersion)
	}
	return &Reader{dec: dec}, nil
}

// Open opens a record stream file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.c = f
	return r, nil
}

// Next returns the next record, io.EOF at the end of the stream. A sequence
// gap means the stream is corrupt.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		return Record{}, err
	}
	r.next++
	if rec.Seq != r.next {
		return Record{}, fmt.Errorf("mirror: record %d out of order, want %d", rec.Seq, r.next)
	}
	return rec, nil
}

// Close closes the underlying file, when there is one.
func (r *Reader) Close() error {
	if r.c != nil {
		return r.c.Close()
	}
	return nil
}
