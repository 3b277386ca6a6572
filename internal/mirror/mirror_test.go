package mirror

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"testing"
	"testing/iotest"

	"github.com/vmihailenco/msgpack/v5"
)

func frame(payload string) []byte {
	return []byte("Content-Length: " + strconv.Itoa(len(payload)) + "\r\n\r\n" + payload)
}

func TestRoundTripPayloadsByteIdentical(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`),
		{},
		[]byte("binary\r\n\r\nwith frame separators \x00\xff inside"),
		bytes.Repeat([]byte("x"), 1<<16),
	}

	var stream bytes.Buffer
	w, err := NewWriter(&stream)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range payloads {
		if err := w.Record(p); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(bytes.NewReader(stream.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range payloads {
		rec, err := r.Next()
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if rec.Seq != uint64(i+1) {
			t.Fatalf("record %d has seq %d", i, rec.Seq)
		}
		if !bytes.Equal(rec.Payload, want) {
			t.Fatalf("record %d payload differs", i)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("after last record: %v, want io.EOF", err)
	}
}

func TestTeeReaderCapturesFramesAcrossSplitReads(t *testing.T) {
	var source bytes.Buffer
	source.Write(frame(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	source.WriteString("Content-Type: application/vscode-jsonrpc; charset=utf-8\r\nContent-Length: 7\r\n\r\npayload")
	source.Write(frame(""))
	source.Write(frame(`{"jsonrpc":"2.0","method":"exit"}`))
	original := source.Bytes()

	var stream bytes.Buffer
	w, err := NewWriter(&stream)
	if err != nil {
		t.Fatal(err)
	}
	// One byte per read exercises the incremental frame scanner.
	tee := TeeReader(iotest.OneByteReader(bytes.NewReader(original)), w, nil)
	passed, err := io.ReadAll(tee)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(passed, original) {
		t.Fatal("tee disturbed the live stream")
	}

	r, err := NewReader(bytes.NewReader(stream.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		"payload",
		"",
		`{"jsonrpc":"2.0","method":"exit"}`,
	}
	for i, p := range want {
		rec, err := r.Next()
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if string(rec.Payload) != p {
			t.Fatalf("record %d = %q, want %q", i, rec.Payload, p)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("after last record: %v", err)
	}
}

func TestRecordThenReplayReproducesStream(t *testing.T) {
	var source bytes.Buffer
	source.Write(frame(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	source.Write(frame(`{"jsonrpc":"2.0","method":"initialized","params":{}}`))
	source.Write(frame(`{"jsonrpc":"2.0","method":"exit"}`))
	original := source.Bytes()

	var stream bytes.Buffer
	w, err := NewWriter(&stream)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadAll(TeeReader(bytes.NewReader(original), w, nil)); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(bytes.NewReader(stream.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	replayed, err := io.ReadAll(ReplayReader(r))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(replayed, original) {
		t.Fatal("replayed stream differs from the recorded one")
	}
}

func TestReaderRejectsForeignSchema(t *testing.T) {
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(header{Schema: 99}); err != nil {
		t.Fatal(err)
	}
	if _, err := NewReader(&buf); !errors.Is(err, ErrSchema) {
		t.Fatalf("err = %v, want ErrSchema", err)
	}
}

func TestReaderDetectsSequenceGap(t *testing.T) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.Encode(header{Schema: schemaVersion}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Encode(Record{Seq: 2, Payload: []byte("x")}); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want a sequence error", err)
	}
}

func TestTeeSurvivesWriterFailure(t *testing.T) {
	source := bytes.Repeat(frame("payload"), 3)

	w, err := NewWriter(&failAfter{writes: 1})
	if err != nil {
		t.Fatal(err)
	}
	passed, err := io.ReadAll(TeeReader(bytes.NewReader(source), w, nil))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(passed, source) {
		t.Fatal("recorder failure disturbed the live stream")
	}
}

// failAfter accepts a fixed number of writes, then fails.
type failAfter struct{ writes int }

func (f *failAfter) Write(p []byte) (int, error) {
	if f.writes <= 0 {
		return 0, errors.New("disk full")
	}
	f.writes--
	return len(p), nil
}

func TestFileBackedStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.vlmrec")

	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Record([]byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := w.Record([]byte("two")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	for _, want := range []string{"one", "two"} {
		rec, err := r.Next()
		if err != nil {
			t.Fatal(err)
		}
		if string(rec.Payload) != want {
			t.Fatalf("payload = %q, want %q", rec.Payload, want)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("after last record: %v", err)
	}
}
