package mirror

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"vellum/internal/log"
)

// TeeReader passes r through unchanged while appending every complete
// Content-Length frame payload it observes to w. Recording is best-effort:
// the first write failure disables the tee and is logged once, the live
// stream is never disturbed.
func TeeReader(r io.Reader, w *Writer, lg *log.Logger) io.Reader {
	if lg == nil {
		lg = log.Nop()
	}
	return &teeReader{r: r, w: w, lg: lg, need: -1}
}

type teeReader struct {
	r  io.Reader
	w  *Writer
	lg *log.Logger

	buf bytes.Buffer
	// need is the payload byte count still missing for the current frame;
	// -1 while scanning for a header block.
	need int
}

func (t *teeReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 && t.w != nil {
		t.scan(p[:n])
	}
	return n, err
}

func (t *teeReader) scan(b []byte) {
	t.buf.Write(b)
	for {
		if t.need < 0 {
			raw := t.buf.Bytes()
			i := bytes.Index(raw, []byte("\r\n\r\n"))
			if i < 0 {
				return
			}
			headers := string(raw[:i])
			t.buf.Next(i + 4)
			t.need = contentLength(headers)
			if t.need < 0 {
				// No usable length; drop the header block and rescan.
				continue
			}
		}
		if t.buf.Len() < t.need {
			return
		}
		payload := make([]byte, t.need)
		_, _ = t.buf.Read(payload)
		t.need = -1
		if err := t.w.Record(payload); err != nil {
			t.lg.Warn("mirror recording stopped", "err", err)
			t.w = nil
			return
		}
	}
}

func contentLength(headers string) int {
	for _, line := range strings.Split(headers, "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return -1
		}
		return n
	}
	return -1
}

// ReplayReader yields the recorded frames as a Content-Length framed byte
// stream, as if the recorded client were connected. The stream ends with
// io.EOF after the last record.
func ReplayReader(r *Reader) io.Reader {
	return &replayReader{r: r}
}

type replayReader struct {
	r   *Reader
	buf bytes.Buffer
}

func (p *replayReader) Read(b []byte) (int, error) {
	for p.buf.Len() == 0 {
		rec, err := p.r.Next()
		if err != nil {
			return 0, err
		}
		p.buf.WriteString("Content-Length: ")
		p.buf.WriteString(strconv.Itoa(len(rec.Payload)))
		p.buf.WriteString("\r\n\r\n")
		p.buf.Write(rec.Payload)
	}
	return p.buf.Read(b)
}
