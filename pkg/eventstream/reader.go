// Package eventstream reads blank-line delimited `data:` records from a
// streamed HTTP response body.
package eventstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoData is returned by Decode when a record has no data lines.
var ErrNoData = errors.New("eventstream: record without data")

const chunkSize = 4096

// Record is a single event of the stream.
type Record struct {
	Event string
	ID    string
	Data  string
}

// Reader splits a byte stream into records. Bytes after the last delimiter
// are kept until the next read so a record split across chunks is emitted
// once and intact.
type Reader struct {
	r       io.Reader
	buf     []byte
	pending []byte
	records []Record
	eof     bool
	err     error
}

// NewReader returns a reader consuming r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:   r,
		buf: make([]byte, chunkSize),
	}
}

// Next returns the next record with data. It returns io.EOF once the
// underlying reader is exhausted and every buffered record was returned.
func (r *Reader) Next() (Record, error) {
	for {
		if len(r.records) > 0 {
			rec := r.records[0]
			r.records = r.records[1:]
			return rec, nil
		}
		if r.err != nil {
			return Record{}, r.err
		}
		if r.eof {
			r.err = io.EOF
			if rest := bytes.TrimSpace(r.pending); len(rest) > 0 {
				r.pending = nil
				r.push(rest)
			}
			continue
		}
		r.fill()
	}
}

// Decode reads the next record and unmarshals its data as JSON into v.
func (r *Reader) Decode(v any) error {
	rec, err := r.Next()
	if err != nil {
		return err
	}
	if rec.Data == "" {
		return ErrNoData
	}
	if err := json.Unmarshal([]byte(rec.Data), v); err != nil {
		return fmt.Errorf("eventstream: couldn't unmarshal %q: %w", truncate(rec.Data, 100), err)
	}
	return nil
}

func (r *Reader) fill() {
	n, err := r.r.Read(r.buf)
	if n > 0 {
		r.pending = append(r.pending, r.buf[:n]...)
		// A "\r" left at the end of the previous chunk joins the "\n" that
		// starts this one before normalizing.
		if bytes.IndexByte(r.pending, '\r') >= 0 {
			r.pending = normalize(r.pending)
		}
		r.split()
	}
	switch {
	case err == io.EOF:
		r.eof = true
	case err != nil:
		r.err = fmt.Errorf("eventstream: couldn't read: %w", err)
	}
}

func (r *Reader) split() {
	for {
		idx := bytes.Index(r.pending, []byte("\n\n"))
		if idx < 0 {
			return
		}
		block := r.pending[:idx]
		r.pending = r.pending[idx+2:]
		r.push(block)
	}
}

func (r *Reader) push(block []byte) {
	rec, ok := parse(string(block))
	if ok {
		r.records = append(r.records, rec)
	}
}

func parse(block string) (Record, bool) {
	var rec Record
	var data []string
	for _, line := range strings.Split(block, "\n") {
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
		case "event":
			rec.Event = value
		case "id":
			rec.ID = value
		}
	}
	if len(data) == 0 {
		return Record{}, false
	}
	rec.Data = strings.Join(data, "\n")
	if strings.TrimSpace(rec.Data) == "" {
		return Record{}, false
	}
	return rec, true
}

// normalize converts CRLF and lone CR line endings to LF. A trailing CR is
// kept as is since its LF may still be in flight.
func normalize(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != '\r' {
			out = append(out, c)
			continue
		}
		if i == len(b)-1 {
			out = append(out, c)
			break
		}
		if b[i+1] == '\n' {
			continue
		}
		out = append(out, '\n')
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
