package eventstream

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

// chunkReader returns the given chunks one per Read call.
type chunkReader struct {
	chunks []string
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	chunk := c.chunks[0]
	n := copy(p, chunk)
	if n < len(chunk) {
		c.chunks[0] = chunk[n:]
	} else {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func readAll(t *testing.T, r io.Reader) []Record {
	t.Helper()
	reader := NewReader(r)
	var got []Record
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return got
		}
		if err != nil {
			t.Fatalf("Next() err = %v; want nil", err)
		}
		got = append(got, rec)
	}
}

func equal(a, b []Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

const stream = `data: {"status":"Extracting","progress":10}` + "\n\n" +
	`data: {"status":"Analyzing","progress":60}` + "\n\n" +
	`data: {"result":{"analysis":{"tempo":120,"key":"C","energy":0.8,"genre":"Pop","mood":"Happy","has_vocals":true},"prompts":[{"name":"Basic","prompt":"..."}]}}` + "\n\n"

func TestNextSplitInvariance(t *testing.T) {
	want := readAll(t, strings.NewReader(stream))
	if len(want) != 3 {
		t.Fatalf("records = %d; want 3", len(want))
	}

	// Split the stream in two at every position.
	for i := 1; i < len(stream); i++ {
		r := &chunkReader{chunks: []string{stream[:i], stream[i:]}}
		got := readAll(t, r)
		if !equal(got, want) {
			t.Fatalf("split at %d: got %v; want %v", i, got, want)
		}
	}

	// One byte per read.
	got := readAll(t, iotest.OneByteReader(strings.NewReader(stream)))
	if !equal(got, want) {
		t.Fatalf("one byte reader: got %v; want %v", got, want)
	}

	// Three chunks around the record delimiters.
	for i := 1; i < len(stream)-1; i += 7 {
		for j := i + 1; j < len(stream); j += 11 {
			r := &chunkReader{chunks: []string{stream[:i], stream[i:j], stream[j:]}}
			got := readAll(t, r)
			if !equal(got, want) {
				t.Fatalf("split at %d,%d: got %v; want %v", i, j, got, want)
			}
		}
	}
}

func TestNextCRLF(t *testing.T) {
	in := "data: one\r\n\r\ndata: two\r\n\r\n"
	want := []Record{{Data: "one"}, {Data: "two"}}
	for i := 1; i < len(in); i++ {
		got := readAll(t, &chunkReader{chunks: []string{in[:i], in[i:]}})
		if !equal(got, want) {
			t.Fatalf("split at %d: got %v; want %v", i, got, want)
		}
	}
}

func TestNextUTF8Split(t *testing.T) {
	in := "data: {\"status\":\"Análisis ♫\"}\n\n"
	want := []Record{{Data: "{\"status\":\"Análisis ♫\"}"}}
	for i := 1; i < len(in); i++ {
		got := readAll(t, &chunkReader{chunks: []string{in[:i], in[i:]}})
		if !equal(got, want) {
			t.Fatalf("split at %d: got %v; want %v", i, got, want)
		}
	}
}

func TestNextFields(t *testing.T) {
	in := ": keep-alive\n\n" +
		"event: progress\nid: 7\ndata: a\ndata: b\n\n" +
		"data:\n\n" +
		"retry: 10\n\n" +
		"data:no-space"
	want := []Record{
		{Event: "progress", ID: "7", Data: "a\nb"},
		{Data: "no-space"},
	}
	got := readAll(t, strings.NewReader(in))
	if !equal(got, want) {
		t.Fatalf("got %v; want %v", got, want)
	}
}

func TestNextReadError(t *testing.T) {
	errBoom := errors.New("boom")
	r := io.MultiReader(strings.NewReader("data: 1\n\ndata: 2"), iotest.ErrReader(errBoom))
	reader := NewReader(r)
	rec, err := reader.Next()
	if err != nil {
		t.Fatalf("Next() err = %v; want nil", err)
	}
	if rec.Data != "1" {
		t.Fatalf("Next() = %q; want %q", rec.Data, "1")
	}
	if _, err := reader.Next(); !errors.Is(err, errBoom) {
		t.Fatalf("Next() err = %v; want %v", err, errBoom)
	}
}

func TestDecode(t *testing.T) {
	reader := NewReader(strings.NewReader(stream))
	var ev struct {
		Status   string  `json:"status"`
		Progress float64 `json:"progress"`
	}
	if err := reader.Decode(&ev); err != nil {
		t.Fatalf("Decode() err = %v; want nil", err)
	}
	if ev.Status != "Extracting" || ev.Progress != 10 {
		t.Fatalf("Decode() = %+v; want Extracting 10", ev)
	}

	bad := NewReader(strings.NewReader("data: {oops\n\n"))
	if err := bad.Decode(&ev); err == nil {
		t.Fatal("Decode() err = nil; want error")
	}
}
