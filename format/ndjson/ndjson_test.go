package ndjson

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type record struct {
	ClipID string `json:"clip_id"`
	Reason string `json:"reason,omitempty"`
}

func TestEncodeDecodeAll(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(nopWriteCloser{&buf})

	for _, id := range []string{"A", "B"} {
		if err := w.Encode(record{ClipID: id}); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := strings.Count(buf.String(), "\n"); got != 2 {
		t.Errorf("line count = %d, want 2", got)
	}

	recs, err := DecodeAll[record](NewReader(io.NopCloser(&buf)))
	if err != nil {
		t.Fatalf("DecodeAll failed: %v", err)
	}
	if len(recs) != 2 || recs[0].ClipID != "A" || recs[1].ClipID != "B" {
		t.Errorf("records = %+v", recs)
	}
}

func TestReaderSkipsBlankLines(t *testing.T) {
	r := NewReader(io.NopCloser(strings.NewReader("{\"a\":1}\n\n  \n{\"a\":2}\n")))
	defer func() { _ = r.Close() }()

	var n int
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		n++
	}
	if n != 2 {
		t.Errorf("records read = %d, want 2", n)
	}
}

func TestWriteTrimsTrailingNewline(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(nopWriteCloser{&buf})
	_ = w.Write([]byte("{\"x\":1}\n"))
	_ = w.Close()

	if buf.String() != "{\"x\":1}\n" {
		t.Errorf("output = %q", buf.String())
	}
}

func TestClosed(t *testing.T) {
	w := NewWriter(nopWriteCloser{io.Discard})
	_ = w.Close()
	if err := w.Write([]byte("{}")); err != ErrWriterClosed {
		t.Errorf("Write after Close = %v, want ErrWriterClosed", err)
	}

	r := NewReader(io.NopCloser(strings.NewReader("")))
	_ = r.Close()
	if _, err := r.Read(); err != ErrReaderClosed {
		t.Errorf("Read after Close = %v, want ErrReaderClosed", err)
	}
}
