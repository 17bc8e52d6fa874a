package compress

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func TestParseCodec(t *testing.T) {
	for name, want := range map[string]Codec{"": None, "none": None, "gzip": Gzip, "zstd": Zstd} {
		got, err := ParseCodec(name)
		if err != nil {
			t.Fatalf("ParseCodec(%q) failed: %v", name, err)
		}
		if got != want {
			t.Errorf("ParseCodec(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := ParseCodec("lz4"); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("ParseCodec(lz4) error = %v, want ErrUnknownCodec", err)
	}
}

func TestTaggedRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("fixed content addressed storage ", 512))

	for _, c := range []Codec{None, Gzip, Zstd} {
		t.Run(c.String(), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewTaggedWriter(nopWriteCloser{&buf}, c)
			if err != nil {
				t.Fatalf("NewTaggedWriter failed: %v", err)
			}
			if _, err := w.Write(payload); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			if buf.Bytes()[0] != byte(c) {
				t.Errorf("tag byte = %d, want %d", buf.Bytes()[0], c)
			}
			if c != None && buf.Len() >= len(payload) {
				t.Errorf("compressed size %d not smaller than %d", buf.Len(), len(payload))
			}

			r, got, err := NewTaggedReader(io.NopCloser(&buf))
			if err != nil {
				t.Fatalf("NewTaggedReader failed: %v", err)
			}
			if got != c {
				t.Errorf("detected codec = %v, want %v", got, c)
			}
			data, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll failed: %v", err)
			}
			if !bytes.Equal(data, payload) {
				t.Error("round-tripped payload differs")
			}
		})
	}
}

func TestTaggedReaderUnknownTag(t *testing.T) {
	_, _, err := NewTaggedReader(io.NopCloser(bytes.NewReader([]byte{0x7f, 1, 2})))
	if !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("error = %v, want ErrUnknownCodec", err)
	}
}

func TestTaggedReaderEmpty(t *testing.T) {
	if _, _, err := NewTaggedReader(io.NopCloser(bytes.NewReader(nil))); err == nil {
		t.Error("NewTaggedReader on empty input should fail")
	}
}
