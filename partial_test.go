package omnicas

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func sharedFile(t *testing.T, content string) (*SharedStream, *os.File) {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "shared.bin"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("WriteString failed: %v", err)
	}
	return NewSharedStream(f), f
}

func TestPartialReader(t *testing.T) {
	s, _ := sharedFile(t, "0123456789")

	r := NewPartialReader(s, 2, 5)
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(got) != "23456" {
		t.Errorf("ReadAll = %q, want 23456", got)
	}
	if r.Len() != 5 {
		t.Errorf("Len() = %d, want 5", r.Len())
	}

	if pos, err := r.Seek(1, io.SeekStart); err != nil || pos != 1 {
		t.Fatalf("Seek = %d, %v", pos, err)
	}
	buf := make([]byte, 2)
	if _, err := io.ReadFull(r, buf); err != nil || string(buf) != "34" {
		t.Errorf("read after seek = %q, %v", buf, err)
	}
	if _, err := r.Seek(1, io.SeekEnd); !errors.Is(err, ErrOutsideRegion) {
		t.Errorf("Seek past end = %v, want ErrOutsideRegion", err)
	}
	if _, err := r.Seek(-1, io.SeekStart); !errors.Is(err, ErrOutsideRegion) {
		t.Errorf("Seek before start = %v, want ErrOutsideRegion", err)
	}
}

func TestPartialReaderBeyondFile(t *testing.T) {
	s, _ := sharedFile(t, "0123")

	got, err := io.ReadAll(NewPartialReader(s, 2, 10))
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(got) != "23" {
		t.Errorf("ReadAll = %q, want 23", got)
	}
}

func TestPartialWriter(t *testing.T) {
	s, f := sharedFile(t, "0123456789")

	w := NewPartialWriter(s, 4, 3)
	n, err := w.Write([]byte("abcdef"))
	if n != 3 || !errors.Is(err, ErrRegionFull) {
		t.Errorf("Write = %d, %v, want 3, ErrRegionFull", n, err)
	}
	if _, err := w.Write([]byte("x")); !errors.Is(err, ErrRegionFull) {
		t.Errorf("Write on full region = %v", err)
	}

	content, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(content) != "0123abc789" {
		t.Errorf("file = %q, want 0123abc789", content)
	}
}

func TestPartialWriterMax(t *testing.T) {
	s, f := sharedFile(t, "")

	w := NewPartialWriterMax(s, 3, 8)
	if n, err := w.Write([]byte("abcdefgh")); n != 5 || !errors.Is(err, ErrRegionFull) {
		t.Errorf("Write = %d, %v, want 5, ErrRegionFull", n, err)
	}
	fi, err := f.Stat()
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if fi.Size() != 8 {
		t.Errorf("file size = %d, want 8", fi.Size())
	}
}

func TestSharedStreamConcurrent(t *testing.T) {
	s, f := sharedFile(t, "")
	const segments, size = 8, 64

	var wg sync.WaitGroup
	for i := range segments {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := make([]byte, size)
			for j := range data {
				data[j] = byte('a' + i)
			}
			w := NewPartialWriter(s, int64(i*size), size)
			if _, err := w.Write(data); err != nil {
				t.Errorf("segment %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	content, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(content) != segments*size {
		t.Fatalf("file size = %d, want %d", len(content), segments*size)
	}
	for i := range segments {
		if c := content[i*size]; c != byte('a'+i) {
			t.Errorf("segment %d starts with %q", i, c)
		}
	}
}
