// Package gzip wraps streams with gzip compression.
package gzip

import (
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// CompressionLevel is a gzip compression level.
type CompressionLevel int

const (
	NoCompression      CompressionLevel = gzip.NoCompression
	BestSpeed          CompressionLevel = gzip.BestSpeed
	BestCompression    CompressionLevel = gzip.BestCompression
	DefaultCompression CompressionLevel = gzip.DefaultCompression
)

// Writer compresses into an underlying WriteCloser.
type Writer struct {
	gw     *gzip.Writer
	closer io.Closer
	closed bool
	mu     sync.Mutex
}

// NewWriter creates a Writer at DefaultCompression.
func NewWriter(w io.WriteCloser) (*Writer, error) {
	return NewWriterLevel(w, DefaultCompression)
}

// NewWriterLevel creates a Writer at the given level.
func NewWriterLevel(w io.WriteCloser, level CompressionLevel) (*Writer, error) {
	gw, err := gzip.NewWriterLevel(w, int(level))
	if err != nil {
		return nil, err
	}
	return &Writer{gw: gw, closer: w}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.gw.Write(p)
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.gw.Close(); err != nil {
		_ = w.closer.Close()
		return err
	}
	return w.closer.Close()
}

// Reader decompresses from an underlying ReadCloser.
type Reader struct {
	gr     *gzip.Reader
	closer io.Closer
	closed bool
	mu     sync.Mutex
}

// NewReader creates a Reader. It reads the gzip header immediately.
func NewReader(r io.ReadCloser) (*Reader, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &Reader{gr: gr, closer: r}, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, io.ErrClosedPipe
	}
	return r.gr.Read(p)
}

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.gr.Close(); err != nil {
		_ = r.closer.Close()
		return err
	}
	return r.closer.Close()
}

var (
	_ io.WriteCloser = (*Writer)(nil)
	_ io.ReadCloser  = (*Reader)(nil)
)
