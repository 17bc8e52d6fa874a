// Package ndjson reads and writes newline-delimited JSON records.
//
// The reference engine keeps its deletion and audit log as NDJSON objects,
// and the CLI prints query results in the same format.
package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"
)

// DefaultBufferSize is the buffer size, and the maximum record length, used
// by NewWriter and NewReader.
const DefaultBufferSize = 64 * 1024

var (
	// ErrWriterClosed is returned when writing to a closed Writer.
	ErrWriterClosed = errors.New("ndjson: writer closed")

	// ErrReaderClosed is returned when reading from a closed Reader.
	ErrReaderClosed = errors.New("ndjson: reader closed")
)

// Writer writes one JSON value per line.
type Writer struct {
	w      *bufio.Writer
	closer io.Closer
	closed bool
	mu     sync.Mutex
}

// NewWriter creates a Writer. Close flushes and closes w.
func NewWriter(w io.WriteCloser) *Writer {
	return &Writer{
		w:      bufio.NewWriterSize(w, DefaultBufferSize),
		closer: w,
	}
}

// Write writes a pre-encoded record. Trailing whitespace is trimmed; the
// record must not contain a newline.
func (w *Writer) Write(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	if _, err := w.w.Write(bytes.TrimRight(data, " \t\r\n")); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Encode marshals v and writes it as one record.
func (w *Writer) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.Write(data)
}

// Flush flushes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	return w.w.Flush()
}

// Close flushes and closes the underlying writer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.w.Flush(); err != nil {
		_ = w.closer.Close()
		return err
	}
	return w.closer.Close()
}

// Reader reads records, skipping blank lines.
type Reader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	closed  bool
	mu      sync.Mutex
}

// NewReader creates a Reader. Close closes r.
func NewReader(r io.ReadCloser) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), DefaultBufferSize)
	return &Reader{scanner: scanner, closer: r}
}

// Read returns the next record, or io.EOF.
func (r *Reader) Read() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrReaderClosed
	}

	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return bytes.Clone(line), nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Decode reads the next record into v.
func (r *Reader) Decode(v any) error {
	data, err := r.Read()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Close closes the underlying reader.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.closer.Close()
}

// DecodeAll reads every remaining record as a T and closes the reader.
func DecodeAll[T any](r *Reader) ([]T, error) {
	defer func() { _ = r.Close() }()

	var out []T
	for {
		var v T
		err := r.Decode(&v)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}
