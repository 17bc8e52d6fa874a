// Package multi fans writes out to several store backends and reads from the
// first backend that holds an object.
//
// The reference engine uses it to mirror clip descriptors and blobs from a
// primary cluster to its replica, and to fail reads over to the replica.
package multi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/grokify/omnicas/store"
)

// Mode selects how partial failures are treated.
type Mode int

const (
	// All fails the operation when any backend fails.
	All Mode = iota

	// BestEffort succeeds when at least one backend succeeds. Failures of the
	// others are reported through the error handler.
	BestEffort

	// Quorum succeeds when a strict majority of backends succeed.
	Quorum
)

func (m Mode) String() string {
	switch m {
	case All:
		return "all"
	case BestEffort:
		return "best-effort"
	case Quorum:
		return "quorum"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ErrNoBackends is returned by New when no non-nil backend is supplied.
var ErrNoBackends = errors.New("multi: no backends")

// Writer writes the same object to every backend it wraps.
type Writer struct {
	mu       sync.RWMutex
	backends []store.Backend
	mode     Mode
	onError  func(index int, err error)
}

// Option configures a Writer.
type Option func(*Writer)

// WithMode sets the failure mode. The default is All.
func WithMode(mode Mode) Option {
	return func(w *Writer) { w.mode = mode }
}

// WithErrorHandler installs a callback for per-backend failures that do not
// fail the whole write.
func WithErrorHandler(fn func(index int, err error)) Option {
	return func(w *Writer) { w.onError = fn }
}

// New creates a Writer over the non-nil backends. The first backend is the
// primary.
func New(backends []store.Backend, opts ...Option) (*Writer, error) {
	var valid []store.Backend
	for _, b := range backends {
		if b != nil {
			valid = append(valid, b)
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoBackends
	}

	w := &Writer{backends: valid, mode: All}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Len returns the number of backends.
func (w *Writer) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.backends)
}

// Mode returns the failure mode.
func (w *Writer) Mode() Mode {
	return w.mode
}

// NewWriter opens a writer for path on every backend.
func (w *Writer) NewWriter(ctx context.Context, path string, opts ...store.WriterOption) (io.WriteCloser, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	fw := &fanoutWriter{parent: w}
	var errs []error
	for i, b := range w.backends {
		sub, err := b.NewWriter(ctx, path, opts...)
		if err != nil {
			errs = append(errs, err)
			if w.mode == All {
				fw.abort()
				return nil, &Error{Errors: errs}
			}
			w.report(i, err)
			continue
		}
		fw.writers = append(fw.writers, sub)
		fw.index = append(fw.index, i)
	}

	if !w.satisfied(len(fw.writers)) {
		fw.abort()
		return nil, &Error{Errors: errs}
	}
	return fw, nil
}

// Delete removes path from every backend. Backends that do not hold the
// object count as successes.
func (w *Writer) Delete(ctx context.Context, path string) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var (
		ok   int
		errs []error
	)
	for i, b := range w.backends {
		if err := b.Delete(ctx, path); err != nil && !store.IsNotFound(err) {
			errs = append(errs, err)
			w.report(i, err)
			continue
		}
		ok++
	}
	if len(errs) > 0 && (w.mode == All || !w.satisfied(ok)) {
		return &Error{Errors: errs}
	}
	return nil
}

// NewReader opens path on the first backend that has it, in backend order.
// Read failover happens at open time only.
func (w *Writer) NewReader(ctx context.Context, path string, opts ...store.ReaderOption) (io.ReadCloser, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return FirstReader(ctx, w.backends, path, opts...)
}

// FirstReader opens path on the first backend that can serve it. A not-found
// from every backend is reported as store.ErrNotFound.
func FirstReader(ctx context.Context, backends []store.Backend, path string, opts ...store.ReaderOption) (io.ReadCloser, error) {
	var errs []error
	for _, b := range backends {
		if b == nil {
			continue
		}
		r, err := b.NewReader(ctx, path, opts...)
		if err == nil {
			return r, nil
		}
		errs = append(errs, err)
	}
	for _, err := range errs {
		if !store.IsNotFound(err) {
			return nil, &Error{Errors: errs}
		}
	}
	return nil, store.ErrNotFound
}

func (w *Writer) satisfied(ok int) bool {
	switch w.mode {
	case Quorum:
		return ok > len(w.backends)/2
	case All:
		return ok == len(w.backends)
	default:
		return ok > 0
	}
}

func (w *Writer) report(index int, err error) {
	if w.onError != nil {
		w.onError(index, err)
	}
}

type fanoutWriter struct {
	parent  *Writer
	writers []io.WriteCloser
	index   []int
	failed  []bool
	mu      sync.Mutex
	closed  bool
}

func (f *fanoutWriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, store.ErrWriterClosed
	}
	if f.failed == nil {
		f.failed = make([]bool, len(f.writers))
	}

	var errs []error
	for i, sub := range f.writers {
		if f.failed[i] {
			continue
		}
		n, err := sub.Write(p)
		if err == nil && n < len(p) {
			err = io.ErrShortWrite
		}
		if err != nil {
			if f.parent.mode == All {
				return 0, &Error{Errors: []error{err}}
			}
			f.failed[i] = true
			errs = append(errs, err)
			f.parent.report(f.index[i], err)
		}
	}

	if !f.parent.satisfied(f.live()) {
		return 0, &Error{Errors: errs}
	}
	return len(p), nil
}

func (f *fanoutWriter) live() int {
	n := 0
	for i := range f.writers {
		if f.failed == nil || !f.failed[i] {
			n++
		}
	}
	return n
}

// Close commits every writer. For modes other than All it succeeds when
// enough backends committed.
func (f *fanoutWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	var (
		ok   int
		errs []error
	)
	for i, sub := range f.writers {
		err := sub.Close()
		if f.failed != nil && f.failed[i] {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			f.parent.report(f.index[i], err)
			continue
		}
		ok++
	}

	if len(errs) > 0 && (f.parent.mode == All || !f.parent.satisfied(ok)) {
		return &Error{Errors: errs}
	}
	return nil
}

func (f *fanoutWriter) abort() {
	for _, sub := range f.writers {
		_ = sub.Close()
	}
	f.closed = true
}

// Error collects the failures of a multi-backend operation.
type Error struct {
	Errors []error
}

func (e *Error) Error() string {
	switch len(e.Errors) {
	case 0:
		return "multi: operation failed"
	case 1:
		return "multi: " + e.Errors[0].Error()
	default:
		return fmt.Sprintf("multi: %v (and %d more)", e.Errors[0], len(e.Errors)-1)
	}
}

// Unwrap exposes every collected error to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	return e.Errors
}
