package omnicas

import (
	"io"
	"sync"
)

// SharedStream serializes positioned access to one io.ReadWriteSeeker so
// several partial readers and writers can share it.
type SharedStream struct {
	mu  sync.Mutex
	rws io.ReadWriteSeeker
}

// NewSharedStream wraps rws.
func NewSharedStream(rws io.ReadWriteSeeker) *SharedStream {
	return &SharedStream{rws: rws}
}

// readAt seeks to off and reads into p under the lock.
func (s *SharedStream) readAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.rws.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(s.rws, p)
}

// writeAt seeks to off and writes p under the lock.
func (s *SharedStream) writeAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.rws.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return s.rws.Write(p)
}

// region is the window [start, end) of a shared stream with a cursor.
type region struct {
	s     *SharedStream
	start int64
	end   int64
	pos   int64
}

func newRegion(s *SharedStream, offset, length int64) region {
	if offset < 0 {
		offset = 0
	}
	if length < 0 {
		length = 0
	}
	return region{s: s, start: offset, end: offset + length, pos: offset}
}

// Seek moves the cursor relative to the region. Positions outside the region
// fail with ErrOutsideRegion.
func (r *region) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = r.start + offset
	case io.SeekCurrent:
		abs = r.pos + offset
	case io.SeekEnd:
		abs = r.end + offset
	default:
		return r.pos - r.start, ErrOutsideRegion
	}
	if abs < r.start || abs > r.end {
		return r.pos - r.start, ErrOutsideRegion
	}
	r.pos = abs
	return abs - r.start, nil
}

// Len returns the region length.
func (r *region) Len() int64 {
	return r.end - r.start
}

// remaining clamps n to the bytes left before the region end.
func (r *region) remaining(n int) int {
	left := r.end - r.pos
	if int64(n) > left {
		return int(left)
	}
	return n
}

// PartialReader reads the region [offset, offset+length) of a SharedStream.
// It is not safe for concurrent use; distinct readers over one SharedStream
// are.
type PartialReader struct {
	region
}

// NewPartialReader returns a reader over [offset, offset+length) of s.
func NewPartialReader(s *SharedStream, offset, length int64) *PartialReader {
	return &PartialReader{region: newRegion(s, offset, length)}
}

// Read reads from the cursor, never past the region end.
func (r *PartialReader) Read(p []byte) (int, error) {
	n := r.remaining(len(p))
	if n == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	m, err := r.s.readAt(p[:n], r.pos)
	r.pos += int64(m)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return m, err
}

// PartialWriter writes the region [offset, offset+length) of a SharedStream.
type PartialWriter struct {
	region
}

// NewPartialWriter returns a writer over [offset, offset+length) of s.
func NewPartialWriter(s *SharedStream, offset, length int64) *PartialWriter {
	return &PartialWriter{region: newRegion(s, offset, length)}
}

// NewPartialWriterMax returns a writer from offset up to a total stream size
// of maxSize bytes.
func NewPartialWriterMax(s *SharedStream, offset, maxSize int64) *PartialWriter {
	return NewPartialWriter(s, offset, maxSize-offset)
}

// Write writes at the cursor. Bytes that would cross the region end are not
// written and the call returns ErrRegionFull.
func (w *PartialWriter) Write(p []byte) (int, error) {
	n := w.remaining(len(p))
	if n == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, ErrRegionFull
	}

	m, err := w.s.writeAt(p[:n], w.pos)
	w.pos += int64(m)
	if err != nil {
		return m, err
	}
	if m < len(p) {
		return m, ErrRegionFull
	}
	return m, nil
}

var (
	_ io.ReadSeeker  = (*PartialReader)(nil)
	_ io.WriteSeeker = (*PartialWriter)(nil)
)
