package omnicas

import (
	"errors"
	"io"
)

// DefaultTransferBufferSize is the block size of StreamCallbacks.
const DefaultTransferBufferSize = 16 * 1024

// StreamCallbacks is the default StreamHandler. It feeds uploads from an
// io.Reader and delivers downloads to an io.Writer. Reset requires the
// endpoint to implement io.Seeker.
type StreamCallbacks struct {
	// BufferSize is the upload block size. Zero means
	// DefaultTransferBufferSize.
	BufferSize int

	r io.Reader
	w io.Writer

	// base is the endpoint offset of stream position zero.
	base int64

	// block is the caller-visible copy of the last downloaded block.
	block []byte

	peek   [1]byte
	peeked bool
}

var (
	_ StreamHandler   = (*StreamCallbacks)(nil)
	_ StreamRestarter = (*StreamCallbacks)(nil)
)

// NewReaderCallbacks returns callbacks that upload from r.
func NewReaderCallbacks(r io.Reader) *StreamCallbacks {
	return &StreamCallbacks{r: r, base: currentOffset(r)}
}

// NewWriterCallbacks returns callbacks that download into w.
func NewWriterCallbacks(w io.Writer) *StreamCallbacks {
	return &StreamCallbacks{w: w, base: currentOffset(w)}
}

func currentOffset(v any) int64 {
	s, ok := v.(io.Seeker)
	if !ok {
		return 0
	}
	off, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	return off
}

func (c *StreamCallbacks) bufferSize() int {
	if c.BufferSize > 0 {
		return c.BufferSize
	}
	return DefaultTransferBufferSize
}

// Block returns the last downloaded block. It is valid until the next
// callback.
func (c *StreamCallbacks) Block() []byte {
	return c.block
}

// PrepareBuffer fills the next upload block. End of stream is reported on
// the call that returns the final bytes: a one-byte lookahead detects a
// source that ends exactly on a block boundary.
func (c *StreamCallbacks) PrepareBuffer(info *StreamInfo) error {
	size := c.bufferSize()
	if cap(info.Buffer) < size {
		info.Buffer = make([]byte, size)
	}
	info.Buffer = info.Buffer[:size]

	n, err := c.fill(info.Buffer)
	if err != nil {
		return err
	}

	info.StreamPos += int64(n)
	info.TransferLen = int64(n)

	switch {
	case n < size:
		info.AtEOF = true
	case info.StreamLen >= 0 && info.StreamPos >= info.StreamLen:
		info.AtEOF = true
	case info.StreamLen < 0:
		more, err := c.lookahead()
		if err != nil {
			return err
		}
		info.AtEOF = !more
	}
	return nil
}

// fill reads up to len(buf) bytes, starting with any lookahead byte.
func (c *StreamCallbacks) fill(buf []byte) (int, error) {
	if c.r == nil {
		return 0, nil
	}

	n := 0
	if c.peeked {
		buf[0] = c.peek[0]
		c.peeked = false
		n = 1
	}

	m, err := io.ReadFull(c.r, buf[n:])
	n += m
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}
	return n, err
}

// lookahead reports whether the source has at least one more byte.
func (c *StreamCallbacks) lookahead() (bool, error) {
	if c.r == nil {
		return false, nil
	}
	m, err := io.ReadFull(c.r, c.peek[:])
	if m == 1 {
		c.peeked = true
		return true, nil
	}
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	return false, err
}

// BlockTransferred copies a downloaded block out of the engine buffer and
// writes it to the sink. Uploads need no work here.
func (c *StreamCallbacks) BlockTransferred(info *StreamInfo) error {
	if info.Direction != Download {
		return nil
	}

	n := int(info.TransferLen)
	if n > 0 {
		if cap(c.block) < n {
			c.block = make([]byte, n)
		}
		c.block = c.block[:n]
		copy(c.block, info.Buffer[:n])

		if c.w != nil {
			if _, err := c.w.Write(c.block); err != nil {
				return err
			}
		}
	} else {
		c.block = c.block[:0]
	}
	info.StreamPos += int64(n)
	return nil
}

// SetMark records the current position.
func (c *StreamCallbacks) SetMark(info *StreamInfo) error {
	info.MarkerPos = info.StreamPos
	return nil
}

// ResetMark seeks the endpoint back to the mark.
func (c *StreamCallbacks) ResetMark(info *StreamInfo) error {
	var endpoint any = c.r
	if info.Direction == Download {
		endpoint = c.w
	}
	s, ok := endpoint.(io.Seeker)
	if !ok {
		return ErrNotSeekable
	}
	if _, err := s.Seek(c.base+info.MarkerPos, io.SeekStart); err != nil {
		return err
	}

	info.StreamPos = info.MarkerPos
	info.AtEOF = false
	c.peeked = false
	return nil
}

// Restart drops the lookahead byte and the last downloaded block.
func (c *StreamCallbacks) Restart() {
	c.peeked = false
	c.block = c.block[:0]
}

// TransferComplete releases the upload buffer.
func (c *StreamCallbacks) TransferComplete(info *StreamInfo) error {
	if info.Direction == Upload {
		info.Buffer = nil
	}
	c.peeked = false
	return nil
}
