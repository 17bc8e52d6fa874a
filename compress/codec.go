// Package compress selects a blob compression codec by name and frames
// compressed payloads with a one-byte codec tag, so a store can hold blobs
// written under different codec settings.
package compress

import (
	"errors"
	"fmt"
	"io"

	"github.com/grokify/omnicas/compress/gzip"
	"github.com/grokify/omnicas/compress/zstd"
)

// Codec identifies a compression format. Its value is the on-store tag byte.
type Codec byte

const (
	None Codec = iota
	Gzip
	Zstd
)

// ErrUnknownCodec is returned for an unrecognized codec name or tag byte.
var ErrUnknownCodec = errors.New("compress: unknown codec")

// ParseCodec maps "", "none", "gzip" and "zstd" to a Codec.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "none":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "zstd":
		return Zstd, nil
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	}
	return fmt.Sprintf("codec(%d)", byte(c))
}

// NewWriter wraps w with the codec's compressor.
func (c Codec) NewWriter(w io.WriteCloser) (io.WriteCloser, error) {
	switch c {
	case None:
		return w, nil
	case Gzip:
		return gzip.NewWriter(w)
	case Zstd:
		return zstd.NewWriter(w)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, byte(c))
}

// NewReader wraps r with the codec's decompressor.
func (c Codec) NewReader(r io.ReadCloser) (io.ReadCloser, error) {
	switch c {
	case None:
		return r, nil
	case Gzip:
		return gzip.NewReader(r)
	case Zstd:
		return zstd.NewReader(r)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, byte(c))
}

// NewTaggedWriter writes the codec tag byte and returns a compressing writer.
func NewTaggedWriter(w io.WriteCloser, c Codec) (io.WriteCloser, error) {
	if _, err := w.Write([]byte{byte(c)}); err != nil {
		return nil, err
	}
	return c.NewWriter(w)
}

// NewTaggedReader reads the tag byte and returns a decompressing reader.
func NewTaggedReader(r io.ReadCloser) (io.ReadCloser, Codec, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, None, fmt.Errorf("compress: reading codec tag: %w", err)
	}
	c := Codec(tag[0])
	zr, err := c.NewReader(r)
	if err != nil {
		return nil, c, err
	}
	return zr, c, nil
}
