package omnicas

import (
	"fmt"
	"io"
)

// Direction is the transfer direction of a stream, seen from the cluster.
type Direction uint8

const (
	// Download moves data out of the cluster into the application.
	Download Direction = 0

	// Upload moves data from the application into the cluster.
	Upload Direction = 1
)

func (d Direction) String() string {
	if d == Upload {
		return "upload"
	}
	return "download"
}

// StreamInfoVersion is the control block version filled in by engines.
const StreamInfoVersion = 3

// StreamInfo is the control block shared by an engine and a StreamHandler
// during a transfer.
type StreamInfo struct {
	Version   int16
	UserData  any
	StreamPos int64
	MarkerPos int64

	// StreamLen is the total length if known, otherwise -1.
	StreamLen int64
	AtEOF     bool
	Direction Direction

	// Buffer carries one block. For uploads the handler owns it; for
	// downloads the engine does.
	Buffer      []byte
	TransferLen int64
}

// NewStreamInfo returns a reset control block for dir.
func NewStreamInfo(dir Direction, userData any) *StreamInfo {
	return &StreamInfo{
		Version:   StreamInfoVersion,
		UserData:  userData,
		StreamLen: -1,
		Direction: dir,
	}
}

func (i *StreamInfo) String() string {
	return fmt.Sprintf("pos=%d mark=%d len=%d eof=%t dir=%s transfer=%d",
		i.StreamPos, i.MarkerPos, i.StreamLen, i.AtEOF, i.Direction, i.TransferLen)
}

// StreamHandler receives the five generic stream callbacks. A non-nil error
// aborts the transfer.
type StreamHandler interface {
	// PrepareBuffer fills Buffer[:TransferLen] with the next upload block.
	PrepareBuffer(info *StreamInfo) error

	// BlockTransferred is called after every block in both directions.
	BlockTransferred(info *StreamInfo) error

	// SetMark records StreamPos as the resume point.
	SetMark(info *StreamInfo) error

	// ResetMark rewinds to MarkerPos after a transfer fault.
	ResetMark(info *StreamInfo) error

	// TransferComplete is called once when the transfer ends.
	TransferComplete(info *StreamInfo) error
}

// StreamRestarter is implemented by handlers that keep per-transfer state.
// Engines call Restart between transfers, so a transfer that aborted
// before TransferComplete leaves nothing behind for the next one.
type StreamRestarter interface {
	Restart()
}

// StreamKind selects the stream an engine creates.
type StreamKind int

const (
	StreamBufferInput StreamKind = iota
	StreamBufferOutput
	StreamFileInput
	StreamFileOutput
	StreamPartialFileInput
	StreamPartialFileOutput
	StreamStdio
	StreamNull
	StreamTemporaryFile
	StreamGeneric
)

var streamKindNames = [...]string{
	"buffer-input", "buffer-output", "file-input", "file-output",
	"partial-file-input", "partial-file-output", "stdio", "null",
	"temporary-file", "generic",
}

func (k StreamKind) String() string {
	if k >= 0 && int(k) < len(streamKindNames) {
		return streamKindNames[k]
	}
	return "unknown"
}

// StreamSpec describes a stream for StreamEngine.StreamCreate. Only the
// fields relevant to Kind are read.
type StreamSpec struct {
	Kind StreamKind

	// Data is the source of a buffer input or the destination of a buffer
	// output.
	Data []byte

	Path        string
	Permissions string
	BufferSize  int64
	Offset      int64
	Length      int64
	MaxFileSize int64

	// MemSize is the in-memory threshold of a temporary file stream.
	MemSize int64

	// Stdin and Stdout back a stdio stream. Nil means the process streams.
	Stdin  io.Reader
	Stdout io.Writer

	Direction Direction
	Handler   StreamHandler
	UserData  any

	// StreamLen seeds StreamInfo.StreamLen for generic streams.
	StreamLen int64
}
