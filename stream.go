package omnicas

import (
	"io"
	"log/slog"
)

// Stream is a data source or sink for blob and clip transfers.
type Stream struct {
	session *Session
	handle  Handle
	kind    StreamKind
	handler StreamHandler
}

// Handle returns the engine handle, or zero after Close.
func (st *Stream) Handle() Handle { return st.handle }

// Kind returns the stream kind.
func (st *Stream) Kind() StreamKind { return st.kind }

// Handler returns the callbacks of a generic stream, or nil.
func (st *Stream) Handler() StreamHandler { return st.handler }

func (s *Session) newStream(op string, spec StreamSpec) (*Stream, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	h, err := s.engine.StreamCreate(spec)
	if err != nil {
		return nil, translate(op, err)
	}

	st := &Stream{session: s, handle: h, kind: spec.Kind, handler: spec.Handler}
	if err := s.register(h, st, func() error { return s.engine.StreamClose(h) }); err != nil {
		return nil, err
	}
	return st, nil
}

// NewBufferInputStream returns an upload stream that reads data.
func (s *Session) NewBufferInputStream(data []byte) (*Stream, error) {
	return s.newStream("Session.NewBufferInputStream", StreamSpec{Kind: StreamBufferInput, Data: data})
}

// NewBufferOutputStream returns a download stream that fills buf. The number
// of bytes written is Info().StreamPos.
func (s *Session) NewBufferOutputStream(buf []byte) (*Stream, error) {
	return s.newStream("Session.NewBufferOutputStream", StreamSpec{Kind: StreamBufferOutput, Data: buf})
}

// NewFileInputStream returns an upload stream reading path.
func (s *Session) NewFileInputStream(path string, bufSize int64) (*Stream, error) {
	return s.newStream("Session.NewFileInputStream", StreamSpec{
		Kind:       StreamFileInput,
		Path:       path,
		BufferSize: bufSize,
	})
}

// NewFileOutputStream returns a download stream writing path. perm is an
// fopen-style mode such as "wb" or "ab".
func (s *Session) NewFileOutputStream(path, perm string) (*Stream, error) {
	return s.newStream("Session.NewFileOutputStream", StreamSpec{
		Kind:        StreamFileOutput,
		Path:        path,
		Permissions: perm,
	})
}

// NewPartialFileInputStream uploads the region [offset, offset+length) of
// path.
func (s *Session) NewPartialFileInputStream(path string, bufSize, offset, length int64) (*Stream, error) {
	return s.newStream("Session.NewPartialFileInputStream", StreamSpec{
		Kind:       StreamPartialFileInput,
		Path:       path,
		BufferSize: bufSize,
		Offset:     offset,
		Length:     length,
	})
}

// NewPartialFileOutputStream downloads into the region [offset,
// offset+length) of path, never growing the file past maxFileSize.
func (s *Session) NewPartialFileOutputStream(path, perm string, bufSize, offset, length, maxFileSize int64) (*Stream, error) {
	return s.newStream("Session.NewPartialFileOutputStream", StreamSpec{
		Kind:        StreamPartialFileOutput,
		Path:        path,
		Permissions: perm,
		BufferSize:  bufSize,
		Offset:      offset,
		Length:      length,
		MaxFileSize: maxFileSize,
	})
}

// NewStdioStream returns a stream over the process stdin and stdout.
func (s *Session) NewStdioStream() (*Stream, error) {
	return s.newStream("Session.NewStdioStream", StreamSpec{Kind: StreamStdio})
}

// NewNullStream returns a stream that discards writes and reads nothing.
func (s *Session) NewNullStream() (*Stream, error) {
	return s.newStream("Session.NewNullStream", StreamSpec{Kind: StreamNull})
}

// NewTemporaryFileStream returns a read-write stream that keeps memSize bytes
// in memory and spills the rest to a temporary file.
func (s *Session) NewTemporaryFileStream(memSize int64) (*Stream, error) {
	return s.newStream("Session.NewTemporaryFileStream", StreamSpec{Kind: StreamTemporaryFile, MemSize: memSize})
}

// NewGenericStream returns a stream driven by handler. Downloads never see
// PrepareBuffer.
func (s *Session) NewGenericStream(dir Direction, handler StreamHandler) (*Stream, error) {
	return s.newGenericStream(dir, handler, -1)
}

func (s *Session) newGenericStream(dir Direction, handler StreamHandler, length int64) (*Stream, error) {
	return s.newStream("Session.NewGenericStream", StreamSpec{
		Kind:      StreamGeneric,
		Direction: dir,
		Handler:   handler,
		StreamLen: length,
	})
}

// NewReaderStream returns an upload stream fed by r through StreamCallbacks.
// When r is seekable its remaining length is announced to the engine.
func (s *Session) NewReaderStream(r io.Reader) (*Stream, error) {
	return s.newGenericStream(Upload, NewReaderCallbacks(r), remainingLength(r))
}

// NewWriterStream returns a download stream that writes to w through
// StreamCallbacks.
func (s *Session) NewWriterStream(w io.Writer) (*Stream, error) {
	return s.NewGenericStream(Download, NewWriterCallbacks(w))
}

func remainingLength(r io.Reader) int64 {
	seeker, ok := r.(io.Seeker)
	if !ok {
		return -1
	}
	cur, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return -1
	}
	end, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return -1
	}
	if _, err := seeker.Seek(cur, io.SeekStart); err != nil {
		return -1
	}
	return end - cur
}

// Info returns the engine's control block for the stream.
func (st *Stream) Info() (*StreamInfo, error) {
	if st.handle == 0 {
		return nil, ErrClosed
	}
	info, err := st.session.engine.StreamInfo(st.handle)
	return info, translate("Stream.Info", err)
}

// PrepareBuffer asks the stream for the next block of up to size bytes.
func (st *Stream) PrepareBuffer(size int) error {
	if st.handle == 0 {
		return ErrClosed
	}
	return translate("Stream.PrepareBuffer", st.session.engine.StreamPrepareBuffer(st.handle, size))
}

// Complete signals that the current block was transferred.
func (st *Stream) Complete() error {
	if st.handle == 0 {
		return ErrClosed
	}
	return translate("Stream.Complete", st.session.engine.StreamComplete(st.handle))
}

// SetMark records the current position as the resume point.
func (st *Stream) SetMark() error {
	if st.handle == 0 {
		return ErrClosed
	}
	return translate("Stream.SetMark", st.session.engine.StreamSetMark(st.handle))
}

// ResetMark rewinds to the resume point.
func (st *Stream) ResetMark() error {
	if st.handle == 0 {
		return ErrClosed
	}
	return translate("Stream.ResetMark", st.session.engine.StreamResetMark(st.handle))
}

// Close releases the stream. Closing twice is a no-op.
func (st *Stream) Close() error {
	if st == nil || st.handle == 0 {
		return nil
	}
	h := st.handle
	st.handle = 0
	st.session.registry.Remove(h)

	err := st.session.engine.StreamClose(h)
	if err != nil {
		st.session.logger.Debug("stream close failed", slog.Uint64("handle", uint64(h)), slog.Any("error", err))
	}
	return translate("Stream.Close", err)
}
