package sim

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/grokify/omnicas"
)

// stream is an engine-side stream. Every kind is driven through the same
// five callbacks; built-in kinds use omnicas.StreamCallbacks over their
// endpoint.
type stream struct {
	kind omnicas.StreamKind

	mu        sync.Mutex
	info      *omnicas.StreamInfo
	upload    omnicas.StreamHandler
	download  omnicas.StreamHandler
	length    int64
	transfers int

	// rewind returns the endpoints to their start before a repeated
	// transfer. It may be nil.
	rewind func() error
	close  func() error
}

func (st *stream) handler(dir omnicas.Direction) omnicas.StreamHandler {
	if dir == omnicas.Upload {
		return st.upload
	}
	return st.download
}

// begin resets the control block for a transfer in dir.
func (st *stream) begin(dir omnicas.Direction) (omnicas.StreamHandler, error) {
	h := st.handler(dir)
	if h == nil {
		return nil, errWrongDirection
	}
	if st.transfers > 0 && st.rewind != nil {
		if err := st.rewind(); err != nil {
			return nil, err
		}
	}
	st.transfers++
	if r, ok := h.(omnicas.StreamRestarter); ok {
		r.Restart()
	}

	info := st.info
	info.Version = omnicas.StreamInfoVersion
	info.Direction = dir
	info.StreamPos = 0
	info.MarkerPos = 0
	info.AtEOF = false
	info.TransferLen = 0
	info.StreamLen = -1
	if dir == omnicas.Upload {
		info.StreamLen = st.length
	}
	return h, nil
}

var errWrongDirection = errors.New("sim: stream does not support this direction")

// StreamCreate implements omnicas.StreamEngine.
func (e *Engine) StreamCreate(spec omnicas.StreamSpec) (omnicas.Handle, error) {
	e.clearLastError()
	st := &stream{
		kind:   spec.Kind,
		info:   omnicas.NewStreamInfo(spec.Direction, spec.UserData),
		length: -1,
	}

	switch spec.Kind {
	case omnicas.StreamBufferInput:
		r := bytes.NewReader(spec.Data)
		st.upload = omnicas.NewReaderCallbacks(r)
		st.length = int64(len(spec.Data))
		st.rewind = func() error { _, err := r.Seek(0, io.SeekStart); return err }

	case omnicas.StreamBufferOutput:
		w := &bufferWriter{buf: spec.Data}
		st.download = omnicas.NewWriterCallbacks(w)
		st.rewind = func() error { w.pos = 0; return nil }

	case omnicas.StreamFileInput:
		f, err := os.Open(spec.Path)
		if err != nil {
			return 0, e.fileFailure(err)
		}
		fi, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return 0, e.fileFailure(err)
		}
		cb := omnicas.NewReaderCallbacks(f)
		cb.BufferSize = int(spec.BufferSize)
		st.upload = cb
		st.length = fi.Size()
		st.rewind = func() error { _, err := f.Seek(0, io.SeekStart); return err }
		st.close = f.Close

	case omnicas.StreamFileOutput:
		flag, err := openFlags(spec.Permissions)
		if err != nil {
			return 0, e.fail(omnicas.ErrCodeParamErr, "%v", err)
		}
		f, err := os.OpenFile(spec.Path, flag, 0o644)
		if err != nil {
			return 0, e.fileFailure(err)
		}
		st.download = omnicas.NewWriterCallbacks(f)
		st.close = f.Close

	case omnicas.StreamPartialFileInput:
		f, err := os.Open(spec.Path)
		if err != nil {
			return 0, e.fileFailure(err)
		}
		fi, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return 0, e.fileFailure(err)
		}
		length := spec.Length
		if length < 0 {
			length = max(fi.Size()-spec.Offset, 0)
		}
		pr := omnicas.NewPartialReader(omnicas.NewSharedStream(readOnlyFile{f}), spec.Offset, length)
		cb := omnicas.NewReaderCallbacks(pr)
		cb.BufferSize = int(spec.BufferSize)
		st.upload = cb
		st.length = length
		st.rewind = func() error { _, err := pr.Seek(0, io.SeekStart); return err }
		st.close = f.Close

	case omnicas.StreamPartialFileOutput:
		flag, err := openFlags(spec.Permissions)
		if err != nil {
			return 0, e.fail(omnicas.ErrCodeParamErr, "%v", err)
		}
		// Regions are written in place; truncation would drop other regions.
		f, err := os.OpenFile(spec.Path, (flag&^(os.O_TRUNC|os.O_APPEND|os.O_WRONLY))|os.O_RDWR, 0o644)
		if err != nil {
			return 0, e.fileFailure(err)
		}
		shared := omnicas.NewSharedStream(f)
		var pw *omnicas.PartialWriter
		switch {
		case spec.Length < 0 && spec.MaxFileSize > 0:
			pw = omnicas.NewPartialWriterMax(shared, spec.Offset, spec.MaxFileSize)
		case spec.MaxFileSize > 0:
			pw = omnicas.NewPartialWriter(shared, spec.Offset, min(spec.Length, spec.MaxFileSize-spec.Offset))
		default:
			pw = omnicas.NewPartialWriter(shared, spec.Offset, spec.Length)
		}
		st.download = omnicas.NewWriterCallbacks(pw)
		st.rewind = func() error { _, err := pw.Seek(0, io.SeekStart); return err }
		st.close = f.Close

	case omnicas.StreamStdio:
		in, out := spec.Stdin, spec.Stdout
		if in == nil {
			in = os.Stdin
		}
		if out == nil {
			out = os.Stdout
		}
		st.upload = omnicas.NewReaderCallbacks(in)
		st.download = omnicas.NewWriterCallbacks(out)

	case omnicas.StreamNull:
		st.upload = omnicas.NewReaderCallbacks(bytes.NewReader(nil))
		st.download = omnicas.NewWriterCallbacks(&nullSink{})
		st.length = 0

	case omnicas.StreamTemporaryFile:
		tmp := newTempBuffer(spec.MemSize)
		r, w := tmp.reader(), tmp.writer()
		st.upload = omnicas.NewReaderCallbacks(r)
		st.download = omnicas.NewWriterCallbacks(w)
		st.rewind = func() error {
			// A download appends; an upload replays everything written.
			r.pos = 0
			return nil
		}
		st.close = tmp.Close

	case omnicas.StreamGeneric:
		if spec.Handler == nil {
			return 0, e.fail(omnicas.ErrCodeParamErr, "generic stream without handler")
		}
		if spec.Direction == omnicas.Upload {
			st.upload = spec.Handler
			st.length = spec.StreamLen
		} else {
			st.download = spec.Handler
		}

	default:
		return 0, e.fail(omnicas.ErrCodeParamErr, "unknown stream kind %d", spec.Kind)
	}

	return e.alloc(st), nil
}

// StreamInfo implements omnicas.StreamEngine.
func (e *Engine) StreamInfo(h omnicas.Handle) (*omnicas.StreamInfo, error) {
	e.clearLastError()
	st, err := lookup[*stream](e, h)
	if err != nil {
		return nil, err
	}
	return st.info, nil
}

// StreamPrepareBuffer implements omnicas.StreamEngine. size is a hint for
// handlers that fill the buffer they are given.
func (e *Engine) StreamPrepareBuffer(h omnicas.Handle, size int) error {
	e.clearLastError()
	st, err := lookup[*stream](e, h)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.upload == nil {
		return e.fail(omnicas.ErrCodeStream, "stream %s cannot be read", st.kind)
	}
	st.info.Direction = omnicas.Upload
	if size > cap(st.info.Buffer) {
		st.info.Buffer = make([]byte, size)
	}
	return e.handlerFailure(st.upload.PrepareBuffer(st.info))
}

// StreamComplete implements omnicas.StreamEngine.
func (e *Engine) StreamComplete(h omnicas.Handle) error {
	e.clearLastError()
	return e.streamCall(h, omnicas.StreamHandler.BlockTransferred)
}

// StreamSetMark implements omnicas.StreamEngine.
func (e *Engine) StreamSetMark(h omnicas.Handle) error {
	e.clearLastError()
	return e.streamCall(h, omnicas.StreamHandler.SetMark)
}

// StreamResetMark implements omnicas.StreamEngine.
func (e *Engine) StreamResetMark(h omnicas.Handle) error {
	e.clearLastError()
	return e.streamCall(h, omnicas.StreamHandler.ResetMark)
}

func (e *Engine) streamCall(h omnicas.Handle, fn func(omnicas.StreamHandler, *omnicas.StreamInfo) error) error {
	st, err := lookup[*stream](e, h)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	handler := st.handler(st.info.Direction)
	if handler == nil {
		return e.fail(omnicas.ErrCodeStream, "stream %s has no %s handler", st.kind, st.info.Direction)
	}
	return e.handlerFailure(fn(handler, st.info))
}

// StreamClose implements omnicas.StreamEngine.
func (e *Engine) StreamClose(h omnicas.Handle) error {
	e.clearLastError()
	st, err := lookup[*stream](e, h)
	if err != nil {
		return err
	}
	e.release(h)
	if st.close != nil {
		if err := st.close(); err != nil {
			return e.fileFailure(err)
		}
	}
	return nil
}

// handlerFailure wraps a callback error so it aborts the transfer while
// keeping the cause reachable with errors.Is.
func (e *Engine) handlerFailure(err error) error {
	if err == nil {
		return nil
	}
	var nerr *omnicas.Error
	if errors.As(err, &nerr) {
		e.record(nerr)
		return err
	}
	out := &omnicas.Error{
		Code:  omnicas.ErrCodeStream,
		Class: omnicas.ClassClient,
		Text:  omnicas.ErrCodeStream.String(),
		Err:   err,
	}
	e.record(out)
	return out
}

func (e *Engine) fileFailure(err error) error {
	code := omnicas.ErrCodeFileSystem
	if errors.Is(err, fs.ErrNotExist) {
		code = omnicas.ErrCodePathNotFound
	}
	out := &omnicas.Error{Code: code, Class: code.Class(), Text: code.String(), Err: err}
	e.record(out)
	return out
}

// openFlags maps an fopen-style mode to os.OpenFile flags.
func openFlags(perm string) (int, error) {
	switch perm {
	case "", "w", "wb":
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC, nil
	case "a", "ab":
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND, nil
	case "r+", "rb+", "r+b":
		return os.O_RDWR, nil
	case "w+", "wb+", "w+b":
		return os.O_RDWR | os.O_CREATE | os.O_TRUNC, nil
	case "a+", "ab+", "a+b":
		return os.O_RDWR | os.O_CREATE | os.O_APPEND, nil
	}
	return 0, errors.New("sim: unsupported file mode " + perm)
}

// bufferWriter fills a fixed caller buffer.
type bufferWriter struct {
	buf []byte
	pos int64
}

func (w *bufferWriter) Write(p []byte) (int, error) {
	n := copy(w.buf[min(w.pos, int64(len(w.buf))):], p)
	w.pos += int64(n)
	if n < len(p) {
		return n, omnicas.ErrCodeOutOfBounds
	}
	return n, nil
}

func (w *bufferWriter) Seek(offset int64, whence int) (int64, error) {
	return seekTo(&w.pos, int64(len(w.buf)), offset, whence)
}

// nullSink discards writes but tracks a position so resets work.
type nullSink struct{ pos, size int64 }

func (n *nullSink) Write(p []byte) (int, error) {
	n.pos += int64(len(p))
	n.size = max(n.size, n.pos)
	return len(p), nil
}

func (n *nullSink) Seek(offset int64, whence int) (int64, error) {
	return seekTo(&n.pos, n.size, offset, whence)
}

func seekTo(pos *int64, size, offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = *pos + offset
	case io.SeekEnd:
		abs = size + offset
	default:
		return *pos, errors.New("sim: invalid whence")
	}
	if abs < 0 {
		return *pos, errors.New("sim: negative position")
	}
	*pos = abs
	return abs, nil
}

// readOnlyFile lets a read-only file back a SharedStream.
type readOnlyFile struct{ *os.File }

func (readOnlyFile) Write([]byte) (int, error) { return 0, fs.ErrPermission }
