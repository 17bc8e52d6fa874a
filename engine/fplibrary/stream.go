//go:build cgo && fplibrary

package fplibrary

/*
#include "fpapi.h"

extern long omnicasPrepareBuffer(FPStreamInfo *);
extern long omnicasBlockTransferred(FPStreamInfo *);
extern long omnicasSetMark(FPStreamInfo *);
extern long omnicasResetMark(FPStreamInfo *);
extern long omnicasTransferComplete(FPStreamInfo *);

// Download streams get no prepare callback.
static FPStreamRef omnicas_generic_stream(int upload, uintptr_t id) {
	return FPStream_CreateGenericStream(upload ? omnicasPrepareBuffer : NULL,
		omnicasBlockTransferred, omnicasSetMark, omnicasResetMark,
		omnicasTransferComplete, (void *)id);
}
*/
import "C"

import (
	"cmp"
	"errors"
	"unsafe"

	"github.com/grokify/omnicas"
)

// stream is the Go-side state of a native stream.
type stream struct {
	kind omnicas.StreamKind

	// info is the control block returned by StreamInfo for non-generic
	// streams.
	info *omnicas.StreamInfo

	// data is the C copy of a buffer stream; out receives it back.
	data unsafe.Pointer
	out  []byte

	gen *generic
}

// StreamCreate implements omnicas.StreamEngine.
func (e *Engine) StreamCreate(spec omnicas.StreamSpec) (omnicas.Handle, error) {
	if spec.Kind == omnicas.StreamGeneric {
		return e.genericStream(spec)
	}

	s := &stream{kind: spec.Kind, info: omnicas.NewStreamInfo(spec.Direction, spec.UserData)}
	var (
		r   C.FPLong
		err error
	)
	switch spec.Kind {
	case omnicas.StreamBufferInput:
		s.data = C.CBytes(spec.Data)
		r, err = value(e, func() C.FPLong {
			return C.FPStream_CreateBufferForInput((*C.char)(s.data), C.FPLong(len(spec.Data)))
		})

	case omnicas.StreamBufferOutput:
		s.data = C.calloc(C.size_t(max(len(spec.Data), 1)), 1)
		s.out = spec.Data
		r, err = value(e, func() C.FPLong {
			return C.FPStream_CreateBufferForOutput((*C.char)(s.data), C.FPLong(len(spec.Data)))
		})

	case omnicas.StreamFileInput:
		bufSize := C.FPLong(cmp.Or(spec.BufferSize, omnicas.DefaultTransferBufferSize))
		r, err = e.fileStream(spec.Path, cmp.Or(spec.Permissions, "rb"), func(path, perm *C.char) C.FPLong {
			return C.FPStream_CreateFileForInput(path, perm, bufSize)
		})

	case omnicas.StreamFileOutput:
		r, err = e.fileStream(spec.Path, cmp.Or(spec.Permissions, "wb"), func(path, perm *C.char) C.FPLong {
			return C.FPStream_CreateFileForOutput(path, perm)
		})

	case omnicas.StreamPartialFileInput:
		bufSize := C.FPLong(cmp.Or(spec.BufferSize, omnicas.DefaultTransferBufferSize))
		r, err = e.fileStream(spec.Path, cmp.Or(spec.Permissions, "rb"), func(path, perm *C.char) C.FPLong {
			return C.FPStream_CreatePartialFileForInput(path, perm, bufSize, C.FPLong(spec.Offset), C.FPLong(spec.Length))
		})

	case omnicas.StreamPartialFileOutput:
		bufSize := C.FPLong(cmp.Or(spec.BufferSize, omnicas.DefaultTransferBufferSize))
		r, err = e.fileStream(spec.Path, cmp.Or(spec.Permissions, "wb"), func(path, perm *C.char) C.FPLong {
			return C.FPStream_CreatePartialFileForOutput(path, perm, bufSize,
				C.FPLong(spec.Offset), C.FPLong(spec.Length), C.FPLong(spec.MaxFileSize))
		})

	case omnicas.StreamStdio:
		if spec.Stdin != nil || spec.Stdout != nil {
			return 0, e.fail(omnicas.ErrCodeParamErr, "stdio streams use the process streams; use a generic stream for other endpoints")
		}
		r, err = value(e, func() C.FPLong { return C.FPStream_CreateToStdio() })

	case omnicas.StreamNull:
		r, err = value(e, func() C.FPLong { return C.FPStream_CreateToNull() })

	case omnicas.StreamTemporaryFile:
		r, err = value(e, func() C.FPLong { return C.FPStream_CreateTemporaryFile(C.FPLong(spec.MemSize)) })

	default:
		return 0, e.fail(omnicas.ErrCodeParamErr, "unknown stream kind %d", spec.Kind)
	}
	if err != nil {
		s.free()
		return 0, err
	}
	return e.track(handle(r), s), nil
}

func (e *Engine) fileStream(path, perm string, create func(path, perm *C.char) C.FPLong) (C.FPLong, error) {
	cpath, cperm := C.CString(path), C.CString(perm)
	defer C.free(unsafe.Pointer(cpath))
	defer C.free(unsafe.Pointer(cperm))
	return value(e, func() C.FPLong { return create(cpath, cperm) })
}

func (e *Engine) genericStream(spec omnicas.StreamSpec) (omnicas.Handle, error) {
	if spec.Handler == nil {
		return 0, e.fail(omnicas.ErrCodeParamErr, "generic stream without handler")
	}
	g := registerGeneric(spec.Handler, omnicas.NewStreamInfo(spec.Direction, spec.UserData))
	length := int64(-1)
	var upload C.int
	if spec.Direction == omnicas.Upload {
		upload = 1
		length = spec.StreamLen
	}

	r, err := value(e, func() C.FPLong {
		sr := C.omnicas_generic_stream(upload, C.uintptr_t(g.id))
		if sr != 0 {
			ci := C.FPStream_GetInfo(sr)
			ci.mStreamPos, ci.mMarkerPos, ci.mTransferLen = 0, 0, 0
			ci.mStreamLen = C.FPLong(length)
			ci.mAtEOF = 0
			ci.mReadFlag = C.FPBool(spec.Direction)
			ci.mBuffer = nil
		}
		return sr
	})
	if err != nil {
		g.release()
		return 0, err
	}
	g.info.StreamLen = length
	return e.track(handle(r), &stream{kind: spec.Kind, gen: g}), nil
}

func (e *Engine) track(h omnicas.Handle, s *stream) omnicas.Handle {
	e.smu.Lock()
	e.streams[h] = s
	e.smu.Unlock()
	return h
}

func (e *Engine) stream(h omnicas.Handle) *stream {
	e.smu.Lock()
	defer e.smu.Unlock()
	return e.streams[h]
}

// transferred finishes a native call that moved data through stream h. A
// handler failure takes precedence over the library's own error.
func (e *Engine) transferred(h omnicas.Handle, err error) error {
	s := e.stream(h)
	if s == nil {
		return err
	}
	s.copyOut()
	if s.gen != nil {
		s.gen.restart()
		if herr := s.gen.takeErr(); herr != nil {
			return e.handlerFailure(herr)
		}
	}
	return err
}

func (e *Engine) handlerFailure(err error) error {
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

// copyOut delivers a buffer output stream's bytes to the caller's slice.
func (s *stream) copyOut() {
	if s.out == nil || s.data == nil {
		return
	}
	copy(s.out, unsafe.Slice((*byte)(s.data), len(s.out)))
}

func (s *stream) free() {
	if s.data != nil {
		C.free(s.data)
		s.data = nil
	}
	if s.gen != nil {
		s.gen.release()
	}
}

// StreamInfo implements omnicas.StreamEngine.
func (e *Engine) StreamInfo(h omnicas.Handle) (*omnicas.StreamInfo, error) {
	s := e.stream(h)
	if s == nil {
		return nil, e.fail(omnicas.ErrCodeWrongReference, "stream %d is not open", h)
	}
	ci, err := value(e, func() *C.FPStreamInfo { return C.FPStream_GetInfo(ref(h)) })
	if err != nil {
		return nil, err
	}
	if s.gen != nil {
		s.gen.mu.Lock()
		defer s.gen.mu.Unlock()
		loadInfo(s.gen.info, ci)
		return s.gen.info, nil
	}
	loadInfo(s.info, ci)
	return s.info, nil
}

// StreamPrepareBuffer implements omnicas.StreamEngine.
func (e *Engine) StreamPrepareBuffer(h omnicas.Handle, size int) error {
	err := e.do(func() { C.FPStream_PrepareBuffer(ref(h), C.FPLong(size)) })
	return e.transferred(h, err)
}

// StreamComplete implements omnicas.StreamEngine.
func (e *Engine) StreamComplete(h omnicas.Handle) error {
	err := e.do(func() { C.FPStream_Complete(ref(h)) })
	return e.transferred(h, err)
}

// StreamSetMark implements omnicas.StreamEngine.
func (e *Engine) StreamSetMark(h omnicas.Handle) error {
	err := e.do(func() { C.FPStream_SetMarker(ref(h)) })
	return e.transferred(h, err)
}

// StreamResetMark implements omnicas.StreamEngine.
func (e *Engine) StreamResetMark(h omnicas.Handle) error {
	err := e.do(func() { C.FPStream_ResetMarker(ref(h)) })
	return e.transferred(h, err)
}

// StreamClose implements omnicas.StreamEngine. The close callback of a
// generic stream runs inside the native close.
func (e *Engine) StreamClose(h omnicas.Handle) error {
	e.smu.Lock()
	s := e.streams[h]
	delete(e.streams, h)
	e.smu.Unlock()

	err := e.do(func() { C.FPStream_Close(ref(h)) })
	if s == nil {
		return err
	}
	s.copyOut()
	if s.gen != nil {
		if herr := s.gen.takeErr(); herr != nil && err == nil {
			err = e.handlerFailure(herr)
		}
	}
	s.free()
	return err
}

// loadInfo copies the native control block into info, leaving Buffer alone.
func loadInfo(info *omnicas.StreamInfo, ci *C.FPStreamInfo) {
	info.Version = int16(ci.mVersion)
	info.StreamPos = int64(ci.mStreamPos)
	info.MarkerPos = int64(ci.mMarkerPos)
	info.StreamLen = int64(ci.mStreamLen)
	info.AtEOF = ci.mAtEOF != 0
	info.Direction = omnicas.Download
	if ci.mReadFlag != 0 {
		info.Direction = omnicas.Upload
	}
	info.TransferLen = int64(ci.mTransferLen)
}

// storeInfo copies the handler-visible fields of info back to the native
// control block.
func storeInfo(ci *C.FPStreamInfo, info *omnicas.StreamInfo) {
	ci.mStreamPos = C.FPLong(info.StreamPos)
	ci.mMarkerPos = C.FPLong(info.MarkerPos)
	ci.mStreamLen = C.FPLong(info.StreamLen)
	ci.mAtEOF = cbool(info.AtEOF)
	ci.mTransferLen = C.FPLong(info.TransferLen)
}
