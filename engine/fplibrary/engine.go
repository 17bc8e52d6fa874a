//go:build cgo && fplibrary

package fplibrary

/*
#cgo LDFLAGS: -lFPLibrary64
#include "fpapi.h"
*/
import "C"

import (
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"github.com/grokify/mogo/log/slogutil"

	"github.com/grokify/omnicas"
)

// Name is the registered engine name.
const Name = "fplibrary"

const (
	// componentLibrary selects the library itself in FPPool_GetComponentVersion.
	componentLibrary = 1

	// probeSize is the first buffer offered to a variable-length output.
	probeSize = 256

	// probeAttempts bounds the grow-and-retry loop of a length probe.
	probeAttempts = 3

	clipIDLen = C.FP_CLIPID_LEN
)

func init() {
	omnicas.RegisterEngine(Name, NewFromConfig)
}

// Engine implements omnicas.Engine over FPLibrary. It is safe for concurrent
// use; the library serializes calls on a reference internally.
type Engine struct {
	logger *slog.Logger

	emu     sync.Mutex
	lastErr *omnicas.Error

	smu     sync.Mutex
	streams map[omnicas.Handle]*stream
}

var _ omnicas.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New returns an engine bound to the process-wide library.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:  slogutil.Null(),
		streams: make(map[omnicas.Handle]*stream),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewFromConfig is the omnicas.EngineFactory for "fplibrary".
//
// Recognized keys:
//   - application, application.version: passed to RegisterApplication
//   - option.<name>: an integer global option, such as option.maxconnections
func NewFromConfig(config map[string]string) (omnicas.Engine, error) {
	e := New()
	if app := config["application"]; app != "" {
		if err := e.RegisterApplication(app, config["application.version"]); err != nil {
			return nil, err
		}
	}
	for key, value := range config {
		name, ok := strings.CutPrefix(key, "option.")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("fplibrary: option %s: %w", name, err)
		}
		if err := e.SetGlobalOption(name, n); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// do runs fn on a locked OS thread and reads the thread's last error before
// the goroutine can migrate.
func (e *Engine) do(fn func()) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	fn()
	code := C.FPPool_GetLastError()
	if code == 0 {
		e.record(nil)
		return nil
	}

	var info C.FPErrorInfo
	C.FPPool_GetLastErrorInfo(&info)
	err := &omnicas.Error{
		Code:        omnicas.ErrorCode(code),
		Class:       omnicas.ErrorClass(info.errorClass),
		SystemError: int(info.systemError),
		Text:        C.GoString(info.errorString),
		Message:     C.GoString(info.message),
		Trace:       C.GoString(info.trace),
	}
	if err.Class == 0 {
		err.Class = err.Code.Class()
	}
	if err.Text == "" {
		err.Text = err.Code.String()
	}
	e.record(err)
	return err
}

// value runs fn through do and returns its result.
func value[T any](e *Engine, fn func() T) (T, error) {
	var v T
	err := e.do(func() { v = fn() })
	return v, err
}

func (e *Engine) record(err *omnicas.Error) {
	e.emu.Lock()
	e.lastErr = err
	e.emu.Unlock()
}

func (e *Engine) fail(code omnicas.ErrorCode, format string, args ...any) error {
	err := &omnicas.Error{
		Code:    code,
		Class:   code.Class(),
		Text:    code.String(),
		Message: fmt.Sprintf(format, args...),
	}
	e.record(err)
	return err
}

// probe implements the length-probe contract over a native
// (char *out, FPInt *ioLen) output. ioLen carries the buffer size in and the
// required size, terminator included, out.
func (e *Engine) probe(buf []byte, fn func(out *C.char, ioLen *C.FPInt)) (int, error) {
	size := max(len(buf)+1, probeSize)
	for attempt := 1; ; attempt++ {
		s, need, err := e.probeOnce(size, fn)
		if need > size && attempt < probeAttempts {
			size = need
			continue
		}
		if err != nil {
			return 0, err
		}
		return omnicas.CopyOut(s, buf), nil
	}
}

func (e *Engine) probeOnce(size int, fn func(*C.char, *C.FPInt)) (string, int, error) {
	out := (*C.char)(C.calloc(C.size_t(size), 1))
	defer C.free(unsafe.Pointer(out))

	n := C.FPInt(size)
	err := e.do(func() { fn(out, &n) })
	if int(n) > size {
		return "", int(n), err
	}
	return C.GoString(out), int(n), err
}

// probePair is probe for outputs that return a name and a value together.
func (e *Engine) probePair(name, val []byte, fn func(outName *C.char, nameLen *C.FPInt, outValue *C.char, valueLen *C.FPInt)) (int, int, error) {
	nsize := max(len(name)+1, probeSize)
	vsize := max(len(val)+1, probeSize)
	for attempt := 1; ; attempt++ {
		cname := (*C.char)(C.calloc(C.size_t(nsize), 1))
		cvalue := (*C.char)(C.calloc(C.size_t(vsize), 1))
		nlen, vlen := C.FPInt(nsize), C.FPInt(vsize)
		err := e.do(func() { fn(cname, &nlen, cvalue, &vlen) })
		n, v := C.GoString(cname), C.GoString(cvalue)
		C.free(unsafe.Pointer(cname))
		C.free(unsafe.Pointer(cvalue))

		if (int(nlen) > nsize || int(vlen) > vsize) && attempt < probeAttempts {
			nsize, vsize = max(nsize, int(nlen)), max(vsize, int(vlen))
			continue
		}
		if err != nil {
			return 0, 0, err
		}
		return omnicas.CopyOut(n, name), omnicas.CopyOut(v, val), nil
	}
}

// clipIDOut reads a fixed-size clip ID output.
func (e *Engine) clipIDOut(fn func(out *C.char)) (string, error) {
	out := (*C.char)(C.calloc(clipIDLen, 1))
	defer C.free(unsafe.Pointer(out))
	if err := e.do(func() { fn(out) }); err != nil {
		return "", err
	}
	return C.GoString(out), nil
}

func ref(h omnicas.Handle) C.FPLong { return C.FPLong(h) }

func handle(r C.FPLong) omnicas.Handle { return omnicas.Handle(r) }

func cbool(b bool) C.FPBool {
	if b {
		return 1
	}
	return 0
}

// SDKVersion implements omnicas.LibraryEngine.
func (e *Engine) SDKVersion(buf []byte) (int, error) {
	return e.probe(buf, func(out *C.char, n *C.FPInt) {
		C.FPPool_GetComponentVersion(componentLibrary, out, n)
	})
}

// SetGlobalOption implements omnicas.LibraryEngine.
func (e *Engine) SetGlobalOption(name string, v int64) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return e.do(func() { C.FPPool_SetGlobalOption(cname, C.FPInt(v)) })
}

// GlobalOption implements omnicas.LibraryEngine.
func (e *Engine) GlobalOption(name string) (int64, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	v, err := value(e, func() C.FPInt { return C.FPPool_GetGlobalOption(cname) })
	return int64(v), err
}

// RegisterApplication implements omnicas.LibraryEngine.
func (e *Engine) RegisterApplication(name, version string) error {
	cname, cversion := C.CString(name), C.CString(version)
	defer C.free(unsafe.Pointer(cname))
	defer C.free(unsafe.Pointer(cversion))
	return e.do(func() { C.FPPool_RegisterApplication(cname, cversion) })
}

// LastError implements omnicas.LibraryEngine. It reports the status of the
// most recent library call made through this engine, since goroutines do not
// own OS threads between calls.
func (e *Engine) LastError() omnicas.ErrorCode {
	e.emu.Lock()
	defer e.emu.Unlock()
	if e.lastErr == nil {
		return omnicas.ErrCodeOK
	}
	return e.lastErr.Code
}

// LastErrorInfo implements omnicas.LibraryEngine.
func (e *Engine) LastErrorInfo() omnicas.ErrorInfo {
	e.emu.Lock()
	defer e.emu.Unlock()
	if e.lastErr == nil {
		return omnicas.ErrorInfo{Code: omnicas.ErrCodeOK}
	}
	return omnicas.ErrorInfo{
		Code:        e.lastErr.Code,
		SystemError: e.lastErr.SystemError,
		Trace:       e.lastErr.Trace,
		Message:     e.lastErr.Message,
		Text:        e.lastErr.Text,
		Class:       e.lastErr.Class,
	}
}

// Close implements omnicas.LibraryEngine. It closes streams the caller left
// open; the library itself stays loaded for the life of the process.
func (e *Engine) Close() error {
	e.smu.Lock()
	open := make([]omnicas.Handle, 0, len(e.streams))
	for h := range e.streams {
		open = append(open, h)
	}
	e.smu.Unlock()

	if len(open) > 0 {
		e.logger.Debug("engine closed with open streams", slog.Int("count", len(open)))
	}
	for _, h := range open {
		if err := e.StreamClose(h); err != nil {
			e.logger.Warn("closing stream failed", slog.Uint64("stream", uint64(h)), slog.Any("error", err))
		}
	}
	return nil
}
