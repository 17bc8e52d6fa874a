package omnicas

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrorCode is a native error number. Codes are negative; zero is success.
type ErrorCode int

// Native error codes.
const (
	ErrCodeOK                    ErrorCode = 0
	ErrCodeInvalidName           ErrorCode = -10001
	ErrCodeUnknownOption         ErrorCode = -10002
	ErrCodeNotSendRequest        ErrorCode = -10003
	ErrCodeNotReceiveReply       ErrorCode = -10004
	ErrCodeServer                ErrorCode = -10005
	ErrCodeParamErr              ErrorCode = -10006
	ErrCodePathNotFound          ErrorCode = -10007
	ErrCodeDuplicateFile         ErrorCode = -10010
	ErrCodeOperationNotSupported ErrorCode = -10012
	ErrCodeTagNotFound           ErrorCode = -10017
	ErrCodeAttrNotFound          ErrorCode = -10018
	ErrCodeWrongReference        ErrorCode = -10019
	ErrCodeNoPool                ErrorCode = -10020
	ErrCodeClipNotFound          ErrorCode = -10021
	ErrCodeTagTree               ErrorCode = -10022
	ErrCodeTagReadOnly           ErrorCode = -10025
	ErrCodeOutOfBounds           ErrorCode = -10026
	ErrCodeFileSystem            ErrorCode = -10027
	ErrCodeTagHasNoData          ErrorCode = -10030
	ErrCodeProtocol              ErrorCode = -10033
	ErrCodeNoSocketAvailable     ErrorCode = -10034
	ErrCodeBlobIDMismatch        ErrorCode = -10036
	ErrCodeClipClosed            ErrorCode = -10038
	ErrCodePoolClosed            ErrorCode = -10039
	ErrCodeBlobBusy              ErrorCode = -10040
	ErrCodeServerNotReady        ErrorCode = -10041
	ErrCodeServerNoCapacity      ErrorCode = -10042
	ErrCodeDuplicateID           ErrorCode = -10043
	ErrCodeStreamValidation      ErrorCode = -10044
	ErrCodeStreamByteCount       ErrorCode = -10045
	ErrCodeSocket                ErrorCode = -10101
	ErrCodeAuthentication        ErrorCode = -10153
	ErrCodeRetentionNotExpired   ErrorCode = -10156
	ErrCodeRetentionOutOfBounds  ErrorCode = -10157
	ErrCodeOnHold                ErrorCode = -10158
	ErrCodeOperationNotAllowed   ErrorCode = -10204
	ErrCodeSDKInternal           ErrorCode = -10205
	ErrCodeOutOfMemory           ErrorCode = -10206
	ErrCodeObjectInUse           ErrorCode = -10207
	ErrCodeNotYetOpen            ErrorCode = -10208
	ErrCodeStream                ErrorCode = -10209
	ErrCodeProfileClipNotFound   ErrorCode = -10213
)

var codeText = map[ErrorCode]string{
	ErrCodeOK:                    "no error",
	ErrCodeInvalidName:           "invalid name",
	ErrCodeUnknownOption:         "unknown option",
	ErrCodeNotSendRequest:        "request not sent",
	ErrCodeNotReceiveReply:       "reply not received",
	ErrCodeServer:                "server error",
	ErrCodeParamErr:              "invalid parameter",
	ErrCodePathNotFound:          "path not found",
	ErrCodeDuplicateFile:         "duplicate file",
	ErrCodeOperationNotSupported: "operation not supported",
	ErrCodeTagNotFound:           "tag not found",
	ErrCodeAttrNotFound:          "attribute not found",
	ErrCodeWrongReference:        "wrong reference",
	ErrCodeNoPool:                "no pool available",
	ErrCodeClipNotFound:          "clip not found",
	ErrCodeTagTree:               "tag tree error",
	ErrCodeTagReadOnly:           "tag is read-only",
	ErrCodeOutOfBounds:           "out of bounds",
	ErrCodeFileSystem:            "file system error",
	ErrCodeTagHasNoData:          "tag has no data",
	ErrCodeProtocol:              "protocol error",
	ErrCodeNoSocketAvailable:     "no socket available",
	ErrCodeBlobIDMismatch:        "blob id mismatch",
	ErrCodeClipClosed:            "clip closed",
	ErrCodePoolClosed:            "pool closed",
	ErrCodeBlobBusy:              "blob busy",
	ErrCodeServerNotReady:        "server not ready",
	ErrCodeServerNoCapacity:      "server has no capacity",
	ErrCodeDuplicateID:           "duplicate id",
	ErrCodeStreamValidation:      "stream validation failed",
	ErrCodeStreamByteCount:       "stream byte count mismatch",
	ErrCodeSocket:                "socket error",
	ErrCodeAuthentication:        "authentication failed",
	ErrCodeRetentionNotExpired:   "retention period not expired",
	ErrCodeRetentionOutOfBounds:  "retention period out of bounds",
	ErrCodeOnHold:                "clip is on retention hold",
	ErrCodeOperationNotAllowed:   "operation not allowed",
	ErrCodeSDKInternal:           "internal error",
	ErrCodeOutOfMemory:           "out of memory",
	ErrCodeObjectInUse:           "object in use",
	ErrCodeNotYetOpen:            "object not yet open",
	ErrCodeStream:                "stream error",
	ErrCodeProfileClipNotFound:   "profile clip not found",
}

func (c ErrorCode) String() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return "error " + strconv.Itoa(int(c))
}

// Error makes ErrorCode usable as an engine error and as an errors.Is target.
func (c ErrorCode) Error() string {
	return fmt.Sprintf("%s (%d)", c.String(), int(c))
}

// Class returns the native class of the code.
func (c ErrorCode) Class() ErrorClass {
	switch c {
	case ErrCodeNotSendRequest, ErrCodeNotReceiveReply, ErrCodeProtocol,
		ErrCodeNoSocketAvailable, ErrCodeSocket, ErrCodeNoPool:
		return ClassNetwork
	case ErrCodeServer, ErrCodeServerNotReady, ErrCodeServerNoCapacity,
		ErrCodeClipNotFound, ErrCodeBlobIDMismatch, ErrCodeDuplicateID,
		ErrCodeRetentionNotExpired, ErrCodeOnHold, ErrCodeOperationNotAllowed,
		ErrCodeAuthentication:
		return ClassServer
	default:
		return ClassClient
	}
}

// ErrorClass groups error codes by origin.
type ErrorClass int

const (
	ClassNetwork ErrorClass = 1
	ClassServer  ErrorClass = 2
	ClassClient  ErrorClass = 3
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNetwork:
		return "network"
	case ClassServer:
		return "server"
	case ClassClient:
		return "client"
	default:
		return "unknown"
	}
}

// ErrorInfo is the native last-error record.
type ErrorInfo struct {
	Code        ErrorCode
	SystemError int
	Trace       string
	Message     string
	Text        string
	Class       ErrorClass
}

// Error is a failed engine call.
type Error struct {
	// Op is the wrapper operation, such as "Clip.Write".
	Op          string
	Code        ErrorCode
	Class       ErrorClass
	SystemError int
	Text        string
	Message     string
	Trace       string

	// Err is a non-native cause, such as a context error.
	Err error
}

func (e *Error) Error() string {
	msg := e.Text
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	s := fmt.Sprintf("omnicas: %s (%d)", msg, int(e.Code))
	if e.Op != "" {
		s = fmt.Sprintf("omnicas: %s: %s (%d)", e.Op, msg, int(e.Code))
	}
	return s
}

// Is matches an ErrorCode, or another *Error with the same code.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case ErrorCode:
		return e.Code == t
	case *Error:
		return t.Code != 0 && e.Code == t.Code
	}
	return false
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Info returns the error as a native error record.
func (e *Error) Info() ErrorInfo {
	return ErrorInfo{
		Code:        e.Code,
		SystemError: e.SystemError,
		Trace:       e.Trace,
		Message:     e.Message,
		Text:        e.Text,
		Class:       e.Class,
	}
}

// NewError builds an *Error from a native error record.
func NewError(op string, info ErrorInfo) *Error {
	class := info.Class
	if class == 0 {
		class = info.Code.Class()
	}
	return &Error{
		Op:          op,
		Code:        info.Code,
		Class:       class,
		SystemError: info.SystemError,
		Text:        info.Text,
		Message:     info.Message,
		Trace:       info.Trace,
	}
}

// ErrWrongReference is returned when a handle has no live wrapper of the
// requested kind.
var ErrWrongReference = &Error{
	Code:  ErrCodeWrongReference,
	Class: ClassClient,
	Text:  "handle is not associated with a wrapper",
}

var (
	// ErrAlreadyRegistered is returned when a live handle is registered again.
	ErrAlreadyRegistered = errors.New("omnicas: handle already registered")

	// ErrInvalidHandle is returned for the zero handle.
	ErrInvalidHandle = errors.New("omnicas: invalid handle")

	// ErrNotSeekable is returned by a stream reset when the endpoint cannot seek.
	ErrNotSeekable = errors.New("omnicas: stream is not seekable")

	// ErrRegionFull is returned when a partial writer reaches its region end.
	ErrRegionFull = errors.New("omnicas: partial stream region full")

	// ErrOutsideRegion is returned when a partial stream seeks past its region.
	ErrOutsideRegion = errors.New("omnicas: seek outside partial stream region")

	// ErrBufferTooSmall is returned when a string output kept growing between
	// size probes.
	ErrBufferTooSmall = errors.New("omnicas: output kept growing")

	// ErrClosed is returned when using a closed wrapper or session.
	ErrClosed = errors.New("omnicas: closed")

	// ErrUnknownEngine is returned by Open when the engine name is not
	// registered.
	ErrUnknownEngine = errors.New("omnicas: unknown engine")
)

func wrongReference(op string, h Handle, kind string) error {
	return &Error{
		Op:    op,
		Code:  ErrCodeWrongReference,
		Class: ClassClient,
		Text:  fmt.Sprintf("handle %d is not associated with a %s", h, kind),
	}
}

// translate turns an engine failure into an *Error carrying op.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		out := *e
		if out.Op == "" {
			out.Op = op
		}
		if out.Class == 0 {
			out.Class = out.Code.Class()
		}
		return &out
	}

	var code ErrorCode
	if errors.As(err, &code) {
		return &Error{Op: op, Code: code, Class: code.Class(), Text: code.String()}
	}

	return &Error{Op: op, Code: ErrCodeSDKInternal, Class: ClassClient, Err: err}
}

// IsWrongReference reports whether err is a registry miss.
func IsWrongReference(err error) bool {
	return errors.Is(err, ErrCodeWrongReference)
}

// IsNotFound reports whether err names a missing clip, tag, attribute or path.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCodeClipNotFound) ||
		errors.Is(err, ErrCodeTagNotFound) ||
		errors.Is(err, ErrCodeAttrNotFound) ||
		errors.Is(err, ErrCodePathNotFound) ||
		errors.Is(err, ErrCodeProfileClipNotFound)
}

// IsRetentionError reports whether err was caused by retention enforcement.
func IsRetentionError(err error) bool {
	return errors.Is(err, ErrCodeRetentionNotExpired) ||
		errors.Is(err, ErrCodeRetentionOutOfBounds) ||
		errors.Is(err, ErrCodeOnHold)
}

// ErrorClassOf returns the class of err, or zero when err is not an engine
// error.
func ErrorClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		if e.Class != 0 {
			return e.Class
		}
		return e.Code.Class()
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code.Class()
	}
	return 0
}
