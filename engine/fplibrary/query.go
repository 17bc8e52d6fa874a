//go:build cgo && fplibrary

package fplibrary

/*
#include "fpapi.h"
*/
import "C"

import (
	"context"
	"time"
	"unsafe"

	"github.com/grokify/omnicas"
)

// QueryExpressionCreate implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionCreate() (omnicas.Handle, error) {
	r, err := value(e, func() C.FPLong { return C.FPQueryExpression_Create() })
	return handle(r), err
}

// QueryExpressionClose implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionClose(expr omnicas.Handle) error {
	return e.do(func() { C.FPQueryExpression_Close(ref(expr)) })
}

// QueryExpressionSetStartTime implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionSetStartTime(expr omnicas.Handle, unix int64) error {
	return e.do(func() { C.FPQueryExpression_SetStartTime(ref(expr), C.FPLong(unix)) })
}

// QueryExpressionStartTime implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionStartTime(expr omnicas.Handle) (int64, error) {
	v, err := value(e, func() C.FPLong { return C.FPQueryExpression_GetStartTime(ref(expr)) })
	return int64(v), err
}

// QueryExpressionSetEndTime implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionSetEndTime(expr omnicas.Handle, unix int64) error {
	return e.do(func() { C.FPQueryExpression_SetEndTime(ref(expr), C.FPLong(unix)) })
}

// QueryExpressionEndTime implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionEndTime(expr omnicas.Handle) (int64, error) {
	v, err := value(e, func() C.FPLong { return C.FPQueryExpression_GetEndTime(ref(expr)) })
	return int64(v), err
}

// QueryExpressionSetType implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionSetType(expr omnicas.Handle, t omnicas.QueryType) error {
	return e.do(func() { C.FPQueryExpression_SetType(ref(expr), C.FPInt(t)) })
}

// QueryExpressionType implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionType(expr omnicas.Handle) (omnicas.QueryType, error) {
	v, err := value(e, func() C.FPInt { return C.FPQueryExpression_GetType(ref(expr)) })
	return omnicas.QueryType(v), err
}

// QueryExpressionSelectField implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionSelectField(expr omnicas.Handle, name string) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return e.do(func() { C.FPQueryExpression_SelectField(ref(expr), cname) })
}

// QueryExpressionDeselectField implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionDeselectField(expr omnicas.Handle, name string) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return e.do(func() { C.FPQueryExpression_DeselectField(ref(expr), cname) })
}

// QueryExpressionIsFieldSelected implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionIsFieldSelected(expr omnicas.Handle, name string) (bool, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	b, err := value(e, func() C.FPBool { return C.FPQueryExpression_IsFieldSelected(ref(expr), cname) })
	return b != 0, err
}

// PoolQueryOpen implements omnicas.QueryEngine.
func (e *Engine) PoolQueryOpen(ctx context.Context, pool, expr omnicas.Handle) (omnicas.Handle, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r, err := value(e, func() C.FPLong { return C.FPPoolQuery_Open(ref(pool), ref(expr)) })
	return handle(r), err
}

// PoolQueryClose implements omnicas.QueryEngine.
func (e *Engine) PoolQueryClose(query omnicas.Handle) error {
	return e.do(func() { C.FPPoolQuery_Close(ref(query)) })
}

// PoolQueryPool implements omnicas.QueryEngine.
func (e *Engine) PoolQueryPool(query omnicas.Handle) (omnicas.Handle, error) {
	r, err := value(e, func() C.FPLong { return C.FPPoolQuery_GetPoolRef(ref(query)) })
	return handle(r), err
}

// PoolQueryFetchResult implements omnicas.QueryEngine. A deadline on ctx
// shortens timeout.
func (e *Engine) PoolQueryFetchResult(ctx context.Context, query omnicas.Handle, timeout time.Duration) (omnicas.Handle, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	millis := C.FPInt(max(timeout.Milliseconds(), 0))
	r, err := value(e, func() C.FPLong { return C.FPPoolQuery_FetchResult(ref(query), millis) })
	return handle(r), err
}

// QueryResultClose implements omnicas.QueryEngine.
func (e *Engine) QueryResultClose(result omnicas.Handle) error {
	return e.do(func() { C.FPQueryResult_Close(ref(result)) })
}

// QueryResultCode implements omnicas.QueryEngine.
func (e *Engine) QueryResultCode(result omnicas.Handle) (omnicas.QueryResultCode, error) {
	v, err := value(e, func() C.FPInt { return C.FPQueryResult_GetResultCode(ref(result)) })
	return omnicas.QueryResultCode(v), err
}

// QueryResultClipID implements omnicas.QueryEngine.
func (e *Engine) QueryResultClipID(result omnicas.Handle, buf []byte) (int, error) {
	id, err := e.clipIDOut(func(out *C.char) { C.FPQueryResult_GetClipID(ref(result), out) })
	if err != nil {
		return 0, err
	}
	return omnicas.CopyOut(id, buf), nil
}

// QueryResultTimestamp implements omnicas.QueryEngine.
func (e *Engine) QueryResultTimestamp(result omnicas.Handle, buf []byte) (int, error) {
	return e.probe(buf, func(out *C.char, n *C.FPInt) { C.FPQueryResult_GetTimestamp(ref(result), out, n) })
}

// QueryResultType implements omnicas.QueryEngine.
func (e *Engine) QueryResultType(result omnicas.Handle) (omnicas.QueryType, error) {
	v, err := value(e, func() C.FPInt { return C.FPQueryResult_GetType(ref(result)) })
	return omnicas.QueryType(v), err
}

// QueryResultField implements omnicas.QueryEngine.
func (e *Engine) QueryResultField(result omnicas.Handle, name string, buf []byte) (int, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return e.probe(buf, func(out *C.char, n *C.FPInt) {
		C.FPQueryResult_GetField(ref(result), cname, out, n)
	})
}
