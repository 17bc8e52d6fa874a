//go:build cgo && fplibrary

package fplibrary

/*
#include "fpapi.h"
*/
import "C"

import (
	"context"
	"unsafe"

	"github.com/grokify/omnicas"
)

// TagCreate implements omnicas.TagEngine.
func (e *Engine) TagCreate(parent omnicas.Handle, name string) (omnicas.Handle, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	r, err := value(e, func() C.FPLong { return C.FPTag_Create(ref(parent), cname) })
	return handle(r), err
}

// TagClose implements omnicas.TagEngine.
func (e *Engine) TagClose(tag omnicas.Handle) error {
	return e.do(func() { C.FPTag_Close(ref(tag)) })
}

// TagCopy implements omnicas.TagEngine.
func (e *Engine) TagCopy(tag, newParent omnicas.Handle, opts int64) (omnicas.Handle, error) {
	r, err := value(e, func() C.FPLong { return C.FPTag_Copy(ref(tag), ref(newParent), C.FPInt(opts)) })
	return handle(r), err
}

// TagClip implements omnicas.TagEngine.
func (e *Engine) TagClip(tag omnicas.Handle) (omnicas.Handle, error) {
	r, err := value(e, func() C.FPLong { return C.FPTag_GetClipRef(ref(tag)) })
	return handle(r), err
}

// TagNextSibling implements omnicas.TagEngine.
func (e *Engine) TagNextSibling(tag omnicas.Handle) (omnicas.Handle, error) {
	return e.navigate(func() C.FPLong { return C.FPTag_GetSibling(ref(tag)) })
}

// TagPrevSibling implements omnicas.TagEngine.
func (e *Engine) TagPrevSibling(tag omnicas.Handle) (omnicas.Handle, error) {
	return e.navigate(func() C.FPLong { return C.FPTag_GetPrevSibling(ref(tag)) })
}

// TagFirstChild implements omnicas.TagEngine.
func (e *Engine) TagFirstChild(tag omnicas.Handle) (omnicas.Handle, error) {
	return e.navigate(func() C.FPLong { return C.FPTag_GetFirstChild(ref(tag)) })
}

// TagParent implements omnicas.TagEngine.
func (e *Engine) TagParent(tag omnicas.Handle) (omnicas.Handle, error) {
	return e.navigate(func() C.FPLong { return C.FPTag_GetParent(ref(tag)) })
}

// navigate maps the library's tag-not-found result at a tree edge to the
// zero handle.
func (e *Engine) navigate(fn func() C.FPLong) (omnicas.Handle, error) {
	r, err := value(e, fn)
	if err != nil {
		if nerr, ok := err.(*omnicas.Error); ok && nerr.Code == omnicas.ErrCodeTagNotFound {
			return 0, nil
		}
		return 0, err
	}
	return handle(r), nil
}

// TagDelete implements omnicas.TagEngine.
func (e *Engine) TagDelete(tag omnicas.Handle) error {
	return e.do(func() { C.FPTag_Delete(ref(tag)) })
}

// TagName implements omnicas.TagEngine.
func (e *Engine) TagName(tag omnicas.Handle, buf []byte) (int, error) {
	return e.probe(buf, func(out *C.char, n *C.FPInt) { C.FPTag_GetTagName(ref(tag), out, n) })
}

// TagSetStringAttribute implements omnicas.TagEngine.
func (e *Engine) TagSetStringAttribute(tag omnicas.Handle, name, v string) error {
	cname, cvalue := C.CString(name), C.CString(v)
	defer C.free(unsafe.Pointer(cname))
	defer C.free(unsafe.Pointer(cvalue))
	return e.do(func() { C.FPTag_SetStringAttribute(ref(tag), cname, cvalue) })
}

// TagSetLongAttribute implements omnicas.TagEngine.
func (e *Engine) TagSetLongAttribute(tag omnicas.Handle, name string, v int64) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return e.do(func() { C.FPTag_SetLongAttribute(ref(tag), cname, C.FPLong(v)) })
}

// TagSetBoolAttribute implements omnicas.TagEngine.
func (e *Engine) TagSetBoolAttribute(tag omnicas.Handle, name string, v bool) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return e.do(func() { C.FPTag_SetBoolAttribute(ref(tag), cname, cbool(v)) })
}

// TagStringAttribute implements omnicas.TagEngine.
func (e *Engine) TagStringAttribute(tag omnicas.Handle, name string, buf []byte) (int, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return e.probe(buf, func(out *C.char, n *C.FPInt) {
		C.FPTag_GetStringAttribute(ref(tag), cname, out, n)
	})
}

// TagLongAttribute implements omnicas.TagEngine.
func (e *Engine) TagLongAttribute(tag omnicas.Handle, name string) (int64, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	v, err := value(e, func() C.FPLong { return C.FPTag_GetLongAttribute(ref(tag), cname) })
	return int64(v), err
}

// TagBoolAttribute implements omnicas.TagEngine.
func (e *Engine) TagBoolAttribute(tag omnicas.Handle, name string) (bool, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	v, err := value(e, func() C.FPBool { return C.FPTag_GetBoolAttribute(ref(tag), cname) })
	return v != 0, err
}

// TagRemoveAttribute implements omnicas.TagEngine.
func (e *Engine) TagRemoveAttribute(tag omnicas.Handle, name string) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return e.do(func() { C.FPTag_RemoveAttribute(ref(tag), cname) })
}

// TagNumAttributes implements omnicas.TagEngine.
func (e *Engine) TagNumAttributes(tag omnicas.Handle) (int, error) {
	n, err := value(e, func() C.FPInt { return C.FPTag_GetNumAttributes(ref(tag)) })
	return int(n), err
}

// TagAttributeAt implements omnicas.TagEngine.
func (e *Engine) TagAttributeAt(tag omnicas.Handle, index int, name, val []byte) (int, int, error) {
	return e.probePair(name, val, func(cname *C.char, nlen *C.FPInt, cvalue *C.char, vlen *C.FPInt) {
		C.FPTag_GetIndexAttribute(ref(tag), C.FPInt(index), cname, nlen, cvalue, vlen)
	})
}

// TagBlobSize implements omnicas.TagEngine.
func (e *Engine) TagBlobSize(tag omnicas.Handle) (int64, error) {
	n, err := value(e, func() C.FPLong { return C.FPTag_GetBlobSize(ref(tag)) })
	return int64(n), err
}

// TagBlobWrite implements omnicas.TagEngine.
func (e *Engine) TagBlobWrite(ctx context.Context, tag, st omnicas.Handle, opts int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := e.do(func() { C.FPTag_BlobWrite(ref(tag), ref(st), C.FPLong(opts)) })
	return e.transferred(st, err)
}

// TagBlobWritePartial implements omnicas.TagEngine.
func (e *Engine) TagBlobWritePartial(ctx context.Context, tag, st omnicas.Handle, opts, seq int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := e.do(func() { C.FPTag_BlobWritePartial(ref(tag), ref(st), C.FPLong(opts), C.FPLong(seq)) })
	return e.transferred(st, err)
}

// TagBlobRead implements omnicas.TagEngine.
func (e *Engine) TagBlobRead(ctx context.Context, tag, st omnicas.Handle, opts int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := e.do(func() { C.FPTag_BlobRead(ref(tag), ref(st), C.FPLong(opts)) })
	return e.transferred(st, err)
}

// TagBlobReadPartial implements omnicas.TagEngine.
func (e *Engine) TagBlobReadPartial(ctx context.Context, tag, st omnicas.Handle, offset, length, opts int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := e.do(func() {
		C.FPTag_BlobReadPartial(ref(tag), ref(st), C.FPLong(offset), C.FPLong(length), C.FPLong(opts))
	})
	return e.transferred(st, err)
}

// TagBlobStatus implements omnicas.TagEngine.
func (e *Engine) TagBlobStatus(tag omnicas.Handle) (omnicas.BlobStatus, error) {
	v, err := value(e, func() C.FPInt { return C.FPTag_BlobExists(ref(tag)) })
	return omnicas.BlobStatus(v), err
}
