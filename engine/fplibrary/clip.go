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

// ClipCreate implements omnicas.ClipEngine.
func (e *Engine) ClipCreate(pool omnicas.Handle, name string) (omnicas.Handle, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	r, err := value(e, func() C.FPLong { return C.FPClip_Create(ref(pool), cname) })
	return handle(r), err
}

// ClipOpen implements omnicas.ClipEngine.
func (e *Engine) ClipOpen(ctx context.Context, pool omnicas.Handle, id string, mode omnicas.OpenMode) (omnicas.Handle, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cid := C.CString(id)
	defer C.free(unsafe.Pointer(cid))
	r, err := value(e, func() C.FPLong { return C.FPClip_Open(ref(pool), cid, C.FPInt(mode)) })
	return handle(r), err
}

// ClipRawOpen implements omnicas.ClipEngine.
func (e *Engine) ClipRawOpen(ctx context.Context, pool omnicas.Handle, id string, st omnicas.Handle, opts int64) (omnicas.Handle, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cid := C.CString(id)
	defer C.free(unsafe.Pointer(cid))
	r, err := value(e, func() C.FPLong {
		return C.FPClip_RawOpen(ref(pool), cid, ref(st), C.FPLong(opts))
	})
	return handle(r), e.transferred(st, err)
}

// ClipClose implements omnicas.ClipEngine.
func (e *Engine) ClipClose(clip omnicas.Handle) error {
	return e.do(func() { C.FPClip_Close(ref(clip)) })
}

// ClipExists implements omnicas.ClipEngine.
func (e *Engine) ClipExists(ctx context.Context, pool omnicas.Handle, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	cid := C.CString(id)
	defer C.free(unsafe.Pointer(cid))
	ok, err := value(e, func() C.FPBool { return C.FPClip_Exists(ref(pool), cid) })
	return ok != 0, err
}

// ClipDelete implements omnicas.ClipEngine.
func (e *Engine) ClipDelete(ctx context.Context, pool omnicas.Handle, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cid := C.CString(id)
	defer C.free(unsafe.Pointer(cid))
	return e.do(func() { C.FPClip_Delete(ref(pool), cid) })
}

// ClipAuditedDelete implements omnicas.ClipEngine.
func (e *Engine) ClipAuditedDelete(ctx context.Context, pool omnicas.Handle, id, reason string, opts int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cid, creason := C.CString(id), C.CString(reason)
	defer C.free(unsafe.Pointer(cid))
	defer C.free(unsafe.Pointer(creason))
	return e.do(func() { C.FPClip_AuditedDelete(ref(pool), cid, creason, C.FPLong(opts)) })
}

// ClipWrite implements omnicas.ClipEngine. The new ID is read back with
// ClipID.
func (e *Engine) ClipWrite(ctx context.Context, clip omnicas.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := e.clipIDOut(func(out *C.char) { C.FPClip_Write(ref(clip), out) })
	return err
}

// ClipRawRead implements omnicas.ClipEngine.
func (e *Engine) ClipRawRead(ctx context.Context, clip, st omnicas.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := e.do(func() { C.FPClip_RawRead(ref(clip), ref(st)) })
	return e.transferred(st, err)
}

// ClipPool implements omnicas.ClipEngine.
func (e *Engine) ClipPool(clip omnicas.Handle) (omnicas.Handle, error) {
	r, err := value(e, func() C.FPLong { return C.FPClip_GetPoolRef(ref(clip)) })
	return handle(r), err
}

// ClipTopTag implements omnicas.ClipEngine.
func (e *Engine) ClipTopTag(clip omnicas.Handle) (omnicas.Handle, error) {
	r, err := value(e, func() C.FPLong { return C.FPClip_GetTopTag(ref(clip)) })
	return handle(r), err
}

// ClipFetchNext implements omnicas.ClipEngine.
func (e *Engine) ClipFetchNext(ctx context.Context, clip omnicas.Handle) (omnicas.Handle, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r, err := value(e, func() C.FPLong { return C.FPClip_FetchNext(ref(clip)) })
	return handle(r), err
}

// ClipNumBlobs implements omnicas.ClipEngine.
func (e *Engine) ClipNumBlobs(clip omnicas.Handle) (int, error) {
	n, err := value(e, func() C.FPInt { return C.FPClip_GetNumBlobs(ref(clip)) })
	return int(n), err
}

// ClipNumTags implements omnicas.ClipEngine.
func (e *Engine) ClipNumTags(clip omnicas.Handle) (int, error) {
	n, err := value(e, func() C.FPInt { return C.FPClip_GetNumTags(ref(clip)) })
	return int(n), err
}

// ClipTotalSize implements omnicas.ClipEngine.
func (e *Engine) ClipTotalSize(clip omnicas.Handle) (int64, error) {
	n, err := value(e, func() C.FPLong { return C.FPClip_GetTotalSize(ref(clip)) })
	return int64(n), err
}

// ClipID implements omnicas.ClipEngine.
func (e *Engine) ClipID(clip omnicas.Handle, buf []byte) (int, error) {
	id, err := e.clipIDOut(func(out *C.char) { C.FPClip_GetClipID(ref(clip), out) })
	if err != nil {
		return 0, err
	}
	return omnicas.CopyOut(id, buf), nil
}

// ClipName implements omnicas.ClipEngine.
func (e *Engine) ClipName(clip omnicas.Handle, buf []byte) (int, error) {
	return e.probe(buf, func(out *C.char, n *C.FPInt) { C.FPClip_GetName(ref(clip), out, n) })
}

// ClipSetName implements omnicas.ClipEngine.
func (e *Engine) ClipSetName(clip omnicas.Handle, name string) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return e.do(func() { C.FPClip_SetName(ref(clip), cname) })
}

// ClipCreationDate implements omnicas.ClipEngine.
func (e *Engine) ClipCreationDate(clip omnicas.Handle, buf []byte) (int, error) {
	return e.probe(buf, func(out *C.char, n *C.FPInt) { C.FPClip_GetCreationDate(ref(clip), out, n) })
}

// ClipIsModified implements omnicas.ClipEngine.
func (e *Engine) ClipIsModified(clip omnicas.Handle) (bool, error) {
	b, err := value(e, func() C.FPBool { return C.FPClip_IsModified(ref(clip)) })
	return b != 0, err
}

// ClipSetDescriptionAttribute implements omnicas.ClipEngine.
func (e *Engine) ClipSetDescriptionAttribute(clip omnicas.Handle, name, v string) error {
	cname, cvalue := C.CString(name), C.CString(v)
	defer C.free(unsafe.Pointer(cname))
	defer C.free(unsafe.Pointer(cvalue))
	return e.do(func() { C.FPClip_SetDescriptionAttribute(ref(clip), cname, cvalue) })
}

// ClipRemoveDescriptionAttribute implements omnicas.ClipEngine.
func (e *Engine) ClipRemoveDescriptionAttribute(clip omnicas.Handle, name string) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return e.do(func() { C.FPClip_RemoveDescriptionAttribute(ref(clip), cname) })
}

// ClipDescriptionAttribute implements omnicas.ClipEngine.
func (e *Engine) ClipDescriptionAttribute(clip omnicas.Handle, name string, buf []byte) (int, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return e.probe(buf, func(out *C.char, n *C.FPInt) {
		C.FPClip_GetDescriptionAttribute(ref(clip), cname, out, n)
	})
}

// ClipNumDescriptionAttributes implements omnicas.ClipEngine.
func (e *Engine) ClipNumDescriptionAttributes(clip omnicas.Handle) (int, error) {
	n, err := value(e, func() C.FPInt { return C.FPClip_GetNumDescriptionAttributes(ref(clip)) })
	return int(n), err
}

// ClipDescriptionAttributeAt implements omnicas.ClipEngine.
func (e *Engine) ClipDescriptionAttributeAt(clip omnicas.Handle, index int, name, val []byte) (int, int, error) {
	return e.probePair(name, val, func(cname *C.char, nlen *C.FPInt, cvalue *C.char, vlen *C.FPInt) {
		C.FPClip_GetDescriptionAttributeIndex(ref(clip), C.FPInt(index), cname, nlen, cvalue, vlen)
	})
}

// CanonicalClipID implements omnicas.ClipEngine.
func (e *Engine) CanonicalClipID(id string, buf []byte) (int, error) {
	cid := C.CString(id)
	defer C.free(unsafe.Pointer(cid))
	out := (*C.uchar)(C.calloc(C.FP_CANONICAL_CLIPID_LEN, 1))
	defer C.free(unsafe.Pointer(out))

	if err := e.do(func() { C.FPClipID_GetCanonicalFormat(cid, out) }); err != nil {
		return 0, err
	}
	canonical := C.GoBytes(unsafe.Pointer(out), C.FP_CANONICAL_CLIPID_LEN)
	copy(buf, canonical)
	return len(canonical), nil
}

// StringClipID implements omnicas.ClipEngine.
func (e *Engine) StringClipID(canonical []byte, buf []byte) (int, error) {
	if len(canonical) > C.FP_CANONICAL_CLIPID_LEN {
		return 0, e.fail(omnicas.ErrCodeParamErr, "canonical clip ID is %d bytes", len(canonical))
	}
	in := (*C.uchar)(C.calloc(C.FP_CANONICAL_CLIPID_LEN, 1))
	defer C.free(unsafe.Pointer(in))
	copy(unsafe.Slice((*byte)(unsafe.Pointer(in)), C.FP_CANONICAL_CLIPID_LEN), canonical)

	id, err := e.clipIDOut(func(out *C.char) { C.FPClipID_GetStringFormat(in, out) })
	if err != nil {
		return 0, err
	}
	return omnicas.CopyOut(id, buf), nil
}
