//go:build cgo && fplibrary

package fplibrary

/*
#include "fpapi.h"
*/
import "C"

import (
	"unsafe"

	"github.com/grokify/omnicas"
)

// ClipRetentionPeriod implements omnicas.ClipEngine.
func (e *Engine) ClipRetentionPeriod(clip omnicas.Handle) (int64, error) {
	v, err := value(e, func() C.FPLong { return C.FPClip_GetRetentionPeriod(ref(clip)) })
	return int64(v), err
}

// ClipSetRetentionPeriod implements omnicas.ClipEngine.
func (e *Engine) ClipSetRetentionPeriod(clip omnicas.Handle, seconds int64) error {
	return e.do(func() { C.FPClip_SetRetentionPeriod(ref(clip), C.FPLong(seconds)) })
}

// ClipEnableEBRWithPeriod implements omnicas.ClipEngine.
func (e *Engine) ClipEnableEBRWithPeriod(clip omnicas.Handle, seconds int64) error {
	return e.do(func() { C.FPClip_EnableEBRWithPeriod(ref(clip), C.FPLong(seconds)) })
}

// ClipEnableEBRWithClass implements omnicas.ClipEngine.
func (e *Engine) ClipEnableEBRWithClass(clip, class omnicas.Handle) error {
	return e.do(func() { C.FPClip_EnableEBRWithClass(ref(clip), ref(class)) })
}

// ClipIsEBREnabled implements omnicas.ClipEngine.
func (e *Engine) ClipIsEBREnabled(clip omnicas.Handle) (bool, error) {
	b, err := value(e, func() C.FPBool { return C.FPClip_IsEBREnabled(ref(clip)) })
	return b != 0, err
}

// ClipTriggerEBREvent implements omnicas.ClipEngine.
func (e *Engine) ClipTriggerEBREvent(clip omnicas.Handle) error {
	return e.do(func() { C.FPClip_TriggerEBREvent(ref(clip)) })
}

// ClipTriggerEBREventWithPeriod implements omnicas.ClipEngine.
func (e *Engine) ClipTriggerEBREventWithPeriod(clip omnicas.Handle, seconds int64) error {
	return e.do(func() { C.FPClip_TriggerEBREventWithPeriod(ref(clip), C.FPLong(seconds)) })
}

// ClipTriggerEBREventWithClass implements omnicas.ClipEngine.
func (e *Engine) ClipTriggerEBREventWithClass(clip, class omnicas.Handle) error {
	return e.do(func() { C.FPClip_TriggerEBREventWithClass(ref(clip), ref(class)) })
}

// ClipEBRPeriod implements omnicas.ClipEngine.
func (e *Engine) ClipEBRPeriod(clip omnicas.Handle) (int64, error) {
	v, err := value(e, func() C.FPLong { return C.FPClip_GetEBRPeriod(ref(clip)) })
	return int64(v), err
}

// ClipEBRClassName implements omnicas.ClipEngine.
func (e *Engine) ClipEBRClassName(clip omnicas.Handle, buf []byte) (int, error) {
	return e.probe(buf, func(out *C.char, n *C.FPInt) { C.FPClip_GetEBRClassName(ref(clip), out, n) })
}

// ClipEBREventTime implements omnicas.ClipEngine.
func (e *Engine) ClipEBREventTime(clip omnicas.Handle, buf []byte) (int, error) {
	return e.probe(buf, func(out *C.char, n *C.FPInt) { C.FPClip_GetEBREventTime(ref(clip), out, n) })
}

// ClipSetRetentionHold implements omnicas.ClipEngine.
func (e *Engine) ClipSetRetentionHold(clip omnicas.Handle, on bool, id string) error {
	cid := C.CString(id)
	defer C.free(unsafe.Pointer(cid))
	return e.do(func() { C.FPClip_SetRetentionHold(ref(clip), cbool(on), cid) })
}

// ClipRetentionHold implements omnicas.ClipEngine.
func (e *Engine) ClipRetentionHold(clip omnicas.Handle) (bool, error) {
	b, err := value(e, func() C.FPBool { return C.FPClip_GetRetentionHold(ref(clip)) })
	return b != 0, err
}

// ClipRetentionClassName implements omnicas.ClipEngine.
func (e *Engine) ClipRetentionClassName(clip omnicas.Handle, buf []byte) (int, error) {
	return e.probe(buf, func(out *C.char, n *C.FPInt) { C.FPClip_GetRetentionClassName(ref(clip), out, n) })
}

// ClipSetRetentionClass implements omnicas.ClipEngine.
func (e *Engine) ClipSetRetentionClass(clip, class omnicas.Handle) error {
	return e.do(func() { C.FPClip_SetRetentionClass(ref(clip), ref(class)) })
}

// ClipRemoveRetentionClass implements omnicas.ClipEngine.
func (e *Engine) ClipRemoveRetentionClass(clip omnicas.Handle) error {
	return e.do(func() { C.FPClip_RemoveRetentionClass(ref(clip)) })
}

// ClipValidateRetentionClass implements omnicas.ClipEngine.
func (e *Engine) ClipValidateRetentionClass(classes, clip omnicas.Handle) (bool, error) {
	b, err := value(e, func() C.FPBool { return C.FPClip_ValidateRetentionClass(ref(classes), ref(clip)) })
	return b != 0, err
}

// PoolRetentionClassContext implements omnicas.RetentionEngine.
func (e *Engine) PoolRetentionClassContext(pool omnicas.Handle) (omnicas.Handle, error) {
	r, err := value(e, func() C.FPLong { return C.FPPool_GetRetentionClassContext(ref(pool)) })
	return handle(r), err
}

// RetentionContextClose implements omnicas.RetentionEngine.
func (e *Engine) RetentionContextClose(classes omnicas.Handle) error {
	return e.do(func() { C.FPRetentionClassContext_Close(ref(classes)) })
}

// RetentionContextNumClasses implements omnicas.RetentionEngine.
func (e *Engine) RetentionContextNumClasses(classes omnicas.Handle) (int, error) {
	n, err := value(e, func() C.FPInt { return C.FPRetentionClassContext_GetNumClasses(ref(classes)) })
	return int(n), err
}

// RetentionContextFirst implements omnicas.RetentionEngine.
func (e *Engine) RetentionContextFirst(classes omnicas.Handle) (omnicas.Handle, error) {
	return e.classRef(func() C.FPLong { return C.FPRetentionClassContext_GetFirstClass(ref(classes)) })
}

// RetentionContextLast implements omnicas.RetentionEngine.
func (e *Engine) RetentionContextLast(classes omnicas.Handle) (omnicas.Handle, error) {
	return e.classRef(func() C.FPLong { return C.FPRetentionClassContext_GetLastClass(ref(classes)) })
}

// RetentionContextNext implements omnicas.RetentionEngine.
func (e *Engine) RetentionContextNext(classes omnicas.Handle) (omnicas.Handle, error) {
	return e.classRef(func() C.FPLong { return C.FPRetentionClassContext_GetNextClass(ref(classes)) })
}

// RetentionContextPrev implements omnicas.RetentionEngine.
func (e *Engine) RetentionContextPrev(classes omnicas.Handle) (omnicas.Handle, error) {
	return e.classRef(func() C.FPLong { return C.FPRetentionClassContext_GetPreviousClass(ref(classes)) })
}

// RetentionContextNamed implements omnicas.RetentionEngine.
func (e *Engine) RetentionContextNamed(classes omnicas.Handle, name string) (omnicas.Handle, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	r, err := value(e, func() C.FPLong {
		return C.FPRetentionClassContext_GetNamedClass(ref(classes), cname)
	})
	return handle(r), err
}

func (e *Engine) classRef(fn func() C.FPLong) (omnicas.Handle, error) {
	r, err := value(e, fn)
	return handle(r), err
}

// RetentionClassName implements omnicas.RetentionEngine.
func (e *Engine) RetentionClassName(class omnicas.Handle, buf []byte) (int, error) {
	return e.probe(buf, func(out *C.char, n *C.FPInt) { C.FPRetentionClass_GetName(ref(class), out, n) })
}

// RetentionClassPeriod implements omnicas.RetentionEngine.
func (e *Engine) RetentionClassPeriod(class omnicas.Handle) (int64, error) {
	v, err := value(e, func() C.FPLong { return C.FPRetentionClass_GetPeriod(ref(class)) })
	return int64(v), err
}

// RetentionClassClose implements omnicas.RetentionEngine.
func (e *Engine) RetentionClassClose(class omnicas.Handle) error {
	return e.do(func() { C.FPRetentionClass_Close(ref(class)) })
}
