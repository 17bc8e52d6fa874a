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

// PoolOpen implements omnicas.PoolEngine. The native open cannot be
// interrupted; ctx is checked before it starts.
func (e *Engine) PoolOpen(ctx context.Context, conn string) (omnicas.Handle, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cconn := C.CString(conn)
	defer C.free(unsafe.Pointer(cconn))

	r, err := value(e, func() C.FPLong { return C.FPPool_Open(cconn) })
	if err != nil {
		return 0, err
	}
	e.logger.Debug("pool opened", "conn", conn, "ref", int64(r))
	return handle(r), nil
}

// PoolClose implements omnicas.PoolEngine.
func (e *Engine) PoolClose(pool omnicas.Handle) error {
	return e.do(func() { C.FPPool_Close(ref(pool)) })
}

// PoolSetOption implements omnicas.PoolEngine.
func (e *Engine) PoolSetOption(pool omnicas.Handle, name string, v int64) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return e.do(func() { C.FPPool_SetIntOption(ref(pool), cname, C.FPInt(v)) })
}

// PoolOption implements omnicas.PoolEngine.
func (e *Engine) PoolOption(pool omnicas.Handle, name string) (int64, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	v, err := value(e, func() C.FPInt { return C.FPPool_GetIntOption(ref(pool), cname) })
	return int64(v), err
}

// PoolInfo implements omnicas.PoolEngine.
func (e *Engine) PoolInfo(pool omnicas.Handle) (omnicas.PoolInfo, error) {
	var info C.FPPoolInfo
	if err := e.do(func() { C.FPPool_GetPoolInfo(ref(pool), &info) }); err != nil {
		return omnicas.PoolInfo{}, err
	}
	return omnicas.PoolInfo{
		Capacity:       int64(info.capacity),
		FreeSpace:      int64(info.freeSpace),
		ClusterID:      C.GoString(&info.clusterID[0]),
		ClusterName:    C.GoString(&info.clusterName[0]),
		Version:        C.GoString(&info.version[0]),
		ReplicaAddress: C.GoString(&info.replicaAddress[0]),
	}, nil
}

// PoolCapability implements omnicas.PoolEngine.
func (e *Engine) PoolCapability(pool omnicas.Handle, name, attr string, buf []byte) (int, error) {
	cname, cattr := C.CString(name), C.CString(attr)
	defer C.free(unsafe.Pointer(cname))
	defer C.free(unsafe.Pointer(cattr))
	return e.probe(buf, func(out *C.char, n *C.FPInt) {
		C.FPPool_GetCapability(ref(pool), cname, cattr, out, n)
	})
}

// PoolClusterTime implements omnicas.PoolEngine.
func (e *Engine) PoolClusterTime(pool omnicas.Handle, buf []byte) (int, error) {
	return e.probe(buf, func(out *C.char, n *C.FPInt) {
		C.FPPool_GetClusterTime(ref(pool), out, n)
	})
}

// PoolProfileClip implements omnicas.PoolEngine.
func (e *Engine) PoolProfileClip(pool omnicas.Handle, buf []byte) (int, error) {
	id, err := e.clipIDOut(func(out *C.char) { C.FPPool_GetClipID(ref(pool), out) })
	if err != nil {
		return 0, err
	}
	return omnicas.CopyOut(id, buf), nil
}

// PoolSetProfileClip implements omnicas.PoolEngine.
func (e *Engine) PoolSetProfileClip(pool omnicas.Handle, id string) error {
	cid := C.CString(id)
	defer C.free(unsafe.Pointer(cid))
	return e.do(func() { C.FPPool_SetClipID(ref(pool), cid) })
}
