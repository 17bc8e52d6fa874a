//go:build cgo && fplibrary

package fplibrary

/*
#include "fpapi.h"
*/
import "C"

import (
	"errors"
	"sync"
	"unsafe"

	"github.com/grokify/omnicas"
)

// generic is a registered generic stream. The library hands its ID back in
// the control block's user data on every callback.
type generic struct {
	id      uintptr
	handler omnicas.StreamHandler

	mu   sync.Mutex
	info *omnicas.StreamInfo

	// block is the C copy of the current upload block.
	block    unsafe.Pointer
	blockCap int

	// err is the first handler failure since the last takeErr.
	err error
}

var generics = struct {
	sync.Mutex
	next uintptr
	m    map[uintptr]*generic
}{m: make(map[uintptr]*generic)}

func registerGeneric(handler omnicas.StreamHandler, info *omnicas.StreamInfo) *generic {
	generics.Lock()
	defer generics.Unlock()
	generics.next++
	g := &generic{id: generics.next, handler: handler, info: info}
	generics.m[g.id] = g
	return g
}

func lookupGeneric(id uintptr) *generic {
	generics.Lock()
	defer generics.Unlock()
	return generics.m[id]
}

// release unregisters g and frees its block.
func (g *generic) release() {
	generics.Lock()
	delete(generics.m, g.id)
	generics.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.block != nil {
		C.free(g.block)
		g.block = nil
		g.blockCap = 0
	}
}

// restart clears handler state left by the transfer that just ended, which
// may have aborted before its complete callback.
func (g *generic) restart() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.handler.(omnicas.StreamRestarter); ok {
		r.Restart()
	}
}

func (g *generic) takeErr() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	err := g.err
	g.err = nil
	return err
}

// publish copies the upload block the handler prepared into C memory.
func (g *generic) publish(ci *C.FPStreamInfo) {
	n := int(g.info.TransferLen)
	if n <= 0 {
		ci.mBuffer = nil
		return
	}
	if n > g.blockCap {
		g.block = C.realloc(g.block, C.size_t(n))
		g.blockCap = n
	}
	copy(unsafe.Slice((*byte)(g.block), n), g.info.Buffer[:n])
	ci.mBuffer = g.block
}

// dispatch runs one handler callback against the control block ci.
func dispatch(ci *C.FPStreamInfo, prepare bool, call func(omnicas.StreamHandler, *omnicas.StreamInfo) error) C.long {
	g := lookupGeneric(uintptr(ci.mUserData))
	if g == nil {
		return C.long(omnicas.ErrCodeWrongReference)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	info := g.info
	loadInfo(info, ci)
	download := info.Direction == omnicas.Download
	if download && ci.mBuffer != nil && ci.mTransferLen > 0 {
		info.Buffer = unsafe.Slice((*byte)(ci.mBuffer), int(ci.mTransferLen))
	}

	err := call(g.handler, info)
	storeInfo(ci, info)
	if download {
		// The block belongs to the library.
		info.Buffer = nil
	} else if prepare && err == nil {
		g.publish(ci)
	}

	if err == nil {
		return 0
	}
	if g.err == nil {
		g.err = err
	}
	var nerr *omnicas.Error
	if errors.As(err, &nerr) {
		return C.long(nerr.Code)
	}
	return C.long(omnicas.ErrCodeStream)
}

//export omnicasPrepareBuffer
func omnicasPrepareBuffer(ci *C.FPStreamInfo) C.long {
	return dispatch(ci, true, omnicas.StreamHandler.PrepareBuffer)
}

//export omnicasBlockTransferred
func omnicasBlockTransferred(ci *C.FPStreamInfo) C.long {
	return dispatch(ci, false, omnicas.StreamHandler.BlockTransferred)
}

//export omnicasSetMark
func omnicasSetMark(ci *C.FPStreamInfo) C.long {
	return dispatch(ci, false, omnicas.StreamHandler.SetMark)
}

//export omnicasResetMark
func omnicasResetMark(ci *C.FPStreamInfo) C.long {
	return dispatch(ci, false, omnicas.StreamHandler.ResetMark)
}

//export omnicasTransferComplete
func omnicasTransferComplete(ci *C.FPStreamInfo) C.long {
	return dispatch(ci, false, omnicas.StreamHandler.TransferComplete)
}
