// Package fplibrary binds omnicas to the vendor FPLibrary shared library.
//
// The package is only compiled with cgo enabled and the fplibrary build tag:
//
//	CGO_LDFLAGS="-L/opt/fplibrary/lib" go build -tags fplibrary ./...
//
// Importing it registers the "fplibrary" engine:
//
//	import _ "github.com/grokify/omnicas/engine/fplibrary"
//
//	sess, err := omnicas.Open("fplibrary", map[string]string{
//		"application":         "archiver",
//		"application.version": "2.1",
//		"option.maxconnections": "32",
//	})
//
// Every native call runs on a locked OS thread and reads the library's
// per-thread last error before the thread is released. Generic streams are
// registered in a table keyed by an integer ID that travels through the
// stream's user data, so the exported C callbacks can find their Go handler.
package fplibrary
