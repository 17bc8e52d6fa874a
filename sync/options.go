// Package sync catches a replica store up with its primary.
//
// Objects in a fixed-content store never change once written, so replication
// only has to copy the objects the destination is missing. Existing
// destination objects are never overwritten, and nothing is deleted.
//
//	result, err := sync.Replicate(ctx, primary, replica, sync.Options{
//	    Prefixes: []string{"clips/", "blobs/"},
//	    Logger:   slog.Default(),
//	})
package sync

import (
	"log/slog"
	"time"

	"github.com/grokify/mogo/log/slogutil"

	"github.com/grokify/omnicas/store"
)

// Options configures Replicate.
type Options struct {
	// Prefixes limits replication to objects under these prefixes. Empty
	// means every object.
	Prefixes []string

	// DryRun reports what would be copied without writing.
	DryRun bool

	// Verify compares the sizes and digests of objects present on both sides
	// and records a mismatch as an error.
	Verify bool

	// Checksum is the digest Verify compares. Default is store.HashMD5, which
	// most backends report without reading the object.
	Checksum store.HashType

	// Concurrency is the number of parallel copies. Default is 4.
	Concurrency int

	// MaxErrors aborts after this many failures. 0 means never abort.
	MaxErrors int

	// BandwidthLimit caps bytes per second across all copies. 0 means
	// unlimited.
	BandwidthLimit int64

	// Retry configures per-object retries. Nil means no retries.
	Retry *RetryConfig

	// Progress, if set, is called after every object.
	Progress func(Progress)

	// Logger receives structured progress logs. Nil means no logging.
	Logger *slog.Logger
}

func (o Options) checksum() store.HashType {
	if o.Checksum == store.HashNone {
		return store.HashMD5
	}
	return o.Checksum
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slogutil.Null()
}

// DefaultOptions returns Options replicating everything with four workers.
func DefaultOptions() Options {
	return Options{Concurrency: 4}
}

// Progress reports replication progress.
type Progress struct {
	Path             string
	ObjectsDone      int
	ObjectsTotal     int
	BytesTransferred int64
}

// Result summarizes a Replicate call.
type Result struct {
	// Copied lists the paths written to the destination.
	Copied []string

	// Skipped counts objects the destination already held.
	Skipped int

	// Errors records per-object failures.
	Errors []ObjectError

	BytesTransferred int64
	Duration         time.Duration
	DryRun           bool
}

// Success reports whether replication finished without errors.
func (r *Result) Success() bool {
	return len(r.Errors) == 0
}

// ObjectError is a failure for one object.
type ObjectError struct {
	Path string
	Op   string
	Err  error
}

func (e ObjectError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e ObjectError) Unwrap() error {
	return e.Err
}
