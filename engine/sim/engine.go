// Package sim is an in-process fixed-content storage engine.
//
// It implements omnicas.Engine over store backends: each simulated cluster
// keeps CBOR clip descriptors, content-addressed blobs, an existence index
// and deletion reflections in one backend, optionally mirrored to a replica
// cluster. The engine enforces retention, holds and capabilities, drives
// streams through the callback protocol with periodic marks and resets, and
// answers time-range queries. It is the engine used by tests and by the
// omnicas command when no vendor library is installed.
//
//	eng, _ := sim.New(sim.Config{Clusters: []sim.ClusterConfig{sim.MemoryCluster("primary")}})
//	sess := omnicas.NewSession(eng)
//	pool, _ := sess.OpenPool(ctx, "primary")
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/grokify/mogo/log/slogutil"

	"github.com/grokify/omnicas"
	"github.com/grokify/omnicas/store"
	omnisync "github.com/grokify/omnicas/sync"

	// Store backends selectable by cluster configuration.
	_ "github.com/grokify/omnicas/backend/badger"
	_ "github.com/grokify/omnicas/backend/file"
	_ "github.com/grokify/omnicas/backend/memory"
	_ "github.com/grokify/omnicas/backend/s3"
	_ "github.com/grokify/omnicas/backend/sftp"
)

// Version is reported by SDKVersion.
const Version = "sim-1.0.0"

func init() {
	omnicas.RegisterEngine("sim", NewFromConfig)
}

// Engine is a simulated storage SDK. It is safe for concurrent use.
type Engine struct {
	config   Config
	clock    Clock
	logger   *slog.Logger
	clusters map[string]*cluster

	hmu     sync.Mutex
	next    omnicas.Handle
	objects map[omnicas.Handle]any

	omu     sync.Mutex
	options map[string]int64
	apps    map[string]string

	emu     sync.Mutex
	lastErr *omnicas.Error

	closed bool
}

var _ omnicas.Engine = (*Engine)(nil)

// New creates an engine and opens every cluster's store backend.
func New(config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.MarkInterval <= 0 {
		config.MarkInterval = DefaultMarkInterval
	}
	if config.MaxResend <= 0 {
		config.MaxResend = DefaultMaxResend
	}
	if config.BlockSize <= 0 {
		config.BlockSize = DefaultBlockSize
	}

	e := &Engine{
		config:   config,
		clock:    config.Clock,
		logger:   config.Logger,
		clusters: make(map[string]*cluster, len(config.Clusters)),
		objects:  make(map[omnicas.Handle]any),
		apps:     make(map[string]string),
	}
	if e.clock == nil {
		e.clock = realClock{}
	}
	if e.logger == nil {
		e.logger = slogutil.Null()
	}
	e.options = map[string]int64{
		omnicas.GlobalOptionMaxConnections:        100,
		omnicas.GlobalOptionRetryLimit:            int64(config.RetryLimit),
		omnicas.GlobalOptionRetrySleep:            config.RetrySleep.Milliseconds(),
		omnicas.GlobalOptionProbeLimit:            0,
		omnicas.GlobalOptionClusterNonAvailTime:   600,
		omnicas.GlobalOptionOpenStrategy:          0,
		omnicas.GlobalOptionEmbeddedDataThreshold: config.EmbeddedDataThreshold,
		omnicas.GlobalOptionStrictStreamMode:      0,
	}

	for _, cc := range config.Clusters {
		c, err := openCluster(cc)
		if err != nil {
			e.closeClusters()
			return nil, err
		}
		e.clusters[cc.Address] = c
	}
	for _, c := range e.clusters {
		if c.config.Replica == "" {
			continue
		}
		if err := c.attachReplica(e.clusters[c.config.Replica], e.logger); err != nil {
			e.closeClusters()
			return nil, err
		}
	}

	e.logger.Debug("sim engine started", slog.Int("clusters", len(e.clusters)))
	return e, nil
}

// NewFromConfig creates an engine from a string map. It is registered as
// the "sim" engine.
func NewFromConfig(config map[string]string) (omnicas.Engine, error) {
	return New(ConfigFromMap(config))
}

func (e *Engine) closeClusters() {
	for addr, c := range e.clusters {
		if err := c.backend.Close(); err != nil {
			e.logger.Warn("closing cluster store failed", slog.String("cluster", addr), slog.Any("error", err))
		}
	}
}

// Clock returns the engine time source.
func (e *Engine) Clock() Clock { return e.clock }

// alloc issues a handle for obj.
func (e *Engine) alloc(obj any) omnicas.Handle {
	e.hmu.Lock()
	defer e.hmu.Unlock()
	e.next++
	e.objects[e.next] = obj
	return e.next
}

// release invalidates h and reports whether it was live.
func (e *Engine) release(h omnicas.Handle) bool {
	e.hmu.Lock()
	defer e.hmu.Unlock()
	if _, ok := e.objects[h]; !ok {
		return false
	}
	delete(e.objects, h)
	return true
}

// lookup returns the object behind h as a T.
func lookup[T any](e *Engine, h omnicas.Handle) (T, error) {
	var zero T
	e.hmu.Lock()
	obj, ok := e.objects[h]
	e.hmu.Unlock()
	if !ok {
		return zero, e.fail(omnicas.ErrCodeWrongReference, "handle %d is not open", h)
	}
	t, ok := obj.(T)
	if !ok {
		return zero, e.fail(omnicas.ErrCodeWrongReference, "handle %d refers to a %T", h, obj)
	}
	return t, nil
}

// fail records and returns a native error.
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

// storeFailure maps a store or context error to a native error. A missing
// key becomes notFound.
func (e *Engine) storeFailure(err error, notFound omnicas.ErrorCode) error {
	var nerr *omnicas.Error
	if errors.As(err, &nerr) {
		e.record(nerr)
		return err
	}

	code := omnicas.ErrCodeServer
	switch {
	case store.IsNotFound(err):
		code = notFound
	case store.IsPermissionDenied(err):
		code = omnicas.ErrCodeAuthentication
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = omnicas.ErrCodeNotReceiveReply
	}
	out := &omnicas.Error{Code: code, Class: code.Class(), Text: code.String(), Err: err}
	e.record(out)
	return out
}

// clearLastError starts an operation with a clean status.
func (e *Engine) clearLastError() {
	e.record(nil)
}

func (e *Engine) record(err *omnicas.Error) {
	e.emu.Lock()
	e.lastErr = err
	e.emu.Unlock()
}

// retry runs a store operation under the RetryLimit and RetrySleep global
// options. Missing keys, write-once conflicts and cancellation are final.
func (e *Engine) retry(ctx context.Context, op func() error) error {
	limit := e.option(omnicas.GlobalOptionRetryLimit)
	sleep := e.option(omnicas.GlobalOptionRetrySleep)

	cfg := omnisync.FixedRetryConfig(int(limit), time.Duration(sleep)*time.Millisecond)
	cfg.Retryable = func(err error) bool {
		return !store.IsNotFound(err) &&
			!store.IsAlreadyExists(err) &&
			!store.IsPermissionDenied(err) &&
			!errors.Is(err, store.ErrBackendClosed) &&
			!errors.Is(err, context.Canceled) &&
			!errors.Is(err, context.DeadlineExceeded)
	}
	err := omnisync.Retry(ctx, cfg, op)

	var re *omnisync.RetryError
	if errors.As(err, &re) {
		e.logger.Warn("store operation failed after retries", slog.Int("attempts", re.Attempts), slog.Any("error", re.LastErr))
		return re.LastErr
	}
	return err
}

// SDKVersion implements omnicas.LibraryEngine.
func (e *Engine) SDKVersion(buf []byte) (int, error) {
	e.clearLastError()
	return omnicas.CopyOut(Version, buf), nil
}

// SetGlobalOption implements omnicas.LibraryEngine.
func (e *Engine) SetGlobalOption(name string, value int64) error {
	e.clearLastError()
	e.omu.Lock()
	defer e.omu.Unlock()
	if !knownGlobalOption(name) {
		return e.fail(omnicas.ErrCodeUnknownOption, "unknown global option %q", name)
	}
	if name == omnicas.GlobalOptionEmbeddedDataThreshold && (value < 0 || value > MaxEmbeddedDataThreshold) {
		return e.fail(omnicas.ErrCodeParamErr, "embedded data threshold %d out of range", value)
	}
	e.options[name] = value
	return nil
}

// GlobalOption implements omnicas.LibraryEngine.
func (e *Engine) GlobalOption(name string) (int64, error) {
	e.clearLastError()
	e.omu.Lock()
	defer e.omu.Unlock()
	if !knownGlobalOption(name) {
		return 0, e.fail(omnicas.ErrCodeUnknownOption, "unknown global option %q", name)
	}
	return e.options[name], nil
}

// option reads a known global option without touching the last error.
func (e *Engine) option(name string) int64 {
	e.omu.Lock()
	defer e.omu.Unlock()
	return e.options[name]
}

func knownGlobalOption(name string) bool {
	switch name {
	case omnicas.GlobalOptionMaxConnections,
		omnicas.GlobalOptionRetryLimit,
		omnicas.GlobalOptionProbeLimit,
		omnicas.GlobalOptionRetrySleep,
		omnicas.GlobalOptionClusterNonAvailTime,
		omnicas.GlobalOptionOpenStrategy,
		omnicas.GlobalOptionEmbeddedDataThreshold,
		omnicas.GlobalOptionMultiClusterReadStrategy,
		omnicas.GlobalOptionMultiClusterWriteStrategy,
		omnicas.GlobalOptionMultiClusterDeleteStrategy,
		omnicas.GlobalOptionMultiClusterExistsStrategy,
		omnicas.GlobalOptionMultiClusterQueryStrategy,
		omnicas.GlobalOptionMultiClusterReadClusters,
		omnicas.GlobalOptionMultiClusterWriteClusters,
		omnicas.GlobalOptionMultiClusterDeleteClusters,
		omnicas.GlobalOptionMultiClusterExistsClusters,
		omnicas.GlobalOptionMultiClusterQueryClusters,
		omnicas.GlobalOptionStrictStreamMode:
		return true
	}
	return false
}

// RegisterApplication implements omnicas.LibraryEngine.
func (e *Engine) RegisterApplication(name, version string) error {
	e.clearLastError()
	if name == "" {
		return e.fail(omnicas.ErrCodeParamErr, "application name is empty")
	}
	e.omu.Lock()
	e.apps[name] = version
	e.omu.Unlock()
	e.logger.Info("application registered", slog.String("name", name), slog.String("version", version))
	return nil
}

// LastError implements omnicas.LibraryEngine.
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
	return e.lastErr.Info()
}

// Close implements omnicas.LibraryEngine. Open handles become invalid.
func (e *Engine) Close() error {
	e.clearLastError()
	e.hmu.Lock()
	if e.closed {
		e.hmu.Unlock()
		return nil
	}
	e.closed = true
	open := len(e.objects)
	clear(e.objects)
	e.hmu.Unlock()

	if open > 0 {
		e.logger.Debug("engine closed with open handles", slog.Int("count", open))
	}
	e.closeClusters()
	return nil
}

func (e *Engine) embeddedThreshold() int64 {
	return e.option(omnicas.GlobalOptionEmbeddedDataThreshold)
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
