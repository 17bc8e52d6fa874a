// Package omnicas binds Go programs to a fixed-content, content-addressed
// storage SDK.
//
// The SDK is reached through an Engine: opaque integer handles, length-probed
// string outputs, a last-error query pair and a five-callback generic stream
// protocol. On top of that boundary this package exposes Pool, Clip, Tag,
// Stream, Query and RetentionClass wrappers. A Session keeps exactly one
// wrapper per live handle, translates native error codes into *Error values,
// and adapts io.Reader and io.Writer to the stream callback protocol.
//
// Basic usage:
//
//	sess, _ := omnicas.Open("sim", map[string]string{"config": "clusters.yaml"})
//	defer sess.Close()
//	pool, _ := sess.OpenPool(ctx, "10.0.0.1,10.0.0.2?name=archive")
//	clip, _ := pool.ClipCreate("invoice-2024-001")
//	top, _ := clip.TopTag()
//	tag, _ := top.CreateChild("pdf")
//	_ = tag.WriteBlobFrom(ctx, file)
//	id, _ := clip.Write(ctx)
package omnicas

import (
	"context"
	"time"
)

// Handle is an opaque engine reference. Zero means "no object". Engines issue
// handles from a single space, so a handle identifies one object of one kind.
type Handle uint64

// Engine is the native boundary. Implementations must be safe for concurrent
// use.
//
// Operations that fail return either a *Error or an ErrorCode. String outputs
// follow the length-probe contract: the engine copies at most len(buf) bytes
// into buf and returns the full length of the value, so a nil or short buffer
// is a size query.
type Engine interface {
	LibraryEngine
	PoolEngine
	ClipEngine
	TagEngine
	StreamEngine
	QueryEngine
	RetentionEngine
}

// LibraryEngine holds process-level calls.
type LibraryEngine interface {
	SDKVersion(buf []byte) (int, error)
	SetGlobalOption(name string, value int64) error
	GlobalOption(name string) (int64, error)
	RegisterApplication(name, version string) error

	// LastError and LastErrorInfo report the status of the most recent
	// engine operation. A successful operation resets them to ErrCodeOK.
	LastError() ErrorCode
	LastErrorInfo() ErrorInfo

	// Close releases the engine. Handles become invalid.
	Close() error
}

// PoolEngine manages cluster connections.
type PoolEngine interface {
	PoolOpen(ctx context.Context, conn string) (Handle, error)
	PoolClose(pool Handle) error
	PoolSetOption(pool Handle, name string, value int64) error
	PoolOption(pool Handle, name string) (int64, error)
	PoolInfo(pool Handle) (PoolInfo, error)

	// PoolCapability returns ErrCodeAttrNotFound for an unknown attribute.
	PoolCapability(pool Handle, name, attr string, buf []byte) (int, error)
	PoolClusterTime(pool Handle, buf []byte) (int, error)
	PoolProfileClip(pool Handle, buf []byte) (int, error)
	PoolSetProfileClip(pool Handle, id string) error
}

// ClipEngine manages clips.
type ClipEngine interface {
	ClipCreate(pool Handle, name string) (Handle, error)
	ClipOpen(ctx context.Context, pool Handle, id string, mode OpenMode) (Handle, error)
	ClipRawOpen(ctx context.Context, pool Handle, id string, stream Handle, opts int64) (Handle, error)
	ClipClose(clip Handle) error
	ClipExists(ctx context.Context, pool Handle, id string) (bool, error)
	ClipDelete(ctx context.Context, pool Handle, id string) error
	ClipAuditedDelete(ctx context.Context, pool Handle, id, reason string, opts int64) error
	ClipWrite(ctx context.Context, clip Handle) error
	ClipRawRead(ctx context.Context, clip Handle, stream Handle) error
	ClipPool(clip Handle) (Handle, error)

	ClipTopTag(clip Handle) (Handle, error)
	// ClipFetchNext returns zero after the last tag of a flat-mode clip.
	ClipFetchNext(ctx context.Context, clip Handle) (Handle, error)
	ClipNumBlobs(clip Handle) (int, error)
	ClipNumTags(clip Handle) (int, error)
	ClipTotalSize(clip Handle) (int64, error)
	ClipID(clip Handle, buf []byte) (int, error)
	ClipName(clip Handle, buf []byte) (int, error)
	ClipSetName(clip Handle, name string) error
	ClipCreationDate(clip Handle, buf []byte) (int, error)
	ClipIsModified(clip Handle) (bool, error)

	ClipRetentionPeriod(clip Handle) (int64, error)
	ClipSetRetentionPeriod(clip Handle, seconds int64) error
	ClipEnableEBRWithPeriod(clip Handle, seconds int64) error
	ClipEnableEBRWithClass(clip Handle, class Handle) error
	ClipIsEBREnabled(clip Handle) (bool, error)
	ClipTriggerEBREvent(clip Handle) error
	ClipTriggerEBREventWithPeriod(clip Handle, seconds int64) error
	ClipTriggerEBREventWithClass(clip Handle, class Handle) error
	ClipEBRPeriod(clip Handle) (int64, error)
	ClipEBRClassName(clip Handle, buf []byte) (int, error)
	ClipEBREventTime(clip Handle, buf []byte) (int, error)
	ClipSetRetentionHold(clip Handle, on bool, id string) error
	ClipRetentionHold(clip Handle) (bool, error)
	ClipRetentionClassName(clip Handle, buf []byte) (int, error)
	ClipSetRetentionClass(clip Handle, class Handle) error
	ClipRemoveRetentionClass(clip Handle) error
	ClipValidateRetentionClass(classes Handle, clip Handle) (bool, error)

	ClipSetDescriptionAttribute(clip Handle, name, value string) error
	ClipRemoveDescriptionAttribute(clip Handle, name string) error
	ClipDescriptionAttribute(clip Handle, name string, buf []byte) (int, error)
	ClipNumDescriptionAttributes(clip Handle) (int, error)
	ClipDescriptionAttributeAt(clip Handle, index int, name, value []byte) (nameLen, valueLen int, err error)

	CanonicalClipID(id string, buf []byte) (int, error)
	StringClipID(canonical []byte, buf []byte) (int, error)
}

// TagEngine manages tags and their blobs. Navigation calls return zero at an
// edge of the tree.
type TagEngine interface {
	TagCreate(parent Handle, name string) (Handle, error)
	TagClose(tag Handle) error
	TagCopy(tag, newParent Handle, opts int64) (Handle, error)
	TagClip(tag Handle) (Handle, error)
	TagNextSibling(tag Handle) (Handle, error)
	TagPrevSibling(tag Handle) (Handle, error)
	TagFirstChild(tag Handle) (Handle, error)
	TagParent(tag Handle) (Handle, error)
	TagDelete(tag Handle) error
	TagName(tag Handle, buf []byte) (int, error)

	TagSetStringAttribute(tag Handle, name, value string) error
	TagSetLongAttribute(tag Handle, name string, value int64) error
	TagSetBoolAttribute(tag Handle, name string, value bool) error
	TagStringAttribute(tag Handle, name string, buf []byte) (int, error)
	TagLongAttribute(tag Handle, name string) (int64, error)
	TagBoolAttribute(tag Handle, name string) (bool, error)
	TagRemoveAttribute(tag Handle, name string) error
	TagNumAttributes(tag Handle) (int, error)
	TagAttributeAt(tag Handle, index int, name, value []byte) (nameLen, valueLen int, err error)

	TagBlobSize(tag Handle) (int64, error)
	TagBlobWrite(ctx context.Context, tag, stream Handle, opts int64) error
	TagBlobWritePartial(ctx context.Context, tag, stream Handle, opts int64, seq int64) error
	TagBlobRead(ctx context.Context, tag, stream Handle, opts int64) error
	TagBlobReadPartial(ctx context.Context, tag, stream Handle, offset, length, opts int64) error
	TagBlobStatus(tag Handle) (BlobStatus, error)
}

// StreamEngine manages transfer streams.
type StreamEngine interface {
	StreamCreate(spec StreamSpec) (Handle, error)

	// StreamInfo returns the engine's live control block for the stream.
	StreamInfo(stream Handle) (*StreamInfo, error)
	StreamPrepareBuffer(stream Handle, size int) error
	StreamComplete(stream Handle) error
	StreamSetMark(stream Handle) error
	StreamResetMark(stream Handle) error
	StreamClose(stream Handle) error
}

// QueryEngine manages query expressions, open queries and results.
type QueryEngine interface {
	QueryExpressionCreate() (Handle, error)
	QueryExpressionClose(expr Handle) error
	QueryExpressionSetStartTime(expr Handle, unix int64) error
	QueryExpressionStartTime(expr Handle) (int64, error)
	QueryExpressionSetEndTime(expr Handle, unix int64) error
	QueryExpressionEndTime(expr Handle) (int64, error)
	QueryExpressionSetType(expr Handle, t QueryType) error
	QueryExpressionType(expr Handle) (QueryType, error)
	QueryExpressionSelectField(expr Handle, name string) error
	QueryExpressionDeselectField(expr Handle, name string) error
	QueryExpressionIsFieldSelected(expr Handle, name string) (bool, error)

	PoolQueryOpen(ctx context.Context, pool, expr Handle) (Handle, error)
	PoolQueryClose(query Handle) error
	PoolQueryPool(query Handle) (Handle, error)
	PoolQueryFetchResult(ctx context.Context, query Handle, timeout time.Duration) (Handle, error)

	QueryResultClose(result Handle) error
	QueryResultCode(result Handle) (QueryResultCode, error)
	QueryResultClipID(result Handle, buf []byte) (int, error)
	QueryResultTimestamp(result Handle, buf []byte) (int, error)
	QueryResultType(result Handle) (QueryType, error)
	QueryResultField(result Handle, name string, buf []byte) (int, error)
}

// RetentionEngine exposes cluster retention classes. Navigation calls return
// zero past either end.
type RetentionEngine interface {
	PoolRetentionClassContext(pool Handle) (Handle, error)
	RetentionContextClose(classes Handle) error
	RetentionContextNumClasses(classes Handle) (int, error)
	RetentionContextFirst(classes Handle) (Handle, error)
	RetentionContextLast(classes Handle) (Handle, error)
	RetentionContextNext(classes Handle) (Handle, error)
	RetentionContextPrev(classes Handle) (Handle, error)
	RetentionContextNamed(classes Handle, name string) (Handle, error)
	RetentionClassName(class Handle, buf []byte) (int, error)
	RetentionClassPeriod(class Handle) (int64, error)
	RetentionClassClose(class Handle) error
}

// PoolInfo describes the primary cluster of a pool.
type PoolInfo struct {
	Capacity       int64
	FreeSpace      int64
	ClusterID      string
	ClusterName    string
	Version        string
	ReplicaAddress string
}

// OpenMode selects how a clip's tags are presented.
type OpenMode int

const (
	// OpenAsTree exposes the tag hierarchy through TopTag navigation.
	OpenAsTree OpenMode = 1

	// OpenFlat exposes tags in sequence through FetchNext.
	OpenFlat OpenMode = 2
)

func (m OpenMode) String() string {
	switch m {
	case OpenAsTree:
		return "tree"
	case OpenFlat:
		return "flat"
	default:
		return "unknown"
	}
}

// BlobStatus reports whether a tag's blob is readable.
type BlobStatus int

const (
	BlobNone        BlobStatus = -1
	BlobUnavailable BlobStatus = 0
	BlobOK          BlobStatus = 1
)

// Option flags passed through to blob, clip and tag calls.
const (
	OptionDefault int64 = 0

	OptionClientCalcID int64 = 1 << 0
	OptionServerCalcID int64 = 1 << 1
	OptionEmbedData    int64 = 1 << 2
	OptionLinkData     int64 = 1 << 3
	OptionNoCopy       int64 = 1 << 4

	// OptionPrivilegedDelete lets an audited delete remove a clip whose
	// retention has not expired, when the pool allows it.
	OptionPrivilegedDelete int64 = 1 << 5

	// OptionCopyBlobData and OptionCopyChildren control Tag.Copy.
	OptionCopyBlobData int64 = 1 << 6
	OptionCopyChildren int64 = 1 << 7
)

// Pool option names.
const (
	PoolOptionTimeout              = "timeout"
	PoolOptionClipBufferSize       = "buffersize"
	PoolOptionPrefetchBufferSize   = "prefetch_size"
	PoolOptionMultiClusterFailOver = "multiclusterfailover"
	PoolOptionCollisionAvoidance   = "collisionavoidance"
)

// Global option names.
const (
	GlobalOptionMaxConnections             = "maxconnections"
	GlobalOptionRetryLimit                 = "retrycount"
	GlobalOptionProbeLimit                 = "probetime"
	GlobalOptionRetrySleep                 = "retrysleep"
	GlobalOptionClusterNonAvailTime        = "clusternonavailtime"
	GlobalOptionOpenStrategy               = "openstrategy"
	GlobalOptionEmbeddedDataThreshold      = "embedded_data_threshold"
	GlobalOptionMultiClusterReadStrategy   = "multicluster_read_strategy"
	GlobalOptionMultiClusterWriteStrategy  = "multicluster_write_strategy"
	GlobalOptionMultiClusterDeleteStrategy = "multicluster_delete_strategy"
	GlobalOptionMultiClusterExistsStrategy = "multicluster_exists_strategy"
	GlobalOptionMultiClusterQueryStrategy  = "multicluster_query_strategy"
	GlobalOptionMultiClusterReadClusters   = "multicluster_read_clusters"
	GlobalOptionMultiClusterWriteClusters  = "multicluster_write_clusters"
	GlobalOptionMultiClusterDeleteClusters = "multicluster_delete_clusters"
	GlobalOptionMultiClusterExistsClusters = "multicluster_exists_clusters"
	GlobalOptionMultiClusterQueryClusters  = "multicluster_query_clusters"
	GlobalOptionStrictStreamMode           = "stream_strict_mode"
)
