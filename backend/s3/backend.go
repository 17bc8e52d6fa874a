// Package s3 provides an S3-compatible store backend.
//
// Write-once keys use conditional PutObject (If-None-Match: *), so two
// writers racing for the same blob address cannot both succeed.
//
//	backend, err := s3.New(s3.Config{
//	    Bucket:       "cas",
//	    Endpoint:     "http://localhost:9000",
//	    UsePathStyle: true,
//	})
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/grokify/omnicas/store"
)

func init() {
	store.Register("s3", NewFromConfig)
}

// API is the subset of the S3 client used by the backend.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Backend implements store.ExtendedBackend for S3-compatible storage.
type Backend struct {
	client API
	config Config
	closed bool
	mu     sync.RWMutex
}

// New creates a new S3 backend with the given configuration.
func New(cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var optFns []func(*config.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
		optFns = append(optFns, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, fmt.Errorf("s3: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a backend around an existing client.
func NewWithClient(client API, cfg Config) *Backend {
	return &Backend{client: client, config: cfg}
}

// NewFromConfig creates a new S3 backend from a config map.
func NewFromConfig(configMap map[string]string) (store.Backend, error) {
	return New(ConfigFromMap(configMap))
}

// NewWriter buffers the object and uploads it on Close.
func (b *Backend) NewWriter(ctx context.Context, p string, opts ...store.WriterOption) (io.WriteCloser, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	cfg := store.ApplyWriterOptions(opts...)
	return &s3Writer{
		backend: b,
		ctx:     ctx,
		path:    p,
		config:  cfg,
	}, nil
}

// NewReader opens the given key, using a range request for offset and limit.
func (b *Backend) NewReader(ctx context.Context, p string, opts ...store.ReaderOption) (io.ReadCloser, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	cfg := store.ApplyReaderOptions(opts...)
	input := &s3.GetObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.fullKey(p)),
	}
	if cfg.Offset > 0 || cfg.Limit > 0 {
		rangeHeader := fmt.Sprintf("bytes=%d-", cfg.Offset)
		if cfg.Limit > 0 {
			rangeHeader = fmt.Sprintf("bytes=%d-%d", cfg.Offset, cfg.Offset+cfg.Limit-1)
		}
		input.Range = aws.String(rangeHeader)
	}

	result, err := b.client.GetObject(ctx, input)
	if err != nil {
		return nil, b.translateError(err, p)
	}
	return result.Body, nil
}

// Exists checks if a key exists.
func (b *Backend) Exists(ctx context.Context, p string) (bool, error) {
	if err := b.check(ctx); err != nil {
		return false, err
	}

	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.fullKey(p)),
	})
	if err != nil {
		if err := b.translateError(err, p); err != store.ErrNotFound {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Delete removes a key.
func (b *Backend) Delete(ctx context.Context, p string) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.fullKey(p)),
	})
	if err != nil {
		if err := b.translateError(err, p); err != store.ErrNotFound {
			return err
		}
	}
	return nil
}

// List returns the keys with the given prefix. S3 lists in UTF-8 binary order.
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	paths := []string{}
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.config.Bucket),
		Prefix: aws.String(b.fullKey(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: listing objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			rel := strings.TrimPrefix(strings.TrimPrefix(*obj.Key, b.config.Prefix), "/")
			if rel != "" {
				paths = append(paths, rel)
			}
		}
	}
	return paths, nil
}

// Close releases any resources held by the backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Stat returns size, modification time and, for single-part uploads, the MD5.
func (b *Backend) Stat(ctx context.Context, p string) (store.ObjectInfo, error) {
	if err := b.check(ctx); err != nil {
		return store.ObjectInfo{}, err
	}

	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.fullKey(p)),
	})
	if err != nil {
		return store.ObjectInfo{}, b.translateError(err, p)
	}

	info := store.ObjectInfo{Path: p, Hashes: store.HashSet{}}
	if result.ContentLength != nil {
		info.Size = *result.ContentLength
	}
	if result.LastModified != nil {
		info.ModTime = *result.LastModified
	}
	if result.ETag != nil {
		// ETag is the MD5 for non-multipart uploads (no hyphen)
		if etag := strings.Trim(*result.ETag, "\""); !strings.Contains(etag, "-") {
			info.Hashes[store.HashMD5] = etag
		}
	}
	return info, nil
}

// Copy copies an object using server-side copy.
func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.config.Bucket),
		CopySource: aws.String(b.config.Bucket + "/" + b.fullKey(src)),
		Key:        aws.String(b.fullKey(dst)),
	})
	if err != nil {
		return b.translateError(err, src)
	}
	return nil
}

// Move copies then deletes.
func (b *Backend) Move(ctx context.Context, src, dst string) error {
	if err := b.Copy(ctx, src, dst); err != nil {
		return err
	}
	return b.Delete(ctx, src)
}

func (b *Backend) fullKey(p string) string {
	if b.config.Prefix == "" {
		return p
	}
	joined := path.Join(b.config.Prefix, p)
	if strings.HasSuffix(p, "/") {
		joined += "/"
	}
	return joined
}

func (b *Backend) check(ctx context.Context) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return store.ErrBackendClosed
	}
	return ctx.Err()
}

func (b *Backend) translateError(err error, p string) error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return store.ErrNotFound
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return store.ErrNotFound
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return fmt.Errorf("s3: bucket not found: %s", b.config.Bucket)
	}

	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return store.ErrNotFound
		case "PreconditionFailed", "ConditionalRequestConflict":
			return store.ErrAlreadyExists
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return store.ErrPermissionDenied
		}
	}

	return fmt.Errorf("s3: %s: %w", p, err)
}

type s3Writer struct {
	backend *Backend
	ctx     context.Context
	path    string
	config  *store.WriterConfig
	buffer  bytes.Buffer
	closed  bool
	mu      sync.Mutex
}

func (w *s3Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, store.ErrWriterClosed
	}
	return w.buffer.Write(p)
}

func (w *s3Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	input := &s3.PutObjectInput{
		Bucket:        aws.String(w.backend.config.Bucket),
		Key:           aws.String(w.backend.fullKey(w.path)),
		Body:          bytes.NewReader(w.buffer.Bytes()),
		ContentLength: aws.Int64(int64(w.buffer.Len())),
	}
	if w.config.ContentType != "" {
		input.ContentType = aws.String(w.config.ContentType)
	}
	if len(w.config.Metadata) > 0 {
		input.Metadata = w.config.Metadata
	}
	if w.config.IfNotExists {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := w.backend.client.PutObject(w.ctx, input); err != nil {
		return w.backend.translateError(err, w.path)
	}
	return nil
}

var _ store.ExtendedBackend = (*Backend)(nil)
