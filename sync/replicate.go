package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	gosync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/grokify/omnicas/store"
)

// Replicate copies every object under opts.Prefixes that src has and dst
// lacks. Objects are written with store.WithIfNotExists, so a concurrent
// writer on dst wins and the object counts as skipped.
func Replicate(ctx context.Context, src, dst store.Backend, opts Options) (*Result, error) {
	start := time.Now()
	logger := opts.logger()
	result := &Result{DryRun: opts.DryRun}

	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	prefixes := opts.Prefixes
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}

	logger.Info("starting replication",
		slog.Any("prefixes", prefixes),
		slog.Bool("dry_run", opts.DryRun),
		slog.Int("concurrency", opts.Concurrency))

	var todo []string
	for _, prefix := range prefixes {
		missing, present, err := diff(ctx, src, dst, prefix)
		if err != nil {
			logger.Error("listing failed", slog.String("prefix", prefix), slog.Any("error", err))
			return nil, err
		}
		todo = append(todo, missing...)
		result.Skipped += len(present)

		if opts.Verify {
			for _, p := range present {
				if err := verifyObject(ctx, src, dst, p, opts.checksum()); err != nil {
					result.Errors = append(result.Errors, ObjectError{Path: p, Op: "verify", Err: err})
				}
			}
		}
	}
	logger.Debug("replication plan", slog.Int("missing", len(todo)), slog.Int("present", result.Skipped))

	if opts.DryRun {
		result.Copied = todo
		result.Duration = time.Since(start)
		return result, nil
	}

	copyCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		limiter     = newLimiter(opts.BandwidthLimit)
		transferred atomic.Int64
		done        atomic.Int32
		mu          gosync.Mutex
		wg          gosync.WaitGroup
		workCh      = make(chan string)
	)

	for range opts.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range workCh {
				n, err := replicateObject(copyCtx, src, dst, p, limiter, opts.Retry)

				mu.Lock()
				switch {
				case err == nil:
					result.Copied = append(result.Copied, p)
				case store.IsAlreadyExists(err):
					result.Skipped++
				default:
					result.Errors = append(result.Errors, ObjectError{Path: p, Op: "copy", Err: err})
					logger.Warn("object replication failed", slog.String("path", p), slog.Any("error", err))
					if opts.MaxErrors > 0 && len(result.Errors) >= opts.MaxErrors {
						cancel()
					}
				}
				mu.Unlock()

				total := transferred.Add(n)
				finished := int(done.Add(1))
				if opts.Progress != nil {
					opts.Progress(Progress{
						Path:             p,
						ObjectsDone:      finished,
						ObjectsTotal:     len(todo),
						BytesTransferred: total,
					})
				}
			}
		}()
	}

send:
	for _, p := range todo {
		select {
		case <-copyCtx.Done():
			break send
		case workCh <- p:
		}
	}
	close(workCh)
	wg.Wait()

	slices.Sort(result.Copied)
	result.BytesTransferred = transferred.Load()
	result.Duration = time.Since(start)

	logger.Info("replication complete",
		slog.Int("copied", len(result.Copied)),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", len(result.Errors)),
		slog.Int64("bytes_transferred", result.BytesTransferred),
		slog.Duration("duration", result.Duration))

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// diff splits the objects of src under prefix into those missing from dst and
// those dst already holds. Both lists are sorted.
func diff(ctx context.Context, src, dst store.Backend, prefix string) (missing, present []string, err error) {
	srcPaths, err := src.List(ctx, prefix)
	if err != nil {
		return nil, nil, err
	}
	dstPaths, err := dst.List(ctx, prefix)
	if err != nil {
		return nil, nil, err
	}

	have := make(map[string]struct{}, len(dstPaths))
	for _, p := range dstPaths {
		have[p] = struct{}{}
	}
	for _, p := range srcPaths {
		if _, ok := have[p]; ok {
			present = append(present, p)
		} else {
			missing = append(missing, p)
		}
	}
	return missing, present, nil
}

func replicateObject(ctx context.Context, src, dst store.Backend, p string, limiter *rate.Limiter, retry *RetryConfig) (int64, error) {
	var written int64
	op := func() error {
		n, err := copyObject(ctx, src, dst, p, limiter)
		written = n
		return err
	}

	if retry == nil {
		return written, op()
	}
	cfg := *retry
	userRetryable := cfg.Retryable
	cfg.Retryable = func(err error) bool {
		if store.IsAlreadyExists(err) || store.IsNotFound(err) {
			return false
		}
		return userRetryable == nil || userRetryable(err)
	}
	err := Retry(ctx, cfg, op)
	return written, err
}

func copyObject(ctx context.Context, src, dst store.Backend, p string, limiter *rate.Limiter) (int64, error) {
	r, err := src.NewReader(ctx, p)
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()

	w, err := dst.NewWriter(ctx, p, store.WithIfNotExists())
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(w, NewLimitedReader(ctx, r, limiter))
	if err != nil {
		// Closing commits what was written; remove the partial object.
		if w.Close() == nil {
			_ = dst.Delete(ctx, p)
		}
		return n, err
	}
	return n, w.Close()
}

var (
	// ErrSizeMismatch is recorded by Verify when both sides hold an object of
	// different lengths.
	ErrSizeMismatch = errors.New("sync: size mismatch")

	// ErrChecksumMismatch is recorded by Verify when both sides hold an object
	// of the same length and different content.
	ErrChecksumMismatch = errors.New("sync: checksum mismatch")
)

func verifyObject(ctx context.Context, src, dst store.Backend, p string, t store.HashType) error {
	si, err := store.Stat(ctx, src, p)
	if err != nil {
		return err
	}
	di, err := store.Stat(ctx, dst, p)
	if err != nil {
		return err
	}
	if si.Size != di.Size {
		return ErrSizeMismatch
	}

	sh, err := objectHashes(ctx, src, p, si, t)
	if err != nil {
		return err
	}
	dh, err := objectHashes(ctx, dst, p, di, t)
	if err != nil {
		return err
	}
	if !sh.Equal(dh) {
		return ErrChecksumMismatch
	}
	return nil
}

// objectHashes returns the digest of type t for p, taking it from info when
// the backend reported one and reading the object otherwise.
func objectHashes(ctx context.Context, b store.Backend, p string, info store.ObjectInfo, t store.HashType) (store.HashSet, error) {
	if v := info.Hashes.Get(t); v != "" {
		return store.HashSet{t: v}, nil
	}
	r, err := b.NewReader(ctx, p)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	v, err := store.HashReader(r, t)
	if err != nil {
		return nil, err
	}
	return store.HashSet{t: v}, nil
}
