package sim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/grokify/omnicas"
	"github.com/grokify/omnicas/store"
	omnisync "github.com/grokify/omnicas/sync"
)

// ReplicateOptions tunes Engine.Replicate.
type ReplicateOptions struct {
	DryRun         bool
	Verify         bool
	Checksum       store.HashType
	Concurrency    int
	BandwidthLimit int64
}

// Replicate copies the clips, blobs, index markers and reflections that the
// cluster at addr holds and its replica lacks. It returns an error when the
// cluster has no replica.
func (e *Engine) Replicate(ctx context.Context, addr string, opts ReplicateOptions) (*omnisync.Result, error) {
	c := e.resolve(addr)
	if c == nil {
		return nil, fmt.Errorf("sim: unknown cluster %q", addr)
	}
	if c.replica == nil {
		return nil, fmt.Errorf("sim: cluster %s has no replica", c.config.Address)
	}

	limit := e.option(omnicas.GlobalOptionRetryLimit)
	sleep := e.option(omnicas.GlobalOptionRetrySleep)
	retry := omnisync.FixedRetryConfig(int(limit), time.Duration(sleep)*time.Millisecond)

	result, err := omnisync.Replicate(ctx, c.backend, c.replica.backend, omnisync.Options{
		Prefixes:       replicatedPrefixes,
		DryRun:         opts.DryRun,
		Verify:         opts.Verify,
		Checksum:       opts.Checksum,
		Concurrency:    opts.Concurrency,
		BandwidthLimit: opts.BandwidthLimit,
		Retry:          &retry,
		Logger:         e.logger.With(slog.String("cluster", c.config.Address)),
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("replica caught up",
		slog.String("cluster", c.config.Address),
		slog.String("replica", c.replica.config.Address),
		slog.Int("copied", len(result.Copied)),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", len(result.Errors)))
	return result, nil
}
