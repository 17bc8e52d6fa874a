package sim

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/grokify/omnicas"
	"github.com/grokify/omnicas/compress"
	"github.com/grokify/omnicas/multi"
	"github.com/grokify/omnicas/store"
)

// Store key prefixes.
const (
	prefixClips       = "clips/"
	prefixBlobs       = "blobs/"
	prefixIndex       = "index/"
	prefixReflections = "reflections/"
	prefixStaging     = "staging/"
)

// replicatedPrefixes are the key spaces copied to a replica.
var replicatedPrefixes = []string{prefixClips, prefixBlobs, prefixIndex, prefixReflections}

// defaultCapabilities apply when neither the cluster nor the profile sets a
// capability. Keys are "name/attribute".
var defaultCapabilities = map[string]string{
	omnicas.CapabilityRead + "/" + omnicas.AttrAllowed:                   omnicas.CapabilityTrue,
	omnicas.CapabilityWrite + "/" + omnicas.AttrAllowed:                  omnicas.CapabilityTrue,
	omnicas.CapabilityDelete + "/" + omnicas.AttrAllowed:                 omnicas.CapabilityTrue,
	omnicas.CapabilityPrivilegedDelete + "/" + omnicas.AttrAllowed:       omnicas.CapabilityFalse,
	omnicas.CapabilityExist + "/" + omnicas.AttrAllowed:                  omnicas.CapabilityTrue,
	omnicas.CapabilityClipEnumeration + "/" + omnicas.AttrAllowed:        omnicas.CapabilityTrue,
	omnicas.CapabilityDeletionLogging + "/" + omnicas.AttrSupported:      omnicas.CapabilityTrue,
	omnicas.CapabilityBlobNaming + "/" + omnicas.AttrSupportedSchemes:    "MD5,MG",
	omnicas.CapabilityRetention + "/" + omnicas.AttrDefault:              "fixed",
	omnicas.CapabilityRetention + "/" + omnicas.AttrRetentionDefault:     "0",
	omnicas.CapabilityCompliance + "/" + omnicas.AttrMode:                "basic",
	omnicas.CapabilityCompliance + "/" + omnicas.AttrEventBasedRetention: omnicas.CapabilitySupported,
	omnicas.CapabilityCompliance + "/" + omnicas.AttrRetentionHold:       omnicas.CapabilitySupported,
	omnicas.CapabilityCompliance + "/" + omnicas.AttrRetentionMinMax:     "unsupported",
	omnicas.CapabilityRetentionHold + "/" + omnicas.AttrAllowed:          omnicas.CapabilityTrue,
}

// cluster is one simulated cluster and its object store.
type cluster struct {
	config  ClusterConfig
	backend store.Backend
	codec   compress.Codec
	replica *cluster
	mirror  *multi.Writer
}

func openCluster(cfg ClusterConfig) (*cluster, error) {
	codec, err := compress.ParseCodec(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("sim: cluster %s: %w", cfg.Address, err)
	}
	backend, err := store.Open(cfg.Backend, cfg.BackendOptions)
	if err != nil {
		return nil, fmt.Errorf("sim: cluster %s: %w", cfg.Address, err)
	}
	c := &cluster{config: cfg, backend: backend, codec: codec}
	c.mirror, err = multi.New([]store.Backend{backend})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return c, nil
}

// attachReplica mirrors every write to r. Replica failures are logged and
// do not fail the write.
func (c *cluster) attachReplica(r *cluster, logger *slog.Logger) error {
	if r == nil || r == c {
		return fmt.Errorf("sim: cluster %s: invalid replica", c.config.Address)
	}
	mirror, err := multi.New([]store.Backend{c.backend, r.backend},
		multi.WithMode(multi.BestEffort),
		multi.WithErrorHandler(func(index int, err error) {
			logger.Warn("mirrored write failed",
				slog.String("cluster", c.config.Address),
				slog.Int("backend", index),
				slog.Any("error", err))
		}))
	if err != nil {
		return err
	}
	c.replica = r
	c.mirror = mirror
	return nil
}

func (c *cluster) backends() []store.Backend {
	if c.replica != nil {
		return []store.Backend{c.backend, c.replica.backend}
	}
	return []store.Backend{c.backend}
}

// put stores data at key on the cluster and its replica. The object is
// staged under a unique name and moved into place write-once, so a present
// key is left as is.
func (c *cluster) put(ctx context.Context, e *Engine, key string, data []byte) error {
	staging := prefixStaging + uuid.NewString()

	err := e.retry(ctx, func() error {
		w, err := c.mirror.NewWriter(ctx, staging)
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return err
		}
		return w.Close()
	})
	if err != nil {
		return err
	}

	opts := []store.WriterOption{
		store.WithIfNotExists(),
		store.WithContentType(contentType(key)),
		store.WithMetadata(map[string]string{"cluster-id": c.config.ID}),
	}
	for i, b := range c.backends() {
		err := e.retry(ctx, func() error {
			return store.MovePath(ctx, b, staging, b, key, opts...)
		})
		if store.IsAlreadyExists(err) {
			_ = b.Delete(ctx, staging)
			err = nil
		}
		if err == nil {
			continue
		}
		if i == 0 {
			return err
		}
		e.logger.Warn("replica move failed", slog.String("key", key), slog.Any("error", err))
	}
	return nil
}

func contentType(key string) string {
	switch {
	case strings.HasPrefix(key, prefixClips):
		return "application/cbor"
	case strings.HasPrefix(key, prefixReflections):
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}

// get reads key, falling back to the replica when failover is set.
func (c *cluster) get(ctx context.Context, e *Engine, key string, failover bool) ([]byte, error) {
	var data []byte
	err := e.retry(ctx, func() error {
		r, err := c.open(ctx, key, failover)
		if err != nil {
			return err
		}
		defer func() { _ = r.Close() }()
		data, err = io.ReadAll(r)
		return err
	})
	return data, err
}

func (c *cluster) open(ctx context.Context, key string, failover bool) (io.ReadCloser, error) {
	if failover && c.replica != nil {
		return multi.FirstReader(ctx, c.backends(), key)
	}
	return c.backend.NewReader(ctx, key)
}

func (c *cluster) exists(ctx context.Context, e *Engine, key string, failover bool) (bool, error) {
	var found bool
	err := e.retry(ctx, func() error {
		var err error
		found, err = c.backend.Exists(ctx, key)
		if err == nil && !found && failover && c.replica != nil {
			found, err = c.replica.backend.Exists(ctx, key)
		}
		return err
	})
	return found, err
}

func (c *cluster) remove(ctx context.Context, e *Engine, key string) error {
	return e.retry(ctx, func() error { return c.mirror.Delete(ctx, key) })
}

func (c *cluster) list(ctx context.Context, e *Engine, prefix string) ([]string, error) {
	var keys []string
	err := e.retry(ctx, func() error {
		var err error
		keys, err = c.backend.List(ctx, prefix)
		return err
	})
	return keys, err
}

// putBlob stores data under addr, framed with the cluster codec tag.
func (c *cluster) putBlob(ctx context.Context, e *Engine, addr string, data []byte) error {
	key := prefixBlobs + addr
	if ok, err := c.backend.Exists(ctx, key); err == nil && ok {
		return nil
	}

	var buf bytes.Buffer
	w, err := compress.NewTaggedWriter(nopCloser{&buf}, c.codec)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.put(ctx, e, key, buf.Bytes())
}

// getBlob reads and decompresses the blob at addr.
func (c *cluster) getBlob(ctx context.Context, e *Engine, addr string, failover bool) ([]byte, error) {
	raw, err := c.get(ctx, e, prefixBlobs+addr, failover)
	if err != nil {
		return nil, err
	}
	r, _, err := compress.NewTaggedReader(io.NopCloser(bytes.NewReader(raw)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// used returns the bytes stored under the replicated prefixes.
func (c *cluster) used(ctx context.Context) (int64, error) {
	var total int64
	for _, prefix := range replicatedPrefixes {
		keys, err := c.backend.List(ctx, prefix)
		if err != nil {
			return 0, err
		}
		for _, k := range keys {
			info, err := store.Stat(ctx, c.backend, k)
			if err != nil {
				if store.IsNotFound(err) {
					continue
				}
				return 0, err
			}
			total += info.Size
		}
	}
	return total, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
