package sim

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/grokify/omnicas"
)

func replicatedEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnv(t, func(c *Config) {
		primary := MemoryCluster("primary")
		primary.Replica = "replica"
		c.Clusters = []ClusterConfig{primary, MemoryCluster("replica")}
	})
}

func TestReplicaMirrorsWrites(t *testing.T) {
	env := replicatedEnv(t)
	ctx := context.Background()
	id := env.writeClip(t, "mirrored", payload(2048))

	replica := env.engine.clusters["replica"].backend
	if ok, err := replica.Exists(ctx, prefixClips+id); err != nil || !ok {
		t.Errorf("replica Exists(clip) = %t, %v", ok, err)
	}
}

func TestReplicaFailover(t *testing.T) {
	env := replicatedEnv(t)
	ctx := context.Background()
	data := payload(4096)
	id := env.writeClip(t, "failover", data)

	// Lose the clip and its blob on the primary.
	primary := env.engine.clusters["primary"].backend
	for _, prefix := range []string{prefixClips, prefixBlobs} {
		for _, key := range env.keys(t, prefix) {
			if err := primary.Delete(ctx, key); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
		}
	}

	if got := env.readClip(t, id); !bytes.Equal(got, data) {
		t.Error("failover read differs")
	}

	if err := env.pool.SetMultiClusterFailOver(false); err != nil {
		t.Fatalf("SetMultiClusterFailOver failed: %v", err)
	}
	_, err := env.pool.ClipOpen(ctx, id, omnicas.OpenAsTree)
	if !errors.Is(err, omnicas.ErrCodeClipNotFound) {
		t.Errorf("ClipOpen without failover = %v, want ClipNotFound", err)
	}
}

func TestReplicate(t *testing.T) {
	env := replicatedEnv(t)
	ctx := context.Background()

	// An object written around the mirror is only on the primary.
	primary := env.engine.clusters["primary"].backend
	w, err := primary.NewWriter(ctx, prefixClips+"orphan")
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	_, _ = w.Write([]byte("descriptor"))
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	dry, err := env.engine.Replicate(ctx, "primary", ReplicateOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Replicate(dry run) failed: %v", err)
	}
	if len(dry.Copied) != 1 {
		t.Errorf("dry run Copied = %v, want 1 entry", dry.Copied)
	}

	result, err := env.engine.Replicate(ctx, "primary", ReplicateOptions{Verify: true})
	if err != nil {
		t.Fatalf("Replicate failed: %v", err)
	}
	if len(result.Copied) != 1 || len(result.Errors) != 0 {
		t.Errorf("Replicate = %+v", result)
	}

	replica := env.engine.clusters["replica"].backend
	if ok, _ := replica.Exists(ctx, prefixClips+"orphan"); !ok {
		t.Error("orphan not replicated")
	}
}

func TestReplicateWithoutReplica(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.engine.Replicate(context.Background(), "primary", ReplicateOptions{}); err == nil {
		t.Error("Replicate succeeded without a replica")
	}
}
