package sync

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/grokify/omnicas/backend/memory"
	"github.com/grokify/omnicas/store"
)

func put(t *testing.T, b store.Backend, path, data string) {
	t.Helper()
	w, err := b.NewWriter(context.Background(), path)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if _, err := io.Copy(w, strings.NewReader(data)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func get(t *testing.T, b store.Backend, path string) string {
	t.Helper()
	r, err := b.NewReader(context.Background(), path)
	if err != nil {
		t.Fatalf("NewReader(%s) failed: %v", path, err)
	}
	defer func() { _ = r.Close() }()
	data, _ := io.ReadAll(r)
	return string(data)
}

func TestReplicateCopiesMissing(t *testing.T) {
	ctx := context.Background()
	src, dst := memory.New(), memory.New()
	put(t, src, "clips/A", "descriptor-a")
	put(t, src, "clips/B", "descriptor-b")
	put(t, src, "blobs/X", "blob-x")
	put(t, src, "staging/tmp", "ignored")
	put(t, dst, "clips/A", "descriptor-a")

	var calls int
	result, err := Replicate(ctx, src, dst, Options{
		Prefixes: []string{"clips/", "blobs/"},
		Progress: func(Progress) { calls++ },
	})
	if err != nil {
		t.Fatalf("Replicate failed: %v", err)
	}
	if !result.Success() {
		t.Fatalf("Replicate errors: %v", result.Errors)
	}

	if len(result.Copied) != 2 || result.Copied[0] != "blobs/X" || result.Copied[1] != "clips/B" {
		t.Errorf("Copied = %v", result.Copied)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}
	if result.BytesTransferred != int64(len("descriptor-b")+len("blob-x")) {
		t.Errorf("BytesTransferred = %d", result.BytesTransferred)
	}
	if calls != 2 {
		t.Errorf("progress calls = %d, want 2", calls)
	}
	if got := get(t, dst, "clips/B"); got != "descriptor-b" {
		t.Errorf("clips/B = %q", got)
	}
	if ok, _ := dst.Exists(ctx, "staging/tmp"); ok {
		t.Error("object outside prefixes was replicated")
	}
}

func TestReplicateDryRun(t *testing.T) {
	src, dst := memory.New(), memory.New()
	put(t, src, "clips/A", "a")

	result, err := Replicate(context.Background(), src, dst, Options{DryRun: true})
	if err != nil {
		t.Fatalf("Replicate failed: %v", err)
	}
	if len(result.Copied) != 1 || !result.DryRun {
		t.Errorf("result = %+v", result)
	}
	if dst.Count() != 0 {
		t.Errorf("dry run wrote %d objects", dst.Count())
	}
}

func TestReplicateVerify(t *testing.T) {
	src, dst := memory.New(), memory.New()
	put(t, src, "blobs/X", "long content")
	put(t, dst, "blobs/X", "short")

	result, err := Replicate(context.Background(), src, dst, Options{Verify: true})
	if err != nil {
		t.Fatalf("Replicate failed: %v", err)
	}
	if len(result.Errors) != 1 || !errors.Is(result.Errors[0], ErrSizeMismatch) {
		t.Errorf("Errors = %v, want one size mismatch", result.Errors)
	}
	if got := get(t, dst, "blobs/X"); got != "short" {
		t.Errorf("existing object overwritten: %q", got)
	}
}

func TestReplicateVerifyChecksum(t *testing.T) {
	for _, ht := range []store.HashType{store.HashNone, store.HashMD5, store.HashSHA256, store.HashBLAKE3} {
		t.Run("checksum="+ht.String(), func(t *testing.T) {
			src, dst := memory.New(), memory.New()
			put(t, src, "blobs/X", "content-a")
			put(t, dst, "blobs/X", "content-b")
			put(t, src, "blobs/Y", "same")
			put(t, dst, "blobs/Y", "same")

			result, err := Replicate(context.Background(), src, dst, Options{Verify: true, Checksum: ht})
			if err != nil {
				t.Fatalf("Replicate failed: %v", err)
			}
			if len(result.Errors) != 1 {
				t.Fatalf("Errors = %v, want one checksum mismatch", result.Errors)
			}
			if result.Errors[0].Path != "blobs/X" || !errors.Is(result.Errors[0], ErrChecksumMismatch) {
				t.Errorf("Errors[0] = %v, want checksum mismatch on blobs/X", result.Errors[0])
			}
		})
	}
}

func TestReplicateIdempotent(t *testing.T) {
	src, dst := memory.New(), memory.New()
	put(t, src, "clips/A", "a")

	for i := range 2 {
		result, err := Replicate(context.Background(), src, dst, DefaultOptions())
		if err != nil {
			t.Fatalf("Replicate #%d failed: %v", i, err)
		}
		if i == 1 && (len(result.Copied) != 0 || result.Skipped != 1) {
			t.Errorf("second pass = %+v", result)
		}
	}
}

func TestReplicateBandwidthLimit(t *testing.T) {
	src, dst := memory.New(), memory.New()
	put(t, src, "blobs/X", strings.Repeat("x", 1000))

	result, err := Replicate(context.Background(), src, dst, Options{BandwidthLimit: 1 << 20})
	if err != nil {
		t.Fatalf("Replicate failed: %v", err)
	}
	if result.BytesTransferred != 1000 {
		t.Errorf("BytesTransferred = %d, want 1000", result.BytesTransferred)
	}
}
