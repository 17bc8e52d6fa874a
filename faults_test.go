package omnicas_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/grokify/mogo/log/slogutil"

	"github.com/grokify/omnicas"
	"github.com/grokify/omnicas/engine/sim"
)

// faultyEngine replaces a few sim accessors with broken ones.
type faultyEngine struct {
	*sim.Engine
	badTime  string
	nameErr  error
	closeErr error
}

func (f *faultyEngine) PoolClusterTime(pool omnicas.Handle, buf []byte) (int, error) {
	return omnicas.CopyOut(f.badTime, buf), nil
}

func (f *faultyEngine) ClipCreationDate(clip omnicas.Handle, buf []byte) (int, error) {
	return omnicas.CopyOut(f.badTime, buf), nil
}

func (f *faultyEngine) RetentionClassName(class omnicas.Handle, buf []byte) (int, error) {
	return 0, f.nameErr
}

func (f *faultyEngine) RetentionClassClose(class omnicas.Handle) error {
	_ = f.Engine.RetentionClassClose(class)
	return f.closeErr
}

func openFaulty(t *testing.T, f *faultyEngine, logger *slog.Logger) (*omnicas.Session, *omnicas.Pool) {
	t.Helper()
	cluster := sim.MemoryCluster("cas")
	cluster.RetentionClasses = []sim.RetentionClassConfig{{Name: "legal", Period: time.Hour}}
	config := sim.DefaultConfig()
	config.Clusters = []sim.ClusterConfig{cluster}

	engine, err := sim.New(config)
	if err != nil {
		t.Fatalf("sim.New failed: %v", err)
	}
	f.Engine = engine
	sess := omnicas.NewSession(f, omnicas.WithLogger(logger))
	t.Cleanup(func() { _ = sess.Close() })

	pool, err := sess.OpenPool(context.Background(), "cas")
	if err != nil {
		t.Fatalf("OpenPool failed: %v", err)
	}
	return sess, pool
}

func TestMalformedTimeIsProtocolError(t *testing.T) {
	_, pool := openFaulty(t, &faultyEngine{badTime: "not a time"}, slogutil.Null())

	_, err := pool.ClusterTime()
	if !errors.Is(err, omnicas.ErrCodeProtocol) {
		t.Errorf("ClusterTime = %v, want ProtocolError", err)
	}
	var e *omnicas.Error
	if !errors.As(err, &e) || e.Op != "Pool.ClusterTime" || e.Err == nil {
		t.Errorf("ClusterTime error = %#v, want Op and cause set", err)
	}

	clip, err := pool.ClipCreate("dated")
	if err != nil {
		t.Fatalf("ClipCreate failed: %v", err)
	}
	defer func() { _ = clip.Close() }()
	if _, err := clip.CreationDate(); !errors.Is(err, omnicas.ErrCodeProtocol) {
		t.Errorf("CreationDate = %v, want ProtocolError", err)
	}
}

func TestRetentionClassCloseFailureLogged(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	f := &faultyEngine{
		nameErr:  omnicas.ErrCodeServer,
		closeErr: errors.New("close refused"),
	}
	_, pool := openFaulty(t, f, logger)

	classes, err := pool.RetentionClasses()
	if err != nil {
		t.Fatalf("RetentionClasses failed: %v", err)
	}
	defer func() { _ = classes.Close() }()

	if _, err := classes.First(); !errors.Is(err, omnicas.ErrCodeServer) {
		t.Errorf("First = %v, want ServerError", err)
	}
	out := logs.String()
	if !strings.Contains(out, "retention class close failed") || !strings.Contains(out, "close refused") {
		t.Errorf("log output missing close failure: %q", out)
	}
}
