package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/grokify/omnicas"
)

func collect(t *testing.T, q *omnicas.Query) []omnicas.QueryResult {
	t.Helper()
	var results []omnicas.QueryResult
	err := q.Each(context.Background(), time.Second, func(r omnicas.QueryResult) error {
		results = append(results, r)
		return nil
	})
	if err != nil {
		t.Fatalf("Each failed: %v", err)
	}
	return results
}

func TestQueryExisting(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	clip := env.newClip(t, "first", []byte("one"))
	_ = clip.SetDescriptionAttribute("owner", "finance")
	first, err := clip.Write(ctx)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	_ = clip.Close()

	env.clock.Advance(time.Hour)
	second := env.writeClip(t, "second", []byte("two"))

	q, err := env.pool.NewQuery()
	if err != nil {
		t.Fatalf("NewQuery failed: %v", err)
	}
	defer func() { _ = q.Close() }()
	if err := q.SelectField("owner"); err != nil {
		t.Fatalf("SelectField failed: %v", err)
	}

	results := collect(t, q)
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].ClipID != first || results[1].ClipID != second {
		t.Errorf("results out of time order: %s, %s", results[0].ClipID, results[1].ClipID)
	}
	if !results[0].Timestamp.Equal(testEpoch) {
		t.Errorf("Timestamp = %v, want %v", results[0].Timestamp, testEpoch)
	}
	if got := results[0].Field("owner"); got != "finance" {
		t.Errorf("Field(owner) = %q, want finance", got)
	}
	if got := results[1].Field("owner"); got != "" {
		t.Errorf("Field(owner) = %q for a clip without it", got)
	}

	if err := q.SetStartTime(testEpoch.Add(30 * time.Minute)); err != nil {
		t.Fatalf("SetStartTime failed: %v", err)
	}
	if err := q.Execute(ctx); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	results = collect(t, q)
	if len(results) != 1 || results[0].ClipID != second {
		t.Errorf("bounded query = %v, want only %s", results, second)
	}
}

func TestQueryDeleted(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	gone := env.writeClip(t, "gone", []byte("bye"))
	kept := env.writeClip(t, "kept", []byte("stay"))
	env.clock.Advance(time.Minute)
	if err := env.pool.ClipAuditedDelete(ctx, gone, "cleanup", omnicas.OptionDefault); err != nil {
		t.Fatalf("ClipAuditedDelete failed: %v", err)
	}

	q, _ := env.pool.NewQuery()
	defer func() { _ = q.Close() }()
	results := collect(t, q)
	if len(results) != 1 || results[0].ClipID != kept {
		t.Errorf("existing after delete = %v, want only %s", results, kept)
	}

	if err := q.SetType(omnicas.QueryDeleted); err != nil {
		t.Fatalf("SetType failed: %v", err)
	}
	_ = q.SelectField("reason")
	if err := q.Execute(ctx); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	results = collect(t, q)
	if len(results) != 1 {
		t.Fatalf("deleted results = %d, want 1", len(results))
	}
	r := results[0]
	if r.ClipID != gone || r.Type != omnicas.QueryDeleted {
		t.Errorf("deleted result = %+v", r)
	}
	if !r.Timestamp.Equal(testEpoch.Add(time.Minute)) {
		t.Errorf("deletion time = %v", r.Timestamp)
	}
	if r.Field("reason") != "cleanup" {
		t.Errorf("Field(reason) = %q, want cleanup", r.Field("reason"))
	}
}

func TestQueryNotExecuted(t *testing.T) {
	env := newTestEnv(t, nil)
	q, _ := env.pool.NewQuery()
	defer func() { _ = q.Close() }()

	_, err := q.FetchResult(context.Background(), time.Second)
	if !errors.Is(err, omnicas.ErrCodeNotYetOpen) {
		t.Errorf("FetchResult before Execute = %v, want NotYetOpen", err)
	}
}

func TestQueryEnumerationDenied(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Clusters[0].Capabilities = map[string]string{
			omnicas.CapabilityClipEnumeration + "/" + omnicas.AttrAllowed: omnicas.CapabilityFalse,
		}
	})
	q, _ := env.pool.NewQuery()
	defer func() { _ = q.Close() }()

	if err := q.Execute(context.Background()); !errors.Is(err, omnicas.ErrCodeOperationNotAllowed) {
		t.Errorf("Execute = %v, want OperationNotAllowed", err)
	}
}

func TestQueryBadRange(t *testing.T) {
	env := newTestEnv(t, nil)
	q, _ := env.pool.NewQuery()
	defer func() { _ = q.Close() }()

	_ = q.SetStartTime(testEpoch.Add(time.Hour))
	_ = q.SetEndTime(testEpoch)
	if err := q.Execute(context.Background()); !errors.Is(err, omnicas.ErrCodeParamErr) {
		t.Errorf("Execute = %v, want ParamErr", err)
	}
}
