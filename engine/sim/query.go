package sim

import (
	"bytes"
	"context"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grokify/omnicas"
	"github.com/grokify/omnicas/format/ndjson"
	"github.com/grokify/omnicas/store"
)

// queryExpr is a query expression.
type queryExpr struct {
	mu     sync.Mutex
	start  int64
	end    int64
	typ    omnicas.QueryType
	fields []string
}

// openQuery is a snapshot of matching clips taken when the query opened.
type openQuery struct {
	mu      sync.Mutex
	poolH   omnicas.Handle
	results []*queryResult
	next    int
}

type queryResult struct {
	code   omnicas.QueryResultCode
	id     string
	when   time.Time
	typ    omnicas.QueryType
	fields map[string]string
}

// QueryExpressionCreate implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionCreate() (omnicas.Handle, error) {
	e.clearLastError()
	return e.alloc(&queryExpr{start: 0, end: -1, typ: omnicas.QueryExisting}), nil
}

// QueryExpressionClose implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionClose(h omnicas.Handle) error {
	e.clearLastError()
	if _, err := lookup[*queryExpr](e, h); err != nil {
		return err
	}
	e.release(h)
	return nil
}

func (e *Engine) withExpr(h omnicas.Handle, fn func(q *queryExpr) error) error {
	q, err := lookup[*queryExpr](e, h)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return fn(q)
}

// QueryExpressionSetStartTime implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionSetStartTime(h omnicas.Handle, unix int64) error {
	e.clearLastError()
	if unix < 0 {
		return e.fail(omnicas.ErrCodeParamErr, "invalid start time %d", unix)
	}
	return e.withExpr(h, func(q *queryExpr) error {
		q.start = unix
		return nil
	})
}

// QueryExpressionStartTime implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionStartTime(h omnicas.Handle) (int64, error) {
	e.clearLastError()
	var v int64
	err := e.withExpr(h, func(q *queryExpr) error {
		v = q.start
		return nil
	})
	return v, err
}

// QueryExpressionSetEndTime implements omnicas.QueryEngine. -1 means now.
func (e *Engine) QueryExpressionSetEndTime(h omnicas.Handle, unix int64) error {
	e.clearLastError()
	if unix < -1 {
		return e.fail(omnicas.ErrCodeParamErr, "invalid end time %d", unix)
	}
	return e.withExpr(h, func(q *queryExpr) error {
		q.end = unix
		return nil
	})
}

// QueryExpressionEndTime implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionEndTime(h omnicas.Handle) (int64, error) {
	e.clearLastError()
	var v int64
	err := e.withExpr(h, func(q *queryExpr) error {
		v = q.end
		return nil
	})
	return v, err
}

// QueryExpressionSetType implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionSetType(h omnicas.Handle, t omnicas.QueryType) error {
	e.clearLastError()
	if t&omnicas.QueryAll == 0 || t&^omnicas.QueryAll != 0 {
		return e.fail(omnicas.ErrCodeParamErr, "invalid query type %d", t)
	}
	return e.withExpr(h, func(q *queryExpr) error {
		q.typ = t
		return nil
	})
}

// QueryExpressionType implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionType(h omnicas.Handle) (omnicas.QueryType, error) {
	e.clearLastError()
	var t omnicas.QueryType
	err := e.withExpr(h, func(q *queryExpr) error {
		t = q.typ
		return nil
	})
	return t, err
}

// QueryExpressionSelectField implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionSelectField(h omnicas.Handle, name string) error {
	e.clearLastError()
	if name == "" {
		return e.fail(omnicas.ErrCodeParamErr, "field name is empty")
	}
	return e.withExpr(h, func(q *queryExpr) error {
		if !slices.Contains(q.fields, name) {
			q.fields = append(q.fields, name)
		}
		return nil
	})
}

// QueryExpressionDeselectField implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionDeselectField(h omnicas.Handle, name string) error {
	e.clearLastError()
	return e.withExpr(h, func(q *queryExpr) error {
		q.fields = slices.DeleteFunc(q.fields, func(f string) bool { return f == name })
		return nil
	})
}

// QueryExpressionIsFieldSelected implements omnicas.QueryEngine.
func (e *Engine) QueryExpressionIsFieldSelected(h omnicas.Handle, name string) (bool, error) {
	e.clearLastError()
	var ok bool
	err := e.withExpr(h, func(q *queryExpr) error {
		ok = slices.Contains(q.fields, name)
		return nil
	})
	return ok, err
}

// parseMarker splits "<unixnano>_<id>[suffix]" below prefix.
func parseMarker(key, prefix, suffix string) (time.Time, string, bool) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return time.Time{}, "", false
	}
	rest = strings.TrimSuffix(rest, suffix)
	stamp, id, ok := strings.Cut(rest, "_")
	if !ok {
		return time.Time{}, "", false
	}
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil || !validAddress(id) {
		return time.Time{}, "", false
	}
	return time.Unix(0, nanos), id, true
}

// PoolQueryOpen implements omnicas.QueryEngine.
func (e *Engine) PoolQueryOpen(ctx context.Context, ph, qh omnicas.Handle) (omnicas.Handle, error) {
	e.clearLastError()
	p, err := lookup[*pool](e, ph)
	if err != nil {
		return 0, err
	}
	if err := e.checkAllowed(p, omnicas.CapabilityClipEnumeration); err != nil {
		return 0, err
	}
	var (
		start, end int64
		typ        omnicas.QueryType
		fields     []string
	)
	err = e.withExpr(qh, func(q *queryExpr) error {
		start, end, typ, fields = q.start, q.end, q.typ, slices.Clone(q.fields)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if end < 0 {
		end = e.clock.Now().Unix()
	}
	if start > end {
		return 0, e.fail(omnicas.ErrCodeParamErr, "query start %d is after end %d", start, end)
	}
	inRange := func(t time.Time) bool { return t.Unix() >= start && t.Unix() <= end }

	c := p.primary()
	oq := &openQuery{poolH: ph}

	if typ&omnicas.QueryExisting != 0 {
		keys, err := c.list(ctx, e, prefixIndex)
		if err != nil {
			return 0, e.storeFailure(err, omnicas.ErrCodeServer)
		}
		for _, k := range keys {
			when, id, ok := parseMarker(k, prefixIndex, "")
			if !ok || !inRange(when) {
				continue
			}
			r := &queryResult{code: omnicas.QueryResultOK, id: id, when: when, typ: omnicas.QueryExisting}
			if len(fields) > 0 {
				if r.fields, err = e.existingFields(ctx, p, id, fields); err != nil {
					return 0, err
				}
			}
			oq.results = append(oq.results, r)
		}
	}

	if typ&omnicas.QueryDeleted != 0 {
		keys, err := c.list(ctx, e, prefixReflections)
		if err != nil {
			return 0, e.storeFailure(err, omnicas.ErrCodeServer)
		}
		for _, k := range keys {
			when, id, ok := parseMarker(k, prefixReflections, ".ndjson")
			if !ok || !inRange(when) {
				continue
			}
			r := &queryResult{code: omnicas.QueryResultOK, id: id, when: when, typ: omnicas.QueryDeleted}
			if len(fields) > 0 {
				if r.fields, err = e.deletedFields(ctx, c, k, fields); err != nil {
					return 0, err
				}
			}
			oq.results = append(oq.results, r)
		}
	}

	slices.SortStableFunc(oq.results, func(a, b *queryResult) int { return a.when.Compare(b.when) })
	return e.alloc(oq), nil
}

// existingFields reads the selected description attributes of clip id. A
// clip deleted since listing yields no fields.
func (e *Engine) existingFields(ctx context.Context, p *pool, id string, fields []string) (map[string]string, error) {
	data, err := p.primary().get(ctx, e, prefixClips+id, false)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, e.storeFailure(err, omnicas.ErrCodeServer)
	}
	d, err := decodeDescriptor(data)
	if err != nil {
		return nil, e.fail(omnicas.ErrCodeProtocol, "clip %s: %v", id, err)
	}
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		if v, ok := getAttr(d.Description, f); ok {
			out[f] = v
		}
	}
	return out, nil
}

// deletedFields reads the selected fields of a deletion record. Reflections
// carry "name" and "reason".
func (e *Engine) deletedFields(ctx context.Context, c *cluster, key string, fields []string) (map[string]string, error) {
	data, err := c.get(ctx, e, key, false)
	if err != nil {
		return nil, e.storeFailure(err, omnicas.ErrCodeServer)
	}
	r := ndjson.NewReader(io.NopCloser(bytes.NewReader(data)))
	defer func() { _ = r.Close() }()

	var rec reflection
	if err := r.Decode(&rec); err != nil {
		return nil, e.fail(omnicas.ErrCodeProtocol, "reflection %s: %v", key, err)
	}
	values := map[string]string{"name": rec.Name, "reason": rec.Reason}
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		if v, ok := values[f]; ok && v != "" {
			out[f] = v
		}
	}
	return out, nil
}

// PoolQueryClose implements omnicas.QueryEngine.
func (e *Engine) PoolQueryClose(h omnicas.Handle) error {
	e.clearLastError()
	if _, err := lookup[*openQuery](e, h); err != nil {
		return err
	}
	e.release(h)
	return nil
}

// PoolQueryPool implements omnicas.QueryEngine.
func (e *Engine) PoolQueryPool(h omnicas.Handle) (omnicas.Handle, error) {
	e.clearLastError()
	q, err := lookup[*openQuery](e, h)
	if err != nil {
		return 0, err
	}
	return q.poolH, nil
}

// PoolQueryFetchResult implements omnicas.QueryEngine. Results are already
// snapshotted, so timeout never expires; every call past the last result
// returns an end marker.
func (e *Engine) PoolQueryFetchResult(ctx context.Context, h omnicas.Handle, timeout time.Duration) (omnicas.Handle, error) {
	e.clearLastError()
	q, err := lookup[*openQuery](e, h)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return e.alloc(&queryResult{code: omnicas.QueryResultAbort}), nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.next >= len(q.results) {
		return e.alloc(&queryResult{code: omnicas.QueryResultEnd}), nil
	}
	r := q.results[q.next]
	q.next++
	return e.alloc(r), nil
}

// QueryResultClose implements omnicas.QueryEngine.
func (e *Engine) QueryResultClose(h omnicas.Handle) error {
	e.clearLastError()
	if _, err := lookup[*queryResult](e, h); err != nil {
		return err
	}
	e.release(h)
	return nil
}

// QueryResultCode implements omnicas.QueryEngine.
func (e *Engine) QueryResultCode(h omnicas.Handle) (omnicas.QueryResultCode, error) {
	e.clearLastError()
	r, err := lookup[*queryResult](e, h)
	if err != nil {
		return omnicas.QueryResultError, err
	}
	return r.code, nil
}

// QueryResultClipID implements omnicas.QueryEngine.
func (e *Engine) QueryResultClipID(h omnicas.Handle, buf []byte) (int, error) {
	e.clearLastError()
	r, err := lookup[*queryResult](e, h)
	if err != nil {
		return 0, err
	}
	return omnicas.CopyOut(r.id, buf), nil
}

// QueryResultTimestamp implements omnicas.QueryEngine.
func (e *Engine) QueryResultTimestamp(h omnicas.Handle, buf []byte) (int, error) {
	e.clearLastError()
	r, err := lookup[*queryResult](e, h)
	if err != nil {
		return 0, err
	}
	if r.when.IsZero() {
		return omnicas.CopyOut("", buf), nil
	}
	return omnicas.CopyOut(omnicas.FormatClusterTime(r.when), buf), nil
}

// QueryResultType implements omnicas.QueryEngine.
func (e *Engine) QueryResultType(h omnicas.Handle) (omnicas.QueryType, error) {
	e.clearLastError()
	r, err := lookup[*queryResult](e, h)
	if err != nil {
		return 0, err
	}
	return r.typ, nil
}

// QueryResultField implements omnicas.QueryEngine.
func (e *Engine) QueryResultField(h omnicas.Handle, name string, buf []byte) (int, error) {
	e.clearLastError()
	r, err := lookup[*queryResult](e, h)
	if err != nil {
		return 0, err
	}
	v, ok := r.fields[name]
	if !ok {
		return 0, e.fail(omnicas.ErrCodeAttrNotFound, "result has no field %q", name)
	}
	return omnicas.CopyOut(v, buf), nil
}
