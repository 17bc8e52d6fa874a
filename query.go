package omnicas

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

// QueryType selects existing clips, deleted clips or both.
type QueryType int

const (
	QueryExisting QueryType = 1
	QueryDeleted  QueryType = 2
	QueryAll                = QueryExisting | QueryDeleted
)

func (t QueryType) String() string {
	switch t {
	case QueryExisting:
		return "existing"
	case QueryDeleted:
		return "deleted"
	case QueryAll:
		return "all"
	default:
		return "unknown"
	}
}

// QueryResultCode is the status attached to each fetched result.
type QueryResultCode int

const (
	QueryResultOK         QueryResultCode = 0
	QueryResultIncomplete QueryResultCode = 1
	QueryResultComplete   QueryResultCode = 2
	QueryResultEnd        QueryResultCode = 3
	QueryResultAbort      QueryResultCode = 4
	QueryResultError      QueryResultCode = 5
	QueryResultProgress   QueryResultCode = 6
)

func (c QueryResultCode) String() string {
	switch c {
	case QueryResultOK:
		return "ok"
	case QueryResultIncomplete:
		return "incomplete"
	case QueryResultComplete:
		return "complete"
	case QueryResultEnd:
		return "end"
	case QueryResultAbort:
		return "abort"
	case QueryResultError:
		return "error"
	case QueryResultProgress:
		return "progress"
	default:
		return "unknown"
	}
}

// HasClip reports whether results with this code carry a clip.
func (c QueryResultCode) HasClip() bool {
	return c == QueryResultOK || c == QueryResultIncomplete
}

// Unbounded time range markers in unix seconds.
const (
	queryUnboundedStart int64 = 0
	queryUnboundedEnd   int64 = -1
)

// Query enumerates clips written or deleted in a time range.
type Query struct {
	session *Session
	pool    *Pool
	expr    Handle
	handle  Handle
	fields  []string
}

// QueryResult is one fetched query result.
type QueryResult struct {
	Code      QueryResultCode   `json:"code"`
	ClipID    string            `json:"clipId,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Type      QueryType         `json:"type,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Field returns a selected description attribute of the result's clip.
func (r QueryResult) Field(name string) string {
	return r.Fields[name]
}

// NewQuery returns a query for existing clips over an unbounded time range.
func (p *Pool) NewQuery() (*Query, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	e := p.session.engine
	h, err := e.QueryExpressionCreate()
	if err != nil {
		return nil, translate("Pool.NewQuery", err)
	}

	q := &Query{session: p.session, pool: p, expr: h}
	if err := p.session.register(h, q, func() error { return e.QueryExpressionClose(h) }); err != nil {
		return nil, err
	}
	for _, set := range []func() error{
		func() error { return e.QueryExpressionSetStartTime(h, queryUnboundedStart) },
		func() error { return e.QueryExpressionSetEndTime(h, queryUnboundedEnd) },
		func() error { return e.QueryExpressionSetType(h, QueryExisting) },
	} {
		if err := set(); err != nil {
			_ = q.Close()
			return nil, translate("Pool.NewQuery", err)
		}
	}
	return q, nil
}

// Handle returns the open query handle, or zero before Execute.
func (q *Query) Handle() Handle { return q.handle }

// Pool returns the pool the query runs against.
func (q *Query) Pool() *Pool { return q.pool }

func (q *Query) check() error {
	if q.expr == 0 {
		return ErrClosed
	}
	return nil
}

// SetStartTime bounds the range below by t, inclusive.
func (q *Query) SetStartTime(t time.Time) error {
	return q.setTime("Query.SetStartTime", q.session.engine.QueryExpressionSetStartTime, t.Unix())
}

// SetEndTime bounds the range above by t, inclusive.
func (q *Query) SetEndTime(t time.Time) error {
	return q.setTime("Query.SetEndTime", q.session.engine.QueryExpressionSetEndTime, t.Unix())
}

// SetUnboundedStart removes the lower bound.
func (q *Query) SetUnboundedStart() error {
	return q.setTime("Query.SetUnboundedStart", q.session.engine.QueryExpressionSetStartTime, queryUnboundedStart)
}

// SetUnboundedEnd removes the upper bound.
func (q *Query) SetUnboundedEnd() error {
	return q.setTime("Query.SetUnboundedEnd", q.session.engine.QueryExpressionSetEndTime, queryUnboundedEnd)
}

func (q *Query) setTime(op string, fn func(Handle, int64) error, unix int64) error {
	if err := q.check(); err != nil {
		return err
	}
	return translate(op, fn(q.expr, unix))
}

// StartTime returns the lower bound, or Epoch when unbounded.
func (q *Query) StartTime() (time.Time, error) {
	if err := q.check(); err != nil {
		return time.Time{}, err
	}
	unix, err := q.session.engine.QueryExpressionStartTime(q.expr)
	if err != nil {
		return time.Time{}, translate("Query.StartTime", err)
	}
	return time.Unix(unix, 0).UTC(), nil
}

// EndTime returns the upper bound, or the current cluster time when
// unbounded.
func (q *Query) EndTime() (time.Time, error) {
	if err := q.check(); err != nil {
		return time.Time{}, err
	}
	unix, err := q.session.engine.QueryExpressionEndTime(q.expr)
	if err != nil {
		return time.Time{}, translate("Query.EndTime", err)
	}
	if unix == queryUnboundedEnd {
		return q.pool.ClusterTime()
	}
	return time.Unix(unix, 0).UTC(), nil
}

// SetType selects existing clips, deleted clips or both.
func (q *Query) SetType(t QueryType) error {
	if err := q.check(); err != nil {
		return err
	}
	return translate("Query.SetType", q.session.engine.QueryExpressionSetType(q.expr, t))
}

// Type returns the selected clip type.
func (q *Query) Type() (QueryType, error) {
	if err := q.check(); err != nil {
		return 0, err
	}
	t, err := q.session.engine.QueryExpressionType(q.expr)
	return t, translate("Query.Type", err)
}

// SelectField adds a description attribute to every result.
func (q *Query) SelectField(name string) error {
	if err := q.check(); err != nil {
		return err
	}
	if err := q.session.engine.QueryExpressionSelectField(q.expr, name); err != nil {
		return translate("Query.SelectField", err)
	}
	if !slices.Contains(q.fields, name) {
		q.fields = append(q.fields, name)
	}
	return nil
}

// DeselectField removes a previously selected field.
func (q *Query) DeselectField(name string) error {
	if err := q.check(); err != nil {
		return err
	}
	if err := q.session.engine.QueryExpressionDeselectField(q.expr, name); err != nil {
		return translate("Query.DeselectField", err)
	}
	q.fields = slices.DeleteFunc(q.fields, func(f string) bool { return f == name })
	return nil
}

// IsFieldSelected reports whether name is selected.
func (q *Query) IsFieldSelected(name string) (bool, error) {
	if err := q.check(); err != nil {
		return false, err
	}
	ok, err := q.session.engine.QueryExpressionIsFieldSelected(q.expr, name)
	return ok, translate("Query.IsFieldSelected", err)
}

// Execute starts the query. Results are read with FetchResult.
func (q *Query) Execute(ctx context.Context) error {
	if err := q.check(); err != nil {
		return err
	}
	if q.handle != 0 {
		q.closeOpen()
	}
	if err := q.pool.check(); err != nil {
		return err
	}

	e := q.session.engine
	h, err := e.PoolQueryOpen(ctx, q.pool.handle, q.expr)
	if err != nil {
		return translate("Query.Execute", err)
	}
	if err := q.session.register(h, q, func() error { return e.PoolQueryClose(h) }); err != nil {
		return err
	}
	q.handle = h
	return nil
}

// FetchResult waits up to timeout for the next result.
func (q *Query) FetchResult(ctx context.Context, timeout time.Duration) (QueryResult, error) {
	if q.handle == 0 {
		return QueryResult{}, &Error{Op: "Query.FetchResult", Code: ErrCodeNotYetOpen, Class: ClassClient, Text: ErrCodeNotYetOpen.String()}
	}

	e := q.session.engine
	rh, err := e.PoolQueryFetchResult(ctx, q.handle, timeout)
	if err != nil {
		return QueryResult{}, translate("Query.FetchResult", err)
	}
	defer func() {
		if err := e.QueryResultClose(rh); err != nil {
			q.session.logger.Debug("query result close failed", slog.Any("error", err))
		}
	}()

	res, err := q.readResult(rh)
	return res, translate("Query.FetchResult", err)
}

func (q *Query) readResult(rh Handle) (QueryResult, error) {
	e := q.session.engine
	code, err := e.QueryResultCode(rh)
	if err != nil {
		return QueryResult{}, err
	}
	res := QueryResult{Code: code}
	if !code.HasClip() {
		return res, nil
	}

	if res.ClipID, err = readString(func(buf []byte) (int, error) { return e.QueryResultClipID(rh, buf) }); err != nil {
		return QueryResult{}, err
	}
	ts, err := readString(func(buf []byte) (int, error) { return e.QueryResultTimestamp(rh, buf) })
	if err != nil {
		return QueryResult{}, err
	}
	if res.Timestamp, err = parseTime("Query.FetchResult", ts); err != nil {
		return QueryResult{}, err
	}
	if res.Type, err = e.QueryResultType(rh); err != nil {
		return QueryResult{}, err
	}

	if len(q.fields) > 0 {
		res.Fields = make(map[string]string, len(q.fields))
		for _, name := range q.fields {
			v, err := readString(func(buf []byte) (int, error) { return e.QueryResultField(rh, name, buf) })
			if IsNotFound(err) {
				continue
			}
			if err != nil {
				return QueryResult{}, err
			}
			res.Fields[name] = v
		}
	}
	return res, nil
}

// Each runs the query and calls fn for every result that carries a clip. It
// stops at the end of the results, on a query abort or error, or when fn
// returns an error.
func (q *Query) Each(ctx context.Context, timeout time.Duration, fn func(QueryResult) error) error {
	if q.handle == 0 {
		if err := q.Execute(ctx); err != nil {
			return err
		}
	}
	for {
		res, err := q.FetchResult(ctx, timeout)
		if err != nil {
			return err
		}
		switch res.Code {
		case QueryResultOK, QueryResultIncomplete:
			if err := fn(res); err != nil {
				return err
			}
		case QueryResultEnd:
			return nil
		case QueryResultAbort, QueryResultError:
			return &Error{Op: "Query.Each", Code: ErrCodeServer, Class: ClassServer, Text: "query " + res.Code.String()}
		}
	}
}

func (q *Query) closeOpen() {
	h := q.handle
	q.handle = 0
	q.session.registry.Remove(h)
	if err := q.session.engine.PoolQueryClose(h); err != nil {
		q.session.logger.Debug("query close failed", slog.Any("error", err))
	}
}

// Close ends a running query and releases the expression.
func (q *Query) Close() error {
	if q == nil || q.expr == 0 {
		return nil
	}
	if q.handle != 0 {
		q.closeOpen()
	}
	h := q.expr
	q.expr = 0
	q.session.registry.Remove(h)
	return translate("Query.Close", q.session.engine.QueryExpressionClose(h))
}
