package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/query"
	"github.com/ajitpratap0/quarry/pkg/transport"
	"github.com/ajitpratap0/quarry/pkg/types"
)

// MockFamily is the source family of MockSource. Standard transports to
// every shipped destination are registered for it.
const MockFamily = "mock"

func init() {
	for _, dst := range transport.DestinationFamilies {
		transport.Register(transport.Pair{Source: MockFamily, Destination: dst}, transport.Standard())
	}
}

// MockSource is a scripted source. Each query's rows are looked up by its
// SQL text; every connect, count and fetch is recorded.
type MockSource struct {
	// Schema is returned by ProbeSchema.
	Schema types.Schema
	// Rows holds the scripted rows per query SQL.
	Rows map[string][][]types.Value
	// Types lists the producible DataTypes. Nil means types.All.
	Types []types.DataType
	// Conns is the connection cap. Zero means 64.
	Conns int

	// ConnectErr fails every Connect.
	ConnectErr error
	// CloseErr is returned by every connection Close.
	CloseErr error
	// QueryErrs fails Fetch for the given query SQL.
	QueryErrs map[string]error
	// RowErrs fails Scan after the given number of rows, keyed by query SQL.
	RowErrs map[string]RowError
	// CountOverride replaces the count reported for a query SQL.
	CountOverride map[string]int
	// RowDelay is slept before every row; it honours cancellation.
	RowDelay time.Duration

	mu       sync.Mutex
	fetched  []query.Query
	counted  []query.Query
	connects atomic.Int32
	open     atomic.Int32
	maxOpen  atomic.Int32
	closed   atomic.Bool
}

// RowError fails a fetch after Rows rows.
type RowError struct {
	Rows int
	Err  error
}

var (
	_ core.SourceBuilder = (*MockSource)(nil)
	_ core.Counter       = (*MockSource)(nil)
	_ core.SchemaProber  = (*MockSource)(nil)
)

// NewMockSource returns a mock serving rows per query SQL.
func NewMockSource(schema types.Schema, rows map[string][][]types.Value) *MockSource {
	return &MockSource{Schema: schema, Rows: rows}
}

// Family returns "mock".
func (m *MockSource) Family() string { return MockFamily }

// Dialect returns the SQLite dialect.
func (m *MockSource) Dialect() *types.Dialect { return types.SQLite }

// Style returns ANSI quoting.
func (m *MockSource) Style() query.Style { return query.ANSI }

// Produces returns Types, or every DataType.
func (m *MockSource) Produces() []types.DataType {
	if m.Types != nil {
		return m.Types
	}
	return types.All
}

// MaxConns returns Conns, or 64.
func (m *MockSource) MaxConns() int {
	if m.Conns > 0 {
		return m.Conns
	}
	return 64
}

// Connect opens a mock connection.
func (m *MockSource) Connect(ctx context.Context) (core.SourceConn, error) {
	m.connects.Add(1)
	if m.ConnectErr != nil {
		return nil, errors.Wrap(m.ConnectErr, errors.ErrorTypeConnection, "mock connect failed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := m.open.Add(1)
	for {
		max := m.maxOpen.Load()
		if n <= max || m.maxOpen.CompareAndSwap(max, n) {
			break
		}
	}
	return &mockConn{src: m}, nil
}

// Close marks the source closed.
func (m *MockSource) Close() error {
	m.closed.Store(true)
	return nil
}

// Count returns the scripted row count of q.
func (m *MockSource) Count(ctx context.Context, _ core.SourceConn, q query.Query) (int, error) {
	m.mu.Lock()
	m.counted = append(m.counted, q)
	m.mu.Unlock()
	if err, ok := m.QueryErrs[q.SQL()]; ok {
		return 0, errors.Wrap(err, errors.ErrorTypeQuery, "mock count failed")
	}
	if n, ok := m.CountOverride[q.SQL()]; ok {
		return n, nil
	}
	return len(m.Rows[q.SQL()]), nil
}

// ProbeSchema returns Schema.
func (m *MockSource) ProbeSchema(context.Context, core.SourceConn, query.Query) (types.Schema, error) {
	if m.Schema == nil {
		return nil, errors.New(errors.ErrorTypeSchema, "mock has no schema")
	}
	return m.Schema.Clone(), nil
}

// Fetched returns every query passed to Fetch, in call order.
func (m *MockSource) Fetched() []query.Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]query.Query(nil), m.fetched...)
}

// Counted returns every query passed to Count, in call order.
func (m *MockSource) Counted() []query.Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]query.Query(nil), m.counted...)
}

// Connects returns the number of Connect calls.
func (m *MockSource) Connects() int { return int(m.connects.Load()) }

// MaxOpen returns the peak number of simultaneously open connections.
func (m *MockSource) MaxOpen() int { return int(m.maxOpen.Load()) }

// Open returns the number of connections not yet closed.
func (m *MockSource) Open() int { return int(m.open.Load()) }

// Closed reports whether Close was called.
func (m *MockSource) Closed() bool { return m.closed.Load() }

type mockConn struct {
	src    *MockSource
	closed atomic.Bool
}

func (c *mockConn) Fetch(ctx context.Context, q query.Query, schema types.Schema) (core.Rows, error) {
	m := c.src
	m.mu.Lock()
	m.fetched = append(m.fetched, q)
	m.mu.Unlock()
	if err, ok := m.QueryErrs[q.SQL()]; ok {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "mock query failed")
	}
	rows := &mockRows{ctx: ctx, rows: m.Rows[q.SQL()], width: len(schema), pos: -1, delay: m.RowDelay}
	if re, ok := m.RowErrs[q.SQL()]; ok {
		rows.failAt, rows.failErr = re.Rows, re.Err
	} else {
		rows.failAt = -1
	}
	return rows, nil
}

func (c *mockConn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.src.open.Add(-1)
	}
	return c.src.CloseErr
}

type mockRows struct {
	ctx     context.Context
	rows    [][]types.Value
	width   int
	pos     int
	delay   time.Duration
	failAt  int
	failErr error
	err     error
}

func (r *mockRows) Next() bool {
	if r.err != nil {
		return false
	}
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-r.ctx.Done():
			r.err = r.ctx.Err()
			return false
		}
	}
	if r.pos+1 == r.failAt {
		r.err = errors.Wrap(r.failErr, errors.ErrorTypeQuery, "mock row stream failed")
		return false
	}
	r.pos++
	return r.pos < len(r.rows)
}

func (r *mockRows) Scan(dst []types.Value) error {
	row := r.rows[r.pos]
	if len(row) != r.width || len(dst) != r.width {
		return errors.Newf(errors.ErrorTypeSchema, "mock row has %d columns, schema has %d", len(row), r.width)
	}
	copy(dst, row)
	return nil
}

func (r *mockRows) Err() error { return r.err }

func (r *mockRows) Close() {}

// Uncounted hides the Counter capability of a builder, forcing the
// full-scan count fallback.
type Uncounted struct {
	*MockSource
}

// Count shadows MockSource.Count so Uncounted does not satisfy core.Counter.
func (Uncounted) Count() {}

// U64Rows builds single-column non-null U64 rows.
func U64Rows(vals ...uint64) [][]types.Value {
	out := make([][]types.Value, len(vals))
	for i, v := range vals {
		out[i] = []types.Value{types.U64Value(v)}
	}
	return out
}
