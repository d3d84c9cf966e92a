// Package sqldb adapts any database/sql driver into a core.SourceBuilder.
// Each partition gets an exclusive *sql.Conn from a pool whose open
// connection limit equals the source's connection cap.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/logger"
	"github.com/ajitpratap0/quarry/pkg/query"
	"github.com/ajitpratap0/quarry/pkg/types"
)

// DefaultMaxConns is used when Options.MaxConns is zero.
const DefaultMaxConns = 10

// Options describes one database/sql source.
type Options struct {
	// Family is the source family name, e.g. "mysql"
	Family string
	// Driver is the registered database/sql driver name
	Driver string
	// DSN is passed to sql.Open; it is never logged
	DSN string
	// Dialect translates ColumnTypes names
	Dialect *types.Dialect
	// Style wraps count, probe and range queries
	Style query.Style
	// MaxConns caps open connections
	MaxConns int
	// ConnectTimeout bounds Open's ping and every Connect
	ConnectTimeout time.Duration
	// QueryTimeout bounds every query including its row stream; zero disables it
	QueryTimeout time.Duration
	// Produces lists the DataTypes the driver can emit; nil means types.All
	Produces []types.DataType
	// Logger defaults to logger.Get()
	Logger *zap.Logger
}

// Builder is a database/sql backed source.
type Builder struct {
	opts Options
	db   *sql.DB
	log  *zap.Logger
}

var (
	_ core.SourceBuilder = (*Builder)(nil)
	_ core.Counter       = (*Builder)(nil)
	_ core.SchemaProber  = (*Builder)(nil)
	_ core.RangeProber   = (*Builder)(nil)
)

// Open opens the pool and verifies connectivity.
func Open(ctx context.Context, opts Options) (*Builder, error) {
	db, err := sql.Open(opts.Driver, opts.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("invalid %s connection settings", opts.Family))
	}
	b := New(db, opts)

	pctx, cancel := b.connectContext(ctx)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to connect to %s", opts.Family))
	}
	b.log.Debug("source opened", zap.Int("max_connections", b.MaxConns()))
	return b, nil
}

// New wraps an already open pool. The pool's open connection limit is set
// to the connection cap.
func New(db *sql.DB, opts Options) *Builder {
	if opts.MaxConns <= 0 {
		opts.MaxConns = DefaultMaxConns
	}
	if opts.Dialect == nil {
		opts.Dialect = types.SQLite
	}
	if opts.Style.Quote == nil {
		opts.Style = query.ANSI
	}
	db.SetMaxOpenConns(opts.MaxConns)
	db.SetMaxIdleConns(opts.MaxConns)

	base := opts.Logger
	if base == nil {
		base = logger.Get()
	}
	return &Builder{
		opts: opts,
		db:   db,
		log:  base.With(zap.String("source", opts.Family)),
	}
}

// DB returns the underlying pool.
func (b *Builder) DB() *sql.DB { return b.db }

func (b *Builder) Family() string          { return b.opts.Family }
func (b *Builder) Dialect() *types.Dialect { return b.opts.Dialect }
func (b *Builder) Style() query.Style      { return b.opts.Style }
func (b *Builder) MaxConns() int           { return b.opts.MaxConns }

func (b *Builder) Produces() []types.DataType {
	if b.opts.Produces != nil {
		return b.opts.Produces
	}
	return types.All
}

// Connect checks out one exclusive connection.
func (b *Builder) Connect(ctx context.Context) (core.SourceConn, error) {
	cctx, cancel := b.connectContext(ctx)
	defer cancel()
	c, err := b.db.Conn(cctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeAborted, "connect cancelled")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to connect to %s", b.opts.Family))
	}
	return &Conn{b: b, c: c}, nil
}

// Close closes the pool.
func (b *Builder) Close() error {
	return b.db.Close()
}

func (b *Builder) connectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.opts.ConnectTimeout > 0 {
		return context.WithTimeout(ctx, b.opts.ConnectTimeout)
	}
	return context.WithCancel(ctx)
}

func (b *Builder) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.opts.QueryTimeout > 0 {
		return context.WithTimeout(ctx, b.opts.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

func (b *Builder) queryError(ctx context.Context, err error, q query.Query) error {
	if ctx.Err() != nil {
		return errors.Wrap(err, errors.ErrorTypeAborted, "query cancelled")
	}
	return errors.Wrap(err, errors.ErrorTypeQuery, fmt.Sprintf("%s %s query failed", b.opts.Family, q.Origin())).
		WithDetail("query", q.SQL())
}

// Count runs SELECT COUNT(*) over q.
func (b *Builder) Count(ctx context.Context, conn core.SourceConn, q query.Query) (int, error) {
	c, err := b.conn(conn)
	if err != nil {
		return 0, err
	}
	qctx, cancel := b.queryContext(ctx)
	defer cancel()

	cq := b.opts.Style.Count(q)
	var n int64
	if err := c.c.QueryRowContext(qctx, cq.SQL()).Scan(&n); err != nil {
		return 0, b.queryError(ctx, err, cq)
	}
	return int(n), nil
}

// ProbeRange returns MIN and MAX of an integer column over q.
func (b *Builder) ProbeRange(ctx context.Context, conn core.SourceConn, q query.Query, column string) (int64, int64, error) {
	c, err := b.conn(conn)
	if err != nil {
		return 0, 0, err
	}
	qctx, cancel := b.queryContext(ctx)
	defer cancel()

	rq := b.opts.Style.MinMax(q, column)
	var lo, hi sql.NullInt64
	if err := c.c.QueryRowContext(qctx, rq.SQL()).Scan(&lo, &hi); err != nil {
		return 0, 0, b.queryError(ctx, err, rq)
	}
	if !lo.Valid || !hi.Valid {
		return 0, 0, errors.Newf(errors.ErrorTypeData, "cannot partition on %s: query returned no rows", column)
	}
	return lo.Int64, hi.Int64, nil
}

// ProbeSchema runs a single-row probe of q and maps each column's database
// type through the dialect. Columns without a declared type, such as
// expressions in SQLite, are typed from the first row's values.
func (b *Builder) ProbeSchema(ctx context.Context, conn core.SourceConn, q query.Query) (types.Schema, error) {
	c, err := b.conn(conn)
	if err != nil {
		return nil, err
	}
	qctx, cancel := b.queryContext(ctx)
	defer cancel()

	pq := b.opts.Style.Probe(q)
	rows, err := c.c.QueryContext(qctx, pq.SQL())
	if err != nil {
		return nil, b.queryError(ctx, err, pq)
	}
	defer rows.Close()

	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, b.queryError(ctx, err, pq)
	}

	var first []any
	schema := make(types.Schema, len(cts))
	for i, ct := range cts {
		nullable, ok := ct.Nullable()
		if !ok {
			nullable = true
		}
		name := ct.DatabaseTypeName()
		if name == "" {
			if first == nil {
				if first, err = firstRow(rows, len(cts)); err != nil {
					return nil, b.queryError(ctx, err, pq)
				}
			}
			schema[i] = types.Column{Name: ct.Name(), Type: types.DataType{Kind: kindOf(first[i]), Nullable: true}}
			continue
		}
		dt, err := b.opts.Dialect.ParseExternalType(name, nullable)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeUnknownType, fmt.Sprintf("column %s", ct.Name()))
		}
		schema[i] = types.Column{Name: ct.Name(), Type: dt}
	}
	return schema, nil
}

func firstRow(rows *sql.Rows, n int) ([]any, error) {
	vals := make([]any, n)
	if !rows.Next() {
		return vals, rows.Err()
	}
	ptrs := make([]any, n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	return vals, rows.Scan(ptrs...)
}

// kindOf types an untyped column from a sample value. An empty result
// defaults to String.
func kindOf(v any) types.Kind {
	switch v.(type) {
	case int64, int32, int, uint64:
		return types.KindU64
	case float64, float32:
		return types.KindF64
	case bool:
		return types.KindBool
	}
	return types.KindString
}

func (b *Builder) conn(conn core.SourceConn) (*Conn, error) {
	c, ok := conn.(*Conn)
	if !ok || c.b != b {
		return nil, errors.Newf(errors.ErrorTypeInternal, "connection does not belong to this %s source", b.opts.Family)
	}
	return c, nil
}

// Conn is one checked-out connection.
type Conn struct {
	b *Builder
	c *sql.Conn
}

// Raw returns the underlying connection.
func (c *Conn) Raw() *sql.Conn { return c.c }

// Fetch executes q and decodes every row into schema.
func (c *Conn) Fetch(ctx context.Context, q query.Query, schema types.Schema) (core.Rows, error) {
	qctx, cancel := c.b.queryContext(ctx)
	rows, err := c.c.QueryContext(qctx, q.SQL())
	if err != nil {
		cancel()
		return nil, c.b.queryError(ctx, err, q)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		cancel()
		return nil, c.b.queryError(ctx, err, q)
	}
	if len(cols) != len(schema) {
		rows.Close()
		cancel()
		return nil, errors.Newf(errors.ErrorTypeSchema, "query returned %d columns, schema has %d", len(cols), len(schema))
	}

	r := &Rows{
		ctx:    ctx,
		b:      c.b,
		q:      q,
		rows:   rows,
		cancel: cancel,
		schema: schema,
		raw:    make([]any, len(schema)),
		ptrs:   make([]any, len(schema)),
	}
	for i := range r.raw {
		r.ptrs[i] = &r.raw[i]
	}
	return r, nil
}

// Close returns the connection to the pool.
func (c *Conn) Close() error {
	return c.c.Close()
}

// Rows decodes a *sql.Rows stream.
type Rows struct {
	ctx    context.Context
	b      *Builder
	q      query.Query
	rows   *sql.Rows
	cancel context.CancelFunc
	schema types.Schema
	raw    []any
	ptrs   []any
	err    error
}

func (r *Rows) Next() bool {
	if r.err != nil {
		return false
	}
	return r.rows.Next()
}

// Scan decodes the current row. Driver values go through types.Coerce.
func (r *Rows) Scan(dst []types.Value) error {
	if len(dst) != len(r.schema) {
		return errors.Newf(errors.ErrorTypeSchema, "scan into %d values, schema has %d", len(dst), len(r.schema))
	}
	if err := r.rows.Scan(r.ptrs...); err != nil {
		r.err = r.b.queryError(r.ctx, err, r.q)
		return r.err
	}
	for i, col := range r.schema {
		v, err := types.Coerce(col.Type, r.raw[i])
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, fmt.Sprintf("column %s", col.Name))
		}
		dst[i] = v
	}
	return nil
}

func (r *Rows) Err() error {
	if r.err != nil {
		return r.err
	}
	if err := r.rows.Err(); err != nil {
		return r.b.queryError(r.ctx, err, r.q)
	}
	return nil
}

func (r *Rows) Close() {
	r.rows.Close()
	r.cancel()
}
