package postgresql

import (
	"context"
	"fmt"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/logger"
	"github.com/ajitpratap0/quarry/pkg/query"
	"github.com/ajitpratap0/quarry/pkg/types"
)

// Family is the source family name.
const Family = "postgresql"

// DefaultMaxConns is the pool size when the config leaves it unset.
const DefaultMaxConns = 10

// Schemes accepted besides "postgresql".
var Schemes = []string{"postgres"}

// PostgreSQLSource reads PostgreSQL over the binary protocol through a
// pgxpool. Each partition holds one acquired pool connection.
type PostgreSQLSource struct {
	pool         *pgxpool.Pool
	maxConns     int
	queryTimeout time.Duration
	logger       *zap.Logger
}

var (
	_ core.SourceBuilder = (*PostgreSQLSource)(nil)
	_ core.Counter       = (*PostgreSQLSource)(nil)
	_ core.SchemaProber  = (*PostgreSQLSource)(nil)
	_ core.RangeProber   = (*PostgreSQLSource)(nil)
)

// NewPostgreSQLSource opens a pool for connString and verifies it with a
// ping.
func NewPostgreSQLSource(ctx context.Context, connString string, cfg *config.Config) (*PostgreSQLSource, error) {
	cfg = config.OrDefault(cfg)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse connection string")
	}

	maxConns := cfg.Performance.MaxConnections
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}
	poolConfig.MaxConns = int32(maxConns)
	poolConfig.MinConns = 0
	if cfg.Timeouts.Connect > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.Timeouts.Connect
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to PostgreSQL")
	}

	s := &PostgreSQLSource{
		pool:         pool,
		maxConns:     maxConns,
		queryTimeout: cfg.Timeouts.Query,
		logger:       logger.Get().With(zap.String("source", Family)),
	}
	s.logger.Info("Connected to PostgreSQL",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database),
		zap.Int("max_connections", maxConns))
	return s, nil
}

func openURL(ctx context.Context, u *url.URL, cfg *config.Config) (core.SourceBuilder, error) {
	return NewPostgreSQLSource(ctx, u.String(), cfg)
}

func (s *PostgreSQLSource) Family() string          { return Family }
func (s *PostgreSQLSource) Dialect() *types.Dialect { return types.Postgres }
func (s *PostgreSQLSource) Style() query.Style      { return query.ANSI }
func (s *PostgreSQLSource) Produces() []types.DataType {
	return types.All
}
func (s *PostgreSQLSource) MaxConns() int { return s.maxConns }

// Connect acquires one pool connection.
func (s *PostgreSQLSource) Connect(ctx context.Context) (core.SourceConn, error) {
	c, err := s.pool.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeAborted, "connect cancelled")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to acquire connection")
	}
	return &conn{src: s, c: c}, nil
}

// Close closes the pool.
func (s *PostgreSQLSource) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgreSQLSource) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout > 0 {
		return context.WithTimeout(ctx, s.queryTimeout)
	}
	return context.WithCancel(ctx)
}

func queryError(ctx context.Context, err error, q query.Query) error {
	if ctx.Err() != nil {
		return errors.Wrap(err, errors.ErrorTypeAborted, "query cancelled")
	}
	return errors.Wrap(err, errors.ErrorTypeQuery, fmt.Sprintf("PostgreSQL %s query failed", q.Origin())).
		WithDetail("query", q.SQL())
}

func (s *PostgreSQLSource) own(sc core.SourceConn) (*conn, error) {
	c, ok := sc.(*conn)
	if !ok || c.src != s {
		return nil, errors.New(errors.ErrorTypeInternal, "connection does not belong to this PostgreSQL source")
	}
	return c, nil
}

// Count runs SELECT COUNT(*) over q.
func (s *PostgreSQLSource) Count(ctx context.Context, sc core.SourceConn, q query.Query) (int, error) {
	c, err := s.own(sc)
	if err != nil {
		return 0, err
	}
	qctx, cancel := s.queryContext(ctx)
	defer cancel()

	cq := query.ANSI.Count(q)
	var n int64
	if err := c.c.QueryRow(qctx, cq.SQL()).Scan(&n); err != nil {
		return 0, queryError(ctx, err, cq)
	}
	return int(n), nil
}

// ProbeRange returns MIN and MAX of column over q.
func (s *PostgreSQLSource) ProbeRange(ctx context.Context, sc core.SourceConn, q query.Query, column string) (int64, int64, error) {
	c, err := s.own(sc)
	if err != nil {
		return 0, 0, err
	}
	qctx, cancel := s.queryContext(ctx)
	defer cancel()

	rq := query.ANSI.MinMax(q, column)
	var lo, hi pgtype.Int8
	if err := c.c.QueryRow(qctx, rq.SQL()).Scan(&lo, &hi); err != nil {
		return 0, 0, queryError(ctx, err, rq)
	}
	if !lo.Valid || !hi.Valid {
		return 0, 0, errors.Newf(errors.ErrorTypeData, "cannot partition on %s: query returned no rows", column)
	}
	return lo.Int64, hi.Int64, nil
}

// ProbeSchema resolves column types through the connection's type map.
// PostgreSQL does not report nullability for query results, so every probed
// column is nullable.
func (s *PostgreSQLSource) ProbeSchema(ctx context.Context, sc core.SourceConn, q query.Query) (types.Schema, error) {
	c, err := s.own(sc)
	if err != nil {
		return nil, err
	}
	qctx, cancel := s.queryContext(ctx)
	defer cancel()

	pq := query.ANSI.Probe(q)
	rows, err := c.c.Query(qctx, pq.SQL())
	if err != nil {
		return nil, queryError(ctx, err, pq)
	}
	defer rows.Close()

	typeMap := c.c.Conn().TypeMap()
	fields := rows.FieldDescriptions()
	schema := make(types.Schema, len(fields))
	for i, fd := range fields {
		name := fmt.Sprintf("oid_%d", fd.DataTypeOID)
		if t, ok := typeMap.TypeForOID(fd.DataTypeOID); ok {
			name = t.Name
		}
		dt, err := types.Postgres.ParseExternalType(name, true)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeUnknownType, fmt.Sprintf("column %s", fd.Name))
		}
		schema[i] = types.Column{Name: fd.Name, Type: dt}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, queryError(ctx, err, pq)
	}
	return schema, nil
}

type conn struct {
	src *PostgreSQLSource
	c   *pgxpool.Conn
}

func (c *conn) Fetch(ctx context.Context, q query.Query, schema types.Schema) (core.Rows, error) {
	qctx, cancel := c.src.queryContext(ctx)
	rows, err := c.c.Query(qctx, q.SQL())
	if err != nil {
		cancel()
		return nil, queryError(ctx, err, q)
	}
	if n := len(rows.FieldDescriptions()); n != len(schema) {
		rows.Close()
		cancel()
		return nil, errors.Newf(errors.ErrorTypeSchema, "query returned %d columns, schema has %d", n, len(schema))
	}
	return &pgRows{ctx: ctx, q: q, rows: rows, cancel: cancel, schema: schema}, nil
}

func (c *conn) Close() error {
	c.c.Release()
	return nil
}

type pgRows struct {
	ctx    context.Context
	q      query.Query
	rows   pgx.Rows
	cancel context.CancelFunc
	schema types.Schema
}

func (r *pgRows) Next() bool { return r.rows.Next() }

func (r *pgRows) Scan(dst []types.Value) error {
	if len(dst) != len(r.schema) {
		return errors.Newf(errors.ErrorTypeSchema, "scan into %d values, schema has %d", len(dst), len(r.schema))
	}
	vals, err := r.rows.Values()
	if err != nil {
		return queryError(r.ctx, err, r.q)
	}
	for i, col := range r.schema {
		raw, err := normalize(vals[i])
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, fmt.Sprintf("column %s", col.Name))
		}
		v, err := types.Coerce(col.Type, raw)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, fmt.Sprintf("column %s", col.Name))
		}
		dst[i] = v
	}
	return nil
}

func (r *pgRows) Err() error {
	if err := r.rows.Err(); err != nil {
		return queryError(r.ctx, err, r.q)
	}
	return nil
}

func (r *pgRows) Close() {
	r.rows.Close()
	r.cancel()
}

// normalize turns pgx decoded values that types.Coerce does not know into
// plain Go values. NUMERIC keeps its exact text form.
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return nil, nil
		}
		if x.NaN || x.InfinityModifier != pgtype.Finite {
			f, err := x.Float64Value()
			if err != nil {
				return nil, err
			}
			return f.Float64, nil
		}
		return x.Value()
	case [16]byte:
		return uuid.UUID(x).String(), nil
	case time.Duration:
		return x.String(), nil
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case pgtype.Interval:
		if !x.Valid {
			return nil, nil
		}
		return fmt.Sprintf("%d months %d days %dus", x.Months, x.Days, x.Microseconds), nil
	case pgtype.Time:
		if !x.Valid {
			return nil, nil
		}
		return (time.Duration(x.Microseconds) * time.Microsecond).String(), nil
	}
	return v, nil
}
