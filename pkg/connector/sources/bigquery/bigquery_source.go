// Package bigquery reads Google BigQuery query results. A connection is a
// logical handle over one shared client; the connection cap bounds
// concurrent query jobs.
package bigquery

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"cloud.google.com/go/bigquery"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/logger"
	"github.com/ajitpratap0/quarry/pkg/query"
	"github.com/ajitpratap0/quarry/pkg/types"
)

// Family is the source family name.
const Family = "bigquery"

// DefaultMaxConns bounds concurrent query jobs when the config leaves it unset.
const DefaultMaxConns = 16

// Settings are the connection parameters carried by a bigquery:// URL.
type Settings struct {
	Project     string
	Location    string
	Credentials string
	Endpoint    string
}

// ParseURL reads bigquery://project?credentials=key.json&location=US.
// An endpoint parameter points the client at an emulator without
// authentication.
func ParseURL(u *url.URL) (Settings, error) {
	if u.Host == "" {
		return Settings{}, errors.New(errors.ErrorTypeParse, "bigquery URL has no project")
	}
	q := u.Query()
	return Settings{
		Project:     u.Host,
		Location:    q.Get("location"),
		Credentials: q.Get("credentials"),
		Endpoint:    q.Get("endpoint"),
	}, nil
}

// ClientOptions returns the client options for s.
func (s Settings) ClientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if s.Credentials != "" {
		opts = append(opts, option.WithCredentialsFile(s.Credentials))
	}
	if s.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.Endpoint), option.WithoutAuthentication())
	}
	return opts
}

// BigQuerySource runs each partition query as its own job.
type BigQuerySource struct {
	client       *bigquery.Client
	location     string
	maxConns     int
	queryTimeout time.Duration
	logger       *zap.Logger
}

var (
	_ core.SourceBuilder = (*BigQuerySource)(nil)
	_ core.Counter       = (*BigQuerySource)(nil)
	_ core.SchemaProber  = (*BigQuerySource)(nil)
	_ core.RangeProber   = (*BigQuerySource)(nil)
)

// NewBigQuerySource creates the shared client.
func NewBigQuerySource(ctx context.Context, s Settings, cfg *config.Config) (*BigQuerySource, error) {
	cfg = config.OrDefault(cfg)
	client, err := bigquery.NewClient(ctx, s.Project, s.ClientOptions()...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create BigQuery client")
	}
	maxConns := cfg.Performance.MaxConnections
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}
	src := &BigQuerySource{
		client:       client,
		location:     s.Location,
		maxConns:     maxConns,
		queryTimeout: cfg.Timeouts.Query,
		logger:       logger.Get().With(zap.String("source", Family), zap.String("project", s.Project)),
	}
	src.logger.Info("BigQuery client created", zap.String("location", s.Location), zap.Int("max_jobs", maxConns))
	return src, nil
}

func openURL(ctx context.Context, u *url.URL, cfg *config.Config) (core.SourceBuilder, error) {
	s, err := ParseURL(u)
	if err != nil {
		return nil, err
	}
	return NewBigQuerySource(ctx, s, cfg)
}

func (b *BigQuerySource) Family() string             { return Family }
func (b *BigQuerySource) Dialect() *types.Dialect    { return types.BigQuery }
func (b *BigQuerySource) Style() query.Style         { return query.Backtick }
func (b *BigQuerySource) Produces() []types.DataType { return types.All }
func (b *BigQuerySource) MaxConns() int              { return b.maxConns }

// Connect returns a logical connection; BigQuery has no session to open.
func (b *BigQuerySource) Connect(ctx context.Context) (core.SourceConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAborted, "connect cancelled")
	}
	return &conn{src: b}, nil
}

// Close closes the client.
func (b *BigQuerySource) Close() error {
	return b.client.Close()
}

func (b *BigQuerySource) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.queryTimeout > 0 {
		return context.WithTimeout(ctx, b.queryTimeout)
	}
	return context.WithCancel(ctx)
}

func queryError(ctx context.Context, err error, q query.Query) error {
	if ctx.Err() != nil {
		return errors.Wrap(err, errors.ErrorTypeAborted, "query cancelled")
	}
	return errors.Wrap(err, errors.ErrorTypeQuery, fmt.Sprintf("BigQuery %s query failed", q.Origin())).
		WithDetail("query", q.SQL())
}

// read starts q and returns its iterator.
func (b *BigQuerySource) read(ctx context.Context, q query.Query) (*bigquery.RowIterator, error) {
	job := b.client.Query(q.SQL())
	job.Location = b.location
	it, err := job.Read(ctx)
	if err != nil {
		return nil, queryError(ctx, err, q)
	}
	return it, nil
}

// single reads the first row of q.
func (b *BigQuerySource) single(ctx context.Context, q query.Query) ([]bigquery.Value, error) {
	qctx, cancel := b.queryContext(ctx)
	defer cancel()
	it, err := b.read(qctx, q)
	if err != nil {
		return nil, err
	}
	var row []bigquery.Value
	if err := it.Next(&row); err != nil && err != iterator.Done {
		return nil, queryError(ctx, err, q)
	}
	return row, nil
}

// Count runs SELECT COUNT(*) over q.
func (b *BigQuerySource) Count(ctx context.Context, _ core.SourceConn, q query.Query) (int, error) {
	cq := query.Backtick.Count(q)
	row, err := b.single(ctx, cq)
	if err != nil {
		return 0, err
	}
	if len(row) != 1 {
		return 0, errors.Newf(errors.ErrorTypeQuery, "count query returned %d columns", len(row))
	}
	v, err := types.Coerce(types.U64, row[0])
	if err != nil {
		return 0, err
	}
	return int(v.U64), nil
}

// ProbeRange returns MIN and MAX of column over q.
func (b *BigQuerySource) ProbeRange(ctx context.Context, _ core.SourceConn, q query.Query, column string) (int64, int64, error) {
	row, err := b.single(ctx, query.Backtick.MinMax(q, column))
	if err != nil {
		return 0, 0, err
	}
	if len(row) != 2 || row[0] == nil || row[1] == nil {
		return 0, 0, errors.Newf(errors.ErrorTypeData, "cannot partition on %s: query returned no rows", column)
	}
	lo, ok1 := row[0].(int64)
	hi, ok2 := row[1].(int64)
	if !ok1 || !ok2 {
		return 0, 0, errors.Newf(errors.ErrorTypeData, "partition column %s is not INT64", column)
	}
	return lo, hi, nil
}

// ProbeSchema reads the result schema of a single-row probe. REQUIRED
// fields are non-nullable.
func (b *BigQuerySource) ProbeSchema(ctx context.Context, _ core.SourceConn, q query.Query) (types.Schema, error) {
	qctx, cancel := b.queryContext(ctx)
	defer cancel()

	pq := query.Backtick.Probe(q)
	it, err := b.read(qctx, pq)
	if err != nil {
		return nil, err
	}
	var row []bigquery.Value
	if err := it.Next(&row); err != nil && err != iterator.Done {
		return nil, queryError(ctx, err, pq)
	}
	return SchemaOf(it.Schema)
}

// SchemaOf converts a BigQuery result schema.
func SchemaOf(bs bigquery.Schema) (types.Schema, error) {
	schema := make(types.Schema, len(bs))
	for i, f := range bs {
		if f.Repeated {
			return nil, errors.Newf(errors.ErrorTypeUnknownType, "column %s: repeated fields are not supported", f.Name)
		}
		dt, err := types.BigQuery.ParseExternalType(string(f.Type), !f.Required)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeUnknownType, fmt.Sprintf("column %s", f.Name))
		}
		schema[i] = types.Column{Name: f.Name, Type: dt}
	}
	return schema, nil
}

type conn struct {
	src *BigQuerySource
}

func (c *conn) Fetch(ctx context.Context, q query.Query, schema types.Schema) (core.Rows, error) {
	qctx, cancel := c.src.queryContext(ctx)
	it, err := c.src.read(qctx, q)
	if err != nil {
		cancel()
		return nil, err
	}
	return &bqRows{ctx: ctx, q: q, it: it, cancel: cancel, schema: schema}, nil
}

func (c *conn) Close() error { return nil }

type bqRows struct {
	ctx     context.Context
	q       query.Query
	it      *bigquery.RowIterator
	cancel  context.CancelFunc
	schema  types.Schema
	row     []bigquery.Value
	checked bool
	err     error
}

func (r *bqRows) Next() bool {
	if r.err != nil {
		return false
	}
	err := r.it.Next(&r.row)
	if err == iterator.Done {
		return false
	}
	if err != nil {
		r.err = queryError(r.ctx, err, r.q)
		return false
	}
	if !r.checked {
		if n := len(r.it.Schema); n != len(r.schema) {
			r.err = errors.Newf(errors.ErrorTypeSchema, "query returned %d columns, schema has %d", n, len(r.schema))
			return false
		}
		r.checked = true
	}
	return true
}

func (r *bqRows) Scan(dst []types.Value) error {
	if len(dst) != len(r.schema) || len(r.row) != len(r.schema) {
		return errors.Newf(errors.ErrorTypeSchema, "row has %d values, schema has %d", len(r.row), len(r.schema))
	}
	for i, col := range r.schema {
		raw, err := normalize(r.row[i])
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

func (r *bqRows) Err() error { return r.err }

func (r *bqRows) Close() { r.cancel() }

// normalize renders nested STRUCT and ARRAY values as JSON text.
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case []bigquery.Value, map[string]bigquery.Value:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return v, nil
}
