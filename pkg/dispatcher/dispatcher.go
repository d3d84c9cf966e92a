// Package dispatcher executes a set of partition queries in parallel, each
// on its own source connection, and writes every partition into its own
// pre-assigned row range of one destination.
//
// A run moves through Created → Running → Committed or Aborted exactly
// once. Without known row counts it makes two passes over the same
// partitions: a count pass that sizes the destination, then a fetch pass.
package dispatcher

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/logger"
	"github.com/ajitpratap0/quarry/pkg/metrics"
	"github.com/ajitpratap0/quarry/pkg/observability"
	"github.com/ajitpratap0/quarry/pkg/partition"
	"github.com/ajitpratap0/quarry/pkg/pool"
	"github.com/ajitpratap0/quarry/pkg/query"
	"github.com/ajitpratap0/quarry/pkg/transport"
	"github.com/ajitpratap0/quarry/pkg/types"
)

// State is the lifecycle state of a Dispatcher.
type State int32

const (
	// StateCreated means Run has not been called
	StateCreated State = iota
	// StateRunning means a run is in progress
	StateRunning
	// StateCommitted means the destination was finalized
	StateCommitted
	// StateAborted means the run failed and the destination was aborted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// Pass names used in logs, metrics and traces.
const (
	PassCount = "count"
	PassFetch = "fetch"
)

// Dispatcher runs one source → destination transfer.
type Dispatcher struct {
	builder   core.SourceBuilder
	dst       core.Destination
	transport *transport.Transport
	parts     []partition.Partition
	schema    types.Schema
	convs     []transport.Convert
	opts      options
	log       *zap.Logger

	state   atomic.Int32
	result  core.Result
	done    []bool
	written []int
}

// New creates a dispatcher over one partition per query string.
func New(builder core.SourceBuilder, dst core.Destination, queries []string, schema types.Schema, opts ...Option) (*Dispatcher, error) {
	return NewWithQueries(builder, dst, query.RawAll(queries), schema, opts...)
}

// NewWithQueries creates a dispatcher over prepared queries, such as the
// output of partition.Expand. When schema is non-nil, transport and
// destination compatibility are checked here, before any connection opens.
func NewWithQueries(builder core.SourceBuilder, dst core.Destination, queries []query.Query, schema types.Schema, opts ...Option) (*Dispatcher, error) {
	if builder == nil || dst == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "dispatcher needs a source and a destination")
	}
	if len(queries) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "dispatcher needs at least one query")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(len(queries)); err != nil {
		return nil, err
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}

	tr := o.transport
	if tr == nil {
		var err error
		if tr, err = transport.Lookup(builder.Family(), dst.Family()); err != nil {
			return nil, err
		}
	}

	base := o.logger
	if base == nil {
		base = logger.Get()
	}

	d := &Dispatcher{
		builder:   builder,
		dst:       dst,
		transport: tr,
		parts:     partition.FromQueries(queries),
		opts:      o,
		log: base.With(
			zap.String("run_id", o.runID),
			zap.String("source", builder.Family()),
			zap.String("destination", dst.Family()),
		),
		done:    make([]bool, len(queries)),
		written: make([]int, len(queries)),
	}

	if schema != nil {
		if err := d.bind(schema); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (o options) validate(partitions int) error {
	switch {
	case o.parallelism < 0:
		return errors.Newf(errors.ErrorTypeConfig, "parallelism cannot be negative, got %d", o.parallelism)
	case o.concurrencyLimit < 0:
		return errors.Newf(errors.ErrorTypeConfig, "concurrency limit cannot be negative, got %d", o.concurrencyLimit)
	case o.maxConns < 0:
		return errors.Newf(errors.ErrorTypeConfig, "max connections cannot be negative, got %d", o.maxConns)
	case o.batchSize <= 0:
		return errors.Newf(errors.ErrorTypeConfig, "batch size must be positive, got %d", o.batchSize)
	case o.rowCounts != nil && len(o.rowCounts) != partitions:
		return errors.Newf(errors.ErrorTypeConfig, "%d row counts for %d partitions", len(o.rowCounts), partitions)
	}
	return nil
}

// bind resolves converters and checks the destination layout.
func (d *Dispatcher) bind(schema types.Schema) error {
	convs, err := d.transport.Bind(schema, d.builder.Produces())
	if err != nil {
		return err
	}
	if err := d.dst.Check(schema); err != nil {
		return err
	}
	d.schema = schema.Clone()
	d.convs = convs
	return nil
}

// RunID returns the run identifier.
func (d *Dispatcher) RunID() string { return d.opts.runID }

// State returns the current lifecycle state.
func (d *Dispatcher) State() State { return State(d.state.Load()) }

// Schema returns the effective schema; nil until known.
func (d *Dispatcher) Schema() types.Schema { return d.schema }

// Partitions returns a copy of the partitions and their row ranges.
func (d *Dispatcher) Partitions() []partition.Partition {
	return append([]partition.Partition(nil), d.parts...)
}

// Result returns the finalized result after a committed run, else nil.
func (d *Dispatcher) Result() core.Result {
	if d.State() != StateCommitted {
		return nil
	}
	return d.result
}

// Run executes the transfer and finalizes the destination on success.
func (d *Dispatcher) Run(ctx context.Context) error {
	_, err := d.run(ctx, false)
	return err
}

// RunChecked executes the transfer and, before Finalize, verifies that
// every partition completed with its full row count and that the
// destination was not aborted.
func (d *Dispatcher) RunChecked(ctx context.Context) (core.Result, error) {
	return d.run(ctx, true)
}

func (d *Dispatcher) run(ctx context.Context, checked bool) (core.Result, error) {
	if !d.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		return nil, errors.Newf(errors.ErrorTypeState, "dispatcher is %s; a dispatcher runs once", d.State())
	}

	timer := metrics.NewTimer("run")
	ctx = logger.WithSource(logger.WithRun(ctx, d.opts.runID), d.builder.Family())
	ctx, span := observability.StartRun(ctx, d.opts.runID, d.builder.Family(), d.dst.Family(), len(d.parts))

	d.log.Info("run started", zap.Int("partitions", len(d.parts)), zap.Bool("checked", checked))
	throughput := metrics.NewThroughputTracker(d.builder.Family(), d.dst.Family())
	res, err := d.execute(ctx, checked, throughput)
	elapsed := timer.Stop()

	metrics.ObserveRun(d.builder.Family(), d.dst.Family(), err, elapsed)
	if err != nil {
		err = errors.Internal(err)
		if !d.dst.Aborted() {
			d.dst.Abort(err)
		}
		d.state.Store(int32(StateAborted))
		observability.End(span, err)
		d.log.Error("run aborted", zap.Error(err), zap.Duration("duration", elapsed))
		return nil, err
	}

	d.result = res
	d.state.Store(int32(StateCommitted))
	throughput.GetAndReset()
	observability.End(span, nil, observability.AttrRows.Int(res.NumRows()))
	d.log.Info("run committed", zap.Int("rows", res.NumRows()), zap.Duration("duration", elapsed))
	return res, nil
}

func (d *Dispatcher) execute(ctx context.Context, checked bool, throughput *metrics.ThroughputTracker) (core.Result, error) {
	workers := d.opts.workers(len(d.parts))
	maxConns := d.opts.maxConns
	if maxConns <= 0 {
		maxConns = d.builder.MaxConns()
	}
	if maxConns <= 0 {
		maxConns = workers
	}
	sem := semaphore.NewWeighted(int64(maxConns))

	if d.schema == nil {
		if err := d.probeSchema(ctx, sem); err != nil {
			return nil, err
		}
	}

	counts := d.opts.rowCounts
	if counts == nil {
		counts = make([]int, len(d.parts))
		err := d.pass(ctx, PassCount, workers, sem, func(ctx context.Context, conn core.SourceConn, p partition.Partition) error {
			n, err := d.count(ctx, conn, p)
			counts[p.Index] = n
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	total, err := partition.Assign(d.parts, counts)
	if err != nil {
		return nil, err
	}
	if err := d.dst.Allocate(d.schema, total); err != nil {
		return nil, err
	}
	d.log.Debug("destination allocated", zap.Int("rows", total), zap.Int("workers", workers), zap.Int("max_connections", maxConns))

	err = d.pass(ctx, PassFetch, workers, sem, func(ctx context.Context, conn core.SourceConn, p partition.Partition) error {
		n, err := d.fetch(ctx, conn, p)
		d.written[p.Index] = n
		if err != nil {
			return err
		}
		d.done[p.Index] = true
		throughput.Increment(int64(n))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if checked {
		if err := d.verify(); err != nil {
			return nil, err
		}
	}
	return d.dst.Finalize()
}

// probeSchema infers the schema from partition 0 on one connection.
func (d *Dispatcher) probeSchema(ctx context.Context, sem *semaphore.Weighted) error {
	prober, ok := d.builder.(core.SchemaProber)
	if !ok {
		return errors.Newf(errors.ErrorTypeSchema, "no schema supplied and %s source cannot probe one", d.builder.Family())
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return cancelled(err)
	}
	defer sem.Release(1)

	conn, err := d.builder.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	schema, err := prober.ProbeSchema(ctx, conn, d.parts[0].Query)
	if err != nil {
		return err
	}
	d.log.Debug("schema probed", zap.Stringer("schema", schema))
	return d.bind(schema)
}

type partitionFunc func(ctx context.Context, conn core.SourceConn, p partition.Partition) error

// pass runs fn once per partition on a bounded worker pool. The first
// failure aborts the destination and cancels the remaining partitions.
func (d *Dispatcher) pass(ctx context.Context, pass string, workers int, sem *semaphore.Weighted, fn partitionFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	family := d.builder.Family()
	for _, p := range d.parts {
		p := p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return cancelled(err)
			}
			timer := metrics.NewTimer(pass)
			pctx, span := observability.StartPartition(logger.WithPartition(gctx, p.Index), pass, p.Index)
			err := d.onConnection(pctx, sem, family, func(conn core.SourceConn) error {
				return fn(pctx, conn, p)
			})
			if err != nil && gctx.Err() != nil && !errors.IsType(err, errors.ErrorTypeAborted) {
				if _, typed := err.(*errors.Error); !typed {
					err = cancelled(gctx.Err())
				}
			}
			metrics.ObservePartition(family, pass, err, timer.Stop())
			observability.End(span, err)

			if err != nil {
				err = errors.Internal(err)
				if e, ok := err.(*errors.Error); ok {
					e.WithDetail("partition", p.Index).WithDetail("pass", pass)
				}
				d.dst.Abort(err)
				// aborted partitions were stopped by another failure or by the caller
				if errors.IsType(err, errors.ErrorTypeAborted) {
					d.log.Debug("partition cancelled", zap.String("pass", pass), zap.Int("partition", p.Index))
					return err
				}
				d.log.Warn("partition failed", zap.String("pass", pass), zap.Int("partition", p.Index), zap.Error(err))
				return err
			}
			d.log.Debug("partition finished", zap.String("pass", pass), zap.Int("partition", p.Index))
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) onConnection(ctx context.Context, sem *semaphore.Weighted, family string, fn func(core.SourceConn) error) error {
	if err := sem.Acquire(ctx, 1); err != nil {
		return cancelled(err)
	}
	defer sem.Release(1)

	conn, err := d.builder.Connect(ctx)
	if err != nil {
		return err
	}
	metrics.ActiveConnections.WithLabelValues(family).Inc()
	defer func() {
		metrics.ActiveConnections.WithLabelValues(family).Dec()
		if cerr := conn.Close(); cerr != nil {
			d.log.Debug("connection close failed", zap.Error(cerr))
		}
	}()
	return fn(conn)
}

// count returns the partition's row count, using the Counter capability or
// a full scan of the partition query.
func (d *Dispatcher) count(ctx context.Context, conn core.SourceConn, p partition.Partition) (int, error) {
	if c, ok := d.builder.(core.Counter); ok {
		return c.Count(ctx, conn, p.Query)
	}

	rows, err := conn.Fetch(ctx, p.Query, d.schema)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		n++
		if n%d.opts.batchSize == 0 {
			if err := ctx.Err(); err != nil {
				return n, cancelled(err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	return n, nil
}

// fetch streams the partition into its writer and returns the rows written.
func (d *Dispatcher) fetch(ctx context.Context, conn core.SourceConn, p partition.Partition) (int, error) {
	w, err := d.dst.WriterFor(p.Start, p.End)
	if err != nil {
		return 0, err
	}

	rows, err := conn.Fetch(ctx, p.Query, d.schema)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	buf := pool.Values.Get(len(d.schema))
	defer pool.Values.Put(buf)
	n := 0
	for rows.Next() {
		if n%d.opts.batchSize == 0 {
			if err := ctx.Err(); err != nil {
				return n, cancelled(err)
			}
		}
		if err := rows.Scan(buf); err != nil {
			return n, err
		}
		if n >= w.Len() {
			return n, errors.Newf(errors.ErrorTypeOutOfRange,
				"partition %d returned more than the %d rows counted", p.Index, w.Len())
		}
		for c, conv := range d.convs {
			if err := conv(w, n, c, buf[c]); err != nil {
				return n, err
			}
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	if n != w.Len() {
		return n, errors.Newf(errors.ErrorTypeData,
			"partition %d returned %d rows but %d were counted", p.Index, n, w.Len())
	}
	return n, nil
}

// verify checks partition completion before Finalize.
func (d *Dispatcher) verify() error {
	if d.dst.Aborted() {
		return errors.New(errors.ErrorTypeAborted, "destination aborted before finalize")
	}
	for i, p := range d.parts {
		if !d.done[i] {
			return errors.Newf(errors.ErrorTypeState, "partition %d did not complete", i)
		}
		if d.written[i] != p.Rows() {
			return errors.Newf(errors.ErrorTypeData, "partition %d wrote %d of %d rows", i, d.written[i], p.Rows())
		}
	}
	return nil
}

func cancelled(err error) error {
	return errors.Wrap(err, errors.ErrorTypeAborted, "run cancelled")
}
