package dispatcher

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/transport"
)

// Defaults.
const (
	DefaultConcurrencyLimit = 64
	DefaultBatchSize        = 1024
)

type options struct {
	parallelism      int
	concurrencyLimit int
	maxConns         int
	rowCounts        []int
	batchSize        int
	logger           *zap.Logger
	transport        *transport.Transport
	runID            string
}

func defaultOptions() options {
	return options{
		concurrencyLimit: DefaultConcurrencyLimit,
		batchSize:        DefaultBatchSize,
	}
}

// Option configures a Dispatcher.
type Option func(*options)

// WithParallelism sets the worker count. Zero selects min(NumCPU, partitions).
func WithParallelism(n int) Option {
	return func(o *options) { o.parallelism = n }
}

// WithConcurrencyLimit caps the worker count.
func WithConcurrencyLimit(n int) Option {
	return func(o *options) { o.concurrencyLimit = n }
}

// WithMaxConnections caps simultaneous source connections. Zero defers to
// the source's MaxConns.
func WithMaxConnections(n int) Option {
	return func(o *options) { o.maxConns = n }
}

// WithRowCounts supplies the exact row count of every partition, skipping
// the count pass.
func WithRowCounts(counts []int) Option {
	return func(o *options) { o.rowCounts = append([]int(nil), counts...) }
}

// WithBatchSize sets how many rows a worker converts between cancellation
// checks.
func WithBatchSize(rows int) Option {
	return func(o *options) { o.batchSize = rows }
}

// WithLogger sets the logger. The default is logger.Get().
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTransport overrides the registered transport.
func WithTransport(t *transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithRunID sets the run identifier used in logs, metrics and traces. The
// default is a random UUID.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// WithConfig applies the performance section of cfg.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		if cfg == nil {
			return
		}
		p := cfg.Performance
		o.parallelism = p.Parallelism
		if p.ConcurrencyLimit > 0 {
			o.concurrencyLimit = p.ConcurrencyLimit
		}
		o.maxConns = p.MaxConnections
		if p.BatchSize > 0 {
			o.batchSize = p.BatchSize
		}
	}
}

// workers resolves the effective parallelism for n partitions.
func (o options) workers(n int) int {
	w := o.parallelism
	if w <= 0 {
		w = runtime.NumCPU()
		if n < w {
			w = n
		}
	}
	if o.concurrencyLimit > 0 && w > o.concurrencyLimit {
		w = o.concurrencyLimit
	}
	if w < 1 {
		w = 1
	}
	return w
}
